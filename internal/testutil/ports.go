// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"net"
	"strconv"
	"sync"
	"testing"
)

var (
	portMu    sync.Mutex
	usedPorts = make(map[int]struct{})
)

// FreePort returns a loopback TCP port that no other caller in this test binary has received.
func FreePort(t *testing.T) int {
	t.Helper()
	portMu.Lock()
	defer portMu.Unlock()

	for {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to reserve port: %v", err)
		}
		p := l.Addr().(*net.TCPAddr).Port
		if err := l.Close(); err != nil {
			t.Fatalf("failed to release port: %v", err)
		}
		if _, taken := usedPorts[p]; taken {
			continue
		}
		usedPorts[p] = struct{}{}
		return p
	}
}

// FreeAddr returns "127.0.0.1:<port>" for a port from FreePort.
func FreeAddr(t *testing.T) string {
	t.Helper()
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(FreePort(t)))
}
