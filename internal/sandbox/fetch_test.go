package sandbox

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Seen-Agent", r.Header.Get("User-Agent"))
		w.Header().Set("X-Seen-Method", r.Method)
		w.Header().Set("X-Seen-Body", string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(WithUserAgent("test-agent"))

	t.Run("get", func(t *testing.T) {
		resp, err := f.Do(t.Context(), FetchRequest{URL: srv.URL + "/x"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.Status)
		assert.Equal(t, "Created", resp.StatusText)
		assert.True(t, resp.OK())
		assert.Equal(t, `{"ok":true}`, string(resp.Body))
		assert.Equal(t, "test-agent", resp.Headers["x-seen-agent"])
		assert.Equal(t, "GET", resp.Headers["x-seen-method"])
		assert.Equal(t, srv.URL+"/x", resp.URL)
	})

	t.Run("post with headers", func(t *testing.T) {
		resp, err := f.Do(t.Context(), FetchRequest{
			URL:     srv.URL,
			Method:  "post",
			Headers: map[string]string{"User-Agent": "mine", "X-Trace": "1"},
			Body:    "hello",
		})
		require.NoError(t, err)
		assert.Equal(t, "POST", resp.Headers["x-seen-method"])
		assert.Equal(t, "hello", resp.Headers["x-seen-body"])
		assert.Equal(t, "mine", resp.Headers["x-seen-agent"])
	})
}

func TestFetcher_Rejects(t *testing.T) {
	f := NewFetcher()

	tests := []struct {
		name string
		req  FetchRequest
		msg  string
	}{
		{"file scheme", FetchRequest{URL: "file:///etc/passwd"}, "unsupported scheme"},
		{"no host", FetchRequest{URL: "http://"}, "no host"},
		{"bad method", FetchRequest{URL: "http://example.com", Method: "GE T"}, "invalid method"},
		{"get with body", FetchRequest{URL: "http://example.com", Body: "x"}, "cannot have a body"},
		{"bad header name", FetchRequest{URL: "http://example.com", Headers: map[string]string{"Bad Header": "x"}}, "invalid header name"},
		{"bad header value", FetchRequest{URL: "http://example.com", Headers: map[string]string{"X": "a\r\nb"}}, "invalid value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Do(t.Context(), tt.req)
			require.ErrorIs(t, err, ErrFetch)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestFetcher_ResponseLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 64)))
	}))
	t.Cleanup(srv.Close)

	_, err := NewFetcher(WithMaxResponseBytes(16)).Do(t.Context(), FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, ErrFetch)
	assert.Contains(t, err.Error(), "exceeds 16 bytes")

	resp, err := NewFetcher(WithMaxResponseBytes(64)).Do(t.Context(), FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Len(t, resp.Body, 64)
}

func TestFetcher_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := NewFetcher(WithHTTPClient(srv.Client())).Do(ctx, FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, ErrFetch)
}
