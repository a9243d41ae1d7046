// Package config loads the service configuration from a TOML file.
package config

import (
	"time"

	"github.com/atlanticdynamic/customjwt/internal/deployment"
	"github.com/atlanticdynamic/customjwt/internal/deployment/transaction"
	"github.com/atlanticdynamic/customjwt/internal/logging"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
)

const VersionLatest = "v1"

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Deployment lock implementations.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Config is the full service configuration.
type Config struct {
	Version  string        `toml:"version"`
	TenantID string        `toml:"tenant_id" env_interpolation:"yes"`
	Log      LogConfig     `toml:"log"`
	HTTP     HTTPConfig    `toml:"http"`
	Sandbox  SandboxConfig `toml:"sandbox"`
	Store    StoreConfig   `toml:"store"`
	Deploy   DeployConfig  `toml:"deploy"`
	Issuer   IssuerConfig  `toml:"issuer"`
	MCP      MCPConfig     `toml:"mcp"`
}

type LogConfig struct {
	Level  string `toml:"level"  env_interpolation:"yes"`
	Format string `toml:"format" env_interpolation:"yes"`
	// Output is "stderr", "stdout", or a file path.
	Output string `toml:"output" env_interpolation:"yes"`
}

type HTTPConfig struct {
	Listen       string   `toml:"listen" env_interpolation:"yes"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
	DrainTimeout Duration `toml:"drain_timeout"`
}

type SandboxConfig struct {
	Deadline         Duration `toml:"deadline"`
	MaxResponseBytes int64    `toml:"max_response_bytes"`
	FetchTimeout     Duration `toml:"fetch_timeout"`
	UserAgent        string   `toml:"user_agent" env_interpolation:"yes"`
}

type StoreConfig struct {
	Backend string `toml:"backend" env_interpolation:"yes"`
	// SeedFile is a YAML document loaded into the memory store. Identity data is read from it
	// unless PostgresURL is set.
	SeedFile    string `toml:"seed_file"    env_interpolation:"yes"`
	RedisURL    string `toml:"redis_url"    env_interpolation:"yes"`
	PostgresURL string `toml:"postgres_url" env_interpolation:"yes"`
}

type DeployConfig struct {
	Mode        string   `toml:"mode"      env_interpolation:"yes"`
	Endpoint    string   `toml:"endpoint"  env_interpolation:"yes"`
	APIToken    string   `toml:"api_token" env_interpolation:"yes"`
	Lock        string   `toml:"lock"      env_interpolation:"yes"`
	LockTTL     Duration `toml:"lock_ttl"`
	HistorySize int      `toml:"history_size"`
}

type IssuerConfig struct {
	Issuer string `toml:"issuer" env_interpolation:"yes"`
	// SigningKeyFile is a PEM private key. A fresh ES256 key is generated when empty.
	SigningKeyFile string   `toml:"signing_key_file" env_interpolation:"yes"`
	TTL            Duration `toml:"ttl"`
	FailOpen       bool     `toml:"fail_open"`
}

type MCPConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns a configuration that runs a self-hosted, in-memory service on localhost:8080.
func Default() *Config {
	return &Config{
		Version:  VersionLatest,
		TenantID: "default",
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
			Output: "stderr",
		},
		HTTP: HTTPConfig{
			Listen:       "localhost:8080",
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
			DrainTimeout: Duration(10 * time.Second),
		},
		Sandbox: SandboxConfig{
			Deadline:         Duration(sandbox.DefaultDeadline),
			MaxResponseBytes: sandbox.DefaultMaxResponseBytes,
			FetchTimeout:     Duration(sandbox.DefaultFetchTimeout),
			UserAgent:        sandbox.DefaultUserAgent,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
		},
		Deploy: DeployConfig{
			Mode:        string(deployment.ModeSelfHosted),
			Lock:        LockLocal,
			LockTTL:     Duration(30 * time.Second),
			HistorySize: transaction.DefaultHistorySize,
		},
		Issuer: IssuerConfig{
			TTL: Duration(time.Hour),
		},
		MCP: MCPConfig{
			Path: "/mcp",
		},
	}
}
