package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/atlanticdynamic/customjwt/internal/deployment"
	"github.com/atlanticdynamic/customjwt/internal/logging"
)

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.TenantID) == "" {
		errs = append(errs, fmt.Errorf("%w: tenant_id", ErrMissingField))
	}

	errs = append(errs, c.Log.validate(), c.HTTP.validate(), c.Sandbox.validate())
	errs = append(errs, c.Store.validate(), c.Deploy.validate(&c.Store), c.Issuer.validate())

	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("%w: mcp.path must start with /", ErrInvalidValue))
	}

	return errors.Join(errs...)
}

func (l LogConfig) validate() error {
	var errs []error
	if err := logging.ValidateLevel(l.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: log.level: %w", ErrInvalidValue, err))
	}
	switch l.Format {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("%w: log.format %q", ErrInvalidValue, l.Format))
	}
	return errors.Join(errs...)
}

func (h HTTPConfig) validate() error {
	var errs []error
	if h.Listen == "" {
		errs = append(errs, fmt.Errorf("%w: http.listen", ErrMissingField))
	} else if _, _, err := net.SplitHostPort(h.Listen); err != nil {
		errs = append(errs, fmt.Errorf("%w: http.listen %q: %w", ErrInvalidValue, h.Listen, err))
	}
	for name, d := range map[string]Duration{
		"http.read_timeout":  h.ReadTimeout,
		"http.write_timeout": h.WriteTimeout,
		"http.drain_timeout": h.DrainTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%w: %s is negative", ErrInvalidValue, name))
		}
	}
	return errors.Join(errs...)
}

func (s SandboxConfig) validate() error {
	var errs []error
	if s.Deadline <= 0 {
		errs = append(errs, fmt.Errorf("%w: sandbox.deadline must be positive", ErrInvalidValue))
	}
	if s.MaxResponseBytes <= 0 {
		errs = append(errs, fmt.Errorf("%w: sandbox.max_response_bytes must be positive", ErrInvalidValue))
	}
	if s.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: sandbox.fetch_timeout is negative", ErrInvalidValue))
	}
	return errors.Join(errs...)
}

func (s StoreConfig) validate() error {
	var errs []error
	switch s.Backend {
	case BackendMemory:
	case BackendRedis:
		if s.RedisURL == "" {
			errs = append(errs, fmt.Errorf("%w: store.redis_url is required for the redis backend", ErrMissingField))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: store.backend %q", ErrInvalidValue, s.Backend))
	}
	if s.RedisURL != "" {
		errs = append(errs, checkURL("store.redis_url", s.RedisURL, "redis", "rediss"))
	}
	if s.PostgresURL != "" {
		errs = append(errs, checkURL("store.postgres_url", s.PostgresURL, "postgres", "postgresql"))
	}
	return errors.Join(errs...)
}

func (d DeployConfig) validate(s *StoreConfig) error {
	var errs []error
	switch deployment.Mode(d.Mode) {
	case deployment.ModeSelfHosted:
	case deployment.ModeCloud:
		if d.Endpoint == "" {
			errs = append(errs, fmt.Errorf("%w: deploy.endpoint is required in cloud mode", ErrMissingField))
		} else {
			errs = append(errs, checkURL("deploy.endpoint", d.Endpoint, "http", "https"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: deploy.mode %q", ErrInvalidValue, d.Mode))
	}
	switch d.Lock {
	case LockLocal:
	case LockRedis:
		if s.RedisURL == "" {
			errs = append(errs, fmt.Errorf("%w: store.redis_url is required for the redis lock", ErrMissingField))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: deploy.lock %q", ErrInvalidValue, d.Lock))
	}
	if d.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("%w: deploy.lock_ttl must be positive", ErrInvalidValue))
	}
	if d.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("%w: deploy.history_size must be positive", ErrInvalidValue))
	}
	return errors.Join(errs...)
}

func (i IssuerConfig) validate() error {
	if i.TTL <= 0 {
		return fmt.Errorf("%w: issuer.ttl must be positive", ErrInvalidValue)
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidValue, field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s scheme must be one of %s", ErrInvalidValue, field, strings.Join(schemes, ", "))
}
