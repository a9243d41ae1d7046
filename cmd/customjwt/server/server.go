// Package server assembles the customjwt service from a loaded configuration and runs it under a
// supervisor until the context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/robbyt/go-supervisor/supervisor"

	"github.com/atlanticdynamic/customjwt/internal/config"
	"github.com/atlanticdynamic/customjwt/internal/deployment"
	"github.com/atlanticdynamic/customjwt/internal/deployment/lock"
	"github.com/atlanticdynamic/customjwt/internal/deployment/publisher"
	"github.com/atlanticdynamic/customjwt/internal/deployment/transaction"
	"github.com/atlanticdynamic/customjwt/internal/identity"
	"github.com/atlanticdynamic/customjwt/internal/issuer"
	"github.com/atlanticdynamic/customjwt/internal/metrics"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
	"github.com/atlanticdynamic/customjwt/internal/sandbox/dryrun"
	"github.com/atlanticdynamic/customjwt/internal/sandbox/javascript"
	"github.com/atlanticdynamic/customjwt/internal/sandbox/starlark"
	"github.com/atlanticdynamic/customjwt/internal/server/api"
	"github.com/atlanticdynamic/customjwt/internal/server/httpserver"
	"github.com/atlanticdynamic/customjwt/internal/server/mcp"
	"github.com/atlanticdynamic/customjwt/internal/store"
	"github.com/atlanticdynamic/customjwt/internal/store/memory"
	"github.com/atlanticdynamic/customjwt/internal/store/postgres"
	"github.com/atlanticdynamic/customjwt/internal/store/redis"
)

// Service is every long-lived component of a running instance.
type Service struct {
	Customizers store.CustomizerStore
	Identities  store.IdentityStore
	Executor    *sandbox.Executor
	Deployer    *deployment.Deployer
	Issuer      *issuer.Issuer
	Metrics     *metrics.Prom
	Handler     http.Handler
	HTTP        *httpserver.HTTPServer

	closers []func() error
}

// New connects the configured backends and wires the components together. Close releases what
// New opened, also after a failed Run.
func New(ctx context.Context, cfg *config.Config, version string, logHandler slog.Handler) (_ *Service, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logHandler == nil {
		logHandler = slog.Default().Handler()
	}
	logger := slog.New(logHandler)

	svc := &Service{Metrics: metrics.NewProm()}
	defer func() {
		if err != nil {
			_ = svc.Close()
		}
	}()

	if err := svc.openStores(ctx, cfg, logger); err != nil {
		return nil, err
	}

	fetcher := sandbox.NewFetcher(
		sandbox.WithMaxResponseBytes(cfg.Sandbox.MaxResponseBytes),
		sandbox.WithTimeout(cfg.Sandbox.FetchTimeout.AsDuration()),
		sandbox.WithUserAgent(cfg.Sandbox.UserAgent),
	)
	svc.Executor, err = sandbox.NewExecutor(
		sandbox.WithEngine(javascript.New(javascript.WithLogHandler(logHandler))),
		sandbox.WithEngine(starlark.New(starlark.WithLogHandler(logHandler))),
		sandbox.WithDeadline(cfg.Sandbox.Deadline.AsDuration()),
		sandbox.WithCapabilities(sandbox.Capabilities{Fetch: fetcher}),
		sandbox.WithObserver(svc.Metrics),
		sandbox.WithLogHandler(logHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	runner, err := dryrun.New(svc.Executor,
		dryrun.WithSamples(svc.Customizers),
		dryrun.WithLogHandler(logHandler),
	)
	if err != nil {
		return nil, err
	}

	if svc.Deployer, err = svc.newDeployer(ctx, cfg, logHandler); err != nil {
		return nil, err
	}
	if svc.Issuer, err = svc.newIssuer(cfg, logHandler); err != nil {
		return nil, err
	}

	apiOpts := []api.Option{
		api.WithIssuer(svc.Issuer),
		api.WithMetricsHandler(svc.Metrics.Handler()),
		api.WithLogHandler(logHandler),
	}
	if cfg.MCP.Enabled {
		tools, err := mcp.New(runner, version, mcp.WithLogHandler(logHandler))
		if err != nil {
			return nil, fmt.Errorf("failed to create mcp server: %w", err)
		}
		apiOpts = append(apiOpts, api.WithMCPHandler(cfg.MCP.Path, tools.Handler()))
	}
	a, err := api.New(runner, svc.Customizers, svc.Deployer, apiOpts...)
	if err != nil {
		return nil, err
	}
	svc.Handler = a.Handler()

	svc.HTTP, err = httpserver.New(cfg.HTTP.Listen, svc.Handler,
		httpserver.WithTimeouts(httpserver.Timeouts{
			Read:  cfg.HTTP.ReadTimeout.AsDuration(),
			Write: cfg.HTTP.WriteTimeout.AsDuration(),
			Drain: cfg.HTTP.DrainTimeout.AsDuration(),
		}),
		httpserver.WithLogHandler(logHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("Service configured",
		"tenant", cfg.TenantID,
		"backend", cfg.Store.Backend,
		"mode", cfg.Deploy.Mode,
		"listen", cfg.HTTP.Listen,
	)
	return svc, nil
}

func (s *Service) openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	mem := memory.New()
	if cfg.Store.SeedFile != "" {
		var err error
		if mem, err = memory.NewFromFile(cfg.Store.SeedFile); err != nil {
			return err
		}
	}
	s.Customizers = mem
	s.Identities = mem

	if cfg.Store.Backend == config.BackendRedis {
		rs, err := redis.NewFromURL(ctx, cfg.Store.RedisURL, cfg.TenantID,
			redis.WithLogger(logger.With("component", "store")))
		if err != nil {
			return err
		}
		s.closers = append(s.closers, rs.Close)
		s.Customizers = rs
	}

	if cfg.Store.PostgresURL != "" {
		pool, err := postgres.Connect(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func() error {
			pool.Close()
			return nil
		})
		s.Identities = postgres.New(pool, cfg.TenantID)
	}
	return nil
}

func (s *Service) newDeployer(ctx context.Context, cfg *config.Config, logHandler slog.Handler) (*deployment.Deployer, error) {
	mode := deployment.Mode(cfg.Deploy.Mode)

	var pub deployment.Publisher = publisher.Noop{}
	if mode == deployment.ModeCloud {
		p, err := publisher.NewHTTP(cfg.Deploy.Endpoint, cfg.Deploy.APIToken, publisher.WithLogHandler(logHandler))
		if err != nil {
			return nil, err
		}
		pub = p
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Deploy.Lock == config.LockRedis {
		rs, ok := s.Customizers.(*redis.Store)
		if !ok {
			// The lock can run against Redis while customizers stay in memory.
			r, err := redis.NewFromURL(ctx, cfg.Store.RedisURL, cfg.TenantID)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, r.Close)
			rs = r
		}
		locker = lock.NewRedis(rs.Client(),
			lock.WithTTL(cfg.Deploy.LockTTL.AsDuration()),
			lock.WithLogHandler(logHandler),
		)
	}

	return deployment.NewDeployer(cfg.TenantID, s.Customizers,
		deployment.WithMode(mode),
		deployment.WithPublisher(pub),
		deployment.WithLocker(locker),
		deployment.WithHistory(transaction.NewHistory(cfg.Deploy.HistorySize)),
		deployment.WithObserver(s.Metrics),
		deployment.WithLogHandler(logHandler),
	)
}

func (s *Service) newIssuer(cfg *config.Config, logHandler slog.Handler) (*issuer.Issuer, error) {
	var (
		key jwk.Key
		err error
	)
	if cfg.Issuer.SigningKeyFile != "" {
		key, err = issuer.LoadKey(cfg.Issuer.SigningKeyFile)
	} else {
		slog.New(logHandler).Warn("No signing key configured, generated an ephemeral key")
		key, err = issuer.GenerateKey()
	}
	if err != nil {
		return nil, err
	}

	return issuer.New(s.Customizers, identity.NewAssembler(s.Identities, identity.WithLogHandler(logHandler)), s.Executor, key,
		issuer.WithIssuer(cfg.Issuer.Issuer),
		issuer.WithTTL(cfg.Issuer.TTL.AsDuration()),
		issuer.WithFailOpen(cfg.Issuer.FailOpen),
		issuer.WithObserver(s.Metrics),
		issuer.WithLogHandler(logHandler),
	)
}

// Close releases backend connections.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Run supervises the HTTP server until ctx is cancelled.
func (s *Service) Run(ctx context.Context, logHandler slog.Handler) error {
	super, err := supervisor.New(
		supervisor.WithContext(ctx),
		supervisor.WithLogHandler(logHandler),
		supervisor.WithRunnables(s.HTTP),
	)
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	start := time.Now()
	if err := super.Run(); err != nil {
		return fmt.Errorf("failed to run server: %w", err)
	}
	slog.New(logHandler).Info("Server shutdown complete", "uptime", time.Since(start).Round(time.Second))
	return nil
}

// Run builds the service from cfg and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, version string, logHandler slog.Handler) error {
	svc, err := New(ctx, cfg, version, logHandler)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	return svc.Run(ctx, logHandler)
}
