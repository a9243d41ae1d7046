package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/deployment/lock"
	"github.com/atlanticdynamic/customjwt/internal/deployment/transaction"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

// Mode selects where production scripts run.
type Mode string

const (
	// ModeSelfHosted runs scripts only in the local sandbox; nothing is published.
	ModeSelfHosted Mode = "self-hosted"
	// ModeCloud publishes the document to the remote execution host.
	ModeCloud Mode = "cloud"
)

// Publisher is the boundary to the remote execution host.
type Publisher interface {
	// Push replaces the remote document.
	Push(ctx context.Context, doc Document) error
	// Teardown deletes the remote document.
	Teardown(ctx context.Context) error
}

// Observer is notified when a transaction reaches a terminal state.
type Observer interface {
	ObserveDeployment(kind transaction.Kind, state string)
}

// Deployer applies deploy and undeploy requests for one tenant. Each request holds the tenant
// lock from the store read through the store write, so concurrent changes never merge against
// a stale document and the teardown decision sees every earlier removal.
type Deployer struct {
	tenant    string
	mode      Mode
	store     store.CustomizerStore
	merger    *Merger
	publisher Publisher
	locker    lock.Locker
	history   *transaction.History
	observer  Observer
	handler   slog.Handler
	logger    *slog.Logger
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithMode sets the deployment mode. The default is self-hosted.
func WithMode(m Mode) Option {
	return func(d *Deployer) {
		if m != "" {
			d.mode = m
		}
	}
}

// WithPublisher sets the remote publisher used in cloud mode.
func WithPublisher(p Publisher) Option {
	return func(d *Deployer) {
		d.publisher = p
	}
}

// WithLocker replaces the in-process tenant lock.
func WithLocker(l lock.Locker) Option {
	return func(d *Deployer) {
		if l != nil {
			d.locker = l
		}
	}
}

// WithHistory sets where finished transactions are kept.
func WithHistory(h *transaction.History) Option {
	return func(d *Deployer) {
		if h != nil {
			d.history = h
		}
	}
}

// WithObserver sets the transaction observer.
func WithObserver(o Observer) Option {
	return func(d *Deployer) {
		d.observer = o
	}
}

// WithLogHandler sets the log handler used by the deployer and its transactions.
func WithLogHandler(h slog.Handler) Option {
	return func(d *Deployer) {
		if h != nil {
			d.handler = h
		}
	}
}

// NewDeployer returns a Deployer for tenant backed by s.
func NewDeployer(tenant string, s store.CustomizerStore, opts ...Option) (*Deployer, error) {
	if s == nil {
		return nil, errors.New("customizer store is required")
	}
	d := &Deployer{
		tenant:  tenant,
		mode:    ModeSelfHosted,
		store:   s,
		merger:  NewMerger(s),
		locker:  lock.NewLocal(),
		history: transaction.NewHistory(transaction.DefaultHistorySize),
		handler: slog.Default().Handler(),
	}
	for _, opt := range opts {
		opt(d)
	}

	switch d.mode {
	case ModeSelfHosted:
	case ModeCloud:
		if d.publisher == nil {
			return nil, errors.New("cloud mode requires a publisher")
		}
	default:
		return nil, fmt.Errorf("unknown deployment mode %q", d.mode)
	}

	d.logger = slog.New(d.handler).WithGroup("deployer").With("tenant", tenant, "mode", d.mode)
	return d, nil
}

// Mode returns the configured mode.
func (d *Deployer) Mode() Mode {
	return d.mode
}

// History returns the recent transactions.
func (d *Deployer) History() *transaction.History {
	return d.history
}

// Deploy stores script in the (key, useCase) slot and, in cloud mode, publishes the rebuilt
// document first. The store is written only after the publish succeeds.
func (d *Deployer) Deploy(
	ctx context.Context,
	key customizer.TokenKey,
	useCase customizer.UseCase,
	script customizer.Script,
) (*transaction.Transaction, error) {
	if err := validateDeploy(d.mode, key, useCase, script); err != nil {
		return nil, err
	}

	tx, err := transaction.New(transaction.KindDeploy, key, useCase, d.handler)
	if err != nil {
		return nil, err
	}

	err = d.inCriticalSection(ctx, tx, func(ctx context.Context) error {
		return d.deploy(ctx, tx, key, useCase, script)
	})
	return tx, err
}

// Undeploy removes key. In cloud mode the remote document is pushed without key, or torn down
// when key was the last configured customizer.
func (d *Deployer) Undeploy(ctx context.Context, key customizer.TokenKey) (*transaction.Transaction, error) {
	if err := key.Validate(); err != nil {
		return nil, invalidInput(err)
	}

	tx, err := transaction.New(transaction.KindUndeploy, key, "", d.handler)
	if err != nil {
		return nil, err
	}

	err = d.inCriticalSection(ctx, tx, func(ctx context.Context) error {
		return d.undeploy(ctx, tx, key)
	})
	return tx, err
}

func (d *Deployer) inCriticalSection(
	ctx context.Context,
	tx *transaction.Transaction,
	fn func(context.Context) error,
) error {
	defer d.record(tx)

	release, err := d.locker.Lock(ctx, d.tenant)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrLock, err)
		_ = tx.MarkFailed(err)
		return err
	}
	defer release()

	if err := fn(ctx); err != nil {
		_ = tx.MarkFailed(err)
		return err
	}
	return nil
}

func (d *Deployer) deploy(
	ctx context.Context,
	tx *transaction.Transaction,
	key customizer.TokenKey,
	useCase customizer.UseCase,
	script customizer.Script,
) error {
	log := tx.Logger()

	entry, err := d.store.GetCustomizer(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		entry = &customizer.Entry{}
	case err != nil:
		return fmt.Errorf("failed to load customizer: %w", err)
	}
	entry = entry.Clone()
	entry.SetScript(useCase, script)

	if d.mode == ModeCloud {
		if err := tx.BeginMerge(); err != nil {
			return err
		}
		configured, err := d.store.GetCustomizers(ctx)
		if err != nil {
			return fmt.Errorf("failed to load customizers: %w", err)
		}
		doc, err := d.merger.ApplyUpsert(BuildDocument(configured), key, useCase, script.Source)
		if err != nil {
			return invalidInput(err)
		}
		log.Debug("Document merged", "keys", len(doc))

		if err := tx.BeginPublish(); err != nil {
			return err
		}
		if err := d.publisher.Push(ctx, doc); err != nil {
			return fmt.Errorf("%w: %w", ErrPublish, err)
		}
	}

	if err := tx.BeginPersist(); err != nil {
		return err
	}
	if err := d.store.PutCustomizer(ctx, key, entry); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	if d.mode == ModeCloud {
		return tx.MarkCompleted()
	}
	return tx.MarkSkipped()
}

func (d *Deployer) undeploy(ctx context.Context, tx *transaction.Transaction, key customizer.TokenKey) error {
	log := tx.Logger()

	if d.mode == ModeCloud {
		if err := tx.BeginMerge(); err != nil {
			return err
		}
		doc, teardown, err := d.merger.ApplyRemoval(ctx, key)
		if err != nil {
			return err
		}

		if err := tx.BeginPublish(); err != nil {
			return err
		}
		if teardown {
			log.Info("No deployable customizers left, tearing down remote document")
			if err := d.publisher.Teardown(ctx); err != nil {
				return fmt.Errorf("%w: %w", ErrTeardown, err)
			}
		} else if err := d.publisher.Push(ctx, doc); err != nil {
			return fmt.Errorf("%w: %w", ErrPublish, err)
		}

		if err := tx.BeginPersist(); err != nil {
			return err
		}
		if err := d.delete(ctx, key); err != nil {
			return err
		}
		if teardown {
			return tx.MarkTornDown()
		}
		return tx.MarkCompleted()
	}

	if err := tx.BeginPersist(); err != nil {
		return err
	}
	if err := d.delete(ctx, key); err != nil {
		return err
	}
	return tx.MarkSkipped()
}

func (d *Deployer) delete(ctx context.Context, key customizer.TokenKey) error {
	err := d.store.DeleteCustomizer(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrCustomizerNotFound, key)
	case err != nil:
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func (d *Deployer) record(tx *transaction.Transaction) {
	d.history.Add(tx)
	if d.observer != nil {
		d.observer.ObserveDeployment(tx.Kind, tx.GetState())
	}

	attrs := []any{"id", tx.ID, "kind", tx.Kind, "tokenKey", tx.TokenKey, "state", tx.GetState(), "duration", tx.Duration()}
	if err := tx.Err(); err != nil {
		d.logger.Warn("Deployment transaction failed", append(attrs, "error", err)...)
		return
	}
	d.logger.Info("Deployment transaction finished", attrs...)
}

func validateDeploy(mode Mode, key customizer.TokenKey, useCase customizer.UseCase, script customizer.Script) error {
	if err := key.Validate(); err != nil {
		return invalidInput(err)
	}
	if err := useCase.Validate(); err != nil {
		return invalidInput(err)
	}
	if err := script.Validate(); err != nil {
		return invalidInput(err)
	}
	if mode == ModeCloud && script.Runtime.OrDefault() != customizer.RuntimeJavaScript {
		return invalidInput(fmt.Errorf("%w: %s", ErrUnsupportedRuntime, script.Runtime))
	}
	return nil
}

func invalidInput(err error) error {
	return sandbox.NewScriptError(sandbox.ErrInvalidInput, err.Error()).WithCause(err)
}
