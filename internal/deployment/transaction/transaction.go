// Package transaction tracks one deployment change from request to outcome.
//
// Lifecycle:
//  1. created    - the change was requested
//  2. merging    - the document is being rebuilt and patched
//  3. publishing - the remote host is being updated or torn down
//  4. persisting - the customizer store is being written
//
// Terminal states:
//   - completed - the document was pushed and the store updated
//   - tornDown  - the last customizer was removed and the remote document deleted
//   - skipped   - self-hosted mode; only the store was updated
//   - failed    - any step returned an error
package transaction

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/robbyt/go-fsm"
	"github.com/robbyt/go-loglater"
	"github.com/robbyt/go-loglater/storage"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
)

const (
	StateCreated    = "created"
	StateMerging    = "merging"
	StatePublishing = "publishing"
	StatePersisting = "persisting"
	StateCompleted  = "completed"
	StateTornDown   = "tornDown"
	StateSkipped    = "skipped"
	StateFailed     = "failed"
)

// Transitions is the allowed state graph. Self-hosted changes go straight from created to
// persisting.
var Transitions = map[string][]string{
	StateCreated:    {StateMerging, StatePersisting, StateFailed},
	StateMerging:    {StatePublishing, StateFailed},
	StatePublishing: {StatePersisting, StateFailed},
	StatePersisting: {StateCompleted, StateTornDown, StateSkipped, StateFailed},
	StateCompleted:  {},
	StateTornDown:   {},
	StateSkipped:    {},
	StateFailed:     {},
}

// Kind is the requested change.
type Kind string

const (
	KindDeploy   Kind = "deploy"
	KindUndeploy Kind = "undeploy"
)

// Transaction is one deploy or undeploy request.
type Transaction struct {
	ID        uuid.UUID
	Kind      Kind
	TokenKey  customizer.TokenKey
	UseCase   customizer.UseCase
	CreatedAt time.Time

	fsm          *fsm.Machine
	logger       *slog.Logger
	logCollector *loglater.LogCollector

	mu         sync.RWMutex
	finishedAt time.Time
	err        error
}

// New creates a transaction in the created state. useCase is empty for undeploy.
func New(
	kind Kind,
	key customizer.TokenKey,
	useCase customizer.UseCase,
	handler slog.Handler,
) (*Transaction, error) {
	txID := uuid.Must(uuid.NewV6())

	sm, err := fsm.New(handler, StateCreated, Transitions)
	if err != nil {
		return nil, fmt.Errorf("%s failed to create state machine: %w", txID, err)
	}

	// The collector has no base handler so it keeps every level regardless of the process log level.
	logCollector := loglater.NewLogCollector(nil)
	attrs := []any{"id", txID, "kind", kind, "tokenKey", key}
	if useCase != "" {
		attrs = append(attrs, "useCase", useCase)
	}

	tx := &Transaction{
		ID:           txID,
		Kind:         kind,
		TokenKey:     key,
		UseCase:      useCase,
		CreatedAt:    time.Now(),
		fsm:          sm,
		logger:       slog.New(newTeeHandler(logCollector, handler)).With(attrs...),
		logCollector: logCollector,
	}
	tx.logger.Info("Transaction created")
	return tx, nil
}

// Logger returns the transaction's capturing logger.
func (tx *Transaction) Logger() *slog.Logger {
	return tx.logger
}

// GetState returns the current state.
func (tx *Transaction) GetState() string {
	return tx.fsm.GetState()
}

// BeginMerge marks the start of document merging.
func (tx *Transaction) BeginMerge() error {
	return tx.transition(StateMerging, "Merging document")
}

// BeginPublish marks the start of the remote update.
func (tx *Transaction) BeginPublish() error {
	return tx.transition(StatePublishing, "Publishing document")
}

// BeginPersist marks the start of the store write.
func (tx *Transaction) BeginPersist() error {
	return tx.transition(StatePersisting, "Persisting customizer")
}

// MarkCompleted ends the transaction after a publish.
func (tx *Transaction) MarkCompleted() error {
	return tx.finish(StateCompleted, nil)
}

// MarkTornDown ends the transaction after the remote document was deleted.
func (tx *Transaction) MarkTornDown() error {
	return tx.finish(StateTornDown, nil)
}

// MarkSkipped ends a self-hosted transaction.
func (tx *Transaction) MarkSkipped() error {
	return tx.finish(StateSkipped, nil)
}

// MarkFailed records cause and ends the transaction. It is a no-op once the transaction has
// reached a terminal state.
func (tx *Transaction) MarkFailed(cause error) error {
	if tx.IsTerminal() {
		return nil
	}
	return tx.finish(StateFailed, cause)
}

// IsTerminal reports whether the transaction has finished.
func (tx *Transaction) IsTerminal() bool {
	return len(Transitions[tx.GetState()]) == 0
}

// Err returns the failure cause, if any.
func (tx *Transaction) Err() error {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.err
}

// Duration is the time from creation to the terminal state, or until now while running.
func (tx *Transaction) Duration() time.Duration {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	if tx.finishedAt.IsZero() {
		return time.Since(tx.CreatedAt)
	}
	return tx.finishedAt.Sub(tx.CreatedAt)
}

// GetLogs returns the captured log records.
func (tx *Transaction) GetLogs() []storage.Record {
	return tx.logCollector.GetLogs()
}

// PlaybackLogs replays the captured logs to handler.
func (tx *Transaction) PlaybackLogs(handler slog.Handler) error {
	return tx.logCollector.PlayLogs(handler)
}

func (tx *Transaction) transition(state, msg string) error {
	if err := tx.fsm.Transition(state); err != nil {
		tx.logger.Error("Failed to transition", "to", state, "from", tx.GetState(), "error", err)
		return err
	}
	tx.logger.Debug(msg, "state", state)
	return nil
}

func (tx *Transaction) finish(state string, cause error) error {
	if err := tx.fsm.Transition(state); err != nil {
		tx.logger.Error("Failed to transition", "to", state, "from", tx.GetState(), "error", err)
		return err
	}

	tx.mu.Lock()
	tx.finishedAt = time.Now()
	tx.err = cause
	tx.mu.Unlock()

	if cause != nil {
		tx.logger.Error("Transaction failed", "state", state, "error", cause, "duration", tx.Duration())
		return nil
	}
	tx.logger.Info("Transaction finished", "state", state, "duration", tx.Duration())
	return nil
}
