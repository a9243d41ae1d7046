package deployment

import (
	"context"
	"fmt"
	"strings"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

// ApplyUpsert returns current with one slot set to script. The other use case under the same
// key and every other key are left as they were. current is not modified.
func ApplyUpsert(
	current Document,
	key customizer.TokenKey,
	useCase customizer.UseCase,
	script string,
) (Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := useCase.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(script) == "" {
		return nil, ErrEmptyScript
	}
	return merge(current, patch{key: {useCase: set(script)}}), nil
}

// ApplyRemoval returns current without key. configured is the store's view of customizers at
// merge time and key must be configured there. When nothing deployable is left the second
// result is true and the returned document is empty, meaning the caller must tear the remote
// artifact down instead of publishing. Entries that never reach the document, such as
// Starlark scripts, do not keep the remote artifact alive.
func ApplyRemoval(
	current Document,
	key customizer.TokenKey,
	configured customizer.Customizers,
) (Document, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	if !configured.Has(key) {
		return nil, false, fmt.Errorf("%w: %s", ErrCustomizerNotFound, key)
	}

	tombstones := make(map[customizer.UseCase]leaf, 2)
	for _, useCase := range customizer.AllUseCases() {
		tombstones[useCase] = nil
	}
	doc := merge(current, patch{key: tombstones})
	if doc.IsEmpty() {
		return Document{}, true, nil
	}
	return doc, false, nil
}

// Merger runs removals against a fresh read of the customizer store.
type Merger struct {
	store store.CustomizerStore
}

// NewMerger returns a Merger reading from s.
func NewMerger(s store.CustomizerStore) *Merger {
	return &Merger{store: s}
}

// ApplyUpsert is the package function; it needs no store access.
func (m *Merger) ApplyUpsert(
	current Document,
	key customizer.TokenKey,
	useCase customizer.UseCase,
	script string,
) (Document, error) {
	return ApplyUpsert(current, key, useCase, script)
}

// ApplyRemoval rebuilds the current document from the store and removes key from it.
func (m *Merger) ApplyRemoval(ctx context.Context, key customizer.TokenKey) (Document, bool, error) {
	configured, err := m.store.GetCustomizers(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load customizers: %w", err)
	}
	return ApplyRemoval(BuildDocument(configured), key, configured)
}
