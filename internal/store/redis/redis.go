// Package redis persists customizer entries in a Redis hash, one field per token key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

var _ store.CustomizerStore = (*Store)(nil)

const keyPrefix = "customjwt:"

// Store is a CustomizerStore backed by a Redis hash at customjwt:<tenant>:customizers.
type Store struct {
	client *goredis.Client
	key    string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New builds a Store over an existing client.
func New(client *goredis.Client, tenantID string, opts ...Option) *Store {
	s := &Store{
		client: client,
		key:    keyPrefix + tenantID + ":customizers",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithGroup("redis").With("tenant", tenantID)
	return s
}

// NewFromURL parses a redis:// URL and pings the server before returning.
func NewFromURL(ctx context.Context, url, tenantID string, opts ...Option) (*Store, error) {
	redisOpts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := goredis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, tenantID, opts...), nil
}

// Client exposes the underlying client so the deployment lock can share the connection pool.
func (s *Store) Client() *goredis.Client {
	return s.client
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) GetCustomizers(ctx context.Context) (customizer.Customizers, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read customizers: %w", err)
	}

	out := make(customizer.Customizers, len(fields))
	for field, raw := range fields {
		key := customizer.TokenKey(field)
		if err := key.Validate(); err != nil {
			s.logger.Warn("Skipping unknown customizer field", "field", field)
			continue
		}
		entry, err := decodeEntry(raw)
		if err != nil {
			return nil, fmt.Errorf("customizer %s: %w", key, err)
		}
		out[key] = entry
	}
	return out, nil
}

func (s *Store) GetCustomizer(ctx context.Context, key customizer.TokenKey) (*customizer.Entry, error) {
	raw, err := s.client.HGet(ctx, s.key, string(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: customizer %s", store.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read customizer %s: %w", key, err)
	}
	return decodeEntry(raw)
}

func (s *Store) PutCustomizer(ctx context.Context, key customizer.TokenKey, entry *customizer.Entry) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if entry.IsEmpty() {
		return s.client.HDel(ctx, s.key, string(key)).Err()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode customizer %s: %w", key, err)
	}
	if err := s.client.HSet(ctx, s.key, string(key), data).Err(); err != nil {
		return fmt.Errorf("failed to write customizer %s: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteCustomizer(ctx context.Context, key customizer.TokenKey) error {
	n, err := s.client.HDel(ctx, s.key, string(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete customizer %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: customizer %s", store.ErrNotFound, key)
	}
	return nil
}

func decodeEntry(raw string) (*customizer.Entry, error) {
	var entry customizer.Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode customizer: %w", err)
	}
	return &entry, nil
}
