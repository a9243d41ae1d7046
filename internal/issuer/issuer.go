// Package issuer is the token-issuance caller of the customizer runtime. It loads the tenant's
// production customizer for the requested token type, runs it against the draft claims and
// signs the merged result.
package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/atlanticdynamic/customjwt/internal/customizer"
	"github.com/atlanticdynamic/customjwt/internal/identity"
	"github.com/atlanticdynamic/customjwt/internal/sandbox"
	"github.com/atlanticdynamic/customjwt/internal/store"
)

const defaultTTL = time.Hour

// Outcome labels for Observer.
const (
	OutcomeApplied = "applied"
	OutcomeNone    = "none"
	OutcomeSkipped = "skipped"
)

// Claims a customizer can never set or override.
var registeredClaims = map[string]struct{}{
	"iss":       {},
	"sub":       {},
	"aud":       {},
	"exp":       {},
	"nbf":       {},
	"iat":       {},
	"jti":       {},
	"client_id": {},
	"scope":     {},
}

// ErrSubjectRequired is returned when an access token is requested without a subject.
var ErrSubjectRequired = errors.New("access tokens require a subject")

// Observer is told how each issuance used its customizer.
type Observer interface {
	ObserveIssue(tokenType customizer.TokenKey, outcome string)
}

// Request is one token to issue.
type Request struct {
	TokenType customizer.TokenKey `json:"tokenType"`
	Subject   string              `json:"subject,omitempty"`
	Claims    map[string]any      `json:"claims,omitempty"`
}

// Result is a signed token and the claims it carries.
type Result struct {
	Token  string         `json:"token"`
	Claims map[string]any `json:"claims"`
	// Outcome is OutcomeApplied, OutcomeNone or OutcomeSkipped.
	Outcome string `json:"customizer"`
}

// Issuer signs tokens after applying the production customizer.
type Issuer struct {
	customizers store.CustomizerStore
	assembler   *identity.Assembler
	executor    *sandbox.Executor
	key         jwk.Key
	issuer      string
	ttl         time.Duration
	failOpen    bool
	observer    Observer
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithIssuer sets the iss claim.
func WithIssuer(iss string) Option {
	return func(i *Issuer) {
		i.issuer = iss
	}
}

// WithTTL sets token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithFailOpen issues tokens without extra claims when the customizer script fails, instead of
// failing the issuance. Unknown users and store errors still fail the issuance.
func WithFailOpen(failOpen bool) Option {
	return func(i *Issuer) {
		i.failOpen = failOpen
	}
}

// WithObserver sets the issuance observer.
func WithObserver(o Observer) Option {
	return func(i *Issuer) {
		i.observer = o
	}
}

// WithLogHandler sets the log handler.
func WithLogHandler(h slog.Handler) Option {
	return func(i *Issuer) {
		i.logger = slog.New(h)
	}
}

// withClock is for tests.
func withClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// New returns an Issuer signing with key.
func New(
	customizers store.CustomizerStore,
	assembler *identity.Assembler,
	executor *sandbox.Executor,
	key jwk.Key,
	opts ...Option,
) (*Issuer, error) {
	if customizers == nil || assembler == nil || executor == nil {
		return nil, errors.New("issuer requires a customizer store, an assembler and an executor")
	}
	if key == nil {
		return nil, errors.New("issuer requires a signing key")
	}
	i := &Issuer{
		customizers: customizers,
		assembler:   assembler,
		executor:    executor,
		key:         key,
		ttl:         defaultTTL,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.WithGroup("issuer")
	return i, nil
}

// Issue builds the draft claims, applies the production customizer for the token type, and
// signs the result. Customizer configuration is read fresh on every call.
func (i *Issuer) Issue(ctx context.Context, req Request) (*Result, error) {
	if err := req.TokenType.Validate(); err != nil {
		return nil, sandbox.NewScriptError(sandbox.ErrInvalidInput, err.Error()).WithCause(err)
	}
	if req.TokenType.ExposesUserContext() && strings.TrimSpace(req.Subject) == "" {
		return nil, sandbox.NewScriptError(sandbox.ErrInvalidInput, ErrSubjectRequired.Error()).WithCause(ErrSubjectRequired)
	}

	draft := i.draft(req)

	extra, outcome, err := i.customize(ctx, req, draft)
	if err != nil {
		if !i.failOpen || !errors.Is(err, sandbox.ErrSandbox) {
			return nil, err
		}
		i.logger.Warn("Customizer failed, issuing without extra claims",
			"tokenType", req.TokenType,
			"kind", sandbox.KindName(err),
			"error", err,
		)
		extra, outcome = nil, OutcomeSkipped
	}

	claims := mergeClaims(draft, extra)
	token, err := i.sign(claims)
	if err != nil {
		return nil, err
	}

	if i.observer != nil {
		i.observer.ObserveIssue(req.TokenType, outcome)
	}
	return &Result{Token: token, Claims: claims, Outcome: outcome}, nil
}

func (i *Issuer) draft(req Request) map[string]any {
	now := i.now()
	draft := maps.Clone(req.Claims)
	if draft == nil {
		draft = make(map[string]any)
	}
	if i.issuer != "" {
		draft["iss"] = i.issuer
	}
	if req.Subject != "" {
		draft["sub"] = req.Subject
	}
	draft["iat"] = now.Unix()
	draft["exp"] = now.Add(i.ttl).Unix()
	draft["jti"] = uuid.Must(uuid.NewV4()).String()
	return draft
}

func (i *Issuer) customize(ctx context.Context, req Request, draft map[string]any) (map[string]any, string, error) {
	entry, err := i.customizers.GetCustomizer(ctx, req.TokenType)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, OutcomeNone, nil
	case err != nil:
		return nil, "", fmt.Errorf("failed to load customizer: %w", err)
	}

	script, ok := entry.Script(customizer.UseCaseProduction)
	if !ok {
		return nil, OutcomeNone, nil
	}

	payload := sandbox.Payload{
		Script:               script.Source,
		Runtime:              script.Runtime.OrDefault(),
		TokenType:            req.TokenType,
		Token:                draft,
		EnvironmentVariables: script.EnvironmentVariables,
	}
	if req.TokenType.ExposesUserContext() {
		idCtx, err := i.assembler.Assemble(ctx, req.Subject)
		if err != nil {
			return nil, "", err
		}
		if payload.Context, err = idCtx.AsMap(); err != nil {
			return nil, "", err
		}
	}

	extra, err := i.executor.Execute(ctx, payload)
	if err != nil {
		return nil, "", err
	}
	return extra, OutcomeApplied, nil
}

// mergeClaims adds extra to draft. Registered claims in extra are dropped.
func mergeClaims(draft, extra map[string]any) map[string]any {
	out := maps.Clone(draft)
	for k, v := range extra {
		if _, reserved := registeredClaims[k]; reserved {
			continue
		}
		out[k] = v
	}
	return out
}

func (i *Issuer) sign(claims map[string]any) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}

	headers := jws.NewHeaders()
	if err := headers.Set(jws.TypeKey, "JWT"); err != nil {
		return "", err
	}
	if err := headers.Set(jws.KeyIDKey, i.key.KeyID()); err != nil {
		return "", err
	}

	alg, err := algorithmFor(i.key)
	if err != nil {
		return "", err
	}
	signed, err := jws.Sign(payload, jws.WithKey(alg, i.key, jws.WithProtectedHeaders(headers)))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// PublicKeys returns the JWKS verifying tokens from this issuer.
func (i *Issuer) PublicKeys() (jwk.Set, error) {
	return PublicSet(i.key)
}
