// Package credential manages the pool of interchangeable SSO session tokens
// used against the upstream generation service. It defines the Pool port and
// in-memory and Redis-backed implementations; the orchestrator depends only
// on the port and tolerates concurrent use of a token by other calls.
package credential

import (
	"context"
	"errors"
)

// Static errors for pool operations.
var (
	// ErrPoolEmpty is returned when no tokens are configured.
	ErrPoolEmpty = errors.New("credential: pool is empty")
	// ErrUnknownToken is returned for operations on a token the pool does not hold.
	ErrUnknownToken = errors.New("credential: unknown token")
)

// Pool is the contract the generation orchestrator uses to acquire and
// report on credentials. Implementations must be safe for concurrent use
// and must treat every operation as idempotent from the caller's side.
type Pool interface {
	// Acquire returns the next usable token.
	Acquire(ctx context.Context) (string, error)

	// AgeVerified reports whether the token has completed age verification.
	AgeVerified(ctx context.Context, token string) (bool, error)

	// SetAgeVerified records the age-verification state of the token.
	SetAgeVerified(ctx context.Context, token string, verified bool) error

	// MarkSuccess records a successful generation with the token,
	// clearing any failure streak.
	MarkSuccess(ctx context.Context, token string) error

	// MarkFailed records a failed generation with the token and the reason.
	MarkFailed(ctx context.Context, token string, reason string) error

	// RecordUsage increments the token's usage accounting.
	RecordUsage(ctx context.Context, token string) error
}
