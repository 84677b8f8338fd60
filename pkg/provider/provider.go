// Package provider defines the ChainProvider capability: the abstract RPC
// surface the chain tracker and block ingestor consume. Concrete
// implementations (internal/evmprovider, internal/starknetprovider) own the
// actual network transport; this package only fixes the contract and the
// error taxonomy callers classify on.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goran-ethernal/chain-dna/pkg/cursor"
	"github.com/goran-ethernal/chain-dna/pkg/record"
)

// ChainProvider is the capability the core consumes to follow a remote
// chain. Every method may block on network I/O and must respect ctx
// cancellation.
type ChainProvider interface {
	// GetHead returns the current accepted chain tip.
	GetHead(ctx context.Context) (cursor.Cursor, error)
	// GetFinalizedHead returns the chain's current finalized tip.
	GetFinalizedHead(ctx context.Context) (cursor.Cursor, error)
	// GetBlockByNumber fetches and normalizes the block at the given height.
	GetBlockByNumber(ctx context.Context, number uint64) (*record.Block, error)
	// GetBlockByHash fetches and normalizes the block with the given hash.
	GetBlockByHash(ctx context.Context, hash []byte) (*record.Block, error)
}

// ErrorClass classifies a provider error for retry/fatal handling.
type ErrorClass int

const (
	// ClassTransient is a retryable network/timeout/5xx-shaped failure.
	ClassTransient ErrorClass = iota
	// ClassRateLimited is retried unless cancellation has been requested.
	ClassRateLimited
	// ClassNotFound means the requested block does not (yet) exist.
	ClassNotFound
	// ClassMalformed is a permanent deserialization/shape failure.
	ClassMalformed
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassNotFound:
		return "not_found"
	case ClassMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error wraps a provider failure with its classification.
type Error struct {
	Class ErrorClass
	Op    string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified provider error.
func NewError(class ErrorClass, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// ErrNotFound is returned (wrapped in Error) when a requested block has not
// been produced yet.
var ErrNotFound = errors.New("provider: block not found")

// ClassOf extracts the ErrorClass from err, defaulting to ClassTransient for
// errors that were never classified (fail open toward retrying, never
// toward silently giving up).
func ClassOf(err error) ErrorClass {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassTransient
}

// IsRetryable reports whether err should be retried by the caller's backoff
// loop: transient and rate-limited errors are retryable, not-found and
// malformed are not.
func IsRetryable(err error) bool {
	switch ClassOf(err) {
	case ClassTransient, ClassRateLimited:
		return true
	default:
		return false
	}
}

// BackoffConfig parameterizes the retry policy applied to provider calls,
// mirrored onto backoff.ExponentialBackOff.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

// newExponentialBackOff builds the cenkalti/backoff/v4 policy this
// package's Retry uses.
func (c BackoffConfig) newExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		b.MaxInterval = c.MaxInterval
	}
	if c.Multiplier > 0 {
		b.Multiplier = c.Multiplier
	}
	b.MaxElapsedTime = c.MaxElapsedTime
	b.Reset()
	return b
}

// Retry runs fn under the given backoff policy, retrying ClassTransient and
// ClassRateLimited errors (per IsRetryable) and giving up immediately on
// anything else via backoff.Permanent. It aborts early if ctx is done.
func Retry(ctx context.Context, cfg BackoffConfig, fn func() error) error {
	policy := backoff.WithContext(cfg.newExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
