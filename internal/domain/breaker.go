package domain

import (
	"context"
	"fmt"
)

// CircuitBreaker halts repeated cutover attempts for a version after a
// failure threshold. Counters are kept per (resource, version): a bad
// build of v3 must not block deploying v4.
type CircuitBreaker struct {
	Breakers BreakerRepository

	// MaxConsecutiveFailures is the number of consecutive rolled-back
	// verifications after which further deployments of the version are
	// rejected until reset. Zero disables the breaker.
	MaxConsecutiveFailures int
}

// Allow fails with ErrCircuitOpen when the version has reached the
// failure threshold for the resource.
func (b *CircuitBreaker) Allow(ctx context.Context, resource ResourceID, version VersionID) error {
	if b.MaxConsecutiveFailures <= 0 {
		return nil
	}
	n, err := b.Breakers.Failures(ctx, resource, version)
	if err != nil {
		return fmt.Errorf("read breaker state: %w", err)
	}
	if n >= b.MaxConsecutiveFailures {
		return fmt.Errorf("%w: version %s has %d consecutive failures on %s", ErrCircuitOpen, version, n, resource)
	}
	return nil
}

// RecordFailure increments the counter after a rolled-back verification.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, resource ResourceID, version VersionID) error {
	_, err := b.Breakers.Increment(ctx, resource, version)
	return err
}

// Reset clears the counter. Called on successful commit and by the
// operator-facing reset operation.
func (b *CircuitBreaker) Reset(ctx context.Context, resource ResourceID, version VersionID) error {
	return b.Breakers.Reset(ctx, resource, version)
}
