package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Health is the result of a single readiness observation.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
	// HealthFailed means the instance reported a terminal failure (for
	// example the process exited). Polling stops immediately.
	HealthFailed Health = "failed"
)

// HealthCheck is the pluggable readiness criterion: an HTTP check, a TCP
// connect, process-exit inspection. Probe makes one observation with no
// side effects.
type HealthCheck interface {
	Probe(ctx context.Context, inst Instance) (Health, error)
}

// HealthMonitor probes instances and reports health transitions.
type HealthMonitor struct {
	Check HealthCheck

	// Sleep is overridable for tests; nil means time.Sleep honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Probe makes a single observation. Check errors map to HealthUnknown so
// a flaky probe never terminates verification on its own.
func (m *HealthMonitor) Probe(ctx context.Context, inst Instance) Health {
	h, err := m.Check.Probe(ctx, inst)
	if err != nil {
		return HealthUnknown
	}
	return h
}

// WaitUntilHealthy polls at interval until the instance is healthy, the
// timeout elapses (ErrHealthTimeout), the instance reports terminal
// failure (ErrInstanceFailed), or ctx is cancelled (ErrCancelled).
func (m *HealthMonitor) WaitUntilHealthy(ctx context.Context, inst Instance, timeout, interval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		switch m.Probe(ctx, inst) {
		case HealthHealthy:
			return nil
		case HealthFailed:
			return fmt.Errorf("%w: instance %s", ErrInstanceFailed, inst.ID)
		}

		if err := m.sleep(ctx, interval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: instance %s not healthy after %s", ErrHealthTimeout, inst.ID, timeout)
			}
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
	}
}

func (m *HealthMonitor) sleep(ctx context.Context, d time.Duration) error {
	if m.Sleep != nil {
		return m.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
