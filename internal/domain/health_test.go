package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// flakyCheck fails with an error n times before delegating.
type flakyCheck struct {
	failures int
	then     domain.Health
}

func (c *flakyCheck) Probe(_ context.Context, _ domain.Instance) (domain.Health, error) {
	if c.failures > 0 {
		c.failures--
		return "", errors.New("probe: connection refused")
	}
	return c.then, nil
}

func TestHealthMonitor_ProbeErrorMapsToUnknown(t *testing.T) {
	m := &domain.HealthMonitor{Check: &flakyCheck{failures: 1, then: domain.HealthHealthy}}
	inst := domain.Instance{ID: "i1"}

	if h := m.Probe(context.Background(), inst); h != domain.HealthUnknown {
		t.Fatalf("Probe = %s, want %s", h, domain.HealthUnknown)
	}
	if h := m.Probe(context.Background(), inst); h != domain.HealthHealthy {
		t.Fatalf("second Probe = %s, want %s", h, domain.HealthHealthy)
	}
}

func TestHealthMonitor_WaitSurvivesFlakyProbes(t *testing.T) {
	m := &domain.HealthMonitor{Check: &flakyCheck{failures: 3, then: domain.HealthHealthy}}
	inst := domain.Instance{ID: "i1"}

	err := m.WaitUntilHealthy(context.Background(), inst, time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("WaitUntilHealthy: %v", err)
	}
}

func TestHealthMonitor_WaitTimesOut(t *testing.T) {
	check := &scriptedCheck{deflt: domain.HealthUnhealthy}
	m := &domain.HealthMonitor{Check: check}
	inst := domain.Instance{ID: "i1"}

	err := m.WaitUntilHealthy(context.Background(), inst, 30*time.Millisecond, time.Millisecond)
	if !errors.Is(err, domain.ErrHealthTimeout) {
		t.Fatalf("err = %v, want ErrHealthTimeout", err)
	}
}

func TestHealthMonitor_TerminalFailureStopsWaiting(t *testing.T) {
	check := &scriptedCheck{
		results: map[domain.InstanceID][]domain.Health{
			"i1": {domain.HealthUnknown, domain.HealthFailed},
		},
	}
	m := &domain.HealthMonitor{Check: check}
	inst := domain.Instance{ID: "i1"}

	err := m.WaitUntilHealthy(context.Background(), inst, time.Minute, time.Millisecond)
	if !errors.Is(err, domain.ErrInstanceFailed) {
		t.Fatalf("err = %v, want ErrInstanceFailed", err)
	}
}

func TestHealthMonitor_WaitCancelled(t *testing.T) {
	check := &scriptedCheck{deflt: domain.HealthUnhealthy}
	m := &domain.HealthMonitor{Check: check}
	inst := domain.Instance{ID: "i1"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.WaitUntilHealthy(ctx, inst, time.Minute, time.Millisecond)
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}
