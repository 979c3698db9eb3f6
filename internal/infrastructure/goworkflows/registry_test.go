package goworkflows_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cschleiden/go-workflows/backend"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"

	"github.com/cutover-dev/cutover-server/internal/application"
	"github.com/cutover-dev/cutover-server/internal/domain"
	"github.com/cutover-dev/cutover-server/internal/infrastructure/goworkflows"
	"github.com/cutover-dev/cutover-server/internal/infrastructure/sqlite"
)

func startWorker(t *testing.T, b backend.Backend) *worker.Worker {
	t.Helper()
	w := worker.New(b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.WaitForCompletion()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	return w
}

// stubRunner releases the instance's lock on stop, the way a cleanly
// terminating process does.
type stubRunner struct {
	mu      sync.Mutex
	locks   domain.LockRepository
	started []domain.InstanceID
}

func (r *stubRunner) Start(_ context.Context, inst domain.Instance) (domain.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, inst.ID)
	return inst, nil
}

func (r *stubRunner) Stop(ctx context.Context, inst domain.Instance) error {
	return r.locks.Release(ctx, inst.Resource, inst.ID)
}

type healthyCheck struct{}

func (healthyCheck) Probe(_ context.Context, _ domain.Instance) (domain.Health, error) {
	return domain.HealthHealthy, nil
}

func TestDeployment_GoWorkflows(t *testing.T) {
	b := wfsqlite.NewInMemoryBackend()
	w := startWorker(t, b)
	c := client.New(b)

	db := sqlite.OpenTestDB(t)
	versionRepo := &sqlite.VersionRepo{DB: db}
	lockRepo := &sqlite.LockRepo{DB: db}
	instanceRepo := &sqlite.InstanceRepo{DB: db}
	recordRepo := &sqlite.RecordRepo{DB: db}
	breakerRepo := &sqlite.BreakerRepo{DB: db}

	locks := &domain.LockManager{Locks: lockRepo}
	breaker := &domain.CircuitBreaker{Breakers: breakerRepo, MaxConsecutiveFailures: 3}
	runner := &stubRunner{locks: lockRepo}

	wf := &domain.DeploymentWorkflow{
		Records:   recordRepo,
		Versions:  versionRepo,
		Instances: instanceRepo,
		Locks:     locks,
		Breaker:   breaker,
		Runner:    runner,
		Health:    &domain.HealthMonitor{Check: healthyCheck{}},
		Config: domain.MachineConfig{
			StopTimeout:      time.Second,
			StopPollInterval: time.Millisecond,
			LeaseDuration:    time.Hour,
			HealthTimeout:    time.Second,
			HealthInterval:   time.Millisecond,
		},
	}

	engine := &goworkflows.Engine{Worker: w, Client: c, Timeout: 10 * time.Second}
	deployRunner, err := engine.DeploymentRunner(wf)
	if err != nil {
		t.Fatalf("DeploymentRunner: %v", err)
	}

	orchestrator := &application.OrchestratorService{
		Records:   recordRepo,
		Instances: instanceRepo,
		Locks:     locks,
		Runner:    runner,
		Workflow:  deployRunner,
		Breaker:   breaker,
		Lease:     time.Hour,
	}
	t.Cleanup(orchestrator.Close)

	versions := &application.VersionService{Versions: versionRepo}
	ctx := context.Background()

	for _, id := range []string{"v1", "v2"} {
		if _, err := versions.Register(ctx, domain.VersionID(id), "sha256:"+id); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	rec, err := orchestrator.Deploy(ctx, application.DeployInput{
		Resource:      "orders-db",
		TargetVersion: "v1",
	})
	if err != nil {
		t.Fatalf("Deploy v1: %v", err)
	}
	if rec.State != domain.DeploymentStateCommitted {
		t.Fatalf("State = %q, want %q", rec.State, domain.DeploymentStateCommitted)
	}

	rec, err = orchestrator.Deploy(ctx, application.DeployInput{
		Resource:      "orders-db",
		TargetVersion: "v2",
	})
	if err != nil {
		t.Fatalf("Deploy v2: %v", err)
	}
	if rec.State != domain.DeploymentStateCommitted {
		t.Fatalf("State = %q, want %q", rec.State, domain.DeploymentStateCommitted)
	}

	active, err := instanceRepo.Active(ctx, "orders-db")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.Version != "v2" {
		t.Errorf("active version = %s, want v2", active.Version)
	}
	current, err := versionRepo.Current(ctx, "orders-db")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.ID != "v2" {
		t.Errorf("current version = %s, want v2", current.ID)
	}
	if len(runner.started) != 2 {
		t.Errorf("started %d instances, want 2", len(runner.started))
	}

	// Workflow errors come back serialized; taxonomy identity must
	// survive the trip so callers can match on the sentinels.
	rec, err = orchestrator.Deploy(ctx, application.DeployInput{
		Resource:      "orders-db",
		TargetVersion: "v9",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Deploy v9 err = %v, want ErrNotFound", err)
	}
	if rec.State != domain.DeploymentStateFailed {
		t.Fatalf("State = %q, want %q", rec.State, domain.DeploymentStateFailed)
	}
}
