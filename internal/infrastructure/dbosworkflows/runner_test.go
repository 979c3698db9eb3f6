package dbosworkflows_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cutover-dev/cutover-server/internal/application"
	"github.com/cutover-dev/cutover-server/internal/domain"
	"github.com/cutover-dev/cutover-server/internal/infrastructure/dbosworkflows"
	"github.com/cutover-dev/cutover-server/internal/infrastructure/sqlite"
)

func startPostgres(t *testing.T) string {
	t.Helper()

	// Ryuk (the reaper) requires a Docker bridge network that does not
	// exist on Podman. We handle cleanup via t.Cleanup instead.
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("dbos_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get postgres connection string: %v", err)
	}
	return connStr
}

// stubRunner releases the instance's lock on stop, the way a cleanly
// terminating process does.
type stubRunner struct {
	mu    sync.Mutex
	locks domain.LockRepository
}

func (r *stubRunner) Start(_ context.Context, inst domain.Instance) (domain.Instance, error) {
	return inst, nil
}

func (r *stubRunner) Stop(ctx context.Context, inst domain.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locks.Release(ctx, inst.Resource, inst.ID)
}

type healthyCheck struct{}

func (healthyCheck) Probe(_ context.Context, _ domain.Instance) (domain.Health, error) {
	return domain.HealthHealthy, nil
}

func TestDeployment_DBOS(t *testing.T) {
	connStr := startPostgres(t)

	ctx := context.Background()

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		AppName:     "cutover-dbos-test",
		DatabaseURL: connStr,
	})
	if err != nil {
		t.Fatalf("NewDBOSContext: %v", err)
	}

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

	engine := &dbosworkflows.Engine{DBOSCtx: dbosCtx}
	deployRunner, err := engine.DeploymentRunner(wf)
	if err != nil {
		t.Fatalf("DeploymentRunner: %v", err)
	}

	if err := dbos.Launch(dbosCtx); err != nil {
		t.Fatalf("dbos.Launch: %v", err)
	}
	t.Cleanup(func() { dbos.Shutdown(dbosCtx, 5*time.Second) })

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
	if _, err := versions.Register(ctx, "v1", "sha256:v1"); err != nil {
		t.Fatalf("register v1: %v", err)
	}

	rec, err := orchestrator.Deploy(ctx, application.DeployInput{
		Resource:      "orders-db",
		TargetVersion: "v1",
	})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if rec.State != domain.DeploymentStateCommitted {
		t.Fatalf("State = %q, want %q", rec.State, domain.DeploymentStateCommitted)
	}

	current, err := versionRepo.Current(ctx, "orders-db")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.ID != "v1" {
		t.Errorf("current version = %s, want v1", current.ID)
	}
}
