package procrunner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
	"github.com/cutover-dev/cutover-server/internal/infrastructure/procrunner"
)

func TestRunner_StartAndStop(t *testing.T) {
	r := &procrunner.Runner{
		Command:      []string{"sleep", "60"},
		GraceTimeout: 2 * time.Second,
	}
	inst := domain.Instance{ID: "i1", Resource: "res", Version: "v1"}

	started, err := r.Start(context.Background(), inst)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.Exited(started) {
		t.Fatal("instance reported exited right after start")
	}

	if err := r.Stop(context.Background(), started); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !r.Exited(started) {
		t.Error("instance still running after Stop")
	}

	// Stop is idempotent.
	if err := r.Stop(context.Background(), started); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestRunner_VersionPlaceholderAndEnv(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	r := &procrunner.Runner{
		Command: []string{"sh", "-c", `echo "$1 $CUTOVER_VERSION $CUTOVER_INSTANCE" > "$0"`, out, "{version}"},
	}
	inst := domain.Instance{ID: "i1", Resource: "res", Version: "v7"}

	started, err := r.Start(context.Background(), inst)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !r.Exited(started) {
		if time.Now().After(deadline) {
			t.Fatal("process did not exit")
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if want := "v7 v7 i1\n"; string(got) != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRunner_ExitedForUnknownInstance(t *testing.T) {
	r := &procrunner.Runner{Command: []string{"sleep", "60"}}
	if !r.Exited(domain.Instance{ID: "never-started"}) {
		t.Error("unknown instance must count as exited")
	}
	// Stopping an unknown instance is a no-op.
	if err := r.Stop(context.Background(), domain.Instance{ID: "never-started"}); err != nil {
		t.Fatalf("Stop unknown: %v", err)
	}
}

func TestRunner_EmptyCommand(t *testing.T) {
	r := &procrunner.Runner{}
	_, err := r.Start(context.Background(), domain.Instance{ID: "i1"})
	if err == nil {
		t.Fatal("Start with no command succeeded")
	}
}

func TestExitCheck(t *testing.T) {
	r := &procrunner.Runner{Command: []string{"sh", "-c", "exit 0"}}
	inst := domain.Instance{ID: "i1", Resource: "res", Version: "v1"}

	started, err := r.Start(context.Background(), inst)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !r.Exited(started) {
		if time.Now().After(deadline) {
			t.Fatal("process did not exit")
		}
		time.Sleep(10 * time.Millisecond)
	}

	check := &procrunner.ExitCheck{Runner: r}
	h, err := check.Probe(context.Background(), started)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if h != domain.HealthFailed {
		t.Errorf("exited process health = %s, want %s", h, domain.HealthFailed)
	}
}

func TestExitCheck_DelegatesWhileRunning(t *testing.T) {
	r := &procrunner.Runner{Command: []string{"sleep", "60"}, GraceTimeout: 2 * time.Second}
	inst := domain.Instance{ID: "i1", Resource: "res", Version: "v1"}

	started, err := r.Start(context.Background(), inst)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = r.Stop(context.Background(), started) })

	// With no inner check a live process counts as healthy.
	check := &procrunner.ExitCheck{Runner: r}
	h, err := check.Probe(context.Background(), started)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if h != domain.HealthHealthy {
		t.Errorf("live process health = %s, want %s", h, domain.HealthHealthy)
	}
}
