// Package procrunner implements [domain.InstanceRunner] by launching a
// local process per instance. It is the default capability for running
// the managed service on the same host as the orchestrator; container or
// cloud runtimes supply their own implementation of the same port.
package procrunner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// Runner starts one process per instance from an argv template. The
// placeholder {version} in any element is replaced by the instance's
// version ID.
type Runner struct {
	Command []string
	Dir     string
	Env     []string

	// GraceTimeout is how long Stop waits after SIGTERM before sending
	// SIGKILL. Zero means 10s.
	GraceTimeout time.Duration

	Logger *slog.Logger

	mu    sync.Mutex
	procs map[domain.InstanceID]*proc
}

type proc struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (r *Runner) Start(ctx context.Context, inst domain.Instance) (domain.Instance, error) {
	if len(r.Command) == 0 {
		return domain.Instance{}, fmt.Errorf("%w: runner command is empty", domain.ErrInvalidArgument)
	}

	argv := make([]string, len(r.Command))
	for i, a := range r.Command {
		argv[i] = strings.ReplaceAll(a, "{version}", string(inst.Version))
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Env = append(cmd.Env,
		"CUTOVER_INSTANCE="+string(inst.ID),
		"CUTOVER_VERSION="+string(inst.Version),
		"CUTOVER_RESOURCE="+string(inst.Resource),
	)

	if err := cmd.Start(); err != nil {
		return domain.Instance{}, fmt.Errorf("start %s: %w", argv[0], err)
	}
	r.logger().Info("instance process started",
		"instance", inst.ID, "version", inst.Version, "pid", cmd.Process.Pid)

	p := &proc{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()

	r.mu.Lock()
	if r.procs == nil {
		r.procs = make(map[domain.InstanceID]*proc)
	}
	r.procs[inst.ID] = p
	r.mu.Unlock()

	return inst, nil
}

// Stop sends SIGTERM and escalates to SIGKILL after the grace timeout.
// Stopping an unknown or already-exited instance is a no-op so that
// rollback and repeated stops stay idempotent.
func (r *Runner) Stop(ctx context.Context, inst domain.Instance) error {
	r.mu.Lock()
	p, ok := r.procs[inst.ID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal instance %s: %w", inst.ID, err)
	}

	grace := r.GraceTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-p.done:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	case <-t.C:
		r.logger().Warn("instance ignored SIGTERM, killing", "instance", inst.ID)
		_ = p.cmd.Process.Kill()
		<-p.done
	}
	return nil
}

// Exited reports whether the instance's process has exited. Unknown
// instances (for example from before an orchestrator restart) count as
// exited.
func (r *Runner) Exited(inst domain.Instance) bool {
	r.mu.Lock()
	p, ok := r.procs[inst.ID]
	r.mu.Unlock()
	if !ok {
		return true
	}
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// ExitCheck wraps a readiness check with process-exit inspection: an
// exited process is a terminal failure regardless of what the inner
// probe would report.
type ExitCheck struct {
	Runner *Runner
	Inner  domain.HealthCheck
}

func (c *ExitCheck) Probe(ctx context.Context, inst domain.Instance) (domain.Health, error) {
	if c.Runner.Exited(inst) {
		return domain.HealthFailed, nil
	}
	if c.Inner == nil {
		return domain.HealthHealthy, nil
	}
	return c.Inner.Probe(ctx, inst)
}
