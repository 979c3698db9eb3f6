// Command cutover deploys a singleton, exclusive-access service between
// versions: stop the old instance, take over the data lock, start the new
// version, verify health, and commit or roll back.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cutover-dev/cutover-server/internal/application"
	"github.com/cutover-dev/cutover-server/internal/config"
	"github.com/cutover-dev/cutover-server/internal/domain"
	"github.com/cutover-dev/cutover-server/internal/infrastructure/healthcheck"
	"github.com/cutover-dev/cutover-server/internal/infrastructure/procrunner"
	"github.com/cutover-dev/cutover-server/internal/infrastructure/sqlite"
	"github.com/cutover-dev/cutover-server/internal/infrastructure/syncworkflow"
)

// Exit codes: the caller must be able to distinguish a rollback (retry
// may help) from a hard failure (operator needed) from an open circuit.
const (
	exitOK         = 0
	exitError      = 1
	exitRolledBack = 2
	exitFailed     = 3
	exitCircuit    = 4
)

type app struct {
	cfg          *config.Config
	versions     *application.VersionService
	orchestrator *application.OrchestratorService
}

func newApp(cfg *config.Config) (*app, func(), error) {
	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}

	versionRepo := &sqlite.VersionRepo{DB: db}
	lockRepo := &sqlite.LockRepo{DB: db}
	instanceRepo := &sqlite.InstanceRepo{DB: db}
	recordRepo := &sqlite.RecordRepo{DB: db}
	breakerRepo := &sqlite.BreakerRepo{DB: db}

	locks := &domain.LockManager{Locks: lockRepo}
	breaker := &domain.CircuitBreaker{
		Breakers:               breakerRepo,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	}
	runner := &procrunner.Runner{
		Command: cfg.InstanceCommand,
		Dir:     cfg.InstanceDir,
	}

	var inner domain.HealthCheck
	switch {
	case cfg.HealthURL != "":
		inner = &healthcheck.HTTP{URL: cfg.HealthURL}
	case cfg.HealthAddress != "":
		inner = &healthcheck.TCP{Address: cfg.HealthAddress}
	}
	monitor := &domain.HealthMonitor{Check: &procrunner.ExitCheck{Runner: runner, Inner: inner}}

	wf := &domain.DeploymentWorkflow{
		Records:   recordRepo,
		Versions:  versionRepo,
		Instances: instanceRepo,
		Locks:     locks,
		Breaker:   breaker,
		Runner:    runner,
		Health:    monitor,
		Config: domain.MachineConfig{
			StopTimeout:      cfg.StopTimeout,
			LeaseDuration:    cfg.LeaseDuration,
			LockRetryLimit:   cfg.LockRetryLimit,
			LockRetryBackoff: cfg.LockRetryBackoff,
			HealthTimeout:    cfg.HealthTimeout,
			HealthInterval:   cfg.HealthInterval,
		},
	}

	engine := &syncworkflow.Engine{}
	deployRunner, err := engine.DeploymentRunner(wf)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	orchestrator := &application.OrchestratorService{
		Records:   recordRepo,
		Instances: instanceRepo,
		Locks:     locks,
		Runner:    runner,
		Workflow:  deployRunner,
		Breaker:   breaker,
		Lease:     cfg.LeaseDuration,
	}

	a := &app{
		cfg:          cfg,
		versions:     &application.VersionService{Versions: versionRepo},
		orchestrator: orchestrator,
	}
	cleanup := func() {
		orchestrator.Close()
		db.Close()
	}
	return a, cleanup, nil
}

func main() {
	cfg := config.Load()

	var exitCode int
	root := &cobra.Command{
		Use:           "cutover",
		Short:         "singleton-service deployment orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var idempotencyKey string
	deployCmd := &cobra.Command{
		Use:   "deploy <version>",
		Short: "deploy a registered version to the managed resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := a.orchestrator.Deploy(cmd.Context(), application.DeployInput{
				Resource:       domain.ResourceID(cfg.Resource),
				TargetVersion:  domain.VersionID(args[0]),
				IdempotencyKey: idempotencyKey,
			})
			printRecord(rec)
			if err != nil {
				exitCode = deployExitCode(rec, err)
				return err
			}
			return nil
		},
	}
	deployCmd.Flags().StringVar(&idempotencyKey, "key", "", "idempotency key for the request")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "show the last deployment record for the managed resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := a.orchestrator.Status(cmd.Context(), domain.ResourceID(cfg.Resource))
			if err != nil {
				return err
			}
			printRecord(out.Record)
			return nil
		},
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "stop the committed instance and release the lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return a.orchestrator.Rollback(cmd.Context(), domain.ResourceID(cfg.Resource))
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset <version>",
		Short: "reset the circuit breaker for a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return a.orchestrator.ResetCircuit(cmd.Context(),
				domain.ResourceID(cfg.Resource), domain.VersionID(args[0]))
		},
	}

	var digest string
	registerCmd := &cobra.Command{
		Use:   "register <version>",
		Short: "register an immutable artifact version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			v, err := a.versions.Register(cmd.Context(), domain.VersionID(args[0]), digest)
			if err != nil {
				return err
			}
			fmt.Printf("registered %s (digest %s)\n", v.ID, v.Digest)
			return nil
		},
	}
	registerCmd.Flags().StringVar(&digest, "digest", "", "content digest pinning the version")

	versionsCmd := &cobra.Command{
		Use:   "versions",
		Short: "list registered versions and the current one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			vs, err := a.versions.List(cmd.Context())
			if err != nil {
				return err
			}
			current, err := a.versions.Current(cmd.Context(), domain.ResourceID(cfg.Resource))
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			for _, v := range vs {
				marker := " "
				if v.ID == current.ID {
					marker = "*"
				}
				fmt.Printf("%s %s\t%s\t%s\n", marker, v.ID, v.Digest, v.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	root.AddCommand(deployCmd, statusCmd, rollbackCmd, resetCmd, registerCmd, versionsCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		slog.Error("cutover", "error", err)
		if exitCode == exitOK {
			exitCode = exitError
		}
	}
	os.Exit(exitCode)
}

func deployExitCode(rec domain.DeploymentRecord, err error) int {
	if errors.Is(err, domain.ErrCircuitOpen) {
		return exitCircuit
	}
	switch rec.State {
	case domain.DeploymentStateRolledBack:
		return exitRolledBack
	case domain.DeploymentStateFailed:
		return exitFailed
	}
	return exitError
}

func printRecord(rec domain.DeploymentRecord) {
	if rec.ID == "" {
		return
	}
	fmt.Printf("deployment %s: %s -> %s [%s]\n",
		rec.ID, rec.Request.Resource, rec.Request.TargetVersion, rec.State)
	for _, tr := range rec.Transitions {
		fmt.Printf("  %s  %s -> %s  %s\n",
			tr.At.Format("15:04:05.000"), tr.From, tr.To, tr.Reason)
	}
}
