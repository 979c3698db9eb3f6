package domain

import "time"

// DeploymentState is the state of a deployment run. Terminal states are
// committed, rolled_back, and failed.
type DeploymentState string

const (
	DeploymentStateIdle          DeploymentState = "idle"
	DeploymentStateStoppingOld   DeploymentState = "stopping_old"
	DeploymentStateAcquiringLock DeploymentState = "acquiring_lock"
	DeploymentStateStartingNew   DeploymentState = "starting_new"
	DeploymentStateVerifying     DeploymentState = "verifying"
	DeploymentStateCommitted     DeploymentState = "committed"
	DeploymentStateRolledBack    DeploymentState = "rolled_back"
	DeploymentStateFailed        DeploymentState = "failed"
)

// Terminal reports whether the deployment run has resolved.
func (s DeploymentState) Terminal() bool {
	switch s {
	case DeploymentStateCommitted, DeploymentStateRolledBack, DeploymentStateFailed:
		return true
	}
	return false
}

// DeploymentRequest is the caller's desired-version change. It is never
// mutated after creation.
type DeploymentRequest struct {
	Resource       ResourceID
	TargetVersion  VersionID
	IdempotencyKey string
	RequestedAt    time.Time
}

// Transition is one entry in a deployment record's audit trail.
type Transition struct {
	From   DeploymentState
	To     DeploymentState
	At     time.Time
	Reason string
}

// DeploymentRecord is the append-only audit trail of one deployment run.
// It is retained until superseded by the next successful deployment and
// carries enough detail for post-mortem without log correlation.
type DeploymentRecord struct {
	ID          RecordID
	Request     DeploymentRequest
	State       DeploymentState
	Transitions []Transition
}

// LastReason returns the reason of the most recent transition, or "" if
// none have been recorded.
func (r DeploymentRecord) LastReason() string {
	if len(r.Transitions) == 0 {
		return ""
	}
	return r.Transitions[len(r.Transitions)-1].Reason
}
