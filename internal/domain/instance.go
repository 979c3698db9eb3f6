package domain

import "time"

// InstanceState indicates the lifecycle state of a runtime instance.
type InstanceState string

const (
	InstanceStateStarting InstanceState = "starting"
	InstanceStateRunning  InstanceState = "running"
	InstanceStateStopping InstanceState = "stopping"
	InstanceStateStopped  InstanceState = "stopped"
	InstanceStateFailed   InstanceState = "failed"
)

// Instance is the runtime handle for one running copy of the service.
// At most one instance per resource may be in a non-terminal state.
type Instance struct {
	ID        InstanceID
	Resource  ResourceID
	Version   VersionID
	State     InstanceState
	StartedAt time.Time
}

// Terminal reports whether the instance can no longer hold the exclusive
// resource.
func (s InstanceState) Terminal() bool {
	return s == InstanceStateStopped || s == InstanceStateFailed
}
