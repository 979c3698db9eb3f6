package domain

import "context"

// InstanceRunner is the port through which the deployment pipeline starts
// and stops service instances. The embedding system supplies the real
// implementation (a process launcher, a container runtime, a cloud task
// API); tests supply fakes.
type InstanceRunner interface {
	// Start launches an instance of the given version. The instance ID
	// is chosen by the caller so that the exclusive lock can be acquired
	// under that identity before the process touches the resource.
	Start(ctx context.Context, inst Instance) (Instance, error)

	// Stop requests a graceful stop. Stop returns once the stop has been
	// issued; callers observe completion through lock release or health.
	Stop(ctx context.Context, inst Instance) error
}
