package domain

import "time"

// Lock is a lease-based grant of exclusive access to a resource. At most
// one non-expired lock exists per resource at any time. A holder that
// stops renewing loses the lock by expiry; no explicit release is needed
// for crash recovery.
type Lock struct {
	Resource   ResourceID
	Holder     InstanceID
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lease has elapsed at the given time.
func (l Lock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
