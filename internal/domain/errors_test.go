package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

func TestRestoreSentinel_RecoversIdentityFromText(t *testing.T) {
	all := []error{
		domain.ErrNotFound,
		domain.ErrAlreadyExists,
		domain.ErrInvalidArgument,
		domain.ErrAlreadyHeld,
		domain.ErrLockExpired,
		domain.ErrStopTimeout,
		domain.ErrHealthTimeout,
		domain.ErrInstanceFailed,
		domain.ErrCircuitOpen,
		domain.ErrCancelled,
	}
	for _, sentinel := range all {
		wrapped := fmt.Errorf("%w: instance i1 on orders-db", sentinel)
		// An engine hands back the message with the identity chain gone.
		flattened := errors.New(wrapped.Error())

		restored := domain.RestoreSentinel(flattened)
		if !errors.Is(restored, sentinel) {
			t.Errorf("RestoreSentinel(%q) does not match %v", flattened, sentinel)
		}
		if restored.Error() != flattened.Error() {
			t.Errorf("message changed: %q -> %q", flattened, restored)
		}
	}
}

func TestRestoreSentinel_PassesThroughIntactErrors(t *testing.T) {
	if got := domain.RestoreSentinel(nil); got != nil {
		t.Fatalf("RestoreSentinel(nil) = %v", got)
	}

	wrapped := fmt.Errorf("%w: lock on orders-db", domain.ErrAlreadyHeld)
	if got := domain.RestoreSentinel(wrapped); got != wrapped {
		t.Errorf("intact error was rewrapped: %v", got)
	}

	plain := errors.New("disk full")
	if got := domain.RestoreSentinel(plain); got != plain {
		t.Errorf("unrelated error changed: %v", got)
	}
}
