package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cutover-dev/cutover-server/internal/domain"
)

// VersionService manages the registry of deployable artifact versions.
type VersionService struct {
	Versions domain.VersionRepository
	Now      func() time.Time
}

// Register records an immutable version. Re-registering the same ID with
// the same digest is a no-op; the same ID with a different digest fails
// with ErrAlreadyExists, since versions never change content.
func (s *VersionService) Register(ctx context.Context, id domain.VersionID, digest string) (domain.Version, error) {
	if id == "" {
		return domain.Version{}, fmt.Errorf("%w: version ID is required", domain.ErrInvalidArgument)
	}

	if existing, err := s.Versions.Get(ctx, id); err == nil {
		if existing.Digest == digest {
			return existing, nil
		}
		return domain.Version{}, fmt.Errorf("%w: version %q registered with different digest", domain.ErrAlreadyExists, id)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Version{}, err
	}

	v := domain.Version{ID: id, Digest: digest, CreatedAt: s.now()}
	if err := s.Versions.Create(ctx, v); err != nil {
		return domain.Version{}, err
	}
	return v, nil
}

// Resolve returns the version for the identifier.
func (s *VersionService) Resolve(ctx context.Context, id domain.VersionID) (domain.Version, error) {
	return s.Versions.Get(ctx, id)
}

// List returns all registered versions.
func (s *VersionService) List(ctx context.Context) ([]domain.Version, error) {
	return s.Versions.List(ctx)
}

// Current returns the committed version for the resource, or ErrNotFound
// before the first successful deployment.
func (s *VersionService) Current(ctx context.Context, resource domain.ResourceID) (domain.Version, error) {
	return s.Versions.Current(ctx, resource)
}

func (s *VersionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
