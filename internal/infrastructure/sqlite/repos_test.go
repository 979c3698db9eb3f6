package sqlite_test

import (
	"testing"

	"github.com/cutover-dev/cutover-server/internal/domain"
	"github.com/cutover-dev/cutover-server/internal/domain/breakerrepotest"
	"github.com/cutover-dev/cutover-server/internal/domain/instancerepotest"
	"github.com/cutover-dev/cutover-server/internal/domain/lockrepotest"
	"github.com/cutover-dev/cutover-server/internal/domain/recordrepotest"
	"github.com/cutover-dev/cutover-server/internal/domain/versionrepotest"
	"github.com/cutover-dev/cutover-server/internal/infrastructure/sqlite"
)

func TestVersionRepo(t *testing.T) {
	versionrepotest.Run(t, func(t *testing.T) domain.VersionRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.VersionRepo{DB: db}
	})
}

func TestLockRepo(t *testing.T) {
	lockrepotest.Run(t, func(t *testing.T) domain.LockRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.LockRepo{DB: db}
	})
}

func TestInstanceRepo(t *testing.T) {
	instancerepotest.Run(t, func(t *testing.T) domain.InstanceRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.InstanceRepo{DB: db}
	})
}

func TestRecordRepo(t *testing.T) {
	recordrepotest.Run(t, func(t *testing.T) domain.DeploymentRecordRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.RecordRepo{DB: db}
	})
}

func TestBreakerRepo(t *testing.T) {
	breakerrepotest.Run(t, func(t *testing.T) domain.BreakerRepository {
		db := sqlite.OpenTestDB(t)
		return &sqlite.BreakerRepo{DB: db}
	})
}
