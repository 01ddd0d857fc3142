package pricing

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/course"
)

var ErrNotFound = core.NewNotFoundError("pricing version")

type Repository interface {
	// CurrentVersion returns the version flagged current for a course type.
	CurrentVersion(ctx context.Context, courseTypeID string, exec ...core.DBExecutor) (Version, error)
	// QueryVersions returns all the versions of a course type, latest ValidFrom first.
	QueryVersions(ctx context.Context, courseTypeID string, exec ...core.DBExecutor) ([]Version, error)
	// VersionAt returns the version covering date.
	VersionAt(ctx context.Context, courseTypeID string, date core.Date, exec ...core.DBExecutor) (Version, error)
	// CloseVersion sets the version's ValidTo & clears its current flag.
	CloseVersion(ctx context.Context, id string, validTo core.Date, exec ...core.DBExecutor) error
	CreateVersion(ctx context.Context, v Version, exec ...core.DBExecutor) (Version, error)
}

// Cache keeps the current version of course types around.
type Cache interface {
	// GetCurrent returns ok false on cache misses.
	GetCurrent(ctx context.Context, courseTypeID string) (v Version, ok bool, err error)
	SetCurrent(ctx context.Context, v Version) error
	Invalidate(ctx context.Context, courseTypeID string) error
}

// NopCache never caches anything.
type NopCache struct{}

func (NopCache) GetCurrent(context.Context, string) (Version, bool, error) { return Version{}, false, nil }
func (NopCache) SetCurrent(context.Context, Version) error                 { return nil }
func (NopCache) Invalidate(context.Context, string) error                  { return nil }

// Service manages the price lists of course types.
type Service struct {
	db          core.Transactor
	repo        Repository
	courseTypes course.Repository
	cache       Cache
	logger      core.Logger
}

func NewService(db core.Transactor, repo Repository, courseTypes course.Repository, cache Cache, logger core.Logger) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{db: db, repo: repo, courseTypes: courseTypes, cache: cache, logger: logger}
}

// CreateVersion closes the course type's current version (if any) the day the new one starts,
// and makes the new one current.
func (svc *Service) CreateVersion(ctx context.Context, courseTypeID string, nv NewVersion) (Version, error) {
	var ver Version
	err := svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		if _, err := svc.courseTypes.GetCourseType(ctx, courseTypeID, exec); err != nil {
			return err
		}

		current, err := svc.repo.CurrentVersion(ctx, courseTypeID, exec)
		switch {
		case err == nil:
			if !nv.ValidFrom.After(current.ValidFrom) {
				return core.NewFieldError("valid_from", fmt.Errorf("must be after %s, the start of the current version", current.ValidFrom))
			}
			if err := svc.repo.CloseVersion(ctx, current.ID, nv.ValidFrom, exec); err != nil {
				return errors.Wrap(err, "closing current version")
			}
		case !core.IsNotFound(err):
			return err
		}

		ver, err = svc.repo.CreateVersion(ctx, Version{
			CourseTypeID: courseTypeID,
			ChildPrice:   nv.ChildPrice,
			AdultPrice:   nv.AdultPrice,
			AdultAge:     nv.AdultAge,
			ValidFrom:    nv.ValidFrom,
			IsCurrent:    true,
			Note:         nv.Note,
			CreatedAt:    core.NowFunc().UTC(),
		}, exec)
		return err
	})
	if err != nil {
		return ver, err
	}

	if err := svc.cache.Invalidate(ctx, courseTypeID); err != nil {
		svc.logger.Warn("pricing cache invalidation failed", err, map[string]interface{}{"course_type_id": courseTypeID})
	}
	return ver, nil
}

// Current returns the course type's current version.
func (svc *Service) Current(ctx context.Context, courseTypeID string) (Version, error) {
	ver, ok, err := svc.cache.GetCurrent(ctx, courseTypeID)
	if err != nil {
		svc.logger.Warn("pricing cache read failed", err, map[string]interface{}{"course_type_id": courseTypeID})
	}
	if ok {
		return ver, nil
	}

	ver, err = svc.repo.CurrentVersion(ctx, courseTypeID)
	if err != nil {
		return ver, err
	}
	if err := svc.cache.SetCurrent(ctx, ver); err != nil {
		svc.logger.Warn("pricing cache write failed", err, map[string]interface{}{"course_type_id": courseTypeID})
		return ver, nil
	}

	// a version created since our read may have invalidated the cache before we filled it
	latest, err := svc.repo.CurrentVersion(ctx, courseTypeID)
	if err != nil || latest.ID != ver.ID {
		if err := svc.cache.Invalidate(ctx, courseTypeID); err != nil {
			svc.logger.Warn("pricing cache invalidation failed", err, map[string]interface{}{"course_type_id": courseTypeID})
		}
	}
	if err == nil {
		ver = latest
	}
	return ver, nil
}

// History returns all the versions of a course type, latest first.
func (svc *Service) History(ctx context.Context, courseTypeID string) ([]Version, error) {
	return svc.repo.QueryVersions(ctx, courseTypeID)
}

// PriceAt returns the version that applies on date.
func (svc *Service) PriceAt(ctx context.Context, courseTypeID string, date core.Date, exec ...core.DBExecutor) (Version, error) {
	return svc.repo.VersionAt(ctx, courseTypeID, date, exec...)
}
