package inmemdb

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/course"
	"github.com/trezcool/cadenza/core/pricing"
)

var (
	courseTypeColumns = map[string]comparer[course.CourseType]{
		"name":           func(a, b course.CourseType) int { return cmpString(a.Name, b.Name) },
		"lesson_minutes": func(a, b course.CourseType) int { return cmpInt(a.LessonMinutes, b.LessonMinutes) },
		"created_at":     func(a, b course.CourseType) int { return cmpTime(a.CreatedAt, b.CreatedAt) },
	}
	courseColumns = map[string]comparer[course.Course]{
		"name":       func(a, b course.Course) int { return cmpString(a.Name, b.Name) },
		"weekday":    func(a, b course.Course) int { return cmpInt(int(a.Weekday), int(b.Weekday)) },
		"start_time": func(a, b course.Course) int { return cmpInt(int(a.Start), int(b.Start)) },
		"room":       func(a, b course.Course) int { return cmpString(a.Room, b.Room) },
		"created_at": func(a, b course.Course) int { return cmpTime(a.CreatedAt, b.CreatedAt) },
	}
)

type courseRepository struct {
	db *DB
}

func NewCourseRepository(db *DB) course.Repository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) CheckCourseTypeName(_ context.Context, name, excludedID string, _ ...core.DBExecutor) error {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, ct := range repo.db.courseTypes.all() {
		if ct.ID != excludedID && strings.EqualFold(ct.Name, name) {
			return course.ErrCourseTypeNameExists
		}
	}
	return nil
}

func (repo *courseRepository) CreateCourseType(_ context.Context, ct course.CourseType, exec ...core.DBExecutor) (course.CourseType, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	ct.ID = uuid.NewString()
	repo.db.courseTypes.insert(repo.db.journal(exec), ct.ID, ct)
	return ct, nil
}

func (repo *courseRepository) GetCourseType(_ context.Context, id string, _ ...core.DBExecutor) (course.CourseType, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if ct, ok := repo.db.courseTypes.get(id); ok {
		return ct, nil
	}
	return course.CourseType{}, course.ErrCourseTypeNotFound
}

func (repo *courseRepository) QueryCourseTypes(_ context.Context, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]course.CourseType, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	cts := repo.db.courseTypes.all()
	sortRows(cts, ordering, courseTypeColumns, core.DBOrdering{Field: "name", Ascending: true})
	return cts, nil
}

func (repo *courseRepository) UpdateCourseType(_ context.Context, ct course.CourseType, exec ...core.DBExecutor) (course.CourseType, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if !repo.db.courseTypes.update(repo.db.journal(exec), ct.ID, ct) {
		return course.CourseType{}, course.ErrCourseTypeNotFound
	}
	return ct, nil
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	c.ID = uuid.NewString()
	repo.db.courses.insert(repo.db.journal(exec), c.ID, c)
	return c, nil
}

func (repo *courseRepository) GetCourse(_ context.Context, id string, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if c, ok := repo.db.courses.get(id); ok {
		return c, nil
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) GetCourses(_ context.Context, ids []string, _ ...core.DBExecutor) ([]course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	courses := make([]course.Course, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if c, ok := repo.db.courses.get(id); ok {
			courses = append(courses, c)
		}
	}
	return courses, nil
}

func (repo *courseRepository) QueryCourses(_ context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	courses := repo.db.courses.filter(func(c course.Course) bool {
		if filter == nil {
			return true
		}
		if filter.Search != "" && !containsFold(c.Name, filter.Search) && !containsFold(c.Room, filter.Search) {
			return false
		}
		if filter.CourseTypeID != "" && c.CourseTypeID != filter.CourseTypeID {
			return false
		}
		if filter.TeacherID != "" && c.TeacherID.String != filter.TeacherID {
			return false
		}
		if filter.Weekday != nil && c.Weekday != *filter.Weekday {
			return false
		}
		return filter.IsActive == nil || c.IsActive == *filter.IsActive
	})
	sortRows(courses, ordering, courseColumns,
		core.DBOrdering{Field: "weekday", Ascending: true}, core.DBOrdering{Field: "start_time", Ascending: true})
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(_ context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if !repo.db.courses.update(repo.db.journal(exec), c.ID, c) {
		return course.Course{}, course.ErrNotFound
	}
	return c, nil
}

// Pricing versions

type pricingRepository struct {
	db *DB
}

func NewPricingRepository(db *DB) pricing.Repository {
	return &pricingRepository{db: db}
}

func (repo *pricingRepository) CurrentVersion(_ context.Context, courseTypeID string, _ ...core.DBExecutor) (pricing.Version, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, v := range repo.db.versions.all() {
		if v.CourseTypeID == courseTypeID && v.IsCurrent {
			return v, nil
		}
	}
	return pricing.Version{}, pricing.ErrNotFound
}

func (repo *pricingRepository) QueryVersions(_ context.Context, courseTypeID string, _ ...core.DBExecutor) ([]pricing.Version, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	versions := repo.db.versions.filter(func(v pricing.Version) bool { return v.CourseTypeID == courseTypeID })
	sortRows(versions, []core.DBOrdering{{Field: "valid_from"}}, map[string]comparer[pricing.Version]{
		"valid_from": func(a, b pricing.Version) int { return cmpDate(a.ValidFrom, b.ValidFrom) },
	})
	return versions, nil
}

func (repo *pricingRepository) VersionAt(_ context.Context, courseTypeID string, date core.Date, _ ...core.DBExecutor) (pricing.Version, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, v := range repo.db.versions.all() {
		if v.CourseTypeID == courseTypeID && v.Covers(date) {
			return v, nil
		}
	}
	return pricing.Version{}, pricing.ErrNotFound
}

func (repo *pricingRepository) CloseVersion(_ context.Context, id string, validTo core.Date, exec ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	v, ok := repo.db.versions.get(id)
	if !ok {
		return pricing.ErrNotFound
	}
	v.ValidTo = core.NullDateFrom(validTo)
	v.IsCurrent = false
	repo.db.versions.update(repo.db.journal(exec), id, v)
	return nil
}

func (repo *pricingRepository) CreateVersion(_ context.Context, v pricing.Version, exec ...core.DBExecutor) (pricing.Version, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	v.ID = uuid.NewString()
	repo.db.versions.insert(repo.db.journal(exec), v.ID, v)
	return v, nil
}
