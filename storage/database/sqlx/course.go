package sqlxrepos

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/course"
	"github.com/trezcool/cadenza/core/pricing"
)

// Course types

const courseTypeColumns = `id, name, description, lesson_minutes, created_at, updated_at`

type courseRepository struct {
	store
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *sqlx.DB) course.Repository {
	return &courseRepository{store{db: db}}
}

func (repo *courseRepository) CheckCourseTypeName(ctx context.Context, name, excludedID string, exec ...core.DBExecutor) error {
	var c conds
	c.add("LOWER(name) = ?", strings.ToLower(name))
	if excludedID != "" {
		c.add("id <> ?", excludedID)
	}
	var taken bool
	if err := repo.get(ctx, exec, &taken, `SELECT EXISTS (SELECT 1 FROM course_type`+c.String()+`)`, c.args...); err != nil {
		return errors.Wrap(err, "checking course type name")
	}
	if taken {
		return course.ErrCourseTypeNameExists
	}
	return nil
}

func (repo *courseRepository) CreateCourseType(ctx context.Context, ct course.CourseType, exec ...core.DBExecutor) (course.CourseType, error) {
	ct.ID = uuid.NewString()
	const q = `INSERT INTO course_type (` + courseTypeColumns + `)
		VALUES (:id, :name, :description, :lesson_minutes, :created_at, :updated_at)`
	if _, err := repo.namedExec(ctx, exec, q, ct); err != nil {
		return course.CourseType{}, errors.Wrap(err, "inserting course type")
	}
	return ct, nil
}

func (repo *courseRepository) GetCourseType(ctx context.Context, id string, exec ...core.DBExecutor) (course.CourseType, error) {
	var ct course.CourseType
	if !validID(id) {
		return ct, course.ErrCourseTypeNotFound
	}
	if err := repo.get(ctx, exec, &ct, `SELECT `+courseTypeColumns+` FROM course_type WHERE id = ?`, id); err != nil {
		return ct, trapNoRows(err, course.ErrCourseTypeNotFound, "finding course type")
	}
	return ct, nil
}

func (repo *courseRepository) QueryCourseTypes(ctx context.Context, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]course.CourseType, error) {
	cts := make([]course.CourseType, 0)
	q := `SELECT ` + courseTypeColumns + ` FROM course_type` + orderBy(ordering, "name ASC")
	if err := repo.selectAll(ctx, exec, &cts, q); err != nil {
		return nil, errors.Wrap(err, "querying course types")
	}
	return cts, nil
}

func (repo *courseRepository) UpdateCourseType(ctx context.Context, ct course.CourseType, exec ...core.DBExecutor) (course.CourseType, error) {
	const q = `UPDATE course_type SET name = :name, description = :description, lesson_minutes = :lesson_minutes,
		updated_at = :updated_at
		WHERE id = :id`
	res, err := repo.namedExec(ctx, exec, q, ct)
	if err := updated(res, err, course.ErrCourseTypeNotFound, "updating course type"); err != nil {
		return course.CourseType{}, err
	}
	return ct, nil
}

// Courses

const courseColumns = `id, course_type_id, teacher_id, name, weekday, start_time, end_time, frequency, parity,
	room, capacity, is_active, created_at, updated_at`

func (repo *courseRepository) CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	c.ID = uuid.NewString()
	const q = `INSERT INTO course (` + courseColumns + `)
		VALUES (:id, :course_type_id, :teacher_id, :name, :weekday, :start_time, :end_time, :frequency, :parity,
			:room, :capacity, :is_active, :created_at, :updated_at)`
	if _, err := repo.namedExec(ctx, exec, q, c); err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return c, nil
}

func (repo *courseRepository) GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (course.Course, error) {
	var c course.Course
	if !validID(id) {
		return c, course.ErrNotFound
	}
	if err := repo.get(ctx, exec, &c, `SELECT `+courseColumns+` FROM course WHERE id = ?`, id); err != nil {
		return c, trapNoRows(err, course.ErrNotFound, "finding course")
	}
	return c, nil
}

func (repo *courseRepository) GetCourses(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]course.Course, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	courses := make([]course.Course, 0, len(valid))
	if len(valid) == 0 {
		return courses, nil
	}
	if err := repo.selectAll(ctx, exec, &courses, `SELECT `+courseColumns+` FROM course WHERE id = ANY(?)`, pq.Array(valid)); err != nil {
		return nil, errors.Wrap(err, "getting courses")
	}
	return courses, nil
}

func (repo *courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]course.Course, error) {
	var c conds
	if filter != nil {
		if filter.Search != "" {
			val := likeArg(filter.Search)
			c.add("name ILIKE ? OR room ILIKE ?", val, val)
		}
		if filter.CourseTypeID != "" {
			if !validID(filter.CourseTypeID) {
				return []course.Course{}, nil
			}
			c.add("course_type_id = ?", filter.CourseTypeID)
		}
		if filter.TeacherID != "" {
			if !validID(filter.TeacherID) {
				return []course.Course{}, nil
			}
			c.add("teacher_id = ?", filter.TeacherID)
		}
		if filter.Weekday != nil {
			c.add("weekday = ?", int(*filter.Weekday))
		}
		if filter.IsActive != nil {
			c.add("is_active = ?", *filter.IsActive)
		}
	}

	courses := make([]course.Course, 0)
	q := `SELECT ` + courseColumns + ` FROM course` + c.String() + orderBy(ordering, "weekday ASC, start_time ASC")
	if err := repo.selectAll(ctx, exec, &courses, q, c.args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	const q = `UPDATE course SET teacher_id = :teacher_id, name = :name, weekday = :weekday, start_time = :start_time,
		end_time = :end_time, frequency = :frequency, parity = :parity, room = :room, capacity = :capacity,
		is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	res, err := repo.namedExec(ctx, exec, q, c)
	if err := updated(res, err, course.ErrNotFound, "updating course"); err != nil {
		return course.Course{}, err
	}
	return c, nil
}

// Pricing versions

const versionColumns = `id, course_type_id, child_price, adult_price, adult_age, valid_from, valid_to, is_current,
	note, created_at`

type pricingRepository struct {
	store
}

var _ pricing.Repository = (*pricingRepository)(nil)

func NewPricingRepository(db *sqlx.DB) pricing.Repository {
	return &pricingRepository{store{db: db}}
}

func (repo *pricingRepository) CurrentVersion(ctx context.Context, courseTypeID string, exec ...core.DBExecutor) (pricing.Version, error) {
	var v pricing.Version
	if !validID(courseTypeID) {
		return v, pricing.ErrNotFound
	}
	q := `SELECT ` + versionColumns + ` FROM pricing_version WHERE course_type_id = ? AND is_current`
	if err := repo.get(ctx, exec, &v, q, courseTypeID); err != nil {
		return v, trapNoRows(err, pricing.ErrNotFound, "finding current pricing version")
	}
	return v, nil
}

func (repo *pricingRepository) QueryVersions(ctx context.Context, courseTypeID string, exec ...core.DBExecutor) ([]pricing.Version, error) {
	versions := make([]pricing.Version, 0)
	if !validID(courseTypeID) {
		return versions, nil
	}
	q := `SELECT ` + versionColumns + ` FROM pricing_version WHERE course_type_id = ? ORDER BY valid_from DESC`
	if err := repo.selectAll(ctx, exec, &versions, q, courseTypeID); err != nil {
		return nil, errors.Wrap(err, "querying pricing versions")
	}
	return versions, nil
}

func (repo *pricingRepository) VersionAt(ctx context.Context, courseTypeID string, date core.Date, exec ...core.DBExecutor) (pricing.Version, error) {
	var v pricing.Version
	if !validID(courseTypeID) {
		return v, pricing.ErrNotFound
	}
	q := `SELECT ` + versionColumns + ` FROM pricing_version
		WHERE course_type_id = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)
		ORDER BY valid_from DESC LIMIT 1`
	if err := repo.get(ctx, exec, &v, q, courseTypeID, date, date); err != nil {
		return v, trapNoRows(err, pricing.ErrNotFound, "finding pricing version")
	}
	return v, nil
}

func (repo *pricingRepository) CloseVersion(ctx context.Context, id string, validTo core.Date, exec ...core.DBExecutor) error {
	res, err := repo.exec(ctx, exec, `UPDATE pricing_version SET valid_to = ?, is_current = FALSE WHERE id = ?`, validTo, id)
	return updated(res, err, pricing.ErrNotFound, "closing pricing version")
}

func (repo *pricingRepository) CreateVersion(ctx context.Context, v pricing.Version, exec ...core.DBExecutor) (pricing.Version, error) {
	v.ID = uuid.NewString()
	const q = `INSERT INTO pricing_version (` + versionColumns + `)
		VALUES (:id, :course_type_id, :child_price, :adult_price, :adult_age, :valid_from, :valid_to, :is_current,
			:note, :created_at)`
	if _, err := repo.namedExec(ctx, exec, q, v); err != nil {
		return pricing.Version{}, errors.Wrap(err, "inserting pricing version")
	}
	return v, nil
}
