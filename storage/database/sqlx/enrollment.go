package sqlxrepos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/absence"
	"github.com/trezcool/cadenza/core/enrollment"
)

const enrollmentColumns = `id, student_id, course_id, start_date, end_date, discount_percent, status, created_at, updated_at`

type enrollmentRepository struct {
	store
}

var _ enrollment.Repository = (*enrollmentRepository)(nil)

func NewEnrollmentRepository(db *sqlx.DB) enrollment.Repository {
	return &enrollmentRepository{store{db: db}}
}

func (repo *enrollmentRepository) CreateEnrollment(ctx context.Context, e enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	e.ID = uuid.NewString()
	const q = `INSERT INTO enrollment (` + enrollmentColumns + `)
		VALUES (:id, :student_id, :course_id, :start_date, :end_date, :discount_percent, :status, :created_at, :updated_at)`
	if _, err := repo.namedExec(ctx, exec, q, e); err != nil {
		return enrollment.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return e, nil
}

func (repo *enrollmentRepository) GetEnrollment(ctx context.Context, id string, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	var e enrollment.Enrollment
	if !validID(id) {
		return e, enrollment.ErrNotFound
	}
	if err := repo.get(ctx, exec, &e, `SELECT `+enrollmentColumns+` FROM enrollment WHERE id = ?`, id); err != nil {
		return e, trapNoRows(err, enrollment.ErrNotFound, "finding enrollment")
	}
	return e, nil
}

func (repo *enrollmentRepository) QueryEnrollments(ctx context.Context, filter *enrollment.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]enrollment.Enrollment, error) {
	enrs := make([]enrollment.Enrollment, 0)
	var c conds
	if filter != nil {
		if filter.StudentID != "" {
			if !validID(filter.StudentID) {
				return enrs, nil
			}
			c.add("student_id = ?", filter.StudentID)
		}
		if filter.CourseID != "" {
			if !validID(filter.CourseID) {
				return enrs, nil
			}
			c.add("course_id = ?", filter.CourseID)
		}
		if filter.Status != "" {
			c.add("status = ?", filter.Status)
		}
		if !filter.ActiveTo.IsZero() {
			c.add("start_date <= ?", filter.ActiveTo)
		}
		if !filter.ActiveFrom.IsZero() {
			c.add("end_date IS NULL OR end_date >= ?", filter.ActiveFrom)
		}
	}

	q := `SELECT ` + enrollmentColumns + ` FROM enrollment` + c.String() + orderBy(ordering, "created_at ASC")
	if err := repo.selectAll(ctx, exec, &enrs, q, c.args...); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	return enrs, nil
}

func (repo *enrollmentRepository) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	const q = `UPDATE enrollment SET end_date = :end_date, discount_percent = :discount_percent, status = :status,
		updated_at = :updated_at
		WHERE id = :id`
	res, err := repo.namedExec(ctx, exec, q, e)
	if err := updated(res, err, enrollment.ErrNotFound, "updating enrollment"); err != nil {
		return enrollment.Enrollment{}, err
	}
	return e, nil
}

// Absences

const absenceColumns = `id, enrollment_id, student_id, lesson_date, kind, reason, reported_at, credit_entry_id, created_at`

type absenceRepository struct {
	store
}

var _ absence.Repository = (*absenceRepository)(nil)

func NewAbsenceRepository(db *sqlx.DB) absence.Repository {
	return &absenceRepository{store{db: db}}
}

func (repo *absenceRepository) CreateAbsence(ctx context.Context, a absence.Absence, exec ...core.DBExecutor) (absence.Absence, error) {
	a.ID = uuid.NewString()
	const q = `INSERT INTO absence (` + absenceColumns + `)
		VALUES (:id, :enrollment_id, :student_id, :lesson_date, :kind, :reason, :reported_at, :credit_entry_id, :created_at)`
	if _, err := repo.namedExec(ctx, exec, q, a); err != nil {
		return absence.Absence{}, errors.Wrap(err, "inserting absence")
	}
	return a, nil
}

func (repo *absenceRepository) GetAbsence(ctx context.Context, id string, exec ...core.DBExecutor) (absence.Absence, error) {
	var a absence.Absence
	if !validID(id) {
		return a, absence.ErrNotFound
	}
	if err := repo.get(ctx, exec, &a, `SELECT `+absenceColumns+` FROM absence WHERE id = ?`, id); err != nil {
		return a, trapNoRows(err, absence.ErrNotFound, "finding absence")
	}
	return a, nil
}

func (repo *absenceRepository) LessonAbsence(ctx context.Context, enrollmentID string, lessonDate core.Date, exec ...core.DBExecutor) (absence.Absence, error) {
	var a absence.Absence
	if !validID(enrollmentID) {
		return a, absence.ErrNotFound
	}
	q := `SELECT ` + absenceColumns + ` FROM absence WHERE enrollment_id = ? AND lesson_date = ?`
	if err := repo.get(ctx, exec, &a, q, enrollmentID, lessonDate); err != nil {
		return a, trapNoRows(err, absence.ErrNotFound, "finding lesson absence")
	}
	return a, nil
}

func (repo *absenceRepository) QueryAbsences(ctx context.Context, filter *absence.QueryFilter, exec ...core.DBExecutor) ([]absence.Absence, error) {
	absences := make([]absence.Absence, 0)
	var c conds
	if filter != nil {
		if filter.StudentID != "" {
			if !validID(filter.StudentID) {
				return absences, nil
			}
			c.add("student_id = ?", filter.StudentID)
		}
		if filter.EnrollmentID != "" {
			if !validID(filter.EnrollmentID) {
				return absences, nil
			}
			c.add("enrollment_id = ?", filter.EnrollmentID)
		}
		if !filter.From.IsZero() {
			c.add("lesson_date >= ?", filter.From)
		}
		if !filter.To.IsZero() {
			c.add("lesson_date <= ?", filter.To)
		}
	}

	q := `SELECT ` + absenceColumns + ` FROM absence` + c.String() + ` ORDER BY lesson_date ASC, created_at ASC`
	if err := repo.selectAll(ctx, exec, &absences, q, c.args...); err != nil {
		return nil, errors.Wrap(err, "querying absences")
	}
	return absences, nil
}

func (repo *absenceRepository) DeleteAbsence(ctx context.Context, id string, exec ...core.DBExecutor) error {
	if !validID(id) {
		return absence.ErrNotFound
	}
	res, err := repo.exec(ctx, exec, `DELETE FROM absence WHERE id = ?`, id)
	return updated(res, err, absence.ErrNotFound, "deleting absence")
}
