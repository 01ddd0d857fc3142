package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/absence"
	"github.com/trezcool/cadenza/core/enrollment"
)

var enrollmentColumns = map[string]comparer[enrollment.Enrollment]{
	"start_date": func(a, b enrollment.Enrollment) int { return cmpDate(a.StartDate, b.StartDate) },
	"end_date":   func(a, b enrollment.Enrollment) int { return cmpNullDate(a.EndDate, b.EndDate) },
	"status":     func(a, b enrollment.Enrollment) int { return cmpString(string(a.Status), string(b.Status)) },
	"created_at": func(a, b enrollment.Enrollment) int { return cmpTime(a.CreatedAt, b.CreatedAt) },
}

type enrollmentRepository struct {
	db *DB
}

func NewEnrollmentRepository(db *DB) enrollment.Repository {
	return &enrollmentRepository{db: db}
}

func (repo *enrollmentRepository) CreateEnrollment(_ context.Context, e enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	e.ID = uuid.NewString()
	repo.db.enrollments.insert(repo.db.journal(exec), e.ID, e)
	return e, nil
}

func (repo *enrollmentRepository) GetEnrollment(_ context.Context, id string, _ ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if e, ok := repo.db.enrollments.get(id); ok {
		return e, nil
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) QueryEnrollments(_ context.Context, filter *enrollment.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]enrollment.Enrollment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	enrs := repo.db.enrollments.filter(filter.Matches)
	sortRows(enrs, ordering, enrollmentColumns, core.DBOrdering{Field: "created_at", Ascending: true})
	return enrs, nil
}

func (repo *enrollmentRepository) UpdateEnrollment(_ context.Context, e enrollment.Enrollment, exec ...core.DBExecutor) (enrollment.Enrollment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if !repo.db.enrollments.update(repo.db.journal(exec), e.ID, e) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	return e, nil
}

// Absences

type absenceRepository struct {
	db *DB
}

func NewAbsenceRepository(db *DB) absence.Repository {
	return &absenceRepository{db: db}
}

func (repo *absenceRepository) CreateAbsence(_ context.Context, a absence.Absence, exec ...core.DBExecutor) (absence.Absence, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	a.ID = uuid.NewString()
	repo.db.absences.insert(repo.db.journal(exec), a.ID, a)
	return a, nil
}

func (repo *absenceRepository) GetAbsence(_ context.Context, id string, _ ...core.DBExecutor) (absence.Absence, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if a, ok := repo.db.absences.get(id); ok {
		return a, nil
	}
	return absence.Absence{}, absence.ErrNotFound
}

func (repo *absenceRepository) LessonAbsence(_ context.Context, enrollmentID string, lessonDate core.Date, _ ...core.DBExecutor) (absence.Absence, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, a := range repo.db.absences.all() {
		if a.EnrollmentID == enrollmentID && a.LessonDate.Equal(lessonDate) {
			return a, nil
		}
	}
	return absence.Absence{}, absence.ErrNotFound
}

func (repo *absenceRepository) QueryAbsences(_ context.Context, filter *absence.QueryFilter, _ ...core.DBExecutor) ([]absence.Absence, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	absences := repo.db.absences.filter(filter.Matches)
	sortRows(absences, []core.DBOrdering{{Field: "lesson_date", Ascending: true}}, map[string]comparer[absence.Absence]{
		"lesson_date": func(a, b absence.Absence) int { return cmpDate(a.LessonDate, b.LessonDate) },
	})
	return absences, nil
}

func (repo *absenceRepository) DeleteAbsence(_ context.Context, id string, exec ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if !repo.db.absences.delete(repo.db.journal(exec), id) {
		return absence.ErrNotFound
	}
	return nil
}
