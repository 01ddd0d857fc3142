package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/student"
	"github.com/trezcool/cadenza/core/teacher"
)

// Students

var studentColumns = map[string]comparer[student.Student]{
	"first_name": func(a, b student.Student) int { return cmpString(a.FirstName, b.FirstName) },
	"last_name":  func(a, b student.Student) int { return cmpString(a.LastName, b.LastName) },
	"email":      func(a, b student.Student) int { return cmpString(a.Email, b.Email) },
	"birth_date": func(a, b student.Student) int { return cmpNullDate(a.BirthDate, b.BirthDate) },
	"is_active":  func(a, b student.Student) int { return cmpBool(a.IsActive, b.IsActive) },
	"created_at": func(a, b student.Student) int { return cmpTime(a.CreatedAt, b.CreatedAt) },
}

type studentRepository struct {
	db *DB
}

func NewStudentRepository(db *DB) student.Repository {
	return &studentRepository{db: db}
}

func (repo *studentRepository) CreateStudent(_ context.Context, s student.Student, exec ...core.DBExecutor) (student.Student, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	s.ID = uuid.NewString()
	repo.db.students.insert(repo.db.journal(exec), s.ID, s)
	return s, nil
}

func (repo *studentRepository) GetStudent(_ context.Context, id string, _ ...core.DBExecutor) (student.Student, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if s, ok := repo.db.students.get(id); ok {
		return s, nil
	}
	return student.Student{}, student.ErrNotFound
}

// LockStudent is GetStudent: transactions never run concurrently here.
func (repo *studentRepository) LockStudent(ctx context.Context, id string, exec ...core.DBExecutor) (student.Student, error) {
	return repo.GetStudent(ctx, id, exec...)
}

func (repo *studentRepository) QueryStudents(_ context.Context, filter *student.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]student.Student, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	students := repo.db.students.filter(func(s student.Student) bool {
		if filter == nil {
			return true
		}
		if filter.Search != "" &&
			!containsFold(s.FullName(), filter.Search) &&
			!containsFold(s.Email, filter.Search) &&
			!containsFold(s.GuardianEmail, filter.Search) {
			return false
		}
		return filter.IsActive == nil || s.IsActive == *filter.IsActive
	})
	sortRows(students, ordering, studentColumns,
		core.DBOrdering{Field: "last_name", Ascending: true}, core.DBOrdering{Field: "first_name", Ascending: true})
	return students, nil
}

func (repo *studentRepository) UpdateStudent(_ context.Context, s student.Student, exec ...core.DBExecutor) (student.Student, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if !repo.db.students.update(repo.db.journal(exec), s.ID, s) {
		return student.Student{}, student.ErrNotFound
	}
	return s, nil
}

// Teachers

var teacherColumns = map[string]comparer[teacher.Teacher]{
	"name":       func(a, b teacher.Teacher) int { return cmpString(a.Name, b.Name) },
	"email":      func(a, b teacher.Teacher) int { return cmpString(a.Email, b.Email) },
	"is_active":  func(a, b teacher.Teacher) int { return cmpBool(a.IsActive, b.IsActive) },
	"created_at": func(a, b teacher.Teacher) int { return cmpTime(a.CreatedAt, b.CreatedAt) },
}

type teacherRepository struct {
	db *DB
}

func NewTeacherRepository(db *DB) teacher.Repository {
	return &teacherRepository{db: db}
}

func (repo *teacherRepository) CreateTeacher(_ context.Context, t teacher.Teacher, exec ...core.DBExecutor) (teacher.Teacher, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	t.ID = uuid.NewString()
	repo.db.teachers.insert(repo.db.journal(exec), t.ID, t)
	return t, nil
}

func (repo *teacherRepository) GetTeacher(_ context.Context, id string, _ ...core.DBExecutor) (teacher.Teacher, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if t, ok := repo.db.teachers.get(id); ok {
		return t, nil
	}
	return teacher.Teacher{}, teacher.ErrNotFound
}

func (repo *teacherRepository) QueryTeachers(_ context.Context, filter *teacher.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]teacher.Teacher, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	teachers := repo.db.teachers.filter(filter.Matches)
	sortRows(teachers, ordering, teacherColumns, core.DBOrdering{Field: "name", Ascending: true})
	return teachers, nil
}

func (repo *teacherRepository) UpdateTeacher(_ context.Context, t teacher.Teacher, exec ...core.DBExecutor) (teacher.Teacher, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if !repo.db.teachers.update(repo.db.journal(exec), t.ID, t) {
		return teacher.Teacher{}, teacher.ErrNotFound
	}
	return t, nil
}
