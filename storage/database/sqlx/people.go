package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/student"
	"github.com/trezcool/cadenza/core/teacher"
)

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Students

const studentColumns = `id, first_name, last_name, email, phone, birth_date, guardian_name, guardian_email,
	is_active, notes, created_at, updated_at`

type studentRepository struct {
	store
}

var _ student.Repository = (*studentRepository)(nil)

func NewStudentRepository(db *sqlx.DB) student.Repository {
	return &studentRepository{store{db: db}}
}

func (repo *studentRepository) CreateStudent(ctx context.Context, s student.Student, exec ...core.DBExecutor) (student.Student, error) {
	s.ID = uuid.NewString()
	const q = `INSERT INTO student (` + studentColumns + `)
		VALUES (:id, :first_name, :last_name, :email, :phone, :birth_date, :guardian_name, :guardian_email,
			:is_active, :notes, :created_at, :updated_at)`
	if _, err := repo.namedExec(ctx, exec, q, s); err != nil {
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	return s, nil
}

func (repo *studentRepository) getStudent(ctx context.Context, id, suffix string, exec []core.DBExecutor) (student.Student, error) {
	var s student.Student
	if !validID(id) {
		return s, student.ErrNotFound
	}
	if err := repo.get(ctx, exec, &s, `SELECT `+studentColumns+` FROM student WHERE id = ?`+suffix, id); err != nil {
		return s, trapNoRows(err, student.ErrNotFound, "finding student")
	}
	return s, nil
}

func (repo *studentRepository) GetStudent(ctx context.Context, id string, exec ...core.DBExecutor) (student.Student, error) {
	return repo.getStudent(ctx, id, "", exec)
}

func (repo *studentRepository) LockStudent(ctx context.Context, id string, exec ...core.DBExecutor) (student.Student, error) {
	return repo.getStudent(ctx, id, " FOR UPDATE", exec)
}

func (repo *studentRepository) QueryStudents(ctx context.Context, filter *student.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]student.Student, error) {
	var c conds
	if filter != nil {
		if filter.Search != "" {
			val := likeArg(filter.Search)
			c.add("first_name || ' ' || last_name ILIKE ? OR email ILIKE ? OR guardian_email ILIKE ?", val, val, val)
		}
		if filter.IsActive != nil {
			c.add("is_active = ?", *filter.IsActive)
		}
	}

	students := make([]student.Student, 0)
	q := `SELECT ` + studentColumns + ` FROM student` + c.String() + orderBy(ordering, "last_name ASC, first_name ASC")
	if err := repo.selectAll(ctx, exec, &students, q, c.args...); err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	return students, nil
}

func (repo *studentRepository) UpdateStudent(ctx context.Context, s student.Student, exec ...core.DBExecutor) (student.Student, error) {
	const q = `UPDATE student SET first_name = :first_name, last_name = :last_name, email = :email, phone = :phone,
		birth_date = :birth_date, guardian_name = :guardian_name, guardian_email = :guardian_email,
		is_active = :is_active, notes = :notes, updated_at = :updated_at
		WHERE id = :id`
	res, err := repo.namedExec(ctx, exec, q, s)
	if err := updated(res, err, student.ErrNotFound, "updating student"); err != nil {
		return student.Student{}, err
	}
	return s, nil
}

// Teachers

type teacherRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Email       string         `db:"email"`
	Phone       string         `db:"phone"`
	Instruments pq.StringArray `db:"instruments"`
	IsActive    bool           `db:"is_active"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func toTeacherRow(t teacher.Teacher) teacherRow {
	instruments := t.Instruments
	if instruments == nil {
		instruments = []string{}
	}
	return teacherRow{
		ID:          t.ID,
		Name:        t.Name,
		Email:       t.Email,
		Phone:       t.Phone,
		Instruments: pq.StringArray(instruments),
		IsActive:    t.IsActive,
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
}

func (r teacherRow) teacher() teacher.Teacher {
	return teacher.Teacher{
		ID:          r.ID,
		Name:        r.Name,
		Email:       r.Email,
		Phone:       r.Phone,
		Instruments: []string(r.Instruments),
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

const teacherColumns = `id, name, email, phone, instruments, is_active, created_at, updated_at`

type teacherRepository struct {
	store
}

var _ teacher.Repository = (*teacherRepository)(nil)

func NewTeacherRepository(db *sqlx.DB) teacher.Repository {
	return &teacherRepository{store{db: db}}
}

func (repo *teacherRepository) CreateTeacher(ctx context.Context, t teacher.Teacher, exec ...core.DBExecutor) (teacher.Teacher, error) {
	t.ID = uuid.NewString()
	const q = `INSERT INTO teacher (` + teacherColumns + `)
		VALUES (:id, :name, :email, :phone, :instruments, :is_active, :created_at, :updated_at)`
	if _, err := repo.namedExec(ctx, exec, q, toTeacherRow(t)); err != nil {
		return teacher.Teacher{}, errors.Wrap(err, "inserting teacher")
	}
	return t, nil
}

func (repo *teacherRepository) GetTeacher(ctx context.Context, id string, exec ...core.DBExecutor) (teacher.Teacher, error) {
	if !validID(id) {
		return teacher.Teacher{}, teacher.ErrNotFound
	}
	var r teacherRow
	if err := repo.get(ctx, exec, &r, `SELECT `+teacherColumns+` FROM teacher WHERE id = ?`, id); err != nil {
		return teacher.Teacher{}, trapNoRows(err, teacher.ErrNotFound, "finding teacher")
	}
	return r.teacher(), nil
}

func (repo *teacherRepository) QueryTeachers(ctx context.Context, filter *teacher.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]teacher.Teacher, error) {
	var c conds
	if filter != nil {
		if filter.Search != "" {
			val := likeArg(filter.Search)
			c.add("name ILIKE ? OR email ILIKE ?", val, val)
		}
		if filter.Instrument != "" {
			c.add("? = ANY(instruments)", filter.Instrument)
		}
		if filter.IsActive != nil {
			c.add("is_active = ?", *filter.IsActive)
		}
	}

	var rows []teacherRow
	q := `SELECT ` + teacherColumns + ` FROM teacher` + c.String() + orderBy(ordering, "name ASC")
	if err := repo.selectAll(ctx, exec, &rows, q, c.args...); err != nil {
		return nil, errors.Wrap(err, "querying teachers")
	}
	teachers := make([]teacher.Teacher, 0, len(rows))
	for _, r := range rows {
		teachers = append(teachers, r.teacher())
	}
	return teachers, nil
}

func (repo *teacherRepository) UpdateTeacher(ctx context.Context, t teacher.Teacher, exec ...core.DBExecutor) (teacher.Teacher, error) {
	const q = `UPDATE teacher SET name = :name, email = :email, phone = :phone, instruments = :instruments,
		is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	res, err := repo.namedExec(ctx, exec, q, toTeacherRow(t))
	if err := updated(res, err, teacher.ErrNotFound, "updating teacher"); err != nil {
		return teacher.Teacher{}, err
	}
	return t, nil
}
