package course

import (
	"context"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/schedule"
	"github.com/trezcool/cadenza/core/teacher"
)

var (
	ErrNotFound           = core.NewNotFoundError("course")
	ErrCourseTypeNotFound = core.NewNotFoundError("course type")

	ErrCourseTypeNameExists = core.NewFieldError("name", errors.New("a course type with this name already exists"))
	ErrInactiveTeacher      = core.NewFieldError("teacher_id", errors.New("this teacher is not active"))
	errUnknownTeacher       = core.NewFieldError("teacher_id", errors.New("teacher not found"))
	errUnknownCourseType    = core.NewFieldError("course_type_id", errors.New("course type not found"))
)

type Repository interface {
	// CheckCourseTypeName returns ErrCourseTypeNameExists when another course type (than excludedID) has name.
	CheckCourseTypeName(ctx context.Context, name, excludedID string, exec ...core.DBExecutor) error
	CreateCourseType(ctx context.Context, ct CourseType, exec ...core.DBExecutor) (CourseType, error)
	GetCourseType(ctx context.Context, id string, exec ...core.DBExecutor) (CourseType, error)
	QueryCourseTypes(ctx context.Context, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]CourseType, error)
	UpdateCourseType(ctx context.Context, ct CourseType, exec ...core.DBExecutor) (CourseType, error)

	CreateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
	GetCourse(ctx context.Context, id string, exec ...core.DBExecutor) (Course, error)
	// GetCourses returns the courses with given IDs, in no particular order; unknown IDs are ignored.
	GetCourses(ctx context.Context, ids []string, exec ...core.DBExecutor) ([]Course, error)
	QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Course, error)
	UpdateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
}

type Service struct {
	db        core.Transactor
	repo      Repository
	teachers  teacher.Repository
	conflicts schedule.ConflictService
}

func NewService(db core.Transactor, repo Repository, teachers teacher.Repository) *Service {
	return &Service{db: db, repo: repo, teachers: teachers, conflicts: schedule.NewConflictService()}
}

// Course types

func (svc *Service) CreateCourseType(ctx context.Context, nct NewCourseType) (CourseType, error) {
	var ct CourseType
	err := svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		if err := svc.repo.CheckCourseTypeName(ctx, nct.Name, "", exec); err != nil {
			return err
		}
		now := core.NowFunc().UTC()
		var err error
		ct, err = svc.repo.CreateCourseType(ctx, CourseType{
			Name:          nct.Name,
			Description:   nct.Description,
			LessonMinutes: nct.LessonMinutes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}, exec)
		return err
	})
	return ct, err
}

func (svc *Service) GetCourseType(ctx context.Context, id string) (CourseType, error) {
	return svc.repo.GetCourseType(ctx, id)
}

func (svc *Service) QueryCourseTypes(ctx context.Context, ordering []core.DBOrdering) ([]CourseType, error) {
	return svc.repo.QueryCourseTypes(ctx, core.CleanOrdering(ordering, CourseTypeOrderingFields))
}

func (svc *Service) UpdateCourseType(ctx context.Context, ct CourseType, uct UpdateCourseType) (CourseType, error) {
	err := svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		if uct.Name != "" && uct.Name != ct.Name {
			if err := svc.repo.CheckCourseTypeName(ctx, uct.Name, ct.ID, exec); err != nil {
				return err
			}
			ct.Name = uct.Name
		}
		if uct.Description != nil {
			ct.Description = *uct.Description
		}
		if uct.LessonMinutes != 0 {
			ct.LessonMinutes = uct.LessonMinutes
		}
		ct.UpdatedAt = core.NowFunc().UTC()
		var err error
		ct, err = svc.repo.UpdateCourseType(ctx, ct, exec)
		return err
	})
	return ct, err
}

// Courses

func (svc *Service) Create(ctx context.Context, nc NewCourse) (Course, error) {
	now := core.NowFunc().UTC()
	c := Course{
		CourseTypeID: nc.CourseTypeID,
		Name:         nc.Name,
		Schedule:     nc.Schedule,
		Room:         nc.Room,
		Capacity:     nc.Capacity,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if nc.TeacherID != "" {
		c.TeacherID = null.StringFrom(nc.TeacherID)
	}

	err := svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		if _, err := svc.repo.GetCourseType(ctx, c.CourseTypeID, exec); err != nil {
			if core.IsNotFound(err) {
				return errUnknownCourseType
			}
			return err
		}
		if err := svc.checkTeacher(ctx, c, exec); err != nil {
			return err
		}
		var err error
		c, err = svc.repo.CreateCourse(ctx, c, exec)
		return err
	})
	return c, err
}

func (svc *Service) Get(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, filter, core.CleanOrdering(ordering, OrderingFields))
}

func (svc *Service) Update(ctx context.Context, c Course, uc UpdateCourse) (Course, error) {
	c = uc.apply(c)
	c.UpdatedAt = core.NowFunc().UTC()
	err := svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		if uc.TeacherID != nil || uc.Schedule != nil || (uc.IsActive != nil && *uc.IsActive) {
			if err := svc.checkTeacher(ctx, c, exec); err != nil {
				return err
			}
		}
		var err error
		c, err = svc.repo.UpdateCourse(ctx, c, exec)
		return err
	})
	return c, err
}

// Deactivate closes the course to new enrollments; existing ones are left untouched.
func (svc *Service) Deactivate(ctx context.Context, c Course) (Course, error) {
	c.IsActive = false
	c.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateCourse(ctx, c)
}

// checkTeacher makes sure the course's teacher exists, is active & is not double-booked.
func (svc *Service) checkTeacher(ctx context.Context, c Course, exec core.DBExecutor) error {
	if !c.TeacherID.Valid {
		return nil
	}
	t, err := svc.teachers.GetTeacher(ctx, c.TeacherID.String, exec)
	if err != nil {
		if core.IsNotFound(err) {
			return errUnknownTeacher
		}
		return err
	}
	if !t.IsActive {
		return ErrInactiveTeacher
	}

	active := true
	others, err := svc.repo.QueryCourses(ctx, &QueryFilter{TeacherID: t.ID, IsActive: &active}, nil, exec)
	if err != nil {
		return err
	}
	bookings := make([]schedule.Booking, 0, len(others))
	for _, other := range others {
		if other.ID == c.ID {
			continue
		}
		bookings = append(bookings, schedule.Booking{CourseID: other.ID, CourseName: other.Name, Schedule: other.Schedule})
	}
	if conflicts := svc.conflicts.Check(c.Schedule, core.Date{}, core.NullDate{}, bookings); len(conflicts) > 0 {
		return schedule.ConflictsError("teacher_id", conflicts)
	}
	return nil
}
