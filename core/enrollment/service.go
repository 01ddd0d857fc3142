package enrollment

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/course"
	"github.com/trezcool/cadenza/core/schedule"
	"github.com/trezcool/cadenza/core/student"
)

var (
	ErrNotFound = core.NewNotFoundError("enrollment")

	errUnknownStudent  = core.NewFieldError("student_id", errors.New("student not found"))
	errInactiveStudent = core.NewFieldError("student_id", errors.New("this student is not active"))
	errUnknownCourse   = core.NewFieldError("course_id", errors.New("course not found"))
	errInactiveCourse  = core.NewFieldError("course_id", errors.New("this course is not open to enrollments"))
	errAlreadyEnrolled = core.NewFieldError("course_id", errors.New("the student is already enrolled in this course"))
	errCourseFull      = core.NewFieldError("course_id", errors.New("this course is full"))
	errAlreadyEnded    = core.NewFieldError("end_date", errors.New("this enrollment has already ended"))
)

type Repository interface {
	CreateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
	GetEnrollment(ctx context.Context, id string, exec ...core.DBExecutor) (Enrollment, error)
	QueryEnrollments(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Enrollment, error)
	UpdateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
}

type Service struct {
	db        core.Transactor
	repo      Repository
	students  student.Repository
	courses   course.Repository
	conflicts schedule.ConflictService
}

func NewService(db core.Transactor, repo Repository, students student.Repository, courses course.Repository) *Service {
	return &Service{
		db:        db,
		repo:      repo,
		students:  students,
		courses:   courses,
		conflicts: schedule.NewConflictService(),
	}
}

// Enroll registers a student in a course, making sure the course has room
// and its lessons don't clash with the student's other courses.
func (svc *Service) Enroll(ctx context.Context, ne NewEnrollment) (Enrollment, error) {
	var enr Enrollment
	err := svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		st, err := svc.students.LockStudent(ctx, ne.StudentID, exec)
		if err != nil {
			if core.IsNotFound(err) {
				return errUnknownStudent
			}
			return err
		}
		if !st.IsActive {
			return errInactiveStudent
		}

		crs, err := svc.getCourse(ctx, ne.CourseID, exec)
		if err != nil {
			return err
		}
		if !crs.IsActive {
			return errInactiveCourse
		}

		active, err := svc.repo.QueryEnrollments(ctx, &QueryFilter{CourseID: crs.ID, Status: StatusActive}, nil, exec)
		if err != nil {
			return err
		}
		for _, e := range active {
			if e.StudentID == st.ID {
				return errAlreadyEnrolled
			}
		}
		if !crs.HasRoom(len(active)) {
			return errCourseFull
		}

		conflicts, err := svc.checkConflicts(ctx, st.ID, crs, ne.StartDate, ne.EndDate, exec)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return schedule.ConflictsError("course_id", conflicts)
		}

		now := core.NowFunc().UTC()
		enr, err = svc.repo.CreateEnrollment(ctx, Enrollment{
			StudentID:       st.ID,
			CourseID:        crs.ID,
			StartDate:       ne.StartDate,
			EndDate:         ne.EndDate,
			DiscountPercent: ne.DiscountPercent,
			Status:          StatusActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}, exec)
		return err
	})
	return enr, err
}

// CheckConflicts returns the student's enrollments whose lessons would clash with the course's,
// were the student enrolled from startDate on.
func (svc *Service) CheckConflicts(ctx context.Context, studentID, courseID string, startDate core.Date) ([]schedule.Conflict, error) {
	if _, err := svc.students.GetStudent(ctx, studentID); err != nil {
		if core.IsNotFound(err) {
			return nil, errUnknownStudent
		}
		return nil, err
	}
	crs, err := svc.getCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return svc.checkConflicts(ctx, studentID, crs, startDate, core.NullDate{}, nil)
}

func (svc *Service) checkConflicts(ctx context.Context, studentID string, crs course.Course, from core.Date, to core.NullDate, exec core.DBExecutor) ([]schedule.Conflict, error) {
	filter := &QueryFilter{StudentID: studentID, ActiveFrom: from}
	if to.Valid {
		filter.ActiveTo = to.Date
	}
	enrs, err := svc.repo.QueryEnrollments(ctx, filter, nil, exec)
	if err != nil {
		return nil, err
	}
	if len(enrs) == 0 {
		return nil, nil
	}

	courseIDs := make([]string, 0, len(enrs))
	for _, e := range enrs {
		courseIDs = append(courseIDs, e.CourseID)
	}
	courses, err := svc.courses.GetCourses(ctx, courseIDs, exec)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]course.Course, len(courses))
	for _, c := range courses {
		byID[c.ID] = c
	}

	bookings := make([]schedule.Booking, 0, len(enrs))
	for _, e := range enrs {
		c, ok := byID[e.CourseID]
		if !ok {
			continue
		}
		bookings = append(bookings, schedule.Booking{
			EnrollmentID: e.ID,
			CourseID:     c.ID,
			CourseName:   c.Name,
			Schedule:     c.Schedule,
			StartDate:    e.StartDate,
			EndDate:      e.EndDate,
		})
	}
	return svc.conflicts.Check(crs.Schedule, from, to, bookings), nil
}

func (svc *Service) getCourse(ctx context.Context, id string, exec ...core.DBExecutor) (course.Course, error) {
	crs, err := svc.courses.GetCourse(ctx, id, exec...)
	if err != nil && core.IsNotFound(err) {
		return crs, errUnknownCourse
	}
	return crs, err
}

func (svc *Service) Get(ctx context.Context, id string, exec ...core.DBExecutor) (Enrollment, error) {
	return svc.repo.GetEnrollment(ctx, id, exec...)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Enrollment, error) {
	return svc.repo.QueryEnrollments(ctx, filter, core.CleanOrdering(ordering, OrderingFields))
}

func (svc *Service) Update(ctx context.Context, e Enrollment, ue UpdateEnrollment) (Enrollment, error) {
	e.DiscountPercent = ue.DiscountPercent
	e.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateEnrollment(ctx, e)
}

// End sets the date of the enrollment's last lesson. Lessons after it are no longer billed.
func (svc *Service) End(ctx context.Context, e Enrollment, endDate core.Date) (Enrollment, error) {
	if e.Status == StatusEnded {
		return e, errAlreadyEnded
	}
	if endDate.Before(e.StartDate) {
		return e, core.NewFieldError("end_date", errEndBeforeStart)
	}
	e.EndDate = core.NullDateFrom(endDate)
	e.Status = StatusEnded
	e.UpdatedAt = core.NowFunc().UTC()
	return svc.repo.UpdateEnrollment(ctx, e)
}
