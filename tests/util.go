// Package testutil sets up in-memory environments & fixtures for tests.
package testutil

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/apps/di"
	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/course"
	"github.com/trezcool/cadenza/core/enrollment"
	"github.com/trezcool/cadenza/core/pricing"
	"github.com/trezcool/cadenza/core/schedule"
	"github.com/trezcool/cadenza/core/student"
	"github.com/trezcool/cadenza/core/teacher"
	"github.com/trezcool/cadenza/core/user"
	appfs "github.com/trezcool/cadenza/fs"
	emailsvc "github.com/trezcool/cadenza/services/email"
	logsvc "github.com/trezcool/cadenza/services/logger"
)

var parseTemplates sync.Once

// Env is a whole app running on an in-memory database.
type Env struct {
	*di.Services
	Repos di.Repositories
	Mail  *emailsvc.ConsoleServiceMock
}

func NewEnv(t testing.TB, confFns ...func(*core.Config)) *Env {
	t.Helper()
	conf := core.NewTestConfig()
	for _, fn := range confFns {
		fn(conf)
	}
	logger := logsvc.NewRollbarLogger(io.Discard, conf)
	parseTemplates.Do(func() { core.ParseEmailTemplates(appfs.FS, true, logger) })
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	svcs, repos := di.NewTestServices(conf, logger, mailSvc)
	return &Env{Services: svcs, Repos: repos, Mail: mailSvc}
}

// FreezeTime sets core.NowFunc to return now until the test ends.
func FreezeTime(t testing.TB, now time.Time) {
	t.Helper()
	orig := core.NowFunc
	core.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { core.NowFunc = orig })
}

func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func CreateUser(
	t testing.TB,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		require.NoError(t, usr.SetPassword(pwd), "setting password")
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	require.NoError(t, err, "creating user")
	return usr
}

func (env *Env) CreateStudent(t testing.TB, firstName, lastName string, birthDate ...core.Date) student.Student {
	t.Helper()
	ns := student.NewStudent{
		FirstName: firstName,
		LastName:  lastName,
		Email:     core.CleanString(firstName+"."+lastName, true) + "@example.com",
	}
	if len(birthDate) > 0 {
		ns.BirthDate = core.NullDateFrom(birthDate[0])
	}
	st, err := env.Students.Create(context.Background(), ns)
	require.NoError(t, err, "creating student")
	return st
}

func (env *Env) CreateTeacher(t testing.TB, name string, instruments ...string) teacher.Teacher {
	t.Helper()
	tchr, err := env.Teachers.Create(context.Background(), teacher.NewTeacher{Name: name, Instruments: instruments})
	require.NoError(t, err, "creating teacher")
	return tchr
}

func (env *Env) CreateCourseType(t testing.TB, name string, lessonMinutes int) course.CourseType {
	t.Helper()
	ct, err := env.Courses.CreateCourseType(context.Background(), course.NewCourseType{Name: name, LessonMinutes: lessonMinutes})
	require.NoError(t, err, "creating course type")
	return ct
}

// Weekly returns a weekly schedule; start & end are "HH:MM".
func Weekly(t testing.TB, wd time.Weekday, start, end string) schedule.Schedule {
	t.Helper()
	return newSchedule(t, wd, start, end, schedule.Weekly, schedule.AllWeeks)
}

// Biweekly returns a schedule on odd or even ISO weeks; start & end are "HH:MM".
func Biweekly(t testing.TB, wd time.Weekday, start, end string, parity schedule.Parity) schedule.Schedule {
	t.Helper()
	return newSchedule(t, wd, start, end, schedule.Biweekly, parity)
}

func newSchedule(t testing.TB, wd time.Weekday, start, end string, freq schedule.Frequency, parity schedule.Parity) schedule.Schedule {
	t.Helper()
	startClk, err := schedule.ParseClock(start)
	require.NoError(t, err)
	endClk, err := schedule.ParseClock(end)
	require.NoError(t, err)
	return schedule.Schedule{
		Weekday:   schedule.Weekday(wd),
		Start:     startClk,
		End:       endClk,
		Frequency: freq,
		Parity:    parity,
	}
}

func (env *Env) CreateCourse(t testing.TB, courseTypeID, teacherID, name string, sch schedule.Schedule, capacity ...int) course.Course {
	t.Helper()
	nc := course.NewCourse{
		CourseTypeID: courseTypeID,
		TeacherID:    teacherID,
		Name:         name,
		Schedule:     sch,
	}
	if len(capacity) > 0 {
		nc.Capacity = capacity[0]
	}
	crs, err := env.Courses.Create(context.Background(), nc)
	require.NoError(t, err, "creating course")
	return crs
}

func (env *Env) CreateVersion(t testing.TB, courseTypeID, childPrice, adultPrice string, adultAge int, validFrom core.Date) pricing.Version {
	t.Helper()
	v, err := env.Pricing.CreateVersion(context.Background(), courseTypeID, pricing.NewVersion{
		ChildPrice: Money(childPrice),
		AdultPrice: Money(adultPrice),
		AdultAge:   adultAge,
		ValidFrom:  validFrom,
	})
	require.NoError(t, err, "creating pricing version")
	return v
}

func (env *Env) Enroll(t testing.TB, studentID, courseID string, start core.Date, discountPercent ...string) enrollment.Enrollment {
	t.Helper()
	ne := enrollment.NewEnrollment{StudentID: studentID, CourseID: courseID, StartDate: start}
	if len(discountPercent) > 0 {
		ne.DiscountPercent = Money(discountPercent[0])
	}
	enr, err := env.Enrollments.Enroll(context.Background(), ne)
	require.NoError(t, err, "enrolling")
	return enr
}
