package enrollment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/enrollment"
	"github.com/trezcool/cadenza/core/schedule"
	testutil "github.com/trezcool/cadenza/tests"
)

func assertFieldError(t *testing.T, err error, field string) {
	t.Helper()
	vErr, ok := err.(*core.ValidationError)
	require.True(t, ok, "want *core.ValidationError, got %T (%v)", err, err)
	require.NotEmpty(t, vErr.Fields)
	assert.Equal(t, field, vErr.Fields[0].Field)
}

func TestService_Enroll(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	start := core.NewDate(2024, time.September, 2)

	ct := env.CreateCourseType(t, "Piano", 30)
	mon10 := env.CreateCourse(t, ct.ID, "", "Piano Mon 10", testutil.Weekly(t, time.Monday, "10:00", "11:00"))
	mon1030 := env.CreateCourse(t, ct.ID, "", "Piano Mon 10:30", testutil.Weekly(t, time.Monday, "10:30", "11:30"))
	mon11 := env.CreateCourse(t, ct.ID, "", "Piano Mon 11", testutil.Weekly(t, time.Monday, "11:00", "12:00"))
	duo := env.CreateCourse(t, ct.ID, "", "Piano duo", testutil.Weekly(t, time.Thursday, "18:00", "19:00"), 2)
	closed := env.CreateCourse(t, ct.ID, "", "Closed", testutil.Weekly(t, time.Friday, "18:00", "19:00"))
	_, err := env.Courses.Deactivate(ctx, closed)
	require.NoError(t, err)

	alice := env.CreateStudent(t, "Alice", "Martin")
	bob := env.CreateStudent(t, "Bob", "Durand")
	carl := env.CreateStudent(t, "Carl", "Petit")
	gone := env.CreateStudent(t, "Gone", "Away")
	_, err = env.Students.Deactivate(ctx, gone)
	require.NoError(t, err)

	enr := env.Enroll(t, alice.ID, mon10.ID, start, "10")
	assert.Equal(t, enrollment.StatusActive, enr.Status)
	assert.Equal(t, "10.00", enr.DiscountPercent.StringFixed(2))

	t.Run("adjacent lesson", func(t *testing.T) {
		env.Enroll(t, alice.ID, mon11.ID, start)
	})

	tests := []struct {
		name      string
		ne        enrollment.NewEnrollment
		wantField string
	}{
		{
			name:      "unknown student",
			ne:        enrollment.NewEnrollment{StudentID: "nope", CourseID: duo.ID, StartDate: start},
			wantField: "student_id",
		},
		{
			name:      "inactive student",
			ne:        enrollment.NewEnrollment{StudentID: gone.ID, CourseID: duo.ID, StartDate: start},
			wantField: "student_id",
		},
		{
			name:      "unknown course",
			ne:        enrollment.NewEnrollment{StudentID: bob.ID, CourseID: "nope", StartDate: start},
			wantField: "course_id",
		},
		{
			name:      "inactive course",
			ne:        enrollment.NewEnrollment{StudentID: bob.ID, CourseID: closed.ID, StartDate: start},
			wantField: "course_id",
		},
		{
			name:      "already enrolled",
			ne:        enrollment.NewEnrollment{StudentID: alice.ID, CourseID: mon10.ID, StartDate: start},
			wantField: "course_id",
		},
		{
			name:      "overlapping lessons",
			ne:        enrollment.NewEnrollment{StudentID: alice.ID, CourseID: mon1030.ID, StartDate: start},
			wantField: "course_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Enrollments.Enroll(ctx, tt.ne)
			assertFieldError(t, err, tt.wantField)
		})
	}

	t.Run("capacity", func(t *testing.T) {
		env.Enroll(t, alice.ID, duo.ID, start)
		env.Enroll(t, bob.ID, duo.ID, start)
		_, err := env.Enrollments.Enroll(ctx, enrollment.NewEnrollment{StudentID: carl.ID, CourseID: duo.ID, StartDate: start})
		assertFieldError(t, err, "course_id")
	})

	t.Run("ended enrollments free a seat", func(t *testing.T) {
		enrs, err := env.Enrollments.Query(ctx, &enrollment.QueryFilter{StudentID: bob.ID, CourseID: duo.ID}, nil)
		require.NoError(t, err)
		require.Len(t, enrs, 1)
		_, err = env.Enrollments.End(ctx, enrs[0], start.AddDays(30))
		require.NoError(t, err)

		env.Enroll(t, carl.ID, duo.ID, start.AddDays(31))
	})
}

func TestService_CheckConflicts(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	sept := core.NewDate(2024, time.September, 2)

	ct := env.CreateCourseType(t, "Violin", 45)
	weekly := env.CreateCourse(t, ct.ID, "", "Weekly", testutil.Weekly(t, time.Wednesday, "14:00", "15:00"))
	odd := env.CreateCourse(t, ct.ID, "", "Odd", testutil.Biweekly(t, time.Wednesday, "14:30", "15:30", schedule.OddWeeks))
	even := env.CreateCourse(t, ct.ID, "", "Even", testutil.Biweekly(t, time.Wednesday, "14:30", "15:30", schedule.EvenWeeks))

	st := env.CreateStudent(t, "Dana", "Leroy")
	enr := env.Enroll(t, st.ID, odd.ID, sept)

	t.Run("biweekly against the other parity", func(t *testing.T) {
		conflicts, err := env.Enrollments.CheckConflicts(ctx, st.ID, even.ID, sept)
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("weekly against biweekly", func(t *testing.T) {
		conflicts, err := env.Enrollments.CheckConflicts(ctx, st.ID, weekly.ID, sept)
		require.NoError(t, err)
		want := []schedule.Conflict{{
			EnrollmentID: enr.ID,
			CourseID:     odd.ID,
			CourseName:   odd.Name,
			Schedule:     odd.Schedule,
		}}
		if diff := cmp.Diff(want, conflicts); diff != "" {
			t.Errorf("CheckConflicts() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("after the other enrollment ended", func(t *testing.T) {
		_, err := env.Enrollments.End(ctx, enr, sept.AddDays(60))
		require.NoError(t, err)

		conflicts, err := env.Enrollments.CheckConflicts(ctx, st.ID, weekly.ID, sept.AddDays(61))
		require.NoError(t, err)
		assert.Empty(t, conflicts)

		conflicts, err = env.Enrollments.CheckConflicts(ctx, st.ID, weekly.ID, sept)
		require.NoError(t, err)
		assert.Len(t, conflicts, 1)
	})

	t.Run("unknown student", func(t *testing.T) {
		_, err := env.Enrollments.CheckConflicts(ctx, "nope", weekly.ID, sept)
		assertFieldError(t, err, "student_id")
	})
}

func TestService_End(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	start := core.NewDate(2024, time.September, 2)

	ct := env.CreateCourseType(t, "Cello", 30)
	crs := env.CreateCourse(t, ct.ID, "", "Cello", testutil.Weekly(t, time.Monday, "17:00", "17:30"))
	st := env.CreateStudent(t, "Emma", "Roux")
	enr := env.Enroll(t, st.ID, crs.ID, start)

	_, err := env.Enrollments.End(ctx, enr, start.AddDays(-1))
	assertFieldError(t, err, "end_date")

	ended, err := env.Enrollments.End(ctx, enr, start.AddDays(27))
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusEnded, ended.Status)
	require.True(t, ended.EndDate.Valid)
	assert.True(t, ended.EndDate.Date.Equal(start.AddDays(27)))
	assert.True(t, ended.Covers(start.AddDays(27)))
	assert.False(t, ended.Covers(start.AddDays(28)))

	_, err = env.Enrollments.End(ctx, ended, start.AddDays(30))
	assertFieldError(t, err, "end_date")

	t.Run("re-enrolling after the end", func(t *testing.T) {
		env.Enroll(t, st.ID, crs.ID, start.AddDays(35))
	})
}

func TestEnrollment_Within(t *testing.T) {
	enr := enrollment.Enrollment{
		StartDate: core.NewDate(2024, time.March, 10),
		EndDate:   core.NullDateFrom(core.NewDate(2024, time.April, 20)),
	}
	tests := []struct {
		name           string
		from, to       core.Date
		wantStart      core.Date
		wantEnd        core.Date
		wantIntersects bool
	}{
		{
			name: "starts mid-month",
			from: core.NewDate(2024, time.March, 1), to: core.NewDate(2024, time.March, 31),
			wantStart: core.NewDate(2024, time.March, 10), wantEnd: core.NewDate(2024, time.March, 31), wantIntersects: true,
		},
		{
			name: "ends mid-month",
			from: core.NewDate(2024, time.April, 1), to: core.NewDate(2024, time.April, 30),
			wantStart: core.NewDate(2024, time.April, 1), wantEnd: core.NewDate(2024, time.April, 20), wantIntersects: true,
		},
		{
			name: "after the end",
			from: core.NewDate(2024, time.May, 1), to: core.NewDate(2024, time.May, 31),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := enr.Within(tt.from, tt.to)
			assert.Equal(t, tt.wantIntersects, ok)
			if ok {
				assert.True(t, tt.wantStart.Equal(start), "start: %s", start)
				assert.True(t, tt.wantEnd.Equal(end), "end: %s", end)
			}
		})
	}
}
