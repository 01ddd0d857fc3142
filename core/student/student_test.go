package student_test

import (
	"context"
	"net/mail"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/student"
	testutil "github.com/trezcool/cadenza/tests"
)

func TestService(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)

	zoe := env.CreateStudent(t, "Zoe", "Adams", core.NewDate(2012, time.March, 3))
	env.CreateStudent(t, "Yann", "Brun")
	env.CreateStudent(t, "Anna", "Brun")

	assert.True(t, zoe.IsActive)
	assert.Equal(t, "zoe.adams@example.com", zoe.Email)

	t.Run("default ordering", func(t *testing.T) {
		students, err := env.Students.Query(ctx, nil, nil)
		require.NoError(t, err)
		names := make([]string, 0, len(students))
		for _, s := range students {
			names = append(names, s.FullName())
		}
		assert.Equal(t, []string{"Zoe Adams", "Anna Brun", "Yann Brun"}, names)
	})

	t.Run("search", func(t *testing.T) {
		students, err := env.Students.Query(ctx, &student.QueryFilter{Search: "BRUN"}, []core.DBOrdering{{Field: "first_name"}})
		require.NoError(t, err)
		require.Len(t, students, 2)
		assert.Equal(t, "Yann", students[0].FirstName)
	})

	t.Run("update", func(t *testing.T) {
		notes := "prefers mornings"
		got, err := env.Students.Update(ctx, zoe, student.UpdateStudent{GuardianName: "Paul Adams", GuardianEmail: "paul@example.com", Notes: &notes})
		require.NoError(t, err)
		assert.Equal(t, "Zoe", got.FirstName)
		assert.Equal(t, notes, got.Notes)
		assert.Equal(t, mail.Address{Name: "Paul Adams", Address: "paul@example.com"}, got.BillingAddress())
	})

	t.Run("deactivate", func(t *testing.T) {
		_, err := env.Students.Deactivate(ctx, zoe)
		require.NoError(t, err)

		inactive := false
		students, err := env.Students.Query(ctx, &student.QueryFilter{IsActive: &inactive}, nil)
		require.NoError(t, err)
		require.Len(t, students, 1)
		assert.Equal(t, zoe.ID, students[0].ID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := env.Students.Get(ctx, "nope")
		assert.True(t, core.IsNotFound(err))
	})
}

func TestNewStudent_Validate(t *testing.T) {
	env := testutil.NewEnv(t)
	testutil.FreezeTime(t, time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC))

	ns := student.NewStudent{FirstName: "  Lea ", LastName: "Moreau", Email: " LEA@Example.com "}
	require.NoError(t, ns.Validate(env.Validate))
	assert.Equal(t, "Lea", ns.FirstName)
	assert.Equal(t, "lea@example.com", ns.Email)

	ns.BirthDate = core.NullDateFrom(core.NewDate(2024, time.June, 2))
	err := ns.Validate(env.Validate)
	vErr, ok := err.(*core.ValidationError)
	require.True(t, ok, "want *core.ValidationError, got %T", err)
	assert.Equal(t, "birth_date", vErr.Fields[0].Field)

	ns = student.NewStudent{LastName: "Moreau"}
	assert.Error(t, ns.Validate(env.Validate), "first name is required")
}

func TestStudent_AgeOn(t *testing.T) {
	st := student.Student{BirthDate: core.NullDateFrom(core.NewDate(2008, time.February, 29))}

	tests := []struct {
		date core.Date
		want int
	}{
		{core.NewDate(2008, time.February, 29), 0},
		{core.NewDate(2026, time.February, 28), 17},
		{core.NewDate(2026, time.March, 1), 18},
		{core.NewDate(2028, time.February, 29), 20},
	}
	for _, tt := range tests {
		t.Run(tt.date.String(), func(t *testing.T) {
			age, ok := st.AgeOn(tt.date)
			assert.True(t, ok)
			assert.Equal(t, tt.want, age)
		})
	}

	_, ok := student.Student{}.AgeOn(core.Today())
	assert.False(t, ok)
}

func TestStudent_BillingAddress(t *testing.T) {
	st := student.Student{FirstName: "Tom", LastName: "Blanc", Email: "tom@example.com"}
	assert.Equal(t, mail.Address{Name: "Tom Blanc", Address: "tom@example.com"}, st.BillingAddress())
}
