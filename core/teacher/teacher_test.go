package teacher_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/core/teacher"
	testutil "github.com/trezcool/cadenza/tests"
)

func TestService(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)

	nt := teacher.NewTeacher{Name: " Clara Haskil ", Instruments: []string{"Piano", " piano", "Harpsichord"}}
	require.NoError(t, nt.Validate(env.Validate))
	clara, err := env.Teachers.Create(ctx, nt)
	require.NoError(t, err)
	assert.Equal(t, "Clara Haskil", clara.Name)
	assert.Equal(t, []string{"piano", "harpsichord"}, clara.Instruments)
	assert.True(t, clara.IsActive)

	env.CreateTeacher(t, "Pablo", "cello")

	t.Run("by instrument", func(t *testing.T) {
		filter := &teacher.QueryFilter{Instrument: "Cello"}
		filter.Clean()
		tchrs, err := env.Teachers.Query(ctx, filter, nil)
		require.NoError(t, err)
		require.Len(t, tchrs, 1)
		assert.Equal(t, "Pablo", tchrs[0].Name)
	})

	t.Run("update keeps empty fields", func(t *testing.T) {
		got, err := env.Teachers.Update(ctx, clara, teacher.UpdateTeacher{Email: "clara@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "Clara Haskil", got.Name)
		assert.Equal(t, "clara@example.com", got.Email)
		assert.Equal(t, clara.Instruments, got.Instruments)
	})

	t.Run("deactivate", func(t *testing.T) {
		_, err := env.Teachers.Deactivate(ctx, clara)
		require.NoError(t, err)

		active := true
		tchrs, err := env.Teachers.Query(ctx, &teacher.QueryFilter{IsActive: &active}, nil)
		require.NoError(t, err)
		require.Len(t, tchrs, 1)
		assert.Equal(t, "Pablo", tchrs[0].Name)
	})
}
