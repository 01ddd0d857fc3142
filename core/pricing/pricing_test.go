package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/enrollment"
	"github.com/trezcool/cadenza/core/pricing"
	"github.com/trezcool/cadenza/core/student"
	testutil "github.com/trezcool/cadenza/tests"
)

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2), msgAndArgs...)
}

func TestService_CreateVersion(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	ct := env.CreateCourseType(t, "Piano", 30)

	jan := core.NewDate(2024, time.January, 1)
	mar := core.NewDate(2024, time.March, 1)

	v1 := env.CreateVersion(t, ct.ID, "20", "30", 18, jan)
	assert.True(t, v1.IsCurrent)
	assert.False(t, v1.ValidTo.Valid)

	t.Run("must start after the current version", func(t *testing.T) {
		_, err := env.Pricing.CreateVersion(ctx, ct.ID, pricing.NewVersion{
			ChildPrice: testutil.Money("1"), AdultPrice: testutil.Money("2"), AdultAge: 18, ValidFrom: jan,
		})
		vErr, ok := err.(*core.ValidationError)
		require.True(t, ok, "want *core.ValidationError, got %T", err)
		assert.Equal(t, "valid_from", vErr.Fields[0].Field)
	})

	t.Run("unknown course type", func(t *testing.T) {
		_, err := env.Pricing.CreateVersion(ctx, "nope", pricing.NewVersion{AdultAge: 18, ValidFrom: jan})
		assert.True(t, core.IsNotFound(err))
	})

	v2 := env.CreateVersion(t, ct.ID, "25", "35", 18, mar)

	t.Run("closes the previous version", func(t *testing.T) {
		history, err := env.Pricing.History(ctx, ct.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)

		assert.Equal(t, v2.ID, history[0].ID, "latest first")
		assert.True(t, history[0].IsCurrent)
		assert.Equal(t, v1.ID, history[1].ID)
		assert.False(t, history[1].IsCurrent)
		require.True(t, history[1].ValidTo.Valid)
		assert.True(t, history[1].ValidTo.Date.Equal(mar), "closed the day the new version starts")
	})

	t.Run("current", func(t *testing.T) {
		cur, err := env.Pricing.Current(ctx, ct.ID)
		require.NoError(t, err)
		assert.Equal(t, v2.ID, cur.ID)
	})
}

func TestService_PriceAt(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	ct := env.CreateCourseType(t, "Violin", 45)

	v1 := env.CreateVersion(t, ct.ID, "20", "30", 18, core.NewDate(2024, time.January, 1))
	v2 := env.CreateVersion(t, ct.ID, "25", "35", 18, core.NewDate(2024, time.March, 1))

	tests := []struct {
		name     string
		date     core.Date
		wantID   string
		notFound bool
	}{
		{name: "before any version", date: core.NewDate(2023, time.December, 31), notFound: true},
		{name: "first day of first version", date: core.NewDate(2024, time.January, 1), wantID: v1.ID},
		{name: "last day of first version", date: core.NewDate(2024, time.February, 29), wantID: v1.ID},
		{name: "first day of second version", date: core.NewDate(2024, time.March, 1), wantID: v2.ID},
		{name: "far future", date: core.NewDate(2030, time.June, 1), wantID: v2.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ver, err := env.Pricing.PriceAt(ctx, ct.ID, tt.date)
			if tt.notFound {
				assert.True(t, core.IsNotFound(err), "want not found, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, ver.ID)
		})
	}
}

func TestEnrollmentPricing_Quote(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	ct := env.CreateCourseType(t, "Guitar", 30)
	env.CreateVersion(t, ct.ID, "20", "30", 18, core.NewDate(2024, time.January, 1))

	date := core.NewDate(2024, time.June, 15)
	child := student.Student{BirthDate: core.NullDateFrom(core.NewDate(2010, time.May, 1))}
	turnsAdult := student.Student{BirthDate: core.NullDateFrom(core.NewDate(2006, time.June, 15))}
	almostAdult := student.Student{BirthDate: core.NullDateFrom(core.NewDate(2006, time.June, 16))}
	unknownAge := student.Student{}

	tests := []struct {
		name      string
		st        student.Student
		discount  string
		wantTier  pricing.Tier
		wantBase  string
		wantPrice string
	}{
		{name: "child", st: child, discount: "0", wantTier: pricing.TierChild, wantBase: "20.00", wantPrice: "20.00"},
		{name: "adult on birthday", st: turnsAdult, discount: "0", wantTier: pricing.TierAdult, wantBase: "30.00", wantPrice: "30.00"},
		{name: "day before adulthood", st: almostAdult, discount: "0", wantTier: pricing.TierChild, wantBase: "20.00", wantPrice: "20.00"},
		{name: "unknown birth date", st: unknownAge, discount: "0", wantTier: pricing.TierAdult, wantBase: "30.00", wantPrice: "30.00"},
		{name: "discounted", st: child, discount: "15", wantTier: pricing.TierChild, wantBase: "20.00", wantPrice: "17.00"},
		{name: "free", st: unknownAge, discount: "100", wantTier: pricing.TierAdult, wantBase: "30.00", wantPrice: "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enr := enrollment.Enrollment{DiscountPercent: testutil.Money(tt.discount)}
			q, err := env.EnrollmentPricing.Quote(ctx, enr, tt.st, ct.ID, date)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, q.Tier)
			assertMoney(t, tt.wantBase, q.BasePrice)
			assertMoney(t, tt.wantPrice, q.Price)
		})
	}

	t.Run("no price yet", func(t *testing.T) {
		_, err := env.EnrollmentPricing.Quote(ctx, enrollment.Enrollment{}, child, ct.ID, core.NewDate(2023, time.June, 1))
		assert.True(t, core.IsNotFound(err))
	})
}

func TestDiscount(t *testing.T) {
	tests := []struct {
		price, percent, want string
	}{
		{"30", "0", "30.00"},
		{"30", "10", "27.00"},
		{"33.33", "33.33", "22.22"},
		{"19.99", "12.5", "17.49"},
		{"50", "100", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.price+"-"+tt.percent, func(t *testing.T) {
			assertMoney(t, tt.want, pricing.Discount(testutil.Money(tt.price), testutil.Money(tt.percent)))
		})
	}
}

// mapCache is an in-memory pricing.Cache counting hits & misses.
type mapCache struct {
	versions     map[string]pricing.Version
	hits, misses int
}

func newMapCache() *mapCache {
	return &mapCache{versions: make(map[string]pricing.Version)}
}

func (c *mapCache) GetCurrent(_ context.Context, courseTypeID string) (pricing.Version, bool, error) {
	v, ok := c.versions[courseTypeID]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok, nil
}

func (c *mapCache) SetCurrent(_ context.Context, v pricing.Version) error {
	c.versions[v.CourseTypeID] = v
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, courseTypeID string) error {
	delete(c.versions, courseTypeID)
	return nil
}

func TestService_Current_cache(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	cache := newMapCache()
	svc := pricing.NewService(env.Repos.DB, env.Repos.Pricing, env.Repos.Courses, cache, env.Logger)

	ct := env.CreateCourseType(t, "Piano", 30)
	_, err := svc.Current(ctx, ct.ID)
	assert.True(t, core.IsNotFound(err))
	assert.Empty(t, cache.versions, "nothing cached on not found")

	v1, err := svc.CreateVersion(ctx, ct.ID, pricing.NewVersion{
		ChildPrice: testutil.Money("20"), AdultPrice: testutil.Money("30"), AdultAge: 18,
		ValidFrom: core.NewDate(2024, time.January, 1),
	})
	require.NoError(t, err)

	t.Run("miss then hit", func(t *testing.T) {
		got, err := svc.Current(ctx, ct.ID)
		require.NoError(t, err)
		assert.Equal(t, v1.ID, got.ID)
		assert.Equal(t, v1.ID, cache.versions[ct.ID].ID, "filled on miss")

		got, err = svc.Current(ctx, ct.ID)
		require.NoError(t, err)
		assert.Equal(t, v1.ID, got.ID)
		assert.Equal(t, 1, cache.hits)
	})

	v2, err := svc.CreateVersion(ctx, ct.ID, pricing.NewVersion{
		ChildPrice: testutil.Money("25"), AdultPrice: testutil.Money("35"), AdultAge: 18,
		ValidFrom: core.NewDate(2024, time.March, 1),
	})
	require.NoError(t, err)

	t.Run("invalidated by a new version", func(t *testing.T) {
		_, ok := cache.versions[ct.ID]
		assert.False(t, ok)

		got, err := svc.Current(ctx, ct.ID)
		require.NoError(t, err)
		assert.Equal(t, v2.ID, got.ID)
	})

	t.Run("a version created while filling the cache", func(t *testing.T) {
		require.NoError(t, cache.Invalidate(ctx, ct.ID))
		repo := &lateRepository{Repository: env.Repos.Pricing, stale: v1}
		racy := pricing.NewService(env.Repos.DB, repo, env.Repos.Courses, cache, env.Logger)

		got, err := racy.Current(ctx, ct.ID)
		require.NoError(t, err)
		assert.Equal(t, v2.ID, got.ID)
		_, ok := cache.versions[ct.ID]
		assert.False(t, ok, "the outdated version is not left in the cache")
	})
}

// lateRepository returns an outdated current version once, as a read made just before a new
// version was committed would.
type lateRepository struct {
	pricing.Repository
	stale pricing.Version
	done  bool
}

func (r *lateRepository) CurrentVersion(ctx context.Context, courseTypeID string, exec ...core.DBExecutor) (pricing.Version, error) {
	if !r.done {
		r.done = true
		return r.stale, nil
	}
	return r.Repository.CurrentVersion(ctx, courseTypeID, exec...)
}
