package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/billing"
	logsvc "github.com/trezcool/cadenza/services/logger"
)

type fakeJobs struct {
	mu       sync.Mutex
	requests []billing.GenerateRequest
	applied  int
	err      error
	block    chan struct{}
}

func (f *fakeJobs) Generate(ctx context.Context, req billing.GenerateRequest) (billing.GenerateResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return billing.GenerateResult{}, f.err
}

func (f *fakeJobs) ApplyAllOutstanding(ctx context.Context) (int, error) {
	f.mu.Lock()
	f.applied++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		close(block)
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return 3, f.err
}

func newScheduler(t *testing.T, conf core.SchedulerConfig, jobs *fakeJobs) *Scheduler {
	t.Helper()
	logger := logsvc.NewRollbarLogger(io.Discard, core.NewTestConfig())
	s, err := New(conf, jobs, jobs, logger)
	require.NoError(t, err)
	return s
}

func TestPreviousMonth(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	tests := []struct {
		name      string
		now       time.Time
		loc       *time.Location
		wantStart core.Date
		wantEnd   core.Date
	}{
		{
			name:      "mid-month",
			now:       time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC),
			loc:       time.UTC,
			wantStart: core.NewDate(2024, time.February, 1),
			wantEnd:   core.NewDate(2024, time.February, 29),
		},
		{
			name:      "new year",
			now:       time.Date(2025, time.January, 1, 6, 0, 0, 0, time.UTC),
			loc:       time.UTC,
			wantStart: core.NewDate(2024, time.December, 1),
			wantEnd:   core.NewDate(2024, time.December, 31),
		},
		{
			name:      "already next month in the school's timezone",
			now:       time.Date(2024, time.April, 30, 23, 30, 0, 0, time.UTC),
			loc:       paris,
			wantStart: core.NewDate(2024, time.April, 1),
			wantEnd:   core.NewDate(2024, time.April, 30),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := PreviousMonth(tt.now, tt.loc)
			assert.True(t, tt.wantStart.Equal(start), "start: %s", start)
			assert.True(t, tt.wantEnd.Equal(end), "end: %s", end)
		})
	}
}

func TestScheduler_jobs(t *testing.T) {
	orig := core.NowFunc
	core.NowFunc = func() time.Time { return time.Date(2024, time.October, 1, 6, 0, 0, 0, time.UTC) }
	defer func() { core.NowFunc = orig }()

	jobs := new(fakeJobs)
	s := newScheduler(t, core.SchedulerConfig{Timezone: "UTC"}, jobs)
	ctx := context.Background()

	require.NoError(t, s.GenerateInvoices(ctx))
	require.Len(t, jobs.requests, 1)
	req := jobs.requests[0]
	assert.Equal(t, "2024-09-01", req.PeriodStart.String())
	assert.Equal(t, "2024-09-30", req.PeriodEnd.String())
	assert.Equal(t, "2024-10-01", req.IssueDate.String())
	assert.Empty(t, req.StudentIDs)

	require.NoError(t, s.ApplyCredits(ctx))
	assert.Equal(t, 1, jobs.applied)

	jobs.err = errors.New("db down")
	assert.Error(t, s.GenerateInvoices(ctx))
	assert.Error(t, s.ApplyCredits(ctx))
}

func TestNew_invalidSpec(t *testing.T) {
	logger := logsvc.NewRollbarLogger(io.Discard, core.NewTestConfig())
	_, err := New(core.SchedulerConfig{GenerateInvoicesSpec: "every monday"}, new(fakeJobs), new(fakeJobs), logger)
	assert.Error(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent()) // rollbar runs its own transport goroutine

	jobs := &fakeJobs{block: make(chan struct{})}
	s := newScheduler(t, core.SchedulerConfig{Timezone: "UTC", ApplyCreditsSpec: "@every 1s"}, jobs)
	s.Start()

	select {
	case <-jobs.block:
	case <-time.After(5 * time.Second):
		t.Fatal("apply-credits never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx), "running jobs are cancelled")
}
