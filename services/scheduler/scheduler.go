// Package scheduler runs the periodic billing jobs: monthly invoice generation & nightly credit application.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/billing"
)

type (
	InvoiceGenerator interface {
		Generate(ctx context.Context, req billing.GenerateRequest) (billing.GenerateResult, error)
	}

	CreditApplier interface {
		ApplyAllOutstanding(ctx context.Context) (int, error)
	}
)

type Scheduler struct {
	cron     *cron.Cron
	loc      *time.Location
	invoices InvoiceGenerator
	ledger   CreditApplier
	logger   core.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the billing jobs on the configured cron specs (5 fields, evaluated in the scheduler's timezone).
func New(conf core.SchedulerConfig, invoices InvoiceGenerator, ledger CreditApplier, logger core.Logger) (*Scheduler, error) {
	loc := conf.Location()
	cronLogger := cronLogger{logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		loc:      loc,
		invoices: invoices,
		ledger:   ledger,
		logger:   logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"generate-invoices", conf.GenerateInvoicesSpec, s.GenerateInvoices},
		{"apply-credits", conf.ApplyCreditsSpec, s.ApplyCredits},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.run(job.name, job.run) }); err != nil {
			return nil, errors.Wrapf(err, "scheduling %s (%q)", job.name, job.spec)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler: started", map[string]interface{}{"jobs": len(s.cron.Entries()), "timezone": s.loc.String()})
}

// Stop cancels the running jobs & waits for them to return, or for ctx to be done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("scheduler: stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for scheduled jobs")
	}
}

func (s *Scheduler) run(name string, job func(ctx context.Context) error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error(fmt.Sprintf("scheduler: %s failed: %v", name, err), err)
		return
	}
	s.logger.Info(fmt.Sprintf("scheduler: %s done", name), map[string]interface{}{"took": time.Since(start).String()})
}

// PreviousMonth returns the first & last days of the month before now, in loc.
func PreviousMonth(now time.Time, loc *time.Location) (core.Date, core.Date) {
	first := core.DateOf(now.In(loc)).FirstOfMonth().AddMonths(-1)
	return first, first.LastOfMonth()
}

// GenerateInvoices drafts last month's invoices of every enrolled student.
func (s *Scheduler) GenerateInvoices(ctx context.Context) error {
	now := core.NowFunc()
	start, end := PreviousMonth(now, s.loc)
	res, err := s.invoices.Generate(ctx, billing.GenerateRequest{
		PeriodStart: start,
		PeriodEnd:   end,
		IssueDate:   core.DateOf(now.In(s.loc)),
	})
	if err != nil {
		return errors.Wrapf(err, "generating invoices for %s to %s (%d made)", start, end, len(res.Invoices))
	}
	s.logger.Info("scheduler: invoices generated", map[string]interface{}{
		"period_start": start.String(),
		"period_end":   end.String(),
		"generated":    len(res.Invoices),
		"skipped":      len(res.Skipped),
	})
	return nil
}

// ApplyCredits applies every student's outstanding ledger entries to their open invoices.
func (s *Scheduler) ApplyCredits(ctx context.Context) error {
	count, err := s.ledger.ApplyAllOutstanding(ctx)
	if err != nil {
		return errors.Wrapf(err, "applying outstanding entries (%d applied)", count)
	}
	s.logger.Info("scheduler: outstanding entries applied", map[string]interface{}{"applications": count})
	return nil
}

// cronLogger reports cron's own events to the app logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvMap(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvMap(keysAndValues))
}

func kvMap(keysAndValues []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		m[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return m
}
