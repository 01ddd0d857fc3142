package billing

import (
	"context"
	"fmt"
	"net/mail"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/course"
	"github.com/trezcool/cadenza/core/enrollment"
	"github.com/trezcool/cadenza/core/pricing"
	"github.com/trezcool/cadenza/core/student"
)

var (
	ErrInvoiceNotFound = core.NewNotFoundError("invoice")

	errNotDraft         = core.NewFieldError("status", errors.New("only draft invoices can be issued"))
	errCancelPaid       = core.NewFieldError("status", errors.New("paid invoices cannot be cancelled"))
	errAlreadyCancelled = core.NewFieldError("status", errors.New("this invoice is already cancelled"))
	errPaymentNotIssued = core.NewFieldError("status", errors.New("payments can only be recorded on issued invoices"))
)

const (
	skipUnknownStudent  = "student not found"
	skipAlreadyInvoiced = "already invoiced for this period"
	skipNoLessons       = "no lessons to bill"
	skipFailed          = "invoicing failed, see logs"

	invoiceIssuedTemplate = "invoice_issued"
)

// InvoiceService bills students for the lessons of their enrollments.
type InvoiceService struct {
	db          core.Transactor
	repo        Repository
	students    student.Repository
	enrollments enrollment.Repository
	courses     course.Repository
	pricing     *pricing.EnrollmentPricing
	ledger      *LedgerService
	mailSvc     core.EmailService
	conf        *core.Config
	logger      core.Logger
}

func NewInvoiceService(
	db core.Transactor,
	repo Repository,
	students student.Repository,
	enrollments enrollment.Repository,
	courses course.Repository,
	enrPricing *pricing.EnrollmentPricing,
	ledger *LedgerService,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
) *InvoiceService {
	return &InvoiceService{
		db:          db,
		repo:        repo,
		students:    students,
		enrollments: enrollments,
		courses:     courses,
		pricing:     enrPricing,
		ledger:      ledger,
		mailSvc:     mailSvc,
		conf:        conf,
		logger:      logger,
	}
}

// Generate drafts an invoice per student for the lessons they attend over the period.
// students already invoiced for that exact period are skipped, so it is safe to run again.
// each student is invoiced in its own transaction; a student that fails is logged & listed as skipped,
// and the others are still invoiced.
func (svc *InvoiceService) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	issueDate := req.IssueDate
	if issueDate.IsZero() {
		issueDate = core.Today()
	}

	studentIDs := req.StudentIDs
	if len(studentIDs) == 0 {
		enrs, err := svc.enrollments.QueryEnrollments(ctx, &enrollment.QueryFilter{ActiveFrom: req.PeriodStart, ActiveTo: req.PeriodEnd}, nil)
		if err != nil {
			return GenerateResult{}, err
		}
		studentIDs = lo.Uniq(lo.Map(enrs, func(e enrollment.Enrollment, _ int) string { return e.StudentID }))
	}
	studentIDs = lo.Uniq(studentIDs)
	sort.Strings(studentIDs)

	result := GenerateResult{Invoices: make([]Invoice, 0, len(studentIDs)), Skipped: make(map[string]string)}
	for _, id := range studentIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		inv, skipped, err := svc.generateFor(ctx, id, req.PeriodStart, req.PeriodEnd, issueDate)
		if err != nil {
			svc.logger.Error("invoicing student failed", errors.Wrapf(err, "invoicing student %s", id), map[string]interface{}{"student_id": id})
			result.Skipped[id] = skipFailed
			continue
		}
		if skipped != "" {
			result.Skipped[id] = skipped
			continue
		}
		result.Invoices = append(result.Invoices, inv)
	}
	return result, nil
}

func (svc *InvoiceService) generateFor(ctx context.Context, studentID string, periodStart, periodEnd, issueDate core.Date) (inv Invoice, skipped string, err error) {
	err = svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		st, err := svc.students.LockStudent(ctx, studentID, exec)
		if err != nil {
			if core.IsNotFound(err) {
				skipped = skipUnknownStudent
				return nil
			}
			return err
		}

		exists, err := svc.repo.InvoiceExists(ctx, st.ID, periodStart, periodEnd, exec)
		if err != nil {
			return err
		}
		if exists {
			skipped = skipAlreadyInvoiced
			return nil
		}

		lines, skip, err := svc.buildLines(ctx, st, periodStart, periodEnd, exec)
		if err != nil {
			return err
		}
		if skip != "" {
			skipped = skip
			return nil
		}

		prefix := fmt.Sprintf("%s-%s-", svc.conf.Billing.InvoicePrefix, issueDate.Format("200601"))
		seq, err := svc.repo.NextInvoiceSeq(ctx, prefix, exec)
		if err != nil {
			return err
		}

		now := core.NowFunc().UTC()
		inv, err = svc.repo.CreateInvoice(ctx, Invoice{
			Number:         fmt.Sprintf("%s%04d", prefix, seq),
			StudentID:      st.ID,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			IssueDate:      issueDate,
			DueDate:        issueDate.AddDays(svc.conf.Billing.InvoiceDueDays),
			Status:         StatusDraft,
			Lines:          lines,
			Total:          invoiceTotal(lines),
			DebitsApplied:  decimal.Zero,
			CreditsApplied: decimal.Zero,
			CreatedAt:      now,
			UpdatedAt:      now,
		}, exec)
		if err != nil {
			return err
		}

		if svc.conf.Billing.AutoApplyCredits {
			if _, err := svc.ledger.ApplyOutstanding(ctx, st.ID, exec); err != nil {
				return errors.Wrap(err, "applying outstanding entries")
			}
			inv, err = svc.repo.GetInvoice(ctx, inv.ID, exec)
		}
		return err
	})
	return inv, skipped, err
}

// lessonGroup gathers the lessons of an enrollment billed at one unit price.
type lessonGroup struct {
	price decimal.Decimal
	dates []core.Date
}

// buildLines makes one line per (enrollment, unit price) of the student's lessons over the period,
// each lesson being priced at the version valid on its date.
func (svc *InvoiceService) buildLines(ctx context.Context, st student.Student, periodStart, periodEnd core.Date, exec core.DBExecutor) ([]Line, string, error) {
	filter := &enrollment.QueryFilter{StudentID: st.ID, ActiveFrom: periodStart, ActiveTo: periodEnd}
	enrs, err := svc.enrollments.QueryEnrollments(ctx, filter, []core.DBOrdering{{Field: "start_date", Ascending: true}}, exec)
	if err != nil {
		return nil, "", err
	}

	var lines []Line
	for _, enr := range enrs {
		start, end, ok := enr.Within(periodStart, periodEnd)
		if !ok {
			continue
		}
		crs, err := svc.courses.GetCourse(ctx, enr.CourseID, exec)
		if err != nil {
			return nil, "", err
		}

		var groups []*lessonGroup
		for _, date := range crs.Lessons(start, end) {
			quote, err := svc.pricing.Quote(ctx, enr, st, crs.CourseTypeID, date, exec)
			if err != nil {
				if core.IsNotFound(err) {
					return nil, fmt.Sprintf("no price for %s on %s", crs.Name, date), nil
				}
				return nil, "", err
			}
			grp, found := lo.Find(groups, func(g *lessonGroup) bool { return g.price.Equal(quote.Price) })
			if !found {
				grp = &lessonGroup{price: quote.Price}
				groups = append(groups, grp)
			}
			grp.dates = append(grp.dates, date)
		}

		for _, grp := range groups {
			qty := len(grp.dates)
			lines = append(lines, Line{
				EnrollmentID: enr.ID,
				Position:     len(lines) + 1,
				Description:  fmt.Sprintf("%s, %s to %s", crs.Name, grp.dates[0], grp.dates[qty-1]),
				Quantity:     qty,
				UnitPrice:    grp.price,
				Amount:       core.RoundMoney(grp.price.Mul(decimal.NewFromInt(int64(qty)))),
			})
		}
	}
	if len(lines) == 0 {
		return nil, skipNoLessons, nil
	}
	return lines, "", nil
}

// Issue sends a draft invoice to the student. invoices with nothing left to pay are issued as paid.
func (svc *InvoiceService) Issue(ctx context.Context, id string) (Invoice, error) {
	var inv Invoice
	err := svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if inv, err = svc.lockInvoice(ctx, id, exec); err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return errNotDraft
		}
		now := core.NowFunc().UTC()
		inv.Status = StatusIssued
		inv.IssuedAt = null.TimeFrom(now)
		inv.settle(now)
		inv, err = svc.repo.UpdateInvoice(ctx, inv, exec)
		return err
	})
	if err != nil {
		return inv, err
	}

	if err := svc.notifyIssued(ctx, inv); err != nil {
		return inv, errors.Wrap(err, "sending invoice email")
	}
	return inv, nil
}

func (svc *InvoiceService) notifyIssued(ctx context.Context, inv Invoice) error {
	st, err := svc.students.GetStudent(ctx, inv.StudentID)
	if err != nil {
		return err
	}
	to := st.BillingAddress()
	if to.Address == "" {
		return nil
	}

	recipient := to.Name
	if recipient == "" {
		recipient = st.FullName()
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{to},
		Subject:      fmt.Sprintf("Invoice %s", inv.Number),
		TemplateName: invoiceIssuedTemplate,
		TemplateData: map[string]interface{}{
			"Recipient":      recipient,
			"Number":         inv.Number,
			"StudentName":    st.FullName(),
			"PeriodStart":    inv.PeriodStart,
			"PeriodEnd":      inv.PeriodEnd,
			"Lines":          inv.Lines,
			"Total":          inv.Total.StringFixed(2),
			"CreditsApplied": inv.CreditsApplied.StringFixed(2),
			"AmountDue":      inv.AmountDue().StringFixed(2),
			"Currency":       svc.conf.Billing.Currency,
			"DueDate":        inv.DueDate,
		},
	})
	return nil
}

// Cancel voids an invoice; the entries applied to it are given back to the student.
func (svc *InvoiceService) Cancel(ctx context.Context, id string) (Invoice, error) {
	var inv Invoice
	err := svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if inv, err = svc.lockInvoice(ctx, id, exec); err != nil {
			return err
		}
		switch inv.Status {
		case StatusPaid:
			return errCancelPaid
		case StatusCancelled:
			return errAlreadyCancelled
		}

		apps, err := svc.repo.QueryApplications(ctx, ApplicationFilter{InvoiceID: inv.ID, ActiveOnly: true}, exec)
		if err != nil {
			return err
		}
		// credits first: with no credit left on the invoice, reversing debits has nothing to give back
		entries := make(map[string]Entry, len(apps))
		for _, app := range apps {
			entry, err := svc.repo.GetEntry(ctx, app.EntryID, exec)
			if err != nil {
				return err
			}
			entries[app.EntryID] = entry
		}
		for _, kind := range []EntryKind{KindCredit, KindDebit} {
			for _, app := range apps {
				if entries[app.EntryID].Kind != kind {
					continue
				}
				entry, err := svc.repo.GetEntry(ctx, app.EntryID, exec)
				if err != nil {
					return err
				}
				if _, err := svc.ledger.reverse(ctx, app, &entry, exec); err != nil {
					return err
				}
			}
		}

		if inv, err = svc.repo.GetInvoice(ctx, inv.ID, exec); err != nil {
			return err
		}
		now := core.NowFunc().UTC()
		inv.Status = StatusCancelled
		inv.CancelledAt = null.TimeFrom(now)
		inv.UpdatedAt = now
		inv, err = svc.repo.UpdateInvoice(ctx, inv, exec)
		return err
	})
	return inv, err
}

// RecordPayment books a payment credit on the student's ledger & applies it to the invoice.
// what exceeds the amount due is left on the ledger as credit.
func (svc *InvoiceService) RecordPayment(ctx context.Context, id string, np NewPayment) (Invoice, Entry, error) {
	var (
		inv   Invoice
		entry Entry
	)
	err := svc.db.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if inv, err = svc.lockInvoice(ctx, id, exec); err != nil {
			return err
		}
		if inv.Status != StatusIssued {
			return errPaymentNotIssued
		}

		ref := np.Reference
		if ref == "" {
			ref = inv.Number
		}
		entry, err = svc.ledger.addEntry(ctx, Entry{
			StudentID:   inv.StudentID,
			Kind:        KindCredit,
			Source:      SourcePayment,
			Amount:      np.Amount,
			Description: fmt.Sprintf("Payment of invoice %s", inv.Number),
			Reference:   null.StringFrom(ref),
			EntryDate:   np.Date,
		}, exec)
		if err != nil {
			return err
		}

		if amount := decimal.Min(entry.Remaining(), inv.AmountDue()); amount.IsPositive() {
			_, err = svc.ledger.apply(ctx, &entry, &inv, amount, exec)
		}
		return err
	})
	return inv, entry, err
}

func (svc *InvoiceService) Get(ctx context.Context, id string) (Invoice, error) {
	return svc.repo.GetInvoice(ctx, id)
}

func (svc *InvoiceService) Query(ctx context.Context, filter *InvoiceFilter, ordering []core.DBOrdering) ([]Invoice, error) {
	return svc.repo.QueryInvoices(ctx, filter, core.CleanOrdering(ordering, InvoiceOrderingFields))
}

// lockInvoice locks the invoice's student, then (re)loads the invoice.
func (svc *InvoiceService) lockInvoice(ctx context.Context, id string, exec core.DBExecutor) (Invoice, error) {
	inv, err := svc.repo.GetInvoice(ctx, id, exec)
	if err != nil {
		return inv, err
	}
	if _, err := svc.students.LockStudent(ctx, inv.StudentID, exec); err != nil {
		return inv, err
	}
	return svc.repo.GetInvoice(ctx, id, exec)
}
