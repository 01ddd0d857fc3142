package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/student"
)

var (
	ErrEntryNotFound       = core.NewNotFoundError("ledger entry")
	ErrApplicationNotFound = core.NewNotFoundError("ledger application")

	errNonPositiveAmount      = errors.New("amount must be greater than 0")
	errEntryNotApplicable     = core.NewFieldError("entry_id", errors.New("this entry has nothing left to apply"))
	errInvoiceNotOpen         = core.NewFieldError("invoice_id", errors.New("entries can only be applied to draft or issued invoices"))
	errOtherStudentsInvoice   = core.NewFieldError("invoice_id", errors.New("this invoice belongs to another student"))
	errAmountExceedsRemaining = core.NewFieldError("amount", errors.New("amount exceeds what is left of the entry"))
	errAmountExceedsDue       = core.NewFieldError("amount", errors.New("amount exceeds the amount due on the invoice"))
	errNothingDue             = core.NewFieldError("invoice_id", errors.New("nothing is due on this invoice"))
	errApplicationReversed    = core.NewFieldError("id", errors.New("this application has already been reversed"))
	errEntryAlreadyReversed   = core.NewFieldError("id", errors.New("this entry has already been reversed"))
	errCorrectionReversal     = core.NewFieldError("id", errors.New("corrections cannot be reversed"))
	errUnknownStudent         = core.NewFieldError("student_id", errors.New("student not found"))
)

// LedgerService keeps students' credit & debit entries, and applies them to their invoices.
// every operation runs in a transaction holding the student's lock; operations accept the
// executor of an enclosing transaction.
type LedgerService struct {
	db       core.Transactor
	repo     Repository
	students student.Repository
	logger   core.Logger
}

func NewLedgerService(db core.Transactor, repo Repository, students student.Repository, logger core.Logger) *LedgerService {
	return &LedgerService{db: db, repo: repo, students: students, logger: logger}
}

// AddEntry appends a manual entry to a student's ledger.
func (svc *LedgerService) AddEntry(ctx context.Context, ne NewEntry, exec ...core.DBExecutor) (Entry, error) {
	e := Entry{
		StudentID:   ne.StudentID,
		Kind:        ne.Kind,
		Source:      SourceManual,
		Amount:      ne.Amount,
		Description: ne.Description,
		EntryDate:   ne.EntryDate,
	}
	if ne.Reference != "" {
		e.Reference = null.StringFrom(ne.Reference)
	}
	return svc.addEntry(ctx, e, exec...)
}

// AbsenceCredit is the credit earned by missing a lesson.
type AbsenceCredit struct {
	StudentID   string
	Amount      decimal.Decimal
	Description string
	LessonDate  core.Date
}

func (svc *LedgerService) AddAbsenceCredit(ctx context.Context, ac AbsenceCredit, exec ...core.DBExecutor) (Entry, error) {
	return svc.addEntry(ctx, Entry{
		StudentID:   ac.StudentID,
		Kind:        KindCredit,
		Source:      SourceAbsence,
		Amount:      ac.Amount,
		Description: ac.Description,
		Reference:   null.StringFrom(ac.LessonDate.String()),
	}, exec...)
}

// addEntry appends an entry of any source.
func (svc *LedgerService) addEntry(ctx context.Context, e Entry, exec ...core.DBExecutor) (Entry, error) {
	if !e.Amount.IsPositive() {
		return e, core.NewFieldError("amount", errNonPositiveAmount)
	}
	if e.EntryDate.IsZero() {
		e.EntryDate = core.Today()
	}
	e.Applied = decimal.Zero
	e.CreatedAt = core.NowFunc().UTC()

	err := core.RunInTx(ctx, svc.db, exec, func(exec core.DBExecutor) error {
		if err := svc.lockStudent(ctx, e.StudentID, exec); err != nil {
			return err
		}
		var err error
		e, err = svc.repo.CreateEntry(ctx, e, exec)
		return err
	})
	return e, err
}

// ApplyOutstanding applies the student's applicable entries to their open invoices, oldest first.
// debits are applied whole to the oldest open invoice; credits pay off invoices one after the other,
// splitting across invoices when needed. what can't be applied is kept for later.
func (svc *LedgerService) ApplyOutstanding(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]Application, error) {
	var apps []Application
	err := core.RunInTx(ctx, svc.db, exec, func(exec core.DBExecutor) error {
		if err := svc.lockStudent(ctx, studentID, exec); err != nil {
			return err
		}

		invoices, err := svc.repo.OpenInvoices(ctx, studentID, exec)
		if err != nil {
			return err
		}
		if len(invoices) == 0 {
			return nil
		}
		entries, err := svc.repo.ApplicableEntries(ctx, studentID, exec)
		if err != nil {
			return err
		}

		for i := range entries {
			entry := &entries[i]
			if entry.Kind != KindDebit {
				continue
			}
			app, err := svc.apply(ctx, entry, &invoices[0], entry.Remaining(), exec)
			if err != nil {
				return err
			}
			apps = append(apps, app)
		}

		for i := range entries {
			entry := &entries[i]
			if entry.Kind != KindCredit {
				continue
			}
			for j := range invoices {
				inv := &invoices[j]
				due := inv.AmountDue()
				if !due.IsPositive() {
					continue
				}
				app, err := svc.apply(ctx, entry, inv, decimal.Min(entry.Remaining(), due), exec)
				if err != nil {
					return err
				}
				apps = append(apps, app)
				if !entry.Remaining().IsPositive() {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return apps, nil
}

// ApplyAllOutstanding runs ApplyOutstanding for every student that has something to apply,
// each in its own transaction. failures are logged, and the first one is returned once all students are done.
func (svc *LedgerService) ApplyAllOutstanding(ctx context.Context) (int, error) {
	studentIDs, err := svc.repo.StudentsWithApplicableEntries(ctx)
	if err != nil {
		return 0, err
	}

	var (
		count    int
		firstErr error
	)
	for _, id := range studentIDs {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		apps, err := svc.ApplyOutstanding(ctx, id)
		if err != nil {
			svc.logger.Error("applying outstanding entries failed", err, map[string]interface{}{"student_id": id})
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "student %s", id)
			}
			continue
		}
		count += len(apps)
	}
	return count, firstErr
}

// ApplyEntry applies an entry to a given invoice. the amount defaults to what is left of the entry,
// capped by the amount due for credits.
func (svc *LedgerService) ApplyEntry(ctx context.Context, entryID string, req ApplyEntryRequest, exec ...core.DBExecutor) (Application, error) {
	var app Application
	err := core.RunInTx(ctx, svc.db, exec, func(exec core.DBExecutor) error {
		entry, err := svc.lockEntry(ctx, entryID, exec)
		if err != nil {
			return err
		}
		if !entry.Applicable() {
			return errEntryNotApplicable
		}

		inv, err := svc.repo.GetInvoice(ctx, req.InvoiceID, exec)
		if err != nil {
			return err
		}
		if inv.StudentID != entry.StudentID {
			return errOtherStudentsInvoice
		}
		if !inv.IsOpen() {
			return errInvoiceNotOpen
		}

		amount := entry.Remaining()
		if entry.Kind == KindCredit {
			due := inv.AmountDue()
			if !due.IsPositive() {
				return errNothingDue
			}
			amount = decimal.Min(amount, due)
		}
		if req.Amount.Valid {
			if req.Amount.Decimal.GreaterThan(entry.Remaining()) {
				return errAmountExceedsRemaining
			}
			if entry.Kind == KindCredit && req.Amount.Decimal.GreaterThan(inv.AmountDue()) {
				return errAmountExceedsDue
			}
			amount = req.Amount.Decimal
		}

		app, err = svc.apply(ctx, &entry, &inv, amount, exec)
		return err
	})
	return app, err
}

// apply records the application of amount of entry to inv, and saves both.
func (svc *LedgerService) apply(ctx context.Context, entry *Entry, inv *Invoice, amount decimal.Decimal, exec core.DBExecutor) (Application, error) {
	now := core.NowFunc().UTC()
	app, err := svc.repo.CreateApplication(ctx, Application{
		EntryID:   entry.ID,
		InvoiceID: inv.ID,
		Amount:    amount,
		AppliedAt: now,
	}, exec)
	if err != nil {
		return app, err
	}

	entry.Applied = entry.Applied.Add(amount)
	if *entry, err = svc.repo.UpdateEntry(ctx, *entry, exec); err != nil {
		return app, err
	}

	if entry.Kind == KindCredit {
		inv.CreditsApplied = inv.CreditsApplied.Add(amount)
	} else {
		inv.DebitsApplied = inv.DebitsApplied.Add(amount)
	}
	inv.settle(now)
	if *inv, err = svc.repo.UpdateInvoice(ctx, *inv, exec); err != nil {
		return app, err
	}
	return app, nil
}

// ReverseApplication undoes an application: the entry gets its amount back, and the invoice
// is due again (a paid invoice goes back to issued).
func (svc *LedgerService) ReverseApplication(ctx context.Context, applicationID string, exec ...core.DBExecutor) (Application, error) {
	var app Application
	err := core.RunInTx(ctx, svc.db, exec, func(exec core.DBExecutor) error {
		var err error
		if app, err = svc.repo.GetApplication(ctx, applicationID, exec); err != nil {
			return err
		}
		entry, err := svc.lockEntry(ctx, app.EntryID, exec)
		if err != nil {
			return err
		}
		// reload under the student's lock: a concurrent reversal may have committed meanwhile
		if app, err = svc.repo.GetApplication(ctx, applicationID, exec); err != nil {
			return err
		}
		app, err = svc.reverse(ctx, app, &entry, exec)
		return err
	})
	return app, err
}

func (svc *LedgerService) reverse(ctx context.Context, app Application, entry *Entry, exec core.DBExecutor) (Application, error) {
	if !app.IsActive() {
		return app, errApplicationReversed
	}
	inv, err := svc.repo.GetInvoice(ctx, app.InvoiceID, exec)
	if err != nil {
		return app, err
	}

	now := core.NowFunc().UTC()
	app.ReversedAt = null.TimeFrom(now)
	if app, err = svc.repo.UpdateApplication(ctx, app, exec); err != nil {
		return app, err
	}

	entry.Applied = entry.Applied.Sub(app.Amount)
	if *entry, err = svc.repo.UpdateEntry(ctx, *entry, exec); err != nil {
		return app, err
	}

	if entry.Kind == KindCredit {
		inv.CreditsApplied = inv.CreditsApplied.Sub(app.Amount)
	} else {
		inv.DebitsApplied = inv.DebitsApplied.Sub(app.Amount)
		if err = svc.returnExcessCredit(ctx, &inv, now, exec); err != nil {
			return app, err
		}
	}
	inv.settle(now)
	_, err = svc.repo.UpdateInvoice(ctx, inv, exec)
	return app, err
}

// returnExcessCredit gives back the credit applied to inv beyond Total + DebitsApplied, latest
// applications first. a partly returned application is reversed, and its kept part applied anew.
func (svc *LedgerService) returnExcessCredit(ctx context.Context, inv *Invoice, now time.Time, exec core.DBExecutor) error {
	excess := inv.CreditsApplied.Sub(inv.Total.Add(inv.DebitsApplied))
	if !excess.IsPositive() {
		return nil
	}
	apps, err := svc.repo.QueryApplications(ctx, ApplicationFilter{InvoiceID: inv.ID, ActiveOnly: true}, exec)
	if err != nil {
		return err
	}

	for i := len(apps) - 1; i >= 0 && excess.IsPositive(); i-- {
		app := apps[i]
		credit, err := svc.repo.GetEntry(ctx, app.EntryID, exec)
		if err != nil {
			return err
		}
		if credit.Kind != KindCredit {
			continue
		}

		app.ReversedAt = null.TimeFrom(now)
		if _, err = svc.repo.UpdateApplication(ctx, app, exec); err != nil {
			return err
		}
		credit.Applied = credit.Applied.Sub(app.Amount)
		if credit, err = svc.repo.UpdateEntry(ctx, credit, exec); err != nil {
			return err
		}
		inv.CreditsApplied = inv.CreditsApplied.Sub(app.Amount)

		returned := decimal.Min(app.Amount, excess)
		if kept := app.Amount.Sub(returned); kept.IsPositive() {
			if _, err = svc.apply(ctx, &credit, inv, kept, exec); err != nil {
				return err
			}
		}
		excess = excess.Sub(returned)
	}
	return nil
}

// DecoupleEntry reverses all the active applications of an entry.
func (svc *LedgerService) DecoupleEntry(ctx context.Context, entryID string, exec ...core.DBExecutor) ([]Application, error) {
	var reversed []Application
	err := core.RunInTx(ctx, svc.db, exec, func(exec core.DBExecutor) error {
		entry, err := svc.lockEntry(ctx, entryID, exec)
		if err != nil {
			return err
		}
		reversed, err = svc.decouple(ctx, &entry, exec)
		return err
	})
	return reversed, err
}

func (svc *LedgerService) decouple(ctx context.Context, entry *Entry, exec core.DBExecutor) ([]Application, error) {
	apps, err := svc.repo.QueryApplications(ctx, ApplicationFilter{EntryID: entry.ID, ActiveOnly: true}, exec)
	if err != nil {
		return nil, err
	}
	reversed := make([]Application, 0, len(apps))
	for _, app := range apps {
		if app, err = svc.reverse(ctx, app, entry, exec); err != nil {
			return nil, err
		}
		reversed = append(reversed, app)
	}
	return reversed, nil
}

// ReverseEntry cancels an entry: it is decoupled from its invoices, and a correction entry of the
// opposite kind & same amount is appended. neither can be applied afterwards.
func (svc *LedgerService) ReverseEntry(ctx context.Context, entryID, reason string, exec ...core.DBExecutor) (Entry, error) {
	var correction Entry
	err := core.RunInTx(ctx, svc.db, exec, func(exec core.DBExecutor) error {
		entry, err := svc.lockEntry(ctx, entryID, exec)
		if err != nil {
			return err
		}
		if entry.Source == SourceCorrection {
			return errCorrectionReversal
		}
		if entry.IsReversed() {
			return errEntryAlreadyReversed
		}

		if _, err := svc.decouple(ctx, &entry, exec); err != nil {
			return err
		}

		correction, err = svc.repo.CreateEntry(ctx, Entry{
			StudentID:       entry.StudentID,
			Kind:            entry.Kind.opposite(),
			Source:          SourceCorrection,
			Amount:          entry.Amount,
			Applied:         decimal.Zero,
			Description:     fmt.Sprintf("Reversal of %q: %s", entry.Description, reason),
			Reference:       entry.Reference,
			EntryDate:       core.Today(),
			ReversesEntryID: null.StringFrom(entry.ID),
			CreatedAt:       core.NowFunc().UTC(),
		}, exec)
		if err != nil {
			return err
		}

		entry.ReversedByEntryID = null.StringFrom(correction.ID)
		_, err = svc.repo.UpdateEntry(ctx, entry, exec)
		return err
	})
	return correction, err
}

func (svc *LedgerService) Balance(ctx context.Context, studentID string) (Balance, error) {
	if _, err := svc.students.GetStudent(ctx, studentID); err != nil {
		return Balance{}, err
	}
	bal, err := svc.repo.Balance(ctx, studentID)
	if err != nil {
		return bal, err
	}
	bal.StudentID = studentID
	bal.AmountOwed = bal.OutstandingInvoices.Add(bal.UnappliedDebit).Sub(bal.UnappliedCredit)
	return bal, nil
}

func (svc *LedgerService) GetEntry(ctx context.Context, id string, exec ...core.DBExecutor) (Entry, error) {
	return svc.repo.GetEntry(ctx, id, exec...)
}

func (svc *LedgerService) Entries(ctx context.Context, filter *EntryFilter) ([]Entry, error) {
	return svc.repo.QueryEntries(ctx, filter)
}

// Applications returns all the applications (reversed ones included) made on an invoice.
func (svc *LedgerService) Applications(ctx context.Context, invoiceID string) ([]Application, error) {
	if _, err := svc.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return svc.repo.QueryApplications(ctx, ApplicationFilter{InvoiceID: invoiceID})
}

func (svc *LedgerService) lockStudent(ctx context.Context, studentID string, exec core.DBExecutor) error {
	if _, err := svc.students.LockStudent(ctx, studentID, exec); err != nil {
		if core.IsNotFound(err) {
			return errUnknownStudent
		}
		return err
	}
	return nil
}

// lockEntry locks the entry's student, then (re)loads the entry.
func (svc *LedgerService) lockEntry(ctx context.Context, entryID string, exec core.DBExecutor) (Entry, error) {
	entry, err := svc.repo.GetEntry(ctx, entryID, exec)
	if err != nil {
		return entry, err
	}
	if err := svc.lockStudent(ctx, entry.StudentID, exec); err != nil {
		return entry, err
	}
	return svc.repo.GetEntry(ctx, entryID, exec)
}
