package billing

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/cadenza/core"
)

type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusIssued    InvoiceStatus = "issued"
	StatusPaid      InvoiceStatus = "paid"
	StatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusIssued, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

type Invoice struct {
	ID             string          `json:"id" db:"id"`
	Number         string          `json:"number" db:"number"`
	StudentID      string          `json:"student_id" db:"student_id"`
	PeriodStart    core.Date       `json:"period_start" db:"period_start"`
	PeriodEnd      core.Date       `json:"period_end" db:"period_end"`
	IssueDate      core.Date       `json:"issue_date" db:"issue_date"`
	DueDate        core.Date       `json:"due_date" db:"due_date"`
	Status         InvoiceStatus   `json:"status" db:"status"`
	Lines          []Line          `json:"lines" db:"-"`
	Total          decimal.Decimal `json:"total" db:"total"`
	DebitsApplied  decimal.Decimal `json:"debits_applied" db:"debits_applied"`
	CreditsApplied decimal.Decimal `json:"credits_applied" db:"credits_applied"`
	IssuedAt       null.Time       `json:"issued_at" db:"issued_at"`
	PaidAt         null.Time       `json:"paid_at" db:"paid_at"`
	CancelledAt    null.Time       `json:"cancelled_at" db:"cancelled_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"` // UTC
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"` // UTC
}

// AmountDue is what remains to be paid on the invoice.
func (inv Invoice) AmountDue() decimal.Decimal {
	return inv.Total.Add(inv.DebitsApplied).Sub(inv.CreditsApplied)
}

// IsOpen reports whether ledger entries can still be applied to the invoice.
func (inv Invoice) IsOpen() bool {
	return inv.Status == StatusDraft || inv.Status == StatusIssued
}

func (inv Invoice) MarshalJSON() ([]byte, error) {
	type invoice Invoice
	return json.Marshal(struct {
		invoice
		AmountDue decimal.Decimal `json:"amount_due"`
	}{invoice(inv), inv.AmountDue()})
}

// settle moves the invoice between issued & paid, following its amount due.
func (inv *Invoice) settle(now time.Time) {
	due := inv.AmountDue()
	switch {
	case inv.Status == StatusIssued && !due.IsPositive():
		inv.Status = StatusPaid
		inv.PaidAt = null.TimeFrom(now)
	case inv.Status == StatusPaid && due.IsPositive():
		inv.Status = StatusIssued
		inv.PaidAt = null.Time{}
	}
	inv.UpdatedAt = now
}

// Line bills the lessons of an enrollment at one unit price.
type Line struct {
	ID           string          `json:"id" db:"id"`
	InvoiceID    string          `json:"-" db:"invoice_id"`
	EnrollmentID string          `json:"enrollment_id" db:"enrollment_id"`
	Position     int             `json:"position" db:"position"`
	Description  string          `json:"description" db:"description"`
	Quantity     int             `json:"quantity" db:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price" db:"unit_price"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
}

func invoiceTotal(lines []Line) decimal.Decimal {
	return lo.Reduce(lines, func(total decimal.Decimal, l Line, _ int) decimal.Decimal {
		return total.Add(l.Amount)
	}, decimal.Zero)
}

type GenerateRequest struct {
	PeriodStart core.Date `json:"period_start" validate:"required"`
	PeriodEnd   core.Date `json:"period_end" validate:"required"`
	IssueDate   core.Date `json:"issue_date"` // defaults to today
	StudentIDs  []string  `json:"student_ids" validate:"omitempty,dive,uuid"`
}

var errPeriodEndBeforeStart = errors.New("period end cannot be before period start")

func (gr *GenerateRequest) Validate(validate *validator.Validate) error {
	if err := validate.Struct(gr); err != nil {
		return err
	}
	if gr.PeriodEnd.Before(gr.PeriodStart) {
		return core.NewFieldError("period_end", errPeriodEndBeforeStart)
	}
	return nil
}

type GenerateResult struct {
	Invoices []Invoice `json:"invoices"`
	// Skipped lists the students left out, with the reason.
	Skipped map[string]string `json:"skipped"`
}

type NewPayment struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Date      core.Date       `json:"date"` // defaults to today
	Reference string          `json:"reference" validate:"max=100"`
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.Amount = core.RoundMoney(np.Amount)
	np.Reference = core.CleanString(np.Reference)
	return validate.Struct(np)
}

type InvoiceFilter struct {
	StudentID   string        `query:"student_id"`
	Status      InvoiceStatus `query:"status"`
	PeriodStart core.Date     `query:"period_start"`
	PeriodEnd   core.Date     `query:"period_end"`
}

func (qf *InvoiceFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.Status = InvoiceStatus(core.CleanString(string(qf.Status), true /* lower */))
}

// Matches reports whether inv passes the filter; used by stores that can't filter themselves.
// the period bounds keep invoices whose period intersects [PeriodStart, PeriodEnd].
func (qf *InvoiceFilter) Matches(inv Invoice) bool {
	if qf == nil {
		return true
	}
	if qf.StudentID != "" && inv.StudentID != qf.StudentID {
		return false
	}
	if qf.Status != "" && inv.Status != qf.Status {
		return false
	}
	if !qf.PeriodStart.IsZero() && inv.PeriodEnd.Before(qf.PeriodStart) {
		return false
	}
	if !qf.PeriodEnd.IsZero() && inv.PeriodStart.After(qf.PeriodEnd) {
		return false
	}
	return true
}

// InvoiceOrderingFields maps the API ordering fields to DB columns.
var InvoiceOrderingFields = map[string]string{
	"number":       "number",
	"period_start": "period_start",
	"issue_date":   "issue_date",
	"due_date":     "due_date",
	"status":       "status",
	"total":        "total",
	"created_at":   "created_at",
}

// Ledger

type EntryKind string

const (
	KindCredit EntryKind = "credit"
	KindDebit  EntryKind = "debit"
)

func (k EntryKind) IsValid() bool { return k == KindCredit || k == KindDebit }

func (k EntryKind) opposite() EntryKind {
	if k == KindCredit {
		return KindDebit
	}
	return KindCredit
}

type EntrySource string

const (
	SourceManual     EntrySource = "manual"
	SourceAbsence    EntrySource = "absence"
	SourcePayment    EntrySource = "payment"
	SourceCorrection EntrySource = "correction"
)

// Entry is a credit or a debit on a student's account. entries are never edited:
// mistakes are fixed by reversing them with a correction entry.
type Entry struct {
	ID                string          `json:"id" db:"id"`
	StudentID         string          `json:"student_id" db:"student_id"`
	Kind              EntryKind       `json:"kind" db:"kind"`
	Source            EntrySource     `json:"source" db:"source"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Applied           decimal.Decimal `json:"applied" db:"applied"`
	Description       string          `json:"description" db:"description"`
	Reference         null.String     `json:"reference" db:"reference"`
	EntryDate         core.Date       `json:"entry_date" db:"entry_date"`
	ReversesEntryID   null.String     `json:"reverses_entry_id" db:"reverses_entry_id"`
	ReversedByEntryID null.String     `json:"reversed_by_entry_id" db:"reversed_by_entry_id"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"` // UTC
}

func (e Entry) Remaining() decimal.Decimal {
	return e.Amount.Sub(e.Applied)
}

// IsReversed reports whether the entry was cancelled by a correction.
func (e Entry) IsReversed() bool {
	return e.ReversedByEntryID.Valid
}

// Applicable reports whether the entry can (still) be applied to invoices.
func (e Entry) Applicable() bool {
	return e.Source != SourceCorrection && !e.IsReversed() && e.Remaining().IsPositive()
}

func (e Entry) MarshalJSON() ([]byte, error) {
	type entry Entry
	return json.Marshal(struct {
		entry
		Remaining decimal.Decimal `json:"remaining"`
	}{entry(e), e.Remaining()})
}

type NewEntry struct {
	StudentID   string          `json:"student_id" validate:"required,uuid"`
	Kind        EntryKind       `json:"kind" validate:"enum"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Description string          `json:"description" validate:"required,notblank,max=255"`
	Reference   string          `json:"reference" validate:"max=100"`
	EntryDate   core.Date       `json:"entry_date"` // defaults to today
}

func (ne *NewEntry) Validate(validate *validator.Validate) error {
	ne.Amount = core.RoundMoney(ne.Amount)
	ne.Description = core.CleanString(ne.Description)
	ne.Reference = core.CleanString(ne.Reference)
	return validate.Struct(ne)
}

type ApplyEntryRequest struct {
	InvoiceID string              `json:"invoice_id" validate:"required,uuid"`
	Amount    decimal.NullDecimal `json:"amount"` // defaults to as much as possible
}

func (ar *ApplyEntryRequest) Validate(validate *validator.Validate) error {
	if err := validate.Struct(ar); err != nil {
		return err
	}
	if ar.Amount.Valid {
		ar.Amount.Decimal = core.RoundMoney(ar.Amount.Decimal)
		if !ar.Amount.Decimal.IsPositive() {
			return core.NewFieldError("amount", errNonPositiveAmount)
		}
	}
	return nil
}

type ReverseEntryRequest struct {
	Reason string `json:"reason" validate:"required,notblank,max=255"`
}

func (rr *ReverseEntryRequest) Validate(validate *validator.Validate) error {
	rr.Reason = core.CleanString(rr.Reason)
	return validate.Struct(rr)
}

type EntryFilter struct {
	StudentID string      `query:"student_id"`
	Kind      EntryKind   `query:"kind"`
	Source    EntrySource `query:"source"`
	From      core.Date   `query:"from"`
	To        core.Date   `query:"to"`
}

func (qf *EntryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.Kind = EntryKind(core.CleanString(string(qf.Kind), true /* lower */))
	qf.Source = EntrySource(core.CleanString(string(qf.Source), true /* lower */))
}

// Matches reports whether e passes the filter; used by stores that can't filter themselves.
func (qf *EntryFilter) Matches(e Entry) bool {
	if qf == nil {
		return true
	}
	if qf.StudentID != "" && e.StudentID != qf.StudentID {
		return false
	}
	if qf.Kind != "" && e.Kind != qf.Kind {
		return false
	}
	if qf.Source != "" && e.Source != qf.Source {
		return false
	}
	if !qf.From.IsZero() && e.EntryDate.Before(qf.From) {
		return false
	}
	if !qf.To.IsZero() && e.EntryDate.After(qf.To) {
		return false
	}
	return true
}

// Application is (part of) an entry applied to an invoice.
type Application struct {
	ID         string          `json:"id" db:"id"`
	EntryID    string          `json:"entry_id" db:"entry_id"`
	InvoiceID  string          `json:"invoice_id" db:"invoice_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	AppliedAt  time.Time       `json:"applied_at" db:"applied_at"` // UTC
	ReversedAt null.Time       `json:"reversed_at" db:"reversed_at"`
}

func (a Application) IsActive() bool {
	return !a.ReversedAt.Valid
}

type ApplicationFilter struct {
	EntryID    string
	InvoiceID  string
	ActiveOnly bool
}

func (qf ApplicationFilter) Matches(a Application) bool {
	if qf.EntryID != "" && a.EntryID != qf.EntryID {
		return false
	}
	if qf.InvoiceID != "" && a.InvoiceID != qf.InvoiceID {
		return false
	}
	return !qf.ActiveOnly || a.IsActive()
}

// Balance sums up a student's account.
type Balance struct {
	StudentID           string          `json:"student_id"`
	UnappliedCredit     decimal.Decimal `json:"unapplied_credit"`
	UnappliedDebit      decimal.Decimal `json:"unapplied_debit"`
	OutstandingInvoices decimal.Decimal `json:"outstanding_invoices"`
	AmountOwed          decimal.Decimal `json:"amount_owed"`
}

// StatementItem is a line of a student's statement: an invoice, or a ledger entry.
// Amount is positive when it increases what the student owes.
type StatementItem struct {
	Date        core.Date       `json:"date"`
	Type        string          `json:"type"` // invoice | credit | debit
	ObjectID    string          `json:"object_id"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
	CreatedAt   time.Time       `json:"-"`
}

type Statement struct {
	StudentID      string          `json:"student_id"`
	From           core.NullDate   `json:"from"`
	To             core.NullDate   `json:"to"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Items          []StatementItem `json:"items"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}
