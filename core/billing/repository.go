package billing

import (
	"context"

	"github.com/trezcool/cadenza/core"
)

type Repository interface {
	// NextInvoiceSeq returns the next sequence number of the invoices whose number starts with prefix.
	// implementations must serialize concurrent callers until the end of their transaction.
	NextInvoiceSeq(ctx context.Context, prefix string, exec ...core.DBExecutor) (int, error)
	// CreateInvoice stores the invoice along with its lines.
	CreateInvoice(ctx context.Context, inv Invoice, exec ...core.DBExecutor) (Invoice, error)
	GetInvoice(ctx context.Context, id string, exec ...core.DBExecutor) (Invoice, error)
	QueryInvoices(ctx context.Context, filter *InvoiceFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Invoice, error)
	// UpdateInvoice saves the status, applied amounts & timestamps of the invoice; lines are never updated.
	UpdateInvoice(ctx context.Context, inv Invoice, exec ...core.DBExecutor) (Invoice, error)
	// InvoiceExists reports whether the student has a non-cancelled invoice for exactly [periodStart, periodEnd].
	InvoiceExists(ctx context.Context, studentID string, periodStart, periodEnd core.Date, exec ...core.DBExecutor) (bool, error)
	// OpenInvoices returns the student's draft & issued invoices, oldest (issue date, then number) first.
	OpenInvoices(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]Invoice, error)

	CreateEntry(ctx context.Context, e Entry, exec ...core.DBExecutor) (Entry, error)
	GetEntry(ctx context.Context, id string, exec ...core.DBExecutor) (Entry, error)
	// QueryEntries returns entries in chronological (entry date, then creation) order.
	QueryEntries(ctx context.Context, filter *EntryFilter, exec ...core.DBExecutor) ([]Entry, error)
	// ApplicableEntries returns the student's entries that can still be applied, in chronological order.
	ApplicableEntries(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]Entry, error)
	// UpdateEntry saves the applied amount & reversal link of the entry.
	UpdateEntry(ctx context.Context, e Entry, exec ...core.DBExecutor) (Entry, error)
	// StudentsWithApplicableEntries returns the IDs of the students having applicable entries & open invoices.
	StudentsWithApplicableEntries(ctx context.Context, exec ...core.DBExecutor) ([]string, error)

	CreateApplication(ctx context.Context, a Application, exec ...core.DBExecutor) (Application, error)
	GetApplication(ctx context.Context, id string, exec ...core.DBExecutor) (Application, error)
	// QueryApplications returns applications in the order they were made.
	QueryApplications(ctx context.Context, filter ApplicationFilter, exec ...core.DBExecutor) ([]Application, error)
	// UpdateApplication saves the reversal time of the application.
	UpdateApplication(ctx context.Context, a Application, exec ...core.DBExecutor) (Application, error)

	// Balance sums the student's applicable entries & the amount due on issued invoices.
	// AmountOwed is left to the caller.
	Balance(ctx context.Context, studentID string, exec ...core.DBExecutor) (Balance, error)
	// StatementItems returns the student's issued (or paid) invoices & all their entries, in
	// chronological order, signed; Balance is left to the caller.
	StatementItems(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]StatementItem, error)
}
