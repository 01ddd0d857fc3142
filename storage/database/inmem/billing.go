package inmemdb

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/billing"
)

var invoiceColumns = map[string]comparer[billing.Invoice]{
	"number":       func(a, b billing.Invoice) int { return strings.Compare(a.Number, b.Number) },
	"period_start": func(a, b billing.Invoice) int { return cmpDate(a.PeriodStart, b.PeriodStart) },
	"issue_date":   func(a, b billing.Invoice) int { return cmpDate(a.IssueDate, b.IssueDate) },
	"due_date":     func(a, b billing.Invoice) int { return cmpDate(a.DueDate, b.DueDate) },
	"status":       func(a, b billing.Invoice) int { return cmpString(string(a.Status), string(b.Status)) },
	"total":        func(a, b billing.Invoice) int { return cmpDecimal(a.Total, b.Total) },
	"created_at":   func(a, b billing.Invoice) int { return cmpTime(a.CreatedAt, b.CreatedAt) },
}

type billingRepository struct {
	db *DB
}

func NewBillingRepository(db *DB) billing.Repository {
	return &billingRepository{db: db}
}

// Invoices

func (repo *billingRepository) NextInvoiceSeq(_ context.Context, prefix string, _ ...core.DBExecutor) (int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var last int
	for _, inv := range repo.db.invoices.all() {
		if !strings.HasPrefix(inv.Number, prefix) {
			continue
		}
		if seq, err := strconv.Atoi(strings.TrimPrefix(inv.Number, prefix)); err == nil && seq > last {
			last = seq
		}
	}
	return last + 1, nil
}

func (repo *billingRepository) CreateInvoice(_ context.Context, inv billing.Invoice, exec ...core.DBExecutor) (billing.Invoice, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	inv.ID = uuid.NewString()
	lines := make([]billing.Line, len(inv.Lines))
	for i, l := range inv.Lines {
		l.ID = uuid.NewString()
		l.InvoiceID = inv.ID
		lines[i] = l
	}
	inv.Lines = lines
	repo.db.invoices.insert(repo.db.journal(exec), inv.ID, inv)
	return inv, nil
}

func (repo *billingRepository) GetInvoice(_ context.Context, id string, _ ...core.DBExecutor) (billing.Invoice, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if inv, ok := repo.db.invoices.get(id); ok {
		return inv, nil
	}
	return billing.Invoice{}, billing.ErrInvoiceNotFound
}

func (repo *billingRepository) QueryInvoices(_ context.Context, filter *billing.InvoiceFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]billing.Invoice, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	invoices := repo.db.invoices.filter(filter.Matches)
	sortRows(invoices, ordering, invoiceColumns,
		core.DBOrdering{Field: "issue_date"}, core.DBOrdering{Field: "number"})
	return invoices, nil
}

func (repo *billingRepository) UpdateInvoice(_ context.Context, inv billing.Invoice, exec ...core.DBExecutor) (billing.Invoice, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.invoices.get(inv.ID)
	if !ok {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	orig.Status = inv.Status
	orig.DebitsApplied = inv.DebitsApplied
	orig.CreditsApplied = inv.CreditsApplied
	orig.IssuedAt = inv.IssuedAt
	orig.PaidAt = inv.PaidAt
	orig.CancelledAt = inv.CancelledAt
	orig.UpdatedAt = inv.UpdatedAt
	repo.db.invoices.update(repo.db.journal(exec), orig.ID, orig)
	return orig, nil
}

func (repo *billingRepository) InvoiceExists(_ context.Context, studentID string, periodStart, periodEnd core.Date, _ ...core.DBExecutor) (bool, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, inv := range repo.db.invoices.all() {
		if inv.StudentID == studentID && inv.Status != billing.StatusCancelled &&
			inv.PeriodStart.Equal(periodStart) && inv.PeriodEnd.Equal(periodEnd) {
			return true, nil
		}
	}
	return false, nil
}

func (repo *billingRepository) OpenInvoices(_ context.Context, studentID string, _ ...core.DBExecutor) ([]billing.Invoice, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	invoices := repo.db.invoices.filter(func(inv billing.Invoice) bool {
		return inv.StudentID == studentID && inv.IsOpen()
	})
	sortRows(invoices, []core.DBOrdering{{Field: "issue_date", Ascending: true}, {Field: "number", Ascending: true}}, invoiceColumns)
	return invoices, nil
}

// Entries

// sortEntries orders entries chronologically: by entry date, then creation.
func sortEntries(entries []billing.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if c := cmpDate(entries[i].EntryDate, entries[j].EntryDate); c != 0 {
			return c < 0
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

func (repo *billingRepository) CreateEntry(_ context.Context, e billing.Entry, exec ...core.DBExecutor) (billing.Entry, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	e.ID = uuid.NewString()
	repo.db.entries.insert(repo.db.journal(exec), e.ID, e)
	return e, nil
}

func (repo *billingRepository) GetEntry(_ context.Context, id string, _ ...core.DBExecutor) (billing.Entry, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if e, ok := repo.db.entries.get(id); ok {
		return e, nil
	}
	return billing.Entry{}, billing.ErrEntryNotFound
}

func (repo *billingRepository) QueryEntries(_ context.Context, filter *billing.EntryFilter, _ ...core.DBExecutor) ([]billing.Entry, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	entries := repo.db.entries.filter(filter.Matches)
	sortEntries(entries)
	return entries, nil
}

func (repo *billingRepository) ApplicableEntries(_ context.Context, studentID string, _ ...core.DBExecutor) ([]billing.Entry, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	entries := repo.db.entries.filter(func(e billing.Entry) bool {
		return e.StudentID == studentID && e.Applicable()
	})
	sortEntries(entries)
	return entries, nil
}

func (repo *billingRepository) UpdateEntry(_ context.Context, e billing.Entry, exec ...core.DBExecutor) (billing.Entry, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.entries.get(e.ID)
	if !ok {
		return billing.Entry{}, billing.ErrEntryNotFound
	}
	orig.Applied = e.Applied
	orig.ReversedByEntryID = e.ReversedByEntryID
	repo.db.entries.update(repo.db.journal(exec), orig.ID, orig)
	return orig, nil
}

func (repo *billingRepository) StudentsWithApplicableEntries(_ context.Context, _ ...core.DBExecutor) ([]string, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	withOpenInvoices := make(map[string]bool)
	for _, inv := range repo.db.invoices.all() {
		if inv.IsOpen() {
			withOpenInvoices[inv.StudentID] = true
		}
	}
	entries := repo.db.entries.filter(func(e billing.Entry) bool {
		return e.Applicable() && withOpenInvoices[e.StudentID]
	})
	ids := lo.Uniq(lo.Map(entries, func(e billing.Entry, _ int) string { return e.StudentID }))
	sort.Strings(ids)
	return ids, nil
}

// Applications

func (repo *billingRepository) CreateApplication(_ context.Context, a billing.Application, exec ...core.DBExecutor) (billing.Application, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	a.ID = uuid.NewString()
	repo.db.applications.insert(repo.db.journal(exec), a.ID, a)
	return a, nil
}

func (repo *billingRepository) GetApplication(_ context.Context, id string, _ ...core.DBExecutor) (billing.Application, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if a, ok := repo.db.applications.get(id); ok {
		return a, nil
	}
	return billing.Application{}, billing.ErrApplicationNotFound
}

func (repo *billingRepository) QueryApplications(_ context.Context, filter billing.ApplicationFilter, _ ...core.DBExecutor) ([]billing.Application, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	return repo.db.applications.filter(filter.Matches), nil
}

func (repo *billingRepository) UpdateApplication(_ context.Context, a billing.Application, exec ...core.DBExecutor) (billing.Application, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.applications.get(a.ID)
	if !ok {
		return billing.Application{}, billing.ErrApplicationNotFound
	}
	orig.ReversedAt = a.ReversedAt
	repo.db.applications.update(repo.db.journal(exec), orig.ID, orig)
	return orig, nil
}

// Reports

func (repo *billingRepository) Balance(_ context.Context, studentID string, _ ...core.DBExecutor) (billing.Balance, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	bal := billing.Balance{
		StudentID:           studentID,
		UnappliedCredit:     decimal.Zero,
		UnappliedDebit:      decimal.Zero,
		OutstandingInvoices: decimal.Zero,
	}
	for _, e := range repo.db.entries.all() {
		if e.StudentID != studentID || !e.Applicable() {
			continue
		}
		if e.Kind == billing.KindCredit {
			bal.UnappliedCredit = bal.UnappliedCredit.Add(e.Remaining())
		} else {
			bal.UnappliedDebit = bal.UnappliedDebit.Add(e.Remaining())
		}
	}
	for _, inv := range repo.db.invoices.all() {
		if inv.StudentID == studentID && inv.Status == billing.StatusIssued {
			bal.OutstandingInvoices = bal.OutstandingInvoices.Add(inv.AmountDue())
		}
	}
	return bal, nil
}

func (repo *billingRepository) StatementItems(_ context.Context, studentID string, _ ...core.DBExecutor) ([]billing.StatementItem, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var items []billing.StatementItem
	for _, inv := range repo.db.invoices.all() {
		if inv.StudentID != studentID || (inv.Status != billing.StatusIssued && inv.Status != billing.StatusPaid) {
			continue
		}
		items = append(items, billing.StatementItem{
			Date:        inv.IssueDate,
			Type:        "invoice",
			ObjectID:    inv.ID,
			Reference:   inv.Number,
			Description: "Invoice " + inv.Number,
			Amount:      inv.Total,
			CreatedAt:   inv.CreatedAt,
		})
	}
	for _, e := range repo.db.entries.all() {
		if e.StudentID != studentID {
			continue
		}
		amount := e.Amount
		if e.Kind == billing.KindCredit {
			amount = amount.Neg()
		}
		items = append(items, billing.StatementItem{
			Date:        e.EntryDate,
			Type:        string(e.Kind),
			ObjectID:    e.ID,
			Reference:   e.Reference.String,
			Description: e.Description,
			Amount:      amount,
			CreatedAt:   e.CreatedAt,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if c := cmpDate(items[i].Date, items[j].Date); c != 0 {
			return c < 0
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}
