package sqlxrepos

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/boil"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/billing"
)

type billingRepository struct {
	store
}

var _ billing.Repository = (*billingRepository)(nil)

func NewBillingRepository(db *sqlx.DB) billing.Repository {
	return &billingRepository{store{db: db}}
}

// boilExec returns the executor the sqlboiler report queries run on.
func (repo *billingRepository) boilExec(exec []core.DBExecutor) boil.ContextExecutor {
	ext := repo.ext(exec)
	bexec, ok := ext.(boil.ContextExecutor)
	if !ok {
		return repo.db
	}
	return bexec
}

// Invoices

const (
	invoiceColumns = `id, number, student_id, period_start, period_end, issue_date, due_date, status, total,
		debits_applied, credits_applied, issued_at, paid_at, cancelled_at, created_at, updated_at`
	lineColumns = `id, invoice_id, enrollment_id, position, description, quantity, unit_price, amount`
)

func (repo *billingRepository) NextInvoiceSeq(ctx context.Context, prefix string, exec ...core.DBExecutor) (int, error) {
	// held until the caller's transaction ends
	if _, err := repo.exec(ctx, exec, `SELECT pg_advisory_xact_lock(hashtext(?))`, "invoice:"+prefix); err != nil {
		return 0, errors.Wrap(err, "locking invoice numbers")
	}
	var last int
	q := `SELECT COALESCE(MAX(SUBSTR(number, ?::integer)::integer), 0) FROM invoice WHERE number LIKE ?`
	if err := repo.get(ctx, exec, &last, q, len(prefix)+1, likeArg(prefix)[1:]); err != nil {
		return 0, errors.Wrap(err, "finding last invoice number")
	}
	return last + 1, nil
}

func (repo *billingRepository) CreateInvoice(ctx context.Context, inv billing.Invoice, exec ...core.DBExecutor) (billing.Invoice, error) {
	inv.ID = uuid.NewString()
	const q = `INSERT INTO invoice (` + invoiceColumns + `)
		VALUES (:id, :number, :student_id, :period_start, :period_end, :issue_date, :due_date, :status, :total,
			:debits_applied, :credits_applied, :issued_at, :paid_at, :cancelled_at, :created_at, :updated_at)`
	if _, err := repo.namedExec(ctx, exec, q, inv); err != nil {
		return billing.Invoice{}, errors.Wrap(err, "inserting invoice")
	}

	lines := make([]billing.Line, len(inv.Lines))
	for i, l := range inv.Lines {
		l.ID = uuid.NewString()
		l.InvoiceID = inv.ID
		lines[i] = l
	}
	if len(lines) > 0 {
		const lq = `INSERT INTO invoice_line (` + lineColumns + `)
			VALUES (:id, :invoice_id, :enrollment_id, :position, :description, :quantity, :unit_price, :amount)`
		if _, err := repo.namedExec(ctx, exec, lq, lines); err != nil {
			return billing.Invoice{}, errors.Wrap(err, "inserting invoice lines")
		}
	}
	inv.Lines = lines
	return inv, nil
}

// withLines loads the lines of invoices.
func (repo *billingRepository) withLines(ctx context.Context, invoices []billing.Invoice, exec []core.DBExecutor) error {
	if len(invoices) == 0 {
		return nil
	}
	ids := make([]string, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
	}

	var lines []billing.Line
	q := `SELECT ` + lineColumns + ` FROM invoice_line WHERE invoice_id = ANY(?) ORDER BY position ASC`
	if err := repo.selectAll(ctx, exec, &lines, q, pq.Array(ids)); err != nil {
		return errors.Wrap(err, "loading invoice lines")
	}
	byInvoice := make(map[string][]billing.Line, len(invoices))
	for _, l := range lines {
		byInvoice[l.InvoiceID] = append(byInvoice[l.InvoiceID], l)
	}
	for i := range invoices {
		invoices[i].Lines = byInvoice[invoices[i].ID]
		if invoices[i].Lines == nil {
			invoices[i].Lines = []billing.Line{}
		}
	}
	return nil
}

func (repo *billingRepository) GetInvoice(ctx context.Context, id string, exec ...core.DBExecutor) (billing.Invoice, error) {
	if !validID(id) {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	invoices := make([]billing.Invoice, 1)
	if err := repo.get(ctx, exec, &invoices[0], `SELECT `+invoiceColumns+` FROM invoice WHERE id = ?`, id); err != nil {
		return billing.Invoice{}, trapNoRows(err, billing.ErrInvoiceNotFound, "finding invoice")
	}
	if err := repo.withLines(ctx, invoices, exec); err != nil {
		return billing.Invoice{}, err
	}
	return invoices[0], nil
}

func (repo *billingRepository) queryInvoices(ctx context.Context, c conds, order string, exec []core.DBExecutor) ([]billing.Invoice, error) {
	invoices := make([]billing.Invoice, 0)
	q := `SELECT ` + invoiceColumns + ` FROM invoice` + c.String() + order
	if err := repo.selectAll(ctx, exec, &invoices, q, c.args...); err != nil {
		return nil, errors.Wrap(err, "querying invoices")
	}
	if err := repo.withLines(ctx, invoices, exec); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (repo *billingRepository) QueryInvoices(ctx context.Context, filter *billing.InvoiceFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]billing.Invoice, error) {
	var c conds
	if filter != nil {
		if filter.StudentID != "" {
			if !validID(filter.StudentID) {
				return []billing.Invoice{}, nil
			}
			c.add("student_id = ?", filter.StudentID)
		}
		if filter.Status != "" {
			c.add("status = ?", filter.Status)
		}
		if !filter.PeriodStart.IsZero() {
			c.add("period_end >= ?", filter.PeriodStart)
		}
		if !filter.PeriodEnd.IsZero() {
			c.add("period_start <= ?", filter.PeriodEnd)
		}
	}
	return repo.queryInvoices(ctx, c, orderBy(ordering, "issue_date DESC, number DESC"), exec)
}

func (repo *billingRepository) UpdateInvoice(ctx context.Context, inv billing.Invoice, exec ...core.DBExecutor) (billing.Invoice, error) {
	const q = `UPDATE invoice SET status = :status, debits_applied = :debits_applied, credits_applied = :credits_applied,
		issued_at = :issued_at, paid_at = :paid_at, cancelled_at = :cancelled_at, updated_at = :updated_at
		WHERE id = :id`
	res, err := repo.namedExec(ctx, exec, q, inv)
	if err := updated(res, err, billing.ErrInvoiceNotFound, "updating invoice"); err != nil {
		return billing.Invoice{}, err
	}
	return repo.GetInvoice(ctx, inv.ID, exec...)
}

func (repo *billingRepository) InvoiceExists(ctx context.Context, studentID string, periodStart, periodEnd core.Date, exec ...core.DBExecutor) (bool, error) {
	if !validID(studentID) {
		return false, nil
	}
	var exists bool
	q := `SELECT EXISTS (
		SELECT 1 FROM invoice WHERE student_id = ? AND period_start = ? AND period_end = ? AND status <> ?
	)`
	if err := repo.get(ctx, exec, &exists, q, studentID, periodStart, periodEnd, billing.StatusCancelled); err != nil {
		return false, errors.Wrap(err, "checking invoice existence")
	}
	return exists, nil
}

func (repo *billingRepository) OpenInvoices(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]billing.Invoice, error) {
	if !validID(studentID) {
		return []billing.Invoice{}, nil
	}
	var c conds
	c.add("student_id = ?", studentID)
	c.add("status IN (?, ?)", billing.StatusDraft, billing.StatusIssued)
	return repo.queryInvoices(ctx, c, " ORDER BY issue_date ASC, number ASC", exec)
}

// Entries

const (
	entryColumns = `id, student_id, kind, source, amount, applied, description, reference, entry_date,
		reverses_entry_id, reversed_by_entry_id, created_at`
	entryOrder = ` ORDER BY entry_date ASC, created_at ASC`
	// mirrors billing.Entry.Applicable
	applicableEntry = `source <> 'correction' AND reversed_by_entry_id IS NULL AND applied < amount`
)

func (repo *billingRepository) CreateEntry(ctx context.Context, e billing.Entry, exec ...core.DBExecutor) (billing.Entry, error) {
	e.ID = uuid.NewString()
	const q = `INSERT INTO ledger_entry (` + entryColumns + `)
		VALUES (:id, :student_id, :kind, :source, :amount, :applied, :description, :reference, :entry_date,
			:reverses_entry_id, :reversed_by_entry_id, :created_at)`
	if _, err := repo.namedExec(ctx, exec, q, e); err != nil {
		return billing.Entry{}, errors.Wrap(err, "inserting ledger entry")
	}
	return e, nil
}

func (repo *billingRepository) GetEntry(ctx context.Context, id string, exec ...core.DBExecutor) (billing.Entry, error) {
	var e billing.Entry
	if !validID(id) {
		return e, billing.ErrEntryNotFound
	}
	if err := repo.get(ctx, exec, &e, `SELECT `+entryColumns+` FROM ledger_entry WHERE id = ?`, id); err != nil {
		return e, trapNoRows(err, billing.ErrEntryNotFound, "finding ledger entry")
	}
	return e, nil
}

func (repo *billingRepository) QueryEntries(ctx context.Context, filter *billing.EntryFilter, exec ...core.DBExecutor) ([]billing.Entry, error) {
	entries := make([]billing.Entry, 0)
	var c conds
	if filter != nil {
		if filter.StudentID != "" {
			if !validID(filter.StudentID) {
				return entries, nil
			}
			c.add("student_id = ?", filter.StudentID)
		}
		if filter.Kind != "" {
			c.add("kind = ?", filter.Kind)
		}
		if filter.Source != "" {
			c.add("source = ?", filter.Source)
		}
		if !filter.From.IsZero() {
			c.add("entry_date >= ?", filter.From)
		}
		if !filter.To.IsZero() {
			c.add("entry_date <= ?", filter.To)
		}
	}

	q := `SELECT ` + entryColumns + ` FROM ledger_entry` + c.String() + entryOrder
	if err := repo.selectAll(ctx, exec, &entries, q, c.args...); err != nil {
		return nil, errors.Wrap(err, "querying ledger entries")
	}
	return entries, nil
}

func (repo *billingRepository) ApplicableEntries(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]billing.Entry, error) {
	entries := make([]billing.Entry, 0)
	if !validID(studentID) {
		return entries, nil
	}
	q := `SELECT ` + entryColumns + ` FROM ledger_entry WHERE student_id = ? AND ` + applicableEntry + entryOrder
	if err := repo.selectAll(ctx, exec, &entries, q, studentID); err != nil {
		return nil, errors.Wrap(err, "querying applicable ledger entries")
	}
	return entries, nil
}

func (repo *billingRepository) UpdateEntry(ctx context.Context, e billing.Entry, exec ...core.DBExecutor) (billing.Entry, error) {
	const q = `UPDATE ledger_entry SET applied = :applied, reversed_by_entry_id = :reversed_by_entry_id WHERE id = :id`
	res, err := repo.namedExec(ctx, exec, q, e)
	if err := updated(res, err, billing.ErrEntryNotFound, "updating ledger entry"); err != nil {
		return billing.Entry{}, err
	}
	return e, nil
}

func (repo *billingRepository) StudentsWithApplicableEntries(ctx context.Context, exec ...core.DBExecutor) ([]string, error) {
	ids := make([]string, 0)
	q := `SELECT DISTINCT e.student_id FROM ledger_entry e
		WHERE ` + applicableEntry + ` AND EXISTS (
			SELECT 1 FROM invoice i WHERE i.student_id = e.student_id AND i.status IN ('draft', 'issued')
		)
		ORDER BY e.student_id`
	if err := repo.selectAll(ctx, exec, &ids, q); err != nil {
		return nil, errors.Wrap(err, "querying students with applicable entries")
	}
	return ids, nil
}

// Applications

const applicationColumns = `id, entry_id, invoice_id, amount, applied_at, reversed_at`

func (repo *billingRepository) CreateApplication(ctx context.Context, a billing.Application, exec ...core.DBExecutor) (billing.Application, error) {
	a.ID = uuid.NewString()
	const q = `INSERT INTO ledger_application (` + applicationColumns + `)
		VALUES (:id, :entry_id, :invoice_id, :amount, :applied_at, :reversed_at)`
	if _, err := repo.namedExec(ctx, exec, q, a); err != nil {
		return billing.Application{}, errors.Wrap(err, "inserting ledger application")
	}
	return a, nil
}

func (repo *billingRepository) GetApplication(ctx context.Context, id string, exec ...core.DBExecutor) (billing.Application, error) {
	var a billing.Application
	if !validID(id) {
		return a, billing.ErrApplicationNotFound
	}
	if err := repo.get(ctx, exec, &a, `SELECT `+applicationColumns+` FROM ledger_application WHERE id = ?`, id); err != nil {
		return a, trapNoRows(err, billing.ErrApplicationNotFound, "finding ledger application")
	}
	return a, nil
}

func (repo *billingRepository) QueryApplications(ctx context.Context, filter billing.ApplicationFilter, exec ...core.DBExecutor) ([]billing.Application, error) {
	apps := make([]billing.Application, 0)
	var c conds
	if filter.EntryID != "" {
		if !validID(filter.EntryID) {
			return apps, nil
		}
		c.add("entry_id = ?", filter.EntryID)
	}
	if filter.InvoiceID != "" {
		if !validID(filter.InvoiceID) {
			return apps, nil
		}
		c.add("invoice_id = ?", filter.InvoiceID)
	}
	if filter.ActiveOnly {
		c.add("reversed_at IS NULL")
	}

	q := `SELECT ` + applicationColumns + ` FROM ledger_application` + c.String() + ` ORDER BY applied_at ASC`
	if err := repo.selectAll(ctx, exec, &apps, q, c.args...); err != nil {
		return nil, errors.Wrap(err, "querying ledger applications")
	}
	return apps, nil
}

func (repo *billingRepository) UpdateApplication(ctx context.Context, a billing.Application, exec ...core.DBExecutor) (billing.Application, error) {
	res, err := repo.exec(ctx, exec, `UPDATE ledger_application SET reversed_at = ? WHERE id = ?`, a.ReversedAt, a.ID)
	if err := updated(res, err, billing.ErrApplicationNotFound, "updating ledger application"); err != nil {
		return billing.Application{}, err
	}
	return a, nil
}

// Reports

type balanceRow struct {
	UnappliedCredit     decimal.Decimal `boil:"unapplied_credit"`
	UnappliedDebit      decimal.Decimal `boil:"unapplied_debit"`
	OutstandingInvoices decimal.Decimal `boil:"outstanding_invoices"`
}

func (repo *billingRepository) Balance(ctx context.Context, studentID string, exec ...core.DBExecutor) (billing.Balance, error) {
	bal := billing.Balance{
		StudentID:           studentID,
		UnappliedCredit:     decimal.Zero,
		UnappliedDebit:      decimal.Zero,
		OutstandingInvoices: decimal.Zero,
	}
	if !validID(studentID) {
		return bal, nil
	}

	const q = `SELECT
		COALESCE((SELECT SUM(amount - applied) FROM ledger_entry
			WHERE student_id = $1 AND kind = 'credit' AND ` + applicableEntry + `), 0) AS unapplied_credit,
		COALESCE((SELECT SUM(amount - applied) FROM ledger_entry
			WHERE student_id = $1 AND kind = 'debit' AND ` + applicableEntry + `), 0) AS unapplied_debit,
		COALESCE((SELECT SUM(total + debits_applied - credits_applied) FROM invoice
			WHERE student_id = $1 AND status = 'issued'), 0) AS outstanding_invoices`
	var row balanceRow
	if err := queries.Raw(q, studentID).Bind(ctx, repo.boilExec(exec), &row); err != nil {
		return bal, errors.Wrap(err, "computing balance")
	}
	bal.UnappliedCredit = row.UnappliedCredit
	bal.UnappliedDebit = row.UnappliedDebit
	bal.OutstandingInvoices = row.OutstandingInvoices
	return bal, nil
}

type statementRow struct {
	Date        core.Date       `boil:"date"`
	Type        string          `boil:"type"`
	ObjectID    string          `boil:"object_id"`
	Reference   null.String     `boil:"reference"`
	Description string          `boil:"description"`
	Amount      decimal.Decimal `boil:"amount"`
	CreatedAt   time.Time       `boil:"created_at"`
}

func (repo *billingRepository) StatementItems(ctx context.Context, studentID string, exec ...core.DBExecutor) ([]billing.StatementItem, error) {
	items := make([]billing.StatementItem, 0)
	if !validID(studentID) {
		return items, nil
	}

	const q = `SELECT issue_date AS date, 'invoice' AS type, id::text AS object_id, number AS reference,
			'Invoice ' || number AS description, total AS amount, created_at
		FROM invoice WHERE student_id = $1 AND status IN ('issued', 'paid')
		UNION ALL
		SELECT entry_date, kind, id::text, reference, description,
			CASE WHEN kind = 'credit' THEN -amount ELSE amount END, created_at
		FROM ledger_entry WHERE student_id = $1
		ORDER BY date ASC, created_at ASC`
	var rows []statementRow
	if err := queries.Raw(q, studentID).Bind(ctx, repo.boilExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying statement items")
	}
	for _, r := range rows {
		items = append(items, billing.StatementItem{
			Date:        r.Date,
			Type:        r.Type,
			ObjectID:    r.ObjectID,
			Reference:   r.Reference.String,
			Description: r.Description,
			Amount:      r.Amount,
			CreatedAt:   r.CreatedAt.UTC(),
		})
	}
	// postgres and Go may disagree on ties; keep the in-memory order rules
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.Before(items[j].Date)
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}
