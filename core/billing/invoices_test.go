package billing_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/billing"
	"github.com/trezcool/cadenza/core/course"
	"github.com/trezcool/cadenza/core/student"
	testutil "github.com/trezcool/cadenza/tests"
)

var (
	aug = period{core.NewDate(2024, time.August, 1), core.NewDate(2024, time.August, 31)}
	sep = period{core.NewDate(2024, time.September, 1), core.NewDate(2024, time.September, 30)}
)

type period struct{ start, end core.Date }

// fixture is a school with one Monday piano course, priced 20 (child) / 30 (adult) since January 2024.
type fixture struct {
	*testutil.Env
	courseType course.CourseType
	course     course.Course
}

func newFixture(t *testing.T, autoApply bool) fixture {
	t.Helper()
	testutil.FreezeTime(t, time.Date(2024, time.October, 1, 9, 0, 0, 0, time.UTC))
	env := testutil.NewEnv(t, func(conf *core.Config) { conf.Billing.AutoApplyCredits = autoApply })

	ct := env.CreateCourseType(t, "Piano", 30)
	env.CreateVersion(t, ct.ID, "20", "30", 18, core.NewDate(2024, time.January, 1))
	crs := env.CreateCourse(t, ct.ID, "", "Piano Monday", testutil.Weekly(t, time.Monday, "17:00", "17:30"))
	return fixture{Env: env, courseType: ct, course: crs}
}

// adult returns a new adult student, enrolled in the Monday course since August 1st.
func (f fixture) adult(t *testing.T, firstName string, discount ...string) student.Student {
	t.Helper()
	st := f.CreateStudent(t, firstName, "Student")
	f.Enroll(t, st.ID, f.course.ID, aug.start, discount...)
	return st
}

func (f fixture) invoice(t *testing.T, st student.Student, p period, issueDate core.Date) billing.Invoice {
	t.Helper()
	res, err := f.Invoices.Generate(context.Background(), billing.GenerateRequest{
		PeriodStart: p.start,
		PeriodEnd:   p.end,
		IssueDate:   issueDate,
		StudentIDs:  []string{st.ID},
	})
	require.NoError(t, err)
	require.Len(t, res.Invoices, 1, "skipped: %v", res.Skipped)
	return res.Invoices[0]
}

func (f fixture) issue(t *testing.T, inv billing.Invoice) billing.Invoice {
	t.Helper()
	inv, err := f.Invoices.Issue(context.Background(), inv.ID)
	require.NoError(t, err)
	return inv
}

func (f fixture) getInvoice(t *testing.T, id string) billing.Invoice {
	t.Helper()
	inv, err := f.Invoices.Get(context.Background(), id)
	require.NoError(t, err)
	return inv
}

func (f fixture) credit(t *testing.T, st student.Student, amount string) billing.Entry {
	t.Helper()
	return f.addEntry(t, st, billing.KindCredit, amount, "Goodwill credit")
}

func (f fixture) addEntry(t *testing.T, st student.Student, kind billing.EntryKind, amount, desc string) billing.Entry {
	t.Helper()
	e, err := f.Ledger.AddEntry(context.Background(), billing.NewEntry{
		StudentID:   st.ID,
		Kind:        kind,
		Amount:      testutil.Money(amount),
		Description: desc,
	})
	require.NoError(t, err)
	return e
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2), msgAndArgs...)
}

func assertFieldError(t *testing.T, err error, field string) {
	t.Helper()
	vErr, ok := err.(*core.ValidationError)
	require.True(t, ok, "want *core.ValidationError, got %T (%v)", err, err)
	require.NotEmpty(t, vErr.Fields)
	assert.Equal(t, field, vErr.Fields[0].Field)
}

func TestInvoiceService_Generate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	issueDate := core.NewDate(2024, time.October, 1)

	alice := f.adult(t, "Alice")
	bob := f.adult(t, "Bob", "10")
	child := f.CreateStudent(t, "Chloe", "Student", core.NewDate(2015, time.May, 4))
	f.Enroll(t, child.ID, f.course.ID, core.NewDate(2024, time.September, 10))
	idle := f.CreateStudent(t, "Idle", "Student")

	req := billing.GenerateRequest{PeriodStart: sep.start, PeriodEnd: sep.end, IssueDate: issueDate}
	res, err := f.Invoices.Generate(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Invoices, 3)
	assert.Empty(t, res.Skipped)

	byStudent := make(map[string]billing.Invoice, len(res.Invoices))
	numbers := make([]string, 0, len(res.Invoices))
	for _, inv := range res.Invoices {
		byStudent[inv.StudentID] = inv
		numbers = append(numbers, inv.Number)
		assert.Equal(t, billing.StatusDraft, inv.Status)
		assert.True(t, issueDate.AddDays(14).Equal(inv.DueDate), "due date: %s", inv.DueDate)
	}
	sort.Strings(numbers)
	assert.Equal(t, []string{"INV-202410-0001", "INV-202410-0002", "INV-202410-0003"}, numbers)

	t.Run("every lesson of the period", func(t *testing.T) {
		inv := byStudent[alice.ID]
		require.Len(t, inv.Lines, 1)
		line := inv.Lines[0]
		assert.Equal(t, 5, line.Quantity, "Mondays of September 2024")
		assertMoney(t, "30.00", line.UnitPrice)
		assertMoney(t, "150.00", line.Amount)
		assertMoney(t, "150.00", inv.Total)
		assertMoney(t, "150.00", inv.AmountDue())
	})

	t.Run("discounted", func(t *testing.T) {
		assertMoney(t, "27.00", byStudent[bob.ID].Lines[0].UnitPrice)
		assertMoney(t, "135.00", byStudent[bob.ID].Total)
	})

	t.Run("child enrolled mid-month", func(t *testing.T) {
		inv := byStudent[child.ID]
		require.Len(t, inv.Lines, 1)
		assert.Equal(t, 3, inv.Lines[0].Quantity)
		assertMoney(t, "60.00", inv.Total)
	})

	t.Run("idempotent", func(t *testing.T) {
		req.StudentIDs = []string{alice.ID, idle.ID, "nope"}
		res, err := f.Invoices.Generate(ctx, req)
		require.NoError(t, err)
		assert.Empty(t, res.Invoices)
		assert.Equal(t, map[string]string{
			alice.ID: "already invoiced for this period",
			idle.ID:  "no lessons to bill",
			"nope":   "student not found",
		}, res.Skipped)
	})

	t.Run("cancelled invoices are generated again", func(t *testing.T) {
		_, err := f.Invoices.Cancel(ctx, byStudent[alice.ID].ID)
		require.NoError(t, err)

		inv := f.invoice(t, alice, sep, issueDate)
		assert.Equal(t, "INV-202410-0004", inv.Number)
	})
}

func TestInvoiceService_Generate_priceChange(t *testing.T) {
	f := newFixture(t, false)
	f.CreateVersion(t, f.courseType.ID, "25", "35", 18, core.NewDate(2024, time.September, 16))
	st := f.adult(t, "Alice")

	inv := f.invoice(t, st, sep, core.NewDate(2024, time.October, 1))
	require.Len(t, inv.Lines, 2)

	assert.Equal(t, 1, inv.Lines[0].Position)
	assert.Equal(t, 2, inv.Lines[0].Quantity)
	assertMoney(t, "30.00", inv.Lines[0].UnitPrice)

	assert.Equal(t, 2, inv.Lines[1].Position)
	assert.Equal(t, 3, inv.Lines[1].Quantity)
	assertMoney(t, "35.00", inv.Lines[1].UnitPrice)

	assertMoney(t, "165.00", inv.Total)
}

func TestInvoiceService_Generate_autoApply(t *testing.T) {
	f := newFixture(t, true)
	st := f.adult(t, "Alice")
	f.credit(t, st, "200")

	inv := f.invoice(t, st, sep, core.NewDate(2024, time.October, 1))
	assertMoney(t, "150.00", inv.CreditsApplied)
	assertMoney(t, "0.00", inv.AmountDue())
	assert.Equal(t, billing.StatusDraft, inv.Status, "drafts are never settled")

	inv = f.issue(t, inv)
	assert.Equal(t, billing.StatusPaid, inv.Status)
	assert.True(t, inv.PaidAt.Valid)

	bal, err := f.Ledger.Balance(context.Background(), st.ID)
	require.NoError(t, err)
	assertMoney(t, "50.00", bal.UnappliedCredit)
	assertMoney(t, "-50.00", bal.AmountOwed)
}

func TestInvoiceService_Issue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	st := f.adult(t, "Alice")
	_, err := f.Students.Update(ctx, st, student.UpdateStudent{GuardianName: "Marc Student", GuardianEmail: "marc@example.com"})
	require.NoError(t, err)

	inv := f.invoice(t, st, sep, core.NewDate(2024, time.October, 1))
	inv = f.issue(t, inv)
	assert.Equal(t, billing.StatusIssued, inv.Status)
	assert.True(t, inv.IssuedAt.Valid)

	msgs := f.Mail.SentMessages()
	require.Len(t, msgs, 1)
	msg := msgs[0]
	require.Len(t, msg.To, 1)
	assert.Equal(t, "marc@example.com", msg.To[0].Address)
	assert.Equal(t, "Invoice "+inv.Number, msg.Subject)
	assert.Contains(t, msg.TextContent, "Dear Marc Student")
	assert.Contains(t, msg.TextContent, "150.00 EUR")

	_, err = f.Invoices.Issue(ctx, inv.ID)
	assertFieldError(t, err, "status")

	_, err = f.Invoices.Issue(ctx, "nope")
	assert.True(t, core.IsNotFound(err))
}

func TestInvoiceService_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	st := f.adult(t, "Alice")

	inv := f.issue(t, f.invoice(t, st, sep, core.NewDate(2024, time.October, 1)))
	credit := f.credit(t, st, "40")
	_, err := f.Ledger.ApplyOutstanding(ctx, st.ID)
	require.NoError(t, err)

	inv, err = f.Invoices.Cancel(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCancelled, inv.Status)
	assert.True(t, inv.CancelledAt.Valid)
	assertMoney(t, "0.00", inv.CreditsApplied)

	credit, err = f.Ledger.GetEntry(ctx, credit.ID)
	require.NoError(t, err)
	assertMoney(t, "40.00", credit.Remaining(), "credit is given back")

	_, err = f.Invoices.Cancel(ctx, inv.ID)
	assertFieldError(t, err, "status")

	t.Run("paid", func(t *testing.T) {
		paid := f.issue(t, f.invoice(t, st, aug, core.NewDate(2024, time.September, 1)))
		paid, _, err := f.Invoices.RecordPayment(ctx, paid.ID, billing.NewPayment{Amount: testutil.Money("120")})
		require.NoError(t, err)
		require.Equal(t, billing.StatusPaid, paid.Status)

		_, err = f.Invoices.Cancel(ctx, paid.ID)
		assertFieldError(t, err, "status")
	})
}

func TestInvoiceService_RecordPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	st := f.adult(t, "Alice")

	inv := f.invoice(t, st, sep, core.NewDate(2024, time.October, 1))
	_, _, err := f.Invoices.RecordPayment(ctx, inv.ID, billing.NewPayment{Amount: testutil.Money("150")})
	assertFieldError(t, err, "status")

	inv = f.issue(t, inv)

	t.Run("partial", func(t *testing.T) {
		inv, entry, err := f.Invoices.RecordPayment(ctx, inv.ID, billing.NewPayment{Amount: testutil.Money("100"), Reference: "TRX-1"})
		require.NoError(t, err)
		assert.Equal(t, billing.StatusIssued, inv.Status)
		assertMoney(t, "50.00", inv.AmountDue())

		assert.Equal(t, billing.SourcePayment, entry.Source)
		assert.Equal(t, "TRX-1", entry.Reference.String)
		assertMoney(t, "0.00", entry.Remaining())
	})

	t.Run("overpayment", func(t *testing.T) {
		inv, entry, err := f.Invoices.RecordPayment(ctx, inv.ID, billing.NewPayment{Amount: testutil.Money("80")})
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPaid, inv.Status)
		assertMoney(t, "0.00", inv.AmountDue())

		assert.Equal(t, inv.Number, entry.Reference.String, "defaults to the invoice number")
		assertMoney(t, "30.00", entry.Remaining())

		bal, err := f.Ledger.Balance(ctx, st.ID)
		require.NoError(t, err)
		assertMoney(t, "30.00", bal.UnappliedCredit)
		assertMoney(t, "0.00", bal.OutstandingInvoices)
		assertMoney(t, "-30.00", bal.AmountOwed)
	})
}

func TestInvoiceService_Query(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	alice := f.adult(t, "Alice")
	bob := f.adult(t, "Bob")

	f.issue(t, f.invoice(t, alice, aug, core.NewDate(2024, time.September, 1)))
	f.invoice(t, alice, sep, core.NewDate(2024, time.October, 1))
	f.invoice(t, bob, sep, core.NewDate(2024, time.October, 1))

	invs, err := f.Invoices.Query(ctx, &billing.InvoiceFilter{StudentID: alice.ID}, nil)
	require.NoError(t, err)
	require.Len(t, invs, 2)
	assert.True(t, sep.start.Equal(invs[0].PeriodStart), "latest first")

	invs, err = f.Invoices.Query(ctx, &billing.InvoiceFilter{Status: billing.StatusDraft, PeriodStart: sep.start}, []core.DBOrdering{{Field: "number", Ascending: true}})
	require.NoError(t, err)
	require.Len(t, invs, 2)
	assert.Less(t, invs[0].Number, invs[1].Number)
}

// failingInvoices fails the invoicing of one student.
type failingInvoices struct {
	billing.Repository
	studentID string
}

func (r failingInvoices) InvoiceExists(ctx context.Context, studentID string, start, end core.Date, exec ...core.DBExecutor) (bool, error) {
	if studentID == r.studentID {
		return false, errors.New("connection reset")
	}
	return r.Repository.InvoiceExists(ctx, studentID, start, end, exec...)
}

func TestInvoiceService_Generate_failureDoesNotStopTheRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	alice := f.adult(t, "Alice")
	bob := f.adult(t, "Bob")
	carl := f.adult(t, "Carl")

	ids := []string{alice.ID, bob.ID, carl.ID}
	sort.Strings(ids)
	failing := ids[0] // the first one invoiced

	repo := failingInvoices{Repository: f.Repos.Billing, studentID: failing}
	svc := billing.NewInvoiceService(
		f.Repos.DB, repo, f.Repos.Students, f.Repos.Enrollments, f.Repos.Courses,
		f.EnrollmentPricing, f.Ledger, f.Mail, f.Conf, f.Logger,
	)

	res, err := svc.Generate(ctx, billing.GenerateRequest{PeriodStart: sep.start, PeriodEnd: sep.end})
	require.NoError(t, err)
	assert.Len(t, res.Invoices, 2)
	assert.Equal(t, map[string]string{failing: "invoicing failed, see logs"}, res.Skipped)
	for _, inv := range res.Invoices {
		assert.NotEqual(t, failing, inv.StudentID)
	}

	t.Run("the next run picks it up", func(t *testing.T) {
		res, err := f.Invoices.Generate(ctx, billing.GenerateRequest{PeriodStart: sep.start, PeriodEnd: sep.end})
		require.NoError(t, err)
		require.Len(t, res.Invoices, 1)
		assert.Equal(t, failing, res.Invoices[0].StudentID)
		assert.Len(t, res.Skipped, 2)
	})
}
