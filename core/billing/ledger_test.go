package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/billing"
	testutil "github.com/trezcool/cadenza/tests"
)

func TestLedgerService_AddEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	st := f.adult(t, "Alice")

	e := f.credit(t, st, "25")
	assert.Equal(t, billing.SourceManual, e.Source)
	assert.True(t, core.Today().Equal(e.EntryDate), "defaults to today")
	assertMoney(t, "25.00", e.Remaining())

	_, err := f.Ledger.AddEntry(ctx, billing.NewEntry{StudentID: st.ID, Kind: billing.KindCredit, Amount: decimal.Zero, Description: "x"})
	assertFieldError(t, err, "amount")

	_, err = f.Ledger.AddEntry(ctx, billing.NewEntry{StudentID: "nope", Kind: billing.KindDebit, Amount: testutil.Money("1"), Description: "x"})
	assertFieldError(t, err, "student_id")

	t.Run("validation", func(t *testing.T) {
		ne := billing.NewEntry{StudentID: st.ID, Kind: "gift", Amount: testutil.Money("10.005"), Description: " Gift "}
		assert.Error(t, ne.Validate(f.Validate), "unknown kind")

		ne.Kind = billing.KindCredit
		require.NoError(t, ne.Validate(f.Validate))
		assertMoney(t, "10.01", ne.Amount)
		assert.Equal(t, "Gift", ne.Description)
	})
}

func TestLedgerService_ApplyOutstanding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	st := f.adult(t, "Alice")

	augInv := f.issue(t, f.invoice(t, st, aug, core.NewDate(2024, time.September, 1))) // 120
	sepInv := f.issue(t, f.invoice(t, st, sep, core.NewDate(2024, time.October, 1)))  // 150

	credit := f.credit(t, st, "200")
	fee := f.addEntry(t, st, billing.KindDebit, "15", "Late fee")

	apps, err := f.Ledger.ApplyOutstanding(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, apps, 3)

	t.Run("debits go whole to the oldest invoice", func(t *testing.T) {
		assert.Equal(t, fee.ID, apps[0].EntryID)
		assert.Equal(t, augInv.ID, apps[0].InvoiceID)
		assertMoney(t, "15.00", apps[0].Amount)
	})

	t.Run("credits pay invoices oldest first", func(t *testing.T) {
		assert.Equal(t, credit.ID, apps[1].EntryID)
		assert.Equal(t, augInv.ID, apps[1].InvoiceID)
		assertMoney(t, "135.00", apps[1].Amount)

		assert.Equal(t, credit.ID, apps[2].EntryID)
		assert.Equal(t, sepInv.ID, apps[2].InvoiceID)
		assertMoney(t, "65.00", apps[2].Amount)
	})

	augInv = f.getInvoice(t, augInv.ID)
	assert.Equal(t, billing.StatusPaid, augInv.Status)
	assertMoney(t, "0.00", augInv.AmountDue())

	sepInv = f.getInvoice(t, sepInv.ID)
	assert.Equal(t, billing.StatusIssued, sepInv.Status)
	assertMoney(t, "85.00", sepInv.AmountDue())

	t.Run("nothing left to apply", func(t *testing.T) {
		apps, err := f.Ledger.ApplyOutstanding(ctx, st.ID)
		require.NoError(t, err)
		assert.Empty(t, apps)
	})

	t.Run("balance", func(t *testing.T) {
		bal, err := f.Ledger.Balance(ctx, st.ID)
		require.NoError(t, err)
		assertMoney(t, "0.00", bal.UnappliedCredit)
		assertMoney(t, "0.00", bal.UnappliedDebit)
		assertMoney(t, "85.00", bal.OutstandingInvoices)
		assertMoney(t, "85.00", bal.AmountOwed)
	})
}

func TestLedgerService_ApplyAllOutstanding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	alice := f.adult(t, "Alice")
	bob := f.adult(t, "Bob")
	carl := f.adult(t, "Carl")

	f.issue(t, f.invoice(t, alice, sep, core.NewDate(2024, time.October, 1)))
	f.issue(t, f.invoice(t, bob, sep, core.NewDate(2024, time.October, 1)))
	f.credit(t, alice, "10")
	f.credit(t, bob, "20")
	f.credit(t, carl, "30") // no invoice

	count, err := f.Ledger.ApplyAllOutstanding(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	bal, err := f.Ledger.Balance(ctx, carl.ID)
	require.NoError(t, err)
	assertMoney(t, "30.00", bal.UnappliedCredit)
}

func TestLedgerService_ApplyEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	alice := f.adult(t, "Alice")
	bob := f.adult(t, "Bob")

	inv := f.issue(t, f.invoice(t, alice, sep, core.NewDate(2024, time.October, 1)))
	bobInv := f.invoice(t, bob, sep, core.NewDate(2024, time.October, 1))
	credit := f.credit(t, alice, "200")

	tests := []struct {
		name      string
		req       billing.ApplyEntryRequest
		wantField string
	}{
		{
			name:      "other student's invoice",
			req:       billing.ApplyEntryRequest{InvoiceID: bobInv.ID},
			wantField: "invoice_id",
		},
		{
			name:      "more than the entry",
			req:       billing.ApplyEntryRequest{InvoiceID: inv.ID, Amount: decimal.NewNullDecimal(testutil.Money("201"))},
			wantField: "amount",
		},
		{
			name:      "more than due",
			req:       billing.ApplyEntryRequest{InvoiceID: inv.ID, Amount: decimal.NewNullDecimal(testutil.Money("151"))},
			wantField: "amount",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Ledger.ApplyEntry(ctx, credit.ID, tt.req)
			assertFieldError(t, err, tt.wantField)
		})
	}

	app, err := f.Ledger.ApplyEntry(ctx, credit.ID, billing.ApplyEntryRequest{InvoiceID: inv.ID, Amount: decimal.NewNullDecimal(testutil.Money("50"))})
	require.NoError(t, err)
	assertMoney(t, "50.00", app.Amount)

	app, err = f.Ledger.ApplyEntry(ctx, credit.ID, billing.ApplyEntryRequest{InvoiceID: inv.ID})
	require.NoError(t, err)
	assertMoney(t, "100.00", app.Amount, "capped by the amount due")

	inv = f.getInvoice(t, inv.ID)
	assert.Equal(t, billing.StatusPaid, inv.Status)

	_, err = f.Ledger.ApplyEntry(ctx, credit.ID, billing.ApplyEntryRequest{InvoiceID: inv.ID})
	assertFieldError(t, err, "invoice_id")

	apps, err := f.Ledger.Applications(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, apps, 2)
}

func TestLedgerService_Reversals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	st := f.adult(t, "Alice")

	augInv := f.issue(t, f.invoice(t, st, aug, core.NewDate(2024, time.September, 1))) // 120
	sepInv := f.issue(t, f.invoice(t, st, sep, core.NewDate(2024, time.October, 1)))  // 150
	credit := f.credit(t, st, "200")

	apps, err := f.Ledger.ApplyOutstanding(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, apps, 2)

	owed := func(t *testing.T) string {
		t.Helper()
		bal, err := f.Ledger.Balance(ctx, st.ID)
		require.NoError(t, err)
		return bal.AmountOwed.StringFixed(2)
	}
	assert.Equal(t, "70.00", owed(t))

	t.Run("application", func(t *testing.T) {
		app, err := f.Ledger.ReverseApplication(ctx, apps[0].ID)
		require.NoError(t, err)
		assert.True(t, app.ReversedAt.Valid)

		inv := f.getInvoice(t, augInv.ID)
		assert.Equal(t, billing.StatusIssued, inv.Status, "paid goes back to issued")
		assert.False(t, inv.PaidAt.Valid)
		assertMoney(t, "120.00", inv.AmountDue())

		entry, err := f.Ledger.GetEntry(ctx, credit.ID)
		require.NoError(t, err)
		assertMoney(t, "120.00", entry.Remaining())
		assert.Equal(t, "70.00", owed(t), "reversing an application doesn't change what is owed")

		_, err = f.Ledger.ReverseApplication(ctx, apps[0].ID)
		assertFieldError(t, err, "id")
	})

	var correction billing.Entry
	t.Run("entry", func(t *testing.T) {
		var err error
		correction, err = f.Ledger.ReverseEntry(ctx, credit.ID, "bounced transfer")
		require.NoError(t, err)
		assert.Equal(t, billing.KindDebit, correction.Kind)
		assert.Equal(t, billing.SourceCorrection, correction.Source)
		assertMoney(t, "200.00", correction.Amount)
		assert.Equal(t, credit.ID, correction.ReversesEntryID.String)
		assert.Equal(t, `Reversal of "Goodwill credit": bounced transfer`, correction.Description)

		entry, err := f.Ledger.GetEntry(ctx, credit.ID)
		require.NoError(t, err)
		assert.Equal(t, correction.ID, entry.ReversedByEntryID.String)
		assertMoney(t, "0.00", entry.Applied, "decoupled from its invoices")

		assertMoney(t, "150.00", f.getInvoice(t, sepInv.ID).AmountDue())
		assert.Equal(t, "270.00", owed(t))
	})

	t.Run("twice", func(t *testing.T) {
		_, err := f.Ledger.ReverseEntry(ctx, credit.ID, "again")
		assertFieldError(t, err, "id")

		_, err = f.Ledger.ReverseEntry(ctx, correction.ID, "undo")
		assertFieldError(t, err, "id")
	})

	t.Run("reversed entries can't be applied", func(t *testing.T) {
		_, err := f.Ledger.ApplyEntry(ctx, credit.ID, billing.ApplyEntryRequest{InvoiceID: augInv.ID})
		assertFieldError(t, err, "entry_id")
	})
}

func TestLedgerService_DecoupleEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	st := f.adult(t, "Alice")

	f.issue(t, f.invoice(t, st, aug, core.NewDate(2024, time.September, 1)))
	f.issue(t, f.invoice(t, st, sep, core.NewDate(2024, time.October, 1)))
	credit := f.credit(t, st, "200")
	_, err := f.Ledger.ApplyOutstanding(ctx, st.ID)
	require.NoError(t, err)

	reversed, err := f.Ledger.DecoupleEntry(ctx, credit.ID)
	require.NoError(t, err)
	assert.Len(t, reversed, 2)

	credit, err = f.Ledger.GetEntry(ctx, credit.ID)
	require.NoError(t, err)
	assertMoney(t, "200.00", credit.Remaining())
	assert.False(t, credit.IsReversed())

	bal, err := f.Ledger.Balance(ctx, st.ID)
	require.NoError(t, err)
	assertMoney(t, "200.00", bal.UnappliedCredit)
	assertMoney(t, "270.00", bal.OutstandingInvoices)
	assertMoney(t, "70.00", bal.AmountOwed)
}

func TestLedgerService_ReverseDebit_returnsExcessCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	st := f.adult(t, "Alice")

	inv := f.issue(t, f.invoice(t, st, aug, core.NewDate(2024, time.September, 1))) // 120
	fee := f.addEntry(t, st, billing.KindDebit, "20", "Late fee")
	voucher := f.credit(t, st, "100")
	transfer := f.credit(t, st, "40")

	_, err := f.Ledger.ApplyOutstanding(ctx, st.ID)
	require.NoError(t, err)
	inv = f.getInvoice(t, inv.ID)
	require.Equal(t, billing.StatusPaid, inv.Status)
	assertMoney(t, "140.00", inv.CreditsApplied)

	_, err = f.Ledger.ReverseEntry(ctx, fee.ID, "waived")
	require.NoError(t, err)

	inv = f.getInvoice(t, inv.ID)
	assertMoney(t, "0.00", inv.DebitsApplied)
	assertMoney(t, "120.00", inv.CreditsApplied, "credits never exceed total + debits")
	assertMoney(t, "0.00", inv.AmountDue())
	assert.Equal(t, billing.StatusPaid, inv.Status)

	voucher, err = f.Ledger.GetEntry(ctx, voucher.ID)
	require.NoError(t, err)
	assertMoney(t, "0.00", voucher.Remaining())

	transfer, err = f.Ledger.GetEntry(ctx, transfer.ID)
	require.NoError(t, err)
	assertMoney(t, "20.00", transfer.Remaining(), "the latest credit gets the excess back")

	apps, err := f.Ledger.Applications(ctx, inv.ID)
	require.NoError(t, err)
	var active []billing.Application
	for _, app := range apps {
		if app.IsActive() {
			active = append(active, app)
		}
	}
	require.Len(t, active, 2)
	assert.Equal(t, transfer.ID, active[1].EntryID)
	assertMoney(t, "20.00", active[1].Amount, "the kept part is applied anew")

	bal, err := f.Ledger.Balance(ctx, st.ID)
	require.NoError(t, err)
	assertMoney(t, "20.00", bal.UnappliedCredit)
	assertMoney(t, "-20.00", bal.AmountOwed)
}

// staleApplications serves an outdated copy of some applications once, the way a read
// made before another transaction committed would.
type staleApplications struct {
	billing.Repository
	stale map[string]billing.Application
}

func (r *staleApplications) GetApplication(ctx context.Context, id string, exec ...core.DBExecutor) (billing.Application, error) {
	if app, ok := r.stale[id]; ok {
		delete(r.stale, id)
		return app, nil
	}
	return r.Repository.GetApplication(ctx, id, exec...)
}

func TestLedgerService_ReverseApplication_concurrentReversal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	st := f.adult(t, "Alice")

	f.issue(t, f.invoice(t, st, aug, core.NewDate(2024, time.September, 1)))
	credit := f.credit(t, st, "50")
	apps, err := f.Ledger.ApplyOutstanding(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)

	repo := &staleApplications{Repository: f.Repos.Billing, stale: map[string]billing.Application{apps[0].ID: apps[0]}}
	ledger := billing.NewLedgerService(f.Repos.DB, repo, f.Repos.Students, f.Logger)

	_, err = f.Ledger.ReverseApplication(ctx, apps[0].ID)
	require.NoError(t, err)

	_, err = ledger.ReverseApplication(ctx, apps[0].ID)
	assertFieldError(t, err, "id")

	credit, err = f.Ledger.GetEntry(ctx, credit.ID)
	require.NoError(t, err)
	assertMoney(t, "0.00", credit.Applied, "reversed once")
}
