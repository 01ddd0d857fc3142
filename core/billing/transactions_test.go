package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/billing"
	testutil "github.com/trezcool/cadenza/tests"
)

func TestTransactionService_Statement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	st := f.adult(t, "Alice")

	augInv := f.issue(t, f.invoice(t, st, aug, core.NewDate(2024, time.September, 1))) // 120
	f.invoice(t, st, sep, core.NewDate(2024, time.October, 1))                         // draft: not on statements

	_, err := f.Ledger.AddEntry(ctx, billing.NewEntry{
		StudentID:   st.ID,
		Kind:        billing.KindCredit,
		Amount:      testutil.Money("50"),
		Description: "Gift card",
		EntryDate:   core.NewDate(2024, time.September, 10),
	})
	require.NoError(t, err)
	_, err = f.Ledger.AddEntry(ctx, billing.NewEntry{
		StudentID:   st.ID,
		Kind:        billing.KindDebit,
		Amount:      testutil.Money("5"),
		Description: "Sheet music",
		EntryDate:   core.NewDate(2024, time.September, 20),
	})
	require.NoError(t, err)

	type item struct {
		typ, desc, amount, balance string
	}
	summarize := func(stmt billing.Statement) []item {
		items := make([]item, 0, len(stmt.Items))
		for _, it := range stmt.Items {
			items = append(items, item{it.Type, it.Description, it.Amount.StringFixed(2), it.Balance.StringFixed(2)})
		}
		return items
	}

	t.Run("whole history", func(t *testing.T) {
		stmt, err := f.Transactions.Statement(ctx, st.ID, core.NullDate{}, core.NullDate{})
		require.NoError(t, err)
		assertMoney(t, "0.00", stmt.OpeningBalance)
		assert.Equal(t, []item{
			{"invoice", "Invoice " + augInv.Number, "120.00", "120.00"},
			{"credit", "Gift card", "-50.00", "70.00"},
			{"debit", "Sheet music", "5.00", "75.00"},
		}, summarize(stmt))
		assertMoney(t, "75.00", stmt.ClosingBalance)
	})

	t.Run("date range", func(t *testing.T) {
		from := core.NullDateFrom(core.NewDate(2024, time.September, 5))
		to := core.NullDateFrom(core.NewDate(2024, time.September, 15))
		stmt, err := f.Transactions.Statement(ctx, st.ID, from, to)
		require.NoError(t, err)
		assertMoney(t, "120.00", stmt.OpeningBalance)
		assert.Equal(t, []item{
			{"credit", "Gift card", "-50.00", "70.00"},
		}, summarize(stmt))
		assertMoney(t, "70.00", stmt.ClosingBalance)
	})

	t.Run("unknown student", func(t *testing.T) {
		_, err := f.Transactions.Statement(ctx, "nope", core.NullDate{}, core.NullDate{})
		assert.True(t, core.IsNotFound(err))
	})
}
