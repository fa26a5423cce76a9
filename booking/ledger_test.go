package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/consult-wallet/booking"
	"github.com/warp/consult-wallet/booking/store"
)

func newTestLedger(t *testing.T) (*booking.WalletLedger, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	addPatient(t, s, "pat-1")
	return booking.NewWalletLedger(s), s
}

// =============================================================================
// CREDIT / DEBIT
// =============================================================================

func TestWalletLedger_CreditThenDebit_SnapshotsBalance(t *testing.T) {
	// GIVEN: Empty wallet
	// WHEN: Credit 1000, debit 400, debit 500
	// THEN: Balances 1000, 600, 100 recorded on each entry

	ledger, s := newTestLedger(t)
	ctx := context.Background()

	c, err := ledger.Credit(ctx, "pat-1", dec("1000"), "Money added to wallet")
	require.NoError(t, err)
	assertMoney(t, "1000", c.Balance)

	d1, err := ledger.Debit(ctx, "pat-1", dec("400"), "visit 1", "appt-1")
	require.NoError(t, err)
	assertMoney(t, "600", d1.Balance)
	assert.Equal(t, booking.AppointmentID("appt-1"), d1.AppointmentID)

	d2, err := ledger.Debit(ctx, "pat-1", dec("500"), "visit 2", "appt-2")
	require.NoError(t, err)
	assertMoney(t, "100", d2.Balance)

	assertMoney(t, "100", balanceOf(t, s, "pat-1"))

	txs, err := s.ListTransactions(ctx, "pat-1", booking.DateRange{})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, []booking.TransactionType{booking.TxCredit, booking.TxDebit, booking.TxDebit},
		[]booking.TransactionType{txs[0].Type, txs[1].Type, txs[2].Type})
}

func TestWalletLedger_Debit_ExactBalanceAllowed(t *testing.T) {
	ledger, s := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, "pat-1", dec("75.50"), "")
	require.NoError(t, err)

	tx, err := ledger.Debit(ctx, "pat-1", dec("75.5"), "visit", "appt-1")
	require.NoError(t, err)
	assertMoney(t, "0", tx.Balance)
	assertMoney(t, "0", balanceOf(t, s, "pat-1"))
}

func TestWalletLedger_Debit_InsufficientFunds_WritesNothing(t *testing.T) {
	ledger, s := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Credit(ctx, "pat-1", dec("50"), "")
	require.NoError(t, err)

	_, err = ledger.Debit(ctx, "pat-1", dec("50.01"), "visit", "appt-1")
	var funds *booking.InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assertMoney(t, "50.01", funds.Required)
	assertMoney(t, "50", funds.Available)

	assertMoney(t, "50", balanceOf(t, s, "pat-1"))
	txs, err := s.ListTransactions(ctx, "pat-1", booking.DateRange{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestWalletLedger_RejectsNonPositiveAmounts(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for _, amount := range []string{"0", "-1", "-0.01"} {
		_, err := ledger.Credit(ctx, "pat-1", dec(amount), "")
		assert.ErrorIs(t, err, booking.ErrInvalidRequest, "credit %s", amount)

		_, err = ledger.Debit(ctx, "pat-1", dec(amount), "", "")
		assert.ErrorIs(t, err, booking.ErrInvalidRequest, "debit %s", amount)
	}
}

func TestWalletLedger_UnknownPatient(t *testing.T) {
	ledger, _ := newTestLedger(t)
	_, err := ledger.Credit(context.Background(), "nobody", dec("10"), "")
	assert.ErrorIs(t, err, booking.ErrPatientNotFound)
}

func TestWalletLedger_StoreFailure_RollsBack(t *testing.T) {
	// GIVEN: The ledger append fails after the balance was updated
	// WHEN: Crediting
	// THEN: Internal error and the balance is unchanged

	ledger, s := newTestLedger(t)
	ctx := context.Background()

	s.FailOn("AppendTransaction", errors.New("io error"))

	_, err := ledger.Credit(ctx, "pat-1", dec("10"), "")
	require.ErrorIs(t, err, booking.ErrInternal)
	assertMoney(t, "0", balanceOf(t, s, "pat-1"))
}

func TestWalletLedger_ConcurrentCredits(t *testing.T) {
	ledger, s := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Credit(ctx, "pat-1", dec("1.10"), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assertMoney(t, "55", balanceOf(t, s, "pat-1"))

	txs, err := s.ListTransactions(ctx, "pat-1", booking.DateRange{})
	require.NoError(t, err)
	final, err := booking.Replay(txs)
	require.NoError(t, err)
	assertMoney(t, "55", final)
}

// =============================================================================
// REPLAY
// =============================================================================

func TestReplay(t *testing.T) {
	credit := func(amount, balance string) booking.Transaction {
		return booking.Transaction{ID: "c", Type: booking.TxCredit, Amount: dec(amount), Balance: dec(balance)}
	}
	debit := func(amount, balance string) booking.Transaction {
		return booking.Transaction{ID: "d", Type: booking.TxDebit, Amount: dec(amount), Balance: dec(balance)}
	}

	t.Run("empty ledger is zero", func(t *testing.T) {
		final, err := booking.Replay(nil)
		require.NoError(t, err)
		assertMoney(t, "0", final)
	})

	t.Run("consistent ledger", func(t *testing.T) {
		final, err := booking.Replay([]booking.Transaction{
			credit("1000", "1000"), debit("400", "600"), debit("500", "100"), credit("0.25", "100.25"),
		})
		require.NoError(t, err)
		assertMoney(t, "100.25", final)
	})

	t.Run("snapshot mismatch", func(t *testing.T) {
		_, err := booking.Replay([]booking.Transaction{credit("100", "100"), debit("40", "70")})
		var rerr *booking.ReplayError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, 1, rerr.Index)
		assertMoney(t, "60", rerr.Expected)
		assertMoney(t, "70", rerr.Recorded)
	})

	t.Run("negative running balance", func(t *testing.T) {
		_, err := booking.Replay([]booking.Transaction{credit("10", "10"), debit("20", "-10")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "negative balance")
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := booking.Replay([]booking.Transaction{credit("0", "0")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-positive amount")
	})
}
