/*
ledger.go - Wallet ledger: the only writer of wallet balances

PURPOSE:
  Every balance change goes through WalletLedger. A change is two writes,
  the new wallet balance and a Transaction carrying that balance as a
  snapshot, and both happen in the same atomic unit.

CRITICAL INVARIANTS:
  1. NON-NEGATIVE: a debit larger than the balance fails and writes nothing
  2. APPEND-ONLY: transactions are never updated or deleted
  3. REPLAYABLE: summing signed amounts from 0 in creation order reproduces
     every Transaction.Balance exactly

CONCURRENCY:
  The patient row is locked (Tx.LockPatient) before the balance is read, so
  concurrent credits and debits on one patient serialize. Different patients
  do not contend.

EXAMPLE FLOW:
  1. Top-up 1000:   credit +1000  balance 1000
  2. Book 400:      debit  -400   balance  600
  3. Book 500:      debit  -500   balance  100
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WALLET LEDGER
// =============================================================================

type WalletLedger struct {
	store TxStore
	now   func() time.Time
}

func NewWalletLedger(store TxStore) *WalletLedger {
	return &WalletLedger{store: store, now: time.Now}
}

// Credit adds amount to the wallet in its own atomic unit.
func (l *WalletLedger) Credit(ctx context.Context, patientID PatientID, amount decimal.Decimal, description string) (*Transaction, error) {
	var out *Transaction
	err := l.store.WithTx(ctx, func(tx Tx) error {
		t, err := l.CreditTx(ctx, tx, patientID, amount, description)
		out = t
		return err
	})
	if err != nil {
		return nil, internal("credit", err)
	}
	return out, nil
}

// Debit removes amount from the wallet in its own atomic unit.
func (l *WalletLedger) Debit(ctx context.Context, patientID PatientID, amount decimal.Decimal, description string, appointmentID AppointmentID) (*Transaction, error) {
	var out *Transaction
	err := l.store.WithTx(ctx, func(tx Tx) error {
		t, err := l.DebitTx(ctx, tx, patientID, amount, description, appointmentID)
		out = t
		return err
	})
	if err != nil {
		return nil, internal("debit", err)
	}
	return out, nil
}

// CreditTx is Credit inside the caller's unit of work.
func (l *WalletLedger) CreditTx(ctx context.Context, tx Tx, patientID PatientID, amount decimal.Decimal, description string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	patient, err := tx.LockPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return l.apply(ctx, tx, patient, TxCredit, amount, description, "")
}

// DebitTx is Debit inside the caller's unit of work.
func (l *WalletLedger) DebitTx(ctx context.Context, tx Tx, patientID PatientID, amount decimal.Decimal, description string, appointmentID AppointmentID) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	patient, err := tx.LockPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(patient.WalletBalance) {
		return nil, &InsufficientFundsError{
			PatientID: patientID,
			Required:  amount,
			Available: patient.WalletBalance,
		}
	}
	return l.apply(ctx, tx, patient, TxDebit, amount, description, appointmentID)
}

func (l *WalletLedger) apply(ctx context.Context, tx Tx, patient *Patient, typ TransactionType, amount decimal.Decimal, description string, appointmentID AppointmentID) (*Transaction, error) {
	t := Transaction{
		ID:            NewTransactionID(),
		PatientID:     patient.ID,
		AppointmentID: appointmentID,
		Type:          typ,
		Amount:        amount,
		Description:   description,
		CreatedAt:     l.now().UTC(),
	}
	t.Balance = patient.WalletBalance.Add(t.Signed())

	if err := tx.SetWalletBalance(ctx, patient.ID, t.Balance); err != nil {
		return nil, fmt.Errorf("set wallet balance: %w", err)
	}
	if err := tx.AppendTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	patient.WalletBalance = t.Balance
	return &t, nil
}

// =============================================================================
// REPLAY - Invariant check over a chronological ledger
// =============================================================================

// ReplayError points at the first entry whose snapshot disagrees with the
// running sum.
type ReplayError struct {
	Index    int
	TxID     TransactionID
	Expected decimal.Decimal
	Recorded decimal.Decimal
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("ledger entry %d (%s): running balance %s, recorded %s",
		e.Index, e.TxID, e.Expected.String(), e.Recorded.String())
}

// Replay folds txs from a zero balance and returns the final balance.
// It fails on the first snapshot mismatch, non-positive amount or negative balance.
func Replay(txs []Transaction) (decimal.Decimal, error) {
	balance := decimal.Zero
	for i, t := range txs {
		if !t.Amount.IsPositive() {
			return balance, fmt.Errorf("ledger entry %d (%s): non-positive amount %s", i, t.ID, t.Amount)
		}
		balance = balance.Add(t.Signed())
		if balance.IsNegative() {
			return balance, fmt.Errorf("ledger entry %d (%s): negative balance %s", i, t.ID, balance)
		}
		if !balance.Equal(t.Balance) {
			return balance, &ReplayError{Index: i, TxID: t.ID, Expected: balance, Recorded: t.Balance}
		}
	}
	return balance, nil
}
