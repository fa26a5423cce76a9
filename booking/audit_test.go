package booking_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/consult-wallet/booking"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuditor_ConsistentLedgers(t *testing.T) {
	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "500", "20")
		addPatient(t, s, "pat-1")
		addPatient(t, s, "pat-2")
		fund(t, e, "pat-1", "1000")
		fund(t, e, "pat-2", "10")

		_, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
		require.NoError(t, err)

		rep, err := booking.NewAuditor(s, quietLogger()).AuditAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, rep.Patients)
		assert.True(t, rep.OK())
		assert.Empty(t, rep.Divergent)
	})
}

func TestAuditor_DetectsDivergence(t *testing.T) {
	// GIVEN: A wallet balance written behind the ledger's back
	// WHEN: Auditing
	// THEN: The patient is reported with both balances

	e, s := newMemoryEngine(t)
	ctx := context.Background()
	addPatient(t, s, "pat-1")
	fund(t, e, "pat-1", "100")

	require.NoError(t, s.WithTx(ctx, func(tx booking.Tx) error {
		return tx.SetWalletBalance(ctx, "pat-1", dec("150"))
	}))

	auditor := booking.NewAuditor(s, quietLogger())

	res, err := auditor.AuditPatient(ctx, "pat-1")
	require.NoError(t, err)
	assert.False(t, res.Consistent)
	assertMoney(t, "150", res.WalletBalance)
	assertMoney(t, "100", res.LedgerBalance)
	assert.Equal(t, 1, res.Entries)
	assert.NotEmpty(t, res.Problem)

	rep, err := auditor.AuditAll(ctx)
	require.NoError(t, err)
	assert.False(t, rep.OK())
	require.Len(t, rep.Divergent, 1)
	assert.Equal(t, booking.PatientID("pat-1"), rep.Divergent[0].PatientID)
}

func TestAuditor_UnknownPatient(t *testing.T) {
	_, s := newMemoryEngine(t)
	_, err := booking.NewAuditor(s, nil).AuditPatient(context.Background(), "nobody")
	assert.ErrorIs(t, err, booking.ErrPatientNotFound)
}
