package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/consult-wallet/booking"
	"github.com/warp/consult-wallet/booking/store"
	"github.com/warp/consult-wallet/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// now is the fixed engine clock for every test in this package.
var now = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// slot returns an RFC3339 timestamp h hours after the test clock.
func slot(h int) string {
	return now.Add(time.Duration(h) * time.Hour).Format(time.RFC3339)
}

func newMemoryEngine(t *testing.T) (*booking.Engine, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	return booking.NewEngine(s, booking.WithClock(clock), booking.WithLocker(booking.NewLocalLocker())), s
}

func newSQLiteEngine(t *testing.T) (*booking.Engine, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return booking.NewEngine(s, booking.WithClock(clock), booking.WithLocker(booking.NewLocalLocker())), s
}

// backends runs fn against every store the engine ships with.
func backends(t *testing.T, fn func(t *testing.T, engine *booking.Engine, s booking.Store)) {
	t.Run("memory", func(t *testing.T) {
		e, s := newMemoryEngine(t)
		fn(t, e, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		e, s := newSQLiteEngine(t)
		fn(t, e, s)
	})
}

func addDoctor(t *testing.T, s booking.Store, id booking.DoctorID, fee, pct string) {
	t.Helper()
	require.NoError(t, s.SaveDoctor(context.Background(), booking.Doctor{
		ID:                 id,
		Name:               "Ada " + string(id),
		Email:              string(id) + "@clinic.test",
		Specialty:          "Cardiology",
		ConsultationFee:    dec(fee),
		DiscountPercentage: dec(pct),
		Available:          true,
		CreatedAt:          now.Add(-24 * time.Hour),
	}))
}

func addPatient(t *testing.T, s booking.Store, id booking.PatientID) {
	t.Helper()
	require.NoError(t, s.SavePatient(context.Background(), booking.Patient{
		ID:        id,
		Name:      "Pat " + string(id),
		Email:     string(id) + "@mail.test",
		CreatedAt: now.Add(-24 * time.Hour),
	}))
}

func fund(t *testing.T, e *booking.Engine, id booking.PatientID, amount string) {
	t.Helper()
	_, err := e.TopUp(context.Background(), id, dec(amount), "")
	require.NoError(t, err)
}

func balanceOf(t *testing.T, s booking.ReadStore, id booking.PatientID) decimal.Decimal {
	t.Helper()
	p, err := s.GetPatient(context.Background(), id)
	require.NoError(t, err)
	return p.WalletBalance
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}
