package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER AUDIT - Wallet balance vs. replayed ledger
// =============================================================================

// AuditResult is the outcome for a single patient.
type AuditResult struct {
	PatientID     PatientID
	WalletBalance decimal.Decimal
	LedgerBalance decimal.Decimal
	Entries       int
	Consistent    bool
	Problem       string
}

type AuditReport struct {
	CheckedAt time.Time
	Patients  int
	Divergent []AuditResult
}

func (r *AuditReport) OK() bool { return len(r.Divergent) == 0 }

// Auditor replays every patient's ledger from zero and compares the result
// with the stored wallet balance. It only reads.
type Auditor struct {
	store ReadStore
	log   *slog.Logger
	now   func() time.Time
}

func NewAuditor(store ReadStore, log *slog.Logger) *Auditor {
	if log == nil {
		log = slog.Default()
	}
	return &Auditor{store: store, log: log, now: time.Now}
}

// AuditPatient checks one patient. The wallet and the ledger are read
// separately, so a write landing between the reads can look like drift; a
// mismatch is only reported if a second read confirms it.
func (a *Auditor) AuditPatient(ctx context.Context, id PatientID) (AuditResult, error) {
	res, err := a.check(ctx, id)
	if err != nil || res.Consistent {
		return res, err
	}
	return a.check(ctx, id)
}

func (a *Auditor) check(ctx context.Context, id PatientID) (AuditResult, error) {
	txs, err := a.store.ListTransactions(ctx, id, DateRange{})
	if err != nil {
		return AuditResult{}, internal("list transactions", err)
	}
	p, err := a.store.GetPatient(ctx, id)
	if err != nil {
		return AuditResult{}, internal("load patient", err)
	}

	res := AuditResult{PatientID: id, WalletBalance: p.WalletBalance, Entries: len(txs)}
	ledger, err := Replay(txs)
	res.LedgerBalance = ledger
	switch {
	case err != nil:
		res.Problem = err.Error()
	case !ledger.Equal(p.WalletBalance):
		res.Problem = fmt.Sprintf("wallet balance %s, ledger replays to %s", p.WalletBalance, ledger)
	default:
		res.Consistent = true
	}
	return res, nil
}

// AuditAll checks every patient. A patient deleted mid-run is skipped.
func (a *Auditor) AuditAll(ctx context.Context) (*AuditReport, error) {
	ids, err := a.store.ListPatientIDs(ctx)
	if err != nil {
		return nil, internal("list patients", err)
	}

	report := &AuditReport{CheckedAt: a.now().UTC()}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := a.AuditPatient(ctx, id)
		if errors.Is(err, ErrPatientNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		report.Patients++
		if !res.Consistent {
			a.log.WarnContext(ctx, "ledger divergence",
				slog.String("patient_id", string(id)),
				slog.String("wallet_balance", res.WalletBalance.String()),
				slog.String("ledger_balance", res.LedgerBalance.String()),
				slog.String("problem", res.Problem))
			report.Divergent = append(report.Divergent, res)
		}
	}
	return report, nil
}
