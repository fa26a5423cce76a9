package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/warp/consult-wallet/booking"
)

var errLedgerDivergence = errors.New("ledger divergence detected")

func newAuditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Replay every ledger against its wallet balance",
		Long: `Replays every patient's transactions from zero and compares the result
with the stored wallet balance. Exits non-zero if any wallet diverges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := booking.NewAuditor(a.store, a.log).AuditAll(ctx)
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}

			a.log.Info("audit completed",
				slog.Int("patients", rep.Patients),
				slog.Int("divergent", len(rep.Divergent)))

			out := cmd.OutOrStdout()
			for _, d := range rep.Divergent {
				fmt.Fprintf(out, "%s\twallet=%s\tledger=%s\t%s\n", d.PatientID, d.WalletBalance, d.LedgerBalance, d.Problem)
			}
			if !rep.OK() {
				return errLedgerDivergence
			}
			fmt.Fprintf(out, "ok: %d wallets match their ledgers\n", rep.Patients)
			return nil
		},
	}
}
