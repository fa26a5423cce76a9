package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/consult-wallet/booking"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seedOptions struct {
	doctors  int
	patients int
	bookings int
	seed     int64
}

func newSeedCommand() *cobra.Command {
	var opts seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the store with fake doctors and funded patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return seed(cmd.Context(), a, opts)
		},
	}

	cmd.Flags().IntVar(&opts.doctors, "doctors", 10, "Number of doctors to create")
	cmd.Flags().IntVar(&opts.patients, "patients", 50, "Number of patients to create")
	cmd.Flags().IntVar(&opts.bookings, "bookings", 0, "Number of random bookings to attempt")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Random seed (0 picks one from the clock)")

	return cmd
}

func seed(ctx context.Context, a *app, opts seedOptions) error {
	log := a.log
	if opts.seed == 0 {
		opts.seed = time.Now().UnixNano()
	}
	gofakeit.Seed(opts.seed)
	log.Info("seed starting", slog.Int64("seed", opts.seed))

	doctors, err := seedDoctors(ctx, a.store, opts.doctors)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	log.Info("doctors seeded", slog.Int("count", len(doctors)))

	engine := a.engine()
	patients, err := seedPatients(ctx, a.store, engine, opts.patients)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}
	log.Info("patients seeded", slog.Int("count", len(patients)))

	if opts.bookings > 0 && len(doctors) > 0 && len(patients) > 0 {
		booked := seedBookings(ctx, engine, doctors, patients, opts.bookings)
		log.Info("bookings seeded", slog.Int("attempted", opts.bookings), slog.Int("booked", booked))
	}

	log.Info("seed complete")
	return nil
}

func seedDoctors(ctx context.Context, store booking.Store, count int) ([]booking.DoctorID, error) {
	ids := make([]booking.DoctorID, 0, count)
	for i := 0; i < count; i++ {
		d := booking.Doctor{
			ID:                 booking.NewDoctorID(),
			Name:               gofakeit.Name(),
			Email:              gofakeit.Email(),
			Specialty:          specialties[gofakeit.Number(0, len(specialties)-1)],
			ConsultationFee:    decimal.NewFromInt(int64(gofakeit.Number(5, 30) * 10)),
			DiscountPercentage: decimal.NewFromInt(int64(gofakeit.Number(0, 6) * 5)),
			Available:          gofakeit.Number(1, 10) > 1,
			CreatedAt:          time.Now().UTC(),
		}
		if err := store.SaveDoctor(ctx, d); err != nil {
			return nil, err
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// seedPatients creates patients at a zero balance and funds them through the
// ledger so every wallet has a matching credit.
func seedPatients(ctx context.Context, store booking.Store, engine *booking.Engine, count int) ([]booking.PatientID, error) {
	ids := make([]booking.PatientID, 0, count)
	for i := 0; i < count; i++ {
		p := booking.Patient{
			ID:        booking.NewPatientID(),
			Name:      gofakeit.Name(),
			Email:     gofakeit.Email(),
			CreatedAt: time.Now().UTC(),
		}
		if err := store.SavePatient(ctx, p); err != nil {
			return nil, err
		}
		amount := decimal.NewFromInt(int64(gofakeit.Number(1, 20) * 50))
		if _, err := engine.Ledger().Credit(ctx, p.ID, amount, "Initial wallet funding"); err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// seedBookings books random future slots. Rejections are expected and only
// counted.
func seedBookings(ctx context.Context, engine *booking.Engine, doctors []booking.DoctorID, patients []booking.PatientID, attempts int) int {
	base := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	booked := 0
	for i := 0; i < attempts; i++ {
		at := base.Add(time.Duration(gofakeit.Number(0, 24*30)) * time.Hour)
		_, err := engine.Book(ctx, booking.BookingRequest{
			DoctorID:  doctors[gofakeit.Number(0, len(doctors)-1)],
			PatientID: patients[gofakeit.Number(0, len(patients)-1)],
			DateTime:  at.Format(time.RFC3339),
		})
		if err == nil {
			booked++
		}
	}
	return booked
}
