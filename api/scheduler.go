/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Periodically replays every patient's ledger against the stored wallet
  balance and logs any divergence. Nothing is repaired automatically: a
  divergence means a write path is broken and needs a human.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Keeps the last report for the admin endpoint and the CLI

CONFIGURATION:
  - CheckInterval: How often to audit (default: 1 hour, AUDIT_INTERVAL)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAuditScheduler(auditor, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAudit endpoint (manual audit)
  - booking/audit.go: Auditor
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/consult-wallet/booking"
)

// AuditScheduler runs the ledger audit on a ticker.
type AuditScheduler struct {
	Auditor       *booking.Auditor
	CheckInterval time.Duration
	Enabled       bool

	log    *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *booking.AuditReport
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(auditor *booking.Auditor, log *slog.Logger) *AuditScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &AuditScheduler{
		Auditor:       auditor,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log.With(slog.String("component", "audit_scheduler")),
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.log.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.log.Info("scheduler started", slog.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight audit to finish.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("scheduler stopped")
	}
}

func (s *AuditScheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunNow runs one audit and records the report.
func (s *AuditScheduler) RunNow(ctx context.Context) (*booking.AuditReport, error) {
	start := time.Now()
	rep, err := s.Auditor.AuditAll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("audit failed", slog.Any("error", err))
		}
		return nil, err
	}

	s.lastMu.Lock()
	s.last = rep
	s.lastMu.Unlock()

	attrs := []any{
		slog.Int("patients", rep.Patients),
		slog.Int("divergent", len(rep.Divergent)),
		slog.Duration("duration", time.Since(start)),
	}
	if rep.OK() {
		s.log.Info("audit completed", attrs...)
	} else {
		s.log.Warn("audit found divergent wallets", attrs...)
	}
	return rep, nil
}

// LastReport returns the most recent audit, or nil before the first run.
func (s *AuditScheduler) LastReport() *booking.AuditReport {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}
