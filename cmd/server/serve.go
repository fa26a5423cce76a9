package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/consult-wallet/api"
	"github.com/warp/consult-wallet/lock"
)

func newServeCommand() *cobra.Command {
	var noAudit bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a, !noAudit)
		},
	}

	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "Disable the periodic ledger audit")

	return cmd
}

func serve(ctx context.Context, a *app, audit bool) error {
	log := a.log

	handler := api.NewHandler(a.engine(), a.store, log)

	var scheduler *api.AuditScheduler
	if audit && a.cfg.AuditInterval > 0 {
		scheduler = api.NewAuditScheduler(handler.Auditor, log)
		scheduler.CheckInterval = a.cfg.AuditInterval
		handler.Scheduler = scheduler
		scheduler.Start()
		defer scheduler.Stop()
	}

	var redisPing api.Pinger
	if a.redis != nil {
		redisPing = lock.NewRedisSlotLocker(a.redis, a.cfg.LockTTL)
	}

	router := api.NewRouter(api.RouterConfig{
		Handler:     handler,
		Health:      api.NewHealthHandler(a.store, redisPing, a.cfg.Env),
		CORSOrigins: a.cfg.CORSOrigins,
		Log:         log,
	})

	server := &http.Server{
		Addr:         ":" + a.cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
