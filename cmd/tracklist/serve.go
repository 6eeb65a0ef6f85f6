package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/tracklist/internal/auth"
	"github.com/dukerupert/tracklist/internal/config"
	"github.com/dukerupert/tracklist/internal/database"
	"github.com/dukerupert/tracklist/internal/logging"
	"github.com/dukerupert/tracklist/internal/push"
	"github.com/dukerupert/tracklist/internal/server"
	"github.com/dukerupert/tracklist/internal/snapshot"
	"github.com/dukerupert/tracklist/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg := database.Config{URL: cfg.Database.URL, Path: cfg.DBPath()}
	db, err := database.Open(ctx, dbCfg, logger.With("component", "database"))
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return err
	}
	defer db.Close()

	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		logger.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}

	accounts, err := auth.NewAccounts(cfg.Auth.Demo, cfg.Auth.FamilyUsers)
	if err != nil {
		return fmt.Errorf("family users: %w", err)
	}
	issuer := auth.NewTokenIssuer(secret, cfg.Auth.TokenTTL)

	if cfg.Auth.Demo {
		if err := store.SeedDemo(ctx, db, auth.DemoUsername, time.Now()); err != nil {
			logger.Error("seed demo data", "error", err)
		} else {
			logger.Info("demo data seeded", "username", auth.DemoUsername)
		}
	}

	srv := server.New(db, accounts, issuer, logger)

	if cfg.Push.Enabled() {
		svc := push.NewService(push.Config{
			VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
			Subject:         cfg.Push.Subject,
		})
		srv.EnablePush(svc)

		reminders := push.NewScheduler(svc, store.NewPushStore(db), store.NewTaskStore(db), cfg.Push.ReminderHour, logger)
		reminders.Start(ctx)
		defer reminders.Stop()
		logger.Info("push reminders enabled", "reminder_hour", cfg.Push.ReminderHour)
	}

	snapshots := newSnapshotManager(cfg, db, logger)
	snapshots.Start(ctx)
	defer snapshots.Stop()
	if snapshots.Status().State != snapshot.StateDisabled {
		logger.Info("off-site snapshots enabled",
			"bucket", cfg.Snapshot.Bucket,
			"interval", cfg.Snapshot.Interval,
			"retention_days", cfg.Snapshot.RetentionDays,
		)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tracklist starting",
			"addr", httpServer.Addr,
			"database", db.Dialect().String(),
			"demo", cfg.Auth.Demo,
			"family_users", accounts.Count(),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}
	return nil
}
