// Package main is the entry point for the FolioSync server: a bidirectional
// synchronization engine that keeps a local trade ledger, its device mirror
// and a hand-editable remote JSON document reconciled.
//
// Startup sequence:
// 1. Load configuration from environment variables (.env file supported)
// 2. Initialize logging
// 3. Open the ledger and mirror databases and run migrations
// 4. Build the remote accessor for the configured backend (S3 or HTTP)
// 5. Wire the reconciliation engine and the sync orchestrator
// 6. Register maintenance jobs and start the HTTP server
// 7. Wait for a shutdown signal and stop everything gracefully
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/clients/drivefs"
	"github.com/aristath/foliosync/internal/clients/s3fs"
	"github.com/aristath/foliosync/internal/config"
	"github.com/aristath/foliosync/internal/database"
	"github.com/aristath/foliosync/internal/events"
	"github.com/aristath/foliosync/internal/modules/ledger"
	"github.com/aristath/foliosync/internal/modules/mirror"
	"github.com/aristath/foliosync/internal/reconcile"
	"github.com/aristath/foliosync/internal/remote"
	"github.com/aristath/foliosync/internal/scheduler"
	"github.com/aristath/foliosync/internal/server"
	syncengine "github.com/aristath/foliosync/internal/sync"
	"github.com/aristath/foliosync/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("backend", cfg.RemoteBackend).
		Msg("Starting FolioSync")

	// Databases
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.LedgerDBPath(),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	mirrorDB, err := database.New(database.Config{
		Path:    cfg.MirrorDBPath(),
		Profile: database.ProfileStandard,
		Name:    "mirror",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open mirror database")
	}
	defer mirrorDB.Close()

	for _, db := range []*database.DB{ledgerDB, mirrorDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to run migrations")
		}
	}

	// Repositories and event bus
	bus := events.NewBus(log)
	ledgerRepo := ledger.NewRepository(ledgerDB.Conn(), log)
	mirrorRepo := mirror.NewRepository(mirrorDB.Conn(), log)

	// Remote accessor
	store, err := buildRemoteStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize remote backend")
	}
	// Both backends hand out per-request credentials, so there is no token
	// source to refresh mid-session.
	accessor := remote.NewAccessor(store, nil, remote.DefaultPolicy(), log)

	// Reconciliation and orchestration
	engine := reconcile.NewEngine(log)
	applier := reconcile.NewApplier(ledgerRepo, mirrorRepo, log)

	orchestrator := syncengine.NewOrchestrator(syncengine.Deps{
		Config:     cfg.Sync,
		OwnerID:    cfg.OwnerID,
		FileName:   cfg.RemoteFileName,
		FolderName: cfg.RemoteFolderName,
		Remote:     accessor,
		Engine:     engine,
		Applier:    applier,
		Ledger:     ledgerRepo,
		Mirror:     mirrorRepo,
		Sessions:   syncengine.NewSessionStore(cfg.SessionStatePath()),
		Bus:        bus,
		Log:        log,
	})

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 60*time.Second)
	if err := orchestrator.Connect(connectCtx); err != nil {
		// Not fatal: the server still serves the local ledger, and sync can
		// be connected later via the API.
		log.Error().Err(err).Msg("Initial sync connection failed")
	}
	cancelConnect()

	// Background maintenance
	sched := scheduler.New(log)
	backupDir := filepath.Join(cfg.DataDir, "backups")
	registerJob(sched, log, "0 0 3 * * *", scheduler.NewMirrorSnapshotJob(mirrorRepo, backupDir, 14, log))
	registerJob(sched, log, "0 30 3 * * *", scheduler.NewCompactTombstonesJob(mirrorRepo, 30*24*time.Hour, log))
	registerJob(sched, log, "0 0 * * * *", scheduler.NewWALCheckpointJob(log, ledgerDB, mirrorDB))
	registerJob(sched, log, "0 15 4 * * *", scheduler.NewHealthCheckJob(log, ledgerDB, mirrorDB))
	sched.Start()

	// HTTP server
	srv := server.New(server.Config{
		Log:          log,
		Config:       cfg,
		LedgerDB:     ledgerDB,
		MirrorDB:     mirrorDB,
		Ledger:       ledgerRepo,
		Mirror:       mirrorRepo,
		Orchestrator: orchestrator,
		Bus:          bus,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server stopped unexpectedly")
	}

	// Graceful shutdown: stop accepting requests, stop jobs, then disconnect
	// sync so the session state is persisted from a quiet system.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	sched.Stop()
	orchestrator.Disconnect()

	log.Info().Msg("FolioSync stopped")
}

// buildRemoteStore picks the configured hosting backend.
func buildRemoteStore(cfg *config.Config, log zerolog.Logger) (remote.Store, error) {
	switch cfg.RemoteBackend {
	case "s3":
		return s3fs.New(context.Background(), s3fs.Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, log)
	default:
		token := cfg.RemoteToken
		return drivefs.New(drivefs.Config{
			BaseURL: cfg.RemoteBaseURL,
			Token:   func() string { return token },
		}, log), nil
	}
}

func registerJob(sched *scheduler.Scheduler, log zerolog.Logger, schedule string, job scheduler.Job) {
	if err := sched.AddJob(schedule, job); err != nil {
		log.Error().Err(err).Str("job", job.Name()).Msg("Failed to register job")
	}
}
