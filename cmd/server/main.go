// Package main is the entry point for the banknet interbank simulation
// service. It wires configuration, logging, the session manager, the
// archive store, and the HTTP server, then runs until interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/systemiq/banknet/internal/archive"
	"github.com/systemiq/banknet/internal/config"
	"github.com/systemiq/banknet/internal/server"
	"github.com/systemiq/banknet/internal/session"
	"github.com/systemiq/banknet/pkg/logger"
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

	log.Info().Msg("Starting banknet")

	// Archive store keeps final session records across restarts.
	var store *archive.Store
	if cfg.ArchiveEnabled {
		store, err = archive.Open(filepath.Join(cfg.DataDir, "archive.db"), log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open session archive")
		}
		defer store.Close()
		log.Info().Str("path", filepath.Join(cfg.DataDir, "archive.db")).Msg("Session archive opened")
	}

	opts := session.Options{
		ControlBuffer: cfg.ControlBuffer,
		EventBuffer:   cfg.EventBuffer,
		StepDelay:     time.Duration(cfg.StepDelayMs) * time.Millisecond,
		OracleTTL:     time.Duration(cfg.OracleTTLSeconds) * time.Second,
	}
	if store != nil {
		opts.OnTerminal = func(rec session.Record) {
			if err := store.Save(rec); err != nil {
				log.Error().Err(err).Str("session_id", rec.SessionID).Msg("Failed to archive session")
			}
		}
	}

	manager := session.NewManager(opts, log)

	// Terminal sessions are reaped on a schedule so abandoned runs do not
	// accumulate.
	reaper := cron.New()
	ttl := time.Duration(cfg.SessionTTLMin) * time.Minute
	if _, err := reaper.AddFunc(cfg.ReaperSchedule, func() {
		if n := manager.ReapTerminal(ttl); n > 0 {
			log.Info().Int("reaped", n).Msg("Reaped terminal sessions")
		}
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.ReaperSchedule).Msg("Invalid reaper schedule")
	}
	reaper.Start()
	defer reaper.Stop()

	srv := server.New(server.Config{
		Log:     log,
		Cfg:     cfg,
		Manager: manager,
		Store:   store,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
