package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xiaoyuanzhu-com/claude-monitor/api"
	"github.com/xiaoyuanzhu-com/claude-monitor/config"
	"github.com/xiaoyuanzhu-com/claude-monitor/db"
	"github.com/xiaoyuanzhu-com/claude-monitor/decision"
	"github.com/xiaoyuanzhu-com/claude-monitor/log"
	"github.com/xiaoyuanzhu-com/claude-monitor/notifications"
	"github.com/xiaoyuanzhu-com/claude-monitor/probe"
	"github.com/xiaoyuanzhu-com/claude-monitor/reconcile"
	"github.com/xiaoyuanzhu-com/claude-monitor/state"
	"github.com/xiaoyuanzhu-com/claude-monitor/transcript"
	"github.com/xiaoyuanzhu-com/claude-monitor/watch"
)

func main() {
	cfg := config.Get()

	// Store: without the state directory no reconciliation is possible,
	// so this is the one startup failure worth dying for
	store, err := state.NewStore(cfg.StateFilePath, cfg.CommandFilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize state store")
	}

	// Decision audit log
	audit, err := db.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	// State file watcher; a watcher failure degrades to polling-only
	var watcher watch.Watcher
	if w, err := watch.NewFileWatcher(cfg.StateFilePath); err != nil {
		log.Warn().Err(err).Msg("file watcher unavailable, relying on periodic sources")
	} else {
		watcher = w
	}

	reconciler := reconcile.New(reconcile.Options{
		Store:         store,
		Prober:        probe.New(cfg.ProcessName),
		Scanner:       transcript.NewScanner(cfg.ProjectsDir(), cfg.ScanWindow),
		Watcher:       watcher,
		Sender:        decision.NewSender(),
		Audit:         audit,
		ProbeInterval: cfg.ProbeInterval,
		ScanInterval:  cfg.ScanInterval,
	})

	// Bridge reconciler changes to SSE/WebSocket clients
	notifier := notifications.GetService()
	unsubscribe := reconciler.Subscribe(func(snapshot *state.Snapshot) {
		notifier.NotifyStateChanged(snapshot)
	})
	defer unsubscribe()

	if err := reconciler.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start reconciler")
	}
	log.Info().
		Str("stateFile", cfg.StateFilePath).
		Str("projectsDir", cfg.ProjectsDir()).
		Str("process", cfg.ProcessName).
		Msg("reconciler started")

	// Gin uses our zerolog-based request logger instead of its default
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(log.GinLogger())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	api.NewServer(reconciler, audit, notifier).SetupRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:     addr,
		Handler:  r,
		ErrorLog: log.StdLogger(log.Logger().GetLevel()),
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Str("env", cfg.Env).
			Msg("server starting")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	// Stop the reconciler first so late worker results are dropped
	reconciler.Stop()

	// Close all SSE/WebSocket streams
	notifier.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	if err := audit.Close(); err != nil {
		log.Error().Err(err).Msg("database close error")
	}

	log.Info().Msg("stopped")
}
