package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/termrelay/internal/config"
	"github.com/gluk-w/termrelay/internal/database"
	"github.com/gluk-w/termrelay/internal/handlers"
	"github.com/gluk-w/termrelay/internal/logging"
	"github.com/gluk-w/termrelay/internal/middleware"
	"github.com/gluk-w/termrelay/internal/ptyproc"
	"github.com/gluk-w/termrelay/internal/sessionaudit"
	"github.com/gluk-w/termrelay/internal/termsession"
)

func main() {
	config.Load()
	cfg := config.Cfg
	logging.Init(cfg.ResolvedLogPath())

	command := cfg.Command()
	if len(command) == 0 {
		log.Fatalf("TERMRELAY_TERMINAL_COMMAND is empty")
	}

	registry := termsession.NewRegistry(termsession.Config{
		IdleTimeout:  cfg.TerminalSessionTimeout,
		BufferSize:   cfg.TerminalBufferSize,
		RecordingDir: cfg.TerminalRecordingDir,
		Rows:         cfg.TerminalRows,
		Cols:         cfg.TerminalCols,
	})
	log.Printf("Terminal session registry initialized (command=%q, buffer=%d bytes, recording=%q, idle_timeout=%s)",
		cfg.TerminalCommand, cfg.TerminalBufferSize, cfg.TerminalRecordingDir, cfg.TerminalSessionTimeout)

	var auditor *sessionaudit.Auditor
	if cfg.DatabasePath != "" {
		if err := database.Init(cfg.DatabasePath); err != nil {
			log.Fatalf("Database init: %v", err)
		}
		defer database.Close()
		auditor = sessionaudit.NewAuditor(database.DB, cfg.AuditRetentionDays)
		registry.OnEvent(auditor.RecordSessionEvent)
		log.Printf("Session audit enabled (db=%s, retention=%d days)", cfg.DatabasePath, auditor.RetentionDays())
	}

	sweeper, err := termsession.StartSweeper(registry, cfg.TerminalCleanupSchedule)
	if err != nil {
		log.Fatalf("Session sweeper: %v", err)
	}
	if auditor != nil {
		if err := sweeper.Schedule("@daily", func() { auditor.PurgeOlderThan(0) }); err != nil {
			log.Fatalf("Audit purge: %v", err)
		}
	}

	term := &handlers.Terminal{
		Registry: registry,
		Auditor:  auditor,
		Spawn: func() (termsession.Terminal, error) {
			p, err := ptyproc.Start(ptyproc.Options{
				Command:      command,
				Dir:          cfg.TerminalWorkdir,
				Env:          append(os.Environ(), "TERM=xterm-256color"),
				Rows:         cfg.TerminalRows,
				Cols:         cfg.TerminalCols,
				CloseTimeout: cfg.TerminalCloseTimeout,
			})
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		RateLimit: cfg.TerminalRateLimit,
		RateBurst: cfg.TerminalRateBurst,
		Replay:    cfg.TerminalReplay,
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: newRouter(term, cfg.OwnerHeader),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	sweeper.Stop()
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// newRouter mounts the API. Everything under /api/v1 requires an owner.
func newRouter(term *handlers.Terminal, ownerHeader string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireOwner(ownerHeader))

		r.Get("/terminal", term.ServeWS)
		r.Get("/terminal/sessions", term.ListSessions)
		r.Delete("/terminal/sessions/{sessionId}", term.CloseSession)
		r.Get("/terminal/audit", term.GetAuditLogs)

		r.Get("/server/logs", handlers.GetServerLogs)
		r.Delete("/server/logs", handlers.ClearServerLogs)
	})

	return r
}
