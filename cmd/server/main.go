package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/jmhart/fansync/internal/config"
	"github.com/jmhart/fansync/internal/db"
	"github.com/jmhart/fansync/internal/handlers"
	"github.com/jmhart/fansync/internal/mount"
	"github.com/jmhart/fansync/internal/rsync"
	"github.com/jmhart/fansync/internal/scheduler"
	"github.com/jmhart/fansync/internal/services"
)

func main() {
	// Optional .env file for local development
	_ = godotenv.Load()

	setupLogger()

	cfg := config.Load()

	slog.Info("fansync starting",
		"db", cfg.DBPath,
		"port", cfg.Port,
		"mount", cfg.MountPoint)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	// Jobs left in a live state by a crash or hard kill cannot be resumed.
	if n, err := database.ReconcileInterrupted(); err != nil {
		slog.Error("failed to reconcile interrupted jobs", "error", err)
		os.Exit(1)
	} else if n > 0 {
		slog.Warn("marked interrupted jobs as failed", "count", n)
	}

	executor := rsync.NewExecutor()
	executor.SetBinaryPath(cfg.RsyncPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := executor.CheckInstalled(ctx); err != nil {
		slog.Warn("rsync not found, jobs will fail until it is installed", "error", err)
	} else if version, err := executor.Version(ctx); err == nil {
		slog.Info("using copy tool", "version", version)
	}
	cancel()

	checker := mount.NewChecker()
	if st, err := checker.Check(cfg.MountPoint); err != nil {
		slog.Warn("mount point not healthy at startup", "path", cfg.MountPoint, "detail", st.Detail)
	}

	service := services.New(database, executor, checker, cfg.MountPoint)

	sched := scheduler.New(database, service)
	sched.Start()
	defer sched.Stop()

	h := handlers.New(database, cfg, executor, service, sched, checker)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		slog.Info("shutting down")
		sched.Stop()
		service.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server listening", "addr", fmt.Sprintf("http://localhost:%d", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

func setupLogger() {
	w := os.Stderr
	handler := tint.NewHandler(w, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
		NoColor:    !isatty.IsTerminal(w.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}
