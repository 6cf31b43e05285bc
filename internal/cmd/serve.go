package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/glasswing-dev/glasswing/internal/api"
	"github.com/glasswing-dev/glasswing/internal/claude"
	"github.com/glasswing-dev/glasswing/internal/config"
	"github.com/glasswing-dev/glasswing/internal/eventbus"
	"github.com/glasswing-dev/glasswing/internal/workspace"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	defer bus.Close()

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	inner := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(eventbus.NewSlogHandler(inner, bus))

	store, err := claude.OpenStore(cfg.ThreadsPath())
	if err != nil {
		return err
	}

	registry, err := workspace.Open(cfg.WorkspaceDBPath())
	if err != nil {
		return err
	}
	defer registry.Close()

	conversations := claude.NewService(store, registry, cfg, bus, "", logger)
	server := api.NewServer(conversations, registry, bus, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: server.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("glasswingd listening", "addr", cfg.Server.Listen, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
