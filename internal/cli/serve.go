package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openmmu/printflow/internal/config"
	"github.com/openmmu/printflow/internal/storage"
	"github.com/openmmu/printflow/internal/system"
)

const defaultConfigPath = "configs/config.yaml"

func newServeCommand(version string) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration daemon",
		Long: `Serve starts the full system: printer monitor, material-change sequencer,
websocket control channel, and the read-only HTTP API. It runs until
SIGINT/SIGTERM and then shuts down gracefully.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(configPath, version)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the config file")
	return cmd
}

func runServe(configPath, version string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded", zap.String("path", configPath))

	db, err := storage.NewPostgresClient(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	lifecycle, err := system.NewLifecycleManager(db, cfg, version, logger)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to build system: %w", err)
	}

	if err := lifecycle.Start(context.Background()); err != nil {
		db.Close()
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown closes the database pool.
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("Stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}
