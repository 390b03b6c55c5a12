package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/hcl/v2"
	"github.com/spf13/cobra"
	"github.com/tsarna/doodlehub/pkg/doodlehub/app"
	"github.com/tsarna/doodlehub/pkg/doodlehub/config"
	"go.uber.org/zap"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server [config-files-or-directories...]",
	Short: "Start the doodlehub server",
	Long: `Start the doodlehub server with the specified configuration files or directories.

The server loads HCL configuration files from the specified paths. With no
paths it starts with the defaults: listening on :5000 with the placeholder
classifier.

Examples:
  doodlehub server
  doodlehub server kiosk.hcl
  doodlehub server --env-file .env ./configs/`,
	RunE: runServer,
}

var (
	logLevel string
	envFiles []string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringSliceVar(&envFiles, "env-file", nil, ".env files to load before evaluating the configuration")
}

func runServer(cmd *cobra.Command, args []string) error {
	// Setup logger
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting doodlehub server",
		zap.Strings("config-paths", args),
		zap.String("log-level", logLevel),
	)

	cfg, diags := config.NewConfig().
		WithLogger(logger).
		WithDotEnv(envFiles...).
		WithSources(stringSliceToAnySlice(args)...).
		Build()

	for _, diag := range diags {
		if diag.Severity == hcl.DiagWarning {
			logger.Warn(diag.Error())
		}
	}
	if diags.HasErrors() {
		logger.Error("Failed to build config", zap.Any("diags", diags))
		return diags
	}

	hub, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := hub.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case err := <-hub.Done():
		if err != nil {
			logger.Error("Server stopped unexpectedly", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error during shutdown", zap.Error(err))
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}

func setupLogger() (*zap.Logger, error) {
	level := logLevel
	debugFlag := GetDebug()
	verboseFlag := GetVerbose()

	// Override log level based on flags
	if debugFlag {
		level = "debug"
	} else if verboseFlag && level == "info" {
		level = "debug"
	}

	var zapLevel zap.AtomicLevel
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn", "warning":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config := zap.NewProductionConfig()
	config.Level = zapLevel
	config.Development = debugFlag

	return config.Build()
}

// Helper to convert []string to []any
func stringSliceToAnySlice(strs []string) []any {
	anys := make([]any, len(strs))
	for i, s := range strs {
		anys[i] = s
	}
	return anys
}
