package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"modcompat/internal/config"
	apperrors "modcompat/internal/errors"
	"modcompat/internal/slogutil"
	"modcompat/internal/storage"
)

var loggerFactory *slogutil.LoggerFactory

// getRepoRoot returns the workspace root directory.
func getRepoRoot() (string, error) {
	if rootFlag != "" {
		return filepath.Abs(rootFlag)
	}
	return os.Getwd()
}

// mustGetRepoRoot returns the workspace root or exits on error.
func mustGetRepoRoot() string {
	repoRoot, err := getRepoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return repoRoot
}

// newContext creates a new context for command execution.
func newContext() context.Context {
	return context.Background()
}

// mustLoadConfig loads and validates the workspace configuration or exits.
func mustLoadConfig(repoRoot string) *config.Config {
	cfg, err := config.LoadConfig(repoRoot)
	if err != nil {
		exitWithError("loading config", apperrors.New(apperrors.ConfigInvalid, "failed to load config", err))
	}
	if err := cfg.Validate(); err != nil {
		exitWithError("validating config", apperrors.New(apperrors.ConfigInvalid, "invalid configuration", err))
	}
	return cfg
}

// newLogger creates the process logger from the config and the verbosity
// flags. Flags win over the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	format := cfg.Logging.Format
	if logFormatFlag != "" {
		format = logFormatFlag
	}

	// The level was checked by mustLoadConfig.
	level, _ := slogutil.ParseLevel(cfg.Logging.Level)
	if quiet || verbosity > 0 {
		level = slogutil.LevelFromVerbosity(verbosity, quiet)
	}

	closeLogger()
	loggerFactory = slogutil.NewLoggerFactory(format, level, slogutil.FileOptions{
		Path:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	logger, err := loggerFactory.Logger(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// closeLogger flushes and closes the log file, if any.
func closeLogger() {
	if loggerFactory != nil {
		loggerFactory.Close()
		loggerFactory = nil
	}
}

// mustOpenStore opens the fact store configured for repoRoot or exits.
func mustOpenStore(repoRoot string, cfg *config.Config, logger *slog.Logger) *storage.Store {
	db, err := storage.OpenPath(cfg.DatabasePath(repoRoot), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening fact store: %v\n", err)
		os.Exit(1)
	}
	return storage.NewStore(db)
}

// mustLatestRun returns the latest stored run or exits with a hint to run
// the analysis first.
func mustLatestRun(store *storage.Store) *storage.RunSummary {
	run, err := store.LatestRun()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading latest run: %v\n", err)
		os.Exit(1)
	}
	if run == nil {
		fmt.Fprintln(os.Stderr, "No analysis run recorded. Run 'modcompat analyze' first.")
		os.Exit(1)
	}
	return run
}

// exitWithError prints err with its suggested fixes and exits.
func exitWithError(action string, err error) {
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", action, err)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		for _, fix := range appErr.SuggestedFixes {
			if fix.Command != "" {
				fmt.Fprintf(os.Stderr, "  hint: %s (%s)\n", fix.Command, fix.Description)
			} else {
				fmt.Fprintf(os.Stderr, "  hint: %s\n", fix.Description)
			}
		}
	}
	os.Exit(1)
}

// printOutput formats resp and prints it, exiting on formatting errors.
func printOutput(resp interface{}, format string) {
	output, err := FormatResponse(resp, OutputFormat(format))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(output)
}
