package main

import (
	"log/slog"
	"os"

	"modcompat/internal/slogutil"
)

func main() {
	logger := slogutil.NewLogger(os.Stderr, slog.LevelInfo)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", "error", err.Error())
		os.Exit(1)
	}
}
