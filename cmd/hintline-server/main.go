package main

import (
	"errors"
	"io"
	stlog "log" // Renamed standard log
	"log/slog"
	"os"

	"github.com/hintline/hintline"
)

// App version (set via linker flags -ldflags="-X main.appVersion=...")
var appVersion = "dev"

func main() {
	// --- Basic Setup ---
	// Setup logging destination *before* initializing slog. Stdout carries
	// the JSON-RPC stream, so logs go to stderr plus a file.
	logFile, err := os.OpenFile("hintline-server.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		stlog.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()

	tempLogger := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, logFile), &slog.HandlerOptions{Level: slog.LevelInfo}))

	// --- Initialize Core Service ---
	completer, initErr := hintline.NewCompleter(tempLogger)
	if initErr != nil {
		tempLogger.Error("Failed to initialize Completer service", "error", initErr)
		if !errors.Is(initErr, hintline.ErrConfig) {
			os.Exit(1)
		}
		if completer == nil {
			tempLogger.Error("Completer initialization returned nil unexpectedly, exiting.")
			os.Exit(1)
		}
	}
	defer func() {
		slog.Info("Closing Completer service...")
		if err := completer.Close(); err != nil {
			slog.Error("Error closing completer", "error", err)
		}
	}()

	// --- Setup Global Logger ---
	initialConfig := completer.GetCurrentConfig()
	logLevel, parseLevelErr := hintline.ParseLogLevel(initialConfig.LogLevel)
	if parseLevelErr != nil {
		logLevel = slog.LevelInfo
		tempLogger.Warn("Invalid log level in config, using default 'info'", "config_level", initialConfig.LogLevel, "error", parseLevelErr)
	}
	logWriter := io.MultiWriter(os.Stderr, logFile)
	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: logLevel, AddSource: true})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("hintline RPC server starting...", "version", appVersion, "log_level", logLevel.String())
	if initErr != nil && errors.Is(initErr, hintline.ErrConfig) {
		slog.Warn("Completer initialized with configuration warnings", "error", initErr)
	}

	// --- Initialize and Run RPC Server ---
	rpcServer := hintline.NewServer(completer, logger, appVersion)
	rpcServer.Run(os.Stdin, os.Stdout)

	slog.Info("RPC server has shut down gracefully.")
}
