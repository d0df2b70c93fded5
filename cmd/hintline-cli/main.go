package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hintline/hintline"
)

// Set at build time
var version = "dev"

const cursorFlag = "<CURSOR>"

func main() {
	// --- Flag Definitions ---
	fileName := flag.String("name", "stdin", "File name tag attached to the completion context")
	language := flag.String("lang", "", "Language tag attached to the completion context")
	wait := flag.Bool("wait", true, "Wait for the asynchronous remote result instead of exiting after the placeholder")
	waitTimeout := flag.Duration("wait-timeout", 30*time.Second, "How long to wait for the asynchronous result")
	logLevelFlag := flag.String("log-level", "", "Log level (debug, info, warn, error) - overrides config")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// --- Setup Temporary Logger for Initialization ---
	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// --- Initialize Completer (Loads Config) ---
	completer, initErr := hintline.NewCompleter(tempLogger)
	if initErr != nil && !errors.Is(initErr, hintline.ErrConfig) {
		tempLogger.Error("Fatal error initializing Completer service", "error", initErr)
		os.Exit(1)
	}
	if completer == nil {
		tempLogger.Error("Completer initialization returned nil unexpectedly")
		os.Exit(1)
	}
	defer func() {
		if err := completer.Close(); err != nil {
			slog.Error("Error closing completer", "error", err)
		}
	}()

	// --- Setup Final Logger based on Flag/Config ---
	initialConfig := completer.GetCurrentConfig()
	chosenLogLevelStr := initialConfig.LogLevel
	if *logLevelFlag != "" {
		chosenLogLevelStr = *logLevelFlag
	}
	logLevel, parseLevelErr := hintline.ParseLogLevel(chosenLogLevelStr)
	if parseLevelErr != nil {
		tempLogger.Warn("Invalid log level specified, using default 'info'", "specified_level", chosenLogLevelStr, "error", parseLevelErr)
		logLevel = slog.LevelInfo
	}
	finalLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(finalLogger)

	if initErr != nil && errors.Is(initErr, hintline.ErrConfig) {
		slog.Warn("Completer initialized with configuration warnings", "error", initErr)
	}

	// --- Read Context from Stdin ---
	// Input is the code window with a literal <CURSOR> marker at the edit
	// position. Without a marker, the whole input is the before-window.
	inputBytes, readErr := io.ReadAll(os.Stdin)
	if readErr != nil {
		slog.Error("Failed to read context from stdin", "error", readErr)
		os.Exit(1)
	}
	input := string(inputBytes)
	before, after, found := strings.Cut(input, cursorFlag)
	if !found {
		before = input
		after = ""
	}

	cctx := hintline.NewCompletionContext(before, after, *fileName, *language, initialConfig.ContextWindowBytes)

	// --- Run the Pipeline ---
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result := completer.Suggest(ctx, cctx)
	printSuggestions(result.Suggestions, result.FromCache)

	if result.FromCache || !*wait {
		return
	}

	select {
	case final, ok := <-result.Updates:
		if ok {
			fmt.Println("---")
			printSuggestions(final, false)
		}
	case <-time.After(*waitTimeout):
		slog.Warn("Timed out waiting for the asynchronous result", "timeout", *waitTimeout)
	}
}

func printSuggestions(suggestions []hintline.Suggestion, fromCache bool) {
	if fromCache {
		fmt.Fprintln(os.Stderr, "(cached)")
	}
	for i, s := range suggestions {
		fmt.Printf("%d. %s\n", i+1, s.Text)
	}
}
