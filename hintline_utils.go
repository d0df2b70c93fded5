// hintline_utils.go
package hintline

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// ============================================================================
// Logging Helpers
// ============================================================================

// ParseLogLevel converts a config log level string to a slog.Level.
func ParseLogLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level '%s'", levelStr)
	}
}

// ============================================================================
// Context Fingerprinting
// ============================================================================

// FingerprintContext derives a deterministic cache key from a completion
// context. Fields are length-prefixed before hashing so adjacent fields can
// never alias ("ab"+"c" vs "a"+"bc"). Pure function, no I/O; safe on empty
// and maximum-length input.
func FingerprintContext(cctx CompletionContext) Fingerprint {
	h := sha256.New()
	var lenBuf [8]byte
	writeField := func(s string) {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	writeField(cctx.Language)
	writeField(cctx.FileName)
	writeField(cctx.Before)
	writeField(cctx.After)
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// ============================================================================
// API Key Resolution
// ============================================================================

// resolveAPIKey reads the API key from the environment, loading a local
// .env file first if present. Resolution happens once at startup; a missing
// key yields the non-functional placeholder rather than an error, so the
// remote call fails and the fallback path takes over.
func resolveAPIKey(logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	_ = godotenv.Load() // best effort; absence of .env is normal

	for _, name := range []string{apiKeyEnvVar, apiKeyEnvVarSecondary} {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			logger.Debug("Resolved API key from environment", "var", name)
			return key
		}
	}
	logger.Warn("No API key found in environment; remote completions will fail over to fallback suggestions",
		"checked", []string{apiKeyEnvVar, apiKeyEnvVarSecondary})
	return apiKeyPlaceholder
}

// ============================================================================
// Config File Helpers
// ============================================================================

// GetConfigPaths returns the primary and secondary candidate paths for the
// JSON config file.
func GetConfigPaths(logger *slog.Logger) (primary string, secondary string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	userConfigDir, cfgErr := os.UserConfigDir()
	if cfgErr == nil {
		primary = filepath.Join(userConfigDir, configDirName, defaultConfigFileName)
	} else {
		logger.Warn("Could not determine user config directory", "error", cfgErr)
		err = cfgErr
	}
	homeDir, homeErr := os.UserHomeDir()
	if homeErr == nil {
		secondary = filepath.Join(homeDir, "."+configDirName, defaultConfigFileName)
	} else if err == nil {
		err = homeErr
	}
	if primary == "" && secondary == "" {
		return "", "", fmt.Errorf("cannot determine config paths: %w", err)
	}
	return primary, secondary, nil
}

// LoadAndMergeConfig reads the config file at path (if present) and merges
// the fields it sets into cfg. Returns whether a file was loaded.
func LoadAndMergeConfig(path string, cfg *Config, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading config file failed: %w", err)
	}

	var fileCfg FileConfig
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return true, fmt.Errorf("parsing config file JSON failed: %w", err)
	}
	applyFileConfig(cfg, fileCfg)

	logger.Debug("Merged config file", "path", path)
	return true, nil
}

// applyFileConfig overlays the fields set in fileCfg onto cfg.
func applyFileConfig(cfg *Config, fileCfg FileConfig) {
	if fileCfg.EndpointURL != nil {
		cfg.EndpointURL = *fileCfg.EndpointURL
	}
	if fileCfg.Model != nil {
		cfg.Model = *fileCfg.Model
	}
	if fileCfg.MaxSuggestions != nil {
		cfg.MaxSuggestions = *fileCfg.MaxSuggestions
	}
	if fileCfg.MaxOutputTokens != nil {
		cfg.MaxOutputTokens = *fileCfg.MaxOutputTokens
	}
	if fileCfg.Temperature != nil {
		cfg.Temperature = *fileCfg.Temperature
	}
	if fileCfg.TopP != nil {
		cfg.TopP = *fileCfg.TopP
	}
	if fileCfg.TopK != nil {
		cfg.TopK = *fileCfg.TopK
	}
	if fileCfg.ConnectTimeoutSeconds != nil {
		cfg.ConnectTimeoutSeconds = *fileCfg.ConnectTimeoutSeconds
	}
	if fileCfg.RequestTimeoutSeconds != nil {
		cfg.RequestTimeoutSeconds = *fileCfg.RequestTimeoutSeconds
	}
	if fileCfg.ContextWindowBytes != nil {
		cfg.ContextWindowBytes = *fileCfg.ContextWindowBytes
	}
	if fileCfg.CacheTTLSeconds != nil {
		cfg.CacheTTLSeconds = *fileCfg.CacheTTLSeconds
	}
	if fileCfg.CacheMaxCostBytes != nil {
		cfg.CacheMaxCostBytes = *fileCfg.CacheMaxCostBytes
	}
	if fileCfg.DiskCache != nil {
		cfg.DiskCache = *fileCfg.DiskCache
	}
	if fileCfg.LogLevel != nil {
		cfg.LogLevel = *fileCfg.LogLevel
	}
	cfg.deriveDurations()
}

// WriteDefaultConfig writes the default configuration as indented JSON,
// creating parent directories as needed.
func WriteDefaultConfig(path string, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory failed: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling default config failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing default config failed: %w", err)
	}
	logger.Info("Wrote default config file", "path", path)
	return nil
}
