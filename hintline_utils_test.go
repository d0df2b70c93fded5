// hintline_utils_test.go
package hintline

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFingerprintContext_Deterministic(t *testing.T) {
	cctx := CompletionContext{Before: "func main() {", After: "}", FileName: "main.go", Language: "go"}
	first := FingerprintContext(cctx)
	second := FingerprintContext(cctx)
	if first != second {
		t.Errorf("fingerprints differ for identical context: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(first))
	}
}

func TestFingerprintContext_FieldSensitivity(t *testing.T) {
	base := CompletionContext{Before: "before", After: "after", FileName: "f.go", Language: "go"}
	baseFP := FingerprintContext(base)

	variants := []struct {
		name string
		cctx CompletionContext
	}{
		{"before changed", CompletionContext{Before: "before!", After: "after", FileName: "f.go", Language: "go"}},
		{"after changed", CompletionContext{Before: "before", After: "after!", FileName: "f.go", Language: "go"}},
		{"file changed", CompletionContext{Before: "before", After: "after", FileName: "g.go", Language: "go"}},
		{"language changed", CompletionContext{Before: "before", After: "after", FileName: "f.go", Language: "python"}},
	}
	for _, tt := range variants {
		if FingerprintContext(tt.cctx) == baseFP {
			t.Errorf("%s: fingerprint collision with base context", tt.name)
		}
	}
}

// TestFingerprintContext_NoFieldAliasing verifies the length-prefixed hashing
// keeps adjacent fields from bleeding into each other.
func TestFingerprintContext_NoFieldAliasing(t *testing.T) {
	a := FingerprintContext(CompletionContext{Before: "ab", After: "c"})
	b := FingerprintContext(CompletionContext{Before: "a", After: "bc"})
	if a == b {
		t.Error("boundary shift between before/after did not change the fingerprint")
	}

	c := FingerprintContext(CompletionContext{Language: "go", FileName: "x"})
	d := FingerprintContext(CompletionContext{Language: "gox", FileName: ""})
	if c == d {
		t.Error("boundary shift between language/filename did not change the fingerprint")
	}
}

func TestFingerprintContext_EmptyContext(t *testing.T) {
	fp := FingerprintContext(CompletionContext{})
	if fp == "" {
		t.Error("empty context produced empty fingerprint")
	}
	if fp == FingerprintContext(CompletionContext{Before: "x"}) {
		t.Error("empty context collides with non-empty context")
	}
}

func TestNewCompletionContext_WindowClamp(t *testing.T) {
	before := strings.Repeat("a", 50) + "TAIL"
	after := "HEAD" + strings.Repeat("b", 50)

	cctx := NewCompletionContext(before, after, "f.go", "go", 10)
	if len(cctx.Before) != 10 {
		t.Errorf("before window = %d bytes, want 10", len(cctx.Before))
	}
	if !strings.HasSuffix(cctx.Before, "TAIL") {
		t.Errorf("before window %q lost the text nearest the cursor", cctx.Before)
	}
	if len(cctx.After) != 10 {
		t.Errorf("after window = %d bytes, want 10", len(cctx.After))
	}
	if !strings.HasPrefix(cctx.After, "HEAD") {
		t.Errorf("after window %q lost the text nearest the cursor", cctx.After)
	}

	// Short input passes through untouched.
	small := NewCompletionContext("ab", "cd", "", "", 10)
	if small.Before != "ab" || small.After != "cd" {
		t.Errorf("short windows were modified: %+v", small)
	}
}

func TestCompletionContext_Text(t *testing.T) {
	cctx := CompletionContext{Before: "left", After: "right"}
	if got := cctx.Text(); got != "left"+cursorMarker+"right" {
		t.Errorf("Text() = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLoadAndMergeConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"model": "custom-model", "temperature": 0.7, "cache_ttl_seconds": 120, "disk_cache": false}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg := getDefaultConfig()
	loaded, err := LoadAndMergeConfig(path, &cfg, discardLogger())
	if err != nil {
		t.Fatalf("LoadAndMergeConfig failed: %v", err)
	}
	if !loaded {
		t.Fatal("LoadAndMergeConfig reported no file loaded")
	}

	if cfg.Model != "custom-model" {
		t.Errorf("Model = %q, want merged value", cfg.Model)
	}
	if cfg.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", cfg.Temperature)
	}
	if cfg.CacheTTLSeconds != 120 {
		t.Errorf("CacheTTLSeconds = %d, want 120", cfg.CacheTTLSeconds)
	}
	if cfg.DiskCache {
		t.Error("DiskCache = true, want merged false")
	}
	// Unset fields keep their defaults.
	if cfg.EndpointURL != defaultEndpointURL {
		t.Errorf("EndpointURL = %q, want untouched default", cfg.EndpointURL)
	}
	if cfg.MaxSuggestions != defaultMaxSuggestions {
		t.Errorf("MaxSuggestions = %d, want untouched default", cfg.MaxSuggestions)
	}
	// Derived durations track the merged seconds.
	if cfg.CacheTTL.Seconds() != 120 {
		t.Errorf("CacheTTL = %v, want 2m", cfg.CacheTTL)
	}
}

func TestLoadAndMergeConfig_MissingFile(t *testing.T) {
	cfg := getDefaultConfig()
	loaded, err := LoadAndMergeConfig(filepath.Join(t.TempDir(), "nope.json"), &cfg, discardLogger())
	if err != nil {
		t.Fatalf("missing file should not be an error, got %v", err)
	}
	if loaded {
		t.Error("missing file reported as loaded")
	}
}

func TestLoadAndMergeConfig_MalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"model":`), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	cfg := getDefaultConfig()
	loaded, err := LoadAndMergeConfig(path, &cfg, discardLogger())
	if err == nil {
		t.Fatal("malformed JSON did not return an error")
	}
	if !loaded {
		t.Error("malformed file should still report loaded=true so the caller can distinguish parse failures")
	}
}

func TestConfigValidate_DefaultsOutOfRangeFields(t *testing.T) {
	cfg := getDefaultConfig()
	cfg.MaxSuggestions = 99
	cfg.TopP = 1.5
	cfg.RequestTimeoutSeconds = -3
	cfg.ContextWindowBytes = 0
	cfg.CacheMaxCostBytes = 0

	if err := cfg.Validate(discardLogger()); err != nil {
		t.Fatalf("Validate returned error for silently-defaulted fields: %v", err)
	}
	def := getDefaultConfig()
	if cfg.MaxSuggestions != def.MaxSuggestions {
		t.Errorf("MaxSuggestions = %d, want default %d", cfg.MaxSuggestions, def.MaxSuggestions)
	}
	if cfg.TopP != def.TopP {
		t.Errorf("TopP = %v, want default %v", cfg.TopP, def.TopP)
	}
	if cfg.RequestTimeoutSeconds != def.RequestTimeoutSeconds {
		t.Errorf("RequestTimeoutSeconds = %d, want default %d", cfg.RequestTimeoutSeconds, def.RequestTimeoutSeconds)
	}
	if cfg.ContextWindowBytes != def.ContextWindowBytes {
		t.Errorf("ContextWindowBytes = %d, want default %d", cfg.ContextWindowBytes, def.ContextWindowBytes)
	}
	if cfg.CacheMaxCostBytes != def.CacheMaxCostBytes {
		t.Errorf("CacheMaxCostBytes = %d, want default %d", cfg.CacheMaxCostBytes, def.CacheMaxCostBytes)
	}
	if cfg.RequestTimeout != def.RequestTimeout {
		t.Errorf("derived RequestTimeout = %v, want %v", cfg.RequestTimeout, def.RequestTimeout)
	}
}

func TestConfigValidate_ReportsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty endpoint", func(c *Config) { c.EndpointURL = "" }},
		{"bad endpoint scheme", func(c *Config) { c.EndpointURL = "ftp://example.com" }},
		{"empty model", func(c *Config) { c.Model = "" }},
		{"temperature out of range", func(c *Config) { c.Temperature = 3.0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getDefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(discardLogger()); err == nil {
				t.Error("Validate accepted an invalid config")
			}
		})
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	if err := WriteDefaultConfig(path, getDefaultConfig(), discardLogger()); err != nil {
		t.Fatalf("WriteDefaultConfig failed: %v", err)
	}

	cfg := getDefaultConfig()
	cfg.Model = "overwritten-by-file"
	loaded, err := LoadAndMergeConfig(path, &cfg, discardLogger())
	if err != nil || !loaded {
		t.Fatalf("reading back written config: loaded=%v err=%v", loaded, err)
	}
	if cfg.Model != defaultModel {
		t.Errorf("round-tripped Model = %q, want %q", cfg.Model, defaultModel)
	}
	// The API key must never land in the file.
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatalf("reading config file: %v", readErr)
	}
	if strings.Contains(string(data), "api_key") || strings.Contains(string(data), "APIKey") {
		t.Error("config file contains an API key field")
	}
}
