// hintline/types.go
// Contains core type definitions used throughout the hintline package.
package hintline

import (
	"errors"
	"fmt"
	stdslog "log/slog"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// Configuration Types & Constants
// =============================================================================

const (
	defaultEndpointURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel       = "gemini-2.0-flash"

	// Environment variables consulted for the API key, in order. A missing
	// key is not a startup error; the placeholder below is used instead and
	// the remote call fails over to fallback suggestions.
	apiKeyEnvVar          = "HINTLINE_API_KEY"
	apiKeyEnvVarSecondary = "GEMINI_API_KEY"
	apiKeyPlaceholder     = "unset"

	// cursorMarker separates the before and after windows when the context
	// is flattened into a single text blob for fingerprinting, fallback
	// keyword matching, and the prompt.
	cursorMarker = "<CURSOR>"

	// Markers and labels emitted by the prompt template. The parser drops
	// response lines that are literally one of these, so a model echoing the
	// template never pollutes the suggestion list.
	markerBeforeOpen  = "<BEFORE>"
	markerBeforeClose = "</BEFORE>"
	markerAfterOpen   = "<AFTER>"
	markerAfterClose  = "</AFTER>"

	// Prompt template used for completion requests. Verb order matters: the
	// parser's marker filter (promptMarkers) must stay in sync with it.
	promptTemplate = `You are a code completion engine.
Language: %s
File: %s

Code before the cursor:
` + markerBeforeOpen + `
%s
` + markerBeforeClose + `

Code after the cursor:
` + markerAfterOpen + `
%s
` + markerAfterClose + `

The cursor sits between the two blocks at the ` + cursorMarker + ` position.
Return exactly %d completions for the cursor position, one per line.
Output ONLY the raw completion lines, without numbering, markdown, or explanatory text.`

	defaultMaxSuggestions     = 3
	defaultMaxOutputTokens    = 128
	defaultTemperature        = 0.2
	defaultTopP               = 0.95
	defaultTopK               = 40
	defaultConnectTimeoutSecs = 5
	defaultRequestTimeoutSecs = 20
	defaultContextWindow     = 1024 // bytes kept on each side of the cursor
	defaultCacheTTLSecs      = 600
	defaultCacheMaxCost      = int64(8 << 20) // 8MB of suggestion text
	defaultLogLevel          = "info"
	defaultConfigFileName    = "config.json"
	configDirName            = "hintline"
	cacheSchemaVersion       = 1 // bump to invalidate persisted cache entries
)

// promptMarkers lists the literal lines the parser strips from a response.
var promptMarkers = []string{
	markerBeforeOpen, markerBeforeClose,
	markerAfterOpen, markerAfterClose,
	cursorMarker,
	"```",
}

// Config holds the active configuration for the suggestion service.
type Config struct {
	EndpointURL           string  `json:"endpoint_url"`
	Model                 string  `json:"model"`
	APIKey                string  `json:"-"` // Resolved from env at startup, never from file.
	MaxSuggestions        int     `json:"max_suggestions"`
	MaxOutputTokens       int     `json:"max_output_tokens"`
	Temperature           float64 `json:"temperature"`
	TopP                  float64 `json:"top_p"`
	TopK                  int     `json:"top_k"`
	ConnectTimeoutSeconds int     `json:"connect_timeout_seconds"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds"`
	ContextWindowBytes    int     `json:"context_window_bytes"`
	CacheTTLSeconds       int     `json:"cache_ttl_seconds"`
	CacheMaxCostBytes     int64   `json:"cache_max_cost_bytes"`
	DiskCache             bool    `json:"disk_cache"`
	LogLevel              string  `json:"log_level"`

	CacheTTL       time.Duration `json:"-"` // Derived, not from file.
	ConnectTimeout time.Duration `json:"-"`
	RequestTimeout time.Duration `json:"-"`
}

// FileConfig represents the structure of the JSON config file for unmarshalling.
// Uses pointers to distinguish between unset fields and zero-value fields.
type FileConfig struct {
	EndpointURL           *string  `json:"endpoint_url"`
	Model                 *string  `json:"model"`
	MaxSuggestions        *int     `json:"max_suggestions"`
	MaxOutputTokens       *int     `json:"max_output_tokens"`
	Temperature           *float64 `json:"temperature"`
	TopP                  *float64 `json:"top_p"`
	TopK                  *int     `json:"top_k"`
	ConnectTimeoutSeconds *int     `json:"connect_timeout_seconds"`
	RequestTimeoutSeconds *int     `json:"request_timeout_seconds"`
	ContextWindowBytes    *int     `json:"context_window_bytes"`
	CacheTTLSeconds       *int     `json:"cache_ttl_seconds"`
	CacheMaxCostBytes     *int64   `json:"cache_max_cost_bytes"`
	DiskCache             *bool    `json:"disk_cache"`
	LogLevel              *string  `json:"log_level"`
}

// getDefaultConfig returns a new instance of the default configuration.
func getDefaultConfig() Config {
	cfg := Config{
		EndpointURL:           defaultEndpointURL,
		Model:                 defaultModel,
		APIKey:                apiKeyPlaceholder,
		MaxSuggestions:        defaultMaxSuggestions,
		MaxOutputTokens:       defaultMaxOutputTokens,
		Temperature:           defaultTemperature,
		TopP:                  defaultTopP,
		TopK:                  defaultTopK,
		ConnectTimeoutSeconds: defaultConnectTimeoutSecs,
		RequestTimeoutSeconds: defaultRequestTimeoutSecs,
		ContextWindowBytes:    defaultContextWindow,
		CacheTTLSeconds:       defaultCacheTTLSecs,
		CacheMaxCostBytes:     defaultCacheMaxCost,
		DiskCache:             true,
		LogLevel:              defaultLogLevel,
	}
	cfg.deriveDurations()
	return cfg
}

func (c *Config) deriveDurations() {
	c.CacheTTL = time.Duration(c.CacheTTLSeconds) * time.Second
	c.ConnectTimeout = time.Duration(c.ConnectTimeoutSeconds) * time.Second
	c.RequestTimeout = time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Validate checks if configuration values are valid, applying defaults for
// out-of-range fields the way the rest of the pipeline expects them.
func (c *Config) Validate(logger *stdslog.Logger) error {
	var validationErrors []error
	if logger == nil {
		logger = stdslog.Default()
	}
	tempDefault := getDefaultConfig()

	if strings.TrimSpace(c.EndpointURL) == "" {
		validationErrors = append(validationErrors, errors.New("endpoint_url cannot be empty"))
	} else {
		parsedURL, err := url.ParseRequestURI(c.EndpointURL)
		if err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("invalid endpoint_url format: %w", err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			validationErrors = append(validationErrors, fmt.Errorf("invalid endpoint_url scheme '%s', must be http or https", parsedURL.Scheme))
		}
	}
	if strings.TrimSpace(c.Model) == "" {
		validationErrors = append(validationErrors, errors.New("model cannot be empty"))
	}
	if c.APIKey == "" {
		c.APIKey = apiKeyPlaceholder
	}
	if c.MaxSuggestions <= 0 || c.MaxSuggestions > maxSuggestionsPerEntry {
		logger.Warn("Config validation: max_suggestions out of range, applying default.", "configured_value", c.MaxSuggestions, "default", tempDefault.MaxSuggestions)
		c.MaxSuggestions = tempDefault.MaxSuggestions
	}
	if c.MaxOutputTokens <= 0 {
		logger.Warn("Config validation: max_output_tokens is not positive, applying default.", "configured_value", c.MaxOutputTokens, "default", tempDefault.MaxOutputTokens)
		c.MaxOutputTokens = tempDefault.MaxOutputTokens
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		logger.Warn("Config validation: temperature is outside range [0.0, 2.0], applying default.", "configured_value", c.Temperature, "default", tempDefault.Temperature)
		validationErrors = append(validationErrors, fmt.Errorf("temperature %f is outside valid range [0.0, 2.0]", c.Temperature))
		c.Temperature = tempDefault.Temperature
	}
	if c.TopP <= 0.0 || c.TopP > 1.0 {
		logger.Warn("Config validation: top_p is outside range (0.0, 1.0], applying default.", "configured_value", c.TopP, "default", tempDefault.TopP)
		c.TopP = tempDefault.TopP
	}
	if c.TopK <= 0 {
		c.TopK = tempDefault.TopK
	}
	if c.ConnectTimeoutSeconds <= 0 {
		logger.Warn("Config validation: connect_timeout_seconds is not positive, applying default.", "configured_value", c.ConnectTimeoutSeconds, "default", tempDefault.ConnectTimeoutSeconds)
		c.ConnectTimeoutSeconds = tempDefault.ConnectTimeoutSeconds
	}
	if c.RequestTimeoutSeconds <= 0 {
		logger.Warn("Config validation: request_timeout_seconds is not positive, applying default.", "configured_value", c.RequestTimeoutSeconds, "default", tempDefault.RequestTimeoutSeconds)
		c.RequestTimeoutSeconds = tempDefault.RequestTimeoutSeconds
	}
	if c.ContextWindowBytes <= 0 {
		logger.Warn("Config validation: context_window_bytes is not positive, applying default.", "configured_value", c.ContextWindowBytes, "default", tempDefault.ContextWindowBytes)
		c.ContextWindowBytes = tempDefault.ContextWindowBytes
	}
	if c.CacheTTLSeconds <= 0 {
		logger.Warn("Config validation: cache_ttl_seconds is not positive, applying default.", "configured_value", c.CacheTTLSeconds, "default", tempDefault.CacheTTLSeconds)
		c.CacheTTLSeconds = tempDefault.CacheTTLSeconds
	}
	if c.CacheMaxCostBytes <= 0 {
		logger.Warn("Config validation: cache_max_cost_bytes is not positive, applying default.", "configured_value", c.CacheMaxCostBytes, "default", tempDefault.CacheMaxCostBytes)
		c.CacheMaxCostBytes = tempDefault.CacheMaxCostBytes
	}
	if c.LogLevel == "" {
		logger.Warn("Config validation: log_level is empty, applying default.", "default", defaultLogLevel)
		c.LogLevel = defaultLogLevel
	} else {
		_, err := ParseLogLevel(c.LogLevel)
		if err != nil {
			logger.Warn("Config validation: Invalid log_level found, applying default.", "configured_value", c.LogLevel, "default", defaultLogLevel, "error", err)
			validationErrors = append(validationErrors, fmt.Errorf("invalid log_level '%s': %w", c.LogLevel, err))
			c.LogLevel = defaultLogLevel
		}
	}
	c.deriveDurations()

	if len(validationErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(validationErrors...))
	}
	return nil
}

// =============================================================================
// Completion Context & Suggestion Types
// =============================================================================

// maxSuggestionsPerEntry bounds the suggestion count stored per cache entry.
const maxSuggestionsPerEntry = 3

// CompletionContext is the text surrounding an edit cursor, annotated with a
// file name and language tag. Immutable once constructed; the before/after
// windows are already bounded by NewCompletionContext.
type CompletionContext struct {
	Before   string // Bounded window before the cursor.
	After    string // Bounded window after the cursor.
	FileName string
	Language string
}

// NewCompletionContext bounds the raw before/after windows to windowBytes on
// each side of the cursor and returns the immutable context value.
func NewCompletionContext(before, after, fileName, language string, windowBytes int) CompletionContext {
	if windowBytes <= 0 {
		windowBytes = defaultContextWindow
	}
	if len(before) > windowBytes {
		before = before[len(before)-windowBytes:]
	}
	if len(after) > windowBytes {
		after = after[:windowBytes]
	}
	return CompletionContext{
		Before:   before,
		After:    after,
		FileName: fileName,
		Language: language,
	}
}

// Text flattens the context into a single blob with the cursor marker
// between the two windows. Used for fingerprinting and fallback matching.
func (c CompletionContext) Text() string {
	return c.Before + cursorMarker + c.After
}

// Fingerprint is a deterministic cache key derived from a CompletionContext.
type Fingerprint string

// Suggestion is one candidate completion plus its single-line display label.
type Suggestion struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// makeSuggestion derives the display label (first line, trimmed) from the
// suggestion payload.
func makeSuggestion(text string) Suggestion {
	label := text
	if idx := strings.IndexByte(label, '\n'); idx >= 0 {
		label = label[:idx]
	}
	return Suggestion{Text: text, Label: strings.TrimSpace(label)}
}

// CompletionResult is the outcome of one Suggest call. Suggestions holds the
// synchronously available list (cached suggestions or a fallback
// placeholder). When the request misses the cache, the background fetch
// delivers the final list through Updates exactly once before closing it; on
// a cache hit, Updates is already closed.
type CompletionResult struct {
	RequestID   string
	Fingerprint Fingerprint
	Suggestions []Suggestion
	FromCache   bool
	Updates     <-chan []Suggestion
}

// =============================================================================
// Remote Wire Types (Gemini generateContent)
// =============================================================================

// RemoteStatusError reports a non-success HTTP status from the remote
// completion endpoint.
type RemoteStatusError struct {
	Status int
	Body   string
}

func (e *RemoteStatusError) Error() string {
	return fmt.Sprintf("remote endpoint returned status %d: %s", e.Status, e.Body)
}

type remotePart struct {
	Text string `json:"text"`
}

type remoteContent struct {
	Parts []remotePart `json:"parts"`
}

type remoteGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
}

type remoteRequest struct {
	Contents         []remoteContent         `json:"contents"`
	GenerationConfig *remoteGenerationConfig `json:"generationConfig,omitempty"`
}

// remoteResponse mirrors only the fields the parser needs; unknown fields
// are ignored so the remote service can vary field presence freely.
type remoteResponse struct {
	Candidates []struct {
		Content      remoteContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}
