// hintline.go
// Package hintline provides cached, fallback-backed code completion
// suggestions powered by a remote LLM completion endpoint.
package hintline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdslog "log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// Interfaces for Components
// =============================================================================

// CompletionClient defines the interface for the remote completion backend.
type CompletionClient interface {
	// Fetch sends a prompt to the remote endpoint and returns the raw
	// response body. Errors are classified into the package's fetch error
	// taxonomy (ErrFetchTimeout, ErrRemoteStatus, ErrTransport).
	Fetch(ctx context.Context, prompt string, config Config, logger *stdslog.Logger) ([]byte, error)
}

// =============================================================================
// Configuration Loading
// =============================================================================

// LoadConfig loads configuration from standard locations, merges with
// defaults, validates, and attempts to write a default config if needed.
// The API key is resolved from the environment, never from the file.
func LoadConfig(logger *stdslog.Logger) (Config, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	cfg := getDefaultConfig()
	var loadedFromFile bool
	var loadErrors []error
	var configParseError error

	primaryPath, secondaryPath, pathErr := GetConfigPaths(logger)
	if pathErr != nil {
		loadErrors = append(loadErrors, pathErr)
		logger.Warn("Could not determine config paths, using defaults", "error", pathErr)
	}

	if primaryPath != "" {
		logger.Debug("Attempting to load config", "path", primaryPath)
		loaded, loadErr := LoadAndMergeConfig(primaryPath, &cfg, logger)
		if loadErr != nil {
			if strings.Contains(loadErr.Error(), "parsing config file JSON") {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", primaryPath, loadErr))
			logger.Warn("Failed to load or merge config", "path", primaryPath, "error", loadErr)
		} else if loaded {
			loadedFromFile = true
			logger.Info("Loaded config", "path", primaryPath)
		}
	}

	primaryNotFoundOrFailed := !loadedFromFile || configParseError != nil
	if primaryNotFoundOrFailed && secondaryPath != "" && secondaryPath != primaryPath {
		logger.Debug("Attempting to load config from secondary path", "path", secondaryPath)
		loaded, loadErr := LoadAndMergeConfig(secondaryPath, &cfg, logger)
		if loadErr != nil {
			if configParseError == nil && strings.Contains(loadErr.Error(), "parsing config file JSON") {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", secondaryPath, loadErr))
			logger.Warn("Failed to load or merge config", "path", secondaryPath, "error", loadErr)
		} else if loaded && !loadedFromFile {
			loadedFromFile = true
			logger.Info("Loaded config", "path", secondaryPath)
		}
	}

	loadSucceeded := loadedFromFile && configParseError == nil
	if !loadSucceeded {
		writePath := primaryPath
		if writePath == "" {
			writePath = secondaryPath
		}
		if writePath != "" {
			if configParseError != nil {
				logger.Warn("Existing config file failed to parse. Attempting to write default.", "path", writePath, "error", configParseError)
			} else {
				logger.Info("No valid config file found. Attempting to write default.", "path", writePath)
			}
			if err := WriteDefaultConfig(writePath, getDefaultConfig(), logger); err != nil {
				logger.Warn("Failed to write default config", "path", writePath, "error", err)
				loadErrors = append(loadErrors, fmt.Errorf("writing default config failed: %w", err))
			}
		} else {
			logger.Warn("Cannot determine path to write default config.")
			loadErrors = append(loadErrors, errors.New("cannot determine default config path"))
		}
		cfg = getDefaultConfig()
		logger.Info("Using default configuration values.")
	}

	cfg.APIKey = resolveAPIKey(logger)

	if err := cfg.Validate(logger); err != nil {
		logger.Error("Final configuration is invalid, falling back to pure defaults.", "error", err)
		loadErrors = append(loadErrors, fmt.Errorf("post-load config validation failed: %w", err))
		pureDefault := getDefaultConfig()
		pureDefault.APIKey = cfg.APIKey
		if valErr := pureDefault.Validate(logger); valErr != nil {
			logger.Error("FATAL: Default config definition is invalid", "error", valErr)
			return pureDefault, fmt.Errorf("default config definition is invalid: %w", valErr)
		}
		cfg = pureDefault
	}

	if len(loadErrors) > 0 {
		return cfg, fmt.Errorf("%w: %w", ErrConfig, errors.Join(loadErrors...))
	}
	return cfg, nil
}

// =============================================================================
// Default Remote Completion Client
// =============================================================================

// geminiClient implements CompletionClient against a Gemini-style
// generateContent HTTP endpoint.
type geminiClient struct {
	httpClient *http.Client
}

// newGeminiClient creates a client with explicit connect and total request
// timeouts taken from config.
func newGeminiClient(cfg Config) *geminiClient {
	return &geminiClient{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectTimeout,
				}).DialContext,
				TLSHandshakeTimeout:   cfg.ConnectTimeout,
				MaxIdleConns:          10,
				IdleConnTimeout:       30 * time.Second,
				ResponseHeaderTimeout: cfg.RequestTimeout,
			},
		},
	}
}

// Fetch sends one generateContent request and returns the raw response body.
func (c *geminiClient) Fetch(ctx context.Context, prompt string, config Config, logger *stdslog.Logger) ([]byte, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	opLogger := logger.With("operation", "Fetch", "model", config.Model)

	base := strings.TrimSuffix(config.EndpointURL, "/")
	endpointURL := fmt.Sprintf("%s/models/%s:generateContent", base, config.Model)
	u, err := url.Parse(endpointURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing endpoint URL '%s': %w", ErrTransport, endpointURL, err)
	}
	q := u.Query()
	q.Set("key", config.APIKey)
	u.RawQuery = q.Encode()

	payload := remoteRequest{
		Contents: []remoteContent{{Parts: []remotePart{{Text: prompt}}}},
		GenerationConfig: &remoteGenerationConfig{
			MaxOutputTokens: config.MaxOutputTokens,
			Temperature:     config.Temperature,
			TopP:            config.TopP,
			TopK:            config.TopK,
		},
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request payload: %w", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("%w: creating HTTP request: %w", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	opLogger.Debug("Sending completion request", "url", endpointURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			opLogger.Warn("Completion request context cancelled", "url", endpointURL)
			return nil, context.Canceled
		}
		if errors.Is(err, context.DeadlineExceeded) {
			opLogger.Error("Completion request deadline exceeded", "url", endpointURL, "timeout", c.httpClient.Timeout)
			return nil, fmt.Errorf("%w: %w", ErrFetchTimeout, context.DeadlineExceeded)
		}

		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				opLogger.Error("Network timeout during completion request", "host", u.Host, "error", netErr)
				return nil, fmt.Errorf("%w: %w", ErrFetchTimeout, netErr)
			}
			if opErr, ok := netErr.(*net.OpError); ok && opErr.Op == "dial" {
				opLogger.Error("Connection failed during completion request", "host", u.Host, "error", opErr)
				return nil, fmt.Errorf("%w: connection failed: %w", ErrTransport, opErr)
			}
		}

		opLogger.Error("HTTP completion request failed", "url", endpointURL, "error", err)
		return nil, fmt.Errorf("%w: http request failed: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyExcerpt := "(failed to read error response body)"
		if readErr == nil {
			bodyExcerpt = strings.TrimSpace(string(body))
			if len(bodyExcerpt) > 512 {
				bodyExcerpt = bodyExcerpt[:512]
			}
		}
		statusErr := &RemoteStatusError{Status: resp.StatusCode, Body: bodyExcerpt}
		opLogger.Error("Remote endpoint returned non-success status", "status", resp.Status, "response_body", bodyExcerpt)
		return nil, fmt.Errorf("%w: %w", ErrRemoteStatus, statusErr)
	}
	if readErr != nil {
		opLogger.Error("Failed to read completion response body", "error", readErr)
		return nil, fmt.Errorf("%w: reading response body: %w", ErrTransport, readErr)
	}

	return body, nil
}

// =============================================================================
// Completer Service
// =============================================================================

// Completer orchestrates cache lookup, fallback emission, and the
// asynchronous remote fetch for completion suggestions.
type Completer struct {
	client   CompletionClient
	cache    *SuggestionCache
	config   Config
	configMu sync.RWMutex // Protects concurrent access to config.
	flight   singleflight.Group
	logger   *stdslog.Logger
}

// NewCompleter creates a Completer, loading configuration from standard
// locations and the API key from the environment.
func NewCompleter(logger *stdslog.Logger) (*Completer, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	serviceLogger := logger.With("service", "Completer")

	cfg, configErr := LoadConfig(serviceLogger)
	if configErr != nil && !errors.Is(configErr, ErrConfig) {
		serviceLogger.Error("Fatal error during initial config load", "error", configErr)
		return nil, configErr
	}

	c, err := NewCompleterWithConfig(cfg, serviceLogger)
	if err != nil {
		return nil, err
	}
	if configErr != nil && errors.Is(configErr, ErrConfig) {
		return c, configErr
	}
	return c, nil
}

// NewCompleterWithConfig creates a Completer with a specific config and the
// default client and cache.
func NewCompleterWithConfig(config Config, logger *stdslog.Logger) (*Completer, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	serviceLogger := logger.With("service", "Completer")

	if err := config.Validate(serviceLogger); err != nil {
		return nil, fmt.Errorf("provided config validation failed: %w", err)
	}

	cache, err := NewSuggestionCache(config, "", serviceLogger)
	if err != nil {
		return nil, fmt.Errorf("creating suggestion cache failed: %w", err)
	}
	return NewCompleterWithComponents(newGeminiClient(config), cache, config, serviceLogger)
}

// NewCompleterWithComponents wires an explicit client and cache into a
// Completer. The cache is owned and closed by the Completer.
func NewCompleterWithComponents(client CompletionClient, cache *SuggestionCache, config Config, logger *stdslog.Logger) (*Completer, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	if client == nil {
		return nil, errors.New("completion client must not be nil")
	}
	if cache == nil {
		return nil, errors.New("suggestion cache must not be nil")
	}
	return &Completer{
		client: client,
		cache:  cache,
		config: config,
		logger: logger,
	}, nil
}

// Close cleans up resources used by the Completer.
func (c *Completer) Close() error {
	c.logger.Info("Closing Completer service")
	if c.cache != nil {
		return c.cache.Close()
	}
	return nil
}

// UpdateConfig atomically updates the completer's configuration.
func (c *Completer) UpdateConfig(newConfig Config) error {
	if err := newConfig.Validate(c.logger); err != nil {
		c.logger.Error("Invalid configuration provided for update", "error", err)
		return fmt.Errorf("invalid configuration update: %w", err)
	}

	c.configMu.Lock()
	newConfig.APIKey = c.config.APIKey // Key is resolved once at startup.
	c.config = newConfig
	c.configMu.Unlock()

	c.logger.Info("Completer configuration updated",
		stdslog.Group("new_config",
			stdslog.String("endpoint_url", newConfig.EndpointURL),
			stdslog.String("model", newConfig.Model),
			stdslog.Int("max_suggestions", newConfig.MaxSuggestions),
			stdslog.Float64("temperature", newConfig.Temperature),
			stdslog.Int("request_timeout_seconds", newConfig.RequestTimeoutSeconds),
			stdslog.Int("cache_ttl_seconds", newConfig.CacheTTLSeconds),
			stdslog.String("log_level", newConfig.LogLevel),
		),
	)
	return nil
}

// GetCurrentConfig returns a thread-safe copy of the current configuration.
func (c *Completer) GetCurrentConfig() Config {
	c.configMu.RLock()
	defer c.configMu.RUnlock()
	return c.config
}

// Cache returns the suggestion cache instance.
func (c *Completer) Cache() *SuggestionCache {
	return c.cache
}

// Suggest runs the suggestion pipeline for one completion context.
//
// The synchronous return never waits on the network: a cache hit returns the
// cached list (Updates already closed); a miss returns fallback suggestions
// immediately and spawns a background fetch whose outcome is delivered
// through Updates exactly once. Every fetch-path failure is recovered by
// delivering fallback suggestions, so the caller always ends with a
// non-empty list and never an error.
func (c *Completer) Suggest(ctx context.Context, cctx CompletionContext) *CompletionResult {
	cfg := c.GetCurrentConfig()
	requestID := uuid.NewString()
	opLogger := c.logger.With("operation", "Suggest", "request_id", requestID,
		"file", cctx.FileName, "language", cctx.Language)

	fp := FingerprintContext(cctx)
	updates := make(chan []Suggestion, 1)

	if cached, ok := c.cache.Lookup(fp); ok {
		opLogger.Debug("Serving suggestions from cache", "fingerprint", fp, "count", len(cached))
		close(updates)
		return &CompletionResult{
			RequestID:   requestID,
			Fingerprint: fp,
			Suggestions: cached,
			FromCache:   true,
			Updates:     updates,
		}
	}

	placeholder := GenerateFallback(cctx.Text())
	opLogger.Debug("Cache miss, serving fallback placeholder and fetching", "fingerprint", fp)

	go c.fetchAndDeliver(fp, cctx, cfg, updates, opLogger)

	return &CompletionResult{
		RequestID:   requestID,
		Fingerprint: fp,
		Suggestions: placeholder,
		Updates:     updates,
	}
}

// fetchAndDeliver performs the background fetch for one request. Concurrent
// fetches for the same fingerprint are coalesced so the remote endpoint sees
// at most one in-flight request per key; every caller still receives its own
// delivery. The caller's context deliberately does not cancel the fetch:
// superseded requests are allowed to complete and populate the cache.
func (c *Completer) fetchAndDeliver(fp Fingerprint, cctx CompletionContext, cfg Config, updates chan<- []Suggestion, logger *stdslog.Logger) {
	defer close(updates)

	result, err, shared := c.flight.Do(string(fp), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()

		prompt := buildPrompt(cctx, cfg.MaxSuggestions)
		body, fetchErr := c.client.Fetch(fetchCtx, prompt, cfg, logger)
		if fetchErr != nil {
			return nil, fetchErr
		}
		suggestions, parseErr := ParseSuggestions(body, cfg.MaxSuggestions)
		if parseErr != nil {
			return nil, parseErr
		}
		c.cache.Store(fp, suggestions)
		return suggestions, nil
	})
	if err != nil {
		// Every failure kind recovers locally with fallback output; the
		// failed result is never cached so a later identical request
		// re-attempts the remote call.
		logger.Warn("Remote fetch failed, delivering fallback suggestions",
			"fingerprint", fp, "shared", shared, "error", err)
		updates <- GenerateFallback(cctx.Text())
		return
	}

	suggestions := result.([]Suggestion)
	logger.Debug("Remote fetch succeeded, delivering suggestions",
		"fingerprint", fp, "shared", shared, "count", len(suggestions))
	updates <- suggestions
}
