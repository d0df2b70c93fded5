// hintline/errors.go
// Contains exported error definitions for the hintline package.
package hintline

import "errors"

// =============================================================================
// Exported Errors
// =============================================================================

var (
	// ErrFetchTimeout indicates the remote completion request exceeded its
	// connect or total request timeout.
	ErrFetchTimeout = errors.New("remote completion request timed out")

	// ErrRemoteStatus indicates the remote endpoint answered with a
	// non-success HTTP status. Details are carried by *RemoteStatusError.
	ErrRemoteStatus = errors.New("remote completion request rejected")

	// ErrTransport indicates a transport or serialization fault while
	// talking to the remote endpoint.
	ErrTransport = errors.New("remote completion transport failed")

	// ErrParse indicates the remote response body could not be decoded.
	ErrParse = errors.New("completion response parse failed")

	// ErrEmptyResult indicates the remote response decoded cleanly but
	// contained no usable suggestion lines.
	ErrEmptyResult = errors.New("completion response contained no suggestions")

	// ErrConfig indicates non-fatal errors during config loading or processing.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidConfig indicates a configuration value is invalid after validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCacheWrite indicates failure writing to the suggestion cache.
	ErrCacheWrite = errors.New("cache write failed")

	// ErrCacheDecode indicates failure decoding data read from the disk cache.
	ErrCacheDecode = errors.New("cache decode failed")

	// ErrCacheEncode indicates failure encoding data for the disk cache.
	ErrCacheEncode = errors.New("cache encode failed")
)
