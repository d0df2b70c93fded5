// hintline/rpc_server.go
// Implements the JSON-RPC 2.0 server exposing the suggestion pipeline to an
// editor client over stdio.
package hintline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// RPC Server Implementation
// ============================================================================

// Server exposes a Completer over a JSON-RPC 2.0 plain object stream.
type Server struct {
	conn       *jsonrpc2.Conn
	logger     *slog.Logger
	completer  *Completer
	serverInfo ServerInfo
}

// NewServer creates a new RPC server instance around a Completer.
func NewServer(completer *Completer, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		logger:    logger,
		completer: completer,
		serverInfo: ServerInfo{
			Name:    "hintline",
			Version: version,
		},
	}
}

// Run starts the server loop on the given reader/writer pair (normally
// stdin/stdout) and blocks until the connection closes.
func (s *Server) Run(r io.Reader, w io.Writer) {
	s.logger.Info("Starting RPC server run loop")

	stream := &stdrwc{r: r, w: w}
	objectStream := jsonrpc2.NewPlainObjectStream(stream)
	handler := jsonrpc2.HandlerWithError(s.handle)

	s.conn = jsonrpc2.NewConn(context.Background(), objectStream, handler)
	s.logger.Info("JSON-RPC connection established")

	<-s.conn.DisconnectNotify()
	s.logger.Info("JSON-RPC connection closed")
}

// stdrwc is a simple ReadWriteCloser that wraps stdin/stdout without closing them.
type stdrwc struct {
	r io.Reader
	w io.Writer
}

func (s *stdrwc) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdrwc) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdrwc) Close() error                { return nil }

// handle routes incoming requests/notifications to the appropriate methods.
func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result any, err error) {
	methodLogger := s.logger.With("method", req.Method, "is_notification", req.Notif)
	methodLogger.Debug("Received request/notification")

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			methodLogger.Error("Panic recovered in handler", "panic_value", r, "stack", string(debug.Stack()))
			err = &jsonrpc2.Error{
				Code:    int64(JsonRpcInternalError),
				Message: fmt.Sprintf("Internal server error in method %s", req.Method),
			}
			result = nil
		}
	}()

	unmarshalParams := func(target any) error {
		if req.Params == nil {
			return errors.New("params field is null")
		}
		return json.Unmarshal(*req.Params, target)
	}

	switch req.Method {
	case "initialize":
		var params InitializeParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal initialize params", "error", err)
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid initialize params: %v", err)}
		}
		if params.ClientInfo != nil {
			methodLogger.Info("Client connected", "client_name", params.ClientInfo.Name, "client_version", params.ClientInfo.Version)
		}
		return InitializeResult{ServerInfo: s.serverInfo}, nil

	case "initialized":
		methodLogger.Info("Client initialized notification received")
		return nil, nil

	case "shutdown":
		methodLogger.Info("Shutdown request received")
		return nil, nil

	case "exit":
		methodLogger.Info("Exit notification received")
		if s.conn != nil {
			s.conn.Close()
		}
		return nil, nil

	case "hintline/suggest":
		var params SuggestParams
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal suggest params", "error", err)
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid suggest params: %v", err)}
		}
		return s.handleSuggest(ctx, conn, params)

	case "hintline/didChangeConfiguration":
		var params FileConfig
		if err := unmarshalParams(&params); err != nil {
			methodLogger.Error("Failed to unmarshal configuration params", "error", err)
			return nil, nil // Ignore notification errors
		}
		s.applyConfigChange(params, methodLogger)
		return nil, nil

	default:
		if req.Notif {
			methodLogger.Debug("Ignoring unknown notification")
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcMethodNotFound), Message: fmt.Sprintf("Method not supported: %s", req.Method)}
	}
}

// handleSuggest runs the suggestion pipeline and forwards the asynchronous
// update (if any) as a hintline/suggestionsUpdated notification. The
// notification context is detached from the request context so a completed
// fetch is always delivered.
func (s *Server) handleSuggest(ctx context.Context, conn *jsonrpc2.Conn, params SuggestParams) (*SuggestResult, error) {
	cfg := s.completer.GetCurrentConfig()
	cctx := NewCompletionContext(params.Before, params.After, params.FileName, params.Language, cfg.ContextWindowBytes)

	result := s.completer.Suggest(ctx, cctx)

	if !result.FromCache {
		go func() {
			final, ok := <-result.Updates
			if !ok {
				return
			}
			notifyParams := SuggestionsUpdatedParams{
				RequestID:   result.RequestID,
				Suggestions: final,
			}
			if err := conn.Notify(context.Background(), "hintline/suggestionsUpdated", notifyParams); err != nil {
				s.logger.Warn("Failed to send suggestionsUpdated notification", "request_id", result.RequestID, "error", err)
			}
		}()
	}

	return &SuggestResult{
		RequestID:   result.RequestID,
		Suggestions: result.Suggestions,
		FromCache:   result.FromCache,
	}, nil
}

// applyConfigChange merges client-supplied settings over the current config
// and applies them. Invalid settings are logged and dropped.
func (s *Server) applyConfigChange(fileCfg FileConfig, logger *slog.Logger) {
	cfg := s.completer.GetCurrentConfig()
	applyFileConfig(&cfg, fileCfg)

	if err := s.completer.UpdateConfig(cfg); err != nil {
		logger.Warn("Rejected configuration change", "error", err)
		return
	}
	logger.Info("Applied configuration change from client")
}
