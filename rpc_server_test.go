// hintline/rpc_server_test.go
package hintline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// testRPCSession wires a Server and a jsonrpc2 client together over an
// in-memory pipe. Notifications from the server land on updates.
type testRPCSession struct {
	client  *jsonrpc2.Conn
	updates chan SuggestionsUpdatedParams
}

func newTestRPCSession(t *testing.T, completer *Completer) *testRPCSession {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	server := NewServer(completer, slog.New(slog.NewTextHandler(io.Discard, nil)), "test")
	go server.Run(serverSide, serverSide)

	updates := make(chan SuggestionsUpdatedParams, 4)
	clientHandler := jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		if req.Method == "hintline/suggestionsUpdated" && req.Params != nil {
			var params SuggestionsUpdatedParams
			if err := json.Unmarshal(*req.Params, &params); err == nil {
				updates <- params
			}
		}
		return nil, nil
	})
	client := jsonrpc2.NewConn(context.Background(),
		jsonrpc2.NewPlainObjectStream(clientSide), clientHandler)
	t.Cleanup(func() { client.Close() })

	return &testRPCSession{client: client, updates: updates}
}

func (s *testRPCSession) awaitNotification(t *testing.T) SuggestionsUpdatedParams {
	t.Helper()
	select {
	case params := <-s.updates:
		return params
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for suggestionsUpdated notification")
		return SuggestionsUpdatedParams{}
	}
}

func TestRPCServer_Initialize(t *testing.T) {
	c := newTestCompleter(t, &fakeClient{body: candidateBody("x")})
	session := newTestRPCSession(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result InitializeResult
	params := InitializeParams{ClientInfo: &ClientInfo{Name: "test-editor", Version: "1.0"}}
	if err := session.client.Call(ctx, "initialize", params, &result); err != nil {
		t.Fatalf("initialize call failed: %v", err)
	}
	if result.ServerInfo.Name != "hintline" {
		t.Errorf("server name = %q, want hintline", result.ServerInfo.Name)
	}
	if result.ServerInfo.Version != "test" {
		t.Errorf("server version = %q, want test", result.ServerInfo.Version)
	}
}

func TestRPCServer_SuggestDeliversAsyncNotification(t *testing.T) {
	c := newTestCompleter(t, &fakeClient{body: candidateBody("rpc-a\nrpc-b")})
	session := newTestRPCSession(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	params := SuggestParams{
		Before:   "func main() {",
		After:    "}",
		FileName: "main.go",
		Language: "go",
	}
	var result SuggestResult
	if err := session.client.Call(ctx, "hintline/suggest", params, &result); err != nil {
		t.Fatalf("suggest call failed: %v", err)
	}
	if result.RequestID == "" {
		t.Error("suggest response carries no request ID")
	}
	if result.FromCache {
		t.Error("first request marked FromCache")
	}
	if len(result.Suggestions) == 0 {
		t.Error("suggest response carries no placeholder suggestions")
	}

	notification := session.awaitNotification(t)
	if notification.RequestID != result.RequestID {
		t.Errorf("notification request ID = %q, want %q", notification.RequestID, result.RequestID)
	}
	want := suggestionList("rpc-a", "rpc-b")
	if !reflect.DeepEqual(notification.Suggestions, want) {
		t.Errorf("notification suggestions = %v, want %v", notification.Suggestions, want)
	}

	// The same context is now cached and answered synchronously.
	var second SuggestResult
	if err := session.client.Call(ctx, "hintline/suggest", params, &second); err != nil {
		t.Fatalf("second suggest call failed: %v", err)
	}
	if !second.FromCache {
		t.Error("second identical request not served from cache")
	}
	if !reflect.DeepEqual(second.Suggestions, want) {
		t.Errorf("cached suggestions = %v, want %v", second.Suggestions, want)
	}
}

func TestRPCServer_UnknownMethod(t *testing.T) {
	c := newTestCompleter(t, &fakeClient{body: candidateBody("x")})
	session := newTestRPCSession(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result any
	err := session.client.Call(ctx, "hintline/doesNotExist", nil, &result)
	if err == nil {
		t.Fatal("unknown method did not return an error")
	}
	var rpcErr *jsonrpc2.Error
	if !jsonrpcErrorAs(err, &rpcErr) {
		t.Fatalf("error %v is not a *jsonrpc2.Error", err)
	}
	if rpcErr.Code != int64(JsonRpcMethodNotFound) {
		t.Errorf("error code = %d, want %d", rpcErr.Code, JsonRpcMethodNotFound)
	}
}

func jsonrpcErrorAs(err error, target **jsonrpc2.Error) bool {
	e, ok := err.(*jsonrpc2.Error)
	if ok {
		*target = e
	}
	return ok
}

func TestRPCServer_DidChangeConfiguration(t *testing.T) {
	c := newTestCompleter(t, &fakeClient{body: candidateBody("x")})
	session := newTestRPCSession(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	model := "changed-model"
	if err := session.client.Notify(ctx, "hintline/didChangeConfiguration", FileConfig{Model: &model}); err != nil {
		t.Fatalf("didChangeConfiguration notify failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.GetCurrentConfig().Model == model {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("config model = %q, want %q applied from notification", c.GetCurrentConfig().Model, model)
}
