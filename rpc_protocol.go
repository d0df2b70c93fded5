// hintline/rpc_protocol.go
// Wire types for the JSON-RPC 2.0 serving surface.
package hintline

// JSON-RPC 2.0 error codes used by the server.
const (
	JsonRpcParseError     = -32700
	JsonRpcInvalidRequest = -32600
	JsonRpcMethodNotFound = -32601
	JsonRpcInvalidParams  = -32602
	JsonRpcInternalError  = -32603
)

// ClientInfo identifies the connecting editor client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams are the parameters of the initialize request.
type InitializeParams struct {
	ClientInfo *ClientInfo `json:"clientInfo,omitempty"`
}

// ServerInfo identifies this server to the client.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the response to the initialize request.
type InitializeResult struct {
	ServerInfo ServerInfo `json:"serverInfo"`
}

// SuggestParams carries one completion context from the editor: the bounded
// windows around the cursor plus the file name and language tag.
type SuggestParams struct {
	Before   string `json:"before"`
	After    string `json:"after"`
	FileName string `json:"fileName"`
	Language string `json:"language"`
}

// SuggestResult is the synchronous response to hintline/suggest. When
// FromCache is false the final suggestions arrive later as a
// hintline/suggestionsUpdated notification carrying the same RequestID.
type SuggestResult struct {
	RequestID   string       `json:"requestId"`
	Suggestions []Suggestion `json:"suggestions"`
	FromCache   bool         `json:"fromCache"`
}

// SuggestionsUpdatedParams is the payload of the asynchronous
// hintline/suggestionsUpdated notification.
type SuggestionsUpdatedParams struct {
	RequestID   string       `json:"requestId"`
	Suggestions []Suggestion `json:"suggestions"`
}
