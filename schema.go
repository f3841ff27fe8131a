package conform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Request is a single JSON-RPC 2.0 request the harness sends to the target.
// IDs are assigned by the Correlator: unique within a run, strictly
// increasing, never reused.
type Request struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID pairs this request with exactly one response
	ID int64 `json:"id"`
	// Method contains the RPC method name
	Method string `json:"method"`
	// Params contains the method parameters as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one decoded line from the target. Exactly one of Result and
// Error is set; a response carrying Error is still a successfully decoded
// Response, since business-level failures are data for the assertions, not
// codec failures.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	// ID echoes the request id. IDs start at 1, so a zero ID means the line
	// carried none; DecodeResponse rejects that, only leniently decoded raw
	// probe replies can have it.
	ID int64 `json:"id"`
	// Result contains the success payload as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains the error payload if the target reported one
	Error *RPCError `json:"error,omitempty"`
}

// RPCError is the error object of a JSON-RPC 2.0 response.
type RPCError struct {
	// Code indicates the error type, using the standard JSON-RPC codes or
	// server-defined codes outside the reserved range.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional unstructured information and may be omitted.
	Data json.RawMessage `json:"data,omitempty"`
}

func (e RPCError) Error() string {
	return fmt.Sprintf("rpc error, code: %d, message: %s", e.Code, e.Message)
}

// EncodeRequest serializes req into a single JSON-RPC line without the
// trailing newline; transports own the framing. The output never contains a
// raw newline since encoding/json escapes control characters inside string
// values. An empty JSONRPC field is filled with the protocol version.
func EncodeRequest(req Request) ([]byte, error) {
	if req.JSONRPC == "" {
		req.JSONRPC = JSONRPCVersion
	}
	bs, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return bs, nil
}

// DecodeResponse parses one line from the target into a Response. It fails
// with ErrMalformedResponse if the line is not valid JSON, lacks an id, or
// carries both or neither of result/error. A JSON null counts as absent for
// all three fields.
func DecodeResponse(line []byte) (Response, error) {
	return decodeResponse(line, true)
}

func decodeResponse(line []byte, requireID bool) (Response, error) {
	var raw struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	resp := Response{JSONRPC: raw.JSONRPC, Error: raw.Error}

	switch {
	case jsonPresent(raw.ID):
		id, err := parseID(raw.ID)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		resp.ID = id
	case requireID:
		return Response{}, fmt.Errorf("%w: missing id", ErrMalformedResponse)
	}

	hasResult := jsonPresent(raw.Result)
	hasError := raw.Error != nil
	if hasResult == hasError {
		if hasResult {
			return Response{}, fmt.Errorf("%w: both result and error present", ErrMalformedResponse)
		}
		return Response{}, fmt.Errorf("%w: neither result nor error present", ErrMalformedResponse)
	}
	if hasResult {
		resp.Result = raw.Result
	}

	return resp, nil
}

func jsonPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// parseID accepts the id as a JSON number or a numeric string, since targets
// are free to echo either representation.
func parseID(raw json.RawMessage) (int64, error) {
	s := string(bytes.TrimSpace(raw))
	if len(s) > 0 && s[0] == '"' {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return 0, fmt.Errorf("invalid id %s", s)
		}
		s = unquoted
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("non-integer id %s", s)
	}
	return id, nil
}

// Info identifies one side of the conversation by name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams contains the handshake parameters sent as the first
// request of every conversation.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Info           `json:"clientInfo"`
}

// InitializeResult is the target's half of the handshake. ServerInfo must
// carry a non-empty name and version for the exchange to conform.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      Info           `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
	Instructions    string         `json:"instructions,omitempty"`
}

// SessionCreateParams contains the client identity and optional hints for
// establishing a session.
type SessionCreateParams struct {
	ClientName     string   `json:"client_name"`
	ClientVersion  string   `json:"client_version"`
	UserID         string   `json:"user_id,omitempty"`
	Capabilities   []string `json:"capabilities,omitempty"`
	ConnectionTime string   `json:"connection_time,omitempty"`
}

// SessionCreateResult carries the identifier later requests reference the
// session by.
type SessionCreateResult struct {
	SessionID string `json:"session_id"`
}

// SessionInfoParams asks the target to describe an established session.
type SessionInfoParams struct {
	SessionID string `json:"session_id"`
}

// SessionInfoResult echoes the session identity back to the harness.
type SessionInfoResult struct {
	SessionID     string `json:"session_id"`
	ClientName    string `json:"client_name"`
	ClientVersion string `json:"client_version"`
	CreatedAt     string `json:"created_at"`
}

// ToolDescriptor describes one invocable tool as reported by tools/list.
// The harness checks name and description presence only; InputSchema is
// carried for diagnostics, full schema validation is not attempted.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolsListResult is the discovery payload. A conforming target returns at
// least one tool, each with a non-empty name and description.
type ToolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ToolsCallParams invokes a named tool. SessionID is optional; read-only
// tools work without a session.
type ToolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	SessionID string          `json:"session_id,omitempty"`
}

// ServerStatsResult is the aggregate counters surface some targets expose.
// All counts are non-negative on a conforming target.
type ServerStatsResult struct {
	ActiveSessions int     `json:"active_sessions"`
	TotalRequests  int     `json:"total_requests"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

const (
	// JSONRPCVersion specifies the version of the JSON-RPC protocol being used.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is the protocol revision the harness negotiates during
	// initialize.
	ProtocolVersion = "2024-11-05"

	// MethodInitialize is the method name for the protocol handshake.
	MethodInitialize = "initialize"
	// MethodSessionCreate is the method name for establishing a session.
	MethodSessionCreate = "session/create"
	// MethodSessionInfo is the method name for describing an established session.
	MethodSessionInfo = "session/info"
	// MethodToolsList is the method name for retrieving a list of available tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"
	// MethodServerStats is the method name for the target's aggregate counters.
	MethodServerStats = "server/stats"
	// MethodPromptsList is the method name for listing available prompts.
	MethodPromptsList = "prompts/list"
	// MethodResourcesList is the method name for listing available resources.
	MethodResourcesList = "resources/list"

	// CodeParseError reports unparseable JSON on the wire.
	CodeParseError = -32700
	// CodeInvalidRequest reports a structurally invalid request object.
	CodeInvalidRequest = -32600
	// CodeMethodNotFound reports an unrecognized method name.
	CodeMethodNotFound = -32601
	// CodeInvalidParams reports parameters that do not fit the method.
	CodeInvalidParams = -32602
	// CodeInternalError reports a failure inside the target while handling
	// an otherwise valid request.
	CodeInternalError = -32603
	// CodeServerError is the server-defined range used by known targets for
	// application failures such as permission denials.
	CodeServerError = -32000
)
