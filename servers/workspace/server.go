package workspace

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MegaGrindStone/go-mcp-conform"
)

// Server is a reference target for the conformance harness: a workspace tool
// server speaking JSON-RPC 2.0 over newline-delimited text streams. It
// exposes filesystem tools confined to a root directory, an in-memory block
// store, and the session and stats methods the harness probes.
//
// All filesystem operations stay within the configured root directory; paths
// in tool arguments are interpreted relative to it and refused when they
// climb out.
type Server struct {
	root   string
	logger *slog.Logger

	startedAt time.Time
	blocks    *blockStore

	mu       sync.Mutex
	sessions map[string]*session
	requests int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger the server writes request traces to. Defaults
// to a logger that discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

const (
	serverName    = "workspace-mcp"
	serverVersion = "0.4.2"

	defaultMaxReadSize = 10 << 20
)

// NewServer creates a workspace server rooted at the given directory.
//
// It returns an error if the root does not exist, is not a directory, or
// cannot be resolved to an absolute path.
func NewServer(root string, options ...Option) (*Server, error) {
	info, err := os.Stat(filepath.Clean(root))
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}

	s := &Server{
		root:      abs,
		startedAt: time.Now(),
		blocks:    newBlockStore(),
		sessions:  make(map[string]*session),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return s, nil
}

// session tracks one established client identity. Capabilities are granted
// only when session/create asks for them, so sessions are read-only unless
// the client opted in.
type session struct {
	id            string
	clientName    string
	clientVersion string
	userID        string
	capabilities  []string
	createdAt     time.Time
}

func (s *session) allows(capability string) bool {
	for _, c := range s.capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// response is the server-side reply envelope. ID is kept as raw JSON so the
// client's representation is echoed untouched, and so a parse error can
// carry an explicit null id.
type response struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Result  any               `json:"result,omitempty"`
	Error   *conform.RPCError `json:"error,omitempty"`
}

// Serve reads newline-delimited JSON-RPC requests from r and writes one
// response line per request to w, in arrival order. It returns nil when r
// reaches end of stream, ctx.Err() when ctx is canceled, and the underlying
// error when reading or writing fails.
//
// Unparseable lines are answered with a parse error carrying a null id
// instead of tearing the conversation down.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan string)
	readErrs := make(chan error, 1)

	// Same trade-off as the harness transports: bufio.Scanner would impose a
	// maximum line length, ReadString only needs the line to fit in memory.
	go func() {
		reader := bufio.NewReader(r)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				readErrs <- err
				close(lines)
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				err := <-readErrs
				if errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("failed to read request: %w", err)
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := s.writeResponse(w, s.handleLine([]byte(line))); err != nil {
				return err
			}
		}
	}
}

func (s *Server) handleLine(line []byte) response {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, conform.CodeParseError, "parse error: %v", err)
	}
	if req.JSONRPC != conform.JSONRPCVersion {
		return errorResponse(req.ID, conform.CodeInvalidRequest,
			"unsupported jsonrpc version %q", req.JSONRPC)
	}
	if req.Method == "" {
		return errorResponse(req.ID, conform.CodeInvalidRequest, "missing method")
	}
	if !rawPresent(req.ID) {
		return errorResponse(nil, conform.CodeInvalidRequest, "missing id")
	}

	s.logger.Debug("handling request",
		slog.String("method", req.Method),
		slog.String("id", string(req.ID)))

	result, rpcErr := s.dispatch(req.Method, req.Params)
	if rpcErr != nil {
		return response{JSONRPC: conform.JSONRPCVersion, ID: req.ID, Error: rpcErr}
	}
	return response{JSONRPC: conform.JSONRPCVersion, ID: req.ID, Result: result}
}

func (s *Server) dispatch(method string, params json.RawMessage) (any, *conform.RPCError) {
	switch method {
	case conform.MethodInitialize:
		return s.initialize(params)
	case conform.MethodSessionCreate:
		return s.createSession(params)
	case conform.MethodSessionInfo:
		return s.sessionInfo(params)
	case conform.MethodToolsList:
		return toolList, nil
	case conform.MethodToolsCall:
		return s.callTool(params)
	case conform.MethodServerStats:
		return s.stats(), nil
	case conform.MethodPromptsList:
		return promptsListResult{Prompts: promptList}, nil
	case conform.MethodResourcesList:
		return resourcesListResult{Resources: resourceList}, nil
	default:
		return nil, rpcErrorf(conform.CodeMethodNotFound, "method not found: %s", method)
	}
}

func (s *Server) initialize(params json.RawMessage) (any, *conform.RPCError) {
	var p conform.InitializeParams
	if rpcErr := unmarshalParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	s.logger.Info("client connected",
		slog.String("client", p.ClientInfo.Name),
		slog.String("version", p.ClientInfo.Version))

	return conform.InitializeResult{
		ProtocolVersion: conform.ProtocolVersion,
		ServerInfo:      conform.Info{Name: serverName, Version: serverVersion},
		Capabilities: map[string]any{
			"tools":    map[string]any{"listChanged": false},
			"sessions": map[string]any{},
		},
	}, nil
}

func (s *Server) createSession(params json.RawMessage) (any, *conform.RPCError) {
	var p conform.SessionCreateParams
	if rpcErr := unmarshalParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.ClientName == "" {
		return nil, rpcErrorf(conform.CodeInvalidParams, "client_name is required")
	}
	if p.ClientVersion == "" {
		return nil, rpcErrorf(conform.CodeInvalidParams, "client_version is required")
	}

	sess := s.newSession(p.ClientName, p.ClientVersion, p.UserID, p.Capabilities)
	return conform.SessionCreateResult{SessionID: sess.id}, nil
}

func (s *Server) sessionInfo(params json.RawMessage) (any, *conform.RPCError) {
	var p conform.SessionInfoParams
	if rpcErr := unmarshalParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.SessionID == "" {
		return nil, rpcErrorf(conform.CodeInvalidParams, "session_id is required")
	}

	s.mu.Lock()
	sess, ok := s.sessions[p.SessionID]
	s.mu.Unlock()
	if !ok {
		return nil, rpcErrorf(conform.CodeServerError, "session not found: %s", p.SessionID)
	}

	return conform.SessionInfoResult{
		SessionID:     sess.id,
		ClientName:    sess.clientName,
		ClientVersion: sess.clientVersion,
		CreatedAt:     sess.createdAt.Format(time.RFC3339),
	}, nil
}

func (s *Server) stats() conform.ServerStatsResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conform.ServerStatsResult{
		ActiveSessions: len(s.sessions),
		TotalRequests:  s.requests,
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
	}
}

func (s *Server) newSession(name, version, userID string, capabilities []string) *session {
	sess := &session{
		id:            uuid.NewString(),
		clientName:    name,
		clientVersion: version,
		userID:        userID,
		capabilities:  capabilities,
		createdAt:     time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Info("session created",
		slog.String("session_id", sess.id),
		slog.String("client", name))
	return sess
}

// sessionFor resolves the session a tool call runs under. Calls without a
// session id get a fresh anonymous session, matching how interactive clients
// are allowed to invoke read-only tools before introducing themselves.
func (s *Server) sessionFor(id string) (*session, *conform.RPCError) {
	if id == "" {
		return s.newSession("anonymous", "", "", nil), nil
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, rpcErrorf(conform.CodeServerError, "session not found: %s", id)
	}
	return sess, nil
}

func (s *Server) writeResponse(w io.Writer, resp response) error {
	bs, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	bs = append(bs, '\n')
	if _, err := w.Write(bs); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func errorResponse(id json.RawMessage, code int, format string, args ...any) response {
	return response{
		JSONRPC: conform.JSONRPCVersion,
		ID:      id,
		Error:   rpcErrorf(code, format, args...),
	}
}

func rpcErrorf(code int, format string, args ...any) *conform.RPCError {
	return &conform.RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func unmarshalParams(params json.RawMessage, dst any) *conform.RPCError {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return rpcErrorf(conform.CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

func rawPresent(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

var promptList = []promptDescriptor{
	{
		Name:        "summarize_workspace",
		Description: "Summarize the blocks and files in this workspace.",
	},
}

var resourceList = []resourceDescriptor{
	{
		URI:         "workspace://blocks",
		Name:        "Workspace blocks",
		Description: "All blocks in this workspace as a JSON document.",
	},
}
