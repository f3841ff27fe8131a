package workspace_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-mcp-conform"
	"github.com/MegaGrindStone/go-mcp-conform/servers/workspace"
)

// pipeTarget wires a Server to a pipe transport so tests can drive it
// in-process, with no child process involved.
func pipeTarget(t *testing.T, root string) *conform.StdIOTransport {
	t.Helper()

	srv, err := workspace.NewServer(root)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()
	go func() {
		_ = srv.Serve(ctx, serverReader, serverWriter)
		serverWriter.Close()
	}()

	return conform.NewPipeTransport(clientReader, clientWriter)
}

func TestServerPassesBuiltinScenarios(t *testing.T) {
	root := t.TempDir()

	runner := conform.NewRunner(func() conform.Transport {
		return pipeTarget(t, root)
	}, conform.WithStepTimeout(5*time.Second))

	report := runner.Run(context.Background(), conform.BuiltinScenarios())

	if report.HarnessError != "" {
		t.Fatalf("unexpected harness error: %s", report.HarnessError)
	}
	for _, v := range report.Verdicts {
		if v.Outcome != conform.OutcomePassed {
			t.Errorf("%s / %s / %s: %s  %s", v.Scenario, v.Step, v.Expectation, v.Outcome, v.Message)
		}
	}
	if code := report.ExitCode(); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if report.Passed() == 0 {
		t.Error("report counts no passed expectations")
	}
}

func TestServerGrantsBlockWriteCapability(t *testing.T) {
	transport := pipeTarget(t, t.TempDir())

	ctx := context.Background()
	if err := transport.Start(ctx); err != nil {
		t.Fatalf("failed to start transport: %v", err)
	}
	defer transport.Shutdown(ctx)

	conv := conform.NewConversation(transport)

	resp, err := conv.Call(ctx, conform.MethodSessionCreate, conform.SessionCreateParams{
		ClientName:    "block-writer",
		ClientVersion: "1.0.0",
		Capabilities:  []string{"blocks:write"},
	})
	if err != nil {
		t.Fatalf("session/create failed: %v", err)
	}
	var created conform.SessionCreateResult
	if err := json.Unmarshal(resp.Result, &created); err != nil {
		t.Fatalf("failed to unmarshal session/create result: %v", err)
	}

	args, err := json.Marshal(map[string]any{
		"name":        "meeting-notes",
		"description": "Notes from the weekly sync.",
	})
	if err != nil {
		t.Fatalf("failed to marshal arguments: %v", err)
	}
	resp, err = conv.Call(ctx, conform.MethodToolsCall, conform.ToolsCallParams{
		Name:      "create_block",
		Arguments: args,
		SessionID: created.SessionID,
	})
	if err != nil {
		t.Fatalf("create_block call failed: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("create_block returned error: %v", resp.Error)
	}
	var block struct {
		BlockID string `json:"block_id"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(resp.Result, &block); err != nil {
		t.Fatalf("failed to unmarshal create_block result: %v", err)
	}
	if block.BlockID == "" {
		t.Error("create_block returned an empty block_id")
	}
	if block.Name != "meeting-notes" {
		t.Errorf("create_block name = %q, want %q", block.Name, "meeting-notes")
	}

	args, err = json.Marshal(map[string]any{"filter": "meeting"})
	if err != nil {
		t.Fatalf("failed to marshal arguments: %v", err)
	}
	resp, err = conv.Call(ctx, conform.MethodToolsCall, conform.ToolsCallParams{
		Name:      "list_blocks",
		Arguments: args,
		SessionID: created.SessionID,
	})
	if err != nil {
		t.Fatalf("list_blocks call failed: %v", err)
	}
	var listed struct {
		Blocks []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"blocks"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(resp.Result, &listed); err != nil {
		t.Fatalf("failed to unmarshal list_blocks result: %v", err)
	}
	if listed.Count != 1 || len(listed.Blocks) != 1 {
		t.Fatalf("list_blocks count = %d, want exactly the created block", listed.Count)
	}
	if listed.Blocks[0].ID != block.BlockID {
		t.Errorf("listed block id = %q, want %q", listed.Blocks[0].ID, block.BlockID)
	}
}

func TestServerRejectsPathEscape(t *testing.T) {
	transport := pipeTarget(t, t.TempDir())

	ctx := context.Background()
	if err := transport.Start(ctx); err != nil {
		t.Fatalf("failed to start transport: %v", err)
	}
	defer transport.Shutdown(ctx)

	conv := conform.NewConversation(transport)

	for _, path := range []string{"../outside.txt", "nested/../../escape", "/etc/passwd"} {
		args, err := json.Marshal(map[string]any{"path": path})
		if err != nil {
			t.Fatalf("failed to marshal arguments: %v", err)
		}
		resp, err := conv.Call(ctx, conform.MethodToolsCall, conform.ToolsCallParams{
			Name:      "read_file",
			Arguments: args,
		})
		if err != nil {
			t.Fatalf("read_file call failed: %v", err)
		}
		if resp.Error == nil {
			t.Fatalf("read_file %q succeeded, want a rejection", path)
		}
		if resp.Error.Code != conform.CodeInvalidParams {
			t.Errorf("read_file %q error code = %d, want %d", path, resp.Error.Code, conform.CodeInvalidParams)
		}
	}
}

func TestServerParseErrorKeepsServing(t *testing.T) {
	transport := pipeTarget(t, t.TempDir())

	ctx := context.Background()
	if err := transport.Start(ctx); err != nil {
		t.Fatalf("failed to start transport: %v", err)
	}
	defer transport.Shutdown(ctx)

	conv := conform.NewConversation(transport)

	resp, err := conv.CallRaw(ctx, []byte(`{"jsonrpc":"2.0",`))
	if err != nil {
		t.Fatalf("raw probe failed: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != conform.CodeParseError {
		t.Fatalf("raw probe error = %v, want code %d", resp.Error, conform.CodeParseError)
	}

	resp, err = conv.Call(ctx, conform.MethodInitialize, conform.InitializeParams{
		ProtocolVersion: conform.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      conform.Info{Name: "probe", Version: "0.0.1"},
	})
	if err != nil {
		t.Fatalf("initialize after parse error failed: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("initialize after parse error returned error: %v", resp.Error)
	}
}

func TestServerSessionNotFound(t *testing.T) {
	transport := pipeTarget(t, t.TempDir())

	ctx := context.Background()
	if err := transport.Start(ctx); err != nil {
		t.Fatalf("failed to start transport: %v", err)
	}
	defer transport.Shutdown(ctx)

	conv := conform.NewConversation(transport)

	resp, err := conv.Call(ctx, conform.MethodSessionInfo, conform.SessionInfoParams{
		SessionID: "no-such-session",
	})
	if err != nil {
		t.Fatalf("session/info call failed: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != conform.CodeServerError {
		t.Fatalf("session/info error = %v, want code %d", resp.Error, conform.CodeServerError)
	}
}

func TestServerSharedRootPersistsAcrossConversations(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "kept.txt"), []byte("kept\n"), 0o644); err != nil {
		t.Fatalf("failed to seed root: %v", err)
	}

	for range 2 {
		transport := pipeTarget(t, root)

		ctx := context.Background()
		if err := transport.Start(ctx); err != nil {
			t.Fatalf("failed to start transport: %v", err)
		}

		conv := conform.NewConversation(transport)
		args, err := json.Marshal(map[string]any{"path": "kept.txt"})
		if err != nil {
			t.Fatalf("failed to marshal arguments: %v", err)
		}
		resp, err := conv.Call(ctx, conform.MethodToolsCall, conform.ToolsCallParams{
			Name:      "read_file",
			Arguments: args,
		})
		if err != nil {
			t.Fatalf("read_file call failed: %v", err)
		}
		if resp.Error != nil {
			t.Fatalf("read_file returned error: %v", resp.Error)
		}
		var read struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(resp.Result, &read); err != nil {
			t.Fatalf("failed to unmarshal read_file result: %v", err)
		}
		if read.Content != "kept\n" {
			t.Errorf("read_file content = %q, want %q", read.Content, "kept\n")
		}

		if err := transport.Shutdown(ctx); err != nil {
			t.Fatalf("failed to shut transport down: %v", err)
		}
		if _, err := conv.Call(ctx, conform.MethodToolsList, nil); !errors.Is(err, conform.ErrBrokenPipe) {
			t.Fatalf("call after shutdown error = %v, want %v", err, conform.ErrBrokenPipe)
		}
	}
}
