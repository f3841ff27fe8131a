package conform_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-mcp-conform"
)

// startScriptedTarget runs a minimal in-process target over crossed pipes.
// The reply function receives each decoded request and returns the raw line
// to write back.
func startScriptedTarget(t *testing.T, reply func(id int64, method string, params json.RawMessage) string) *conform.Conversation {
	t.Helper()

	targetReader, harnessWriter := io.Pipe()
	harnessReader, targetWriter := io.Pipe()

	go func() {
		defer targetWriter.Close()
		scanner := bufio.NewScanner(targetReader)
		for scanner.Scan() {
			var req struct {
				ID     int64           `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				fmt.Fprintf(targetWriter, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`+"\n")
				continue
			}
			fmt.Fprintf(targetWriter, "%s\n", reply(req.ID, req.Method, req.Params))
		}
	}()

	transport := conform.NewPipeTransport(harnessReader, harnessWriter)
	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		transport.Shutdown(context.Background())
	})

	return conform.NewConversation(transport)
}

func TestConversationRoundTrip(t *testing.T) {
	conv := startScriptedTarget(t, func(id int64, method string, params json.RawMessage) string {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"method":%q}}`, id, method)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i, method := range []string{"tools/list", "server/stats"} {
		resp, err := conv.Call(ctx, method, nil)
		if err != nil {
			t.Fatalf("Call(%s) error = %v", method, err)
		}
		if want := int64(i + 1); resp.ID != want {
			t.Errorf("Call(%s) id = %d, want %d", method, resp.ID, want)
		}

		var result struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			t.Fatalf("failed to unmarshal result: %v", err)
		}
		if result.Method != method {
			t.Errorf("result method = %s, want %s", result.Method, method)
		}
	}
}

func TestConversationIDMismatch(t *testing.T) {
	conv := startScriptedTarget(t, func(id int64, _ string, _ json.RawMessage) string {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, id+41)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := conv.Call(ctx, conform.MethodToolsList, nil)
	if !errors.Is(err, conform.ErrIDMismatch) {
		t.Errorf("Call() error = %v, want ErrIDMismatch", err)
	}
	if !conform.IsFatal(err) {
		t.Errorf("IsFatal(%v) = false, want true", err)
	}
}

func TestConversationMalformedResponse(t *testing.T) {
	conv := startScriptedTarget(t, func(_ int64, _ string, _ json.RawMessage) string {
		return "this is not json"
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := conv.Call(ctx, conform.MethodToolsList, nil)
	if !errors.Is(err, conform.ErrMalformedResponse) {
		t.Errorf("Call() error = %v, want ErrMalformedResponse", err)
	}
}

func TestConversationTimeoutLeavesCorrelatorAwaiting(t *testing.T) {
	harnessReader, targetWriter := io.Pipe()
	defer targetWriter.Close()

	transport := conform.NewPipeTransport(harnessReader, io.Discard)
	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer transport.Shutdown(context.Background())

	conv := conform.NewConversation(transport)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := conv.Call(ctx, conform.MethodToolsList, nil)
	if !errors.Is(err, conform.ErrTimeout) {
		t.Fatalf("Call() error = %v, want ErrTimeout", err)
	}

	// A reply never arrived, so a second call must trip the reentrancy
	// guard rather than reuse the abandoned id.
	_, err = conv.Call(context.Background(), conform.MethodToolsList, nil)
	if !errors.Is(err, conform.ErrReentrancy) {
		t.Errorf("Call() after timeout error = %v, want ErrReentrancy", err)
	}
}

func TestConversationCallRaw(t *testing.T) {
	conv := startScriptedTarget(t, func(_ int64, _ string, _ json.RawMessage) string {
		return `{"jsonrpc":"2.0","id":0,"result":{}}`
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := conv.CallRaw(ctx, []byte(`{"jsonrpc":"2.0",`))
	if err != nil {
		t.Fatalf("CallRaw() error = %v", err)
	}
	if resp.Error == nil {
		t.Fatal("CallRaw() response error = nil, want parse error")
	}
	if resp.Error.Code != conform.CodeParseError {
		t.Errorf("CallRaw() error code = %d, want %d", resp.Error.Code, conform.CodeParseError)
	}
}
