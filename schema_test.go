package conform_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MegaGrindStone/go-mcp-conform"
)

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantID    int64
		wantErr   bool
		wantError bool // expect Response.Error to be set
	}{
		{
			name:   "success result",
			line:   `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`,
			wantID: 1,
		},
		{
			name:      "error response",
			line:      `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"Method not found"}}`,
			wantID:    2,
			wantError: true,
		},
		{
			name:   "string id",
			line:   `{"jsonrpc":"2.0","id":"42","result":{}}`,
			wantID: 42,
		},
		{
			name:      "null result with error",
			line:      `{"jsonrpc":"2.0","id":3,"result":null,"error":{"code":-32000,"message":"boom"}}`,
			wantID:    3,
			wantError: true,
		},
		{
			name:    "invalid JSON",
			line:    `{"jsonrpc":`,
			wantErr: true,
		},
		{
			name:    "missing id",
			line:    `{"jsonrpc":"2.0","result":{}}`,
			wantErr: true,
		},
		{
			name:    "null id",
			line:    `{"jsonrpc":"2.0","id":null,"result":{}}`,
			wantErr: true,
		},
		{
			name:    "fractional id",
			line:    `{"jsonrpc":"2.0","id":1.5,"result":{}}`,
			wantErr: true,
		},
		{
			name:    "non-numeric string id",
			line:    `{"jsonrpc":"2.0","id":"abc","result":{}}`,
			wantErr: true,
		},
		{
			name:    "both result and error",
			line:    `{"jsonrpc":"2.0","id":4,"result":{},"error":{"code":1,"message":"x"}}`,
			wantErr: true,
		},
		{
			name:    "neither result nor error",
			line:    `{"jsonrpc":"2.0","id":5}`,
			wantErr: true,
		},
		{
			name:    "null result only",
			line:    `{"jsonrpc":"2.0","id":6,"result":null}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := conform.DecodeResponse([]byte(tt.line))

			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodeResponse() error = nil, want ErrMalformedResponse")
				}
				if !errors.Is(err, conform.ErrMalformedResponse) {
					t.Errorf("DecodeResponse() error = %v, want ErrMalformedResponse", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("DecodeResponse() unexpected error: %v", err)
			}
			if resp.ID != tt.wantID {
				t.Errorf("DecodeResponse() id = %d, want %d", resp.ID, tt.wantID)
			}
			if tt.wantError && resp.Error == nil {
				t.Errorf("DecodeResponse() error payload = nil, want set")
			}
			if !tt.wantError && resp.Result == nil {
				t.Errorf("DecodeResponse() result payload = nil, want set")
			}
		})
	}
}

func TestEncodeRequest(t *testing.T) {
	req := conform.Request{
		ID:     7,
		Method: conform.MethodToolsList,
		Params: json.RawMessage(`{}`),
	}

	line, err := conform.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest() unexpected error: %v", err)
	}

	if bytes.ContainsRune(line, '\n') {
		t.Errorf("EncodeRequest() output contains a newline: %q", line)
	}

	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("EncodeRequest() produced invalid JSON: %v", err)
	}
	if decoded["jsonrpc"] != conform.JSONRPCVersion {
		t.Errorf("EncodeRequest() jsonrpc = %v, want %s", decoded["jsonrpc"], conform.JSONRPCVersion)
	}
	if decoded["id"] != float64(7) {
		t.Errorf("EncodeRequest() id = %v, want 7", decoded["id"])
	}
	if decoded["method"] != conform.MethodToolsList {
		t.Errorf("EncodeRequest() method = %v, want %s", decoded["method"], conform.MethodToolsList)
	}
}

func TestEncodeRequestEscapesNewlines(t *testing.T) {
	params, err := json.Marshal(map[string]string{"content": "line one\nline two"})
	if err != nil {
		t.Fatalf("failed to marshal params: %v", err)
	}

	line, err := conform.EncodeRequest(conform.Request{
		ID:     1,
		Method: conform.MethodToolsCall,
		Params: params,
	})
	if err != nil {
		t.Fatalf("EncodeRequest() unexpected error: %v", err)
	}

	if bytes.ContainsRune(line, '\n') {
		t.Errorf("EncodeRequest() output contains a raw newline: %q", line)
	}
}
