package conform_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MegaGrindStone/go-mcp-conform"
)

// startSSETarget runs an httptest server speaking the endpoint/message event
// protocol. Every POSTed request is answered over the stream with an echo of
// its id.
func startSSETarget(t *testing.T) *httptest.Server {
	t.Helper()

	events := make(chan string, 4)

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer does not support flushing")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: endpoint\ndata: /message\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-events:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		events <- fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"ok":true}}`, req.ID)
		w.WriteHeader(http.StatusAccepted)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestSSETransportRoundTrip(t *testing.T) {
	server := startSSETarget(t)

	transport := conform.NewSSETransport(server.URL+"/sse",
		conform.WithSSEHTTPClient(server.Client()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer transport.Shutdown(context.Background())

	if err := transport.SendLine(ctx, []byte(`{"jsonrpc":"2.0","id":7,"method":"tools/list","params":{}}`)); err != nil {
		t.Fatalf("SendLine() error = %v", err)
	}

	line, err := transport.ReceiveLine(ctx)
	if err != nil {
		t.Fatalf("ReceiveLine() error = %v", err)
	}

	resp, err := conform.DecodeResponse(line)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.ID != 7 {
		t.Errorf("response id = %d, want 7", resp.ID)
	}
}

func TestSSETransportLaunchError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	transport := conform.NewSSETransport(server.URL + "/sse")

	err := transport.Start(context.Background())
	if !errors.Is(err, conform.ErrLaunch) {
		t.Errorf("Start() error = %v, want ErrLaunch", err)
	}
}

func TestSSETransportNoEndpointEvent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-r.Context().Done()
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	transport := conform.NewSSETransport(server.URL + "/sse")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := transport.Start(ctx)
	if !errors.Is(err, conform.ErrLaunch) {
		t.Errorf("Start() error = %v, want ErrLaunch", err)
	}
}

func TestSSETransportStreamEndsBeforeEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	transport := conform.NewSSETransport(server.URL + "/sse")

	// Start gets no deadline here: it must unblock on its own when the
	// stream ends without an endpoint event.
	startErrs := make(chan error, 1)
	go func() {
		startErrs <- transport.Start(context.Background())
	}()

	select {
	case err := <-startErrs:
		if !errors.Is(err, conform.ErrLaunch) {
			t.Errorf("Start() error = %v, want ErrLaunch", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() still blocked after the stream ended without an endpoint event")
	}
}

func TestSSETransportEndOfStream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: endpoint\ndata: /message\n\n")
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	transport := conform.NewSSETransport(server.URL + "/sse")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer transport.Shutdown(context.Background())

	_, err := transport.ReceiveLine(ctx)
	if !errors.Is(err, conform.ErrEndOfStream) {
		t.Errorf("ReceiveLine() error = %v, want ErrEndOfStream", err)
	}
}
