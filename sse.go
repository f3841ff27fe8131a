package conform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// SSETransport carries the conversation over a Server-Sent Events stream.
// Responses arrive as "message" events on a long-lived GET; requests go out
// as HTTP POSTs to the per-session endpoint the target announces in its
// initial "endpoint" event. HTTP framing replaces newline framing, so the
// payloads handed to SendLine and returned by ReceiveLine are the same
// bare JSON lines the stdio transport carries.
//
// The target is expected to be already running; Start here means connecting
// rather than spawning, and connection failures surface as ErrLaunch so the
// driver treats an unreachable target the same way in both modes.
type SSETransport struct {
	connectURL string
	messageURL string
	httpClient *http.Client
	logger     *slog.Logger

	maxEventSize int

	lines   chan string
	readErr error

	notices *tailBuffer

	done         chan struct{}
	streamCancel context.CancelFunc
	shutdownOnce sync.Once
}

// SSEOption is a function that configures an SSETransport.
type SSEOption func(*SSETransport)

// WithSSEHTTPClient sets the HTTP client used for both the event stream and
// the message POSTs.
func WithSSEHTTPClient(client *http.Client) SSEOption {
	return func(t *SSETransport) {
		t.httpClient = client
	}
}

// WithSSELogger sets the logger for the transport.
func WithSSELogger(logger *slog.Logger) SSEOption {
	return func(t *SSETransport) {
		t.logger = logger
	}
}

// WithSSEMaxEventSize sets the maximum size of a single event in bytes.
func WithSSEMaxEventSize(n int) SSEOption {
	return func(t *SSETransport) {
		t.maxEventSize = n
	}
}

// NewSSETransport creates a transport that will connect to the SSE endpoint
// at connectURL.
func NewSSETransport(connectURL string, options ...SSEOption) *SSETransport {
	t := &SSETransport{
		connectURL: connectURL,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		lines:      make(chan string),
		notices:    newTailBuffer(defaultStderrLimit),
		done:       make(chan struct{}),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Start implements the Transport interface. It opens the event stream and
// waits, bounded by ctx, for the endpoint announcement that carries the
// message URL.
func (t *SSETransport) Start(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	t.streamCancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.connectURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: unexpected status code: %d", ErrLaunch, resp.StatusCode)
	}

	ready := make(chan error, 1)
	go t.listenStream(resp.Body, ready)

	select {
	case err, ok := <-ready:
		if ok && err != nil {
			cancel()
			return fmt.Errorf("%w: %v", ErrLaunch, err)
		}
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("%w: no endpoint event: %v", ErrLaunch, ctx.Err())
	}

	t.logger.Debug("stream connected", slog.String("messageURL", t.messageURL))

	return nil
}

// SendLine implements the Transport interface by POSTing the line to the
// announced message URL.
func (t *SSETransport) SendLine(ctx context.Context, line []byte) error {
	select {
	case <-t.done:
		return fmt.Errorf("%w: transport is shut down", ErrBrokenPipe)
	default:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.messageURL, bytes.NewReader(line))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrBrokenPipe, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: unexpected status code: %d", ErrBrokenPipe, resp.StatusCode)
	}

	return nil
}

// ReceiveLine implements the Transport interface. It blocks until a
// "message" event arrives, the context deadline elapses (ErrTimeout), or
// the stream ends (ErrEndOfStream).
func (t *SSETransport) ReceiveLine(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	case <-t.done:
		return nil, fmt.Errorf("%w: transport is shut down", ErrEndOfStream)
	case line, ok := <-t.lines:
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrEndOfStream, t.readErr)
		}
		return []byte(line), nil
	}
}

// Shutdown implements the Transport interface by tearing down the event
// stream. The target keeps running; in SSE mode its lifecycle is not ours.
// Idempotent.
func (t *SSETransport) Shutdown(_ context.Context) error {
	t.shutdownOnce.Do(func() {
		close(t.done)
		if t.streamCancel != nil {
			t.streamCancel()
		}
	})
	return nil
}

// Diagnostics implements the Transport interface by returning the retained
// stream-level notices.
func (t *SSETransport) Diagnostics() string {
	return strings.TrimSpace(t.notices.String())
}

func (t *SSETransport) listenStream(body io.ReadCloser, ready chan<- error) {
	endpointSet := false
	var connectErr error

	defer func() {
		body.Close()
		if t.readErr == nil {
			t.readErr = io.EOF
		}
		close(t.lines)
		if endpointSet {
			return
		}
		// The endpoint never arrived, so Start is still waiting on ready.
		if connectErr == nil {
			connectErr = fmt.Errorf("stream ended before endpoint event: %v", t.readErr)
		}
		ready <- connectErr
	}()

	var config *sse.ReadConfig
	if t.maxEventSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: t.maxEventSize,
		}
	}

	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.logger.Error("failed to read event stream", slog.String("err", err.Error()))
				fmt.Fprintf(t.notices, "stream read error: %v\n", err)
			}
			t.readErr = err
			return
		}

		switch ev.Type {
		case "endpoint":
			if endpointSet {
				fmt.Fprintf(t.notices, "duplicate endpoint event ignored: %s\n", ev.Data)
				continue
			}
			u, err := url.Parse(ev.Data)
			if err != nil {
				connectErr = fmt.Errorf("parse endpoint URL: %w", err)
				return
			}
			base, err := url.Parse(t.connectURL)
			if err != nil {
				connectErr = fmt.Errorf("parse connect URL: %w", err)
				return
			}
			t.messageURL = base.ResolveReference(u).String()
			endpointSet = true
			close(ready)
		case "message":
			if !endpointSet {
				fmt.Fprintf(t.notices, "message event before endpoint, dropped\n")
				continue
			}
			select {
			case <-t.done:
				return
			case t.lines <- ev.Data:
			}
		default:
			fmt.Fprintf(t.notices, "unhandled event type: %s\n", ev.Type)
		}
	}
}
