package conform

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// StdIOTransport carries the conversation over newline-delimited text on an
// io.Reader/io.Writer pair. In its usual configuration it owns a child
// process spawned from a target executable and talks over the child's
// standard input/output, draining standard error concurrently into a bounded
// tail buffer. NewPipeTransport wires the same machinery to an in-process
// reader/writer pair instead, which is how loopback tests and in-process
// targets are driven.
//
// A StdIOTransport serves exactly one conversation. Start must be called
// once before SendLine/ReceiveLine, and Shutdown releases the target; both
// tolerate being called after a transport failure.
type StdIOTransport struct {
	path string
	args []string
	env  []string

	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	gracePeriod time.Duration
	stderrLimit int

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer

	lines   chan string
	readErr error

	writes      chan outboundLine
	done        chan struct{}
	readClosed  chan struct{}
	writeClosed chan struct{}

	shutdownOnce sync.Once
}

type outboundLine struct {
	line []byte
	errs chan error
}

// StdIOOption is a function that configures a StdIOTransport.
type StdIOOption func(*StdIOTransport)

// WithStdIOLogger sets the logger for the transport.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(t *StdIOTransport) {
		t.logger = logger
	}
}

// WithStdIOGracePeriod sets how long Shutdown waits between the graceful
// termination request and the forced kill.
func WithStdIOGracePeriod(d time.Duration) StdIOOption {
	return func(t *StdIOTransport) {
		t.gracePeriod = d
	}
}

// WithStdIOEnv appends environment variables, in "KEY=value" form, to the
// target's inherited environment.
func WithStdIOEnv(env []string) StdIOOption {
	return func(t *StdIOTransport) {
		t.env = env
	}
}

// WithStdIOStderrLimit sets how many trailing bytes of the target's standard
// error are retained for diagnostics.
func WithStdIOStderrLimit(n int) StdIOOption {
	return func(t *StdIOTransport) {
		t.stderrLimit = n
	}
}

var (
	defaultGracePeriod = 3 * time.Second
	defaultStderrLimit = 8 * 1024
)

// NewStdIOTransport creates a transport that will spawn the executable at
// path with the given arguments. A nil args defaults to the conventional
// single "--mcp" flag that switches tool servers into stdio protocol mode.
func NewStdIOTransport(path string, args []string, options ...StdIOOption) *StdIOTransport {
	if args == nil {
		args = []string{"--mcp"}
	}
	t := &StdIOTransport{
		path: path,
		args: args,
	}
	applyStdIODefaults(t, options)
	return t
}

// NewPipeTransport creates a transport over an existing reader/writer pair,
// with no child process behind it. Shutdown closes whichever ends implement
// io.Closer, so an in-process target sees end of input and the read loop is
// released even when the peer never closes its side.
func NewPipeTransport(reader io.Reader, writer io.Writer, options ...StdIOOption) *StdIOTransport {
	t := &StdIOTransport{
		reader: reader,
		writer: writer,
	}
	applyStdIODefaults(t, options)
	return t
}

func applyStdIODefaults(t *StdIOTransport, options []StdIOOption) {
	t.logger = slog.Default()
	t.lines = make(chan string)
	t.writes = make(chan outboundLine)
	t.done = make(chan struct{})
	t.readClosed = make(chan struct{})
	t.writeClosed = make(chan struct{})
	for _, opt := range options {
		opt(t)
	}
	if t.gracePeriod == 0 {
		t.gracePeriod = defaultGracePeriod
	}
	if t.stderrLimit == 0 {
		t.stderrLimit = defaultStderrLimit
	}
	t.stderr = newTailBuffer(t.stderrLimit)
}

// Start implements the Transport interface. For a process-backed transport
// it spawns the target with piped standard streams and fails with ErrLaunch
// if the executable cannot be started; for a pipe-backed transport it only
// starts the read and write loops.
func (t *StdIOTransport) Start(_ context.Context) error {
	if t.path != "" {
		cmd := exec.Command(t.path, t.args...)
		if len(t.env) > 0 {
			cmd.Env = append(os.Environ(), t.env...)
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLaunch, err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLaunch, err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLaunch, err)
		}

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrLaunch, t.path, err)
		}
		t.logger.Debug("target started", slog.String("path", t.path), slog.Int("pid", cmd.Process.Pid))

		t.cmd = cmd
		t.stdin = stdin
		t.reader = stdout
		t.writer = stdin

		// The drain keeps the stderr pipe from filling up and blocking the
		// target; only the tail is retained.
		go func() {
			_, _ = io.Copy(t.stderr, stderr)
		}()
	}

	go t.readLines()
	go t.processWrites()

	return nil
}

// SendLine implements the Transport interface. The line is framed with a
// trailing newline and handed to the write loop; the call returns once the
// write completed or failed.
func (t *StdIOTransport) SendLine(ctx context.Context, line []byte) error {
	framed := make([]byte, 0, len(line)+1)
	framed = append(framed, line...)
	framed = append(framed, '\n')

	out := outboundLine{
		line: framed,
		errs: make(chan error, 1),
	}

	// Queue the line for the write loop so writes never race with shutdown.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return fmt.Errorf("%w: transport is shut down", ErrBrokenPipe)
	case t.writes <- out:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return fmt.Errorf("%w: transport is shut down", ErrBrokenPipe)
	case err := <-out.errs:
		if err == nil {
			return nil
		}
		t.logger.Error("failed to write line", slog.String("err", err.Error()))
		if isClosedPipe(err) {
			return fmt.Errorf("%w: %v", ErrBrokenPipe, err)
		}
		return fmt.Errorf("failed to write line: %w", err)
	}
}

// ReceiveLine implements the Transport interface. It blocks until the read
// loop delivers one line, the context deadline elapses (ErrTimeout), or the
// target's output ends (ErrEndOfStream).
func (t *StdIOTransport) ReceiveLine(ctx context.Context) ([]byte, error) {
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

// Shutdown implements the Transport interface. For a process-backed
// transport it closes the target's input, requests termination, and kills
// the process after the grace period if it has not exited. Idempotent.
func (t *StdIOTransport) Shutdown(ctx context.Context) error {
	var err error
	t.shutdownOnce.Do(func() {
		err = t.shutdown(ctx)
	})
	return err
}

func (t *StdIOTransport) shutdown(ctx context.Context) error {
	close(t.done)

	if t.cmd == nil {
		if closer, ok := t.writer.(io.Closer); ok {
			_ = closer.Close()
		}
		if closer, ok := t.reader.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil
	}

	// Closing stdin signals end of input; well-behaved targets exit on it.
	_ = t.stdin.Close()

	waitErrs := make(chan error, 1)
	go func() {
		waitErrs <- t.cmd.Wait()
	}()

	if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.logger.Debug("failed to signal target", slog.String("err", err.Error()))
	}

	grace := time.NewTimer(t.gracePeriod)
	defer grace.Stop()

	select {
	case err := <-waitErrs:
		t.logWaitResult(err)
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	t.logger.Warn("target did not exit in time, killing", slog.String("path", t.path))
	if err := t.cmd.Process.Kill(); err != nil {
		t.logger.Debug("failed to kill target", slog.String("err", err.Error()))
	}
	t.logWaitResult(<-waitErrs)

	return nil
}

func (t *StdIOTransport) logWaitResult(err error) {
	if err != nil {
		t.logger.Debug("target exited", slog.String("err", err.Error()))
		return
	}
	t.logger.Debug("target exited cleanly")
}

// Diagnostics implements the Transport interface by returning the retained
// tail of the target's standard error.
func (t *StdIOTransport) Diagnostics() string {
	return strings.TrimSpace(t.stderr.String())
}

func (t *StdIOTransport) readLines() {
	defer close(t.readClosed)

	// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(t.reader)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if line != "" {
				t.logger.Debug("discarding partial line at end of stream", slog.String("line", line))
			}
			if !errors.Is(err, io.EOF) && !isClosedPipe(err) {
				t.logger.Error("failed to read line", slog.String("err", err.Error()))
			}
			// Set the cause before closing so receivers observing the close
			// see it.
			t.readErr = err
			close(t.lines)
			return
		}

		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			continue
		}

		select {
		case <-t.done:
			return
		case t.lines <- line:
		}
	}
}

func (t *StdIOTransport) processWrites() {
	defer close(t.writeClosed)

	for {
		var out outboundLine
		select {
		case <-t.done:
			return
		case out = <-t.writes:
		}

		_, err := t.writer.Write(out.line)

		out.errs <- err
	}
}

func isClosedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe)
}

// tailBuffer is an io.Writer retaining only the last limit bytes written,
// safe for one writer and concurrent readers.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return string(b.buf)
}
