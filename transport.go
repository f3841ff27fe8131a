package conform

import "context"

// Transport carries one newline-delimited conversation with a target. The
// harness owns exactly one Transport per scenario; implementations are not
// shared between concurrent scenarios.
//
// StdIOTransport talks to a child process over its standard input/output,
// SSETransport talks to an HTTP endpoint that streams Server-Sent Events.
// Both deliver the same strictly alternating line conversation.
type Transport interface {
	// Start makes the target reachable. For child processes this spawns the
	// executable and wires its pipes, failing with ErrLaunch if it cannot
	// start.
	Start(ctx context.Context) error

	// SendLine writes one line to the target and flushes immediately. The
	// line must not contain a newline; framing is owned by the transport.
	// Fails with ErrBrokenPipe once the target is gone.
	SendLine(ctx context.Context, line []byte) error

	// ReceiveLine blocks until one full line arrives, the context deadline
	// elapses (ErrTimeout), or the target closes its output without
	// producing one (ErrEndOfStream). The returned line has its trailing
	// newline stripped.
	ReceiveLine(ctx context.Context) ([]byte, error)

	// Shutdown releases the target, escalating from a graceful request to a
	// forced stop after a bounded grace period. It is idempotent and must be
	// called even after transport errors so no child process outlives the
	// harness.
	Shutdown(ctx context.Context) error

	// Diagnostics returns a short human-readable tail of out-of-band output
	// observed so far, such as the target's stderr. Never protocol-bearing;
	// included in failure messages.
	Diagnostics() string
}
