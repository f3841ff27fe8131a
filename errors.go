package conform

import "errors"

// Sentinel errors classifying everything that can go wrong below the
// assertion level. Assertion mismatches are never errors; they become failed
// Verdicts and are reported at the end of the run.
var (
	// ErrLaunch reports that the target executable could not be found or
	// started. The whole run is aborted.
	ErrLaunch = errors.New("failed to launch target")

	// ErrBrokenPipe reports a write to a target whose input is already closed,
	// usually because the process exited mid-conversation.
	ErrBrokenPipe = errors.New("target input closed")

	// ErrEndOfStream reports that the target closed its output without
	// producing the line the conversation was waiting for.
	ErrEndOfStream = errors.New("target output closed")

	// ErrTimeout reports that no line arrived within the step deadline. The
	// affected step fails and the scenario proceeds to shutdown, but unlike
	// the desync errors below this does not flip the run into exit code 2.
	ErrTimeout = errors.New("timed out waiting for response")

	// ErrMalformedResponse reports a line that is not a well-formed JSON-RPC
	// response: invalid JSON, a missing id, or both or neither of
	// result/error.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrIDMismatch reports a response whose id does not match the
	// outstanding request. The conversation is desynchronized and cannot be
	// trusted afterwards.
	ErrIDMismatch = errors.New("response id mismatch")

	// ErrReentrancy reports an attempt to issue a request while another is
	// still outstanding. The conversation model is strictly one request at a
	// time.
	ErrReentrancy = errors.New("request already outstanding")
)

// IsFatal reports whether err means the conversation with the target can no
// longer be trusted: the process never started, the stream broke, or the
// request/response pairing desynchronized. A run containing a fatal error
// exits with code 2. Timeouts abort the affected scenario too, but they are
// ordinary step failures, not desyncs.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLaunch) ||
		errors.Is(err, ErrBrokenPipe) ||
		errors.Is(err, ErrEndOfStream) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrIDMismatch) ||
		errors.Is(err, ErrReentrancy)
}
