package conform

import (
	"encoding/json"
	"fmt"
)

type convState int

const (
	stateIdle convState = iota
	stateAwaitingResponse
)

// Correlator assigns request ids and enforces the single in-flight request
// discipline. IDs start at 1 and increase by one per issued request, never
// reused within a run.
//
// The correlator is deliberately not safe for concurrent use: the
// conversation model is strictly alternating, and an explicit state value
// makes reentrancy and desynchronization detectable instead of accidental.
type Correlator struct {
	next        int64
	outstanding int64
	state       convState
}

// NewCorrelator returns a Correlator whose first issued request carries id 1.
func NewCorrelator() *Correlator {
	return &Correlator{next: 1}
}

// Issue builds the Request for method with the given params, marks its id
// outstanding and returns it. It fails with ErrReentrancy if a request is
// already awaiting its response. A nil params leaves the params field out of
// the encoded request.
func (c *Correlator) Issue(method string, params any) (Request, error) {
	if c.state == stateAwaitingResponse {
		return Request{}, fmt.Errorf("%w: id %d still awaiting response, cannot issue %s",
			ErrReentrancy, c.outstanding, method)
	}

	var paramsBs json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return Request{}, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsBs = bs
	}

	req := Request{
		JSONRPC: JSONRPCVersion,
		ID:      c.next,
		Method:  method,
		Params:  paramsBs,
	}
	c.outstanding = req.ID
	c.next++
	c.state = stateAwaitingResponse

	return req, nil
}

// Resolve consumes the response to the outstanding request and returns the
// correlator to idle. A response when nothing is outstanding, or one whose id
// does not match, fails with ErrIDMismatch; the conversation is
// desynchronized at that point and cannot be continued safely.
func (c *Correlator) Resolve(resp Response) error {
	if c.state != stateAwaitingResponse {
		return fmt.Errorf("%w: no request outstanding, got id %d", ErrIDMismatch, resp.ID)
	}
	if resp.ID != c.outstanding {
		return fmt.Errorf("%w: got id %d, want %d", ErrIDMismatch, resp.ID, c.outstanding)
	}
	c.state = stateIdle
	return nil
}

// Awaiting reports whether a request is currently outstanding.
func (c *Correlator) Awaiting() bool {
	return c.state == stateAwaitingResponse
}
