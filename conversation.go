package conform

import (
	"context"
	"fmt"
	"log/slog"
)

// Conversation binds a Transport to a Correlator and provides the strictly
// sequential request/response exchange that scenarios are written against.
// One request is in flight at a time; the reply is read, decoded, and
// checked against the outstanding id before the next request may be issued.
//
// A Conversation is not safe for concurrent use. The driver runs one per
// scenario, over a fresh transport.
type Conversation struct {
	transport  Transport
	correlator *Correlator
	logger     *slog.Logger
}

// ConversationOption is a function that configures a Conversation.
type ConversationOption func(*Conversation)

// WithConversationLogger sets the logger for the conversation.
func WithConversationLogger(logger *slog.Logger) ConversationOption {
	return func(c *Conversation) {
		c.logger = logger
	}
}

// NewConversation creates a Conversation over a started transport.
func NewConversation(transport Transport, options ...ConversationOption) *Conversation {
	c := &Conversation{
		transport:  transport,
		correlator: NewCorrelator(),
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Call issues one request and blocks until its response arrives. The caller
// bounds the exchange through ctx; an elapsed deadline surfaces as
// ErrTimeout from the transport. Failures keep their sentinel cause, so
// IsFatal tells the caller whether the conversation can continue.
func (c *Conversation) Call(ctx context.Context, method string, params any) (Response, error) {
	req, err := c.correlator.Issue(method, params)
	if err != nil {
		return Response{}, err
	}

	line, err := EncodeRequest(req)
	if err != nil {
		return Response{}, err
	}

	c.logger.Debug("request", slog.String("method", method), slog.Int64("id", req.ID))

	if err := c.transport.SendLine(ctx, line); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", method, err)
	}

	raw, err := c.transport.ReceiveLine(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("awaiting %s response: %w", method, err)
	}

	resp, err := DecodeResponse(raw)
	if err != nil {
		return Response{}, fmt.Errorf("decode %s response: %w (line %q)", method, err, diagLine(raw))
	}

	if err := c.correlator.Resolve(resp); err != nil {
		return Response{}, fmt.Errorf("correlate %s response: %w (line %q)", method, err, diagLine(raw))
	}

	c.logger.Debug("response", slog.Int64("id", resp.ID), slog.Bool("isError", resp.Error != nil))

	return resp, nil
}

// CallRaw writes a preassembled line verbatim and reads one reply, decoded
// leniently so a null id is accepted. Probe steps use it to provoke parse
// and shape errors that a well-formed Call could never produce. The reply
// carries no usable id, so it is not correlated; CallRaw refuses to run
// while a regular request is outstanding.
func (c *Conversation) CallRaw(ctx context.Context, line []byte) (Response, error) {
	if c.correlator.Awaiting() {
		return Response{}, fmt.Errorf("%w: raw probe while awaiting response", ErrReentrancy)
	}

	c.logger.Debug("raw probe", slog.Int("bytes", len(line)))

	if err := c.transport.SendLine(ctx, line); err != nil {
		return Response{}, fmt.Errorf("send raw probe: %w", err)
	}

	raw, err := c.transport.ReceiveLine(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("awaiting raw probe response: %w", err)
	}

	resp, err := decodeResponse(raw, false)
	if err != nil {
		return Response{}, fmt.Errorf("decode raw probe response: %w (line %q)", err, diagLine(raw))
	}

	return resp, nil
}

// diagLine bounds a raw protocol line quoted in diagnostics, so a huge
// payload does not swamp the report.
func diagLine(line []byte) string {
	const max = 200
	if len(line) <= max {
		return string(line)
	}
	return string(line[:max]) + "..."
}
