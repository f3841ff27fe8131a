package conform

import (
	"fmt"
	"strings"
	"time"
)

// Scenario is an ordered conversation script. Each scenario runs against a
// fresh target, so scripts never see state left behind by one another.
type Scenario struct {
	Name  string
	Steps []Step
}

// Step is one exchange in a scenario. Either Method (with Params) or Raw is
// set; Raw bypasses the codec and sends the bytes verbatim for probe steps.
type Step struct {
	Name   string
	Method string

	// Params builds the request params from accumulated state. Nil means
	// the request carries no params member.
	Params func(state *State) (any, error)

	// Raw, when non-nil, is sent as-is through Conversation.CallRaw.
	Raw []byte

	// Needs lists state keys that earlier steps must have saved. A step
	// with unmet needs is skipped, not failed.
	Needs []string

	// Save maps state keys to result field paths, captured after every
	// expectation on the step passed.
	Save map[string]string

	// Expect lists the checks applied to the response. An empty list means
	// a bare Success expectation.
	Expect []Expectation

	// Timeout overrides the runner's per-step default when positive.
	Timeout time.Duration
}

// State accumulates values saved by earlier steps in a scenario, keyed by
// name. The zero value is not usable; use NewState.
type State struct {
	values map[string]any
}

// NewState creates an empty State.
func NewState() *State {
	return &State{values: make(map[string]any)}
}

// Set stores a value under key, replacing any previous one.
func (s *State) Set(key string, value any) {
	s.values[key] = value
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	value, ok := s.values[key]
	return value, ok
}

// Has reports whether key is set.
func (s *State) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// TemplateParams returns a Params builder that substitutes state references
// into doc. A string value "$key" is replaced by the state value saved under
// key; "$$" escapes a literal dollar sign. Documents without references pass
// through unchanged.
func TemplateParams(doc any) func(state *State) (any, error) {
	return func(state *State) (any, error) {
		return substituteState(doc, state)
	}
}

func substituteState(doc any, state *State) (any, error) {
	switch v := doc.(type) {
	case string:
		if strings.HasPrefix(v, "$$") {
			return v[1:], nil
		}
		if strings.HasPrefix(v, "$") {
			key := v[1:]
			value, ok := state.Get(key)
			if !ok {
				return nil, fmt.Errorf("state key %s not set", key)
			}
			return value, nil
		}
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			substituted, err := substituteState(value, state)
			if err != nil {
				return nil, err
			}
			out[key] = substituted
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, value := range v {
			substituted, err := substituteState(value, state)
			if err != nil {
				return nil, err
			}
			out[i] = substituted
		}
		return out, nil
	default:
		return v, nil
	}
}
