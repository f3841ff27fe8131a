package conform

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a verdict. Skipped is distinct from failed: a skipped
// check never ran because a dependency was not met, and it does not fail
// the run by itself.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Verdict is the unit of reporting: one expectation on one step of one
// scenario, with a human-readable message on failure or skip.
type Verdict struct {
	Scenario    string  `json:"scenario"`
	Step        string  `json:"step"`
	Expectation string  `json:"expectation,omitempty"`
	Outcome     Outcome `json:"outcome"`
	Message     string  `json:"message,omitempty"`
}

// Report aggregates the verdicts of a run. Each run gets a fresh id so
// reports from repeated invocations are tellable apart when archived.
type Report struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	Verdicts     []Verdict `json:"verdicts"`
	HarnessError string    `json:"harness_error,omitempty"`
}

// NewReport creates an empty report stamped with a run id and start time.
func NewReport() *Report {
	return &Report{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
}

// Add appends one verdict.
func (r *Report) Add(v Verdict) {
	r.Verdicts = append(r.Verdicts, v)
}

// SetHarnessError records a fatal run error: a launch failure, a canceled
// run, or a protocol desync after which the target's stream cannot be
// trusted. The first error is kept; it drives the exit code to 2.
func (r *Report) SetHarnessError(msg string) {
	if r.HarnessError == "" {
		r.HarnessError = msg
	}
}

// Finish stamps the run duration.
func (r *Report) Finish() {
	r.DurationMS = time.Since(r.StartedAt).Milliseconds()
}

// Passed returns the number of passed verdicts.
func (r *Report) Passed() int { return r.count(OutcomePassed) }

// Failed returns the number of failed verdicts.
func (r *Report) Failed() int { return r.count(OutcomeFailed) }

// Skipped returns the number of skipped verdicts.
func (r *Report) Skipped() int { return r.count(OutcomeSkipped) }

func (r *Report) count(outcome Outcome) int {
	n := 0
	for _, v := range r.Verdicts {
		if v.Outcome == outcome {
			n++
		}
	}
	return n
}

// OverallPassed reports whether the run is clean: no failed verdicts and no
// harness error. Skipped verdicts do not count against it.
func (r *Report) OverallPassed() bool {
	return r.HarnessError == "" && r.Failed() == 0
}

// ExitCode maps the report to the process exit code: 0 for a clean run, 1
// when any verdict failed, 2 on a fatal launch or desync error.
func (r *Report) ExitCode() int {
	switch {
	case r.HarnessError != "":
		return 2
	case r.Failed() > 0:
		return 1
	default:
		return 0
	}
}

// WriteText renders the human-readable report: one line per verdict and a
// closing summary.
func (r *Report) WriteText(w io.Writer) error {
	for _, v := range r.Verdicts {
		marker := "PASS"
		switch v.Outcome {
		case OutcomeFailed:
			marker = "FAIL"
		case OutcomeSkipped:
			marker = "SKIP"
		}

		line := fmt.Sprintf("%s  %s/%s", marker, v.Scenario, v.Step)
		if v.Expectation != "" {
			line += ": " + v.Expectation
		}
		if v.Message != "" {
			line += "\n      " + v.Message
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	if r.HarnessError != "" {
		if _, err := fmt.Fprintf(w, "HARNESS ERROR: %s\n", r.HarnessError); err != nil {
			return err
		}
	}

	scenarios := make(map[string]struct{})
	for _, v := range r.Verdicts {
		scenarios[v.Scenario] = struct{}{}
	}

	_, err := fmt.Fprintf(w, "run %s: %d scenarios, %d passed, %d failed, %d skipped (%dms)\n",
		r.RunID, len(scenarios), r.Passed(), r.Failed(), r.Skipped(), r.DurationMS)
	return err
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	bs, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	bs = append(bs, '\n')
	_, err = w.Write(bs)
	return err
}
