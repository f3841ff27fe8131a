package conform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Runner executes scenarios against a target and aggregates verdicts. Every
// scenario runs over a fresh transport from the factory, so a target that
// wedges or desyncs in one scenario cannot poison the next.
type Runner struct {
	factory     func() Transport
	stepTimeout time.Duration
	logger      *slog.Logger
}

// RunnerOption is a function that configures a Runner.
type RunnerOption func(*Runner)

// WithStepTimeout sets the default per-step deadline. Steps may override it
// individually.
func WithStepTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.stepTimeout = d
	}
}

// WithRunnerLogger sets the logger for the runner.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner. The factory is invoked once per scenario.
func NewRunner(factory func() Transport, options ...RunnerOption) *Runner {
	r := &Runner{
		factory:     factory,
		stepTimeout: 10 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Run executes the scenarios in order and returns the aggregated report.
// The run keeps going past nonconforming targets; it stops early only when
// the target cannot be launched at all or ctx is canceled, both of which
// mark the report with a harness error.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) *Report {
	report := NewReport()
	r.logger.Info("run started",
		slog.String("runID", report.RunID),
		slog.Int("scenarios", len(scenarios)))

	for i, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			report.SetHarnessError(fmt.Sprintf("run canceled: %v", err))
			for _, rest := range scenarios[i:] {
				r.skipScenario(report, rest, "run canceled")
			}
			break
		}

		if !r.runScenario(ctx, sc, report) {
			for _, rest := range scenarios[i+1:] {
				r.skipScenario(report, rest, "target could not be launched")
			}
			break
		}
	}

	report.Finish()
	r.logger.Info("run finished",
		slog.String("runID", report.RunID),
		slog.Int("passed", report.Passed()),
		slog.Int("failed", report.Failed()),
		slog.Int("skipped", report.Skipped()))

	return report
}

// runScenario reports whether the run may continue with the next scenario.
func (r *Runner) runScenario(ctx context.Context, sc Scenario, report *Report) bool {
	r.logger.Debug("scenario started", slog.String("scenario", sc.Name))

	transport := r.factory()
	if err := transport.Start(ctx); err != nil {
		report.SetHarnessError(fmt.Sprintf("scenario %s: %v", sc.Name, err))
		r.skipScenario(report, sc, "target could not be launched")
		return false
	}

	// Shutdown runs on its own context: the target must be released even
	// when the run context is already done.
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := transport.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("failed to shut down target", slog.String("err", err.Error()))
		}
	}()

	conv := NewConversation(transport, WithConversationLogger(r.logger))
	state := NewState()

	aborted := ""
	for _, step := range sc.Steps {
		name := stepName(step)

		if aborted != "" {
			report.Add(Verdict{
				Scenario: sc.Name,
				Step:     name,
				Outcome:  OutcomeSkipped,
				Message:  "scenario aborted: " + aborted,
			})
			continue
		}

		if missing, ok := unmetNeed(step, state); !ok {
			report.Add(Verdict{
				Scenario: sc.Name,
				Step:     name,
				Outcome:  OutcomeSkipped,
				Message:  fmt.Sprintf("dependency not satisfied: state key %s was never saved", missing),
			})
			continue
		}

		resp, err := r.exchange(ctx, conv, state, step)
		if err != nil {
			msg := err.Error()
			fatal := IsFatal(err)
			if fatal || errors.Is(err, ErrTimeout) {
				aborted = fmt.Sprintf("step %s: %v", name, err)
				if diag := transport.Diagnostics(); diag != "" {
					msg += "\nstderr: " + diag
				}
			}
			// Desyncs flip the run into exit code 2; a timeout stays an
			// ordinary step failure.
			if fatal {
				report.SetHarnessError(fmt.Sprintf("scenario %s, step %s: %v", sc.Name, name, err))
			}
			report.Add(Verdict{
				Scenario: sc.Name,
				Step:     name,
				Outcome:  OutcomeFailed,
				Message:  msg,
			})
			continue
		}

		expectations := step.Expect
		if len(expectations) == 0 {
			expectations = []Expectation{Success()}
		}

		stepPassed := true
		for _, exp := range expectations {
			verdict := Verdict{
				Scenario:    sc.Name,
				Step:        name,
				Expectation: exp.Describe(),
				Outcome:     OutcomePassed,
			}
			if err := exp.Check(resp); err != nil {
				verdict.Outcome = OutcomeFailed
				verdict.Message = err.Error() + "\nresponse: " + responseText(resp)
				stepPassed = false
			}
			report.Add(verdict)
		}

		if !stepPassed || len(step.Save) == 0 {
			continue
		}
		for key, path := range step.Save {
			value, err := lookupField(resp.Result, path)
			if err != nil {
				report.Add(Verdict{
					Scenario:    sc.Name,
					Step:        name,
					Expectation: fmt.Sprintf("save %s", key),
					Outcome:     OutcomeFailed,
					Message:     err.Error(),
				})
				continue
			}
			state.Set(key, value)
		}
	}

	return true
}

func (r *Runner) exchange(ctx context.Context, conv *Conversation, state *State, step Step) (Response, error) {
	timeout := r.stepTimeout
	if step.Timeout > 0 {
		timeout = step.Timeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if step.Raw != nil {
		return conv.CallRaw(stepCtx, step.Raw)
	}

	var params any
	if step.Params != nil {
		var err error
		params, err = step.Params(state)
		if err != nil {
			return Response{}, fmt.Errorf("build params: %w", err)
		}
	}

	return conv.Call(stepCtx, step.Method, params)
}

func (r *Runner) skipScenario(report *Report, sc Scenario, msg string) {
	for _, step := range sc.Steps {
		report.Add(Verdict{
			Scenario: sc.Name,
			Step:     stepName(step),
			Outcome:  OutcomeSkipped,
			Message:  msg,
		})
	}
}

// responseText renders the response payload quoted in failed verdicts.
func responseText(resp Response) string {
	if resp.Error != nil {
		bs, err := json.Marshal(resp.Error)
		if err != nil {
			return resp.Error.Error()
		}
		return string(bs)
	}
	if len(resp.Result) == 0 {
		return "(empty)"
	}
	return diagLine(resp.Result)
}

func stepName(step Step) string {
	switch {
	case step.Name != "":
		return step.Name
	case step.Method != "":
		return step.Method
	default:
		return "raw"
	}
}

func unmetNeed(step Step, state *State) (string, bool) {
	for _, key := range step.Needs {
		if !state.Has(key) {
			return key, false
		}
	}
	return "", true
}
