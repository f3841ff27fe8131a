package conform

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Suite YAML lets a target's own repository carry conformance scenarios
// beyond the built-in set. The format mirrors the Scenario/Step model:
//
//	scenarios:
//	  - name: custom session flow
//	    steps:
//	      - name: create session
//	        method: session/create
//	        params: {client_name: demo, client_version: "1.0.0"}
//	        save: {session_id: session_id}
//	      - name: session info
//	        method: session/info
//	        needs: [session_id]
//	        params: {session_id: $session_id}
//	        expect:
//	          - kind: success
//	            fields: [session_id]
//	        timeout: 5s
//
// A step carries either method (with optional params) or raw, a verbatim
// line for probe steps. Params values of the form "$key" substitute state
// saved by earlier steps.
type suiteFile struct {
	Scenarios []suiteScenario `yaml:"scenarios"`
}

type suiteScenario struct {
	Name  string      `yaml:"name"`
	Steps []suiteStep `yaml:"steps"`
}

type suiteStep struct {
	Name    string            `yaml:"name"`
	Method  string            `yaml:"method"`
	Params  map[string]any    `yaml:"params"`
	Raw     string            `yaml:"raw"`
	Needs   []string          `yaml:"needs"`
	Save    map[string]string `yaml:"save"`
	Expect  []Expectation     `yaml:"expect"`
	Timeout string            `yaml:"timeout"`
}

// LoadSuiteFile reads a scenario suite from a YAML file.
func LoadSuiteFile(path string) ([]Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open suite: %w", err)
	}
	defer f.Close()

	scenarios, err := LoadSuite(f)
	if err != nil {
		return nil, fmt.Errorf("suite %s: %w", path, err)
	}
	return scenarios, nil
}

// LoadSuite parses a scenario suite from YAML. Unknown keys and unknown
// expectation kinds are load errors, so typos fail the run before the
// target is ever launched.
func LoadSuite(r io.Reader) ([]Scenario, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file suiteFile
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse suite: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, errors.New("suite declares no scenarios")
	}

	seen := make(map[string]struct{}, len(file.Scenarios))
	scenarios := make([]Scenario, 0, len(file.Scenarios))
	for i, sc := range file.Scenarios {
		if sc.Name == "" {
			return nil, fmt.Errorf("scenario %d has no name", i)
		}
		if _, ok := seen[sc.Name]; ok {
			return nil, fmt.Errorf("duplicate scenario name %q", sc.Name)
		}
		seen[sc.Name] = struct{}{}

		steps, err := buildSteps(sc)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		scenarios = append(scenarios, Scenario{Name: sc.Name, Steps: steps})
	}

	return scenarios, nil
}

func buildSteps(sc suiteScenario) ([]Step, error) {
	if len(sc.Steps) == 0 {
		return nil, errors.New("no steps")
	}

	steps := make([]Step, 0, len(sc.Steps))
	for i, ss := range sc.Steps {
		step, err := buildStep(ss)
		if err != nil {
			name := ss.Name
			if name == "" {
				name = fmt.Sprintf("step %d", i)
			}
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func buildStep(ss suiteStep) (Step, error) {
	if (ss.Method == "") == (ss.Raw == "") {
		return Step{}, errors.New("exactly one of method or raw is required")
	}

	for _, exp := range ss.Expect {
		if err := validateKind(exp.Kind); err != nil {
			return Step{}, err
		}
	}

	step := Step{
		Name:   ss.Name,
		Method: ss.Method,
		Needs:  ss.Needs,
		Save:   ss.Save,
		Expect: ss.Expect,
	}

	if ss.Raw != "" {
		step.Raw = []byte(ss.Raw)
	}
	if ss.Params != nil {
		step.Params = TemplateParams(ss.Params)
	}
	if ss.Timeout != "" {
		d, err := time.ParseDuration(ss.Timeout)
		if err != nil {
			return Step{}, fmt.Errorf("invalid timeout: %w", err)
		}
		step.Timeout = d
	}

	return step, nil
}

func validateKind(kind ExpectationKind) error {
	switch kind {
	case CheckSuccess, CheckErrorSubstring, CheckErrorCode,
		CheckFieldPresent, CheckFieldNonNegative, CheckResultEquals:
		return nil
	default:
		return fmt.Errorf("unknown expectation kind %q", kind)
	}
}
