package conform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ExpectationKind names the check an Expectation performs. The string values
// double as the spelling used in YAML suites.
type ExpectationKind string

const (
	// CheckSuccess passes when the response carries a result and no error.
	// Fields, when set, must additionally resolve inside the result.
	CheckSuccess ExpectationKind = "success"
	// CheckErrorSubstring passes when the response carries an error whose
	// message contains Substring, compared case-insensitively.
	CheckErrorSubstring ExpectationKind = "error_contains"
	// CheckErrorCode passes when the response carries an error with exactly
	// the code in Code.
	CheckErrorCode ExpectationKind = "error_code"
	// CheckFieldPresent passes when Field resolves to a non-null value
	// inside the result.
	CheckFieldPresent ExpectationKind = "field_present"
	// CheckFieldNonNegative passes when Field resolves to a number >= 0.
	CheckFieldNonNegative ExpectationKind = "field_non_negative"
	// CheckResultEquals passes when the whole result, canonicalized, equals
	// Value. Mismatches are reported as a patch between the two documents.
	CheckResultEquals ExpectationKind = "result_equals"
)

// Expectation is one check applied to a response. A step may carry several;
// each produces its own verdict.
//
// Field paths are dot-separated and may index arrays, so "tools.0.name"
// reaches into the first listed tool and "files.0" asserts a listing is
// non-empty.
type Expectation struct {
	Kind ExpectationKind `yaml:"kind"`

	Fields    []string `yaml:"fields,omitempty"`
	Field     string   `yaml:"field,omitempty"`
	Substring string   `yaml:"substring,omitempty"`
	Code      int      `yaml:"code,omitempty"`
	Value     any      `yaml:"value,omitempty"`
}

// Success builds a CheckSuccess expectation requiring the given result
// fields.
func Success(fields ...string) Expectation {
	return Expectation{Kind: CheckSuccess, Fields: fields}
}

// ErrorContains builds a CheckErrorSubstring expectation.
func ErrorContains(substring string) Expectation {
	return Expectation{Kind: CheckErrorSubstring, Substring: substring}
}

// ErrorCode builds a CheckErrorCode expectation.
func ErrorCode(code int) Expectation {
	return Expectation{Kind: CheckErrorCode, Code: code}
}

// FieldPresent builds a CheckFieldPresent expectation.
func FieldPresent(field string) Expectation {
	return Expectation{Kind: CheckFieldPresent, Field: field}
}

// FieldNonNegative builds a CheckFieldNonNegative expectation.
func FieldNonNegative(field string) Expectation {
	return Expectation{Kind: CheckFieldNonNegative, Field: field}
}

// ResultEquals builds a CheckResultEquals expectation.
func ResultEquals(value any) Expectation {
	return Expectation{Kind: CheckResultEquals, Value: value}
}

// Describe renders the expectation for verdict messages.
func (e Expectation) Describe() string {
	switch e.Kind {
	case CheckSuccess:
		if len(e.Fields) > 0 {
			return fmt.Sprintf("success with %s", strings.Join(e.Fields, ", "))
		}
		return "success"
	case CheckErrorSubstring:
		return fmt.Sprintf("error containing %q", e.Substring)
	case CheckErrorCode:
		return fmt.Sprintf("error code %d", e.Code)
	case CheckFieldPresent:
		return fmt.Sprintf("field %s present", e.Field)
	case CheckFieldNonNegative:
		return fmt.Sprintf("field %s non-negative", e.Field)
	case CheckResultEquals:
		return "result equals expected"
	default:
		return fmt.Sprintf("unknown expectation %q", e.Kind)
	}
}

// Check applies the expectation to a decoded response. A nil return is a
// pass; otherwise the error text is the failure message for the verdict.
func (e Expectation) Check(resp Response) error {
	switch e.Kind {
	case CheckSuccess:
		if resp.Error != nil {
			return fmt.Errorf("want success, got error: %s", resp.Error)
		}
		for _, field := range e.Fields {
			if _, err := lookupField(resp.Result, field); err != nil {
				return err
			}
		}
		return nil

	case CheckErrorSubstring:
		if resp.Error == nil {
			return fmt.Errorf("want error containing %q, got success", e.Substring)
		}
		if !strings.Contains(strings.ToLower(resp.Error.Message), strings.ToLower(e.Substring)) {
			return fmt.Errorf("error message %q does not contain %q", resp.Error.Message, e.Substring)
		}
		return nil

	case CheckErrorCode:
		if resp.Error == nil {
			return fmt.Errorf("want error code %d, got success", e.Code)
		}
		if resp.Error.Code != e.Code {
			return fmt.Errorf("error code = %d, want %d", resp.Error.Code, e.Code)
		}
		return nil

	case CheckFieldPresent:
		if resp.Error != nil {
			return fmt.Errorf("want field %s, got error: %s", e.Field, resp.Error)
		}
		_, err := lookupField(resp.Result, e.Field)
		return err

	case CheckFieldNonNegative:
		if resp.Error != nil {
			return fmt.Errorf("want field %s, got error: %s", e.Field, resp.Error)
		}
		value, err := lookupField(resp.Result, e.Field)
		if err != nil {
			return err
		}
		num, ok := value.(float64)
		if !ok {
			return fmt.Errorf("field %s = %v, want a number", e.Field, value)
		}
		if num < 0 {
			return fmt.Errorf("field %s = %v, want >= 0", e.Field, num)
		}
		return nil

	case CheckResultEquals:
		if resp.Error != nil {
			return fmt.Errorf("want result, got error: %s", resp.Error)
		}
		return compareResult(resp.Result, e.Value)

	default:
		return fmt.Errorf("unknown expectation kind %q", e.Kind)
	}
}

// lookupField walks a dot-separated path through the result document. Null
// values count as absent, matching how the decoder treats null members.
func lookupField(result json.RawMessage, path string) (any, error) {
	var doc any
	if err := json.Unmarshal(result, &doc); err != nil {
		return nil, fmt.Errorf("result is not a JSON document: %v", err)
	}

	current := doc
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, fmt.Errorf("field %s not present in result", path)
			}
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil {
				return nil, fmt.Errorf("field %s indexes an array with %q", path, segment)
			}
			if index < 0 || index >= len(node) {
				return nil, fmt.Errorf("field %s index %d out of range (len %d)", path, index, len(node))
			}
			current = node[index]
		default:
			return nil, fmt.Errorf("field %s not present in result", path)
		}
	}

	if current == nil {
		return nil, fmt.Errorf("field %s is null", path)
	}
	return current, nil
}

func compareResult(result json.RawMessage, want any) error {
	var got any
	if err := json.Unmarshal(result, &got); err != nil {
		return fmt.Errorf("result is not a JSON document: %v", err)
	}

	gotText, err := canonicalJSON(got)
	if err != nil {
		return err
	}
	wantText, err := canonicalJSON(want)
	if err != nil {
		return err
	}

	if gotText == wantText {
		return nil
	}

	return fmt.Errorf("result differs from expected:\n%s", resultDiff(wantText, gotText))
}

// canonicalJSON renders a document with sorted keys and stable indentation
// so equal documents compare equal as text and unequal ones diff line by
// line.
func canonicalJSON(doc any) (string, error) {
	bs, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %v", err)
	}
	return string(bs), nil
}

func resultDiff(want, got string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(want, got, false)
	patches := dmp.PatchMake(want, diffs)

	var sb strings.Builder
	sb.WriteString("--- expected\n")
	sb.WriteString("+++ actual\n")
	sb.WriteString(dmp.PatchToText(patches))
	return sb.String()
}
