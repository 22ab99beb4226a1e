// Package assertion evaluates assertion rules against call results.
//
// Evaluation is pure: rules and results are only read, so evaluating the
// same rule set against the same result always yields the same outcomes.
package assertion

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/studiowebux/apitest/internal/jsonpath"
	"github.com/studiowebux/apitest/internal/types"
)

// ErrAssertionFailure marks a result whose assertions did not all hold
var ErrAssertionFailure = errors.New("assertion failure")

// Evaluate returns one outcome per rule
func Evaluate(rules []types.AssertionRule, result *types.ExecutionResult, baseline *types.ExecutionResult) []types.AssertionOutcome {
	outcomes, _ := EvaluateWithDiff(rules, result, baseline)
	return outcomes
}

// EvaluateWithDiff also returns the structural differences found by
// deep-diff-baseline rules, for display next to the outcomes
func EvaluateWithDiff(rules []types.AssertionRule, result *types.ExecutionResult, baseline *types.ExecutionResult) ([]types.AssertionOutcome, []types.DiffEntry) {
	if len(rules) == 0 {
		return nil, nil
	}

	outcomes := make([]types.AssertionOutcome, 0, len(rules))
	var diffs []types.DiffEntry

	// The body is decoded lazily and shared by all path rules
	var doc interface{}
	var docErr error
	decoded := false
	body := func() (interface{}, error) {
		if !decoded {
			doc, docErr = jsonpath.Decode(result.Body)
			decoded = true
		}
		return doc, docErr
	}

	for _, rule := range rules {
		if result.Error != "" {
			outcomes = append(outcomes, types.AssertionOutcome{
				Rule:    rule,
				Message: fmt.Sprintf("not evaluated: request failed: %s", result.Error),
			})
			continue
		}

		var outcome types.AssertionOutcome
		switch rule.Kind {
		case types.AssertStatusCode:
			outcome = statusCode(rule, result.Status)
		case types.AssertJSONPath:
			outcome = jsonPathEquals(rule, body)
		case types.AssertContains:
			outcome = contains(rule, result.Body, body)
		case types.AssertNotEmpty:
			outcome = notEmpty(rule, result.Body, body)
		case types.AssertRegex:
			outcome = matchRegex(rule, result.Body, body)
		case types.AssertDeepDiff:
			var d []types.DiffEntry
			outcome, d = deepDiff(rule, body, baseline)
			diffs = append(diffs, d...)
		default:
			outcome = types.AssertionOutcome{Message: fmt.Sprintf("unknown assertion kind %q", rule.Kind)}
		}
		outcome.Rule = rule
		outcomes = append(outcomes, outcome)
	}

	return outcomes, diffs
}

// Passed is the AND of all outcomes; no outcomes means pass
func Passed(outcomes []types.AssertionOutcome) bool {
	for _, o := range outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// Failure returns an ErrAssertionFailure describing failed outcomes, or nil
func Failure(outcomes []types.AssertionOutcome) error {
	failed := 0
	for _, o := range outcomes {
		if !o.Passed {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d rules failed", ErrAssertionFailure, failed, len(outcomes))
}

// statusCode accepts "200", "2xx" or a comma-separated list of either
func statusCode(rule types.AssertionRule, status int) types.AssertionOutcome {
	actual := strconv.Itoa(status)
	for _, raw := range strings.Split(rule.Expected, ",") {
		expected := strings.TrimSpace(raw)
		if expected == "" {
			continue
		}
		if len(expected) == 3 && strings.HasSuffix(strings.ToLower(expected), "xx") {
			if actual[0] == expected[0] {
				return pass(actual, "status %s matches %s", actual, expected)
			}
			continue
		}
		if expected == actual {
			return pass(actual, "status %s == %s", actual, expected)
		}
	}
	return fail(actual, "status %s != %s", actual, rule.Expected)
}

func jsonPathEquals(rule types.AssertionRule, body func() (interface{}, error)) types.AssertionOutcome {
	value, err := lookup(rule.Path, body)
	if err != nil {
		return fail("", "%v", err)
	}
	actual := jsonpath.String(value)
	if actual == rule.Expected {
		return pass(actual, "%s = %s", rule.Path, actual)
	}
	return fail(actual, "%s = %s, expected %s", rule.Path, actual, rule.Expected)
}

func contains(rule types.AssertionRule, raw string, body func() (interface{}, error)) types.AssertionOutcome {
	haystack := raw
	if rule.Path != "" {
		value, err := lookup(rule.Path, body)
		if err != nil {
			return fail("", "%v", err)
		}
		haystack = jsonpath.String(value)
	}
	if strings.Contains(haystack, rule.Expected) {
		return pass("", "body contains %q", rule.Expected)
	}
	return fail("", "body does not contain %q", rule.Expected)
}

func notEmpty(rule types.AssertionRule, raw string, body func() (interface{}, error)) types.AssertionOutcome {
	if rule.Path == "" {
		if strings.TrimSpace(raw) != "" {
			return pass("", "body is not empty")
		}
		return fail("", "body is empty")
	}
	value, err := lookup(rule.Path, body)
	if err != nil {
		return fail("", "%v", err)
	}
	actual := jsonpath.String(value)
	if jsonpath.IsEmpty(value) {
		return fail(actual, "%s is empty", rule.Path)
	}
	return pass(actual, "%s is not empty", rule.Path)
}

func matchRegex(rule types.AssertionRule, raw string, body func() (interface{}, error)) types.AssertionOutcome {
	re, err := regexp.Compile(rule.Expected)
	if err != nil {
		return fail("", "invalid pattern /%s/: %v", rule.Expected, err)
	}
	subject := raw
	if rule.Path != "" {
		value, err := lookup(rule.Path, body)
		if err != nil {
			return fail("", "%v", err)
		}
		subject = jsonpath.String(value)
	}
	if re.MatchString(subject) {
		return pass(subject, "matches /%s/", rule.Expected)
	}
	return fail(subject, "does not match /%s/", rule.Expected)
}

// deepDiff compares against the rule's own Expected document when set,
// otherwise against the recorded baseline result
func deepDiff(rule types.AssertionRule, body func() (interface{}, error), baseline *types.ExecutionResult) (types.AssertionOutcome, []types.DiffEntry) {
	var expected interface{}
	switch {
	case strings.TrimSpace(rule.Expected) != "":
		doc, err := jsonpath.Decode(rule.Expected)
		if err != nil {
			return fail("", "expected value is not JSON: %v", err), nil
		}
		expected = doc
	case baseline != nil:
		doc, err := jsonpath.Decode(baseline.Body)
		if err != nil {
			return fail("", "baseline body is not JSON"), nil
		}
		if rule.Path != "" {
			if doc, err = jsonpath.Lookup(doc, rule.Path); err != nil {
				return fail("", "baseline: %v", err), nil
			}
		}
		expected = doc
	default:
		return fail("", "no baseline available"), nil
	}

	actual, err := lookup(rule.Path, body)
	if err != nil {
		return fail("", "%v", err), nil
	}

	diffs := Diff(expected, actual, rule.IgnoreFields)
	if len(diffs) == 0 {
		return pass("", "no differences from baseline"), nil
	}
	return fail("", "%d difference(s) from baseline", len(diffs)), diffs
}

func lookup(path string, body func() (interface{}, error)) (interface{}, error) {
	doc, err := body()
	if err != nil {
		return nil, fmt.Errorf("%w: body is not JSON", jsonpath.ErrPathNotFound)
	}
	return jsonpath.Lookup(doc, path)
}

func pass(actual, format string, args ...interface{}) types.AssertionOutcome {
	return types.AssertionOutcome{Passed: true, Actual: actual, Message: fmt.Sprintf(format, args...)}
}

func fail(actual, format string, args ...interface{}) types.AssertionOutcome {
	return types.AssertionOutcome{Passed: false, Actual: actual, Message: fmt.Sprintf(format, args...)}
}
