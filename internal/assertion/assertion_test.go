package assertion

import (
	"errors"
	"reflect"
	"testing"

	"github.com/studiowebux/apitest/internal/types"
)

func result(status int, body string) *types.ExecutionResult {
	return &types.ExecutionResult{Status: status, Body: body}
}

func TestEvaluate_NoRulesPasses(t *testing.T) {
	outcomes := Evaluate(nil, result(500, ""), nil)
	if len(outcomes) != 0 {
		t.Fatalf("Expected no outcomes, got: %d", len(outcomes))
	}
	if !Passed(outcomes) {
		t.Errorf("Expected empty rule set to pass")
	}
	if Failure(outcomes) != nil {
		t.Errorf("Expected no failure error for empty outcomes")
	}
}

func TestEvaluate_StatusCode(t *testing.T) {
	tests := []struct {
		expected string
		status   int
		want     bool
	}{
		{"200", 200, true},
		{"201", 200, false},
		{"2xx", 204, true},
		{"2XX", 404, false},
		{"200, 201", 201, true},
		{"4xx,5xx", 503, true},
	}

	for _, tt := range tests {
		rules := []types.AssertionRule{{Kind: types.AssertStatusCode, Expected: tt.expected}}
		outcomes := Evaluate(rules, result(tt.status, ""), nil)
		if outcomes[0].Passed != tt.want {
			t.Errorf("status %d vs %q: expected %v, got: %v (%s)", tt.status, tt.expected, tt.want, outcomes[0].Passed, outcomes[0].Message)
		}
	}
}

func TestEvaluate_JSONPathEquals(t *testing.T) {
	body := `{"data":{"id":42,"name":"widget","tags":["a","b"],"ok":true}}`
	tests := []struct {
		path     string
		expected string
		want     bool
	}{
		{"data.id", "42", true},
		{"data.id", "43", false},
		{"data.name", "widget", true},
		{"data.tags[1]", "b", true},
		{"data.ok", "true", true},
		{"data.missing", "", false},
	}

	for _, tt := range tests {
		rules := []types.AssertionRule{{Kind: types.AssertJSONPath, Path: tt.path, Expected: tt.expected}}
		outcomes := Evaluate(rules, result(200, body), nil)
		if outcomes[0].Passed != tt.want {
			t.Errorf("%s == %q: expected %v, got: %v (%s)", tt.path, tt.expected, tt.want, outcomes[0].Passed, outcomes[0].Message)
		}
	}
}

func TestEvaluate_NonJSONBody(t *testing.T) {
	rules := []types.AssertionRule{
		{Kind: types.AssertJSONPath, Path: "id", Expected: "1"},
		{Kind: types.AssertContains, Expected: "hello"},
	}
	outcomes := Evaluate(rules, result(200, "hello world"), nil)
	if outcomes[0].Passed {
		t.Errorf("Expected path rule to fail on non-JSON body")
	}
	if !outcomes[1].Passed {
		t.Errorf("Expected contains to work on raw body, got: %s", outcomes[1].Message)
	}
}

func TestEvaluate_NotEmptyAndRegex(t *testing.T) {
	body := `{"token":"abc123","empty":"","zero":0,"items":[]}`
	rules := []types.AssertionRule{
		{Kind: types.AssertNotEmpty, Path: "token"},
		{Kind: types.AssertNotEmpty, Path: "empty"},
		{Kind: types.AssertNotEmpty, Path: "items"},
		{Kind: types.AssertRegex, Path: "token", Expected: `^[a-z]+\d+$`},
		{Kind: types.AssertRegex, Expected: `"zero":\s*1`},
		{Kind: types.AssertRegex, Expected: `(`},
	}
	want := []bool{true, false, false, true, false, false}

	outcomes := Evaluate(rules, result(200, body), nil)
	for i, o := range outcomes {
		if o.Passed != want[i] {
			t.Errorf("rule %d (%s): expected %v, got: %v (%s)", i, o.Rule.Kind, want[i], o.Passed, o.Message)
		}
	}
}

func TestEvaluate_RequestFailureFailsAllRules(t *testing.T) {
	res := &types.ExecutionResult{Error: "connection refused", ErrorKind: types.ErrKindNetworkFailure}
	rules := []types.AssertionRule{
		{Kind: types.AssertContains, Expected: ""},
		{Kind: types.AssertStatusCode, Expected: "0"},
	}
	outcomes := Evaluate(rules, res, nil)
	if Passed(outcomes) {
		t.Errorf("Expected assertions to fail when the request failed")
	}
	err := Failure(outcomes)
	if !errors.Is(err, ErrAssertionFailure) {
		t.Errorf("Expected ErrAssertionFailure, got: %v", err)
	}
}

func TestEvaluate_IsPure(t *testing.T) {
	res := result(200, `{"a":1,"b":{"c":[1,2]}}`)
	rules := []types.AssertionRule{
		{Kind: types.AssertStatusCode, Expected: "200"},
		{Kind: types.AssertJSONPath, Path: "b.c[0]", Expected: "1"},
		{Kind: types.AssertDeepDiff, Expected: `{"a":1,"b":{"c":[1,3]}}`},
	}
	before := *res

	first := Evaluate(rules, res, nil)
	second := Evaluate(rules, res, nil)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical outcomes across evaluations")
	}
	if !reflect.DeepEqual(before, *res) {
		t.Errorf("Expected result to be unchanged by evaluation")
	}
}

func TestEvaluate_DeepDiffBaseline(t *testing.T) {
	baseline := result(200, `{"id":1,"name":"a","updatedAt":"yesterday","tags":["x"]}`)
	actual := result(200, `{"id":1,"name":"b","updatedAt":"today","tags":["x","y"],"extra":true}`)

	rules := []types.AssertionRule{{
		Kind:         types.AssertDeepDiff,
		IgnoreFields: []string{"updatedAt"},
	}}
	outcomes, diffs := EvaluateWithDiff(rules, actual, baseline)
	if outcomes[0].Passed {
		t.Fatalf("Expected deep diff to fail")
	}

	kinds := make(map[string]string)
	for _, d := range diffs {
		kinds[d.Path] = d.Kind
	}
	want := map[string]string{
		"name":    types.DiffChanged,
		"tags[1]": types.DiffAdded,
		"extra":   types.DiffAdded,
	}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("Expected diffs %v, got: %v", want, kinds)
	}
}

func TestEvaluate_DeepDiffCheckPathAndNoBaseline(t *testing.T) {
	actual := result(200, `{"meta":{"ts":1},"data":{"id":7,"price":1.0000001}}`)

	rules := []types.AssertionRule{{Kind: types.AssertDeepDiff, Path: "data", Expected: `{"id":7,"price":1.0}`}}
	outcomes := Evaluate(rules, actual, nil)
	if !outcomes[0].Passed {
		t.Errorf("Expected sub-tree to match within tolerance, got: %s", outcomes[0].Message)
	}

	rules = []types.AssertionRule{{Kind: types.AssertDeepDiff}}
	outcomes = Evaluate(rules, actual, nil)
	if outcomes[0].Passed {
		t.Errorf("Expected deep diff without baseline to fail")
	}
}

func TestDiff_TypeChangedAndRemoved(t *testing.T) {
	expected := map[string]interface{}{"a": "1", "b": []interface{}{"x", "y"}}
	actual := map[string]interface{}{"a": float64(1), "b": []interface{}{"x"}}

	diffs := Diff(expected, actual, nil)
	if len(diffs) != 2 {
		t.Fatalf("Expected 2 diffs, got: %+v", diffs)
	}
	if diffs[0].Path != "a" || diffs[0].Kind != types.DiffTypeChanged {
		t.Errorf("Expected type change at a, got: %+v", diffs[0])
	}
	if diffs[1].Path != "b[1]" || diffs[1].Kind != types.DiffRemoved {
		t.Errorf("Expected removal at b[1], got: %+v", diffs[1])
	}
}
