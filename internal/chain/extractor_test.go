package chain

import (
	"testing"

	"github.com/studiowebux/apitest/internal/parser"
	"github.com/studiowebux/apitest/internal/types"
)

func TestExtract_TokenRoundTrip(t *testing.T) {
	scope := parser.NewScope(nil, nil, nil)
	result := &types.ExecutionResult{Status: 200, Body: `{"data":{"token":"abc123"}}`}

	extracted := Extract([]types.ExtractRule{{Name: "token", Path: "data.token"}}, result)
	Apply(scope, extracted)

	if v, ok := scope.Lookup("token"); !ok || v != "abc123" {
		t.Errorf("Expected token=abc123 in runtime scope, got %q (found=%v)", v, ok)
	}
}

func TestExtract_MissingPathIsSilent(t *testing.T) {
	result := &types.ExecutionResult{Status: 200, Body: `{"data":{"id":5,"items":[{"sku":"x"}]}}`}
	rules := []types.ExtractRule{
		{Name: "id", Path: "data.id"},
		{Name: "absent", Path: "data.nothing"},
		{Name: "sku", Path: "data.items[0].sku"},
		{Name: "out_of_range", Path: "data.items[3].sku"},
	}

	extracted := Extract(rules, result)
	if len(extracted) != 2 {
		t.Fatalf("Expected 2 extracted values, got %v", extracted)
	}
	if extracted["id"] != "5" || extracted["sku"] != "x" {
		t.Errorf("Unexpected values: %v", extracted)
	}
	if _, ok := extracted["absent"]; ok {
		t.Errorf("Expected missing path to leave the variable unset")
	}
}

func TestExtract_Query(t *testing.T) {
	result := &types.ExecutionResult{Body: `{"orders":[{"id":"o-1","state":"new"},{"id":"o-2","state":"paid"}]}`}
	extracted := Extract([]types.ExtractRule{{Name: "paid", Query: "orders[?state=='paid'].id | [0]"}}, result)
	if extracted["paid"] != "o-2" {
		t.Errorf("Expected o-2, got %v", extracted)
	}
}

func TestExtract_QueryKeepsLargeIDsIntegral(t *testing.T) {
	result := &types.ExecutionResult{Body: `{"data":{"order_id":1234567,"max":9007199254740991,"big":12345678901234567,"ratio":0.25}}`}
	extracted := Extract([]types.ExtractRule{
		{Name: "order", Query: "data.order_id"},
		{Name: "max", Query: "data.max"},
		{Name: "ratio", Query: "data.ratio"},
		{Name: "big", Path: "data.big"},
	}, result)

	expected := map[string]string{
		"order": "1234567",
		"max":   "9007199254740991",
		"ratio": "0.25",
		"big":   "12345678901234567",
	}
	for name, want := range expected {
		if extracted[name] != want {
			t.Errorf("Expected %s=%s, got: %q", name, want, extracted[name])
		}
	}
}

func TestExtract_SkipsErroredAndNonJSON(t *testing.T) {
	rules := []types.ExtractRule{{Name: "x", Path: "x"}}
	if got := Extract(rules, &types.ExecutionResult{Error: "dial tcp: refused", Body: `{"x":1}`}); got != nil {
		t.Errorf("Expected no extraction from errored result, got %v", got)
	}
	if got := Extract(rules, &types.ExecutionResult{Body: "<html></html>"}); got != nil {
		t.Errorf("Expected no extraction from non-JSON body, got %v", got)
	}
}

func TestExtract_ComplexValuesAsJSON(t *testing.T) {
	result := &types.ExecutionResult{Body: `{"data":{"user":{"id":1,"roles":["a"]}}}`}
	extracted := Extract([]types.ExtractRule{{Name: "user", Path: "data.user"}}, result)
	if extracted["user"] != `{"id":1,"roles":["a"]}` {
		t.Errorf("Expected compact JSON, got %s", extracted["user"])
	}
}
