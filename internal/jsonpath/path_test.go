package jsonpath

import (
	"errors"
	"testing"
)

const sampleBody = `{
	"code": 0,
	"data": {
		"token": "abc123",
		"total": 12345678901,
		"list": [{"id": 7, "tags": ["a", "b"]}, {"id": 8, "tags": []}],
		"meta": {"empty": {}, "flag": true, "none": null}
	}
}`

func TestLookupBody(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"data.token", "abc123"},
		{"$.data.token", "abc123"},
		{"data.list[0].id", "7"},
		{"data.list[1].id", "8"},
		{"data.list.0.id", "7"},
		{"data.list[-1].id", "8"},
		{"data.list[0].tags[1]", "b"},
		{"data['token']", "abc123"},
		{"data.total", "12345678901"},
		{"data.meta.flag", "true"},
		{"data.meta.none", "null"},
		{"data.list[0].tags", `["a","b"]`},
		{"code", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			value, err := LookupBody(sampleBody, tt.path)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if got := String(value); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestLookupBody_Missing(t *testing.T) {
	paths := []string{
		"data.missing",
		"data.list[5].id",
		"data.token.deeper",
		"data[0]",
		"data.list.x",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			_, err := LookupBody(sampleBody, path)
			if !errors.Is(err, ErrPathNotFound) {
				t.Errorf("Expected ErrPathNotFound, got: %v", err)
			}
		})
	}
}

func TestLookupBody_NotJSON(t *testing.T) {
	_, err := LookupBody("plain text", "data")
	if !errors.Is(err, ErrPathNotFound) {
		t.Errorf("Expected ErrPathNotFound for non-JSON body, got: %v", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, path := range []string{"data[", "data[abc]", "data['key"} {
		if _, err := Parse(path); err == nil {
			t.Errorf("Expected parse error for %q", path)
		}
	}
}

func TestLookup_EmptyPathReturnsDocument(t *testing.T) {
	doc, _ := Decode(`{"a":1}`)
	got, err := Lookup(doc, "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if String(got) != `{"a":1}` {
		t.Errorf("Expected whole document, got %s", String(got))
	}
}

func TestIsEmpty(t *testing.T) {
	doc, _ := Decode(sampleBody)
	cases := map[string]bool{
		"data.meta.empty":   true,
		"data.meta.none":    true,
		"data.list[1].tags": true,
		"data.list[0].tags": false,
		"data.token":        false,
		"code":              false,
	}
	for path, want := range cases {
		v, err := Lookup(doc, path)
		if err != nil {
			t.Fatalf("lookup %s: %v", path, err)
		}
		if IsEmpty(v) != want {
			t.Errorf("IsEmpty(%s) = %v, want %v", path, !want, want)
		}
	}
}
