// Package jsonpath evaluates dot/bracket paths such as data.list[0].id
// against decoded JSON documents.
package jsonpath

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrPathNotFound is returned when a path does not exist in a document
var ErrPathNotFound = errors.New("path not found")

// Token is one step of a path: an object field or a sequence index
type Token struct {
	Field   string
	Index   int
	IsIndex bool
}

// Parse splits a path into tokens. A leading "$" or "$." is optional.
// Fields are separated by '.', "[n]" indexes a sequence and ['key'] quotes a field.
func Parse(path string) ([]Token, error) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")

	var tokens []Token
	i := 0
	for i < len(p) {
		switch p[i] {
		case '.':
			i++
		case '[':
			i++
			if i >= len(p) {
				return nil, fmt.Errorf("unterminated index in %q", path)
			}
			if p[i] == '\'' || p[i] == '"' {
				quote := p[i]
				i++
				start := i
				for i < len(p) && p[i] != quote {
					i++
				}
				if i+1 >= len(p) || p[i+1] != ']' {
					return nil, fmt.Errorf("unterminated quoted key in %q", path)
				}
				tokens = append(tokens, Token{Field: p[start:i]})
				i += 2
				continue
			}
			start := i
			for i < len(p) && p[i] != ']' {
				i++
			}
			if i >= len(p) {
				return nil, fmt.Errorf("unterminated index in %q", path)
			}
			raw := strings.TrimSpace(p[start:i])
			idx, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid index %q in %q", raw, path)
			}
			tokens = append(tokens, Token{Index: idx, IsIndex: true})
			i++
		default:
			start := i
			for i < len(p) && p[i] != '.' && p[i] != '[' {
				i++
			}
			tokens = append(tokens, Token{Field: p[start:i]})
		}
	}
	return tokens, nil
}

// Lookup resolves path against a decoded document.
// An empty path returns the document itself.
func Lookup(doc interface{}, path string) (interface{}, error) {
	tokens, err := Parse(path)
	if err != nil {
		return nil, err
	}

	current := doc
	for _, tok := range tokens {
		switch node := current.(type) {
		case map[string]interface{}:
			if tok.IsIndex {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
			}
			value, ok := node[tok.Field]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
			}
			current = value
		case []interface{}:
			idx := tok.Index
			if !tok.IsIndex {
				// list.0 is accepted as list[0]
				n, err := strconv.Atoi(tok.Field)
				if err != nil {
					return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
				}
				idx = n
			}
			if idx < 0 {
				idx += len(node)
			}
			if idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
	}
	return current, nil
}

// Decode parses a JSON body keeping numbers exact
func Decode(body string) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// LookupBody decodes body and resolves path in one step
func LookupBody(body, path string) (interface{}, error) {
	doc, err := Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: body is not JSON", ErrPathNotFound)
	}
	return Lookup(doc, path)
}

// maxExactInt is 2^53, the largest magnitude a float64 holds every integer below
const maxExactInt = 1 << 53

// String renders a decoded value: strings verbatim, scalars in JSON notation,
// objects and arrays as compact JSON.
func String(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < maxExactInt {
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprintf("%v", val)
		}
		return strings.TrimRight(buf.String(), "\n")
	}
}

// IsEmpty reports whether a value counts as empty: null, "", [] or {}
func IsEmpty(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	return false
}
