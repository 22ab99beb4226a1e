package assertion

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/studiowebux/apitest/internal/jsonpath"
	"github.com/studiowebux/apitest/internal/types"
)

// numberTolerance matches comparisons to six significant digits
const numberTolerance = 1e-6

// Diff computes structural differences between a baseline and an actual document.
// Object keys listed in ignore are skipped at any depth. Arrays are compared by index.
func Diff(expected, actual interface{}, ignore []string) []types.DiffEntry {
	ignored := make(map[string]bool, len(ignore))
	for _, f := range ignore {
		ignored[f] = true
	}
	var out []types.DiffEntry
	diffValue("", expected, actual, ignored, &out)
	return out
}

func diffValue(path string, expected, actual interface{}, ignored map[string]bool, out *[]types.DiffEntry) {
	et, at := kindOf(expected), kindOf(actual)
	if et != at {
		*out = append(*out, types.DiffEntry{
			Path:     display(path),
			Kind:     types.DiffTypeChanged,
			Expected: fmt.Sprintf("%s %s", et, jsonpath.String(expected)),
			Actual:   fmt.Sprintf("%s %s", at, jsonpath.String(actual)),
		})
		return
	}

	switch e := expected.(type) {
	case map[string]interface{}:
		a := actual.(map[string]interface{})
		keys := make([]string, 0, len(e)+len(a))
		seen := make(map[string]bool)
		for k := range e {
			keys = append(keys, k)
			seen[k] = true
		}
		for k := range a {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		for _, k := range keys {
			if ignored[k] {
				continue
			}
			child := k
			if path != "" {
				child = path + "." + k
			}
			ev, inE := e[k]
			av, inA := a[k]
			switch {
			case inE && !inA:
				*out = append(*out, types.DiffEntry{Path: child, Kind: types.DiffRemoved, Expected: jsonpath.String(ev)})
			case !inE && inA:
				*out = append(*out, types.DiffEntry{Path: child, Kind: types.DiffAdded, Actual: jsonpath.String(av)})
			default:
				diffValue(child, ev, av, ignored, out)
			}
		}
	case []interface{}:
		a := actual.([]interface{})
		for i := 0; i < len(e) || i < len(a); i++ {
			child := path + "[" + strconv.Itoa(i) + "]"
			switch {
			case i >= len(a):
				*out = append(*out, types.DiffEntry{Path: child, Kind: types.DiffRemoved, Expected: jsonpath.String(e[i])})
			case i >= len(e):
				*out = append(*out, types.DiffEntry{Path: child, Kind: types.DiffAdded, Actual: jsonpath.String(a[i])})
			default:
				diffValue(child, e[i], a[i], ignored, out)
			}
		}
	default:
		if !scalarEqual(expected, actual) {
			*out = append(*out, types.DiffEntry{
				Path:     display(path),
				Kind:     types.DiffChanged,
				Expected: jsonpath.String(expected),
				Actual:   jsonpath.String(actual),
			})
		}
	}
}

func scalarEqual(expected, actual interface{}) bool {
	en, eok := toFloat(expected)
	an, aok := toFloat(actual)
	if eok && aok {
		if en == an {
			return true
		}
		scale := math.Max(math.Abs(en), math.Abs(an))
		return math.Abs(en-an) <= numberTolerance*scale
	}
	return jsonpath.String(expected) == jsonpath.String(actual)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	}
	return 0, false
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func display(path string) string {
	if path == "" {
		return "$"
	}
	return path
}
