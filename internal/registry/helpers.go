package registry

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/openregister/openregister/internal/objects"
	"github.com/openregister/openregister/internal/validation"
)

// dedupe drops blanks and repeats, keeping first-seen order
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// sameSet reports whether a and b hold the same values, ignoring order
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// jsonEqual compares two decoded JSON values by their canonical encoding, so
// that an int and the float64 read back from the store compare equal
func jsonEqual(a, b any) bool {
	x, err := json.Marshal(a)
	if err != nil {
		return false
	}
	y, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(x, y)
}

// rewriteRefs clones a decoded JSON value, applying fn to every "$ref" string
func rewriteRefs(v any, fn func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if k == "$ref" {
				if ref, ok := val.(string); ok {
					out[k] = fn(ref)
					continue
				}
			}
			out[k] = rewriteRefs(val, fn)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = rewriteRefs(val, fn)
		}
		return out
	default:
		return v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func validationError(problems []validation.FieldError) error {
	return &objects.ValidationError{Errors: problems}
}
