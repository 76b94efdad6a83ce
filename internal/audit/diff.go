// diff.go computes hierarchical differences between two object states and applies
// recorded differences forwards or backwards. Paths are JSON Pointers (RFC 6901).
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/openregister/openregister/internal/db/models"
)

// Diff returns the changed leaf paths between before and after. Objects are
// compared key by key and arrays of equal length index by index; anything
// else that differs is recorded whole at its path. A nil map is an empty state.
func Diff(before, after map[string]any) models.Changes {
	out := make(models.Changes)
	diffMaps("", before, after, out)
	return out
}

func diffMaps(path string, a, b map[string]any, out models.Changes) {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	for k := range keys {
		av, aok := a[k]
		bv, bok := b[k]
		diffValue(path+"/"+escape(k), av, aok, bv, bok, out)
	}
}

func diffValue(path string, a any, aok bool, b any, bok bool, out models.Changes) {
	if aok && bok {
		am, aIsMap := a.(map[string]any)
		bm, bIsMap := b.(map[string]any)
		if aIsMap && bIsMap {
			diffMaps(path, am, bm, out)
			return
		}
		as, aIsSlice := a.([]any)
		bs, bIsSlice := b.([]any)
		if aIsSlice && bIsSlice && len(as) == len(bs) {
			for i := range as {
				diffValue(path+"/"+strconv.Itoa(i), as[i], true, bs[i], true, out)
			}
			return
		}
		if equalJSON(a, b) {
			return
		}
	}
	if !aok && !bok {
		return
	}

	var c models.Change
	if aok {
		c.Old = mustMarshal(a)
	}
	if bok {
		c.New = mustMarshal(b)
	}
	out[path] = c
}

// ApplyForward replays changes onto state, producing the post-image
func ApplyForward(state map[string]any, changes models.Changes) (map[string]any, error) {
	return apply(state, changes, false)
}

// ApplyInverse undoes changes on state, producing the pre-image
func ApplyInverse(state map[string]any, changes models.Changes) (map[string]any, error) {
	return apply(state, changes, true)
}

func apply(state map[string]any, changes models.Changes, inverse bool) (map[string]any, error) {
	out := deepCopy(state)
	if out == nil {
		out = make(map[string]any)
	}

	paths := make([]string, 0, len(changes))
	for p := range changes {
		paths = append(paths, p)
	}
	// deepest first, then lexical, so application order is deterministic
	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) > len(paths[j])
		}
		return paths[i] < paths[j]
	})

	for _, p := range paths {
		c := changes[p]
		raw := c.New
		if inverse {
			raw = c.Old
		}
		segments := splitPointer(p)
		if len(segments) == 0 {
			return nil, fmt.Errorf("invalid change path %q", p)
		}
		if len(raw) == 0 {
			if err := removePath(out, segments); err != nil {
				return nil, fmt.Errorf("failed to remove %s: %w", p, err)
			}
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("failed to decode value at %s: %w", p, err)
		}
		if err := setPath(out, segments, value); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", p, err)
		}
	}
	return out, nil
}

func setPath(root map[string]any, segments []string, value any) error {
	var container any = root
	for i, seg := range segments[:len(segments)-1] {
		next, err := child(container, seg)
		if err != nil {
			return err
		}
		if next == nil {
			created := make(map[string]any)
			if err := assign(container, seg, created); err != nil {
				return err
			}
			next = created
		}
		if _, ok := next.(map[string]any); !ok {
			if _, ok := next.([]any); !ok {
				return fmt.Errorf("segment %d (%s) is not a container", i, seg)
			}
		}
		container = next
	}
	return assign(container, segments[len(segments)-1], value)
}

func removePath(root map[string]any, segments []string) error {
	var container any = root
	for _, seg := range segments[:len(segments)-1] {
		next, err := child(container, seg)
		if err != nil || next == nil {
			// already absent
			return nil
		}
		container = next
	}
	last := segments[len(segments)-1]
	switch c := container.(type) {
	case map[string]any:
		delete(c, last)
	case []any:
		return fmt.Errorf("cannot remove array element %s", last)
	}
	return nil
}

func child(container any, seg string) (any, error) {
	switch c := container.(type) {
	case map[string]any:
		return c[seg], nil
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return nil, fmt.Errorf("array index %q out of range", seg)
		}
		return c[i], nil
	}
	return nil, fmt.Errorf("cannot descend into %T", container)
}

func assign(container any, seg string, value any) error {
	switch c := container.(type) {
	case map[string]any:
		c[seg] = value
		return nil
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return fmt.Errorf("array index %q out of range", seg)
		}
		c[i] = value
		return nil
	}
	return fmt.Errorf("cannot assign into %T", container)
}

func splitPointer(p string) []string {
	if !strings.HasPrefix(p, "/") {
		return nil
	}
	parts := strings.Split(p[1:], "/")
	for i, part := range parts {
		parts[i] = unescape(part)
	}
	return parts
}

func escape(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}

func unescape(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~1", "/"), "~0", "~")
}

func equalJSON(a, b any) bool {
	return bytes.Equal(mustMarshal(a), mustMarshal(b))
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// values originate from decoded JSON, so this only trips on programmer error
		panic(fmt.Sprintf("audit: value is not JSON encodable: %v", err))
	}
	return data
}

// deepCopy clones a decoded JSON object
func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = copyValue(e)
		}
		return s
	}
	return v
}
