package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openregister/openregister/internal/db/models"
)

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestDiff_LeafPaths(t *testing.T) {
	before := map[string]any{
		"name":    "Ada",
		"age":     float64(36),
		"address": map[string]any{"city": "London", "zip": "N1"},
		"tags":    []any{"a", "b"},
	}
	after := map[string]any{
		"name":    "Ada",
		"age":     float64(37),
		"address": map[string]any{"city": "Paris", "zip": "N1"},
		"tags":    []any{"a", "c"},
		"email":   "ada@example.com",
	}

	changes := Diff(before, after)
	assert.Equal(t, models.Changes{
		"/age":          {Old: raw("36"), New: raw("37")},
		"/address/city": {Old: raw(`"London"`), New: raw(`"Paris"`)},
		"/tags/1":       {Old: raw(`"b"`), New: raw(`"c"`)},
		"/email":        {New: raw(`"ada@example.com"`)},
	}, changes)
}

func TestDiff_IdenticalIsEmpty(t *testing.T) {
	state := map[string]any{"a": map[string]any{"b": []any{float64(1), nil}}}
	assert.Empty(t, Diff(state, deepCopy(state)))
}

func TestDiff_NullIsNotAbsent(t *testing.T) {
	changes := Diff(map[string]any{"x": nil}, map[string]any{})
	require.Contains(t, changes, "/x")
	assert.Equal(t, raw("null"), changes["/x"].Old)
	assert.Empty(t, changes["/x"].New)
}

func TestDiff_ArrayLengthChangeRecordedWhole(t *testing.T) {
	changes := Diff(map[string]any{"t": []any{"a"}}, map[string]any{"t": []any{"a", "b"}})
	assert.Equal(t, models.Changes{"/t": {Old: raw(`["a"]`), New: raw(`["a","b"]`)}}, changes)
}

func TestDiff_EscapesPointerSegments(t *testing.T) {
	changes := Diff(map[string]any{}, map[string]any{"a/b": "x", "c~d": "y"})
	assert.Contains(t, changes, "/a~1b")
	assert.Contains(t, changes, "/c~0d")

	restored, err := ApplyForward(map[string]any{}, changes)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a/b": "x", "c~d": "y"}, restored)
}

func TestDiff_CreateAndDelete(t *testing.T) {
	obj := map[string]any{"a": "x", "n": map[string]any{"b": true}}

	created := Diff(nil, obj)
	assert.Len(t, created, 2)
	for _, c := range created {
		assert.Empty(t, c.Old)
	}

	deleted := Diff(obj, nil)
	assert.Len(t, deleted, 2)
	for _, c := range deleted {
		assert.Empty(t, c.New)
	}
}

func TestApply_ForwardAndInverse(t *testing.T) {
	before := map[string]any{"a": "x", "n": map[string]any{"b": true}, "gone": float64(1)}
	after := map[string]any{"a": "y", "n": map[string]any{"b": false, "c": "new"}, "list": []any{"q"}}

	changes := Diff(before, after)

	forward, err := ApplyForward(before, changes)
	require.NoError(t, err)
	assert.Empty(t, Diff(forward, after))

	inverse, err := ApplyInverse(after, changes)
	require.NoError(t, err)
	assert.Empty(t, Diff(inverse, before))

	// inputs are untouched
	assert.Equal(t, "x", before["a"])
	assert.Equal(t, "y", after["a"])
}

func TestApply_CreatesIntermediateObjects(t *testing.T) {
	out, err := ApplyForward(map[string]any{}, models.Changes{"/a/b/c": {New: raw("1")}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": map[string]any{"c": float64(1)}}}, out)
}

func TestApply_InvalidPaths(t *testing.T) {
	_, err := ApplyForward(map[string]any{}, models.Changes{"no-slash": {New: raw("1")}})
	assert.Error(t, err)

	_, err = ApplyForward(map[string]any{"s": "str"}, models.Changes{"/s/x": {New: raw("1")}})
	assert.Error(t, err)

	_, err = ApplyForward(map[string]any{"l": []any{}}, models.Changes{"/l/3": {New: raw("1")}})
	assert.Error(t, err)
}
