package objects

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/openregister/openregister/internal/db/models"
)

// refresh recomputes the derived columns of obj from its payload
func refresh(obj *models.ObjectEntity, sch *models.Schema) {
	obj.TextRepresentation = textRepresentation(obj.Object, sch)
	if b, err := json.Marshal(obj.Object); err == nil {
		obj.Size = int64(len(b))
	}
}

// textRepresentation joins the string leaves of the payload in path order,
// leading with the schema's configured name field when present. It backs the
// _search substring filter.
func textRepresentation(object map[string]any, sch *models.Schema) string {
	var parts []string
	if sch != nil {
		if field, ok := sch.Configuration[models.ConfigNameField].(string); ok {
			if name, ok := lookup(object, field).(string); ok && name != "" {
				parts = append(parts, name)
			}
		}
	}
	collectStrings(object, &parts)
	return strings.Join(parts, " ")
}

func collectStrings(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		if t != "" {
			*out = append(*out, t)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(t[k], out)
		}
	case []any:
		for _, item := range t {
			collectStrings(item, out)
		}
	}
}

// lookup resolves a dotted path inside object
func lookup(object map[string]any, path string) any {
	var cur any = object
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// mergePatch applies patch to target following RFC 7386
func mergePatch(target, patch map[string]any) map[string]any {
	if target == nil {
		target = make(map[string]any)
	}
	for k, v := range patch {
		if v == nil {
			delete(target, k)
			continue
		}
		if pm, ok := v.(map[string]any); ok {
			tm, _ := target[k].(map[string]any)
			target[k] = mergePatch(cloneMap(tm), pm)
			continue
		}
		target[k] = cloneValue(v)
	}
	return target
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
