package search

import (
	"math"
	"sort"

	"github.com/openregister/openregister/internal/db/models"
)

// FieldInfo describes a facet candidate found in the sample
type FieldInfo struct {
	Type        string      `json:"type"`
	Appearances int         `json:"appearances"`
	FacetTypes  []FacetType `json:"facet_types"`
	Intervals   []string    `json:"intervals,omitempty"`
}

// Facetable is the result of facet discovery
type Facetable struct {
	Self         map[string]FieldInfo `json:"@self"`
	ObjectFields map[string]FieldInfo `json:"object_fields"`
	SampleSize   int                  `json:"sample_size"`
}

// maxDiscoveryDepth bounds how far nested objects are explored for candidates
const maxDiscoveryDepth = 2

var dateIntervals = []string{IntervalDay, IntervalWeek, IntervalMonth, IntervalYear}

// discoverFacetable inspects a sample of objects and reports which metadata
// fields and object fields can be faceted on.
func discoverFacetable(sample []*models.ObjectEntity) *Facetable {
	out := &Facetable{
		Self:         map[string]FieldInfo{},
		ObjectFields: map[string]FieldInfo{},
		SampleSize:   len(sample),
	}

	self := map[string]int{}
	for _, o := range sample {
		self["register"]++
		self["schema"]++
		self["created"]++
		self["updated"]++
		self["size"]++
		if o.Owner != nil && *o.Owner != "" {
			self["owner"]++
		}
		if o.Organisation != nil && *o.Organisation != "" {
			self["organisation"]++
		}
		if o.Folder != nil && *o.Folder != "" {
			self["folder"]++
		}
		if o.Published != nil {
			self["published"]++
		}
	}
	for field, n := range self {
		out.Self[field] = metadataInfo(field, n)
	}

	types := map[string]map[string]int{}
	for _, o := range sample {
		collectFields(o.Object, "", 0, types)
	}
	for path, seen := range types {
		typ, n := dominantType(seen)
		info := FieldInfo{Type: typ, Appearances: n, FacetTypes: suggest(typ)}
		if typ == "date" {
			info.Intervals = dateIntervals
		}
		if len(info.FacetTypes) > 0 {
			out.ObjectFields[path] = info
		}
	}
	return out
}

func metadataInfo(field string, n int) FieldInfo {
	switch field {
	case "created", "updated", "published":
		return FieldInfo{Type: "date", Appearances: n, FacetTypes: []FacetType{FacetDateHistogram}, Intervals: dateIntervals}
	case "size":
		return FieldInfo{Type: "integer", Appearances: n, FacetTypes: []FacetType{FacetRange}}
	default:
		return FieldInfo{Type: "string", Appearances: n, FacetTypes: []FacetType{FacetTerms}}
	}
}

func collectFields(obj map[string]any, prefix string, depth int, types map[string]map[string]int) {
	for k, v := range obj {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			if depth+1 < maxDiscoveryDepth {
				collectFields(nested, path, depth+1, types)
			}
			continue
		}
		typ := inferType(v)
		if typ == "" {
			continue
		}
		if types[path] == nil {
			types[path] = map[string]int{}
		}
		types[path][typ]++
	}
}

func inferType(v any) string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return ""
		}
		if _, ok := toTime(t); ok {
			return "date"
		}
		return "string"
	case float64:
		if t == math.Trunc(t) {
			return "integer"
		}
		return "number"
	case bool:
		return "boolean"
	case []any:
		for _, item := range t {
			if _, ok := item.(string); !ok {
				return ""
			}
		}
		if len(t) == 0 {
			return ""
		}
		return "array"
	}
	return ""
}

// dominantType returns the most frequent type, preferring the wider numeric
// type when integers and numbers mix, with the total appearance count.
func dominantType(seen map[string]int) (string, int) {
	total := 0
	for _, n := range seen {
		total += n
	}
	if seen["number"] > 0 && seen["integer"] > 0 {
		seen["number"] += seen["integer"]
		delete(seen, "integer")
	}
	names := make([]string, 0, len(seen))
	for t := range seen {
		names = append(names, t)
	}
	sort.Slice(names, func(i, j int) bool {
		if seen[names[i]] != seen[names[j]] {
			return seen[names[i]] > seen[names[j]]
		}
		return names[i] < names[j]
	})
	return names[0], total
}

func suggest(typ string) []FacetType {
	switch typ {
	case "string", "boolean", "array":
		return []FacetType{FacetTerms}
	case "date":
		return []FacetType{FacetDateHistogram, FacetTerms}
	case "integer":
		return []FacetType{FacetRange, FacetTerms}
	case "number":
		return []FacetType{FacetRange}
	}
	return nil
}
