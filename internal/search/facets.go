package search

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/openregister/openregister/internal/db/repositories"
)

// Bucket is one facet bucket
type Bucket struct {
	Key   string   `json:"key"`
	Count int      `json:"count"`
	From  *float64 `json:"from,omitempty"`
	To    *float64 `json:"to,omitempty"`
}

// Facet is the computed aggregation for one FacetRequest
type Facet struct {
	Type     FacetType `json:"type"`
	Field    string    `json:"field"`
	Interval string    `json:"interval,omitempty"`
	Buckets  []Bucket  `json:"buckets"`
	// Truncated is set when the field had more distinct values than
	// repositories.MaxFacetValues; only the most frequent ones were counted
	Truncated bool `json:"truncated,omitempty"`
}

// computeFacet buckets the grouped field values of the matching objects
func computeFacet(req FacetRequest, values []repositories.ValueCount) *Facet {
	facet := &Facet{Type: req.Type, Field: req.Key(), Interval: req.Interval}
	switch req.Type {
	case FacetTerms:
		facet.Buckets = termBuckets(values)
	case FacetDateHistogram:
		facet.Buckets = dateBuckets(values, req.Interval)
	case FacetRange:
		facet.Buckets = rangeBuckets(values, req.Ranges)
	}
	if facet.Buckets == nil {
		facet.Buckets = []Bucket{}
	}
	return facet
}

// termBuckets counts exact values. Array values count each element. Buckets
// are ordered by count descending, then key ascending.
func termBuckets(values []repositories.ValueCount) []Bucket {
	counts := map[string]int{}
	var add func(v any, n int)
	add = func(v any, n int) {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				add(item, n)
			}
			return
		}
		if v == nil {
			return
		}
		counts[termKey(v)] += n
	}
	for _, vc := range values {
		add(vc.Value, vc.Count)
	}

	out := make([]Bucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, Bucket{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func termKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// dateBuckets groups date values by interval. Keys sort chronologically;
// values that do not parse as dates are skipped.
func dateBuckets(values []repositories.ValueCount, interval string) []Bucket {
	counts := map[string]int{}
	for _, vc := range values {
		t, ok := toTime(vc.Value)
		if !ok {
			continue
		}
		counts[dateKey(t, interval)] += vc.Count
	}
	out := make([]Bucket, 0, len(counts))
	for k, n := range counts {
		out = append(out, Bucket{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func dateKey(t time.Time, interval string) string {
	t = t.UTC()
	switch interval {
	case IntervalDay:
		return t.Format("2006-01-02")
	case IntervalWeek:
		// ISO weeks start on Monday
		offset := (int(t.Weekday()) + 6) % 7
		return t.AddDate(0, 0, -offset).Format("2006-01-02")
	case IntervalYear:
		return t.Format("2006")
	default:
		return t.Format("2006-01")
	}
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// rangeBuckets counts numeric values per [from, to) range, in request order
func rangeBuckets(values []repositories.ValueCount, ranges []Range) []Bucket {
	out := make([]Bucket, len(ranges))
	for i, r := range ranges {
		out[i] = Bucket{Key: rangeKey(r), From: r.From, To: r.To}
	}
	for _, vc := range values {
		f, ok := toNumber(vc.Value)
		if !ok {
			continue
		}
		for i, r := range ranges {
			if r.From != nil && f < *r.From {
				continue
			}
			if r.To != nil && f >= *r.To {
				continue
			}
			out[i].Count += vc.Count
		}
	}
	return out
}

func rangeKey(r Range) string {
	edge := func(p *float64) string {
		if p == nil {
			return "*"
		}
		return strconv.FormatFloat(*p, 'f', -1, 64)
	}
	return edge(r.From) + "-" + edge(r.To)
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}
