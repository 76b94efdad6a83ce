package search

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/openregister/openregister/internal/db/repositories"
	"github.com/openregister/openregister/internal/objects"
)

// ErrInvalidQuery is returned for malformed query parameters. It wraps
// objects.ErrInvalidInput so handlers answer 400.
var ErrInvalidQuery = fmt.Errorf("%w: invalid query", objects.ErrInvalidInput)

// Pagination and sampling defaults
const (
	DefaultLimit      = 20
	MaxLimit          = 1000
	DefaultSampleSize = 100
	MaxSampleSize     = 1000
)

// FacetType selects a facet aggregation
type FacetType string

// Supported facet types
const (
	FacetTerms         FacetType = "terms"
	FacetDateHistogram FacetType = "date_histogram"
	FacetRange         FacetType = "range"
)

// Date histogram intervals
const (
	IntervalDay   = "day"
	IntervalWeek  = "week"
	IntervalMonth = "month"
	IntervalYear  = "year"
)

// Range is one half-open [From, To) bucket boundary; nil edges are unbounded
type Range struct {
	From *float64 `json:"from,omitempty"`
	To   *float64 `json:"to,omitempty"`
}

// FacetRequest asks for one aggregation over a field
type FacetRequest struct {
	Field    string    `json:"field"`
	Metadata bool      `json:"metadata"`
	Type     FacetType `json:"type"`
	Interval string    `json:"interval,omitempty"`
	Ranges   []Range   `json:"ranges,omitempty"`
}

// Key is the name the facet is reported under
func (r FacetRequest) Key() string {
	if r.Metadata {
		return selfPrefix + r.Field
	}
	return r.Field
}

// Query is a parsed search request
type Query struct {
	Register   string // UUID or slug, from @self[register]
	Schema     string // UUID or slug, from @self[schema]
	Filter     repositories.ObjectFilter
	Order      []repositories.SortField
	Limit      int
	Page       int
	Facets     []FacetRequest
	Facetable  bool
	SampleSize int
}

const selfPrefix = "@self."

// ParseQuery reads the query vocabulary from URL parameters:
//
//	@self[register]=x, @self.schema=y   register/schema selection
//	@self[owner]=u                      other metadata filters
//	status=active, address.city=Delft   object field exact match (repeat for OR)
//	_search=text                        substring of the text representation
//	_limit, _page                       pagination (pages are 1-indexed)
//	_order[field]=asc|desc              sorting; @self.created sorts on metadata
//	                                    (several keys apply in alphabetical order;
//	                                    ParseRawQuery keeps the order sent)
//	_facets[field][type]=terms          facets; also [interval] and [ranges][i][from|to]
//	_facetable=true, _sample_size=n     facet discovery
//	_includeDeleted=true                include soft-deleted objects
//
// Other parameters starting with an underscore are reserved and ignored.
func ParseQuery(values url.Values) (*Query, error) {
	return parseQuery(values, nil)
}

// ParseRawQuery parses a raw URL query string like ParseQuery. Sort keys
// apply in the order they appear in raw, so _order[status]=asc&_order[name]=desc
// sorts by status first.
func ParseRawQuery(raw string) (*Query, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return parseQuery(values, rawKeyOrder(raw))
}

// rawKeyOrder returns the position of the first occurrence of every key in raw
func rawKeyOrder(raw string) map[string]int {
	order := map[string]int{}
	for _, pair := range strings.Split(raw, "&") {
		key, _, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(key)
		if err != nil || key == "" {
			continue
		}
		if _, seen := order[key]; !seen {
			order[key] = len(order)
		}
	}
	return order
}

func parseQuery(values url.Values, keyOrder map[string]int) (*Query, error) {
	q := &Query{Limit: DefaultLimit, Page: 1, SampleSize: DefaultSampleSize}
	facets := map[string]*FacetRequest{}
	ranges := map[string]map[int]*Range{}
	var orderKeys []string
	orders := map[string]repositories.SortField{}

	for _, key := range sortedKeys(values) {
		vals := values[key]
		first := ""
		if len(vals) > 0 {
			first = vals[0]
		}
		base, parts := splitBrackets(key)

		switch {
		case base == "@self" || strings.HasPrefix(base, selfPrefix):
			field := strings.TrimPrefix(base, selfPrefix)
			if base == "@self" {
				if len(parts) != 1 {
					return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, key)
				}
				field = parts[0]
			}
			if err := q.addMetadataFilter(field, vals); err != nil {
				return nil, err
			}

		case base == "_search":
			q.Filter.Search = strings.TrimSpace(first)

		case base == "_limit":
			n, err := positiveInt(key, first)
			if err != nil {
				return nil, err
			}
			q.Limit = min(n, MaxLimit)

		case base == "_page":
			n, err := positiveInt(key, first)
			if err != nil {
				return nil, err
			}
			q.Page = n

		case base == "_order":
			if len(parts) == 0 {
				return nil, fmt.Errorf("%w: %s needs a field", ErrInvalidQuery, key)
			}
			dir := strings.ToLower(first)
			if dir != "asc" && dir != "desc" {
				return nil, fmt.Errorf("%w: %s must be asc or desc", ErrInvalidQuery, key)
			}
			field, metadata := fieldRef(strings.Join(parts, "."))
			if _, dup := orders[key]; !dup {
				orderKeys = append(orderKeys, key)
			}
			orders[key] = repositories.SortField{Field: field, Metadata: metadata, Desc: dir == "desc"}

		case base == "_facets":
			if err := parseFacetParam(key, parts, first, facets, ranges); err != nil {
				return nil, err
			}

		case base == "_facetable":
			q.Facetable = isTrue(first)

		case base == "_sample_size":
			n, err := positiveInt(key, first)
			if err != nil {
				return nil, err
			}
			q.SampleSize = min(n, MaxSampleSize)

		case base == "_includeDeleted":
			q.Filter.IncludeDeleted = isTrue(first)

		case strings.HasPrefix(base, "_"):
			// reserved

		default:
			path := strings.Join(append([]string{base}, parts...), ".")
			if q.Filter.Fields == nil {
				q.Filter.Fields = map[string][]string{}
			}
			q.Filter.Fields[path] = append(q.Filter.Fields[path], vals...)
		}
	}

	if keyOrder != nil {
		sort.SliceStable(orderKeys, func(i, j int) bool {
			return keyOrder[orderKeys[i]] < keyOrder[orderKeys[j]]
		})
	}
	for _, k := range orderKeys {
		q.Order = append(q.Order, orders[k])
	}
	for _, name := range sortedFacetKeys(facets) {
		f := facets[name]
		if f.Type == "" {
			return nil, fmt.Errorf("%w: facet %s needs a type", ErrInvalidQuery, name)
		}
		if f.Type == FacetRange {
			idx := make([]int, 0, len(ranges[name]))
			for i := range ranges[name] {
				idx = append(idx, i)
			}
			sort.Ints(idx)
			for _, i := range idx {
				f.Ranges = append(f.Ranges, *ranges[name][i])
			}
			if len(f.Ranges) == 0 {
				return nil, fmt.Errorf("%w: range facet %s needs ranges", ErrInvalidQuery, name)
			}
		}
		if f.Type == FacetDateHistogram && f.Interval == "" {
			f.Interval = IntervalMonth
		}
		q.Facets = append(q.Facets, *f)
	}
	return q, nil
}

func (q *Query) addMetadataFilter(field string, vals []string) error {
	switch field {
	case "register":
		q.Register = firstNonEmpty(vals)
		return nil
	case "schema":
		q.Schema = firstNonEmpty(vals)
		return nil
	}
	if !isMetadataField(field) {
		return fmt.Errorf("%w: unknown metadata field %q", ErrInvalidQuery, field)
	}
	if q.Filter.Metadata == nil {
		q.Filter.Metadata = map[string][]string{}
	}
	q.Filter.Metadata[field] = append(q.Filter.Metadata[field], vals...)
	return nil
}

func parseFacetParam(key string, parts []string, value string, facets map[string]*FacetRequest, ranges map[string]map[int]*Range) error {
	// parts: field path segments followed by type | interval | ranges,i,from|to.
	// A leading "@self" segment marks a metadata field.
	attrAt := -1
	for i, p := range parts {
		if p == "type" || p == "interval" || p == "ranges" {
			attrAt = i
			break
		}
	}
	if attrAt <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidQuery, key)
	}
	name := strings.Join(parts[:attrAt], ".")
	field, metadata := fieldRef(name)
	if metadata && !isMetadataField(field) {
		return fmt.Errorf("%w: unknown metadata field %q", ErrInvalidQuery, field)
	}
	f, ok := facets[name]
	if !ok {
		f = &FacetRequest{Field: field, Metadata: metadata}
		facets[name] = f
	}

	switch parts[attrAt] {
	case "type":
		t := FacetType(value)
		if t != FacetTerms && t != FacetDateHistogram && t != FacetRange {
			return fmt.Errorf("%w: unsupported facet type %q", ErrInvalidQuery, value)
		}
		f.Type = t
	case "interval":
		switch value {
		case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
			f.Interval = value
		default:
			return fmt.Errorf("%w: unsupported interval %q", ErrInvalidQuery, value)
		}
	case "ranges":
		rest := parts[attrAt+1:]
		if len(rest) != 2 || (rest[1] != "from" && rest[1] != "to") {
			return fmt.Errorf("%w: %s", ErrInvalidQuery, key)
		}
		i, err := strconv.Atoi(rest[0])
		if err != nil || i < 0 {
			return fmt.Errorf("%w: %s", ErrInvalidQuery, key)
		}
		bound, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s must be a number", ErrInvalidQuery, key)
		}
		if ranges[name] == nil {
			ranges[name] = map[int]*Range{}
		}
		r, ok := ranges[name][i]
		if !ok {
			r = &Range{}
			ranges[name][i] = r
		}
		if rest[1] == "from" {
			r.From = &bound
		} else {
			r.To = &bound
		}
	}
	return nil
}

// splitBrackets splits "a[b][c]" into "a" and ["b", "c"]
func splitBrackets(key string) (string, []string) {
	i := strings.IndexByte(key, '[')
	if i < 0 || !strings.HasSuffix(key, "]") {
		return key, nil
	}
	inner := key[i+1 : len(key)-1]
	return key[:i], strings.Split(inner, "][")
}

// fieldRef maps "@self.created" (or "@self" as a leading segment) to a metadata field
func fieldRef(name string) (string, bool) {
	if strings.HasPrefix(name, selfPrefix) {
		return strings.TrimPrefix(name, selfPrefix), true
	}
	return name, false
}

func isMetadataField(field string) bool {
	for _, f := range repositories.MetadataFields() {
		if f == field {
			return true
		}
	}
	return false
}

func positiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidQuery, key)
	}
	return n, nil
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func firstNonEmpty(vals []string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortedKeys(values url.Values) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFacetKeys(m map[string]*FacetRequest) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
