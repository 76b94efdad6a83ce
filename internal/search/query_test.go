package search

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openregister/openregister/internal/db/repositories"
)

func parse(t *testing.T, raw string) *Query {
	t.Helper()
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	q, err := ParseQuery(values)
	require.NoError(t, err)
	return q
}

func TestParseQuery_Defaults(t *testing.T) {
	q := parse(t, "")
	assert.Equal(t, DefaultLimit, q.Limit)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, DefaultSampleSize, q.SampleSize)
	assert.False(t, q.Facetable)
	assert.Empty(t, q.Facets)
}

func TestParseQuery_SelfAndFieldFilters(t *testing.T) {
	q := parse(t, "@self[register]=permits&@self.schema=permit&@self[owner]=alice&status=active&status=closed&address[city]=Delft&_search=crane")

	assert.Equal(t, "permits", q.Register)
	assert.Equal(t, "permit", q.Schema)
	assert.Equal(t, map[string][]string{"owner": {"alice"}}, q.Filter.Metadata)
	assert.Equal(t, map[string][]string{
		"status":       {"active", "closed"},
		"address.city": {"Delft"},
	}, q.Filter.Fields)
	assert.Equal(t, "crane", q.Filter.Search)
}

func TestParseQuery_Pagination(t *testing.T) {
	q := parse(t, "_limit=5000&_page=3")
	assert.Equal(t, MaxLimit, q.Limit)
	assert.Equal(t, 3, q.Page)

	for _, raw := range []string{"_limit=0", "_limit=x", "_page=0", "_page=-2", "_sample_size=0"} {
		values, _ := url.ParseQuery(raw)
		_, err := ParseQuery(values)
		assert.ErrorIs(t, err, ErrInvalidQuery, raw)
	}
}

func TestParseQuery_Order(t *testing.T) {
	q := parse(t, "_order[@self][created]=desc&_order[name]=ASC")
	assert.Equal(t, []repositories.SortField{
		{Field: "created", Metadata: true, Desc: true},
		{Field: "name"},
	}, q.Order)

	values, _ := url.ParseQuery("_order[name]=sideways")
	_, err := ParseQuery(values)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestParseRawQuery_OrderFollowsRequest(t *testing.T) {
	q, err := ParseRawQuery("_order[status]=asc&_limit=5&_order%5Bname%5D=desc&_order[@self][created]=desc")
	require.NoError(t, err)
	assert.Equal(t, []repositories.SortField{
		{Field: "status"},
		{Field: "name", Desc: true},
		{Field: "created", Metadata: true, Desc: true},
	}, q.Order)
	assert.Equal(t, 5, q.Limit)

	values, err := url.ParseQuery("_order[status]=asc&_order[name]=desc")
	require.NoError(t, err)
	q, err = ParseQuery(values)
	require.NoError(t, err)
	assert.Equal(t, "name", q.Order[0].Field, "without the raw string keys sort alphabetically")

	_, err = ParseRawQuery("status=%zz")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestParseQuery_Facets(t *testing.T) {
	q := parse(t, "_facets[status][type]=terms"+
		"&_facets[@self][created][type]=date_histogram&_facets[@self][created][interval]=day"+
		"&_facets[price][type]=range&_facets[price][ranges][0][to]=100&_facets[price][ranges][1][from]=100&_facets[price][ranges][1][to]=500&_facets[price][ranges][2][from]=500"+
		"&_facets[issued][type]=date_histogram")

	require.Len(t, q.Facets, 4)
	byKey := map[string]FacetRequest{}
	for _, f := range q.Facets {
		byKey[f.Key()] = f
	}

	assert.Equal(t, FacetTerms, byKey["status"].Type)
	assert.Equal(t, FacetRequest{Field: "created", Metadata: true, Type: FacetDateHistogram, Interval: IntervalDay}, byKey["@self.created"])
	assert.Equal(t, IntervalMonth, byKey["issued"].Interval, "month is the default interval")

	price := byKey["price"]
	require.Len(t, price.Ranges, 3)
	assert.Nil(t, price.Ranges[0].From)
	assert.Equal(t, 100.0, *price.Ranges[0].To)
	assert.Equal(t, 100.0, *price.Ranges[1].From)
	assert.Equal(t, 500.0, *price.Ranges[1].To)
	assert.Nil(t, price.Ranges[2].To)
}

func TestParseQuery_FacetErrors(t *testing.T) {
	cases := []string{
		"_facets[status][type]=histogram",
		"_facets[status][interval]=day",
		"_facets[price][type]=range",
		"_facets[price][type]=range&_facets[price][ranges][0][from]=abc",
		"_facets[@self][colour][type]=terms",
		"_facets[type]=terms",
		"_facets[x][type]=date_histogram&_facets[x][interval]=hour",
	}
	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			values, err := url.ParseQuery(raw)
			require.NoError(t, err)
			_, err = ParseQuery(values)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestParseQuery_FlagsAndReserved(t *testing.T) {
	q := parse(t, "_facetable=true&_sample_size=25&_includeDeleted=1&_extend=files&_fields=name")
	assert.True(t, q.Facetable)
	assert.Equal(t, 25, q.SampleSize)
	assert.True(t, q.Filter.IncludeDeleted)
	assert.Empty(t, q.Filter.Fields)
}

func TestParseQuery_UnknownMetadataField(t *testing.T) {
	values, _ := url.ParseQuery("@self[colour]=red")
	_, err := ParseQuery(values)
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
