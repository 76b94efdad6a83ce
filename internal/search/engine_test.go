package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/db/repositories"
	"github.com/openregister/openregister/internal/objects"
)

const (
	regUUID = "11111111-1111-4111-8111-111111111111"
	schUUID = "22222222-2222-4222-8222-222222222222"
)

type memStore struct {
	mu        sync.Mutex
	objects   []*models.ObjectEntity
	failField string
	listCalls int
}

func (s *memStore) match(f repositories.ObjectFilter) []*models.ObjectEntity {
	var out []*models.ObjectEntity
	for _, o := range s.objects {
		if f.Register != "" && o.Register != f.Register {
			continue
		}
		if f.Schema != "" && o.Schema != f.Schema {
			continue
		}
		if o.Deleted != nil && !f.IncludeDeleted {
			continue
		}
		if !f.Reader.Permits(o) {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(o.TextRepresentation), strings.ToLower(f.Search)) {
			continue
		}
		ok := true
		for path, accepted := range f.Fields {
			v := fmt.Sprint(o.Object[path])
			found := false
			for _, a := range accepted {
				found = found || a == v
			}
			ok = ok && found
		}
		if ok {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *memStore) CountObjects(_ context.Context, f repositories.ObjectFilter) (int, error) {
	return len(s.match(f)), nil
}

func (s *memStore) ListObjects(_ context.Context, f repositories.ObjectFilter, _ []repositories.SortField, limit, offset int) ([]*models.ObjectEntity, error) {
	s.mu.Lock()
	s.listCalls++
	s.mu.Unlock()
	rows := s.match(f)
	if offset >= len(rows) {
		return []*models.ObjectEntity{}, nil
	}
	return rows[offset:min(offset+limit, len(rows))], nil
}

func (s *memStore) FieldValueCounts(ctx context.Context, f repositories.ObjectFilter, field string, metadata bool, limit int) ([]repositories.ValueCount, error) {
	if field == s.failField {
		return nil, errors.New("boom")
	}
	var out []repositories.ValueCount
	index := map[string]int{}
	add := func(v any) {
		key := fmt.Sprint(v)
		if i, ok := index[key]; ok {
			out[i].Count++
			return
		}
		index[key] = len(out)
		out = append(out, repositories.ValueCount{Value: v, Count: 1})
	}
	for _, o := range s.match(f) {
		if metadata {
			switch field {
			case "created":
				add(o.Created)
			case "owner":
				if o.Owner != nil {
					add(*o.Owner)
				}
			}
			continue
		}
		if v, ok := o.Object[field]; ok && v != nil {
			add(v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// wideStore reports a field with more distinct values than a facet reads
type wideStore struct {
	*memStore
}

func (w wideStore) FieldValueCounts(_ context.Context, _ repositories.ObjectFilter, _ string, _ bool, limit int) ([]repositories.ValueCount, error) {
	out := make([]repositories.ValueCount, limit)
	for i := range out {
		out[i] = repositories.ValueCount{Value: fmt.Sprintf("v%05d", i), Count: 1}
	}
	return out, nil
}

type registryStub struct{}

func (registryStub) GetRegister(_ context.Context, ref string) (*models.Register, error) {
	if ref == regUUID || ref == "permits" {
		return &models.Register{UUID: regUUID, Slug: "permits", Schemas: models.StringList{schUUID}}, nil
	}
	if ref == "restricted" {
		return &models.Register{UUID: "r2", Slug: "restricted", Authorization: models.Authorization{"read": {"auditors"}}}, nil
	}
	return nil, nil
}

func (registryStub) GetSchema(_ context.Context, ref string) (*models.Schema, error) {
	if ref == schUUID || ref == "permit" {
		return &models.Schema{UUID: schUUID, Slug: "permit"}, nil
	}
	return nil, nil
}

type memLogs struct {
	mu   sync.Mutex
	logs []*models.SearchLog
}

func (m *memLogs) CreateSearchLog(_ context.Context, l *models.SearchLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

func (m *memLogs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

var reader = auth.Actor{UserID: "reader", SessionID: "s-1"}

// seed creates n objects; statuses cycle through the given values
func seed(n int, statuses ...string) *memStore {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &memStore{}
	for i := 0; i < n; i++ {
		status := statuses[i%len(statuses)]
		s.objects = append(s.objects, &models.ObjectEntity{
			ID:                 int64(i + 1),
			UUID:               fmt.Sprintf("obj-%02d", i+1),
			Register:           regUUID,
			Schema:             schUUID,
			Object:             models.JSONMap{"name": fmt.Sprintf("permit %d", i+1), "status": status, "price": float64(i * 10)},
			TextRepresentation: fmt.Sprintf("permit %d %s", i+1, status),
			Created:            base.Add(time.Duration(i) * 24 * time.Hour),
		})
	}
	return s
}

func mustParse(t *testing.T, raw string) *Query {
	t.Helper()
	values, err := url.ParseQuery(raw)
	require.NoError(t, err)
	q, err := ParseQuery(values)
	require.NoError(t, err)
	return q
}

func executors() []Executor {
	return []Executor{Sequential{}, Concurrent{}, Concurrent{Limit: 2}}
}

func TestSearch_Pagination(t *testing.T) {
	store := seed(45, "active")
	engine := NewEngine(store, registryStub{}, nil)

	for _, exec := range executors() {
		t.Run(exec.Name(), func(t *testing.T) {
			resp, err := engine.Search(context.Background(), mustParse(t, "@self[register]=permits&@self[schema]=permit&_limit=10&_page=2"), exec, reader)
			require.NoError(t, err)
			assert.Equal(t, 45, resp.Total)
			assert.Equal(t, 5, resp.Pages)
			assert.Equal(t, 2, resp.Page)
			assert.Equal(t, 10, resp.Offset)
			require.Len(t, resp.Results, 10)
			assert.Equal(t, "obj-35", resp.Results[0].UUID, "newest first")
		})
	}
}

func TestSearch_PageIsClamped(t *testing.T) {
	store := seed(45, "active")
	engine := NewEngine(store, registryStub{}, nil)

	for _, exec := range executors() {
		t.Run(exec.Name(), func(t *testing.T) {
			resp, err := engine.Search(context.Background(), mustParse(t, "@self[register]=permits&@self[schema]=permit&_limit=10&_page=7"), exec, reader)
			require.NoError(t, err)
			assert.Equal(t, 5, resp.Page)
			assert.Equal(t, 40, resp.Offset)
			assert.Len(t, resp.Results, 5)
			assert.Equal(t, "obj-05", resp.Results[0].UUID)
		})
	}
}

func TestSearch_EmptyResult(t *testing.T) {
	engine := NewEngine(&memStore{}, registryStub{}, nil)
	resp, err := engine.Search(context.Background(), mustParse(t, "@self[register]=permits&_page=3"), Concurrent{}, reader)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Total)
	assert.Equal(t, 0, resp.Pages)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 0, resp.Offset)
	assert.Empty(t, resp.Results)
}

func TestSearch_TermsFacet(t *testing.T) {
	store := seed(3, "active", "closed", "active")
	engine := NewEngine(store, registryStub{}, nil)

	resp, err := engine.Search(context.Background(), mustParse(t, "@self[register]=permits&_facets[status][type]=terms"), Concurrent{}, reader)
	require.NoError(t, err)
	require.Contains(t, resp.Facets, "status")
	assert.Equal(t, []Bucket{{Key: "active", Count: 2}, {Key: "closed", Count: 1}}, resp.Facets["status"].Buckets)
}

func TestSearch_ExecutorsAgree(t *testing.T) {
	store := seed(37, "active", "closed", "pending")
	engine := NewEngine(store, registryStub{}, nil)
	raw := "@self[register]=permits&@self[schema]=permit&status=active&status=closed&_limit=7&_page=3" +
		"&_facets[status][type]=terms&_facets[@self][created][type]=date_histogram&_facets[@self][created][interval]=week" +
		"&_facets[price][type]=range&_facets[price][ranges][0][to]=100&_facets[price][ranges][1][from]=100&_facetable=true&_sample_size=10"

	seq, err := engine.Search(context.Background(), mustParse(t, raw), Sequential{}, reader)
	require.NoError(t, err)
	con, err := engine.Search(context.Background(), mustParse(t, raw), Concurrent{}, reader)
	require.NoError(t, err)

	assert.Equal(t, seq.Total, con.Total)
	assert.Equal(t, seq.Page, con.Page)
	assert.Equal(t, seq.Pages, con.Pages)
	assert.Equal(t, seq.Results, con.Results)
	assert.Equal(t, seq.Facets, con.Facets)
	assert.Equal(t, seq.Facetable, con.Facetable)
	assert.Equal(t, 10, seq.Facetable.SampleSize)
	assert.Len(t, seq.Facets, 3)
}

func TestSearch_TextSearchFilter(t *testing.T) {
	store := seed(12, "active")
	engine := NewEngine(store, registryStub{}, nil)

	resp, err := engine.Search(context.Background(), mustParse(t, "@self[register]=permits&_search=PERMIT 1"), Sequential{}, reader)
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Total, "permit 1, 10, 11, 12")
}

func TestSearch_FacetFailureFailsSearch(t *testing.T) {
	store := seed(5, "active")
	store.failField = "status"
	engine := NewEngine(store, registryStub{}, nil)

	for _, exec := range executors() {
		_, err := engine.Search(context.Background(), mustParse(t, "@self[register]=permits&_facets[status][type]=terms"), exec, reader)
		assert.ErrorContains(t, err, "boom", exec.Name())
	}
}

func TestSearch_Scope(t *testing.T) {
	engine := NewEngine(seed(1, "active"), registryStub{}, nil)
	ctx := context.Background()

	_, err := engine.Search(ctx, mustParse(t, "@self[register]=nope"), Sequential{}, reader)
	assert.ErrorIs(t, err, objects.ErrNotFound)

	_, err = engine.Search(ctx, mustParse(t, "_limit=5"), Sequential{}, reader)
	assert.ErrorIs(t, err, objects.ErrNotAuthorized)

	_, err = engine.Search(ctx, mustParse(t, "_limit=5"), Sequential{}, auth.Actor{UserID: "root", Elevated: true})
	assert.NoError(t, err)

	_, err = engine.Search(ctx, mustParse(t, "@self[register]=restricted"), Sequential{}, reader)
	assert.ErrorIs(t, err, objects.ErrNotAuthorized)

	_, err = engine.Search(ctx, mustParse(t, "@self[register]=restricted"), Sequential{}, auth.Actor{UserID: "a", Groups: []string{"auditors"}})
	assert.NoError(t, err)
}

func TestSearch_ObjectReadAuthorization(t *testing.T) {
	store := seed(4, "active", "closed")
	owner := "someone"
	store.objects[1].Owner = &owner
	store.objects[1].Authorization = models.Authorization{"read": {"auditors"}}
	engine := NewEngine(store, registryStub{}, nil)
	raw := "@self[register]=permits&_facets[status][type]=terms&_facetable=true"

	for _, exec := range executors() {
		t.Run(exec.Name(), func(t *testing.T) {
			resp, err := engine.Search(context.Background(), mustParse(t, raw), exec, reader)
			require.NoError(t, err)
			assert.Equal(t, 3, resp.Total)
			for _, o := range resp.Results {
				assert.NotEqual(t, "obj-02", o.UUID)
			}
			assert.Equal(t, []Bucket{{Key: "active", Count: 2}, {Key: "closed", Count: 1}}, resp.Facets["status"].Buckets)
			assert.Equal(t, 3, resp.Facetable.SampleSize)

			auditor := auth.Actor{UserID: "carol", Groups: []string{"auditors"}}
			resp, err = engine.Search(context.Background(), mustParse(t, raw), exec, auditor)
			require.NoError(t, err)
			assert.Equal(t, 4, resp.Total)

			resp, err = engine.Search(context.Background(), mustParse(t, raw), exec, auth.Actor{UserID: "someone"})
			require.NoError(t, err)
			assert.Equal(t, 4, resp.Total, "owner sees own restricted object")
		})
	}
}

func TestSearch_FacetTruncatedAtMaxValues(t *testing.T) {
	engine := NewEngine(wideStore{seed(1, "active")}, registryStub{}, nil)

	resp, err := engine.Search(context.Background(), mustParse(t, "@self[register]=permits&_facets[status][type]=terms"), Sequential{}, reader)
	require.NoError(t, err)
	facet := resp.Facets["status"]
	assert.True(t, facet.Truncated)
	assert.Len(t, facet.Buckets, repositories.MaxFacetValues)
}

func TestSearch_WritesSearchLog(t *testing.T) {
	logs := &memLogs{}
	engine := NewEngine(seed(3, "active"), registryStub{}, logs)

	_, err := engine.Search(context.Background(), mustParse(t, "@self[register]=permits&status=active&_search=permit two"), Sequential{}, reader)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return logs.count() == 1 }, time.Second, 5*time.Millisecond)
	entry := logs.logs[0]
	assert.Equal(t, regUUID, *entry.Register)
	assert.Nil(t, entry.Schema)
	assert.Equal(t, models.StringList{"permit", "two"}, entry.Terms)
	assert.Equal(t, "reader", *entry.User)
	assert.Equal(t, map[string][]string{"status": {"active"}}, entry.Filters["fields"])
}

func TestConcurrent_CancelsOnFirstError(t *testing.T) {
	started := make(chan struct{})
	err := Concurrent{}.Run(context.Background(), []Task{
		func(ctx context.Context) error {
			<-started
			return errors.New("first")
		},
		func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	assert.EqualError(t, err, "first")
}

func TestExecutorByName(t *testing.T) {
	assert.Equal(t, "sequential", ExecutorByName("sequential", 0).Name())
	assert.Equal(t, Concurrent{Limit: 4}, ExecutorByName("concurrent", 4))
	assert.Equal(t, "concurrent", ExecutorByName("", 0).Name())
}
