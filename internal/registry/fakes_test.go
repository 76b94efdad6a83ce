package registry

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openregister/openregister/internal/config"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/db/repositories"
	"github.com/openregister/openregister/internal/storage/local"
)

type memRegisters struct {
	mu   sync.Mutex
	rows map[string]models.Register
}

func (m *memRegisters) CreateRegister(_ context.Context, reg *models.Register) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg.ID = int64(len(m.rows) + 1)
	m.rows[reg.UUID] = *reg
	return nil
}

func (m *memRegisters) GetRegister(_ context.Context, id string) (*models.Register, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &reg, nil
}

func (m *memRegisters) GetRegisterBySlug(_ context.Context, slug string) (*models.Register, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.rows {
		if reg.Slug == slug && reg.Deleted == nil {
			reg := reg
			return &reg, nil
		}
	}
	return nil, nil
}

func (m *memRegisters) ListRegisters(_ context.Context, includeDeleted bool) ([]*models.Register, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Register
	for _, reg := range m.rows {
		if reg.Deleted != nil && !includeDeleted {
			continue
		}
		reg := reg
		out = append(out, &reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *memRegisters) ListRegistersUsingSchema(ctx context.Context, schemaUUID string) ([]*models.Register, error) {
	all, _ := m.ListRegisters(ctx, false)
	var out []*models.Register
	for _, reg := range all {
		if reg.HasSchema(schemaUUID) {
			out = append(out, reg)
		}
	}
	return out, nil
}

func (m *memRegisters) UpdateRegister(_ context.Context, reg *models.Register) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[reg.UUID] = *reg
	return nil
}

type memSchemas struct {
	mu    sync.Mutex
	rows  map[string]models.Schema
	reads int
}

func (m *memSchemas) CreateSchema(_ context.Context, s *models.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.rows) + 1)
	m.rows[s.UUID] = *s
	return nil
}

func (m *memSchemas) GetSchema(_ context.Context, id string) (*models.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	s, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSchemas) GetSchemaBySlug(_ context.Context, slug string) (*models.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	for _, s := range m.rows {
		if s.Slug == slug && s.Deleted == nil {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (m *memSchemas) ListSchemas(_ context.Context, includeDeleted bool) ([]*models.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Schema
	for _, s := range m.rows {
		if s.Deleted != nil && !includeDeleted {
			continue
		}
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (m *memSchemas) GetSchemasByUUIDs(_ context.Context, ids []string) ([]*models.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Schema
	for _, id := range ids {
		if s, ok := m.rows[id]; ok {
			s := s
			out = append(out, &s)
		}
	}
	return out, nil
}

func (m *memSchemas) UpdateSchema(_ context.Context, s *models.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.UUID] = *s
	return nil
}

type memSources struct {
	mu   sync.Mutex
	rows map[string]models.Source
}

func (m *memSources) CreateSource(_ context.Context, s *models.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.UUID] = *s
	return nil
}

func (m *memSources) GetSource(_ context.Context, id string) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memSources) ListSources(_ context.Context) ([]*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Source
	for _, s := range m.rows {
		s := s
		out = append(out, &s)
	}
	return out, nil
}

func (m *memSources) UpdateSource(_ context.Context, s *models.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.UUID] = *s
	return nil
}

func (m *memSources) DeleteSource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

type memConfigurations struct {
	mu   sync.Mutex
	rows map[string]models.Configuration
}

func (m *memConfigurations) CreateConfiguration(_ context.Context, c *models.Configuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c.UUID] = *c
	return nil
}

func (m *memConfigurations) GetConfiguration(_ context.Context, id string) (*models.Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memConfigurations) ListConfigurations(_ context.Context) ([]*models.Configuration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Configuration
	for _, c := range m.rows {
		c := c
		out = append(out, &c)
	}
	return out, nil
}

func (m *memConfigurations) UpdateConfiguration(_ context.Context, c *models.Configuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[c.UUID] = *c
	return nil
}

func (m *memConfigurations) DeleteConfiguration(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

// objectCounts answers CountObjects from fixed per-register/per-schema counts
type objectCounts map[string]int

func (c objectCounts) CountObjects(_ context.Context, f repositories.ObjectFilter) (int, error) {
	return c[f.Register] + c[f.Schema], nil
}

type passTx struct{}

func (passTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memCache struct {
	mu          sync.Mutex
	entries     map[string]models.Schema
	invalidated []string
}

func (c *memCache) Get(_ context.Context, ref string) (*models.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[ref]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *memCache) Set(_ context.Context, s *models.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[s.UUID] = *s
	c.entries[s.Slug] = *s
	return nil
}

func (c *memCache) Invalidate(_ context.Context, s *models.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, s.UUID)
	delete(c.entries, s.Slug)
	c.invalidated = append(c.invalidated, s.UUID)
	return nil
}

type fixture struct {
	svc            *Service
	registers      *memRegisters
	schemas        *memSchemas
	sources        *memSources
	configurations *memConfigurations
	counts         objectCounts
	cache          *memCache
	exports        *local.LocalStorage
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	exports, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()}, "http://localhost:8080")
	require.NoError(t, err)

	f := &fixture{
		registers:      &memRegisters{rows: map[string]models.Register{}},
		schemas:        &memSchemas{rows: map[string]models.Schema{}},
		sources:        &memSources{rows: map[string]models.Source{}},
		configurations: &memConfigurations{rows: map[string]models.Configuration{}},
		counts:         objectCounts{},
		cache:          &memCache{entries: map[string]models.Schema{}},
		exports:        exports,
	}
	f.svc = NewService(Deps{
		Registers:      f.registers,
		Schemas:        f.schemas,
		Sources:        f.sources,
		Configurations: f.configurations,
		Objects:        f.counts,
		Tx:             passTx{},
		Cache:          f.cache,
		Exports:        exports,
	}).WithClock(func() time.Time { return fixedNow })
	return f
}
