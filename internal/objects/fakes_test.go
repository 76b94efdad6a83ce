package objects

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openregister/openregister/internal/audit"
	"github.com/openregister/openregister/internal/db/models"
	"github.com/openregister/openregister/internal/db/repositories"
	"github.com/openregister/openregister/internal/events"
	"github.com/openregister/openregister/internal/validation"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string]*models.ObjectEntity
	nextID  int64

	lastFilter repositories.ObjectFilter
	lastLimit  int
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string]*models.ObjectEntity)}
}

func copyEntity(o *models.ObjectEntity) *models.ObjectEntity {
	out := *o
	out.Object = cloneMap(o.Object)
	if o.Locked != nil {
		lock := *o.Locked
		out.Locked = &lock
	}
	if o.Deleted != nil {
		d := *o.Deleted
		out.Deleted = &d
	}
	return &out
}

func (m *memObjects) CreateObject(_ context.Context, o *models.ObjectEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o.ID = m.nextID
	m.objects[o.UUID] = copyEntity(o)
	return nil
}

func (m *memObjects) GetObject(_ context.Context, id string) (*models.ObjectEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[id]
	if !ok {
		return nil, nil
	}
	return copyEntity(o), nil
}

func (m *memObjects) GetObjectForUpdate(ctx context.Context, id string) (*models.ObjectEntity, error) {
	return m.GetObject(ctx, id)
}

func (m *memObjects) UpdateObject(_ context.Context, o *models.ObjectEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.objects[o.UUID]
	if !ok {
		return context.Canceled
	}
	next := copyEntity(o)
	next.Locked = stored.Locked
	m.objects[o.UUID] = next
	return nil
}

// AcquireLock mirrors the conditional UPDATE of the SQL repository
func (m *memObjects) AcquireLock(_ context.Context, id string, lock models.Lock, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[id]
	if !ok || o.Deleted != nil {
		return false, nil
	}
	if o.Locked != nil && now.Before(o.Locked.ExpiresAt) && o.Locked.User != lock.User {
		return false, nil
	}
	o.Locked = &lock
	return true, nil
}

func (m *memObjects) ClearLock(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.objects[id]; ok {
		o.Locked = nil
	}
	return nil
}

func (m *memObjects) matching(f repositories.ObjectFilter) []*models.ObjectEntity {
	var out []*models.ObjectEntity
	for _, o := range m.objects {
		if o.Register != f.Register || o.Schema != f.Schema {
			continue
		}
		if o.Deleted != nil && !f.IncludeDeleted {
			continue
		}
		if !f.Reader.Permits(o) {
			continue
		}
		out = append(out, copyEntity(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memObjects) CountObjects(_ context.Context, f repositories.ObjectFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.matching(f)), nil
}

func (m *memObjects) ListObjects(_ context.Context, f repositories.ObjectFilter, _ []repositories.SortField, limit, offset int) ([]*models.ObjectEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter, m.lastLimit = f, limit
	rows := m.matching(f)
	if offset >= len(rows) {
		return nil, nil
	}
	return rows[offset:min(offset+limit, len(rows))], nil
}

type memAudits struct {
	mu      sync.Mutex
	entries []*models.AuditTrail
}

func (m *memAudits) CreateAuditTrail(_ context.Context, a *models.AuditTrail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, a)
	return nil
}

func (m *memAudits) GetAuditTrail(_ context.Context, id int64) (*models.AuditTrail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (m *memAudits) ListAuditTrailsAfter(_ context.Context, objectUUID string, afterID int64) ([]*models.AuditTrail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditTrail
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.ObjectUUID == objectUUID && e.ID > afterID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudits) ListAuditTrails(_ context.Context, f repositories.AuditTrailFilters, limit, offset int) ([]*models.AuditTrail, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.AuditTrail
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if f.ObjectUUID != nil && e.ObjectUUID != *f.ObjectUUID {
			continue
		}
		all = append(all, e)
	}
	if offset >= len(all) {
		return nil, len(all), nil
	}
	return all[offset:min(offset+limit, len(all))], len(all), nil
}

func (m *memAudits) actions(objectUUID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		if e.ObjectUUID == objectUUID {
			out = append(out, e.Action)
		}
	}
	return out
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memRegistry struct {
	registers []*models.Register
	schemas   []*models.Schema
}

func (r *memRegistry) GetRegister(_ context.Context, ref string) (*models.Register, error) {
	for _, reg := range r.registers {
		if reg.UUID == ref || reg.Slug == ref {
			return reg, nil
		}
	}
	return nil, nil
}

func (r *memRegistry) GetSchema(_ context.Context, ref string) (*models.Schema, error) {
	for _, s := range r.schemas {
		if s.UUID == ref || s.Slug == ref {
			return s, nil
		}
	}
	return nil, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// clock is a manually advanced time source shared by service and recorder
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc       *Service
	objects   *memObjects
	audits    *memAudits
	registry  *memRegistry
	publisher *recordingPublisher
	clock     *clock
}

const (
	registerUUID = "7f0c4bde-2c55-4b43-9a8e-1b9a0c1d2e01"
	schemaUUID   = "5d1f6c3e-8a7b-4f0e-b2d4-3c9e8f7a6b02"
)

func newFixture() *fixture {
	c := &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	objs := newMemObjects()
	audits := &memAudits{}
	reg := &memRegistry{
		registers: []*models.Register{{
			UUID:    registerUUID,
			Slug:    "permits",
			Schemas: models.StringList{schemaUUID},
		}},
		schemas: []*models.Schema{{
			UUID:           schemaUUID,
			Slug:           "permit",
			Required:       models.StringList{"name"},
			HardValidation: true,
			Properties: models.JSONMap{
				"name":   map[string]any{"type": "string"},
				"status": map[string]any{"type": "string", "enum": []any{"active", "closed"}},
				"age":    map[string]any{"type": "integer"},
				"tags":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			Configuration: models.JSONMap{models.ConfigDeleteRetention: "48h"},
		}},
	}
	pub := &recordingPublisher{}
	svc := NewService(Deps{
		Objects:   objs,
		Audits:    audits,
		Tx:        passthroughTx{},
		Registry:  reg,
		Validator: validation.NewValidator(nil),
		Recorder:  audit.NewRecorder(audits, 0).WithClock(c.Now),
		Publisher: pub,
	}, Config{DefaultLockTTL: time.Hour, DeleteRetention: 30 * 24 * time.Hour}).WithClock(c.Now)

	return &fixture{svc: svc, objects: objs, audits: audits, registry: reg, publisher: pub, clock: c}
}
