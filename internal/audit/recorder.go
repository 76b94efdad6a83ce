// recorder.go turns object mutations into audit trail entries: it computes the diff,
// copies the caller identity verbatim and stamps the retention-derived expiry.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/db/models"
)

// Sink persists audit trail entries. The repository implementation joins the
// transaction carried by ctx, so an entry commits or rolls back with its mutation.
type Sink interface {
	CreateAuditTrail(ctx context.Context, entry *models.AuditTrail) error
}

// Entry describes one mutation to be recorded
type Entry struct {
	Action     string
	ObjectUUID string
	Version    string
	Before     map[string]any
	After      map[string]any
	Register   *models.Register
	Schema     *models.Schema
}

// Recorder writes audit trail entries to a Sink
type Recorder struct {
	sink             Sink
	defaultRetention time.Duration
	now              func() time.Time
}

// NewRecorder creates a recorder. A zero defaultRetention keeps entries forever
// unless the schema or register configures a retention.
func NewRecorder(sink Sink, defaultRetention time.Duration) *Recorder {
	return &Recorder{sink: sink, defaultRetention: defaultRetention, now: time.Now}
}

// WithClock replaces the time source; used by tests to simulate time
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Retention resolves the audit retention for an object: schema configuration
// first, then register configuration, then the recorder default.
func (r *Recorder) Retention(register *models.Register, schema *models.Schema) time.Duration {
	if schema != nil {
		if d, ok := models.ConfigDuration(schema.Configuration, models.ConfigAuditRetention); ok {
			return d
		}
	}
	if register != nil {
		if d, ok := models.ConfigDuration(register.Configuration, models.ConfigAuditRetention); ok {
			return d
		}
	}
	return r.defaultRetention
}

// Record computes the change set for e and persists it with the actor's identity
func (r *Recorder) Record(ctx context.Context, e Entry, actor auth.Actor) (*models.AuditTrail, error) {
	before, after := e.Before, e.After
	switch e.Action {
	case models.ActionCreate:
		before = nil
	case models.ActionDelete:
		after = nil
	}

	now := r.now().UTC()
	trail := &models.AuditTrail{
		UUID:       uuid.NewString(),
		ObjectUUID: e.ObjectUUID,
		Action:     e.Action,
		Changed:    Diff(before, after),
		User:       optional(actor.UserID),
		UserName:   optional(actor.UserName),
		Session:    optional(actor.SessionID),
		Request:    optional(actor.RequestID),
		IPAddress:  optional(actor.IPAddress),
		Version:    e.Version,
		Created:    now,
	}
	if e.Register != nil {
		trail.RegisterUUID = e.Register.UUID
	}
	if e.Schema != nil {
		trail.SchemaUUID = e.Schema.UUID
	}
	if retention := r.Retention(e.Register, e.Schema); retention > 0 {
		expires := now.Add(retention)
		trail.Expires = &expires
	}

	if err := r.sink.CreateAuditTrail(ctx, trail); err != nil {
		return nil, fmt.Errorf("failed to record %s audit trail for object %s: %w", e.Action, e.ObjectUUID, err)
	}
	return trail, nil
}

// Reconstruct rolls current back through entries, which must be ordered newest
// first and contain every entry recorded after the target state.
func Reconstruct(current map[string]any, newestFirst []*models.AuditTrail) (map[string]any, error) {
	state := deepCopy(current)
	for _, entry := range newestFirst {
		var err error
		state, err = ApplyInverse(state, entry.Changed)
		if err != nil {
			return nil, fmt.Errorf("failed to undo audit trail %d: %w", entry.ID, err)
		}
	}
	if state == nil {
		state = make(map[string]any)
	}
	return state, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
