// Package models - audit_trail.go defines AuditTrail, the append-only change record written
// for every mutation of an object, and Change, one field-level old/new pair.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Audit trail actions
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionRevert = "revert"
	ActionLock   = "lock"
	ActionUnlock = "unlock"
)

// Change is the before/after value of one leaf path. An empty side means the
// path did not exist on that side (as opposed to holding JSON null).
type Change struct {
	Old json.RawMessage `json:"old,omitempty"`
	New json.RawMessage `json:"new,omitempty"`
}

// Changes maps JSON Pointer paths (e.g. "/address/city") to their change
type Changes map[string]Change

// Value implements driver.Valuer
func (c Changes) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Change(c))
}

// Scan implements sql.Scanner
func (c *Changes) Scan(src any) error {
	return scanJSON(src, c)
}

// AuditTrail is an immutable log entry for one mutating operation
type AuditTrail struct {
	ID           int64      `db:"id" json:"id"`
	UUID         string     `db:"uuid" json:"uuid"`
	ObjectUUID   string     `db:"object_uuid" json:"objectUuid"`
	RegisterUUID string     `db:"register_uuid" json:"registerUuid"`
	SchemaUUID   string     `db:"schema_uuid" json:"schemaUuid"`
	Action       string     `db:"action" json:"action"`
	Changed      Changes    `db:"changed" json:"changed"`
	User         *string    `db:"user_id" json:"user,omitempty"`
	UserName     *string    `db:"user_name" json:"userName,omitempty"`
	Session      *string    `db:"session" json:"session,omitempty"`
	Request      *string    `db:"request" json:"request,omitempty"`
	IPAddress    *string    `db:"ip_address" json:"ipAddress,omitempty"`
	Version      string     `db:"version" json:"version"`
	Created      time.Time  `db:"created" json:"created"`
	Expires      *time.Time `db:"expires" json:"expires,omitempty"`
}

// IsExpired reports whether the entry is past its retention window
func (a *AuditTrail) IsExpired(now time.Time) bool {
	return a.Expires != nil && !now.Before(*a.Expires)
}
