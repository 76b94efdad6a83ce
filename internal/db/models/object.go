// Package models - object.go defines ObjectEntity, a JSON document stored in a register
// under a schema, together with its advisory lock and soft-delete metadata.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ObjectEntity is a single JSON object persisted in a register
type ObjectEntity struct {
	ID                 int64         `json:"id"`
	UUID               string        `json:"uuid"`
	Version            string        `json:"version"`
	Register           string        `json:"register"` // register UUID
	Schema             string        `json:"schema"`   // schema UUID
	Object             JSONMap       `json:"object"`
	TextRepresentation string        `json:"textRepresentation,omitempty"`
	Owner              *string       `json:"owner,omitempty"`
	Organisation       *string       `json:"organisation,omitempty"`
	Locked             *Lock         `json:"locked,omitempty"`
	Authorization      Authorization `json:"authorization,omitempty"`
	Folder             *string       `json:"folder,omitempty"`
	Files              FileRefs      `json:"files,omitempty"`
	Size               int64         `json:"size"`
	Published          *time.Time    `json:"published,omitempty"`
	Deleted            *Deletion     `json:"deleted,omitempty"`
	Created            time.Time     `json:"created"`
	Updated            time.Time     `json:"updated"`
}

// Lock is an advisory write lock on an object
type Lock struct {
	User      string    `json:"user"`
	Token     string    `json:"token,omitempty"`
	Process   *string   `json:"process,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsActive reports whether the lock still holds at the given instant.
// An expired lock is treated as absent.
func (l *Lock) IsActive(now time.Time) bool {
	return l != nil && now.Before(l.ExpiresAt)
}

// Deletion records who soft-deleted an object and when it may be purged
type Deletion struct {
	By      string    `json:"by"`
	At      time.Time `json:"at"`
	PurgeAt time.Time `json:"purgeAt"`
}

// FileRef references a file held by the external file store. Only the
// reference is kept; file bytes never pass through the register.
type FileRef struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Checksum string `json:"checksum,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// FileRefs is stored as a JSONB array
type FileRefs []FileRef

// Value implements driver.Valuer
func (f FileRefs) Value() (driver.Value, error) {
	if f == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]FileRef(f))
}

// Scan implements sql.Scanner
func (f *FileRefs) Scan(src any) error {
	return scanJSON(src, f)
}

// IsLockedFor reports whether the object carries an active lock held by
// someone other than user.
func (o *ObjectEntity) IsLockedFor(user string, now time.Time) bool {
	return o.Locked.IsActive(now) && o.Locked.User != user
}

// IsDeleted reports whether the object has been soft-deleted
func (o *ObjectEntity) IsDeleted() bool {
	return o.Deleted != nil
}
