// Package models - source.go defines Source, the storage location a register's objects live in.
package models

import "time"

// Source types
const (
	SourceInternal   = "internal"
	SourcePostgreSQL = "postgresql"
)

// Source describes where a register stores its objects
type Source struct {
	ID          int64     `db:"id" json:"id"`
	UUID        string    `db:"uuid" json:"uuid"`
	Title       string    `db:"title" json:"title"`
	Description *string   `db:"description" json:"description,omitempty"`
	Type        string    `db:"type" json:"type"`
	DatabaseURL *string   `db:"database_url" json:"-"` // never exposed
	Created     time.Time `db:"created" json:"created"`
	Updated     time.Time `db:"updated" json:"updated"`
}
