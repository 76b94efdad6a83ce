// Package models - configuration.go defines Configuration, a named bundle of registers
// exported and imported as a single portable document.
package models

import "time"

// Configuration groups a set of registers for export/import as one unit
type Configuration struct {
	ID          int64      `db:"id" json:"id"`
	UUID        string     `db:"uuid" json:"uuid"`
	Title       string     `db:"title" json:"title"`
	Description *string    `db:"description" json:"description,omitempty"`
	Type        string     `db:"type" json:"type"`
	Owner       *string    `db:"owner" json:"owner,omitempty"`
	Version     string     `db:"version" json:"version"`
	Registers   StringList `db:"registers" json:"registers"` // register UUIDs
	Created     time.Time  `db:"created" json:"created"`
	Updated     time.Time  `db:"updated" json:"updated"`
}
