// Package models - register.go defines the Register model: a logical namespace of objects
// bound to a set of permitted schemas and an optional storage source.
package models

import "time"

// Register groups objects that share a storage namespace and a set of schemas
type Register struct {
	ID            int64         `db:"id" json:"id"`
	UUID          string        `db:"uuid" json:"uuid"`
	Version       string        `db:"version" json:"version"`
	Title         string        `db:"title" json:"title"`
	Slug          string        `db:"slug" json:"slug"`
	Description   *string       `db:"description" json:"description,omitempty"`
	Schemas       StringList    `db:"schemas" json:"schemas"` // schema UUIDs
	Source        *string       `db:"source" json:"source,omitempty"`
	Owner         *string       `db:"owner" json:"owner,omitempty"`
	Organisation  *string       `db:"organisation" json:"organisation,omitempty"`
	Application   *string       `db:"application" json:"application,omitempty"`
	Folder        *string       `db:"folder" json:"folder,omitempty"`
	Authorization Authorization `db:"authorization" json:"authorization,omitempty"`
	Configuration JSONMap       `db:"configuration" json:"configuration,omitempty"`
	Created       time.Time     `db:"created" json:"created"`
	Updated       time.Time     `db:"updated" json:"updated"`
	Deleted       *time.Time    `db:"deleted" json:"deleted,omitempty"`
}

// HasSchema reports whether the register permits the schema with the given UUID
func (r *Register) HasSchema(schemaUUID string) bool {
	return r.Schemas.Contains(schemaUUID)
}

// IsDeleted reports whether the register has been soft-deleted
func (r *Register) IsDeleted() bool {
	return r.Deleted != nil
}
