// Package models - schema.go defines the Schema model, the versioned structural and
// validation contract that objects in a register must satisfy.
package models

import (
	"strconv"
	"time"
)

// Schema is a JSON-Schema-like definition objects are validated against.
// Properties holds the raw property definitions keyed by property name.
type Schema struct {
	ID             int64         `db:"id" json:"id"`
	UUID           string        `db:"uuid" json:"uuid"`
	Version        string        `db:"version" json:"version"`
	Title          string        `db:"title" json:"title"`
	Slug           string        `db:"slug" json:"slug"`
	Description    *string       `db:"description" json:"description,omitempty"`
	Summary        *string       `db:"summary" json:"summary,omitempty"`
	Required       StringList    `db:"required" json:"required"`
	Properties     JSONMap       `db:"properties" json:"properties"`
	HardValidation bool          `db:"hard_validation" json:"hardValidation"`
	MaxDepth       int           `db:"max_depth" json:"maxDepth"`
	Configuration  JSONMap       `db:"configuration" json:"configuration,omitempty"`
	Authorization  Authorization `db:"authorization" json:"authorization,omitempty"`
	Icon           *string       `db:"icon" json:"icon,omitempty"`
	Archive        JSONMap       `db:"archive" json:"archive,omitempty"`
	Created        time.Time     `db:"created" json:"created"`
	Updated        time.Time     `db:"updated" json:"updated"`
	Deleted        *time.Time    `db:"deleted" json:"deleted,omitempty"`
}

// Configuration keys understood by the engine. Both schemas and registers may
// carry them; the schema value wins.
const (
	ConfigAuditRetention  = "auditRetention"  // Go duration or number of days
	ConfigDeleteRetention = "deleteRetention" // Go duration or number of days
	ConfigNameField       = "objectNameField"
)

// ConfigDuration reads a retention-style duration from a configuration map.
// Integers are interpreted as days, strings as Go durations.
func ConfigDuration(cfg JSONMap, key string) (time.Duration, bool) {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return time.Duration(v * float64(24*time.Hour)), true
	case int:
		return time.Duration(v) * 24 * time.Hour, true
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d, true
		}
		if days, err := strconv.Atoi(v); err == nil {
			return time.Duration(days) * 24 * time.Hour, true
		}
	}
	return 0, false
}
