// Package models - search_log.go defines SearchLog, an analytics-only record of an executed search.
package models

import "time"

// SearchLog records the parameters and outcome of a search request
type SearchLog struct {
	ID          int64      `db:"id" json:"id"`
	UUID        string     `db:"uuid" json:"uuid"`
	Schema      *string    `db:"schema_uuid" json:"schema,omitempty"`
	Register    *string    `db:"register_uuid" json:"register,omitempty"`
	Filters     JSONMap    `db:"filters" json:"filters"`
	Terms       StringList `db:"terms" json:"terms"`
	ResultCount int        `db:"result_count" json:"resultCount"`
	User        *string    `db:"user_id" json:"user,omitempty"`
	Session     *string    `db:"session" json:"session,omitempty"`
	IPAddress   *string    `db:"ip_address" json:"ipAddress,omitempty"`
	Created     time.Time  `db:"created" json:"created"`
}
