// Package models - json.go defines the JSONB column types shared by the register, schema,
// object and audit trail models, each implementing sql.Scanner and driver.Valuer.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a free-form JSON object stored in a JSONB column
type JSONMap map[string]any

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(src any) error {
	return scanJSON(src, m)
}

// StringList is a JSON array of strings stored in a JSONB column
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src any) error {
	return scanJSON(src, l)
}

// Contains reports whether s is present in the list
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// Authorization maps an action ("create", "read", "update", "delete") to the
// groups allowed to perform it. A missing action places no restriction.
type Authorization map[string][]string

// Value implements driver.Valuer
func (a Authorization) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string][]string(a))
}

// Scan implements sql.Scanner
func (a *Authorization) Scan(src any) error {
	return scanJSON(src, a)
}

// Allows reports whether any of the given groups may perform action. The
// special group "public" opens the action to everyone.
func (a Authorization) Allows(action string, groups []string) bool {
	allowed, ok := a[action]
	if !ok {
		return true
	}
	for _, g := range allowed {
		if g == "public" {
			return true
		}
		for _, have := range groups {
			if g == have {
				return true
			}
		}
	}
	return false
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
