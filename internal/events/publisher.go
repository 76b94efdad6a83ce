// Package events delivers object lifecycle notifications to outside consumers.
// The engine publishes one Event per committed mutation through the Publisher
// capability; destinations (webhook, file) are configured independently of the
// application log and a failing destination never blocks the others.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event types published by the object service
const (
	TypeObjectCreated  = "object.created"
	TypeObjectUpdated  = "object.updated"
	TypeObjectDeleted  = "object.deleted"
	TypeObjectReverted = "object.reverted"
	TypeObjectLocked   = "object.locked"
	TypeObjectUnlocked = "object.unlocked"
)

// Event is a notification about a committed change to an object
type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	ObjectUUID   string         `json:"object_uuid"`
	RegisterUUID string         `json:"register_uuid,omitempty"`
	SchemaUUID   string         `json:"schema_uuid,omitempty"`
	Version      string         `json:"version,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Publisher delivers events to one destination
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// Config holds the configuration of one destination
type Config struct {
	Enabled bool           `mapstructure:"enabled"`
	Type    string         `mapstructure:"type"` // webhook, file
	Webhook *WebhookConfig `mapstructure:"webhook"`
	File    *FileConfig    `mapstructure:"file"`
}

// Nop discards every event
type Nop struct{}

// Publish implements Publisher
func (Nop) Publish(context.Context, *Event) error { return nil }

// Close implements Publisher
func (Nop) Close() error { return nil }

// Multi fans events out to several destinations
type Multi struct {
	publishers []Publisher
	mu         sync.RWMutex
}

// NewMulti builds the enabled destinations from configs
func NewMulti(configs []Config) (*Multi, error) {
	m := &Multi{}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var (
			p   Publisher
			err error
		)
		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook publisher")
			}
			p, err = NewWebhookPublisher(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file publisher")
			}
			p, err = NewFilePublisher(cfg.File)
		default:
			return nil, fmt.Errorf("unknown event publisher type: %s", cfg.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s publisher: %w", cfg.Type, err)
		}
		m.publishers = append(m.publishers, p)
	}
	return m, nil
}

// Len returns the number of active destinations
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishers)
}

// Publish sends event to every destination, returning the last error seen
func (m *Multi) Publish(ctx context.Context, event *Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			lastErr = err
			slog.Error("event publisher failed", "type", event.Type, "object", event.ObjectUUID, "error", err)
		}
	}
	return lastErr
}

// Close closes every destination
func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
