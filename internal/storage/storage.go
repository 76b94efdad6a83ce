// Package storage defines the export store: the blob backend that receives
// rendered configuration bundles and register OpenAPI documents so they can be
// downloaded later or picked up by other environments.
//
// Backends register themselves with the factory from an init() function in their
// own package and are pulled in by a blank import in cmd/server:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return New(&cfg.Export.MyBackend)
//	    })
//	}
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrNotExist is returned when a key has no stored document
var ErrNotExist = errors.New("storage: document does not exist")

// ChecksumMetadataKey names the backend metadata entry carrying the SHA256 of a document
const ChecksumMetadataKey = "sha256"

// Storage is implemented by every export backend. Exported documents are small
// JSON files, so bodies are passed as byte slices.
type Storage interface {
	// Put stores body under key, replacing any previous document
	Put(ctx context.Context, key string, body []byte, contentType string) (*Object, error)

	// Get returns the document stored under key, or ErrNotExist
	Get(ctx context.Context, key string) ([]byte, *Object, error)

	// Stat returns the document attributes without its body, or ErrNotExist
	Stat(ctx context.Context, key string) (*Object, error)

	// List returns the documents whose key starts with prefix, ordered by key
	List(ctx context.Context, prefix string) ([]Object, error)

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// URL returns a download link valid for ttl. Cloud backends sign the URL.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Object describes a stored document
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum,omitempty"`
	ContentType  string    `json:"contentType,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// Checksum returns the hex SHA256 of body
func Checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CleanKey normalises a document key and rejects keys that would escape the
// store root (absolute paths or ".." segments).
func CleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("storage: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", fmt.Errorf("storage: invalid key %q", key)
		}
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return cleaned, nil
}
