// Package local implements the filesystem export store. It is intended for
// development and single-node deployments; several service instances only see
// the same exports when they share the directory (e.g. over NFS).
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openregister/openregister/internal/config"
	"github.com/openregister/openregister/internal/storage"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Export.Local, cfg.Server.BaseURL)
	})
}

// LocalStorage keeps exported documents as files below a base directory
type LocalStorage struct {
	basePath      string
	serveDirectly bool
	baseURL       string
}

// New creates the base directory when missing and returns the store
func New(cfg *config.LocalStorageConfig, serverBaseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	return &LocalStorage{
		basePath:      cfg.BasePath,
		serveDirectly: cfg.ServeDirectly,
		baseURL:       strings.TrimSuffix(serverBaseURL, "/"),
	}, nil
}

func (s *LocalStorage) fullPath(key string) (string, string, error) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(s.basePath, filepath.FromSlash(cleaned)), nil
}

// Put writes the document through a temp file so readers never see a partial export
func (s *LocalStorage) Put(_ context.Context, key string, body []byte, contentType string) (*storage.Object, error) {
	key, full, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	if contentType == "" {
		contentType = contentTypeFor(key)
	}
	return &storage.Object{
		Key:          key,
		Size:         int64(len(body)),
		Checksum:     storage.Checksum(body),
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}, nil
}

// Get reads the whole document
func (s *LocalStorage) Get(_ context.Context, key string) ([]byte, *storage.Object, error) {
	key, full, err := s.fullPath(key)
	if err != nil {
		return nil, nil, err
	}

	body, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, storage.ErrNotExist
		}
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	stat, err := os.Stat(full)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return body, &storage.Object{
		Key:          key,
		Size:         int64(len(body)),
		Checksum:     storage.Checksum(body),
		ContentType:  contentTypeFor(key),
		LastModified: stat.ModTime().UTC(),
	}, nil
}

// Stat reports the document attributes; the checksum is computed from the file
func (s *LocalStorage) Stat(ctx context.Context, key string) (*storage.Object, error) {
	_, obj, err := s.Get(ctx, key)
	return obj, err
}

// List walks the directory below prefix
func (s *LocalStorage) List(_ context.Context, prefix string) ([]storage.Object, error) {
	var out []storage.Object
	err := filepath.WalkDir(s.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".export-") {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, storage.Object{
			Key:          key,
			Size:         info.Size(),
			ContentType:  contentTypeFor(key),
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes the file and any parent directories it leaves empty
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	_, full, err := s.fullPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	base := filepath.Clean(s.basePath)
	for dir := filepath.Dir(full); dir != base && strings.HasPrefix(dir, base); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// URL returns an API download link when serve_directly is set, otherwise a file:// URL.
// Local links never expire so ttl is ignored.
func (s *LocalStorage) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	key, full, err := s.fullPath(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", storage.ErrNotExist
		}
		return "", fmt.Errorf("failed to check file existence: %w", err)
	}

	if s.serveDirectly {
		return fmt.Sprintf("%s/api/exports/%s", s.baseURL, key), nil
	}
	return "file://" + full, nil
}

func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
