package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// FileConfig configures an append-only JSON lines file
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// FilePublisher appends one JSON document per line, rotating by size
type FilePublisher struct {
	cfg  *FileConfig
	file *os.File
	mu   sync.Mutex
}

// NewFilePublisher opens (or creates) the target file
func NewFilePublisher(cfg *FileConfig) (*FilePublisher, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	return &FilePublisher{cfg: cfg, file: file}, nil
}

// Publish implements Publisher
func (fp *FilePublisher) Publish(_ context.Context, event *Event) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.cfg.MaxSizeMB > 0 {
		info, err := fp.file.Stat()
		if err == nil && info.Size() > int64(fp.cfg.MaxSizeMB)*1024*1024 {
			if err := fp.rotate(); err != nil {
				slog.Error("failed to rotate event file", "path", fp.cfg.Path, "error", err)
			}
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fp.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1 and reopens
func (fp *FilePublisher) rotate() error {
	if err := fp.file.Close(); err != nil {
		return err
	}
	for i := fp.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fp.cfg.Path, i), fmt.Sprintf("%s.%d", fp.cfg.Path, i+1))
	}
	_ = os.Rename(fp.cfg.Path, fp.cfg.Path+".1")
	if fp.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fp.cfg.Path, fp.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(fp.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fp.file = file
	return nil
}

// Close implements Publisher
func (fp *FilePublisher) Close() error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.file.Close()
}
