// Package fsstore persists cache entries as one JSON document per key on the
// local filesystem.
package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/cache"
)

// Config captures the parameters for the filesystem store.
type Config struct {
	// BaseDir is the directory holding one <key>.json file per entry.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes cache records under a base directory.
type Store struct {
	baseDir string
	logger  *zap.Logger
}

// New validates the base directory (creating it if absent) and returns a
// Store.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("base directory path is not a directory")
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat base directory: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir, logger: logger}, nil
}

// Save writes the entry as <key>.json, replacing any previous record.
func (s *Store) Save(_ context.Context, e cache.Entry) error {
	path, err := s.entryPath(e.Key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry %q: %w", e.Key, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write cache entry %q: %w", e.Key, err)
	}
	return nil
}

// Delete removes the record for key; absent files are not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	path, err := s.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache entry %q: %w", key, err)
	}
	return nil
}

// Load reads every record in the base directory. Records that fail to
// deserialize are skipped with a warning and left on disk untouched.
func (s *Store) Load(_ context.Context) ([]cache.Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.baseDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob cache dir: %w", err)
	}

	var entries []cache.Entry
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable cache file", zap.String("path", path), zap.Error(err))
			continue
		}
		var e cache.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			s.logger.Warn("skipping undecodable cache file", zap.String("path", path), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// entryPath maps a cache key to a file path, rejecting keys that would
// escape the base directory.
func (s *Store) entryPath(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("cache key is required")
	}
	name := sanitizeKey(key) + ".json"
	full := filepath.Join(s.baseDir, name)

	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(full), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("cache key %q escapes base directory", key)
	}
	return full, nil
}

func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", string(filepath.Separator), "_", "..", "_")
	return r.Replace(key)
}
