// Package gcsstore mirrors cache entries to a Google Cloud Storage bucket,
// one JSON object per key, for deployments without durable local disk.
package gcsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/orbitlabs/orbit/internal/cache"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// Store persists cache records under <prefix>/<key>.json in the bucket.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// New creates a GCS-backed cache store.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "cache"
	}
	return &Store{client: client, bucket: cfg.Bucket, prefix: prefix, logger: logger}, nil
}

// Save uploads the entry, replacing any previous object for the key.
func (s *Store) Save(ctx context.Context, e cache.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry %q: %w", e.Key, err)
	}
	w := s.client.Bucket(s.bucket).Object(s.objectName(e.Key)).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		closeErr := w.Close()
		if closeErr != nil {
			return fmt.Errorf("write cache object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write cache object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close cache object writer: %w", err)
	}
	return nil
}

// Delete removes the object for key; absent objects are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(s.objectName(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete cache object %q: %w", key, err)
	}
	return nil
}

// Load reads every object under the prefix. Undecodable objects are skipped
// with a warning and left in place.
func (s *Store) Load(ctx context.Context) ([]cache.Entry, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix + "/"})

	var entries []cache.Entry
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list cache objects: %w", err)
		}
		e, err := s.readEntry(ctx, attrs.Name)
		if err != nil {
			s.logger.Warn("skipping undecodable cache object",
				zap.String("object", attrs.Name), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) readEntry(ctx context.Context, object string) (cache.Entry, error) {
	r, err := s.client.Bucket(s.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("open cache object: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("read cache object: %w", err)
	}
	var e cache.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return cache.Entry{}, fmt.Errorf("decode cache object: %w", err)
	}
	return e, nil
}

func (s *Store) objectName(key string) string {
	return s.prefix + "/" + strings.ReplaceAll(key, "/", "_") + ".json"
}
