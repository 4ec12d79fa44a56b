package fsstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orbitlabs/orbit/internal/cache"
)

func testEntry(key string) cache.Entry {
	now := time.Unix(1700000000, 0).UTC()
	return cache.Entry{
		Key:         key,
		Value:       json.RawMessage(`{"markdown":"# AcmeCo"}`),
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		HitCount:    2,
		QualityTag:  "B",
		ContentHash: "abc123def456",
	}
}

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestNewCreatesMissingDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "cache")
	_, err := New(Config{BaseDir: dir}, nil)
	require.NoError(t, err)
	require.DirExists(t, dir)
}

func TestSaveLoadRoundTripsExactly(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	want := testEntry("dashboard_AcmeCo_standard")
	require.NoError(t, store.Save(ctx, want))

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, want.Key, entries[0].Key)
	require.JSONEq(t, string(want.Value), string(entries[0].Value))
	require.True(t, want.CreatedAt.Equal(entries[0].CreatedAt))
	require.True(t, want.ExpiresAt.Equal(entries[0].ExpiresAt))
	require.Equal(t, want.HitCount, entries[0].HitCount)
	require.Equal(t, want.QualityTag, entries[0].QualityTag)
	require.Equal(t, want.ContentHash, entries[0].ContentHash)
}

func TestSaveReplacesExistingRecord(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first := testEntry("k")
	require.NoError(t, store.Save(ctx, first))

	second := first
	second.Value = json.RawMessage(`{"markdown":"# Updated"}`)
	require.NoError(t, store.Save(ctx, second))

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.JSONEq(t, string(second.Value), string(entries[0].Value))
}

func TestDeleteToleratesAbsentKey(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), "never-saved"))
}

func TestLoadSkipsUndecodableFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testEntry("good")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{not json"), 0o600))

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "good", entries[0].Key)

	// The corrupt file is left on disk untouched.
	require.FileExists(t, filepath.Join(dir, "corrupt.json"))
}

func TestKeysWithSeparatorsAreSanitized(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	entry := testEntry("../escape/attempt")
	require.NoError(t, store.Save(ctx, entry))

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, entry.Key, entries[0].Key)
}
