package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "img.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecords() []Record {
	return []Record{
		{Key: Key{Directory: "/pics", Filename: "a.jpg"}, HashHex: "00", SizeMiB: 1.5, Present: true},
		{Key: Key{Directory: "/pics", Filename: "b.jpg"}, HashHex: "01", SizeMiB: 0.2, Present: true},
		{Key: Key{Directory: "/other", Filename: "c.png"}, HashHex: "ff", SizeMiB: 3.0, Present: true},
	}
}

func TestKeyFor(t *testing.T) {
	k := KeyFor("/pics/sub/a.jpg")
	assert.Equal(t, "/pics/sub", k.Directory)
	assert.Equal(t, "a.jpg", k.Filename)
	assert.Equal(t, "/pics/sub/a.jpg", k.Path())
}

func TestInitialized(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.Initialized(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh database should not count as initialized")

	require.NoError(t, s.Rebuild(ctx, nil))
	ok, err = s.Initialized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRebuildReplacesContents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Rebuild(ctx, testRecords()))
	entries, err := s.AllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	require.NoError(t, s.Rebuild(ctx, testRecords()[:1]))
	entries, err = s.AllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries, Entry{HashHex: "00", Directory: "/pics", Filename: "a.jpg"})
}

func TestExistsAndSetPresent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Rebuild(ctx, testRecords()))

	ok, err := s.Exists(ctx, Key{Directory: "/pics", Filename: "a.jpg"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, Key{Directory: "/pics", Filename: "missing.jpg"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkAllAbsent(ctx))
	require.NoError(t, s.SetPresent(ctx, Key{Directory: "/pics", Filename: "a.jpg"}))

	n, err := s.DeleteAbsent(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	entries, err := s.AllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries, Entry{HashHex: "00", Directory: "/pics", Filename: "a.jpg"})
}

func TestUpsertReplacesByKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Rebuild(ctx, testRecords()))

	// Same key, new fingerprint: one record survives.
	rec := Record{Key: Key{Directory: "/pics", Filename: "a.jpg"}, HashHex: "ee", SizeMiB: 1.5, Present: true}
	require.NoError(t, s.Upsert(ctx, rec))

	entries, err := s.AllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Contains(t, entries, Entry{HashHex: "ee", Directory: "/pics", Filename: "a.jpg"})
	assert.NotContains(t, entries, Entry{HashHex: "00", Directory: "/pics", Filename: "a.jpg"})
}

func TestLookupHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := testRecords()
	// Two files sharing a fingerprint.
	records = append(records, Record{
		Key: Key{Directory: "/dup", Filename: "copy.jpg"}, HashHex: "00", SizeMiB: 1.5, Present: true,
	})
	require.NoError(t, s.Rebuild(ctx, records))

	locs, err := s.LookupHash(ctx, "00")
	require.NoError(t, err)
	assert.ElementsMatch(t, []Location{
		{Directory: "/pics", Filename: "a.jpg"},
		{Directory: "/dup", Filename: "copy.jpg"},
	}, locs)

	locs, err = s.LookupHash(ctx, "beef")
	require.NoError(t, err)
	assert.Empty(t, locs)
}

func TestAllEntriesIgnoresPresence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Rebuild(ctx, testRecords()))
	require.NoError(t, s.MarkAllAbsent(ctx))

	// The index mirrors the store's full content, present or not.
	entries, err := s.AllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
