package revimg

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revimg/store"
)

// fakeHasher serves fingerprints from a map; unmapped paths behave like
// unreadable files. It counts calls so tests can assert what got rehashed.
type fakeHasher struct {
	hashes map[string]string
	calls  map[string]int
}

func newFakeHasher(hashes map[string]string) *fakeHasher {
	return &fakeHasher{hashes: hashes, calls: make(map[string]int)}
}

func (f *fakeHasher) HashFile(path string) (string, float64, error) {
	f.calls[path]++
	h, ok := f.hashes[path]
	if !ok {
		return "", 0, fmt.Errorf("unreadable image %s", path)
	}
	return h, 1.0, nil
}

func newTestEngine(t *testing.T, hasher FileHasher) *Engine {
	t.Helper()
	dir := t.TempDir()
	engine, err := NewBuilder().
		WithMetadataDir(dir).
		WithIndexDir(dir).
		WithHasher(hasher).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

var threeFiles = map[string]string{
	"/pics/a.jpg": "00",
	"/pics/b.jpg": "01",
	"/pics/c.jpg": "ff",
}

func paths(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	return out
}

func TestBuildAndQueryScenario(t *testing.T) {
	engine := newTestEngine(t, newFakeHasher(threeFiles))
	ctx := context.Background()

	// Empty store: sync performs a full build.
	require.NoError(t, engine.SyncMetadata(ctx, paths(threeFiles), true))
	entries, err := engine.store.AllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	require.NoError(t, engine.SyncIndex(ctx))

	results, err := engine.Search(ctx, []Query{{Path: "/input/q.jpg", HashHex: "00"}}, ModeTree, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	var got []string
	for _, m := range results[0].Matches {
		got = append(got, m.Filename)
	}
	// "00" and "01" are 1 bit apart; "ff" is 8 bits from "00".
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, got)
}

func TestSyncMetadataIdempotent(t *testing.T) {
	engine := newTestEngine(t, newFakeHasher(threeFiles))
	ctx := context.Background()
	live := paths(threeFiles)

	require.NoError(t, engine.SyncMetadata(ctx, live, true))
	first, err := engine.store.AllEntries(ctx)
	require.NoError(t, err)

	require.NoError(t, engine.SyncMetadata(ctx, live, true))
	second, err := engine.store.AllEntries(ctx)
	require.NoError(t, err)

	assert.True(t, maps.Equal(first, second), "two syncs with no filesystem change must agree")
}

func TestSyncDoesNotRehashKnownFiles(t *testing.T) {
	hasher := newFakeHasher(threeFiles)
	engine := newTestEngine(t, hasher)
	ctx := context.Background()

	require.NoError(t, engine.SyncMetadata(ctx, paths(threeFiles), true))
	require.NoError(t, engine.SyncMetadata(ctx, paths(threeFiles), true))

	// Hashing is the bottleneck; the incremental pass must only probe keys.
	for path, n := range hasher.calls {
		assert.Equal(t, 1, n, "file %s hashed %d times", path, n)
	}
}

func TestDeleteAbsentPropagatesToIndex(t *testing.T) {
	engine := newTestEngine(t, newFakeHasher(threeFiles))
	ctx := context.Background()

	require.NoError(t, engine.SyncMetadata(ctx, paths(threeFiles), true))
	require.NoError(t, engine.SyncIndex(ctx))

	// b.jpg vanishes from disk.
	live := []string{"/pics/a.jpg", "/pics/c.jpg"}
	require.NoError(t, engine.SyncMetadata(ctx, live, true))
	require.NoError(t, engine.SyncIndex(ctx))

	entries := engine.tree.Entries()
	assert.Len(t, entries, 2)
	assert.NotContains(t, entries, store.Entry{HashHex: "01", Directory: "/pics", Filename: "b.jpg"})

	want, err := engine.store.AllEntries(ctx)
	require.NoError(t, err)
	assert.True(t, maps.Equal(entries, want))
}

func TestKeepAbsentRetainsRecords(t *testing.T) {
	engine := newTestEngine(t, newFakeHasher(threeFiles))
	ctx := context.Background()

	require.NoError(t, engine.SyncMetadata(ctx, paths(threeFiles), true))
	require.NoError(t, engine.SyncMetadata(ctx, []string{"/pics/a.jpg"}, false))

	entries, err := engine.store.AllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "absent records are retained when deleteAbsent is off")
}

func TestNewFileUpserted(t *testing.T) {
	hashes := map[string]string{}
	for k, v := range threeFiles {
		hashes[k] = v
	}
	hasher := newFakeHasher(hashes)
	engine := newTestEngine(t, hasher)
	ctx := context.Background()

	require.NoError(t, engine.SyncMetadata(ctx, paths(threeFiles), true))

	hashes["/pics/d.jpg"] = "02"
	require.NoError(t, engine.SyncMetadata(ctx, paths(hashes), true))

	entries, err := engine.store.AllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Contains(t, entries, store.Entry{HashHex: "02", Directory: "/pics", Filename: "d.jpg"})
}

func TestHashFailureSkipsFile(t *testing.T) {
	engine := newTestEngine(t, newFakeHasher(threeFiles))
	ctx := context.Background()

	live := append(paths(threeFiles), "/pics/broken.jpg")
	require.NoError(t, engine.SyncMetadata(ctx, live, true), "a bad file must not abort the batch")

	entries, err := engine.store.AllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestSyncIndexBuildsWhenMissing(t *testing.T) {
	engine := newTestEngine(t, newFakeHasher(threeFiles))
	ctx := context.Background()

	require.NoError(t, engine.SyncMetadata(ctx, paths(threeFiles), true))

	_, err := os.Stat(engine.IndexPath())
	require.True(t, os.IsNotExist(err))

	require.NoError(t, engine.SyncIndex(ctx))
	_, err = os.Stat(engine.IndexPath())
	assert.NoError(t, err, "index file should exist after sync")
	assert.Equal(t, 3, engine.tree.Len())
}

func TestSyncIndexRebuildsOnCorruption(t *testing.T) {
	engine := newTestEngine(t, newFakeHasher(threeFiles))
	ctx := context.Background()

	require.NoError(t, engine.SyncMetadata(ctx, paths(threeFiles), true))
	require.NoError(t, os.WriteFile(engine.IndexPath(), []byte("garbage"), 0644))

	require.NoError(t, engine.SyncIndex(ctx), "a corrupt index forces a rebuild, not an abort")

	want, err := engine.store.AllEntries(ctx)
	require.NoError(t, err)
	assert.True(t, maps.Equal(engine.tree.Entries(), want))
}

func TestSyncIndexRebuildsOnMismatch(t *testing.T) {
	engine := newTestEngine(t, newFakeHasher(threeFiles))
	ctx := context.Background()

	require.NoError(t, engine.SyncMetadata(ctx, paths(threeFiles), true))
	require.NoError(t, engine.SyncIndex(ctx))

	// Mutate the store behind the index's back.
	extra := store.Record{
		Key: store.Key{Directory: "/pics", Filename: "late.jpg"}, HashHex: "aa", Present: true,
	}
	require.NoError(t, engine.store.Upsert(ctx, extra))

	require.NoError(t, engine.SyncIndex(ctx))
	assert.Contains(t, engine.tree.Entries(), extra.Entry())

	want, err := engine.store.AllEntries(ctx)
	require.NoError(t, err)
	assert.True(t, maps.Equal(engine.tree.Entries(), want))
}

func TestSyncIndexRequiresStore(t *testing.T) {
	engine := newTestEngine(t, newFakeHasher(nil))
	err := engine.SyncIndex(context.Background())
	assert.ErrorIs(t, err, ErrStorage)
}

func TestExactSearch(t *testing.T) {
	engine := newTestEngine(t, newFakeHasher(threeFiles))
	ctx := context.Background()

	require.NoError(t, engine.SyncMetadata(ctx, paths(threeFiles), true))

	// Exact mode goes straight to the store; no index needed.
	results, err := engine.Search(ctx, []Query{{Path: "/input/q.jpg", HashHex: "01"}}, ModeExact, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Matches, 1)
	assert.Equal(t, "b.jpg", results[0].Matches[0].Filename)

	// With a nonzero radius exact mode is not applicable; without an index
	// that is an error.
	_, err = engine.Search(ctx, []Query{{HashHex: "01"}}, ModeExact, 1)
	assert.Error(t, err)
}

func TestSearchGroupsQueriesByFingerprint(t *testing.T) {
	engine := newTestEngine(t, newFakeHasher(threeFiles))
	ctx := context.Background()

	require.NoError(t, engine.SyncMetadata(ctx, paths(threeFiles), true))
	require.NoError(t, engine.SyncIndex(ctx))

	queries := []Query{
		{Path: "/input/one.jpg", HashHex: "00"},
		{Path: "/input/two.jpg", HashHex: "00"},
		{Path: "/input/one.jpg", HashHex: "00"}, // duplicate location
		{Path: "/input/other.jpg", HashHex: "ff"},
	}
	results, err := engine.Search(ctx, queries, ModeTree, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "00", results[0].HashHex)
	assert.Equal(t, []string{"/input/one.jpg", "/input/two.jpg"}, results[0].QueryPaths)
	assert.Equal(t, "ff", results[1].HashHex)
}

func TestBuilderRejectsUnknownMethods(t *testing.T) {
	dir := t.TempDir()

	_, err := NewBuilder().WithMetadataDir(dir).WithIndexDir(dir).
		WithDistance("levenshtein").Build()
	assert.True(t, errors.Is(err, ErrUnsupportedMethod), "got %v", err)

	_, err = NewBuilder().WithMetadataDir(dir).WithIndexDir(dir).
		WithHash("whash-db4", 8).Build()
	assert.True(t, errors.Is(err, ErrUnsupportedMethod), "got %v", err)
}
