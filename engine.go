// Package revimg indexes perceptual-hash fingerprints of images and answers
// approximate nearest-fingerprint queries against them.
//
// The Engine ties together two coupled persistent stores: a SQLite metadata
// table keyed by (directory, filename), and a BK-tree over the fingerprints
// persisted next to it. SyncMetadata reconciles the table with the live
// filesystem; SyncIndex reconciles the tree with the table. Search consumes
// both read-only.
package revimg

import (
	"context"
	"log"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"revimg/bktree"
	"revimg/fingerprint"
	"revimg/imghash"
	"revimg/store"
)

// Version of the revimg library.
const Version = "0.1.0"

// Default file names within the metadata and index directories.
const (
	MetadataFile = "img.db"
	IndexFile    = "bktree.gob"
)

// FileHasher fingerprints one image file. The engine treats it as an opaque,
// deterministic collaborator.
type FileHasher interface {
	HashFile(path string) (hashHex string, sizeMiB float64, err error)
}

// Engine is the synchronization and search pipeline.
type Engine struct {
	store     *store.Store
	hasher    FileHasher
	dist      bktree.DistanceFunc
	tree      *bktree.Tree
	indexPath string

	mu sync.Mutex
}

// Builder configures an Engine.
type Builder struct {
	metadataDir string
	indexDir    string
	hashMethod  string
	hashSize    int
	distMethod  string
	hasher      FileHasher
}

// NewBuilder creates an Engine builder with default hash and distance
// methods.
func NewBuilder() *Builder {
	return &Builder{
		hashMethod: imghash.MethodDifference,
		hashSize:   imghash.DefaultSize,
		distMethod: fingerprint.Hamming.String(),
	}
}

// WithMetadataDir sets the directory holding the metadata database.
func (b *Builder) WithMetadataDir(dir string) *Builder {
	b.metadataDir = dir
	return b
}

// WithIndexDir sets the directory holding the persisted index.
func (b *Builder) WithIndexDir(dir string) *Builder {
	b.indexDir = dir
	return b
}

// WithHash selects the perceptual hash method and size.
func (b *Builder) WithHash(method string, size int) *Builder {
	b.hashMethod = method
	b.hashSize = size
	return b
}

// WithDistance selects the distance method.
func (b *Builder) WithDistance(method string) *Builder {
	b.distMethod = method
	return b
}

// WithHasher replaces the default goimagehash-backed hasher.
func (b *Builder) WithHasher(h FileHasher) *Builder {
	b.hasher = h
	return b
}

// Build resolves methods and opens the metadata store. Method resolution
// failures surface before any store is touched.
func (b *Builder) Build() (*Engine, error) {
	method, err := fingerprint.ParseMethod(b.distMethod)
	if err != nil {
		return nil, wrap("build", ErrUnsupportedMethod, err)
	}

	hasher := b.hasher
	if hasher == nil {
		h, err := imghash.New(b.hashMethod, b.hashSize)
		if err != nil {
			return nil, wrap("build", ErrUnsupportedMethod, err)
		}
		hasher = h
	}

	st, err := store.Open(filepath.Join(b.metadataDir, MetadataFile))
	if err != nil {
		return nil, wrap("build", ErrStorage, err)
	}

	return &Engine{
		store:     st,
		hasher:    hasher,
		dist:      bktree.DistanceFunc(method.Func()),
		indexPath: filepath.Join(b.indexDir, IndexFile),
	}, nil
}

// Close releases the metadata store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// IndexPath returns the path of the persisted index file.
func (e *Engine) IndexPath() string {
	return e.indexPath
}

// RebuildMetadata hashes every live file and rebuilds the metadata store
// from scratch, discarding whatever it held.
func (e *Engine) RebuildMetadata(ctx context.Context, liveFiles []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildMetadata(ctx, liveFiles)
}

// SyncMetadata reconciles the metadata store with the live file set. A store
// that was never built is built from scratch. Otherwise every record is
// marked absent, live files are re-marked present (new ones hashed and
// inserted), and, when deleteAbsent is set, records still absent at the end
// are purged. Afterwards the present set equals the live set exactly, or a
// superset of it when deleteAbsent is false.
func (e *Engine) SyncMetadata(ctx context.Context, liveFiles []string, deleteAbsent bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	initialized, err := e.store.Initialized(ctx)
	if err != nil {
		return wrap("syncMetadata", ErrStorage, err)
	}
	if !initialized {
		log.Printf("metadata store not built yet, building from %d files", len(liveFiles))
		return e.rebuildMetadata(ctx, liveFiles)
	}

	if err := e.store.MarkAllAbsent(ctx); err != nil {
		return wrap("syncMetadata", ErrStorage, err)
	}

	skipped := 0
	for _, path := range liveFiles {
		key := store.KeyFor(path)
		exists, err := e.store.Exists(ctx, key)
		if err != nil {
			return wrap("syncMetadata", ErrStorage, err)
		}
		if exists {
			if err := e.store.SetPresent(ctx, key); err != nil {
				return wrap("syncMetadata", ErrStorage, err)
			}
			continue
		}

		rec, ok := e.hashRecord(path, key)
		if !ok {
			skipped++
			continue
		}
		if err := e.store.Upsert(ctx, rec); err != nil {
			return wrap("syncMetadata", ErrStorage, err)
		}
	}
	if skipped > 0 {
		log.Printf("skipped %d unreadable files", skipped)
	}

	if deleteAbsent {
		n, err := e.store.DeleteAbsent(ctx)
		if err != nil {
			return wrap("syncMetadata", ErrStorage, err)
		}
		if n > 0 {
			log.Printf("deleted %d absent records", n)
		}
	}
	return nil
}

func (e *Engine) rebuildMetadata(ctx context.Context, liveFiles []string) error {
	records := make([]store.Record, 0, len(liveFiles))
	skipped := 0
	for _, path := range liveFiles {
		rec, ok := e.hashRecord(path, store.KeyFor(path))
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if skipped > 0 {
		log.Printf("skipped %d unreadable files", skipped)
	}

	if err := e.store.Rebuild(ctx, records); err != nil {
		return wrap("syncMetadata", ErrStorage, err)
	}
	log.Printf("metadata store rebuilt with %d records", len(records))
	return nil
}

// hashRecord fingerprints one file. Hash failures are isolated: the failure
// is logged and the file skipped, the rest of the batch continues.
func (e *Engine) hashRecord(path string, key store.Key) (store.Record, bool) {
	hashHex, sizeMiB, err := e.hasher.HashFile(path)
	if err != nil {
		log.Print(wrap("syncMetadata", ErrHashCompute, err))
		return store.Record{}, false
	}
	return store.Record{Key: key, HashHex: hashHex, SizeMiB: sizeMiB, Present: true}, true
}

// SyncIndex reconciles the persisted index with the metadata store. A
// missing index is built from the full metadata snapshot. An existing one is
// loaded and its entry set compared, as a set, against the store's; any
// mismatch (or a corrupt file) forces a full rebuild. There is no
// incremental repair path. On return the in-memory tree matches the store.
func (e *Engine) SyncIndex(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	initialized, err := e.store.Initialized(ctx)
	if err != nil {
		return wrap("syncIndex", ErrStorage, err)
	}
	if !initialized {
		return wrap("syncIndex", ErrStorage, errNotBuilt)
	}

	want, err := e.store.AllEntries(ctx)
	if err != nil {
		return wrap("syncIndex", ErrStorage, err)
	}

	if _, err := os.Stat(e.indexPath); err != nil {
		if !os.IsNotExist(err) {
			return wrap("syncIndex", ErrStorage, err)
		}
		log.Printf("building index: %s does not exist", e.indexPath)
		return e.rebuildIndex(want)
	}

	tree, err := bktree.LoadFile(e.indexPath, e.dist)
	if err != nil {
		log.Print(wrap("syncIndex", ErrCorruptIndex, err))
		return e.rebuildIndex(want)
	}

	if maps.Equal(tree.Entries(), want) {
		e.tree = tree
		return nil
	}
	log.Printf("rebuilding index: it does not match the metadata store")
	return e.rebuildIndex(want)
}

func (e *Engine) rebuildIndex(entries map[store.Entry]struct{}) error {
	list := make([]store.Entry, 0, len(entries))
	for entry := range entries {
		list = append(list, entry)
	}
	// Insertion order only shapes the tree, but a stable order keeps
	// rebuilds reproducible.
	sort.Slice(list, func(i, j int) bool {
		if list[i].Directory != list[j].Directory {
			return list[i].Directory < list[j].Directory
		}
		return list[i].Filename < list[j].Filename
	})

	tree := bktree.New(e.dist)
	if err := tree.RebuildFrom(list); err != nil {
		return wrap("syncIndex", ErrStorage, err)
	}
	if err := tree.Save(e.indexPath); err != nil {
		return wrap("syncIndex", ErrStorage, err)
	}
	e.tree = tree
	log.Printf("index rebuilt with %d entries", tree.Len())
	return nil
}

// HashFiles fingerprints query files, skipping (with a log line) any that
// cannot be read or decoded.
func (e *Engine) HashFiles(paths []string) []Query {
	queries := make([]Query, 0, len(paths))
	for _, path := range paths {
		hashHex, _, err := e.hasher.HashFile(path)
		if err != nil {
			log.Print(wrap("search", ErrHashCompute, err))
			continue
		}
		queries = append(queries, Query{Path: path, HashHex: hashHex})
	}
	return queries
}
