package store

import "path/filepath"

// Key is the composite primary key identifying an image file.
type Key struct {
	Directory string // absolute path of the containing directory
	Filename  string // base name, extension included
}

// KeyFor splits a file path into its composite key.
func KeyFor(path string) Key {
	return Key{Directory: filepath.Dir(path), Filename: filepath.Base(path)}
}

// Path joins the key back into a file path.
func (k Key) Path() string {
	return filepath.Join(k.Directory, k.Filename)
}

// Record is one row of the metadata store.
type Record struct {
	Key     Key
	HashHex string
	SizeMiB float64
	Present bool
}

// Entry is the triple mirrored into the metric index. It is a comparable
// value type so snapshots of the store and the index compare as plain sets.
type Entry struct {
	HashHex   string
	Directory string
	Filename  string
}

// Entry derives the index entry for a record.
func (r Record) Entry() Entry {
	return Entry{HashHex: r.HashHex, Directory: r.Key.Directory, Filename: r.Key.Filename}
}

// Location identifies a matched file.
type Location struct {
	Directory string
	Filename  string
}

// Path joins the location into a file path.
func (l Location) Path() string {
	return filepath.Join(l.Directory, l.Filename)
}
