package revimg

import (
	"context"
	"path/filepath"
	"sort"
)

// Mode selects how matches are found.
type Mode int

const (
	// ModeTree answers queries from the BK-tree with a distance bound.
	ModeTree Mode = iota
	// ModeExact answers radius-zero queries by direct fingerprint lookup
	// in the metadata store.
	ModeExact
)

// Query is one query file and its fingerprint.
type Query struct {
	Path    string
	HashHex string
}

// Match is one matched index location.
type Match struct {
	Distance  int
	Directory string
	Filename  string
}

// Path joins the match into a file path.
func (m Match) Path() string {
	return filepath.Join(m.Directory, m.Filename)
}

// Result collects, for one distinct query fingerprint, every query file
// that produced it and every index location within radius.
type Result struct {
	HashHex    string
	QueryPaths []string
	Matches    []Match
}

// Search answers the given queries. Distinct fingerprints are looked up
// once; each Result keeps the query paths that produced its fingerprint in
// first-seen order. Exact mode requires radius zero and probes the metadata
// store directly; every other combination searches the tree. Matches are
// sorted by distance, then location, for stable output.
func (e *Engine) Search(ctx context.Context, queries []Query, mode Mode, radius int) ([]Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var order []string
	paths := make(map[string][]string)
	seen := make(map[string]map[string]bool)
	for _, q := range queries {
		if _, ok := paths[q.HashHex]; !ok {
			order = append(order, q.HashHex)
			seen[q.HashHex] = make(map[string]bool)
		}
		if !seen[q.HashHex][q.Path] {
			seen[q.HashHex][q.Path] = true
			paths[q.HashHex] = append(paths[q.HashHex], q.Path)
		}
	}

	exact := mode == ModeExact && radius == 0
	if !exact && e.tree == nil {
		return nil, &Error{Op: "search", Err: errNoIndex}
	}

	results := make([]Result, 0, len(order))
	for _, hashHex := range order {
		var matches []Match
		if exact {
			locs, err := e.store.LookupHash(ctx, hashHex)
			if err != nil {
				return nil, wrap("search", ErrStorage, err)
			}
			for _, l := range locs {
				matches = append(matches, Match{Directory: l.Directory, Filename: l.Filename})
			}
		} else {
			found, err := e.tree.Query(hashHex, radius)
			if err != nil {
				return nil, wrap("search", ErrStorage, err)
			}
			for _, m := range found {
				matches = append(matches, Match{
					Distance:  m.Distance,
					Directory: m.Entry.Directory,
					Filename:  m.Entry.Filename,
				})
			}
		}

		sort.Slice(matches, func(i, j int) bool {
			if matches[i].Distance != matches[j].Distance {
				return matches[i].Distance < matches[j].Distance
			}
			if matches[i].Directory != matches[j].Directory {
				return matches[i].Directory < matches[j].Directory
			}
			return matches[i].Filename < matches[j].Filename
		})

		results = append(results, Result{
			HashHex:    hashHex,
			QueryPaths: paths[hashHex],
			Matches:    matches,
		})
	}
	return results, nil
}
