// Package bktree implements a BK-tree: a tree over a discrete metric space
// that answers bounded-distance queries with triangle-inequality pruning.
//
// Nodes live in a contiguous arena and refer to children by arena index,
// with each node holding a map from edge distance to child. That keeps the
// structure flat for serialization and avoids pointer chasing.
package bktree

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"revimg/store"
)

// DistanceFunc computes the metric between two hex fingerprints. It must
// satisfy the triangle inequality; query pruning is incorrect otherwise.
type DistanceFunc func(a, b string) (int, error)

// node is an arena slot. Fields are exported for gob serialization.
type node struct {
	Entry    store.Entry
	Children map[int]int // edge distance -> child arena index
}

// Tree is a BK-tree over index entries. The root of a non-empty tree is
// arena slot 0.
type Tree struct {
	nodes []node
	dist  DistanceFunc
}

// Match is one query result.
type Match struct {
	Distance int
	Entry    store.Entry
}

// New creates an empty tree using the given metric.
func New(dist DistanceFunc) *Tree {
	return &Tree{dist: dist}
}

// Len returns the number of entries in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Insert adds an entry. Starting at the root, it descends along the edge
// labelled with the entry's distance to each node until no such edge exists,
// then attaches a leaf there. The first entry becomes the root.
func (t *Tree) Insert(e store.Entry) error {
	if len(t.nodes) == 0 {
		t.nodes = append(t.nodes, node{Entry: e, Children: make(map[int]int)})
		return nil
	}

	cur := 0
	for {
		d, err := t.dist(e.HashHex, t.nodes[cur].Entry.HashHex)
		if err != nil {
			return err
		}
		child, ok := t.nodes[cur].Children[d]
		if !ok {
			idx := len(t.nodes)
			t.nodes = append(t.nodes, node{Entry: e, Children: make(map[int]int)})
			t.nodes[cur].Children[d] = idx
			return nil
		}
		cur = child
	}
}

// Query returns every entry within radius of the target fingerprint, each
// exactly once. A subtree under edge c is visited only when |c - d0| <=
// radius; by the triangle inequality nothing outside that band can match.
// Result order is unspecified.
func (t *Tree) Query(hashHex string, radius int) ([]Match, error) {
	if len(t.nodes) == 0 {
		return nil, nil
	}

	var matches []Match
	pending := []int{0}
	for len(pending) > 0 {
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		d, err := t.dist(hashHex, t.nodes[cur].Entry.HashHex)
		if err != nil {
			return nil, err
		}
		if d <= radius {
			matches = append(matches, Match{Distance: d, Entry: t.nodes[cur].Entry})
		}
		for edge, child := range t.nodes[cur].Children {
			if edge >= d-radius && edge <= d+radius {
				pending = append(pending, child)
			}
		}
	}
	return matches, nil
}

// Entries extracts the full entry set for consistency checks against the
// metadata store.
func (t *Tree) Entries() map[store.Entry]struct{} {
	set := make(map[store.Entry]struct{}, len(t.nodes))
	for _, n := range t.nodes {
		set[n.Entry] = struct{}{}
	}
	return set
}

// RebuildFrom discards the tree and reinserts the given entries in order.
// Insertion order affects tree shape, not query results.
func (t *Tree) RebuildFrom(entries []store.Entry) error {
	t.nodes = nil
	for _, e := range entries {
		if err := t.Insert(e); err != nil {
			return err
		}
	}
	return nil
}

// treeData is the serializable representation of the tree.
type treeData struct {
	Nodes []node
}

// Marshal serializes the tree.
func (t *Tree) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(treeData{Nodes: t.nodes}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal deserializes the tree, replacing its contents. The metric is
// kept from the receiver; only structure and entries are stored.
func (t *Tree) Unmarshal(data []byte) error {
	var d treeData
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}
	t.nodes = d.Nodes
	return nil
}

// Save writes the serialized tree to path. The write goes to a temp file
// renamed into place, so a crash never leaves a torn index behind.
func (t *Tree) Save(path string) error {
	data, err := t.Marshal()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// LoadFile reads a tree saved by Save. Read errors are returned as-is;
// decode errors mean the stored index is corrupt.
func LoadFile(path string, dist DistanceFunc) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := New(dist)
	if err := t.Unmarshal(data); err != nil {
		return nil, err
	}
	return t, nil
}
