// Package fingerprint defines the canonical fingerprint representation and
// the distance metrics used by the BK-tree index.
//
// A fingerprint is a fixed-length perceptual hash, canonically serialized as
// a lowercase hex string. The only operations the rest of the system needs
// are equality, parse/format, and a distance metric. The metric must satisfy
// the triangle inequality or the tree's pruning would drop valid matches.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"math/bits"
	"strings"
)

// Code is a decoded fingerprint.
type Code []byte

// Parse decodes a canonical hex fingerprint.
func Parse(s string) (Code, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parse fingerprint %q: %w", s, err)
	}
	return Code(b), nil
}

// String formats the fingerprint as its canonical hex form.
func (c Code) String() string {
	return hex.EncodeToString(c)
}

// Distance returns the Hamming distance between two fingerprints. The
// shorter operand is treated as zero-padded on the right, so fingerprints of
// different widths compare instead of failing.
func Distance(a, b Code) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	d := 0
	for i, x := range a {
		var y byte
		if i < len(b) {
			y = b[i]
		}
		d += bits.OnesCount8(x ^ y)
	}
	return d
}

// DistanceFunc computes the distance between two hex fingerprints.
type DistanceFunc func(a, b string) (int, error)

// HexDistance is the Hamming DistanceFunc over canonical hex fingerprints.
func HexDistance(a, b string) (int, error) {
	ca, err := Parse(a)
	if err != nil {
		return 0, err
	}
	cb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return Distance(ca, cb), nil
}

// Method identifies a distance metric. The set is closed: adding a metric
// means extending the enumeration and its Func handler.
type Method int

const (
	// Hamming is bitwise Hamming distance with right zero-padding.
	Hamming Method = iota
)

var methodNames = map[Method]string{
	Hamming: "hamming",
}

// ParseMethod resolves a distance method by name.
func ParseMethod(s string) (Method, error) {
	for m, name := range methodNames {
		if name == strings.ToLower(s) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown distance method %q", s)
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// Func returns the DistanceFunc implementing the method.
func (m Method) Func() DistanceFunc {
	switch m {
	case Hamming:
		return HexDistance
	default:
		return func(a, b string) (int, error) {
			return 0, fmt.Errorf("no distance function for %s", m)
		}
	}
}
