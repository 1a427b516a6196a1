// Package imghash computes perceptual-hash fingerprints for image files.
//
// Hashing is delegated to goimagehash; this package only selects the method,
// normalizes the output to the canonical hex form, and handles file decode.
package imghash

import (
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/corona10/goimagehash"

	// Decoders for the image formats the scanner admits.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const bytesPerMiB = 1 << 20

// Supported hash methods.
const (
	MethodAverage    = "ahash"
	MethodDifference = "dhash"
	MethodPerception = "phash"
)

// DefaultSize is the default hash size; a size of n yields an n*n-bit hash.
const DefaultSize = 8

// Hasher computes fingerprints with a fixed method and size. It is
// deterministic: the same pixels always produce the same fingerprint.
type Hasher struct {
	method string
	size   int
}

// New selects a hashing method. Unknown methods are rejected rather than
// silently defaulted; a store built with one method is useless under another.
func New(method string, size int) (*Hasher, error) {
	switch strings.ToLower(method) {
	case MethodAverage, MethodDifference, MethodPerception:
	default:
		return nil, fmt.Errorf("unknown hash method %q", method)
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Hasher{method: strings.ToLower(method), size: size}, nil
}

// HashImage fingerprints a decoded image, returning the canonical
// fixed-width hex string.
func (h *Hasher) HashImage(img image.Image) (string, error) {
	if h.size == DefaultSize {
		var ih *goimagehash.ImageHash
		var err error
		switch h.method {
		case MethodAverage:
			ih, err = goimagehash.AverageHash(img)
		case MethodDifference:
			ih, err = goimagehash.DifferenceHash(img)
		case MethodPerception:
			ih, err = goimagehash.PerceptionHash(img)
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%016x", ih.GetHash()), nil
	}

	var eh *goimagehash.ExtImageHash
	var err error
	switch h.method {
	case MethodAverage:
		eh, err = goimagehash.ExtAverageHash(img, h.size, h.size)
	case MethodDifference:
		eh, err = goimagehash.ExtDifferenceHash(img, h.size, h.size)
	case MethodPerception:
		eh, err = goimagehash.ExtPerceptionHash(img, h.size, h.size)
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, word := range eh.GetHash() {
		fmt.Fprintf(&sb, "%016x", word)
	}
	return sb.String(), nil
}

// HashFile opens, decodes and fingerprints an image file, returning the hex
// fingerprint and the file size in MiB.
func (h *Hasher) HashFile(path string) (string, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", 0, err
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return "", 0, fmt.Errorf("decode %s: %w", path, err)
	}

	hex, err := h.HashImage(img)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex, float64(fi.Size()) / bytesPerMiB, nil
}
