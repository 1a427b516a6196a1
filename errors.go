package revimg

import (
	"errors"
	"fmt"
)

// Error taxonomy. Store and configuration failures are fatal for the
// running operation; hash failures are per-file and skip that file; a
// corrupt persisted index forces a rebuild instead of aborting.
var (
	ErrStorage           = errors.New("revimg: metadata store failure")
	ErrHashCompute       = errors.New("revimg: hash computation failed")
	ErrCorruptIndex      = errors.New("revimg: persisted index is corrupt")
	ErrConfig            = errors.New("revimg: invalid configuration")
	ErrUnsupportedMethod = errors.New("revimg: unsupported method")
)

var (
	errNotBuilt = errors.New("metadata store not built")
	errNoIndex  = errors.New("index not loaded; run SyncIndex first")
)

// Error wraps errors with operation context.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("revimg.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// wrap tags err with an operation and a taxonomy sentinel.
func wrap(op string, sentinel, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: fmt.Errorf("%w: %v", sentinel, err)}
}
