package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBounds is returned when an object's box is inverted or out of range.
	ErrInvalidBounds = errors.New("invalid bounding box")
	// ErrInvalidRange is returned when clamping leaves no usable box.
	ErrInvalidRange = errors.New("invalid coordinate range")
	// ErrNoSnapshot means no state file exists for the layer.
	ErrNoSnapshot = errors.New("no saved snapshot")
	// ErrIncompatibleVersion means the state file was written by an unknown format version.
	ErrIncompatibleVersion = errors.New("incompatible snapshot version")
	// ErrCorruptSnapshot means the state file is structurally damaged.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	// ErrUnknownObject is returned for object kinds the codec does not know.
	ErrUnknownObject = errors.New("unknown object kind")
	ErrNotFound      = errors.New("not found")
)

// PersistenceError wraps an I/O failure during save, load or delete of a layer.
type PersistenceError struct {
	Op    string
	Layer string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Layer, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
