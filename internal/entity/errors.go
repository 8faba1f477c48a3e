package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a caller names an entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStoreReleased is returned when a child outlives its store.
	ErrStoreReleased = errors.New("store has been released")
)

func notFound(kind string, id []byte) error {
	return fmt.Errorf("%w: %s with id=%x", ErrNotFound, kind, id)
}
