package hierarchy

import (
	"errors"

	"github.com/jacentio/arbor/store"
)

var (
	// ErrNotFound is returned when a hierarchy node or its entity record does
	// not exist. It is the store's not-found error, re-exported so callers of
	// this package have a local name for it.
	ErrNotFound = store.ErrNotFound

	// ErrCircularReference is returned when an insert or move would make a
	// node its own ancestor.
	ErrCircularReference = errors.New("arbor: circular reference")

	// ErrAlreadyExists is returned when adding a node whose identifier is
	// already present in the tree.
	ErrAlreadyExists = errors.New("arbor: entity already exists")
)
