package storage

import "errors"

// ErrObjectNotFound is returned by MemoryBlobs for unknown keys.
var ErrObjectNotFound = errors.New("object not found")
