package bundletype

import (
	"errors"
	"fmt"
	"io/fs"
)

// Sentinel errors for bundle operations.
//
// Every error returned by the engine wraps exactly one of these kinds.
var (
	// ErrInvalidArgument is returned for missing or malformed caller input.
	// It is always detected before the container is touched.
	ErrInvalidArgument = errors.New("bundle: invalid argument")

	// ErrNotFound is returned when a path or descriptor does not reference a live entry.
	ErrNotFound = fmt.Errorf("bundle: %w", fs.ErrNotExist)

	// ErrExist is returned when creating a path that already has a live entry.
	ErrExist = fmt.Errorf("bundle: %w", fs.ErrExist)

	// ErrClosed is returned for any operation on a closed bundle.
	ErrClosed = fmt.Errorf("bundle: %w", fs.ErrClosed)

	// ErrReadOnly is returned for mutating calls on a read-only bundle or descriptor.
	ErrReadOnly = errors.New("bundle: read-only")

	// ErrCorrupt is returned when the header, a metadata section, or an
	// index record fails to parse or verify.
	ErrCorrupt = errors.New("bundle: corrupt container")

	// ErrIO is returned when the storage backend fails.
	ErrIO = errors.New("bundle: i/o failure")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("bundle: size overflow")
)
