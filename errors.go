package bundle

import "github.com/meigma/bundle/internal/bundletype"

// Sentinel errors re-exported from internal/bundletype.
//
// Every error returned by this package wraps one of these; match with errors.Is.
var (
	// ErrInvalidArgument is returned for missing or malformed caller input.
	ErrInvalidArgument = bundletype.ErrInvalidArgument

	// ErrNotFound is returned when a path or descriptor does not reference a live file.
	// It wraps fs.ErrNotExist.
	ErrNotFound = bundletype.ErrNotFound

	// ErrExist is returned when creating a path that already has a live file.
	// It wraps fs.ErrExist.
	ErrExist = bundletype.ErrExist

	// ErrClosed is returned for any operation on a closed bundle.
	// It wraps fs.ErrClosed.
	ErrClosed = bundletype.ErrClosed

	// ErrReadOnly is returned for mutating calls on a read-only bundle or descriptor.
	ErrReadOnly = bundletype.ErrReadOnly

	// ErrCorrupt is returned when the container fails to parse or verify.
	ErrCorrupt = bundletype.ErrCorrupt

	// ErrIO is returned when the storage backend fails.
	ErrIO = bundletype.ErrIO

	// ErrSizeOverflow is returned when a size or offset exceeds supported limits.
	ErrSizeOverflow = bundletype.ErrSizeOverflow
)
