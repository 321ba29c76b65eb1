package bundle

import (
	"io/fs"
	"log/slog"

	"github.com/meigma/bundle/internal/storage"
)

// Option configures Open and OpenBackend.
type Option func(*config)

type config struct {
	readOnly   bool
	create     bool
	lazyCommit bool
	locking    bool
	mode       fs.FileMode
	logger     *slog.Logger
}

func defaultConfig() config {
	return config{
		create:  true,
		locking: true,
		mode:    storage.DefaultFileMode,
	}
}

// WithReadOnly opens the bundle without write access.
//
// Every mutating call on a read-only bundle fails with ErrReadOnly and no
// bytes are written to the container.
func WithReadOnly(readOnly bool) Option {
	return func(c *config) {
		c.readOnly = readOnly
	}
}

// WithCreate controls whether Open creates a missing container.
// Default: true. Ignored for read-only opens, which never create.
func WithCreate(create bool) Option {
	return func(c *config) {
		c.create = create
	}
}

// WithLazyCommit defers the commit of data writes and truncations that
// change a file's length or extent until Sync or Close.
//
// Structural changes are always committed immediately. A crash before the
// next commit loses the length changes made since the last one.
func WithLazyCommit(lazy bool) Option {
	return func(c *config) {
		c.lazyCommit = lazy
	}
}

// WithLocking controls the advisory lock taken on the container file.
// Writable opens take an exclusive lock, read-only opens a shared one.
// Default: true. Has no effect on platforms without flock.
func WithLocking(locking bool) Option {
	return func(c *config) {
		c.locking = locking
	}
}

// WithFileMode sets the permission of a newly created container.
// Default: 0o644.
func WithFileMode(mode fs.FileMode) Option {
	return func(c *config) {
		c.mode = mode
	}
}

// WithLogger sets a logger for open, commit and purge events.
// A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
