package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/bundle/internal/alloc"
	"github.com/meigma/bundle/internal/attr"
	"github.com/meigma/bundle/internal/fdtable"
	"github.com/meigma/bundle/internal/format"
	"github.com/meigma/bundle/internal/index"
	"github.com/meigma/bundle/internal/sizing"
	"github.com/meigma/bundle/internal/storage"
)

// HeaderSize is the size of the fixed container header.
const HeaderSize = format.HeaderSize

// Slot identifies a bundle-wide attribute.
type Slot = attr.Slot

// Attribute slots.
const (
	System  = attr.SlotSystem
	Public  = attr.SlotPublic
	Private = attr.SlotPrivate
)

// ParseSlot converts "System", "Public" or "Private" into a Slot.
var ParseSlot = attr.ParseSlot

// Backend is the raw container medium a bundle is stored on.
type Backend = storage.Backend

// MemoryBackend is a Backend held entirely in memory.
type MemoryBackend = storage.Memory

// NewMemoryBackend returns a writable in-memory backend holding a copy of data.
// Pass nil to start from an empty container.
func NewMemoryBackend(data []byte) *MemoryBackend {
	return storage.NewMemory(data)
}

// Bundle is an open container session.
//
// A Bundle is not safe for concurrent use; see Async.
type Bundle struct {
	backend storage.Backend
	name    string
	cfg     config
	log     *slog.Logger

	header *format.Header
	idx    *index.Index
	attrs  *attr.Store
	alloc  *alloc.Allocator
	fds    *fdtable.Table

	dirty  bool
	closed bool
}

// Open opens the container at path, creating it unless WithReadOnly or
// WithCreate(false) is given.
//
// A missing container yields ErrNotFound; a container that fails to verify
// yields ErrCorrupt.
func Open(path string, opts ...Option) (*Bundle, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty container path", ErrInvalidArgument)
	}

	f, err := storage.OpenFile(path, storage.FileOptions{
		ReadOnly: cfg.readOnly,
		Create:   cfg.create && !cfg.readOnly,
		Lock:     cfg.locking,
		Mode:     cfg.mode,
	})
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			err = ErrNotFound
		case errors.Is(err, storage.ErrLocked):
			loggerOrDiscard(cfg.logger).Warn("container is locked by another handle", slog.String("path", path))
			err = fmt.Errorf("%w: %w", ErrIO, err)
		default:
			err = fmt.Errorf("%w: %w", ErrIO, err)
		}
		return nil, &fs.PathError{Op: "open", Path: path, Err: err}
	}

	b, err := newBundle(f, path, cfg)
	if err != nil {
		f.Close()
		return nil, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	return b, nil
}

// OpenBackend opens a bundle stored on backend.
//
// An empty backend is initialized as a new container unless the bundle is
// read-only. Closing the bundle closes the backend; on error the backend is
// left open.
func OpenBackend(backend Backend, opts ...Option) (*Bundle, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidArgument)
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newBundle(backend, "", cfg)
}

func newBundle(backend storage.Backend, name string, cfg config) (*Bundle, error) {
	b := &Bundle{
		backend: backend,
		name:    name,
		cfg:     cfg,
		log:     loggerOrDiscard(cfg.logger),
	}
	b.fds = fdtable.New(extentIO{b})

	if backend.Size() == 0 {
		if cfg.readOnly {
			return nil, fmt.Errorf("%w: empty container", ErrCorrupt)
		}
		if err := b.initialize(); err != nil {
			return nil, err
		}
		return b, nil
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func loggerOrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}

// check fails fast on a closed bundle.
func (b *Bundle) check() error {
	if b.closed {
		return ErrClosed
	}
	return nil
}

// checkWritable fails fast on a closed or read-only bundle.
func (b *Bundle) checkWritable() error {
	if err := b.check(); err != nil {
		return err
	}
	if b.cfg.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (b *Bundle) descriptorMode() fdtable.Mode {
	if b.cfg.readOnly {
		return fdtable.ModeRead
	}
	return fdtable.ModeReadWrite
}

// Close commits pending changes, releases every descriptor, and closes the
// backend. Any later call fails with ErrClosed.
func (b *Bundle) Close() error {
	if err := b.check(); err != nil {
		return err
	}
	b.closed = true
	b.fds.CloseAll()

	var errs []error
	if !b.cfg.readOnly {
		if b.dirty {
			if err := b.commit(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := b.backend.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("%w: sync: %w", ErrIO, err))
		}
	}
	if err := b.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close: %w", ErrIO, err))
	}
	b.log.Debug("bundle closed", slog.String("path", b.name))
	return errors.Join(errs...)
}

// Sync commits pending length changes and flushes the backend.
// It is a no-op on a read-only bundle.
func (b *Bundle) Sync() error {
	if err := b.check(); err != nil {
		return err
	}
	if b.cfg.readOnly {
		return nil
	}
	if b.dirty {
		return b.commit()
	}
	if err := b.backend.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", ErrIO, err)
	}
	return nil
}

// ReadOnly reports whether the bundle was opened without write access.
func (b *Bundle) ReadOnly() bool {
	return b.cfg.readOnly
}

// GetFiles returns the paths of all live files in creation order.
func (b *Bundle) GetFiles() ([]string, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return b.idx.List(), nil
}

// GetFileSize returns the logical length of the file at path.
func (b *Bundle) GetFileSize(path string) (int64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	e, err := b.lookup("stat", path)
	if err != nil {
		return 0, err
	}
	n, err := sizing.ToInt64(e.Length, ErrSizeOverflow)
	if err != nil {
		return 0, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return n, nil
}

func (b *Bundle) lookup(op, path string) (*index.Entry, error) {
	if path == "" {
		return nil, &fs.PathError{Op: op, Path: path, Err: fmt.Errorf("%w: empty path", ErrInvalidArgument)}
	}
	e, ok := b.idx.Lookup(path)
	if !ok {
		return nil, &fs.PathError{Op: op, Path: path, Err: ErrNotFound}
	}
	return e, nil
}

// GetBundleAttribute returns a copy of the blob stored in slot.
// An attribute that was never set is empty.
func (b *Bundle) GetBundleAttribute(slot Slot) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return b.attrs.Get(slot)
}

// SetBundleAttribute replaces the blob stored in slot and commits.
// Other slots are left untouched.
func (b *Bundle) SetBundleAttribute(slot Slot, data []byte) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	if !slot.Valid() {
		return fmt.Errorf("%w: unknown attribute slot %d", ErrInvalidArgument, slot)
	}
	prev, _ := b.attrs.Get(slot)
	if err := b.attrs.Set(slot, data); err != nil {
		return err
	}
	if err := b.commit(); err != nil {
		_ = b.attrs.Set(slot, prev)
		return err
	}
	return nil
}

// CreateFile creates an empty file at path and opens it for writing.
//
// A path that already has a live file yields ErrExist; use OpenOrCreateFile
// to open it instead.
func (b *Bundle) CreateFile(path string) (int, error) {
	if err := b.checkWritable(); err != nil {
		return 0, err
	}
	if path == "" {
		return 0, &fs.PathError{Op: "create", Path: path, Err: fmt.Errorf("%w: empty path", ErrInvalidArgument)}
	}
	if _, ok := b.idx.Lookup(path); ok {
		return 0, &fs.PathError{Op: "create", Path: path, Err: ErrExist}
	}

	e := &index.Entry{Path: path}
	if err := b.idx.Insert(e); err != nil {
		return 0, &fs.PathError{Op: "create", Path: path, Err: err}
	}
	if err := b.commit(); err != nil {
		b.idx.Remove(e)
		return 0, &fs.PathError{Op: "create", Path: path, Err: err}
	}
	return b.fds.Open(e, fdtable.ModeReadWrite), nil
}

// OpenFile opens the live file at path and returns a descriptor with its
// cursor at 0. The descriptor is read-only on a read-only bundle.
func (b *Bundle) OpenFile(path string) (int, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	e, err := b.lookup("open", path)
	if err != nil {
		return 0, err
	}
	return b.fds.Open(e, b.descriptorMode()), nil
}

// OpenOrCreateFile opens the live file at path, creating it first if needed.
func (b *Bundle) OpenOrCreateFile(path string) (int, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	if _, ok := b.idx.Lookup(path); ok {
		return b.OpenFile(path)
	}
	return b.CreateFile(path)
}

// DeleteFile removes the live file at path and commits.
//
// The file's space stays reserved until Purge. Descriptors still open on
// the file fail with ErrNotFound.
func (b *Bundle) DeleteFile(path string) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	if _, err := b.lookup("delete", path); err != nil {
		return err
	}
	e, err := b.idx.MarkDeleted(path)
	if err != nil {
		return &fs.PathError{Op: "delete", Path: path, Err: err}
	}
	if err := b.commit(); err != nil {
		_ = b.idx.Restore(e)
		return &fs.PathError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

// Purge drops every tombstone and makes its space reusable.
// It returns the number of tombstones dropped.
//
// If the commit fails the tombstones stay dropped in memory and their space
// stays reserved; the next Sync or Close commits the purge.
func (b *Bundle) Purge() (int, error) {
	if err := b.checkWritable(); err != nil {
		return 0, err
	}
	dropped := b.idx.Purge()
	if len(dropped) == 0 {
		return 0, nil
	}
	for _, e := range dropped {
		b.alloc.Free(e.Data)
		b.alloc.Free(e.Props)
	}
	b.dirty = true
	if err := b.commit(); err != nil {
		return 0, err
	}
	b.log.Debug("purged tombstones", slog.Int("count", len(dropped)))
	return len(dropped), nil
}

// Stats is a snapshot of a bundle's bookkeeping.
type Stats struct {
	// Files is the number of live files.
	Files int

	// Tombstones is the number of deleted files whose space is still reserved.
	Tombstones int

	// OpenDescriptors is the number of open descriptors.
	OpenDescriptors int

	// ContainerSize is the size of the container in bytes.
	ContainerSize int64

	// DataEnd is the high-water mark of allocated space.
	DataEnd uint64

	// FreeBytes is the space available for reuse.
	FreeBytes uint64

	// FreeExtents is the number of free extents.
	FreeExtents int

	// PendingBytes is space freed since the last commit, reusable after the next.
	PendingBytes uint64

	// Generation is the commit counter of the last committed header.
	Generation uint64

	// AttributesDigest is the digest of the committed attribute section.
	AttributesDigest digest.Digest

	// IndexDigest is the digest of the committed index section.
	IndexDigest digest.Digest
}

// Stats returns a snapshot of the bundle's bookkeeping.
func (b *Bundle) Stats() (Stats, error) {
	if err := b.check(); err != nil {
		return Stats{}, err
	}
	as := b.alloc.Stats()
	return Stats{
		Files:            b.idx.Len(),
		Tombstones:       b.idx.Tombstones(),
		OpenDescriptors:  b.fds.Len(),
		ContainerSize:    b.backend.Size(),
		DataEnd:          as.End,
		FreeBytes:        as.FreeBytes,
		FreeExtents:      as.FreeExtents,
		PendingBytes:     as.PendingBytes,
		Generation:       b.header.Generation,
		AttributesDigest: b.header.Attributes.Digest,
		IndexDigest:      b.header.Index.Digest,
	}, nil
}
