package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/meigma/bundle/internal/bundletype"
)

// DefaultFileMode is the permission used for newly created containers.
const DefaultFileMode fs.FileMode = 0o644

// FileOptions configures OpenFile.
type FileOptions struct {
	// ReadOnly opens the container without write access.
	ReadOnly bool

	// Create creates the container when it does not exist. Ignored when ReadOnly is set.
	Create bool

	// Lock takes an advisory lock on the container: shared for read-only
	// opens, exclusive otherwise.
	Lock bool

	// Mode is the permission for a newly created container (default 0o644).
	Mode fs.FileMode
}

// File is a Backend over an operating system file.
type File struct {
	f        *os.File
	size     int64
	readOnly bool
	locked   bool
	closed   bool
}

var _ Backend = (*File)(nil)

// OpenFile opens the container at path.
//
// A missing container yields an error wrapping fs.ErrNotExist unless
// opts.Create is set on a writable open. A held lock yields ErrLocked.
func OpenFile(path string, opts FileOptions) (*File, error) {
	flag := os.O_RDWR
	if opts.ReadOnly {
		flag = os.O_RDONLY
	} else if opts.Create {
		flag |= os.O_CREATE
	}
	mode := opts.Mode
	if mode == 0 {
		mode = DefaultFileMode
	}

	f, err := os.OpenFile(path, flag, mode)
	if err != nil {
		return nil, err
	}

	if opts.Lock {
		if err := lockFile(f, !opts.ReadOnly); err != nil {
			f.Close()
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
	}

	info, err := f.Stat()
	if err != nil {
		if opts.Lock {
			_ = unlockFile(f)
		}
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, &fs.PathError{Op: "open", Path: path, Err: errors.New("is a directory")}
	}

	return &File{
		f:        f,
		size:     info.Size(),
		readOnly: opts.ReadOnly,
		locked:   opts.Lock,
	}, nil
}

// Name returns the path the file was opened with.
func (b *File) Name() string {
	return b.f.Name()
}

// ReadAt implements io.ReaderAt.
func (b *File) ReadAt(p []byte, off int64) (int, error) {
	if b.closed {
		return 0, os.ErrClosed
	}
	return b.f.ReadAt(p, off)
}

// WriteAt implements io.WriterAt. Writes on a read-only file fail with ErrReadOnly.
func (b *File) WriteAt(p []byte, off int64) (int, error) {
	if b.closed {
		return 0, os.ErrClosed
	}
	if b.readOnly {
		return 0, bundletype.ErrReadOnly
	}
	n, err := b.f.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, io.ErrShortWrite
	}
	if end := off + int64(n); end > b.size {
		b.size = end
	}
	return n, nil
}

// Size returns the current file size.
func (b *File) Size() int64 {
	return b.size
}

// Extend grows the file to at least size bytes.
func (b *File) Extend(size int64) error {
	if b.closed {
		return os.ErrClosed
	}
	if b.readOnly {
		return bundletype.ErrReadOnly
	}
	if size <= b.size {
		return nil
	}
	if err := b.f.Truncate(size); err != nil {
		return err
	}
	b.size = size
	return nil
}

// Sync commits the file contents to stable storage.
func (b *File) Sync() error {
	if b.closed {
		return os.ErrClosed
	}
	if b.readOnly {
		return nil
	}
	return b.f.Sync()
}

// Close releases the lock and closes the file.
func (b *File) Close() error {
	if b.closed {
		return os.ErrClosed
	}
	b.closed = true
	var lockErr error
	if b.locked {
		lockErr = unlockFile(b.f)
	}
	if err := b.f.Close(); err != nil {
		return err
	}
	return lockErr
}
