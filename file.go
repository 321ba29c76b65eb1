package bundle

import "fmt"

// Seek moves the cursor of fd to the absolute position pos.
//
// Positions past the end of the file are allowed; a later write fills the
// gap with zeros. A negative position yields ErrInvalidArgument.
func (b *Bundle) Seek(fd int, pos int64) error {
	if err := b.check(); err != nil {
		return err
	}
	return b.fds.Seek(fd, pos)
}

// SeekFrom moves the cursor of fd relative to whence (io.SeekStart,
// io.SeekCurrent or io.SeekEnd) and returns the new absolute position.
func (b *Bundle) SeekFrom(fd int, offset int64, whence int) (int64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	return b.fds.SeekFrom(fd, offset, whence)
}

// ReadBlock reads up to size bytes at the cursor of fd and advances it.
//
// Fewer bytes are returned near the end of the file and none at or past
// it; neither is an error.
func (b *Bundle) ReadBlock(fd, size int) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return b.fds.Read(fd, size)
}

// WriteBlock writes p at the cursor of fd and advances it, growing the file
// as needed. It returns len(p) on success. A zero-length write does nothing.
func (b *Bundle) WriteBlock(fd int, p []byte) (int, error) {
	if err := b.checkWritable(); err != nil {
		return 0, err
	}
	return b.fds.Write(fd, p)
}

// Truncate sets the length of the file behind fd. Growing fills with zeros.
// Cursors are not moved.
func (b *Bundle) Truncate(fd int, size int64) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	return b.fds.Truncate(fd, size)
}

// GetFileProperties returns the properties blob of the file behind fd.
// A file whose properties were never set has an empty blob.
func (b *Bundle) GetFileProperties(fd int) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	d, err := b.fds.Get(fd)
	if err != nil {
		return nil, err
	}
	return b.readExtent(d.Entry.Props)
}

// SetFileProperties replaces the properties blob of the file behind fd and commits.
func (b *Bundle) SetFileProperties(fd int, props []byte) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	d, err := b.fds.Get(fd)
	if err != nil {
		return err
	}
	e := d.Entry

	ext, err := b.writeSection(props)
	if err != nil {
		return fmt.Errorf("set properties of %q: %w", e.Path, err)
	}
	prev := e.Props
	e.Props = ext
	if err := b.commit(); err != nil {
		e.Props = prev
		b.alloc.Free(ext)
		return fmt.Errorf("set properties of %q: %w", e.Path, err)
	}
	// Reusable after the next commit.
	b.alloc.Free(prev)
	return nil
}

// CloseFile releases fd. Closing a descriptor whose file was deleted succeeds.
func (b *Bundle) CloseFile(fd int) error {
	if err := b.check(); err != nil {
		return err
	}
	return b.fds.Close(fd)
}

// ReadFile returns the whole data stream of the file at path.
func (b *Bundle) ReadFile(path string) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	e, err := b.lookup("read", path)
	if err != nil {
		return nil, err
	}
	return b.readExtent(dataExtent(e))
}

// FileProperties returns the properties blob of the file at path.
func (b *Bundle) FileProperties(path string) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	e, err := b.lookup("read", path)
	if err != nil {
		return nil, err
	}
	return b.readExtent(e.Props)
}
