package bundle

import (
	"fmt"

	"github.com/meigma/bundle/internal/alloc"
	"github.com/meigma/bundle/internal/fdtable"
	"github.com/meigma/bundle/internal/index"
	"github.com/meigma/bundle/internal/sizing"
	"github.com/meigma/bundle/internal/storage"
)

const (
	// minDataExtent is the smallest data extent given to a file.
	minDataExtent = 256

	// maxGrowSlack caps the spare capacity added when a data extent grows.
	maxGrowSlack = 1 << 20

	zeroChunk = 64 << 10
)

// extentIO performs data I/O for descriptors against the bundle's backend.
type extentIO struct {
	b *Bundle
}

var _ fdtable.DataStore = extentIO{}

func (x extentIO) ReadData(e *index.Entry, p []byte, off uint64) error {
	return x.b.readAt(p, e.Data.Offset+off)
}

func (x extentIO) WriteData(e *index.Entry, p []byte, off uint64) error {
	b := x.b
	end := off + uint64(len(p))
	structural := false

	if end > e.Data.Length {
		if err := b.growData(e, end); err != nil {
			return err
		}
		structural = true
	}
	if off > e.Length {
		if err := b.zeroFill(e.Data.Offset+e.Length, off-e.Length); err != nil {
			return err
		}
	}
	if err := b.writeAt(p, e.Data.Offset+off); err != nil {
		return err
	}
	if end > e.Length {
		e.Length = end
		structural = true
	}
	if structural {
		return b.changed()
	}
	return nil
}

func (x extentIO) TruncateData(e *index.Entry, size uint64) error {
	b := x.b
	if size > e.Length {
		if size > e.Data.Length {
			if err := b.growData(e, size); err != nil {
				return err
			}
		}
		if err := b.zeroFill(e.Data.Offset+e.Length, size-e.Length); err != nil {
			return err
		}
	}
	e.Length = size
	return b.changed()
}

// growData gives e a data extent of at least need bytes, keeping its live bytes.
func (b *Bundle) growData(e *index.Entry, need uint64) error {
	ext, err := b.alloc.Grow(e.Data, growCapacity(e.Data.Length, need), e.Length)
	if err != nil {
		return fmt.Errorf("grow %q: %w", e.Path, err)
	}
	if ext != e.Data {
		e.Data = ext
		b.dirty = true
	}
	return nil
}

// growCapacity picks the new capacity of a data extent that must hold need
// bytes: at least minDataExtent, doubling the current capacity while the
// spare space stays under maxGrowSlack.
func growCapacity(capacity, need uint64) uint64 {
	c := max(need, minDataExtent)
	if doubled, ok := sizing.AddUint64(capacity, capacity); ok && doubled > c {
		c = min(doubled, need+maxGrowSlack)
	}
	return c
}

// zeroFill writes n zero bytes at off.
func (b *Bundle) zeroFill(off, n uint64) error {
	zeros := make([]byte, min(n, zeroChunk))
	for n > 0 {
		chunk := zeros[:min(n, uint64(len(zeros)))]
		if err := b.writeAt(chunk, off); err != nil {
			return err
		}
		off += uint64(len(chunk))
		n -= uint64(len(chunk))
	}
	return nil
}

func (b *Bundle) readAt(p []byte, off uint64) error {
	pos, err := sizing.ToInt64(off, ErrSizeOverflow)
	if err != nil {
		return err
	}
	if err := storage.ReadFull(b.backend, p, pos); err != nil {
		return fmt.Errorf("%w: read %d bytes at %d: %w", ErrIO, len(p), pos, err)
	}
	return nil
}

func (b *Bundle) writeAt(p []byte, off uint64) error {
	pos, err := sizing.ToInt64(off, ErrSizeOverflow)
	if err != nil {
		return err
	}
	if _, err := b.backend.WriteAt(p, pos); err != nil {
		return fmt.Errorf("%w: write %d bytes at %d: %w", ErrIO, len(p), pos, err)
	}
	return nil
}

// dataExtent returns the live part of e's data extent.
func dataExtent(e *index.Entry) alloc.Extent {
	return alloc.Extent{Offset: e.Data.Offset, Length: e.Length}
}

// readExtent returns the bytes held in ext.
func (b *Bundle) readExtent(ext alloc.Extent) ([]byte, error) {
	n, err := sizing.ToInt(ext.Length, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if err := b.readAt(buf, ext.Offset); err != nil {
		return nil, err
	}
	return buf, nil
}
