// Package fdtable tracks open file descriptors of a bundle session.
//
// Descriptors are small integers indexing a slot array. A closed slot is
// reused by the next Open. Each descriptor carries its own cursor; all
// descriptors on the same entry share its data, so writes through one are
// visible through every other.
package fdtable

import (
	"fmt"
	"io"

	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/index"
	"github.com/meigma/bundle/internal/sizing"
)

// Mode is the access mode of a descriptor.
type Mode uint8

const (
	// ModeRead allows reads and seeks only.
	ModeRead Mode = iota + 1
	// ModeReadWrite additionally allows writes and truncation.
	ModeReadWrite
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeReadWrite:
		return "readwrite"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// DataStore performs extent I/O for the entries behind descriptors.
//
// Offsets passed to ReadData always lie inside the logical length of the
// entry. WriteData may start past the logical length; the gap must read
// back as zeros. WriteData and TruncateData update the entry's length and
// extent.
type DataStore interface {
	ReadData(e *index.Entry, p []byte, off uint64) error
	WriteData(e *index.Entry, p []byte, off uint64) error
	TruncateData(e *index.Entry, size uint64) error
}

// Descriptor is one open handle on a file entry.
type Descriptor struct {
	ID     int
	Entry  *index.Entry
	Cursor uint64
	Mode   Mode
}

// Table is the descriptor slot map.
type Table struct {
	store DataStore
	slots []*Descriptor
	open  int
}

// New returns an empty table performing I/O through store.
func New(store DataStore) *Table {
	return &Table{store: store}
}

// Open binds a new descriptor to e and returns its ID.
func (t *Table) Open(e *index.Entry, mode Mode) int {
	d := &Descriptor{Entry: e, Mode: mode}
	t.open++
	for i, s := range t.slots {
		if s == nil {
			d.ID = i + 1
			t.slots[i] = d
			return d.ID
		}
	}
	t.slots = append(t.slots, d)
	d.ID = len(t.slots)
	return d.ID
}

// Len returns the number of open descriptors.
func (t *Table) Len() int {
	return t.open
}

// Get returns the descriptor for id.
//
// Unknown IDs yield ErrNotFound. A descriptor whose entry has been deleted
// also yields ErrNotFound; it can still be closed.
func (t *Table) Get(id int) (*Descriptor, error) {
	d, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	if d.Entry.Deleted {
		return nil, fmt.Errorf("descriptor %d: %q deleted: %w", id, d.Entry.Path, bundletype.ErrNotFound)
	}
	return d, nil
}

func (t *Table) lookup(id int) (*Descriptor, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: descriptor %d", bundletype.ErrInvalidArgument, id)
	}
	if id > len(t.slots) || t.slots[id-1] == nil {
		return nil, fmt.Errorf("descriptor %d: %w", id, bundletype.ErrNotFound)
	}
	return t.slots[id-1], nil
}

// writable returns the descriptor for id if it may mutate its entry.
func (t *Table) writable(id int) (*Descriptor, error) {
	d, err := t.Get(id)
	if err != nil {
		return nil, err
	}
	if d.Mode != ModeReadWrite {
		return nil, fmt.Errorf("descriptor %d: %w", id, bundletype.ErrReadOnly)
	}
	return d, nil
}

// Seek moves the cursor of id to the absolute position pos.
// Positions past the end are allowed.
func (t *Table) Seek(id int, pos int64) error {
	_, err := t.SeekFrom(id, pos, io.SeekStart)
	return err
}

// SeekFrom moves the cursor of id relative to whence and returns the new
// absolute position.
func (t *Table) SeekFrom(id int, offset int64, whence int) (int64, error) {
	d, err := t.Get(id)
	if err != nil {
		return 0, err
	}

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base, err = sizing.ToInt64(d.Cursor, bundletype.ErrSizeOverflow)
	case io.SeekEnd:
		base, err = sizing.ToInt64(d.Entry.Length, bundletype.ErrSizeOverflow)
	default:
		return 0, fmt.Errorf("%w: whence %d", bundletype.ErrInvalidArgument, whence)
	}
	if err != nil {
		return 0, err
	}

	pos := base + offset
	if offset > 0 {
		var ok bool
		if pos, ok = sizing.AddInt64(base, offset); !ok {
			return 0, fmt.Errorf("%w: seek to %d%+d", bundletype.ErrSizeOverflow, base, offset)
		}
	}
	if pos < 0 {
		return 0, fmt.Errorf("%w: seek to %d%+d", bundletype.ErrInvalidArgument, base, offset)
	}
	d.Cursor = uint64(pos)
	return pos, nil
}

// Read returns up to size bytes from the cursor of id and advances it.
//
// Fewer bytes are returned at the end of the stream, and none past it;
// neither case is an error.
func (t *Table) Read(id, size int) ([]byte, error) {
	d, err := t.Get(id)
	if err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: read size %d", bundletype.ErrInvalidArgument, size)
	}
	if d.Cursor >= d.Entry.Length || size == 0 {
		return []byte{}, nil
	}

	n := min(uint64(size), d.Entry.Length-d.Cursor)
	buf := make([]byte, n)
	if err := t.store.ReadData(d.Entry, buf, d.Cursor); err != nil {
		return nil, err
	}
	d.Cursor += n
	return buf, nil
}

// Write stores p at the cursor of id and advances it by len(p).
//
// Writing past the end grows the file; a gap left by an earlier seek reads
// back as zeros. A zero-length write does nothing.
func (t *Table) Write(id int, p []byte) (int, error) {
	d, err := t.writable(id)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	end, ok := sizing.AddUint64(d.Cursor, uint64(len(p)))
	if !ok {
		return 0, bundletype.ErrSizeOverflow
	}
	if _, err := sizing.ToInt64(end, bundletype.ErrSizeOverflow); err != nil {
		return 0, err
	}
	if err := t.store.WriteData(d.Entry, p, d.Cursor); err != nil {
		return 0, err
	}
	d.Cursor = end
	return len(p), nil
}

// Truncate sets the length of the file behind id. Cursors are not moved.
func (t *Table) Truncate(id int, size int64) error {
	d, err := t.writable(id)
	if err != nil {
		return err
	}
	n, err := sizing.ToUint64(size, fmt.Errorf("%w: truncate to %d", bundletype.ErrInvalidArgument, size))
	if err != nil {
		return err
	}
	if n == d.Entry.Length {
		return nil
	}
	return t.store.TruncateData(d.Entry, n)
}

// Close releases id. Its slot is reused by a later Open.
func (t *Table) Close(id int) error {
	if _, err := t.lookup(id); err != nil {
		return err
	}
	t.slots[id-1] = nil
	t.open--
	return nil
}

// CloseAll releases every descriptor.
func (t *Table) CloseAll() {
	clear(t.slots)
	t.slots = t.slots[:0]
	t.open = 0
}
