// Package alloc carves byte extents out of the container.
//
// Space is handed out best-fit from a free list, or appended at the end of
// the container. Freed extents are held as pending until Release is called,
// so space still referenced by the last committed metadata is never reused.
package alloc

import (
	"fmt"
	"slices"

	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/sizing"
	"github.com/meigma/bundle/internal/storage"
)

// copyChunk is the buffer size used when relocating extents.
const copyChunk = 64 << 10

// Extent is a region of the container.
type Extent struct {
	Offset uint64
	Length uint64
}

// End returns the offset one past the last byte of the extent.
func (e Extent) End() uint64 {
	return e.Offset + e.Length
}

// IsZero reports whether the extent holds no bytes.
func (e Extent) IsZero() bool {
	return e.Length == 0
}

// Stats describes allocator bookkeeping.
type Stats struct {
	// Base is the first allocatable offset.
	Base uint64

	// End is the high-water mark of the container.
	End uint64

	// FreeBytes is the total size of reusable free extents.
	FreeBytes uint64

	// FreeExtents is the number of free extents.
	FreeExtents int

	// PendingBytes is the total size of extents freed since the last Release.
	PendingBytes uint64
}

// Allocator manages space in [base, end) of a storage backend.
type Allocator struct {
	backend storage.Backend
	base    uint64
	end     uint64
	free    []Extent // sorted by offset, coalesced
	pending []Extent
}

// New returns an allocator for an empty data region starting at base.
func New(backend storage.Backend, base uint64) *Allocator {
	return &Allocator{
		backend: backend,
		base:    base,
		end:     base,
	}
}

// Rebuild returns an allocator whose free list is the gaps between the used
// extents inside [base, end).
//
// Used extents must not overlap each other and must lie inside the region;
// otherwise ErrCorrupt is returned.
func Rebuild(backend storage.Backend, base, end uint64, used []Extent) (*Allocator, error) {
	if end < base {
		return nil, fmt.Errorf("%w: data end %d before base %d", bundletype.ErrCorrupt, end, base)
	}
	sorted := make([]Extent, 0, len(used))
	for _, e := range used {
		if !e.IsZero() {
			sorted = append(sorted, e)
		}
	}
	slices.SortFunc(sorted, func(a, b Extent) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		default:
			return 0
		}
	})

	a := &Allocator{backend: backend, base: base, end: end}
	cursor := base
	for _, e := range sorted {
		eEnd, ok := sizing.AddUint64(e.Offset, e.Length)
		if !ok || e.Offset < cursor || eEnd > end {
			return nil, fmt.Errorf("%w: extent [%d,+%d) overlaps or leaves data region", bundletype.ErrCorrupt, e.Offset, e.Length)
		}
		if e.Offset > cursor {
			a.free = append(a.free, Extent{Offset: cursor, Length: e.Offset - cursor})
		}
		cursor = eEnd
	}
	if cursor < end {
		a.free = append(a.free, Extent{Offset: cursor, Length: end - cursor})
	}
	return a, nil
}

// End returns the current high-water mark.
func (a *Allocator) End() uint64 {
	return a.end
}

// Allocate returns an extent of exactly size bytes.
//
// The smallest free extent that fits is used (lowest offset on ties);
// otherwise the container is extended. A zero size returns the zero Extent.
func (a *Allocator) Allocate(size uint64) (Extent, error) {
	if size == 0 {
		return Extent{}, nil
	}

	best := -1
	for i, f := range a.free {
		if f.Length < size {
			continue
		}
		if best < 0 || f.Length < a.free[best].Length {
			best = i
		}
	}
	if best >= 0 {
		f := a.free[best]
		e := Extent{Offset: f.Offset, Length: size}
		if f.Length == size {
			a.free = slices.Delete(a.free, best, best+1)
		} else {
			a.free[best] = Extent{Offset: f.Offset + size, Length: f.Length - size}
		}
		return e, nil
	}

	return a.appendExtent(size)
}

// appendExtent grows the container by size bytes and returns the new tail extent.
func (a *Allocator) appendExtent(size uint64) (Extent, error) {
	newEnd, ok := sizing.AddUint64(a.end, size)
	if !ok {
		return Extent{}, bundletype.ErrSizeOverflow
	}
	if err := a.extendTo(newEnd); err != nil {
		return Extent{}, err
	}
	e := Extent{Offset: a.end, Length: size}
	a.end = newEnd
	return e, nil
}

func (a *Allocator) extendTo(end uint64) error {
	size, err := sizing.ToInt64(end, bundletype.ErrSizeOverflow)
	if err != nil {
		return err
	}
	if err := a.backend.Extend(size); err != nil {
		return fmt.Errorf("%w: extend to %d: %w", bundletype.ErrIO, size, err)
	}
	return nil
}

// Free queues e for reuse after the next Release.
func (a *Allocator) Free(e Extent) {
	if e.IsZero() {
		return
	}
	a.pending = append(a.pending, e)
}

// Release makes all pending extents reusable, coalescing neighbours.
//
// Call Release only once the metadata that stopped referencing the pending
// extents is durable.
func (a *Allocator) Release() {
	if len(a.pending) == 0 {
		return
	}
	a.free = append(a.free, a.pending...)
	a.pending = a.pending[:0]
	a.coalesce()
}

// Grow returns an extent of at least newSize bytes holding the first live
// bytes of e.
//
// The extent is extended in place when it sits at the container tail or is
// followed by a large enough free extent. Otherwise a new extent is
// allocated, the live bytes are copied, and e is freed.
func (a *Allocator) Grow(e Extent, newSize, live uint64) (Extent, error) {
	if newSize <= e.Length {
		return e, nil
	}
	if e.IsZero() {
		return a.Allocate(newSize)
	}
	if live > e.Length {
		return Extent{}, fmt.Errorf("%w: live bytes %d exceed extent length %d", bundletype.ErrInvalidArgument, live, e.Length)
	}

	need := newSize - e.Length

	if e.End() == a.end {
		newEnd, ok := sizing.AddUint64(a.end, need)
		if !ok {
			return Extent{}, bundletype.ErrSizeOverflow
		}
		if err := a.extendTo(newEnd); err != nil {
			return Extent{}, err
		}
		a.end = newEnd
		return Extent{Offset: e.Offset, Length: newSize}, nil
	}

	for i, f := range a.free {
		if f.Offset != e.End() || f.Length < need {
			continue
		}
		if f.Length == need {
			a.free = slices.Delete(a.free, i, i+1)
		} else {
			a.free[i] = Extent{Offset: f.Offset + need, Length: f.Length - need}
		}
		return Extent{Offset: e.Offset, Length: newSize}, nil
	}

	n, err := a.Allocate(newSize)
	if err != nil {
		return Extent{}, err
	}
	if err := a.copyBytes(n.Offset, e.Offset, live); err != nil {
		a.free = append(a.free, n)
		a.coalesce()
		return Extent{}, err
	}
	a.Free(e)
	return n, nil
}

// copyBytes moves n bytes from src to dst inside the container.
func (a *Allocator) copyBytes(dst, src, n uint64) error {
	buf := make([]byte, min(n, copyChunk))
	for done := uint64(0); done < n; {
		chunk := buf[:min(n-done, uint64(len(buf)))]
		from, err := sizing.ToInt64(src+done, bundletype.ErrSizeOverflow)
		if err != nil {
			return err
		}
		to, err := sizing.ToInt64(dst+done, bundletype.ErrSizeOverflow)
		if err != nil {
			return err
		}
		if err := storage.ReadFull(a.backend, chunk, from); err != nil {
			return fmt.Errorf("%w: relocate read at %d: %w", bundletype.ErrIO, from, err)
		}
		if _, err := a.backend.WriteAt(chunk, to); err != nil {
			return fmt.Errorf("%w: relocate write at %d: %w", bundletype.ErrIO, to, err)
		}
		done += uint64(len(chunk))
	}
	return nil
}

// coalesce sorts the free list and merges adjacent extents.
func (a *Allocator) coalesce() {
	slices.SortFunc(a.free, func(x, y Extent) int {
		switch {
		case x.Offset < y.Offset:
			return -1
		case x.Offset > y.Offset:
			return 1
		default:
			return 0
		}
	})
	merged := a.free[:0]
	for _, f := range a.free {
		if n := len(merged); n > 0 && merged[n-1].End() == f.Offset {
			merged[n-1].Length += f.Length
			continue
		}
		merged = append(merged, f)
	}
	a.free = merged
}

// FreeExtents returns a copy of the free list, sorted by offset.
func (a *Allocator) FreeExtents() []Extent {
	return slices.Clone(a.free)
}

// Stats returns a snapshot of the allocator bookkeeping.
func (a *Allocator) Stats() Stats {
	s := Stats{Base: a.base, End: a.end, FreeExtents: len(a.free)}
	for _, f := range a.free {
		s.FreeBytes += f.Length
	}
	for _, p := range a.pending {
		s.PendingBytes += p.Length
	}
	return s
}
