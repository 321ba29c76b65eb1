// Package index implements the file table of a bundle.
//
// The table maps opaque path keys to file entries. Deleted entries are kept
// as tombstones so their extents stay reserved until they are purged.
// Entries are kept in insertion order, which is also the listing order.
package index

import (
	"fmt"
	"iter"
	"slices"

	"github.com/meigma/bundle/internal/alloc"
	"github.com/meigma/bundle/internal/bundletype"
)

// Entry describes one logical file.
type Entry struct {
	// Path is the opaque key of the file.
	Path string

	// Data is the extent holding the data stream. Its length is the capacity.
	Data alloc.Extent

	// Length is the logical length of the data stream (Length <= Data.Length).
	Length uint64

	// Props is the extent holding the properties blob; zero when absent.
	Props alloc.Extent

	// Deleted marks a tombstone.
	Deleted bool
}

// Index is the in-memory file table.
type Index struct {
	entries []*Entry
	live    map[string]*Entry
}

// New returns an empty index.
func New() *Index {
	return &Index{live: make(map[string]*Entry)}
}

// Lookup returns the live entry for path.
func (idx *Index) Lookup(path string) (*Entry, bool) {
	e, ok := idx.live[path]
	return e, ok
}

// List returns the paths of all live entries in insertion order.
func (idx *Index) List() []string {
	paths := make([]string, 0, len(idx.live))
	for e := range idx.Live() {
		paths = append(paths, e.Path)
	}
	return paths
}

// Len returns the number of live entries.
func (idx *Index) Len() int {
	return len(idx.live)
}

// Tombstones returns the number of deleted entries still held.
func (idx *Index) Tombstones() int {
	return len(idx.entries) - len(idx.live)
}

// Insert adds a live entry. A live entry with the same path yields ErrExist.
func (idx *Index) Insert(e *Entry) error {
	if e.Path == "" {
		return fmt.Errorf("%w: empty path", bundletype.ErrInvalidArgument)
	}
	if e.Deleted {
		idx.entries = append(idx.entries, e)
		return nil
	}
	if _, ok := idx.live[e.Path]; ok {
		return fmt.Errorf("insert %q: %w", e.Path, bundletype.ErrExist)
	}
	idx.entries = append(idx.entries, e)
	idx.live[e.Path] = e
	return nil
}

// MarkDeleted tombstones the live entry for path and returns it.
func (idx *Index) MarkDeleted(path string) (*Entry, error) {
	e, ok := idx.live[path]
	if !ok {
		return nil, fmt.Errorf("delete %q: %w", path, bundletype.ErrNotFound)
	}
	e.Deleted = true
	delete(idx.live, path)
	return e, nil
}

// Restore turns the tombstone e back into a live entry.
// A live entry with the same path yields ErrExist.
func (idx *Index) Restore(e *Entry) error {
	if _, ok := idx.live[e.Path]; ok {
		return fmt.Errorf("restore %q: %w", e.Path, bundletype.ErrExist)
	}
	if !slices.Contains(idx.entries, e) {
		return fmt.Errorf("restore %q: %w", e.Path, bundletype.ErrNotFound)
	}
	e.Deleted = false
	idx.live[e.Path] = e
	return nil
}

// Remove drops e from the index without leaving a tombstone.
func (idx *Index) Remove(e *Entry) {
	idx.entries = slices.DeleteFunc(idx.entries, func(x *Entry) bool { return x == e })
	if idx.live[e.Path] == e {
		delete(idx.live, e.Path)
	}
}

// Purge drops all tombstones and returns them so their extents can be freed.
func (idx *Index) Purge() []*Entry {
	var dropped []*Entry
	idx.entries = slices.DeleteFunc(idx.entries, func(e *Entry) bool {
		if e.Deleted {
			dropped = append(dropped, e)
			return true
		}
		return false
	})
	return dropped
}

// Entries returns an iterator over all entries, tombstones included.
func (idx *Index) Entries() iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		for _, e := range idx.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Live returns an iterator over live entries in insertion order.
func (idx *Index) Live() iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		for _, e := range idx.entries {
			if e.Deleted {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Extents returns every non-empty extent referenced by the index.
func (idx *Index) Extents() []alloc.Extent {
	out := make([]alloc.Extent, 0, 2*len(idx.entries))
	for _, e := range idx.entries {
		if !e.Data.IsZero() {
			out = append(out, e.Data)
		}
		if !e.Props.IsZero() {
			out = append(out, e.Props)
		}
	}
	return out
}
