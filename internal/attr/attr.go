// Package attr holds the three bundle-wide attribute slots.
package attr

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/sizing"
)

// Slot identifies a bundle attribute.
type Slot uint8

// Attribute slots, in section order.
const (
	SlotSystem Slot = iota
	SlotPublic
	SlotPrivate

	numSlots = 3
)

// lengthPrefix is the size of the per-slot length field.
const lengthPrefix = 8

// Slots lists every slot in section order.
var Slots = [numSlots]Slot{SlotSystem, SlotPublic, SlotPrivate}

// String returns the slot name.
func (s Slot) String() string {
	switch s {
	case SlotSystem:
		return "System"
	case SlotPublic:
		return "Public"
	case SlotPrivate:
		return "Private"
	default:
		return fmt.Sprintf("Slot(%d)", uint8(s))
	}
}

// Valid reports whether s names a known slot.
func (s Slot) Valid() bool {
	return s < numSlots
}

// ParseSlot converts "System", "Public" or "Private" into a Slot.
func ParseSlot(name string) (Slot, error) {
	for _, s := range Slots {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown attribute slot %q", bundletype.ErrInvalidArgument, name)
}

// Store holds one blob per slot. A nil blob means the slot is empty.
type Store struct {
	blobs [numSlots][]byte
}

// New returns a store with every slot empty.
func New() *Store {
	return &Store{}
}

// Get returns a copy of the blob stored in s.
func (st *Store) Get(s Slot) ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: unknown attribute slot %d", bundletype.ErrInvalidArgument, s)
	}
	return slices.Clone(st.blobs[s]), nil
}

// Set replaces the blob stored in s.
func (st *Store) Set(s Slot, b []byte) error {
	if !s.Valid() {
		return fmt.Errorf("%w: unknown attribute slot %d", bundletype.ErrInvalidArgument, s)
	}
	if len(b) == 0 {
		st.blobs[s] = nil
		return nil
	}
	st.blobs[s] = slices.Clone(b)
	return nil
}

// Marshal encodes the slots as three length-prefixed blobs.
func (st *Store) Marshal() []byte {
	size := numSlots * lengthPrefix
	for _, b := range st.blobs {
		size += len(b)
	}
	out := make([]byte, 0, size)
	for _, b := range st.blobs {
		out = binary.LittleEndian.AppendUint64(out, uint64(len(b)))
		out = append(out, b...)
	}
	return out
}

// Unmarshal decodes an attribute section produced by Marshal.
func Unmarshal(data []byte) (*Store, error) {
	st := New()
	off := 0
	for _, s := range Slots {
		if len(data)-off < lengthPrefix {
			return nil, fmt.Errorf("%w: truncated %s attribute length", bundletype.ErrCorrupt, s)
		}
		n, err := sizing.ToInt(binary.LittleEndian.Uint64(data[off:]), bundletype.ErrCorrupt)
		if err != nil {
			return nil, err
		}
		off += lengthPrefix
		if n > len(data)-off {
			return nil, fmt.Errorf("%w: %s attribute overruns section", bundletype.ErrCorrupt, s)
		}
		if n > 0 {
			st.blobs[s] = slices.Clone(data[off : off+n])
		}
		off += n
	}
	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes in attribute section", bundletype.ErrCorrupt, len(data)-off)
	}
	return st, nil
}
