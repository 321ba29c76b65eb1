package index

import (
	"encoding/binary"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/meigma/bundle/internal/alloc"
	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/fb"
	"github.com/meigma/bundle/internal/sizing"
)

// sizePrefixLen is the length of the FlatBuffers size prefix of each record.
const sizePrefixLen = flatbuffers.SizeUint32

// Marshal encodes the index as a sequence of size-prefixed FlatBuffers
// Entry records, tombstones included.
func (idx *Index) Marshal() []byte {
	builder := flatbuffers.NewBuilder(256)
	var out []byte
	for _, e := range idx.entries {
		builder.Reset()
		pathOffset := builder.CreateString(e.Path)
		fb.EntryStart(builder)
		fb.EntryAddPath(builder, pathOffset)
		fb.EntryAddDataOffset(builder, e.Data.Offset)
		fb.EntryAddDataCapacity(builder, e.Data.Length)
		fb.EntryAddDataLength(builder, e.Length)
		fb.EntryAddPropsOffset(builder, e.Props.Offset)
		fb.EntryAddPropsLength(builder, e.Props.Length)
		fb.EntryAddDeleted(builder, e.Deleted)
		fb.FinishSizePrefixedEntryBuffer(builder, fb.EntryEnd(builder))
		out = append(out, builder.FinishedBytes()...)
	}
	return out
}

// Unmarshal decodes an index section produced by Marshal.
//
// Any framing or record error yields ErrCorrupt; the data is not retained.
func Unmarshal(data []byte) (*Index, error) {
	idx := New()
	for off := 0; off < len(data); {
		if len(data)-off < sizePrefixLen {
			return nil, fmt.Errorf("%w: truncated record header at %d", bundletype.ErrCorrupt, off)
		}
		size, err := sizing.ToInt(uint64(binary.LittleEndian.Uint32(data[off:])), bundletype.ErrCorrupt)
		if err != nil {
			return nil, err
		}
		end := off + sizePrefixLen + size
		if size == 0 || end > len(data) || end < off {
			return nil, fmt.Errorf("%w: record at %d overruns index section", bundletype.ErrCorrupt, off)
		}

		e, err := decodeEntry(data[off:end])
		if err != nil {
			return nil, fmt.Errorf("record at %d: %w", off, err)
		}
		if err := idx.Insert(e); err != nil {
			return nil, fmt.Errorf("%w: %w", bundletype.ErrCorrupt, err)
		}
		off = end
	}
	return idx, nil
}

// decodeEntry parses one size-prefixed record. FlatBuffers accessors do not
// bounds-check, so a malformed record is caught with recover.
func decodeEntry(record []byte) (e *Entry, err error) {
	defer func() {
		if r := recover(); r != nil {
			e = nil
			err = fmt.Errorf("%w: failed to parse record: %v", bundletype.ErrCorrupt, r)
		}
	}()

	buf := make([]byte, len(record))
	copy(buf, record)
	root := fb.GetSizePrefixedRootAsEntry(buf, 0)

	e = &Entry{
		Path:    string(root.Path()),
		Data:    alloc.Extent{Offset: root.DataOffset(), Length: root.DataCapacity()},
		Length:  root.DataLength(),
		Props:   alloc.Extent{Offset: root.PropsOffset(), Length: root.PropsLength()},
		Deleted: root.Deleted(),
	}
	if err := validate(e); err != nil {
		return nil, err
	}
	return e, nil
}

func validate(e *Entry) error {
	if e.Path == "" {
		return fmt.Errorf("%w: entry without path", bundletype.ErrCorrupt)
	}
	if e.Length > e.Data.Length {
		return fmt.Errorf("%w: %q length %d exceeds capacity %d", bundletype.ErrCorrupt, e.Path, e.Length, e.Data.Length)
	}
	if _, ok := sizing.AddUint64(e.Data.Offset, e.Data.Length); !ok {
		return fmt.Errorf("%w: %q data extent overflows", bundletype.ErrCorrupt, e.Path)
	}
	if _, ok := sizing.AddUint64(e.Props.Offset, e.Props.Length); !ok {
		return fmt.Errorf("%w: %q properties extent overflows", bundletype.ErrCorrupt, e.Path)
	}
	return nil
}
