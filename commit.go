package bundle

import (
	"fmt"
	"log/slog"

	"github.com/meigma/bundle/internal/alloc"
	"github.com/meigma/bundle/internal/attr"
	"github.com/meigma/bundle/internal/format"
	"github.com/meigma/bundle/internal/index"
)

// initialize lays out an empty container and commits its first header.
func (b *Bundle) initialize() error {
	if err := b.backend.Extend(format.HeaderSize); err != nil {
		return fmt.Errorf("%w: extend: %w", ErrIO, err)
	}
	b.idx = index.New()
	b.attrs = attr.New()
	b.alloc = alloc.New(b.backend, format.HeaderSize)
	if err := b.commit(); err != nil {
		return err
	}
	b.log.Debug("initialized container", slog.String("path", b.name))
	return nil
}

// load reads the header and metadata sections and rebuilds the free list.
func (b *Bundle) load() error {
	h, err := format.ReadHeader(b.backend)
	if err != nil {
		return err
	}

	attrData, err := format.ReadSection(b.backend, h.Attributes)
	if err != nil {
		return fmt.Errorf("attribute section: %w", err)
	}
	attrs, err := attr.Unmarshal(attrData)
	if err != nil {
		return fmt.Errorf("attribute section: %w", err)
	}

	idxData, err := format.ReadSection(b.backend, h.Index)
	if err != nil {
		return fmt.Errorf("index section: %w", err)
	}
	idx, err := index.Unmarshal(idxData)
	if err != nil {
		return fmt.Errorf("index section: %w", err)
	}

	used := append(idx.Extents(), h.Attributes.Extent, h.Index.Extent)
	a, err := alloc.Rebuild(b.backend, format.HeaderSize, h.DataEnd, used)
	if err != nil {
		return err
	}

	b.header = h
	b.attrs = attrs
	b.idx = idx
	b.alloc = a
	b.log.Debug("opened container",
		slog.String("path", b.name),
		slog.Uint64("generation", h.Generation),
		slog.Int("files", idx.Len()),
		slog.Int("tombstones", idx.Tombstones()),
		slog.Bool("read_only", b.cfg.readOnly))
	return nil
}

// commit writes the attribute and index sections to fresh space, syncs,
// then points the header at them and syncs again.
//
// Space released since the last commit, including the previous sections,
// becomes reusable only after the new header is durable.
func (b *Bundle) commit() error {
	attrData := b.attrs.Marshal()
	idxData := b.idx.Marshal()

	attrExt, err := b.writeSection(attrData)
	if err != nil {
		return fmt.Errorf("commit attribute section: %w", err)
	}
	idxExt, err := b.writeSection(idxData)
	if err != nil {
		b.alloc.Free(attrExt)
		return fmt.Errorf("commit index section: %w", err)
	}
	if err := b.backend.Sync(); err != nil {
		b.alloc.Free(attrExt)
		b.alloc.Free(idxExt)
		return fmt.Errorf("%w: commit sync: %w", ErrIO, err)
	}

	h := &format.Header{
		Version:    format.Version,
		DataEnd:    b.alloc.End(),
		Attributes: format.NewSection(attrExt, attrData),
		Index:      format.NewSection(idxExt, idxData),
	}
	if b.header != nil {
		h.Generation = b.header.Generation + 1
	}
	if err := format.WriteHeader(b.backend, h); err != nil {
		b.alloc.Free(attrExt)
		b.alloc.Free(idxExt)
		return fmt.Errorf("commit: %w", err)
	}
	if err := b.backend.Sync(); err != nil {
		// The header may or may not be durable; keep both section pairs reserved.
		return fmt.Errorf("%w: commit sync: %w", ErrIO, err)
	}

	if b.header != nil {
		b.alloc.Free(b.header.Attributes.Extent)
		b.alloc.Free(b.header.Index.Extent)
	}
	b.alloc.Release()
	b.header = h
	b.dirty = false

	b.log.Debug("committed",
		slog.Uint64("generation", h.Generation),
		slog.Int("attributes_bytes", len(attrData)),
		slog.Int("index_bytes", len(idxData)),
		slog.Uint64("data_end", h.DataEnd))
	return nil
}

// writeSection allocates space for data and writes it.
func (b *Bundle) writeSection(data []byte) (alloc.Extent, error) {
	ext, err := b.alloc.Allocate(uint64(len(data)))
	if err != nil {
		return alloc.Extent{}, err
	}
	if ext.IsZero() {
		return ext, nil
	}
	if err := b.writeAt(data, ext.Offset); err != nil {
		b.alloc.Free(ext)
		return alloc.Extent{}, err
	}
	return ext, nil
}

// changed records a length or extent change made by a data write.
//
// The bundle stays dirty until a commit succeeds, so a failed commit is
// retried by the next Sync or Close.
func (b *Bundle) changed() error {
	b.dirty = true
	if b.cfg.lazyCommit {
		return nil
	}
	return b.commit()
}
