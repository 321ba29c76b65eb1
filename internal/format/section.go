package format

import (
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/bundle/internal/alloc"
	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/sizing"
	"github.com/meigma/bundle/internal/storage"
)

// maxSectionSize bounds metadata sections read into memory.
const maxSectionSize = 1 << 30

// NewSection returns a Section for data stored at extent.
func NewSection(extent alloc.Extent, data []byte) Section {
	return Section{Extent: extent, Digest: digest.SHA256.FromBytes(data)}
}

// ReadSection reads the section s from b and verifies its digest.
//
// An empty section yields nil. A short read or digest mismatch yields ErrCorrupt.
func ReadSection(b storage.Backend, s Section) ([]byte, error) {
	if s.Extent.IsZero() {
		if s.Digest != digest.SHA256.FromBytes(nil) {
			return nil, fmt.Errorf("%w: empty section with non-empty digest", bundletype.ErrCorrupt)
		}
		return nil, nil
	}
	if s.Extent.Length > maxSectionSize {
		return nil, fmt.Errorf("%w: section length %d too large", bundletype.ErrCorrupt, s.Extent.Length)
	}
	off, err := sizing.ToInt64(s.Extent.Offset, bundletype.ErrCorrupt)
	if err != nil {
		return nil, err
	}
	end, ok := sizing.AddUint64(s.Extent.Offset, s.Extent.Length)
	if !ok || end > uint64(b.Size()) {
		return nil, fmt.Errorf("%w: section [%d,+%d) past end of container", bundletype.ErrCorrupt, s.Extent.Offset, s.Extent.Length)
	}

	data := make([]byte, s.Extent.Length)
	if err := storage.ReadFull(b, data, off); err != nil {
		return nil, fmt.Errorf("%w: read section at %d: %w", bundletype.ErrIO, off, err)
	}
	v := s.Digest.Verifier()
	_, _ = v.Write(data)
	if !v.Verified() {
		return nil, fmt.Errorf("%w: section at %d digest mismatch", bundletype.ErrCorrupt, off)
	}
	return data, nil
}

// ReadHeader reads and decodes the header at offset 0 of b.
func ReadHeader(b storage.Backend) (*Header, error) {
	if b.Size() < HeaderSize {
		return nil, fmt.Errorf("%w: container is %d bytes, shorter than header", bundletype.ErrCorrupt, b.Size())
	}
	buf := make([]byte, HeaderSize)
	if err := storage.ReadFull(b, buf, 0); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", bundletype.ErrIO, err)
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.DataEnd > uint64(b.Size()) {
		return nil, fmt.Errorf("%w: data end %d past container size %d", bundletype.ErrCorrupt, h.DataEnd, b.Size())
	}
	return h, nil
}

// WriteHeader encodes h and writes it at offset 0 of b.
func WriteHeader(b storage.Backend, h *Header) error {
	buf, err := h.Encode()
	if err != nil {
		return err
	}
	if _, err := b.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: write header: %w", bundletype.ErrIO, err)
	}
	return nil
}
