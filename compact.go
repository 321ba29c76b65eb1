package bundle

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meigma/bundle/internal/attr"
	"github.com/meigma/bundle/internal/index"
	"github.com/meigma/bundle/internal/storage"
)

// compactChunk is the buffer size used when copying file data.
const compactChunk = 256 << 10

// CompactOption configures Compact.
type CompactOption func(*compactConfig)

type compactConfig struct {
	progress ProgressFunc
	logger   *slog.Logger
	mode     fs.FileMode
	locking  bool
}

// CompactWithProgress sets a callback that receives progress events.
func CompactWithProgress(fn ProgressFunc) CompactOption {
	return func(c *compactConfig) {
		c.progress = fn
	}
}

// CompactWithLogger sets a logger for compaction events.
func CompactWithLogger(logger *slog.Logger) CompactOption {
	return func(c *compactConfig) {
		c.logger = logger
	}
}

// CompactWithFileMode sets the permission of the compacted container.
// Default: 0o644.
func CompactWithFileMode(mode fs.FileMode) CompactOption {
	return func(c *compactConfig) {
		c.mode = mode
	}
}

// CompactWithLocking controls the advisory lock taken on the source container.
// Default: true.
func CompactWithLocking(locking bool) CompactOption {
	return func(c *compactConfig) {
		c.locking = locking
	}
}

// CompactStats summarizes a compaction.
type CompactStats struct {
	// Files is the number of live files copied.
	Files int

	// TombstonesDropped is the number of deleted files left behind.
	TombstonesDropped int

	// BytesCopied is the number of data and properties bytes copied.
	BytesCopied uint64

	// SizeBefore is the size of the source container.
	SizeBefore int64

	// SizeAfter is the size of the compacted container.
	SizeAfter int64
}

// Compact rewrites the container at src into dst with every live file
// packed tightly and all tombstoned space dropped.
//
// Attributes and files (data and properties) are copied in listing order.
// The result is written to a temporary file next to dst and renamed into
// place, so dst is either untouched or fully replaced. When dst is empty or
// equal to src the source is replaced. Cancelling ctx abandons the copy and
// leaves dst untouched.
func Compact(ctx context.Context, src, dst string, opts ...CompactOption) (CompactStats, error) {
	cfg := compactConfig{mode: storage.DefaultFileMode, locking: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := loggerOrDiscard(cfg.logger)
	if src == "" {
		return CompactStats{}, fmt.Errorf("%w: empty source path", ErrInvalidArgument)
	}
	if dst == "" {
		dst = src
	}

	in, err := Open(src, WithReadOnly(true), WithLocking(cfg.locking), WithLogger(cfg.logger))
	if err != nil {
		return CompactStats{}, err
	}
	defer func() {
		if !in.closed {
			_ = in.Close()
		}
	}()

	stats := CompactStats{
		TombstonesDropped: in.idx.Tombstones(),
		SizeBefore:        in.backend.Size(),
	}
	c := &compactor{ctx: ctx, in: in, progress: cfg.progress}
	c.scan()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return stats, fmt.Errorf("create destination directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".bundle-*")
	if err != nil {
		return stats, fmt.Errorf("%w: create temp file: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	out, err := compactInto(tmpPath, cfg, c)
	if err != nil {
		os.Remove(tmpPath)
		return stats, err
	}
	stats.Files = c.files
	stats.BytesCopied = c.bytes

	// The source stays open, and locked, until the rename so no writer can
	// commit to it between the copy and the replacement.
	if err := os.Chmod(tmpPath, cfg.mode); err != nil {
		os.Remove(tmpPath)
		return stats, fmt.Errorf("%w: chmod: %w", ErrIO, err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return stats, fmt.Errorf("%w: rename: %w", ErrIO, err)
	}
	stats.SizeAfter = out
	if err := in.Close(); err != nil {
		return stats, err
	}

	log.Debug("compacted container",
		slog.String("src", src),
		slog.String("dst", dst),
		slog.Int("files", stats.Files),
		slog.Int("tombstones_dropped", stats.TombstonesDropped),
		slog.Int64("size_before", stats.SizeBefore),
		slog.Int64("size_after", stats.SizeAfter))
	return stats, nil
}

// compactInto writes the compacted container to path and returns its size.
func compactInto(path string, cfg compactConfig, c *compactor) (int64, error) {
	f, err := storage.OpenFile(path, storage.FileOptions{Create: true, Mode: cfg.mode})
	if err != nil {
		return 0, fmt.Errorf("%w: open temp container: %w", ErrIO, err)
	}
	outCfg := defaultConfig()
	outCfg.logger = cfg.logger
	out, err := newBundle(f, path, outCfg)
	if err != nil {
		f.Close()
		return 0, err
	}
	if err := c.fill(out); err != nil {
		out.Close()
		return 0, err
	}
	size := out.backend.Size()
	if err := out.Close(); err != nil {
		return 0, err
	}
	return size, nil
}

// compactor copies live state from one bundle into another.
type compactor struct {
	ctx      context.Context
	in       *Bundle
	progress ProgressFunc
	buf      []byte

	files      int
	filesTotal int
	bytes      uint64
	bytesTotal uint64
}

func (c *compactor) emit(ev ProgressEvent) {
	if c.progress != nil {
		c.progress(ev)
	}
}

func (c *compactor) scan() {
	for e := range c.in.idx.Live() {
		c.filesTotal++
		c.bytesTotal += e.Length + e.Props.Length
	}
	c.emit(ProgressEvent{Stage: StageScanning, FilesTotal: c.filesTotal, BytesTotal: c.bytesTotal})
}

// fill copies attributes and live files into out and commits once.
func (c *compactor) fill(out *Bundle) error {
	if err := c.copyAttributes(out); err != nil {
		return err
	}
	if err := c.copyFiles(out); err != nil {
		return err
	}
	c.emit(ProgressEvent{
		Stage:      StageCommitting,
		BytesDone:  c.bytes,
		BytesTotal: c.bytesTotal,
		FilesDone:  c.files,
		FilesTotal: c.filesTotal,
	})
	return out.commit()
}

func (c *compactor) copyAttributes(out *Bundle) error {
	c.emit(ProgressEvent{Stage: StageCopyingAttributes, FilesTotal: c.filesTotal, BytesTotal: c.bytesTotal})
	for _, s := range attr.Slots {
		data, err := c.in.attrs.Get(s)
		if err != nil {
			return err
		}
		if err := out.attrs.Set(s, data); err != nil {
			return err
		}
	}
	return nil
}

func (c *compactor) copyFiles(out *Bundle) error {
	for e := range c.in.idx.Live() {
		if err := c.ctx.Err(); err != nil {
			return err
		}
		data, err := out.alloc.Allocate(e.Length)
		if err != nil {
			return fmt.Errorf("compact %q: %w", e.Path, err)
		}
		if err := c.copyExtent(out, data.Offset, e.Data.Offset, e.Length); err != nil {
			return fmt.Errorf("compact %q: %w", e.Path, err)
		}

		props, err := c.in.readExtent(e.Props)
		if err != nil {
			return fmt.Errorf("compact %q properties: %w", e.Path, err)
		}
		propsExt, err := out.writeSection(props)
		if err != nil {
			return fmt.Errorf("compact %q properties: %w", e.Path, err)
		}
		c.bytes += uint64(len(props))

		if err := out.idx.Insert(&index.Entry{Path: e.Path, Data: data, Length: e.Length, Props: propsExt}); err != nil {
			return err
		}
		c.files++
		c.emit(ProgressEvent{
			Stage:      StageCopyingFiles,
			Path:       e.Path,
			BytesDone:  c.bytes,
			BytesTotal: c.bytesTotal,
			FilesDone:  c.files,
			FilesTotal: c.filesTotal,
		})
	}
	return nil
}

// copyExtent copies n bytes from srcOff in the source to dstOff in out.
func (c *compactor) copyExtent(out *Bundle, dstOff, srcOff, n uint64) error {
	if c.buf == nil {
		c.buf = make([]byte, compactChunk)
	}
	for done := uint64(0); done < n; {
		if err := c.ctx.Err(); err != nil {
			return err
		}
		chunk := c.buf[:min(n-done, uint64(len(c.buf)))]
		if err := c.in.readAt(chunk, srcOff+done); err != nil {
			return err
		}
		if err := out.writeAt(chunk, dstOff+done); err != nil {
			return err
		}
		done += uint64(len(chunk))
		c.bytes += uint64(len(chunk))
	}
	return nil
}
