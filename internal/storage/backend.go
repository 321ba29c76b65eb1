// Package storage provides raw byte-addressable access to the physical container.
//
// A Backend knows nothing about files, attributes, or the index. It reads and
// writes byte ranges, grows the medium, and makes previous writes durable.
package storage

import "io"

// Backend is the raw container medium.
//
// WriteAt must either apply the whole buffer or return an error; a short write
// is reported as an error. Sync makes all previous writes durable before it
// returns. Extend grows the medium to at least size bytes and never shrinks it.
type Backend interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the current size of the medium in bytes.
	Size() int64

	// Extend grows the medium to at least size bytes.
	Extend(size int64) error

	// Sync flushes previous writes to durable storage.
	Sync() error

	// Close releases the medium. Using a closed backend is an error.
	Close() error
}

// ReadFull reads exactly len(p) bytes at off, treating a short read as io.ErrUnexpectedEOF.
func ReadFull(b Backend, p []byte, off int64) error {
	n, err := b.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
