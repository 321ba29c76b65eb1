// Package testutil provides shared helpers for bundle tests.
package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meigma/bundle/internal/storage"
)

// ErrInjected is returned by FaultBackend when a fault fires.
var ErrInjected = errors.New("testutil: injected fault")

// FaultBackend wraps a Backend and fails writes or syncs on demand.
type FaultBackend struct {
	storage.Backend

	mu         sync.Mutex
	writesLeft int // -1: unlimited
	failSync   bool
	writes     int
}

// NewFaultBackend wraps b with no faults armed.
func NewFaultBackend(b storage.Backend) *FaultBackend {
	return &FaultBackend{Backend: b, writesLeft: -1}
}

// FailWritesAfter lets n more WriteAt calls succeed, then fails every
// later one with ErrInjected. A negative n disarms the fault.
func (f *FaultBackend) FailWritesAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writesLeft = n
}

// FailSyncs makes Sync return ErrInjected while enabled.
func (f *FaultBackend) FailSyncs(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSync = enabled
}

// Writes returns the number of successful WriteAt calls.
func (f *FaultBackend) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// WriteAt forwards to the wrapped backend unless a write fault fires.
func (f *FaultBackend) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	if f.writesLeft == 0 {
		f.mu.Unlock()
		return 0, ErrInjected
	}
	if f.writesLeft > 0 {
		f.writesLeft--
	}
	f.writes++
	f.mu.Unlock()
	return f.Backend.WriteAt(p, off)
}

// Sync forwards to the wrapped backend unless sync faults are enabled.
func (f *FaultBackend) Sync() error {
	f.mu.Lock()
	fail := f.failSync
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.Backend.Sync()
}

// ContainerPath returns a path for a container inside a fresh temp directory.
func ContainerPath(tb testing.TB, name string) string {
	tb.Helper()
	return filepath.Join(tb.TempDir(), name)
}

// ReadFile returns the bytes of the file at path.
func ReadFile(tb testing.TB, path string) []byte {
	tb.Helper()
	data, err := os.ReadFile(path)
	require.NoError(tb, err)
	return data
}

// CopyFile copies src to dst byte for byte.
func CopyFile(tb testing.TB, src, dst string) {
	tb.Helper()
	data := ReadFile(tb, src)
	require.NoError(tb, os.WriteFile(dst, data, 0o644))
}

// Pattern returns n deterministic bytes derived from seed.
func Pattern(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}
