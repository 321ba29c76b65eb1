//go:generate flatc --go --go-namespace fb -o internal internal/fb/bundle.fbs

// Package bundle stores many logical files inside one container file.
//
// A bundle multiplexes an arbitrary number of files, each with a data
// stream and an independent properties blob, plus three bundle-wide
// attribute slots (System, Public and Private). The container carries its
// own index and free-space bookkeeping; paths are opaque keys and no
// directory semantics are implied by separators.
//
// # Quick Start
//
// Create a bundle, write a file, and read it back:
//
//	b, err := bundle.Open("assets.bundle")
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	fd, err := b.CreateFile("dir1/dir2/file.dat")
//	if err != nil {
//	    return err
//	}
//	if _, err := b.WriteBlock(fd, []byte("payload")); err != nil {
//	    return err
//	}
//	if err := b.Seek(fd, 0); err != nil {
//	    return err
//	}
//	data, err := b.ReadBlock(fd, 7)
//
// # Durability
//
// Metadata is committed with a shadow update: the attribute and index
// sections are written to fresh space, synced, and only then is the header
// rewritten to point at them. Space released by a commit is reused only
// after the next header write, so a crash at any point leaves the last
// committed state intact.
//
// Structural changes (creating or deleting files, setting attributes or
// properties) are committed before the call returns. Writes that change a
// file's length or extent are committed as well unless [WithLazyCommit] is
// set, in which case they are committed by [Bundle.Sync] or [Bundle.Close].
//
// # Concurrency
//
// A [Bundle] is not safe for concurrent use. [Async] serializes operations
// from many goroutines onto one worker and returns a [Future] per call.
//
// # Reclaiming Space
//
// Deleting a file leaves a tombstone whose space stays reserved. [Bundle.Purge]
// releases tombstoned space for reuse in place; [Compact] rewrites a
// container with its live files packed tightly.
package bundle
