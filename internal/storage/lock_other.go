//go:build !unix

package storage

import (
	"errors"
	"os"
)

// ErrLocked is returned when another process holds a conflicting lock.
var ErrLocked = errors.New("container is locked by another process")

// lockFile is a no-op on platforms without flock.
func lockFile(_ *os.File, _ bool) error {
	return nil
}

func unlockFile(_ *os.File) error {
	return nil
}
