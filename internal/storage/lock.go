package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	symerrors "github.com/symdex/symdex/internal/errors"
)

// DirLock guards an index data directory against concurrent processes.
type DirLock struct {
	lock *flock.Flock
}

// AcquireDirLock takes a non-blocking exclusive lock on dir. A held lock
// returns a coded storage-locked error.
func AcquireDirLock(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	fl := flock.New(filepath.Join(dir, ".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire directory lock: %w", err)
	}
	if !locked {
		return nil, symerrors.New(symerrors.CodeStorageLocked,
			fmt.Sprintf("index directory %s is locked by another process", dir), nil)
	}
	return &DirLock{lock: fl}, nil
}

// Release drops the lock.
func (l *DirLock) Release() error {
	return l.lock.Unlock()
}
