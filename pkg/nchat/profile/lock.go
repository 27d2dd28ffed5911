package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ScopedLock is an advisory lock on a directory's "lock" file, held for
// the lifetime of the holding process. Session-lock semantics differ by
// OS in the original implementation this spec was distilled from; this
// rewrite commits to POSIX flock(2) semantics and does not attempt to
// abstract over platforms that lack it.
type ScopedLock struct {
	file *os.File
}

// ErrLocked is returned by AcquireDirLock when another process already
// holds the lock.
var ErrLocked = fmt.Errorf("only one session per confdir")

// AcquireDirLock takes an exclusive, non-blocking advisory lock on
// <dir>/lock. It must be held for the entire process lifetime; release it
// with Release (normally via defer) on clean shutdown. Failure to acquire
// is fatal to the caller: the spec mandates at most one live session per
// profile directory.
func AcquireDirLock(dir string) (*ScopedLock, error) {
	path := filepath.Join(dir, "lock")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("profile: open lock file %q: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, ErrLocked
	}

	return &ScopedLock{file: f}, nil
}

// Release drops the lock and closes the underlying file. Safe to call
// more than once.
func (l *ScopedLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	cerr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("profile: unlock: %w", err)
	}
	if cerr != nil {
		return fmt.Errorf("profile: close lock file: %w", cerr)
	}
	return nil
}
