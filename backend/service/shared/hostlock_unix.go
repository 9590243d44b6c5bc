//go:build darwin || linux
// +build darwin linux

package shared

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

type lockFile interface {
	release()
}

type flockFile struct {
	f *os.File
}

func (f *flockFile) release() {
	_ = unix.Flock(int(f.f.Fd()), unix.LOCK_UN)
	_ = f.f.Close()
}

func tryLockFile(path string) (lockFile, error) {
	if path == "" {
		return noopLock{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &flockFile{f: f}, nil
}

func isLockBusy(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN)
}

type noopLock struct{}

func (noopLock) release() {}
