//go:build !darwin && !linux
// +build !darwin,!linux

package shared

type lockFile interface {
	release()
}

type noopLock struct{}

func (noopLock) release() {}

// 其它平台只做进程内互斥
func tryLockFile(string) (lockFile, error) { return noopLock{}, nil }

func isLockBusy(error) bool { return false }
