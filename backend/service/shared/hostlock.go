package shared

import (
	"context"
	"time"
)

const hostLockPoll = 50 * time.Millisecond

// HostLock 主机网络配置的独占锁：进程内用信号量，进程间用锁文件。
type HostLock struct {
	path string
	sem  chan struct{}
	file lockFile
}

func NewHostLock(path string) *HostLock {
	return &HostLock{path: path, sem: make(chan struct{}, 1)}
}

// Lock 获取锁，直到成功或 ctx 结束
func (l *HostLock) Lock(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(hostLockPoll)
	defer ticker.Stop()
	for {
		f, err := tryLockFile(l.path)
		if err == nil {
			l.file = f
			return nil
		}
		if !isLockBusy(err) {
			<-l.sem
			return err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			<-l.sem
			return ctx.Err()
		}
	}
}

// Unlock 释放锁；未持有时调用无副作用
func (l *HostLock) Unlock() {
	if l.file != nil {
		l.file.release()
		l.file = nil
	}
	select {
	case <-l.sem:
	default:
	}
}
