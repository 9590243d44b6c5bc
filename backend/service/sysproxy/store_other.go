//go:build !darwin && !linux
// +build !darwin,!linux

package sysproxy

import (
	"fmt"
	"runtime"
)

// HostStore 当前平台不支持；调用方应回退到 MemoryStore
type HostStore struct {
	*MemoryStore
}

func NewHostStore(string) (*HostStore, error) {
	return nil, fmt.Errorf("system proxy is not supported on %s", runtime.GOOS)
}
