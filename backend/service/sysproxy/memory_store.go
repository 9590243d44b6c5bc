package sysproxy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"secureproxy/backend/service/shared"
)

// MemoryStore 内存中的网络配置（dry-run 模式和测试使用）
type MemoryStore struct {
	lock *shared.HostLock

	mu       sync.Mutex
	order    []string
	services map[string]ProxyDict
	staged   map[string]ProxyDict

	// 故障注入
	LockErr     error
	ServicesErr error
	ReadErr     map[string]error
	WriteErr    map[string]error
	CommitErr   error

	Commits int
	Applies int
	Unlocks int
}

// NewMemoryStore 创建内存存储；lockPath 为空时只做进程内互斥
func NewMemoryStore(lockPath string, services ...string) *MemoryStore {
	if len(services) == 0 {
		services = []string{"Wi-Fi"}
	}
	s := &MemoryStore{
		lock:     shared.NewHostLock(lockPath),
		services: make(map[string]ProxyDict, len(services)),
		staged:   make(map[string]ProxyDict),
		ReadErr:  make(map[string]error),
		WriteErr: make(map[string]error),
	}
	for _, svc := range services {
		s.order = append(s.order, svc)
		s.services[svc] = ProxyDict{}
	}
	return s
}

func (s *MemoryStore) Lock(ctx context.Context) error {
	if s.LockErr != nil {
		return s.LockErr
	}
	return s.lock.Lock(ctx)
}

func (s *MemoryStore) Unlock() {
	s.mu.Lock()
	s.Unlocks++
	s.staged = make(map[string]ProxyDict)
	s.mu.Unlock()
	s.lock.Unlock()
}

func (s *MemoryStore) Services(context.Context) ([]string, error) {
	if s.ServicesErr != nil {
		return nil, s.ServicesErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

func (s *MemoryStore) Proxies(_ context.Context, service string) (ProxyDict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ReadErr[service]; err != nil {
		return nil, err
	}
	d, ok := s.services[service]
	if !ok {
		return nil, fmt.Errorf("unknown network service %q", service)
	}
	return d.Clone(), nil
}

func (s *MemoryStore) SetProxies(_ context.Context, service string, dict ProxyDict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.WriteErr[service]; err != nil {
		return err
	}
	if _, ok := s.services[service]; !ok {
		return fmt.Errorf("unknown network service %q", service)
	}
	s.staged[service] = dict.Clone()
	return nil
}

func (s *MemoryStore) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CommitErr != nil {
		return s.CommitErr
	}
	if len(s.staged) == 0 {
		return errors.New("nothing staged")
	}
	for svc, d := range s.staged {
		s.services[svc] = d
	}
	s.staged = make(map[string]ProxyDict)
	s.Commits++
	return nil
}

func (s *MemoryStore) Apply(context.Context) error {
	s.mu.Lock()
	s.Applies++
	s.mu.Unlock()
	return nil
}

// SetCommitErr 运行中切换提交故障（与后台重试并发时使用）
func (s *MemoryStore) SetCommitErr(err error) {
	s.mu.Lock()
	s.CommitErr = err
	s.mu.Unlock()
}

// CommitCount 已成功提交的次数
func (s *MemoryStore) CommitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Commits
}

// Seed 直接写入某个服务的字典（测试准备数据）
func (s *MemoryStore) Seed(service string, dict ProxyDict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[service]; !ok {
		s.order = append(s.order, service)
	}
	s.services[service] = dict.Clone()
}

// Snapshot 返回某个服务当前已生效的字典
func (s *MemoryStore) Snapshot(service string) ProxyDict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.services[service].Clone()
}
