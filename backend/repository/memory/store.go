package memory

import (
	"sync"

	"secureproxy/backend/domain"
	"secureproxy/backend/repository/events"
)

// Store 内存存储（dry-run 与测试使用，不落盘）
type Store struct {
	mu sync.RWMutex

	configs  map[string]domain.ProxyConfig
	settings domain.Settings

	// 事件总线
	eventBus *events.Bus
}

// NewStore 创建新的内存存储
func NewStore(eventBus *events.Bus) *Store {
	return &Store{
		configs:  make(map[string]domain.ProxyConfig),
		settings: domain.Settings{SchemaVersion: "1.0.0"},
		eventBus: eventBus,
	}
}

// RLock 获取读锁
func (s *Store) RLock() { s.mu.RLock() }

// RUnlock 释放读锁
func (s *Store) RUnlock() { s.mu.RUnlock() }

// Lock 获取写锁
func (s *Store) Lock() { s.mu.Lock() }

// Unlock 释放写锁
func (s *Store) Unlock() { s.mu.Unlock() }

// PublishEvent 发布事件（异步，应在锁外调用）
func (s *Store) PublishEvent(event events.Event) {
	if s.eventBus != nil {
		s.eventBus.Publish(event)
	}
}

// Configs 返回配置映射（需持有锁）
func (s *Store) Configs() map[string]domain.ProxyConfig { return s.configs }
