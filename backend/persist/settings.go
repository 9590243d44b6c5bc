package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"secureproxy/backend/domain"
	"secureproxy/backend/service/applog"
)

// SettingsStore 设置文件（内存副本 + 防抖落盘）
type SettingsStore struct {
	path     string
	migrator *Migrator
	log      zerolog.Logger

	stateMu sync.RWMutex
	state   domain.Settings

	mu       sync.Mutex
	pending  bool
	dirty    bool
	debounce time.Duration
	idle     *sync.Cond

	saveMu sync.Mutex
}

// NewSettingsStore 创建设置存储；调用方需要再调用 Load
func NewSettingsStore(path string) *SettingsStore {
	s := &SettingsStore{
		path:     path,
		migrator: NewMigrator(),
		log:      applog.For("settings"),
		state:    domain.Settings{SchemaVersion: SchemaVersion},
		debounce: 200 * time.Millisecond,
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// SetDebounce 设置防抖延迟
func (s *SettingsStore) SetDebounce(d time.Duration) {
	s.mu.Lock()
	s.debounce = d
	s.mu.Unlock()
}

// Load 读取设置文件；文件不存在时使用默认值
func (s *SettingsStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.Settings{}, err
	}
	state, err := s.migrator.Migrate(data)
	if err != nil {
		return domain.Settings{}, err
	}
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
	return state, nil
}

// Get 返回当前设置
func (s *SettingsStore) Get() domain.Settings {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Update 修改设置并调度落盘
func (s *SettingsStore) Update(fn func(st *domain.Settings)) domain.Settings {
	s.stateMu.Lock()
	fn(&s.state)
	next := s.state
	s.stateMu.Unlock()
	s.Schedule()
	return next
}

// Schedule 调度保存（防抖）
func (s *SettingsStore) Schedule() {
	s.mu.Lock()
	if s.pending {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.pending = true
	s.dirty = false
	s.mu.Unlock()

	go func() {
		for {
			s.mu.Lock()
			debounce := s.debounce
			s.mu.Unlock()

			time.Sleep(debounce)
			if err := s.save(); err != nil {
				s.log.Error().Err(err).Str("path", s.path).Msg("保存设置失败")
			}

			s.mu.Lock()
			if s.dirty {
				s.dirty = false
				s.mu.Unlock()
				continue
			}
			s.pending = false
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
	}()
}

// SaveNow 立即保存（同步）
func (s *SettingsStore) SaveNow() error {
	return s.save()
}

// WaitIdle 等待已调度的保存完成
func (s *SettingsStore) WaitIdle(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		for s.pending {
			s.idle.Wait()
		}
		s.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("settings save still pending after %v", timeout)
	}
}

func (s *SettingsStore) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	state := s.Get()
	state.SchemaVersion = SchemaVersion
	state.GeneratedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return AtomicWrite(s.path, data, 0o644)
}
