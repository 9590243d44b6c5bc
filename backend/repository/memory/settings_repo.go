package memory

import (
	"time"

	"secureproxy/backend/domain"
	"secureproxy/backend/repository"
)

// SettingsRepo 设置仓储实现
type SettingsRepo struct {
	store *Store
}

// NewSettingsRepo 创建设置仓储
func NewSettingsRepo(store *Store) *SettingsRepo {
	return &SettingsRepo{store: store}
}

// Get 获取设置
func (r *SettingsRepo) Get() domain.Settings {
	r.store.RLock()
	defer r.store.RUnlock()
	return r.store.settings
}

// Update 修改设置
func (r *SettingsRepo) Update(fn func(s *domain.Settings)) domain.Settings {
	r.store.Lock()
	defer r.store.Unlock()
	fn(&r.store.settings)
	r.store.settings.GeneratedAt = time.Now()
	return r.store.settings
}

var _ repository.SettingsRepository = (*SettingsRepo)(nil)
