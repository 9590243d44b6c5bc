package memory

import (
	"context"
	"fmt"
	"sort"

	"secureproxy/backend/domain"
	"secureproxy/backend/repository"
	"secureproxy/backend/repository/events"
)

// ConfigRepo 配置仓储实现
type ConfigRepo struct {
	store *Store
}

// NewConfigRepo 创建配置仓储
func NewConfigRepo(store *Store) *ConfigRepo {
	return &ConfigRepo{store: store}
}

// Get 获取配置
func (r *ConfigRepo) Get(_ context.Context, name string) (domain.ProxyConfig, error) {
	r.store.RLock()
	defer r.store.RUnlock()

	cfg, ok := r.store.Configs()[name]
	if !ok {
		return domain.ProxyConfig{}, repository.ErrConfigNotFound
	}
	return cfg, nil
}

// List 列出所有配置
func (r *ConfigRepo) List(_ context.Context) ([]domain.ProxyConfig, error) {
	r.store.RLock()
	configs := r.store.Configs()
	items := make([]domain.ProxyConfig, 0, len(configs))
	for _, cfg := range configs {
		items = append(items, cfg)
	}
	r.store.RUnlock()

	// 在锁外排序
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// Save 保存配置
func (r *ConfigRepo) Save(_ context.Context, cfg domain.ProxyConfig) (domain.ProxyConfig, error) {
	if err := cfg.Validate(); err != nil {
		return domain.ProxyConfig{}, fmt.Errorf("%w: %w", repository.ErrInvalidData, err)
	}

	r.store.Lock()
	r.store.Configs()[cfg.Name] = cfg
	r.store.Unlock()

	// 在锁外发布事件
	r.store.PublishEvent(events.ConfigEvent{
		EventType: events.EventConfigSaved,
		Name:      cfg.Name,
		Config:    cfg,
	})
	return cfg, nil
}

// Delete 删除配置
func (r *ConfigRepo) Delete(_ context.Context, name string) error {
	r.store.Lock()
	if _, ok := r.store.Configs()[name]; !ok {
		r.store.Unlock()
		return repository.ErrConfigNotFound
	}
	delete(r.store.Configs(), name)
	clearedActive := r.store.settings.ActiveConfig == name
	if clearedActive {
		r.store.settings.ActiveConfig = ""
	}
	r.store.Unlock()

	if clearedActive {
		r.store.PublishEvent(events.ConfigEvent{EventType: events.EventConfigActivated})
	}
	r.store.PublishEvent(events.ConfigEvent{
		EventType: events.EventConfigDeleted,
		Name:      name,
	})
	return nil
}

// ActiveConfig 当前选中的配置
func (r *ConfigRepo) ActiveConfig(_ context.Context) (*domain.ProxyConfig, error) {
	r.store.RLock()
	defer r.store.RUnlock()

	name := r.store.settings.ActiveConfig
	if name == "" {
		return nil, nil
	}
	cfg, ok := r.store.Configs()[name]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

// SetActive 选中配置
func (r *ConfigRepo) SetActive(_ context.Context, name string) error {
	r.store.Lock()
	cfg, ok := r.store.Configs()[name]
	if name != "" && !ok {
		r.store.Unlock()
		return repository.ErrConfigNotFound
	}
	r.store.settings.ActiveConfig = name
	r.store.Unlock()

	r.store.PublishEvent(events.ConfigEvent{
		EventType: events.EventConfigActivated,
		Name:      name,
		Config:    cfg,
	})
	return nil
}

// 确保实现接口
var _ repository.ConfigRepository = (*ConfigRepo)(nil)
