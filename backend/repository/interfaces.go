package repository

import (
	"context"

	"secureproxy/backend/domain"
)

// ConfigRepository 代理配置仓储接口（每个配置一个文件，以名称为键）
type ConfigRepository interface {
	Get(ctx context.Context, name string) (domain.ProxyConfig, error)
	List(ctx context.Context) ([]domain.ProxyConfig, error)
	Save(ctx context.Context, cfg domain.ProxyConfig) (domain.ProxyConfig, error)
	Delete(ctx context.Context, name string) error

	// 当前选中的配置；未选择或文件已失效时返回 nil
	ActiveConfig(ctx context.Context) (*domain.ProxyConfig, error)
	SetActive(ctx context.Context, name string) error
}

// SettingsRepository 持久化的用户选择
type SettingsRepository interface {
	Get() domain.Settings
	Update(func(s *domain.Settings)) domain.Settings
}
