package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"secureproxy/backend/domain"
	"secureproxy/backend/repository"
	"secureproxy/backend/repository/events"
	"secureproxy/backend/persist"
	"secureproxy/backend/service/applog"
	"secureproxy/backend/service/shared"
)

const configExt = ".json"

// ConfigRepo 每个配置一个 JSON 文件：<dir>/<name>.json。
// 当前选中的配置名保存在设置文件里。
type ConfigRepo struct {
	dir      string
	settings repository.SettingsRepository
	bus      *events.Bus
	log      zerolog.Logger

	// 串行化对目录的写操作
	mu sync.Mutex
}

// NewConfigRepo 创建配置仓储；bus 可以为 nil
func NewConfigRepo(dir string, settings repository.SettingsRepository, bus *events.Bus) *ConfigRepo {
	return &ConfigRepo{
		dir:      dir,
		settings: settings,
		bus:      bus,
		log:      applog.For("configs"),
	}
}

// Dir 配置目录
func (r *ConfigRepo) Dir() string { return r.dir }

func (r *ConfigRepo) pathFor(name string) (string, error) {
	if err := domain.ValidateConfigName(name); err != nil {
		return "", fmt.Errorf("%w: %w", repository.ErrInvalidData, err)
	}
	return shared.SafeJoin(r.dir, name+configExt)
}

// Get 读取单个配置
func (r *ConfigRepo) Get(_ context.Context, name string) (domain.ProxyConfig, error) {
	path, err := r.pathFor(name)
	if err != nil {
		return domain.ProxyConfig{}, err
	}
	cfg, err := readConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.ProxyConfig{}, repository.ErrConfigNotFound
	}
	if err != nil {
		return domain.ProxyConfig{}, err
	}
	return cfg, nil
}

// List 读取目录下所有配置（按名称排序）；坏文件跳过并记录日志
func (r *ConfigRepo) List(_ context.Context) ([]domain.ProxyConfig, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.ProxyConfig{}, nil
		}
		return nil, err
	}

	items := make([]domain.ProxyConfig, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, configExt) || strings.HasPrefix(name, ".") {
			continue
		}
		cfg, err := readConfig(filepath.Join(r.dir, name))
		if err != nil {
			r.log.Warn().Err(err).Str("file", name).Msg("跳过无法读取的配置")
			continue
		}
		// 文件名才是键
		if stem := strings.TrimSuffix(name, configExt); cfg.Name != stem {
			r.log.Warn().Str("file", name).Str("name", cfg.Name).Msg("配置名与文件名不一致，以文件名为准")
			cfg.Name = stem
			if err := cfg.Validate(); err != nil {
				continue
			}
		}
		items = append(items, cfg)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func readConfig(path string) (domain.ProxyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ProxyConfig{}, err
	}
	var cfg domain.ProxyConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.ProxyConfig{}, fmt.Errorf("%w: %s: %v", repository.ErrInvalidData, filepath.Base(path), err)
	}
	if err := cfg.Validate(); err != nil {
		return domain.ProxyConfig{}, fmt.Errorf("%w: %s: %w", repository.ErrInvalidData, filepath.Base(path), err)
	}
	return cfg, nil
}

// Save 校验并写入配置（覆盖同名文件）
func (r *ConfigRepo) Save(_ context.Context, cfg domain.ProxyConfig) (domain.ProxyConfig, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if err := cfg.Validate(); err != nil {
		return domain.ProxyConfig{}, fmt.Errorf("%w: %w", repository.ErrInvalidData, err)
	}
	path, err := r.pathFor(cfg.Name)
	if err != nil {
		return domain.ProxyConfig{}, err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return domain.ProxyConfig{}, err
	}
	data = append(data, '\n')

	r.mu.Lock()
	err = persist.AtomicWrite(path, data, 0o600)
	r.mu.Unlock()
	if err != nil {
		return domain.ProxyConfig{}, fmt.Errorf("save config %s: %w", cfg.Name, err)
	}

	r.log.Info().Str("name", cfg.Name).Msg("配置已保存")
	r.publish(events.ConfigEvent{EventType: events.EventConfigSaved, Name: cfg.Name, Config: cfg})
	return cfg, nil
}

// Delete 删除配置；删除当前选中的配置会清空选择
func (r *ConfigRepo) Delete(_ context.Context, name string) error {
	path, err := r.pathFor(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	err = os.Remove(path)
	r.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return repository.ErrConfigNotFound
	}
	if err != nil {
		return err
	}

	if r.settings != nil && r.settings.Get().ActiveConfig == name {
		r.settings.Update(func(s *domain.Settings) { s.ActiveConfig = "" })
		r.publish(events.ConfigEvent{EventType: events.EventConfigActivated})
	}
	r.log.Info().Str("name", name).Msg("配置已删除")
	r.publish(events.ConfigEvent{EventType: events.EventConfigDeleted, Name: name})
	return nil
}

// ActiveConfig 当前选中的配置；未选择或文件失效时返回 nil
func (r *ConfigRepo) ActiveConfig(ctx context.Context) (*domain.ProxyConfig, error) {
	if r.settings == nil {
		return nil, nil
	}
	name := r.settings.Get().ActiveConfig
	if name == "" {
		return nil, nil
	}
	cfg, err := r.Get(ctx, name)
	if err != nil {
		r.log.Warn().Err(err).Str("name", name).Msg("选中的配置不可用")
		return nil, nil
	}
	return &cfg, nil
}

// SetActive 选中配置（必须存在）；空名称表示取消选择
func (r *ConfigRepo) SetActive(ctx context.Context, name string) error {
	if r.settings == nil {
		return errors.New("settings store not configured")
	}
	var cfg domain.ProxyConfig
	if name != "" {
		var err error
		if cfg, err = r.Get(ctx, name); err != nil {
			return err
		}
	}
	r.settings.Update(func(s *domain.Settings) { s.ActiveConfig = name })
	r.publish(events.ConfigEvent{EventType: events.EventConfigActivated, Name: name, Config: cfg})
	return nil
}

func (r *ConfigRepo) publish(ev events.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}

var _ repository.ConfigRepository = (*ConfigRepo)(nil)
