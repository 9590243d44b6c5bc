package shared

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// EnvUserDataDir 覆盖用户数据目录（测试和便携安装使用）
	EnvUserDataDir = "SECURE_PROXY_USER_DATA_DIR"

	appDirName = "SecureProxy"
)

// UserDataRoot returns the per-user data root directory.
//
// Default (no EnvUserDataDir):
// - Linux: ~/.config/SecureProxy
// - macOS: ~/Library/Application Support/SecureProxy
func UserDataRoot() string {
	if configured := strings.TrimSpace(os.Getenv(EnvUserDataDir)); configured != "" {
		return absPath(configured)
	}

	if base, err := os.UserConfigDir(); err == nil && strings.TrimSpace(base) != "" {
		return absPath(filepath.Join(base, appDirName))
	}

	if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
		return absPath(filepath.Join(home, ".secureproxy"))
	}

	return absPath(filepath.Join(os.TempDir(), appDirName))
}

// Layout 用户数据目录下各子目录
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	if strings.TrimSpace(root) == "" {
		root = UserDataRoot()
	}
	return Layout{Root: absPath(root)}
}

// ConfigDir 每个代理配置一个 <name>.json
func (l Layout) ConfigDir() string { return filepath.Join(l.Root, "configs") }

func (l Layout) SettingsPath() string { return filepath.Join(l.Root, "data", "settings.json") }

func (l Layout) RuntimeDir() string { return filepath.Join(l.Root, "runtime") }

func (l Layout) AppLogPath() string { return filepath.Join(l.RuntimeDir(), "app.log") }

func (l Layout) EngineLogPath() string { return filepath.Join(l.RuntimeDir(), "engine.log") }

// LockPath 主机网络配置锁文件
func (l Layout) LockPath() string { return filepath.Join(l.RuntimeDir(), "netconfig.lock") }

// TunnelDir 虚拟网卡描述文件目录
func (l Layout) TunnelDir() string { return filepath.Join(l.Root, "tunnel") }

// EngineDir 引擎脚本默认目录
func (l Layout) EngineDir() string { return filepath.Join(l.Root, "engine") }

func absPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
