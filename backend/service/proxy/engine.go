package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"secureproxy/backend/domain"
	"secureproxy/backend/service/shared"
)

// EnvConfig 引擎从这个环境变量读取 JSON 配置
const EnvConfig = "SECURE_PROXY_CONFIG"

// DefaultSignature 清理遗留引擎时匹配的命令行片段
const DefaultSignature = "client.py"

// ReadyMarkers stdout 中出现任意一个即认为已连接
var ReadyMarkers = []string{"tunnel established", "✅ SOCKS5", "✅ HTTP"}

// 引擎会自己清掉这些变量；这里先去掉，避免系统代理指回自身
var inheritedProxyVars = []string{
	"HTTP_PROXY", "HTTPS_PROXY", "FTP_PROXY", "SOCKS_PROXY", "ALL_PROXY", "NO_PROXY",
}

// EngineSpec 如何启动引擎
type EngineSpec struct {
	// Command 为空时在 Dir 中查找入口（打包的二进制或 client.py）
	Command   string
	Args      []string
	Dir       string
	Signature string
	// Env 额外的环境变量（KEY=VALUE）
	Env []string
}

// EngineLaunchError 引擎进程没能启动
type EngineLaunchError struct {
	Command string
	Cause   error
}

func (e *EngineLaunchError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("launch engine: %v", e.Cause)
	}
	return fmt.Sprintf("launch engine %s: %v", e.Command, e.Cause)
}

func (e *EngineLaunchError) Unwrap() error { return e.Cause }

// Resolve 得到最终的可执行文件与参数
func (s EngineSpec) Resolve() (string, []string, error) {
	if s.Command != "" {
		return s.Command, append([]string(nil), s.Args...), nil
	}
	entry, err := shared.FindEngineEntry(s.Dir, shared.EngineEntryCandidates)
	if err != nil {
		return "", nil, err
	}
	if strings.HasSuffix(entry, ".py") {
		python := "python3"
		if runtime.GOOS == "windows" {
			python = "python"
		}
		return python, append([]string{"-u", entry}, s.Args...), nil
	}
	return entry, append([]string(nil), s.Args...), nil
}

func (s EngineSpec) signature() string {
	if strings.TrimSpace(s.Signature) != "" {
		return s.Signature
	}
	return DefaultSignature
}

// EngineEnv 生成引擎的环境变量：去掉代理变量，补全 PATH，写入配置
func EngineEnv(base []string, cfg domain.ProxyConfig, extra []string) ([]string, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode engine config: %w", err)
	}

	env := make([]string, 0, len(base)+len(extra)+2)
	pathValue := ""
	for _, kv := range base {
		k, v, _ := strings.Cut(kv, "=")
		switch {
		case isProxyVar(k), k == EnvConfig:
			continue
		case strings.EqualFold(k, "PATH"):
			pathValue = v
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "PATH="+augmentPath(pathValue))
	env = append(env, EnvConfig+"="+string(payload))
	return mergeEnv(env, extra), nil
}

func isProxyVar(key string) bool {
	for _, v := range inheritedProxyVars {
		if strings.EqualFold(key, v) {
			return true
		}
	}
	return false
}

// augmentPath 图形界面启动时 PATH 往往不含用户安装的 python
func augmentPath(current string) string {
	var extra []string
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		extra = append(extra, filepath.Join(home, ".local", "bin"))
		if matches, _ := filepath.Glob(filepath.Join(home, "Library", "Python", "*", "bin")); len(matches) > 0 {
			extra = append(extra, matches...)
		}
		extra = append(extra, filepath.Join(home, ".pyenv", "shims"))
	}
	if runtime.GOOS == "darwin" {
		extra = append(extra, "/opt/homebrew/bin")
	}
	extra = append(extra, "/usr/local/bin")

	seen := make(map[string]bool)
	var parts []string
	for _, p := range filepath.SplitList(current) {
		if p != "" && !seen[p] {
			seen[p] = true
			parts = append(parts, p)
		}
	}
	for _, p := range extra {
		if seen[p] {
			continue
		}
		if st, err := os.Stat(p); err != nil || !st.IsDir() {
			continue
		}
		seen[p] = true
		parts = append(parts, p)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// mergeEnv extra 中的同名变量覆盖 base
func mergeEnv(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make(map[string]bool, len(extra))
	for _, kv := range extra {
		k, _, _ := strings.Cut(kv, "=")
		keys[k] = true
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if !keys[k] {
			out = append(out, kv)
		}
	}
	return append(out, extra...)
}

func matchReadyMarker(line string) (string, bool) {
	for _, m := range ReadyMarkers {
		if strings.Contains(line, m) {
			return m, true
		}
	}
	return "", false
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}
