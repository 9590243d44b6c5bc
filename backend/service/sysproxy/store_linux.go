//go:build linux
// +build linux

package sysproxy

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"secureproxy/backend/service/shared"
)

// GNOME 只有一份全局代理设置，对外暴露为一个名为 gnome 的服务
const gnomeService = "gnome"

const gnomeModeKey = "GnomeMode"

var gnomeSections = []struct {
	section                      string
	enableKey, proxyKey, portKey string
}{
	{"socks", KeySOCKSEnable, KeySOCKSProxy, KeySOCKSPort},
	{"http", KeyHTTPEnable, KeyHTTPProxy, KeyHTTPPort},
	{"https", KeyHTTPSEnable, KeyHTTPSProxy, KeyHTTPSPort},
}

// HostStore GNOME 桌面代理设置（gsettings）
type HostStore struct {
	lock *shared.HostLock

	mu     sync.Mutex
	read   ProxyDict
	staged ProxyDict
}

func NewHostStore(lockPath string) (*HostStore, error) {
	if _, err := exec.LookPath("gsettings"); err != nil {
		return nil, fmt.Errorf("gsettings not found: %w", err)
	}
	return &HostStore{lock: shared.NewHostLock(lockPath)}, nil
}

func (s *HostStore) Lock(ctx context.Context) error { return s.lock.Lock(ctx) }

func (s *HostStore) Unlock() {
	s.mu.Lock()
	s.read, s.staged = nil, nil
	s.mu.Unlock()
	s.lock.Unlock()
}

func (s *HostStore) Services(context.Context) ([]string, error) {
	return []string{gnomeService}, nil
}

func (s *HostStore) Proxies(ctx context.Context, service string) (ProxyDict, error) {
	if service != gnomeService {
		return nil, fmt.Errorf("unknown network service %q", service)
	}
	mode, err := gsettingsGet(ctx, "org.gnome.system.proxy", "mode")
	if err != nil {
		return nil, err
	}
	mode = unquoteGVariant(mode)
	d := ProxyDict{gnomeModeKey: mode}
	for _, sec := range gnomeSections {
		schema := "org.gnome.system.proxy." + sec.section
		host, err := gsettingsGet(ctx, schema, "host")
		if err != nil {
			return nil, err
		}
		portRaw, err := gsettingsGet(ctx, schema, "port")
		if err != nil {
			return nil, err
		}
		host = unquoteGVariant(host)
		port, _ := strconv.Atoi(strings.TrimSpace(portRaw))
		d[sec.proxyKey] = host
		d[sec.portKey] = port
		d[sec.enableKey] = enableValue(mode == "manual" && host != "")
	}
	ignore, err := gsettingsGet(ctx, "org.gnome.system.proxy", "ignore-hosts")
	if err != nil {
		return nil, err
	}
	d[KeyExceptionsList] = parseGVariantStringList(ignore)

	s.mu.Lock()
	s.read = d.Clone()
	s.mu.Unlock()
	return d, nil
}

func (s *HostStore) SetProxies(_ context.Context, service string, dict ProxyDict) error {
	if service != gnomeService {
		return fmt.Errorf("unknown network service %q", service)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.read == nil {
		return fmt.Errorf("service %q must be read before it is written", service)
	}
	s.staged = dict.Clone()
	return nil
}

// Commit GNOME 无法单独关闭某一类代理：全部关闭时切换 mode=none（保留地址），
// 部分关闭时清空对应的 host。
func (s *HostStore) Commit(ctx context.Context) error {
	s.mu.Lock()
	prev, next := s.read, s.staged
	s.staged = nil
	s.mu.Unlock()
	if next == nil {
		return fmt.Errorf("nothing staged")
	}

	anyOn := false
	for _, sec := range gnomeSections {
		anyOn = anyOn || dictBool(next, sec.enableKey)
	}

	for _, sec := range gnomeSections {
		schema := "org.gnome.system.proxy." + sec.section
		on := dictBool(next, sec.enableKey)
		host, port := dictString(next, sec.proxyKey), dictInt(next, sec.portKey)
		switch {
		case on && (host != dictString(prev, sec.proxyKey) || port != dictInt(prev, sec.portKey)):
			if err := gsettingsSet(ctx, schema, "host", "'"+escapeGVariantString(host)+"'"); err != nil {
				return err
			}
			if err := gsettingsSet(ctx, schema, "port", strconv.Itoa(port)); err != nil {
				return err
			}
		case !on && anyOn && dictBool(prev, sec.enableKey):
			if err := gsettingsSet(ctx, schema, "host", "''"); err != nil {
				return err
			}
		}
	}

	if exceptions := dictStrings(next, KeyExceptionsList); !reflect.DeepEqual(exceptions, dictStrings(prev, KeyExceptionsList)) {
		if err := gsettingsSet(ctx, "org.gnome.system.proxy", "ignore-hosts", formatGVariantStringList(exceptions)); err != nil {
			return err
		}
	}

	mode := "none"
	if anyOn {
		mode = "manual"
	}
	if mode != dictString(prev, gnomeModeKey) {
		return gsettingsSet(ctx, "org.gnome.system.proxy", "mode", "'"+mode+"'")
	}
	return nil
}

// Apply gsettings 写入即生效
func (s *HostStore) Apply(context.Context) error { return nil }

func gsettingsGet(ctx context.Context, schema, key string) (string, error) {
	cmd := exec.CommandContext(ctx, "gsettings", "get", schema, key)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("gsettings get %s %s failed: %v (%s)", schema, key, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}

func gsettingsSet(ctx context.Context, schema, key, value string) error {
	cmd := exec.CommandContext(ctx, "gsettings", "set", schema, key, value)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Errorf("gsettings set %s %s failed: %v (%s)", schema, key, err, msg)
	}
	return nil
}
