//go:build darwin
// +build darwin

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

type proxySection struct {
	enableKey, proxyKey, portKey, authKey string
	get, set, state                       string
}

var darwinSections = []proxySection{
	{KeySOCKSEnable, KeySOCKSProxy, KeySOCKSPort, "SOCKSAuthenticated", "-getsocksfirewallproxy", "-setsocksfirewallproxy", "-setsocksfirewallproxystate"},
	{KeyHTTPEnable, KeyHTTPProxy, KeyHTTPPort, "HTTPAuthenticated", "-getwebproxy", "-setwebproxy", "-setwebproxystate"},
	{KeyHTTPSEnable, KeyHTTPSProxy, KeyHTTPSPort, "HTTPSAuthenticated", "-getsecurewebproxy", "-setsecurewebproxy", "-setsecurewebproxystate"},
}

// HostStore macOS 网络服务配置（networksetup）
type HostStore struct {
	lock *shared.HostLock

	mu     sync.Mutex
	read   map[string]ProxyDict
	staged map[string]ProxyDict
}

func NewHostStore(lockPath string) (*HostStore, error) {
	if _, err := exec.LookPath("networksetup"); err != nil {
		return nil, fmt.Errorf("networksetup not found: %w", err)
	}
	return &HostStore{
		lock:   shared.NewHostLock(lockPath),
		read:   make(map[string]ProxyDict),
		staged: make(map[string]ProxyDict),
	}, nil
}

func (s *HostStore) Lock(ctx context.Context) error { return s.lock.Lock(ctx) }

func (s *HostStore) Unlock() {
	s.mu.Lock()
	s.read = make(map[string]ProxyDict)
	s.staged = make(map[string]ProxyDict)
	s.mu.Unlock()
	s.lock.Unlock()
}

func (s *HostStore) Services(ctx context.Context) ([]string, error) {
	out, err := runNetworksetup(ctx, "-listallnetworkservices")
	if err != nil {
		return nil, err
	}
	var services []string
	for _, line := range strings.Split(out, "\n") {
		svc := strings.TrimSpace(line)
		if svc == "" || strings.HasPrefix(svc, "An asterisk") {
			continue
		}
		// 前缀 "*" 表示服务已禁用
		svc = strings.TrimSpace(strings.TrimPrefix(svc, "*"))
		if svc != "" {
			services = append(services, svc)
		}
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("no network services found")
	}
	return services, nil
}

func (s *HostStore) Proxies(ctx context.Context, service string) (ProxyDict, error) {
	d := ProxyDict{}
	for _, sec := range darwinSections {
		out, err := runNetworksetup(ctx, sec.get, service)
		if err != nil {
			return nil, err
		}
		fields := parseColonFields(out)
		d[sec.enableKey] = enableValue(strings.EqualFold(fields["Enabled"], "Yes"))
		d[sec.proxyKey] = fields["Server"]
		port, _ := strconv.Atoi(fields["Port"])
		d[sec.portKey] = port
		if auth, ok := fields["Authenticated Proxy Enabled"]; ok {
			d[sec.authKey] = auth
		}
	}

	out, err := runNetworksetup(ctx, "-getproxybypassdomains", service)
	if err != nil {
		return nil, err
	}
	var exceptions []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "There aren't any") {
			continue
		}
		exceptions = append(exceptions, line)
	}
	d[KeyExceptionsList] = exceptions

	s.mu.Lock()
	s.read[service] = d.Clone()
	s.mu.Unlock()
	return d, nil
}

func (s *HostStore) SetProxies(_ context.Context, service string, dict ProxyDict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.read[service]; !ok {
		return fmt.Errorf("service %q must be read before it is written", service)
	}
	s.staged[service] = dict.Clone()
	return nil
}

// Commit 只对发生变化的键执行 networksetup
func (s *HostStore) Commit(ctx context.Context) error {
	s.mu.Lock()
	staged := s.staged
	read := s.read
	s.staged = make(map[string]ProxyDict)
	s.mu.Unlock()

	for svc, next := range staged {
		prev := read[svc]
		for _, sec := range darwinSections {
			host, port := dictString(next, sec.proxyKey), dictInt(next, sec.portKey)
			if host != "" && port > 0 && (host != dictString(prev, sec.proxyKey) || port != dictInt(prev, sec.portKey)) {
				if _, err := runNetworksetup(ctx, sec.set, svc, host, strconv.Itoa(port)); err != nil {
					return err
				}
			}
			on := dictBool(next, sec.enableKey)
			if on != dictBool(prev, sec.enableKey) {
				state := "off"
				if on {
					state = "on"
				}
				if _, err := runNetworksetup(ctx, sec.state, svc, state); err != nil {
					return err
				}
			}
		}
		if exceptions := dictStrings(next, KeyExceptionsList); !reflect.DeepEqual(exceptions, dictStrings(prev, KeyExceptionsList)) {
			args := []string{"-setproxybypassdomains", svc}
			if len(exceptions) == 0 {
				args = append(args, "Empty")
			}
			if _, err := runNetworksetup(ctx, append(args, exceptions...)...); err != nil {
				return err
			}
		}
	}
	return nil
}

// Apply networksetup 写入即生效
func (s *HostStore) Apply(context.Context) error { return nil }

func parseColonFields(out string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return fields
}

func runNetworksetup(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "networksetup", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("networksetup %s failed: %v (%s)", strings.Join(args, " "), err, msg)
	}
	return string(out), nil
}
