package sysproxy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// 主机网络配置中与代理相关的键
const (
	KeySOCKSEnable    = "SOCKSEnable"
	KeySOCKSProxy     = "SOCKSProxy"
	KeySOCKSPort      = "SOCKSPort"
	KeyHTTPEnable     = "HTTPEnable"
	KeyHTTPProxy      = "HTTPProxy"
	KeyHTTPPort       = "HTTPPort"
	KeyHTTPSEnable    = "HTTPSEnable"
	KeyHTTPSProxy     = "HTTPSProxy"
	KeyHTTPSPort      = "HTTPSPort"
	KeyExceptionsList = "ExceptionsList"
)

// ProxyHost 代理始终指向本机
const ProxyHost = "127.0.0.1"

// DefaultExceptions 不走代理的地址：回环、.local 和三个私有网段
var DefaultExceptions = []string{
	"localhost",
	"127.0.0.1",
	"::1",
	"*.local",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// ProxyDict 单个网络服务的代理字典；未知键原样保留
type ProxyDict map[string]any

func (d ProxyDict) Clone() ProxyDict {
	out := make(ProxyDict, len(d))
	for k, v := range d {
		if list, ok := v.([]string); ok {
			v = append([]string(nil), list...)
		}
		out[k] = v
	}
	return out
}

// NetworkStore 主机网络配置存储。
// 调用方必须先 Lock，所有读写结束后 Unlock；写入在 Commit/Apply 之后才生效。
type NetworkStore interface {
	Lock(ctx context.Context) error
	Unlock()
	Services(ctx context.Context) ([]string, error)
	Proxies(ctx context.Context, service string) (ProxyDict, error)
	SetProxies(ctx context.Context, service string, dict ProxyDict) error
	Commit(ctx context.Context) error
	Apply(ctx context.Context) error
}

func dictBool(d ProxyDict, key string) bool {
	switch v := d[key].(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "yes", "true", "on":
			return true
		}
	}
	return false
}

func dictInt(d ProxyDict, key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

func dictString(d ProxyDict, key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func dictStrings(d ProxyDict, key string) []string {
	switch v := d[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

func enableValue(on bool) int {
	if on {
		return 1
	}
	return 0
}
