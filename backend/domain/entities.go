package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ProxyConfig 一份代理连接配置（同时也是传给引擎的唯一配置载荷）
type ProxyConfig struct {
	Name         string `json:"name"`
	SNIHost      string `json:"sni_host"`
	Path         string `json:"path"`
	ServerPort   int    `json:"server_port"`
	SOCKSPort    int    `json:"socks_port"`
	HTTPPort     int    `json:"http_port"`
	PreSharedKey string `json:"pre_shared_key"`
}

const maxConfigNameBytes = 128

// Validate 校验配置：名称必须可安全作为文件名，端口在 1-65535 之间。
func (c ProxyConfig) Validate() error {
	if err := ValidateConfigName(c.Name); err != nil {
		return err
	}
	ports := []struct {
		field string
		value int
	}{
		{"server_port", c.ServerPort},
		{"socks_port", c.SOCKSPort},
		{"http_port", c.HTTPPort},
	}
	for _, p := range ports {
		if p.value < 1 || p.value > 65535 {
			return fmt.Errorf("%w: %s out of range: %d", ErrInvalidConfig, p.field, p.value)
		}
	}
	return nil
}

// ValidateConfigName 检查配置名能否直接作为 <name>.json 落盘。
func ValidateConfigName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidConfig)
	case len(name) > maxConfigNameBytes:
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidConfig, maxConfigNameBytes)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: name must not start with '.'", ErrInvalidConfig)
	case strings.ContainsAny(name, `/\:`):
		return fmt.Errorf("%w: name contains a path separator", ErrInvalidConfig)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: name contains control characters", ErrInvalidConfig)
		}
	}
	return nil
}

// LifecycleState 引擎生命周期状态
type LifecycleState string

const (
	StateDisconnected LifecycleState = "disconnected"
	StateConnecting   LifecycleState = "connecting"
	StateConnected    LifecycleState = "connected"
	StateError        LifecycleState = "error"
)

// InterfaceState 虚拟网卡状态（由 provider 异步通知驱动）
type InterfaceState string

const (
	InterfaceInvalid       InterfaceState = "invalid"
	InterfaceDisconnected  InterfaceState = "disconnected"
	InterfaceConnecting    InterfaceState = "connecting"
	InterfaceConnected     InterfaceState = "connected"
	InterfaceDisconnecting InterfaceState = "disconnecting"
	InterfaceReasserting   InterfaceState = "reasserting"
)

// Active 返回网卡是否处于（或正在进入）启用状态。
func (s InterfaceState) Active() bool {
	switch s {
	case InterfaceConnecting, InterfaceConnected, InterfaceReasserting:
		return true
	}
	return false
}

// SystemProxyState 单个网络服务的系统代理设置
type SystemProxyState struct {
	Service      string   `json:"service"`
	SOCKSEnabled bool     `json:"socksEnabled"`
	HTTPEnabled  bool     `json:"httpEnabled"`
	HTTPSEnabled bool     `json:"httpsEnabled"`
	Host         string   `json:"host,omitempty"`
	SOCKSPort    int      `json:"socksPort,omitempty"`
	HTTPPort     int      `json:"httpPort,omitempty"`
	HTTPSPort    int      `json:"httpsPort,omitempty"`
	Exceptions   []string `json:"exceptions,omitempty"`
}

// Enabled 任一代理开关打开即视为启用
func (s SystemProxyState) Enabled() bool {
	return s.SOCKSEnabled || s.HTTPEnabled || s.HTTPSEnabled
}

// VirtualInterfaceConfig 虚拟网卡描述（每次安装创建一次，之后只更新）
type VirtualInterfaceConfig struct {
	ProviderIdentifier  string    `json:"providerIdentifier" plist:"provider_identifier"`
	SOCKSPort           int       `json:"socksPort" plist:"socks_port"`
	DNSServer           string    `json:"dnsServer" plist:"dns_server"`
	TunIP               string    `json:"tunIp" plist:"tun_ip"`
	TunNetmask          string    `json:"tunNetmask" plist:"tun_netmask"`
	TunGateway          string    `json:"tunGateway" plist:"tun_gateway"`
	Version             string    `json:"version" plist:"version"`
	Enabled             bool      `json:"enabled" plist:"enabled"`
	IncludeDefaultRoute bool      `json:"includeDefaultRoute" plist:"include_default_route"`
	ExcludedRoutes      []string  `json:"excludedRoutes,omitempty" plist:"excluded_routes"`
	UpdatedAt           time.Time `json:"updatedAt" plist:"updated_at"`
}

type LogSource string

const (
	LogSourceEngine    LogSource = "engine"
	LogSourceSystem    LogSource = "system"
	LogSourceInterface LogSource = "interface"
)

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry 状态聚合器中的一行日志
type LogEntry struct {
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	Source LogSource `json:"source"`
	Level  LogLevel  `json:"level"`
	Text   string    `json:"text"`
}

// TrafficStats 引擎周期性输出的流量统计
type TrafficStats struct {
	UpKBps            float64   `json:"upKBps"`
	DownKBps          float64   `json:"downKBps"`
	PeakDownKBps      float64   `json:"peakDownKBps"`
	ActiveConnections int       `json:"activeConnections"`
	MaxConnections    int       `json:"maxConnections"`
	SuccessRate       float64   `json:"successRate"`
	Degraded          bool      `json:"degraded"`
	Samples           uint64    `json:"samples"`
	Packets           uint64    `json:"packets"`
	SampledAt         time.Time `json:"sampledAt,omitempty"`
}

// EngineInfo 当前运行中的引擎进程
type EngineInfo struct {
	Pid       int       `json:"pid,omitempty"`
	Session   string    `json:"session,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Status 发布给 UI 的聚合状态
type Status struct {
	State        LifecycleState `json:"state"`
	Interface    InterfaceState `json:"interface"`
	SystemProxy  bool           `json:"systemProxy"`
	ActiveConfig string         `json:"activeConfig,omitempty"`
	Engine       EngineInfo     `json:"engine"`
	Traffic      TrafficStats   `json:"traffic"`
	LastError    string         `json:"lastError,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Settings 需要跨重启保留的用户选择
type Settings struct {
	SchemaVersion      string    `json:"schemaVersion,omitempty"`
	ActiveConfig       string    `json:"activeConfig,omitempty"`
	SystemProxyEnabled bool      `json:"systemProxyEnabled"`
	TunEnabled         bool      `json:"tunEnabled"`
	GeneratedAt        time.Time `json:"generatedAt"`
}
