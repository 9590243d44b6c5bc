package events

import "secureproxy/backend/domain"

// EventType 事件类型
type EventType string

const (
	// 配置事件
	EventConfigSaved     EventType = "config.saved"
	EventConfigDeleted   EventType = "config.deleted"
	EventConfigActivated EventType = "config.activated"
	EventConfigChanged   EventType = "config.changed"

	// 设置事件
	EventSystemProxyChanged EventType = "settings.system_proxy_changed"
	EventTunChanged         EventType = "settings.tun_changed"

	// 聚合状态发布
	EventStatusPublished EventType = "status.published"

	// 通配符事件（用于订阅所有事件）
	EventAll EventType = "*"
)

// Event 事件接口
type Event interface {
	Type() EventType
}

// ConfigEvent 配置事件
type ConfigEvent struct {
	EventType EventType
	Name      string
	Config    domain.ProxyConfig
}

func (e ConfigEvent) Type() EventType { return e.EventType }

// SettingsEvent 设置事件
type SettingsEvent struct {
	EventType EventType
	Settings  domain.Settings
}

func (e SettingsEvent) Type() EventType { return e.EventType }

// StatusEvent 节流后的聚合状态
type StatusEvent struct {
	Status domain.Status
}

func (e StatusEvent) Type() EventType { return EventStatusPublished }
