package status

import (
	"time"

	"secureproxy/backend/domain"
)

// Event 投递给聚合器的消息。apply 只在聚合器 goroutine 上执行。
type Event interface {
	apply(m *model)
}

// Sink 各组件只通过 Post 向聚合器报告，不直接修改共享状态
type Sink interface {
	Post(ev Event)
}

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// StartRequested 用户请求启动（→ Connecting）
type StartRequested struct {
	Config string
}

// StopRequested 用户请求停止；优先级最高（→ Disconnected）
type StopRequested struct{}

// EngineLaunched 引擎进程已创建
type EngineLaunched struct {
	Session   string
	Pid       int
	StartedAt time.Time
}

// EngineLaunchFailed 进程没能启动（找不到程序、没有权限等）
type EngineLaunchFailed struct {
	Err error
}

// EngineLine 引擎输出的一行
type EngineLine struct {
	Session string
	Stream  Stream
	Text    string
}

// EngineReady stdout 中出现了成功标记
type EngineReady struct {
	Session string
	Marker  string
}

// EngineExited 进程退出（被 Wait 回收）
type EngineExited struct {
	Session string
	Code    int
	Err     error
}

// EngineStopped 停止流程结束；总是回到 Disconnected
type EngineStopped struct {
	Session string
}

// InterfaceChanged 虚拟网卡状态通知
type InterfaceChanged struct {
	State domain.InterfaceState
}

// SystemProxyChanged 系统代理开关结果
type SystemProxyChanged struct {
	Enabled bool
}

// PacketsCounted 虚拟网卡数据通道的累计包数
type PacketsCounted struct {
	Total uint64
}

// ActiveConfigChanged 选中的配置变化
type ActiveConfigChanged struct {
	Name string
}

// Note 普通日志行
type Note struct {
	Source domain.LogSource
	Level  domain.LogLevel
	Text   string
}

// barrier 用于等待此前投递的事件全部处理完
type barrier struct {
	done chan struct{}
}

func (b barrier) apply(*model) { close(b.done) }
