package status

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"secureproxy/backend/domain"
)

// model 两个来源状态机（引擎生命周期 + 虚拟网卡）合并后的状态。
// 只在聚合器 goroutine 中读写。
type model struct {
	lifecycle    domain.LifecycleState
	iface        domain.InterfaceState
	sysproxy     bool
	activeConfig string
	session      string
	engine       domain.EngineInfo
	traffic      domain.TrafficStats
	lastError    string
	updatedAt    time.Time

	logs *logBuffer
	log  zerolog.Logger
	now  func() time.Time
}

func newModel(logs *logBuffer, log zerolog.Logger) *model {
	return &model{
		lifecycle: domain.StateDisconnected,
		iface:     domain.InterfaceInvalid,
		logs:      logs,
		log:       log,
		now:       time.Now,
	}
}

func (m *model) snapshot() domain.Status {
	return domain.Status{
		State:        m.lifecycle,
		Interface:    m.iface,
		SystemProxy:  m.sysproxy,
		ActiveConfig: m.activeConfig,
		Engine:       m.engine,
		Traffic:      m.traffic,
		LastError:    m.lastError,
		UpdatedAt:    m.updatedAt,
	}
}

func (m *model) setLifecycle(next domain.LifecycleState) {
	if m.lifecycle == next {
		return
	}
	m.log.Debug().Str("from", string(m.lifecycle)).Str("to", string(next)).Msg("lifecycle")
	m.lifecycle = next
	observeLifecycle(next)
}

func (m *model) append(source domain.LogSource, level domain.LogLevel, text string) {
	e := m.logs.append(domain.LogEntry{Time: m.now(), Source: source, Level: level, Text: text})
	logLinesTotal.WithLabelValues(string(source), string(level)).Inc()

	var ev *zerolog.Event
	switch {
	case source == domain.LogSourceEngine:
		ev = m.log.Debug()
	case level == domain.LogError:
		ev = m.log.Error()
	case level == domain.LogWarn:
		ev = m.log.Warn()
	default:
		ev = m.log.Info()
	}
	ev.Uint64("seq", e.Seq).Str("source", string(source)).Msg(text)
}

func (ev StartRequested) apply(m *model) {
	m.setLifecycle(domain.StateConnecting)
	m.session = ""
	m.engine = domain.EngineInfo{}
	m.lastError = ""
	m.traffic = domain.TrafficStats{Packets: m.traffic.Packets}
	if ev.Config != "" {
		m.activeConfig = ev.Config
	}
	m.append(domain.LogSourceSystem, domain.LogInfo, fmt.Sprintf("正在启动: %s", ev.Config))
}

// 显式停止优先于一切：此后旧会话的事件都不再影响状态
func (StopRequested) apply(m *model) {
	m.setLifecycle(domain.StateDisconnected)
	m.session = ""
	m.append(domain.LogSourceSystem, domain.LogInfo, "正在停止")
}

func (ev EngineLaunched) apply(m *model) {
	if m.lifecycle != domain.StateConnecting || m.session != "" {
		m.append(domain.LogSourceSystem, domain.LogWarn, fmt.Sprintf("忽略过期的引擎进程 pid=%d", ev.Pid))
		return
	}
	m.session = ev.Session
	m.engine = domain.EngineInfo{Pid: ev.Pid, Session: ev.Session, StartedAt: ev.StartedAt}
	engineStartsTotal.Inc()
	m.append(domain.LogSourceSystem, domain.LogInfo, fmt.Sprintf("引擎已启动 pid=%d", ev.Pid))
}

func (ev EngineLaunchFailed) apply(m *model) {
	msg := "引擎启动失败"
	if ev.Err != nil {
		msg = fmt.Sprintf("引擎启动失败: %v", ev.Err)
		m.lastError = ev.Err.Error()
	}
	if m.lifecycle == domain.StateConnecting {
		m.setLifecycle(domain.StateDisconnected)
	}
	m.append(domain.LogSourceSystem, domain.LogError, msg)
}

func (ev EngineLine) apply(m *model) {
	text := ev.Text
	if ev.Stream == StreamStderr {
		text = "[stderr] " + text
	}
	m.append(domain.LogSourceEngine, classifyEngineLine(ev.Stream, ev.Text), text)

	if ev.Stream != StreamStdout || ev.Session == "" || ev.Session != m.session {
		return
	}
	if stats, ok := ParseTrafficLine(ev.Text); ok {
		stats.Packets = m.traffic.Packets
		stats.Samples = m.traffic.Samples + 1
		if stats.PeakDownKBps < m.traffic.PeakDownKBps {
			stats.PeakDownKBps = m.traffic.PeakDownKBps
		}
		stats.SampledAt = m.now()
		m.traffic = stats
		observeTraffic(stats)
	}
}

// 成功标记只把 Connecting 推进到 Connected；重复出现不产生新的转换
func (ev EngineReady) apply(m *model) {
	if ev.Session == "" || ev.Session != m.session || m.lifecycle != domain.StateConnecting {
		return
	}
	m.setLifecycle(domain.StateConnected)
	m.append(domain.LogSourceSystem, domain.LogInfo, fmt.Sprintf("已连接（%s）", ev.Marker))
}

func (ev EngineExited) apply(m *model) {
	desc := fmt.Sprintf("引擎进程已退出 code=%d", ev.Code)
	if ev.Err != nil {
		desc = fmt.Sprintf("%s: %v", desc, ev.Err)
	}
	if ev.Session == "" || ev.Session != m.session {
		m.append(domain.LogSourceSystem, domain.LogInfo, desc)
		return
	}
	m.engine.Pid = 0
	switch m.lifecycle {
	case domain.StateConnecting:
		engineExitsTotal.WithLabelValues("connecting").Inc()
		m.lastError = desc
		m.setLifecycle(domain.StateError)
		m.append(domain.LogSourceSystem, domain.LogError, desc+"（未出现成功标记）")
	default:
		// 已连接后的退出只记录，不回退状态
		engineExitsTotal.WithLabelValues(string(m.lifecycle)).Inc()
		m.append(domain.LogSourceSystem, domain.LogWarn, desc)
	}
}

func (ev EngineStopped) apply(m *model) {
	if ev.Session != m.session && (m.session != "" || m.lifecycle == domain.StateConnecting) {
		// 新的启动已经开始
		return
	}
	m.setLifecycle(domain.StateDisconnected)
	m.session = ""
	m.engine = domain.EngineInfo{}
	m.traffic.UpKBps, m.traffic.DownKBps, m.traffic.ActiveConnections = 0, 0, 0
	observeTraffic(m.traffic)
	m.append(domain.LogSourceSystem, domain.LogInfo, "引擎已停止")
}

func (ev InterfaceChanged) apply(m *model) {
	if m.iface == ev.State {
		return
	}
	m.iface = ev.State
	observeInterface(ev.State)
	m.append(domain.LogSourceInterface, domain.LogInfo, fmt.Sprintf("虚拟网卡状态: %s", ev.State))
}

func (ev SystemProxyChanged) apply(m *model) {
	m.sysproxy = ev.Enabled
}

func (ev PacketsCounted) apply(m *model) {
	m.traffic.Packets = ev.Total
	packetsGauge.Set(float64(ev.Total))
}

func (ev ActiveConfigChanged) apply(m *model) {
	m.activeConfig = ev.Name
}

func (ev Note) apply(m *model) {
	source, level := ev.Source, ev.Level
	if source == "" {
		source = domain.LogSourceSystem
	}
	if level == "" {
		level = domain.LogInfo
	}
	m.append(source, level, ev.Text)
}
