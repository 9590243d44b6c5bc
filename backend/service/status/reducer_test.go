package status

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"secureproxy/backend/domain"
)

func newTestModel(capacity int) *model {
	return newModel(newLogBuffer(capacity), zerolog.Nop())
}

func applyAll(m *model, evs ...Event) {
	for _, ev := range evs {
		ev.apply(m)
	}
}

func connecting(m *model, session string) {
	applyAll(m,
		StartRequested{Config: "home"},
		EngineLaunched{Session: session, Pid: 4242},
	)
}

func TestReadyMarkerTransitionsOnce(t *testing.T) {
	t.Parallel()

	m := newTestModel(0)
	connecting(m, "s1")
	require.Equal(t, domain.StateConnecting, m.lifecycle)

	before := m.logs.len()
	EngineReady{Session: "s1", Marker: "✅ SOCKS5"}.apply(m)
	require.Equal(t, domain.StateConnected, m.lifecycle)
	require.Equal(t, before+1, m.logs.len())

	EngineReady{Session: "s1", Marker: "✅ HTTP"}.apply(m)
	require.Equal(t, domain.StateConnected, m.lifecycle)
	require.Equal(t, before+1, m.logs.len(), "second marker must not log another transition")
}

func TestStderrDoesNotChangeState(t *testing.T) {
	t.Parallel()

	m := newTestModel(0)
	connecting(m, "s1")
	EngineReady{Session: "s1", Marker: "tunnel established"}.apply(m)

	EngineLine{Session: "s1", Stream: StreamStderr, Text: "Traceback (most recent call last):"}.apply(m)
	require.Equal(t, domain.StateConnected, m.lifecycle)

	logs := m.logs.since(0)
	last := logs[len(logs)-1]
	require.Equal(t, domain.LogSourceEngine, last.Source)
	require.Equal(t, domain.LogError, last.Level)
	require.Equal(t, "[stderr] Traceback (most recent call last):", last.Text)
}

func TestExitBeforeReadyIsError(t *testing.T) {
	t.Parallel()

	m := newTestModel(0)
	connecting(m, "s1")
	EngineExited{Session: "s1", Code: 2}.apply(m)

	require.Equal(t, domain.StateError, m.lifecycle)
	require.Contains(t, m.lastError, "code=2")
	require.Zero(t, m.engine.Pid)
}

func TestExitAfterConnectedIsOnlyLogged(t *testing.T) {
	t.Parallel()

	m := newTestModel(0)
	connecting(m, "s1")
	EngineReady{Session: "s1", Marker: "✅ HTTP"}.apply(m)
	EngineExited{Session: "s1", Code: 1}.apply(m)

	require.Equal(t, domain.StateConnected, m.lifecycle)
	require.Empty(t, m.lastError)
}

func TestStopWinsOverStaleSession(t *testing.T) {
	t.Parallel()

	m := newTestModel(0)
	connecting(m, "old")
	StopRequested{}.apply(m)
	require.Equal(t, domain.StateDisconnected, m.lifecycle)

	// 旧进程的输出和退出在停止之后才到达
	applyAll(m,
		EngineReady{Session: "old", Marker: "✅ SOCKS5"},
		EngineExited{Session: "old", Code: 1},
		EngineStopped{Session: "old"},
	)
	require.Equal(t, domain.StateDisconnected, m.lifecycle)
	require.Empty(t, m.lastError)
}

func TestStaleStopDoesNotAffectNewStart(t *testing.T) {
	t.Parallel()

	m := newTestModel(0)
	connecting(m, "old")
	StopRequested{}.apply(m)
	connecting(m, "new")

	EngineStopped{Session: "old"}.apply(m)
	require.Equal(t, domain.StateConnecting, m.lifecycle)
	require.Equal(t, "new", m.session)

	EngineStopped{Session: "new"}.apply(m)
	require.Equal(t, domain.StateDisconnected, m.lifecycle)
	require.Empty(t, m.session)
}

func TestLaunchFailureReturnsToDisconnected(t *testing.T) {
	t.Parallel()

	m := newTestModel(0)
	StartRequested{Config: "home"}.apply(m)
	EngineLaunchFailed{Err: errors.New("exec: python3 not found")}.apply(m)

	require.Equal(t, domain.StateDisconnected, m.lifecycle)
	require.Equal(t, "exec: python3 not found", m.lastError)
}

func TestStartClearsPreviousError(t *testing.T) {
	t.Parallel()

	m := newTestModel(0)
	connecting(m, "s1")
	EngineExited{Session: "s1", Code: 1}.apply(m)
	require.Equal(t, domain.StateError, m.lifecycle)

	StartRequested{Config: "home"}.apply(m)
	require.Equal(t, domain.StateConnecting, m.lifecycle)
	require.Empty(t, m.lastError)
}

func TestTrafficLineUpdatesStats(t *testing.T) {
	t.Parallel()

	m := newTestModel(0)
	connecting(m, "s1")
	PacketsCounted{Total: 17}.apply(m)

	EngineLine{Session: "s1", Stream: StreamStdout, Text: "🟢 📊 ↑   1.5KB/s ↓  20.0KB/s (峰值:900KB/s) | 连接:3/200 | 成功率:99% | 缓冲区溢出:0 | drain操作:1"}.apply(m)
	require.InDelta(t, 1.5, m.traffic.UpKBps, 0.001)
	require.InDelta(t, 20.0, m.traffic.DownKBps, 0.001)
	require.Equal(t, 3, m.traffic.ActiveConnections)
	require.EqualValues(t, 17, m.traffic.Packets)
	require.EqualValues(t, 1, m.traffic.Samples)

	// 其他会话的统计行只记录日志
	EngineLine{Session: "other", Stream: StreamStdout, Text: "🟢 📊 ↑ 100.0KB/s ↓ 100.0KB/s (峰值:900KB/s) | 连接:9/200 | 成功率:99%"}.apply(m)
	require.Equal(t, 3, m.traffic.ActiveConnections)
}

func TestInterfaceAndProxyFlags(t *testing.T) {
	t.Parallel()

	m := newTestModel(0)
	applyAll(m,
		InterfaceChanged{State: domain.InterfaceConnecting},
		InterfaceChanged{State: domain.InterfaceConnected},
		SystemProxyChanged{Enabled: true},
		ActiveConfigChanged{Name: "office"},
	)
	s := m.snapshot()
	require.Equal(t, domain.InterfaceConnected, s.Interface)
	require.True(t, s.SystemProxy)
	require.Equal(t, "office", s.ActiveConfig)
	require.Equal(t, domain.StateDisconnected, s.State)

	var ifaceLogs int
	for _, e := range m.logs.since(0) {
		if e.Source == domain.LogSourceInterface {
			ifaceLogs++
		}
	}
	require.Equal(t, 2, ifaceLogs)
}
