package service

import (
	"bufio"
	"context"
	"errors"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secureproxy/backend/domain"
	"secureproxy/backend/repository/events"
	"secureproxy/backend/repository/memory"
	"secureproxy/backend/service/proxy"
	"secureproxy/backend/service/shared"
	"secureproxy/backend/service/status"
	"secureproxy/backend/service/sysproxy"
	"secureproxy/backend/service/tun"
)

const helperModeEnv = "SECURE_PROXY_TEST_ENGINE"

// TestHelperEngine 被测试二进制以子进程方式运行，模拟引擎。
// bind: 先监听配置里的 socks 端口再打印成功标记；stubborn: 忽略 SIGTERM。
func TestHelperEngine(t *testing.T) {
	mode := os.Getenv(helperModeEnv)
	if mode == "" {
		t.Skip("helper process")
	}
	switch mode {
	case "bind":
		var cfg domain.ProxyConfig
		if err := json.Unmarshal([]byte(os.Getenv(proxy.EnvConfig)), &cfg); err != nil {
			fmt.Fprintln(os.Stderr, "bad config:", err)
			os.Exit(2)
		}
		ln, err := listenRetry(cfg.SOCKSPort, 3*time.Second)
		if err != nil {
			fmt.Fprintln(os.Stderr, "listen failed:", err)
			os.Exit(3)
		}
		defer ln.Close()
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
	}
	out := bufio.NewWriter(os.Stdout)
	fmt.Fprintln(out, "✅ SOCKS5 proxy listening")
	fmt.Fprintln(out, "✅ HTTP proxy listening")
	out.Flush()
	for {
		time.Sleep(time.Hour)
	}
}

// listenRetry 端口被回收后对方可能还没完全退出
func listenRetry(port int, within time.Duration) (net.Listener, error) {
	deadline := time.Now().Add(within)
	for {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil || time.Now().After(deadline) {
			return ln, err
		}
		time.Sleep(20 * time.Millisecond)
	}
}

type testEnv struct {
	facade   *Facade
	agg      *status.Aggregator
	engine   *proxy.Supervisor
	settings *memory.SettingsRepo
	configs  *memory.ConfigRepo
	netStore *sysproxy.MemoryStore
	provider *tun.MemoryProvider
}

func testConfig(name string, socks int) domain.ProxyConfig {
	return domain.ProxyConfig{
		Name:         name,
		SNIHost:      "example.com",
		Path:         "/tunnel",
		ServerPort:   443,
		SOCKSPort:    socks,
		HTTPPort:     socks + 1,
		PreSharedKey: "secret",
	}
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return newTestEnvWith(t, envConfig{}, opts...)
}

type envConfig struct {
	mode      string
	reclaimer *shared.PortReclaimer
	tunRetry  time.Duration
}

func newTestEnvWith(t *testing.T, ec envConfig, opts ...Option) *testEnv {
	t.Helper()
	if ec.mode == "" {
		ec.mode = "ready"
	}
	if ec.tunRetry == 0 {
		ec.tunRetry = 20 * time.Millisecond
	}

	bus := events.NewBus()
	store := memory.NewStore(bus)
	configs := memory.NewConfigRepo(store)
	settings := memory.NewSettingsRepo(store)

	ctx, cancel := context.WithCancel(context.Background())
	agg := status.New(bus, status.WithThrottle(0))
	go agg.Run(ctx)

	engine := proxy.NewSupervisor(proxy.EngineSpec{
		Command:   os.Args[0],
		Args:      []string{"-test.run=^TestHelperEngine$"},
		Signature: "secureproxy-no-such-signature",
		Env:       []string{helperModeEnv + "=" + ec.mode},
	}, agg, ec.reclaimer, proxy.WithLogPath(filepath.Join(t.TempDir(), "engine.log")), proxy.WithGrace(300*time.Millisecond))

	netStore := sysproxy.NewMemoryStore("")
	provider := tun.NewMemoryProvider()
	tunCtl := tun.NewController(provider, tun.NewDescriptorStore(t.TempDir()), agg, tun.WithRetryDelay(ec.tunRetry))

	opts = append([]Option{
		WithSettleDelay(10 * time.Millisecond),
		WithSystemProxyRetry(SystemProxyRetries, 20*time.Millisecond),
	}, opts...)
	f := NewFacade(configs, settings, agg, engine, sysproxy.NewController(netStore), tunCtl, opts...)

	t.Cleanup(func() {
		_ = f.StopProxy(context.Background())
		f.Close()
		tunCtl.Close()
		cancel()
	})
	return &testEnv{
		facade:   f,
		agg:      agg,
		engine:   engine,
		settings: settings,
		configs:  configs,
		netStore: netStore,
		provider: provider,
	}
}

func (e *testEnv) activate(t *testing.T, cfg domain.ProxyConfig) {
	t.Helper()
	ctx := context.Background()
	_, err := e.facade.SaveConfig(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, e.facade.SwitchConfig(ctx, cfg.Name))
}

func (e *testEnv) waitState(t *testing.T, want domain.LifecycleState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.agg.Status().State == want
	}, 5*time.Second, 10*time.Millisecond, "state never became %s (now %s)", want, e.agg.Status().State)
}

func TestStartProxy_RequiresActiveConfig(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	err := env.facade.StartProxy(context.Background())
	require.ErrorIs(t, err, domain.ErrNoActiveConfig)
	require.False(t, env.engine.Running())
	require.Equal(t, domain.StateDisconnected, env.facade.Status().State)
}

func TestStartStop_ReachesConnectedThenDisconnected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 42080))
	ctx := context.Background()

	require.NoError(t, env.facade.StartProxy(ctx))
	env.waitState(t, domain.StateConnected)

	st := env.facade.Status()
	require.Equal(t, "home", st.ActiveConfig)
	require.NotZero(t, st.Engine.Pid)

	require.NoError(t, env.facade.StopProxy(ctx))
	require.NoError(t, env.agg.Sync(ctx))
	require.Equal(t, domain.StateDisconnected, env.facade.Status().State)
	require.False(t, env.engine.Running())
}

func TestStopDuringPreflightAbandonsStart(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, WithSettleDelay(300*time.Millisecond))
	env.activate(t, testConfig("home", 42180))
	ctx := context.Background()

	started := make(chan error, 1)
	go func() { started <- env.facade.StartProxy(ctx) }()
	env.waitState(t, domain.StateConnecting)

	require.NoError(t, env.facade.StopProxy(ctx))
	require.NoError(t, <-started)

	require.NoError(t, env.agg.Sync(ctx))
	require.False(t, env.engine.Running())
	require.Equal(t, domain.StateDisconnected, env.facade.Status().State)
}

func TestToggleRun(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 42280))
	ctx := context.Background()

	require.NoError(t, env.facade.ToggleRun(ctx))
	env.waitState(t, domain.StateConnected)

	require.NoError(t, env.facade.ToggleRun(ctx))
	env.waitState(t, domain.StateDisconnected)
	require.False(t, env.engine.Running())
}

func TestSwitchConfig_RestartsRunningEngine(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.activate(t, testConfig("a", 42380))
	_, err := env.facade.SaveConfig(ctx, testConfig("b", 42390))
	require.NoError(t, err)

	require.NoError(t, env.facade.StartProxy(ctx))
	env.waitState(t, domain.StateConnected)
	first := env.engine.Current()
	require.NotNil(t, first)

	require.NoError(t, env.facade.SwitchConfig(ctx, "b"))
	env.waitState(t, domain.StateConnected)

	cur := env.engine.Current()
	require.NotNil(t, cur)
	require.Equal(t, "b", cur.Config.Name)
	require.NotEqual(t, first.Session, cur.Session)
	require.Eventually(t, func() bool {
		st := env.facade.Status()
		return st.ActiveConfig == "b" && st.State == domain.StateConnected && st.Engine.Session == cur.Session
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSwitchConfig_UnknownName(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	err := env.facade.SwitchConfig(context.Background(), "missing")
	require.Error(t, err)
	require.Empty(t, env.settings.Get().ActiveConfig)
}

func TestSystemProxy_ReappliedAfterStartAndClearedOnStop(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 42480))
	env.settings.Update(func(s *domain.Settings) { s.SystemProxyEnabled = true })
	ctx := context.Background()

	require.NoError(t, env.facade.StartProxy(ctx))
	d := env.netStore.Snapshot("Wi-Fi")
	require.EqualValues(t, 1, d[sysproxy.KeySOCKSEnable])
	require.EqualValues(t, 42480, d[sysproxy.KeySOCKSPort])
	require.EqualValues(t, 42481, d[sysproxy.KeyHTTPPort])

	require.NoError(t, env.agg.Sync(ctx))
	require.True(t, env.facade.Status().SystemProxy)

	require.NoError(t, env.facade.StopProxy(ctx))
	d = env.netStore.Snapshot("Wi-Fi")
	require.EqualValues(t, 0, d[sysproxy.KeySOCKSEnable])
	require.EqualValues(t, 0, d[sysproxy.KeyHTTPEnable])
	require.EqualValues(t, 42480, d[sysproxy.KeySOCKSPort], "ports survive clear")

	// 开关保持持久化，下次启动继续生效
	require.True(t, env.settings.Get().SystemProxyEnabled)
	require.NoError(t, env.agg.Sync(ctx))
	require.False(t, env.facade.Status().SystemProxy)
}

func TestSetSystemProxy_FailureRetriesInBackground(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 42580))
	ctx := context.Background()

	env.netStore.SetCommitErr(errors.New("store busy"))
	err := env.facade.SetSystemProxy(ctx, true)
	require.ErrorIs(t, err, domain.ErrSystemProxyNotApplied)
	require.True(t, env.settings.Get().SystemProxyEnabled)

	env.netStore.SetCommitErr(nil)
	require.Eventually(t, func() bool {
		return env.netStore.CommitCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, env.netStore.Snapshot("Wi-Fi")[sysproxy.KeySOCKSEnable])
}

func TestSetSystemProxy_GivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 42680))

	env.netStore.SetCommitErr(errors.New("store busy"))
	require.ErrorIs(t, env.facade.SetSystemProxy(context.Background(), true), domain.ErrSystemProxyNotApplied)

	time.Sleep(200 * time.Millisecond)
	require.Zero(t, env.netStore.CommitCount())
	require.NoError(t, env.agg.Sync(context.Background()))

	var failures int
	for _, e := range env.facade.Logs(0) {
		if e.Level == domain.LogError {
			failures++
		}
	}
	require.Equal(t, 1, failures)
}

func TestSetSystemProxy_NewerToggleWins(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 42780))
	ctx := context.Background()

	env.netStore.SetCommitErr(errors.New("store busy"))
	require.Error(t, env.facade.SetSystemProxy(ctx, true))

	env.netStore.SetCommitErr(nil)
	require.NoError(t, env.facade.SetSystemProxy(ctx, false))

	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 0, env.netStore.Snapshot("Wi-Fi")[sysproxy.KeySOCKSEnable])
	require.False(t, env.settings.Get().SystemProxyEnabled)
}

func TestSetSystemProxy_RequiresActiveConfig(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	err := env.facade.SetSystemProxy(context.Background(), true)
	require.ErrorIs(t, err, domain.ErrNoActiveConfig)
	require.Zero(t, env.netStore.CommitCount())
}

func TestSetVirtualInterface(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 42880))
	ctx := context.Background()

	require.NoError(t, env.facade.SetVirtualInterface(ctx, true))
	require.True(t, env.settings.Get().TunEnabled)
	require.Eventually(t, func() bool { return env.provider.Activations() == 1 }, 2*time.Second, 10*time.Millisecond)

	desc, settings := env.provider.LastSettings()
	require.Equal(t, 42880, desc.SOCKSPort)
	require.Equal(t, tun.DefaultDNSServer, desc.DNSServer)
	require.Equal(t, 42880, settings.SOCKSPort)

	require.Eventually(t, func() bool {
		reply, err := env.facade.InterfaceQuery()
		return err == nil && reply == "packets: 0, running: true"
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return env.facade.Status().Interface == domain.InterfaceConnected
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.facade.SetVirtualInterface(ctx, false))
	require.False(t, env.settings.Get().TunEnabled)
	require.Eventually(t, func() bool {
		return env.facade.Status().Interface == domain.InterfaceDisconnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopProxy_DisablesInterfaceButKeepsFlag(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 42980))
	ctx := context.Background()

	require.NoError(t, env.facade.SetVirtualInterface(ctx, true))
	require.Eventually(t, func() bool { return env.provider.Status() == domain.InterfaceConnected }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.facade.StopProxy(ctx))
	require.Equal(t, domain.InterfaceDisconnected, env.provider.Status())
	require.True(t, env.settings.Get().TunEnabled)

	// 下次启动按持久化开关恢复网卡
	require.NoError(t, env.facade.StartProxy(ctx))
	require.Eventually(t, func() bool { return env.provider.Activations() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestActiveConfigDeletionReachesStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 43080))
	ctx := context.Background()

	require.NoError(t, env.agg.Sync(ctx))
	require.Equal(t, "home", env.facade.Status().ActiveConfig)

	require.NoError(t, env.facade.DeleteConfig(ctx, "home"))
	require.Eventually(t, func() bool {
		return env.facade.Status().ActiveConfig == ""
	}, 2*time.Second, 10*time.Millisecond)

	_, err := env.facade.ActiveConfig(ctx)
	require.ErrorIs(t, err, domain.ErrNoActiveConfig)
}

func TestLogsExposeEngineOutput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 43180))
	ctx := context.Background()

	require.NoError(t, env.facade.StartProxy(ctx))
	env.waitState(t, domain.StateConnected)

	var texts []string
	for _, e := range env.facade.Logs(0) {
		texts = append(texts, e.Text)
	}
	require.Contains(t, texts, "✅ SOCKS5 proxy listening")

	require.Eventually(t, func() bool {
		snap := env.facade.EngineLogs(0)
		return snap.Running && snap.End > 0
	}, 2*time.Second, 10*time.Millisecond)
}

// fakeSOCKS 对每个连接回应无认证的方法协商
func fakeSOCKS(t *testing.T) (port int, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				hello := make([]byte, 3)
				if _, err := io.ReadFull(c, hello); err == nil {
					_, _ = c.Write([]byte{0x05, 0x00})
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port, func() { _ = ln.Close() }
}

func TestProbeEngine_NotRunning(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.facade.ProbeEngine(context.Background())
	require.ErrorIs(t, err, domain.ErrEngineNotRunning)
}

func TestCheckHealth_ReportsFailureOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	port, stopSOCKS := fakeSOCKS(t)
	cfg := testConfig("home", port)
	cfg.HTTPPort = 43380
	env.activate(t, cfg)
	ctx := context.Background()

	require.NoError(t, env.facade.StartProxy(ctx))
	env.waitState(t, domain.StateConnected)

	res, err := env.facade.ProbeEngine(ctx)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("127.0.0.1:%d", port), res.Addr)

	env.facade.CheckHealth(ctx)
	stopSOCKS()
	env.facade.CheckHealth(ctx)
	env.facade.CheckHealth(ctx)
	require.NoError(t, env.agg.Sync(ctx))

	var warnings int
	for _, e := range env.facade.Logs(0) {
		if e.Source == domain.LogSourceSystem && e.Level == domain.LogWarn {
			warnings++
		}
	}
	require.Equal(t, 1, warnings)
	require.Equal(t, domain.StateConnected, env.facade.Status().State)
}

func TestCheckHealth_SkipsWhenDisconnected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.facade.CheckHealth(context.Background())
	require.NoError(t, env.agg.Sync(context.Background()))
	require.Empty(t, env.facade.Logs(0))
}

const holdPortEnv = "SECURE_PROXY_TEST_HOLD_PORT"

// TestHelperForeignListener 被重新执行时充当占用端口的外部进程
func TestHelperForeignListener(t *testing.T) {
	raw := os.Getenv(holdPortEnv)
	if raw == "" {
		t.Skip("helper process")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:"+raw)
	if err != nil {
		fmt.Fprintln(os.Stdout, "listen failed:", err)
		os.Exit(2)
	}
	defer ln.Close()
	fmt.Fprintln(os.Stdout, "ready")
	time.Sleep(time.Minute)
	os.Exit(0)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestStopProxy_CancelsPendingInterfaceRetry(t *testing.T) {
	t.Parallel()
	env := newTestEnvWith(t, envConfig{tunRetry: 300 * time.Millisecond})
	env.activate(t, testConfig("home", 43280))
	ctx := context.Background()

	// 描述尚不存在：Enable 只创建描述，300ms 后才会重试启用
	require.NoError(t, env.facade.SetVirtualInterface(ctx, true))
	require.NoError(t, env.facade.StopProxy(ctx))
	require.Equal(t, domain.InterfaceDisconnected, env.provider.Status())

	time.Sleep(700 * time.Millisecond)
	require.Zero(t, env.provider.Activations())
	require.Equal(t, domain.InterfaceDisconnected, env.provider.Status())
	require.True(t, env.settings.Get().TunEnabled)
}

func TestStartProxy_ReclaimsPortHeldByForeignProcess(t *testing.T) {
	reclaimer := shared.NewPortReclaimer()
	env := newTestEnvWith(t, envConfig{mode: "bind", reclaimer: reclaimer}, WithReclaimer(reclaimer))

	cfg := testConfig("home", freePort(t))
	cfg.HTTPPort = freePort(t)
	env.activate(t, cfg)

	holder := exec.Command(os.Args[0], "-test.run=^TestHelperForeignListener$")
	holder.Env = append(os.Environ(), holdPortEnv+"="+strconv.Itoa(cfg.SOCKSPort))
	stdout, err := holder.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, holder.Start())
	exited := make(chan struct{})
	t.Cleanup(func() {
		_ = holder.Process.Kill()
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
		}
	})
	line, err := bufio.NewReader(stdout).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ready\n", line)
	go func() {
		_ = holder.Wait()
		close(exited)
	}()

	require.NoError(t, env.facade.StartProxy(context.Background()))

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatalf("port holder %d still alive", holder.Process.Pid)
	}
	env.waitState(t, domain.StateConnected)
	require.True(t, env.engine.Running())

	// 端口此时由引擎持有
	_, err = net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.SOCKSPort)))
	require.Error(t, err)

	var reclaimed bool
	for _, e := range env.facade.Logs(0) {
		if strings.Contains(e.Text, fmt.Sprintf("端口 %d 已释放", cfg.SOCKSPort)) {
			reclaimed = true
		}
	}
	require.True(t, reclaimed)
}

func TestStartProxy_WaitsForInFlightStop(t *testing.T) {
	t.Parallel()
	env := newTestEnvWith(t, envConfig{mode: "stubborn"})
	env.activate(t, testConfig("home", 43480))
	ctx := context.Background()

	require.NoError(t, env.facade.StartProxy(ctx))
	env.waitState(t, domain.StateConnected)
	first := env.facade.Status().Engine.Session

	// 引擎忽略 SIGTERM，停止要等满宽限期
	stopped := make(chan struct{})
	go func() {
		_ = env.facade.StopProxy(ctx)
		close(stopped)
	}()
	env.waitState(t, domain.StateDisconnected)

	require.NoError(t, env.facade.StartProxy(ctx))
	select {
	case <-stopped:
	default:
		t.Fatal("start finished before the in-flight stop")
	}

	env.waitState(t, domain.StateConnected)
	require.True(t, env.engine.Running())
	require.NotEqual(t, first, env.facade.Status().Engine.Session)
}

func TestUpdateConfig_RestartsRunningEngineWithNewValues(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 43580))
	ctx := context.Background()

	require.NoError(t, env.facade.StartProxy(ctx))
	env.waitState(t, domain.StateConnected)
	first := env.engine.Current().Session

	// 内容未变：不重启
	env.agg.Bus().PublishSync(events.ConfigEvent{EventType: events.EventConfigChanged, Name: "home"})
	require.Equal(t, first, env.engine.Current().Session)

	_, err := env.facade.UpdateConfig(ctx, "home", domain.ProxyConfig{SOCKSPort: 43590, HTTPPort: 43591})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		h := env.engine.Current()
		return h != nil && h.Session != first && h.Config.SOCKSPort == 43590
	}, 5*time.Second, 10*time.Millisecond)
	env.waitState(t, domain.StateConnected)
}

func TestUpdateConfig_OtherConfigDoesNotRestart(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.activate(t, testConfig("home", 43680))
	ctx := context.Background()
	_, err := env.facade.SaveConfig(ctx, testConfig("office", 43690))
	require.NoError(t, err)

	require.NoError(t, env.facade.StartProxy(ctx))
	env.waitState(t, domain.StateConnected)
	first := env.engine.Current().Session

	_, err = env.facade.UpdateConfig(ctx, "office", domain.ProxyConfig{ServerPort: 8443})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, first, env.engine.Current().Session)
}
