package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"secureproxy/backend/domain"
	"secureproxy/backend/repository"
	"secureproxy/backend/repository/events"
	"secureproxy/backend/service/applog"
	"secureproxy/backend/service/proxy"
	"secureproxy/backend/service/shared"
	"secureproxy/backend/service/status"
	"secureproxy/backend/service/sysproxy"
	"secureproxy/backend/service/tun"
)

const (
	// SettleDelay 清理端口后、启动引擎前的等待时间
	SettleDelay = 500 * time.Millisecond

	// SystemProxyRetries 系统代理设置失败后的后台重试次数
	SystemProxyRetries = 3
	// SystemProxyRetryDelay 两次重试之间的间隔
	SystemProxyRetryDelay = time.Second
)

// Option 门面选项
type Option func(*Facade)

// WithReclaimer 启动前用它清理遗留进程与端口；不设置则跳过清理
func WithReclaimer(r *shared.PortReclaimer) Option {
	return func(f *Facade) { f.reclaimer = r }
}

// WithSettleDelay 修改启动前的等待时间
func WithSettleDelay(d time.Duration) Option {
	return func(f *Facade) { f.settle = d }
}

// WithSystemProxyRetry 修改系统代理的后台重试策略
func WithSystemProxyRetry(attempts int, delay time.Duration) Option {
	return func(f *Facade) {
		f.proxyAttempts = attempts
		f.proxyDelay = delay
	}
}

// Facade 服务门面（API 聚合层）
//
// 启动/停止由 mu + gen 串行化：每次启动或停止都递增 gen，
// 进行中的启动流程在每个检查点发现 gen 变化即放弃，所以停止总是优先。
type Facade struct {
	configs   repository.ConfigRepository
	settings  repository.SettingsRepository
	status    *status.Aggregator
	engine    *proxy.Supervisor
	sysproxy  *sysproxy.Controller
	tun       *tun.Controller
	reclaimer *shared.PortReclaimer
	log       zerolog.Logger

	settle        time.Duration
	proxyAttempts int
	proxyDelay    time.Duration

	appLogPath      string
	appLogStartedAt time.Time

	startMu sync.Mutex

	mu           sync.Mutex
	gen          uint64
	genChanged   chan struct{}
	proxyGen     uint64
	proxyApplied bool
	proxyRetry   *time.Timer
	unhealthy    bool

	unsub func()
}

// NewFacade 创建门面服务
func NewFacade(
	configs repository.ConfigRepository,
	settings repository.SettingsRepository,
	agg *status.Aggregator,
	engine *proxy.Supervisor,
	sp *sysproxy.Controller,
	tunCtl *tun.Controller,
	opts ...Option,
) *Facade {
	f := &Facade{
		configs:       configs,
		settings:      settings,
		status:        agg,
		engine:        engine,
		sysproxy:      sp,
		tun:           tunCtl,
		settle:        SettleDelay,
		proxyAttempts: SystemProxyRetries,
		proxyDelay:    SystemProxyRetryDelay,
		log:           applog.For("facade"),
		genChanged:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	unsubActivated := agg.Bus().Subscribe(events.EventConfigActivated, func(ev events.Event) {
		if ce, ok := ev.(events.ConfigEvent); ok {
			f.status.Post(status.ActiveConfigChanged{Name: ce.Name})
		}
	})
	reconcile := func(ev events.Event) {
		if ce, ok := ev.(events.ConfigEvent); ok {
			f.reconcileActive(context.Background(), ce.Name)
		}
	}
	unsubSaved := agg.Bus().Subscribe(events.EventConfigSaved, reconcile)
	unsubChanged := agg.Bus().Subscribe(events.EventConfigChanged, reconcile)
	f.unsub = func() {
		unsubActivated()
		unsubSaved()
		unsubChanged()
	}
	if name := settings.Get().ActiveConfig; name != "" {
		agg.Post(status.ActiveConfigChanged{Name: name})
	}
	return f
}

func (f *Facade) SetAppLog(path string, startedAt time.Time) {
	f.appLogPath = path
	f.appLogStartedAt = startedAt
}

// Close 取消后台重试与事件订阅（不会停止引擎）
func (f *Facade) Close() {
	f.mu.Lock()
	f.proxyGen++
	if f.proxyRetry != nil {
		f.proxyRetry.Stop()
		f.proxyRetry = nil
	}
	f.mu.Unlock()
	if f.unsub != nil {
		f.unsub()
	}
}

// ========== 配置 ==========

func (f *Facade) ListConfigs(ctx context.Context) ([]domain.ProxyConfig, error) {
	return f.configs.List(ctx)
}

func (f *Facade) GetConfig(ctx context.Context, name string) (domain.ProxyConfig, error) {
	return f.configs.Get(ctx, name)
}

func (f *Facade) SaveConfig(ctx context.Context, cfg domain.ProxyConfig) (domain.ProxyConfig, error) {
	return f.configs.Save(ctx, cfg)
}

// UpdateConfig 局部更新已保存的配置。
// 更新的若是运行中的选中配置，随后由 reconcileActive 重启引擎。
func (f *Facade) UpdateConfig(ctx context.Context, name string, patch domain.ProxyConfig) (domain.ProxyConfig, error) {
	cur, err := f.configs.Get(ctx, name)
	if err != nil {
		return domain.ProxyConfig{}, err
	}
	return f.configs.Save(ctx, cur.ApplyPatch(patch))
}

func (f *Facade) DeleteConfig(ctx context.Context, name string) error {
	return f.configs.Delete(ctx, name)
}

// ActiveConfig 当前选中的配置；未选择时返回 ErrNoActiveConfig
func (f *Facade) ActiveConfig(ctx context.Context) (domain.ProxyConfig, error) {
	cfg, err := f.configs.ActiveConfig(ctx)
	if err != nil {
		return domain.ProxyConfig{}, err
	}
	if cfg == nil {
		return domain.ProxyConfig{}, domain.ErrNoActiveConfig
	}
	return *cfg, nil
}

// SwitchConfig 切换选中的配置；引擎运行中则用新配置重启
func (f *Facade) SwitchConfig(ctx context.Context, name string) error {
	if err := f.configs.SetActive(ctx, name); err != nil {
		return err
	}
	f.status.Post(status.ActiveConfigChanged{Name: name})
	f.log.Info().Str("name", name).Msg("已切换配置")

	if !f.isRunning() {
		return nil
	}
	if name == "" {
		return f.StopProxy(ctx)
	}
	return f.StartProxy(ctx)
}

// reconcileActive 选中的配置在保存或磁盘变化后与运行中的引擎对齐：
// 文件被删除或已损坏则取消选择（运行中会停止）；内容与引擎所用的不同则重启。
func (f *Facade) reconcileActive(ctx context.Context, name string) {
	if name == "" || f.settings.Get().ActiveConfig != name {
		return
	}
	cfg, err := f.configs.Get(ctx, name)
	if err != nil {
		f.note(domain.LogWarn, "选中的配置 %s 已不可用，取消选择: %v", name, err)
		if err := f.SwitchConfig(ctx, ""); err != nil {
			f.log.Warn().Err(err).Msg("取消选择失败")
		}
		return
	}
	h := f.engine.Current()
	if h == nil || h.Config == cfg {
		return
	}
	f.note(domain.LogInfo, "选中的配置 %s 已修改，正在重启引擎", name)
	if err := f.StartProxy(ctx); err != nil {
		f.log.Warn().Err(err).Str("name", name).Msg("按新配置重启失败")
	}
}

// ========== 运行控制 ==========

func (f *Facade) isRunning() bool {
	if f.engine.Running() {
		return true
	}
	return f.status.Status().State == domain.StateConnecting
}

// nextGen 递增 gen，并唤醒正在等待的旧启动流程
func (f *Facade) nextGen() (uint64, <-chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	close(f.genChanged)
	f.genChanged = make(chan struct{})
	return f.gen, f.genChanged
}

func (f *Facade) current(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen == gen
}

// StartProxy 用选中的配置启动引擎。
// 已有引擎会先停掉；之后清理遗留进程和端口，等待片刻再启动。
// 期间若有新的启动或停止请求，本次启动在下一个检查点放弃并返回 nil。
func (f *Facade) StartProxy(ctx context.Context) error {
	cfg, err := f.ActiveConfig(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", repository.ErrInvalidData, err)
	}

	gen, superseded := f.nextGen()
	f.startMu.Lock()
	defer f.startMu.Unlock()

	abandoned := func(step string) bool {
		if f.current(gen) {
			return false
		}
		f.log.Info().Str("step", step).Str("config", cfg.Name).Msg("启动流程已被新的请求取代")
		return true
	}

	if abandoned("begin") {
		return nil
	}
	if f.engine.Running() {
		_ = f.engine.Stop(ctx)
	}
	f.status.Post(status.StartRequested{Config: cfg.Name})

	if abandoned("sweep") {
		return nil
	}
	if f.reclaimer != nil {
		if pids := f.reclaimer.SweepSignature(ctx, f.engine.Signature()); len(pids) > 0 {
			f.note(domain.LogInfo, "已清理遗留引擎进程 %v", pids)
		}
	}

	if abandoned("ports") {
		return nil
	}
	if f.reclaimer != nil {
		for _, port := range []int{cfg.SOCKSPort, cfg.HTTPPort} {
			if pids := f.reclaimer.ReleasePort(ctx, port); len(pids) > 0 {
				f.note(domain.LogInfo, "端口 %d 已释放（结束进程 %v）", port, pids)
			}
		}
	}

	if abandoned("settle") {
		return nil
	}
	if f.settle > 0 {
		timer := time.NewTimer(f.settle)
		select {
		case <-timer.C:
		case <-superseded:
			timer.Stop()
			f.log.Info().Str("step", "settle").Str("config", cfg.Name).Msg("启动流程已被新的请求取代")
			return nil
		case <-ctx.Done():
			timer.Stop()
			f.status.Post(status.EngineLaunchFailed{Err: ctx.Err()})
			return ctx.Err()
		}
	}

	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		f.log.Info().Str("step", "launch").Str("config", cfg.Name).Msg("启动流程已被新的请求取代")
		return nil
	}
	_, err = f.engine.Start(ctx, cfg)
	f.mu.Unlock()
	if err != nil {
		var launchErr *proxy.EngineLaunchError
		if !errors.As(err, &launchErr) {
			// 启动失败之外的错误 supervisor 不会上报
			f.status.Post(status.EngineLaunchFailed{Err: err})
		}
		return err
	}

	f.applyDesired(ctx, cfg)
	return nil
}

// applyDesired 按持久化的开关恢复系统代理与虚拟网卡
func (f *Facade) applyDesired(ctx context.Context, cfg domain.ProxyConfig) {
	s := f.settings.Get()
	if s.SystemProxyEnabled {
		gen := f.bumpProxyGen()
		if err := f.applySystemProxy(ctx, true, gen); err != nil {
			f.log.Warn().Err(err).Msg("恢复系统代理失败")
		}
	}
	if s.TunEnabled && f.tun != nil {
		if err := f.tun.Enable(ctx, cfg.SOCKSPort, tun.DefaultDNSServer); err != nil {
			f.note(domain.LogWarn, "恢复虚拟网卡失败: %v", err)
		}
	}
}

// StopProxy 停止引擎；同时撤销由本程序设置的系统代理并关闭虚拟网卡。
// 持久化的开关保持不变，下次启动时恢复。
// 进行中的启动先被放弃，之后的启动要等本次停止完成。
func (f *Facade) StopProxy(ctx context.Context) error {
	f.nextGen()
	f.status.Post(status.StopRequested{})

	f.startMu.Lock()
	defer f.startMu.Unlock()

	f.mu.Lock()
	f.proxyGen++
	if f.proxyRetry != nil {
		f.proxyRetry.Stop()
		f.proxyRetry = nil
	}
	applied := f.proxyApplied
	f.unhealthy = false
	f.mu.Unlock()

	var errs []error
	if applied && f.sysproxy != nil {
		if f.sysproxy.ClearSystemProxy(ctx) {
			f.setProxyApplied(false)
			f.status.Post(status.SystemProxyChanged{Enabled: false})
		} else {
			errs = append(errs, domain.ErrSystemProxyNotApplied)
		}
	}
	// 网卡仍在创建/重试时状态还是 disconnected，也要 Disable 以取消后台重试
	if f.tun != nil {
		if err := f.tun.Disable(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := f.engine.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		f.log.Warn().Err(err).Msg("停止时清理未完全成功")
	}
	return nil
}

// ToggleRun 运行中则停止，否则启动
func (f *Facade) ToggleRun(ctx context.Context) error {
	if f.isRunning() {
		return f.StopProxy(ctx)
	}
	return f.StartProxy(ctx)
}

// ========== 系统代理 ==========

// SetSystemProxy 设置/清除系统代理并持久化开关。
// 失败时返回 ErrSystemProxyNotApplied，并在后台重试；新的调用会取消尚未执行的重试。
func (f *Facade) SetSystemProxy(ctx context.Context, enabled bool) error {
	s := f.settings.Update(func(s *domain.Settings) { s.SystemProxyEnabled = enabled })
	f.publishSettings(events.EventSystemProxyChanged, s)

	gen := f.bumpProxyGen()
	return f.applySystemProxy(ctx, enabled, gen)
}

func (f *Facade) bumpProxyGen() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proxyGen++
	if f.proxyRetry != nil {
		f.proxyRetry.Stop()
		f.proxyRetry = nil
	}
	return f.proxyGen
}

func (f *Facade) setProxyApplied(v bool) {
	f.mu.Lock()
	f.proxyApplied = v
	f.mu.Unlock()
}

func (f *Facade) applySystemProxy(ctx context.Context, enabled bool, gen uint64) error {
	var ports domain.ProxyConfig
	if enabled {
		cfg, err := f.ActiveConfig(ctx)
		if err != nil {
			return err
		}
		ports = cfg
	}
	if f.trySystemProxy(ctx, enabled, ports) {
		return nil
	}
	f.note(domain.LogWarn, "系统代理设置失败，%v 后重试", f.proxyDelay)
	f.scheduleProxyRetry(enabled, ports, gen, f.proxyAttempts)
	return domain.ErrSystemProxyNotApplied
}

func (f *Facade) trySystemProxy(ctx context.Context, enabled bool, cfg domain.ProxyConfig) bool {
	if f.sysproxy == nil {
		return false
	}
	var ok bool
	if enabled {
		ok = f.sysproxy.SetSystemProxy(ctx, cfg.SOCKSPort, cfg.HTTPPort)
	} else {
		ok = f.sysproxy.ClearSystemProxy(ctx)
	}
	if ok {
		f.setProxyApplied(enabled)
		f.status.Post(status.SystemProxyChanged{Enabled: enabled})
	}
	return ok
}

func (f *Facade) scheduleProxyRetry(enabled bool, cfg domain.ProxyConfig, gen uint64, remaining int) {
	if remaining <= 0 {
		f.note(domain.LogError, "系统代理设置失败，已放弃重试")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.proxyGen != gen {
		return
	}
	f.proxyRetry = time.AfterFunc(f.proxyDelay, func() {
		f.mu.Lock()
		stale := f.proxyGen != gen
		f.mu.Unlock()
		if stale {
			return
		}
		if f.trySystemProxy(context.Background(), enabled, cfg) {
			f.note(domain.LogInfo, "系统代理重试成功")
			return
		}
		f.scheduleProxyRetry(enabled, cfg, gen, remaining-1)
	})
}

// SystemProxyStatus 读取系统当前的代理设置
func (f *Facade) SystemProxyStatus(ctx context.Context) (domain.SystemProxyState, error) {
	if f.sysproxy == nil {
		return domain.SystemProxyState{}, errors.New("system proxy controller not configured")
	}
	return f.sysproxy.Status(ctx)
}

// ========== 虚拟网卡 ==========

// SetVirtualInterface 启用/关闭虚拟网卡并持久化开关
func (f *Facade) SetVirtualInterface(ctx context.Context, enabled bool) error {
	if f.tun == nil {
		return errors.New("virtual interface not supported")
	}
	s := f.settings.Update(func(s *domain.Settings) { s.TunEnabled = enabled })
	f.publishSettings(events.EventTunChanged, s)

	if !enabled {
		return f.tun.Disable(ctx)
	}
	cfg, err := f.ActiveConfig(ctx)
	if err != nil {
		return err
	}
	return f.tun.Enable(ctx, cfg.SOCKSPort, tun.DefaultDNSServer)
}

// RestartInterface 重建虚拟网卡（沿用上次的 DNS）
func (f *Facade) RestartInterface(ctx context.Context) error {
	if f.tun == nil {
		return errors.New("virtual interface not supported")
	}
	cfg, err := f.ActiveConfig(ctx)
	if err != nil {
		return err
	}
	return f.tun.Restart(ctx, cfg.SOCKSPort)
}

// InterfaceQuery 数据通路状态（"packets: N, running: bool"）
func (f *Facade) InterfaceQuery() (string, error) {
	if f.tun == nil {
		return "", errors.New("virtual interface not supported")
	}
	return f.tun.QueryStatus("status")
}

// InterfaceDescriptor 已保存的虚拟网卡描述
func (f *Facade) InterfaceDescriptor() (domain.VirtualInterfaceConfig, error) {
	if f.tun == nil {
		return domain.VirtualInterfaceConfig{}, domain.ErrDescriptorNotFound
	}
	return f.tun.Descriptor()
}

// ========== 健康检查 ==========

// ProbeResult 一次 SOCKS5 握手探测
type ProbeResult struct {
	Addr      string    `json:"addr"`
	LatencyMs float64   `json:"latencyMs"`
	ProbedAt  time.Time `json:"probedAt"`
}

// ProbeEngine 对运行中引擎的 SOCKS5 入站做一次握手探测
func (f *Facade) ProbeEngine(ctx context.Context) (ProbeResult, error) {
	h := f.engine.Current()
	if h == nil {
		return ProbeResult{}, domain.ErrEngineNotRunning
	}
	addr := net.JoinHostPort(sysproxy.ProxyHost, strconv.Itoa(h.Config.SOCKSPort))
	d, err := shared.ProbeSOCKS5(ctx, addr)
	if err != nil {
		return ProbeResult{Addr: addr}, err
	}
	return ProbeResult{
		Addr:      addr,
		LatencyMs: float64(d.Microseconds()) / 1000,
		ProbedAt:  time.Now(),
	}, nil
}

// CheckHealth 已连接时探测一次；只在健康状态变化时写日志，不改变生命周期状态
func (f *Facade) CheckHealth(ctx context.Context) {
	if f.status.Status().State != domain.StateConnected {
		return
	}
	_, err := f.ProbeEngine(ctx)

	f.mu.Lock()
	was := f.unhealthy
	f.unhealthy = err != nil
	f.mu.Unlock()

	switch {
	case err != nil && !was:
		f.note(domain.LogWarn, "引擎健康检查失败: %v", err)
	case err == nil && was:
		f.note(domain.LogInfo, "引擎健康检查恢复")
	}
}

// ========== 状态与日志 ==========

func (f *Facade) Status() domain.Status {
	return f.status.Status()
}

// Settings 持久化的用户选择
func (f *Facade) Settings() domain.Settings {
	return f.settings.Get()
}

// SubscribeStatus 订阅节流后的状态推送
func (f *Facade) SubscribeStatus(buffer int) (<-chan events.Event, func()) {
	return f.status.Bus().SubscribeChan(events.EventStatusPublished, buffer)
}

// ChangeEventTypes 推送给 UI 的配置与设置变化
var ChangeEventTypes = []events.EventType{
	events.EventConfigSaved,
	events.EventConfigDeleted,
	events.EventConfigActivated,
	events.EventConfigChanged,
	events.EventSystemProxyChanged,
	events.EventTunChanged,
}

// SubscribeChanges 订阅配置与设置变化（含配置目录的外部修改）
func (f *Facade) SubscribeChanges(buffer int) (<-chan events.Event, func()) {
	return f.status.Bus().SubscribeChanTypes(buffer, ChangeEventTypes...)
}

// Logs 聚合日志中序号大于 since 的条目
func (f *Facade) Logs(since uint64) []domain.LogEntry {
	return f.status.Logs(since)
}

// EngineLogs 引擎输出文件自 since 偏移之后的内容
func (f *Facade) EngineLogs(since int64) proxy.EngineLogSnapshot {
	return f.engine.EngineLogsSince(since)
}

// AppLogs 应用日志自 since 偏移之后的内容
func (f *Facade) AppLogs(since int64) applog.AppLogSnapshot {
	return applog.LogsSince(f.appLogPath, since, os.Getpid(), f.appLogStartedAt)
}

func (f *Facade) publishSettings(t events.EventType, s domain.Settings) {
	f.status.Bus().Publish(events.SettingsEvent{EventType: t, Settings: s})
}

func (f *Facade) note(level domain.LogLevel, format string, args ...any) {
	f.status.Post(status.Note{Source: domain.LogSourceSystem, Level: level, Text: fmt.Sprintf(format, args...)})
}
