package tun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"secureproxy/backend/domain"
	"secureproxy/backend/service/applog"
	"secureproxy/backend/service/status"
)

// Option 控制器选项
type Option func(*Controller)

// WithRetryDelay 修改新建描述后重试、以及 Restart 的等待时间
func WithRetryDelay(d time.Duration) Option {
	return func(c *Controller) { c.retryDelay = d }
}

// WithIdentifier 修改描述标识
func WithIdentifier(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.id = id
		}
	}
}

// Controller 虚拟网卡开关。状态来自 provider 的异步通知，原样转发给聚合器。
type Controller struct {
	provider   Provider
	store      *DescriptorStore
	sink       status.Sink
	datapath   *Datapath
	id         string
	retryDelay time.Duration
	log        zerolog.Logger

	// opMu 让 Disable 与后台重试的"检查 gen + 启用"互斥
	opMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	lastDNS   string
	dpCancel  context.CancelFunc
	unsub     func()
	watchDone chan struct{}
	pending   sync.WaitGroup
}

func NewController(provider Provider, store *DescriptorStore, sink status.Sink, opts ...Option) *Controller {
	c := &Controller{
		provider:   provider,
		store:      store,
		sink:       sink,
		datapath:   NewDatapath(sink),
		id:         DefaultProviderIdentifier,
		retryDelay: RetryDelay,
		lastDNS:    DefaultDNSServer,
		log:        applog.For("tun"),
		watchDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	ch, unsub := provider.Subscribe()
	c.unsub = unsub
	go c.watch(ch)
	return c
}

// Close 停止转发状态通知（不会关闭网卡）
func (c *Controller) Close() {
	c.unsub()
	<-c.watchDone
	c.pending.Wait()
	c.stopDatapath()
}

func (c *Controller) watch(ch <-chan domain.InterfaceState) {
	defer close(c.watchDone)
	c.post(status.InterfaceChanged{State: c.provider.Status()})
	for st := range ch {
		c.log.Debug().Str("state", string(st)).Msg("interface state")
		c.post(status.InterfaceChanged{State: st})
		switch st {
		case domain.InterfaceConnected:
			c.startDatapath()
		case domain.InterfaceDisconnected, domain.InterfaceInvalid:
			c.stopDatapath()
		}
	}
}

func (c *Controller) startDatapath() {
	dev := c.provider.Device()
	if dev == nil {
		return
	}
	c.mu.Lock()
	if c.dpCancel != nil {
		c.dpCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.dpCancel = cancel
	c.datapath.Reset()
	c.mu.Unlock()
	go c.datapath.Run(ctx, dev)
}

func (c *Controller) stopDatapath() {
	c.mu.Lock()
	cancel := c.dpCancel
	c.dpCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) post(ev status.Event) {
	if c.sink != nil {
		c.sink.Post(ev)
	}
}

func (c *Controller) note(level domain.LogLevel, format string, args ...any) {
	c.post(status.Note{Source: domain.LogSourceInterface, Level: level, Text: fmt.Sprintf(format, args...)})
}

// State 当前网卡状态
func (c *Controller) State() domain.InterfaceState {
	return c.provider.Status()
}

// Descriptor 读取持久化的描述
func (c *Controller) Descriptor() (domain.VirtualInterfaceConfig, error) {
	return c.store.Load(c.id)
}

// Enable 启用虚拟网卡。描述不存在时后台创建，等待片刻后重试一次，本次调用直接返回。
func (c *Controller) Enable(ctx context.Context, socksPort int, dnsServer string) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return c.enable(ctx, socksPort, dnsServer, gen, true)
}

func (c *Controller) enable(ctx context.Context, socksPort int, dnsServer string, gen uint64, allowRetry bool) error {
	if dnsServer == "" {
		dnsServer = DefaultDNSServer
	}
	c.mu.Lock()
	c.lastDNS = dnsServer
	c.mu.Unlock()

	desc, err := c.store.Load(c.id)
	if errors.Is(err, domain.ErrDescriptorNotFound) {
		if !allowRetry {
			return err
		}
		c.pending.Add(1)
		go c.createAndRetry(context.WithoutCancel(ctx), socksPort, dnsServer, gen)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load descriptor: %w", err)
	}

	fillDescriptor(&desc, socksPort, dnsServer)
	desc.Enabled = true
	if err := c.store.Save(desc); err != nil {
		return fmt.Errorf("save descriptor: %w", err)
	}
	settings, err := SettingsFor(desc)
	if err != nil {
		return err
	}
	if err := c.provider.Activate(ctx, desc, settings); err != nil {
		c.note(domain.LogError, "启用虚拟网卡失败: %v", err)
		return fmt.Errorf("activate interface: %w", err)
	}
	c.note(domain.LogInfo, "虚拟网卡已启用 (socks %d, dns %s)", socksPort, dnsServer)
	return nil
}

func (c *Controller) createAndRetry(ctx context.Context, socksPort int, dnsServer string, gen uint64) {
	defer c.pending.Done()

	if err := c.store.Save(newDescriptor(c.id, socksPort, dnsServer)); err != nil {
		c.log.Error().Err(err).Msg("创建虚拟网卡描述失败")
		c.note(domain.LogError, "创建虚拟网卡描述失败: %v", err)
		return
	}
	c.note(domain.LogInfo, "已创建虚拟网卡描述 %s", c.id)

	time.Sleep(c.retryDelay)

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		c.log.Debug().Msg("重试前已被关闭，放弃启用")
		return
	}
	if err := c.enable(ctx, socksPort, dnsServer, gen, false); err != nil {
		c.log.Error().Err(err).Msg("重试启用虚拟网卡失败")
	}
}

// Disable 关闭虚拟网卡并持久化 enabled=false；重复调用无副作用
func (c *Controller) Disable(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()

	var errs []error
	if err := c.provider.Deactivate(ctx); err != nil {
		errs = append(errs, fmt.Errorf("deactivate interface: %w", err))
	}
	desc, err := c.store.Load(c.id)
	switch {
	case errors.Is(err, domain.ErrDescriptorNotFound):
	case err != nil:
		errs = append(errs, err)
	case desc.Enabled:
		desc.Enabled = false
		desc.UpdatedAt = time.Now()
		if err := c.store.Save(desc); err != nil {
			errs = append(errs, fmt.Errorf("save descriptor: %w", err))
		}
		c.note(domain.LogInfo, "虚拟网卡已关闭")
	}
	return errors.Join(errs...)
}

// Restart Disable，等待片刻，再用上次的 DNS 重新 Enable
func (c *Controller) Restart(ctx context.Context, socksPort int) error {
	if err := c.Disable(ctx); err != nil {
		c.log.Warn().Err(err).Msg("restart: disable")
	}
	timer := time.NewTimer(c.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	c.mu.Lock()
	dns := c.lastDNS
	c.mu.Unlock()
	return c.Enable(ctx, socksPort, dns)
}

// QueryStatus 应答状态查询；目前只支持 "status"
func (c *Controller) QueryStatus(message string) (string, error) {
	if message != "status" {
		return "", fmt.Errorf("unsupported query %q", message)
	}
	return fmt.Sprintf("packets: %d, running: %t", c.datapath.Packets(), c.datapath.Running()), nil
}
