package status

import (
	"context"
	"sync"
	"time"

	"secureproxy/backend/domain"
	"secureproxy/backend/repository/events"
	"secureproxy/backend/service/applog"
)

const (
	// DefaultLogCapacity 日志环形缓冲的默认容量
	DefaultLogCapacity = 500
	// DefaultThrottle 状态推送的最小间隔
	DefaultThrottle = 200 * time.Millisecond

	queueSize = 1024
)

// Option 聚合器选项
type Option func(*Aggregator)

// WithThrottle 修改状态推送节流间隔（<=0 表示每次变化都推送）
func WithThrottle(d time.Duration) Option {
	return func(a *Aggregator) { a.throttle = d }
}

// WithLogCapacity 修改日志缓冲容量
func WithLogCapacity(n int) Option {
	return func(a *Aggregator) { a.capacity = n }
}

// Aggregator 把引擎进程、虚拟网卡、系统代理三路异步通知合并成一份状态。
// 所有状态修改都在 Run 的 goroutine 上串行执行；读取走快照。
type Aggregator struct {
	bus      *events.Bus
	throttle time.Duration
	capacity int

	events chan Event
	done   chan struct{}
	once   sync.Once

	model *model
	logs  *logBuffer

	mu   sync.RWMutex
	snap domain.Status
}

// New 创建聚合器；需要调用 Run 才会开始处理事件
func New(bus *events.Bus, opts ...Option) *Aggregator {
	if bus == nil {
		bus = events.NewBus()
	}
	a := &Aggregator{
		bus:      bus,
		throttle: DefaultThrottle,
		capacity: DefaultLogCapacity,
		events:   make(chan Event, queueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logs = newLogBuffer(a.capacity)
	a.model = newModel(a.logs, applog.For("status"))
	a.snap = a.model.snapshot()
	return a
}

// Bus 状态推送所在的事件总线
func (a *Aggregator) Bus() *events.Bus { return a.bus }

// Post 投递事件；聚合器已停止时直接丢弃
func (a *Aggregator) Post(ev Event) {
	if ev == nil {
		return
	}
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

// Run 处理事件直到 ctx 结束
func (a *Aggregator) Run(ctx context.Context) {
	defer a.once.Do(func() { close(a.done) })

	var (
		lastPublish time.Time
		pending     bool
		timer       *time.Timer
		timerC      <-chan time.Time
	)
	publish := func() {
		pending = false
		lastPublish = time.Now()
		a.bus.PublishSync(events.StatusEvent{Status: a.Status()})
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timerC:
			timerC = nil
			if pending {
				publish()
			}
		case ev := <-a.events:
			ev.apply(a.model)
			if _, ok := ev.(barrier); ok {
				continue
			}
			a.model.updatedAt = time.Now()
			snap := a.model.snapshot()
			a.mu.Lock()
			a.snap = snap
			a.mu.Unlock()

			wait := a.throttle - time.Since(lastPublish)
			if a.throttle <= 0 || wait <= 0 {
				publish()
				continue
			}
			pending = true
			if timerC == nil {
				if timer == nil {
					timer = time.NewTimer(wait)
				} else {
					timer.Reset(wait)
				}
				timerC = timer.C
			}
		}
	}
}

// Sync 等待此前投递的事件全部处理完
func (a *Aggregator) Sync(ctx context.Context) error {
	b := barrier{done: make(chan struct{})}
	a.Post(b)
	select {
	case <-b.done:
		return nil
	case <-a.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status 当前聚合状态
func (a *Aggregator) Status() domain.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// Logs 返回序号大于 since 的日志
func (a *Aggregator) Logs(since uint64) []domain.LogEntry {
	return a.logs.since(since)
}
