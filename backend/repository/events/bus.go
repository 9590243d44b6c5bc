package events

import "sync"

// Handler 事件处理器
type Handler func(event Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus 事件总线
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventType][]subscription
}

// NewBus 创建新的事件总线
func NewBus() *Bus {
	return &Bus{
		subs: make(map[EventType][]subscription),
	}
}

// Subscribe 订阅指定类型的事件，返回取消订阅函数
func (b *Bus) Subscribe(eventType EventType, handler Handler) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(eventType, id) })
	}
}

// SubscribeAll 订阅所有事件
func (b *Bus) SubscribeAll(handler Handler) (cancel func()) {
	return b.Subscribe(EventAll, handler)
}

// SubscribeChan 以 channel 形式订阅；消费者跟不上时丢弃事件，不阻塞发布方。
func (b *Bus) SubscribeChan(eventType EventType, buffer int) (<-chan Event, func()) {
	return b.SubscribeChanTypes(buffer, eventType)
}

// SubscribeChanTypes 同 SubscribeChan，多个事件类型汇入同一个 channel
func (b *Bus) SubscribeChanTypes(buffer int, types ...EventType) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	var mu sync.Mutex
	closed := false
	handler := func(event Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- event:
		default:
		}
	}
	cancels := make([]func(), 0, len(types))
	for _, t := range types {
		cancels = append(cancels, b.Subscribe(t, handler))
	}
	return ch, func() {
		for _, cancel := range cancels {
			cancel()
		}
		mu.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mu.Unlock()
	}
}

func (b *Bus) remove(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[eventType]) == 0 {
		delete(b.subs, eventType)
	}
}

func (b *Bus) handlersFor(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	// 复制处理器列表，避免在锁内执行用户代码
	handlers := make([]Handler, 0, len(b.subs[eventType])+len(b.subs[EventAll]))
	for _, s := range b.subs[eventType] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range b.subs[EventAll] {
		handlers = append(handlers, s.handler)
	}
	return handlers
}

// Publish 发布事件（异步执行所有处理器）
func (b *Bus) Publish(event Event) {
	for _, h := range b.handlersFor(event.Type()) {
		go h(event)
	}
}

// PublishSync 发布事件（同步执行所有处理器）
func (b *Bus) PublishSync(event Event) {
	for _, h := range b.handlersFor(event.Type()) {
		h(event)
	}
}

// HasSubscribers 检查是否有订阅者
func (b *Bus) HasSubscribers(eventType EventType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType]) > 0 || len(b.subs[EventAll]) > 0
}
