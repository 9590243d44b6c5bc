package status

import (
	"sync"

	"secureproxy/backend/domain"
)

// logBuffer 定长环形日志，满了以后淘汰最旧的一条；序号单调递增
type logBuffer struct {
	mu      sync.RWMutex
	entries []domain.LogEntry
	start   int
	size    int
	seq     uint64
}

func newLogBuffer(capacity int) *logBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &logBuffer{entries: make([]domain.LogEntry, capacity)}
}

func (b *logBuffer) append(e domain.LogEntry) domain.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	e.Seq = b.seq
	idx := (b.start + b.size) % len(b.entries)
	b.entries[idx] = e
	if b.size < len(b.entries) {
		b.size++
	} else {
		b.start = (b.start + 1) % len(b.entries)
	}
	return e
}

// since 返回序号大于 seq 的日志（按顺序）
func (b *logBuffer) since(seq uint64) []domain.LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.LogEntry, 0, b.size)
	for i := 0; i < b.size; i++ {
		e := b.entries[(b.start+i)%len(b.entries)]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

func (b *logBuffer) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}
