package proxy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"secureproxy/backend/service/applog"
)

// EngineLogSnapshot 引擎输出文件的增量内容
type EngineLogSnapshot struct {
	Running   bool   `json:"running"`
	Pid       int    `json:"pid,omitempty"`
	Session   string `json:"session,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`
	applog.Chunk
}

// EngineLogsSince 读取引擎日志自 since 偏移之后的内容
func (s *Supervisor) EngineLogsSince(since int64) EngineLogSnapshot {
	s.mu.Lock()
	h := s.handle
	path := s.logPath
	s.mu.Unlock()

	snap := EngineLogSnapshot{Chunk: applog.ReadChunk(path, since)}
	if h != nil && !h.exited() {
		snap.Running = true
		snap.Pid = h.Pid
		snap.Session = h.Session
		snap.StartedAt = h.StartedAt.Format(time.RFC3339Nano)
	}
	return snap
}

func openEngineLog(path, session, command string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	_, _ = fmt.Fprintf(f, "----- engine start %s session=%s command=%s -----\n", time.Now().Format(time.RFC3339Nano), session, command)
	return f, nil
}

// fanoutWriter 两个读取协程共用，写入需要串行
type fanoutWriter struct {
	mu      sync.Mutex
	writers []io.Writer
}

func newFanoutWriter(writers ...io.Writer) *fanoutWriter {
	nonNil := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			nonNil = append(nonNil, w)
		}
	}
	return &fanoutWriter{writers: nonNil}
}

func (w *fanoutWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, dst := range w.writers {
		_, _ = dst.Write(p)
	}
	return len(p), nil
}
