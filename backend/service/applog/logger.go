package applog

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	baseMu sync.RWMutex
	base   = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
)

// For 返回带 module 字段的子 logger（对应各模块日志里的 [Tag] 前缀）
func For(module string) zerolog.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base.With().Str("module", module).Logger()
}

// SetLogger 替换全局 logger（测试或嵌入方使用）
func SetLogger(l zerolog.Logger) {
	baseMu.Lock()
	base = l
	baseMu.Unlock()
}

// ParseLevel 解析日志级别，空串视为 info
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Setup 打开（截断）应用日志文件，同时输出到控制台和文件。
// 标准库 log 也会被接到同一个 logger 上。
func Setup(path string, level zerolog.Level) (startedAt time.Time, closeFn func(), err error) {
	startedAt = time.Now()
	closeFn = func() {}

	var file *os.File
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return startedAt, closeFn, fmt.Errorf("create log dir: %w", err)
		}
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return startedAt, closeFn, fmt.Errorf("open log file %s: %w", path, err)
		}
		_, _ = fmt.Fprintf(file, "----- app start %s pid=%d -----\n", startedAt.Format(time.RFC3339Nano), os.Getpid())
		closeFn = func() { _ = file.Close() }
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	if file != nil {
		out = zerolog.MultiLevelWriter(out, zerolog.ConsoleWriter{Out: file, NoColor: true, TimeFormat: time.RFC3339Nano})
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	SetLogger(logger)

	log.SetFlags(0)
	log.SetOutput(logger.With().Str("module", "stdlog").Logger())
	return startedAt, closeFn, nil
}
