package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"secureproxy/backend/domain"
	"secureproxy/backend/service/applog"
	"secureproxy/backend/service/shared"
	"secureproxy/backend/service/status"
)

// StopGrace SIGTERM 之后等待进程自行退出的时间
const StopGrace = time.Second

const maxLineBytes = 1 << 20

// Handle 一个存活的引擎进程；只由 Supervisor 持有
type Handle struct {
	Cmd       *exec.Cmd
	Pid       int
	Session   string
	StartedAt time.Time
	Config    domain.ProxyConfig
	// Done 进程被回收后关闭
	Done <-chan struct{}
}

func (h *Handle) exited() bool {
	select {
	case <-h.Done:
		return true
	default:
		return false
	}
}

// Option 监督者选项
type Option func(*Supervisor)

// WithLogPath 引擎输出同时写入该文件（每次启动截断）
func WithLogPath(path string) Option {
	return func(s *Supervisor) { s.logPath = path }
}

// WithEcho 引擎输出同时打印到本进程的 stdout/stderr
func WithEcho(echo bool) Option {
	return func(s *Supervisor) { s.echo = echo }
}

// WithGrace 修改停止时的等待时间
func WithGrace(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// Supervisor 启动、监视、停止引擎进程。同一时间最多一个进程。
type Supervisor struct {
	spec      EngineSpec
	sink      status.Sink
	reclaimer *shared.PortReclaimer
	logPath   string
	echo      bool
	grace     time.Duration
	log       zerolog.Logger

	mu     sync.Mutex
	handle *Handle
}

func NewSupervisor(spec EngineSpec, sink status.Sink, reclaimer *shared.PortReclaimer, opts ...Option) *Supervisor {
	s := &Supervisor{
		spec:      spec,
		sink:      sink,
		reclaimer: reclaimer,
		grace:     StopGrace,
		log:       applog.For("proxy"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signature 清理遗留进程时使用的命令行片段
func (s *Supervisor) Signature() string { return s.spec.signature() }

// Running 是否有存活的引擎进程
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil && !s.handle.exited()
}

// Current 当前进程；没有时返回 nil
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.handle.exited() {
		return nil
	}
	return s.handle
}

// Start 启动引擎。启动失败会向聚合器报告并返回 *EngineLaunchError。
func (s *Supervisor) Start(ctx context.Context, cfg domain.ProxyConfig) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil && !s.handle.exited() {
		return nil, domain.ErrEngineAlreadyRunning
	}

	name, args, err := s.spec.Resolve()
	if err != nil {
		return nil, s.launchFailed("", err)
	}
	env, err := EngineEnv(os.Environ(), cfg, s.spec.Env)
	if err != nil {
		return nil, s.launchFailed(name, err)
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = s.spec.Dir
	cmd.Env = env
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, s.launchFailed(name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, s.launchFailed(name, err)
	}

	session := uuid.NewString()
	logFile, err := openEngineLog(s.logPath, session, name)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.logPath).Msg("打开引擎日志失败")
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		if isNotFound(err) {
			err = fmt.Errorf("%w（请确认已安装 python3 或引擎程序）", err)
		}
		return nil, s.launchFailed(name, err)
	}

	done := make(chan struct{})
	h := &Handle{
		Cmd:       cmd,
		Pid:       cmd.Process.Pid,
		Session:   session,
		StartedAt: time.Now(),
		Config:    cfg,
		Done:      done,
	}
	s.handle = h
	s.log.Info().Int("pid", h.Pid).Str("session", session).Str("config", cfg.Name).Msg("引擎已启动")
	s.post(status.EngineLaunched{Session: session, Pid: h.Pid, StartedAt: h.StartedAt})

	var fileW io.Writer
	if logFile != nil {
		fileW = logFile
	}
	var echoOut, echoErr io.Writer
	if s.echo {
		echoOut, echoErr = os.Stdout, os.Stderr
	}
	sharedLog := newFanoutWriter(fileW)

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readLines(&readers, session, status.StreamStdout, stdout, newFanoutWriter(sharedLog, echoOut))
	go s.readLines(&readers, session, status.StreamStderr, stderr, newFanoutWriter(sharedLog, echoErr))
	go s.monitor(h, &readers, logFile, done)
	return h, nil
}

func (s *Supervisor) launchFailed(command string, cause error) error {
	err := &EngineLaunchError{Command: command, Cause: cause}
	s.log.Error().Err(err).Msg("引擎启动失败")
	s.post(status.EngineLaunchFailed{Err: err})
	return err
}

func (s *Supervisor) readLines(wg *sync.WaitGroup, session string, stream status.Stream, r io.Reader, tee io.Writer) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		_, _ = tee.Write([]byte(line + "\n"))
		s.post(status.EngineLine{Session: session, Stream: stream, Text: line})
		if stream != status.StreamStdout {
			continue
		}
		if marker, ok := matchReadyMarker(line); ok {
			s.post(status.EngineReady{Session: session, Marker: marker})
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.log.Debug().Err(err).Str("stream", string(stream)).Msg("读取引擎输出结束")
	}
}

func (s *Supervisor) monitor(h *Handle, readers *sync.WaitGroup, logFile *os.File, done chan struct{}) {
	// 管道读完之后才能 Wait
	readers.Wait()
	err := h.Cmd.Wait()
	code := 0
	if h.Cmd.ProcessState != nil {
		code = h.Cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}
	if logFile != nil {
		_, _ = fmt.Fprintf(logFile, "----- engine exit %s code=%d -----\n", time.Now().Format(time.RFC3339Nano), code)
		_ = logFile.Close()
	}
	s.log.Info().Int("pid", h.Pid).Int("code", code).Msg("引擎进程已退出")
	// 先报告退出再释放 Done：Stop 之后的 EngineStopped 总是排在后面
	s.post(status.EngineExited{Session: h.Session, Code: code, Err: err})
	close(done)
}

// Stop 停止引擎：SIGTERM，等待片刻后强杀，然后清理遗留进程与端口。
// 无论进程是否存在，最后都会报告 EngineStopped。
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	s.mu.Unlock()

	session := ""
	var cfg domain.ProxyConfig
	if h != nil {
		session = h.Session
		cfg = h.Config
		s.terminate(ctx, h)
	}

	if s.reclaimer != nil {
		s.reclaimer.SweepSignature(ctx, s.spec.signature())
		for _, port := range []int{cfg.SOCKSPort, cfg.HTTPPort} {
			if port > 0 {
				s.reclaimer.ReleasePort(ctx, port)
			}
		}
	}

	s.post(status.EngineStopped{Session: session})
	return nil
}

func (s *Supervisor) terminate(ctx context.Context, h *Handle) {
	if h.exited() || h.Cmd.Process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		_ = h.Cmd.Process.Kill()
	} else {
		_ = h.Cmd.Process.Signal(syscall.SIGTERM)
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-h.Done:
		return
	case <-timer.C:
	case <-ctx.Done():
	}

	s.log.Warn().Int("pid", h.Pid).Msg("引擎未在限定时间内退出，强制结束")
	_ = h.Cmd.Process.Kill()
	select {
	case <-h.Done:
	case <-time.After(s.grace):
		s.log.Warn().Int("pid", h.Pid).Msg("等待引擎退出超时")
	}
}

func (s *Supervisor) post(ev status.Event) {
	if s.sink != nil {
		s.sink.Post(ev)
	}
}
