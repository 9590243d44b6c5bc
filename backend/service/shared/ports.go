package shared

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"secureproxy/backend/service/applog"
)

// PortReclaimer 在引擎启动前释放被占用的本地端口（尽力而为，从不返回错误）
type PortReclaimer struct {
	log  zerolog.Logger
	self int32

	owners func(ctx context.Context, port int) []int32
}

func NewPortReclaimer() *PortReclaimer {
	r := &PortReclaimer{
		log:  applog.For("ports"),
		self: int32(os.Getpid()),
	}
	r.owners = r.lookupOwners
	return r
}

// ReleasePort 向占用 port 的进程发送 SIGTERM，返回被通知的 pid。
// 端口空闲时什么都不做；重复调用是安全的。
func (r *PortReclaimer) ReleasePort(ctx context.Context, port int) []int32 {
	if port <= 0 || port > 65535 {
		return nil
	}

	var signalled []int32
	for _, pid := range r.owners(ctx, port) {
		if pid <= 0 || pid == r.self {
			continue
		}
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue
		}
		if err := p.TerminateWithContext(ctx); err != nil {
			r.log.Warn().Err(err).Int32("pid", pid).Int("port", port).Msg("终止占用端口的进程失败")
			continue
		}
		r.log.Info().Int32("pid", pid).Int("port", port).Msg("已终止占用端口的进程")
		signalled = append(signalled, pid)
	}
	return signalled
}

func (r *PortReclaimer) lookupOwners(ctx context.Context, port int) []int32 {
	seen := make(map[int32]struct{})
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		r.log.Debug().Err(err).Msg("枚举 socket 失败，回退到 lsof")
	}
	for _, c := range conns {
		if c.Laddr.Port != uint32(port) || c.Pid <= 0 {
			continue
		}
		if c.Status != "" && c.Status != "LISTEN" {
			continue
		}
		seen[c.Pid] = struct{}{}
	}
	if len(seen) == 0 {
		for _, pid := range lsofListeners(ctx, port) {
			seen[pid] = struct{}{}
		}
	}

	pids := make([]int32, 0, len(seen))
	for pid := range seen {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

func lsofListeners(ctx context.Context, port int) []int32 {
	lsof, err := exec.LookPath("lsof")
	if err != nil {
		return nil
	}
	out, err := exec.CommandContext(ctx, lsof, "-nP", "-t", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN").Output()
	if err != nil && len(out) == 0 {
		// 没有匹配时 lsof 以 1 退出
		return nil
	}
	var pids []int32
	for _, field := range bytes.Fields(out) {
		if v, err := strconv.ParseInt(strings.TrimSpace(string(field)), 10, 32); err == nil {
			pids = append(pids, int32(v))
		}
	}
	return pids
}
