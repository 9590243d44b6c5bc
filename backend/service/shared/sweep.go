package shared

import (
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// SweepSignature 强制结束命令行中包含 signature 的进程（上次运行遗留的引擎）。
// 返回被结束的 pid；所有错误都被吞掉。
func (r *PortReclaimer) SweepSignature(ctx context.Context, signature string) []int32 {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		r.log.Debug().Err(err).Msg("枚举进程失败，回退到 pkill")
		r.pkill(ctx, signature)
		return nil
	}

	var killed []int32
	for _, p := range procs {
		if p.Pid == r.self || p.Pid <= 1 {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !strings.Contains(cmdline, signature) {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			r.log.Warn().Err(err).Int32("pid", p.Pid).Msg("结束遗留引擎进程失败")
			continue
		}
		r.log.Info().Int32("pid", p.Pid).Str("cmdline", cmdline).Msg("已结束遗留引擎进程")
		killed = append(killed, p.Pid)
	}
	return killed
}

func (r *PortReclaimer) pkill(ctx context.Context, signature string) {
	pkillPath, err := exec.LookPath("pkill")
	if err != nil {
		return
	}
	_ = exec.CommandContext(ctx, pkillPath, "-9", "-f", regexp.QuoteMeta(signature)).Run()
}
