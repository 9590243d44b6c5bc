package tun

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"secureproxy/backend/service/applog"
	"secureproxy/backend/service/status"
)

const countInterval = time.Second

// Datapath 从设备读包并计数；转发不在这里做
type Datapath struct {
	sink status.Sink
	log  zerolog.Logger

	packets atomic.Uint64
	// active 进行中的 Run 个数；新旧 Run 交接时可能短暂为 2
	active atomic.Int32
}

func NewDatapath(sink status.Sink) *Datapath {
	return &Datapath{sink: sink, log: applog.For("tun")}
}

// Packets 自上次连接以来读到的包数
func (d *Datapath) Packets() uint64 { return d.packets.Load() }

// Reset 新连接开始时清零计数
func (d *Datapath) Reset() { d.packets.Store(0) }

func (d *Datapath) Running() bool { return d.active.Load() > 0 }

// Run 读取 dev 直到出错或 ctx 结束；结束时关闭 dev
func (d *Datapath) Run(ctx context.Context, dev io.ReadCloser) {
	if dev == nil {
		return
	}
	d.active.Add(1)
	defer d.active.Add(-1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = dev.Close()
	}()
	go d.report(ctx)

	buf := make([]byte, 65535)
	for {
		n, err := dev.Read(buf)
		if n > 0 {
			d.packets.Add(1)
			if info, ok := ClassifyPacket(buf[:n]); ok && info.Loggable() {
				d.log.Debug().Stringer("packet", info).Msg("packet")
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) && ctx.Err() == nil {
				d.log.Warn().Err(err).Msg("读取虚拟网卡失败")
			}
			d.post()
			return
		}
	}
}

func (d *Datapath) report(ctx context.Context) {
	t := time.NewTicker(countInterval)
	defer t.Stop()
	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := d.packets.Load(); n != last {
				last = n
				d.post()
			}
		}
	}
}

func (d *Datapath) post() {
	if d.sink != nil {
		d.sink.Post(status.PacketsCounted{Total: d.packets.Load()})
	}
}
