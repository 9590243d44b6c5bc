package shared

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// ErrNotSOCKS5 监听者不是 SOCKS5 服务
var ErrNotSOCKS5 = errors.New("socks5: listener did not answer the greeting")

// DefaultProbeTimeout 单次握手探测的超时
const DefaultProbeTimeout = 3 * time.Second

// ProbeSOCKS5 连接本地 SOCKS5 入站并完成无认证的方法协商，返回耗时。
// 只验证引擎仍在正常应答，不会发起 CONNECT。
func ProbeSOCKS5(ctx context.Context, proxyAddr string) (time.Duration, error) {
	if strings.TrimSpace(proxyAddr) == "" {
		return 0, errors.New("socks5: proxy addr is empty")
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultProbeTimeout)
		defer cancel()
	}

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return 0, fmt.Errorf("socks5: dial proxy: %w", err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if err := socks5Greeting(conn); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func socks5Greeting(conn net.Conn) error {
	// VER=5, NMETHODS=1, METHOD=no auth
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		return fmt.Errorf("socks5: write hello: %w", err)
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("%w: %w", ErrNotSOCKS5, err)
	}
	if resp[0] != 0x05 {
		return fmt.Errorf("%w: version %d", ErrNotSOCKS5, resp[0])
	}
	switch resp[1] {
	case 0x00:
		return nil
	case 0xff:
		return errors.New("socks5: no acceptable auth method")
	default:
		return fmt.Errorf("socks5: unsupported auth method: %d", resp[1])
	}
}
