package tun

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secureproxy/backend/domain"
	"secureproxy/backend/service/status"
)

type recordingSink struct {
	mu     sync.Mutex
	events []status.Event
}

func (s *recordingSink) Post(ev status.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) interfaceStates() []domain.InterfaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InterfaceState
	for _, ev := range s.events {
		if ic, ok := ev.(status.InterfaceChanged); ok {
			out = append(out, ic.State)
		}
	}
	return out
}

func newTestController(t *testing.T) (*Controller, *MemoryProvider, *DescriptorStore, *recordingSink) {
	t.Helper()
	provider := NewMemoryProvider()
	store := NewDescriptorStore(t.TempDir())
	sink := &recordingSink{}
	c := NewController(provider, store, sink, WithRetryDelay(20*time.Millisecond))
	t.Cleanup(func() {
		_ = c.Disable(context.Background())
		c.Close()
	})
	return c, provider, store, sink
}

func TestEnableWithoutDescriptorCreatesThenRetriesOnce(t *testing.T) {
	c, provider, store, _ := newTestController(t)

	_, err := store.Load(DefaultProviderIdentifier)
	require.ErrorIs(t, err, domain.ErrDescriptorNotFound)

	require.NoError(t, c.Enable(context.Background(), 1080, ""))
	// 第一次调用只负责创建描述，不会立即启用
	require.Zero(t, provider.Activations())

	require.Eventually(t, func() bool { return provider.Activations() == 1 }, 2*time.Second, 10*time.Millisecond)

	desc, err := store.Load(DefaultProviderIdentifier)
	require.NoError(t, err)
	require.True(t, desc.Enabled)
	require.Equal(t, 1080, desc.SOCKSPort)
	require.Equal(t, DefaultDNSServer, desc.DNSServer)
	require.Equal(t, "10.0.0.2", desc.TunIP)
	require.Equal(t, DescriptorVersion, desc.Version)

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 1, provider.Activations(), "retry must happen exactly once")
}

func TestEnableWithDescriptorActivatesImmediately(t *testing.T) {
	c, provider, store, sink := newTestController(t)
	require.NoError(t, store.Save(newDescriptor(DefaultProviderIdentifier, 1, "")))

	require.NoError(t, c.Enable(context.Background(), 2080, "9.9.9.9"))
	require.Equal(t, 1, provider.Activations())
	require.Equal(t, domain.InterfaceConnected, c.State())

	desc, settings := provider.LastSettings()
	require.Equal(t, 2080, desc.SOCKSPort)
	require.Equal(t, "10.0.0.2/24", settings.Address.String())
	require.Equal(t, "10.0.0.1", settings.Gateway.String())
	require.Equal(t, 1400, settings.MTU)
	require.True(t, settings.IncludeDefaultRoute)
	require.Len(t, settings.ExcludedRoutes, len(DefaultExcludedRoutes))
	require.Equal(t, "9.9.9.9", settings.DNSServers[0].String())

	require.Eventually(t, func() bool {
		states := sink.interfaceStates()
		return len(states) > 0 && states[len(states)-1] == domain.InterfaceConnected
	}, time.Second, 10*time.Millisecond)
}

func TestDisableIsIdempotent(t *testing.T) {
	c, provider, store, _ := newTestController(t)
	require.NoError(t, store.Save(newDescriptor(DefaultProviderIdentifier, 1080, "")))
	require.NoError(t, c.Enable(context.Background(), 1080, ""))

	require.NoError(t, c.Disable(context.Background()))
	require.NoError(t, c.Disable(context.Background()))
	require.Equal(t, domain.InterfaceDisconnected, provider.Status())

	desc, err := store.Load(DefaultProviderIdentifier)
	require.NoError(t, err)
	require.False(t, desc.Enabled)
}

func TestDisableCancelsPendingRetry(t *testing.T) {
	provider := NewMemoryProvider()
	store := NewDescriptorStore(t.TempDir())
	c := NewController(provider, store, nil, WithRetryDelay(50*time.Millisecond))
	defer c.Close()

	require.NoError(t, c.Enable(context.Background(), 1080, ""))
	require.NoError(t, c.Disable(context.Background()))

	time.Sleep(120 * time.Millisecond)
	require.Zero(t, provider.Activations())
}

func TestRestartReusesDNS(t *testing.T) {
	c, provider, store, _ := newTestController(t)
	require.NoError(t, store.Save(newDescriptor(DefaultProviderIdentifier, 1080, "")))
	require.NoError(t, c.Enable(context.Background(), 1080, "9.9.9.9"))

	require.NoError(t, c.Restart(context.Background(), 1081))
	require.Equal(t, 2, provider.Activations())

	desc, _ := provider.LastSettings()
	require.Equal(t, 1081, desc.SOCKSPort)
	require.Equal(t, "9.9.9.9", desc.DNSServer)
}

func TestEnableActivateFailure(t *testing.T) {
	c, provider, store, _ := newTestController(t)
	require.NoError(t, store.Save(newDescriptor(DefaultProviderIdentifier, 1080, "")))
	provider.ActivateErr = errors.New("permission denied")

	err := c.Enable(context.Background(), 1080, "")
	require.ErrorContains(t, err, "permission denied")
	require.Equal(t, domain.InterfaceDisconnected, c.State())
}

func TestQueryStatusCountsPackets(t *testing.T) {
	c, provider, store, _ := newTestController(t)
	require.NoError(t, store.Save(newDescriptor(DefaultProviderIdentifier, 1080, "")))

	reply, err := c.QueryStatus("status")
	require.NoError(t, err)
	require.Equal(t, "packets: 0, running: false", reply)

	require.NoError(t, c.Enable(context.Background(), 1080, ""))
	require.Eventually(t, func() bool { return c.datapath.Running() }, time.Second, 10*time.Millisecond)

	pkt := ipv4Packet(t, [4]byte{8, 8, 8, 8}, 443)
	require.NoError(t, provider.Inject(pkt))
	require.NoError(t, provider.Inject(pkt))

	require.Eventually(t, func() bool {
		reply, _ := c.QueryStatus("status")
		return reply == "packets: 2, running: true"
	}, time.Second, 10*time.Millisecond)

	_, err = c.QueryStatus("bogus")
	require.Error(t, err)
}

func TestDatapathHandoffKeepsRunning(t *testing.T) {
	t.Parallel()
	d := NewDatapath(nil)

	run := func(ctx context.Context) (*io.PipeWriter, <-chan struct{}) {
		r, w := io.Pipe()
		done := make(chan struct{})
		go func() {
			d.Run(ctx, r)
			close(done)
		}()
		return w, done
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	_, done1 := run(ctx1)
	require.Eventually(t, d.Running, time.Second, 5*time.Millisecond)

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	w2, done2 := run(ctx2)
	require.Eventually(t, func() bool { return d.active.Load() == 2 }, time.Second, 5*time.Millisecond)

	// 旧的 Run 晚于新的 Run 退出
	cancel1()
	<-done1
	require.True(t, d.Running())

	_, err := w2.Write(ipv4Packet(t, [4]byte{1, 1, 1, 1}, 53))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.Packets() == 1 }, time.Second, 5*time.Millisecond)

	cancel2()
	<-done2
	require.False(t, d.Running())
}
