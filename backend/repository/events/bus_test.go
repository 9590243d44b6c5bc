package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secureproxy/backend/domain"
)

func TestBus_PublishSync_CallsTypeAndAllHandlers(t *testing.T) {
	t.Parallel()

	bus := NewBus()

	calls := make(chan EventType, 2)
	bus.Subscribe(EventConfigSaved, func(event Event) {
		calls <- event.Type()
	})
	bus.SubscribeAll(func(event Event) {
		calls <- event.Type()
	})

	bus.PublishSync(ConfigEvent{EventType: EventConfigSaved, Name: "A"})

	require.Equal(t, EventConfigSaved, <-calls)
	require.Equal(t, EventConfigSaved, <-calls)
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	count := 0
	cancel := bus.Subscribe(EventConfigDeleted, func(Event) { count++ })

	bus.PublishSync(ConfigEvent{EventType: EventConfigDeleted})
	cancel()
	cancel()
	bus.PublishSync(ConfigEvent{EventType: EventConfigDeleted})

	require.Equal(t, 1, count)
	require.False(t, bus.HasSubscribers(EventConfigDeleted))
}

func TestBus_SubscribeChan_DropsWhenFullAndClosesOnCancel(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, cancel := bus.SubscribeChan(EventStatusPublished, 1)

	bus.PublishSync(StatusEvent{Status: domain.Status{State: domain.StateConnecting}})
	bus.PublishSync(StatusEvent{Status: domain.Status{State: domain.StateConnected}})

	select {
	case ev := <-ch:
		require.Equal(t, domain.StateConnecting, ev.(StatusEvent).Status.State)
	case <-time.After(time.Second):
		t.Fatal("expected a buffered event")
	}

	cancel()
	_, ok := <-ch
	require.False(t, ok)

	// 取消后发布不能 panic
	bus.PublishSync(StatusEvent{})
}

func TestBus_SubscribeChanTypes_MergesTypes(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch, cancel := bus.SubscribeChanTypes(4, EventConfigChanged, EventTunChanged)
	defer cancel()

	bus.PublishSync(ConfigEvent{EventType: EventConfigChanged, Name: "home"})
	bus.PublishSync(ConfigEvent{EventType: EventConfigSaved, Name: "ignored"})
	bus.PublishSync(SettingsEvent{EventType: EventTunChanged, Settings: domain.Settings{TunEnabled: true}})

	got := []EventType{(<-ch).Type(), (<-ch).Type()}
	require.Equal(t, []EventType{EventConfigChanged, EventTunChanged}, got)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev.Type())
	default:
	}
}
