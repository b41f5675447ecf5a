package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryBusPublishSubscribe тестирует доставку события подписчику
func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var mu sync.Mutex
	var received []*Envelope

	_, err := bus.Subscribe(ctx, Filter{Types: []string{"admin_update"}}, func(ctx context.Context, ev *Envelope) {
		mu.Lock()
		received = append(received, ev)
		mu.Unlock()
	})
	require.NoError(t, err)

	err = bus.Publish(ctx, &Envelope{
		ID:        "ev-1",
		Timestamp: time.Now().UTC(),
		Source:    "game",
		EventType: "admin_update",
		Payload:   []byte(`{"user_id":1}`),
	})
	require.NoError(t, err)

	// Шина асинхронная — ждём доставки
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "ev-1", received[0].ID)
	assert.Equal(t, "admin_update", received[0].EventType)
	mu.Unlock()
}

// TestMemoryBusFilter тестирует фильтрацию по типу события
func TestMemoryBusFilter(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var mu sync.Mutex
	count := 0

	_, err := bus.Subscribe(ctx, Filter{Types: []string{"admin_update"}}, func(ctx context.Context, ev *Envelope) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, &Envelope{ID: "a", EventType: "other_event"}))
	require.NoError(t, bus.Publish(ctx, &Envelope{ID: "b", EventType: "admin_update"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 10*time.Millisecond)

	// Чужой тип события не должен был дойти
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, count)
	mu.Unlock()
}

// TestMemoryBusUnsubscribe тестирует отписку
func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	var mu sync.Mutex
	count := 0

	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, &Envelope{ID: "a", EventType: "admin_update"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 10*time.Millisecond)

	sub.Unsubscribe()

	require.NoError(t, bus.Publish(ctx, &Envelope{ID: "b", EventType: "admin_update"}))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, count, "событие доставлено после отписки")
	mu.Unlock()
}
