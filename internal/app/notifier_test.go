package app

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierDeliversInOrder(t *testing.T) {
	n := newNotifier(nil)

	var mu sync.Mutex
	var got []string
	n.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Name())
		mu.Unlock()
	})

	n.Emit(ConnectEvent{})
	n.Emit(PongEvent{Latency: time.Millisecond})
	n.Emit(DisconnectEvent{Reason: "bye"})

	require.Eventually(t, n.Idle, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"connect", "pong", "disconnect"}, got)
}

func TestNotifierUnsubscribeAndPanics(t *testing.T) {
	n := newNotifier(nil)

	var mu sync.Mutex
	count := 0
	n.Subscribe(func(Event) { panic("observer bug") })
	unsubscribe := n.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	n.Emit(AllSentOpsAckdEvent{})
	require.Eventually(t, n.Idle, time.Second, time.Millisecond)

	unsubscribe()
	n.Emit(AllSentOpsAckdEvent{})
	require.Eventually(t, n.Idle, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, count)
	mu.Unlock()
}

func TestNotifierDropsAfterStop(t *testing.T) {
	n := newNotifier(nil)
	var mu sync.Mutex
	var got []string
	n.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Name())
		mu.Unlock()
	})

	n.Emit(ClosedEvent{})
	n.Stop()
	n.Emit(ConnectEvent{})

	require.Eventually(t, n.Idle, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed"}, got)
}
