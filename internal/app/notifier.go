package app

import (
	"fmt"
	"sync"

	"github.com/bft-labs/opstream/internal/queue"
	"github.com/bft-labs/opstream/pkg/log"
)

type subscriber struct {
	id uint64
	fn func(Event)
}

// notifier delivers events to observers in order on its own goroutine, so
// Emit may be called while holding the manager lock.
type notifier struct {
	logger log.Logger
	q      *queue.Queue[Event]

	mu      sync.Mutex
	subs    []subscriber
	nextID  uint64
	stopped bool
}

func newNotifier(logger log.Logger) *notifier {
	n := &notifier{logger: log.OrNoop(logger)}
	n.q = queue.New(n.dispatch, nil)
	return n
}

// Subscribe registers fn and returns a function that unregisters it.
func (n *notifier) Subscribe(fn func(Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscriber{id: id, fn: fn})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.subs {
			if s.id == id {
				n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit queues ev for delivery. Events emitted after Stop are dropped.
func (n *notifier) Emit(ev Event) {
	n.mu.Lock()
	stopped := n.stopped
	n.mu.Unlock()
	if stopped {
		return
	}
	n.q.Push(ev)
}

// Stop drops every later event. Already queued events are still delivered.
func (n *notifier) Stop() {
	n.mu.Lock()
	n.stopped = true
	n.mu.Unlock()
}

// Idle reports whether every emitted event has been delivered.
func (n *notifier) Idle() bool { return n.q.Idle() }

func (n *notifier) dispatch(ev Event) error {
	n.mu.Lock()
	subs := append([]subscriber(nil), n.subs...)
	n.mu.Unlock()

	for _, s := range subs {
		n.deliver(s, ev)
	}
	return nil
}

func (n *notifier) deliver(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("observer panicked",
				log.String("event", ev.Name()),
				log.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	s.fn(ev)
}
