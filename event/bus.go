package event

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDrainTimeout is how long a closed Bus waits for its consumer to take
// the remaining events before dropping them.
const DefaultDrainTimeout = 2 * time.Second

// Publisher accepts notifications. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

// Bus is an unbounded, ordered event queue with a single consumer channel.
// The queue grows until the consumer reads C, so an open Bus must be drained.
type Bus struct {
	mu     sync.Mutex
	queue  []Event
	closed bool

	wake    chan struct{}
	out     chan Event
	abandon chan struct{}
	drain   time.Duration
	now     func() time.Time
}

// NewBus creates a Bus and starts its delivery goroutine.
func NewBus() *Bus {
	b := &Bus{
		wake:    make(chan struct{}, 1),
		out:     make(chan Event),
		abandon: make(chan struct{}),
		drain:   DefaultDrainTimeout,
		now:     time.Now,
	}
	go b.run()
	return b
}

// Publish enqueues e. It never blocks. Events published after Close are dropped.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	b.queue = append(b.queue, e)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// C returns the delivery channel. It is closed after Close once every queued
// event has been delivered.
func (b *Bus) C() <-chan Event {
	return b.out
}

// Close stops accepting events. Queued events are still delivered for up to
// the drain timeout; whatever the consumer has not taken by then is dropped
// and C is closed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	drain := b.drain
	b.mu.Unlock()

	time.AfterFunc(drain, func() { close(b.abandon) })

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, undelivered events.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bus) run() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			closed := b.closed
			b.mu.Unlock()
			if closed {
				close(b.out)
				return
			}
			<-b.wake
			continue
		}
		e := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		b.mu.Unlock()

		select {
		case b.out <- e:
		case <-b.abandon:
			b.mu.Lock()
			dropped := len(b.queue) + 1
			b.queue = nil
			b.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "Bus.run",
				"dropped":  dropped,
			}).Warn("Event consumer gone, dropping undelivered events")
			close(b.out)
			return
		}
	}
}
