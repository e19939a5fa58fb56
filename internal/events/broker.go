// internal/events/broker.go - in-process pub/sub for live UI updates
package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the per-subscriber buffer.
const DefaultQueueSize = 100

// Event types published by the engine and workers.
const (
	TypeServiceState = "service.state"
	TypeAlertCreated = "alert.created"
	TypeMonitorEvent = "monitor.event"
	TypePeerChanged  = "peer.changed"
)

type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	Time    time.Time   `json:"time"`
}

type subscriber struct {
	queue chan Event
	// dropped counts events discarded because the queue was full.
	dropped uint64
}

// Broker fans events out to subscribers. Each subscriber owns a bounded
// queue; when it is full the oldest queued event is discarded so Publish
// never blocks. Late subscribers see only events published after they joined.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	queueSize   int
	onChange    func(count int)
}

func NewBroker(queueSize int) *Broker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broker{
		subscribers: make(map[*subscriber]struct{}),
		queueSize:   queueSize,
	}
}

// OnSubscriberChange registers a callback invoked with the subscriber count
// whenever a subscriber joins or leaves.
func (b *Broker) OnSubscriberChange(fn func(count int)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Subscribe registers a subscriber for the lifetime of ctx. The returned
// channel is closed after ctx is cancelled and the subscriber deregistered.
func (b *Broker) Subscribe(ctx context.Context) <-chan Event {
	sub := &subscriber{queue: make(chan Event, b.queueSize)}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	count := len(b.subscribers)
	onChange := b.onChange
	b.mu.Unlock()

	if onChange != nil {
		onChange(count)
	}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, sub)
		count := len(b.subscribers)
		onChange := b.onChange
		close(sub.queue)
		b.mu.Unlock()

		if sub.dropped > 0 {
			logrus.WithField("dropped", sub.dropped).Debug("Event subscriber dropped events")
		}
		if onChange != nil {
			onChange(count)
		}
	}()

	return sub.queue
}

func (b *Broker) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}

	// Publish holds the write lock: the drop-oldest step below is a
	// receive-then-send pair that must not interleave with another publisher.
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		select {
		case sub.queue <- evt:
			continue
		default:
		}
		// Full: discard the oldest queued event and retry once.
		select {
		case <-sub.queue:
			sub.dropped++
		default:
		}
		select {
		case sub.queue <- evt:
		default:
			sub.dropped++
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
