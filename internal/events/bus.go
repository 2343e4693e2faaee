package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// defaultBuffer is the per-subscriber channel capacity.
const defaultBuffer = 100

// Bus is a channel-based, non-blocking event distribution system. Publish
// never blocks: when a subscriber's buffer is full the oldest queued event
// is dropped for that subscriber to make room for the new one, and
// BackpressureDropped is incremented. One
// subscriber's slow consumer loop never blocks another's.
type Bus struct {
	mu                 sync.RWMutex
	subscribers        map[EventType][]chan Event
	buffer             int
	closed             bool
	backpressureDropped atomic.Int64
}

// NewBus creates a new event bus with the given per-subscriber buffer size.
// A size <= 0 uses the default of 100.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		buffer:      bufferSize,
	}
}

// Subscribe returns a finite-capacity stream of events of the given types.
// Each subscriber owns one consumer loop; events from one publisher reach
// each subscriber in publish order.
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}
	return ch
}

// BackpressureDropped returns the total number of events dropped across all
// subscribers because their buffer was full when published.
func (b *Bus) BackpressureDropped() int64 {
	return b.backpressureDropped.Load()
}

// Publish sends an event to all subscribers of its type. Non-blocking: a
// full subscriber buffer loses its oldest queued event rather than
// blocking the publisher.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
				b.backpressureDropped.Add(1)
			default:
			}
			select {
			case ch <- event:
			default:
				b.backpressureDropped.Add(1)
			}
		}
	}
}

// Close drains all subscriber streams by closing their channels. Publish
// becomes a no-op afterward.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	closedCh := make(map[chan Event]bool)
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			if !closedCh[ch] {
				close(ch)
				closedCh[ch] = true
			}
		}
	}
	b.subscribers = make(map[EventType][]chan Event)
}
