package events

import "sync/atomic"

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is discarded. Consumers
// read from C() like a normal channel, or use Receive/TryReceive to have reads counted.
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
//
// Reads from the returned channel are not counted in Metrics.Processed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest one when the buffer is full. It reports whether
// an item was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	for {
		select {
		case rc.ch <- v:
			rc.metrics.addWritten()
			return false
		default:
		}

		select {
		case <-rc.ch:
			rc.metrics.addOverwritten()
		default:
		}

		select {
		case rc.ch <- v:
			rc.metrics.addWritten()
			return true
		default:
			// A concurrent producer took the freed slot.
		}
	}
}

// Receive blocks until a value is available or the channel is closed.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.metrics.addProcessed()
	}
	return
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.metrics.addProcessed()
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Sending afterwards panics.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}

// GetMetrics returns a snapshot of the counters.
func (rc *RingChannel[T]) GetMetrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// Metrics provides lock-free counters for a RingChannel.
type Metrics struct {
	Processed   int64
	Written     int64
	Overwritten int64
}

func (m *Metrics) addProcessed() {
	atomic.AddInt64(&m.Processed, 1)
}

func (m *Metrics) addWritten() {
	atomic.AddInt64(&m.Written, 1)
}

func (m *Metrics) addOverwritten() {
	atomic.AddInt64(&m.Overwritten, 1)
}
