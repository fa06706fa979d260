package ring

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrClosed is returned by a barrier once the ring is closed and every
// published slot has been consumed.
var ErrClosed = errors.New("ring closed")

// Ring is a fixed-capacity circular slot array with a single producer and
// any number of sequenced consumers. Slots are pre-allocated and reused:
// the producer claims the next sequence, mutates the slot in place, then
// publishes. Consumers gate the producer: Claim blocks (per the wait
// strategy) when the slowest gating consumer is a full lap behind.
type Ring[T any] struct {
	slots  []T
	mask   int64
	size   int64
	cursor *Sequence
	wait   WaitStrategy

	// Single-producer fields, no atomics needed.
	next       int64
	cachedGate int64

	gating []*Sequence
	closed atomic.Bool
}

// New creates a ring of the given capacity, which must be a power of two.
func New[T any](capacity int, wait WaitStrategy) (*Ring[T], error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring capacity must be a power of two, got %d", capacity)
	}
	return &Ring[T]{
		slots:      make([]T, capacity),
		mask:       int64(capacity - 1),
		size:       int64(capacity),
		cursor:     NewSequence(),
		wait:       wait,
		next:       -1,
		cachedGate: -1,
	}, nil
}

// AddGating registers consumer sequences that the producer must not lap.
// Must be called during wiring, before the first Claim.
func (r *Ring[T]) AddGating(seqs ...*Sequence) {
	r.gating = append(r.gating, seqs...)
}

// Claim reserves the next sequence for the single producer, blocking while
// the ring is full. The caller must Publish the returned sequence.
func (r *Ring[T]) Claim() int64 {
	next := r.next + 1
	wrap := next - r.size
	if wrap > r.cachedGate {
		for i := 0; ; i++ {
			gate := minSequence(r.gating, r.cursor.Get())
			if wrap <= gate {
				r.cachedGate = gate
				break
			}
			r.wait.Idle(i)
		}
	}
	r.next = next
	return next
}

// Get returns the slot for a sequence. Valid for the producer between
// Claim and Publish, and for consumers up to the barrier's available
// sequence.
func (r *Ring[T]) Get(seq int64) *T {
	return &r.slots[seq&r.mask]
}

// Publish makes the slot at seq visible to consumers. Sequences must be
// published in claim order.
func (r *Ring[T]) Publish(seq int64) {
	r.cursor.Set(seq)
}

// Cursor exposes the producer cursor for barrier construction.
func (r *Ring[T]) Cursor() *Sequence {
	return r.cursor
}

// Capacity returns the number of slots.
func (r *Ring[T]) Capacity() int64 {
	return r.size
}

// Utilization returns the fraction of slots published but not yet consumed
// by the slowest gating consumer, in [0,1].
func (r *Ring[T]) Utilization() float64 {
	if len(r.gating) == 0 {
		return 0
	}
	backlog := r.cursor.Get() - minSequence(r.gating, r.cursor.Get())
	if backlog <= 0 {
		return 0
	}
	return float64(backlog) / float64(r.size)
}

// Close marks the ring closed. Consumers drain what is published and then
// their barriers return ErrClosed. The producer must not Claim afterwards.
func (r *Ring[T]) Close() {
	r.closed.Store(true)
}

// NewBarrier builds a consumer barrier over the producer cursor plus any
// upstream consumer dependencies. A consumer may only read slot seq once
// every dependency has advanced past it.
func (r *Ring[T]) NewBarrier(deps ...*Sequence) *Barrier {
	return &Barrier{
		cursor: r.cursor,
		deps:   deps,
		wait:   r.wait,
		closed: &r.closed,
	}
}

// Barrier coordinates one consumer with the producer and its upstream
// dependencies.
type Barrier struct {
	cursor *Sequence
	deps   []*Sequence
	wait   WaitStrategy
	closed *atomic.Bool
}

// WaitFor blocks until sequence seq is available behind every dependency,
// returning the highest available sequence (>= seq). Once the ring is
// closed it returns the remaining available sequence with ErrClosed when
// nothing at or past seq will ever arrive.
func (b *Barrier) WaitFor(seq int64) (int64, error) {
	for i := 0; ; i++ {
		avail := minSequence(b.deps, b.cursor.Get())
		if avail >= seq {
			return avail, nil
		}
		if b.closed.Load() {
			// Re-check after observing the close flag so a publish
			// racing the close is not lost.
			if avail = minSequence(b.deps, b.cursor.Get()); avail >= seq {
				return avail, nil
			}
			return avail, ErrClosed
		}
		b.wait.Idle(i)
	}
}
