package ring

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Handler processes events on a consumer's goroutine. endOfBatch is true
// for the last event of a claimed batch; handlers that buffer writes flush
// there. A returned error drops the event and the processor continues.
type Handler[T any] interface {
	OnEvent(ev *T, seq int64, endOfBatch bool) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc[T any] func(ev *T, seq int64, endOfBatch bool) error

func (f HandlerFunc[T]) OnEvent(ev *T, seq int64, endOfBatch bool) error {
	return f(ev, seq, endOfBatch)
}

// Processor drives one Handler on a dedicated goroutine, claiming batches
// from its barrier and publishing its own sequence for downstream gating.
// A panicking or erroring handler never stalls the ring: the event is
// counted, logged and dropped, then processing continues with the next
// slot.
type Processor[T any] struct {
	name    string
	ring    *Ring[T]
	barrier *Barrier
	seq     *Sequence
	handler Handler[T]
	log     zerolog.Logger
	dropped atomic.Int64
	done    chan struct{}

	// OnDropped, when set, is invoked once per dropped event. Used to
	// feed the metrics counter without coupling this package to it.
	OnDropped func(name string)
}

// NewProcessor wires a consumer. deps are the sequences of upstream
// consumers this one must stay behind; pass none for a first-stage
// consumer.
func NewProcessor[T any](name string, r *Ring[T], handler Handler[T], log zerolog.Logger, deps ...*Sequence) *Processor[T] {
	return &Processor[T]{
		name:    name,
		ring:    r,
		barrier: r.NewBarrier(deps...),
		seq:     NewSequence(),
		handler: handler,
		log:     log.With().Str("consumer", name).Logger(),
		done:    make(chan struct{}),
	}
}

// Sequence returns this consumer's cursor for gating the producer or
// downstream consumers.
func (p *Processor[T]) Sequence() *Sequence {
	return p.seq
}

// Dropped returns the number of events dropped on handler error or panic.
func (p *Processor[T]) Dropped() int64 {
	return p.dropped.Load()
}

// Start launches the processing goroutine.
func (p *Processor[T]) Start() {
	go p.run()
}

// AwaitStopped blocks until the processor has drained and exited after the
// ring is closed.
func (p *Processor[T]) AwaitStopped() {
	<-p.done
}

func (p *Processor[T]) run() {
	defer close(p.done)
	next := p.seq.Get() + 1
	for {
		avail, err := p.barrier.WaitFor(next)
		for ; next <= avail; next++ {
			p.invoke(p.ring.Get(next), next, next == avail)
		}
		if avail >= 0 {
			p.seq.Set(avail)
		}
		if err != nil {
			p.log.Debug().Int64("last_seq", avail).Msg("consumer drained, stopping")
			return
		}
	}
}

func (p *Processor[T]) invoke(ev *T, seq int64, endOfBatch bool) {
	defer func() {
		if r := recover(); r != nil {
			p.drop(seq, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := p.handler.OnEvent(ev, seq, endOfBatch); err != nil {
		p.drop(seq, err)
	}
}

func (p *Processor[T]) drop(seq int64, err error) {
	p.dropped.Add(1)
	if p.OnDropped != nil {
		p.OnDropped(p.name)
	}
	p.log.Error().Err(err).Int64("seq", seq).Msg("event dropped")
}
