package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Bus buffers lifecycle events and drains them to the registered sinks on a
// background goroutine. Publish drops on a full buffer rather than block.
type Bus struct {
	ch      chan Event
	sinks   []Sink
	logger  *zap.Logger
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
}

func NewBus(buffer int, logger *zap.Logger, sinks ...Sink) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{
		ch:     make(chan Event, buffer),
		sinks:  sinks,
		logger: logger,
	}
}

// Start launches the drain goroutine; it runs until ctx is cancelled and
// then flushes whatever is still buffered.
func (b *Bus) Start(ctx context.Context) {
	b.once.Do(func() {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case <-ctx.Done():
					b.flush()
					return
				case e := <-b.ch:
					b.deliver(e)
				}
			}
		}()
	})
}

// Publish enqueues an event without blocking. Events are dropped (and
// counted) when the buffer is full.
func (b *Bus) Publish(e Event) {
	select {
	case b.ch <- e:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event buffer full, dropping event",
			zap.String("type", string(e.Type)),
			zap.String("job_id", e.JobID))
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Wait blocks until the drain goroutine has exited.
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) flush() {
	for {
		select {
		case e := <-b.ch:
			b.deliver(e)
		default:
			return
		}
	}
}

func (b *Bus) deliver(e Event) {
	for _, s := range b.sinks {
		if err := s.Deliver(e); err != nil {
			b.logger.Warn("event sink delivery failed",
				zap.String("type", string(e.Type)),
				zap.String("job_id", e.JobID),
				zap.Error(err))
		}
	}
}
