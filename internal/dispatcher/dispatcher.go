package dispatcher

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrSaturated is returned when every worker slot is busy.
	ErrSaturated = errors.New("dispatcher: all worker slots busy")
	// ErrInFlight is returned when the job already has a running execution.
	ErrInFlight = errors.New("dispatcher: job already in flight")
)

// Task is one unit of work handed to a worker slot.
type Task func(ctx context.Context)

// Dispatcher hands work to a bounded pool of worker goroutines. Capacity is
// enforced with a weighted semaphore; when no slot is free Dispatch fails
// fast instead of queueing, so the caller keeps ownership of the work.
type Dispatcher struct {
	sem    *semaphore.Weighted
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	wg sync.WaitGroup
}

func New(workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		sem:      semaphore.NewWeighted(int64(workers)),
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// Dispatch runs task on a worker slot keyed by jobID. It never blocks: if the
// pool is saturated it returns ErrSaturated, and if the job already occupies
// a slot it returns ErrInFlight.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID string, task Task) error {
	d.mu.Lock()
	if _, ok := d.inFlight[jobID]; ok {
		d.mu.Unlock()
		return ErrInFlight
	}
	if !d.sem.TryAcquire(1) {
		d.mu.Unlock()
		return ErrSaturated
	}
	d.inFlight[jobID] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("worker panic", zap.String("job_id", jobID), zap.Any("panic", r))
			}
			d.mu.Lock()
			delete(d.inFlight, jobID)
			d.mu.Unlock()
			d.sem.Release(1)
			d.wg.Done()
		}()
		task(ctx)
	}()
	return nil
}

// InFlight reports whether jobID currently occupies a worker slot.
func (d *Dispatcher) InFlight(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[jobID]
	return ok
}

// Wait blocks until every dispatched task has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
