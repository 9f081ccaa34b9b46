package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mallfront/storefront-client/internal/core/ports"
	"github.com/mallfront/storefront-client/internal/infrastructure/metrics"
)

const (
	defaultWorkers = 2
	channelBuffer  = 64
)

// Dispatcher runs refresh jobs on a fixed set of workers. Jobs sharing a key
// hash to the same worker and therefore run in the order they were scheduled.
type Dispatcher struct {
	workers []chan ports.RefreshJob
	log     zerolog.Logger

	mu      sync.RWMutex
	started bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan ports.RefreshJob, numWorkers),
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan ports.RefreshJob, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled and
// jobs run with ctx, not the context of whoever scheduled them.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Wait blocks until every worker has returned after ctx cancellation.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Schedule queues job on the worker that owns job.Key. A full worker drops the
// job: refreshes are idempotent re-reads and a later one supersedes it.
func (d *Dispatcher) Schedule(_ context.Context, job ports.RefreshJob) {
	idx := d.shardIndex(job.Key)
	select {
	case d.workers[idx] <- job:
		metrics.RefreshQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))
	default:
		d.log.Warn().Str("key", job.Key).Int("worker_id", idx).Msg("refresh queue full, dropping job")
	}
}

// shardIndex maps a key deterministically to a worker index.
func (d *Dispatcher) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan ports.RefreshJob) {
	defer d.wg.Done()
	label := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-ch:
			metrics.RefreshQueueDepth.WithLabelValues(label).Set(float64(len(ch)))
			if err := job.Run(ctx); err != nil {
				d.log.Error().Err(err).
					Str("key", job.Key).
					Int("worker_id", id).
					Msg("refresh job failed")
			}
		}
	}
}
