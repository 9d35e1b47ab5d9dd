package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"leadscore-engine/internal/metrics"
)

// Pool drains a Queue with a bounded number of workers, each polling
// at a fixed cadence. Worker failures are isolated per task.
type Pool struct {
	queue   *Queue
	workers int
	poll    time.Duration
	m       *metrics.Metrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool creates a pool of workers over the queue.
func NewPool(queue *Queue, workers int, poll time.Duration, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = 10
	}
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Pool{queue: queue, workers: workers, poll: poll, m: m}
}

// Start launches the workers. They run until Shutdown or ctx cancel.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	log.Info().Int("workers", p.workers).Dur("poll", p.poll).Msg("batch pool started")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				task, ok := p.queue.Dequeue()
				if !ok {
					break
				}
				p.m.QueueDepth.Set(float64(p.queue.Len()))
				p.runTask(id, task)
			}
		}
	}
}

func (p *Pool) runTask(workerID int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.m.ErrorsTotal.Inc()
			log.Error().Int("worker", workerID).Str("task", task.Name).Interface("panic", r).Msg("task panicked")
		}
	}()

	if err := task.Run(); err != nil {
		p.m.ErrorsTotal.Inc()
		log.Warn().Err(err).Int("worker", workerID).Str("task", task.Name).Msg("task failed")
	}
}

// Submit enqueues a task and updates the queue depth gauge.
func (p *Pool) Submit(task Task) bool {
	ok := p.queue.Enqueue(task)
	p.m.QueueDepth.Set(float64(p.queue.Len()))
	return ok
}

// Shutdown stops the workers after their current task and waits up to
// the context deadline.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.queue.Close()
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("batch pool drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
