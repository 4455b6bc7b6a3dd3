package worker

import (
	"context"
	"sync"

	"github.com/martinsuchenak/phoned/internal/log"
)

// Pool runs background jobs with a fixed number of workers. Scheduled
// discovery sweeps and session maintenance go through it so overlapping
// triggers queue up instead of piling on goroutines.
type Pool struct {
	maxWorkers int
	jobs       chan Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// Job is one unit of background work.
type Job struct {
	Name    string
	Handler func(context.Context) error
	Result  chan error
}

// NewPool creates a pool with the given worker count.
func NewPool(maxWorkers int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		maxWorkers: maxWorkers,
		jobs:       make(chan Job, 16),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the workers.
func (p *Pool) Start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Info("Worker pool started", "workers", p.maxWorkers)
}

// Stop stops the pool and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.cancel()
	close(p.jobs)
	p.wg.Wait()
}

// Submit queues a job. It blocks while the queue is full and fails once the
// pool is stopped.
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		select {
		case <-p.ctx.Done():
			if job.Result != nil {
				job.Result <- p.ctx.Err()
			}
			continue
		default:
		}

		log.Debug("Worker executing job", "worker_id", id, "job", job.Name)

		err := job.Handler(p.ctx)
		if err != nil {
			log.Warn("Background job failed", "job", job.Name, "error", err)
		}
		if job.Result != nil {
			job.Result <- err
		}
	}
}
