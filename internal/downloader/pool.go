package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	errs "discgrab/pkg/errors"
	"discgrab/pkg/logger"
	"discgrab/pkg/models"
)

// Fetcher downloads media bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Saver writes media bytes to disk.
type Saver interface {
	Save(dir string, ref models.MediaReference, data []byte) (string, int64, error)
}

// Job is a single download task. Reply receives exactly one Result; the
// submitter owns the channel and sizes it so workers never block.
type Job struct {
	Ref   models.MediaReference
	Dir   string
	Reply chan<- Result
}

// Result is the outcome of one download job.
type Result struct {
	Ref         models.MediaReference
	Path        string
	Size        int64
	Err         error
	RateLimited bool
	Duration    time.Duration
}

// Pool runs downloads on a fixed set of workers. Scans on different
// channels share one pool, so it bounds global download concurrency.
type Pool struct {
	numWorkers int
	jobs       chan Job
	wg         sync.WaitGroup
	fetcher    Fetcher
	saver      Saver
	logger     logger.Logger

	mu      sync.RWMutex
	stopped bool
}

// NewPool creates a download pool.
func NewPool(numWorkers int, fetcher Fetcher, saver Saver, log logger.Logger) *Pool {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*2),
		fetcher:    fetcher,
		saver:      saver,
		logger:     log,
	}
}

// Start launches the workers. They run until Stop closes the job queue.
func (p *Pool) Start(ctx context.Context) {
	p.logger.InfoWithFields("starting download pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop closes the job queue and waits for in-flight downloads to finish.
// Safe to call more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("download pool stopped")
}

// Submit queues a job. Blocks until a worker picks it up or ctx ends.
// Submissions racing a shutdown get an error instead of a panic on the
// closed queue.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return errs.New(errs.ErrorTypeRequest, "download pool is stopped")
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit canceled: %w", ctx.Err())
	}
}

// Workers returns the pool's worker count.
func (p *Pool) Workers() int {
	return p.numWorkers
}

// QueueSize returns the number of jobs waiting for a worker.
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.DebugWithFields("worker started", map[string]interface{}{
		"worker_id": id,
	})

	for job := range p.jobs {
		select {
		case <-ctx.Done():
			// Fail the job fast but still reply so submitters can
			// account for every queued download.
			job.Reply <- Result{Ref: job.Ref, Err: ctx.Err()}
			continue
		default:
		}

		job.Reply <- p.processJob(ctx, job, id)
	}

	p.logger.DebugWithFields("worker stopping, job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

func (p *Pool) processJob(ctx context.Context, job Job, workerID int) Result {
	start := time.Now()
	result := Result{Ref: job.Ref}

	data, err := p.fetcher.Fetch(ctx, job.Ref.URL)
	if err != nil {
		result.Err = err
		result.RateLimited = errs.IsRateLimited(err)
		result.Duration = time.Since(start)

		p.logger.ErrorWithFields("worker failed to fetch media", map[string]interface{}{
			"worker_id":  workerID,
			"url":        job.Ref.URL,
			"message_id": job.Ref.MessageID,
			"error":      err.Error(),
		})
		return result
	}

	path, size, err := p.saver.Save(job.Dir, job.Ref, data)
	if err != nil {
		result.Err = fmt.Errorf("save failed: %w", err)
		result.Duration = time.Since(start)

		p.logger.ErrorWithFields("worker failed to save media", map[string]interface{}{
			"worker_id": workerID,
			"url":       job.Ref.URL,
			"error":     err.Error(),
		})
		return result
	}

	result.Path = path
	result.Size = size
	result.Duration = time.Since(start)

	p.logger.DebugWithFields("worker completed job", map[string]interface{}{
		"worker_id": workerID,
		"url":       job.Ref.URL,
		"path":      path,
		"size":      size,
		"duration":  result.Duration,
	})

	return result
}
