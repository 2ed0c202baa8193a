package reindex

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkerConfig configures the background reindex worker.
type WorkerConfig struct {
	// Interval between queue drains. Default: 30 seconds.
	Interval time.Duration `koanf:"interval"`

	// ProcessBatchSize caps jobs processed per drain. Default: 10.
	ProcessBatchSize int `koanf:"process_batch_size"`

	// MaxConcurrentJobs caps in-flight re-embeddings. Default: 2.
	MaxConcurrentJobs int `koanf:"max_concurrent_jobs"`
}

// ApplyDefaults sets default values for unset fields.
func (c *WorkerConfig) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.ProcessBatchSize <= 0 {
		c.ProcessBatchSize = 10
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 2
	}
}

// Worker drains the reindex queue on a fixed interval in the background.
type Worker struct {
	manager *Manager
	config  WorkerConfig
	logger  *zap.Logger

	mu      sync.Mutex
	running bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWorker creates a background worker over the manager's queue.
func NewWorker(manager *Manager, config WorkerConfig, logger *zap.Logger) *Worker {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		manager: manager,
		config:  config,
		logger:  logger,
	}
}

// Start begins draining in a goroutine. Returns immediately. A stopped
// worker can be started again.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	w.logger.Info("starting reindex worker",
		zap.Duration("interval", w.config.Interval),
		zap.Int("process_batch_size", w.config.ProcessBatchSize))

	go w.run(ctx, stopCh, doneCh)
}

// Stop halts the worker and waits for the current drain to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	w.logger.Info("stopping reindex worker")
	close(stopCh)
	<-doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

// IsRunning returns true while the worker goroutine is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reindex worker stopped: context canceled")
			return
		case <-stopCh:
			w.logger.Info("reindex worker stopped: stop requested")
			return
		case <-ticker.C:
			w.drain(ctx, stopCh)
		}
	}
}

// drain processes up to ProcessBatchSize jobs, at most MaxConcurrentJobs
// in flight at once.
func (w *Worker) drain(ctx context.Context, stopCh <-chan struct{}) {
	sem := make(chan struct{}, w.config.MaxConcurrentJobs)
	var wg sync.WaitGroup

	processed := 0
	for processed < w.config.ProcessBatchSize {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-stopCh:
			wg.Wait()
			return
		default:
		}

		job := w.manager.Queue().Get()
		if job == nil {
			break
		}
		processed++

		sem <- struct{}{}
		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := w.manager.reindexRecord(ctx, job); err != nil {
				w.logger.Error("reindex job failed",
					zap.String("id", job.RecordID),
					zap.String("reason", string(job.Reason)),
					zap.Error(err),
				)
			}
		}(job)
	}

	wg.Wait()

	if processed > 0 {
		w.logger.Debug("reindex drain complete",
			zap.Int("processed", processed),
			zap.Int("remaining", w.manager.Queue().Len()),
		)
	}
}
