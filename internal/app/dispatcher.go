package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/yt-relay/internal/domain"
)

// SubmitOutcome tells the caller what happened to a submission
type SubmitOutcome int

const (
	// SubmitAccepted means a new job was reserved and a worker scheduled
	SubmitAccepted SubmitOutcome = iota
	// SubmitAlreadyInFlight means an active job exists for the key
	SubmitAlreadyInFlight
)

func (o SubmitOutcome) String() string {
	switch o {
	case SubmitAccepted:
		return "accepted"
	case SubmitAlreadyInFlight:
		return "already_in_flight"
	default:
		return "unknown"
	}
}

// SubmitResult is the outcome of Submit together with the job as it stood
type SubmitResult struct {
	Outcome SubmitOutcome
	Key     string
	Job     domain.Job
}

// WorkerDispatcher accepts download requests and runs each job on its own
// worker goroutine. At most one worker is active per key: a key stays in
// flight until its worker returns, even if the job already ended in error.
type WorkerDispatcher struct {
	bridge      *ProgressBridge
	engine      domain.Engine
	layout      *OutputLayout
	urlTemplate string
	logger      *zap.Logger

	// sem bounds running workers; nil means unbounded
	sem chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	keysMu   sync.Mutex
	inflight map[string]struct{}

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	active  atomic.Int64
}

// NewWorkerDispatcher creates a dispatcher running jobs on engine
func NewWorkerDispatcher(
	bridge *ProgressBridge,
	engine domain.Engine,
	config domain.DownloadConfig,
	logger *zap.Logger,
) *WorkerDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	var sem chan struct{}
	if config.ConcurrentLimit > 0 {
		sem = make(chan struct{}, config.ConcurrentLimit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerDispatcher{
		bridge:      bridge,
		engine:      engine,
		layout:      NewOutputLayout(config),
		urlTemplate: config.URLTemplate,
		logger:      logger,
		sem:         sem,
		inflight:    make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Submit resolves resourceID to a job key and starts a download for it
// unless one is already active. Malformed input returns an error wrapping
// domain.ErrMalformedRequest and touches no state. If the job was reserved
// but no worker could be started, the job moves to error and the returned
// error wraps domain.ErrSchedulingFailure.
func (d *WorkerDispatcher) Submit(resourceID string) (SubmitResult, error) {
	key, err := domain.ResolveKey(resourceID)
	if err != nil {
		return SubmitResult{}, err
	}

	job, ok := d.reserve(key)
	if !ok {
		d.logger.Info("job_already_in_flight",
			zap.String("key", key),
			zap.String("status", string(job.Status)),
			zap.Error(domain.ErrDuplicateInFlight))
		return SubmitResult{Outcome: SubmitAlreadyInFlight, Key: key, Job: job}, nil
	}
	result := SubmitResult{Outcome: SubmitAccepted, Key: key, Job: job}

	d.mu.RLock()
	if d.stopped {
		d.mu.RUnlock()
		err := fmt.Errorf("%w: dispatcher stopped", domain.ErrSchedulingFailure)
		d.bridge.Failed(key, err)
		d.release(key)
		return result, err
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	go d.run(key)
	return result, nil
}

// reserve queues key unless a worker still holds it or its job is active
func (d *WorkerDispatcher) reserve(key string) (domain.Job, bool) {
	d.keysMu.Lock()
	defer d.keysMu.Unlock()

	if _, busy := d.inflight[key]; busy {
		job, _ := d.bridge.registry.Get(key)
		return job, false
	}
	job, ok := d.bridge.Reserve(key)
	if ok {
		d.inflight[key] = struct{}{}
	}
	return job, ok
}

func (d *WorkerDispatcher) release(key string) {
	d.keysMu.Lock()
	delete(d.inflight, key)
	d.keysMu.Unlock()
}

// Active returns the number of workers currently executing a download
func (d *WorkerDispatcher) Active() int {
	return int(d.active.Load())
}

// Stop cancels running downloads, rejects new work and waits for workers
func (d *WorkerDispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.logger.Info("dispatcher_stopped")
}

// Wait blocks until every scheduled worker has returned
func (d *WorkerDispatcher) Wait() {
	d.wg.Wait()
}

func (d *WorkerDispatcher) run(key string) {
	defer d.wg.Done()
	defer d.release(key)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("worker panic", zap.String("key", key), zap.Any("panic", r))
			d.bridge.Failed(key, fmt.Errorf("%w: worker panic: %v", domain.ErrSchedulingFailure, r))
		}
	}()

	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-d.ctx.Done():
			d.bridge.Failed(key, fmt.Errorf("%w: %v", domain.ErrSchedulingFailure, d.ctx.Err()))
			return
		}
	}

	d.active.Add(1)
	defer d.active.Add(-1)

	d.bridge.Started(key)

	output, err := d.layout.Prepare(time.Now())
	if err != nil {
		d.bridge.Failed(key, err)
		return
	}

	url := domain.BuildURL(d.urlTemplate, key)
	d.logger.Info("job_executing",
		zap.String("key", key),
		zap.String("url", url),
		zap.String("engine", d.engine.Name()))

	result, err := d.engine.Download(d.ctx, url, output, d.bridge.Reporter(key))
	if err != nil {
		if !errors.Is(err, domain.ErrEngineFailure) {
			err = &domain.EngineError{Message: err.Error()}
		}
		d.bridge.Failed(key, err)
		return
	}
	d.bridge.Completed(key, result)
}
