package app

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/yt-relay/internal/domain"
)

// TerminalHook is called once a job reaches finished or error
type TerminalHook func(job domain.Job)

// ProgressBridge turns lifecycle and engine callbacks into registry updates
// and broadcast events. Every update and the handoff of its event happen
// under one lock, so the broadcaster's queue is in registry order.
type ProgressBridge struct {
	registry    *JobRegistry
	broadcaster *Broadcaster
	logger      *zap.Logger
	now         func() time.Time

	seq sync.Mutex
	// keys whose engine reported an error it has not returned yet; guarded by seq
	engineFailed map[string]struct{}

	hooksMu sync.RWMutex
	hooks   []TerminalHook
}

// NewProgressBridge creates a progress bridge
func NewProgressBridge(registry *JobRegistry, broadcaster *Broadcaster, logger *zap.Logger) *ProgressBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressBridge{
		registry:     registry,
		broadcaster:  broadcaster,
		logger:       logger,
		now:          time.Now,
		engineFailed: make(map[string]struct{}),
	}
}

// OnTerminal adds a hook run after a job finishes or fails
func (b *ProgressBridge) OnTerminal(hook TerminalHook) {
	b.hooksMu.Lock()
	defer b.hooksMu.Unlock()
	b.hooks = append(b.hooks, hook)
}

// Subscribe registers o with the broadcaster. The downloads_list snapshot
// it receives first is taken in sequence with job updates, so every event
// o gets afterwards is newer than the snapshot.
func (b *ProgressBridge) Subscribe(o Observer) error {
	b.seq.Lock()
	defer b.seq.Unlock()

	data, err := domain.NewDownloadsListEvent(b.registry.SnapshotAll()).Encode()
	if err != nil {
		return err
	}
	return b.broadcaster.Register(o, data)
}

// Reserve queues key unless it is already in flight. On success the new
// snapshot of all jobs is broadcast so observers see the queued job.
func (b *ProgressBridge) Reserve(key string) (domain.Job, bool) {
	b.seq.Lock()
	defer b.seq.Unlock()

	job, ok := b.registry.Reserve(key, b.now())
	if !ok {
		return job, false
	}
	delete(b.engineFailed, key)

	data, err := domain.NewDownloadsListEvent(b.registry.SnapshotAll()).Encode()
	if err != nil {
		b.logger.Error("failed to encode downloads list", zap.String("key", key), zap.Error(err))
		return job, true
	}
	b.broadcaster.Broadcast(data)
	b.logger.Info("job_queued", zap.String("key", key))
	return job, true
}

// Started records that a worker began executing key
func (b *ProgressBridge) Started(key string) {
	now := b.now()
	job, ok, err := b.publish(key,
		func(current domain.Job) (domain.JobPatch, bool) {
			if current.Status != domain.StatusQueued {
				return domain.JobPatch{}, false
			}
			return domain.JobPatch{
				Status:    domain.Status(domain.StatusStarting),
				StartedAt: domain.Time(now),
				Percent:   domain.Float64(0),
			}, true
		},
		func(job domain.Job) domain.Event { return domain.NewStartedEvent(job, now) },
	)
	if err != nil {
		b.Failed(key, err)
		return
	}
	if ok {
		b.logger.Info("job_started", zap.String("key", job.Key))
	}
}

// Reporter returns the callback handed to the download engine for key
func (b *ProgressBridge) Reporter(key string) domain.ProgressFunc {
	return func(update domain.ProgressUpdate) {
		b.Progress(key, update)
	}
}

// Progress applies one engine callback. Failures while processing it,
// panics included, end the job in error instead of escaping to the engine.
func (b *ProgressBridge) Progress(key string, update domain.ProgressUpdate) {
	defer func() {
		if r := recover(); r != nil {
			b.Failed(key, fmt.Errorf("progress callback panic: %v", r))
		}
	}()

	// The engine returns the failure itself; the job stays running until then
	if update.Status == domain.EngineStatusError {
		b.seq.Lock()
		b.engineFailed[key] = struct{}{}
		b.seq.Unlock()
		b.logger.Warn("engine_reported_error", zap.String("key", key))
		return
	}

	now := b.now()
	_, _, err := b.publish(key,
		func(current domain.Job) (domain.JobPatch, bool) {
			return normalize(current, update)
		},
		func(job domain.Job) domain.Event { return domain.NewProgressEvent(job, now) },
	)
	if err != nil {
		b.Failed(key, fmt.Errorf("progress update: %w", err))
	}
}

// Completed records a successful end of the whole operation. If the engine
// reported an error along the way the job fails instead.
func (b *ProgressBridge) Completed(key string, result *domain.DownloadResult) {
	if b.takeEngineFailure(key) {
		b.Failed(key, &domain.EngineError{Message: "download engine reported an error"})
		return
	}

	now := b.now()
	job, ok, err := b.publish(key,
		func(current domain.Job) (domain.JobPatch, bool) {
			if current.Status.IsTerminal() {
				return domain.JobPatch{}, false
			}
			patch := domain.JobPatch{
				Status:     domain.Status(domain.StatusFinished),
				Percent:    domain.Float64(100),
				FinishedAt: domain.Time(now),
			}
			if result != nil && result.Title != "" {
				patch.Title = domain.String(result.Title)
			}
			if result != nil && result.Filename != "" {
				patch.Filename = domain.String(result.Filename)
			}
			if current.TotalBytes != nil {
				patch.DownloadedBytes = domain.Int64(*current.TotalBytes)
			}
			return patch, true
		},
		func(job domain.Job) domain.Event { return domain.NewCompleteEvent(job, now) },
	)
	if err != nil {
		b.Failed(key, err)
		return
	}
	if ok {
		b.logger.Info("job_finished", zap.String("key", key), zap.Stringp("filename", job.Filename))
		b.runHooks(job)
	}
}

// Failed moves key to error. Only the first failure of a run is recorded
// and broadcast; later ones are ignored.
func (b *ProgressBridge) Failed(key string, cause error) {
	message := "unknown error"
	if cause != nil && cause.Error() != "" {
		message = cause.Error()
	}
	b.takeEngineFailure(key)

	now := b.now()
	job, ok, err := b.publish(key,
		func(current domain.Job) (domain.JobPatch, bool) {
			if current.Status.IsTerminal() {
				return domain.JobPatch{}, false
			}
			return domain.JobPatch{
				Status:     domain.Status(domain.StatusError),
				Error:      domain.String(message),
				FinishedAt: domain.Time(now),
			}, true
		},
		func(job domain.Job) domain.Event { return domain.NewErrorEvent(job.Key, message, now) },
	)
	if err != nil {
		// error events carry no figures that could fail to encode
		b.logger.Error("failed to publish job error", zap.String("key", key), zap.Error(err))
	}
	if ok {
		b.logger.Warn("job_failed", zap.String("key", key), zap.String("error", message))
		b.runHooks(job)
	}
}

func (b *ProgressBridge) takeEngineFailure(key string) bool {
	b.seq.Lock()
	defer b.seq.Unlock()
	_, failed := b.engineFailed[key]
	delete(b.engineFailed, key)
	return failed
}

// publish merges a patch and broadcasts the resulting event in one step.
// ok is false when mutate declined the update.
func (b *ProgressBridge) publish(
	key string,
	mutate func(current domain.Job) (domain.JobPatch, bool),
	build func(job domain.Job) domain.Event,
) (domain.Job, bool, error) {
	b.seq.Lock()
	defer b.seq.Unlock()

	job, ok := b.registry.Update(key, mutate)
	if !ok {
		return job, false, nil
	}
	data, err := build(job).Encode()
	if err != nil {
		return job, true, err
	}
	b.broadcaster.Broadcast(data)
	return job, true, nil
}

func (b *ProgressBridge) runHooks(job domain.Job) {
	b.hooksMu.RLock()
	hooks := append([]TerminalHook(nil), b.hooks...)
	b.hooksMu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("terminal hook panic", zap.String("key", job.Key), zap.Any("panic", r))
				}
			}()
			hook(job.Clone())
		}()
	}
}

// normalize maps a raw engine update onto the current job:
//   - downloading: figures replace the previous ones; percent is recomputed
//     only when the total is known, otherwise the last value stays; percent
//     never moves backwards while downloading.
//   - finished or post_processing: the transfer is done, status becomes
//     extracting at 100%.
//   - once extracting, later transfers (a second stream before the merge)
//     update the figures but keep status and percent.
//
// Updates for jobs that are not running are dropped.
func normalize(current domain.Job, update domain.ProgressUpdate) (domain.JobPatch, bool) {
	switch current.Status {
	case domain.StatusStarting, domain.StatusDownloading, domain.StatusExtracting:
	default:
		return domain.JobPatch{}, false
	}

	switch update.Status {
	case domain.EngineStatusDownloading:
		patch := domain.JobPatch{
			ClearTransfer:   true,
			DownloadedBytes: domain.Int64(update.DownloadedBytes),
			TotalBytes:      positive(update.TotalBytes),
			Speed:           finite(update.Speed),
			ETA:             update.ETA,
		}
		if update.Filename != "" {
			patch.Filename = domain.String(update.Filename)
		}
		if current.Status == domain.StatusExtracting {
			return patch, true
		}

		patch.Status = domain.Status(domain.StatusDownloading)
		if percent, ok := domain.ComputePercent(update.DownloadedBytes, patch.TotalBytes); ok {
			percent = math.Min(percent, 100)
			regressed := current.Status == domain.StatusDownloading &&
				current.Percent != nil && percent < *current.Percent
			if !regressed {
				patch.Percent = domain.Float64(percent)
			}
		}
		return patch, true

	case domain.EngineStatusFinished, domain.EngineStatusPostProcessing:
		patch := domain.JobPatch{
			Status:  domain.Status(domain.StatusExtracting),
			Percent: domain.Float64(100),
		}
		if update.Filename != "" {
			patch.Filename = domain.String(update.Filename)
		}
		return patch, true
	}

	return domain.JobPatch{}, false
}

func positive(v *int64) *int64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}
