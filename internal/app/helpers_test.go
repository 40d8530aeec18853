package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/yt-relay/internal/domain"
)

// fakeObserver records every message it is handed
type fakeObserver struct {
	id     string
	mu     sync.Mutex
	msgs   [][]byte
	fail   atomic.Bool
	closed atomic.Bool
}

func newFakeObserver(id string) *fakeObserver {
	return &fakeObserver{id: id}
}

func (o *fakeObserver) ID() string { return o.id }

func (o *fakeObserver) Enqueue(msg []byte) error {
	if o.fail.Load() {
		return fmt.Errorf("%w: observer %s is gone", domain.ErrDeliveryFailure, o.id)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *fakeObserver) Close() { o.closed.Store(true) }

func (o *fakeObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}

func (o *fakeObserver) events(t *testing.T) []domain.WireEvent {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()

	events := make([]domain.WireEvent, 0, len(o.msgs))
	for _, msg := range o.msgs {
		ev, err := domain.DecodeEvent(msg)
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func (o *fakeObserver) kinds(t *testing.T) []domain.EventKind {
	t.Helper()
	var kinds []domain.EventKind
	for _, ev := range o.events(t) {
		kinds = append(kinds, ev.Event)
	}
	return kinds
}

// waitForEvent blocks until the observer has received an event of kind for key
func (o *fakeObserver) waitForEvent(t *testing.T, kind domain.EventKind, key string) domain.WireEvent {
	t.Helper()
	var found domain.WireEvent
	require.Eventually(t, func() bool {
		for _, ev := range o.events(t) {
			if ev.Event == kind && ev.Key == key {
				found = ev
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no %s event for %s", kind, key)
	return found
}

// startBroadcaster runs a broadcaster until the test ends
func startBroadcaster(t *testing.T) *Broadcaster {
	t.Helper()
	b := NewBroadcaster(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, b.IsRunning, time.Second, time.Millisecond)
	return b
}

// fakeEngine plays a scripted download
type fakeEngine struct {
	updates []domain.ProgressUpdate
	result  *domain.DownloadResult
	err     error
	panics  bool

	// gate, when set, holds every download until it is closed
	gate chan struct{}
	// hold, when set, keeps a download running after its updates until closed
	hold chan struct{}

	reported atomic.Int32
	calls   atomic.Int32
	running atomic.Int32
	peak    atomic.Int32

	mu   sync.Mutex
	urls []string
	outs []string
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Download(ctx context.Context, url, output string, progress domain.ProgressFunc) (*domain.DownloadResult, error) {
	e.calls.Add(1)
	n := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		peak := e.peak.Load()
		if n <= peak || e.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	e.mu.Lock()
	e.urls = append(e.urls, url)
	e.outs = append(e.outs, output)
	e.mu.Unlock()

	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.panics {
		panic("engine exploded")
	}
	for _, u := range e.updates {
		progress(u)
	}
	e.reported.Add(1)
	if e.hold != nil {
		select {
		case <-e.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func downloading(done int64, total *int64) domain.ProgressUpdate {
	return domain.ProgressUpdate{
		Status:          domain.EngineStatusDownloading,
		DownloadedBytes: done,
		TotalBytes:      total,
		Speed:           domain.Float64(1024),
		ETA:             domain.Int64(3),
		Filename:        "video.mp4.part",
	}
}
