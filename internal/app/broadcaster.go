package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrBroadcasterStopped is returned when registering with a loop that is not running
var ErrBroadcasterStopped = errors.New("broadcaster not running")

// Observer is one live connection receiving broadcasts
type Observer interface {
	// ID identifies the observer in logs
	ID() string

	// Enqueue hands a message to the observer. It must not block; an error
	// means the observer is unreachable and will be dropped.
	Enqueue(msg []byte) error

	// Close releases the observer after it was dropped
	Close()
}

type commandKind int

const (
	cmdBroadcast commandKind = iota
	cmdRegister
	cmdUnregister
)

type command struct {
	kind     commandKind
	msg      []byte
	observer Observer
}

// Broadcaster owns the observer set and fans events out to it from a single
// loop goroutine. Other goroutines only ever append to its mailbox, which is
// unbounded so that download workers never block on slow observers.
type Broadcaster struct {
	logger *zap.Logger

	mu      sync.Mutex
	mailbox []command
	wake    chan struct{}
	running atomic.Bool
	count   atomic.Int64

	// owned by the loop goroutine
	observers map[string]Observer
}

// NewBroadcaster creates a broadcaster; nothing is delivered until Run is called
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		logger:    logger,
		wake:      make(chan struct{}, 1),
		observers: make(map[string]Observer),
	}
}

// Run is the event loop. It returns when ctx is done, closing every observer
// including those whose registration was still pending.
func (b *Broadcaster) Run(ctx context.Context) {
	b.running.Store(true)
	b.logger.Info("broadcaster_started")

	defer func() {
		// post checks running under mu, so nothing lands after this drain
		b.mu.Lock()
		b.running.Store(false)
		pending := b.mailbox
		b.mailbox = nil
		b.mu.Unlock()

		for _, cmd := range pending {
			if cmd.kind == cmdRegister {
				cmd.observer.Close()
			}
		}
		for id, o := range b.observers {
			o.Close()
			delete(b.observers, id)
		}
		b.count.Store(0)
		b.logger.Info("broadcaster_stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
			for _, cmd := range b.drain() {
				b.handle(cmd)
			}
		}
	}
}

// IsRunning reports whether the loop is accepting work
func (b *Broadcaster) IsRunning() bool {
	return b.running.Load()
}

// Count returns the number of registered observers
func (b *Broadcaster) Count() int {
	return int(b.count.Load())
}

// Broadcast schedules msg for delivery to every registered observer. Safe to
// call from any goroutine. Before the loop runs there is nobody to deliver
// to, so the message is dropped and false is returned.
func (b *Broadcaster) Broadcast(msg []byte) bool {
	return b.post(command{kind: cmdBroadcast, msg: msg})
}

// Register schedules o to join the observer set. When initial is not nil it
// is delivered to o before any broadcast posted after this call.
func (b *Broadcaster) Register(o Observer, initial []byte) error {
	if !b.post(command{kind: cmdRegister, observer: o, msg: initial}) {
		return ErrBroadcasterStopped
	}
	return nil
}

// Unregister schedules o to leave the observer set. o is not closed.
func (b *Broadcaster) Unregister(o Observer) {
	b.post(command{kind: cmdUnregister, observer: o})
}

func (b *Broadcaster) post(cmd command) bool {
	b.mu.Lock()
	if !b.running.Load() {
		b.mu.Unlock()
		return false
	}
	b.mailbox = append(b.mailbox, cmd)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

func (b *Broadcaster) drain() []command {
	b.mu.Lock()
	defer b.mu.Unlock()
	cmds := b.mailbox
	b.mailbox = nil
	return cmds
}

func (b *Broadcaster) handle(cmd command) {
	switch cmd.kind {
	case cmdRegister:
		if cmd.msg != nil {
			if err := cmd.observer.Enqueue(cmd.msg); err != nil {
				b.logger.Warn("observer_dropped",
					zap.String("observer", cmd.observer.ID()),
					zap.Error(err))
				cmd.observer.Close()
				return
			}
		}
		b.observers[cmd.observer.ID()] = cmd.observer
		b.count.Store(int64(len(b.observers)))

	case cmdUnregister:
		if _, ok := b.observers[cmd.observer.ID()]; ok {
			delete(b.observers, cmd.observer.ID())
			b.count.Store(int64(len(b.observers)))
		}

	case cmdBroadcast:
		var stale []Observer
		for _, o := range b.observers {
			if err := o.Enqueue(cmd.msg); err != nil {
				b.logger.Warn("observer_dropped",
					zap.String("observer", o.ID()),
					zap.Error(err))
				stale = append(stale, o)
			}
		}
		for _, o := range stale {
			delete(b.observers, o.ID())
			o.Close()
		}
		if len(stale) > 0 {
			b.count.Store(int64(len(b.observers)))
		}
	}
}
