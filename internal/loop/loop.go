// Package loop provides a single-goroutine serialized executor. Every piece of connection
// state is owned by one Loop; transport callbacks, timer fires and public API calls are all
// posted onto it so handlers never race each other.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ancsbridge/internal/groutine"
)

// DefaultBuffer is the number of tasks that may be queued before Post blocks.
const DefaultBuffer = 256

// ErrStopped is returned when work is submitted to a loop that has stopped.
var ErrStopped = errors.New("event loop stopped")

// Stopper cancels a scheduled function.
type Stopper interface {
	Stop() bool
}

// Clock schedules delayed functions. Tests substitute a manually advanced clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Stopper
	Now() time.Time
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }
func (realClock) Now() time.Time                              { return time.Now() }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the clock timers are scheduled on.
func WithClock(c Clock) Option {
	return func(l *Loop) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithBuffer sets the task queue capacity.
func WithBuffer(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.buffer = n
		}
	}
}

// Loop runs posted functions one at a time, in submission order, on a dedicated goroutine.
type Loop struct {
	name   string
	logger *logrus.Logger
	clock  Clock
	buffer int

	tasks   chan func()
	done    chan struct{}
	gid     atomic.Uint64
	started atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
}

// New creates a loop; it does not run anything until Start.
func New(name string, logger *logrus.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = logrus.New()
	}
	l := &Loop{
		name:   name,
		logger: logger,
		clock:  RealClock(),
		buffer: DefaultBuffer,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.tasks = make(chan func(), l.buffer)
	return l
}

// Clock returns the clock timers of this loop use.
func (l *Loop) Clock() Clock {
	return l.clock
}

// Start launches the loop goroutine. The loop stops when ctx is canceled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		ctx, l.cancel = context.WithCancel(ctx)
		l.started.Store(true)
		groutine.Go(ctx, l.name, l.run)
	})
}

func (l *Loop) run(ctx context.Context) {
	l.gid.Store(groutine.GetGID())
	defer close(l.done)

	l.logger.WithField("loop", groutine.GetName(ctx)).Debug("Event loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.WithField("loop", l.name).Debug("Event loop stopped")
			return
		case fn := <-l.tasks:
			l.execute(fn)
		}
	}
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(logrus.Fields{
				"loop":  l.name,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Recovered panic in event loop task")
		}
	}()
	fn()
}

// Post schedules fn to run on the loop. It returns false if the loop is not running.
// Post must not be called from the loop goroutine while the queue may be full.
func (l *Loop) Post(fn func()) bool {
	if !l.started.Load() {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// TryPost schedules fn like Post but never blocks. It returns false when the loop is not
// running or the queue is full.
func (l *Loop) TryPost(fn func()) bool {
	if !l.started.Load() {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	default:
		return false
	}
}

// Call runs fn on the loop and waits for it to return. Called from the loop goroutine, it
// runs fn inline.
func (l *Loop) Call(fn func()) error {
	if l.OnLoop() {
		fn()
		return nil
	}

	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return fmt.Errorf("%w before task completed", ErrStopped)
	}
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) OnLoop() bool {
	gid := l.gid.Load()
	return gid != 0 && gid == groutine.GetGID()
}

// Stop terminates the loop and waits for the running task to finish. Pending tasks are
// discarded. Stop must not be called from the loop goroutine.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.startOnce.Do(func() {})
		if l.cancel == nil {
			close(l.done)
			return
		}
		l.cancel()
		<-l.done
	})
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
