package loop

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Timer is a named one-shot timer whose callback runs on the loop. Reset and Stop must be
// called from the loop goroutine; a fire that raced with Reset or Stop is discarded, so a
// canceled timer never runs its callback.
type Timer struct {
	loop    *Loop
	name    string
	fn      func()
	gen     uint64
	armed   bool
	pending Stopper
}

// NewTimer creates a disarmed timer that runs fn on l when it fires.
func (l *Loop) NewTimer(name string, fn func()) *Timer {
	return &Timer{loop: l, name: name, fn: fn}
}

// Reset cancels any pending fire and arms the timer to fire after d.
func (t *Timer) Reset(d time.Duration) {
	t.Stop()

	t.armed = true
	gen := t.gen
	t.pending = t.loop.clock.AfterFunc(d, func() {
		t.loop.Post(func() { t.fire(gen) })
	})

	t.loop.logger.WithFields(logrus.Fields{
		"timer": t.name,
		"delay": d,
	}).Trace("Timer armed")
}

// Stop cancels a pending fire. Stopping a disarmed timer is a no-op.
func (t *Timer) Stop() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.armed = false
	t.gen++
}

// Armed reports whether a fire is pending.
func (t *Timer) Armed() bool {
	return t.armed
}

func (t *Timer) fire(gen uint64) {
	if !t.armed || gen != t.gen {
		return
	}
	t.armed = false
	t.pending = nil
	t.loop.logger.WithField("timer", t.name).Trace("Timer fired")
	t.fn()
}
