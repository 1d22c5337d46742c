package command

import (
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultRetryDelay is multiplied by the head command's attempt count to space retries.
const DefaultRetryDelay = 600 * time.Millisecond

// Writer issues an asynchronous characteristic write. A returned error means the write was
// not issued at all (unknown characteristic, transport refused). Completion is reported later
// through Queue.OnWriteComplete.
type Writer interface {
	WriteCharacteristic(service, characteristic string, value []byte) error
}

// Timer is a cancelable, re-armable one-shot timer. Reset must cancel a pending fire.
type Timer interface {
	Reset(d time.Duration)
	Stop()
}

// Queue serializes characteristic writes: at most one write is outstanding at any time.
//
// Queue is not safe for concurrent use; every method must be called from the owner's
// serialized event context, including the retry timer's fire (which must call Dispatch).
type Queue struct {
	items      []*Command
	writer     Writer
	timer      Timer
	inFlight   bool
	retryDelay time.Duration
	logger     *logrus.Logger
}

// NewQueue creates an empty queue. A queue without a writer holds commands but never sends.
func NewQueue(logger *logrus.Logger, retryDelay time.Duration) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Queue{
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// SetTimer installs the retry timer. Its fire must call Dispatch.
func (q *Queue) SetTimer(t Timer) {
	q.timer = t
}

// SetWriter attaches the transport writes go to; nil detaches it and makes the queue inert.
func (q *Queue) SetWriter(w Writer) {
	q.writer = w
}

// Enqueue appends cmd and dispatches it right away when nothing is in flight.
func (q *Queue) Enqueue(cmd *Command) {
	q.items = append(q.items, cmd)
	q.logger.WithFields(logrus.Fields{
		"char_uuid": cmd.Characteristic,
		"queued":    len(q.items),
	}).Debug("Command queued")

	q.Dispatch()
}

// Dispatch issues the head command unless a write is outstanding or the queue is inert.
func (q *Queue) Dispatch() {
	q.stopTimer()

	if q.writer == nil || q.inFlight || len(q.items) == 0 {
		return
	}

	cmd := q.items[0]
	if err := q.writer.WriteCharacteristic(cmd.Service, cmd.Characteristic, cmd.Payload); err != nil {
		q.logger.WithFields(logrus.Fields{
			"char_uuid": cmd.Characteristic,
			"attempts":  cmd.Attempts,
			"error":     err,
		}).Warn("Failed to start command write")

		q.items = q.items[1:]
		q.requeue(cmd)
		q.scheduleRetry()
		return
	}

	q.inFlight = true
	q.logger.WithField("char_uuid", cmd.Characteristic).Debug("Started writing command")
}

// OnWriteComplete consumes the transport's completion for the outstanding write.
// Success discards the head and sends the next command immediately; failure moves the
// head to the tail if its policy allows and arms the retry timer.
func (q *Queue) OnWriteComplete(err error) {
	if !q.inFlight {
		q.logger.WithField("error", err).Debug("Ignoring write completion with no write in flight")
		return
	}
	q.inFlight = false

	if len(q.items) == 0 {
		return
	}
	cmd := q.items[0]
	q.items = q.items[1:]

	if err == nil {
		q.logger.WithField("char_uuid", cmd.Characteristic).Debug("Command write successful")
		q.Dispatch()
		return
	}

	q.logger.WithFields(logrus.Fields{
		"char_uuid": cmd.Characteristic,
		"attempts":  cmd.Attempts,
		"error":     err,
	}).Warn("Command write failed")

	q.requeue(cmd)
	q.scheduleRetry()
}

func (q *Queue) requeue(cmd *Command) {
	if cmd.ShouldRetry() {
		q.items = append(q.items, cmd)
		return
	}
	q.logger.WithFields(logrus.Fields{
		"char_uuid": cmd.Characteristic,
		"attempts":  cmd.Attempts,
	}).Warn("Dropping command after exhausting retries")
}

// scheduleRetry arms the retry timer for the current head: delay grows with the number of
// attempts the head has already absorbed.
func (q *Queue) scheduleRetry() {
	if q.writer == nil || len(q.items) == 0 || q.timer == nil {
		return
	}
	delay := q.retryDelay * time.Duration(q.items[0].Attempts)
	q.timer.Reset(delay)
}

func (q *Queue) stopTimer() {
	if q.timer != nil {
		q.timer.Stop()
	}
}

// Clear drops every command, forgets the outstanding write and cancels the retry timer.
func (q *Queue) Clear() {
	q.stopTimer()
	q.items = nil
	q.inFlight = false
}

// Len returns the number of queued commands, including the one in flight.
func (q *Queue) Len() int {
	return len(q.items)
}

// InFlight reports whether a write is outstanding.
func (q *Queue) InFlight() bool {
	return q.inFlight
}

// Snapshot returns the queued commands in order.
func (q *Queue) Snapshot() []*Command {
	out := make([]*Command, len(q.items))
	copy(out, q.items)
	return out
}
