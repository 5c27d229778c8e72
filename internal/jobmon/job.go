package jobmon

import (
	"context"
	"sync"
)

// subscriberBuffer is how many undelivered updates a slow subscriber may hold
// before further updates are dropped for it.
const subscriberBuffer = 16

// Job is one monitored config refresh.
type Job struct {
	CustomerID   string
	CustomerName string

	mu     sync.Mutex
	last   Update
	subs   map[chan Update]struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

func newJob(customerID, customerName string, cancel context.CancelFunc) *Job {
	return &Job{
		CustomerID:   customerID,
		CustomerName: customerName,
		subs:         make(map[chan Update]struct{}),
		done:         make(chan struct{}),
		cancel:       cancel,
	}
}

// Last returns the most recent update.
func (j *Job) Last() Update {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Running reports whether the job is still being polled.
func (j *Job) Running() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// Cancel stops monitoring. The backend job is not affected.
func (j *Job) Cancel() { j.cancel() }

// Err maps the terminal state to an error. It is nil while running and on
// completion.
func (j *Job) Err() error {
	if j.Running() {
		return nil
	}
	switch j.Last().State {
	case Errored:
		return ErrJobFailed
	case TimedOut:
		return ErrTimedOut
	case Cancelled:
		return context.Canceled
	}
	return nil
}

// Subscribe returns a channel that first receives the current update and then
// every later one. It is closed when the job finishes; Last then holds the
// terminal update. Call the returned func to unsubscribe early.
func (j *Job) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	j.mu.Lock()
	defer j.mu.Unlock()

	ch <- j.last
	select {
	case <-j.done:
		close(ch)
		return ch, func() {}
	default:
	}

	j.subs[ch] = struct{}{}
	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if _, ok := j.subs[ch]; ok {
			delete(j.subs, ch)
			close(ch)
		}
	}
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (Update, error) {
	select {
	case <-j.done:
		return j.Last(), j.Err()
	case <-ctx.Done():
		return j.Last(), ctx.Err()
	}
}

func (j *Job) publish(u Update) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.last = u
	for ch := range j.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// finish records the terminal update, closes subscribers and releases the
// job context.
func (j *Job) finish(u Update) {
	j.mu.Lock()
	j.last = u
	for ch := range j.subs {
		select {
		case ch <- u:
		default:
		}
		close(ch)
		delete(j.subs, ch)
	}
	close(j.done)
	j.mu.Unlock()
	j.cancel()
}
