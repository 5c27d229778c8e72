// Package jobmon monitors the backend config refresh job. A job is triggered
// synchronously and then polled by a background goroutine that reports every
// observation to subscribers until the job completes, errors, times out or is
// cancelled.
package jobmon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/csmportal/internal/gateway"
	"go.uber.org/zap"
)

const (
	// DefaultInterval is the delay between status polls.
	DefaultInterval = 2 * time.Second
	// DefaultTimeout is the hard ceiling on monitoring one job.
	DefaultTimeout = 7 * time.Minute
)

var (
	// ErrStartRejected means refreshconfig answered success=false.
	ErrStartRejected = errors.New("jobmon: config refresh was not started by the backend")
	// ErrJobRunning means a job is already being monitored.
	ErrJobRunning = errors.New("jobmon: a config refresh is already being monitored")
	// ErrJobFailed means the backend reported an error status.
	ErrJobFailed = errors.New("jobmon: config refresh reported an error")
	// ErrTimedOut means no terminal status arrived before the timeout.
	ErrTimedOut = errors.New("jobmon: timed out waiting for config refresh")
)

// Backend is the subset of the gateway the monitor uses.
type Backend interface {
	RefreshConfig(ctx context.Context, customerID string) (bool, error)
	ConfigStatus(ctx context.Context, customerID string) (gateway.JobStatus, error)
}

// Clock abstracts time so tests can simulate minutes of polling.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Opts holds parameters for creating a Monitor.
type Opts struct {
	Backend  Backend
	Interval time.Duration
	Timeout  time.Duration
	Logger   *zap.Logger
	// OnFinish, if set, is called once from the job goroutine with the
	// terminal update. customerName may be empty.
	OnFinish func(customerID, customerName string, final Update)
	// For testing: clock override.
	Clock Clock
}

// Monitor starts and watches config refresh jobs.
type Monitor struct {
	backend  Backend
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
	onFinish func(string, string, Update)
	clock    Clock
}

// New creates a Monitor.
func New(opts Opts) (*Monitor, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("jobmon: backend is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	return &Monitor{
		backend:  opts.Backend,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		log:      opts.Logger,
		onFinish: opts.OnFinish,
		clock:    opts.Clock,
	}, nil
}

// Start triggers the refresh and begins polling in the background. If the
// trigger call fails or is rejected no polling starts and an error is
// returned. The job outlives ctx; use Job.Cancel to stop monitoring.
// customerName is carried on the job for display only.
func (m *Monitor) Start(ctx context.Context, customerID, customerName string) (*Job, error) {
	ok, err := m.backend.RefreshConfig(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("jobmon: start %s: %w", customerID, err)
	}
	if !ok {
		m.log.Warn("config refresh rejected", zap.String("customer_id", customerID))
		return nil, ErrStartRejected
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := newJob(customerID, customerName, cancel)
	j.publish(Update{State: Triggered, Message: "Config refresh triggered."})
	m.log.Info("config refresh triggered", zap.String("customer_id", customerID))

	go m.poll(jobCtx, j)
	return j, nil
}

// poll runs until a terminal state and always finishes the job.
func (m *Monitor) poll(ctx context.Context, j *Job) {
	start := m.clock.Now()
	final := m.loop(ctx, j, start)
	j.finish(final)

	m.log.Info("config refresh finished",
		zap.String("customer_id", j.CustomerID),
		zap.String("state", final.State.String()),
		zap.String("raw", final.Raw),
		zap.Duration("elapsed", final.Elapsed))
	if m.onFinish != nil {
		m.onFinish(j.CustomerID, j.CustomerName, final)
	}
}

func (m *Monitor) loop(ctx context.Context, j *Job, start time.Time) Update {
	var last Update
	for {
		st, err := m.backend.ConfigStatus(ctx, j.CustomerID)
		elapsed := m.clock.Now().Sub(start)
		if ctx.Err() != nil {
			return m.cancelled(last, elapsed)
		}

		if err != nil {
			last.State = Polling
			last.Warning = "Could not fetch status, retrying: " + gateway.Message(err)
			last.Elapsed = elapsed
			j.publish(last)
		} else {
			phase := Classify(st.Status)
			last = Update{
				State:    Polling,
				Phase:    phase,
				Raw:      st.Status,
				Progress: Clamp(st.Progress),
				Message:  phaseMessage(phase, st.Status),
				Elapsed:  elapsed,
			}
			switch phase {
			case PhaseCompleted:
				last.State = Completed
				last.Progress = 1
				return last
			case PhaseError:
				last.State = Errored
				return last
			}
			j.publish(last)
		}

		if elapsed >= m.timeout {
			return m.timedOut(last, elapsed)
		}
		wait := m.interval
		if rem := m.timeout - elapsed; rem < wait {
			wait = rem
		}
		select {
		case <-ctx.Done():
			return m.cancelled(last, m.clock.Now().Sub(start))
		case <-m.clock.After(wait):
		}
	}
}

func (m *Monitor) timedOut(last Update, elapsed time.Duration) Update {
	last.State = TimedOut
	last.Warning = ""
	last.Elapsed = elapsed
	last.Message = fmt.Sprintf("Stopped waiting after %s. The refresh may still be running on the server.", m.timeout)
	return last
}

func (m *Monitor) cancelled(last Update, elapsed time.Duration) Update {
	last.State = Cancelled
	last.Warning = ""
	last.Elapsed = elapsed
	last.Message = "Stopped monitoring. The refresh may still be running on the server."
	return last
}
