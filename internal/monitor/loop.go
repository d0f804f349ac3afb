// Package monitor runs the module's background event producers: the
// packet-loss monitor, the spectral scanner and the RSSI sampler.
package monitor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tkn-tub/module-simple/internal/logging"
)

// Sink receives the events produced by the monitors
type Sink interface {
	Emit(eventType string, data map[string]interface{}) error
}

// defaultStopTimeout bounds how long Stop waits for an iteration in progress
const defaultStopTimeout = 5 * time.Second

// Loop runs tick repeatedly on its own goroutine, sleeping wait() between
// iterations, until stopped.
type Loop struct {
	name   string
	logger logging.Logger
	tick   func() error
	wait   func() time.Duration

	stopTimeout time.Duration

	running    atomic.Bool
	iterations atomic.Int64

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

func newLoop(name string, logger logging.Logger, tick func() error, wait func() time.Duration) *Loop {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loop{
		name:   name,
		logger: logger.With(logging.F("monitor", name)),
		tick:   tick,
		wait:   wait,

		stopTimeout: defaultStopTimeout,
	}
}

// Start launches the loop. Starting a running loop is a no-op. Start fails
// while a goroutine from an earlier run has not exited yet.
func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running.Load() {
		l.logger.Debug("Monitor already running")
		return true
	}
	if l.done != nil {
		select {
		case <-l.done:
		default:
			l.logger.Warn("Monitor from previous run still active, not restarting")
			return false
		}
	}

	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	l.running.Store(true)
	go l.run(l.stopCh, l.done)

	l.logger.Info("Monitor started")
	return true
}

// Stop signals the loop and waits for the current iteration to finish.
// Stopping an idle loop is a no-op.
func (l *Loop) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running.Load() {
		return true
	}

	l.running.Store(false)
	close(l.stopCh)

	select {
	case <-l.done:
	case <-time.After(l.stopTimeout):
		l.logger.Warn("Monitor did not stop in time")
	}

	l.logger.Info("Monitor stopped", logging.F("iterations", l.iterations.Load()))
	return true
}

// Running reports whether the loop is active
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Iterations returns the number of completed iterations
func (l *Loop) Iterations() int64 {
	return l.iterations.Load()
}

func (l *Loop) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		l.iterate()

		timer := time.NewTimer(l.wait())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// iterate runs one tick. Faults are logged and never end the loop.
func (l *Loop) iterate() {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Monitor iteration panicked", logging.F("panic", fmt.Sprint(r)))
		}
	}()

	if err := l.tick(); err != nil {
		l.logger.Warn("Monitor iteration failed", logging.F("error", err))
	}
	l.iterations.Add(1)
}
