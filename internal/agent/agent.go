// Package agent hosts a device module: it drives the module's lifecycle hooks
// and runs every call into the module on a single worker goroutine, in the
// order the calls arrive.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tkn-tub/module-simple/internal/logging"
)

var (
	// ErrBusy is returned when the call queue stays full for the enqueue timeout.
	ErrBusy = errors.New("agent busy")

	// ErrUnavailable is returned once the agent is shutting down.
	ErrUnavailable = errors.New("agent unavailable")

	// ErrTimeout is returned when a queued call does not complete in time.
	ErrTimeout = errors.New("call timed out")
)

// Hooks a module may implement. The agent discovers them by type assertion.
type (
	Starter interface {
		OnStart(ctx context.Context) error
	}

	Exiter interface {
		OnExit()
	}

	ConnectionObserver interface {
		OnConnected()
		OnDisconnected()
	}

	FirstCallObserver interface {
		OnFirstCall()
	}

	// CallInterceptor wraps every verb call.
	CallInterceptor interface {
		BeforeCall(verb string)
		AfterCall(verb string, err error)
	}
)

// Func is the body of one call into the module
type Func func(ctx context.Context) (interface{}, error)

// call represents one unit of work for the worker
type call struct {
	verb      string
	intercept bool
	ctx       context.Context
	fn        Func
	response  chan callResult
	timestamp time.Time
}

type callResult struct {
	result interface{}
	err    error
}

// Options tunes queueing
type Options struct {
	QueueSize      int
	EnqueueTimeout time.Duration
	CallTimeout    time.Duration
}

// DefaultOptions returns the queue settings used by the binary
func DefaultOptions() Options {
	return Options{
		QueueSize:      100,
		EnqueueTimeout: 5 * time.Second,
		CallTimeout:    30 * time.Second,
	}
}

// Agent owns a module and serializes access to it
type Agent struct {
	module interface{}
	logger logging.Logger
	opts   Options

	queue    chan call
	stopChan chan struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	closeOnce sync.Once

	// touched by the worker only
	firstCallDone bool
}

// New creates an agent for module and starts its worker
func New(module interface{}, logger logging.Logger, opts Options) *Agent {
	if logger == nil {
		logger = logging.Nop()
	}
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = def.EnqueueTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		module:   module,
		logger:   logger.With(logging.F("component", "agent")),
		opts:     opts,
		queue:    make(chan call, opts.QueueSize),
		stopChan: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	a.wg.Add(1)
	go a.worker()

	return a
}

// worker processes calls in FIFO order
func (a *Agent) worker() {
	defer a.wg.Done()

	for {
		select {
		case c := <-a.queue:
			a.process(c)
		case <-a.stopChan:
			return
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *Agent) process(c call) {
	var res callResult
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Call panicked", logging.F("verb", c.verb), logging.F("panic", fmt.Sprint(r)))
			res = callResult{err: fmt.Errorf("%s panicked: %v", c.verb, r)}
		}
		c.response <- res
	}()

	ic, intercepted := a.module.(CallInterceptor)
	if c.intercept {
		if !a.firstCallDone {
			a.firstCallDone = true
			if fc, ok := a.module.(FirstCallObserver); ok {
				fc.OnFirstCall()
			}
		}
		if intercepted {
			ic.BeforeCall(c.verb)
		}
	}

	res.result, res.err = c.fn(c.ctx)

	if c.intercept && intercepted {
		ic.AfterCall(c.verb, res.err)
	}

	a.logger.Debug("Call processed",
		logging.F("verb", c.verb),
		logging.F("queued", time.Since(c.timestamp).String()),
		logging.F("ok", res.err == nil))
}

// submit queues a call and waits for its result
func (a *Agent) submit(ctx context.Context, verb string, intercept bool, fn Func) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	response := make(chan callResult, 1)
	c := call{
		verb:      verb,
		intercept: intercept,
		ctx:       ctx,
		fn:        fn,
		response:  response,
		timestamp: time.Now(),
	}

	select {
	case <-a.ctx.Done():
		return nil, ErrUnavailable
	default:
	}

	enqueue := time.NewTimer(a.opts.EnqueueTimeout)
	defer enqueue.Stop()
	select {
	case a.queue <- c:
	case <-enqueue.C:
		return nil, ErrBusy
	case <-a.ctx.Done():
		return nil, ErrUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	wait := time.NewTimer(a.opts.CallTimeout)
	defer wait.Stop()
	select {
	case res := <-response:
		return res.result, res.err
	case <-wait.C:
		return nil, ErrTimeout
	case <-a.ctx.Done():
		return nil, ErrUnavailable
	}
}

// Invoke runs fn as the named verb. The first invocation fires the
// first-call hook; every invocation is wrapped by the call interceptor.
func (a *Agent) Invoke(ctx context.Context, verb string, fn Func) (interface{}, error) {
	return a.submit(ctx, verb, true, fn)
}

// Start runs the module's start hook
func (a *Agent) Start(ctx context.Context) error {
	s, ok := a.module.(Starter)
	if !ok {
		return nil
	}
	_, err := a.submit(ctx, "on_start", false, func(ctx context.Context) (interface{}, error) {
		return nil, s.OnStart(ctx)
	})
	if err != nil {
		return fmt.Errorf("module start failed: %w", err)
	}
	return nil
}

// Connected runs the module's connection hook
func (a *Agent) Connected() {
	a.notifyConnection(true)
}

// Disconnected runs the module's disconnection hook
func (a *Agent) Disconnected() {
	a.notifyConnection(false)
}

func (a *Agent) notifyConnection(up bool) {
	obs, ok := a.module.(ConnectionObserver)
	if !ok {
		return
	}
	verb := "on_disconnected"
	if up {
		verb = "on_connected"
	}
	_, err := a.submit(context.Background(), verb, false, func(context.Context) (interface{}, error) {
		if up {
			obs.OnConnected()
		} else {
			obs.OnDisconnected()
		}
		return nil, nil
	})
	if err != nil {
		a.logger.Warn("Connection hook not delivered", logging.F("hook", verb), logging.F("error", err))
	}
}

// Close runs the exit hook and shuts the worker down gracefully
func (a *Agent) Close() error {
	var closeErr error
	a.closeOnce.Do(func() {
		if e, ok := a.module.(Exiter); ok {
			if _, err := a.submit(context.Background(), "on_exit", false, func(context.Context) (interface{}, error) {
				e.OnExit()
				return nil, nil
			}); err != nil {
				a.logger.Warn("Exit hook not delivered", logging.F("error", err))
			}
		}

		a.cancel()
		close(a.stopChan)

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(10 * time.Second):
			closeErr = fmt.Errorf("shutdown timeout")
		}
	})
	return closeErr
}
