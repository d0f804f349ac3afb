package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tkn-tub/module-simple/internal/logging"
)

const (
	// RSSIInterval is the pause between two queued samples.
	RSSIInterval = 200 * time.Millisecond

	RSSIMin = -90.0
	RSSIMax = 30.0

	rssiQueueSize = 64
)

// ErrSamplerStopped is returned by Next when no sampler is running.
var ErrSamplerStopped = errors.New("rssi sampler is not running")

// RSSISampler fills a bounded queue with synthetic RSSI samples from a
// background goroutine. Consumers pull samples with Next.
type RSSISampler struct {
	logger   logging.Logger
	interval time.Duration
	dist     distuv.Uniform
	samples  chan float64

	running atomic.Bool

	mu     sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// NewRSSISampler creates a stopped sampler
func NewRSSISampler(logger logging.Logger, opts ...Option) *RSSISampler {
	if logger == nil {
		logger = logging.Nop()
	}
	o := buildOptions(opts)
	interval := o.interval
	if interval <= 0 {
		interval = RSSIInterval
	}

	return &RSSISampler{
		logger:   logger.With(logging.F("monitor", "rssi")),
		interval: interval,
		dist:     distuv.Uniform{Min: RSSIMin, Max: RSSIMax, Src: o.src},
		samples:  make(chan float64, rssiQueueSize),
	}
}

// Start launches the filler. Starting a running sampler is a no-op.
func (s *RSSISampler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return true
	}

	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.fill(s.stopCh, s.done)

	s.logger.Info("RSSI sampler started", logging.F("interval", s.interval.String()))
	return true
}

// Stop halts the filler and discards queued samples.
func (s *RSSISampler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return true
	}

	s.running.Store(false)
	close(s.stopCh)
	<-s.done

	dropped := s.drain()
	s.logger.Info("RSSI sampler stopped", logging.F("dropped", dropped))
	return true
}

// Running reports whether the filler is active
func (s *RSSISampler) Running() bool {
	return s.running.Load()
}

// Next blocks until a sample is available or ctx ends.
func (s *RSSISampler) Next(ctx context.Context) (float64, error) {
	// queued samples stay readable until Stop drains them
	select {
	case v := <-s.samples:
		return v, nil
	default:
	}
	if !s.running.Load() {
		return 0, ErrSamplerStopped
	}

	select {
	case v := <-s.samples:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *RSSISampler) fill(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.push(s.dist.Rand())
		}
	}
}

// push enqueues v, dropping the oldest sample when the queue is full.
func (s *RSSISampler) push(v float64) {
	for {
		select {
		case s.samples <- v:
			return
		default:
		}
		select {
		case <-s.samples:
		default:
		}
	}
}

func (s *RSSISampler) drain() int {
	n := 0
	for {
		select {
		case <-s.samples:
			n++
		default:
			return n
		}
	}
}
