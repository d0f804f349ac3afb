package monitor

import (
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tkn-tub/module-simple/internal/logging"
)

// Event types emitted to the sink
const (
	EventPacketLoss   = "packet_loss"
	EventSpectralScan = "spectral_scan_sample"
)

const (
	// MaxPacketLossInterval bounds the random pause between packet-loss events.
	MaxPacketLossInterval = 10 * time.Second

	// SpectralScanInterval is the pause between spectral samples.
	SpectralScanInterval = time.Second

	// SpectralSampleMax is the exclusive upper bound of a spectral sample.
	SpectralSampleMax = 64

	spectralHistory = 64
)

// Option adjusts a monitor at construction
type Option func(*options)

type options struct {
	interval time.Duration
	src      rand.Source
}

// WithInterval fixes the pause between iterations
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// WithSource sets the random source of the monitor
func WithSource(src rand.Source) Option {
	return func(o *options) {
		o.src = src
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.src == nil {
		seed := uint64(time.Now().UnixNano())
		o.src = rand.NewPCG(seed, seed>>1)
	}
	return o
}

// PacketLossMonitor emits a packet-loss marker and pauses for a uniformly
// random interval of up to ten seconds.
type PacketLossMonitor struct {
	*Loop
}

// NewPacketLossMonitor creates a stopped packet-loss monitor
func NewPacketLossMonitor(sink Sink, logger logging.Logger, opts ...Option) *PacketLossMonitor {
	o := buildOptions(opts)
	pause := distuv.Uniform{Min: 0, Max: MaxPacketLossInterval.Seconds(), Src: o.src}

	tick := func() error {
		return sink.Emit(EventPacketLoss, map[string]interface{}{})
	}
	wait := func() time.Duration {
		if o.interval > 0 {
			return o.interval
		}
		return time.Duration(pause.Rand() * float64(time.Second))
	}

	return &PacketLossMonitor{Loop: newLoop("packet_loss", logger, tick, wait)}
}

// SpectralScanner emits one sample drawn uniformly from [0, 64) per second.
type SpectralScanner struct {
	*Loop

	mu     sync.Mutex
	recent []float64
}

// NewSpectralScanner creates a stopped spectral scanner
func NewSpectralScanner(sink Sink, logger logging.Logger, opts ...Option) *SpectralScanner {
	o := buildOptions(opts)
	sampler := distuv.Uniform{Min: 0, Max: SpectralSampleMax, Src: o.src}

	s := &SpectralScanner{}
	tick := func() error {
		sample := sampler.Rand()
		// Rand can return Max on rounding
		if sample >= SpectralSampleMax {
			sample = 0
		}
		s.record(sample)
		return sink.Emit(EventSpectralScan, map[string]interface{}{"sample": sample})
	}
	wait := func() time.Duration {
		if o.interval > 0 {
			return o.interval
		}
		return SpectralScanInterval
	}

	s.Loop = newLoop("spectral_scan", logger, tick, wait)
	return s
}

func (s *SpectralScanner) record(sample float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append(s.recent, sample)
	if len(s.recent) > spectralHistory {
		s.recent = s.recent[len(s.recent)-spectralHistory:]
	}
}

// Summary returns the mean and standard deviation of the most recent samples.
func (s *SpectralScanner) Summary() (mean, std float64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n = len(s.recent)
	switch n {
	case 0:
		return 0, 0, 0
	case 1:
		return s.recent[0], 0, 1
	}
	mean, std = stat.MeanStdDev(s.recent, nil)
	return mean, std, n
}
