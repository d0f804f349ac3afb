package simulator

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tkn-tub/module-simple/internal/config"
	"github.com/tkn-tub/module-simple/internal/logging"
)

const (
	// PacketSize is the simulated frame payload in bytes, just under the
	// 65535 byte frame limit.
	PacketSize = 60000

	// UplinkPackets is the fixed number of packets a client uploads per update.
	UplinkPackets = 5

	// DefaultChannelSwitchingTime is the retuning penalty in milliseconds.
	DefaultChannelSwitchingTime = 100

	// DefaultChannelThroughput is the per-AP channel capacity in bit/s.
	DefaultChannelThroughput = 54000000
)

// ErrInvalidScenario is returned for a scenario index outside the scenario list.
var ErrInvalidScenario = errors.New("scenario out of range")

// ChannelWidth is the HT channel width of the radio.
type ChannelWidth string

const (
	WidthUnset     ChannelWidth = ""
	WidthHT20      ChannelWidth = "HT20"
	WidthHT40Minus ChannelWidth = "HT40-"
	WidthHT40Plus  ChannelWidth = "HT40+"
)

// ParseChannelWidth validates a channel width. "None" and "unset" are
// accepted as the unset width.
func ParseChannelWidth(s string) (ChannelWidth, bool) {
	switch s {
	case "", "None", "none", "unset":
		return WidthUnset, true
	case string(WidthHT20), string(WidthHT40Minus), string(WidthHT40Plus):
		return ChannelWidth(s), true
	default:
		return WidthUnset, false
	}
}

// ChannelState is the current channel assignment.
type ChannelState struct {
	Channel       int
	Width         ChannelWidth
	ChannelChange bool
}

// Neighbor is one entry of a neighbor plan: another AP and its channel.
type Neighbor struct {
	Channel int    `json:"channel_number"`
	MAC     string `json:"mac_address"`
}

// CounterUpdate holds the arguments of one simulation step.
type CounterUpdate struct {
	Plan     []Neighbor
	Iface    string
	StepTime *float64 // seconds; nil uses the wall clock
	Scenario int
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		s.now = now
	}
}

// WithRand replaces the random source.
func WithRand(rng *rand.Rand) Option {
	return func(s *Simulator) {
		s.rng = rng
	}
}

// Simulator tracks per-client traffic counters across scenarios.
type Simulator struct {
	sim       config.SimulationConfig
	logger    logging.Logger
	now       func() time.Time
	rng       *rand.Rand
	channel   ChannelState
	scenarios []*scenario
	// numsClients is the per-scenario client count used in training and
	// generator mode.
	numsClients  []int
	active       int
	clientNumber int
}

// New creates a simulator from the module configuration.
func New(cfg *config.Config, logger logging.Logger, opts ...Option) *Simulator {
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Simulator{
		sim:    cfg.Simulation,
		logger: logger.With(logging.F("component", "simulator")),
		now:    time.Now,
		channel: ChannelState{
			Channel: 1,
			Width:   WidthHT20,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		seed := s.sim.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	if s.sim.ChannelSwitchingTime < 0 {
		s.sim.ChannelSwitchingTime = DefaultChannelSwitchingTime
	}
	if s.sim.ChannelThroughputDefault <= 0 {
		s.sim.ChannelThroughputDefault = DefaultChannelThroughput
	}
	if s.sim.MaxNumClients < 1 {
		s.sim.MaxNumClients = 1
	}

	start := s.now()
	if s.sim.Mode == config.ModeGenerator {
		s.scenarios, s.numsClients = generateScenarios(s.sim, cfg.Neighbors, s.rng, s.logger, start)
	} else {
		if len(cfg.Clients) == 0 {
			s.logger.Warn("There are no connected devices")
		}
		s.scenarios = buildScenarios(cfg.Clients, cfg.Neighbors, s.sim.NumsClients, start)
		s.numsClients = append([]int(nil), s.sim.NumsClients...)
	}

	s.clientNumber = s.staticClientNumber(0)
	if s.sim.Mode == config.ModeTraining || s.sim.Mode == config.ModeGenerator {
		if len(s.numsClients) > 0 {
			s.clientNumber = s.numsClients[0]
		}
	}

	return s
}

// SetChannel stores the channel and flags a transition when it changed.
func (s *Simulator) SetChannel(channel int, iface string) {
	if channel != s.channel.Channel {
		s.channel.ChannelChange = true
	}
	s.channel.Channel = channel
	s.logger.Debug("Channel set", logging.F("channel", channel), logging.F("iface", iface))
}

// SetChannelWidth stores a valid channel width. Invalid widths are logged and
// leave the current width unchanged.
func (s *Simulator) SetChannelWidth(width string, iface string) bool {
	w, ok := ParseChannelWidth(width)
	if !ok {
		s.logger.Error("The given channel_width is invalid",
			logging.F("channel_width", width), logging.F("iface", iface))
		return false
	}
	s.channel.Width = w
	return true
}

// Channel returns the current channel number.
func (s *Simulator) Channel(iface string) int {
	return s.channel.Channel
}

// ChannelWidth returns the current channel width.
func (s *Simulator) ChannelWidth(iface string) ChannelWidth {
	return s.channel.Width
}

// ChannelState returns a copy of the channel state.
func (s *Simulator) ChannelState() ChannelState {
	return s.channel
}

// ActiveScenario returns the index of the scenario selected by the last update.
func (s *Simulator) ActiveScenario() int {
	return s.active
}

// ScenarioCount returns the number of scenarios.
func (s *Simulator) ScenarioCount() int {
	return len(s.scenarios)
}

// NumsClients returns the per-scenario client counts.
func (s *Simulator) NumsClients() []int {
	return append([]int(nil), s.numsClients...)
}

// ClientNumber returns the client count resolved by the last update.
func (s *Simulator) ClientNumber() int {
	return s.clientNumber
}

// Client returns a copy of a client record of the active scenario.
func (s *Simulator) Client(mac string) (ClientRecord, bool) {
	rec, ok := s.scenarios[s.active].clients.records[mac]
	if !ok {
		return ClientRecord{}, false
	}
	return *rec, true
}

// Clients returns the MACs of the active scenario in insertion order.
func (s *Simulator) Clients() []string {
	return append([]string(nil), s.scenarios[s.active].clients.order...)
}

// Neighbours returns the neighbor set of the active scenario.
func (s *Simulator) Neighbours(iface string) []string {
	return append([]string(nil), s.scenarios[s.active].order...)
}

// CurrentNeighbours filters the plan to APs on the current channel that belong
// to the active scenario's neighbor set.
func (s *Simulator) CurrentNeighbours(iface string, plan []Neighbor) []string {
	sc := s.scenarios[s.active]
	result := make([]string, 0, len(plan))
	for _, n := range plan {
		if n.Channel == s.channel.Channel && sc.hasNeighbor(n.MAC) {
			result = append(result, n.MAC)
		}
	}
	return result
}

// SetPacketCounter advances the counters of every client in the selected
// scenario by the traffic generated since its last update.
func (s *Simulator) SetPacketCounter(u CounterUpdate) error {
	if u.Scenario < 0 || u.Scenario >= len(s.scenarios) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidScenario, u.Scenario, len(s.scenarios))
	}
	s.active = u.Scenario
	s.clientNumber = s.resolveClientNumber(u.Scenario)

	if s.clientNumber <= 0 {
		return nil
	}

	sameChannelAPs := len(s.CurrentNeighbours(u.Iface, u.Plan))
	bandwidthPacket := s.bandwidthPerClient(sameChannelAPs) / (PacketSize * 8)

	s.logger.Debug("Generating traffic for clients",
		logging.F("iface", u.Iface),
		logging.F("scenario", u.Scenario),
		logging.F("clients", s.clientNumber),
		logging.F("same_channel_aps", sameChannelAPs))

	now := s.now()
	sc := s.scenarios[u.Scenario]
	for _, mac := range sc.clients.order {
		rec := sc.clients.records[mac]

		var elapsedMs float64
		if u.StepTime != nil {
			elapsedMs = *u.StepTime * 1000
		} else {
			elapsedMs = float64(now.Sub(rec.LastUpdate)) / float64(time.Millisecond)
		}
		if s.channel.ChannelChange {
			elapsedMs -= s.sim.ChannelSwitchingTime
		}

		rec.RxPackets += UplinkPackets
		rec.RxBytes += UplinkPackets * PacketSize

		txPackets := math.Floor(elapsedMs * bandwidthPacket)
		if txPackets > 0 {
			rec.TxPackets += int64(txPackets)
			rec.TxBytes += int64(txPackets * s.txPacketSize())
		}

		stamp := now
		if !stamp.After(rec.LastUpdate) {
			stamp = rec.LastUpdate.Add(time.Nanosecond)
		}
		rec.LastUpdate = stamp
	}

	s.channel.ChannelChange = false
	return nil
}

// bandwidthPerClient returns the fair-share bandwidth of one client in bit/ms.
func (s *Simulator) bandwidthPerClient(sameChannelAPs int) float64 {
	bandwidth := s.sim.ChannelThroughputDefault
	if ch := s.channel.Channel; ch >= 0 && ch < len(s.sim.ChannelThroughput) {
		bandwidth = s.sim.ChannelThroughput[ch]
	}
	bandwidth /= 1000
	bandwidth /= float64(sameChannelAPs + 1)
	bandwidth /= float64(s.clientNumber)
	return bandwidth
}

// txPacketSize draws the downlink packet size from [PacketSize*(1-r), PacketSize]
// when randomization is configured.
func (s *Simulator) txPacketSize() float64 {
	r := s.sim.TxBytesRandom
	if r <= 0 || r >= 1 {
		return PacketSize
	}
	dist := distuv.Uniform{Min: PacketSize * (1 - r), Max: PacketSize, Src: s.rng}
	return dist.Rand()
}

func (s *Simulator) resolveClientNumber(scenario int) int {
	switch s.sim.Mode {
	case config.ModeWorking:
		n, err := readClientNumber(s.sim.ClientConf)
		if err != nil {
			s.logger.Warn("Cannot read live client number, keeping previous value",
				logging.F("path", s.sim.ClientConf), logging.F("error", err))
			return s.clientNumber
		}
		return n
	case config.ModeTraining, config.ModeGenerator:
		if scenario < len(s.numsClients) {
			return s.numsClients[scenario]
		}
		return s.staticClientNumber(scenario)
	default:
		return s.staticClientNumber(scenario)
	}
}

func (s *Simulator) staticClientNumber(scenario int) int {
	if s.sim.ClientNum > 0 {
		return s.sim.ClientNum
	}
	return s.scenarios[scenario].clients.len()
}

// readClientNumber reads the first line of the client configuration file.
func readClientNumber(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%s is empty", path)
	}
	n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, fmt.Errorf("invalid client number in %s: %w", path, err)
	}
	return n, nil
}

// InfoOfConnectedDevices returns a snapshot of the first clientNumber stations
// of the active scenario.
func (s *Simulator) InfoOfConnectedDevices(iface string) map[string]StationInfo {
	at := s.now()
	sc := s.scenarios[s.active]

	limit := s.clientNumber
	if limit > sc.clients.len() {
		limit = sc.clients.len()
	}
	if limit < 0 {
		limit = 0
	}

	result := make(map[string]StationInfo, limit)
	for _, mac := range sc.clients.order[:limit] {
		result[mac] = sc.clients.records[mac].info(at)
	}
	return result
}
