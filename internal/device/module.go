// Package device implements the simple Wi-Fi device module: channel and power
// accessors, the traffic simulator and the background monitors, plus the
// lifecycle hooks the agent calls.
package device

import (
	"context"
	"fmt"

	"github.com/tkn-tub/module-simple/internal/config"
	"github.com/tkn-tub/module-simple/internal/logging"
	"github.com/tkn-tub/module-simple/internal/monitor"
	"github.com/tkn-tub/module-simple/internal/simulator"
)

// Interface is the only wireless interface the module reports
const Interface = "wlan0"

// DefaultTxPower is the transmit power before any set_tx_power call
const DefaultTxPower = 1

// Module is the simple device module. Its methods are not safe for concurrent
// use; the agent serializes calls into it.
type Module struct {
	cfg    *config.Config
	logger logging.Logger

	sim   *simulator.Simulator
	power int

	packetLoss *monitor.PacketLossMonitor
	spectral   *monitor.SpectralScanner
	rssi       *monitor.RSSISampler
}

// Option configures a Module
type Option func(*moduleOptions)

type moduleOptions struct {
	simOpts     []simulator.Option
	monitorOpts []monitor.Option
}

// WithSimulatorOptions passes options through to the traffic simulator
func WithSimulatorOptions(opts ...simulator.Option) Option {
	return func(o *moduleOptions) {
		o.simOpts = append(o.simOpts, opts...)
	}
}

// WithMonitorOptions passes options through to every monitor
func WithMonitorOptions(opts ...monitor.Option) Option {
	return func(o *moduleOptions) {
		o.monitorOpts = append(o.monitorOpts, opts...)
	}
}

type discardSink struct{}

func (discardSink) Emit(string, map[string]interface{}) error { return nil }

// New creates a module. Events from the monitors go to sink.
func New(cfg *config.Config, sink monitor.Sink, logger logging.Logger, opts ...Option) *Module {
	if logger == nil {
		logger = logging.Nop()
	}
	if sink == nil {
		sink = discardSink{}
	}
	var o moduleOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger = logger.With(logging.F("module", "SimpleModule"))
	return &Module{
		cfg:        cfg,
		logger:     logger,
		sim:        simulator.New(cfg, logger, o.simOpts...),
		power:      DefaultTxPower,
		packetLoss: monitor.NewPacketLossMonitor(sink, logger, o.monitorOpts...),
		spectral:   monitor.NewSpectralScanner(sink, logger, o.monitorOpts...),
		rssi:       monitor.NewRSSISampler(logger, o.monitorOpts...),
	}
}

// OnStart runs when the agent starts
func (m *Module) OnStart(ctx context.Context) error {
	m.logger.Info("This function is executed on agent start",
		logging.F("address", m.cfg.MyMAC),
		logging.F("scenarios", m.sim.ScenarioCount()))
	return nil
}

// OnExit runs when the agent exits and stops all background producers.
func (m *Module) OnExit() {
	m.logger.Info("This function is executed on agent exit")
	m.packetLoss.Stop()
	m.spectral.Stop()
	m.rssi.Stop()
}

func (m *Module) OnConnected() {
	m.logger.Info("This function is executed on connection to global controller")
}

func (m *Module) OnDisconnected() {
	m.logger.Info("This function is executed after connection with global controller was lost")
}

func (m *Module) OnFirstCall() {
	m.logger.Info("This function is executed before first UPI call to module")
}

// BeforeCall and AfterCall wrap set_channel only.
func (m *Module) BeforeCall(verb string) {
	if verb == "set_channel" {
		m.logger.Info("This function is executed before set_channel")
	}
}

func (m *Module) AfterCall(verb string, err error) {
	if verb == "set_channel" {
		m.logger.Info("This function is executed after set_channel")
	}
}

// SetChannel switches the channel. A width, when given, must be one of the
// HT widths; an invalid width is logged and the previous width kept.
func (m *Module) SetChannel(channel int, iface string, width *string) []interface{} {
	m.logger.Info("Simple Module sets channel",
		logging.F("channel", channel), logging.F("iface", iface))

	m.sim.SetChannel(channel, iface)
	if width != nil {
		m.sim.SetChannelWidth(*width, iface)
	}
	return []interface{}{"SET_CHANNEL_OK", channel, 0}
}

func (m *Module) GetChannel(iface string) int {
	m.logger.Debug("Simple Module gets channel", logging.F("iface", iface))
	return m.sim.Channel(iface)
}

func (m *Module) GetChannelWidth(iface string) string {
	m.logger.Debug("Simple Module gets channel width", logging.F("iface", iface))
	return string(m.sim.ChannelWidth(iface))
}

func (m *Module) SetTxPower(power int, iface string) map[string]int {
	m.logger.Debug("Set power", logging.F("power", power), logging.F("iface", iface))
	m.power = power
	return map[string]int{"SET_TX_POWER_OK_value": power}
}

func (m *Module) GetTxPower(iface string) int {
	m.logger.Debug("Get power", logging.F("iface", iface))
	return m.power
}

func (m *Module) PacketLossMonitorStart() bool {
	m.logger.Info("Start Packet Loss Monitor")
	return m.packetLoss.Start()
}

func (m *Module) PacketLossMonitorStop() bool {
	m.logger.Info("Stop Packet Loss Monitor")
	return m.packetLoss.Stop()
}

func (m *Module) IsPacketLossMonitorRunning() bool {
	return m.packetLoss.Running()
}

func (m *Module) SpectralScanStart() bool {
	m.logger.Info("Start spectral scanner")
	return m.spectral.Start()
}

// SpectralScanStop stops the scanner and logs a summary of the last samples.
func (m *Module) SpectralScanStop() bool {
	m.logger.Info("Stop spectral scanner")
	ok := m.spectral.Stop()
	if mean, std, n := m.spectral.Summary(); n > 0 {
		m.logger.Debug("Spectral scan summary",
			logging.F("samples", n), logging.F("mean", mean), logging.F("std", std))
	}
	return ok
}

func (m *Module) IsSpectralScanRunning() bool {
	return m.spectral.Running()
}

func (m *Module) RSSIStart() bool {
	return m.rssi.Start()
}

func (m *Module) RSSIStop() bool {
	return m.rssi.Stop()
}

// GetRSSI returns the next count samples. It blocks until enough samples are
// queued or ctx ends. A sampler started by this call is stopped on return so
// a later call never reads stale samples.
func (m *Module) GetRSSI(ctx context.Context, count int) ([]float64, error) {
	m.logger.Debug("Get RSSI", logging.F("count", count))
	if count < 1 {
		count = 1
	}
	if !m.rssi.Running() {
		m.rssi.Start()
		defer m.rssi.Stop()
	}

	samples := make([]float64, 0, count)
	for len(samples) < count {
		v, err := m.rssi.Next(ctx)
		if err != nil {
			return samples, fmt.Errorf("failed to read rssi sample: %w", err)
		}
		samples = append(samples, v)
	}
	return samples, nil
}

func (m *Module) GetInterfaces() []string {
	m.logger.Info("read interfaces")
	return []string{Interface}
}

func (m *Module) GetAddress() string {
	return m.cfg.MyMAC
}

// CleanPerFlowTxPowerTable is not supported by the device and always fails.
func (m *Module) CleanPerFlowTxPowerTable(iface string) error {
	m.logger.Debug("clean per flow tx power table", logging.F("iface", iface))
	return &FunctionExecutionFailedError{
		FuncName: "radio.clean_per_flow_tx_power_table",
		Message:  "wrong",
	}
}

func (m *Module) GetCurrentNeighbours(iface string, plan []simulator.Neighbor) []string {
	return m.sim.CurrentNeighbours(iface, plan)
}

func (m *Module) GetNeighbours(iface string) []string {
	return m.sim.Neighbours(iface)
}

func (m *Module) GetInfoOfConnectedDevices(iface string) map[string]simulator.StationInfo {
	m.logger.Info("Simple Module generates info on assoc clients", logging.F("iface", iface))
	return m.sim.InfoOfConnectedDevices(iface)
}

func (m *Module) SetPacketCounter(plan []simulator.Neighbor, iface string, stepTime *float64, scenario int) error {
	m.logger.Info("Simple Module generates some traffic for clients", logging.F("iface", iface))
	return m.sim.SetPacketCounter(simulator.CounterUpdate{
		Plan:     plan,
		Iface:    iface,
		StepTime: stepTime,
		Scenario: scenario,
	})
}

// Simulator exposes the traffic simulator for inspection
func (m *Module) Simulator() *simulator.Simulator {
	return m.sim
}
