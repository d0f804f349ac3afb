package commands

import (
	"context"
	"encoding/json"

	"github.com/tkn-tub/module-simple/internal/device"
)

// maxRSSISamples bounds one get_rssi call
const maxRSSISamples = 100

// RegisterMonitorCommands registers the packet-loss, spectral-scan and RSSI verbs
func RegisterMonitorCommands(registry *CommandRegistry, m *device.Module) {
	noParams := func(fn func() interface{}) func(context.Context, []json.RawMessage) (interface{}, error) {
		return func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			return fn(), nil
		}
	}

	registry.Register(NewFuncHandler("packet_loss_monitor_start",
		"Start emitting packet-loss events", false,
		noParams(func() interface{} { return m.PacketLossMonitorStart() })))
	registry.Register(NewFuncHandler("packet_loss_monitor_stop",
		"Stop emitting packet-loss events", false,
		noParams(func() interface{} { return m.PacketLossMonitorStop() })))
	registry.Register(NewFuncHandler("is_packet_loss_monitor_running",
		"Report whether the packet-loss monitor runs", true,
		noParams(func() interface{} { return m.IsPacketLossMonitorRunning() })))

	registry.Register(NewFuncHandler("spectral_scan_start",
		"Start emitting spectral-scan samples", false,
		noParams(func() interface{} { return m.SpectralScanStart() })))
	registry.Register(NewFuncHandler("spectral_scan_stop",
		"Stop emitting spectral-scan samples", false,
		noParams(func() interface{} { return m.SpectralScanStop() })))
	registry.Register(NewFuncHandler("is_spectral_scan_running",
		"Report whether the spectral scanner runs", true,
		noParams(func() interface{} { return m.IsSpectralScanRunning() })))

	registry.Register(NewFuncHandler("rssi_start",
		"Start sampling RSSI", false,
		noParams(func() interface{} { return m.RSSIStart() })))
	registry.Register(NewFuncHandler("rssi_stop",
		"Stop sampling RSSI and discard queued samples", false,
		noParams(func() interface{} { return m.RSSIStop() })))

	registry.Register(NewFuncHandler("get_rssi",
		"Read RSSI samples, sampling for the call when the sampler is idle", false,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			count := 1
			if _, err := param(params, 0, "count", &count); err != nil {
				return nil, err
			}
			if count < 1 || count > maxRSSISamples {
				return nil, &CommandError{Code: ErrInvalidRange, Message: "count must be between 1 and 100"}
			}
			return m.GetRSSI(ctx, count)
		}))
}
