package commands

import (
	"context"
	"encoding/json"

	"github.com/tkn-tub/module-simple/internal/device"
	"github.com/tkn-tub/module-simple/internal/simulator"
)

// RegisterTrafficCommands registers the neighbor and client-traffic verbs
func RegisterTrafficCommands(registry *CommandRegistry, m *device.Module) {
	registry.Register(NewFuncHandler("get_current_neighbours",
		"List neighbor APs of the plan on the current channel", true,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			iface, err := ifaceParam(params, 0)
			if err != nil {
				return nil, err
			}
			var plan []simulator.Neighbor
			if _, err := param(params, 1, "neighbor_plan", &plan); err != nil {
				return nil, err
			}
			return m.GetCurrentNeighbours(iface, plan), nil
		}))

	registry.Register(NewFuncHandler("get_neighbours",
		"List the neighbor APs of the active scenario", true,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			iface, err := ifaceParam(params, 0)
			if err != nil {
				return nil, err
			}
			return m.GetNeighbours(iface), nil
		}))

	registry.Register(NewFuncHandler("get_info_of_connected_devices",
		"Read the station table of the active scenario", true,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			iface, err := ifaceParam(params, 0)
			if err != nil {
				return nil, err
			}
			return m.GetInfoOfConnectedDevices(iface), nil
		}))

	// params: [neighbor_plan, iface, steptime, scenario]
	registry.Register(NewFuncHandler("set_packet_counter",
		"Advance the client traffic counters of a scenario", false,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			if err := maxParams(params, 4); err != nil {
				return nil, err
			}
			var plan []simulator.Neighbor
			if _, err := param(params, 0, "neighbor_plan", &plan); err != nil {
				return nil, err
			}
			iface, err := ifaceParam(params, 1)
			if err != nil {
				return nil, err
			}
			var step float64
			hasStep, err := param(params, 2, "steptime", &step)
			if err != nil {
				return nil, err
			}
			var scenario int
			if _, err := param(params, 3, "scenario", &scenario); err != nil {
				return nil, err
			}

			var stepTime *float64
			if hasStep {
				stepTime = &step
			}
			if err := m.SetPacketCounter(plan, iface, stepTime, scenario); err != nil {
				return nil, err
			}
			return true, nil
		}))
}
