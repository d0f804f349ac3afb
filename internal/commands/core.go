package commands

import (
	"context"
	"encoding/json"

	"github.com/tkn-tub/module-simple/internal/device"
)

// RegisterCoreCommands registers the channel, power and identity verbs
func RegisterCoreCommands(registry *CommandRegistry, m *device.Module) {
	registry.Register(NewFuncHandler("set_channel",
		"Set the channel and optionally the HT channel width", false,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			if err := maxParams(params, 3); err != nil {
				return nil, err
			}
			var channel int
			if err := requireParam(params, 0, "channel", &channel); err != nil {
				return nil, err
			}
			if channel < 0 {
				return nil, &CommandError{Code: ErrInvalidRange, Message: "channel must not be negative"}
			}
			iface, err := ifaceParam(params, 1)
			if err != nil {
				return nil, err
			}
			var width string
			hasWidth, err := param(params, 2, "channel_width", &width)
			if err != nil {
				return nil, err
			}
			if !hasWidth {
				return m.SetChannel(channel, iface, nil), nil
			}
			return m.SetChannel(channel, iface, &width), nil
		}))

	registry.Register(NewFuncHandler("get_channel",
		"Read the current channel", true,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			iface, err := ifaceParam(params, 0)
			if err != nil {
				return nil, err
			}
			return m.GetChannel(iface), nil
		}))

	registry.Register(NewFuncHandler("get_channel_width",
		"Read the current HT channel width", true,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			iface, err := ifaceParam(params, 0)
			if err != nil {
				return nil, err
			}
			return m.GetChannelWidth(iface), nil
		}))

	registry.Register(NewFuncHandler("set_tx_power",
		"Set the transmit power", false,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			if err := maxParams(params, 2); err != nil {
				return nil, err
			}
			var power int
			if err := requireParam(params, 0, "power", &power); err != nil {
				return nil, err
			}
			iface, err := ifaceParam(params, 1)
			if err != nil {
				return nil, err
			}
			return m.SetTxPower(power, iface), nil
		}))

	registry.Register(NewFuncHandler("get_tx_power",
		"Read the transmit power", true,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			iface, err := ifaceParam(params, 0)
			if err != nil {
				return nil, err
			}
			return m.GetTxPower(iface), nil
		}))

	registry.Register(NewFuncHandler("get_interfaces",
		"List wireless interfaces", true,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			return m.GetInterfaces(), nil
		}))

	registry.Register(NewFuncHandler("get_address",
		"Read the device MAC address", true,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			return m.GetAddress(), nil
		}))

	registry.Register(NewFuncHandler("clean_per_flow_tx_power_table",
		"Clear the per-flow transmit power table (unsupported by this device)", false,
		func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
			iface, err := ifaceParam(params, 0)
			if err != nil {
				return nil, err
			}
			return nil, m.CleanPerFlowTxPowerTable(iface)
		}))
}
