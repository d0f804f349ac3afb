// Package simulator implements the per-client traffic simulator behind the
// simple Wi-Fi device module.
//
// A Simulator owns one client table and one neighbor set per scenario plus the
// current channel state. Each SetPacketCounter call advances the counters of
// every client in the selected scenario using a fair-share bandwidth model:
// the channel's throughput is split between this AP and all neighbor APs on
// the same channel, then between the scenario's clients, and converted into
// fixed-size packets.
//
// A Simulator is not safe for concurrent use. The agent serializes all calls
// into the device module that owns it.
package simulator
