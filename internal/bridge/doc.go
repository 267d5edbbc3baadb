// Package bridge pumps MeshCore repeater telemetry from the serial
// console to the configured MQTT destinations.
//
// The bridge owns the main read loop: every serial line is classified,
// stamped with the repeater identity, and fanned out. Raw frame dumps
// are held and attached to the packet record that follows them. A
// health loop publishes periodic status snapshots with fresh firmware
// counters and logs an operator stats line.
//
// The serial device is replaced in place with backoff when it
// disappears or the silence watchdog fires, so destination sessions and
// the remote command path survive a device reset or USB re-enumeration.
package bridge
