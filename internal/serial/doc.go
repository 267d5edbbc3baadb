// Package serial provides exclusive access to the MeshCore repeater's
// serial console.
//
// The repeater exposes a single interactive console over USB serial. The
// console has no response framing beyond its "-> " prompt, and unsolicited
// telemetry lines arrive interleaved with command responses. The Channel
// type owns the port and serialises every operation internally, providing:
//
//   - Bounded-timeout command queries (Query, Execute)
//   - Line-at-a-time telemetry reads (ReadLine)
//   - Identity and statistics getters (GetName, GetPublicKey, GetDeviceStats)
//   - Activity tracking for the serial watchdog (SinceActivity)
//
// Callers never manage locking themselves. A command issued while another
// operation is in flight waits for the channel, bounded by the command's
// own timeout, and fails with ErrCommandTimeout rather than deadlocking.
//
// Open tries each configured device path in order:
//
//	ch, err := serial.Open(serial.Config{
//	    Ports:    []string{"/dev/ttyACM0", "/dev/ttyUSB0"},
//	    BaudRate: 115200,
//	})
//
// A device fault mid-run surfaces as ErrDeviceGone from any method, which
// the bridge runtime treats as a signal to close and reopen the channel.
package serial
