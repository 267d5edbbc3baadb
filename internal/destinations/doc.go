// Package destinations manages the broker connections telemetry fans
// out to.
//
// Each configured destination gets its own Session: a small state
// machine (disconnected, connecting, connected, backing-off) driven by a
// dedicated goroutine. Retry delays grow exponentially with jitter and
// reset on a successful connect; twelve consecutive failed or
// short-lived connections make the session give up so the service
// supervisor can restart the process.
//
// Telemetry delivery is deliberately at-most-once. A publish on a
// disconnected session drops the message and counts it rather than
// queueing, and configured QoS 1 is downgraded to 0 for telemetry so a
// flaky uplink cannot build a retry storm. Command responses bypass the
// downgrade via PublishQoS.
//
// A retained last-will is registered on every connect, so the status
// topic flips to offline when a session drops without a clean shutdown.
//
// The Manager owns the session set and fans each record out without any
// shared lock between destinations: one broker's trouble never delays
// the others.
package destinations
