// Package influxdb provides optional time-series storage for repeater
// metrics.
//
// It wraps the official influxdb-client-go v2 library with non-blocking
// batched writes. Two measurements are written: per-packet signal
// quality (SNR, RSSI, score, airtime) and periodic device health
// snapshots (battery, noise floor, queue depth).
//
// The integration is disabled by default; Connect returns ErrDisabled
// when the config leaves it off, and the bridge runs without it. Write
// errors are delivered asynchronously via SetOnError and never block
// packet forwarding.
package influxdb
