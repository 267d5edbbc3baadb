// Package telemetry classifies serial console lines into structured
// telemetry records.
//
// The repeater prints three line families worth forwarding: structured
// packet-capture summaries, raw frame hex dumps, and firmware debug
// output. Classify is a pure function from one line to a Result; callers
// stamp origin identity and timestamps at publish time and decide what
// each kind means for fan-out (raw dumps are held and attached to the
// packet summary that follows them).
//
// Lines matching no known format classify as unrecognized. They are
// counted by the caller and dropped, never published.
package telemetry
