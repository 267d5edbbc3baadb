package telemetry

import (
	"regexp"
	"strconv"
	"strings"
)

// Line formats emitted by the repeater console. The packet format carries
// a structured capture summary; the raw format carries the hex dump of
// the most recent frame. The two never match the same line.
var (
	packetPattern = regexp.MustCompile(
		`^(\d{2}:\d{2}:\d{2}) - (\d{1,2}/\d{1,2}/\d{4}) U: (RX|TX), len=(\d+) \(type=(\d+), route=([A-Z]), payload_len=(\d+)\)` +
			`(?: SNR=(-?\d+) RSSI=(-?\d+) score=(\d+)( time=(\d+))? hash=([0-9A-F]+)(?: \[(.*)\])?)?`)

	rawPattern = regexp.MustCompile(
		`^(\d{2}:\d{2}:\d{2}) - (\d{1,2}/\d{1,2}/\d{4}) U RAW: (.*)`)
)

// Kind identifies what a serial line was classified as.
type Kind int

const (
	// KindUnrecognized marks a line matching no known format. Counted
	// and dropped, never published.
	KindUnrecognized Kind = iota

	// KindPacket is a structured packet-capture summary.
	KindPacket

	// KindRaw is the hex dump of the most recent received frame.
	KindRaw

	// KindDebug is a firmware debug line, passed through verbatim when
	// debug publishing is enabled.
	KindDebug
)

// Record is a parsed telemetry message. Origin, OriginID and Timestamp
// are stamped by the publisher, not the classifier, so classification of
// a given line is deterministic.
//
// Numeric protocol fields hold int64 when the captured text parses
// cleanly and fall back to the original string otherwise.
type Record struct {
	Origin    string `json:"origin"`
	OriginID  string `json:"origin_id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	Direction  string `json:"direction,omitempty"`
	Time       string `json:"time,omitempty"`
	Date       string `json:"date,omitempty"`
	Len        any    `json:"len,omitempty"`
	PacketType any    `json:"packet_type,omitempty"`
	Route      string `json:"route,omitempty"`
	PayloadLen any    `json:"payload_len,omitempty"`
	Raw        string `json:"raw,omitempty"`

	SNR      any    `json:"SNR,omitempty"`
	RSSI     any    `json:"RSSI,omitempty"`
	Score    any    `json:"score,omitempty"`
	Duration any    `json:"duration,omitempty"`
	Hash     string `json:"hash,omitempty"`
	Path     string `json:"path,omitempty"`

	Message string `json:"message,omitempty"`
}

// Result is the outcome of classifying one serial line.
type Result struct {
	Kind   Kind
	Record Record

	// RawHex is the frame hex dump, set only for KindRaw.
	RawHex string
}

// Classify maps a raw serial line to a classification result. Pure: the
// same line always yields the same result.
func Classify(line string) Result {
	if line == "" {
		return Result{Kind: KindUnrecognized}
	}

	if m := rawPattern.FindStringSubmatch(line); m != nil {
		return Result{Kind: KindRaw, RawHex: strings.TrimSpace(m[3])}
	}

	if strings.HasPrefix(line, "DEBUG") {
		return Result{
			Kind:   KindDebug,
			Record: Record{Type: "DEBUG", Message: line},
		}
	}

	if m := packetPattern.FindStringSubmatch(line); m != nil {
		return Result{Kind: KindPacket, Record: packetRecord(m)}
	}

	return Result{Kind: KindUnrecognized}
}

// packetRecord builds a Record from a packet-pattern match. Signal
// metrics are only present on received packets; the routing path only on
// direct-routed ones.
func packetRecord(m []string) Record {
	direction := strings.ToLower(m[3])

	rec := Record{
		Type:       "PACKET",
		Direction:  direction,
		Time:       m[1],
		Date:       m[2],
		Len:        numeric(m[4]),
		PacketType: numeric(m[5]),
		Route:      m[6],
		PayloadLen: numeric(m[7]),
	}

	if direction == "rx" && m[8] != "" {
		rec.SNR = numeric(m[8])
		rec.RSSI = numeric(m[9])
		rec.Score = numeric(m[10])
		if m[12] != "" {
			rec.Duration = numeric(m[12])
		}
		rec.Hash = m[13]

		if rec.Route == "D" && m[14] != "" {
			rec.Path = m[14]
		}
	}

	return rec
}

// numeric parses s as an integer when it parses cleanly and returns the
// original text otherwise. Never fails on malformed content.
func numeric(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}
