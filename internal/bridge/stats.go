package bridge

import (
	"fmt"
	"sync/atomic"
)

// counters track the bridge's lifetime traffic totals. All fields are
// atomics; snapshots are taken field by field and need not be mutually
// consistent.
type counters struct {
	packetsRx      atomic.Uint64
	packetsTx      atomic.Uint64
	bytesProcessed atomic.Uint64
	debugLines     atomic.Uint64
	unrecognized   atomic.Uint64
	reopens        atomic.Uint64
}

// Stats is a point-in-time snapshot of the bridge counters.
type Stats struct {
	PacketsRx      uint64
	PacketsTx      uint64
	BytesProcessed uint64
	DebugLines     uint64
	Unrecognized   uint64
	Reopens        uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PacketsRx:      c.packetsRx.Load(),
		PacketsTx:      c.packetsTx.Load(),
		BytesProcessed: c.bytesProcessed.Load(),
		DebugLines:     c.debugLines.Load(),
		Unrecognized:   c.unrecognized.Load(),
		Reopens:        c.reopens.Load(),
	}
}

// formatBytes renders a byte total with a human unit for the operator
// stats line.
func formatBytes(n uint64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	case n < 1024*1024*1024:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	default:
		return fmt.Sprintf("%.2fGB", float64(n)/(1024*1024*1024))
	}
}

// formatUptime renders elapsed seconds as hours and minutes.
func formatUptime(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
