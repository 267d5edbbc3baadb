package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meshcoretomqtt/mctomqtt/internal/topics"
)

// deviceStatsTimeout bounds the periodic stats refresh so a busy or
// wedged serial link cannot stall the health loop.
const deviceStatsTimeout = 30 * time.Second

// healthLoop publishes a status snapshot and logs an operator stats
// line every status interval.
func (b *Bridge) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(b.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.refreshDeviceStats(ctx)
			b.publishStatus()
			b.logStatsLine()
		}
	}
}

// refreshDeviceStats queries the firmware counters and caches them for
// the next status publish. The query is best effort; a busy channel
// just means the previous snapshot is reused.
func (b *Bridge) refreshDeviceStats(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, deviceStatsTimeout)
	defer cancel()

	stats, err := b.currentDevice().GetDeviceStats(queryCtx)
	if err != nil {
		b.logDebug("device stats refresh skipped", "error", err)
		return
	}

	b.status.UpdateDeviceStats(stats)
	if b.metrics != nil {
		b.metrics.WriteDeviceStats(b.identity.Name, stats)
	}
}

func (b *Bridge) publishStatus() {
	b.publisher.PublishAll(topics.KindStatus, b.status.Payload("online"), false)
}

// logStatsLine writes the periodic operator summary.
func (b *Bridge) logStatsLine() {
	stats := b.counters.snapshot()
	uptime := int64(time.Since(b.startedAt).Seconds())
	connected, total := b.publisher.ConnectedCount()

	reconnects := make([]string, 0, total)
	for _, s := range b.publisher.Stats() {
		if s.Reconnects24h > 0 {
			reconnects = append(reconnects, fmt.Sprintf("%s:%d", s.Name, s.Reconnects24h))
		}
	}
	reconnectSummary := "none"
	if len(reconnects) > 0 {
		reconnectSummary = strings.Join(reconnects, " ")
	}

	b.logInfo("bridge stats",
		"uptime", formatUptime(uptime),
		"packets_rx", stats.PacketsRx,
		"packets_tx", stats.PacketsTx,
		"data", formatBytes(stats.BytesProcessed),
		"unrecognized", stats.Unrecognized,
		"destinations", fmt.Sprintf("%d/%d", connected, total),
		"reconnects_24h", reconnectSummary,
	)
}
