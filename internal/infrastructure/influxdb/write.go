package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/meshcoretomqtt/mctomqtt/internal/serial"
	"github.com/meshcoretomqtt/mctomqtt/internal/telemetry"
)

// WritePacketMetrics records the signal quality of one captured packet.
//
// Tags carry the low-cardinality dimensions (node, direction, route);
// the numeric signal fields go in as fields. Packets without signal
// data (transmissions, malformed captures) are skipped.
func (c *Client) WritePacketMetrics(node string, rec telemetry.Record) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{}
	if v, ok := asInt64(rec.SNR); ok {
		fields["snr"] = v
	}
	if v, ok := asInt64(rec.RSSI); ok {
		fields["rssi"] = v
	}
	if v, ok := asInt64(rec.Score); ok {
		fields["score"] = v
	}
	if v, ok := asInt64(rec.Duration); ok {
		fields["airtime_ms"] = v
	}
	if v, ok := asInt64(rec.Len); ok {
		fields["length"] = v
	}
	if len(fields) == 0 {
		return
	}

	tags := map[string]string{
		"node":      node,
		"direction": rec.Direction,
	}
	if rec.Route != "" {
		tags["route"] = rec.Route
	}

	c.writeAPI.WritePoint(write.NewPoint("packets", tags, fields, time.Now()))
}

// WriteDeviceStats records a repeater health snapshot. Only the fields
// the firmware reported are written.
func (c *Client) WriteDeviceStats(node string, stats serial.DeviceStats) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{}
	add := func(name string, v *int64) {
		if v != nil {
			fields[name] = *v
		}
	}
	add("battery_mv", stats.BatteryMV)
	add("uptime_secs", stats.UptimeSecs)
	add("queue_len", stats.QueueLen)
	add("noise_floor", stats.NoiseFloor)
	add("tx_air_secs", stats.TxAirSecs)
	add("rx_air_secs", stats.RxAirSecs)
	add("recv_errors", stats.RecvErrors)
	if len(fields) == 0 {
		return
	}

	tags := map[string]string{"node": node}

	c.writeAPI.WritePoint(write.NewPoint("device_stats", tags, fields, time.Now()))
}

// WritePoint writes a custom point for measurements the helpers don't
// cover.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// asInt64 extracts a numeric telemetry field. Fields hold int64 when the
// capture parsed cleanly and a string otherwise; only clean values are
// worth charting.
func asInt64(v any) (int64, bool) {
	n, ok := v.(int64)
	return n, ok
}
