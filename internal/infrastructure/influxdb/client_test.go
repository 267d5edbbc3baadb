package influxdb

import (
	"errors"
	"testing"

	"github.com/meshcoretomqtt/mctomqtt/internal/infrastructure/config"
	"github.com/meshcoretomqtt/mctomqtt/internal/telemetry"
)

func packetRecordFixture() telemetry.Record {
	return telemetry.Record{
		Type:      "PACKET",
		Direction: "rx",
		Len:       int64(23),
		Route:     "F",
		SNR:       int64(4),
		RSSI:      int64(-93),
		Score:     int64(1000),
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: false}

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:59999",
		Token:   "token",
		Org:     "meshcore",
		Bucket:  "telemetry",
	}

	_, err := Connect(cfg)
	if err == nil {
		t.Fatal("Connect() should fail when the server is unreachable")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestAsInt64(t *testing.T) {
	if v, ok := asInt64(int64(-93)); !ok || v != -93 {
		t.Errorf("asInt64(int64) = %v, %v", v, ok)
	}
	if _, ok := asInt64("garbage"); ok {
		t.Error("asInt64(string) should not match")
	}
	if _, ok := asInt64(nil); ok {
		t.Error("asInt64(nil) should not match")
	}
}

func TestWriteSkipsWhenDisconnected(t *testing.T) {
	// A zero client is never connected; writes must be silent no-ops
	// rather than panics.
	c := &Client{}

	c.WritePacketMetrics("TESTNODE", packetRecordFixture())
	c.WritePoint("custom", nil, map[string]interface{}{"value": 1})
	c.Flush()
}
