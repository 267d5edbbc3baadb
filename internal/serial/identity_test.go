package serial

import (
	"context"
	"strings"
	"testing"
)

func TestGetName(t *testing.T) {
	port := newFakePort()
	port.respond("get name", "get name\r\n-> >Hilltop Repeater\r\n")
	ch := NewChannel(port, testConfig())

	name, err := ch.GetName(context.Background())
	if err != nil {
		t.Fatalf("GetName() error = %v", err)
	}
	if name != "Hilltop Repeater" {
		t.Errorf("GetName() = %q, want %q", name, "Hilltop Repeater")
	}
}

func TestGetName_MalformedResponse(t *testing.T) {
	port := newFakePort()
	port.respond("get name", "garbage with no prompt\r\n")
	ch := NewChannel(port, testConfig())

	name, err := ch.GetName(context.Background())
	if err != nil {
		t.Fatalf("GetName() error = %v", err)
	}
	if name != "" {
		t.Errorf("GetName() = %q, want empty for malformed response", name)
	}
}

func TestGetPublicKey(t *testing.T) {
	key := strings.Repeat("ab12", 16) // 64 hex chars
	port := newFakePort()
	port.respond("get public.key", "get public.key\r\n-> >"+key+"\r\n")
	ch := NewChannel(port, testConfig())

	got, err := ch.GetPublicKey(context.Background())
	if err != nil {
		t.Fatalf("GetPublicKey() error = %v", err)
	}
	if want := strings.ToUpper(key); got != want {
		t.Errorf("GetPublicKey() = %q, want uppercased %q", got, want)
	}
}

func TestGetPublicKey_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"too short", "-> >ABC123\r\n"},
		{"not hex", "-> >" + strings.Repeat("ZZ12", 16) + "\r\n"},
		{"no prompt", "nothing here\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newFakePort()
			port.respond("get public.key", tt.response)
			ch := NewChannel(port, testConfig())

			got, err := ch.GetPublicKey(context.Background())
			if err != nil {
				t.Fatalf("GetPublicKey() error = %v", err)
			}
			if got != "" {
				t.Errorf("GetPublicKey() = %q, want empty", got)
			}
		})
	}
}

func TestGetPrivateKey(t *testing.T) {
	key := strings.Repeat("0f", 64) // 128 hex chars
	port := newFakePort()
	port.respond("get prv.key", "-> >"+key+"\r\n")
	ch := NewChannel(port, testConfig())

	got, err := ch.GetPrivateKey(context.Background())
	if err != nil {
		t.Fatalf("GetPrivateKey() error = %v", err)
	}
	if got != key {
		t.Errorf("GetPrivateKey() = %q, want %q", got, key)
	}
}

func TestGetPrivateKey_WrongLength(t *testing.T) {
	port := newFakePort()
	port.respond("get prv.key", "-> >abcdef\r\n")
	ch := NewChannel(port, testConfig())

	got, err := ch.GetPrivateKey(context.Background())
	if err != nil {
		t.Fatalf("GetPrivateKey() error = %v", err)
	}
	if got != "" {
		t.Errorf("GetPrivateKey() = %q, want empty for short key", got)
	}
}

func TestGetRadioInfo(t *testing.T) {
	port := newFakePort()
	port.respond("get radio", "get radio\r\n-> >910.525,250,10,5\r\n")
	ch := NewChannel(port, testConfig())

	radio, err := ch.GetRadioInfo(context.Background())
	if err != nil {
		t.Fatalf("GetRadioInfo() error = %v", err)
	}
	if radio != "910.525,250,10,5" {
		t.Errorf("GetRadioInfo() = %q, want radio parameters", radio)
	}
}

func TestGetFirmwareVersion(t *testing.T) {
	port := newFakePort()
	port.respond("ver", "ver\r\n-> MeshCore v1.7.1 (Build: Jul 2025)\r\n")
	ch := NewChannel(port, testConfig())

	ver, err := ch.GetFirmwareVersion(context.Background())
	if err != nil {
		t.Fatalf("GetFirmwareVersion() error = %v", err)
	}
	if ver != "MeshCore v1.7.1 (Build: Jul 2025)" {
		t.Errorf("GetFirmwareVersion() = %q", ver)
	}
}

func TestGetBoardType(t *testing.T) {
	port := newFakePort()
	port.respond("board", "board\r\n-> Heltec V3\r\n")
	ch := NewChannel(port, testConfig())

	board, err := ch.GetBoardType(context.Background())
	if err != nil {
		t.Fatalf("GetBoardType() error = %v", err)
	}
	if board != "Heltec V3" {
		t.Errorf("GetBoardType() = %q, want %q", board, "Heltec V3")
	}
}

func TestGetBoardType_UnsupportedFirmware(t *testing.T) {
	port := newFakePort()
	port.respond("board", "board\r\n-> Unknown command\r\n")
	ch := NewChannel(port, testConfig())

	board, err := ch.GetBoardType(context.Background())
	if err != nil {
		t.Fatalf("GetBoardType() error = %v", err)
	}
	if board != "unknown" {
		t.Errorf("GetBoardType() = %q, want %q", board, "unknown")
	}
}

func TestGetDeviceStats(t *testing.T) {
	port := newFakePort()
	port.respond("stats-core", "stats-core\r\n-> {\"battery_mv\":3950,\"uptime_secs\":86400,\"errors\":0,\"queue_len\":2}\r\n")
	port.respond("stats-radio", "stats-radio\r\n-> {\"noise_floor\":-105,\"tx_air_secs\":12,\"rx_air_secs\":340}\r\n")
	port.respond("stats-packets", "stats-packets\r\n-> {\"recv_errors\":3}\r\n")
	ch := NewChannel(port, testConfig())

	stats, err := ch.GetDeviceStats(context.Background())
	if err != nil {
		t.Fatalf("GetDeviceStats() error = %v", err)
	}

	if stats.BatteryMV == nil || *stats.BatteryMV != 3950 {
		t.Errorf("BatteryMV = %v, want 3950", stats.BatteryMV)
	}
	if stats.UptimeSecs == nil || *stats.UptimeSecs != 86400 {
		t.Errorf("UptimeSecs = %v, want 86400", stats.UptimeSecs)
	}
	if stats.QueueLen == nil || *stats.QueueLen != 2 {
		t.Errorf("QueueLen = %v, want 2", stats.QueueLen)
	}
	if stats.NoiseFloor == nil || *stats.NoiseFloor != -105 {
		t.Errorf("NoiseFloor = %v, want -105", stats.NoiseFloor)
	}
	if stats.RecvErrors == nil || *stats.RecvErrors != 3 {
		t.Errorf("RecvErrors = %v, want 3", stats.RecvErrors)
	}
}

func TestGetDeviceStats_UnsupportedFirmware(t *testing.T) {
	port := newFakePort()
	port.respond("stats-core", "stats-core\r\n-> Unknown command\r\n")
	port.respond("stats-radio", "stats-radio\r\n-> Unknown command\r\n")
	port.respond("stats-packets", "stats-packets\r\n-> Unknown command\r\n")
	ch := NewChannel(port, testConfig())

	stats, err := ch.GetDeviceStats(context.Background())
	if err != nil {
		t.Fatalf("GetDeviceStats() error = %v", err)
	}
	if stats != (DeviceStats{}) {
		t.Errorf("GetDeviceStats() = %+v, want zero value", stats)
	}
}

func TestSetTime_WritesEpochCommand(t *testing.T) {
	port := newFakePort()
	ch := NewChannel(port, testConfig())

	if err := ch.SetTime(context.Background()); err != nil {
		t.Fatalf("SetTime() error = %v", err)
	}
	sent := port.sent()
	if !strings.HasPrefix(sent, "time ") || !strings.HasSuffix(sent, "\r\n") {
		t.Errorf("SetTime() wrote %q, want time command", sent)
	}
}
