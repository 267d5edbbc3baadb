package serial

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// slowDelay returns the settle window for key retrieval commands, which
// take longer than ordinary queries on some firmware.
func (c *Channel) slowDelay() time.Duration {
	return 2 * c.cfg.QueryDelay
}

// Identity holds the repeater's self-reported identity, queried once at
// startup before any destination connects.
type Identity struct {
	Name      string
	PublicKey string // 64 hex characters, uppercased
	Firmware  string
	Board     string
	Radio     string
}

// DeviceStats holds firmware counters from the stats-* commands. Fields
// are pointers because not every firmware build reports every counter.
type DeviceStats struct {
	BatteryMV  *int64 `json:"battery_mv,omitempty"`
	UptimeSecs *int64 `json:"uptime_secs,omitempty"`
	DebugFlags *int64 `json:"debug_flags,omitempty"`
	QueueLen   *int64 `json:"queue_len,omitempty"`
	NoiseFloor *int64 `json:"noise_floor,omitempty"`
	TxAirSecs  *int64 `json:"tx_air_secs,omitempty"`
	RxAirSecs  *int64 `json:"rx_air_secs,omitempty"`
	RecvErrors *int64 `json:"recv_errors,omitempty"`
}

// GetName queries the repeater's node name.
func (c *Channel) GetName(ctx context.Context) (string, error) {
	resp, err := c.Query(ctx, "get name")
	if err != nil {
		return "", err
	}
	name, ok := firstPromptLine(resp)
	if !ok {
		return "", nil
	}
	return name, nil
}

// GetPublicKey queries the repeater's public key. The key identifies the
// node on every topic and in the broker username, so the response is
// validated strictly: exactly 64 hex characters, returned uppercased.
func (c *Channel) GetPublicKey(ctx context.Context) (string, error) {
	resp, err := c.QueryDelay(ctx, "get public.key", c.slowDelay())
	if err != nil {
		return "", err
	}
	raw, ok := firstPromptLine(resp)
	if !ok {
		return "", nil
	}

	key := strings.NewReplacer(" ", "", "\r", "", "\n", "").Replace(raw)
	if len(key) != 64 || !isHex(key) {
		c.logDebug("invalid public key in response", "raw", raw)
		return "", nil
	}
	return strings.ToUpper(key), nil
}

// GetPrivateKey queries the repeater's private key, used to sign command
// responses. Not all firmware supports the command; an empty result is
// not an error.
func (c *Channel) GetPrivateKey(ctx context.Context) (string, error) {
	resp, err := c.QueryDelay(ctx, "get prv.key", c.slowDelay())
	if err != nil {
		return "", err
	}
	raw, ok := firstPromptLine(resp)
	if !ok {
		return "", nil
	}

	key := strings.NewReplacer(" ", "", "\r", "", "\n", "").Replace(raw)
	if len(key) != 128 || !isHex(key) {
		return "", nil
	}
	return key, nil
}

// GetRadioInfo queries the radio configuration summary (frequency,
// bandwidth, spreading factor).
func (c *Channel) GetRadioInfo(ctx context.Context) (string, error) {
	resp, err := c.Query(ctx, "get radio")
	if err != nil {
		return "", err
	}
	radio, ok := firstPromptLine(resp)
	if !ok {
		return "", nil
	}
	return radio, nil
}

// GetFirmwareVersion queries the firmware version string.
func (c *Channel) GetFirmwareVersion(ctx context.Context) (string, error) {
	resp, err := c.Query(ctx, "ver")
	if err != nil {
		return "", err
	}
	ver, ok := firstResponseLine(resp)
	if !ok {
		return "", nil
	}
	return ver, nil
}

// GetBoardType queries the hardware board type. Older firmware does not
// implement the command and replies "Unknown command".
func (c *Channel) GetBoardType(ctx context.Context) (string, error) {
	resp, err := c.Query(ctx, "board")
	if err != nil {
		return "", err
	}
	board, ok := firstResponseLine(resp)
	if !ok {
		return "", nil
	}
	if board == "Unknown command" {
		board = "unknown"
	}
	return board, nil
}

// GetDeviceStats queries the stats-core, stats-radio and stats-packets
// commands and merges whatever the firmware reports. Firmware without
// stats support yields an empty result, not an error.
func (c *Channel) GetDeviceStats(ctx context.Context) (DeviceStats, error) {
	var stats DeviceStats

	if err := c.acquire(ctx, c.cfg.CommandTimeout); err != nil {
		return stats, err
	}
	defer c.release()

	type core struct {
		BatteryMV  *int64 `json:"battery_mv"`
		UptimeSecs *int64 `json:"uptime_secs"`
		Errors     *int64 `json:"errors"`
		QueueLen   *int64 `json:"queue_len"`
	}
	var cs core
	if c.queryStatsJSON("stats-core", &cs) {
		stats.BatteryMV = cs.BatteryMV
		stats.UptimeSecs = cs.UptimeSecs
		stats.DebugFlags = cs.Errors
		stats.QueueLen = cs.QueueLen
	}

	type radio struct {
		NoiseFloor *int64 `json:"noise_floor"`
		TxAirSecs  *int64 `json:"tx_air_secs"`
		RxAirSecs  *int64 `json:"rx_air_secs"`
	}
	var rs radio
	if c.queryStatsJSON("stats-radio", &rs) {
		stats.NoiseFloor = rs.NoiseFloor
		stats.TxAirSecs = rs.TxAirSecs
		stats.RxAirSecs = rs.RxAirSecs
	}

	type packets struct {
		RecvErrors *int64 `json:"recv_errors"`
	}
	var ps packets
	if c.queryStatsJSON("stats-packets", &ps) {
		stats.RecvErrors = ps.RecvErrors
	}

	return stats, nil
}

// queryStatsJSON issues a stats command and decodes its single-line JSON
// response into v. Returns false when the firmware does not support the
// command or the response does not parse. Caller must hold the token.
func (c *Channel) queryStatsJSON(command string, v any) bool {
	resp, err := c.exchange(command, c.cfg.QueryDelay)
	if err != nil {
		return false
	}
	if strings.Contains(resp, "Unknown command") {
		return false
	}
	line, ok := firstResponseLine(resp)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(line), v); err != nil {
		c.logDebug("stats response did not parse", "command", command, "error", err)
		return false
	}
	return true
}

// firstPromptLine extracts the first line after the "-> >" value prompt.
func firstPromptLine(resp string) (string, bool) {
	if !strings.Contains(resp, "-> >") {
		return "", false
	}
	line := strings.TrimSpace(strings.SplitN(resp, "-> >", 2)[1])
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(strings.ReplaceAll(line, "\r", "")), true
}

// firstResponseLine extracts the first line after the "-> " echo prompt.
func firstResponseLine(resp string) (string, bool) {
	if !strings.Contains(resp, "-> ") {
		return "", false
	}
	line := strings.SplitN(resp, "-> ", 2)[1]
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(strings.ReplaceAll(line, "\r", "")), true
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
