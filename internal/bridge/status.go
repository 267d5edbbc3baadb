package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/meshcoretomqtt/mctomqtt/internal/serial"
)

// StatusBuilder renders the status JSON published on the status topic
// and registered as each destination's last will. It caches the most
// recent device stats snapshot so status messages can include firmware
// counters without a serial round trip.
type StatusBuilder struct {
	identity serial.Identity
	version  string

	mu    sync.RWMutex
	stats *serial.DeviceStats

	now func() time.Time // test hook
}

// NewStatusBuilder builds a status renderer for the given identity.
func NewStatusBuilder(identity serial.Identity, version string) *StatusBuilder {
	return &StatusBuilder{
		identity: identity,
		version:  version,
		now:      time.Now,
	}
}

// UpdateDeviceStats replaces the cached device stats snapshot.
func (b *StatusBuilder) UpdateDeviceStats(stats serial.DeviceStats) {
	b.mu.Lock()
	b.stats = &stats
	b.mu.Unlock()
}

// DeviceStats returns the cached snapshot, if any.
func (b *StatusBuilder) DeviceStats() (serial.DeviceStats, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stats == nil {
		return serial.DeviceStats{}, false
	}
	return *b.stats, true
}

// statusMessage is the wire shape of a status publish.
type statusMessage struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Origin    string `json:"origin"`
	OriginID  string `json:"origin_id"`
	Radio     string `json:"radio"`
	Model     string `json:"model"`
	Firmware  string `json:"firmware_version"`
	Client    string `json:"client_version"`

	Stats *serial.DeviceStats `json:"stats,omitempty"`
}

// Payload renders the status message for the given state. Device stats
// ride along on online announcements only; the last will is registered
// before any stats exist and stays lean.
func (b *StatusBuilder) Payload(status string) []byte {
	msg := statusMessage{
		Status:    status,
		Timestamp: b.now().Format(time.RFC3339),
		Origin:    b.identity.Name,
		OriginID:  b.identity.PublicKey,
		Radio:     orUnknown(b.identity.Radio),
		Model:     orUnknown(b.identity.Board),
		Firmware:  orUnknown(b.identity.Firmware),
		Client:    b.version,
	}

	if status == "online" {
		if stats, ok := b.DeviceStats(); ok {
			msg.Stats = &stats
		}
	}

	// A struct of strings and int pointers cannot fail to marshal.
	out, _ := json.Marshal(msg)
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
