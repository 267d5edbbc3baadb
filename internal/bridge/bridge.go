package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/meshcoretomqtt/mctomqtt/internal/destinations"
	"github.com/meshcoretomqtt/mctomqtt/internal/serial"
	"github.com/meshcoretomqtt/mctomqtt/internal/telemetry"
	"github.com/meshcoretomqtt/mctomqtt/internal/topics"
)

const (
	defaultStatusInterval  = 5 * time.Minute
	defaultWatchdogTimeout = 15 * time.Minute
)

// Device is the serial channel surface the bridge drives. Satisfied by
// serial.Channel.
type Device interface {
	ReadLine() (string, error)
	Execute(ctx context.Context, command string, timeout time.Duration) (bool, string, error)
	SetTime(ctx context.Context) error
	GetDeviceStats(ctx context.Context) (serial.DeviceStats, error)
	SinceActivity() time.Duration
	GetStats() serial.Stats
	Close() error
}

// Publisher fans telemetry out to the destinations. Satisfied by
// destinations.Manager.
type Publisher interface {
	PublishAll(kind topics.Kind, payload []byte, retain bool) int
	Stats() []destinations.SessionStats
	ConnectedCount() (connected, total int)
}

// MetricsSink receives optional signal metrics. Satisfied by
// influxdb.Client.
type MetricsSink interface {
	WritePacketMetrics(node string, rec telemetry.Record)
	WriteDeviceStats(node string, stats serial.DeviceStats)
}

// ReopenFunc reopens the serial device after it disappears. Called in a
// backoff loop until it succeeds or ctx is cancelled.
type ReopenFunc func(ctx context.Context) (Device, error)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Bridge.
type Options struct {
	Device    Device
	Identity  serial.Identity
	Publisher Publisher
	Status    *StatusBuilder

	// Reopen enables serial recovery. When nil, losing the device ends
	// the run.
	Reopen ReopenFunc

	// Metrics is the optional signal-metrics sink.
	Metrics MetricsSink

	// Debug forwards firmware DEBUG lines to the debug topic.
	Debug bool

	// SyncTime re-syncs the repeater clock after every reopen.
	SyncTime bool

	// WatchdogTimeout forces a reopen when the device has been silent
	// this long. Zero means the default of fifteen minutes.
	WatchdogTimeout time.Duration

	// StatusInterval is the period between status publishes. Zero means
	// the default of five minutes.
	StatusInterval time.Duration
}

// Bridge pumps classified serial telemetry into the destination
// sessions. One goroutine owns the read loop; a second publishes
// periodic status snapshots. The serial device is replaced in place
// when it goes away, so the rest of the wiring never sees a reopen.
type Bridge struct {
	device   Device
	deviceMu sync.RWMutex

	identity  serial.Identity
	publisher Publisher
	metrics   MetricsSink
	status    *StatusBuilder
	reopen    ReopenFunc

	debug           bool
	syncTime        bool
	watchdogTimeout time.Duration
	statusInterval  time.Duration

	// lastRaw is the most recent frame hex dump; it rides along on the
	// next packet record the way the firmware interleaves the two lines.
	lastRaw   string
	lastRawMu sync.Mutex

	counters  counters
	startedAt time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// New builds a bridge from its wired parts.
func New(opts Options) *Bridge {
	watchdog := opts.WatchdogTimeout
	if watchdog <= 0 {
		watchdog = defaultWatchdogTimeout
	}
	interval := opts.StatusInterval
	if interval <= 0 {
		interval = defaultStatusInterval
	}
	return &Bridge{
		device:          opts.Device,
		identity:        opts.Identity,
		publisher:       opts.Publisher,
		metrics:         opts.Metrics,
		status:          opts.Status,
		reopen:          opts.Reopen,
		debug:           opts.Debug,
		syncTime:        opts.SyncTime,
		watchdogTimeout: watchdog,
		statusInterval:  interval,
	}
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return b.counters.snapshot()
}

// Execute runs one command on the current serial device. Routed through
// the bridge so remote commands keep working across a device reopen.
func (b *Bridge) Execute(ctx context.Context, command string, timeout time.Duration) (bool, string, error) {
	return b.currentDevice().Execute(ctx, command, timeout)
}

// Run pumps the serial line until ctx is cancelled. Returns nil on
// clean shutdown and the device error when the serial link is lost and
// cannot be recovered.
func (b *Bridge) Run(ctx context.Context) error {
	b.startedAt = time.Now()

	go b.healthLoop(ctx)

	err := b.readLoop(ctx)
	if closeErr := b.currentDevice().Close(); closeErr != nil {
		b.logDebug("closing serial device", "error", closeErr)
	}
	return err
}

func (b *Bridge) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := b.currentDevice().ReadLine()
		if err != nil {
			if errors.Is(err, serial.ErrClosed) {
				return nil
			}
			if !errors.Is(err, serial.ErrDeviceGone) {
				return err
			}
			b.logWarn("serial device gone", "error", err)
			if !b.recoverDevice(ctx) {
				return err
			}
			continue
		}

		if line == "" {
			b.checkWatchdog(ctx)
			continue
		}

		b.handleLine(line)
	}
}

// handleLine classifies one serial line and routes it.
func (b *Bridge) handleLine(line string) {
	result := telemetry.Classify(line)

	switch result.Kind {
	case telemetry.KindRaw:
		b.lastRawMu.Lock()
		b.lastRaw = result.RawHex
		b.lastRawMu.Unlock()
		// Hex dump is two characters per frame byte.
		b.counters.bytesProcessed.Add(uint64(len(result.RawHex) / 2))

	case telemetry.KindDebug:
		b.counters.debugLines.Add(1)
		if !b.debug {
			return
		}
		b.publishRecord(topics.KindDebug, result.Record)

	case telemetry.KindPacket:
		rec := result.Record
		if rec.Direction == "tx" {
			b.counters.packetsTx.Add(1)
		} else {
			b.counters.packetsRx.Add(1)
		}

		b.lastRawMu.Lock()
		rec.Raw = b.lastRaw
		b.lastRawMu.Unlock()

		b.publishRecord(topics.KindPackets, rec)

		if b.metrics != nil {
			b.metrics.WritePacketMetrics(b.identity.Name, rec)
		}

	default:
		b.counters.unrecognized.Add(1)
		b.logDebug("unrecognized serial line", "line", line)
	}
}

// publishRecord stamps the record with the repeater identity and fans
// it out.
func (b *Bridge) publishRecord(kind topics.Kind, rec telemetry.Record) {
	rec.Origin = b.identity.Name
	rec.OriginID = b.identity.PublicKey
	rec.Timestamp = time.Now().Format(time.RFC3339)

	payload, err := json.Marshal(rec)
	if err != nil {
		b.logError("marshaling telemetry record", "error", err)
		return
	}

	delivered := b.publisher.PublishAll(kind, payload, false)
	if delivered == 0 {
		b.logDebug("no destination accepted publish", "kind", string(kind))
	}
}

// checkWatchdog forces a reopen when the device has been silent past
// the watchdog limit. Repeaters in quiet airspace still emit periodic
// output, so a long silence means a wedged serial link.
func (b *Bridge) checkWatchdog(ctx context.Context) {
	silence := b.currentDevice().SinceActivity()
	if silence < b.watchdogTimeout {
		return
	}

	b.logWarn("serial watchdog fired, reopening device", "silence", silence.Round(time.Second))
	b.recoverDevice(ctx)
}

// recoverDevice closes the current device and reopens it with backoff.
// Returns false when recovery is disabled or ctx ends first.
func (b *Bridge) recoverDevice(ctx context.Context) bool {
	if b.reopen == nil {
		return false
	}

	if err := b.currentDevice().Close(); err != nil {
		b.logDebug("closing lost device", "error", err)
	}

	backoff := destinations.NewBackoff()
	for {
		device, err := b.reopen(ctx)
		if err == nil {
			b.setDevice(device)
			b.counters.reopens.Add(1)
			if b.syncTime {
				if timeErr := device.SetTime(ctx); timeErr != nil {
					b.logWarn("setting repeater clock after reopen", "error", timeErr)
				}
			}
			b.logInfo("serial device reopened")
			return true
		}

		wait := backoff.Next()
		b.logWarn("serial reopen failed, retrying", "error", err, "retry_in", wait.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

func (b *Bridge) currentDevice() Device {
	b.deviceMu.RLock()
	defer b.deviceMu.RUnlock()
	return b.device
}

func (b *Bridge) setDevice(d Device) {
	b.deviceMu.Lock()
	b.device = d
	b.deviceMu.Unlock()
}

func (b *Bridge) logDebug(msg string, kv ...any) { b.log(func(l Logger) { l.Debug(msg, kv...) }) }
func (b *Bridge) logInfo(msg string, kv ...any)  { b.log(func(l Logger) { l.Info(msg, kv...) }) }
func (b *Bridge) logWarn(msg string, kv ...any)  { b.log(func(l Logger) { l.Warn(msg, kv...) }) }
func (b *Bridge) logError(msg string, kv ...any) { b.log(func(l Logger) { l.Error(msg, kv...) }) }

func (b *Bridge) log(fn func(Logger)) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()
	if logger != nil {
		fn(logger)
	}
}
