package serial

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts and intervals for device communication.
const (
	// defaultReadTimeout bounds a single line read.
	defaultReadTimeout = 2 * time.Second

	// defaultCommandTimeout bounds a device query.
	defaultCommandTimeout = 10 * time.Second

	// queryDelay is the settle time between writing a query and draining
	// its response. The repeater firmware has no response framing beyond
	// the "-> " prompt, so a fixed settle window is required.
	queryDelay = 500 * time.Millisecond

	// drainPoll is the per-read timeout while draining buffered response data.
	drainPoll = 50 * time.Millisecond

	// executePoll is the interval between response checks during Execute.
	executePoll = 100 * time.Millisecond

	// readChunkSize is the size of the read buffer for incoming data.
	readChunkSize = 512
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds serial channel configuration.
type Config struct {
	// Ports is the list of candidate device paths, tried in order.
	Ports []string

	// BaudRate is the serial line speed. Default: 115200.
	BaudRate int

	// ReadTimeout bounds a single ReadLine call. Default: 2s.
	ReadTimeout time.Duration

	// CommandTimeout bounds a Query call. Default: 10s.
	CommandTimeout time.Duration

	// QueryDelay is the settle window between writing a query and
	// draining its response. Default: 500ms.
	QueryDelay time.Duration
}

// Stats holds operational statistics for the channel.
type Stats struct {
	LinesRx      uint64
	CommandsTx   uint64
	ErrorsTotal  uint64
	LastActivity time.Time
}

// Channel is the exclusive-access wrapper around the physical serial link.
//
// All operations are strictly serialised: the channel enforces one in-flight
// operation internally, so no caller can interleave a command with a read.
// A caller that cannot acquire the channel within its operation's timeout
// receives ErrCommandTimeout instead of deadlocking.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Channel struct {
	cfg  Config
	port Port
	path string

	// sem is the exclusivity token. Held for the duration of every port
	// operation; acquisition is bounded by the operation's timeout so a
	// blocked caller fails rather than waiting forever.
	sem chan struct{}

	// pending accumulates partial line data between reads.
	// Guarded by sem (only touched while holding the token).
	pending strings.Builder
	lines   []string

	// Shutdown coordination
	done     chan struct{}
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	linesRx      atomic.Uint64
	commandsTx   atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix timestamp
}

// Open tries each configured port in order and returns a channel wrapping
// the first one that opens. Returns ErrDeviceUnavailable when none can be
// opened. Fatal at startup, recoverable (reopen with backoff) mid-run.
func Open(cfg Config) (*Channel, error) {
	applyDefaults(&cfg)

	var lastErr error
	for _, path := range cfg.Ports {
		port, err := openPort(path, cfg.BaudRate)
		if err != nil {
			lastErr = err
			continue
		}

		ch := NewChannel(port, cfg)
		ch.path = path

		// Nudge the firmware prompt and start from a clean slate.
		_, _ = port.Write([]byte("\r\n\r\n"))
		_ = port.ResetInputBuffer()
		_ = port.ResetOutputBuffer()

		return ch, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, lastErr)
	}
	return nil, ErrDeviceUnavailable
}

// NewChannel wraps an already-open port. Used by Open and by tests that
// supply a fake port.
func NewChannel(port Port, cfg Config) *Channel {
	applyDefaults(&cfg)

	c := &Channel{
		cfg:  cfg,
		port: port,
		sem:  make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	c.lastActivity.Store(time.Now().Unix())
	return c
}

func applyDefaults(cfg *Config) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.QueryDelay == 0 {
		cfg.QueryDelay = queryDelay
	}
}

// SetLogger sets the logger for this channel.
func (c *Channel) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Path returns the device path the channel was opened on.
func (c *Channel) Path() string { return c.path }

// acquire takes the exclusivity token, waiting at most timeout.
func (c *Channel) acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrCommandTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Channel) release() { <-c.sem }

// Query writes a command and returns the raw response after a settle delay.
// Blocks until any in-flight operation releases the channel, up to the
// command timeout, then fails with ErrCommandTimeout.
func (c *Channel) Query(ctx context.Context, command string) (string, error) {
	return c.QueryDelay(ctx, command, c.cfg.QueryDelay)
}

// QueryDelay is Query with an explicit settle delay. Slow firmware queries
// (key retrieval) need a longer window than the default.
func (c *Channel) QueryDelay(ctx context.Context, command string, delay time.Duration) (string, error) {
	if err := c.acquire(ctx, c.cfg.CommandTimeout); err != nil {
		return "", err
	}
	defer c.release()

	return c.exchange(command, delay)
}

// exchange performs a write-settle-drain cycle. Caller must hold the token.
func (c *Channel) exchange(command string, delay time.Duration) (string, error) {
	_ = c.port.ResetInputBuffer()
	_ = c.port.ResetOutputBuffer()

	if !strings.HasSuffix(command, "\r\n") {
		command += "\r\n"
	}
	if _, err := c.port.Write([]byte(command)); err != nil {
		c.errorsTotal.Add(1)
		return "", fmt.Errorf("%w: write: %w", ErrDeviceGone, err)
	}
	c.commandsTx.Add(1)

	time.Sleep(delay)

	resp, err := c.drain()
	if err != nil {
		return "", err
	}
	return resp, nil
}

// drain reads all currently-buffered data. Caller must hold the token.
func (c *Channel) drain() (string, error) {
	if err := c.port.SetReadTimeout(drainPoll); err != nil {
		return "", fmt.Errorf("%w: set read timeout: %w", ErrDeviceGone, err)
	}

	var sb strings.Builder
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.port.Read(buf)
		if err != nil {
			c.errorsTotal.Add(1)
			return "", fmt.Errorf("%w: read: %w", ErrDeviceGone, err)
		}
		if n == 0 {
			break // Drained
		}
		sb.Write(buf[:n])
		c.lastActivity.Store(time.Now().Unix())
	}
	return sb.String(), nil
}

// Execute runs a command with its own timeout and returns the trimmed
// response text. The boolean result distinguishes a failed execution
// (device fault) from a successful one with whatever output the firmware
// produced. Used by the remote command path.
func (c *Channel) Execute(ctx context.Context, command string, timeout time.Duration) (bool, string, error) {
	if err := c.acquire(ctx, timeout); err != nil {
		return false, "", err
	}
	defer c.release()

	_ = c.port.ResetInputBuffer()
	_ = c.port.ResetOutputBuffer()

	cmd := strings.TrimSpace(command)
	if _, err := c.port.Write([]byte(cmd + "\r\n")); err != nil {
		c.errorsTotal.Add(1)
		return false, "", fmt.Errorf("%w: write: %w", ErrDeviceGone, err)
	}
	c.commandsTx.Add(1)

	deadline := time.Now().Add(timeout)
	var sb strings.Builder
	for time.Now().Before(deadline) {
		time.Sleep(executePoll)

		chunk, err := c.drain()
		if err != nil {
			return false, "", err
		}
		sb.WriteString(chunk)

		full := sb.String()
		if strings.Contains(full, "-> ") || strings.HasSuffix(strings.TrimRight(full, " \r\n"), ">") {
			break
		}
	}

	return true, trimResponse(sb.String(), cmd), nil
}

// trimResponse strips the firmware prompt framing and the echoed command
// from a raw response.
func trimResponse(full, command string) string {
	var text string
	switch {
	case strings.Contains(full, "-> >"):
		text = strings.SplitN(full, "-> >", 2)[1]
	case strings.Contains(full, "-> "):
		text = strings.SplitN(full, "-> ", 2)[1]
	case strings.Contains(full, "> "):
		text = strings.SplitN(full, "> ", 2)[1]
	default:
		text = full
	}
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, command) {
		text = strings.TrimSpace(strings.TrimPrefix(text, command))
	}
	text = strings.TrimSpace(strings.TrimRight(text, "> "))

	if text == "" {
		text = "(no output)"
	}
	return text
}

// ReadLine returns the next complete line from the device, or an empty
// string if none arrives within the read timeout. A quiet link is not an
// error; only a device fault returns one.
func (c *Channel) ReadLine() (string, error) {
	deadline := time.Now().Add(c.cfg.ReadTimeout)

	if err := c.acquire(context.Background(), c.cfg.ReadTimeout); err != nil {
		if err == ErrCommandTimeout {
			return "", nil // Channel busy with a command; try again next loop
		}
		return "", err
	}
	defer c.release()

	// Serve any line already assembled.
	if line, ok := c.popLine(); ok {
		return line, nil
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return "", nil
	}
	if err := c.port.SetReadTimeout(remaining); err != nil {
		return "", fmt.Errorf("%w: set read timeout: %w", ErrDeviceGone, err)
	}

	buf := make([]byte, readChunkSize)
	n, err := c.port.Read(buf)
	if err != nil {
		c.errorsTotal.Add(1)
		return "", fmt.Errorf("%w: read: %w", ErrDeviceGone, err)
	}
	if n == 0 {
		return "", nil // Timeout, nothing waiting
	}

	c.lastActivity.Store(time.Now().Unix())
	c.pending.Write(buf[:n])
	c.splitPending()

	line, _ := c.popLine()
	return line, nil
}

// splitPending moves complete lines from the pending buffer to the line
// queue. Caller must hold the token.
func (c *Channel) splitPending() {
	data := c.pending.String()
	if !strings.Contains(data, "\n") {
		return
	}

	parts := strings.Split(data, "\n")
	for _, p := range parts[:len(parts)-1] {
		line := strings.TrimRight(p, "\r")
		if line != "" {
			c.lines = append(c.lines, line)
			c.linesRx.Add(1)
		}
	}

	c.pending.Reset()
	c.pending.WriteString(parts[len(parts)-1])
}

// popLine removes and returns the oldest queued line. Caller must hold the token.
func (c *Channel) popLine() (string, bool) {
	if len(c.lines) == 0 {
		return "", false
	}
	line := c.lines[0]
	c.lines = c.lines[1:]
	return line, true
}

// SetTime sets the repeater clock to the current UTC epoch time.
func (c *Channel) SetTime(ctx context.Context) error {
	cmd := fmt.Sprintf("time %d", time.Now().UTC().Unix())
	resp, err := c.Query(ctx, cmd)
	if err != nil {
		return err
	}
	c.logDebug("set time response", "response", strings.TrimSpace(resp))
	return nil
}

// SinceActivity returns the time elapsed since the device last produced data.
// Drives the serial watchdog in the bridge runtime.
func (c *Channel) SinceActivity() time.Duration {
	return time.Since(time.Unix(c.lastActivity.Load(), 0))
}

// GetStats returns a snapshot of the channel statistics.
func (c *Channel) GetStats() Stats {
	return Stats{
		LinesRx:      c.linesRx.Load(),
		CommandsTx:   c.commandsTx.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
	}
}

// Close releases the underlying port. Safe to call multiple times.
func (c *Channel) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.done)
		err = c.port.Close()
	})
	return err
}

func (c *Channel) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
