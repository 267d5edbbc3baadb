package destinations

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshcoretomqtt/mctomqtt/internal/infrastructure/config"
	"github.com/meshcoretomqtt/mctomqtt/internal/topics"
)

const (
	// defaultKeepAlive applies when a destination does not configure one.
	defaultKeepAlive = 60 * time.Second

	// wsKeepAlive caps the keepalive on websocket transports so the
	// protocol pings arrive inside typical proxy idle timeouts.
	wsKeepAlive = 45 * time.Second
)

// State is a session's position in its connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackingOff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackingOff:
		return "backing-off"
	default:
		return "unknown"
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// CredentialSource resolves broker credentials per a destination's auth
// policy. Implemented by auth.TokenService.
type CredentialSource interface {
	Credentials(ctx context.Context, dest config.DestinationConfig) (username, password string, err error)
	Invalidate(destName string)
}

// Subscription registers interest in a logical topic. Applied on every
// successful connect, so subscriptions survive reconnects.
type Subscription struct {
	Kind    topics.Kind
	QoS     byte
	Handler MessageHandler
}

// SessionStats is a point-in-time snapshot of one session.
type SessionStats struct {
	Name          string
	State         State
	Published     uint64
	Dropped       uint64
	Reconnects24h int
}

// Session owns the connection lifecycle for one destination. Its state
// machine is: disconnected, connecting, connected, backing-off. Only the
// session's own Run goroutine mutates state; everything else reads
// through accessors.
type Session struct {
	cfg      config.DestinationConfig
	resolver *topics.Resolver
	creds    CredentialSource
	dial     Dialer
	clientID string

	// statusPayload renders the status JSON used for the last-will and
	// the online announcement.
	statusPayload func(status string) []byte

	// onExhausted fires after MaxConsecutiveFailures consecutive failed
	// or short-lived connections.
	onExhausted func(name string, failures int)

	transport   Transport
	transportMu sync.RWMutex

	state       atomic.Int32
	backoff     *Backoff
	lost        chan error
	connectedAt time.Time

	subs   []Subscription
	subsMu sync.Mutex

	reconnects   []time.Time
	reconnectsMu sync.Mutex

	published atomic.Uint64
	dropped   atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSession builds a session for one destination. statusPayload renders
// the status message for the given state ("online"/"offline");
// onExhausted may be nil.
func NewSession(cfg config.DestinationConfig, resolver *topics.Resolver, creds CredentialSource, dial Dialer, clientID string, statusPayload func(status string) []byte, onExhausted func(name string, failures int)) *Session {
	return &Session{
		cfg:           cfg,
		resolver:      resolver,
		creds:         creds,
		dial:          dial,
		clientID:      clientID,
		statusPayload: statusPayload,
		onExhausted:   onExhausted,
		backoff:       NewBackoff(),
		lost:          make(chan error, 1),
	}
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Name returns the destination name.
func (s *Session) Name() string { return s.cfg.Name }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Subscribe registers a subscription applied on every connect. Must be
// called before Run.
func (s *Session) Subscribe(sub Subscription) {
	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()
}

// Run drives the connection state machine until ctx is cancelled. Meant
// to be launched as a goroutine, one per destination.
func (s *Session) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			s.state.Store(int32(StateDisconnected))
			return
		}

		s.state.Store(int32(StateConnecting))
		if err := s.connect(ctx); err != nil {
			failures := s.backoff.Failure()
			s.logWarn("connect failed", "destination", s.cfg.Name, "error", err,
				"attempt", fmt.Sprintf("%d/%d", failures, MaxConsecutiveFailures))

			// A rejected token may just be stale.
			s.creds.Invalidate(s.cfg.Name)

			if s.giveUpIfExhausted(failures) {
				return
			}
			if !s.waitBackoff(ctx) {
				return
			}
			continue
		}

		s.backoff.Connected()
		s.connectedAt = time.Now()
		s.state.Store(int32(StateConnected))
		s.logInfo("connected", "destination", s.cfg.Name, "server", s.cfg.Server)

		s.announceOnline()
		s.applySubscriptions()

		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case err := <-s.lost:
			lifetime := time.Since(s.connectedAt)
			failures := s.backoff.ConnectionEnded(lifetime)
			s.recordReconnect()
			s.logWarn("connection lost", "destination", s.cfg.Name, "error", err,
				"lifetime", lifetime.Round(time.Second))

			if s.giveUpIfExhausted(failures) {
				return
			}
		}

		s.state.Store(int32(StateBackingOff))
		if !s.waitBackoff(ctx) {
			return
		}
	}
}

// connect rebuilds credentials and transport and attempts one connection.
func (s *Session) connect(ctx context.Context) error {
	username, password, err := s.creds.Credentials(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("%w: credentials: %w", ErrConnectionFailed, err)
	}

	willTopic := s.resolver.Resolve(topics.KindStatus, s.cfg.Topics)
	opts := ConnectOptions{
		BrokerURL: s.brokerURL(),
		ClientID:  s.clientID,
		Username:  username,
		Password:  password,
		KeepAlive: s.keepAlive(),
		TLS:       s.tlsConfig(),
		Will: &WillMessage{
			Topic:   willTopic,
			Payload: s.statusPayload("offline"),
			QoS:     byte(s.cfg.QoS),
			Retain:  s.cfg.RetainStatus(),
		},
		OnConnectionLost: s.handleLost,
	}

	// Clear any loss left over from the previous connection before the
	// new transport's callback goes live. Draining later would race a
	// connection that drops right after connect and swallow its event.
	select {
	case <-s.lost:
	default:
	}

	transport := s.dial(opts)
	if err := transport.Connect(ctx); err != nil {
		return err
	}

	s.transportMu.Lock()
	s.transport = transport
	s.transportMu.Unlock()
	return nil
}

func (s *Session) handleLost(err error) {
	select {
	case s.lost <- err:
	default:
	}
}

// Publish sends a telemetry payload on the resolved topic for kind.
// Best effort: a disconnected session drops the message and counts it.
// The configured QoS 1 is downgraded to 0 because acknowledged telemetry
// causes retry storms on flaky uplinks.
func (s *Session) Publish(kind topics.Kind, payload []byte, retain bool) error {
	qos := byte(s.cfg.QoS)
	if qos == 1 {
		qos = 0
	}
	return s.publish(kind, payload, qos, retain)
}

// PublishQoS sends a payload at an explicit QoS, bypassing the telemetry
// downgrade. Used for command responses which must be acknowledged.
func (s *Session) PublishQoS(kind topics.Kind, payload []byte, qos byte, retain bool) error {
	return s.publish(kind, payload, qos, retain)
}

func (s *Session) publish(kind topics.Kind, payload []byte, qos byte, retain bool) error {
	if s.State() != StateConnected {
		s.dropped.Add(1)
		return ErrNotConnected
	}

	s.transportMu.RLock()
	transport := s.transport
	s.transportMu.RUnlock()
	if transport == nil {
		s.dropped.Add(1)
		return ErrNotConnected
	}

	topic := s.resolver.Resolve(kind, s.cfg.Topics)
	if err := transport.Publish(topic, qos, retain, payload); err != nil {
		s.dropped.Add(1)
		return err
	}
	s.published.Add(1)
	return nil
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Name:          s.cfg.Name,
		State:         s.State(),
		Published:     s.published.Load(),
		Dropped:       s.dropped.Load(),
		Reconnects24h: s.ReconnectsSince(24 * time.Hour),
	}
}

// ReconnectsSince counts connection losses inside the window, pruning
// older entries.
func (s *Session) ReconnectsSince(window time.Duration) int {
	cutoff := time.Now().Add(-window)

	s.reconnectsMu.Lock()
	defer s.reconnectsMu.Unlock()

	kept := s.reconnects[:0]
	for _, ts := range s.reconnects {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	s.reconnects = kept
	return len(kept)
}

func (s *Session) recordReconnect() {
	s.reconnectsMu.Lock()
	s.reconnects = append(s.reconnects, time.Now())
	s.reconnectsMu.Unlock()
}

// announceOnline publishes the online status message. Retained by
// default so late subscribers see presence; the last-will flips the
// retained value back to offline on an ungraceful drop.
func (s *Session) announceOnline() {
	s.transportMu.RLock()
	transport := s.transport
	s.transportMu.RUnlock()
	if transport == nil {
		return
	}

	topic := s.resolver.Resolve(topics.KindStatus, s.cfg.Topics)
	if err := transport.Publish(topic, 0, s.cfg.RetainStatus(), s.statusPayload("online")); err != nil {
		s.logWarn("online status publish failed", "destination", s.cfg.Name, "error", err)
	}
}

func (s *Session) applySubscriptions() {
	s.transportMu.RLock()
	transport := s.transport
	s.transportMu.RUnlock()
	if transport == nil {
		return
	}

	s.subsMu.Lock()
	subs := make([]Subscription, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	for _, sub := range subs {
		topic := s.resolver.Resolve(sub.Kind, s.cfg.Topics)
		if err := transport.Subscribe(topic, sub.QoS, sub.Handler); err != nil {
			s.logWarn("subscribe failed", "destination", s.cfg.Name, "topic", topic, "error", err)
			continue
		}
		s.logInfo("subscribed", "destination", s.cfg.Name, "topic", topic)
	}
}

// shutdown publishes the graceful offline status and disconnects.
func (s *Session) shutdown() {
	s.transportMu.RLock()
	transport := s.transport
	s.transportMu.RUnlock()

	if transport != nil {
		topic := s.resolver.Resolve(topics.KindStatus, s.cfg.Topics)
		_ = transport.Publish(topic, 0, s.cfg.RetainStatus(), s.statusPayload("offline"))
		transport.Disconnect(defaultDisconnectQuiesce)
	}
	s.state.Store(int32(StateDisconnected))
}

func (s *Session) giveUpIfExhausted(failures int) bool {
	if failures < MaxConsecutiveFailures {
		return false
	}
	s.state.Store(int32(StateDisconnected))
	s.logError("giving up after consecutive failures", "destination", s.cfg.Name, "failures", failures)
	if s.onExhausted != nil {
		s.onExhausted(s.cfg.Name, failures)
	}
	return true
}

// waitBackoff sleeps for the next backoff delay. Returns false when ctx
// was cancelled during the wait.
func (s *Session) waitBackoff(ctx context.Context) bool {
	delay := s.backoff.Next()
	s.logDebug("backing off", "destination", s.cfg.Name, "delay", delay.Round(time.Millisecond))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.state.Store(int32(StateDisconnected))
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) brokerURL() string {
	secure := s.cfg.TLS.Enabled
	if s.cfg.Transport == "websockets" {
		scheme := "ws"
		if secure {
			scheme = "wss"
		}
		return fmt.Sprintf("%s://%s:%d/", scheme, s.cfg.Server, s.cfg.Port)
	}
	scheme := "tcp"
	if secure {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.cfg.Server, s.cfg.Port)
}

func (s *Session) keepAlive() time.Duration {
	ka := time.Duration(s.cfg.KeepAlive) * time.Second
	if ka <= 0 {
		ka = defaultKeepAlive
	}
	if s.cfg.Transport == "websockets" && ka > wsKeepAlive {
		ka = wsKeepAlive
	}
	return ka
}

func (s *Session) tlsConfig() *tls.Config {
	if !s.cfg.TLS.Enabled {
		return nil
	}
	return &tls.Config{
		MinVersion:         tlsMinVersion,
		InsecureSkipVerify: !s.cfg.TLS.Verify,
	}
}

func (s *Session) logDebug(msg string, kv ...any) { s.log(func(l Logger) { l.Debug(msg, kv...) }) }
func (s *Session) logInfo(msg string, kv ...any)  { s.log(func(l Logger) { l.Info(msg, kv...) }) }
func (s *Session) logWarn(msg string, kv ...any)  { s.log(func(l Logger) { l.Warn(msg, kv...) }) }
func (s *Session) logError(msg string, kv ...any) { s.log(func(l Logger) { l.Error(msg, kv...) }) }

func (s *Session) log(fn func(Logger)) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		fn(logger)
	}
}
