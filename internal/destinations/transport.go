package destinations

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// defaultConnectTimeout is the maximum time to wait for a connect
	// attempt before it counts as a failure.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds acknowledged (QoS > 0) publishes.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time allowed for in-flight
	// operations on a graceful disconnect.
	defaultDisconnectQuiesce = time.Second

	// tlsMinVersion is the minimum TLS version for secure destinations.
	tlsMinVersion = tls.VersionTLS12
)

// MessageHandler is the callback signature for received messages.
// Handlers run on the transport's own goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// WillMessage is the last-will registration sent at connect time. The
// broker publishes it on behalf of the session if the connection drops
// without a clean disconnect.
type WillMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnectOptions carries everything a transport needs for one connection
// attempt. Rebuilt before every attempt because token credentials age.
type ConnectOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	TLS       *tls.Config // nil for plaintext
	Will      *WillMessage

	// OnConnectionLost fires when an established connection drops.
	// Never fires for a failed connect attempt.
	OnConnectionLost func(err error)
}

// Transport is one network connection to a broker. Abstracted so session
// behavior can be driven by a deterministic double in tests.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(quiesce time.Duration)
	Publish(topic string, qos byte, retain bool, payload []byte) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	IsConnected() bool
}

// Dialer builds a Transport for one connection attempt.
type Dialer func(opts ConnectOptions) Transport

// NewPahoDialer returns the production Dialer backed by the paho MQTT
// client. Automatic reconnection is disabled: retry policy belongs to
// the session's own state machine.
func NewPahoDialer() Dialer {
	return func(opts ConnectOptions) Transport {
		pahoOpts := pahomqtt.NewClientOptions()
		pahoOpts.AddBroker(opts.BrokerURL)
		pahoOpts.SetClientID(opts.ClientID)
		pahoOpts.SetCleanSession(true)
		pahoOpts.SetAutoReconnect(false)
		pahoOpts.SetConnectRetry(false)
		pahoOpts.SetConnectTimeout(defaultConnectTimeout)
		pahoOpts.SetKeepAlive(opts.KeepAlive)

		if opts.Username != "" {
			pahoOpts.SetUsername(opts.Username)
			pahoOpts.SetPassword(opts.Password)
		}
		if opts.TLS != nil {
			pahoOpts.SetTLSConfig(opts.TLS)
		}
		if opts.Will != nil {
			pahoOpts.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, opts.Will.QoS, opts.Will.Retain)
		}
		if opts.OnConnectionLost != nil {
			lost := opts.OnConnectionLost
			pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
				lost(err)
			})
		}

		return &pahoTransport{client: pahomqtt.NewClient(pahoOpts)}
	}
}

type pahoTransport struct {
	client pahomqtt.Client
}

func (t *pahoTransport) Connect(ctx context.Context) error {
	token := t.client.Connect()
	if !waitToken(ctx, token, defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

func (t *pahoTransport) Disconnect(quiesce time.Duration) {
	t.client.Disconnect(uint(quiesce.Milliseconds()))
}

// Publish sends a message. QoS 0 publishes are fire-and-forget so a slow
// broker cannot stall the caller; acknowledged QoS waits bounded by the
// publish timeout.
func (t *pahoTransport) Publish(topic string, qos byte, retain bool, payload []byte) error {
	if !t.client.IsConnected() {
		return ErrNotConnected
	}

	token := t.client.Publish(topic, qos, retain, payload)
	if qos == 0 {
		return nil
	}
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (t *pahoTransport) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := t.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout", ErrSubscribeFailed)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

func (t *pahoTransport) IsConnected() bool {
	return t.client.IsConnected()
}

// waitToken waits for a paho token honoring both the context and the
// timeout.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if token.WaitTimeout(100 * time.Millisecond) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}
