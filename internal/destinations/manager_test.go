package destinations

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/meshcoretomqtt/mctomqtt/internal/infrastructure/config"
	"github.com/meshcoretomqtt/mctomqtt/internal/topics"
)

// connectedSession wires a session straight into the connected state
// with the given transport, bypassing Run.
func connectedSession(name string, transport Transport) *Session {
	cfg := config.DestinationConfig{Name: name, Server: "broker.example.net", Port: 1883, QoS: 1}
	s := NewSession(cfg, testResolver(), &staticCreds{}, nil, "meshcore_test", statusStub, nil)
	if transport != nil {
		s.transport = transport
		s.state.Store(int32(StateConnected))
	}
	return s
}

func TestManager_FanOutSkipsDisconnected(t *testing.T) {
	up1 := &fakeTransport{connected: true}
	up2 := &fakeTransport{connected: true}

	m := NewManager([]*Session{
		connectedSession("first", up1),
		connectedSession("down", nil),
		connectedSession("third", up2),
	})

	delivered := m.PublishAll(topics.KindPackets, []byte(`{"type":"PACKET"}`), false)
	if delivered != 2 {
		t.Errorf("PublishAll() delivered = %d, want 2", delivered)
	}

	for _, transport := range []*fakeTransport{up1, up2} {
		recs := transport.records()
		if len(recs) != 1 {
			t.Errorf("connected transport got %d messages, want 1", len(recs))
			continue
		}
		if !strings.HasSuffix(recs[0].topic, "/packets") {
			t.Errorf("published to %q, want packets topic", recs[0].topic)
		}
	}
}

func TestManager_DisconnectedCountsDrop(t *testing.T) {
	down := connectedSession("down", nil)
	m := NewManager([]*Session{down})

	m.PublishAll(topics.KindPackets, []byte(`{}`), false)
	if got := down.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestManager_PublishTo(t *testing.T) {
	transport := &fakeTransport{connected: true}
	m := NewManager([]*Session{connectedSession("origin", transport)})

	if err := m.PublishTo("origin", topics.KindResponses, []byte("a.b.c"), 1, false); err != nil {
		t.Fatalf("PublishTo() error = %v", err)
	}

	recs := transport.records()
	if len(recs) != 1 || recs[0].qos != 1 {
		t.Errorf("PublishTo() records = %+v, want one qos 1 publish", recs)
	}
}

func TestManager_PublishToUnknown(t *testing.T) {
	m := NewManager(nil)
	err := m.PublishTo("ghost", topics.KindResponses, []byte("x"), 1, false)
	if !errors.Is(err, ErrUnknownDestination) {
		t.Errorf("PublishTo() error = %v, want ErrUnknownDestination", err)
	}
}

func TestManager_ConnectedCount(t *testing.T) {
	m := NewManager([]*Session{
		connectedSession("up", &fakeTransport{connected: true}),
		connectedSession("down", nil),
	})

	connected, total := m.ConnectedCount()
	if connected != 1 || total != 2 {
		t.Errorf("ConnectedCount() = %d/%d, want 1/2", connected, total)
	}
}

func TestManager_OneFailingDestinationDoesNotAffectOthers(t *testing.T) {
	healthy := &fakeDialer{}
	failing := &fakeDialer{connectErr: errors.New("connection refused")}

	ok := testSession(healthy.dial, &staticCreds{}, nil)
	broken := NewSession(
		config.DestinationConfig{Name: "broken", Server: "down.example.net", Port: 1883},
		testResolver(),
		&staticCreds{err: errors.New("meshcore-decoder not found")},
		failing.dial,
		"meshcore_test",
		statusStub,
		func(string, int) {},
	)
	broken.backoff.delay = 1
	broken.backoff.jitter = zeroJitter

	m := NewManager([]*Session{ok, broken})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	waitFor(t, "healthy session connect", func() bool { return ok.State() == StateConnected })

	if delivered := m.PublishAll(topics.KindPackets, []byte(`{}`), false); delivered != 1 {
		t.Errorf("PublishAll() delivered = %d, want 1 (healthy only)", delivered)
	}
	if broken.State() == StateConnected {
		t.Error("broken session reported connected")
	}
}
