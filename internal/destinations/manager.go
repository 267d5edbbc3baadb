package destinations

import (
	"context"
	"sync"

	"github.com/meshcoretomqtt/mctomqtt/internal/topics"
)

// Manager supervises the set of destination sessions and fans telemetry
// out to all of them. Each session keeps its own state and lock, so one
// slow or disconnected destination never delays delivery to another.
type Manager struct {
	sessions []*Session
	byName   map[string]*Session

	wg sync.WaitGroup
}

// NewManager builds a manager over the given sessions.
func NewManager(sessions []*Session) *Manager {
	byName := make(map[string]*Session, len(sessions))
	for _, s := range sessions {
		byName[s.Name()] = s
	}
	return &Manager{sessions: sessions, byName: byName}
}

// Start launches every session's lifecycle goroutine.
func (m *Manager) Start(ctx context.Context) {
	for _, s := range m.sessions {
		s := s
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			s.Run(ctx)
		}()
	}
}

// Wait blocks until every session goroutine has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// PublishAll offers a payload to every session on the resolved topic for
// kind and returns the number of destinations that accepted it. Sessions
// that are not connected drop the message and count it; they never block
// the others.
func (m *Manager) PublishAll(kind topics.Kind, payload []byte, retain bool) int {
	delivered := 0
	for _, s := range m.sessions {
		if err := s.Publish(kind, payload, retain); err == nil {
			delivered++
		}
	}
	return delivered
}

// PublishTo publishes on a single named destination at an explicit QoS.
// Used to route a command response back on the destination it arrived on.
func (m *Manager) PublishTo(name string, kind topics.Kind, payload []byte, qos byte, retain bool) error {
	s, ok := m.byName[name]
	if !ok {
		return ErrUnknownDestination
	}
	return s.PublishQoS(kind, payload, qos, retain)
}

// Session returns the named session, or nil.
func (m *Manager) Session(name string) *Session {
	return m.byName[name]
}

// Sessions returns every managed session.
func (m *Manager) Sessions() []*Session {
	return m.sessions
}

// Stats returns a snapshot per destination.
func (m *Manager) Stats() []SessionStats {
	out := make([]SessionStats, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Stats())
	}
	return out
}

// ConnectedCount returns how many sessions are connected and the total.
func (m *Manager) ConnectedCount() (connected, total int) {
	for _, s := range m.sessions {
		if s.State() == StateConnected {
			connected++
		}
	}
	return connected, len(m.sessions)
}
