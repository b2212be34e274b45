package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager is the session registry. A single mutex guards the map; sessions
// synchronise themselves.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	opts Options
	log  zerolog.Logger
}

// NewManager creates an empty registry. The options are applied to every
// session it creates.
func NewManager(opts Options, log zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		opts:     opts,
		log:      log.With().Str("component", "session_manager").Logger(),
	}
}

// Create registers a new uninitialised session and returns it.
func (m *Manager) Create() *Session {
	id := uuid.NewString()
	s := New(id, m.opts, m.log)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.Info().Str("session_id", id).Msg("session created")
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, notFound(fmt.Sprintf("unknown session %s", id), "")
	}
	return s, nil
}

// Destroy frees a session and removes it from the registry.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return notFound(fmt.Sprintf("unknown session %s", id), "")
	}
	s.Destroy()
	m.log.Info().Str("session_id", id).Msg("session destroyed")
	return nil
}

// List returns the status of every registered session.
func (m *Manager) List() []Status {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ReapTerminal destroys sessions that have been terminal for longer than the
// TTL. Returns the number reaped.
func (m *Manager) ReapTerminal(ttl time.Duration) int {
	m.mu.Lock()
	var stale []string
	now := time.Now()
	for id, s := range m.sessions {
		s.mu.Lock()
		expired := s.state.Terminal() && !s.terminalAt.IsZero() && now.Sub(s.terminalAt) > ttl
		s.mu.Unlock()
		if expired {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.Destroy(id); err == nil {
			m.log.Info().Str("session_id", id).Msg("reaped terminal session")
		}
	}
	return len(stale)
}
