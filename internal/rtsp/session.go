package rtsp

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	serverPortMin = 5000
	serverPortMax = 65534

	// defaultSessionTimeout is the advertised session timeout in seconds
	// (RFC 2326 §12.37). Clients keep sessions alive with GET_PARAMETER.
	defaultSessionTimeout = 60
)

// SessionState is the RFC 2326 §A.1 playback state machine:
// SETUP creates a session in StateReady, PLAY moves it to StatePlaying,
// PAUSE to StatePaused, and TEARDOWN removes it.
type SessionState int

const (
	StateReady SessionState = iota
	StatePlaying
	StatePaused
)

func (s SessionState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the server-side state for one SETUP'd client: its identifier,
// the URI it subscribed to, the negotiated transport, and playback state.
type Session struct {
	ID  string
	URI string

	mu        sync.RWMutex
	transport *Transport
	state     SessionState
}

func newSession(uri string) *Session {
	return &Session{
		ID:  uuid.NewString(),
		URI: uri,
	}
}

// SetTransport stores the parameters negotiated during SETUP.
func (s *Session) SetTransport(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = &t
}

// TransportInfo returns a copy of the negotiated transport, or false if
// SETUP has not completed.
func (s *Session) TransportInfo() (Transport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.transport == nil {
		return Transport{}, false
	}
	return *s.transport, true
}

// SetState transitions the playback state.
func (s *Session) SetState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// State returns the current playback state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Playing reports whether the session is actively receiving media.
func (s *Session) Playing() bool {
	return s.State() == StatePlaying
}

// HeaderValue formats the Session response header (RFC 2326 §12.37),
// e.g. "550e8400-e29b-41d4-a716-446655440000;timeout=60".
func (s *Session) HeaderValue() string {
	return fmt.Sprintf("%s;timeout=%d", s.ID, defaultSessionTimeout)
}

// SessionManager is the registry of active sessions. Lookups happen on
// every RTP delivery cycle, so reads take the shared lock.
type SessionManager struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	nextPort uint32
}

// NewSessionManager creates an empty registry. If log is nil,
// slog.Default() is used.
func NewSessionManager(log *slog.Logger) *SessionManager {
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		log:      log.With("component", "rtsp-sessions"),
		sessions: make(map[string]*Session),
		nextPort: serverPortMin,
	}
}

// Create registers a new session for the given URI.
func (m *SessionManager) Create(uri string) *Session {
	s := newSession(uri)
	m.mu.Lock()
	m.sessions[s.ID] = s
	total := len(m.sessions)
	m.mu.Unlock()

	m.log.Debug("session created", "session", s.ID, "uri", uri, "total", total)
	return s
}

// Get looks up a session by ID, returning nil when absent.
func (m *SessionManager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Remove deletes a session by ID, reporting whether it existed.
func (m *SessionManager) Remove(id string) bool {
	m.mu.Lock()
	_, found := m.sessions[id]
	delete(m.sessions, id)
	remaining := len(m.sessions)
	m.mu.Unlock()

	if found {
		m.log.Debug("session removed", "session", id, "remaining", remaining)
	}
	return found
}

// RemoveAll deletes the given sessions, returning how many existed.
// Used when a control connection drops with sessions still registered.
func (m *SessionManager) RemoveAll(ids []string) int {
	m.mu.Lock()
	removed := 0
	for _, id := range ids {
		if _, found := m.sessions[id]; found {
			delete(m.sessions, id)
			removed++
		}
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if removed > 0 {
		m.log.Debug("batch session cleanup", "removed", removed, "remaining", remaining)
	}
	return removed
}

// AllocatePortPair hands out the next (RTP, RTCP) server port pair.
// RTP ports are even and RTCP = RTP+1 per RFC 3550 §11; the counter
// starts at 5000 and wraps when the range is exhausted.
func (m *SessionManager) AllocatePortPair() (uint16, uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextPort > serverPortMax {
		m.log.Warn("server port range exhausted, wrapping", "min", serverPortMin)
		m.nextPort = serverPortMin
	}
	rtpPort := uint16(m.nextPort)
	m.nextPort += 2
	return rtpPort, rtpPort + 1
}

// Playing returns all sessions currently in StatePlaying.
func (m *SessionManager) Playing() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var playing []*Session
	for _, s := range m.sessions {
		if s.Playing() {
			playing = append(playing, s)
		}
	}
	return playing
}

// PlayingCount returns the number of sessions in StatePlaying.
func (m *SessionManager) PlayingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.Playing() {
			n++
		}
	}
	return n
}
