// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/wfunc/battleserver/network"
)

// Session is one client connection. UserID is bound by the login message;
// BattleID is set while the user is in a battle so disconnects can be
// propagated to the engine.
type Session struct {
	ID         string
	Conn       network.Connection
	UserID     string
	Nickname   string
	ProfileID  string
	BattleID   string
	CreatedAt  time.Time
	LastActive time.Time
	mutex      sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		LastActive: now,
	}
}

// Bind attaches the user identity declared in the login message.
func (s *Session) Bind(userID, nickname, profileID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.UserID = userID
	s.Nickname = nickname
	s.ProfileID = profileID
}

// Touch records activity. Heartbeats and any inbound packet count.
func (s *Session) Touch() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.LastActive = time.Now()
}

// IdleSince reports how long the session has been silent.
func (s *Session) IdleSince() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.LastActive)
}

func (s *Session) Send(msgID uint16, data []byte) error {
	return s.Conn.Send(msgID, data)
}

func (s *Session) SendJSON(msgID uint16, v interface{}) error {
	return s.Conn.SendJSON(msgID, v)
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) GetUserID() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.UserID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Session管理器
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

func (m *Manager) GetByUserID(userID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.GetUserID() == userID {
			result = append(result, session)
		}
	}
	return result
}

func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	return result
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Stale returns sessions silent for longer than maxIdle. The caller decides
// whether to close them; the manager only reports.
func (m *Manager) Stale(maxIdle time.Duration) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if session.IdleSince() > maxIdle {
			result = append(result, session)
		}
	}
	return result
}
