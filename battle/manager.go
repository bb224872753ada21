// battle/manager.go
package battle

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/battleserver/logger"
	"github.com/wfunc/battleserver/timer"
)

// Manager 管理所有对战会话。每场对战独立持锁,跨会话没有任何协调。
type Manager struct {
	battles map[string]*Battle
	byUser  map[string]string // userID -> battleID, only while the battle runs
	mutex   sync.RWMutex

	cfg         Config
	broadcaster Broadcaster
	source      QuestionSource
	rewards     RewardSink
	records     RecordStore
	timers      *timer.Manager

	// OnBattleFinished is invoked after a battle settles (metrics etc.).
	OnBattleFinished func(*Battle)
}

func NewManager(cfg Config, source QuestionSource, rewards RewardSink, records RecordStore, timers *timer.Manager) *Manager {
	return &Manager{
		battles: make(map[string]*Battle),
		byUser:  make(map[string]string),
		cfg:     cfg,
		source:  source,
		rewards: rewards,
		records: records,
		timers:  timers,
	}
}

// SetBroadcaster wires the snapshot fan-out. Called once during server
// assembly, before any battle exists.
func (m *Manager) SetBroadcaster(b Broadcaster) {
	m.broadcaster = b
}

// CreateBattle builds the session, registers both players and starts the
// tick loop.
func (m *Manager) CreateBattle(courseID string, a, b PlayerSetup) (*Battle, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	id := uuid.New().String()
	bt := newBattle(id, courseID, a, b, m.cfg, battleDeps{
		broadcaster: m.broadcaster,
		source:      m.source,
		rewards:     m.rewards,
		records:     m.records,
		timers:      m.timers,
		onFinish:    m.battleFinished,
	})

	m.battles[id] = bt
	for _, setup := range []PlayerSetup{a, b} {
		if !setup.IsBot {
			m.byUser[setup.UserID] = id
		}
	}

	bt.start()
	logger.Log.Infof("battle %s created in course %s: %s vs %s", id, courseID, a.UserID, b.UserID)
	return bt, nil
}

// battleFinished releases the user bindings so players can queue again. The
// battle itself stays resident until the janitor purges it, so late
// snapshot reads still work.
func (m *Manager) battleFinished(b *Battle) {
	m.mutex.Lock()
	for _, id := range b.UserIDs() {
		if m.byUser[id] == b.ID {
			delete(m.byUser, id)
		}
	}
	m.mutex.Unlock()

	if m.OnBattleFinished != nil {
		m.OnBattleFinished(b)
	}
}

func (m *Manager) GetBattle(id string) (*Battle, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	b, exists := m.battles[id]
	return b, exists
}

// BattleForUser returns the running battle a user belongs to, if any.
func (m *Manager) BattleForUser(userID string) (*Battle, bool) {
	m.mutex.RLock()
	id, ok := m.byUser[userID]
	if !ok {
		m.mutex.RUnlock()
		return nil, false
	}
	b := m.battles[id]
	m.mutex.RUnlock()
	return b, b != nil
}

// InBattle reports whether the user is bound to a running battle.
func (m *Manager) InBattle(userID string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.byUser[userID]
	return ok
}

func (m *Manager) RemoveBattle(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if b, exists := m.battles[id]; exists {
		b.Close()
		delete(m.battles, id)
	}
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.battles)
}

// ActiveCount counts battles that have not finished yet.
func (m *Manager) ActiveCount() int {
	count := 0
	for _, b := range m.snapshotBattles() {
		if !b.IsFinished() {
			count++
		}
	}
	return count
}

// PurgeFinished drops finished battles older than retention. Run by the
// server janitor.
func (m *Manager) PurgeFinished(retention time.Duration) int {
	var stale []string
	for _, b := range m.snapshotBattles() {
		if b.IsFinished() && time.Since(b.CreatedAt) > retention {
			stale = append(stale, b.ID)
		}
	}
	for _, id := range stale {
		m.RemoveBattle(id)
	}
	return len(stale)
}

// Shutdown closes every battle. Called when the server stops.
func (m *Manager) Shutdown() {
	for _, b := range m.snapshotBattles() {
		m.RemoveBattle(b.ID)
	}
}

// snapshotBattles copies the battle list so callers can take per-battle
// locks without holding the manager lock.
func (m *Manager) snapshotBattles() []*Battle {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]*Battle, 0, len(m.battles))
	for _, b := range m.battles {
		out = append(out, b)
	}
	return out
}
