// battle/snapshot.go
package battle

import (
	"encoding/json"
	"time"

	"github.com/wfunc/battleserver/logger"
	"github.com/wfunc/battleserver/network"
)

// Snapshot is the client-safe view of a battle. The engine is the sole
// writer; every mutation publishes a fresh snapshot. Correct-answer indexes
// and explanations never appear here.
type Snapshot struct {
	BattleID           string                `json:"battle_id"`
	CourseID           string                `json:"course_id"`
	Status             Status                `json:"status"`
	ServerTime         time.Time             `json:"server_time"`
	CreatedAt          time.Time             `json:"created_at"`
	EndsAt             time.Time             `json:"ends_at"`
	CountdownStartedAt time.Time             `json:"countdown_started_at,omitempty"`
	CurrentRound       int                   `json:"current_round"`
	NextRound          int                   `json:"next_round"`
	Colors             map[string]string     `json:"colors"`
	Players            map[string]PlayerView `json:"players"`
	Round              *RoundView            `json:"round,omitempty"`
	Mash               *Mash                 `json:"mash,omitempty"`
	Result             *Result               `json:"result,omitempty"`
}

type PlayerView struct {
	UserID       string    `json:"user_id"`
	Nickname     string    `json:"nickname"`
	ProfileID    string    `json:"profile_id"`
	IsBot        bool      `json:"is_bot"`
	Connected    bool      `json:"connected"`
	ActiveRabbit int       `json:"active_rabbit"`
	Rabbits      []*Rabbit `json:"rabbits"`
}

// RoundView exposes the live round: question text and choices only, who has
// answered, and the arbitrated result once scored.
type RoundView struct {
	Index     int                      `json:"index"`
	Text      string                   `json:"text"`
	Choices   []string                 `json:"choices"`
	StartedAt time.Time                `json:"started_at"`
	TimeoutAt time.Time                `json:"timeout_at"`
	Answered  map[string]bool          `json:"answered"`
	Scored    bool                     `json:"scored"`
	Result    map[string]*RoundOutcome `json:"result,omitempty"`
}

// SnapshotNow builds a snapshot outside the publish path (reconnects, RPC).
func (b *Battle) SnapshotNow() *Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Battle) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		BattleID:           b.ID,
		CourseID:           b.CourseID,
		Status:             b.Status,
		ServerTime:         time.Now(),
		CreatedAt:          b.CreatedAt,
		EndsAt:             b.EndsAt,
		CountdownStartedAt: b.CountdownStartedAt,
		CurrentRound:       b.CurrentRound,
		NextRound:          b.NextRound,
		Colors:             b.Colors,
		Players:            make(map[string]PlayerView, len(b.Players)),
		Mash:               b.Mash,
		Result:             b.Result,
	}
	for id, p := range b.Players {
		snap.Players[id] = PlayerView{
			UserID:       p.UserID,
			Nickname:     p.Nickname,
			ProfileID:    p.ProfileID,
			IsBot:        p.IsBot,
			Connected:    p.Connected,
			ActiveRabbit: p.ActiveRabbit,
			Rabbits:      p.Rabbits,
		}
	}
	if r := b.Rounds[b.CurrentRound]; r != nil {
		view := &RoundView{
			Index:     b.CurrentRound,
			Text:      r.Question.Text,
			Choices:   r.Question.Choices,
			StartedAt: r.StartedAt,
			TimeoutAt: r.TimeoutAt,
			Answered:  make(map[string]bool, len(r.Answers)),
			Scored:    r.Scored,
		}
		for id := range r.Answers {
			view.Answered[id] = true
		}
		if r.Scored {
			view.Result = r.Result
		}
		snap.Round = view
	}
	return snap
}

// publishLocked pushes the current snapshot to both players. Fan-out
// failure is never fatal to the battle.
func (b *Battle) publishLocked() {
	if b.broadcaster == nil {
		return
	}
	data, err := json.Marshal(b.snapshotLocked())
	if err != nil {
		logger.Log.Errorf("battle %s snapshot marshal failed: %v", b.ID, err)
		return
	}
	if err := b.broadcaster.BroadcastToUsers(b.humanIDsLocked(), network.MsgTypeBattleSnapshot, data); err != nil {
		logger.Log.Warnf("battle %s snapshot broadcast failed: %v", b.ID, err)
	}
}
