// models/models.go
package models

import (
	"time"
)

// BattlePet is a player's equipped battle pet as loaded from the
// pet-collection component. Stats are frozen into the battle at session
// start.
type BattlePet struct {
	PetID string `json:"pet_id"`
	Name  string `json:"name"`
	MaxHP int    `json:"max_hp"`
	Atk   int    `json:"atk"`
	Def   int    `json:"def"`
}

// Question is one question-bank record. The correct index and explanation
// are server-side only and never serialized toward clients.
type Question struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	Choices     []string `json:"choices"`
	Answer      int      `json:"-"`
	Explanation string   `json:"-"`
	Topic       string   `json:"topic,omitempty"`
}

// RewardIntent is emitted to the reward ledger exactly once per player when
// a battle finishes. XPDelta is the base win/lose/draw grant; the ledger
// resolves the streak bonus on top since the streak counter lives there.
type RewardIntent struct {
	BattleID  string `json:"battle_id"`
	UserID    string `json:"user_id"`
	XPDelta   int    `json:"xp_delta"`
	Won       bool   `json:"won"`
	ReasonTag string `json:"reason_tag"`
}

// BattleRecord is the persisted summary of a finished battle.
type BattleRecord struct {
	BattleID  string             `json:"battle_id"`
	CourseID  string             `json:"course_id"`
	Players   []BattlePlayerInfo `json:"players"`
	WinnerID  string             `json:"winner_id,omitempty"`
	LoserID   string             `json:"loser_id,omitempty"`
	IsDraw    bool               `json:"is_draw"`
	EndReason string             `json:"end_reason"`
	Rounds    int                `json:"rounds"`
	Duration  int                `json:"duration"` // seconds
	CreatedAt time.Time          `json:"created_at"`
}

// BattlePlayerInfo is the per-player slice of a battle record.
type BattlePlayerInfo struct {
	UserID         string `json:"user_id"`
	Nickname       string `json:"nickname"`
	IsBot          bool   `json:"is_bot"`
	Outcome        string `json:"outcome"` // win/lose/draw
	RemainingHP    int    `json:"remaining_hp"`
	CorrectAnswers int    `json:"correct_answers"`
}

// PlayerBattleStats is the aggregate exposed over RPC.
type PlayerBattleStats struct {
	UserID       string `json:"user_id"`
	TotalBattles int    `json:"total_battles"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
	Draws        int    `json:"draws"`
	Experience   int    `json:"experience"`
	WinStreak    int    `json:"win_streak"`
}
