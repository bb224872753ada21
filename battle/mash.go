// battle/mash.go
package battle

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/battleserver/network"
)

// TapOutcome reports the gauge after a tap, and the final result once the
// mash has been resolved.
type TapOutcome struct {
	MashID   string       `json:"mash_id"`
	Taps     int          `json:"taps"`
	Gauge    float64      `json:"gauge"`
	Resolved bool         `json:"resolved"`
	Result   *MashOutcome `json:"result,omitempty"`
}

const (
	gaugeMin    = 0.0
	gaugeCenter = 50.0
	gaugeMax    = 100.0
)

// beginMashLocked creates the mash sub-state. Called from the mash phase
// OnEnter, after the arbiter's trigger fired.
func (b *Battle) beginMashLocked() {
	now := time.Now()
	b.Mash = &Mash{
		MashID:    uuid.New().String(),
		StartedAt: now,
		EndsAt:    now.Add(b.cfg.MashDuration),
		Taps:      make(map[string]int),
		Gauge:     gaugeCenter,
	}
	for id := range b.Players {
		b.Mash.Taps[id] = 0
	}
	b.setStatusLocked(StatusMash)
	b.bot.planMashLocked()
	b.publishLocked()
}

// Tap advances the gauge one step toward the tapper's end. Taps arriving
// after resolution are idempotent no-ops carrying the final result.
func (b *Battle) Tap(userID string) (*TapOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.Players[userID]; !ok {
		return nil, ErrNotInBattle
	}
	return b.tapLocked(userID)
}

func (b *Battle) tapLocked(userID string) (*TapOutcome, error) {
	m := b.Mash
	if m == nil {
		return nil, ErrMashNotActive
	}
	if m.Result != nil {
		return b.tapOutcomeLocked(userID), nil
	}
	if b.Status != StatusMash {
		return nil, ErrMashNotActive
	}

	now := time.Now()
	if !now.Before(m.EndsAt) {
		// The deadline passed before this tap landed; resolve with the
		// taps that made it in time.
		b.resolveMashLocked()
		return b.tapOutcomeLocked(userID), nil
	}

	m.Taps[userID]++
	if b.Colors[userID] == SideRed {
		m.Gauge += b.cfg.MashTapStep
	} else {
		m.Gauge -= b.cfg.MashTapStep
	}

	if m.Gauge <= gaugeMin || m.Gauge >= gaugeMax {
		b.resolveMashLocked()
	}
	return b.tapOutcomeLocked(userID), nil
}

// resolveMashLocked settles the mini-game exactly once: the nil Result is
// the check-and-set gate, serialized by the battle mutex against both the
// tap path and the deadline sweep. The winner's side is a pure function of
// the tap counts, so replaying the same tap sequence yields the same
// outcome.
func (b *Battle) resolveMashLocked() {
	m := b.Mash
	if m == nil || m.Result != nil {
		return
	}

	ids := b.orderedIDsLocked()
	red, blue := ids[0], ids[1]

	outcome := &MashOutcome{}
	switch {
	case m.Gauge > gaugeCenter:
		outcome.WinnerID = red
	case m.Gauge < gaugeCenter:
		outcome.WinnerID = blue
	default:
		// Dead center at the deadline: forced draw, zero bonus.
		outcome.Draw = true
	}

	if !outcome.Draw {
		loser := red
		if outcome.WinnerID == red {
			loser = blue
		}
		outcome.BonusDamage = applyDamage(b.Players[loser], b.cfg.MashBonusDamage, false)
	}
	m.Result = outcome

	if b.broadcaster != nil {
		if data, err := json.Marshal(outcome); err == nil {
			b.broadcaster.BroadcastToUsers(b.humanIDsLocked(), network.MsgTypeMashResult, data)
		}
	}
	b.publishLocked()
	b.machine.ChangeState(newRoundResultPhase(b))
}

func (b *Battle) tapOutcomeLocked(userID string) *TapOutcome {
	m := b.Mash
	return &TapOutcome{
		MashID:   m.MashID,
		Taps:     m.Taps[userID],
		Gauge:    m.Gauge,
		Resolved: m.Result != nil,
		Result:   m.Result,
	}
}
