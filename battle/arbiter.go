// battle/arbiter.go
package battle

import (
	"time"
)

const (
	AnswerWaiting = "waiting"
	AnswerScored  = "scored"
)

// AnswerOutcome is the return contract of SubmitAnswer. Status is "waiting"
// until the round is resolvable; once arbitration completes the caller gets
// the authoritative numbers, whether or not its own submission triggered the
// scoring.
type AnswerOutcome struct {
	Status         string `json:"status"`
	IsCorrect      bool   `json:"is_correct"`
	Damage         int    `json:"damage"`
	IsCritical     bool   `json:"is_critical"`
	DamageReceived int    `json:"damage_received"`
	MashTriggered  bool   `json:"mash_triggered"`
	MashID         string `json:"mash_id,omitempty"`
}

// SubmitAnswer records an answer and, when the round becomes resolvable,
// arbitrates it. Scoring is server-authoritative: clients never compute
// damage.
func (b *Battle) SubmitAnswer(userID string, choice int, clientTs time.Time) (*AnswerOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitAnswerLocked(userID, choice, clientTs)
}

func (b *Battle) submitAnswerLocked(userID string, choice int, clientTs time.Time) (*AnswerOutcome, error) {
	if b.Status == StatusFinished {
		return nil, ErrBattleFinished
	}
	if _, ok := b.Players[userID]; !ok {
		return nil, ErrNotInBattle
	}

	r := b.Rounds[b.CurrentRound]
	if r == nil || b.Status != StatusQuestion {
		return nil, ErrRoundNotActive
	}
	if r.Scored {
		// Lost the race to a concurrent trigger: hand back the
		// authoritative result instead of an error.
		return b.outcomeLocked(r, userID), nil
	}
	if _, dup := r.Answers[userID]; dup {
		return nil, ErrAlreadyAnswered
	}
	if choice < 0 || choice >= len(r.Question.Choices) {
		return nil, ErrInvalidChoice
	}

	now := time.Now()
	// Distrust client clocks: a timestamp outside [startedAt, now] is
	// replaced by the server receipt time, and an answer received after
	// the deadline is late no matter what its timestamp claims. Late
	// answers are kept but can only ever score as incorrect, and never
	// extend the round.
	ts := clientTs
	if ts.Before(r.StartedAt) || ts.After(now) {
		ts = now
	}
	r.Answers[userID] = &Answer{
		Choice:     choice,
		AnsweredAt: ts,
		Late:       ts.After(r.TimeoutAt) || now.After(r.TimeoutAt),
	}

	if b.roundResolvableLocked(r, now) {
		b.scoreRoundLocked(b.CurrentRound)
		return b.outcomeLocked(r, userID), nil
	}

	b.publishLocked()
	return &AnswerOutcome{Status: AnswerWaiting}, nil
}

// roundResolvableLocked: every live player has answered, or the deadline
// passed. A disconnected human is not waited for; their missing answer
// scores as incorrect.
func (b *Battle) roundResolvableLocked(r *Round, now time.Time) bool {
	if now.After(r.TimeoutAt) {
		return true
	}
	for id, p := range b.Players {
		if !p.IsBot && !p.Connected {
			continue
		}
		if _, ok := r.Answers[id]; !ok {
			return false
		}
	}
	return true
}

// scoreRoundLocked arbitrates the round exactly once. The Scored flag is
// the transactional lock: the first caller under the battle mutex wins,
// every later trigger (second answer, timeout sweep) sees Scored and backs
// off. Returns whether this call performed the scoring.
func (b *Battle) scoreRoundLocked(index int) bool {
	r := b.Rounds[index]
	if r == nil || r.Scored {
		return false
	}
	r.Scored = true

	ids := b.orderedIDsLocked()
	correct := make(map[string]bool, 2)
	crit := make(map[string]bool, 2)
	damage := make(map[string]int, 2)
	lethal := make(map[string]bool, 2)

	for i, id := range ids {
		opp := b.Players[ids[1-i]]
		ans := r.Answers[id]

		isCorrect := ans != nil && !ans.Late && ans.Choice == r.Question.Answer
		isCrit := isCorrect && ans.AnsweredAt.Sub(r.StartedAt) < b.cfg.CriticalWindow

		dmg := 0
		if isCorrect {
			dmg = b.Players[id].activeRabbit().Atk - opp.activeRabbit().Def
			if dmg < 1 {
				dmg = 1
			}
			if isCrit {
				dmg *= b.cfg.CritMultiplier
			}
		}

		correct[id] = isCorrect
		crit[id] = isCrit
		damage[id] = dmg
		lethal[id] = dmg > 0 && wouldDefeat(opp, dmg)
	}

	bothCorrect := correct[ids[0]] && correct[ids[1]]
	bothWrong := !correct[ids[0]] && !correct[ids[1]]
	simultaneousKO := bothCorrect && lethal[ids[0]] && lethal[ids[1]]

	// Tie outcomes are inconclusive for lethal resolution; the mash
	// mini-game breaks them instead of a double KO.
	r.MashTriggered = simultaneousKO || bothWrong

	applied := make(map[string]int, 2)
	for i, id := range ids {
		opp := b.Players[ids[1-i]]
		// On a simultaneous would-be KO the hit is clamped so the
		// active rabbit survives at 1 HP and the mash decides.
		applied[id] = applyDamage(opp, damage[id], simultaneousKO)
	}

	for i, id := range ids {
		r.Result[id] = &RoundOutcome{
			IsCorrect:      correct[id],
			Damage:         applied[id],
			IsCritical:     crit[id],
			DamageReceived: applied[ids[1-i]],
		}
	}

	if r.MashTriggered {
		b.machine.ChangeState(newMashPhase(b))
	} else {
		b.machine.ChangeState(newRoundResultPhase(b))
	}
	return true
}

// wouldDefeat reports whether dmg against the active rabbit would leave the
// player with no living rabbit.
func wouldDefeat(p *Player, dmg int) bool {
	remaining := 0
	for i, rb := range p.Rabbits {
		hp := rb.CurrentHP
		if i == p.ActiveRabbit {
			hp -= dmg
			if hp < 0 {
				hp = 0
			}
		}
		remaining += hp
	}
	return remaining == 0
}

// applyDamage hits the active rabbit and returns the HP actually removed.
// With floorOne the rabbit is left at 1 HP instead of dying.
func applyDamage(p *Player, dmg int, floorOne bool) int {
	if dmg <= 0 {
		return 0
	}
	rb := p.activeRabbit()
	max := rb.CurrentHP
	if floorOne {
		max = rb.CurrentHP - 1
	}
	if max < 0 {
		max = 0
	}
	if dmg > max {
		dmg = max
	}
	rb.CurrentHP -= dmg
	return dmg
}

// outcomeLocked builds the caller-facing view of a scored round.
func (b *Battle) outcomeLocked(r *Round, userID string) *AnswerOutcome {
	res := r.Result[userID]
	if res == nil {
		return &AnswerOutcome{Status: AnswerWaiting}
	}
	out := &AnswerOutcome{
		Status:         AnswerScored,
		IsCorrect:      res.IsCorrect,
		Damage:         res.Damage,
		IsCritical:     res.IsCritical,
		DamageReceived: res.DamageReceived,
		MashTriggered:  r.MashTriggered,
	}
	if r.MashTriggered && b.Mash != nil {
		out.MashID = b.Mash.MashID
	}
	return out
}
