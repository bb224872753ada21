// battle/result.go
package battle

import (
	"encoding/json"
	"time"

	"github.com/wfunc/battleserver/logger"
	"github.com/wfunc/battleserver/models"
	"github.com/wfunc/battleserver/network"
)

// finishLocked moves the session to the finished phase. Safe to call from
// any sweep or resolution path; a battle that already finished ignores it.
func (b *Battle) finishLocked(winnerID, loserID string, draw bool, reason EndReason) {
	if b.Status == StatusFinished {
		return
	}
	b.machine.ChangeState(newFinishedPhase(b, winnerID, loserID, draw, reason))
}

// finishByHPLocked settles by total remaining HP, used at the battle
// deadline and when the question set runs out.
func (b *Battle) finishByHPLocked(reason EndReason) {
	ids := b.orderedIDsLocked()
	a, c := b.Players[ids[0]], b.Players[ids[1]]
	switch {
	case a.TotalHP() > c.TotalHP():
		b.finishLocked(ids[0], ids[1], false, reason)
	case c.TotalHP() > a.TotalHP():
		b.finishLocked(ids[1], ids[0], false, reason)
	default:
		b.finishLocked("", "", true, reason)
	}
}

// finalizeLocked computes the BattleResult exactly once. XPGranted is the
// idempotence guard: reward intents and the battle record are emitted only
// by the call that flips it.
func (b *Battle) finalizeLocked(winnerID, loserID string, draw bool, reason EndReason) {
	if b.Result != nil {
		return
	}
	b.Result = &Result{
		WinnerID:  winnerID,
		LoserID:   loserID,
		IsDraw:    draw,
		EndReason: reason,
	}
	b.setStatusLocked(StatusFinished)

	if !b.Result.XPGranted {
		b.Result.XPGranted = true
		b.emitRewardsLocked()
	}
	b.saveRecordLocked()

	b.publishLocked()
	if b.broadcaster != nil {
		if data, err := json.Marshal(b.Result); err == nil {
			b.broadcaster.BroadcastToUsers(b.humanIDsLocked(), network.MsgTypeBattleEnd, data)
		}
	}

	logger.Log.Infof("battle %s finished: winner=%q draw=%v reason=%s",
		b.ID, winnerID, draw, reason)

	if b.onFinish != nil {
		go b.onFinish(b)
	}
	b.Close()
}

// emitRewardsLocked sends one reward intent per human player. Bots earn
// nothing.
func (b *Battle) emitRewardsLocked() {
	if b.rewards == nil {
		return
	}
	for _, id := range b.humanIDsLocked() {
		intent := models.RewardIntent{
			BattleID:  b.ID,
			UserID:    id,
			ReasonTag: "battle:" + string(b.Result.EndReason),
		}
		switch {
		case b.Result.IsDraw:
			intent.XPDelta = b.cfg.DrawXP
		case id == b.Result.WinnerID:
			intent.XPDelta = b.cfg.WinXP
			intent.Won = true
		default:
			intent.XPDelta = b.cfg.LoseXP
		}
		if err := b.rewards.Grant(intent); err != nil {
			logger.Log.Errorf("battle %s reward intent for %s failed: %v", b.ID, id, err)
		}
	}
}

func (b *Battle) saveRecordLocked() {
	if b.records == nil {
		return
	}
	rec := &models.BattleRecord{
		BattleID:  b.ID,
		CourseID:  b.CourseID,
		WinnerID:  b.Result.WinnerID,
		LoserID:   b.Result.LoserID,
		IsDraw:    b.Result.IsDraw,
		EndReason: string(b.Result.EndReason),
		Rounds:    len(b.Rounds),
		Duration:  int(time.Since(b.CreatedAt).Seconds()),
		CreatedAt: b.CreatedAt,
	}
	for _, id := range b.orderedIDsLocked() {
		p := b.Players[id]
		info := models.BattlePlayerInfo{
			UserID:      id,
			Nickname:    p.Nickname,
			IsBot:       p.IsBot,
			RemainingHP: p.TotalHP(),
			Outcome:     "draw",
		}
		if !b.Result.IsDraw {
			if id == b.Result.WinnerID {
				info.Outcome = "win"
			} else {
				info.Outcome = "lose"
			}
		}
		for _, r := range b.Rounds {
			if res := r.Result[id]; res != nil && res.IsCorrect {
				info.CorrectAnswers++
			}
		}
		rec.Players = append(rec.Players, info)
	}
	if err := b.records.SaveBattleRecord(rec); err != nil {
		logger.Log.Errorf("battle %s record save failed: %v", b.ID, err)
	}
}
