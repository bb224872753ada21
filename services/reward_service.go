// services/reward_service.go
package services

import (
	"github.com/wfunc/battleserver/logger"
	"github.com/wfunc/battleserver/models"
	"github.com/wfunc/battleserver/persistence"
)

// RewardService 把对战引擎发出的奖励意图落到奖励流水。幂等性在
// 数据库层保证,这里只负责把连胜参数带进去。
type RewardService struct {
	db         persistence.Database
	streakStep int
	streakCap  int
}

func NewRewardService(db persistence.Database, streakStep, streakCap int) *RewardService {
	return &RewardService{db: db, streakStep: streakStep, streakCap: streakCap}
}

// Grant applies one reward intent. Safe to call twice with the same intent;
// the ledger's unique key makes the second application a no-op.
func (s *RewardService) Grant(intent models.RewardIntent) error {
	if err := s.db.ApplyRewardIntent(intent, s.streakStep, s.streakCap); err != nil {
		logger.Log.Errorw("reward grant failed",
			"battle", intent.BattleID, "user", intent.UserID, "error", err)
		return err
	}
	logger.Log.Infow("reward granted",
		"battle", intent.BattleID, "user", intent.UserID,
		"xp", intent.XPDelta, "reason", intent.ReasonTag)
	return nil
}
