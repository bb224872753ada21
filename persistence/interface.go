// persistence/interface.go
package persistence

import (
	"fmt"

	"github.com/wfunc/battleserver/models"
)

// Database 数据库接口。两套实现:GORM(默认)和原生 lib/pq。
// ApplyRewardIntent 在实现内部开事务:档案 upsert、经验与连胜更新、
// 流水插入要么全部落库要么全部回滚,(battle_id,user_id) 唯一键保证
// 同一场对同一人只结算一次。
type Database interface {
	SaveBattleRecord(rec *models.BattleRecord) error
	ApplyRewardIntent(intent models.RewardIntent, streakStep, streakCap int) error
	LoadPetLoadout(userID string) ([]models.BattlePet, error)
	LoadQuestions(courseID string, n int) ([]models.Question, error)
	GetPlayerBattleStats(userID string) (*models.PlayerBattleStats, error)
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)

// streakBonus 计算连胜加成:每多一场连胜加 step,封顶 cap 场。
// prevStreak 是本场之前的连胜数。
func streakBonus(prevStreak, step, cap int) int {
	if prevStreak <= 0 || step <= 0 {
		return 0
	}
	n := prevStreak
	if cap > 0 && n > cap {
		n = cap
	}
	return n * step
}
