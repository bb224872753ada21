// models/gorm_models.go
package models

import (
	"gorm.io/gorm"
)

// GormPlayerProfile 玩家档案模型
type GormPlayerProfile struct {
	gorm.Model
	UserID     string      `gorm:"uniqueIndex;not null"`
	Nickname   string      `gorm:"not null"`
	Level      int         `gorm:"default:1"`
	Experience int         `gorm:"default:0"`
	WinStreak  int         `gorm:"default:0"`
	Pets       []BattlePet `gorm:"type:jsonb;serializer:json"`
}

// GormBattleRecord 对战记录模型
type GormBattleRecord struct {
	gorm.Model
	BattleID  string                 `gorm:"uniqueIndex;not null"`
	CourseID  string                 `gorm:"index;not null"`
	Players   []BattlePlayerInfo    `gorm:"type:jsonb;serializer:json;not null"`
	Result    map[string]interface{} `gorm:"type:jsonb;serializer:json"`
	EndReason string                 `gorm:"not null"`
	Rounds    int                    `gorm:"default:0"`
	Duration  int                    `gorm:"default:0"` // 对战时长(秒)
}

// GormRewardEntry 奖励流水模型。(battle_id, user_id)唯一索引保证每场每人只结算一次。
type GormRewardEntry struct {
	gorm.Model
	BattleID string `gorm:"uniqueIndex:idx_reward_once;not null"`
	UserID   string `gorm:"uniqueIndex:idx_reward_once;not null"`
	XPDelta  int    `gorm:"not null"`
	Bonus    int    `gorm:"default:0"`
	Reason   string `gorm:"not null"`
}

// GormQuestion 题库模型
type GormQuestion struct {
	gorm.Model
	QuestionID  string   `gorm:"uniqueIndex;not null"`
	CourseID    string   `gorm:"index;not null"`
	Text        string   `gorm:"not null"`
	Choices     []string `gorm:"type:jsonb;serializer:json;not null"`
	AnswerIndex int      `gorm:"not null"`
	Explanation string
	Topic       string
}
