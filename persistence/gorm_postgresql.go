// persistence/gorm_postgresql.go
package persistence

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/wfunc/battleserver/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second,   // 慢SQL阈值
			LogLevel:      logger.Silent, // 日志级别
			Colorful:      false,         // 禁用彩色打印
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormPlayerProfile{},
		&models.GormBattleRecord{},
		&models.GormRewardEntry{},
		&models.GormQuestion{},
	)
}

// SaveBattleRecord 保存对战记录。battle_id 唯一,重复保存是无害的no-op。
func (p *GormPostgreSQL) SaveBattleRecord(rec *models.BattleRecord) error {
	row := models.GormBattleRecord{
		BattleID: rec.BattleID,
		CourseID: rec.CourseID,
		Players:  rec.Players,
		Result: map[string]interface{}{
			"winner_id": rec.WinnerID,
			"loser_id":  rec.LoserID,
			"is_draw":   rec.IsDraw,
		},
		EndReason: rec.EndReason,
		Rounds:    rec.Rounds,
		Duration:  rec.Duration,
	}
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "battle_id"}},
		DoNothing: true,
	}).Create(&row).Error
}

// ApplyRewardIntent 单事务结算一份奖励:插入流水、更新档案经验与连胜。
// 流水上的 (battle_id, user_id) 唯一索引是幂等闸门,冲突时整个意图
// 视为已结算,直接返回。
func (p *GormPostgreSQL) ApplyRewardIntent(intent models.RewardIntent, streakStep, streakCap int) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		var profile models.GormPlayerProfile
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", intent.UserID).First(&profile).Error
		if err == gorm.ErrRecordNotFound {
			profile = models.GormPlayerProfile{
				UserID:   intent.UserID,
				Nickname: intent.UserID,
			}
			if err := tx.Create(&profile).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		bonus := 0
		if intent.Won {
			bonus = streakBonus(profile.WinStreak, streakStep, streakCap)
		}

		entry := models.GormRewardEntry{
			BattleID: intent.BattleID,
			UserID:   intent.UserID,
			XPDelta:  intent.XPDelta,
			Bonus:    bonus,
			Reason:   intent.ReasonTag,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 这场的奖励已经结算过了
			return nil
		}

		streak := 0
		if intent.Won {
			streak = profile.WinStreak + 1
		}
		return tx.Model(&models.GormPlayerProfile{}).
			Where("user_id = ?", intent.UserID).
			Updates(map[string]interface{}{
				"experience": gorm.Expr("experience + ?", intent.XPDelta+bonus),
				"win_streak": streak,
			}).Error
	})
}

// LoadPetLoadout 加载玩家出战宠物
func (p *GormPostgreSQL) LoadPetLoadout(userID string) ([]models.BattlePet, error) {
	var profile models.GormPlayerProfile
	if err := p.db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return profile.Pets, nil
}

// LoadQuestions 随机抽取课程题目
func (p *GormPostgreSQL) LoadQuestions(courseID string, n int) ([]models.Question, error) {
	var rows []models.GormQuestion
	err := p.db.Where("course_id = ?", courseID).
		Order("RANDOM()").Limit(n).Find(&rows).Error
	if err != nil {
		return nil, err
	}

	questions := make([]models.Question, 0, len(rows))
	for _, row := range rows {
		questions = append(questions, models.Question{
			ID:          row.QuestionID,
			Text:        row.Text,
			Choices:     row.Choices,
			Answer:      row.AnswerIndex,
			Explanation: row.Explanation,
			Topic:       row.Topic,
		})
	}
	return questions, nil
}

// GetPlayerBattleStats 聚合查询玩家战绩
func (p *GormPostgreSQL) GetPlayerBattleStats(userID string) (*models.PlayerBattleStats, error) {
	stats := &models.PlayerBattleStats{UserID: userID}

	var profile models.GormPlayerProfile
	if err := p.db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	} else {
		stats.Experience = profile.Experience
		stats.WinStreak = profile.WinStreak
	}

	type row struct {
		Total  int
		Wins   int
		Losses int
		Draws  int
	}
	var r row
	err := p.db.Raw(
		`
        SELECT
            COUNT(*) as total,
            SUM(CASE WHEN result->>'winner_id' = ? THEN 1 ELSE 0 END) as wins,
            SUM(CASE WHEN result->>'loser_id' = ? THEN 1 ELSE 0 END) as losses,
            SUM(CASE WHEN (result->>'is_draw')::boolean THEN 1 ELSE 0 END) as draws
        FROM gorm_battle_records
        WHERE players @> ?`,
		userID, userID,
		fmt.Sprintf(`[{"user_id": %q}]`, userID),
	).Scan(&r).Error
	if err != nil {
		return nil, err
	}

	stats.TotalBattles = r.Total
	stats.Wins = r.Wins
	stats.Losses = r.Losses
	stats.Draws = r.Draws
	return stats, nil
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
