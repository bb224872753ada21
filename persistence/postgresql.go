// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq" // PostgreSQL 驱动

	"github.com/wfunc/battleserver/models"
)

// PostgreSQL 原生 lib/pq 实现,不走 ORM
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(db *sql.DB) error {
	// 创建玩家档案表
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS player_profiles (
            id SERIAL PRIMARY KEY,
            user_id VARCHAR(255) UNIQUE NOT NULL,
            nickname VARCHAR(255) NOT NULL,
            level INT DEFAULT 1,
            experience INT DEFAULT 0,
            win_streak INT DEFAULT 0,
            pets JSONB,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	// 创建对战记录表
	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS battle_records (
            id SERIAL PRIMARY KEY,
            battle_id VARCHAR(255) UNIQUE NOT NULL,
            course_id VARCHAR(255) NOT NULL,
            players JSONB NOT NULL,
            result JSONB NOT NULL,
            end_reason VARCHAR(50) NOT NULL,
            rounds INT DEFAULT 0,
            duration INT DEFAULT 0,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	// 创建奖励流水表,(battle_id, user_id) 唯一保证恰好一次结算
	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS reward_entries (
            id SERIAL PRIMARY KEY,
            battle_id VARCHAR(255) NOT NULL,
            user_id VARCHAR(255) NOT NULL,
            xp_delta INT NOT NULL,
            bonus INT DEFAULT 0,
            reason VARCHAR(50) NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            UNIQUE (battle_id, user_id)
        )
    `)
	if err != nil {
		return err
	}

	// 创建题库表
	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS questions (
            id SERIAL PRIMARY KEY,
            question_id VARCHAR(255) UNIQUE NOT NULL,
            course_id VARCHAR(255) NOT NULL,
            text TEXT NOT NULL,
            choices JSONB NOT NULL,
            answer_index INT NOT NULL,
            explanation TEXT,
            topic VARCHAR(255),
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	// 创建索引以提高查询性能
	_, err = db.Exec(`
        CREATE INDEX IF NOT EXISTS idx_battle_records_course_id ON battle_records(course_id);
        CREATE INDEX IF NOT EXISTS idx_battle_records_created_at ON battle_records(created_at);
        CREATE INDEX IF NOT EXISTS idx_questions_course_id ON questions(course_id);
    `)

	return err
}

// SaveBattleRecord 保存对战记录,重复的 battle_id 直接忽略
func (p *PostgreSQL) SaveBattleRecord(rec *models.BattleRecord) error {
	playersJSON, err := json.Marshal(rec.Players)
	if err != nil {
		return err
	}
	resultJSON, err := json.Marshal(map[string]interface{}{
		"winner_id": rec.WinnerID,
		"loser_id":  rec.LoserID,
		"is_draw":   rec.IsDraw,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        INSERT INTO battle_records (battle_id, course_id, players, result, end_reason, rounds, duration)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (battle_id) DO NOTHING
    `

	_, err = p.db.ExecContext(ctx, query,
		rec.BattleID, rec.CourseID, playersJSON, resultJSON,
		rec.EndReason, rec.Rounds, rec.Duration)
	return err
}

// ApplyRewardIntent 单事务结算奖励。流水插入用 ON CONFLICT DO NOTHING,
// 没插进去说明这份奖励已经结算过,事务提交但不重复加经验。
func (p *PostgreSQL) ApplyRewardIntent(intent models.RewardIntent, streakStep, streakCap int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// 确保档案存在并锁住,当前连胜数是加成的输入
	var streak int
	err = tx.QueryRowContext(ctx, `
        INSERT INTO player_profiles (user_id, nickname)
        VALUES ($1, $1)
        ON CONFLICT (user_id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
        RETURNING win_streak
    `, intent.UserID).Scan(&streak)
	if err != nil {
		return err
	}

	bonus := 0
	if intent.Won {
		bonus = streakBonus(streak, streakStep, streakCap)
	}

	res, err := tx.ExecContext(ctx, `
        INSERT INTO reward_entries (battle_id, user_id, xp_delta, bonus, reason)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (battle_id, user_id) DO NOTHING
    `, intent.BattleID, intent.UserID, intent.XPDelta, bonus, intent.ReasonTag)
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		// 这场的奖励已经结算过了
		return tx.Commit()
	}

	newStreak := 0
	if intent.Won {
		newStreak = streak + 1
	}
	_, err = tx.ExecContext(ctx, `
        UPDATE player_profiles
        SET experience = experience + $2, win_streak = $3, updated_at = CURRENT_TIMESTAMP
        WHERE user_id = $1
    `, intent.UserID, intent.XPDelta+bonus, newStreak)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// LoadPetLoadout 加载玩家出战宠物
func (p *PostgreSQL) LoadPetLoadout(userID string) ([]models.BattlePet, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var data []byte
	query := `SELECT pets FROM player_profiles WHERE user_id = $1`
	err := p.db.QueryRowContext(ctx, query, userID).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var pets []models.BattlePet
	if err := json.Unmarshal(data, &pets); err != nil {
		return nil, err
	}
	return pets, nil
}

// LoadQuestions 随机抽取课程题目
func (p *PostgreSQL) LoadQuestions(courseID string, n int) ([]models.Question, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        SELECT question_id, text, choices, answer_index, COALESCE(explanation, ''), COALESCE(topic, '')
        FROM questions WHERE course_id = $1
        ORDER BY RANDOM() LIMIT $2
    `
	rows, err := p.db.QueryContext(ctx, query, courseID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var q models.Question
		var choices []byte
		if err := rows.Scan(&q.ID, &q.Text, &choices, &q.Answer, &q.Explanation, &q.Topic); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(choices, &q.Choices); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetPlayerBattleStats 聚合查询玩家战绩
func (p *PostgreSQL) GetPlayerBattleStats(userID string) (*models.PlayerBattleStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats := &models.PlayerBattleStats{UserID: userID}

	err := p.db.QueryRowContext(ctx, `
        SELECT experience, win_streak FROM player_profiles WHERE user_id = $1
    `, userID).Scan(&stats.Experience, &stats.WinStreak)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	err = p.db.QueryRowContext(ctx, `
        SELECT
            COUNT(*),
            COALESCE(SUM(CASE WHEN result->>'winner_id' = $1 THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN result->>'loser_id' = $1 THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN (result->>'is_draw')::boolean THEN 1 ELSE 0 END), 0)
        FROM battle_records
        WHERE players @> $2
    `, userID, fmt.Sprintf(`[{"user_id": %q}]`, userID)).
		Scan(&stats.TotalBattles, &stats.Wins, &stats.Losses, &stats.Draws)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
