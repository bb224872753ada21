package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Battle      BattleConfig      `mapstructure:"battle"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Reward      RewardConfig      `mapstructure:"reward"`
}

type ServerConfig struct {
	HTTPAddress    string `mapstructure:"http_address"`
	RPCAddress     string `mapstructure:"rpc_address"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

type DatabaseConfig struct {
	// Driver selects the persistence implementation: "gorm" or "pq".
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// BattleConfig holds the server-anchored battle timings and scoring knobs.
type BattleConfig struct {
	Duration         time.Duration `mapstructure:"duration"`
	Countdown        time.Duration `mapstructure:"countdown"`
	QuestionTimeout  time.Duration `mapstructure:"question_timeout"`
	CriticalWindow   time.Duration `mapstructure:"critical_window"`
	CritMultiplier   int           `mapstructure:"crit_multiplier"`
	RoundResultDelay time.Duration `mapstructure:"round_result_delay"`
	MashDuration     time.Duration `mapstructure:"mash_duration"`
	MashTapStep      float64       `mapstructure:"mash_tap_step"`
	MashBonusDamage  int           `mapstructure:"mash_bonus_damage"`
	RoundCount       int           `mapstructure:"round_count"`
	DisconnectGrace  time.Duration `mapstructure:"disconnect_grace"`
}

type MatchmakingConfig struct {
	BotWait     time.Duration `mapstructure:"bot_wait"`
	BotNickname string        `mapstructure:"bot_nickname"`
}

type RewardConfig struct {
	WinXP      int `mapstructure:"win_xp"`
	LoseXP     int `mapstructure:"lose_xp"`
	DrawXP     int `mapstructure:"draw_xp"`
	StreakStep int `mapstructure:"streak_step"`
	StreakCap  int `mapstructure:"streak_cap"`
}

func LoadConfig(path string) (config *Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
