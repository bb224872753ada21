package battle

import "time"

// Config carries every timing and scoring knob of one battle. All deadlines
// derived from it are server-anchored wall-clock instants.
type Config struct {
	BattleDuration   time.Duration
	Countdown        time.Duration
	QuestionTimeout  time.Duration
	CriticalWindow   time.Duration
	CritMultiplier   int
	RoundResultDelay time.Duration
	MashDuration     time.Duration
	MashTapStep      float64
	MashBonusDamage  int
	RoundCount       int
	DisconnectGrace  time.Duration

	WinXP  int
	LoseXP int
	DrawXP int
}

func DefaultConfig() Config {
	return Config{
		BattleDuration:   3 * time.Minute,
		Countdown:        3 * time.Second,
		QuestionTimeout:  20 * time.Second,
		CriticalWindow:   5 * time.Second,
		CritMultiplier:   2,
		RoundResultDelay: 4 * time.Second,
		MashDuration:     10 * time.Second,
		MashTapStep:      1.5,
		MashBonusDamage:  12,
		RoundCount:       10,
		DisconnectGrace:  15 * time.Second,
	}
}
