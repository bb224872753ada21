// battle/battle.go
package battle

import (
	"sync"
	"time"

	"github.com/wfunc/battleserver/models"
	"github.com/wfunc/battleserver/state"
	"github.com/wfunc/battleserver/timer"
)

// Status 表示对战会话的业务状态
type Status string

const (
	StatusLoading     Status = "loading"
	StatusCountdown   Status = "countdown"
	StatusQuestion    Status = "question"
	StatusSwap        Status = "swap"
	StatusMash        Status = "mash"
	StatusRoundResult Status = "roundResult"
	StatusFinished    Status = "finished"
)

type EndReason string

const (
	EndReasonKO         EndReason = "ko"
	EndReasonTimeout    EndReason = "timeout"
	EndReasonDisconnect EndReason = "disconnect"
)

const (
	SideRed  = "red"
	SideBlue = "blue"
)

// Rabbit is one battle pet. Stats are frozen at session start; HP only ever
// goes down.
type Rabbit struct {
	RabbitID  string `json:"rabbit_id"`
	MaxHP     int    `json:"max_hp"`
	CurrentHP int    `json:"current_hp"`
	Atk       int    `json:"atk"`
	Def       int    `json:"def"`
}

// Player is one side of the battle.
type Player struct {
	UserID         string    `json:"user_id"`
	Nickname       string    `json:"nickname"`
	ProfileID      string    `json:"profile_id"`
	IsBot          bool      `json:"is_bot"`
	Rabbits        []*Rabbit `json:"rabbits"`
	ActiveRabbit   int       `json:"active_rabbit"`
	Connected      bool      `json:"connected"`
	DisconnectedAt time.Time `json:"-"`
}

func (p *Player) activeRabbit() *Rabbit {
	return p.Rabbits[p.ActiveRabbit]
}

// TotalHP sums remaining HP across all rabbits.
func (p *Player) TotalHP() int {
	total := 0
	for _, r := range p.Rabbits {
		total += r.CurrentHP
	}
	return total
}

// Defeated reports whether every rabbit is at 0 HP.
func (p *Player) Defeated() bool {
	return p.TotalHP() == 0
}

// Answer is one submitted answer. Late answers are kept but scored as
// incorrect with zero damage.
type Answer struct {
	Choice     int       `json:"choice"`
	AnsweredAt time.Time `json:"answered_at"`
	Late       bool      `json:"late"`
}

// RoundOutcome is the arbitrated per-player result of a round.
type RoundOutcome struct {
	IsCorrect      bool `json:"is_correct"`
	Damage         int  `json:"damage"`
	IsCritical     bool `json:"is_critical"`
	DamageReceived int  `json:"damage_received"`
}

// Round is one question exchange. Scored is the transactional lock: it
// flips false->true exactly once under the battle mutex, no matter how many
// triggers race.
type Round struct {
	Question      models.Question
	StartedAt     time.Time
	TimeoutAt     time.Time
	Answers       map[string]*Answer
	Result        map[string]*RoundOutcome
	Scored        bool
	MashTriggered bool
}

// MashOutcome is the resolved mini-game result.
type MashOutcome struct {
	WinnerID    string `json:"winner_id,omitempty"`
	BonusDamage int    `json:"bonus_damage"`
	Draw        bool   `json:"draw"`
}

// Mash is the tug-of-war sub-state. The gauge runs 0..100 from the blue end
// to the red end and starts centered; each tap moves it one step toward the
// tapper's end.
type Mash struct {
	MashID    string         `json:"mash_id"`
	StartedAt time.Time      `json:"started_at"`
	EndsAt    time.Time      `json:"ends_at"`
	Taps      map[string]int `json:"taps"`
	Gauge     float64        `json:"gauge"`
	Result    *MashOutcome   `json:"result,omitempty"`
}

// Result is the final battle outcome. XPGranted guards reward emission.
type Result struct {
	WinnerID  string    `json:"winner_id,omitempty"`
	LoserID   string    `json:"loser_id,omitempty"`
	IsDraw    bool      `json:"is_draw"`
	EndReason EndReason `json:"end_reason"`
	XPGranted bool      `json:"xp_granted"`
}

// PlayerSetup describes one entrant when a battle is created.
type PlayerSetup struct {
	UserID    string
	Nickname  string
	ProfileID string
	IsBot     bool
	Loadout   []models.BattlePet
}

// Battle 是一场1v1对战的核心结构。所有可变子状态都由 mu 保护;
// 每个可能竞争的转换(计分、揉按解算、终局结算)在持锁时做一次
// check-and-set,保证恰好一次语义。
type Battle struct {
	ID        string
	CourseID  string
	cfg       Config
	CreatedAt time.Time
	EndsAt    time.Time

	Status             Status
	CountdownStartedAt time.Time
	CurrentRound       int
	NextRound          int
	Players            map[string]*Player
	Colors             map[string]string // userId -> side
	Rounds             map[int]*Round
	Mash               *Mash
	Result             *Result

	questions []models.Question
	loaded    bool
	loadErr   error

	machine     state.StateMachine
	broadcaster Broadcaster
	source      QuestionSource
	rewards     RewardSink
	records     RecordStore
	timers      *timer.Manager
	bot         *botDriver
	onFinish    func(*Battle)

	mu        sync.Mutex
	closeChan chan bool
	closeOnce sync.Once
	ticker    *time.Ticker
}

// newBattle assembles the session and enters the loading phase. The tick
// loop is started separately so tests can drive Update by hand.
func newBattle(id, courseID string, a, b PlayerSetup, cfg Config, deps battleDeps) *Battle {
	now := time.Now()
	bt := &Battle{
		ID:          id,
		CourseID:    courseID,
		cfg:         cfg,
		CreatedAt:   now,
		EndsAt:      now.Add(cfg.BattleDuration),
		Status:      StatusLoading,
		CurrentRound: -1,
		NextRound:   -1,
		Players:     make(map[string]*Player),
		Colors:      make(map[string]string),
		Rounds:      make(map[int]*Round),
		broadcaster: deps.broadcaster,
		source:      deps.source,
		rewards:     deps.rewards,
		records:     deps.records,
		timers:      deps.timers,
		onFinish:    deps.onFinish,
		closeChan:   make(chan bool),
	}

	bt.Players[a.UserID] = newPlayer(a)
	bt.Players[b.UserID] = newPlayer(b)
	bt.Colors[a.UserID] = SideRed
	bt.Colors[b.UserID] = SideBlue

	bt.bot = newBotDriver(bt)
	bt.machine = state.NewBaseStateMachine(newLoadingPhase(bt))
	return bt
}

type battleDeps struct {
	broadcaster Broadcaster
	source      QuestionSource
	rewards     RewardSink
	records     RecordStore
	timers      *timer.Manager
	onFinish    func(*Battle)
}

func newPlayer(s PlayerSetup) *Player {
	p := &Player{
		UserID:    s.UserID,
		Nickname:  s.Nickname,
		ProfileID: s.ProfileID,
		IsBot:     s.IsBot,
		Connected: true,
	}
	for _, pet := range s.Loadout {
		p.Rabbits = append(p.Rabbits, &Rabbit{
			RabbitID:  pet.PetID,
			MaxHP:     pet.MaxHP,
			CurrentHP: pet.MaxHP,
			Atk:       pet.Atk,
			Def:       pet.Def,
		})
	}
	return p
}

// start launches the 100ms tick loop driving deadline sweeps.
func (b *Battle) start() {
	b.ticker = time.NewTicker(100 * time.Millisecond)
	go b.loop()
}

func (b *Battle) loop() {
	for {
		select {
		case <-b.ticker.C:
			b.Update()
		case <-b.closeChan:
			b.ticker.Stop()
			return
		}
	}
}

// Update runs one sweep: disconnect grace, battle deadline, then the
// current phase. Timeout transitions fire here even if no client message
// ever arrives.
func (b *Battle) Update() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Status == StatusFinished {
		return
	}
	if b.checkDisconnectLocked(time.Now()) {
		return
	}
	if b.checkExpiredLocked(time.Now()) {
		return
	}
	if st := b.machine.GetCurrentState(); st != nil {
		st.OnUpdate()
	}
}

// HandleAction routes a raw action envelope to the current phase.
func (b *Battle) HandleAction(userID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.Players[userID]; !ok {
		return ErrNotInBattle
	}
	st := b.machine.GetCurrentState()
	if st == nil {
		return ErrBattleFinished
	}
	return st.HandleAction(userID, data)
}

// SetConnected consumes the external liveness signal. It may flip at any
// time, including mid-round; termination is decided by the tick sweep once
// the grace period runs out.
func (b *Battle) SetConnected(userID string, connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.Players[userID]
	if !ok || b.Status == StatusFinished {
		return
	}
	p.Connected = connected
	if connected {
		p.DisconnectedAt = time.Time{}
	} else {
		p.DisconnectedAt = time.Now()
	}
	b.publishLocked()
}

// SwapRabbit changes the active pet during a question round. Allowed only
// before the player has answered and only onto a living rabbit; the round
// deadline is untouched, so swapping consumes no round time.
func (b *Battle) SwapRabbit(userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.swapLocked(userID)
}

func (b *Battle) swapLocked(userID string) error {
	p, ok := b.Players[userID]
	if !ok {
		return ErrNotInBattle
	}
	if b.Status != StatusQuestion {
		return ErrSwapUnavailable
	}
	r := b.Rounds[b.CurrentRound]
	if r == nil || r.Scored {
		return ErrSwapUnavailable
	}
	if _, answered := r.Answers[userID]; answered {
		return ErrSwapUnavailable
	}
	if len(p.Rabbits) < 2 {
		return ErrSwapUnavailable
	}
	other := 1 - p.ActiveRabbit
	if p.Rabbits[other].CurrentHP <= 0 {
		return ErrSwapUnavailable
	}

	b.Status = StatusSwap
	b.publishLocked()
	p.ActiveRabbit = other
	b.Status = StatusQuestion
	b.publishLocked()
	return nil
}

// IsFinished reports whether the final result has been produced.
func (b *Battle) IsFinished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Status == StatusFinished
}

// Deadline returns the configured battle end instant.
func (b *Battle) Deadline() time.Time {
	return b.EndsAt
}

// UserIDs returns the human player ids, red side first.
func (b *Battle) UserIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.humanIDsLocked()
}

func (b *Battle) humanIDsLocked() []string {
	var ids []string
	for _, id := range b.orderedIDsLocked() {
		if !b.Players[id].IsBot {
			ids = append(ids, id)
		}
	}
	return ids
}

// orderedIDsLocked returns both player ids, red side first, so every
// computation iterates in a stable order.
func (b *Battle) orderedIDsLocked() []string {
	ids := make([]string, 2)
	for id, side := range b.Colors {
		if side == SideRed {
			ids[0] = id
		} else {
			ids[1] = id
		}
	}
	return ids
}

func (b *Battle) opponentLocked(userID string) *Player {
	for id, p := range b.Players {
		if id != userID {
			return p
		}
	}
	return nil
}

func (b *Battle) setStatusLocked(s Status) {
	b.Status = s
}

// Close stops the tick loop. Idempotent.
func (b *Battle) Close() {
	b.closeOnce.Do(func() {
		close(b.closeChan)
	})
}

// checkDisconnectLocked terminates the battle when a player has been gone
// longer than the grace period. Both gone is a draw.
func (b *Battle) checkDisconnectLocked(now time.Time) bool {
	var gone []string
	for id, p := range b.Players {
		if p.IsBot || p.Connected || p.DisconnectedAt.IsZero() {
			continue
		}
		if now.Sub(p.DisconnectedAt) > b.cfg.DisconnectGrace {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return false
	}
	if len(gone) == len(b.Players) || len(gone) == 2 {
		b.finishLocked("", "", true, EndReasonDisconnect)
		return true
	}
	loser := gone[0]
	winner := b.opponentLocked(loser).UserID
	b.finishLocked(winner, loser, false, EndReasonDisconnect)
	return true
}

// checkExpiredLocked ends the battle at its wall-clock deadline; the winner
// is decided by total remaining HP.
func (b *Battle) checkExpiredLocked(now time.Time) bool {
	if now.Before(b.EndsAt) {
		return false
	}
	b.finishByHPLocked(EndReasonTimeout)
	return true
}
