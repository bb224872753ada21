// matchmaking/queue.go
package matchmaking

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/battleserver/battle"
	"github.com/wfunc/battleserver/logger"
	"github.com/wfunc/battleserver/models"
	"github.com/wfunc/battleserver/timer"
)

var (
	ErrAlreadyQueued   = errors.New("already queued")
	ErrAlreadyInBattle = errors.New("already in battle")
	ErrNotQueued       = errors.New("not queued")
	ErrNoLoadout       = errors.New("no pets equipped")
)

const (
	TicketWaiting = "waiting"
	TicketMatched = "matched"
)

// Ticket 是 Join 的返回结果:matched 时带 BattleID
type Ticket struct {
	Status   string `json:"status"`
	BattleID string `json:"battle_id,omitempty"`
}

// Entry 是一个排队中的玩家。claimed 在配对/取消/机器人兜底三方竞争中
// 持锁翻转一次,谁先翻转谁拥有这个条目。
type Entry struct {
	UserID    string
	Nickname  string
	ProfileID string
	CourseID  string
	Loadout   []models.BattlePet
	JoinedAt  time.Time

	claimed    bool
	botTimerID int64
}

// Queue 按课程分片的先进先出匹配队列。没有积分匹配,同课程内
// 先到先配;等不到人的由定时器补一个机器人对手。
type Queue struct {
	mu       sync.Mutex
	byCourse map[string][]*Entry
	byUser   map[string]*Entry

	battles *battle.Manager
	timers  *timer.Manager

	botWait     time.Duration
	botNickname string

	// OnMatched 在配对成功后通知两边(机器人不会出现在 userIDs 里)
	OnMatched func(battleID string, userIDs []string)
	// OnBotFallbackFailed 在机器人兜底建战失败时通知等待方,需要重新排队
	OnBotFallbackFailed func(userID string, err error)
}

func NewQueue(battles *battle.Manager, timers *timer.Manager, botWait time.Duration, botNickname string) *Queue {
	if botNickname == "" {
		botNickname = "training-bot"
	}
	return &Queue{
		byCourse:    make(map[string][]*Entry),
		byUser:      make(map[string]*Entry),
		battles:     battles,
		timers:      timers,
		botWait:     botWait,
		botNickname: botNickname,
	}
}

// Join enqueues a player for a course. If an opponent is already waiting in
// the same course the pair is claimed immediately and the battle created;
// otherwise the entry waits and a bot-fallback timer is armed.
func (q *Queue) Join(entry *Entry) (*Ticket, error) {
	if len(entry.Loadout) == 0 {
		return nil, ErrNoLoadout
	}

	q.mu.Lock()

	if _, ok := q.byUser[entry.UserID]; ok {
		q.mu.Unlock()
		return nil, ErrAlreadyQueued
	}
	if q.battles.InBattle(entry.UserID) {
		q.mu.Unlock()
		return nil, ErrAlreadyInBattle
	}

	entry.JoinedAt = time.Now()

	opponent := q.claimOldestLocked(entry.CourseID)
	if opponent == nil {
		q.byUser[entry.UserID] = entry
		q.byCourse[entry.CourseID] = append(q.byCourse[entry.CourseID], entry)
		userID := entry.UserID
		entry.botTimerID = q.timers.AddTimer(q.botWait, 0, func() {
			q.botFallback(userID)
		})
		q.mu.Unlock()
		return &Ticket{Status: TicketWaiting}, nil
	}
	// 建战必须在队列锁内完成:对手条目一出队,对战登记就要立刻可见,
	// 否则被配对的一方能在这个窗口里再次入队。
	bt, err := q.battles.CreateBattle(entry.CourseID, setupFor(opponent), setupFor(entry))
	q.mu.Unlock()
	if err != nil {
		// 对手条目已经被消费掉,只能让双方重新排队
		logger.Log.Errorw("matchmaking pair failed", "course", entry.CourseID, "error", err)
		q.notifyFallbackFailed(opponent.UserID, err)
		return nil, fmt.Errorf("create battle: %w", err)
	}

	logger.Log.Infow("matched", "battle", bt.ID, "course", entry.CourseID,
		"red", opponent.UserID, "blue", entry.UserID)
	q.notifyMatched(bt.ID, []string{opponent.UserID, entry.UserID})
	return &Ticket{Status: TicketMatched, BattleID: bt.ID}, nil
}

// Cancel removes a waiting entry. A cancel that loses the race to a pairing
// or a bot fallback is a no-op success: the caller is in a battle now.
func (q *Queue) Cancel(userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.byUser[userID]
	if !ok {
		// A cancel that lost the race to a pairing is a no-op success:
		// the caller is in a battle now.
		if q.battles.InBattle(userID) {
			return nil
		}
		return ErrNotQueued
	}
	if entry.claimed {
		return nil
	}
	q.removeLocked(entry)
	return nil
}

// Waiting reports the number of queued entries across all courses.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byUser)
}

// Sweep drops waiting entries older than maxAge. Janitor use: an entry this
// old means its bot timer never fired, which only happens after a timer
// manager restart.
func (q *Queue) Sweep(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for _, entry := range q.byUser {
		if !entry.claimed && time.Since(entry.JoinedAt) > maxAge {
			q.removeLocked(entry)
			removed++
		}
	}
	return removed
}

// claimOldestLocked pops the oldest unclaimed entry for the course.
func (q *Queue) claimOldestLocked(courseID string) *Entry {
	list := q.byCourse[courseID]
	for len(list) > 0 {
		head := list[0]
		list = list[1:]
		if head.claimed {
			continue
		}
		head.claimed = true
		q.byCourse[courseID] = list
		delete(q.byUser, head.UserID)
		if head.botTimerID != 0 {
			q.timers.RemoveTimer(head.botTimerID)
		}
		return head
	}
	delete(q.byCourse, courseID)
	return nil
}

func (q *Queue) removeLocked(entry *Entry) {
	entry.claimed = true
	delete(q.byUser, entry.UserID)
	if entry.botTimerID != 0 {
		q.timers.RemoveTimer(entry.botTimerID)
	}
	list := q.byCourse[entry.CourseID]
	for i, e := range list {
		if e == entry {
			q.byCourse[entry.CourseID] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// botFallback fires when an entry waited botWait without an opponent.
func (q *Queue) botFallback(userID string) {
	q.mu.Lock()
	entry, ok := q.byUser[userID]
	if !ok || entry.claimed {
		// 已被配对或取消,定时器输掉了竞争
		q.mu.Unlock()
		return
	}
	q.removeLocked(entry)

	// 同配对路径:出队和对战登记在同一把锁内,杜绝重复入队窗口。
	bot := botSetup(entry.CourseID, q.botNickname)
	bt, err := q.battles.CreateBattle(entry.CourseID, setupFor(entry), bot)
	q.mu.Unlock()
	if err != nil {
		logger.Log.Errorw("bot fallback failed", "user", userID, "error", err)
		q.notifyFallbackFailed(userID, err)
		return
	}
	logger.Log.Infow("bot fallback", "battle", bt.ID, "user", userID, "course", entry.CourseID)
	q.notifyMatched(bt.ID, []string{userID})
}

func (q *Queue) notifyMatched(battleID string, userIDs []string) {
	if q.OnMatched != nil {
		q.OnMatched(battleID, userIDs)
	}
}

func (q *Queue) notifyFallbackFailed(userID string, err error) {
	if q.OnBotFallbackFailed != nil {
		q.OnBotFallbackFailed(userID, err)
	}
}

func setupFor(e *Entry) battle.PlayerSetup {
	return battle.PlayerSetup{
		UserID:    e.UserID,
		Nickname:  e.Nickname,
		ProfileID: e.ProfileID,
		Loadout:   e.Loadout,
	}
}

// botSetup synthesizes a deterministic bot opponent for a course: the same
// course always yields the same stat line, so practice battles are
// reproducible.
func botSetup(courseID, nickname string) battle.PlayerSetup {
	h := fnv.New64a()
	h.Write([]byte("bot:" + courseID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	mk := func(name string) models.BattlePet {
		return models.BattlePet{
			PetID: "bot-" + name + "-" + courseID,
			Name:  name,
			MaxHP: 90 + rng.Intn(21),
			Atk:   8 + rng.Intn(5),
			Def:   2 + rng.Intn(3),
		}
	}
	return battle.PlayerSetup{
		UserID:   "bot-" + uuid.New().String(),
		Nickname: nickname,
		IsBot:    true,
		Loadout:  []models.BattlePet{mk("carrot"), mk("clover")},
	}
}
