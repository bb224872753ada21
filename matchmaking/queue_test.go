package matchmaking

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/battleserver/battle"
	"github.com/wfunc/battleserver/logger"
	"github.com/wfunc/battleserver/models"
	"github.com/wfunc/battleserver/timer"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

type fixedSource struct{}

func (fixedSource) Questions(ctx context.Context, courseID string, n int) ([]models.Question, error) {
	qs := make([]models.Question, n)
	for i := range qs {
		qs[i] = models.Question{
			ID:      "q",
			Text:    "2+2?",
			Choices: []string{"3", "4", "5", "6", "7"},
			Answer:  1,
		}
	}
	return qs, nil
}

type nopSink struct{}

func (nopSink) Grant(models.RewardIntent) error { return nil }

type nopStore struct{}

func (nopStore) SaveBattleRecord(*models.BattleRecord) error { return nil }

func testEntry(userID, courseID string) *Entry {
	return &Entry{
		UserID:   userID,
		Nickname: userID,
		CourseID: courseID,
		Loadout: []models.BattlePet{
			{PetID: userID + "-pet", Name: "pet", MaxHP: 100, Atk: 10, Def: 2},
		},
	}
}

func newTestQueue(t *testing.T, botWait time.Duration) (*Queue, *battle.Manager, *timer.Manager) {
	t.Helper()
	timers := timer.NewManager()
	t.Cleanup(timers.Stop)

	cfg := battle.DefaultConfig()
	battles := battle.NewManager(cfg, fixedSource{}, nopSink{}, nopStore{}, timers)
	t.Cleanup(battles.Shutdown)
	return NewQueue(battles, timers, botWait, "training-bot"), battles, timers
}

func TestQueue_PairsSameCourseFIFO(t *testing.T) {
	q, battles, _ := newTestQueue(t, time.Hour)

	var mu sync.Mutex
	var matched []string
	q.OnMatched = func(battleID string, userIDs []string) {
		mu.Lock()
		matched = userIDs
		mu.Unlock()
	}

	ticket, err := q.Join(testEntry("user-a", "course-1"))
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if ticket.Status != TicketWaiting {
		t.Fatalf("Expected the first entry to wait, got %s", ticket.Status)
	}

	ticket, err = q.Join(testEntry("user-b", "course-1"))
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if ticket.Status != TicketMatched || ticket.BattleID == "" {
		t.Fatalf("Expected a match, got %+v", ticket)
	}

	if !battles.InBattle("user-a") || !battles.InBattle("user-b") {
		t.Error("Both players should be registered in the battle")
	}
	if q.Waiting() != 0 {
		t.Errorf("Queue should be empty after pairing, got %d", q.Waiting())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(matched) != 2 || matched[0] != "user-a" || matched[1] != "user-b" {
		t.Errorf("OnMatched got %v, want the earlier entry first", matched)
	}
}

func TestQueue_CoursesNeverCrossPair(t *testing.T) {
	q, _, _ := newTestQueue(t, time.Hour)

	q.Join(testEntry("user-a", "course-1"))
	ticket, err := q.Join(testEntry("user-b", "course-2"))
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if ticket.Status != TicketWaiting {
		t.Errorf("Entries in different courses must not pair, got %s", ticket.Status)
	}
	if q.Waiting() != 2 {
		t.Errorf("Expected both entries waiting, got %d", q.Waiting())
	}
}

func TestQueue_JoinValidation(t *testing.T) {
	q, _, _ := newTestQueue(t, time.Hour)

	if _, err := q.Join(&Entry{UserID: "user-a", CourseID: "course-1"}); err != ErrNoLoadout {
		t.Errorf("Expected ErrNoLoadout, got %v", err)
	}

	q.Join(testEntry("user-a", "course-1"))
	if _, err := q.Join(testEntry("user-a", "course-1")); err != ErrAlreadyQueued {
		t.Errorf("Expected ErrAlreadyQueued, got %v", err)
	}

	q.Join(testEntry("user-b", "course-1")) // pairs with user-a
	if _, err := q.Join(testEntry("user-a", "course-1")); err != ErrAlreadyInBattle {
		t.Errorf("Expected ErrAlreadyInBattle while the battle runs, got %v", err)
	}
}

func TestQueue_CancelRemovesWaitingEntry(t *testing.T) {
	q, _, _ := newTestQueue(t, time.Hour)

	q.Join(testEntry("user-a", "course-1"))
	if err := q.Cancel("user-a"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if q.Waiting() != 0 {
		t.Errorf("Expected an empty queue, got %d", q.Waiting())
	}

	// Cancelled entries pair with nobody.
	ticket, _ := q.Join(testEntry("user-b", "course-1"))
	if ticket.Status != TicketWaiting {
		t.Error("A cancelled entry must not be claimable")
	}

	if err := q.Cancel("stranger"); err != ErrNotQueued {
		t.Errorf("Expected ErrNotQueued, got %v", err)
	}
}

func TestQueue_CancelAfterPairingIsNoopSuccess(t *testing.T) {
	q, _, _ := newTestQueue(t, time.Hour)

	q.Join(testEntry("user-a", "course-1"))
	q.Join(testEntry("user-b", "course-1"))

	if err := q.Cancel("user-a"); err != nil {
		t.Errorf("A cancel losing the race to a pairing must succeed, got %v", err)
	}
}

func TestQueue_BotFallbackAfterWait(t *testing.T) {
	q, battles, _ := newTestQueue(t, 30*time.Millisecond)

	var mu sync.Mutex
	var battleID string
	var matched []string
	q.OnMatched = func(id string, userIDs []string) {
		mu.Lock()
		battleID, matched = id, userIDs
		mu.Unlock()
	}

	if _, err := q.Join(testEntry("user-a", "course-1")); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := battleID != ""
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if battleID == "" {
		t.Fatal("Bot fallback never fired")
	}
	if len(matched) != 1 || matched[0] != "user-a" {
		t.Errorf("OnMatched should carry only the human, got %v", matched)
	}
	if q.Waiting() != 0 {
		t.Errorf("Expected the entry consumed, got %d waiting", q.Waiting())
	}

	bt, ok := battles.GetBattle(battleID)
	if !ok {
		t.Fatal("Fallback battle not registered")
	}
	hasBot := false
	for _, id := range bt.UserIDs() {
		if id != "user-a" {
			hasBot = true
		}
	}
	if !hasBot {
		t.Error("Expected a synthesized bot opponent")
	}
}

func TestQueue_CancelBeatsBotFallback(t *testing.T) {
	q, battles, _ := newTestQueue(t, 30*time.Millisecond)

	q.Join(testEntry("user-a", "course-1"))
	if err := q.Cancel("user-a"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if battles.Count() != 0 {
		t.Error("A cancelled entry must not get a bot battle")
	}
}

func TestQueue_SweepDropsStaleEntries(t *testing.T) {
	q, _, _ := newTestQueue(t, time.Hour)

	q.Join(testEntry("user-a", "course-1"))
	q.mu.Lock()
	q.byUser["user-a"].JoinedAt = time.Now().Add(-time.Hour)
	q.mu.Unlock()

	if got := q.Sweep(10 * time.Minute); got != 1 {
		t.Errorf("Expected 1 swept entry, got %d", got)
	}
	if q.Waiting() != 0 {
		t.Errorf("Expected an empty queue, got %d", q.Waiting())
	}
}

func TestBotSetup_Deterministic(t *testing.T) {
	a := botSetup("course-1", "training-bot")
	b := botSetup("course-1", "training-bot")

	if len(a.Loadout) != 2 || len(b.Loadout) != 2 {
		t.Fatalf("Expected two bot pets, got %d/%d", len(a.Loadout), len(b.Loadout))
	}
	for i := range a.Loadout {
		if a.Loadout[i].MaxHP != b.Loadout[i].MaxHP ||
			a.Loadout[i].Atk != b.Loadout[i].Atk ||
			a.Loadout[i].Def != b.Loadout[i].Def {
			t.Errorf("Bot stats for the same course must match: %+v vs %+v",
				a.Loadout[i], b.Loadout[i])
		}
	}
	if !a.IsBot {
		t.Error("Expected the bot flag set")
	}
	if a.UserID == b.UserID {
		t.Error("Bot identities must still be unique")
	}
}

// A claimed entry leaves the queue and joins the battle registry under the
// same queue lock, so the claimed user can never slip a fresh Join between
// the two. Every rejoin attempt during pairing hits one of the guards.
func TestQueue_ClaimedEntryCannotRejoinMidPairing(t *testing.T) {
	q, battles, _ := newTestQueue(t, time.Hour)

	if _, err := q.Join(testEntry("user-a", "go-basics")); err != nil {
		t.Fatalf("first Join failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := q.Join(testEntry("user-b", "go-basics")); err != nil {
			t.Errorf("pairing Join failed: %v", err)
		}
	}()

	for pairing := true; pairing; {
		select {
		case <-done:
			pairing = false
		default:
		}
		if _, err := q.Join(testEntry("user-a", "go-basics")); err != ErrAlreadyQueued && err != ErrAlreadyInBattle {
			t.Fatalf("rejoin during pairing got %v, want a guard error", err)
		}
	}

	if !battles.InBattle("user-a") || !battles.InBattle("user-b") {
		t.Error("both users should be in the battle after pairing")
	}
	if got := q.Waiting(); got != 0 {
		t.Errorf("Waiting() = %d, want 0", got)
	}
	if got := battles.Count(); got != 1 {
		t.Errorf("battles.Count() = %d, want 1", got)
	}
}
