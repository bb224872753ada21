package battle

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/battleserver/logger"
	"github.com/wfunc/battleserver/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

// staticSource serves a fixed question pool.
type staticSource struct {
	pool []models.Question
}

func (s *staticSource) Questions(ctx context.Context, courseID string, n int) ([]models.Question, error) {
	if n > len(s.pool) {
		n = len(s.pool)
	}
	return s.pool[:n], nil
}

// recordingSink captures reward intents.
type recordingSink struct {
	mu      sync.Mutex
	intents []models.RewardIntent
}

func (s *recordingSink) Grant(intent models.RewardIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, intent)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.intents)
}

// recordingStore captures battle records.
type recordingStore struct {
	mu      sync.Mutex
	records []*models.BattleRecord
}

func (s *recordingStore) SaveBattleRecord(rec *models.BattleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func testQuestions() []models.Question {
	qs := make([]models.Question, 0, 5)
	for i := 0; i < 5; i++ {
		qs = append(qs, models.Question{
			ID:      "q" + string(rune('1'+i)),
			Text:    "What is the capital of question " + string(rune('1'+i)) + "?",
			Choices: []string{"A", "B", "C", "D", "E"},
			Answer:  2,
		})
	}
	return qs
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Countdown = 0
	cfg.RoundResultDelay = 0
	cfg.WinXP = 50
	cfg.LoseXP = 10
	cfg.DrawXP = 20
	return cfg
}

func testSetup(userID string, atk, def, hp int) PlayerSetup {
	return PlayerSetup{
		UserID:   userID,
		Nickname: userID,
		Loadout: []models.BattlePet{
			{PetID: userID + "-pet", Name: "pet", MaxHP: hp, Atk: atk, Def: def},
		},
	}
}

type testEnv struct {
	battle *Battle
	sink   *recordingSink
	store  *recordingStore
}

// newTestBattle assembles a battle without the tick loop and drives it to
// the first question round.
func newTestBattle(t *testing.T, cfg Config, a, b PlayerSetup) *testEnv {
	t.Helper()

	env := &testEnv{sink: &recordingSink{}, store: &recordingStore{}}
	env.battle = newBattle("battle-"+t.Name(), "course-1", a, b, cfg, battleDeps{
		source:  &staticSource{pool: testQuestions()},
		rewards: env.sink,
		records: env.store,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env.battle.Update()
		if !env.battle.IsFinished() && env.battle.statusNow() == StatusQuestion {
			return env
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("battle never reached the question phase, status=%s", env.battle.statusNow())
	return nil
}

func (b *Battle) statusNow() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Status
}

func (b *Battle) currentRound() *Round {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Rounds[b.CurrentRound]
}

// rewindRound shifts the live round's deadlines, simulating elapsed time.
func (b *Battle) rewindRound(started, timeout time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.Rounds[b.CurrentRound]
	r.StartedAt = time.Now().Add(-started)
	r.TimeoutAt = time.Now().Add(timeout)
}

func (b *Battle) rabbitHP(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Players[userID].activeRabbit().CurrentHP
}

func TestBattle_ReachesQuestionPhase(t *testing.T) {
	env := newTestBattle(t, testConfig(), testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))

	r := env.battle.currentRound()
	if r == nil {
		t.Fatal("Expected a live round after countdown")
	}
	if len(r.Question.Choices) != 5 {
		t.Errorf("Expected 5 choices, got %d", len(r.Question.Choices))
	}
	if env.battle.CurrentRound != 0 {
		t.Errorf("Expected round index 0, got %d", env.battle.CurrentRound)
	}
}

func TestBattle_DisconnectTermination(t *testing.T) {
	cfg := testConfig()
	cfg.DisconnectGrace = 10 * time.Millisecond
	env := newTestBattle(t, cfg, testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))

	env.battle.SetConnected("user-b", false)
	time.Sleep(30 * time.Millisecond)
	env.battle.Update()

	if !env.battle.IsFinished() {
		t.Fatal("Expected the battle to finish after the disconnect grace")
	}
	res := env.battle.Result
	if res.EndReason != EndReasonDisconnect {
		t.Errorf("Expected endReason disconnect, got %s", res.EndReason)
	}
	if res.WinnerID != "user-a" || res.LoserID != "user-b" {
		t.Errorf("Expected user-a to win by disconnect, got winner=%s loser=%s", res.WinnerID, res.LoserID)
	}
	if env.sink.count() != 2 {
		t.Errorf("Expected exactly one reward intent per player, got %d", env.sink.count())
	}
}

func TestBattle_ReconnectWithinGraceContinues(t *testing.T) {
	cfg := testConfig()
	cfg.DisconnectGrace = time.Minute
	env := newTestBattle(t, cfg, testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))

	env.battle.SetConnected("user-b", false)
	env.battle.Update()
	if env.battle.IsFinished() {
		t.Fatal("Battle should survive a disconnect inside the grace period")
	}

	env.battle.SetConnected("user-b", true)
	env.battle.Update()
	if env.battle.IsFinished() {
		t.Fatal("Battle should continue after a reconnect")
	}
	if env.battle.Players["user-b"].DisconnectedAt != (time.Time{}) {
		t.Error("Reconnect should clear the pending disconnect mark")
	}
}

func TestBattle_TimeoutDecidedByRemainingHP(t *testing.T) {
	env := newTestBattle(t, testConfig(), testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))

	env.battle.mu.Lock()
	env.battle.Players["user-b"].activeRabbit().CurrentHP = 40
	env.battle.EndsAt = time.Now().Add(-time.Second)
	env.battle.mu.Unlock()

	env.battle.Update()

	if !env.battle.IsFinished() {
		t.Fatal("Expected the battle deadline sweep to finish the battle")
	}
	res := env.battle.Result
	if res.EndReason != EndReasonTimeout {
		t.Errorf("Expected endReason timeout, got %s", res.EndReason)
	}
	if res.WinnerID != "user-a" {
		t.Errorf("Expected user-a to win on HP, got %s", res.WinnerID)
	}
}

func TestBattle_TimeoutEqualHPIsDraw(t *testing.T) {
	env := newTestBattle(t, testConfig(), testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))

	env.battle.mu.Lock()
	env.battle.EndsAt = time.Now().Add(-time.Second)
	env.battle.mu.Unlock()

	env.battle.Update()

	res := env.battle.Result
	if res == nil || !res.IsDraw {
		t.Fatalf("Expected a draw on equal HP, got %+v", res)
	}
	for _, intent := range env.sink.intents {
		if intent.XPDelta != 20 {
			t.Errorf("Expected draw XP 20, got %d", intent.XPDelta)
		}
	}
}

func TestBattle_FinalizeExactlyOnce(t *testing.T) {
	env := newTestBattle(t, testConfig(), testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))

	env.battle.mu.Lock()
	env.battle.EndsAt = time.Now().Add(-time.Second)
	env.battle.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.battle.Update()
		}()
	}
	wg.Wait()

	if env.sink.count() != 2 {
		t.Fatalf("Expected exactly 2 reward intents, got %d", env.sink.count())
	}
	if !env.battle.Result.XPGranted {
		t.Error("Expected xpGranted to be set after settlement")
	}
	env.store.mu.Lock()
	records := len(env.store.records)
	env.store.mu.Unlock()
	if records != 1 {
		t.Errorf("Expected exactly 1 battle record, got %d", records)
	}
}

func TestBattle_SwapRules(t *testing.T) {
	a := PlayerSetup{
		UserID:   "user-a",
		Nickname: "user-a",
		Loadout: []models.BattlePet{
			{PetID: "a1", MaxHP: 50, Atk: 10, Def: 2},
			{PetID: "a2", MaxHP: 60, Atk: 7, Def: 5},
		},
	}
	env := newTestBattle(t, testConfig(), a, testSetup("user-b", 8, 3, 100))
	b := env.battle

	if err := b.SwapRabbit("user-a"); err != nil {
		t.Fatalf("Swap with a living reserve should succeed, got %v", err)
	}
	if b.Players["user-a"].ActiveRabbit != 1 {
		t.Errorf("Expected active rabbit 1 after swap, got %d", b.Players["user-a"].ActiveRabbit)
	}

	// A single-pet player can never swap.
	if err := b.SwapRabbit("user-b"); err != ErrSwapUnavailable {
		t.Errorf("Expected ErrSwapUnavailable for single-pet player, got %v", err)
	}

	// Swapping onto a dead rabbit is rejected.
	b.mu.Lock()
	b.Players["user-a"].Rabbits[0].CurrentHP = 0
	b.mu.Unlock()
	if err := b.SwapRabbit("user-a"); err != ErrSwapUnavailable {
		t.Errorf("Expected ErrSwapUnavailable onto a dead rabbit, got %v", err)
	}

	// Swapping after answering is rejected.
	b.mu.Lock()
	b.Players["user-a"].Rabbits[0].CurrentHP = 50
	b.mu.Unlock()
	if _, err := b.SubmitAnswer("user-a", 2, time.Now()); err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if err := b.SwapRabbit("user-a"); err != ErrSwapUnavailable {
		t.Errorf("Expected ErrSwapUnavailable after answering, got %v", err)
	}
}
