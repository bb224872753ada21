package battle

import (
	"testing"
	"time"
)

// enterMash drives a battle into the tie-break by having both players
// answer wrong.
func enterMash(t *testing.T, env *testEnv) {
	t.Helper()
	b := env.battle
	if _, err := b.SubmitAnswer("user-a", 0, time.Now()); err != nil {
		t.Fatalf("user-a answer failed: %v", err)
	}
	out, err := b.SubmitAnswer("user-b", 1, time.Now())
	if err != nil {
		t.Fatalf("user-b answer failed: %v", err)
	}
	if !out.MashTriggered || b.statusNow() != StatusMash {
		t.Fatalf("battle did not enter the mash, status=%s", b.statusNow())
	}
}

func TestMash_ThresholdTerminatesWithBonusDamage(t *testing.T) {
	cfg := testConfig()
	cfg.MashTapStep = 25 // 2 taps from center to a terminal gauge
	env := newTestBattle(t, cfg, testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))
	b := env.battle
	enterMash(t, env)

	out, err := b.Tap("user-a") // red, pushes up
	if err != nil {
		t.Fatalf("Tap failed: %v", err)
	}
	if out.Resolved {
		t.Fatal("One tap must not reach the threshold yet")
	}
	if out.Gauge != 75 {
		t.Errorf("Expected gauge 75 after one red tap, got %v", out.Gauge)
	}

	out, err = b.Tap("user-a")
	if err != nil {
		t.Fatalf("Tap failed: %v", err)
	}
	if !out.Resolved || out.Result == nil {
		t.Fatal("Expected the gauge hitting the edge to resolve the mash")
	}
	if out.Result.WinnerID != "user-a" || out.Result.Draw {
		t.Errorf("Expected user-a to win the mash, got %+v", out.Result)
	}
	if out.Result.BonusDamage != cfg.MashBonusDamage {
		t.Errorf("Expected bonus damage %d, got %d", cfg.MashBonusDamage, out.Result.BonusDamage)
	}
	if got := b.rabbitHP("user-b"); got != 100-cfg.MashBonusDamage {
		t.Errorf("Expected the loser to take the bonus hit, got %d HP", got)
	}
	if got := b.rabbitHP("user-a"); got != 100 {
		t.Errorf("The winner takes no mash damage, got %d HP", got)
	}
}

func TestMash_OpposingTapsCancelOut(t *testing.T) {
	env := newTestBattle(t, testConfig(), testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))
	b := env.battle
	enterMash(t, env)

	for i := 0; i < 4; i++ {
		b.Tap("user-a")
		b.Tap("user-b")
	}
	out, err := b.Tap("user-a")
	if err != nil {
		t.Fatalf("Tap failed: %v", err)
	}
	if out.Gauge != gaugeCenter+1.5 {
		t.Errorf("Expected the gauge one step above center, got %v", out.Gauge)
	}
	if out.Taps != 5 {
		t.Errorf("Expected 5 recorded taps for user-a, got %d", out.Taps)
	}
}

func TestMash_DeadCenterDeadlineIsDrawWithoutBonus(t *testing.T) {
	env := newTestBattle(t, testConfig(), testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))
	b := env.battle
	enterMash(t, env)

	b.mu.Lock()
	b.Mash.EndsAt = time.Now().Add(-time.Second)
	b.mu.Unlock()

	out, err := b.Tap("user-a")
	if err != nil {
		t.Fatalf("Tap failed: %v", err)
	}
	if !out.Resolved || out.Result == nil {
		t.Fatal("Expected a tap past the deadline to resolve the mash")
	}
	if !out.Result.Draw || out.Result.WinnerID != "" {
		t.Errorf("Expected a forced draw at a centered gauge, got %+v", out.Result)
	}
	if out.Result.BonusDamage != 0 {
		t.Errorf("A drawn mash carries no bonus damage, got %d", out.Result.BonusDamage)
	}
	if out.Taps != 0 {
		t.Error("The post-deadline tap must not be counted")
	}
	if b.rabbitHP("user-a") != 100 || b.rabbitHP("user-b") != 100 {
		t.Error("A drawn mash must not move HP")
	}
}

func TestMash_DeadlineResolvedBySweep(t *testing.T) {
	env := newTestBattle(t, testConfig(), testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))
	b := env.battle
	enterMash(t, env)

	b.Tap("user-b")
	b.Tap("user-b")
	b.mu.Lock()
	b.Mash.EndsAt = time.Now().Add(-time.Millisecond)
	mash := b.Mash
	b.mu.Unlock()

	b.Update()
	if mash.Result == nil {
		t.Fatal("Expected the tick sweep to resolve the mash at its deadline")
	}
	if mash.Result.WinnerID != "user-b" {
		t.Errorf("Expected user-b ahead on the gauge to win, got %+v", mash.Result)
	}
	if got := b.rabbitHP("user-a"); got != 100-b.cfg.MashBonusDamage {
		t.Errorf("Expected the bonus applied to user-a, got %d HP", got)
	}
}

func TestMash_TapAfterResolutionIsIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.MashTapStep = 50
	env := newTestBattle(t, cfg, testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))
	b := env.battle
	enterMash(t, env)

	first, err := b.Tap("user-a")
	if err != nil {
		t.Fatalf("Tap failed: %v", err)
	}
	if !first.Resolved {
		t.Fatal("Expected a single oversized tap to resolve the mash")
	}
	hp := b.rabbitHP("user-b")

	second, err := b.Tap("user-b")
	if err != nil {
		t.Fatalf("A tap after resolution must not error, got %v", err)
	}
	if !second.Resolved || second.Result != first.Result {
		t.Error("Late taps must return the already-settled result")
	}
	if second.Taps != 0 {
		t.Errorf("Late taps must not be counted, got %d", second.Taps)
	}
	if got := b.rabbitHP("user-b"); got != hp {
		t.Errorf("Late taps must not move HP: %d -> %d", hp, got)
	}
}

func TestMash_TapOutsideMashRejected(t *testing.T) {
	env := newTestBattle(t, testConfig(), testSetup("user-a", 10, 2, 100), testSetup("user-b", 8, 3, 100))

	if _, err := env.battle.Tap("user-a"); err != ErrMashNotActive {
		t.Errorf("Expected ErrMashNotActive during the question phase, got %v", err)
	}
	if _, err := env.battle.Tap("stranger"); err != ErrNotInBattle {
		t.Errorf("Expected ErrNotInBattle for an outsider, got %v", err)
	}
}
