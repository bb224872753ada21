// battle/bot.go
package battle

import (
	"hash/fnv"
	"math/rand"
	"time"
)

const (
	botAccuracy    = 0.65
	botTapsPerTick = 1
)

// botDriver plays the bot side of a battle. Everything it rolls comes from
// a source seeded by the battle id, so a given battle always replays the
// same bot delays, answers and tap budget.
type botDriver struct {
	b       *Battle
	rng     *rand.Rand
	mashTap map[string]int // planned tap budget per bot for the current mash
}

func newBotDriver(b *Battle) *botDriver {
	h := fnv.New64a()
	h.Write([]byte(b.ID))
	return &botDriver{
		b:       b,
		rng:     rand.New(rand.NewSource(int64(h.Sum64()))),
		mashTap: make(map[string]int),
	}
}

// scheduleAnswersLocked arms one answer timer per bot for the given round.
// Delay, correctness and choice are all rolled here, under the battle lock,
// so the rng sequence only depends on round order.
func (d *botDriver) scheduleAnswersLocked(roundIndex int) {
	b := d.b
	if b.timers == nil {
		return
	}
	r := b.Rounds[roundIndex]
	for id, p := range b.Players {
		if !p.IsBot {
			continue
		}
		delay := b.cfg.QuestionTimeout/10 +
			time.Duration(d.rng.Float64()*float64(b.cfg.QuestionTimeout/2))
		choice := d.rollChoice(r.Question.Answer, len(r.Question.Choices))

		botID := id
		b.timers.AddTimer(delay, 0, func() {
			b.botAnswer(botID, roundIndex, choice)
		})
	}
}

func (d *botDriver) rollChoice(answer, choices int) int {
	if d.rng.Float64() < botAccuracy || choices < 2 {
		return answer
	}
	return (answer + 1 + d.rng.Intn(choices-1)) % choices
}

// botAnswer fires from the shared timer; a stale round is simply ignored.
func (b *Battle) botAnswer(botID string, roundIndex int, choice int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Status != StatusQuestion || b.CurrentRound != roundIndex {
		return
	}
	if _, done := b.Rounds[roundIndex].Answers[botID]; done {
		return
	}
	b.submitAnswerLocked(botID, choice, time.Now())
}

// planMashLocked rolls each bot's tap budget for the freshly created mash.
func (d *botDriver) planMashLocked() {
	d.mashTap = make(map[string]int)
	for id, p := range d.b.Players {
		if p.IsBot {
			d.mashTap[id] = 15 + d.rng.Intn(25)
		}
	}
}

// mashTickLocked spends the tap budget one tap per sweep (~10 taps/s).
func (d *botDriver) mashTickLocked() {
	b := d.b
	for id, budget := range d.mashTap {
		if budget <= 0 || b.Mash == nil || b.Mash.Result != nil {
			continue
		}
		for i := 0; i < botTapsPerTick; i++ {
			b.tapLocked(id)
		}
		d.mashTap[id] = budget - botTapsPerTick
	}
}
