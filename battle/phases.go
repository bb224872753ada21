// battle/phases.go
package battle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wfunc/battleserver/logger"
)

// actionEnvelope is the generic battle-action payload routed through the
// phase machine (answer / swap / tap).
type actionEnvelope struct {
	Type      string `json:"type"`
	Choice    int    `json:"choice"`
	Timestamp int64  `json:"timestamp"` // unix ms, client clock
}

// phaseBase gives every phase the default no-op handlers, mirroring the
// battle's phase machine contract. All phase methods run with the battle
// mutex held.
type phaseBase struct {
	id string
	b  *Battle
}

func (p *phaseBase) GetID() string { return p.id }
func (p *phaseBase) OnEnter()      {}
func (p *phaseBase) OnExit()       {}
func (p *phaseBase) OnUpdate()     {}

func (p *phaseBase) HandleAction(userID string, actionData []byte) error {
	return fmt.Errorf("action not handled in phase %s", p.id)
}

// --- loading ---

// loadingPhase fetches the question set from the question-bank collaborator.
// The fetch runs off the lock; the sweep picks up the outcome.
type loadingPhase struct {
	phaseBase
}

func newLoadingPhase(b *Battle) *loadingPhase {
	return &loadingPhase{phaseBase{id: "loading", b: b}}
}

func (p *loadingPhase) OnEnter() {
	p.b.setStatusLocked(StatusLoading)
	go p.b.loadQuestions()
}

func (p *loadingPhase) OnUpdate() {
	b := p.b
	if b.loadErr != nil {
		logger.Log.Errorf("battle %s aborted, question fetch failed: %v", b.ID, b.loadErr)
		b.finishLocked("", "", true, EndReasonTimeout)
		return
	}
	if b.loaded {
		b.machine.ChangeState(newCountdownPhase(b))
	}
}

// loadQuestions runs outside the battle lock; it retries once before giving
// the battle up as a draw.
func (b *Battle) loadQuestions() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	qs, err := b.source.Questions(ctx, b.CourseID, b.cfg.RoundCount)
	if err != nil || len(qs) == 0 {
		qs, err = b.source.Questions(ctx, b.CourseID, b.cfg.RoundCount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err != nil:
		b.loadErr = err
	case len(qs) == 0:
		b.loadErr = ErrQuestionShortage
	default:
		b.questions = qs
		b.loaded = true
	}
}

// --- countdown ---

// countdownPhase anchors the 3-second pre-battle countdown on the server
// clock; clients derive their local countdown from the anchor.
type countdownPhase struct {
	phaseBase
}

func newCountdownPhase(b *Battle) *countdownPhase {
	return &countdownPhase{phaseBase{id: "countdown", b: b}}
}

func (p *countdownPhase) OnEnter() {
	b := p.b
	b.CountdownStartedAt = time.Now()
	b.setStatusLocked(StatusCountdown)
	b.publishLocked()
}

func (p *countdownPhase) OnUpdate() {
	b := p.b
	if time.Since(b.CountdownStartedAt) >= b.cfg.Countdown {
		b.machine.ChangeState(newQuestionPhase(b, 0))
	}
}

// --- question ---

type questionPhase struct {
	phaseBase
	index int
}

func newQuestionPhase(b *Battle, index int) *questionPhase {
	return &questionPhase{phaseBase: phaseBase{id: "question", b: b}, index: index}
}

func (p *questionPhase) OnEnter() {
	b := p.b
	now := time.Now()
	b.CurrentRound = p.index
	b.NextRound = -1
	b.Mash = nil
	b.Rounds[p.index] = &Round{
		Question:  b.questions[p.index],
		StartedAt: now,
		TimeoutAt: now.Add(b.cfg.QuestionTimeout),
		Answers:   make(map[string]*Answer),
		Result:    make(map[string]*RoundOutcome),
	}
	b.setStatusLocked(StatusQuestion)
	b.bot.scheduleAnswersLocked(p.index)
	b.publishLocked()
}

// OnUpdate is the timeout sweep: once the deadline passes the round is
// scored no matter what the clients do. The scored check-and-set makes the
// race with a second-answer trigger safe.
func (p *questionPhase) OnUpdate() {
	b := p.b
	r := b.Rounds[b.CurrentRound]
	if r == nil || r.Scored {
		return
	}
	if time.Now().After(r.TimeoutAt) {
		b.scoreRoundLocked(b.CurrentRound)
	}
}

func (p *questionPhase) HandleAction(userID string, actionData []byte) error {
	var action actionEnvelope
	if err := json.Unmarshal(actionData, &action); err != nil {
		return fmt.Errorf("failed to unmarshal action data: %w", err)
	}
	switch action.Type {
	case "answer":
		ts := time.UnixMilli(action.Timestamp)
		_, err := p.b.submitAnswerLocked(userID, action.Choice, ts)
		return err
	case "swap":
		return p.b.swapLocked(userID)
	default:
		return fmt.Errorf("unknown action %q in question phase", action.Type)
	}
}

// --- mash ---

type mashPhase struct {
	phaseBase
}

func newMashPhase(b *Battle) *mashPhase {
	return &mashPhase{phaseBase{id: "mash", b: b}}
}

func (p *mashPhase) OnEnter() {
	p.b.beginMashLocked()
}

func (p *mashPhase) OnUpdate() {
	b := p.b
	m := b.Mash
	if m == nil || m.Result != nil {
		return
	}
	b.bot.mashTickLocked()
	if !time.Now().Before(m.EndsAt) {
		b.resolveMashLocked()
	}
}

func (p *mashPhase) HandleAction(userID string, actionData []byte) error {
	var action actionEnvelope
	if err := json.Unmarshal(actionData, &action); err != nil {
		return fmt.Errorf("failed to unmarshal action data: %w", err)
	}
	if action.Type != "tap" {
		return fmt.Errorf("unknown action %q in mash phase", action.Type)
	}
	_, err := p.b.tapLocked(userID)
	return err
}

// --- round result ---

type roundResultPhase struct {
	phaseBase
	enteredAt time.Time
}

func newRoundResultPhase(b *Battle) *roundResultPhase {
	return &roundResultPhase{phaseBase: phaseBase{id: "roundResult", b: b}}
}

func (p *roundResultPhase) OnEnter() {
	b := p.b
	p.enteredAt = time.Now()
	b.NextRound = b.CurrentRound + 1
	b.setStatusLocked(StatusRoundResult)
	b.publishLocked()
}

func (p *roundResultPhase) OnUpdate() {
	b := p.b

	// KO beats the display delay: checked every sweep.
	for id, pl := range b.Players {
		if pl.Defeated() {
			winner := b.opponentLocked(id).UserID
			b.finishLocked(winner, id, false, EndReasonKO)
			return
		}
	}

	if time.Since(p.enteredAt) < b.cfg.RoundResultDelay {
		return
	}
	if b.NextRound >= len(b.questions) {
		b.finishByHPLocked(EndReasonTimeout)
		return
	}
	b.machine.ChangeState(newQuestionPhase(b, b.NextRound))
}

// --- finished ---

type finishedPhase struct {
	phaseBase
	winnerID string
	loserID  string
	draw     bool
	reason   EndReason
}

func newFinishedPhase(b *Battle, winnerID, loserID string, draw bool, reason EndReason) *finishedPhase {
	return &finishedPhase{
		phaseBase: phaseBase{id: "finished", b: b},
		winnerID:  winnerID,
		loserID:   loserID,
		draw:      draw,
		reason:    reason,
	}
}

func (p *finishedPhase) OnEnter() {
	p.b.finalizeLocked(p.winnerID, p.loserID, p.draw, p.reason)
}
