package battle

import "errors"

// Validation failures are rejected synchronously with no state mutation.
// A scoring attempt that loses the arbitration race is not an error: the
// caller receives the authoritative result instead.
var (
	ErrBattleNotFound   = errors.New("battle not found")
	ErrNotInBattle      = errors.New("user not in this battle")
	ErrRoundNotActive   = errors.New("no active question round")
	ErrAlreadyAnswered  = errors.New("answer already submitted for this round")
	ErrInvalidChoice    = errors.New("choice index out of range")
	ErrSwapUnavailable  = errors.New("swap not available")
	ErrMashNotActive    = errors.New("mash mini-game not active")
	ErrBattleFinished   = errors.New("battle already finished")
	ErrQuestionShortage = errors.New("question bank returned no questions")
)
