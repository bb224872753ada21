package battle

import (
	"context"

	"github.com/wfunc/battleserver/models"
)

// Broadcaster fans a packet out to player sessions. Declared here to break
// the import cycle with the broadcast package. The engine calls it with the
// battle mutex held, so implementations must not call back into the battle.
type Broadcaster interface {
	BroadcastToUsers(userIDs []string, msgID uint16, data []byte) error
}

// QuestionSource is the question-bank collaborator consumed during loading.
type QuestionSource interface {
	Questions(ctx context.Context, courseID string, n int) ([]models.Question, error)
}

// RewardSink receives reward intents on battle finish, exactly once per
// human player per battle.
type RewardSink interface {
	Grant(intent models.RewardIntent) error
}

// RecordStore persists finished battle summaries.
type RecordStore interface {
	SaveBattleRecord(record *models.BattleRecord) error
}
