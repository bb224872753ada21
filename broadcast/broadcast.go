// broadcast/broadcast.go
package broadcast

import (
	"errors"

	"github.com/wfunc/battleserver/battle"

	"github.com/wfunc/battleserver/session"
)

var (
	ErrBattleNotFound = errors.New("battle not found")
)

// 广播接口
type Broadcaster interface {
	BroadcastToBattle(battleID string, msgID uint16, data []byte) error
	BroadcastToAll(msgID uint16, data []byte) error
	BroadcastToUsers(userIDs []string, msgID uint16, data []byte) error
}

// 基于对战会话的广播器。机器人没有连接,自然被跳过;单个会话的
// 发送失败不会中断整场扇出。
type BattleBroadcaster struct {
	battleManager  *battle.Manager
	sessionManager *session.Manager
}

func NewBattleBroadcaster(battleManager *battle.Manager, sessionManager *session.Manager) *BattleBroadcaster {
	return &BattleBroadcaster{
		battleManager:  battleManager,
		sessionManager: sessionManager,
	}
}

// BroadcastToBattle 按对战ID向真人玩家扇出。会拿对战锁,所以只能在
// 引擎外部调用;引擎内部的发布路径直接带着玩家ID走 BroadcastToUsers。
func (b *BattleBroadcaster) BroadcastToBattle(battleID string, msgID uint16, data []byte) error {
	bt, exists := b.battleManager.GetBattle(battleID)
	if !exists {
		return ErrBattleNotFound
	}

	return b.BroadcastToUsers(bt.UserIDs(), msgID, data)
}

func (b *BattleBroadcaster) BroadcastToAll(msgID uint16, data []byte) error {
	for _, s := range b.sessionManager.All() {
		if err := s.Send(msgID, data); err != nil {
			// 处理发送错误
			continue
		}
	}
	return nil
}

func (b *BattleBroadcaster) BroadcastToUsers(userIDs []string, msgID uint16, data []byte) error {
	for _, userID := range userIDs {
		sessions := b.sessionManager.GetByUserID(userID)
		for _, s := range sessions {
			if err := s.Send(msgID, data); err != nil {
				// 处理发送错误
				continue
			}
		}
	}
	return nil
}
