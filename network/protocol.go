package network

const (
	MsgTypeHeartbeat = 1
	MsgTypeLogin     = 2

	MsgTypeJoinQueue   = 101
	MsgTypeCancelQueue = 102
	MsgTypeQueueStatus = 103

	MsgTypeSubmitAnswer = 201
	MsgTypeBattleAction = 202 // swap / tap envelope, routed to the current phase
	MsgTypeAnswerResult = 203

	MsgTypeMatchFound     = 301
	MsgTypeBattleSnapshot = 302
	MsgTypeMashResult     = 303
	MsgTypeBattleEnd      = 304

	MsgTypeError = 500
)
