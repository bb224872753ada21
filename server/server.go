package server

import (
	"encoding/json"
	"net/http"
	"net/rpc"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/battleserver/battle"
	"github.com/wfunc/battleserver/broadcast"
	"github.com/wfunc/battleserver/config"
	"github.com/wfunc/battleserver/logger"
	"github.com/wfunc/battleserver/matchmaking"
	"github.com/wfunc/battleserver/models"
	"github.com/wfunc/battleserver/monitor"
	"github.com/wfunc/battleserver/network"
	"github.com/wfunc/battleserver/persistence"
	"github.com/wfunc/battleserver/questionbank"
	"github.com/wfunc/battleserver/services"
	"github.com/wfunc/battleserver/session"
	"github.com/wfunc/battleserver/timer"

	battleserver_rpc "github.com/wfunc/battleserver/rpc"
)

const (
	staleSessionAfter = 90 * time.Second
	battleRetention   = 5 * time.Minute
	queueEntryMaxAge  = 10 * time.Minute
)

type BattleServer struct {
	cfg            *config.Config
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	battleManager  *battle.Manager
	queue          *matchmaking.Queue
	timers         *timer.Manager
	petService     *services.PetService
	broadcaster    broadcast.Broadcaster
	mon            *monitor.Monitor
	rpcServer      *battleserver_rpc.Server
	scheduler      gocron.Scheduler
	shutdownChan   chan struct{}
}

// NewBattleServer wires the full engine. db may be nil: the server then
// runs on the built-in question pool and rewards are logged but not
// persisted, which is the smoke-test mode.
func NewBattleServer(cfg *config.Config, db persistence.Database) *BattleServer {
	s := &BattleServer{
		cfg:            cfg,
		sessionManager: session.NewManager(),
		timers:         timer.NewManager(),
		petService:     services.NewPetService(db),
		mon:            monitor.NewMonitor("battleserver"),
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	var source battle.QuestionSource
	var rewards battle.RewardSink
	var records battle.RecordStore
	if db != nil {
		source = questionbank.NewDBProvider(db)
		rewards = services.NewRewardService(db, cfg.Reward.StreakStep, cfg.Reward.StreakCap)
		records = db
	} else {
		static := questionbank.NewStaticProvider(time.Now().UnixNano())
		static.Load("", questionbank.DefaultPool())
		source = static
		rewards = discardSink{}
		records = discardStore{}
	}

	s.battleManager = battle.NewManager(toBattleConfig(cfg), source, rewards, records, s.timers)
	s.broadcaster = broadcast.NewBattleBroadcaster(s.battleManager, s.sessionManager)
	s.battleManager.SetBroadcaster(s.broadcaster)
	s.battleManager.OnBattleFinished = s.onBattleFinished

	s.queue = matchmaking.NewQueue(s.battleManager, s.timers,
		cfg.Matchmaking.BotWait, cfg.Matchmaking.BotNickname)
	s.queue.OnMatched = s.onMatched
	s.queue.OnBotFallbackFailed = s.onBotFallbackFailed

	// 初始化RPC服务器
	rpcServer, err := battleserver_rpc.NewServer(cfg.Server.RPCAddress)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	s.rpcServer = rpcServer

	// 注册RPC服务
	if db != nil {
		battleService := battleserver_rpc.NewBattleService(db)
		rpc.Register(battleService)
	}

	return s
}

func toBattleConfig(cfg *config.Config) battle.Config {
	bc := battle.DefaultConfig()
	if cfg.Battle.Duration > 0 {
		bc.BattleDuration = cfg.Battle.Duration
	}
	if cfg.Battle.Countdown > 0 {
		bc.Countdown = cfg.Battle.Countdown
	}
	if cfg.Battle.QuestionTimeout > 0 {
		bc.QuestionTimeout = cfg.Battle.QuestionTimeout
	}
	if cfg.Battle.CriticalWindow > 0 {
		bc.CriticalWindow = cfg.Battle.CriticalWindow
	}
	if cfg.Battle.CritMultiplier > 0 {
		bc.CritMultiplier = cfg.Battle.CritMultiplier
	}
	if cfg.Battle.RoundResultDelay > 0 {
		bc.RoundResultDelay = cfg.Battle.RoundResultDelay
	}
	if cfg.Battle.MashDuration > 0 {
		bc.MashDuration = cfg.Battle.MashDuration
	}
	if cfg.Battle.MashTapStep > 0 {
		bc.MashTapStep = cfg.Battle.MashTapStep
	}
	if cfg.Battle.MashBonusDamage > 0 {
		bc.MashBonusDamage = cfg.Battle.MashBonusDamage
	}
	if cfg.Battle.RoundCount > 0 {
		bc.RoundCount = cfg.Battle.RoundCount
	}
	if cfg.Battle.DisconnectGrace > 0 {
		bc.DisconnectGrace = cfg.Battle.DisconnectGrace
	}
	if cfg.Reward.WinXP > 0 {
		bc.WinXP = cfg.Reward.WinXP
	}
	if cfg.Reward.LoseXP > 0 {
		bc.LoseXP = cfg.Reward.LoseXP
	}
	if cfg.Reward.DrawXP > 0 {
		bc.DrawXP = cfg.Reward.DrawXP
	}
	return bc
}

func (s *BattleServer) Start() error {
	go s.rpcServer.Start()
	s.mon.StartServer(s.cfg.Server.MetricsAddress)
	s.startJanitor()

	http.HandleFunc("/ws", s.handleWebSocket)
	logger.Log.Infof("Battle server listening on %s", s.cfg.Server.HTTPAddress)
	return http.ListenAndServe(s.cfg.Server.HTTPAddress, nil)
}

func (s *BattleServer) Shutdown() {
	close(s.shutdownChan)
	s.rpcServer.Stop()
	if s.scheduler != nil {
		s.scheduler.Shutdown()
	}
	s.battleManager.Shutdown()
	s.timers.Stop()
}

// startJanitor runs the periodic housekeeping: purge settled battles,
// sweep abandoned queue entries and silent sessions, refresh the gauges.
func (s *BattleServer) startJanitor() {
	sched, err := gocron.NewScheduler()
	if err != nil {
		logger.Log.Fatalf("Failed to create scheduler: %v", err)
	}
	s.scheduler = sched

	_, _ = sched.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() {
			if purged := s.battleManager.PurgeFinished(battleRetention); purged > 0 {
				logger.Log.Infof("Janitor purged %d finished battles", purged)
			}
			if swept := s.queue.Sweep(queueEntryMaxAge); swept > 0 {
				logger.Log.Warnf("Janitor swept %d stale queue entries", swept)
			}
			for _, sess := range s.sessionManager.Stale(staleSessionAfter) {
				logger.Log.Infof("Closing silent session %s", sess.GetID())
				sess.Close()
			}
		}),
	)
	_, _ = sched.NewJob(
		gocron.DurationJob(5*time.Second),
		gocron.NewTask(func() {
			s.mon.SetActiveBattles(s.battleManager.ActiveCount())
			s.mon.SetQueuedPlayers(s.queue.Waiting())
		}),
	)
	sched.Start()
}

func (s *BattleServer) onBattleFinished(b *battle.Battle) {
	if b.Result != nil {
		s.mon.IncBattlesFinished(string(b.Result.EndReason))
	}
	// 对战结束后会话仍然在线,只解绑对战ID
	for _, userID := range b.UserIDs() {
		for _, sess := range s.sessionManager.GetByUserID(userID) {
			sess.BattleID = ""
		}
	}
}

func (s *BattleServer) onMatched(battleID string, userIDs []string) {
	payload := map[string]string{"battle_id": battleID}
	for _, userID := range userIDs {
		for _, sess := range s.sessionManager.GetByUserID(userID) {
			sess.BattleID = battleID
			sess.SendJSON(network.MsgTypeMatchFound, payload)
		}
	}
}

func (s *BattleServer) onBotFallbackFailed(userID string, err error) {
	for _, sess := range s.sessionManager.GetByUserID(userID) {
		s.sendError(sess, "match failed, please rejoin the queue")
	}
}

func (s *BattleServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *BattleServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		s.dropSession(sess)
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			sess.Touch()
			s.handlePacket(sess, packet)
		}
	}
}

// dropSession propagates a closed connection into the engine: the battle
// keeps running through the disconnect grace, waiting on a reconnect.
func (s *BattleServer) dropSession(sess *session.Session) {
	userID := sess.GetUserID()
	if userID == "" {
		return
	}
	s.mon.DecOnlinePlayers()

	// Another live session for the same user keeps them connected.
	if len(s.sessionManager.GetByUserID(userID)) > 0 {
		return
	}
	if bt, ok := s.battleManager.BattleForUser(userID); ok {
		bt.SetConnected(userID, false)
	}
}

func (s *BattleServer) handlePacket(sess *session.Session, packet *network.Packet) {
	switch packet.MsgID {
	case network.MsgTypeHeartbeat:
		// Touch already happened in the read loop.
	case network.MsgTypeLogin:
		s.handleLogin(sess, packet)
	case network.MsgTypeJoinQueue:
		s.handleJoinQueue(sess, packet)
	case network.MsgTypeCancelQueue:
		s.handleCancelQueue(sess)
	case network.MsgTypeSubmitAnswer:
		s.handleSubmitAnswer(sess, packet)
	case network.MsgTypeBattleAction:
		s.handleBattleAction(sess, packet)
	default:
		logger.Log.Infof("Unknown message type: %d", packet.MsgID)
	}
}

type loginRequest struct {
	UserID    string `json:"user_id"`
	Nickname  string `json:"nickname"`
	ProfileID string `json:"profile_id"`
}

func (s *BattleServer) handleLogin(sess *session.Session, packet *network.Packet) {
	var req loginRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil || req.UserID == "" {
		s.sendError(sess, "invalid login")
		return
	}
	if req.Nickname == "" {
		req.Nickname = req.UserID
	}
	sess.Bind(req.UserID, req.Nickname, req.ProfileID)
	s.mon.IncOnlinePlayers()
	logger.Log.Infof("Session %s bound to user %s", sess.GetID(), req.UserID)

	// 断线重连:把会话重新挂回进行中的对战并推一份快照
	if bt, ok := s.battleManager.BattleForUser(req.UserID); ok {
		sess.BattleID = bt.ID
		bt.SetConnected(req.UserID, true)
		sess.SendJSON(network.MsgTypeBattleSnapshot, bt.SnapshotNow())
		logger.Log.Infof("User %s reconnected to battle %s", req.UserID, bt.ID)
	}
}

type joinQueueRequest struct {
	CourseID string `json:"course_id"`
}

func (s *BattleServer) handleJoinQueue(sess *session.Session, packet *network.Packet) {
	userID := sess.GetUserID()
	if userID == "" {
		s.sendError(sess, "login required")
		return
	}

	var req joinQueueRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil || req.CourseID == "" {
		s.sendError(sess, "invalid queue request")
		return
	}

	ticket, err := s.queue.Join(&matchmaking.Entry{
		UserID:    userID,
		Nickname:  sess.Nickname,
		ProfileID: sess.ProfileID,
		CourseID:  req.CourseID,
		Loadout:   s.petService.Loadout(userID),
	})
	if err != nil {
		s.sendError(sess, err.Error())
		return
	}
	sess.SendJSON(network.MsgTypeQueueStatus, ticket)
}

func (s *BattleServer) handleCancelQueue(sess *session.Session) {
	userID := sess.GetUserID()
	if userID == "" {
		s.sendError(sess, "login required")
		return
	}
	if err := s.queue.Cancel(userID); err != nil {
		s.sendError(sess, err.Error())
		return
	}
	sess.SendJSON(network.MsgTypeQueueStatus, map[string]string{"status": "cancelled"})
}

type submitAnswerRequest struct {
	Choice    int   `json:"choice"`
	Timestamp int64 `json:"timestamp"` // unix ms, client clock
}

func (s *BattleServer) handleSubmitAnswer(sess *session.Session, packet *network.Packet) {
	userID := sess.GetUserID()
	if userID == "" {
		s.sendError(sess, "login required")
		return
	}
	bt, ok := s.battleManager.BattleForUser(userID)
	if !ok {
		s.sendError(sess, battle.ErrNotInBattle.Error())
		return
	}

	var req submitAnswerRequest
	if err := json.Unmarshal(packet.Data, &req); err != nil {
		s.sendError(sess, "invalid answer")
		return
	}

	start := time.Now()
	out, err := bt.SubmitAnswer(userID, req.Choice, time.UnixMilli(req.Timestamp))
	s.mon.IncAnswersReceived()
	s.mon.ObserveArbitrationLatency(time.Since(start))
	if err != nil {
		s.sendError(sess, err.Error())
		return
	}
	sess.SendJSON(network.MsgTypeAnswerResult, out)
}

func (s *BattleServer) handleBattleAction(sess *session.Session, packet *network.Packet) {
	userID := sess.GetUserID()
	if userID == "" {
		s.sendError(sess, "login required")
		return
	}
	bt, ok := s.battleManager.BattleForUser(userID)
	if !ok {
		s.sendError(sess, battle.ErrNotInBattle.Error())
		return
	}

	var probe struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(packet.Data, &probe) == nil && probe.Type == "tap" {
		s.mon.IncMashTaps()
	}

	if err := bt.HandleAction(userID, packet.Data); err != nil {
		s.sendError(sess, err.Error())
	}
}

func (s *BattleServer) sendError(sess *session.Session, msg string) {
	sess.SendJSON(network.MsgTypeError, map[string]string{"error": msg})
}

// discardSink is the no-database reward sink: grants are logged and
// dropped.
type discardSink struct{}

func (discardSink) Grant(intent models.RewardIntent) error {
	logger.Log.Infow("reward (not persisted)",
		"battle", intent.BattleID, "user", intent.UserID, "xp", intent.XPDelta)
	return nil
}

// discardStore drops battle records when no database is configured.
type discardStore struct{}

func (discardStore) SaveBattleRecord(*models.BattleRecord) error { return nil }
