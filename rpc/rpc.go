package rpc

import (
	"net"
	"net/rpc"

	"github.com/wfunc/battleserver/logger"
	"github.com/wfunc/battleserver/models"
	"github.com/wfunc/battleserver/persistence"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
}

// NewServer creates a new RPC server. Services are registered by the
// caller before Start.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  addr,
	}, nil
}

// Start begins listening for RPC requests.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Check if the error is due to the listener being closed.
			if _, ok := err.(*net.OpError); ok {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// BattleService exposes battle aggregates over net/rpc for sibling
// services (leaderboards, the study planner).
type BattleService struct {
	db persistence.Database
}

func NewBattleService(db persistence.Database) *BattleService {
	return &BattleService{db: db}
}

// GetPlayerBattleStats follows the net/rpc signature: exported method,
// exported arguments, second argument is a pointer, return type is error.
type GetStatsArgs struct {
	UserID string
}

type GetStatsReply struct {
	Stats *models.PlayerBattleStats
}

func (bs *BattleService) GetPlayerBattleStats(args *GetStatsArgs, reply *GetStatsReply) error {
	stats, err := bs.db.GetPlayerBattleStats(args.UserID)
	if err != nil {
		return err
	}
	reply.Stats = stats
	return nil
}
