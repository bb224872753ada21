package main

import (
	"github.com/wfunc/battleserver/config"
	"github.com/wfunc/battleserver/logger"
	"github.com/wfunc/battleserver/persistence"
	"github.com/wfunc/battleserver/server"
)

func main() {
	// Initialize logger
	logger.Init()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database. "none" runs the server on the built-in
	// question pool without persistence.
	var db persistence.Database
	switch cfg.Database.Driver {
	case "pq":
		db, err = persistence.NewPostgreSQL(
			cfg.Database.Postgres.Host,
			cfg.Database.Postgres.Port,
			cfg.Database.Postgres.User,
			cfg.Database.Postgres.Password,
			cfg.Database.Postgres.DBName,
		)
	case "none":
		// smoke-test mode
	default:
		db, err = persistence.NewGormPostgreSQL(
			cfg.Database.Postgres.Host,
			cfg.Database.Postgres.Port,
			cfg.Database.Postgres.User,
			cfg.Database.Postgres.Password,
			cfg.Database.Postgres.DBName,
		)
	}
	if err != nil {
		logger.Log.Fatalf("Failed to connect to database: %v", err)
	}
	if db != nil {
		logger.Log.Info("Database connection successful.")
		defer db.Close()
	}

	// Initialize Battle Server
	battleServer := server.NewBattleServer(cfg, db)

	// Start Server
	logger.Log.Infof("Starting battle server on %s", cfg.Server.HTTPAddress)
	if err := battleServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}
