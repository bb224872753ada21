package logger

import (
	"os"

	"go.uber.org/zap"
)

var Log *zap.SugaredLogger

// Init sets up the global sugared logger. Set BATTLE_ENV=dev for
// human-readable console output.
func Init() {
	var (
		l   *zap.Logger
		err error
	)
	if os.Getenv("BATTLE_ENV") == "dev" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	Log = l.Sugar()
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
