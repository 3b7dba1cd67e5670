// Command migrate applies or rolls back the embedded schema migrations.
//
//	migrate [up|down|version]
package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/randomchat/internal/config"
	"github.com/whisper/randomchat/internal/logger"
	"github.com/whisper/randomchat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Build(logger.DefaultConfig()).Fatal("load config", zap.Error(err))
	}
	log := logger.Build(cfg.Log).Named("migrate")
	defer func() { _ = log.Sync() }()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.Open(ctx, cfg.Database.URL, 1, 1)
	if err != nil {
		log.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	mg, err := store.NewMigrator(db)
	if err != nil {
		log.Fatal("prepare migrations", zap.Error(err))
	}

	switch cmd {
	case "up":
		err = mg.Up()
	case "down":
		err = mg.Down()
	case "version":
	default:
		log.Fatal("unknown command, want up, down or version", zap.String("command", cmd))
	}
	if err != nil {
		log.Fatal("migration failed", zap.String("command", cmd), zap.Error(err))
	}

	v, dirty, err := mg.Version()
	if err != nil {
		log.Fatal("read schema version", zap.Error(err))
	}
	log.Info("schema", zap.String("command", cmd), zap.Uint("version", v), zap.Bool("dirty", dirty))
}
