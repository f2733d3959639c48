package main

import (
	"fmt"

	"github.com/zulandar/spotter/internal/config"
	"github.com/zulandar/spotter/internal/db"
	"github.com/zulandar/spotter/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultConfigPath = "spotter.yaml"

// app is the shared state of commands that touch the database.
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
}

// openApp loads the config, builds the logger, and connects to the
// database with all tables migrated.
func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, db: gormDB}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
