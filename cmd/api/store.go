package main

import (
	"database/sql"
	"fmt"

	"noteen/backend/internal/config"
	"noteen/backend/internal/database"
	"noteen/backend/internal/repositories"
	"noteen/backend/internal/services"
)

// store はコマンド間で共有するデータベースとサービスです。
type store struct {
	db    *sql.DB
	repo  *repositories.TaskRepository
	tasks *services.TaskService
}

func openStore(cfg *config.Config) (*store, error) {
	dialect, err := repositories.DialectFor(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	return newStore(db, dialect), nil
}

// mustOpenStore はサーバー起動用です。データベースに接続できなければプロセスを終了します。
func mustOpenStore(cfg *config.Config) (*store, error) {
	dialect, err := repositories.DialectFor(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	return newStore(database.InitDB(cfg.Database), dialect), nil
}

func newStore(db *sql.DB, dialect repositories.Dialect) *store {
	repo := repositories.NewTaskRepository(db, dialect)
	return &store{db: db, repo: repo, tasks: services.NewTaskService(repo)}
}

func (s *store) Close() error {
	s.tasks.Close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
