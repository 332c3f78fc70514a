package app

import (
	"database/sql"
	"log"
	"strings"

	"chatwire/internal/gateway/config"
	"chatwire/internal/gateway/repository/artifact"
	"chatwire/internal/gateway/repository/thread"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type gatewayStores struct {
	threads *thread.Store
	files   artifact.Store
	db      *sql.DB
}

func initStores(cfg *config.Config) *gatewayStores {
	threads := thread.NewFromConfig(cfg.Threads)
	db := openDB(cfg.Threads.DSN)
	files := artifact.NewFromConfig(cfg.Artifact, db)
	log.Printf("stores: threads=%s files=%T", threadBackend(cfg), files)
	return &gatewayStores{threads: threads, files: files, db: db}
}

func openDB(dsn string) *sql.DB {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Printf("stores: open db: %v", err)
		return nil
	}
	if err := db.Ping(); err != nil {
		log.Printf("stores: db unreachable, file uploads stay in memory: %v", err)
		_ = db.Close()
		return nil
	}
	return db
}

func threadBackend(cfg *config.Config) string {
	if cfg.Threads.DSN != "" {
		return "postgres"
	}
	return cfg.Threads.Path
}

func (s *gatewayStores) Close() {
	if err := s.threads.Close(); err != nil {
		log.Printf("stores: close threads: %v", err)
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
