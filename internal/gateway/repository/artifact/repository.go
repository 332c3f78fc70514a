// Package artifact stores files uploaded into chat sessions. Objects are
// addressed by a scope (the session id) and a name.
package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"chatwire/internal/gateway/config"
)

type Store interface {
	Put(ctx context.Context, scope, name string, content []byte, contentType string) error
	Get(ctx context.Context, scope, name string) ([]byte, error)
	// GetURL returns a direct download URL, or "" when the backend has none.
	GetURL(ctx context.Context, scope, name string) (string, error)
	List(ctx context.Context, scope string) ([]string, error)
}

var ErrNotFound = errors.New("artifact not found")

// NewFromConfig picks S3 when configured, then Postgres when db is set, then
// a local directory, and memory otherwise.
func NewFromConfig(cfg config.ArtifactConfig, db *sql.DB) Store {
	if cfg.Enabled {
		s3, err := NewS3Store(S3Config{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
		if err == nil {
			return s3
		}
		log.Printf("artifact store: s3 unavailable: %v", err)
	}
	if db != nil {
		return NewPostgresStore(db)
	}
	if cfg.Dir != "" {
		dir, err := NewDirStore(cfg.Dir)
		if err == nil {
			return dir
		}
		log.Printf("artifact store: %s unusable: %v", cfg.Dir, err)
	}
	return NewMemoryStore()
}

func validate(scope, name string) (string, string, error) {
	scope = strings.TrimSpace(scope)
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if scope == "" {
		return "", "", fmt.Errorf("scope is required")
	}
	if name == "" {
		return "", "", fmt.Errorf("name is required")
	}
	return scope, name, nil
}

func objectKey(scope, name string) string {
	return strings.TrimSpace(scope) + "/" + strings.TrimLeft(strings.TrimSpace(name), "/")
}
