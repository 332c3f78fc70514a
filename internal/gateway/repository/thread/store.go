// Package thread persists conversations for the gateway. Threads live in a
// JSON file by default or in Postgres when a DSN is configured; reads go
// through an LRU cache either way.
package thread

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"chatwire/internal/gateway/config"
	"chatwire/internal/types"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var ErrNotFound = errors.New("thread not found")

const defaultCacheSize = 256

type Store struct {
	path string
	db   *sql.DB

	loadOnce sync.Once
	mu       sync.RWMutex
	byID     map[string]types.Thread

	schemaOnce sync.Once
	schemaErr  error

	cache *lru.Cache[string, types.Thread]
}

func New(path string, cacheSize int) *Store {
	return &Store{
		path:  path,
		byID:  make(map[string]types.Thread),
		cache: newCache(cacheSize),
	}
}

func NewPostgres(dsn string, cacheSize int) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, cache: newCache(cacheSize)}, nil
}

// NewFromConfig prefers Postgres and falls back to the file store when the
// database cannot be reached.
func NewFromConfig(cfg config.ThreadStoreConfig) *Store {
	if cfg.DSN == "" {
		return New(cfg.Path, cfg.CacheSize)
	}
	s, err := NewPostgres(cfg.DSN, cfg.CacheSize)
	if err != nil {
		log.Printf("thread store: postgres unavailable, using %s: %v", cfg.Path, err)
		return New(cfg.Path, cfg.CacheSize)
	}
	return s
}

func newCache(size int) *lru.Cache[string, types.Thread] {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New[string, types.Thread](size)
	if err != nil {
		return nil
	}
	return c
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, id string) (types.Thread, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Thread{}, ErrNotFound
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(id); ok {
			return cloneThread(cached), nil
		}
	}
	var (
		t   types.Thread
		err error
	)
	if s.db != nil {
		t, err = s.getDB(ctx, id)
	} else {
		t, err = s.getFile(id)
	}
	if err != nil {
		return types.Thread{}, err
	}
	if s.cache != nil {
		s.cache.Add(id, cloneThread(t))
	}
	return t, nil
}

// Put creates or replaces a thread. A blank id is assigned one.
func (s *Store) Put(ctx context.Context, t types.Thread) (types.Thread, error) {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	var err error
	if s.db != nil {
		err = s.putDB(ctx, t)
	} else {
		err = s.putFile(t)
	}
	if err != nil {
		return types.Thread{}, err
	}
	if s.cache != nil {
		s.cache.Add(t.ID, cloneThread(t))
	}
	return t, nil
}

// Update applies fn to the stored thread atomically.
func (s *Store) Update(ctx context.Context, id string, fn func(*types.Thread) error) (types.Thread, error) {
	id = strings.TrimSpace(id)
	var (
		t   types.Thread
		err error
	)
	if s.db != nil {
		t, err = s.updateDB(ctx, id, fn)
	} else {
		t, err = s.updateFile(id, fn)
	}
	if s.cache != nil {
		if err != nil {
			s.cache.Remove(id)
		} else {
			s.cache.Add(id, cloneThread(t))
		}
	}
	return t, err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if s.cache != nil {
		s.cache.Remove(id)
	}
	if s.db != nil {
		return s.deleteDB(ctx, id)
	}
	return s.deleteFile(id)
}

// FindByStep returns the id of the thread holding stepID.
func (s *Store) FindByStep(ctx context.Context, stepID string) (string, error) {
	stepID = strings.TrimSpace(stepID)
	if stepID == "" {
		return "", ErrNotFound
	}
	if s.db != nil {
		return s.findByStepDB(ctx, stepID)
	}
	return s.findByStepFile(stepID)
}

// SetFeedback attaches fb to its step and returns the feedback id.
func (s *Store) SetFeedback(ctx context.Context, fb types.Feedback) (string, error) {
	threadID, err := s.FindByStep(ctx, fb.ForID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(fb.ID) == "" {
		fb.ID = uuid.NewString()
	}
	_, err = s.Update(ctx, threadID, func(t *types.Thread) error {
		for i := range t.Steps {
			if t.Steps[i].ID == fb.ForID {
				v := fb
				t.Steps[i].Feedback = &v
				return nil
			}
		}
		return fmt.Errorf("step %s: %w", fb.ForID, ErrNotFound)
	})
	if err != nil {
		return "", err
	}
	return fb.ID, nil
}

// List returns one page of threads owned by userID (all users when blank).
func (s *Store) List(ctx context.Context, userID string, page types.Pagination, filter types.ThreadFilter) (types.ThreadPage, error) {
	var (
		all []types.Thread
		err error
	)
	if s.db != nil {
		all, err = s.listDB(ctx, userID)
	} else {
		all = s.listFile(userID)
	}
	if err != nil {
		return types.ThreadPage{}, err
	}
	return paginate(filterThreads(all, filter), page), nil
}
