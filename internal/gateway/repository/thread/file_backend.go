package thread

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chatwire/internal/types"
)

func (s *Store) ensureLoadedFile() {
	s.loadOnce.Do(func() {
		b, err := os.ReadFile(s.path)
		if err != nil {
			return
		}
		var rows []types.Thread
		if err := json.Unmarshal(b, &rows); err != nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, row := range rows {
			id := strings.TrimSpace(row.ID)
			if id == "" {
				continue
			}
			s.byID[id] = row
		}
	})
}

// saveFileLocked writes every thread; callers hold s.mu.
func (s *Store) saveFileLocked() error {
	if s.path == "" {
		return nil
	}
	rows := make([]types.Thread, 0, len(s.byID))
	for _, t := range s.byID {
		rows = append(rows, t)
	}
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) getFile(id string) (types.Thread, error) {
	s.ensureLoadedFile()
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return types.Thread{}, ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *Store) putFile(t types.Thread) error {
	s.ensureLoadedFile()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[t.ID] = cloneThread(t)
	return s.saveFileLocked()
}

func (s *Store) updateFile(id string, fn func(*types.Thread) error) (types.Thread, error) {
	s.ensureLoadedFile()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return types.Thread{}, ErrNotFound
	}
	next := cloneThread(cur)
	if err := fn(&next); err != nil {
		return types.Thread{}, err
	}
	next.ID = id
	s.byID[id] = next
	if err := s.saveFileLocked(); err != nil {
		return types.Thread{}, fmt.Errorf("save threads: %w", err)
	}
	return cloneThread(next), nil
}

func (s *Store) deleteFile(id string) error {
	s.ensureLoadedFile()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return s.saveFileLocked()
}

func (s *Store) findByStepFile(stepID string) (string, error) {
	s.ensureLoadedFile()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, t := range s.byID {
		for _, st := range t.Steps {
			if st.ID == stepID {
				return id, nil
			}
		}
	}
	return "", ErrNotFound
}

func (s *Store) listFile(userID string) []types.Thread {
	s.ensureLoadedFile()
	uid := strings.TrimSpace(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Thread, 0, len(s.byID))
	for _, t := range s.byID {
		if uid != "" && strings.TrimSpace(t.UserID) != uid {
			continue
		}
		out = append(out, cloneThread(t))
	}
	return out
}
