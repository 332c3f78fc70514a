package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// DirStore keeps objects as files under a root directory, one subdirectory
// per scope. Every path is resolved against the root and rejected when it
// escapes it, symlinks included.
type DirStore struct {
	absRoot string // absolute root with symlinks resolved
}

func NewDirStore(root string) (*DirStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("artifact: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("artifact: root is not a directory")
	}
	return &DirStore{absRoot: abs}, nil
}

func (s *DirStore) Root() string { return s.absRoot }

func (s *DirStore) Put(_ context.Context, scope, name string, content []byte, _ string) error {
	scope, name, err := validate(scope, name)
	if err != nil {
		return err
	}
	p, err := s.resolve(objectKey(scope, name))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *DirStore) Get(_ context.Context, scope, name string) ([]byte, error) {
	scope, name, err := validate(scope, name)
	if err != nil {
		return nil, err
	}
	p, err := s.resolve(objectKey(scope, name))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	return os.ReadFile(p)
}

func (s *DirStore) List(_ context.Context, scope string) ([]string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, fmt.Errorf("scope is required")
	}
	dir, err := s.resolve(scope)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, 16)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (s *DirStore) GetURL(context.Context, string, string) (string, error) {
	return "", nil
}

// resolve maps a slash separated key to a path under the root. Missing
// trailing components are allowed so that Put can create them; the deepest
// existing ancestor must still resolve inside the root.
func (s *DirStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || (runtime.GOOS == "windows" && filepath.VolumeName(clean) != "") {
		return "", fmt.Errorf("artifact: invalid key %q", key)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New("artifact: path traversal not allowed")
	}
	joined := filepath.Join(s.absRoot, clean)

	existing, rest := joined, ""
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			if !hasPathPrefix(resolved, s.absRoot) {
				return "", fmt.Errorf("artifact: resolved outside root (root=%s, path=%s)", s.absRoot, resolved)
			}
			return filepath.Join(resolved, rest), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return "", err
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

func hasPathPrefix(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if path == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path+sep, root)
}
