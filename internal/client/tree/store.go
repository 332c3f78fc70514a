// Package tree holds the ordered, nested collection of steps for the live
// session.
package tree

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"chatwire/internal/types"
)

var (
	ErrEmptyID       = errors.New("step id is required")
	ErrDuplicateID   = errors.New("step id already exists")
	ErrNotFound      = errors.New("step not found")
	ErrSelfParent    = errors.New("step cannot be its own parent")
	ErrTruncate      = errors.New("output of a streaming step can only grow")
	errNilStoreWrite = errors.New("store is nil")
)

type node struct {
	step     types.Step
	children []string
}

// Store is the message tree of one session. Steps whose parent has not
// arrived yet are buffered and attached once the parent shows up.
type Store struct {
	mu sync.RWMutex

	nodes map[string]*node
	roots []string

	// orphans maps a missing parent id to the steps waiting for it, in
	// arrival order. orphanParent is the reverse index used for lookups.
	orphans      map[string][]*node
	orphanParent map[string]string

	changed chan struct{}
}

func New() *Store {
	return &Store{
		nodes:        make(map[string]*node),
		orphans:      make(map[string][]*node),
		orphanParent: make(map[string]string),
		changed:      make(chan struct{}),
	}
}

// Changed returns a channel closed on the next mutation.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Append inserts a step. Nested steps in step.Steps are inserted as its
// children. A step whose id is already known is rejected with
// ErrDuplicateID and nothing is inserted.
func (s *Store) Append(step types.Step) error {
	if s == nil {
		return errNilStoreWrite
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSubtreeLocked(step, map[string]struct{}{}); err != nil {
		return err
	}
	s.appendLocked(step)
	s.notifyLocked()
	return nil
}

// checkSubtreeLocked validates ids of step and its nested children before
// anything is written so Append stays all-or-nothing.
func (s *Store) checkSubtreeLocked(step types.Step, seen map[string]struct{}) error {
	id := strings.TrimSpace(step.ID)
	if id == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(step.ParentID) == id {
		return fmt.Errorf("%w: %s", ErrSelfParent, id)
	}
	if s.knownLocked(id) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if _, dup := seen[id]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	seen[id] = struct{}{}
	for _, child := range step.Steps {
		if err := s.checkSubtreeLocked(child, seen); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) knownLocked(id string) bool {
	if _, ok := s.nodes[id]; ok {
		return true
	}
	_, ok := s.orphanParent[id]
	return ok
}

func (s *Store) appendLocked(step types.Step) {
	children := step.Steps
	step.Steps = nil
	// The store owns its copy; callers such as the api cache keep theirs.
	step = step.Clone()
	step.ID = strings.TrimSpace(step.ID)
	step.ParentID = strings.TrimSpace(step.ParentID)

	n := &node{step: step}
	parentID := step.ParentID
	if parentID != "" {
		if _, ok := s.nodes[parentID]; !ok {
			s.orphans[parentID] = append(s.orphans[parentID], n)
			s.orphanParent[step.ID] = parentID
			for _, child := range children {
				child.ParentID = step.ID
				s.appendLocked(child)
			}
			return
		}
	}
	s.attachLocked(n)
	for _, child := range children {
		child.ParentID = step.ID
		s.appendLocked(child)
	}
}

// attachLocked links n into the tree and adopts anything buffered under it.
func (s *Store) attachLocked(n *node) {
	id := n.step.ID
	s.nodes[id] = n
	if parent, ok := s.nodes[n.step.ParentID]; ok && n.step.ParentID != "" {
		parent.children = append(parent.children, id)
	} else {
		s.roots = append(s.roots, id)
	}
	s.adoptLocked(id)
}

func (s *Store) adoptLocked(parentID string) {
	waiting := s.orphans[parentID]
	if len(waiting) == 0 {
		return
	}
	delete(s.orphans, parentID)
	for _, child := range waiting {
		delete(s.orphanParent, child.step.ID)
		child.step.ParentID = parentID
		s.attachLocked(child)
	}
}

// lookupLocked finds a node whether attached or still buffered.
func (s *Store) lookupLocked(id string) (*node, bool) {
	if n, ok := s.nodes[id]; ok {
		return n, true
	}
	parentID, ok := s.orphanParent[id]
	if !ok {
		return nil, false
	}
	for _, n := range s.orphans[parentID] {
		if n.step.ID == id {
			return n, true
		}
	}
	return nil, false
}

// ReplaceID swaps the identifier of a step, typically when the server
// assigns a durable id to an optimistic message. Children and buffered
// orphans follow the new id.
func (s *Store) ReplaceID(oldID, newID string) error {
	if s == nil {
		return errNilStoreWrite
	}
	oldID = strings.TrimSpace(oldID)
	newID = strings.TrimSpace(newID)
	if oldID == "" || newID == "" {
		return ErrEmptyID
	}
	if oldID == newID {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.knownLocked(newID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, newID)
	}
	n, ok := s.lookupLocked(oldID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, oldID)
	}

	n.step.ID = newID
	for i := range n.step.Elements {
		if n.step.Elements[i].ForID == oldID {
			n.step.Elements[i].ForID = newID
		}
	}

	if parentID, buffered := s.orphanParent[oldID]; buffered {
		delete(s.orphanParent, oldID)
		s.orphanParent[newID] = parentID
	} else {
		delete(s.nodes, oldID)
		s.nodes[newID] = n
		if parent, ok := s.nodes[n.step.ParentID]; ok && n.step.ParentID != "" {
			replaceInSlice(parent.children, oldID, newID)
		} else {
			replaceInSlice(s.roots, oldID, newID)
		}
		for _, childID := range n.children {
			if child, ok := s.nodes[childID]; ok {
				child.step.ParentID = newID
			}
		}
	}

	// Steps buffered under either id now wait for (or attach to) newID.
	if waiting := s.orphans[oldID]; len(waiting) > 0 {
		delete(s.orphans, oldID)
		for _, w := range waiting {
			w.step.ParentID = newID
			s.orphanParent[w.step.ID] = newID
		}
		s.orphans[newID] = append(s.orphans[newID], waiting...)
	}
	if _, attached := s.nodes[newID]; attached {
		s.adoptLocked(newID)
	}

	s.notifyLocked()
	return nil
}

func replaceInSlice(ids []string, oldID, newID string) {
	for i, id := range ids {
		if id == oldID {
			ids[i] = newID
			return
		}
	}
}

// Clear removes every step, including buffered orphans.
func (s *Store) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*node)
	s.roots = nil
	s.orphans = make(map[string][]*node)
	s.orphanParent = make(map[string]string)
	s.notifyLocked()
}

// Load replaces the tree with the steps of a persisted thread. Steps are
// inserted in creation order; duplicates are logged and skipped.
func (s *Store) Load(thread types.Thread) int {
	if s == nil {
		return 0
	}
	steps := thread.SortedSteps()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*node)
	s.roots = nil
	s.orphans = make(map[string][]*node)
	s.orphanParent = make(map[string]string)

	elementsFor := make(map[string][]types.Element)
	for _, el := range thread.Elements {
		if el.ForID != "" {
			elementsFor[el.ForID] = append(elementsFor[el.ForID], el.Clone())
		}
	}

	loaded := 0
	for _, step := range steps {
		if err := s.checkSubtreeLocked(step, map[string]struct{}{}); err != nil {
			log.Printf("tree: skip step while loading thread %s: %v", thread.ID, err)
			continue
		}
		if els, ok := elementsFor[step.ID]; ok && len(step.Elements) == 0 {
			step.Elements = els
		}
		s.appendLocked(step)
		loaded++
	}
	s.notifyLocked()
	return loaded
}

// Get returns a copy of the step with its nested children.
func (s *Store) Get(id string) (types.Step, bool) {
	if s == nil {
		return types.Step{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[strings.TrimSpace(id)]
	if !ok {
		return types.Step{}, false
	}
	return s.buildLocked(n), true
}

// Len counts attached steps. Buffered orphans are not counted.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Pending counts steps still waiting for their parent.
func (s *Store) Pending() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orphanParent)
}

// HasConversation reports whether any step, attached or still waiting for
// its parent, is a user or assistant message.
func (s *Store) HasConversation() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if n.step.Type.IsMessage() {
			return true
		}
	}
	for _, waiting := range s.orphans {
		for _, n := range waiting {
			if n.step.Type.IsMessage() {
				return true
			}
		}
	}
	return false
}

// Snapshot returns a nested deep copy of the attached tree.
func (s *Store) Snapshot() []types.Step {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Step, 0, len(s.roots))
	for _, id := range s.roots {
		if n, ok := s.nodes[id]; ok {
			out = append(out, s.buildLocked(n))
		}
	}
	return out
}

func (s *Store) buildLocked(n *node) types.Step {
	step := n.step.Clone()
	step.Steps = nil
	if len(n.children) > 0 {
		step.Steps = make([]types.Step, 0, len(n.children))
		for _, childID := range n.children {
			if child, ok := s.nodes[childID]; ok {
				step.Steps = append(step.Steps, s.buildLocked(child))
			}
		}
	}
	return step
}
