// Package elements keeps the element lists that live outside the message
// tree: global elements, avatars and task lists, plus an index of elements
// bound to messages.
package elements

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"chatwire/internal/types"
)

type Category string

const (
	CategoryMessage  Category = "message"
	CategoryGlobal   Category = "global"
	CategoryAvatar   Category = "avatar"
	CategoryTaskList Category = "tasklist"
)

// CategoryOf picks the list an element belongs to. Avatars are global image
// elements named after an author and flagged through props.
func CategoryOf(el types.Element) Category {
	if el.Type == types.ElementTaskList {
		return CategoryTaskList
	}
	if avatar, _ := el.Props["avatar"].(bool); avatar && el.Type == types.ElementImage {
		return CategoryAvatar
	}
	if el.Global() {
		return CategoryGlobal
	}
	return CategoryMessage
}

type Store struct {
	mu    sync.RWMutex
	byID  map[string]types.Element
	order []string
}

func New() *Store {
	return &Store{byID: make(map[string]types.Element)}
}

// Upsert inserts or replaces an element by id and reports the category it
// was filed under.
func (s *Store) Upsert(el types.Element) Category {
	el.ID = strings.TrimSpace(el.ID)
	el.Display = types.NormalizeDisplay(string(el.Display))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[el.ID]; !ok {
		s.order = append(s.order, el.ID)
	}
	s.byID[el.ID] = el.Clone()
	return CategoryOf(el)
}

func (s *Store) Remove(id string) bool {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Rebind moves message-bound elements from one step id to another.
func (s *Store) Rebind(oldForID, newForID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, el := range s.byID {
		if el.ForID == oldForID {
			el.ForID = newForID
			s.byID[id] = el
		}
	}
}

func (s *Store) Get(id string) (types.Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.byID[strings.TrimSpace(id)]
	return el.Clone(), ok
}

func (s *Store) list(match func(types.Element) bool) []types.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Element, 0)
	for _, id := range s.order {
		el := s.byID[id]
		if match(el) {
			out = append(out, el.Clone())
		}
	}
	return out
}

// All lists every element in arrival order.
func (s *Store) All() []types.Element {
	return s.list(func(types.Element) bool { return true })
}

func (s *Store) ForMessage(stepID string) []types.Element {
	return s.list(func(el types.Element) bool {
		return el.ForID == stepID && CategoryOf(el) == CategoryMessage
	})
}

func (s *Store) Global() []types.Element {
	return s.list(func(el types.Element) bool { return CategoryOf(el) == CategoryGlobal })
}

func (s *Store) Avatars() []types.Element {
	return s.list(func(el types.Element) bool { return CategoryOf(el) == CategoryAvatar })
}

func (s *Store) Tasks() []types.Element {
	return s.list(func(el types.Element) bool { return CategoryOf(el) == CategoryTaskList })
}

// Avatar finds the avatar for an author name.
func (s *Store) Avatar(author string) (types.Element, bool) {
	for _, el := range s.Avatars() {
		if strings.EqualFold(el.Name, author) {
			return el, true
		}
	}
	return types.Element{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Reset drops every element of every category.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]types.Element)
	s.order = nil
}

// Reference is an element name found in step output.
type Reference struct {
	Name    string
	Element types.Element
	// Inline elements replace the reference in the message body; side and
	// page elements are reached by following the reference.
	Inline bool
}

// ResolveReferences finds the elements of a step whose names appear in its
// output. Longer names are matched first so "plot 2" wins over "plot".
func ResolveReferences(step types.Step, candidates []types.Element) []Reference {
	if step.Output == "" || len(candidates) == 0 {
		return nil
	}
	sorted := make([]types.Element, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].Name) > len(sorted[j].Name) })

	text := step.Output
	var out []Reference
	for _, el := range sorted {
		name := strings.TrimSpace(el.Name)
		if name == "" {
			continue
		}
		re := regexp.MustCompile(`(^|[^\w])` + regexp.QuoteMeta(name) + `($|[^\w])`)
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		out = append(out, Reference{
			Name:    name,
			Element: el,
			Inline:  el.Display == types.DisplayInline,
		})
		// Blank the match so shorter names cannot match inside it.
		text = text[:loc[0]] + strings.Repeat(" ", loc[1]-loc[0]) + text[loc[1]:]
	}
	return out
}
