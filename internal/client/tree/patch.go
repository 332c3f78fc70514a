package tree

import (
	"fmt"
	"log"
	"strings"
	"time"

	"chatwire/internal/types"
)

// Patch is a partial update of a step. Nil fields are left untouched.
type Patch struct {
	AppendOutput  string
	Output        *string
	AppendInput   string
	Input         *string
	Streaming     *bool
	Name          *string
	Language      *string
	IsError       *bool
	WaitForAnswer *bool
	End           *time.Time
	Feedback      *types.Feedback
	ClearFeedback bool
	// Elements are upserted by id.
	Elements []types.Element
}

func (p Patch) empty() bool {
	return p.AppendOutput == "" && p.Output == nil && p.AppendInput == "" && p.Input == nil &&
		p.Streaming == nil && p.Name == nil && p.Language == nil && p.IsError == nil &&
		p.WaitForAnswer == nil && p.End == nil && p.Feedback == nil && !p.ClearFeedback &&
		len(p.Elements) == 0
}

// PatchFromStep builds a patch that overwrites the mutable fields of a step
// with the values carried by an update_message event.
func PatchFromStep(step types.Step) Patch {
	out := step.Output
	in := step.Input
	streaming := step.Streaming
	isErr := step.IsError
	wait := step.WaitForAnswer
	p := Patch{
		Output:        &out,
		Streaming:     &streaming,
		IsError:       &isErr,
		WaitForAnswer: &wait,
		End:           step.End,
		Feedback:      step.Feedback,
		Elements:      step.Elements,
	}
	if step.Input != "" {
		p.Input = &in
	}
	if step.Name != "" {
		name := step.Name
		p.Name = &name
	}
	if step.Language != "" {
		lang := step.Language
		p.Language = &lang
	}
	return p
}

// Bool returns a pointer to v, for building patches.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v, for building patches.
func String(v string) *string { return &v }

// PatchByID merges p into the step with the given id. An unknown id is
// logged and reported as false without touching the tree; steps still
// waiting for their parent can be patched.
//
// Completing a stream in the same patch happens before the output is
// replaced. While a step is streaming, a replacement that does not extend
// the current output is refused with ErrTruncate and nothing is applied.
func (s *Store) PatchByID(id string, p Patch) (bool, error) {
	if s == nil {
		return false, errNilStoreWrite
	}
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.lookupLocked(id)
	if !ok {
		log.Printf("tree: patch ignored for unknown step %q", id)
		return false, nil
	}
	if p.empty() {
		return true, nil
	}

	streaming := n.step.Streaming
	if p.Streaming != nil && !*p.Streaming {
		streaming = false
	}
	if p.Output != nil && streaming && !strings.HasPrefix(*p.Output, n.step.Output) {
		return true, fmt.Errorf("%w: %s", ErrTruncate, id)
	}

	st := &n.step
	if p.Streaming != nil {
		st.Streaming = *p.Streaming
	}
	if p.Output != nil {
		st.Output = *p.Output
	}
	st.Output += p.AppendOutput
	if p.Input != nil {
		st.Input = *p.Input
	}
	st.Input += p.AppendInput
	if p.Name != nil {
		st.Name = *p.Name
	}
	if p.Language != nil {
		st.Language = *p.Language
	}
	if p.IsError != nil {
		st.IsError = *p.IsError
	}
	if p.WaitForAnswer != nil {
		st.WaitForAnswer = *p.WaitForAnswer
	}
	if p.End != nil {
		end := *p.End
		st.End = &end
	}
	if p.ClearFeedback {
		st.Feedback = nil
	}
	if p.Feedback != nil {
		fb := *p.Feedback
		fb.ForID = st.ID
		st.Feedback = &fb
	}
	for _, el := range p.Elements {
		st.Elements = upsertElement(st.Elements, el)
	}

	s.notifyLocked()
	return true, nil
}

// RemoveElement detaches an element from whichever step holds it.
func (s *Store) RemoveElement(elementID string) bool {
	if s == nil {
		return false
	}
	elementID = strings.TrimSpace(elementID)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := false
	visit := func(n *node) {
		var kept []types.Element
		for _, el := range n.step.Elements {
			if el.ID == elementID {
				removed = true
				continue
			}
			kept = append(kept, el)
		}
		if len(kept) != len(n.step.Elements) {
			n.step.Elements = kept
		}
	}
	for _, n := range s.nodes {
		visit(n)
	}
	for _, waiting := range s.orphans {
		for _, n := range waiting {
			visit(n)
		}
	}
	if removed {
		s.notifyLocked()
	}
	return removed
}

func upsertElement(list []types.Element, el types.Element) []types.Element {
	for i := range list {
		if list[i].ID == el.ID {
			list[i] = el.Clone()
			return list
		}
	}
	return append(list, el.Clone())
}
