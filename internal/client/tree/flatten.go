package tree

import (
	"iter"

	"chatwire/internal/types"
)

// Entry is one step of the display order. Step.Steps is always nil; Depth
// is 0 for root steps.
type Entry struct {
	Step  types.Step
	Depth int
}

// Flatten yields the attached steps depth-first, each parent before its
// children and siblings in arrival order. Every range over the returned
// sequence starts again from a fresh snapshot of the tree.
func (s *Store) Flatten() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		roots := s.Snapshot()
		type frame struct {
			steps []types.Step
			depth int
		}
		stack := []frame{{steps: roots}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if len(top.steps) == 0 {
				stack = stack[:len(stack)-1]
				continue
			}
			step := top.steps[0]
			top.steps = top.steps[1:]
			depth := top.depth

			children := step.Steps
			step.Steps = nil
			if !yield(Entry{Step: step, Depth: depth}) {
				return
			}
			if len(children) > 0 {
				stack = append(stack, frame{steps: children, depth: depth + 1})
			}
		}
	}
}

// Messages returns only the user and assistant messages in display order.
func (s *Store) Messages() []types.Step {
	var out []types.Step
	for entry := range s.Flatten() {
		if entry.Step.Type.IsMessage() {
			out = append(out, entry.Step)
		}
	}
	return out
}
