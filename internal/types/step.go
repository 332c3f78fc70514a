package types

import (
	"strings"
	"time"
)

// StepType classifies a node of the conversation tree.
type StepType string

const (
	StepUserMessage      StepType = "user_message"
	StepAssistantMessage StepType = "assistant_message"
	StepRun              StepType = "run"
	StepTool             StepType = "tool"
	StepLLM              StepType = "llm"
	StepEmbedding        StepType = "embedding"
	StepRetrieval        StepType = "retrieval"
	StepRerank           StepType = "rerank"
	StepUndefined        StepType = "undefined"
)

// IsMessage reports whether the step is a user or assistant turn.
func (t StepType) IsMessage() bool {
	return t == StepUserMessage || t == StepAssistantMessage
}

// NormalizeStepType maps unknown or empty values to StepUndefined.
func NormalizeStepType(raw string) StepType {
	switch StepType(strings.ToLower(strings.TrimSpace(raw))) {
	case StepUserMessage:
		return StepUserMessage
	case StepAssistantMessage:
		return StepAssistantMessage
	case StepRun:
		return StepRun
	case StepTool:
		return StepTool
	case StepLLM:
		return StepLLM
	case StepEmbedding:
		return StepEmbedding
	case StepRetrieval:
		return StepRetrieval
	case StepRerank:
		return StepRerank
	default:
		return StepUndefined
	}
}

// Feedback is a rating attached to a step.
type Feedback struct {
	ID      string `json:"id,omitempty"`
	ForID   string `json:"forId"`
	Value   int    `json:"value"`
	Comment string `json:"comment,omitempty"`
}

// Step is one message or intermediate step of a conversation.
// Steps holds children only in nested snapshots; persisted threads keep a
// flat list linked through ParentID.
type Step struct {
	ID            string     `json:"id"`
	ThreadID      string     `json:"threadId,omitempty"`
	ParentID      string     `json:"parentId,omitempty"`
	Name          string     `json:"name"`
	Type          StepType   `json:"type"`
	Input         string     `json:"input,omitempty"`
	Output        string     `json:"output"`
	Language      string     `json:"language,omitempty"`
	IsError       bool       `json:"isError,omitempty"`
	Streaming     bool       `json:"streaming,omitempty"`
	WaitForAnswer bool       `json:"waitForAnswer,omitempty"`
	ShowInput     string     `json:"showInput,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	Start         *time.Time `json:"start,omitempty"`
	End           *time.Time `json:"end,omitempty"`
	Feedback      *Feedback  `json:"feedback,omitempty"`
	Elements      []Element  `json:"elements,omitempty"`
	Steps         []Step     `json:"steps,omitempty"`
}

// Clone returns a deep copy of the step and its children.
func (s Step) Clone() Step {
	out := s
	if s.Start != nil {
		v := *s.Start
		out.Start = &v
	}
	if s.End != nil {
		v := *s.End
		out.End = &v
	}
	if s.Feedback != nil {
		fb := *s.Feedback
		out.Feedback = &fb
	}
	if len(s.Elements) > 0 {
		out.Elements = make([]Element, len(s.Elements))
		for i, el := range s.Elements {
			out.Elements[i] = el.Clone()
		}
	}
	if len(s.Steps) > 0 {
		out.Steps = make([]Step, len(s.Steps))
		for i, child := range s.Steps {
			out.Steps[i] = child.Clone()
		}
	}
	return out
}
