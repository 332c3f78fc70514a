package types

import "strings"

type ElementType string

const (
	ElementImage     ElementType = "image"
	ElementFile      ElementType = "file"
	ElementText      ElementType = "text"
	ElementPDF       ElementType = "pdf"
	ElementAudio     ElementType = "audio"
	ElementVideo     ElementType = "video"
	ElementPlotly    ElementType = "plotly"
	ElementDataframe ElementType = "dataframe"
	ElementTaskList  ElementType = "tasklist"
	ElementCustom    ElementType = "custom"
)

// DisplayMode controls where an element is rendered.
type DisplayMode string

const (
	DisplayInline DisplayMode = "inline"
	DisplaySide   DisplayMode = "side"
	DisplayPage   DisplayMode = "page"
)

// NormalizeDisplay falls back to inline for unknown values.
func NormalizeDisplay(raw string) DisplayMode {
	switch DisplayMode(strings.ToLower(strings.TrimSpace(raw))) {
	case DisplaySide:
		return DisplaySide
	case DisplayPage:
		return DisplayPage
	default:
		return DisplayInline
	}
}

// Element is a named artifact bound to a step through ForID, or global when
// ForID is empty.
type Element struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"threadId,omitempty"`
	ForID     string         `json:"forId,omitempty"`
	Type      ElementType    `json:"type"`
	Name      string         `json:"name"`
	Display   DisplayMode    `json:"display"`
	URL       string         `json:"url,omitempty"`
	ObjectKey string         `json:"objectKey,omitempty"`
	Content   string         `json:"content,omitempty"`
	Mime      string         `json:"mime,omitempty"`
	Size      string         `json:"size,omitempty"`
	Language  string         `json:"language,omitempty"`
	Page      int            `json:"page,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
}

func (e Element) Global() bool {
	return strings.TrimSpace(e.ForID) == ""
}

func (e Element) Clone() Element {
	out := e
	if e.Props != nil {
		out.Props = make(map[string]any, len(e.Props))
		for k, v := range e.Props {
			out.Props[k] = v
		}
	}
	return out
}

// Action is a button the backend attaches to a message.
type Action struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	ForID   string         `json:"forId"`
	Payload map[string]any `json:"payload,omitempty"`
	Label   string         `json:"label,omitempty"`
	Tooltip string         `json:"tooltip,omitempty"`
}
