package cli

import (
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"chatwire/internal/client/tree"
	"chatwire/internal/types"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginBottom(1)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	stepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

const indentUnit = "  "

// renderSteps prints the flattened tree, indenting children under their
// parent.
func renderSteps(w io.Writer, entries iter.Seq[tree.Entry]) {
	for e := range entries {
		pad := strings.Repeat(indentUnit, e.Depth)
		fmt.Fprintln(w, pad+stepLabel(e.Step))
		body := strings.TrimSpace(e.Step.Output)
		if body == "" {
			continue
		}
		for _, line := range strings.Split(body, "\n") {
			fmt.Fprintln(w, pad+indentUnit+line)
		}
	}
}

func stepLabel(s types.Step) string {
	name := s.Name
	var label string
	switch s.Type {
	case types.StepUserMessage:
		label = userStyle.Render(firstNonEmpty(name, "You"))
	case types.StepAssistantMessage:
		label = assistantStyle.Render(firstNonEmpty(name, "Assistant"))
	default:
		label = stepStyle.Render(fmt.Sprintf("[%s] %s", s.Type, name))
	}
	if s.IsError {
		label += " " + errorStyle.Render("(error)")
	}
	if s.Feedback != nil {
		label += " " + metaStyle.Render(feedbackMark(s.Feedback.Value))
	}
	return label
}

func feedbackMark(v int) string {
	if v > 0 {
		return "+1"
	}
	return "-1"
}

func renderThreadHeader(w io.Writer, t types.Thread) {
	fmt.Fprintln(w, headerStyle.Render(firstNonEmpty(t.Name, "Untitled thread")))
	fmt.Fprintln(w, metaStyle.Render(fmt.Sprintf("%s · %s · %d steps", t.ID, formatTime(t.CreatedAt), len(t.Steps))))
	fmt.Fprintln(w)
}

func renderThreadPage(w io.Writer, page types.ThreadPage) {
	if len(page.Data) == 0 {
		fmt.Fprintln(w, metaStyle.Render("No threads yet"))
		return
	}
	for _, t := range page.Data {
		fmt.Fprintf(w, "%s  %s  %s\n",
			idStyle.Render(t.ID),
			metaStyle.Render(formatTime(t.CreatedAt)),
			firstNonEmpty(t.Name, "Untitled thread"))
	}
	if page.PageInfo.HasNextPage {
		fmt.Fprintln(w, metaStyle.Render("more: --cursor "+page.PageInfo.EndCursor))
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
