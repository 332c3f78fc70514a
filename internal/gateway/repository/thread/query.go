package thread

import (
	"sort"
	"strings"

	"chatwire/internal/types"
)

func filterThreads(threads []types.Thread, f types.ThreadFilter) []types.Thread {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := threads[:0:0]
	for _, t := range threads {
		if search != "" && !matchesSearch(t, search) {
			continue
		}
		if f.Feedback != nil && !hasFeedback(t, *f.Feedback) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matchesSearch(t types.Thread, search string) bool {
	if strings.Contains(strings.ToLower(t.Name), search) {
		return true
	}
	for _, st := range t.Steps {
		if strings.Contains(strings.ToLower(st.Output), search) {
			return true
		}
	}
	return false
}

func hasFeedback(t types.Thread, value int) bool {
	for _, st := range t.Steps {
		if st.Feedback != nil && st.Feedback.Value == value {
			return true
		}
	}
	return false
}

// paginate orders threads newest first and cuts the page after the cursor
// thread id.
func paginate(threads []types.Thread, page types.Pagination) types.ThreadPage {
	sort.SliceStable(threads, func(i, j int) bool {
		if threads[i].CreatedAt.Equal(threads[j].CreatedAt) {
			return threads[i].ID < threads[j].ID
		}
		return threads[i].CreatedAt.After(threads[j].CreatedAt)
	})
	start := 0
	if cursor := strings.TrimSpace(page.Cursor); cursor != "" {
		for i, t := range threads {
			if t.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	first := page.First
	if first <= 0 {
		first = 20
	}
	end := start + first
	if end > len(threads) {
		end = len(threads)
	}
	out := types.ThreadPage{Data: make([]types.ThreadSummary, 0, end-start)}
	for _, t := range threads[start:end] {
		out.Data = append(out.Data, types.ThreadSummary{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt})
	}
	out.PageInfo.HasNextPage = end < len(threads)
	if n := len(out.Data); n > 0 {
		out.PageInfo.EndCursor = out.Data[n-1].ID
	}
	return out
}

func cloneThread(t types.Thread) types.Thread {
	out := t
	if t.Steps != nil {
		out.Steps = make([]types.Step, len(t.Steps))
		for i, st := range t.Steps {
			out.Steps[i] = st.Clone()
		}
	}
	if t.Elements != nil {
		out.Elements = make([]types.Element, len(t.Elements))
		for i, el := range t.Elements {
			out.Elements[i] = el.Clone()
		}
	}
	if t.Tags != nil {
		out.Tags = append([]string(nil), t.Tags...)
	}
	if t.Metadata != nil {
		out.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
