package types

import (
	"sort"
	"time"
)

// Thread is a persisted conversation.
type Thread struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UserID         string         `json:"userId,omitempty"`
	UserIdentifier string         `json:"userIdentifier,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Steps          []Step         `json:"steps"`
	Elements       []Element      `json:"elements,omitempty"`
}

// SortedSteps returns the thread steps ordered by creation time. Steps with
// equal timestamps keep their stored order.
func (t Thread) SortedSteps() []Step {
	out := make([]Step, len(t.Steps))
	copy(out, t.Steps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ThreadSummary is one row of the thread history listing.
type ThreadSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// PageInfo carries cursor pagination state.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor,omitempty"`
}

// ThreadPage is one page of thread summaries.
type ThreadPage struct {
	PageInfo PageInfo        `json:"pageInfo"`
	Data     []ThreadSummary `json:"data"`
}

// ThreadFilter narrows thread listings.
type ThreadFilter struct {
	Search   string `json:"search,omitempty"`
	Feedback *int   `json:"feedback,omitempty"`
}

// Pagination selects a page of threads.
type Pagination struct {
	First  int    `json:"first"`
	Cursor string `json:"cursor,omitempty"`
}
