package elements

import (
	"testing"

	"chatwire/internal/types"

	"github.com/stretchr/testify/require"
)

func TestUpsertFilesByCategory(t *testing.T) {
	s := New()
	require.Equal(t, CategoryMessage, s.Upsert(types.Element{ID: "e1", ForID: "m1", Type: types.ElementImage, Name: "chart"}))
	require.Equal(t, CategoryGlobal, s.Upsert(types.Element{ID: "e2", Type: types.ElementText, Name: "notes"}))
	require.Equal(t, CategoryAvatar, s.Upsert(types.Element{ID: "e3", Type: types.ElementImage, Name: "Assistant", Props: map[string]any{"avatar": true}}))
	require.Equal(t, CategoryTaskList, s.Upsert(types.Element{ID: "e4", Type: types.ElementTaskList, Name: "tasks"}))

	require.Len(t, s.ForMessage("m1"), 1)
	require.Len(t, s.Global(), 1)
	require.Len(t, s.Tasks(), 1)
	av, ok := s.Avatar("assistant")
	require.True(t, ok)
	require.Equal(t, "e3", av.ID)

	el, _ := s.Get("e1")
	require.Equal(t, types.DisplayInline, el.Display)

	s.Upsert(types.Element{ID: "e1", ForID: "m1", Type: types.ElementImage, Name: "chart v2", Display: types.DisplaySide})
	require.Equal(t, 4, s.Len())
	require.Equal(t, "chart v2", s.ForMessage("m1")[0].Name)

	s.Rebind("m1", "m2")
	require.Empty(t, s.ForMessage("m1"))
	require.Len(t, s.ForMessage("m2"), 1)

	require.True(t, s.Remove("e2"))
	require.False(t, s.Remove("e2"))

	s.Reset()
	require.Zero(t, s.Len())
	require.Empty(t, s.Tasks())
}

func TestResolveReferences(t *testing.T) {
	step := types.Step{ID: "m1", Output: "See plot 2 and the summary. plotting is fun."}
	refs := ResolveReferences(step, []types.Element{
		{ID: "a", Name: "plot", Display: types.DisplayInline},
		{ID: "b", Name: "plot 2", Display: types.DisplaySide},
		{ID: "c", Name: "summary", Display: types.DisplayInline},
		{ID: "d", Name: "missing", Display: types.DisplayPage},
	})
	require.Len(t, refs, 2)
	inline := map[string]bool{}
	for _, r := range refs {
		inline[r.Name] = r.Inline
	}
	require.Equal(t, map[string]bool{"plot 2": false, "summary": true}, inline)
}
