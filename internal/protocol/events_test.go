package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeWireShape(t *testing.T) {
	env, err := NewEnvelope(EventMessageID, MessageID{OldID: "a", NewID: "b"})
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"message_id","data":{"oldId":"a","newId":"b"}}`, string(raw))

	var got MessageID
	require.NoError(t, env.Decode(&got))
	require.Equal(t, "b", got.NewID)
}

func TestNewEnvelopeEdgeCases(t *testing.T) {
	_, err := NewEnvelope("  ", nil)
	require.Error(t, err)

	env, err := NewEnvelope(EventStop, nil)
	require.NoError(t, err)
	require.Empty(t, env.Data)
	require.ErrorContains(t, env.Decode(&struct{}{}), "empty payload")

	env, err = NewEnvelope(EventTokenUsage, json.RawMessage(`{"count":7}`))
	require.NoError(t, err)
	var usage TokenUsage
	require.NoError(t, env.Decode(&usage))
	require.Equal(t, 7, usage.Count)

	env.Data = json.RawMessage(`{"count":"x"}`)
	require.ErrorContains(t, env.Decode(&usage), "token_usage: decode payload")
}
