package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsense-ai/deepsense/pkg/protocol"
)

func TestCreateSessionGeneratesID(t *testing.T) {
	store := NewMemoryStore()

	id, err := store.CreateSession(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	other, err := store.CreateSession(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestCreateSessionIdempotentOnSuppliedID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.CreateSession(ctx, "user-1", "sess-42")
	require.NoError(t, err)
	assert.Equal(t, "sess-42", id)

	again, err := store.CreateSession(ctx, "user-1", "sess-42")
	require.NoError(t, err)
	assert.Equal(t, "sess-42", again)

	sessions, err := store.ListUserSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestGetMissingStateReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutGetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateSession(ctx, "user-1", "sess-1")
	require.NoError(t, err)

	state := NewAgentState("sess-1")
	state.ToolsBound = true
	state.Phase = "model"
	state.Messages = append(state.Messages,
		protocol.SystemMessage("you are helpful"),
		protocol.UserMessage("hello"),
	)
	state.UserActions = append(state.UserActions, map[string]interface{}{
		"user_action": true,
		"action_type": "swap_quote",
	})

	require.NoError(t, store.Put(ctx, state))

	loaded, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", loaded.SessionID)
	assert.True(t, loaded.ToolsBound)
	assert.Equal(t, "model", loaded.Phase)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, protocol.RoleUser, loaded.Messages[1].Role)
	require.Len(t, loaded.UserActions, 1)
	assert.Equal(t, "swap_quote", loaded.UserActions[0]["action_type"])
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := NewAgentState("sess-1")
	state.Messages = append(state.Messages, protocol.UserMessage("original"))
	require.NoError(t, store.Put(ctx, state))

	loaded, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	loaded.Messages[0].Content = "mutated"

	fresh, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "original", fresh.Messages[0].Content)
}

func TestLastWriterWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := NewAgentState("sess-1")
	first.Messages = append(first.Messages, protocol.UserMessage("first"))
	require.NoError(t, store.Put(ctx, first))

	second := NewAgentState("sess-1")
	second.Messages = append(second.Messages, protocol.UserMessage("second"))
	require.NoError(t, store.Put(ctx, second))

	loaded, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)
	assert.Equal(t, "second", loaded.Messages[0].Content)
}

func TestDeleteRemovesStateAndSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateSession(ctx, "user-1", "sess-1")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, NewAgentState("sess-1")))

	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err = store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetSession(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUserSessionsFiltersByOwner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateSession(ctx, "alice", "a-1")
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "alice", "a-2")
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "bob", "b-1")
	require.NoError(t, err)

	sessions, err := store.ListUserSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
	for _, info := range sessions {
		assert.Equal(t, "alice", info.UserID)
	}
}

func TestStateCloneIsDeep(t *testing.T) {
	state := NewAgentState("sess-1")
	state.PendingToolOutputs = []*protocol.Message{
		protocol.ToolMessage("call-1", `{"a":1}`),
	}
	state.CurrentToolOutput = protocol.ToolMessage("call-2", "pending")

	clone := state.Clone()
	clone.PendingToolOutputs[0].Content = "changed"
	clone.CurrentToolOutput.Content = "changed"

	assert.Equal(t, `{"a":1}`, state.PendingToolOutputs[0].Content)
	assert.Equal(t, "pending", state.CurrentToolOutput.Content)
}

func TestMarshalRoundTripPreservesCurrentIndex(t *testing.T) {
	state := NewAgentState("sess-1")
	require.Equal(t, -1, state.CurrentIndex)

	data, err := state.Marshal()
	require.NoError(t, err)

	loaded, err := UnmarshalState(data)
	require.NoError(t, err)
	assert.Equal(t, -1, loaded.CurrentIndex)
	assert.NotNil(t, loaded.Messages)
}

func TestSQLRebindPlaceholders(t *testing.T) {
	store := &SQLStore{dialect: "postgres"}
	assert.Equal(t, `SELECT state FROM checkpoints WHERE session_id = $1`,
		store.rebind(`SELECT state FROM checkpoints WHERE session_id = ?`))

	store.dialect = "sqlite"
	assert.Equal(t, `SELECT state FROM checkpoints WHERE session_id = ?`,
		store.rebind(`SELECT state FROM checkpoints WHERE session_id = ?`))
}
