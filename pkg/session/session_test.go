package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsense-ai/deepsense/pkg/agent"
	"github.com/deepsense-ai/deepsense/pkg/checkpoint"
	"github.com/deepsense-ai/deepsense/pkg/llms"
	"github.com/deepsense-ai/deepsense/pkg/protocol"
	"github.com/deepsense-ai/deepsense/pkg/tools"
)

type replayProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (p *replayProvider) Generate(ctx context.Context, msgs []*protocol.Message, defs []llms.ToolDefinition) (string, []*protocol.ToolCall, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.calls >= len(p.responses) {
		return "", nil, 0, errors.New("no response scripted")
	}
	text := p.responses[p.calls]
	p.calls++
	return text, nil, 0, nil
}

func (p *replayProvider) GenerateStructured(ctx context.Context, msgs []*protocol.Message, schema map[string]interface{}) (string, int, error) {
	return "", 0, errors.New("not supported")
}

func (p *replayProvider) ModelName() string { return "replay" }
func (p *replayProvider) Close() error      { return nil }

func newService(t *testing.T, store checkpoint.Store, responses ...string) *Service {
	t.Helper()

	registry := tools.NewToolRegistry()
	provider := &replayProvider{responses: responses}
	loop := agent.NewLoop(provider, registry, store, nil, 0)
	return NewService(loop, store, "")
}

func TestInvokeCreatesSessionAndAnswers(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	service := newService(t, store, "hello there")

	result, err := service.Invoke(context.Background(), "hi", "", "user-1")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "hello there", result.Response)

	// Fresh sessions start with the system prompt.
	require.NotEmpty(t, result.Messages)
	assert.Equal(t, protocol.RoleSystem, result.Messages[0].Role)
}

func TestInvokeContinuesExistingSession(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	service := newService(t, store, "first answer", "second answer")

	first, err := service.Invoke(context.Background(), "question one", "", "user-1")
	require.NoError(t, err)

	second, err := service.Invoke(context.Background(), "question two", first.SessionID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "second answer", second.Response)

	// The transcript accumulates: system, user, assistant, user, assistant.
	assert.Len(t, second.Messages, 5)
	// Only one system message even across turns.
	systems := 0
	for _, msg := range second.Messages {
		if msg.Role == protocol.RoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)
}

func TestHistoryFiltersNestedMessages(t *testing.T) {
	store := checkpoint.NewMemoryStore()

	state := checkpoint.NewAgentState("sess-1")
	state.Messages = append(state.Messages,
		protocol.SystemMessage("prompt"),
		protocol.UserMessage("question"),
		protocol.AssistantMessage("", []*protocol.ToolCall{{ID: "c1", Name: "t"}}),
		protocol.ToolMessage("c1", `{"data": 1}`),
		protocol.AssistantMessage("answer", nil),
	)
	require.NoError(t, store.Put(context.Background(), state))

	service := newService(t, store)

	msgs, err := service.History(context.Background(), "sess-1", 0, false)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "question", msgs[0].Content)
	assert.Equal(t, "answer", msgs[1].Content)

	full, err := service.History(context.Background(), "sess-1", 0, true)
	require.NoError(t, err)
	assert.Len(t, full, 5)

	limited, err := service.History(context.Background(), "sess-1", 1, false)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "answer", limited[0].Content)
}

func TestHistoryUnknownSession(t *testing.T) {
	service := newService(t, checkpoint.NewMemoryStore())

	_, err := service.History(context.Background(), "ghost", 0, false)
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestInvokeReportsLoopFailure(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	// No scripted responses, so the model call fails.
	service := newService(t, store)

	result, err := service.Invoke(context.Background(), "hi", "", "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Contains(t, result.Response, "failed")
}
