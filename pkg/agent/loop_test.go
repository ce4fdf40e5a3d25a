package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsense-ai/deepsense/pkg/blob"
	"github.com/deepsense-ai/deepsense/pkg/checkpoint"
	"github.com/deepsense-ai/deepsense/pkg/compaction"
	"github.com/deepsense-ai/deepsense/pkg/config"
	"github.com/deepsense-ai/deepsense/pkg/llms"
	"github.com/deepsense-ai/deepsense/pkg/protocol"
	"github.com/deepsense-ai/deepsense/pkg/tokens"
	"github.com/deepsense-ai/deepsense/pkg/tools"
)

// scriptedProvider replays a fixed sequence of model responses.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	text      string
	toolCalls []*protocol.ToolCall
	err       error
}

func (p *scriptedProvider) Generate(ctx context.Context, msgs []*protocol.Message, defs []llms.ToolDefinition) (string, []*protocol.ToolCall, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.calls >= len(p.responses) {
		return "", nil, 0, errors.New("no scripted response left")
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp.text, resp.toolCalls, 0, resp.err
}

func (p *scriptedProvider) GenerateStructured(ctx context.Context, msgs []*protocol.Message, schema map[string]interface{}) (string, int, error) {
	return "", 0, errors.New("not scripted")
}

func (p *scriptedProvider) ModelName() string { return "scripted" }
func (p *scriptedProvider) Close() error      { return nil }

func newTestRegistry(t *testing.T, fns map[string]func(args map[string]interface{}) (interface{}, error)) *tools.ToolRegistry {
	t.Helper()

	source := tools.NewLocalToolSource("test")
	for name, fn := range fns {
		fn := fn
		source.Add(tools.NewFuncTool(tools.ToolInfo{
			Name:        name,
			Description: name,
		}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return fn(args)
		}))
	}

	registry := tools.NewToolRegistry()
	require.NoError(t, registry.RegisterSource(context.Background(), source))
	return registry
}

func seededState(sessionID, query string) *checkpoint.AgentState {
	state := checkpoint.NewAgentState(sessionID)
	state.Messages = append(state.Messages,
		protocol.SystemMessage("you are a helpful assistant"),
		protocol.UserMessage(query),
	)
	return state
}

func TestPlainAnswerTerminates(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "Paris is the capital of France."},
	}}
	store := checkpoint.NewMemoryStore()
	loop := NewLoop(provider, newTestRegistry(t, nil), store, nil, 0)

	state := seededState("sess-1", "capital of France?")
	require.NoError(t, loop.Run(context.Background(), state))

	last := protocol.LastMessage(state.Messages)
	assert.Equal(t, protocol.RoleAssistant, last.Role)
	assert.Equal(t, "Paris is the capital of France.", last.Content)
	assert.Equal(t, 1, provider.calls)
	assert.True(t, state.ToolsBound)
}

func TestToolCallRoundTrip(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{toolCalls: []*protocol.ToolCall{
			{ID: "call-1", Name: "get_weather", Args: map[string]interface{}{"city": "Warsaw"}},
		}},
		{text: "It is 18C in Warsaw."},
	}}
	registry := newTestRegistry(t, map[string]func(args map[string]interface{}) (interface{}, error){
		"get_weather": func(args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"city": args["city"], "temp": 18}, nil
		},
	})
	store := checkpoint.NewMemoryStore()
	loop := NewLoop(provider, registry, store, nil, 0)

	state := seededState("sess-1", "weather in Warsaw?")
	require.NoError(t, loop.Run(context.Background(), state))

	// system, user, assistant(tool call), tool, assistant(answer)
	require.Len(t, state.Messages, 5)
	assert.Equal(t, protocol.RoleTool, state.Messages[3].Role)
	assert.Equal(t, "call-1", state.Messages[3].ToolCallID)
	assert.Contains(t, state.Messages[3].Content, "Warsaw")
	assert.Equal(t, "It is 18C in Warsaw.", protocol.LastMessage(state.Messages).Content)
}

func TestFoldOrderMatchesEmissionOrder(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{toolCalls: []*protocol.ToolCall{
			{ID: "call-a", Name: "slow", Args: map[string]interface{}{}},
			{ID: "call-b", Name: "fast", Args: map[string]interface{}{}},
		}},
		{text: "done"},
	}}
	registry := newTestRegistry(t, map[string]func(args map[string]interface{}) (interface{}, error){
		"slow": func(map[string]interface{}) (interface{}, error) {
			time.Sleep(50 * time.Millisecond)
			return "slow result", nil
		},
		"fast": func(map[string]interface{}) (interface{}, error) {
			return "fast result", nil
		},
	})
	loop := NewLoop(provider, registry, checkpoint.NewMemoryStore(), nil, 0)

	state := seededState("sess-1", "race")
	require.NoError(t, loop.Run(context.Background(), state))

	var toolMsgs []*protocol.Message
	for _, msg := range state.Messages {
		if msg.Role == protocol.RoleTool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	require.Len(t, toolMsgs, 2)
	assert.Equal(t, "call-a", toolMsgs[0].ToolCallID)
	assert.Equal(t, "call-b", toolMsgs[1].ToolCallID)
}

func TestToolErrorIsEncodedNotFatal(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{toolCalls: []*protocol.ToolCall{
			{ID: "call-1", Name: "broken", Args: map[string]interface{}{}},
		}},
		{text: "the tool failed"},
	}}
	registry := newTestRegistry(t, map[string]func(args map[string]interface{}) (interface{}, error){
		"broken": func(map[string]interface{}) (interface{}, error) {
			return nil, errors.New("upstream 500")
		},
	})
	loop := NewLoop(provider, registry, checkpoint.NewMemoryStore(), nil, 0)

	state := seededState("sess-1", "try it")
	require.NoError(t, loop.Run(context.Background(), state))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(state.Messages[3].Content), &decoded))
	assert.Contains(t, decoded["error"], "upstream 500")
}

func TestUserActionHarvested(t *testing.T) {
	quote := map[string]interface{}{
		"user_action": true,
		"action_type": "swap_quote",
		"data":        map[string]interface{}{"outAmount": "995000"},
	}
	provider := &scriptedProvider{responses: []scriptedResponse{
		{toolCalls: []*protocol.ToolCall{
			{ID: "call-1", Name: "quote", Args: map[string]interface{}{}},
		}},
		{text: "here is your quote"},
	}}
	registry := newTestRegistry(t, map[string]func(args map[string]interface{}) (interface{}, error){
		"quote": func(map[string]interface{}) (interface{}, error) {
			return quote, nil
		},
	})
	loop := NewLoop(provider, registry, checkpoint.NewMemoryStore(), nil, 0)

	state := seededState("sess-1", "quote me")
	require.NoError(t, loop.Run(context.Background(), state))

	require.Len(t, state.UserActions, 1)
	assert.Equal(t, "swap_quote", state.UserActions[0]["action_type"])
	assert.Equal(t, true, state.UserActions[0]["user_action"])
}

func TestTransitionBudgetOverflow(t *testing.T) {
	// The model keeps asking for tools forever.
	responses := make([]scriptedResponse, 0, 64)
	for i := 0; i < 64; i++ {
		responses = append(responses, scriptedResponse{toolCalls: []*protocol.ToolCall{
			{ID: "call", Name: "noop", Args: map[string]interface{}{}},
		}})
	}
	provider := &scriptedProvider{responses: responses}
	registry := newTestRegistry(t, map[string]func(args map[string]interface{}) (interface{}, error){
		"noop": func(map[string]interface{}) (interface{}, error) { return "ok", nil },
	})
	loop := NewLoop(provider, registry, checkpoint.NewMemoryStore(), nil, 10)

	state := seededState("sess-1", "loop forever")
	require.NoError(t, loop.Run(context.Background(), state))

	last := protocol.LastMessage(state.Messages)
	assert.Equal(t, protocol.RoleAssistant, last.Role)
	assert.Contains(t, last.Content, "could not be completed")
	assert.Nil(t, state.PendingToolOutputs)
}

func TestBudgetOverflowAnswersEveryToolCall(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{toolCalls: []*protocol.ToolCall{
			{ID: "call-a", Name: "noop", Args: map[string]interface{}{}},
			{ID: "call-b", Name: "noop", Args: map[string]interface{}{}},
			{ID: "call-c", Name: "noop", Args: map[string]interface{}{}},
		}},
	}}
	registry := newTestRegistry(t, map[string]func(args map[string]interface{}) (interface{}, error){
		"noop": func(map[string]interface{}) (interface{}, error) { return "ok", nil },
	})

	// Budget runs out mid-fold: bind, model, dispatch, and the first
	// select consume it with outputs still pending.
	store := checkpoint.NewMemoryStore()
	loop := NewLoop(provider, registry, store, nil, 4)

	state := seededState("sess-1", "fan out")
	require.NoError(t, loop.Run(context.Background(), state))

	answered := make(map[string]bool)
	for _, msg := range state.Messages {
		if msg.Role == protocol.RoleTool {
			answered[msg.ToolCallID] = true
		}
	}
	for _, id := range []string{"call-a", "call-b", "call-c"} {
		assert.True(t, answered[id], "tool call %s left unanswered", id)
	}

	last := protocol.LastMessage(state.Messages)
	assert.Equal(t, protocol.RoleAssistant, last.Role)
	assert.Contains(t, last.Content, "could not be completed")
	assert.Nil(t, state.PendingToolOutputs)

	// The completed transcript, diagnostic included, is checkpointed.
	persisted, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StateDone, persisted.Phase)
	assert.Len(t, persisted.Messages, len(state.Messages))
}

// steadyProvider asks for one tool call per session, then answers. It is
// stateless, so one instance serves concurrent sessions.
type steadyProvider struct{}

func (steadyProvider) Generate(ctx context.Context, msgs []*protocol.Message, defs []llms.ToolDefinition) (string, []*protocol.ToolCall, int, error) {
	for _, msg := range msgs {
		if msg.Role == protocol.RoleTool {
			return "all done", nil, 0, nil
		}
	}
	return "", []*protocol.ToolCall{
		{ID: "call-1", Name: "noop", Args: map[string]interface{}{}},
	}, 0, nil
}

func (steadyProvider) GenerateStructured(ctx context.Context, msgs []*protocol.Message, schema map[string]interface{}) (string, int, error) {
	return "", 0, errors.New("not supported")
}

func (steadyProvider) ModelName() string { return "steady" }
func (steadyProvider) Close() error      { return nil }

func TestConcurrentSessionsShareOneLoop(t *testing.T) {
	registry := newTestRegistry(t, map[string]func(args map[string]interface{}) (interface{}, error){
		"noop": func(map[string]interface{}) (interface{}, error) { return "ok", nil },
	})
	loop := NewLoop(steadyProvider{}, registry, checkpoint.NewMemoryStore(), nil, 0)

	const sessions = 8
	var wg sync.WaitGroup
	errs := make([]error, sessions)
	states := make([]*checkpoint.AgentState, sessions)

	for i := 0; i < sessions; i++ {
		i := i
		states[i] = seededState(fmt.Sprintf("sess-%d", i), "go")
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = loop.Run(context.Background(), states[i])
		}()
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		require.NoError(t, errs[i], "session %d", i)
		assert.Equal(t, "all done", protocol.LastMessage(states[i].Messages).Content)
	}
}

func TestModelErrorTerminatesWithDiagnostic(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{err: errors.New("rate limited")},
	}}
	loop := NewLoop(provider, newTestRegistry(t, nil), checkpoint.NewMemoryStore(), nil, 0)

	state := seededState("sess-1", "hello")
	err := loop.Run(context.Background(), state)
	require.Error(t, err)

	last := protocol.LastMessage(state.Messages)
	assert.Equal(t, protocol.RoleAssistant, last.Role)
	assert.Contains(t, last.Content, "rate limited")
}

func TestCheckpointWrittenEveryTransition(t *testing.T) {
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "hi"},
	}}
	store := checkpoint.NewMemoryStore()
	loop := NewLoop(provider, newTestRegistry(t, nil), store, nil, 0)

	state := seededState("sess-1", "hello")
	require.NoError(t, loop.Run(context.Background(), state))

	persisted, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StateDone, persisted.Phase)
	assert.Equal(t, len(state.Messages), len(persisted.Messages))
}

func TestResumeFoldsPendingOutputsWithoutRedispatch(t *testing.T) {
	// A turn interrupted after dispatch: pending outputs are checkpointed
	// and the next phase is select_next_output.
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "resumed answer"},
	}}
	loop := NewLoop(provider, newTestRegistry(t, nil), checkpoint.NewMemoryStore(), nil, 0)

	state := seededState("sess-1", "resume me")
	state.ToolsBound = true
	state.Phase = StateSelectNextOutput
	state.Messages = append(state.Messages, protocol.AssistantMessage("", []*protocol.ToolCall{
		{ID: "call-1", Name: "anything", Args: map[string]interface{}{}},
	}))
	state.PendingToolOutputs = []*protocol.Message{
		protocol.ToolMessage("call-1", `{"already": "done"}`),
	}
	state.CurrentIndex = -1

	require.NoError(t, loop.Run(context.Background(), state))

	// The checkpointed output was folded, then the model answered once.
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, "resumed answer", protocol.LastMessage(state.Messages).Content)
	foundTool := false
	for _, msg := range state.Messages {
		if msg.Role == protocol.RoleTool && msg.ToolCallID == "call-1" {
			foundTool = true
		}
	}
	assert.True(t, foundTool)
}

func TestOversizedOutputIsCompacted(t *testing.T) {
	big := strings.Repeat(`{"tx": "sig", "amount": 12345.678}`+"\n", 200)

	provider := &scriptedProvider{responses: []scriptedResponse{
		{toolCalls: []*protocol.ToolCall{
			{ID: "call-1", Name: "history", Args: map[string]interface{}{
				"reason": "summarize the transfers",
			}},
		}},
		{text: "summary delivered"},
	}}
	registry := newTestRegistry(t, map[string]func(args map[string]interface{}) (interface{}, error){
		"history": func(map[string]interface{}) (interface{}, error) { return big, nil },
	})

	decision := &compactionFake{structured: func() (string, error) {
		return `{"mode": "summarize", "reasoning": "narrative", "suggestions": []}`, nil
	}}
	reducer := &compactionFake{generate: func() (string, error) {
		return "short summary of transfers", nil
	}}

	cfg := config.CompactionConfig{Threshold: 100, ChunkTokens: 50, BatchSize: 8, MaxSchemaIterations: 3}
	engine := compaction.NewEngine(decision, reducer, blob.NewMemoryUploader(), tokens.NewEstimator("claude-3-opus"), cfg, "tool-dumps")

	loop := NewLoop(provider, registry, checkpoint.NewMemoryStore(), engine, 0)

	state := seededState("sess-1", "show transfer history")
	require.NoError(t, loop.Run(context.Background(), state))

	var toolMsg *protocol.Message
	for _, msg := range state.Messages {
		if msg.Role == protocol.RoleTool {
			toolMsg = msg
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.NotContains(t, toolMsg.Content, "12345.678")
	assert.Less(t, len(toolMsg.Content), len(big))
}

type compactionFake struct {
	generate   func() (string, error)
	structured func() (string, error)
}

func (f *compactionFake) Generate(ctx context.Context, msgs []*protocol.Message, defs []llms.ToolDefinition) (string, []*protocol.ToolCall, int, error) {
	text, err := f.generate()
	return text, nil, 0, err
}

func (f *compactionFake) GenerateStructured(ctx context.Context, msgs []*protocol.Message, schema map[string]interface{}) (string, int, error) {
	text, err := f.structured()
	return text, 0, err
}

func (f *compactionFake) ModelName() string { return "fake" }
func (f *compactionFake) Close() error      { return nil }
