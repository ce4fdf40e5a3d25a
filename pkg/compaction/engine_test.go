package compaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsense-ai/deepsense/pkg/blob"
	"github.com/deepsense-ai/deepsense/pkg/config"
	"github.com/deepsense-ai/deepsense/pkg/llms"
	"github.com/deepsense-ai/deepsense/pkg/protocol"
	"github.com/deepsense-ai/deepsense/pkg/tokens"
)

type fakeProvider struct {
	mu              sync.Mutex
	generate        func(msgs []*protocol.Message) (string, error)
	structured      func(msgs []*protocol.Message) (string, error)
	generateCalls   int
	structuredCalls int
}

func (f *fakeProvider) Generate(ctx context.Context, msgs []*protocol.Message, tools []llms.ToolDefinition) (string, []*protocol.ToolCall, int, error) {
	f.mu.Lock()
	f.generateCalls++
	f.mu.Unlock()

	text, err := f.generate(msgs)
	return text, nil, 0, err
}

func (f *fakeProvider) GenerateStructured(ctx context.Context, msgs []*protocol.Message, schema map[string]interface{}) (string, int, error) {
	f.mu.Lock()
	f.structuredCalls++
	f.mu.Unlock()

	text, err := f.structured(msgs)
	return text, 0, err
}

func (f *fakeProvider) ModelName() string { return "fake-model" }
func (f *fakeProvider) Close() error      { return nil }

type failingUploader struct{}

func (failingUploader) Upload(ctx context.Context, data []byte, key string) (string, error) {
	return "", errors.New("bucket unavailable")
}

func testConfig() config.CompactionConfig {
	cfg := config.CompactionConfig{
		Threshold:   50,
		ChunkTokens: 20,
	}
	cfg.SetDefaults()
	cfg.Threshold = 50
	cfg.ChunkTokens = 20
	return cfg
}

// bigContent builds a multi-line payload well above the test threshold.
func bigContent(lines int) string {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		fmt.Fprintf(&b, `{"row": %d, "price": 150.2512, "volume": 98213}`+"\n", i)
	}
	return b.String()
}

func decisionJSON(mode string, suggestions ...string) string {
	data, _ := json.Marshal(map[string]interface{}{
		"mode":        mode,
		"reasoning":   "test",
		"suggestions": suggestions,
	})
	return string(data)
}

func triggeringPair(reason string) (*protocol.Message, *protocol.Message, string) {
	content := bigContent(40)
	assistant := protocol.AssistantMessage("", []*protocol.ToolCall{
		{ID: "call-1", Name: "helius_data", Args: map[string]interface{}{
			"action": "get_transaction_history",
			"reason": reason,
		}},
	})
	return assistant, protocol.ToolMessage("call-1", content), content
}

func TestShouldCompactUsesThreshold(t *testing.T) {
	engine := NewEngine(nil, nil, nil, tokens.NewEstimator("claude-3-opus"), testConfig(), "tool-dumps")

	assert.False(t, engine.ShouldCompact("short"))
	assert.True(t, engine.ShouldCompact(bigContent(40)))
}

func TestSchemaModeEmitsSchemaAndURI(t *testing.T) {
	assistant, toolMsg, _ := triggeringPair("run aggregates over the transactions")

	decision := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		return decisionJSON("schema"), nil
	}}
	reducer := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		return `{"format": "newline-delimited JSON", "schema": {"row": "number", "price": "number"}}`, nil
	}}
	uploader := blob.NewMemoryUploader()

	engine := NewEngine(decision, reducer, uploader, tokens.NewEstimator("claude-3-opus"), testConfig(), "tool-dumps")

	msg, err := engine.Compact(context.Background(), "sess-1", assistant, toolMsg)
	require.NoError(t, err)
	assert.Equal(t, "call-1", msg.ToolCallID)
	assert.Equal(t, protocol.RoleTool, msg.Role)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msg.Content), &result))
	schema := result["data_schema"].(map[string]interface{})
	assert.Equal(t, "newline-delimited JSON", schema["format"])
	assert.Contains(t, result["data_uri"], "memory://tool-dumps/sess-1/")

	// The raw payload is preserved in the object store.
	assert.Equal(t, 1, uploader.Count())
}

func TestSchemaRefinementIsBounded(t *testing.T) {
	assistant, toolMsg, _ := triggeringPair("")

	decision := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		return decisionJSON("schema"), nil
	}}
	reducer := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		return `{"format": "json", "schema": {"row": "number"}}`, nil
	}}

	engine := NewEngine(decision, reducer, blob.NewMemoryUploader(), tokens.NewEstimator("claude-3-opus"), testConfig(), "tool-dumps")

	_, err := engine.Compact(context.Background(), "sess-1", assistant, toolMsg)
	require.NoError(t, err)

	// At most MaxSchemaIterations+1 refinement passes regardless of how
	// many chunks remain.
	assert.LessOrEqual(t, reducer.structuredCalls, 4)
}

func TestSchemaUploadFailureIsFatal(t *testing.T) {
	assistant, toolMsg, _ := triggeringPair("")

	decision := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		return decisionJSON("schema"), nil
	}}
	reducer := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		return `{"format": "json", "schema": {}}`, nil
	}}

	engine := NewEngine(decision, reducer, failingUploader{}, tokens.NewEstimator("claude-3-opus"), testConfig(), "tool-dumps")

	_, err := engine.Compact(context.Background(), "sess-1", assistant, toolMsg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload")
}

func TestGarbledDecisionFallsBackToSchema(t *testing.T) {
	assistant, toolMsg, _ := triggeringPair("")

	decision := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		return "I cannot answer in JSON, sorry", nil
	}}
	reducer := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		return `{"format": "json", "schema": {"row": "number"}}`, nil
	}}

	engine := NewEngine(decision, reducer, blob.NewMemoryUploader(), tokens.NewEstimator("claude-3-opus"), testConfig(), "tool-dumps")

	msg, err := engine.Compact(context.Background(), "sess-1", assistant, toolMsg)
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msg.Content), &result))
	assert.Contains(t, result, "data_schema")
	assert.Contains(t, result, "data_uri")
}

func TestDecisionSeesReasonContext(t *testing.T) {
	assistant, toolMsg, _ := triggeringPair("rank the top holders")

	var decisionPrompt string
	decision := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		decisionPrompt = msgs[len(msgs)-1].Content
		return decisionJSON("summarize"), nil
	}}
	reducer := &fakeProvider{generate: func(msgs []*protocol.Message) (string, error) {
		return "summary", nil
	}}

	engine := NewEngine(decision, reducer, blob.NewMemoryUploader(), tokens.NewEstimator("claude-3-opus"), testConfig(), "tool-dumps")

	_, err := engine.Compact(context.Background(), "sess-1", assistant, toolMsg)
	require.NoError(t, err)
	assert.Contains(t, decisionPrompt, "rank the top holders")
}

func TestSummarizeModeProducesFinalSummary(t *testing.T) {
	assistant, toolMsg, _ := triggeringPair("list key findings")

	decision := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		return decisionJSON("summarize", "focus on prices"), nil
	}}
	reducer := &fakeProvider{generate: func(msgs []*protocol.Message) (string, error) {
		prompt := msgs[len(msgs)-1].Content
		switch {
		case strings.Contains(prompt, "intermediate summary"):
			return "batch summary", nil
		case strings.Contains(prompt, "final summary"):
			return "the final summary", nil
		default:
			return `{"price": 150.2512}`, nil
		}
	}}

	cfg := testConfig()
	cfg.BatchSize = 2
	engine := NewEngine(decision, reducer, blob.NewMemoryUploader(), tokens.NewEstimator("claude-3-opus"), cfg, "tool-dumps")

	msg, err := engine.Compact(context.Background(), "sess-1", assistant, toolMsg)
	require.NoError(t, err)
	assert.Equal(t, "the final summary", msg.Content)
	assert.Equal(t, "call-1", msg.ToolCallID)
}

func TestSummarizerErrorSurfacedInPlace(t *testing.T) {
	assistant, toolMsg, _ := triggeringPair("")

	decision := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		return decisionJSON("summarize"), nil
	}}
	reducer := &fakeProvider{generate: func(msgs []*protocol.Message) (string, error) {
		return "", errors.New("rate limited")
	}}

	cfg := testConfig()
	cfg.BatchSize = 100 // single batch, so its error text becomes the output
	engine := NewEngine(decision, reducer, blob.NewMemoryUploader(), tokens.NewEstimator("claude-3-opus"), cfg, "tool-dumps")

	msg, err := engine.Compact(context.Background(), "sess-1", assistant, toolMsg)
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "Error merging summaries:")
	assert.Contains(t, msg.Content, "rate limited")
}

func TestAmplifiedSummaryIsTruncated(t *testing.T) {
	assistant, toolMsg, content := triggeringPair("")

	decision := &fakeProvider{structured: func(msgs []*protocol.Message) (string, error) {
		return decisionJSON("summarize"), nil
	}}
	// A pathological summarizer that returns more text than it was given.
	reducer := &fakeProvider{generate: func(msgs []*protocol.Message) (string, error) {
		return strings.Repeat(content, 2), nil
	}}

	cfg := testConfig()
	cfg.BatchSize = 100
	estimator := tokens.NewEstimator("claude-3-opus")
	engine := NewEngine(decision, reducer, blob.NewMemoryUploader(), estimator, cfg, "tool-dumps")

	msg, err := engine.Compact(context.Background(), "sess-1", assistant, toolMsg)
	require.NoError(t, err)
	assert.Less(t, estimator.Estimate(msg.Content), estimator.Estimate(content))
	assert.Contains(t, msg.Content, "[output truncated]")
}
