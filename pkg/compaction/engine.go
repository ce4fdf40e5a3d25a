// Package compaction condenses oversized tool outputs into compact
// synthetic tool messages before they enter the conversation.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/deepsense-ai/deepsense/pkg/blob"
	"github.com/deepsense-ai/deepsense/pkg/config"
	"github.com/deepsense-ai/deepsense/pkg/llms"
	"github.com/deepsense-ai/deepsense/pkg/observability"
	"github.com/deepsense-ai/deepsense/pkg/protocol"
	"github.com/deepsense-ai/deepsense/pkg/tokens"
)

// Decision is the mode decision for one compaction run.
type Decision struct {
	Mode        string   `json:"mode"`
	Reasoning   string   `json:"reasoning"`
	Suggestions []string `json:"suggestions"`
}

// chunkSchema is the reducer's answer for one schema refinement pass.
type chunkSchema struct {
	Format string                 `json:"format"`
	Schema map[string]interface{} `json:"schema"`
	Enums  map[string]interface{} `json:"enums,omitempty"`
}

// Engine runs the compaction state machine over one oversized tool
// output at a time.
type Engine struct {
	decision  llms.Provider
	reducer   llms.Provider
	uploader  blob.Uploader
	estimator *tokens.Estimator
	cfg       config.CompactionConfig
	prefix    string
	logger    *slog.Logger
}

func NewEngine(decision, reducer llms.Provider, uploader blob.Uploader, estimator *tokens.Estimator, cfg config.CompactionConfig, blobPrefix string) *Engine {
	return &Engine{
		decision:  decision,
		reducer:   reducer,
		uploader:  uploader,
		estimator: estimator,
		cfg:       cfg,
		prefix:    blobPrefix,
		logger:    slog.Default().With("component", "compaction"),
	}
}

// ShouldCompact reports whether a tool output exceeds the token threshold.
func (e *Engine) ShouldCompact(content string) bool {
	return e.estimator.Estimate(content) > e.cfg.Threshold
}

// Compact replaces the triggering tool message with a synthetic one
// carrying the same tool call id. The assistant message is the one that
// emitted the matching tool call; its "reason" argument steers the run.
func (e *Engine) Compact(ctx context.Context, sessionID string, assistant, toolMsg *protocol.Message) (*protocol.Message, error) {
	start := time.Now()
	before := e.estimator.Estimate(toolMsg.Content)

	tracer := observability.GetTracer("compaction")
	ctx, span := tracer.Start(ctx, observability.SpanCompactionRun)
	defer span.End()
	span.SetAttributes(attribute.String(observability.AttrSessionID, sessionID))

	reasonContext := ""
	if call := protocol.FindToolCall(assistant, toolMsg.ToolCallID); call != nil {
		reasonContext = call.Reason()
	}

	chunks := e.estimator.Chunk(toolMsg.Content, e.cfg.ChunkTokens)
	e.logger.Info("Compacting tool output",
		"session_id", sessionID,
		"tool_call_id", toolMsg.ToolCallID,
		"tokens", before,
		"chunks", len(chunks))

	decision, err := e.decideMode(ctx, reasonContext, chunks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordCompaction(ctx, "", time.Since(start), before, 0, err)
		return nil, err
	}
	span.SetAttributes(attribute.String(observability.AttrCompactionMode, decision.Mode))

	var content string
	switch decision.Mode {
	case "schema":
		content, err = e.discoverSchema(ctx, sessionID, toolMsg.Content, chunks)
	default:
		content, err = e.summarize(ctx, reasonContext, decision.Suggestions, chunks)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.GetGlobalMetrics().RecordCompaction(ctx, decision.Mode, time.Since(start), before, 0, err)
		return nil, err
	}

	// The synthetic output must be strictly smaller than the original.
	// When a model amplifies instead, degrade to a truncated prefix.
	after := e.estimator.Estimate(content)
	if after >= before {
		e.logger.Warn("Compacted output did not shrink, truncating",
			"session_id", sessionID, "before", before, "after", after)
		content = e.truncate(content)
		after = e.estimator.Estimate(content)
	}

	observability.GetGlobalMetrics().RecordCompaction(ctx, decision.Mode, time.Since(start), before, after, nil)
	e.logger.Info("Compaction complete",
		"session_id", sessionID, "mode", decision.Mode, "before", before, "after", after)

	return protocol.ToolMessage(toolMsg.ToolCallID, content), nil
}

// decideMode picks schema discovery or summarization from the steering
// context and the first chunk.
func (e *Engine) decideMode(ctx context.Context, reasonContext string, chunks []string) (*Decision, error) {
	firstChunk := ""
	if len(chunks) > 0 {
		firstChunk = chunks[0]
	}

	text, _, err := e.decision.GenerateStructured(ctx, decisionMessages(reasonContext, firstChunk), decisionSchema)
	if err != nil {
		return nil, fmt.Errorf("mode decision failed: %w", err)
	}

	// An unparseable or incomplete decision falls back to schema mode.
	var decision Decision
	if err := llms.DecodeJSON(text, &decision); err != nil {
		e.logger.Warn("Unparseable mode decision, defaulting to schema", "error", err)
		decision = Decision{Mode: "schema"}
	}
	if decision.Mode != "schema" && decision.Mode != "summarize" {
		decision.Mode = "schema"
	}

	return &decision, nil
}

// discoverSchema refines a schema across chunks sequentially, then uploads
// the raw content. The upload is mandatory: a schema without its data URI
// is useless to the model, so upload failure fails the whole run.
func (e *Engine) discoverSchema(ctx context.Context, sessionID, content string, chunks []string) (string, error) {
	var partials []*chunkSchema

	for iteration := 0; iteration <= e.cfg.MaxSchemaIterations && iteration < len(chunks); iteration++ {
		previous := "{}"
		if len(partials) > 0 {
			if data, err := json.Marshal(partials[len(partials)-1]); err == nil {
				previous = string(data)
			}
		}

		text, _, err := e.reducer.GenerateStructured(ctx, schemaMessages(chunks[iteration], previous), chunkSchemaSchema)
		if err != nil {
			return "", fmt.Errorf("schema extraction failed on chunk %d: %w", iteration, err)
		}

		var schema chunkSchema
		if err := llms.DecodeJSON(text, &schema); err != nil {
			return "", fmt.Errorf("failed to decode schema for chunk %d: %w", iteration, err)
		}
		partials = append(partials, &schema)
	}

	if len(partials) == 0 {
		return "", fmt.Errorf("no chunks to extract schema from")
	}
	final := partials[len(partials)-1]

	key := blob.ObjectKey(e.prefix, sessionID)
	url, err := e.uploader.Upload(ctx, []byte(content), key)
	if err != nil {
		return "", fmt.Errorf("failed to upload raw tool output: %w", err)
	}

	result, err := json.Marshal(map[string]interface{}{
		"data_schema": final,
		"data_uri":    url,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode schema result: %w", err)
	}
	return string(result), nil
}

// summarize map-reduces the chunks: batches run in parallel, each batch
// summarizes its chunks in parallel and merges them, then a final merge
// combines the batch summaries.
func (e *Engine) summarize(ctx context.Context, reasonContext string, suggestions []string, chunks []string) (string, error) {
	suggestionText := strings.Join(suggestions, "\n\n")

	var batches [][]string
	for i := 0; i < len(chunks); i += e.cfg.BatchSize {
		end := i + e.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}

	// Batch order is preserved by index; completion order does not matter.
	summaries := make([]string, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			summary, err := e.summarizeBatch(gctx, batch, reasonContext, suggestionText)
			if err != nil {
				// Summarizer failures surface in place instead of
				// aborting the run.
				summary = fmt.Sprintf("Error merging summaries: %v", err)
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if len(summaries) == 1 {
		return summaries[0], nil
	}

	final, _, _, err := e.reducer.Generate(ctx, finalMergeMessages(summaries, reasonContext, suggestionText), nil)
	if err != nil {
		return fmt.Sprintf("Error merging summaries: %v", err), nil
	}
	return final, nil
}

func (e *Engine) summarizeBatch(ctx context.Context, batch []string, reasonContext, suggestions string) (string, error) {
	partials := make([]string, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range batch {
		i, chunk := i, chunk
		g.Go(func() error {
			text, _, _, err := e.reducer.Generate(gctx, summarizeMessages(chunk, reasonContext, suggestions, ""), nil)
			if err != nil {
				return err
			}
			partials[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	merged, _, _, err := e.reducer.Generate(ctx, batchMergeMessages(partials, reasonContext, suggestions), nil)
	if err != nil {
		return "", err
	}
	return merged, nil
}

// truncate keeps a single chunk's worth of content plus a marker.
func (e *Engine) truncate(content string) string {
	chunks := e.estimator.Chunk(content, e.cfg.ChunkTokens)
	if len(chunks) <= 1 {
		return content
	}
	return chunks[0] + "\n... [output truncated]"
}
