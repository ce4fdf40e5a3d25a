// Package agent runs the tool-calling loop: a small state machine that
// alternates model invocations with tool dispatch, checkpointing its
// state after every transition.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/deepsense-ai/deepsense/pkg/checkpoint"
	"github.com/deepsense-ai/deepsense/pkg/compaction"
	"github.com/deepsense-ai/deepsense/pkg/llms"
	"github.com/deepsense-ai/deepsense/pkg/observability"
	"github.com/deepsense-ai/deepsense/pkg/protocol"
	"github.com/deepsense-ai/deepsense/pkg/tools"
)

// Loop states. The checkpointed Phase always names the next state to
// execute, so a restart resumes without repeating completed work.
const (
	StateBindTools        = "bind_tools"
	StateModel            = "model"
	StateDispatchTools    = "dispatch_tools"
	StateSelectNextOutput = "select_next_output"
	StateFoldOutput       = "fold_output"
	StateDone             = ""
)

// DefaultMaxTransitions bounds state transitions per turn.
const DefaultMaxTransitions = 50

// Loop drives one session's turn to completion. A single Loop serves
// concurrent sessions; all per-turn state lives in the run.
type Loop struct {
	provider       llms.Provider
	registry       *tools.ToolRegistry
	store          checkpoint.Store
	compactor      *compaction.Engine
	maxTransitions int
	logger         *slog.Logger
}

// run carries one turn's non-checkpointed state.
type run struct {
	state       *checkpoint.AgentState
	definitions []llms.ToolDefinition
}

func NewLoop(provider llms.Provider, registry *tools.ToolRegistry, store checkpoint.Store, compactor *compaction.Engine, maxTransitions int) *Loop {
	if maxTransitions <= 0 {
		maxTransitions = DefaultMaxTransitions
	}
	return &Loop{
		provider:       provider,
		registry:       registry,
		store:          store,
		compactor:      compactor,
		maxTransitions: maxTransitions,
		logger:         slog.Default().With("component", "agent"),
	}
}

// Run advances the state machine until the model answers without tool
// calls or the transition budget runs out. The state is persisted after
// every transition; partial turns resume from their checkpointed phase.
func (l *Loop) Run(ctx context.Context, state *checkpoint.AgentState) error {
	start := time.Now()

	tracer := observability.GetTracer("agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentTurn)
	defer span.End()
	span.SetAttributes(attribute.String(observability.AttrSessionID, state.SessionID))

	r := &run{state: state}
	current := l.entryState(state)
	transitions := 0
	var runErr error

	for current != StateDone {
		if transitions >= l.maxTransitions {
			l.logger.Warn("Transition budget exhausted, terminating turn",
				"session_id", state.SessionID, "transitions", transitions)
			// Answer every dispatched tool call before the diagnostic so
			// the transcript replays cleanly on the next turn.
			foldRemainingOutputs(state)
			state.Messages = append(state.Messages, protocol.AssistantMessage(
				fmt.Sprintf("The request could not be completed within %d processing steps. Partial results may appear above.", l.maxTransitions), nil))
			state.PendingToolOutputs = nil
			state.CurrentToolOutput = nil
			state.CurrentIndex = -1
			current = StateDone
			break
		}

		next, err := l.step(ctx, r, current)
		if err != nil {
			runErr = err
			next = StateDone
		}

		state.Phase = next
		if putErr := l.store.Put(ctx, state); putErr != nil {
			l.logger.Error("Checkpoint write failed",
				"session_id", state.SessionID, "phase", current, "error", putErr)
			if runErr == nil {
				runErr = fmt.Errorf("checkpoint write failed: %w", putErr)
			}
			break
		}

		current = next
		transitions++
	}

	if current == StateDone && runErr == nil {
		state.Phase = StateDone
		if err := l.store.Put(ctx, state); err != nil {
			runErr = fmt.Errorf("checkpoint write failed: %w", err)
		}
	}

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	observability.GetGlobalMetrics().RecordTurn(ctx, time.Since(start), transitions, runErr)

	return runErr
}

// entryState picks where to resume. A fresh session binds tools first;
// an interrupted turn continues at its checkpointed phase.
func (l *Loop) entryState(state *checkpoint.AgentState) string {
	switch state.Phase {
	case StateModel, StateDispatchTools, StateSelectNextOutput, StateFoldOutput:
		return state.Phase
	}
	if !state.ToolsBound {
		return StateBindTools
	}
	return StateModel
}

func (l *Loop) step(ctx context.Context, r *run, phase string) (string, error) {
	switch phase {
	case StateBindTools:
		return l.bindTools(r)
	case StateModel:
		return l.callModel(ctx, r)
	case StateDispatchTools:
		return l.dispatchTools(ctx, r.state)
	case StateSelectNextOutput:
		return l.selectNextOutput(ctx, r.state)
	case StateFoldOutput:
		return l.foldOutput(r.state)
	default:
		return StateDone, fmt.Errorf("unknown loop state: %s", phase)
	}
}

// bindTools snapshots the tool catalog once per session.
func (l *Loop) bindTools(r *run) (string, error) {
	r.definitions = l.registry.Definitions()
	r.state.ToolsBound = true
	l.logger.Debug("Bound tool catalog",
		"session_id", r.state.SessionID, "tools", len(r.definitions))
	return StateModel, nil
}

func (l *Loop) callModel(ctx context.Context, r *run) (string, error) {
	state := r.state

	// A resumed run never re-enters bindTools; re-list the catalog here.
	if r.definitions == nil && state.ToolsBound {
		r.definitions = l.registry.Definitions()
	}

	text, calls, _, err := l.provider.Generate(ctx, state.Messages, r.definitions)
	if err != nil {
		// A failed model call ends the turn with a diagnostic message
		// instead of leaving the transcript dangling.
		state.Messages = append(state.Messages, protocol.AssistantMessage(
			fmt.Sprintf("The request failed: %v", err), nil))
		return StateDone, fmt.Errorf("model call failed: %w", err)
	}

	state.Messages = append(state.Messages, protocol.AssistantMessage(text, calls))

	if len(calls) > 0 {
		return StateDispatchTools, nil
	}
	return StateDone, nil
}

// dispatchTools executes every tool call on the last assistant message.
// Calls run in parallel; results land at the index of their call so the
// fold order matches the model's emission order.
func (l *Loop) dispatchTools(ctx context.Context, state *checkpoint.AgentState) (string, error) {
	assistant := protocol.LastAssistant(state.Messages)
	if assistant == nil || !assistant.HasToolCalls() {
		return StateModel, nil
	}

	outputs := make([]*protocol.Message, len(assistant.ToolCalls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range assistant.ToolCalls {
		i, call := i, call
		g.Go(func() error {
			result := l.registry.ExecuteTool(gctx, call.Name, call.Args)
			outputs[i] = protocol.ToolMessage(call.ID, result.Content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StateDone, err
	}

	state.PendingToolOutputs = outputs
	state.CurrentIndex = -1
	return StateSelectNextOutput, nil
}

// selectNextOutput advances the fold cursor and decides whether the
// selected output needs compaction before entering the conversation.
func (l *Loop) selectNextOutput(ctx context.Context, state *checkpoint.AgentState) (string, error) {
	state.CurrentIndex++

	if state.CurrentIndex >= len(state.PendingToolOutputs) {
		state.CurrentIndex = -1
		state.PendingToolOutputs = nil
		state.CurrentToolOutput = nil
		return StateModel, nil
	}

	output := state.PendingToolOutputs[state.CurrentIndex]
	state.CurrentToolOutput = output

	if l.compactor != nil && l.compactor.ShouldCompact(output.Content) {
		assistant := protocol.LastAssistant(state.Messages)
		compacted, err := l.compactor.Compact(ctx, state.SessionID, assistant, output)
		if err != nil {
			state.Messages = append(state.Messages, protocol.AssistantMessage(
				fmt.Sprintf("The request failed while condensing a tool result: %v", err), nil))
			return StateDone, fmt.Errorf("compaction failed: %w", err)
		}
		state.CurrentToolOutput = compacted
	}

	return StateFoldOutput, nil
}

// foldOutput appends the selected output to the conversation and harvests
// any user action it carries.
func (l *Loop) foldOutput(state *checkpoint.AgentState) (string, error) {
	if state.CurrentToolOutput != nil {
		state.Messages = append(state.Messages, state.CurrentToolOutput)
		if action := parseUserAction(state.CurrentToolOutput.Content); action != nil {
			state.UserActions = append(state.UserActions, action)
		}
		state.CurrentToolOutput = nil
	}
	return StateSelectNextOutput, nil
}

// foldRemainingOutputs appends every dispatched tool output that has not
// reached the conversation yet. Leaving a tool call unanswered would make
// the transcript unreplayable: providers reject assistant tool calls
// without matching tool results.
func foldRemainingOutputs(state *checkpoint.AgentState) {
	answered := make(map[string]bool)
	for _, msg := range state.Messages {
		if msg.Role == protocol.RoleTool {
			answered[msg.ToolCallID] = true
		}
	}

	fold := func(out *protocol.Message) {
		if out == nil || answered[out.ToolCallID] {
			return
		}
		state.Messages = append(state.Messages, out)
		answered[out.ToolCallID] = true
		if action := parseUserAction(out.Content); action != nil {
			state.UserActions = append(state.UserActions, action)
		}
	}

	fold(state.CurrentToolOutput)
	for _, out := range state.PendingToolOutputs {
		fold(out)
	}
}

// parseUserAction returns the decoded content when it is a JSON object
// flagged with user_action: true.
func parseUserAction(content string) map[string]interface{} {
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return nil
	}
	if flag, ok := decoded["user_action"].(bool); !ok || !flag {
		return nil
	}
	return decoded
}
