// Package checkpoint persists agent loop state between transitions so a
// turn can resume after a restart without repeating model or tool calls.
package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/deepsense-ai/deepsense/pkg/protocol"
)

// AgentState is the full durable state of one session's agent loop.
// Every field the loop mutates lives here so a checkpoint written after
// any transition is sufficient to resume.
type AgentState struct {
	SessionID string `json:"session_id"`

	// Messages is the conversation transcript in insertion order.
	Messages []*protocol.Message `json:"messages"`

	// PendingToolOutputs holds dispatched tool results that have not yet
	// been folded into Messages, in tool-call emission order.
	PendingToolOutputs []*protocol.Message `json:"pending_tool_outputs,omitempty"`

	// CurrentIndex points into PendingToolOutputs. -1 means no output has
	// been selected yet for the current dispatch batch.
	CurrentIndex int `json:"current_index"`

	// CurrentToolOutput is the output selected for folding, if any.
	CurrentToolOutput *protocol.Message `json:"current_tool_output,omitempty"`

	// ToolsBound is set once per session when the tool catalog is bound.
	ToolsBound bool `json:"tools_bound"`

	// Phase names the loop state the session was in when last persisted.
	Phase string `json:"phase,omitempty"`

	// UserActions collects side-effectful tool payloads harvested while
	// folding outputs. Cleared at the start of each turn.
	UserActions []map[string]interface{} `json:"user_actions,omitempty"`
}

// NewAgentState returns an empty state for a session.
func NewAgentState(sessionID string) *AgentState {
	return &AgentState{
		SessionID:    sessionID,
		Messages:     make([]*protocol.Message, 0),
		CurrentIndex: -1,
	}
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate persisted state through shared pointers.
func (s *AgentState) Clone() *AgentState {
	if s == nil {
		return nil
	}

	clone := &AgentState{
		SessionID:    s.SessionID,
		CurrentIndex: s.CurrentIndex,
		ToolsBound:   s.ToolsBound,
		Phase:        s.Phase,
	}

	clone.Messages = make([]*protocol.Message, len(s.Messages))
	for i, msg := range s.Messages {
		clone.Messages[i] = msg.Clone()
	}

	if s.PendingToolOutputs != nil {
		clone.PendingToolOutputs = make([]*protocol.Message, len(s.PendingToolOutputs))
		for i, msg := range s.PendingToolOutputs {
			clone.PendingToolOutputs[i] = msg.Clone()
		}
	}

	if s.CurrentToolOutput != nil {
		clone.CurrentToolOutput = s.CurrentToolOutput.Clone()
	}

	if s.UserActions != nil {
		clone.UserActions = make([]map[string]interface{}, len(s.UserActions))
		for i, action := range s.UserActions {
			copied := make(map[string]interface{}, len(action))
			for k, v := range action {
				copied[k] = v
			}
			clone.UserActions[i] = copied
		}
	}

	return clone
}

// Marshal serializes the state for storage.
func (s *AgentState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState decodes a stored state blob.
func UnmarshalState(data []byte) (*AgentState, error) {
	var state AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Messages == nil {
		state.Messages = make([]*protocol.Message, 0)
	}
	return &state, nil
}

// SessionInfo is session metadata kept alongside the checkpointed state.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
