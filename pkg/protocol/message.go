// Package protocol defines the conversation data model shared by the agent
// loop, the compaction engine, and the checkpoint store.
//
// The message graph is deliberately flat: a linear slice of messages where a
// tool call's ID is the only cross-reference between the assistant message
// that announced it and the tool message that answers it.
package protocol

import "encoding/json"

// Role identifies the kind of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a structured request by the model to invoke a named tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Reason returns the optional free-form "reason" argument the model attached
// to this call. The compaction engine uses it as steering context.
func (tc *ToolCall) Reason() string {
	if tc == nil || tc.Args == nil {
		return ""
	}
	if r, ok := tc.Args["reason"].(string); ok {
		return r
	}
	return ""
}

// Message is one entry in a conversation. Exactly one of the role-specific
// field sets is meaningful:
//
//   - system/user: Content only
//   - assistant: Content (may be empty) plus ToolCalls
//   - tool: Content plus ToolCallID of the call it answers
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolCalls  []*ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

func SystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string, calls []*ToolCall) *Message {
	return &Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func ToolMessage(toolCallID, content string) *Message {
	return &Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// HasToolCalls reports whether the message announces at least one tool call.
func (m *Message) HasToolCalls() bool {
	return m != nil && m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := &Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]*ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.clone()
		}
	}
	return out
}

func (tc *ToolCall) clone() *ToolCall {
	if tc == nil {
		return nil
	}
	out := &ToolCall{ID: tc.ID, Name: tc.Name}
	if tc.Args != nil {
		// Round-trip through JSON; args are JSON-decoded maps to begin with.
		raw, err := json.Marshal(tc.Args)
		if err == nil {
			var args map[string]any
			if json.Unmarshal(raw, &args) == nil {
				out.Args = args
			}
		}
		if out.Args == nil {
			out.Args = make(map[string]any, len(tc.Args))
			for k, v := range tc.Args {
				out.Args[k] = v
			}
		}
	}
	return out
}

// LastMessage returns the final message of the slice, or nil.
func LastMessage(msgs []*Message) *Message {
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// LastAssistant returns the most recent assistant message, or nil.
func LastAssistant(msgs []*Message) *Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return msgs[i]
		}
	}
	return nil
}

// FindToolCall locates the tool call with the given ID on the provided
// assistant message. Returns nil when absent.
func FindToolCall(assistant *Message, callID string) *ToolCall {
	if assistant == nil || callID == "" {
		return nil
	}
	for _, tc := range assistant.ToolCalls {
		if tc != nil && tc.ID == callID {
			return tc
		}
	}
	return nil
}

// IsAnswered reports whether a tool message answering callID appears in msgs
// after index from.
func IsAnswered(msgs []*Message, from int, callID string) bool {
	for i := from; i < len(msgs); i++ {
		if msgs[i].Role == RoleTool && msgs[i].ToolCallID == callID {
			return true
		}
	}
	return false
}
