// Package session is the public entry point for running agent turns. It
// resolves sessions, seeds fresh conversations, and projects loop state
// into caller-facing results.
package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/deepsense-ai/deepsense/pkg/agent"
	"github.com/deepsense-ai/deepsense/pkg/checkpoint"
	"github.com/deepsense-ai/deepsense/pkg/protocol"
)

// TurnResult is the projection of one completed turn.
type TurnResult struct {
	Query       string                   `json:"query"`
	Response    string                   `json:"response"`
	SessionID   string                   `json:"session_id"`
	Messages    []*protocol.Message      `json:"messages,omitempty"`
	UserActions []map[string]interface{} `json:"user_actions,omitempty"`
	Success     bool                     `json:"success"`
	Error       string                   `json:"error,omitempty"`
}

// Service ties the checkpoint store and the agent loop together behind a
// single Invoke call.
type Service struct {
	loop         *agent.Loop
	store        checkpoint.Store
	systemPrompt string
	logger       *slog.Logger
}

// NewService builds the facade. An empty systemPrompt selects the
// built-in one.
func NewService(loop *agent.Loop, store checkpoint.Store, systemPrompt string) *Service {
	return &Service{
		loop:         loop,
		store:        store,
		systemPrompt: systemPrompt,
		logger:       slog.Default().With("component", "session"),
	}
}

// Invoke runs one turn. An empty sessionID starts a new session; an empty
// query resumes a checkpointed turn without adding a user message.
func (s *Service) Invoke(ctx context.Context, query, sessionID, userID string) (*TurnResult, error) {
	sessionID, err := s.store.CreateSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	state, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		state = checkpoint.NewAgentState(sessionID)
		state.Messages = append(state.Messages, protocol.SystemMessage(s.prompt()))
	} else if err != nil {
		return nil, err
	}

	if query != "" {
		state.Messages = append(state.Messages, protocol.UserMessage(query))
		// Harvested actions belong to a single turn.
		state.UserActions = nil
		state.Phase = ""
	}

	s.logger.Info("Turn started", "session_id", sessionID, "resume", query == "")

	result := &TurnResult{
		Query:     query,
		SessionID: sessionID,
	}

	if err := s.loop.Run(ctx, state); err != nil {
		s.logger.Error("Turn failed", "session_id", sessionID, "error", err)
		result.Error = err.Error()
	} else {
		result.Success = true
	}

	if last := protocol.LastAssistant(state.Messages); last != nil {
		result.Response = last.Content
	}
	result.Messages = state.Messages
	result.UserActions = state.UserActions

	return result, nil
}

// History returns the session transcript. Tool and empty assistant
// messages are omitted unless includeNested is set.
func (s *Service) History(ctx context.Context, sessionID string, limit int, includeNested bool) ([]*protocol.Message, error) {
	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	msgs := state.Messages
	if !includeNested {
		filtered := make([]*protocol.Message, 0, len(msgs))
		for _, msg := range msgs {
			switch msg.Role {
			case protocol.RoleUser:
				filtered = append(filtered, msg)
			case protocol.RoleAssistant:
				if msg.Content != "" {
					filtered = append(filtered, msg)
				}
			}
		}
		msgs = filtered
	}

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *Service) prompt() string {
	if s.systemPrompt != "" {
		return s.systemPrompt
	}
	return DefaultSystemPrompt()
}
