package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepsense-ai/deepsense/pkg/config"
)

// ErrNotFound is returned when a session or its state does not exist.
var ErrNotFound = errors.New("not found")

// Store is the durability boundary of the agent loop. Writes within one
// session are last-writer-wins; the store never orders writes across
// sessions.
type Store interface {
	// CreateSession registers a session and returns its id. When sessionID
	// is supplied the call is idempotent: an existing session is returned
	// as-is. When empty, a fresh id is generated.
	CreateSession(ctx context.Context, userID, sessionID string) (string, error)

	// Get loads the latest checkpointed state, or ErrNotFound when the
	// session has no state yet.
	Get(ctx context.Context, sessionID string) (*AgentState, error)

	// Put replaces the session's checkpointed state.
	Put(ctx context.Context, state *AgentState) error

	// Delete removes the session, its state, and any cached checkpoints.
	Delete(ctx context.Context, sessionID string) error

	// GetSession returns session metadata, or ErrNotFound.
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)

	// ListUserSessions returns the sessions owned by a user, most recently
	// updated first.
	ListUserSessions(ctx context.Context, userID string) ([]*SessionInfo, error)

	Close() error
}

// NewFromConfig builds the store matching cfg.Driver.
func NewFromConfig(cfg *config.CheckpointConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "sqlite", "mysql":
		return NewSQLStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported checkpoint driver: %s", cfg.Driver)
	}
}
