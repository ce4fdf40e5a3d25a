package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deepsense-ai/deepsense/pkg/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore persists sessions and checkpointed state via database/sql.
// Supports PostgreSQL, MySQL, and SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
    session_id VARCHAR(255) PRIMARY KEY,
    state TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
`

// NewSQLStore opens the configured database and ensures the schema exists.
func NewSQLStore(cfg *config.CheckpointConfig) (*SQLStore, error) {
	switch cfg.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", cfg.Driver)
	}

	// The go-sqlite3 driver registers as "sqlite3".
	driverName := cfg.Driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection
	// serializes access and prevents "database is locked" errors.
	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driverName == "sqlite3" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("Failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("Failed to set busy timeout", "error", err)
		}
	}

	store := &SQLStore{db: db, dialect: cfg.Driver}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// rebind rewrites ? placeholders to $1..$n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}

	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
		} else {
			out = append(out, query[i])
		}
	}
	return string(out)
}

func (s *SQLStore) CreateSession(ctx context.Context, userID, sessionID string) (string, error) {
	if sessionID != "" {
		var existing string
		err := s.db.QueryRowContext(ctx,
			s.rebind(`SELECT session_id FROM sessions WHERE session_id = ?`),
			sessionID,
		).Scan(&existing)
		if err == nil {
			return existing, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("failed to query session: %w", err)
		}
	} else {
		sessionID = uuid.NewString()
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO sessions (session_id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`),
		sessionID, userID, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}

	return sessionID, nil
}

func (s *SQLStore) Get(ctx context.Context, sessionID string) (*AgentState, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT state FROM checkpoints WHERE session_id = ?`),
		sessionID,
	).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}

	state, err := UnmarshalState([]byte(stateJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return state, nil
}

func (s *SQLStore) Put(ctx context.Context, state *AgentState) error {
	data, err := state.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	now := time.Now().UTC()

	var query string
	switch s.dialect {
	case "postgres":
		query = `INSERT INTO checkpoints (session_id, state, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (session_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`
	case "mysql":
		query = `INSERT INTO checkpoints (session_id, state, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE state = VALUES(state), updated_at = VALUES(updated_at)`
	default:
		query = `INSERT INTO checkpoints (session_id, state, updated_at) VALUES (?, ?, ?)
ON CONFLICT (session_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`
	}

	if _, err := s.db.ExecContext(ctx, query, state.SessionID, string(data), now); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		s.rebind(`UPDATE sessions SET updated_at = ? WHERE session_id = ?`),
		now, state.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	return nil
}

func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM checkpoints WHERE session_id = ?`), sessionID,
	); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM sessions WHERE session_id = ?`), sessionID,
	); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	var info SessionInfo
	var userID sql.NullString
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT session_id, user_id, created_at, updated_at FROM sessions WHERE session_id = ?`),
		sessionID,
	).Scan(&info.SessionID, &userID, &info.CreatedAt, &info.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	info.UserID = userID.String
	return &info, nil
}

func (s *SQLStore) ListUserSessions(ctx context.Context, userID string) ([]*SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT session_id, user_id, created_at, updated_at FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionInfo
	for rows.Next() {
		var info SessionInfo
		var uid sql.NullString
		if err := rows.Scan(&info.SessionID, &uid, &info.CreatedAt, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		info.UserID = uid.String
		sessions = append(sessions, &info)
	}

	return sessions, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
