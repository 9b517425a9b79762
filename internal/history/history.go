// Package history provides durable chat transcript persistence with
// PostgreSQL.
//
// A conversation is one ordered transcript keyed by its conversation id.
// The transcript is loaded fresh at the start of every turn and rewritten
// whole at the end; there is no in-process cache, so cross-request
// consistency depends entirely on the store.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thinkabit/questy/internal/log"
)

// queryTimeout bounds every store call so a stalled database blocks only
// its own request.
const queryTimeout = 5 * time.Second

// ErrNotFound indicates the requested conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Role identifies the author of a transcript message.
type Role string

// Valid roles. A transcript alternates human and assistant messages.
const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleHuman || r == RoleAssistant
}

// Message is a single transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is a transcript together with its id, as returned by
// listing queries.
type Conversation struct {
	ID         uuid.UUID `json:"chatId"`
	Transcript []Message `json:"transcript"`
}

// Store persists transcripts in PostgreSQL.
// Store is safe for concurrent use; all state lives in the database.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a transcript store backed by the given pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Create inserts an empty conversation for the identity and returns its id.
func (s *Store) Create(ctx context.Context, identity string) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_histories (identity, transcript) VALUES ($1, '[]'::jsonb) RETURNING chat_id`,
		identity,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("created conversation", "chat_id", id, "identity", identity)
	return id, nil
}

// Load returns the transcript for the conversation id.
// Returns ErrNotFound if the conversation does not exist.
func (s *Store) Load(ctx context.Context, id uuid.UUID) ([]Message, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT transcript FROM chat_histories WHERE chat_id = $1`, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading transcript %s: %w", id, err)
	}

	var messages []Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("decoding transcript %s: %w", id, err)
	}
	return messages, nil
}

// Save rewrites the full transcript for the conversation id and bumps
// last_message_time.
func (s *Store) Save(ctx context.Context, id uuid.UUID, messages []Message) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encoding transcript %s: %w", id, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_histories SET transcript = $2, last_message_time = now() WHERE chat_id = $1`,
		id, raw,
	)
	if err != nil {
		return fmt.Errorf("saving transcript %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForIdentity returns the most recent conversations for an identity,
// newest first, capped at limit (defaults to 10 when limit <= 0).
func (s *Store) ListForIdentity(ctx context.Context, identity string, limit int) ([]Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT chat_id, transcript FROM chat_histories
		 WHERE identity = $1 ORDER BY last_message_time DESC LIMIT $2`,
		identity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations for %q: %w", identity, err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var (
			c   Conversation
			raw []byte
		)
		if err := rows.Scan(&c.ID, &raw); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		if err := json.Unmarshal(raw, &c.Transcript); err != nil {
			return nil, fmt.Errorf("decoding transcript %s: %w", c.ID, err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return conversations, nil
}
