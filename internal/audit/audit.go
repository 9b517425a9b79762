// Package audit provides the append-only moderation record of messages
// flagged as unsafe for K-12 students.
//
// Every unsafe classification produces exactly one flag insertion whose
// stored message equals the input verbatim. Flags are permanent.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thinkabit/questy/internal/log"
)

const queryTimeout = 5 * time.Second

// Flag is one flagged message as stored for moderation review.
type Flag struct {
	Identity  string    `json:"identity"`
	Message   string    `json:"message"`
	FlaggedAt time.Time `json:"timestamp"`
}

// Store persists flagged messages in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a flag store backed by the given pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Insert records one flagged message.
func (s *Store) Insert(ctx context.Context, identity, message string, flaggedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO flags (identity, message, flagged_at) VALUES ($1, $2, $3)`,
		identity, message, flaggedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting flag for %q: %w", identity, err)
	}

	s.logger.Debug("flagged message recorded", "identity", identity)
	return nil
}

// List returns flags newest first. When search is non-empty, only flags
// whose identity, message, or timestamp text contains the term are
// returned.
func (s *Store) List(ctx context.Context, search string) ([]Flag, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT identity, message, flagged_at FROM flags ORDER BY flagged_at DESC`
	args := []any{}
	if search != "" {
		query = `SELECT identity, message, flagged_at FROM flags
		         WHERE identity ILIKE $1 OR message ILIKE $1 OR CAST(flagged_at AS TEXT) ILIKE $1
		         ORDER BY flagged_at DESC`
		args = append(args, "%"+search+"%")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing flags: %w", err)
	}
	defer rows.Close()

	var flags []Flag
	for rows.Next() {
		var f Flag
		if err := rows.Scan(&f.Identity, &f.Message, &f.FlaggedAt); err != nil {
			return nil, fmt.Errorf("scanning flag row: %w", err)
		}
		flags = append(flags, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating flag rows: %w", err)
	}
	return flags, nil
}
