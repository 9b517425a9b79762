// Package scores persists immutable per-quiz summaries and serves the
// aggregate queries behind the quiz analysis endpoints.
package scores

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thinkabit/questy/internal/log"
)

const queryTimeout = 5 * time.Second

// Record is one completed quiz summary. Written once on completion,
// never updated.
type Record struct {
	TestID           int64     `json:"testId"`
	UserID           string    `json:"userId"`
	QuizID           uuid.UUID `json:"quizId"`
	TestDate         time.Time `json:"testDate"`
	Score            int       `json:"score"`
	TotalQuestions   int       `json:"totalQuestions"`
	CorrectAnswers   int       `json:"correctAnswers"`
	IncorrectAnswers int       `json:"incorrectAnswers"`
	AreasWellDone    string    `json:"areasWellDone"`
	AreasToImprove   string    `json:"areasToImprove"`
}

// TestSummary is one per-test row for the performance charts.
type TestSummary struct {
	TestID           int64     `json:"testId"`
	TestDate         time.Time `json:"testDate"`
	Score            int       `json:"score"`
	CorrectAnswers   int       `json:"correctAnswers"`
	IncorrectAnswers int       `json:"incorrectAnswers"`
}

// Totals aggregates correct and incorrect answer counts across all of a
// user's tests.
type Totals struct {
	Correct   int64 `json:"correct"`
	Incorrect int64 `json:"incorrect"`
}

// Store persists quiz score records in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a score store backed by the given pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Insert writes one completed quiz record. TestID is assigned by the
// database and ignored on input.
func (s *Store) Insert(ctx context.Context, r Record) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO test_scores
		 (user_id, quiz_id, test_date, score, total_questions, correct_answers, incorrect_answers, areas_well_done, areas_to_improve)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.UserID, r.QuizID, r.TestDate, r.Score, r.TotalQuestions,
		r.CorrectAnswers, r.IncorrectAnswers, r.AreasWellDone, r.AreasToImprove,
	)
	if err != nil {
		return fmt.Errorf("inserting test score for %q: %w", r.UserID, err)
	}

	s.logger.Debug("test score recorded",
		"user_id", r.UserID,
		"quiz_id", r.QuizID,
		"score", r.Score,
		"total", r.TotalQuestions,
	)
	return nil
}

// ForUser returns all records for a user, oldest first.
func (s *Store) ForUser(ctx context.Context, userID string) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT test_id, user_id, quiz_id, test_date, score, total_questions,
		        correct_answers, incorrect_answers, areas_well_done, areas_to_improve
		 FROM test_scores WHERE user_id = $1 ORDER BY test_date ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing test scores for %q: %w", userID, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.TestID, &r.UserID, &r.QuizID, &r.TestDate, &r.Score,
			&r.TotalQuestions, &r.CorrectAnswers, &r.IncorrectAnswers,
			&r.AreasWellDone, &r.AreasToImprove); err != nil {
			return nil, fmt.Errorf("scanning test score row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating test score rows: %w", err)
	}
	return records, nil
}

// UserTotals returns the sum of correct and incorrect answers across all
// of a user's tests.
func (s *Store) UserTotals(ctx context.Context, userID string) (Totals, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t Totals
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(correct_answers), 0), COALESCE(SUM(incorrect_answers), 0)
		 FROM test_scores WHERE user_id = $1`,
		userID,
	).Scan(&t.Correct, &t.Incorrect)
	if err != nil {
		return Totals{}, fmt.Errorf("summing test scores for %q: %w", userID, err)
	}
	return t, nil
}

// PerTest returns per-test summaries for a user ordered by test date.
func (s *Store) PerTest(ctx context.Context, userID string) ([]TestSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT test_id, test_date, score, correct_answers, incorrect_answers
		 FROM test_scores WHERE user_id = $1 ORDER BY test_date ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing per-test summaries for %q: %w", userID, err)
	}
	defer rows.Close()

	var summaries []TestSummary
	for rows.Next() {
		var t TestSummary
		if err := rows.Scan(&t.TestID, &t.TestDate, &t.Score, &t.CorrectAnswers, &t.IncorrectAnswers); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		summaries = append(summaries, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summary rows: %w", err)
	}
	return summaries, nil
}

// Count returns the number of tests a user has completed.
func (s *Store) Count(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM test_scores WHERE user_id = $1`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting tests for %q: %w", userID, err)
	}
	return n, nil
}
