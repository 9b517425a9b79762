package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thinkabit/questy/internal/log"
)

// opTimeout bounds every Redis call.
const opTimeout = 3 * time.Second

// keyPrefix namespaces quiz session keys; the rest of the key is the
// user id.
const keyPrefix = "quiz:"

// Sentinel errors for session store operations, checked with errors.Is().
var (
	// ErrNotFound indicates no active quiz session exists for the user.
	ErrNotFound = errors.New("quiz session not found")

	// ErrConflict indicates a concurrent write won the race; the caller
	// should re-read the session before retrying.
	ErrConflict = errors.New("quiz session modified concurrently")
)

// Store persists quiz sessions in Redis with a fixed 30-minute TTL.
// Store is safe for concurrent use.
type Store struct {
	rdb    *redis.Client
	logger log.Logger
}

// New creates a session store on the given Redis client.
func New(rdb *redis.Client, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{rdb: rdb, logger: logger}
}

func sessionKey(userID string) string {
	return keyPrefix + userID
}

// Get returns the active session for the user, or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*QuizSession, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.rdb.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting quiz session for %q: %w", userID, err)
	}

	var sess QuizSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decoding quiz session for %q: %w", userID, err)
	}
	return &sess, nil
}

// Active reports whether a quiz session exists for the user.
func (s *Store) Active(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := s.rdb.Exists(ctx, sessionKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking quiz session for %q: %w", userID, err)
	}
	return n > 0, nil
}

// Create writes a fresh session with the full TTL. An existing session
// for the same user is replaced, which restarts the quiz.
func (s *Store) Create(ctx context.Context, sess *QuizSession) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sess.Version = 1
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding quiz session for %q: %w", sess.UserID, err)
	}

	if err := s.rdb.Set(ctx, sessionKey(sess.UserID), raw, TTL).Err(); err != nil {
		return fmt.Errorf("storing quiz session for %q: %w", sess.UserID, err)
	}

	s.logger.Debug("created quiz session", "user_id", sess.UserID, "quiz_id", sess.QuizID)
	return nil
}

// Update rewrites the session, preserving the remaining TTL (the expiry
// stays fixed from quiz start). The write succeeds only if the stored
// Version still matches sess.Version; otherwise ErrConflict is returned
// and the session is left unchanged.
func (s *Store) Update(ctx context.Context, sess *QuizSession) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := sessionKey(sess.UserID)

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var stored QuizSession
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("decoding stored session: %w", err)
		}
		if stored.Version != sess.Version {
			return ErrConflict
		}

		next := *sess
		next.Version = sess.Version + 1
		data, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("encoding session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}

		sess.Version = next.Version
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("updating quiz session for %q: %w", sess.UserID, err)
	}
	return nil
}

// Delete removes the session for the user and reports whether a key was
// actually removed. Deleting an absent session is not an error; the
// false return lets a caller detect losing a completion race.
func (s *Store) Delete(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := s.rdb.Del(ctx, sessionKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("deleting quiz session for %q: %w", userID, err)
	}
	return n > 0, nil
}
