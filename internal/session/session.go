// Package session provides ephemeral quiz session state in a TTL-bearing
// key-value store (Redis).
//
// One session exists per user at most; absence of the key is the
// authoritative signal that no quiz is active. Sessions expire 30 minutes
// after quiz start, which is the sole reclaim mechanism for abandoned
// quizzes. Updates preserve the original expiry (fixed-from-start TTL).
//
// Two concurrent writers for the same user are detected with an
// optimistic version check: Update compares the stored Version before
// writing and fails with ErrConflict on a lost race.
package session

import (
	"time"

	"github.com/google/uuid"
)

// TTL is the quiz session lifetime, fixed from quiz start.
const TTL = 30 * time.Minute

// QuestionCount is the number of questions in every quiz.
const QuestionCount = 10

// Question is one generated question with its expected answer.
type Question struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// RecordedAnswer captures one submitted answer alongside the question it
// answered. Order of recorded answers equals submission order equals
// question order.
type RecordedAnswer struct {
	Question      string `json:"question"`
	StudentAnswer string `json:"studentAnswer"`
	CorrectAnswer string `json:"correctAnswer"`
}

// QuizSession is the full state of one in-progress quiz.
type QuizSession struct {
	QuizID       uuid.UUID        `json:"quizId"`
	UserID       string           `json:"userId"`
	Grade        string           `json:"grade"`
	Questions    []Question       `json:"questions"`
	CurrentIndex int              `json:"currentIndex"`
	Answers      []RecordedAnswer `json:"answers"`
	StartTime    time.Time        `json:"startTime"`

	// Version supports the optimistic concurrency check in Store.Update.
	// It is managed by the store; callers never set it.
	Version int64 `json:"version"`
}

// Completed reports whether every question has been answered.
func (q *QuizSession) Completed() bool {
	return q.CurrentIndex >= len(q.Questions)
}

// CurrentQuestion returns the text of the question at CurrentIndex.
// Callers must check Completed() first.
func (q *QuizSession) CurrentQuestion() string {
	return q.Questions[q.CurrentIndex].Question
}
