// Package quiz implements the turn-based quiz engine: question
// generation, answer collection, automated grading, feedback synthesis,
// and score persistence.
//
// Session lifecycle is a three-state machine: no session, in progress
// (currentIndex 0..9), completed. Completed is terminal; the session key
// is deleted the moment the last answer is recorded. All session state
// lives in the external TTL store; the engine itself is stateless.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thinkabit/questy/internal/history"
	"github.com/thinkabit/questy/internal/log"
	"github.com/thinkabit/questy/internal/scores"
	"github.com/thinkabit/questy/internal/session"
)

// User-facing messages. Plain text, no technical detail.
const (
	// NoSessionReply answers any quiz input without an active session.
	NoSessionReply = "You are not currently in a quiz session. Please type /quiz to start a new quiz."

	// GenerationFailureReply answers a start request when question
	// generation fails; no session is created.
	GenerationFailureReply = "Sorry, I couldn't generate quiz questions at this time."

	// conflictReply answers a submission that lost a concurrent-write
	// race; the stored session is unchanged.
	conflictReply = "That answer didn't go through. Please try again."

	// placeholderFeedback substitutes for either feedback field when
	// feedback generation fails.
	placeholderFeedback = "None"
)

const generationSystem = "You are a helpful assistant that generates quiz questions."

const generationPrompt = `Generate %d quiz questions with answers for a student in grade %s. The questions should be appropriate for their difficulty level. Provide only the questions and the correct answers in a valid JSON format as a list of dictionaries. Do not include any other text or explanations or ` + "```" + ` code blocks. Each dictionary should have 'question' and 'answer' keys. Example: [{"question": "What is 2 + 2?", "answer": "4"}, {"question": "What is the capital of France?", "answer": "Paris"}]`

const gradingSystem = "You are an assistant that evaluates quiz answers."

const gradingPrompt = "Question: %s\nStudent's Answer: %s\nCorrect Answer: %s\nIs the student's answer correct? Reply with 'True' or 'False'."

const feedbackSystem = "You are a helpful assistant that provides structured feedback in JSON."

const feedbackPrompt = `Here is the student's quiz performance.

Correctly answered questions: %s.

Incorrectly answered questions: %s.

Summarize the areas well done and areas to improve as a JSON object with two keys, "areas_well_done" and "areas_to_improve", each a list of strings. Do not include any other text or explanations.`

// feedback mirrors the structured-output contract of the feedback call.
type feedback struct {
	AreasWellDone  []string `json:"areas_well_done"`
	AreasToImprove []string `json:"areas_to_improve"`
}

// Sessions is the quiz session store collaborator.
type Sessions interface {
	Get(ctx context.Context, userID string) (*session.QuizSession, error)
	Active(ctx context.Context, userID string) (bool, error)
	Create(ctx context.Context, sess *session.QuizSession) error
	Update(ctx context.Context, sess *session.QuizSession) error
	Delete(ctx context.Context, userID string) (bool, error)
}

// Reasoner is the reasoning service collaborator.
type Reasoner interface {
	Complete(ctx context.Context, system string, transcript []history.Message, message string) (string, error)
	CompleteInto(ctx context.Context, system, prompt string, out any) error
}

// ScoreWriter records completed quiz summaries.
type ScoreWriter interface {
	Insert(ctx context.Context, r scores.Record) error
}

// Engine runs the quiz state machine.
type Engine struct {
	sessions Sessions
	reasoner Reasoner
	scores   ScoreWriter
	logger   log.Logger
}

// New creates a quiz engine from its collaborators.
func New(sessions Sessions, reasoner Reasoner, scoreWriter ScoreWriter, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{
		sessions: sessions,
		reasoner: reasoner,
		scores:   scoreWriter,
		logger:   logger,
	}
}

// Active reports whether the user has a quiz in progress. Inbound
// messages for active users are quiz answers, not chat turns.
func (e *Engine) Active(ctx context.Context, userID string) (bool, error) {
	return e.sessions.Active(ctx, userID)
}

// Start generates a fresh quiz for the user's grade and opens a session.
// Creation is all-or-nothing: any generation or validation failure
// returns GenerationFailureReply and leaves no session behind. On
// success the reply is the text of the first question.
func (e *Engine) Start(ctx context.Context, userID, grade string) (string, error) {
	questions, err := e.generateQuestions(ctx, grade)
	if err != nil {
		e.logger.Warn("quiz generation failed", "user_id", userID, "grade", grade, "error", err)
		return GenerationFailureReply, nil
	}

	sess := &session.QuizSession{
		QuizID:    uuid.New(),
		UserID:    userID,
		Grade:     grade,
		Questions: questions,
		StartTime: time.Now(),
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return "", fmt.Errorf("creating quiz session: %w", err)
	}

	e.logger.Info("quiz started", "user_id", userID, "quiz_id", sess.QuizID, "grade", grade)
	return sess.Questions[0].Question, nil
}

// generateQuestions asks the reasoning service for exactly
// session.QuestionCount well-formed question/answer pairs.
func (e *Engine) generateQuestions(ctx context.Context, grade string) ([]session.Question, error) {
	prompt := fmt.Sprintf(generationPrompt, session.QuestionCount, grade)

	var questions []session.Question
	if err := e.reasoner.CompleteInto(ctx, generationSystem, prompt, &questions); err != nil {
		return nil, err
	}
	if len(questions) != session.QuestionCount {
		return nil, fmt.Errorf("expected %d questions, got %d", session.QuestionCount, len(questions))
	}
	for i, q := range questions {
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.Answer) == "" {
			return nil, fmt.Errorf("question %d is malformed", i)
		}
	}
	return questions, nil
}

// Answer records one submitted answer and advances the state machine.
// With questions remaining it returns the next question; on the last
// answer it grades the quiz, persists the score record, deletes the
// session, and returns the completion summary.
func (e *Engine) Answer(ctx context.Context, userID, answerText string) (string, error) {
	sess, err := e.sessions.Get(ctx, userID)
	if errors.Is(err, session.ErrNotFound) {
		return NoSessionReply, nil
	}
	if err != nil {
		return "", fmt.Errorf("loading quiz session: %w", err)
	}

	// A stored session with no question left to answer is bad state, not
	// an active quiz. Drop it instead of indexing past the slice.
	if sess.Completed() {
		if _, err := e.sessions.Delete(ctx, userID); err != nil {
			e.logger.Warn("deleting stale quiz session", "user_id", userID, "error", err)
		}
		return NoSessionReply, nil
	}

	current := sess.Questions[sess.CurrentIndex]
	sess.Answers = append(sess.Answers, session.RecordedAnswer{
		Question:      current.Question,
		StudentAnswer: answerText,
		CorrectAnswer: current.Answer,
	})
	sess.CurrentIndex++

	if !sess.Completed() {
		err := e.sessions.Update(ctx, sess)
		if errors.Is(err, session.ErrConflict) {
			return conflictReply, nil
		}
		if errors.Is(err, session.ErrNotFound) {
			return NoSessionReply, nil
		}
		if err != nil {
			return "", fmt.Errorf("saving quiz session: %w", err)
		}
		return fmt.Sprintf("Question %d: %s", sess.CurrentIndex+1, sess.CurrentQuestion()), nil
	}

	// Completed is terminal: the key is deleted on entry so the 30-minute
	// TTL never resurrects a finished quiz. Only the caller whose delete
	// removed the key runs grading; a concurrent duplicate of the final
	// answer sees a zero delete count and takes the no-session path.
	removed, err := e.sessions.Delete(ctx, userID)
	if err != nil {
		e.logger.Warn("deleting completed quiz session", "user_id", userID, "error", err)
	} else if !removed {
		return NoSessionReply, nil
	}

	return e.finish(ctx, sess), nil
}

// finish grades all recorded answers, synthesizes feedback, and writes
// the score record. No collaborator failure aborts completion: grading
// errors count as incorrect and feedback degrades to the placeholder.
func (e *Engine) finish(ctx context.Context, sess *session.QuizSession) string {
	var correctQuestions, incorrectQuestions []string
	for _, a := range sess.Answers {
		if e.gradeAnswer(ctx, a) {
			correctQuestions = append(correctQuestions, a.Question)
		} else {
			incorrectQuestions = append(incorrectQuestions, a.Question)
		}
	}

	correct := len(correctQuestions)
	incorrect := len(incorrectQuestions)
	total := len(sess.Questions)
	wellDone, toImprove := e.generateFeedback(ctx, correctQuestions, incorrectQuestions)

	record := scores.Record{
		UserID:           sess.UserID,
		QuizID:           sess.QuizID,
		TestDate:         sess.StartTime,
		Score:            correct,
		TotalQuestions:   total,
		CorrectAnswers:   correct,
		IncorrectAnswers: incorrect,
		AreasWellDone:    wellDone,
		AreasToImprove:   toImprove,
	}
	if err := e.scores.Insert(ctx, record); err != nil {
		// The quiz outcome is already determined; the summary still goes
		// to the student.
		e.logger.Error("recording test score", "user_id", sess.UserID, "quiz_id", sess.QuizID, "error", err)
	}

	e.logger.Info("quiz completed",
		"user_id", sess.UserID,
		"quiz_id", sess.QuizID,
		"score", correct,
		"total", total,
	)

	return fmt.Sprintf("Quiz completed! Your score is %d/%d.\n\nAreas well done:\n%s\n\nAreas to improve:\n%s",
		correct, total, wellDone, toImprove)
}

// gradeAnswer asks the reasoning service for a literal true/false
// verdict on one answer. Calls are independent of each other. A service
// failure or an unexpected reply grades as incorrect.
func (e *Engine) gradeAnswer(ctx context.Context, a session.RecordedAnswer) bool {
	prompt := fmt.Sprintf(gradingPrompt, a.Question, a.StudentAnswer, a.CorrectAnswer)

	verdict, err := e.reasoner.Complete(ctx, gradingSystem, nil, prompt)
	if err != nil {
		e.logger.Warn("grading call failed, counting as incorrect", "error", err)
		return false
	}
	return strings.EqualFold(strings.TrimSpace(verdict), "true")
}

// generateFeedback asks for the two feedback lists in structured-output
// mode and joins each with newlines. Any failure or malformed structure
// yields the placeholder for both fields rather than failing completion.
func (e *Engine) generateFeedback(ctx context.Context, correctQuestions, incorrectQuestions []string) (wellDone, toImprove string) {
	if len(correctQuestions) == 0 && len(incorrectQuestions) == 0 {
		return placeholderFeedback, placeholderFeedback
	}

	prompt := fmt.Sprintf(feedbackPrompt,
		joinOrNone(correctQuestions),
		joinOrNone(incorrectQuestions),
	)

	var fb feedback
	if err := e.reasoner.CompleteInto(ctx, feedbackSystem, prompt, &fb); err != nil {
		e.logger.Warn("feedback generation failed, using placeholder", "error", err)
		return placeholderFeedback, placeholderFeedback
	}

	wellDone = strings.Join(fb.AreasWellDone, "\n")
	toImprove = strings.Join(fb.AreasToImprove, "\n")
	if wellDone == "" {
		wellDone = placeholderFeedback
	}
	if toImprove == "" {
		toImprove = placeholderFeedback
	}
	return wellDone, toImprove
}

func joinOrNone(questions []string) string {
	if len(questions) == 0 {
		return "None"
	}
	return strings.Join(questions, ", ")
}
