package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/thinkabit/questy/internal/history"
	"github.com/thinkabit/questy/internal/log"
	"github.com/thinkabit/questy/internal/scores"
	"github.com/thinkabit/questy/internal/session"
)

// fakeSessions is a map-backed session store.
type fakeSessions struct {
	sessions map[string]*session.QuizSession

	createErr  error
	updateErr  error
	deleteErr  error
	deleteMiss bool // force a zero delete count, as if another writer won

	deletes int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*session.QuizSession)}
}

func (f *fakeSessions) Get(_ context.Context, userID string) (*session.QuizSession, error) {
	s, ok := f.sessions[userID]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) Active(_ context.Context, userID string) (bool, error) {
	_, ok := f.sessions[userID]
	return ok, nil
}

func (f *fakeSessions) Create(_ context.Context, sess *session.QuizSession) error {
	if f.createErr != nil {
		return f.createErr
	}
	cp := *sess
	f.sessions[sess.UserID] = &cp
	return nil
}

func (f *fakeSessions) Update(_ context.Context, sess *session.QuizSession) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.sessions[sess.UserID]; !ok {
		return session.ErrNotFound
	}
	cp := *sess
	f.sessions[sess.UserID] = &cp
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, userID string) (bool, error) {
	f.deletes++
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	if f.deleteMiss {
		return false, nil
	}
	_, ok := f.sessions[userID]
	delete(f.sessions, userID)
	return ok, nil
}

// fakeReasoner answers generation, grading, and feedback calls from
// canned data.
type fakeReasoner struct {
	questions    []session.Question
	generateErr  error
	gradeResults map[string]string // question text -> verdict reply
	gradeErr     error
	feedback     *feedback
	feedbackErr  error

	gradeCalls int
}

func (f *fakeReasoner) Complete(_ context.Context, system string, _ []history.Message, message string) (string, error) {
	if system != gradingSystem {
		return "", fmt.Errorf("unexpected system prompt %q", system)
	}
	f.gradeCalls++
	if f.gradeErr != nil {
		return "", f.gradeErr
	}
	for q, verdict := range f.gradeResults {
		if strings.Contains(message, q) {
			return verdict, nil
		}
	}
	return "False", nil
}

func (f *fakeReasoner) CompleteInto(_ context.Context, system, _ string, out any) error {
	switch system {
	case generationSystem:
		if f.generateErr != nil {
			return f.generateErr
		}
		data, err := json.Marshal(f.questions)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, out)
	case feedbackSystem:
		if f.feedbackErr != nil {
			return f.feedbackErr
		}
		data, err := json.Marshal(f.feedback)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, out)
	default:
		return fmt.Errorf("unexpected system prompt %q", system)
	}
}

// fakeScoreWriter records inserted score records.
type fakeScoreWriter struct {
	records []scores.Record
	err     error
}

func (f *fakeScoreWriter) Insert(_ context.Context, r scores.Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, r)
	return nil
}

func tenQuestions() []session.Question {
	qs := make([]session.Question, session.QuestionCount)
	for i := range qs {
		qs[i] = session.Question{
			Question: fmt.Sprintf("What is %d + %d?", i, i),
			Answer:   fmt.Sprintf("%d", i+i),
		}
	}
	return qs
}

func newTestEngine(sessions Sessions, reasoner Reasoner, writer ScoreWriter) *Engine {
	return New(sessions, reasoner, writer, log.NewNop())
}

func TestStartOpensSessionAndReturnsFirstQuestion(t *testing.T) {
	store := newFakeSessions()
	reasoner := &fakeReasoner{questions: tenQuestions()}
	engine := newTestEngine(store, reasoner, &fakeScoreWriter{})

	reply, err := engine.Start(context.Background(), "student-1", "5")
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if reply != "What is 0 + 0?" {
		t.Errorf("reply = %q, want the first question text", reply)
	}

	sess, ok := store.sessions["student-1"]
	if !ok {
		t.Fatal("no session created")
	}
	if len(sess.Questions) != session.QuestionCount {
		t.Errorf("len(Questions) = %d, want %d", len(sess.Questions), session.QuestionCount)
	}
	if sess.CurrentIndex != 0 || len(sess.Answers) != 0 {
		t.Errorf("fresh session has index %d and %d answers, want 0 and 0", sess.CurrentIndex, len(sess.Answers))
	}
	if sess.Grade != "5" {
		t.Errorf("Grade = %q, want %q", sess.Grade, "5")
	}
}

func TestStartGenerationFailureLeavesNoSession(t *testing.T) {
	tests := []struct {
		name     string
		reasoner *fakeReasoner
	}{
		{
			name:     "service error",
			reasoner: &fakeReasoner{generateErr: errors.New("model unavailable")},
		},
		{
			name:     "wrong count",
			reasoner: &fakeReasoner{questions: tenQuestions()[:7]},
		},
		{
			name: "missing answer",
			reasoner: &fakeReasoner{questions: append(tenQuestions()[:9],
				session.Question{Question: "What is 9 + 9?", Answer: "  "})},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeSessions()
			engine := newTestEngine(store, tt.reasoner, &fakeScoreWriter{})

			reply, err := engine.Start(context.Background(), "student-1", "5")
			if err != nil {
				t.Fatalf("Start() error: %v", err)
			}
			if reply != GenerationFailureReply {
				t.Errorf("reply = %q, want %q", reply, GenerationFailureReply)
			}
			if len(store.sessions) != 0 {
				t.Error("session created despite generation failure")
			}
		})
	}
}

func TestAnswerWithoutSession(t *testing.T) {
	engine := newTestEngine(newFakeSessions(), &fakeReasoner{}, &fakeScoreWriter{})

	reply, err := engine.Answer(context.Background(), "student-1", "42")
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if reply != NoSessionReply {
		t.Errorf("reply = %q, want %q", reply, NoSessionReply)
	}
}

func TestFullQuizWalkthrough(t *testing.T) {
	questions := tenQuestions()
	store := newFakeSessions()

	// Even-indexed questions graded correct, odd incorrect.
	gradeResults := make(map[string]string)
	for i, q := range questions {
		if i%2 == 0 {
			gradeResults[q.Question] = "True"
		} else {
			gradeResults[q.Question] = "False"
		}
	}

	reasoner := &fakeReasoner{
		questions:    questions,
		gradeResults: gradeResults,
		feedback: &feedback{
			AreasWellDone:  []string{"Addition basics"},
			AreasToImprove: []string{"Double-digit sums", "Showing work"},
		},
	}
	writer := &fakeScoreWriter{}
	engine := newTestEngine(store, reasoner, writer)

	ctx := context.Background()
	if _, err := engine.Start(ctx, "student-1", "5"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Nine intermediate answers each advance to the next question.
	for i := 0; i < session.QuestionCount-1; i++ {
		reply, err := engine.Answer(ctx, "student-1", "some answer")
		if err != nil {
			t.Fatalf("Answer() #%d error: %v", i+1, err)
		}
		want := fmt.Sprintf("Question %d: %s", i+2, questions[i+1].Question)
		if reply != want {
			t.Fatalf("Answer() #%d reply = %q, want %q", i+1, reply, want)
		}
		if active, _ := engine.Active(ctx, "student-1"); !active {
			t.Fatalf("session inactive after answer #%d", i+1)
		}
	}

	// Final answer completes the quiz.
	reply, err := engine.Answer(ctx, "student-1", "last answer")
	if err != nil {
		t.Fatalf("final Answer() error: %v", err)
	}

	if !strings.Contains(reply, "Quiz completed! Your score is 5/10.") {
		t.Errorf("completion reply = %q, want score 5/10", reply)
	}
	if !strings.Contains(reply, "Addition basics") {
		t.Errorf("completion reply missing well-done feedback: %q", reply)
	}
	if !strings.Contains(reply, "Double-digit sums\nShowing work") {
		t.Errorf("completion reply missing joined improvement feedback: %q", reply)
	}

	if active, _ := engine.Active(ctx, "student-1"); active {
		t.Error("session still active after completion")
	}
	if store.deletes != 1 {
		t.Errorf("Delete called %d times, want 1", store.deletes)
	}
	if reasoner.gradeCalls != session.QuestionCount {
		t.Errorf("grading calls = %d, want %d", reasoner.gradeCalls, session.QuestionCount)
	}

	if len(writer.records) != 1 {
		t.Fatalf("score records = %d, want exactly 1", len(writer.records))
	}
	rec := writer.records[0]
	if rec.Score != 5 || rec.CorrectAnswers != 5 || rec.IncorrectAnswers != 5 {
		t.Errorf("record counts = (%d, %d, %d), want (5, 5, 5)", rec.Score, rec.CorrectAnswers, rec.IncorrectAnswers)
	}
	if rec.TotalQuestions != session.QuestionCount {
		t.Errorf("TotalQuestions = %d, want %d", rec.TotalQuestions, session.QuestionCount)
	}
	if rec.UserID != "student-1" {
		t.Errorf("UserID = %q, want %q", rec.UserID, "student-1")
	}
	if rec.AreasToImprove != "Double-digit sums\nShowing work" {
		t.Errorf("AreasToImprove = %q", rec.AreasToImprove)
	}
}

func TestGradingFailureCountsAsIncorrect(t *testing.T) {
	store := newFakeSessions()
	reasoner := &fakeReasoner{
		questions:   tenQuestions(),
		gradeErr:    errors.New("model timeout"),
		feedbackErr: errors.New("model timeout"),
	}
	writer := &fakeScoreWriter{}
	engine := newTestEngine(store, reasoner, writer)

	ctx := context.Background()
	if _, err := engine.Start(ctx, "student-1", "5"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var reply string
	var err error
	for i := 0; i < session.QuestionCount; i++ {
		reply, err = engine.Answer(ctx, "student-1", "answer")
		if err != nil {
			t.Fatalf("Answer() #%d error: %v", i+1, err)
		}
	}

	if !strings.Contains(reply, "Your score is 0/10.") {
		t.Errorf("completion reply = %q, want score 0/10", reply)
	}
	if !strings.Contains(reply, "Areas well done:\nNone") {
		t.Errorf("completion reply = %q, want placeholder feedback", reply)
	}

	if len(writer.records) != 1 {
		t.Fatalf("score records = %d, want 1", len(writer.records))
	}
	if writer.records[0].AreasWellDone != "None" || writer.records[0].AreasToImprove != "None" {
		t.Errorf("feedback fields = (%q, %q), want placeholders",
			writer.records[0].AreasWellDone, writer.records[0].AreasToImprove)
	}
}

func TestScoreWriteFailureStillCompletes(t *testing.T) {
	store := newFakeSessions()
	reasoner := &fakeReasoner{
		questions: tenQuestions(),
		feedback:  &feedback{},
	}
	writer := &fakeScoreWriter{err: errors.New("database down")}
	engine := newTestEngine(store, reasoner, writer)

	ctx := context.Background()
	if _, err := engine.Start(ctx, "student-1", "5"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var reply string
	var err error
	for i := 0; i < session.QuestionCount; i++ {
		reply, err = engine.Answer(ctx, "student-1", "answer")
		if err != nil {
			t.Fatalf("Answer() #%d error: %v", i+1, err)
		}
	}

	if !strings.Contains(reply, "Quiz completed!") {
		t.Errorf("completion reply = %q, want the summary despite the failed write", reply)
	}
	if _, ok := store.sessions["student-1"]; ok {
		t.Error("session survived completion")
	}
}

func TestAnswerUpdateConflict(t *testing.T) {
	store := newFakeSessions()
	reasoner := &fakeReasoner{questions: tenQuestions()}
	engine := newTestEngine(store, reasoner, &fakeScoreWriter{})

	ctx := context.Background()
	if _, err := engine.Start(ctx, "student-1", "5"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	store.updateErr = session.ErrConflict
	reply, err := engine.Answer(ctx, "student-1", "42")
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if reply != conflictReply {
		t.Errorf("reply = %q, want %q", reply, conflictReply)
	}

	// The stored session is unchanged; resubmission succeeds.
	store.updateErr = nil
	reply, err = engine.Answer(ctx, "student-1", "42")
	if err != nil {
		t.Fatalf("retry Answer() error: %v", err)
	}
	if !strings.HasPrefix(reply, "Question 2: ") {
		t.Errorf("retry reply = %q, want the second question", reply)
	}
}

func TestFinalAnswerLosesCompletionRace(t *testing.T) {
	store := newFakeSessions()
	reasoner := &fakeReasoner{questions: tenQuestions(), feedback: &feedback{}}
	writer := &fakeScoreWriter{}
	engine := newTestEngine(store, reasoner, writer)

	ctx := context.Background()
	if _, err := engine.Start(ctx, "student-1", "5"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	for i := 0; i < session.QuestionCount-1; i++ {
		if _, err := engine.Answer(ctx, "student-1", "answer"); err != nil {
			t.Fatalf("Answer() #%d error: %v", i+1, err)
		}
	}

	// Another submission of the final answer already deleted the key.
	store.deleteMiss = true
	reply, err := engine.Answer(ctx, "student-1", "last answer")
	if err != nil {
		t.Fatalf("final Answer() error: %v", err)
	}
	if reply != NoSessionReply {
		t.Errorf("reply = %q, want %q", reply, NoSessionReply)
	}
	if reasoner.gradeCalls != 0 {
		t.Errorf("grading calls = %d, want 0 for the losing submission", reasoner.gradeCalls)
	}
	if len(writer.records) != 0 {
		t.Errorf("score records = %d, want 0 for the losing submission", len(writer.records))
	}
}

func TestAnswerDropsCompletedStoredSession(t *testing.T) {
	store := newFakeSessions()
	questions := tenQuestions()
	store.sessions["student-1"] = &session.QuizSession{
		UserID:       "student-1",
		Questions:    questions,
		CurrentIndex: len(questions), // nothing left to answer
	}
	engine := newTestEngine(store, &fakeReasoner{}, &fakeScoreWriter{})

	reply, err := engine.Answer(context.Background(), "student-1", "42")
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if reply != NoSessionReply {
		t.Errorf("reply = %q, want %q", reply, NoSessionReply)
	}
	if _, ok := store.sessions["student-1"]; ok {
		t.Error("stale session still stored")
	}
}

func TestAnswerSessionExpiredMidUpdate(t *testing.T) {
	store := newFakeSessions()
	reasoner := &fakeReasoner{questions: tenQuestions()}
	engine := newTestEngine(store, reasoner, &fakeScoreWriter{})

	ctx := context.Background()
	if _, err := engine.Start(ctx, "student-1", "5"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	store.updateErr = session.ErrNotFound
	reply, err := engine.Answer(ctx, "student-1", "42")
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if reply != NoSessionReply {
		t.Errorf("reply = %q, want %q", reply, NoSessionReply)
	}
}
