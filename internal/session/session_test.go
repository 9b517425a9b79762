package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCompleted(t *testing.T) {
	questions := []Question{
		{Question: "What is 2 + 2?", Answer: "4"},
		{Question: "What is the capital of France?", Answer: "Paris"},
	}

	tests := []struct {
		name  string
		index int
		want  bool
	}{
		{name: "fresh session", index: 0, want: false},
		{name: "mid quiz", index: 1, want: false},
		{name: "all answered", index: 2, want: true},
		{name: "past the end", index: 3, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &QuizSession{Questions: questions, CurrentIndex: tt.index}
			if got := s.Completed(); got != tt.want {
				t.Errorf("Completed() at index %d = %v, want %v", tt.index, got, tt.want)
			}
		})
	}
}

func TestCurrentQuestion(t *testing.T) {
	s := &QuizSession{
		Questions: []Question{
			{Question: "What is 2 + 2?", Answer: "4"},
			{Question: "What is the capital of France?", Answer: "Paris"},
		},
		CurrentIndex: 1,
	}
	if got := s.CurrentQuestion(); got != "What is the capital of France?" {
		t.Errorf("CurrentQuestion() = %q", got)
	}
}

func TestQuizSessionJSONRoundTrip(t *testing.T) {
	orig := &QuizSession{
		QuizID: uuid.New(),
		UserID: "student-42",
		Grade:  "5",
		Questions: []Question{
			{Question: "What is 2 + 2?", Answer: "4"},
		},
		CurrentIndex: 1,
		Answers: []RecordedAnswer{
			{Question: "What is 2 + 2?", StudentAnswer: "four", CorrectAnswer: "4"},
		},
		StartTime: time.Now().UTC().Truncate(time.Second),
		Version:   3,
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var got QuizSession
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	if got.QuizID != orig.QuizID {
		t.Errorf("QuizID = %v, want %v", got.QuizID, orig.QuizID)
	}
	if got.UserID != orig.UserID || got.Grade != orig.Grade {
		t.Errorf("identity fields = (%q, %q), want (%q, %q)", got.UserID, got.Grade, orig.UserID, orig.Grade)
	}
	if got.CurrentIndex != orig.CurrentIndex || got.Version != orig.Version {
		t.Errorf("progress fields = (%d, %d), want (%d, %d)", got.CurrentIndex, got.Version, orig.CurrentIndex, orig.Version)
	}
	if len(got.Answers) != 1 || got.Answers[0].StudentAnswer != "four" {
		t.Errorf("Answers = %+v, want the recorded answer preserved", got.Answers)
	}
	if !got.StartTime.Equal(orig.StartTime) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, orig.StartTime)
	}
}
