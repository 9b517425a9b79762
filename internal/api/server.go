// Package api exposes the tutoring backend over HTTP: the chat endpoint
// with transparent quiz dispatch, chat history listing, the moderation
// flag feed, and the quiz analysis queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/thinkabit/questy/internal/audit"
	"github.com/thinkabit/questy/internal/history"
	"github.com/thinkabit/questy/internal/log"
	"github.com/thinkabit/questy/internal/scores"
	"github.com/thinkabit/questy/internal/tutor"
)

// maxRequestBytes limits chat request bodies.
const maxRequestBytes = 1 << 20

// genericFailureMessage is the catch-all user-facing failure text.
const genericFailureMessage = "Sorry, something went wrong. Please try again."

// Chatter runs one conversation turn.
type Chatter interface {
	Respond(ctx context.Context, conversationID uuid.UUID, userMessage, identity string) (*tutor.Reply, error)
}

// Quizzer runs the quiz state machine.
type Quizzer interface {
	Active(ctx context.Context, userID string) (bool, error)
	Start(ctx context.Context, userID, grade string) (string, error)
	Answer(ctx context.Context, userID, answerText string) (string, error)
}

// Transcripts serves the chat history read endpoints.
type Transcripts interface {
	Load(ctx context.Context, id uuid.UUID) ([]history.Message, error)
	ListForIdentity(ctx context.Context, identity string, limit int) ([]history.Conversation, error)
}

// FlagReader serves the moderation feed.
type FlagReader interface {
	List(ctx context.Context, search string) ([]audit.Flag, error)
}

// ScoreReader serves the quiz analysis endpoints.
type ScoreReader interface {
	ForUser(ctx context.Context, userID string) ([]scores.Record, error)
	UserTotals(ctx context.Context, userID string) (scores.Totals, error)
	PerTest(ctx context.Context, userID string) ([]scores.TestSummary, error)
	Count(ctx context.Context, userID string) (int64, error)
}

// ServerConfig contains the collaborators for the API server.
type ServerConfig struct {
	Logger      log.Logger
	Chat        Chatter     // Required
	Quiz        Quizzer     // Required
	Transcripts Transcripts // Required
	Flags       FlagReader  // Required
	Scores      ScoreReader // Required
}

// Server is the JSON API HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Chat == nil || cfg.Quiz == nil {
		return nil, errors.New("chat and quiz services are required")
	}
	if cfg.Transcripts == nil || cfg.Flags == nil || cfg.Scores == nil {
		return nil, errors.New("transcript, flag, and score stores are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Server{mux: http.NewServeMux(), logger: logger}

	ch := &chatHandler{chat: cfg.Chat, quiz: cfg.Quiz, logger: logger}
	hh := &historyHandler{transcripts: cfg.Transcripts, logger: logger}
	fh := &flagHandler{flags: cfg.Flags, logger: logger}
	sh := &scoreHandler{scores: cfg.Scores, logger: logger}

	s.mux.HandleFunc("GET /", s.health)

	s.mux.HandleFunc("POST /chat/text", ch.message)
	s.mux.HandleFunc("GET /chat/history", hh.listForIdentity)
	s.mux.HandleFunc("GET /chat/history/{id}", hh.byID)

	s.mux.HandleFunc("GET /flags", fh.list)

	s.mux.HandleFunc("GET /users/{id}/testscores", sh.records)
	s.mux.HandleFunc("GET /users/{id}/correct_incorrect_totals", sh.totals)
	s.mux.HandleFunc("GET /users/{id}/performance_per_test", sh.perTest)
	s.mux.HandleFunc("GET /users/{id}/correct_incorrect_over_time", sh.overTime)
	s.mux.HandleFunc("GET /users/{id}/number_of_tests", sh.count)
	s.mux.HandleFunc("GET /users/{id}/scores_over_time", sh.scoresOverTime)

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Server Running"))
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorPayload is the uniform error body.
type errorPayload struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorPayload{Error: message})
}
