// Package reasoning wraps the Genkit text-generation API as the backend's
// reasoning service: free-text completion over a transcript, and
// structured JSON extraction.
//
// Every call carries a bounded timeout and passes through a shared rate
// limiter. Failures (timeouts, malformed output) are returned as plain
// errors and are always recoverable by the caller; no call site may let
// a reasoning failure terminate a turn.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/thinkabit/questy/internal/history"
	"github.com/thinkabit/questy/internal/log"
)

const (
	// completionTimeout bounds a single model call.
	completionTimeout = 30 * time.Second

	// maxStructuredResponseBytes limits model output size before JSON
	// parsing.
	maxStructuredResponseBytes = 64 * 1024
)

// Service performs model calls through a Genkit instance.
// Service is safe for concurrent use.
type Service struct {
	g         *genkit.Genkit
	modelName string
	limiter   *rate.Limiter
	logger    log.Logger
}

// New creates a reasoning service for the given Genkit instance and
// provider-qualified model name. A nil limiter gets a default of
// 10 requests/sec sustained with a burst of 30.
func New(g *genkit.Genkit, modelName string, limiter *rate.Limiter, logger log.Logger) *Service {
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{g: g, modelName: modelName, limiter: limiter, logger: logger}
}

// Complete generates a free-text reply for the message, given the system
// prompt and the prior transcript.
func (s *Service) Complete(ctx context.Context, system string, transcript []history.Message, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}

	messages := make([]*ai.Message, 0, len(transcript)+1)
	for _, m := range transcript {
		switch m.Role {
		case history.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		default:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(message)))

	opts := []ai.GenerateOption{
		ai.WithMessages(messages...),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}
	if s.modelName != "" {
		opts = append(opts, ai.WithModelName(s.modelName))
	}

	resp, err := genkit.Generate(ctx, s.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}

	s.logger.Debug("completion generated",
		"transcript_len", len(transcript),
		"response_len", len(resp.Text()),
	)
	return resp.Text(), nil
}

// CompleteInto generates a reply for the prompt and unmarshals it as JSON
// into out. Markdown code fences around the JSON are tolerated and
// stripped. A malformed or oversized response is returned as an error;
// callers substitute their defined fallback values.
func (s *Service) CompleteInto(ctx context.Context, system, prompt string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	opts := []ai.GenerateOption{
		ai.WithPrompt(prompt),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}
	if s.modelName != "" {
		opts = append(opts, ai.WithModelName(s.modelName))
	}

	resp, err := genkit.Generate(ctx, s.g, opts...)
	if err != nil {
		return fmt.Errorf("generating structured completion: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return fmt.Errorf("empty structured response")
	}
	if len(text) > maxStructuredResponseBytes {
		return fmt.Errorf("structured response too large: %d bytes", len(text))
	}

	text = StripCodeFences(text)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("parsing structured response: %w (raw: %q)", err, truncate(text, 200))
	}
	return nil
}

// StripCodeFences removes a surrounding markdown code fence, if present.
// Models wrap JSON in ```json blocks despite instructions not to.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
