// Package safety implements the content-safety gate for K-12 audiences.
//
// Classification rides the tutoring call's structured output (a single
// combined model call): the model returns a JSON verdict carrying both
// the unsafe flag and a ready-to-use child-appropriate response.
// ParseVerdict decodes that payload; on parse failure the caller falls
// back to treating the raw text as the reply. An unparseable verdict is
// treated as safe.
//
// On an unsafe verdict the gate records the message for moderation
// audit. This write is never optional.
package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thinkabit/questy/internal/log"
	"github.com/thinkabit/questy/internal/reasoning"
)

// Verdict is the structured payload the model returns for every tutoring
// turn. The wire field names are part of the prompt contract.
type Verdict struct {
	Unsafe   bool   `json:"is_unsafe_for_k_12_children"`
	Response string `json:"response"`
}

// ParseVerdict decodes a model reply into a Verdict, tolerating markdown
// code fences. Returns an error when the reply is not the expected JSON
// object; callers then use the raw text as the reply.
func ParseVerdict(raw string) (*Verdict, error) {
	text := reasoning.StripCodeFences(raw)

	var v Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("parsing safety verdict: %w", err)
	}
	if v.Response == "" {
		return nil, fmt.Errorf("safety verdict missing response field")
	}
	return &v, nil
}

// FlagWriter records flagged messages for moderation audit.
// Implemented by the audit store.
type FlagWriter interface {
	Insert(ctx context.Context, identity, message string, flaggedAt time.Time) error
}

// Gate records unsafe classifications. It holds no classification state
// of its own; the verdict comes from the combined tutoring call.
type Gate struct {
	flags  FlagWriter
	logger log.Logger
}

// NewGate creates a gate writing flags through the given writer.
func NewGate(flags FlagWriter, logger log.Logger) *Gate {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Gate{flags: flags, logger: logger}
}

// Flag records the message verbatim with the current timestamp.
// Called exactly once per unsafe verdict.
func (g *Gate) Flag(ctx context.Context, identity, message string) error {
	if err := g.flags.Insert(ctx, identity, message, time.Now()); err != nil {
		return fmt.Errorf("recording flagged message: %w", err)
	}
	g.logger.Info("message flagged as unsafe", "identity", identity)
	return nil
}
