// Package tutor coordinates retrieval, the safety gate, the reasoning
// service, and transcript persistence to produce one assistant reply per
// chat turn.
package tutor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/thinkabit/questy/internal/history"
	"github.com/thinkabit/questy/internal/knowledge"
	"github.com/thinkabit/questy/internal/log"
	"github.com/thinkabit/questy/internal/safety"
)

// ContextDistanceThreshold is the maximum vector distance (on the
// store's native L2 scale) for a retrieved passage to be injected as
// context. A result at 1.5 or beyond is discarded.
const ContextDistanceThreshold = 1.5

// serviceFailureReply is returned when the reasoning service cannot
// produce a reply. Plain text; no technical detail.
const serviceFailureReply = "Unable to get answers"

// ErrConversationNotFound indicates the caller referenced a conversation
// id that does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// systemPrompt is the fixed tutoring persona combined with the safety
// classifier contract. The model answers every turn as a JSON object so
// that classification and reply come back in one call.
const systemPrompt = `You are Questy, the AI tutoring assistant for Thinkabit Labs @ Virginia Tech, helping K-12 students learn.

- ALWAYS respond in JSON format with exactly two keys: "is_unsafe_for_k_12_children" and "response".
- Analyze the student's message and determine whether it is appropriate for children. Consider explicit language, violence, sexual content, and any other harmful or inappropriate material.
- If the message is unsafe, set "is_unsafe_for_k_12_children" to true and make "response" a kind explanation of why you cannot help with that, offering to help with something else instead.
- If the message is safe, set "is_unsafe_for_k_12_children" to false and make "response" your helpful, age-appropriate answer.
- If you need clarification, ask for the specific details required inside "response".

NEVER FORGET: ALWAYS respond in JSON format with the keys "is_unsafe_for_k_12_children" and "response".`

// contextPrompt is appended to the system prompt when a retrieved
// passage clears the distance threshold.
const contextPrompt = "\n\nUse the following reference material when it is relevant to the student's question.\nSource: %s\n---\n%s\n---"

// Retriever is the similarity-search collaborator.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]knowledge.Result, error)
}

// Completer is the reasoning collaborator for free-text replies.
type Completer interface {
	Complete(ctx context.Context, system string, transcript []history.Message, message string) (string, error)
}

// Transcripts is the persistent history collaborator.
type Transcripts interface {
	Create(ctx context.Context, identity string) (uuid.UUID, error)
	Load(ctx context.Context, id uuid.UUID) ([]history.Message, error)
	Save(ctx context.Context, id uuid.UUID, messages []history.Message) error
}

// Flagger records messages classified unsafe. The write is mandatory for
// every unsafe verdict.
type Flagger interface {
	Flag(ctx context.Context, identity, message string) error
}

// Reply is the result of one conversation turn.
type Reply struct {
	Text            string
	Transcript      []history.Message
	ConversationID  uuid.UUID
	NewConversation bool
}

// Orchestrator runs conversation turns.
// Orchestrator is stateless; all conversation state lives in the
// transcript store.
type Orchestrator struct {
	retriever   Retriever
	reasoner    Completer
	transcripts Transcripts
	gate        Flagger
	logger      log.Logger
}

// New creates an orchestrator from its collaborators.
func New(retriever Retriever, reasoner Completer, transcripts Transcripts, gate Flagger, logger log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{
		retriever:   retriever,
		reasoner:    reasoner,
		transcripts: transcripts,
		gate:        gate,
		logger:      logger,
	}
}

// Respond runs one turn: retrieve context, load or create the transcript,
// generate a safety-gated reply, persist, and return.
//
// conversationID may be uuid.Nil, in which case a new conversation is
// created for the identity. A non-nil id that does not exist returns
// ErrConversationNotFound. No collaborator failure terminates the turn:
// retrieval and persistence degrade, and a reasoning failure becomes a
// plain failure reply.
func (o *Orchestrator) Respond(ctx context.Context, conversationID uuid.UUID, userMessage, identity string) (*Reply, error) {
	system := o.buildSystemPrompt(ctx, userMessage)

	transcript, conversationID, created, err := o.loadOrCreate(ctx, conversationID, identity)
	if err != nil {
		return nil, err
	}

	reply := o.generateReply(ctx, system, transcript, userMessage, identity)

	// A turn appends exactly one human message and one assistant message.
	// Flagged turns keep the refusal so the transcript stays a faithful
	// record.
	transcript = append(transcript,
		history.Message{Role: history.RoleHuman, Content: userMessage},
		history.Message{Role: history.RoleAssistant, Content: reply},
	)

	if conversationID != uuid.Nil {
		if err := o.transcripts.Save(ctx, conversationID, transcript); err != nil {
			// The reply is already computed; persistence failure must not
			// suppress it.
			o.logger.Error("saving transcript", "conversation_id", conversationID, "error", err)
		}
	}

	return &Reply{
		Text:            reply,
		Transcript:      transcript,
		ConversationID:  conversationID,
		NewConversation: created,
	}, nil
}

// buildSystemPrompt injects the top retrieval hit when it clears the
// distance threshold. Retrieval failure degrades to no context.
func (o *Orchestrator) buildSystemPrompt(ctx context.Context, userMessage string) string {
	results, err := o.retriever.Search(ctx, userMessage, 1)
	if err != nil {
		o.logger.Warn("retrieval failed, continuing without context", "error", err)
		return systemPrompt
	}
	if len(results) == 0 || results[0].Distance >= ContextDistanceThreshold {
		return systemPrompt
	}
	return systemPrompt + fmt.Sprintf(contextPrompt, results[0].Source, results[0].Content)
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, conversationID uuid.UUID, identity string) ([]history.Message, uuid.UUID, bool, error) {
	if conversationID == uuid.Nil {
		id, err := o.transcripts.Create(ctx, identity)
		if err != nil {
			// The turn still produces a reply; it just won't be persisted.
			o.logger.Error("creating conversation", "identity", identity, "error", err)
			return nil, uuid.Nil, false, nil
		}
		return nil, id, true, nil
	}

	transcript, err := o.transcripts.Load(ctx, conversationID)
	if errors.Is(err, history.ErrNotFound) {
		return nil, uuid.Nil, false, ErrConversationNotFound
	}
	if err != nil {
		o.logger.Warn("loading transcript, continuing with empty history",
			"conversation_id", conversationID, "error", err)
		return nil, conversationID, false, nil
	}
	return transcript, conversationID, false, nil
}

// generateReply runs the combined tutoring/classification call and
// applies the safety gate. Parse failures fall back to the raw text as
// the reply; reasoning failures fall back to a fixed plain-text message.
func (o *Orchestrator) generateReply(ctx context.Context, system string, transcript []history.Message, userMessage, identity string) string {
	raw, err := o.reasoner.Complete(ctx, system, transcript, userMessage)
	if err != nil {
		o.logger.Error("reasoning service failed", "error", err)
		return serviceFailureReply
	}

	verdict, err := safety.ParseVerdict(raw)
	if err != nil {
		// Fail open: treat the raw text as the reply rather than abort
		// the turn.
		o.logger.Debug("verdict parse failed, using raw reply", "error", err)
		return raw
	}

	if verdict.Unsafe {
		// The audit write is never skipped for an unsafe verdict. A
		// failed insert is logged but the refusal still goes out.
		if err := o.gate.Flag(ctx, identity, userMessage); err != nil {
			o.logger.Error("audit write for flagged message failed",
				"identity", identity, "error", err)
		}
	}

	return verdict.Response
}
