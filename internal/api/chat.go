package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/thinkabit/questy/internal/log"
	"github.com/thinkabit/questy/internal/tutor"
)

// quizCommand starts a quiz when sent as the whole message.
const quizCommand = "/quiz"

// defaultGrade is used when a quiz start request carries no grade. The
// student registry that normally supplies the grade is an external
// system; callers that know the grade send it along.
const defaultGrade = "5"

// chatRequest is the POST /chat/text body.
type chatRequest struct {
	UserMessage    string `json:"userMessage"`
	Identity       string `json:"identity"`
	ConversationID string `json:"conversationId,omitempty"`
	Grade          string `json:"grade,omitempty"`
}

// chatResponse is the POST /chat/text reply. ConversationID is set only
// when this turn created the conversation; quiz turns carry no
// transcript.
type chatResponse struct {
	Reply          string           `json:"reply"`
	Transcript     []messagePayload `json:"transcript,omitempty"`
	ConversationID string           `json:"conversationId,omitempty"`
}

// messagePayload is one transcript entry on the wire.
type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatHandler struct {
	chat   Chatter
	quiz   Quizzer
	logger log.Logger
}

// message handles one inbound user message. Routing is transparent: the
// /quiz command starts a quiz, a user with an active quiz session is
// answering a question, and everything else is a conversation turn.
func (h *chatHandler) message(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Identity) == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		writeError(w, http.StatusBadRequest, "userMessage is required")
		return
	}

	ctx := r.Context()
	message := strings.TrimSpace(req.UserMessage)

	if message == quizCommand {
		grade := req.Grade
		if grade == "" {
			grade = defaultGrade
		}
		reply, err := h.quiz.Start(ctx, req.Identity, grade)
		if err != nil {
			h.logger.Error("starting quiz", "identity", req.Identity, "error", err)
			writeError(w, http.StatusInternalServerError, genericFailureMessage)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
		return
	}

	active, err := h.quiz.Active(ctx, req.Identity)
	if err != nil {
		h.logger.Error("checking quiz session", "identity", req.Identity, "error", err)
		writeError(w, http.StatusInternalServerError, genericFailureMessage)
		return
	}
	if active {
		reply, err := h.quiz.Answer(ctx, req.Identity, req.UserMessage)
		if err != nil {
			h.logger.Error("handling quiz answer", "identity", req.Identity, "error", err)
			writeError(w, http.StatusInternalServerError, genericFailureMessage)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
		return
	}

	conversationID := uuid.Nil
	if req.ConversationID != "" {
		conversationID, err = uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversationId")
			return
		}
	}

	reply, err := h.chat.Respond(ctx, conversationID, req.UserMessage, req.Identity)
	if errors.Is(err, tutor.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "That conversation could not be found.")
		return
	}
	if err != nil {
		h.logger.Error("conversation turn failed", "identity", req.Identity, "error", err)
		writeError(w, http.StatusInternalServerError, genericFailureMessage)
		return
	}

	resp := chatResponse{
		Reply:      reply.Text,
		Transcript: make([]messagePayload, 0, len(reply.Transcript)),
	}
	for _, m := range reply.Transcript {
		resp.Transcript = append(resp.Transcript, messagePayload{Role: string(m.Role), Content: m.Content})
	}
	if reply.NewConversation {
		resp.ConversationID = reply.ConversationID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}
