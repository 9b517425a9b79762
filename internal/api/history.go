package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/thinkabit/questy/internal/history"
	"github.com/thinkabit/questy/internal/log"
)

type historyHandler struct {
	transcripts Transcripts
	logger      log.Logger
}

// listForIdentity returns the most recent conversations for an identity.
func (h *historyHandler) listForIdentity(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSpace(r.URL.Query().Get("identity"))
	if identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}

	conversations, err := h.transcripts.ListForIdentity(r.Context(), identity, 10)
	if err != nil {
		h.logger.Error("listing chat history", "identity", identity, "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to retrieve chat history.")
		return
	}
	if conversations == nil {
		conversations = []history.Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

// byID returns one conversation's transcript.
func (h *historyHandler) byID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	transcript, err := h.transcripts.Load(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "That conversation could not be found.")
		return
	}
	if err != nil {
		h.logger.Error("loading chat history", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to retrieve chat history.")
		return
	}
	if transcript == nil {
		transcript = []history.Message{}
	}
	writeJSON(w, http.StatusOK, transcript)
}
