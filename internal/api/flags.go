package api

import (
	"net/http"

	"github.com/thinkabit/questy/internal/audit"
	"github.com/thinkabit/questy/internal/log"
)

type flagHandler struct {
	flags  FlagReader
	logger log.Logger
}

// list returns flagged messages newest first, optionally filtered by the
// search query parameter.
func (h *flagHandler) list(w http.ResponseWriter, r *http.Request) {
	search := r.URL.Query().Get("search")

	flags, err := h.flags.List(r.Context(), search)
	if err != nil {
		h.logger.Error("listing flagged messages", "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to retrieve flagged messages.")
		return
	}
	if flags == nil {
		flags = []audit.Flag{}
	}
	writeJSON(w, http.StatusOK, flags)
}
