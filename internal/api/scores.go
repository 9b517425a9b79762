package api

import (
	"net/http"
	"time"

	"github.com/thinkabit/questy/internal/log"
	"github.com/thinkabit/questy/internal/scores"
)

type scoreHandler struct {
	scores ScoreReader
	logger log.Logger
}

func (h *scoreHandler) userID(r *http.Request) string {
	return r.PathValue("id")
}

// records returns every test score record for a user.
func (h *scoreHandler) records(w http.ResponseWriter, r *http.Request) {
	records, err := h.scores.ForUser(r.Context(), h.userID(r))
	if err != nil {
		h.logger.Error("listing test scores", "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to retrieve test scores.")
		return
	}
	if records == nil {
		records = []scores.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// totals returns aggregate correct/incorrect counts for the bar chart.
func (h *scoreHandler) totals(w http.ResponseWriter, r *http.Request) {
	t, err := h.scores.UserTotals(r.Context(), h.userID(r))
	if err != nil {
		h.logger.Error("summing test scores", "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to retrieve test scores.")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// perTest returns per-test correct/incorrect counts for the stacked bar
// chart.
func (h *scoreHandler) perTest(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.scores.PerTest(r.Context(), h.userID(r))
	if err != nil {
		h.logger.Error("listing per-test summaries", "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to retrieve test scores.")
		return
	}

	type row struct {
		TestID           int64 `json:"testId"`
		CorrectAnswers   int   `json:"correctAnswers"`
		IncorrectAnswers int   `json:"incorrectAnswers"`
	}
	out := make([]row, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, row{TestID: s.TestID, CorrectAnswers: s.CorrectAnswers, IncorrectAnswers: s.IncorrectAnswers})
	}
	writeJSON(w, http.StatusOK, out)
}

// overTime returns correct/incorrect counts by test date for the
// time-series chart.
func (h *scoreHandler) overTime(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.scores.PerTest(r.Context(), h.userID(r))
	if err != nil {
		h.logger.Error("listing test summaries", "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to retrieve test scores.")
		return
	}

	type row struct {
		TestDate         time.Time `json:"testDate"`
		CorrectAnswers   int       `json:"correctAnswers"`
		IncorrectAnswers int       `json:"incorrectAnswers"`
	}
	out := make([]row, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, row{TestDate: s.TestDate, CorrectAnswers: s.CorrectAnswers, IncorrectAnswers: s.IncorrectAnswers})
	}
	writeJSON(w, http.StatusOK, out)
}

// count returns the number of tests a user has taken.
func (h *scoreHandler) count(w http.ResponseWriter, r *http.Request) {
	n, err := h.scores.Count(r.Context(), h.userID(r))
	if err != nil {
		h.logger.Error("counting tests", "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to retrieve test scores.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"numberOfTests": n})
}

// scoresOverTime returns score by test date for the line chart.
func (h *scoreHandler) scoresOverTime(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.scores.PerTest(r.Context(), h.userID(r))
	if err != nil {
		h.logger.Error("listing test summaries", "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to retrieve test scores.")
		return
	}

	type row struct {
		TestDate time.Time `json:"testDate"`
		Score    int       `json:"score"`
	}
	out := make([]row, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, row{TestDate: s.TestDate, Score: s.Score})
	}
	writeJSON(w, http.StatusOK, out)
}
