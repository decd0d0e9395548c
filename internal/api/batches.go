package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"imagepipe/internal/history"
)

const maxBatchListLimit = 500

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		RespondWithJSON(w, http.StatusOK, BatchListResponse{Batches: []history.Batch{}})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			RespondWithError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(parsed, maxBatchListLimit)
	}
	batches, err := s.history.ListBatches(r.Context(), limit)
	if err != nil {
		RespondWithErr(w, err)
		return
	}
	if batches == nil {
		batches = []history.Batch{}
	}
	RespondWithJSON(w, http.StatusOK, BatchListResponse{Batches: batches})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		RespondWithError(w, http.StatusNotFound, "batch history unavailable")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "batchID"))
	batch, err := s.history.GetBatch(r.Context(), id)
	if err != nil {
		RespondWithErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, BatchResponse{Batch: *batch})
}
