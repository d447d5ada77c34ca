package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avelin0/sage/internal/encoder"
	"github.com/avelin0/sage/internal/knowledge"
	"github.com/avelin0/sage/internal/retrieval"
)

// retrieveRequest is the body of POST /api/v1/retrieve. Embedding and K
// are optional: the server encodes the question and uses the default
// candidate count when they are absent.
type retrieveRequest struct {
	Question  string    `json:"question"`
	Embedding []float32 `json:"embedding,omitempty"`
	K         int       `json:"k,omitempty"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.retriever.Retrieve(r.Context(), retrieval.Query{
		Question:  req.Question,
		Embedding: req.Embedding,
		K:         req.K,
	})
	if err != nil {
		s.writeRetrieveError(w, err)
		return
	}

	writeJSON(w, s.logger, http.StatusOK, result)
}

// writeRetrieveError maps pipeline errors to HTTP statuses. Caller
// mistakes are 400s; an empty or unmatched knowledge base is 404; a
// down knowledge store is 503; a generation failure with no possible
// fallback is 502.
func (s *Server) writeRetrieveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, encoder.ErrEmptyInput):
		writeError(w, s.logger, http.StatusBadRequest, "question is empty")
	case errors.Is(err, encoder.ErrDimensionMismatch):
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
	case errors.Is(err, retrieval.ErrNoMatch):
		writeError(w, s.logger, http.StatusNotFound, "no matching knowledge entry")
	case errors.Is(err, knowledge.ErrSourceUnavailable):
		writeError(w, s.logger, http.StatusServiceUnavailable, "knowledge source unavailable")
	case errors.Is(err, retrieval.ErrGeneration):
		writeError(w, s.logger, http.StatusBadGateway, "answer generation failed")
	default:
		s.logger.Error("retrieve failed", "error", err)
		writeError(w, s.logger, http.StatusInternalServerError, "internal server error")
	}
}
