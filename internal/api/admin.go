package api

import "net/http"

// handleRebuild forces an immediate index rebuild, bypassing change
// detection and the anti-thrash window. Returns 409 when a rebuild is
// already running.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	result, err := s.sync.ForceRebuild(r.Context())
	if err != nil {
		if s.sync.Status().Rebuilding {
			writeError(w, s.logger, http.StatusConflict, "rebuild already in progress")
			return
		}
		s.logger.Error("forced rebuild failed", "error", err)
		writeError(w, s.logger, http.StatusInternalServerError, "rebuild failed: "+err.Error())
		return
	}
	writeJSON(w, s.logger, http.StatusOK, result)
}

// handleSyncStatus reports the synchronizer snapshot.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, s.sync.Status())
}
