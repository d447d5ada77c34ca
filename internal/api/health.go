package api

import (
	"net/http"
	"time"

	"github.com/avelin0/sage/internal/syncer"
)

// healthResponse reports liveness plus component detail. The service
// is "degraded" rather than unhealthy when the generator is absent,
// since verbatim answers still work.
type healthResponse struct {
	Status    string        `json:"status"`
	Version   string        `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Generator generatorInfo `json:"generator"`
	Sync      syncer.Status `json:"sync"`
}

type generatorInfo struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	available, reason := s.retriever.GeneratorAvailable()

	status := "ok"
	if !available {
		status = "degraded"
	}

	writeJSON(w, s.logger, http.StatusOK, healthResponse{
		Status:    status,
		Version:   s.version,
		Timestamp: time.Now().UTC(),
		Generator: generatorInfo{Available: available, Reason: reason},
		Sync:      s.sync.Status(),
	})
}

// handleReady gates traffic on knowledge-store reachability. Load
// balancers pull the instance when the store is down, while /health
// stays green so the process is not restarted pointlessly.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		writeError(w, s.logger, http.StatusServiceUnavailable, "knowledge source unavailable")
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ready"})
}
