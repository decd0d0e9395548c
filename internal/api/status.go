package api

import (
	"net/http"
	"os"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status DaemonStatus
	if s.status != nil {
		status = s.status(r.Context())
	} else {
		status = DaemonStatus{Running: true, PID: os.Getpid()}
	}
	status.Subscribers = s.bus.Count()
	if status.Dependencies == nil {
		status.Dependencies = []DependencyStatus{}
	}
	if status.Preflight == nil {
		status.Preflight = []CheckResult{}
	}
	RespondWithJSON(w, http.StatusOK, status)
}
