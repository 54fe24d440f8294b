package server

import (
	"encoding/json"
	"net/http"

	"truefeedback/internal/util"
	"truefeedback/services/mailer/internal/app"
)

// Server exposes health and job status endpoints for the mail worker.
type Server struct {
	app *app.App
	mux *http.ServeMux
}

func New(a *app.App) *Server {
	s := &Server{app: a, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /jobs/{id}", s.handleJob)
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("mailer", util.WithSecurityHeaders(s.mux)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok, err := s.app.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("job lookup failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
