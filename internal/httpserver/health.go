package httpserver

import "net/http"

// HealthHandler is the §6 /health liveness probe: it never touches the
// database or Redis, so a slow dependency never flips the process
// unhealthy from the orchestrator's point of view.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyHandler checks the database and Redis registry are reachable.
func (s *Server) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		checks := map[string]string{}
		ready := true

		if s.DB != nil {
			if err := s.DB.Ping(ctx); err != nil {
				checks["database"] = err.Error()
				ready = false
			} else {
				checks["database"] = "ok"
			}
		}
		if s.Redis != nil {
			if err := s.Redis.Ping(ctx); err != nil {
				checks["redis"] = err.Error()
				ready = false
			} else {
				checks["redis"] = "ok"
			}
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeData(w, status, map[string]any{"ready": ready, "checks": checks})
	}
}
