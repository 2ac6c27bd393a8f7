package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/orchestrator"
)

func registerOrchestrationRoutes(r chi.Router, s *Server) {
	r.Route("/orchestration", func(or chi.Router) {
		or.Post("/start", s.OrchestrationControlHandler(orchestrator.ActionStart))
		or.Post("/pause", s.OrchestrationControlHandler(orchestrator.ActionPause))
		or.Post("/resume", s.OrchestrationControlHandler(orchestrator.ActionResume))
		or.Post("/stop", s.OrchestrationControlHandler(orchestrator.ActionStop))
		or.Post("/status", s.OrchestrationStatusHandler())
		or.Get("/monitor", s.OrchestrationMonitorHandler())
	})
}

type orchestrationControlRequest struct {
	BindingIDs []int64 `json:"binding_ids" validate:"required,min=1"`
	Owner      string  `json:"owner"`
	Reason     string  `json:"reason"`
	Config     *struct {
		IntervalMS        int64             `json:"interval_ms"`
		MaxRetryStatus    int               `json:"max_retry_status"`
		CooldownOnErrorMS int64             `json:"cooldown_on_error_ms"`
		Extra             map[string]string `json:"extra"`
	} `json:"config"`
}

func (req orchestrationControlRequest) workerConfig() domain.WorkerConfig {
	if req.Config == nil {
		return domain.WorkerConfig{}
	}
	return domain.WorkerConfig{
		IntervalMS:        req.Config.IntervalMS,
		MaxRetryStatus:    req.Config.MaxRetryStatus,
		CooldownOnErrorMS: req.Config.CooldownOnErrorMS,
		Extra:             req.Config.Extra,
	}
}

// OrchestrationControlHandler handles POST /v1/orchestration/{start,pause,resume,stop}.
func (s *Server) OrchestrationControlHandler(action orchestrator.ControlAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrationControlRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		results := s.Control.Apply(r.Context(), action, req.BindingIDs, req.Owner, req.Reason, req.workerConfig())
		writeData(w, http.StatusOK, results)
	}
}

type orchestrationStatusRequest struct {
	BindingIDs []int64 `json:"binding_ids" validate:"required,min=1"`
}

// OrchestrationStatusHandler handles POST /v1/orchestration/status.
func (s *Server) OrchestrationStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrationStatusRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		states, err := s.Control.Status(r.Context(), req.BindingIDs)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, states)
	}
}

// OrchestrationMonitorHandler handles GET /v1/orchestration/monitor.
func (s *Server) OrchestrationMonitorHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.Control.Monitor(r.Context())
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, result)
	}
}
