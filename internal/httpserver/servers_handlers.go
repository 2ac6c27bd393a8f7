package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
)

func registerServerRoutes(r chi.Router, s *Server) {
	r.Route("/servers", func(sr chi.Router) {
		sr.Post("/", s.CreateServerHandler())
		sr.Post("/bulk", s.BulkCreateServersHandler(false))
		sr.Post("/bulk/dry-run", s.BulkCreateServersHandler(true))
		sr.Get("/", s.ListServersHandler())
		sr.Get("/{id}", s.GetServerHandler())
		sr.Patch("/{id}", s.UpdateServerHandler())
		sr.Patch("/{id}/status", s.UpdateServerStatusHandler())
		sr.Delete("/{id}", s.DeleteServerHandler())
	})
}

// serverCreateRequest is the §3 server instance creation payload.
type serverCreateRequest struct {
	Port                 int     `json:"port" validate:"required,min=1,max=65535"`
	BaseURL              string  `json:"base_url" validate:"required"`
	TimeoutSeconds       int     `json:"timeout_seconds" validate:"min=0"`
	Retries              int     `json:"retries" validate:"min=0"`
	WaitBetweenRetriesMS int     `json:"wait_between_retries_ms" validate:"min=0"`
	MaxRequestsQueued    int     `json:"max_requests_queued" validate:"min=0"`
	DeviceID             *string `json:"device_id"`
}

func (req serverCreateRequest) toEntity() domain.ServerInstance {
	return domain.ServerInstance{
		Port:               req.Port,
		BaseURL:            req.BaseURL,
		Timeout:            time.Duration(req.TimeoutSeconds) * time.Second,
		Retries:            req.Retries,
		WaitBetweenRetries: time.Duration(req.WaitBetweenRetriesMS) * time.Millisecond,
		MaxRequestsQueued:  req.MaxRequestsQueued,
		IsActive:           true,
		DeviceID:           req.DeviceID,
	}
}

// CreateServerHandler handles POST /v1/servers.
func (s *Server) CreateServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req serverCreateRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		srv := req.toEntity()
		id, err := s.Servers.Create(r.Context(), srv)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		srv.ID = id
		writeData(w, http.StatusCreated, srv)
	}
}

// serverBulkRequest bulk-creates server instances across a contiguous port
// range, deriving base_url by substituting the port into a template
// (e.g. "http://agent:%d").
type serverBulkRequest struct {
	StartPort            int    `json:"start_port" validate:"required,min=1"`
	EndPort              int    `json:"end_port" validate:"required,min=1"`
	BaseURLTemplate      string `json:"base_url_template" validate:"required"`
	TimeoutSeconds       int    `json:"timeout_seconds" validate:"min=0"`
	Retries              int    `json:"retries" validate:"min=0"`
	WaitBetweenRetriesMS int    `json:"wait_between_retries_ms" validate:"min=0"`
	MaxRequestsQueued    int    `json:"max_requests_queued" validate:"min=0"`
}

type serverBulkItemResult struct {
	Status   string `json:"status"` // created | would_create | failed
	ServerID int64  `json:"server_id,omitempty"`
	Port     int    `json:"port"`
	Reason   string `json:"reason,omitempty"`
}

type serverBulkResult struct {
	Items       []serverBulkItemResult `json:"items"`
	Created     int                    `json:"created"`
	WouldCreate int                    `json:"would_create"`
	Failed      int                    `json:"failed"`
}

const maxBulkPortRangeSpan = 500

// BulkCreateServersHandler handles POST /v1/servers/bulk and
// POST /v1/servers/bulk/dry-run.
func (s *Server) BulkCreateServersHandler(dryRun bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req serverBulkRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		traceID := observability.TraceIDFromContext(r.Context())
		if req.EndPort < req.StartPort {
			writeError(w, r, domain.NewValidationError("server_bulk_invalid_range",
				"end_port must be >= start_port", traceID), s.Debug)
			return
		}
		if req.EndPort-req.StartPort > maxBulkPortRangeSpan {
			writeError(w, r, domain.NewValidationError("server_bulk_range_too_large",
				fmt.Sprintf("port range span %d exceeds the maximum of %d", req.EndPort-req.StartPort, maxBulkPortRangeSpan), traceID), s.Debug)
			return
		}

		var result serverBulkResult
		for port := req.StartPort; port <= req.EndPort; port++ {
			item := serverBulkItemResult{Port: port}
			if dryRun {
				item.Status = "would_create"
				result.WouldCreate++
				result.Items = append(result.Items, item)
				continue
			}
			srv := domain.ServerInstance{
				Port:               port,
				BaseURL:            fmt.Sprintf(req.BaseURLTemplate, port),
				Timeout:            time.Duration(req.TimeoutSeconds) * time.Second,
				Retries:            req.Retries,
				WaitBetweenRetries: time.Duration(req.WaitBetweenRetriesMS) * time.Millisecond,
				MaxRequestsQueued:  req.MaxRequestsQueued,
				IsActive:           true,
			}
			id, err := s.Servers.Create(r.Context(), srv)
			if err != nil {
				item.Status = "failed"
				item.Reason = err.Error()
				result.Failed++
				result.Items = append(result.Items, item)
				continue
			}
			item.Status = "created"
			item.ServerID = id
			result.Created++
			result.Items = append(result.Items, item)
		}
		writeData(w, http.StatusOK, result)
	}
}

// ListServersHandler handles GET /v1/servers.
func (s *Server) ListServersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter domain.ServerFilter
		if v := r.URL.Query().Get("is_active"); v != "" {
			active := v == "true" || v == "1"
			filter.IsActive = &active
		}
		list, err := s.Servers.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, list)
	}
}

// GetServerHandler handles GET /v1/servers/{id}.
func (s *Server) GetServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		srv, err := s.Servers.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, srv)
	}
}

// serverUpdateRequest is the PATCH /v1/servers/{id} payload.
type serverUpdateRequest struct {
	BaseURL              *string `json:"base_url"`
	TimeoutSeconds       *int    `json:"timeout_seconds"`
	Retries              *int    `json:"retries"`
	WaitBetweenRetriesMS *int    `json:"wait_between_retries_ms"`
	MaxRequestsQueued    *int    `json:"max_requests_queued"`
	DeviceID             *string `json:"device_id"`
}

// UpdateServerHandler handles PATCH /v1/servers/{id}.
func (s *Server) UpdateServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		srv, err := s.Servers.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req serverUpdateRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		if req.BaseURL != nil {
			srv.BaseURL = *req.BaseURL
		}
		if req.TimeoutSeconds != nil {
			srv.Timeout = time.Duration(*req.TimeoutSeconds) * time.Second
		}
		if req.Retries != nil {
			srv.Retries = *req.Retries
		}
		if req.WaitBetweenRetriesMS != nil {
			srv.WaitBetweenRetries = time.Duration(*req.WaitBetweenRetriesMS) * time.Millisecond
		}
		if req.MaxRequestsQueued != nil {
			srv.MaxRequestsQueued = *req.MaxRequestsQueued
		}
		if req.DeviceID != nil {
			srv.DeviceID = req.DeviceID
		}
		if err := s.Servers.Update(r.Context(), srv); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, srv)
	}
}

type serverStatusRequest struct {
	IsActive bool `json:"is_active"`
}

// UpdateServerStatusHandler handles PATCH /v1/servers/{id}/status.
func (s *Server) UpdateServerStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req serverStatusRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		if err := s.Servers.UpdateStatus(r.Context(), id, req.IsActive); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"id": id, "is_active": req.IsActive})
	}
}

// DeleteServerHandler handles DELETE /v1/servers/{id}.
func (s *Server) DeleteServerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		hasActive, err := s.Servers.HasActiveBinding(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		if hasActive {
			writeError(w, r, domain.NewValidationError("server_has_active_binding",
				"server cannot be deleted while an active binding references it",
				observability.TraceIDFromContext(r.Context())), s.Debug)
			return
		}
		if err := s.Servers.Delete(r.Context(), id); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// parseID extracts the {id} chi route param as an int64.
func parseID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domain.NewValidationError("invalid_id", fmt.Sprintf("invalid id %q", raw),
			observability.TraceIDFromContext(r.Context()))
	}
	return id, nil
}
