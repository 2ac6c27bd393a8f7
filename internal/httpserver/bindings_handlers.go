package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/service/binding"
)

func registerBindingRoutes(r chi.Router, s *Server) {
	r.Route("/bindings", func(br chi.Router) {
		br.Post("/", s.CreateBindingHandler())
		br.Post("/bulk", s.BulkCreateBindingsHandler(false))
		br.Post("/bulk/dry-run", s.BulkCreateBindingsHandler(true))
		br.Get("/", s.ListBindingsHandler())
		br.Get("/{id}", s.GetBindingHandler())
		br.Patch("/{id}", s.UpdateBindingHandler())
		br.Get("/{id}/view", s.ViewBindingHandler())
		br.Post("/{id}/logout", s.LogoutBindingHandler())
		br.Post("/{id}/request-login", s.RequestLoginHandler())
		br.Post("/{id}/verify-login", s.VerifyLoginHandler())
		br.Post("/{id}/check-balance", s.CheckBindingBalanceHandler())
		br.Post("/{id}/refresh-token-location", s.RefreshTokenLocationHandler())
	})
}

type bindingCreateRequest struct {
	ServerID     int64  `json:"server_id" validate:"required"`
	AccountID    int64  `json:"account_id" validate:"required"`
	BalanceStart *int64 `json:"balance_start"`
}

// CreateBindingHandler handles POST /v1/bindings.
func (s *Server) CreateBindingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bindingCreateRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		b, err := s.BindingService.CreateBinding(r.Context(), req.ServerID, req.AccountID, req.BalanceStart)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusCreated, b)
	}
}

type bindingBulkItemRequest struct {
	ServerID  *int64  `json:"server_id"`
	AccountID *int64  `json:"account_id"`
	Port      *int    `json:"port"`
	MSISDN    *string `json:"msisdn"`
	BatchID   *string `json:"batch_id"`
}

type bindingBulkRequest struct {
	Items            []bindingBulkItemRequest `json:"items" validate:"required,min=1"`
	StopOnFirstError bool                     `json:"stop_on_first_error"`
}

// BulkCreateBindingsHandler handles POST /v1/bindings/bulk and
// POST /v1/bindings/bulk/dry-run.
func (s *Server) BulkCreateBindingsHandler(dryRun bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bindingBulkRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		items := make([]binding.BulkItem, 0, len(req.Items))
		for _, it := range req.Items {
			items = append(items, binding.BulkItem{
				ServerID: it.ServerID, AccountID: it.AccountID,
				Port: it.Port, MSISDN: it.MSISDN, BatchID: it.BatchID,
			})
		}
		result, err := s.BindingService.CreateBulk(r.Context(), items, dryRun, req.StopOnFirstError)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, result)
	}
}

// ListBindingsHandler handles GET /v1/bindings.
func (s *Server) ListBindingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter domain.BindingFilter
		if v := q.Get("server_id"); v != "" {
			if id, err := parseQueryInt64(v); err == nil {
				filter.ServerID = &id
			}
		}
		if v := q.Get("account_id"); v != "" {
			if id, err := parseQueryInt64(v); err == nil {
				filter.AccountID = &id
			}
		}
		if v := q.Get("active_only"); v == "true" || v == "1" {
			filter.ActiveOnly = true
		}
		list, err := s.Bindings.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, list)
	}
}

// GetBindingHandler handles GET /v1/bindings/{id}.
func (s *Server) GetBindingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		b, err := s.Bindings.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, b)
	}
}

type bindingUpdateRequest struct {
	DeviceID         *string `json:"device_id"`
	LastErrorCode    *string `json:"last_error_code"`
	LastErrorMessage *string `json:"last_error_message"`
}

// UpdateBindingHandler handles PATCH /v1/bindings/{id}. Only fields the
// binding actually owns outside the state-action endpoints are writable:
// device_id and the last_error_* pair. token_location, token_login,
// token_location_refreshed_at, and step never change via PATCH — those are
// set exclusively by the dedicated state-action endpoints
// (request-login/verify-login/refresh-token-location/logout).
func (s *Server) UpdateBindingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		b, err := s.Bindings.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req bindingUpdateRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		if req.DeviceID != nil {
			b.DeviceID = req.DeviceID
		}
		if req.LastErrorCode != nil {
			b.LastErrorCode = req.LastErrorCode
		}
		if req.LastErrorMessage != nil {
			b.LastErrorMessage = req.LastErrorMessage
		}
		if err := s.Bindings.Update(r.Context(), b); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, b)
	}
}

// ViewBindingHandler handles GET /v1/bindings/{id}/view (joined display model).
func (s *Server) ViewBindingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		view, err := s.Bindings.View(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, view)
	}
}

type logoutRequest struct {
	LastErrorCode    *string               `json:"last_error_code"`
	LastErrorMessage *string               `json:"last_error_message"`
	AccountStatus    *domain.AccountStatus `json:"account_status"`
}

// LogoutBindingHandler handles POST /v1/bindings/{id}/logout.
func (s *Server) LogoutBindingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req logoutRequest
		if r.ContentLength > 0 {
			if err := decodeAndValidate(r, &req); err != nil {
				writeError(w, r, err, s.Debug)
				return
			}
		}
		b, err := s.BindingService.LogoutBinding(r.Context(), id, req.LastErrorCode, req.LastErrorMessage, req.AccountStatus)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, b)
	}
}

type requestLoginRequest struct {
	PIN *string `json:"pin"`
}

// RequestLoginHandler handles POST /v1/bindings/{id}/request-login.
func (s *Server) RequestLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req requestLoginRequest
		if r.ContentLength > 0 {
			if err := decodeAndValidate(r, &req); err != nil {
				writeError(w, r, err, s.Debug)
				return
			}
		}
		b, err := s.BindingService.RequestLogin(r.Context(), id, req.PIN)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, b)
	}
}

type verifyLoginRequest struct {
	OTP string `json:"otp" validate:"required"`
}

// VerifyLoginHandler handles POST /v1/bindings/{id}/verify-login.
func (s *Server) VerifyLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req verifyLoginRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		b, err := s.BindingService.VerifyLoginAndReseller(r.Context(), id, req.OTP)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, b)
	}
}

// CheckBindingBalanceHandler handles POST /v1/bindings/{id}/check-balance.
func (s *Server) CheckBindingBalanceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		b, err := s.BindingService.CheckBalance(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, b)
	}
}

// RefreshTokenLocationHandler handles POST /v1/bindings/{id}/refresh-token-location.
func (s *Server) RefreshTokenLocationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		b, err := s.BindingService.RefreshTokenLocation(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, b)
	}
}
