package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
)

func registerAccountRoutes(r chi.Router, s *Server) {
	r.Route("/accounts", func(ar chi.Router) {
		ar.Post("/", s.CreateAccountHandler())
		ar.Post("/bulk", s.BulkCreateAccountsHandler())
		ar.Get("/", s.ListAccountsHandler())
		ar.Get("/{id}", s.GetAccountHandler())
		ar.Patch("/{id}", s.UpdateAccountHandler())
		ar.Delete("/", s.DeleteAccountByMSISDNHandler())
		ar.Delete("/{id}", s.DeleteAccountHandler())
	})
}

type accountCreateRequest struct {
	MSISDN  string  `json:"msisdn" validate:"required"`
	BatchID string  `json:"batch_id" validate:"required"`
	Email   *string `json:"email"`
	PIN     *string `json:"pin"`
	Notes   *string `json:"notes"`
}

func (req accountCreateRequest) toEntity() domain.Account {
	return domain.Account{
		MSISDN:  req.MSISDN,
		BatchID: req.BatchID,
		Email:   req.Email,
		PIN:     req.PIN,
		Notes:   req.Notes,
		Status:  domain.AccountNew,
	}
}

// CreateAccountHandler handles POST /v1/accounts.
func (s *Server) CreateAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req accountCreateRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		acc := req.toEntity()
		id, err := s.Accounts.Create(r.Context(), acc)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		acc.ID = id
		writeData(w, http.StatusCreated, acc)
	}
}

type accountBulkItemResult struct {
	Status    string `json:"status"` // created | failed
	AccountID int64  `json:"account_id,omitempty"`
	MSISDN    string `json:"msisdn"`
	Reason    string `json:"reason,omitempty"`
}

type accountBulkResult struct {
	Items   []accountBulkItemResult `json:"items"`
	Created int                     `json:"created"`
	Failed  int                     `json:"failed"`
}

// BulkCreateAccountsHandler handles POST /v1/accounts/bulk.
func (s *Server) BulkCreateAccountsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Items []accountCreateRequest `json:"items" validate:"required,dive"`
		}
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var result accountBulkResult
		for _, item := range req.Items {
			acc := item.toEntity()
			id, err := s.Accounts.Create(r.Context(), acc)
			if err != nil {
				result.Items = append(result.Items, accountBulkItemResult{Status: "failed", MSISDN: item.MSISDN, Reason: err.Error()})
				result.Failed++
				continue
			}
			result.Items = append(result.Items, accountBulkItemResult{Status: "created", AccountID: id, MSISDN: item.MSISDN})
			result.Created++
		}
		writeData(w, http.StatusOK, result)
	}
}

// ListAccountsHandler handles GET /v1/accounts with the §6 filters.
func (s *Server) ListAccountsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter domain.AccountFilter
		if v := q.Get("status"); v != "" {
			status := domain.AccountStatus(v)
			filter.Status = &status
		}
		if v := q.Get("is_reseller"); v != "" {
			reseller := v == "true" || v == "1"
			filter.IsReseller = &reseller
		}
		if v := q.Get("batch_id"); v != "" {
			filter.BatchID = &v
		}
		if v := q.Get("email"); v != "" {
			filter.Email = &v
		}
		if v := q.Get("msisdn"); v != "" {
			filter.MSISDN = &v
		}
		list, err := s.Accounts.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, list)
	}
}

// GetAccountHandler handles GET /v1/accounts/{id}.
func (s *Server) GetAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		acc, err := s.Accounts.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, acc)
	}
}

type accountUpdateRequest struct {
	Email      *string              `json:"email"`
	PIN        *string              `json:"pin"`
	Status     *domain.AccountStatus `json:"status"`
	IsReseller *bool                `json:"is_reseller"`
	Notes      *string              `json:"notes"`
}

// UpdateAccountHandler handles PATCH /v1/accounts/{id}.
func (s *Server) UpdateAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		acc, err := s.Accounts.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req accountUpdateRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		if req.Email != nil {
			acc.Email = req.Email
		}
		if req.PIN != nil {
			acc.PIN = req.PIN
		}
		if req.Status != nil {
			acc.Status = *req.Status
		}
		if req.IsReseller != nil {
			acc.IsReseller = *req.IsReseller
		}
		if req.Notes != nil {
			acc.Notes = req.Notes
		}
		if err := s.Accounts.Update(r.Context(), acc); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, acc)
	}
}

// DeleteAccountHandler handles DELETE /v1/accounts/{id}.
func (s *Server) DeleteAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		if err := s.Accounts.Delete(r.Context(), id); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeleteAccountByMSISDNHandler handles DELETE /v1/accounts?msisdn=&batch_id=.
func (s *Server) DeleteAccountByMSISDNHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msisdn := r.URL.Query().Get("msisdn")
		batchID := r.URL.Query().Get("batch_id")
		if msisdn == "" || batchID == "" {
			writeError(w, r, domain.NewValidationError("msisdn_batch_id_required",
				"msisdn and batch_id query params are required", observability.TraceIDFromContext(r.Context())), s.Debug)
			return
		}
		if err := s.Accounts.DeleteByMSISDNBatch(r.Context(), msisdn, batchID); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
