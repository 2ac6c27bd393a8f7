package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

func registerTransactionRoutes(r chi.Router, s *Server) {
	r.Route("/transactions", func(tr chi.Router) {
		tr.Post("/", s.StartTransactionHandler())
		tr.Post("/start", s.StartTransactionHandler())
		tr.Post("/{id}/otp", s.SubmitOTPHandler())
		tr.Post("/{id}/continue", s.ContinueTransactionHandler())
		tr.Post("/{id}/stop", s.StopTransactionHandler())
		tr.Post("/{id}/pause", s.PauseTransactionHandler())
		tr.Post("/{id}/resume", s.ResumeTransactionHandler())
		tr.Post("/{id}/check", s.CheckBalanceAndContinueOrStopHandler())
		tr.Get("/", s.ListTransactionsHandler())
		tr.Get("/{id}", s.GetTransactionHandler())
		tr.Patch("/{id}/status", s.UpdateTransactionStatusHandler())
		tr.Get("/{id}/snapshot", s.GetTransactionSnapshotHandler())
		tr.Patch("/{id}/snapshot", s.UpdateTransactionSnapshotHandler())
		tr.Delete("/{id}", s.DeleteTransactionHandler())
	})
}

type startTransactionRequest struct {
	BindingID  int64  `json:"binding_id" validate:"required"`
	ProductID  string `json:"product_id" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	LimitHarga int64  `json:"limit_harga" validate:"min=0"`
}

// StartTransactionHandler handles POST /v1/transactions and
// POST /v1/transactions/start.
func (s *Server) StartTransactionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startTransactionRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		txn, err := s.TransactionService.StartTransaction(r.Context(), req.BindingID, req.ProductID, req.Email, req.LimitHarga)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusCreated, txn)
	}
}

type otpRequest struct {
	OTP string `json:"otp" validate:"required"`
}

// SubmitOTPHandler handles POST /v1/transactions/{id}/otp.
func (s *Server) SubmitOTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req otpRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		txn, err := s.TransactionService.SubmitOTP(r.Context(), id, req.OTP)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, txn)
	}
}

// ContinueTransactionHandler handles POST /v1/transactions/{id}/continue.
func (s *Server) ContinueTransactionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		txn, err := s.TransactionService.ContinueTransaction(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, txn)
	}
}

type stopTransactionRequest struct {
	Reason *string `json:"reason"`
}

// StopTransactionHandler handles POST /v1/transactions/{id}/stop.
func (s *Server) StopTransactionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req stopTransactionRequest
		if r.ContentLength > 0 {
			if err := decodeAndValidate(r, &req); err != nil {
				writeError(w, r, err, s.Debug)
				return
			}
		}
		txn, err := s.TransactionService.StopTransaction(r.Context(), id, req.Reason)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, txn)
	}
}

type pauseTransactionRequest struct {
	Reason string `json:"reason"`
}

// PauseTransactionHandler handles POST /v1/transactions/{id}/pause.
func (s *Server) PauseTransactionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req pauseTransactionRequest
		if r.ContentLength > 0 {
			if err := decodeAndValidate(r, &req); err != nil {
				writeError(w, r, err, s.Debug)
				return
			}
		}
		txn, err := s.TransactionService.PauseTransaction(r.Context(), id, req.Reason)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, txn)
	}
}

// ResumeTransactionHandler handles POST /v1/transactions/{id}/resume.
func (s *Server) ResumeTransactionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		txn, err := s.TransactionService.ResumeTransaction(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, txn)
	}
}

// CheckBalanceAndContinueOrStopHandler handles POST /v1/transactions/{id}/check.
func (s *Server) CheckBalanceAndContinueOrStopHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		txn, action, err := s.TransactionService.CheckBalanceAndContinueOrStop(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"transaction": txn, "action": action})
	}
}

// ListTransactionsHandler handles GET /v1/transactions.
func (s *Server) ListTransactionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter domain.TransactionFilter
		if v := q.Get("binding_id"); v != "" {
			if id, err := parseQueryInt64(v); err == nil {
				filter.BindingID = &id
			}
		}
		if v := q.Get("account_id"); v != "" {
			if id, err := parseQueryInt64(v); err == nil {
				filter.AccountID = &id
			}
		}
		if v := q.Get("status"); v != "" {
			status := domain.TransactionStatus(v)
			filter.Status = &status
		}
		list, err := s.Transactions.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, list)
	}
}

// GetTransactionHandler handles GET /v1/transactions/{id}.
func (s *Server) GetTransactionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		txn, err := s.Transactions.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, txn)
	}
}

type transactionStatusRequest struct {
	Status domain.TransactionStatus `json:"status" validate:"required"`
}

// UpdateTransactionStatusHandler handles PATCH /v1/transactions/{id}/status.
// This is an administrative override; it bypasses the workflow guard and
// should only be used to correct data, not to drive the transaction
// lifecycle (use the /otp, /continue, /stop, /pause, /resume, /check
// operations for that).
func (s *Server) UpdateTransactionStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req transactionStatusRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		if err := s.Transactions.UpdateStatus(r.Context(), id, req.Status); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
	}
}

// GetTransactionSnapshotHandler handles GET /v1/transactions/{id}/snapshot.
func (s *Server) GetTransactionSnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		snap, err := s.Transactions.GetSnapshot(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, snap)
	}
}

type snapshotUpdateRequest struct {
	BalanceEnd   *int64  `json:"balance_end"`
	StatusIDVRaw *string `json:"status_idv_raw"`
}

// UpdateTransactionSnapshotHandler handles PATCH /v1/transactions/{id}/snapshot.
func (s *Server) UpdateTransactionSnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		snap, err := s.Transactions.GetSnapshot(r.Context(), id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req snapshotUpdateRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		if req.BalanceEnd != nil {
			snap.BalanceEnd = req.BalanceEnd
		}
		if req.StatusIDVRaw != nil {
			snap.StatusIDVRaw = *req.StatusIDVRaw
		}
		if err := s.Transactions.UpdateSnapshot(r.Context(), snap); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, snap)
	}
}

// DeleteTransactionHandler handles DELETE /v1/transactions/{id}.
func (s *Server) DeleteTransactionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		if err := s.Transactions.Delete(r.Context(), id); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
