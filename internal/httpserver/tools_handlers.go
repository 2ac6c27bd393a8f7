package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
)

// registerToolsRoutes mounts the ad-hoc provider passthroughs used by
// operators to probe a binding's IDV session directly, bypassing the
// transaction workflow. Every route resolves the binding's server and
// account first, then calls straight through to the provider adapter.
func registerToolsRoutes(r chi.Router, s *Server) {
	r.Route("/tools", func(tr chi.Router) {
		tr.Post("/{id}/request-otp", s.ToolRequestOTPHandler())
		tr.Post("/{id}/verify-otp", s.ToolVerifyOTPHandler())
		tr.Post("/{id}/logout", s.ToolLogoutHandler())
		tr.Get("/{id}/balance", s.ToolGetBalanceHandler())
		tr.Get("/{id}/token-location", s.ToolGetTokenLocationHandler())
		tr.Get("/{id}/products", s.ToolListProductsHandler())
		tr.Post("/{id}/trx", s.ToolTrxHandler())
		tr.Post("/{id}/trx-otp", s.ToolTrxOTPHandler())
		tr.Get("/{id}/trx-status", s.ToolTrxStatusHandler())
	})
}

// resolveBindingProvider loads the binding's server and account, then
// returns the provider adapter scoped to that server plus the account's
// msisdn (the provider's "username").
func (s *Server) resolveBindingProvider(r *http.Request, bindingID int64) (domain.ProviderAdapter, string, error) {
	b, err := s.Bindings.Get(r.Context(), bindingID)
	if err != nil {
		return nil, "", err
	}
	srv, err := s.Servers.Get(r.Context(), b.ServerID)
	if err != nil {
		return nil, "", err
	}
	acc, err := s.Accounts.Get(r.Context(), b.AccountID)
	if err != nil {
		return nil, "", err
	}
	return s.Provider(srv), acc.MSISDN, nil
}

// ToolRequestOTPHandler handles POST /v1/tools/{id}/request-otp.
func (s *Server) ToolRequestOTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		adapter, username, err := s.resolveBindingProvider(r, id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req struct {
			PIN string `json:"pin" validate:"required"`
		}
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		resp, err := adapter.RequestOTP(r.Context(), username, req.PIN)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, resp)
	}
}

// ToolVerifyOTPHandler handles POST /v1/tools/{id}/verify-otp.
func (s *Server) ToolVerifyOTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		adapter, username, err := s.resolveBindingProvider(r, id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req otpRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		resp, err := adapter.VerifyOTP(r.Context(), username, req.OTP)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, resp)
	}
}

// ToolLogoutHandler handles POST /v1/tools/{id}/logout.
func (s *Server) ToolLogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		adapter, username, err := s.resolveBindingProvider(r, id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		resp, err := adapter.Logout(r.Context(), username)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, resp)
	}
}

// ToolGetBalanceHandler handles GET /v1/tools/{id}/balance.
func (s *Server) ToolGetBalanceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		adapter, username, err := s.resolveBindingProvider(r, id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		resp, err := adapter.GetBalancePulsa(r.Context(), username)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, resp)
	}
}

// ToolGetTokenLocationHandler handles GET /v1/tools/{id}/token-location.
func (s *Server) ToolGetTokenLocationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		adapter, username, err := s.resolveBindingProvider(r, id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		resp, err := adapter.GetTokenLocation3(r.Context(), username)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, resp)
	}
}

// ToolListProductsHandler handles GET /v1/tools/{id}/products.
func (s *Server) ToolListProductsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		adapter, username, err := s.resolveBindingProvider(r, id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		resp, err := adapter.ListProduk(r.Context(), username)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, resp)
	}
}

// ToolTrxHandler handles POST /v1/tools/{id}/trx.
func (s *Server) ToolTrxHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		adapter, username, err := s.resolveBindingProvider(r, id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req struct {
			ProductID  string `json:"product_id" validate:"required"`
			Email      string `json:"email" validate:"required,email"`
			LimitHarga int64  `json:"limit_harga" validate:"min=0"`
		}
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		resp, err := adapter.TrxVoucherIDV(r.Context(), username, req.ProductID, req.Email, req.LimitHarga)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, resp)
	}
}

// ToolTrxOTPHandler handles POST /v1/tools/{id}/trx-otp.
func (s *Server) ToolTrxOTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		adapter, username, err := s.resolveBindingProvider(r, id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		var req otpRequest
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		resp, err := adapter.OTPTrx(r.Context(), username, req.OTP)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, resp)
	}
}

// ToolTrxStatusHandler handles GET /v1/tools/{id}/trx-status?trx_id=.
func (s *Server) ToolTrxStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		trxID := r.URL.Query().Get("trx_id")
		if trxID == "" {
			writeError(w, r, domain.NewValidationError("trx_id_required", "trx_id query param is required",
				observability.TraceIDFromContext(r.Context())), s.Debug)
			return
		}
		adapter, username, err := s.resolveBindingProvider(r, id)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		resp, err := adapter.StatusTrx(r.Context(), username, trxID)
		if err != nil {
			writeError(w, r, err, s.Debug)
			return
		}
		writeData(w, http.StatusOK, resp)
	}
}
