// Package binding implements the binding service (C5): binding lifecycle
// operations, bulk creation, and the provider-driven login/reseller/balance
// refresh flows.
package binding

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
	"github.com/hasanmaki/mkit-idv-next/internal/workflow"
)

// Service implements the binding lifecycle operations of §4.3.
type Service struct {
	Bindings domain.BindingRepository
	Accounts domain.AccountRepository
	Servers  domain.ServerRepository
	Provider func(server domain.ServerInstance) domain.ProviderAdapter
}

// New constructs a binding Service. provider resolves a ProviderAdapter
// scoped to the given server instance (one HTTP client per server, per C3).
func New(bindings domain.BindingRepository, accounts domain.AccountRepository, servers domain.ServerRepository,
	provider func(domain.ServerInstance) domain.ProviderAdapter) *Service {
	return &Service{Bindings: bindings, Accounts: accounts, Servers: servers, Provider: provider}
}

var tracer = otel.Tracer("service.binding")

// CreateBinding verifies the server and account exist and are free, then
// creates the binding and marks the account ACTIVE and used.
func (s *Service) CreateBinding(ctx domain.Context, serverID, accountID int64, balanceStart *int64) (domain.Binding, error) {
	ctx, span := tracer.Start(ctx, "binding.CreateBinding")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	server, err := s.Servers.Get(ctx, serverID)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.create.get_server: %w", err)
	}
	account, err := s.Accounts.Get(ctx, accountID)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.create.get_account: %w", err)
	}

	if _, active, err := s.Bindings.GetActiveByServer(ctx, server.ID); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.create.check_server: %w", err)
	} else if active {
		return domain.Binding{}, domain.NewValidationError("binding_server_active",
			fmt.Sprintf("server %d already has an active binding", serverID), traceID)
	}
	if _, active, err := s.Bindings.GetActiveByAccount(ctx, account.ID); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.create.check_account: %w", err)
	} else if active {
		return domain.Binding{}, domain.NewValidationError("binding_account_active",
			fmt.Sprintf("account %d is already bound to another server", accountID), traceID)
	}

	now := time.Now().UTC()
	b := domain.Binding{
		ServerID:     server.ID,
		AccountID:    account.ID,
		BatchID:      account.BatchID,
		Step:         domain.BindingBound,
		BalanceStart: balanceStart,
		BalanceLast:  balanceStart,
		BoundAt:      now,
	}
	id, err := s.Bindings.Create(ctx, b)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.create.insert: %w", err)
	}
	b.ID = id

	account.Status = domain.AccountActive
	account.UsedCount++
	account.LastUsedAt = &now
	if err := s.Accounts.Update(ctx, account); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.create.update_account: %w", err)
	}
	return b, nil
}

// RequestLogin calls request_otp with the supplied PIN (or the account's
// stored PIN) and advances the binding to OTP_REQUESTED.
func (s *Service) RequestLogin(ctx domain.Context, bindingID int64, pin *string) (domain.Binding, error) {
	ctx, span := tracer.Start(ctx, "binding.RequestLogin")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	b, server, account, err := s.load(ctx, bindingID)
	if err != nil {
		return domain.Binding{}, err
	}
	if err := workflow.ValidateBindingTransition("request_login", b.Step, traceID); err != nil {
		return domain.Binding{}, err
	}

	effectivePIN := pin
	if effectivePIN == nil || *effectivePIN == "" {
		effectivePIN = account.PIN
	}
	if effectivePIN == nil || *effectivePIN == "" {
		return domain.Binding{}, domain.NewValidationError("account_pin_missing",
			"no pin supplied and account has none on file", traceID)
	}

	resp, err := s.Provider(server).RequestOTP(ctx, account.MSISDN, *effectivePIN)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.request_login.request_otp: %w", err)
	}
	if resp.Status != "0" {
		return domain.Binding{}, domain.NewExternalServiceError("binding_request_login_failed",
			fmt.Sprintf("provider rejected OTP request: status=%s msg=%s", resp.Status, resp.StatusMsg), traceID)
	}

	b.Step = domain.BindingOTPRequested
	if err := s.Bindings.Update(ctx, b); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.request_login.update: %w", err)
	}
	return b, nil
}

// VerifyLoginAndReseller verifies the login OTP, captures the login token,
// then fetches balance/token_location/products to populate the binding.
func (s *Service) VerifyLoginAndReseller(ctx domain.Context, bindingID int64, otp string) (domain.Binding, error) {
	ctx, span := tracer.Start(ctx, "binding.VerifyLoginAndReseller")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	b, server, account, err := s.load(ctx, bindingID)
	if err != nil {
		return domain.Binding{}, err
	}
	if err := workflow.ValidateBindingTransition("verify_login", b.Step, traceID); err != nil {
		return domain.Binding{}, err
	}

	b.Step = domain.BindingOTPVerification
	if err := s.Bindings.Update(ctx, b); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.verify_login.mark_verifying: %w", err)
	}

	provider := s.Provider(server)
	resp, err := provider.VerifyOTP(ctx, account.MSISDN, otp)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.verify_login.verify_otp: %w", err)
	}
	if !domain.IsLoginOTPSuccess(resp, true) {
		return domain.Binding{}, domain.NewExternalServiceError("binding_verify_login_failed",
			fmt.Sprintf("login OTP verification failed: status=%s data_status=%s", resp.Status, resp.DataStatus), traceID)
	}

	tokenLogin := resp.TokenID
	b.Step = domain.BindingOTPVerified
	b.TokenLogin = &tokenLogin
	if err := s.Bindings.Update(ctx, b); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.verify_login.store_token: %w", err)
	}
	b.Step = domain.BindingTokenLoginFetched
	if err := s.Bindings.Update(ctx, b); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.verify_login.mark_fetched: %w", err)
	}

	balResp, err := provider.GetBalancePulsa(ctx, account.MSISDN)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.verify_login.get_balance: %w", err)
	}
	locResp, err := provider.GetTokenLocation3(ctx, account.MSISDN)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.verify_login.get_token_location: %w", err)
	}
	prodResp, err := provider.ListProduk(ctx, account.MSISDN)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.verify_login.list_produk: %w", err)
	}

	isReseller := domain.IsResellerProduk(prodResp)
	deviceID := locResp.DeviceID
	if deviceID == "" {
		deviceID = prodResp.DeviceID
	}

	now := time.Now().UTC()
	if b.BalanceStart == nil {
		b.BalanceStart = balResp.Balance
	}
	b.BalanceLast = balResp.Balance
	b.TokenLocation = &locResp.Token
	b.TokenLocationRefreshedAt = &now
	b.IsReseller = isReseller
	if deviceID != "" {
		b.DeviceID = &deviceID
	}
	if err := s.Bindings.Update(ctx, b); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.verify_login.persist: %w", err)
	}

	account.BalanceLast = balResp.Balance
	account.IsReseller = isReseller
	if deviceID != "" {
		account.LastDeviceID = &deviceID
	}
	if err := s.Accounts.Update(ctx, account); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.verify_login.mirror_account: %w", err)
	}
	return b, nil
}

// CheckBalance re-fetches balance from the provider and persists it.
func (s *Service) CheckBalance(ctx domain.Context, bindingID int64) (domain.Binding, error) {
	ctx, span := tracer.Start(ctx, "binding.CheckBalance")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	b, server, account, err := s.load(ctx, bindingID)
	if err != nil {
		return domain.Binding{}, err
	}
	if err := workflow.ValidateBindingTransition("check_balance", b.Step, traceID); err != nil {
		return domain.Binding{}, err
	}
	resp, err := s.Provider(server).GetBalancePulsa(ctx, account.MSISDN)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.check_balance: %w", err)
	}
	b.BalanceLast = resp.Balance
	if err := s.Bindings.Update(ctx, b); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.check_balance.persist: %w", err)
	}
	return b, nil
}

// RefreshTokenLocation re-fetches token_location3 from the provider and persists it.
func (s *Service) RefreshTokenLocation(ctx domain.Context, bindingID int64) (domain.Binding, error) {
	ctx, span := tracer.Start(ctx, "binding.RefreshTokenLocation")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	b, server, account, err := s.load(ctx, bindingID)
	if err != nil {
		return domain.Binding{}, err
	}
	if err := workflow.ValidateBindingTransition("refresh_token_location", b.Step, traceID); err != nil {
		return domain.Binding{}, err
	}
	resp, err := s.Provider(server).GetTokenLocation3(ctx, account.MSISDN)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.refresh_token_location: %w", err)
	}
	now := time.Now().UTC()
	b.TokenLocation = &resp.Token
	b.TokenLocationRefreshedAt = &now
	if err := s.Bindings.Update(ctx, b); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.refresh_token_location.persist: %w", err)
	}
	return b, nil
}

// VerifyReseller re-fetches list_produk from the provider and persists the
// derived is_reseller flag.
func (s *Service) VerifyReseller(ctx domain.Context, bindingID int64) (domain.Binding, error) {
	ctx, span := tracer.Start(ctx, "binding.VerifyReseller")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	b, server, account, err := s.load(ctx, bindingID)
	if err != nil {
		return domain.Binding{}, err
	}
	if err := workflow.ValidateBindingTransition("verify_reseller", b.Step, traceID); err != nil {
		return domain.Binding{}, err
	}
	resp, err := s.Provider(server).ListProduk(ctx, account.MSISDN)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.verify_reseller: %w", err)
	}
	b.IsReseller = domain.IsResellerProduk(resp)
	if err := s.Bindings.Update(ctx, b); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.verify_reseller.persist: %w", err)
	}
	return b, nil
}

// LogoutBinding unbinds a binding and updates the account's terminal status.
func (s *Service) LogoutBinding(ctx domain.Context, bindingID int64, lastErrorCode, lastErrorMessage *string, accountStatus *domain.AccountStatus) (domain.Binding, error) {
	ctx, span := tracer.Start(ctx, "binding.LogoutBinding")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	b, _, account, err := s.load(ctx, bindingID)
	if err != nil {
		return domain.Binding{}, err
	}
	if err := workflow.ValidateBindingTransition("logout", b.Step, traceID); err != nil {
		return domain.Binding{}, err
	}

	now := time.Now().UTC()
	b.Step = domain.BindingLoggedOut
	b.UnboundAt = &now
	if lastErrorCode != nil {
		b.LastErrorCode = lastErrorCode
	}
	if lastErrorMessage != nil {
		b.LastErrorMessage = lastErrorMessage
	}
	if err := s.Bindings.Update(ctx, b); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.logout.persist: %w", err)
	}

	newStatus := domain.AccountExhausted
	if accountStatus != nil {
		newStatus = *accountStatus
	}
	account.Status = newStatus
	if err := s.Accounts.Update(ctx, account); err != nil {
		return domain.Binding{}, fmt.Errorf("op=binding.logout.update_account: %w", err)
	}
	return b, nil
}

func (s *Service) load(ctx domain.Context, bindingID int64) (domain.Binding, domain.ServerInstance, domain.Account, error) {
	b, err := s.Bindings.Get(ctx, bindingID)
	if err != nil {
		return domain.Binding{}, domain.ServerInstance{}, domain.Account{}, fmt.Errorf("op=binding.load.get_binding: %w", err)
	}
	server, err := s.Servers.Get(ctx, b.ServerID)
	if err != nil {
		return domain.Binding{}, domain.ServerInstance{}, domain.Account{}, fmt.Errorf("op=binding.load.get_server: %w", err)
	}
	account, err := s.Accounts.Get(ctx, b.AccountID)
	if err != nil {
		return domain.Binding{}, domain.ServerInstance{}, domain.Account{}, fmt.Errorf("op=binding.load.get_account: %w", err)
	}
	return b, server, account, nil
}
