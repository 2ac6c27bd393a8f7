// Package transaction implements the transaction service (C6): the
// transaction lifecycle, precheck-before-start, and pause/resume/stop/
// auto-decide operations that drive the per-binding worker cycle.
package transaction

import (
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
	"github.com/hasanmaki/mkit-idv-next/internal/workflow"
)

// Action is the outcome of an auto-decide cycle.
type Action string

// Auto-decide action values.
const (
	ActionContinued Action = "continued"
	ActionStopped   Action = "stopped"
)

// Service implements the transaction lifecycle operations of §4.4.
type Service struct {
	Transactions domain.TransactionRepository
	Bindings     domain.BindingRepository
	Accounts     domain.AccountRepository
	Servers      domain.ServerRepository
	Provider     func(server domain.ServerInstance) domain.ProviderAdapter
}

// New constructs a transaction Service.
func New(transactions domain.TransactionRepository, bindings domain.BindingRepository, accounts domain.AccountRepository,
	servers domain.ServerRepository, provider func(domain.ServerInstance) domain.ProviderAdapter) *Service {
	return &Service{Transactions: transactions, Bindings: bindings, Accounts: accounts, Servers: servers, Provider: provider}
}

var tracer = otel.Tracer("service.transaction")

// StartTransaction runs the full start sequence: binding step check,
// pre-order balance precheck, order placement, and an immediate status poll.
func (s *Service) StartTransaction(ctx domain.Context, bindingID int64, productID, email string, limitHarga int64) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "transaction.StartTransaction")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	b, server, account, err := s.loadBinding(ctx, bindingID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := workflow.ValidateBindingTransition("start_transaction", b.Step, traceID); err != nil {
		return domain.Transaction{}, err
	}
	provider := s.Provider(server)

	balResp, err := provider.GetBalancePulsa(ctx, account.MSISDN)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.start.precheck_balance: %w", err)
	}
	if balResp.Balance != nil && limitHarga > 0 && *balResp.Balance < limitHarga {
		return s.precheckStop(ctx, b, account, server, limitHarga, *balResp.Balance, productID, email, traceID)
	}

	orderResp, err := provider.TrxVoucherIDV(ctx, account.MSISDN, productID, email, limitHarga)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.start.place_order: %w", err)
	}
	trxID, tID, isSuccess := domain.ExtractOrder(orderResp)
	if trxID == "" {
		return domain.Transaction{}, domain.NewValidationError("transaction_trx_id_missing",
			"provider order response did not include a trx_id", traceID)
	}

	otpRequired := true
	if account.LastDeviceID != nil && b.DeviceID != nil {
		otpRequired = *account.LastDeviceID != *b.DeviceID
	}

	var tidPtr *string
	if tID != "" {
		tidPtr = &tID
	}
	txn := domain.Transaction{
		TrxID: trxID, TID: tidPtr, ServerID: server.ID, AccountID: account.ID, BindingID: b.ID,
		BatchID: b.BatchID, DeviceID: b.DeviceID, ProductID: productID, Email: email, LimitHarga: limitHarga,
		Status: domain.TxProcessing, IsSuccess: isSuccess, OTPRequired: otpRequired,
	}
	snap := domain.TransactionSnapshot{BalanceStart: balResp.Balance, TrxIDVRaw: orderResp.Raw}

	id, err := s.Transactions.Create(ctx, txn, snap)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.start.persist: %w", err)
	}
	txn.ID = id

	return s.pollStatusAfterStart(ctx, txn, account, provider, traceID)
}

func (s *Service) precheckStop(ctx domain.Context, b domain.Binding, account domain.Account, server domain.ServerInstance,
	limitHarga, balance int64, productID, email, traceID string) (domain.Transaction, error) {
	now := time.Now().UTC()
	errMsg := fmt.Sprintf("insufficient_balance_before_start: %d < %d", balance, limitHarga)
	txn := domain.Transaction{
		TrxID: fmt.Sprintf("precheck-%d-%d", b.ID, now.UnixMilli()),
		ServerID: server.ID, AccountID: account.ID, BindingID: b.ID, BatchID: b.BatchID, DeviceID: b.DeviceID,
		ProductID: productID, Email: email, LimitHarga: limitHarga,
		Status: domain.TxGagal, ErrorMessage: &errMsg,
	}
	snap := domain.TransactionSnapshot{
		BalanceStart: &balance, BalanceEnd: &balance,
		StatusIDVRaw: `{"precheck_result":"stopped_insufficient_balance"}`,
	}
	id, err := s.Transactions.Create(ctx, txn, snap)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.start.precheck_persist: %w", err)
	}
	txn.ID = id
	_ = traceID
	return txn, nil
}

func (s *Service) pollStatusAfterStart(ctx domain.Context, txn domain.Transaction, account domain.Account,
	provider domain.ProviderAdapter, traceID string) (domain.Transaction, error) {
	statusResp, err := provider.StatusTrx(ctx, account.MSISDN, txn.TrxID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.start.status_trx: %w", err)
	}
	isSuccess, voucher := domain.ExtractStatus(statusResp)
	txn.Status = domain.FinalStatus(isSuccess, voucher, true)
	txn.IsSuccess = isSuccess
	if voucher != "" {
		txn.VoucherCode = &voucher
	}
	if txn.Status == domain.TxProcessing {
		pending := domain.OTPPending
		txn.OTPStatus = &pending
	}
	if err := s.Transactions.Update(ctx, txn); err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.start.persist_status: %w", err)
	}

	balResp, err := provider.GetBalancePulsa(ctx, account.MSISDN)
	if err == nil {
		snap, serr := s.Transactions.GetSnapshot(ctx, txn.ID)
		if serr == nil {
			snap.BalanceEnd = balResp.Balance
			snap.StatusIDVRaw = statusResp.Raw
			_ = s.Transactions.UpdateSnapshot(ctx, snap)
		}
	}
	return txn, nil
}

// SubmitOTP submits the transaction OTP, re-polls status, and mirrors the
// device id onto the account on OTP success.
func (s *Service) SubmitOTP(ctx domain.Context, transactionID int64, otp string) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "transaction.SubmitOTP")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	txn, b, account, server, err := s.load(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := workflow.ValidateTransactionTransition("submit_otp", txn.Status, traceID); err != nil {
		return domain.Transaction{}, err
	}
	provider := s.Provider(server)

	otpResp, err := provider.OTPTrx(ctx, account.MSISDN, otp)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.submit_otp.otp_trx: %w", err)
	}

	statusResp, err := provider.StatusTrx(ctx, account.MSISDN, txn.TrxID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.submit_otp.status_trx: %w", err)
	}
	isSuccess, voucher := domain.ExtractStatus(statusResp)
	txn.Status = domain.FinalStatus(isSuccess, voucher, false)
	txn.IsSuccess = isSuccess
	if voucher != "" {
		txn.VoucherCode = &voucher
	}

	otpOK := otpResp.Status == "0"
	otpStatus := domain.OTPFailed
	if otpOK {
		otpStatus = domain.OTPSuccess
		if b.DeviceID != nil {
			account.LastDeviceID = b.DeviceID
			if err := s.Accounts.Update(ctx, account); err != nil {
				return domain.Transaction{}, fmt.Errorf("op=transaction.submit_otp.mirror_device: %w", err)
			}
		}
	}
	txn.OTPStatus = &otpStatus

	if err := s.Transactions.Update(ctx, txn); err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.submit_otp.persist: %w", err)
	}

	snap, err := s.Transactions.GetSnapshot(ctx, txn.ID)
	if err == nil {
		snap.StatusIDVRaw = statusResp.Raw
		_ = s.Transactions.UpdateSnapshot(ctx, snap)
	}
	return txn, nil
}

// ContinueTransaction re-polls status and persists the result.
func (s *Service) ContinueTransaction(ctx domain.Context, transactionID int64) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "transaction.ContinueTransaction")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	txn, _, account, server, err := s.load(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := workflow.ValidateTransactionTransition("continue_transaction", txn.Status, traceID); err != nil {
		return domain.Transaction{}, err
	}

	statusResp, err := s.Provider(server).StatusTrx(ctx, account.MSISDN, txn.TrxID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.continue.status_trx: %w", err)
	}
	isSuccess, voucher := domain.ExtractStatus(statusResp)
	txn.Status = domain.FinalStatus(isSuccess, voucher, true)
	txn.IsSuccess = isSuccess
	if voucher != "" {
		txn.VoucherCode = &voucher
	}
	if err := s.Transactions.Update(ctx, txn); err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.continue.persist: %w", err)
	}
	snap, err := s.Transactions.GetSnapshot(ctx, txn.ID)
	if err == nil {
		snap.StatusIDVRaw = statusResp.Raw
		_ = s.Transactions.UpdateSnapshot(ctx, snap)
	}
	return txn, nil
}

// CheckBalanceAndContinueOrStop fetches the current balance; if it has
// fallen below limit_harga it stops the transaction, otherwise it continues.
func (s *Service) CheckBalanceAndContinueOrStop(ctx domain.Context, transactionID int64) (domain.Transaction, Action, error) {
	ctx, span := tracer.Start(ctx, "transaction.CheckBalanceAndContinueOrStop")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	txn, _, account, server, err := s.load(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, "", err
	}
	if err := workflow.ValidateTransactionTransition("check_balance_and_continue_or_stop", txn.Status, traceID); err != nil {
		return domain.Transaction{}, "", err
	}

	balResp, err := s.Provider(server).GetBalancePulsa(ctx, account.MSISDN)
	if err != nil {
		return domain.Transaction{}, "", fmt.Errorf("op=transaction.check_balance.get_balance: %w", err)
	}
	if balResp.Balance != nil && *balResp.Balance < txn.LimitHarga {
		reason := "auto_stop_balance_insufficient: " + strconv.FormatInt(*balResp.Balance, 10) + " < " + strconv.FormatInt(txn.LimitHarga, 10)
		stopped, err := s.StopTransaction(ctx, transactionID, &reason)
		return stopped, ActionStopped, err
	}
	continued, err := s.ContinueTransaction(ctx, transactionID)
	return continued, ActionContinued, err
}

// PauseTransaction pauses a transaction and records the reason.
func (s *Service) PauseTransaction(ctx domain.Context, transactionID int64, reason string) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "transaction.PauseTransaction")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	txn, err := s.Transactions.Get(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.pause.get: %w", err)
	}
	if err := workflow.ValidateTransactionTransition("pause_transaction", txn.Status, traceID); err != nil {
		return domain.Transaction{}, err
	}
	now := time.Now().UTC()
	txn.Status = domain.TxPaused
	txn.PausedAt = &now
	txn.PauseReason = &reason
	if err := s.Transactions.Update(ctx, txn); err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.pause.persist: %w", err)
	}
	return txn, nil
}

// ResumeTransaction checks balance is still sufficient then resumes.
func (s *Service) ResumeTransaction(ctx domain.Context, transactionID int64) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "transaction.ResumeTransaction")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	txn, _, account, server, err := s.load(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := workflow.ValidateTransactionTransition("resume_transaction", txn.Status, traceID); err != nil {
		return domain.Transaction{}, err
	}

	balResp, err := s.Provider(server).GetBalancePulsa(ctx, account.MSISDN)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.resume.get_balance: %w", err)
	}
	if balResp.Balance == nil {
		return domain.Transaction{}, domain.NewExternalServiceError("balance_check_failed",
			"provider did not return a balance", traceID)
	}
	if *balResp.Balance < txn.LimitHarga {
		return domain.Transaction{}, domain.NewValidationError("insufficient_balance",
			fmt.Sprintf("balance %d below limit_harga %d", *balResp.Balance, txn.LimitHarga), traceID)
	}

	now := time.Now().UTC()
	txn.Status = domain.TxResumed
	txn.ResumedAt = &now
	if err := s.Transactions.Update(ctx, txn); err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.resume.persist: %w", err)
	}
	return txn, nil
}

// StopTransaction forces a transaction to GAGAL, clearing the voucher and OTP status.
func (s *Service) StopTransaction(ctx domain.Context, transactionID int64, reason *string) (domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "transaction.StopTransaction")
	defer span.End()
	traceID := observability.TraceIDFromContext(ctx)

	txn, err := s.Transactions.Get(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.stop.get: %w", err)
	}
	if err := workflow.ValidateTransactionTransition("stop_transaction", txn.Status, traceID); err != nil {
		return domain.Transaction{}, err
	}
	txn.Status = domain.TxGagal
	txn.VoucherCode = nil
	txn.OTPStatus = nil
	if reason != nil {
		txn.ErrorMessage = reason
	}
	if err := s.Transactions.Update(ctx, txn); err != nil {
		return domain.Transaction{}, fmt.Errorf("op=transaction.stop.persist: %w", err)
	}
	return txn, nil
}

func (s *Service) loadBinding(ctx domain.Context, bindingID int64) (domain.Binding, domain.ServerInstance, domain.Account, error) {
	b, err := s.Bindings.Get(ctx, bindingID)
	if err != nil {
		return domain.Binding{}, domain.ServerInstance{}, domain.Account{}, fmt.Errorf("op=transaction.load_binding.get_binding: %w", err)
	}
	server, err := s.Servers.Get(ctx, b.ServerID)
	if err != nil {
		return domain.Binding{}, domain.ServerInstance{}, domain.Account{}, fmt.Errorf("op=transaction.load_binding.get_server: %w", err)
	}
	account, err := s.Accounts.Get(ctx, b.AccountID)
	if err != nil {
		return domain.Binding{}, domain.ServerInstance{}, domain.Account{}, fmt.Errorf("op=transaction.load_binding.get_account: %w", err)
	}
	return b, server, account, nil
}

func (s *Service) load(ctx domain.Context, transactionID int64) (domain.Transaction, domain.Binding, domain.Account, domain.ServerInstance, error) {
	txn, err := s.Transactions.Get(ctx, transactionID)
	if err != nil {
		return domain.Transaction{}, domain.Binding{}, domain.Account{}, domain.ServerInstance{}, fmt.Errorf("op=transaction.load.get: %w", err)
	}
	b, server, account, err := s.loadBinding(ctx, txn.BindingID)
	if err != nil {
		return domain.Transaction{}, domain.Binding{}, domain.Account{}, domain.ServerInstance{}, err
	}
	return txn, b, account, server, nil
}
