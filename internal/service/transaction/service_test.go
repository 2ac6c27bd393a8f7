package transaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

type fakeTxnRepo struct {
	txns  map[int64]domain.Transaction
	snaps map[int64]domain.TransactionSnapshot
	next  int64
}

func newFakeTxnRepo() *fakeTxnRepo {
	return &fakeTxnRepo{txns: map[int64]domain.Transaction{}, snaps: map[int64]domain.TransactionSnapshot{}}
}

func (f *fakeTxnRepo) Create(_ domain.Context, t domain.Transaction, snap domain.TransactionSnapshot) (int64, error) {
	f.next++
	t.ID = f.next
	f.txns[t.ID] = t
	snap.TransactionID = t.ID
	f.snaps[t.ID] = snap
	return t.ID, nil
}
func (f *fakeTxnRepo) Get(_ domain.Context, id int64) (domain.Transaction, error) {
	t, ok := f.txns[id]
	if !ok {
		return domain.Transaction{}, domain.NewNotFoundError("transaction_not_found", "no such transaction", "")
	}
	return t, nil
}
func (f *fakeTxnRepo) List(domain.Context, domain.TransactionFilter) ([]domain.Transaction, error) { return nil, nil }
func (f *fakeTxnRepo) Update(_ domain.Context, t domain.Transaction) error {
	f.txns[t.ID] = t
	return nil
}
func (f *fakeTxnRepo) UpdateStatus(_ domain.Context, id int64, status domain.TransactionStatus) error {
	t := f.txns[id]
	t.Status = status
	f.txns[id] = t
	return nil
}
func (f *fakeTxnRepo) Delete(_ domain.Context, id int64) error { delete(f.txns, id); return nil }
func (f *fakeTxnRepo) GetSnapshot(_ domain.Context, transactionID int64) (domain.TransactionSnapshot, error) {
	return f.snaps[transactionID], nil
}
func (f *fakeTxnRepo) UpdateSnapshot(_ domain.Context, s domain.TransactionSnapshot) error {
	f.snaps[s.TransactionID] = s
	return nil
}

type fakeBindingRepo struct{ b domain.Binding }

func (f *fakeBindingRepo) Create(domain.Context, domain.Binding) (int64, error) { return 0, nil }
func (f *fakeBindingRepo) Get(domain.Context, int64) (domain.Binding, error)    { return f.b, nil }
func (f *fakeBindingRepo) List(domain.Context, domain.BindingFilter) ([]domain.Binding, error) {
	return nil, nil
}
func (f *fakeBindingRepo) Update(_ domain.Context, b domain.Binding) error { f.b = b; return nil }
func (f *fakeBindingRepo) GetActiveByServer(domain.Context, int64) (domain.Binding, bool, error) {
	return domain.Binding{}, false, nil
}
func (f *fakeBindingRepo) GetActiveByAccount(domain.Context, int64) (domain.Binding, bool, error) {
	return domain.Binding{}, false, nil
}
func (f *fakeBindingRepo) View(domain.Context, int64) (domain.BindingView, error) {
	return domain.BindingView{}, nil
}

type fakeAccountRepo struct{ a domain.Account }

func (f *fakeAccountRepo) Create(domain.Context, domain.Account) (int64, error) { return 0, nil }
func (f *fakeAccountRepo) Get(domain.Context, int64) (domain.Account, error)    { return f.a, nil }
func (f *fakeAccountRepo) GetByMSISDNBatch(domain.Context, string, string) (domain.Account, error) {
	return f.a, nil
}
func (f *fakeAccountRepo) List(domain.Context, domain.AccountFilter) ([]domain.Account, error) {
	return nil, nil
}
func (f *fakeAccountRepo) Update(_ domain.Context, a domain.Account) error { f.a = a; return nil }
func (f *fakeAccountRepo) Delete(domain.Context, int64) error             { return nil }
func (f *fakeAccountRepo) DeleteByMSISDNBatch(domain.Context, string, string) error { return nil }
func (f *fakeAccountRepo) IncrementUsage(domain.Context, int64, *string) error      { return nil }

type fakeServerRepo struct{ s domain.ServerInstance }

func (f *fakeServerRepo) Create(domain.Context, domain.ServerInstance) (int64, error) { return 0, nil }
func (f *fakeServerRepo) Get(domain.Context, int64) (domain.ServerInstance, error)    { return f.s, nil }
func (f *fakeServerRepo) List(domain.Context, domain.ServerFilter) ([]domain.ServerInstance, error) {
	return []domain.ServerInstance{f.s}, nil
}
func (f *fakeServerRepo) Update(domain.Context, domain.ServerInstance) error       { return nil }
func (f *fakeServerRepo) UpdateStatus(domain.Context, int64, bool) error           { return nil }
func (f *fakeServerRepo) Delete(domain.Context, int64) error                      { return nil }
func (f *fakeServerRepo) HasActiveBinding(domain.Context, int64) (bool, error)     { return false, nil }

// fakeProvider implements domain.ProviderAdapter with scripted responses.
type fakeProvider struct {
	balance    *int64
	orderResp  domain.ProviderResponse
	statusResp domain.ProviderResponse
	otpResp    domain.ProviderResponse
}

func (f *fakeProvider) RequestOTP(domain.Context, string, string) (domain.ProviderResponse, error) {
	return domain.ProviderResponse{}, nil
}
func (f *fakeProvider) VerifyOTP(domain.Context, string, string) (domain.ProviderResponse, error) {
	return domain.ProviderResponse{}, nil
}
func (f *fakeProvider) Logout(domain.Context, string) (domain.ProviderResponse, error) {
	return domain.ProviderResponse{}, nil
}
func (f *fakeProvider) GetBalancePulsa(domain.Context, string) (domain.ProviderResponse, error) {
	return domain.ProviderResponse{Balance: f.balance}, nil
}
func (f *fakeProvider) GetTokenLocation3(domain.Context, string) (domain.ProviderResponse, error) {
	return domain.ProviderResponse{}, nil
}
func (f *fakeProvider) ListProduk(domain.Context, string) (domain.ProviderResponse, error) {
	return domain.ProviderResponse{}, nil
}
func (f *fakeProvider) TrxVoucherIDV(domain.Context, string, string, string, int64) (domain.ProviderResponse, error) {
	return f.orderResp, nil
}
func (f *fakeProvider) OTPTrx(domain.Context, string, string) (domain.ProviderResponse, error) {
	return f.otpResp, nil
}
func (f *fakeProvider) StatusTrx(domain.Context, string, string) (domain.ProviderResponse, error) {
	return f.statusResp, nil
}

func newTestService(balance int64, order, status domain.ProviderResponse) (*Service, *fakeTxnRepo, *fakeBindingRepo, *fakeAccountRepo) {
	txns := newFakeTxnRepo()
	deviceID := "dev-1"
	bindings := &fakeBindingRepo{b: domain.Binding{ID: 1, ServerID: 1, AccountID: 1, BatchID: "b1", Step: domain.BindingTokenLoginFetched, DeviceID: &deviceID}}
	accounts := &fakeAccountRepo{a: domain.Account{ID: 1, MSISDN: "0811", BatchID: "b1"}}
	servers := &fakeServerRepo{s: domain.ServerInstance{ID: 1, Port: 9000}}
	provider := &fakeProvider{balance: &balance, orderResp: order, statusResp: status}
	svc := New(txns, bindings, accounts, servers, func(domain.ServerInstance) domain.ProviderAdapter { return provider })
	return svc, txns, bindings, accounts
}

func TestStartTransaction_PrecheckStop_InsufficientBalance(t *testing.T) {
	svc, _, _, _ := newTestService(500, domain.ProviderResponse{}, domain.ProviderResponse{})

	txn, err := svc.StartTransaction(context.Background(), 1, "prod-1", "a@b.com", 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.TxGagal, txn.Status)
	assert.Contains(t, txn.TrxID, "precheck-1-")
	require.NotNil(t, txn.ErrorMessage)
	assert.Contains(t, *txn.ErrorMessage, "insufficient_balance_before_start")
}

func TestStartTransaction_PlacesOrderAndPolls_Processing(t *testing.T) {
	isSuccess := 0
	order := domain.ProviderResponse{TrxID: "trx-123", TID: "t-1", IsSuccess: &isSuccess}
	status := domain.ProviderResponse{IsSuccess: &isSuccess}
	svc, _, _, _ := newTestService(5000, order, status)

	txn, err := svc.StartTransaction(context.Background(), 1, "prod-1", "a@b.com", 1000)
	require.NoError(t, err)
	assert.Equal(t, "trx-123", txn.TrxID)
	assert.Equal(t, domain.TxProcessing, txn.Status)
	require.NotNil(t, txn.OTPStatus)
	assert.Equal(t, domain.OTPPending, *txn.OTPStatus)
}

func TestStartTransaction_PlacesOrderAndPolls_ImmediateSuccess(t *testing.T) {
	isSuccess := 2
	order := domain.ProviderResponse{TrxID: "trx-123", IsSuccess: &isSuccess}
	status := domain.ProviderResponse{IsSuccess: &isSuccess, Voucher: "VCODE"}
	svc, _, _, _ := newTestService(5000, order, status)

	txn, err := svc.StartTransaction(context.Background(), 1, "prod-1", "a@b.com", 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.TxSukses, txn.Status)
	require.NotNil(t, txn.VoucherCode)
	assert.Equal(t, "VCODE", *txn.VoucherCode)
}

func TestStartTransaction_MissingTrxID_Rejected(t *testing.T) {
	svc, _, _, _ := newTestService(5000, domain.ProviderResponse{}, domain.ProviderResponse{})
	_, err := svc.StartTransaction(context.Background(), 1, "prod-1", "a@b.com", 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStartTransaction_WrongBindingStep_Rejected(t *testing.T) {
	svc, _, bindings, _ := newTestService(5000, domain.ProviderResponse{}, domain.ProviderResponse{})
	b := bindings.b
	b.Step = domain.BindingBound
	bindings.b = b

	_, err := svc.StartTransaction(context.Background(), 1, "prod-1", "a@b.com", 1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSubmitOTP_Success_MirrorsDeviceID(t *testing.T) {
	isSuccess := 2
	svc, txns, _, accounts := newTestService(5000, domain.ProviderResponse{}, domain.ProviderResponse{})
	id, err := txns.Create(context.Background(), domain.Transaction{TrxID: "trx-1", BindingID: 1, Status: domain.TxProcessing}, domain.TransactionSnapshot{})
	require.NoError(t, err)

	provider := svc.Provider(domain.ServerInstance{}).(*fakeProvider)
	provider.otpResp = domain.ProviderResponse{Status: "0"}
	provider.statusResp = domain.ProviderResponse{IsSuccess: &isSuccess, Voucher: "VCODE"}

	txn, err := svc.SubmitOTP(context.Background(), id, "123456")
	require.NoError(t, err)
	assert.Equal(t, domain.TxSukses, txn.Status)
	require.NotNil(t, txn.OTPStatus)
	assert.Equal(t, domain.OTPSuccess, *txn.OTPStatus)
	assert.NotNil(t, accounts.a.LastDeviceID)
}

func TestCheckBalanceAndContinueOrStop_StopsWhenBelowLimit(t *testing.T) {
	svc, txns, _, _ := newTestService(100, domain.ProviderResponse{}, domain.ProviderResponse{})
	isSuccess := 0
	id, err := txns.Create(context.Background(), domain.Transaction{TrxID: "trx-1", BindingID: 1, Status: domain.TxProcessing, LimitHarga: 1000}, domain.TransactionSnapshot{})
	require.NoError(t, err)
	provider := svc.Provider(domain.ServerInstance{}).(*fakeProvider)
	provider.statusResp = domain.ProviderResponse{IsSuccess: &isSuccess}

	txn, action, err := svc.CheckBalanceAndContinueOrStop(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ActionStopped, action)
	assert.Equal(t, domain.TxGagal, txn.Status)
}

func TestCheckBalanceAndContinueOrStop_ContinuesWhenSufficient(t *testing.T) {
	svc, txns, _, _ := newTestService(5000, domain.ProviderResponse{}, domain.ProviderResponse{})
	isSuccess := 0
	id, err := txns.Create(context.Background(), domain.Transaction{TrxID: "trx-1", BindingID: 1, Status: domain.TxProcessing, LimitHarga: 1000}, domain.TransactionSnapshot{})
	require.NoError(t, err)
	provider := svc.Provider(domain.ServerInstance{}).(*fakeProvider)
	provider.statusResp = domain.ProviderResponse{IsSuccess: &isSuccess}

	txn, action, err := svc.CheckBalanceAndContinueOrStop(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ActionContinued, action)
	assert.Equal(t, domain.TxProcessing, txn.Status)
}

func TestPauseThenResumeTransaction(t *testing.T) {
	svc, txns, _, _ := newTestService(5000, domain.ProviderResponse{}, domain.ProviderResponse{})
	id, err := txns.Create(context.Background(), domain.Transaction{TrxID: "trx-1", BindingID: 1, Status: domain.TxProcessing, LimitHarga: 1000}, domain.TransactionSnapshot{})
	require.NoError(t, err)

	paused, err := svc.PauseTransaction(context.Background(), id, "operator_requested")
	require.NoError(t, err)
	assert.Equal(t, domain.TxPaused, paused.Status)
	require.NotNil(t, paused.PauseReason)
	assert.Equal(t, "operator_requested", *paused.PauseReason)

	resumed, err := svc.ResumeTransaction(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TxResumed, resumed.Status)
}

func TestResumeTransaction_InsufficientBalance_Rejected(t *testing.T) {
	svc, txns, _, _ := newTestService(100, domain.ProviderResponse{}, domain.ProviderResponse{})
	id, err := txns.Create(context.Background(), domain.Transaction{TrxID: "trx-1", BindingID: 1, Status: domain.TxPaused, LimitHarga: 1000}, domain.TransactionSnapshot{})
	require.NoError(t, err)

	_, err = svc.ResumeTransaction(context.Background(), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStopTransaction_ClearsVoucherAndOTP(t *testing.T) {
	svc, txns, _, _ := newTestService(5000, domain.ProviderResponse{}, domain.ProviderResponse{})
	voucher := "VCODE"
	otpStatus := domain.OTPSuccess
	id, err := txns.Create(context.Background(), domain.Transaction{
		TrxID: "trx-1", BindingID: 1, Status: domain.TxProcessing, VoucherCode: &voucher, OTPStatus: &otpStatus,
	}, domain.TransactionSnapshot{})
	require.NoError(t, err)

	reason := "manual_stop"
	txn, err := svc.StopTransaction(context.Background(), id, &reason)
	require.NoError(t, err)
	assert.Equal(t, domain.TxGagal, txn.Status)
	assert.Nil(t, txn.VoucherCode)
	assert.Nil(t, txn.OTPStatus)
	require.NotNil(t, txn.ErrorMessage)
	assert.Equal(t, "manual_stop", *txn.ErrorMessage)
}
