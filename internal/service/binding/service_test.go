package binding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

type fakeBindingRepo struct {
	byID          map[int64]domain.Binding
	activeServer  map[int64]bool
	activeAccount map[int64]bool
	next          int64
}

func newFakeBindingRepo() *fakeBindingRepo {
	return &fakeBindingRepo{byID: map[int64]domain.Binding{}, activeServer: map[int64]bool{}, activeAccount: map[int64]bool{}}
}

func (f *fakeBindingRepo) Create(_ domain.Context, b domain.Binding) (int64, error) {
	f.next++
	b.ID = f.next
	f.byID[b.ID] = b
	f.activeServer[b.ServerID] = true
	f.activeAccount[b.AccountID] = true
	return b.ID, nil
}
func (f *fakeBindingRepo) Get(_ domain.Context, id int64) (domain.Binding, error) {
	b, ok := f.byID[id]
	if !ok {
		return domain.Binding{}, domain.NewNotFoundError("binding_not_found", "no such binding", "")
	}
	return b, nil
}
func (f *fakeBindingRepo) List(domain.Context, domain.BindingFilter) ([]domain.Binding, error) { return nil, nil }
func (f *fakeBindingRepo) Update(_ domain.Context, b domain.Binding) error {
	f.byID[b.ID] = b
	return nil
}
func (f *fakeBindingRepo) GetActiveByServer(_ domain.Context, serverID int64) (domain.Binding, bool, error) {
	return domain.Binding{}, f.activeServer[serverID], nil
}
func (f *fakeBindingRepo) GetActiveByAccount(_ domain.Context, accountID int64) (domain.Binding, bool, error) {
	return domain.Binding{}, f.activeAccount[accountID], nil
}
func (f *fakeBindingRepo) View(domain.Context, int64) (domain.BindingView, error) { return domain.BindingView{}, nil }

type fakeAccountRepo struct{ byID map[int64]domain.Account }

func newFakeAccountRepo(accounts ...domain.Account) *fakeAccountRepo {
	m := map[int64]domain.Account{}
	for _, a := range accounts {
		m[a.ID] = a
	}
	return &fakeAccountRepo{byID: m}
}
func (f *fakeAccountRepo) Create(domain.Context, domain.Account) (int64, error) { return 0, nil }
func (f *fakeAccountRepo) Get(_ domain.Context, id int64) (domain.Account, error) {
	a, ok := f.byID[id]
	if !ok {
		return domain.Account{}, domain.NewNotFoundError("account_not_found", "no such account", "")
	}
	return a, nil
}
func (f *fakeAccountRepo) GetByMSISDNBatch(_ domain.Context, msisdn, batchID string) (domain.Account, error) {
	for _, a := range f.byID {
		if a.MSISDN == msisdn && a.BatchID == batchID {
			return a, nil
		}
	}
	return domain.Account{}, domain.NewNotFoundError("account_not_found", "no such account", "")
}
func (f *fakeAccountRepo) List(domain.Context, domain.AccountFilter) ([]domain.Account, error) { return nil, nil }
func (f *fakeAccountRepo) Update(_ domain.Context, a domain.Account) error {
	f.byID[a.ID] = a
	return nil
}
func (f *fakeAccountRepo) Delete(domain.Context, int64) error                       { return nil }
func (f *fakeAccountRepo) DeleteByMSISDNBatch(domain.Context, string, string) error { return nil }
func (f *fakeAccountRepo) IncrementUsage(domain.Context, int64, *string) error      { return nil }

type fakeServerRepo struct{ byID map[int64]domain.ServerInstance }

func newFakeServerRepo(servers ...domain.ServerInstance) *fakeServerRepo {
	m := map[int64]domain.ServerInstance{}
	for _, s := range servers {
		m[s.ID] = s
	}
	return &fakeServerRepo{byID: m}
}
func (f *fakeServerRepo) Create(domain.Context, domain.ServerInstance) (int64, error) { return 0, nil }
func (f *fakeServerRepo) Get(_ domain.Context, id int64) (domain.ServerInstance, error) {
	s, ok := f.byID[id]
	if !ok {
		return domain.ServerInstance{}, domain.NewNotFoundError("server_not_found", "no such server", "")
	}
	return s, nil
}
func (f *fakeServerRepo) List(domain.Context, domain.ServerFilter) ([]domain.ServerInstance, error) {
	out := make([]domain.ServerInstance, 0, len(f.byID))
	for _, s := range f.byID {
		out = append(out, s)
	}
	return out, nil
}
func (f *fakeServerRepo) Update(domain.Context, domain.ServerInstance) error   { return nil }
func (f *fakeServerRepo) UpdateStatus(domain.Context, int64, bool) error       { return nil }
func (f *fakeServerRepo) Delete(domain.Context, int64) error                  { return nil }
func (f *fakeServerRepo) HasActiveBinding(domain.Context, int64) (bool, error) { return false, nil }

type fakeProvider struct {
	requestOTPResp domain.ProviderResponse
	verifyOTPResp  domain.ProviderResponse
	balanceResp    domain.ProviderResponse
	locationResp   domain.ProviderResponse
	produkResp     domain.ProviderResponse
}

func (f *fakeProvider) RequestOTP(domain.Context, string, string) (domain.ProviderResponse, error) {
	return f.requestOTPResp, nil
}
func (f *fakeProvider) VerifyOTP(domain.Context, string, string) (domain.ProviderResponse, error) {
	return f.verifyOTPResp, nil
}
func (f *fakeProvider) Logout(domain.Context, string) (domain.ProviderResponse, error) {
	return domain.ProviderResponse{}, nil
}
func (f *fakeProvider) GetBalancePulsa(domain.Context, string) (domain.ProviderResponse, error) {
	return f.balanceResp, nil
}
func (f *fakeProvider) GetTokenLocation3(domain.Context, string) (domain.ProviderResponse, error) {
	return f.locationResp, nil
}
func (f *fakeProvider) ListProduk(domain.Context, string) (domain.ProviderResponse, error) {
	return f.produkResp, nil
}
func (f *fakeProvider) TrxVoucherIDV(domain.Context, string, string, string, int64) (domain.ProviderResponse, error) {
	return domain.ProviderResponse{}, nil
}
func (f *fakeProvider) OTPTrx(domain.Context, string, string) (domain.ProviderResponse, error) {
	return domain.ProviderResponse{}, nil
}
func (f *fakeProvider) StatusTrx(domain.Context, string, string) (domain.ProviderResponse, error) {
	return domain.ProviderResponse{}, nil
}

func newTestService() (*Service, *fakeBindingRepo, *fakeAccountRepo, *fakeServerRepo, *fakeProvider) {
	bindings := newFakeBindingRepo()
	pin := "1234"
	accounts := newFakeAccountRepo(domain.Account{ID: 1, MSISDN: "0811", BatchID: "b1", PIN: &pin})
	servers := newFakeServerRepo(domain.ServerInstance{ID: 1, Port: 9000})
	provider := &fakeProvider{}
	svc := New(bindings, accounts, servers, func(domain.ServerInstance) domain.ProviderAdapter { return provider })
	return svc, bindings, accounts, servers, provider
}

func TestCreateBinding_Success(t *testing.T) {
	svc, _, accounts, _, _ := newTestService()
	b, err := svc.CreateBinding(context.Background(), 1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BindingBound, b.Step)
	assert.Equal(t, domain.AccountActive, accounts.byID[1].Status)
	assert.Equal(t, 1, accounts.byID[1].UsedCount)
}

func TestCreateBinding_ServerAlreadyActive_Rejected(t *testing.T) {
	svc, bindings, _, _, _ := newTestService()
	_, err := svc.CreateBinding(context.Background(), 1, 1, nil)
	require.NoError(t, err)
	bindings.activeAccount[1] = false // free the account, keep server active

	_, err = svc.CreateBinding(context.Background(), 1, 1, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRequestLogin_UsesAccountPIN_OnSuccess(t *testing.T) {
	svc, bindings, _, _, provider := newTestService()
	b, err := svc.CreateBinding(context.Background(), 1, 1, nil)
	require.NoError(t, err)
	provider.requestOTPResp = domain.ProviderResponse{Status: "0"}

	b, err = svc.RequestLogin(context.Background(), b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.BindingOTPRequested, b.Step)
	assert.Equal(t, b, bindings.byID[b.ID])
}

func TestRequestLogin_NoPINAvailable_Rejected(t *testing.T) {
	svc, _, accounts, _, _ := newTestService()
	a := accounts.byID[1]
	a.PIN = nil
	accounts.byID[1] = a
	b, err := svc.CreateBinding(context.Background(), 1, 1, nil)
	require.NoError(t, err)

	_, err = svc.RequestLogin(context.Background(), b.ID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRequestLogin_ProviderRejects_Rejected(t *testing.T) {
	svc, _, _, _, provider := newTestService()
	b, err := svc.CreateBinding(context.Background(), 1, 1, nil)
	require.NoError(t, err)
	provider.requestOTPResp = domain.ProviderResponse{Status: "1", StatusMsg: "invalid pin"}

	_, err = svc.RequestLogin(context.Background(), b.ID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

func TestVerifyLoginAndReseller_Success_PopulatesBinding(t *testing.T) {
	svc, bindings, accounts, _, provider := newTestService()
	b, err := svc.CreateBinding(context.Background(), 1, 1, nil)
	require.NoError(t, err)
	provider.requestOTPResp = domain.ProviderResponse{Status: "0"}
	b, err = svc.RequestLogin(context.Background(), b.ID, nil)
	require.NoError(t, err)

	provider.verifyOTPResp = domain.ProviderResponse{Status: "0", DataStatus: "true", TokenID: "tok-1"}
	balance := int64(50000)
	provider.balanceResp = domain.ProviderResponse{Balance: &balance}
	provider.locationResp = domain.ProviderResponse{Token: "loc-token", DeviceID: "dev-1"}
	provider.produkResp = domain.ProviderResponse{Status: "200"}

	b, err = svc.VerifyLoginAndReseller(context.Background(), b.ID, "999999")
	require.NoError(t, err)
	assert.Equal(t, domain.BindingTokenLoginFetched, b.Step)
	require.NotNil(t, b.TokenLogin)
	assert.Equal(t, "tok-1", *b.TokenLogin)
	require.NotNil(t, b.BalanceStart)
	assert.Equal(t, balance, *b.BalanceStart)
	assert.True(t, b.IsReseller)
	require.NotNil(t, b.DeviceID)
	assert.Equal(t, "dev-1", *b.DeviceID)
	assert.Equal(t, b, bindings.byID[b.ID])
	assert.True(t, accounts.byID[1].IsReseller)
}

func TestVerifyLoginAndReseller_OTPFailure_Rejected(t *testing.T) {
	svc, _, _, _, provider := newTestService()
	b, err := svc.CreateBinding(context.Background(), 1, 1, nil)
	require.NoError(t, err)
	provider.requestOTPResp = domain.ProviderResponse{Status: "0"}
	b, err = svc.RequestLogin(context.Background(), b.ID, nil)
	require.NoError(t, err)

	provider.verifyOTPResp = domain.ProviderResponse{Status: "1"}
	_, err = svc.VerifyLoginAndReseller(context.Background(), b.ID, "000000")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalService)
}

func TestCheckBalance_PersistsBalance(t *testing.T) {
	svc, _, _, _, provider := newTestService()
	b, err := svc.CreateBinding(context.Background(), 1, 1, nil)
	require.NoError(t, err)
	balance := int64(12345)
	provider.balanceResp = domain.ProviderResponse{Balance: &balance}

	b, err = svc.CheckBalance(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, b.BalanceLast)
	assert.Equal(t, balance, *b.BalanceLast)
}

func TestLogoutBinding_SetsStepAndAccountStatus(t *testing.T) {
	svc, _, accounts, _, _ := newTestService()
	b, err := svc.CreateBinding(context.Background(), 1, 1, nil)
	require.NoError(t, err)

	status := domain.AccountDisabled
	code := "E1"
	msg := "manual logout"
	b, err = svc.LogoutBinding(context.Background(), b.ID, &code, &msg, &status)
	require.NoError(t, err)
	assert.Equal(t, domain.BindingLoggedOut, b.Step)
	assert.NotNil(t, b.UnboundAt)
	assert.Equal(t, domain.AccountDisabled, accounts.byID[1].Status)
}

func TestLogoutBinding_WrongStep_Rejected(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	b, err := svc.CreateBinding(context.Background(), 1, 1, nil)
	require.NoError(t, err)

	_, err = svc.LogoutBinding(context.Background(), b.ID, nil, nil, nil)
	require.NoError(t, err)
	_, err = svc.LogoutBinding(context.Background(), b.ID, nil, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
