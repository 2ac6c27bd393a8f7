package domain

// Repository ports (C2). Implementations live under internal/repo/postgres.
//
//go:generate mockery --name=ServerRepository --with-expecter --filename=server_repository_mock.go
//go:generate mockery --name=AccountRepository --with-expecter --filename=account_repository_mock.go
//go:generate mockery --name=BindingRepository --with-expecter --filename=binding_repository_mock.go
//go:generate mockery --name=TransactionRepository --with-expecter --filename=transaction_repository_mock.go

// ServerFilter narrows ListServers results.
type ServerFilter struct {
	IsActive *bool
}

// ServerRepository is responsible for managing server instances.
type ServerRepository interface {
	Create(ctx Context, s ServerInstance) (int64, error)
	Get(ctx Context, id int64) (ServerInstance, error)
	List(ctx Context, f ServerFilter) ([]ServerInstance, error)
	Update(ctx Context, s ServerInstance) error
	UpdateStatus(ctx Context, id int64, isActive bool) error
	Delete(ctx Context, id int64) error
	HasActiveBinding(ctx Context, serverID int64) (bool, error)
}

// AccountFilter narrows ListAccounts results (§6 /accounts GET filters).
type AccountFilter struct {
	Status     *AccountStatus
	IsReseller *bool
	BatchID    *string
	Email      *string
	MSISDN     *string
}

// AccountRepository is responsible for managing accounts.
type AccountRepository interface {
	Create(ctx Context, a Account) (int64, error)
	Get(ctx Context, id int64) (Account, error)
	GetByMSISDNBatch(ctx Context, msisdn, batchID string) (Account, error)
	List(ctx Context, f AccountFilter) ([]Account, error)
	Update(ctx Context, a Account) error
	Delete(ctx Context, id int64) error
	DeleteByMSISDNBatch(ctx Context, msisdn, batchID string) error
	IncrementUsage(ctx Context, id int64, deviceID *string) error
}

// BindingFilter narrows ListBindings results.
type BindingFilter struct {
	ServerID   *int64
	AccountID  *int64
	ActiveOnly bool
}

// BindingRepository is responsible for managing bindings.
type BindingRepository interface {
	Create(ctx Context, b Binding) (int64, error)
	Get(ctx Context, id int64) (Binding, error)
	List(ctx Context, f BindingFilter) ([]Binding, error)
	Update(ctx Context, b Binding) error
	GetActiveByServer(ctx Context, serverID int64) (Binding, bool, error)
	GetActiveByAccount(ctx Context, accountID int64) (Binding, bool, error)
	View(ctx Context, id int64) (BindingView, error)
}

// TransactionFilter narrows ListTransactions results.
type TransactionFilter struct {
	BindingID *int64
	AccountID *int64
	Status    *TransactionStatus
}

// TransactionRepository is responsible for managing transactions and their snapshots.
type TransactionRepository interface {
	Create(ctx Context, t Transaction, snap TransactionSnapshot) (int64, error)
	Get(ctx Context, id int64) (Transaction, error)
	List(ctx Context, f TransactionFilter) ([]Transaction, error)
	Update(ctx Context, t Transaction) error
	UpdateStatus(ctx Context, id int64, status TransactionStatus) error
	Delete(ctx Context, id int64) error
	GetSnapshot(ctx Context, transactionID int64) (TransactionSnapshot, error)
	UpdateSnapshot(ctx Context, s TransactionSnapshot) error
}

// ProviderAdapter (C3) is the IDV client port consumed by the binding and
// transaction services. Every call validates required inputs, applies the
// retry/backoff policy, and maps transport failures to the §7 error kinds.
//
//go:generate mockery --name=ProviderAdapter --with-expecter --filename=provider_adapter_mock.go
type ProviderAdapter interface {
	RequestOTP(ctx Context, username, pin string) (ProviderResponse, error)
	VerifyOTP(ctx Context, username, otp string) (ProviderResponse, error)
	Logout(ctx Context, username string) (ProviderResponse, error)
	GetBalancePulsa(ctx Context, username string) (ProviderResponse, error)
	GetTokenLocation3(ctx Context, username string) (ProviderResponse, error)
	ListProduk(ctx Context, username string) (ProviderResponse, error)
	TrxVoucherIDV(ctx Context, username, productID, email string, limitHarga int64) (ProviderResponse, error)
	OTPTrx(ctx Context, username, otp string) (ProviderResponse, error)
	StatusTrx(ctx Context, username, trxID string) (ProviderResponse, error)
}

// ProviderResponse is the adapter's normalized view of an IDV response: the
// decoded JSON body plus the handful of top-level fields every endpoint
// shares. §9 requires parsing into small typed records at the adapter
// boundary instead of carrying raw maps into business logic.
type ProviderResponse struct {
	Raw        string // opaque payload, stored verbatim into *_raw columns
	Status     string // top-level "status" field, e.g. "0", "200"
	StatusMsg  string
	DataStatus string // data.status, loosely "true"/"false"
	TokenID    string // data.tokenid
	Token      string // token_location3's bare text body, wrapped as {token: ...}
	DeviceID   string // data.identifier.device_id
	ProductType string // data.product_group.product_type
	TrxID      string // res.data.trx_id
	TID        string // res.data.t_id
	IsSuccess  *int   // res.data.is_success
	Voucher    string // res.data.voucher
	Balance    *int64 // parsed res.balance
}
