package domain

import (
	"context"
	"time"
)

// Context is a type alias to stdlib context.Context, kept for symmetry with
// the repository/adapter signatures below.
type Context = context.Context

// AccountStatus enumerates the lifecycle of an Account (§3).
type AccountStatus string

// Account status values.
const (
	AccountNew       AccountStatus = "NEW"
	AccountActive    AccountStatus = "ACTIVE"
	AccountExhausted AccountStatus = "EXHAUSTED"
	AccountDisabled  AccountStatus = "DISABLED"
)

// BindingStep enumerates the binding lifecycle (§3, §4.2).
type BindingStep string

// Binding step values.
const (
	BindingBound               BindingStep = "BOUND"
	BindingOTPRequested        BindingStep = "OTP_REQUESTED"
	BindingOTPVerification     BindingStep = "OTP_VERIFICATION"
	BindingOTPVerified         BindingStep = "OTP_VERIFIED"
	BindingTokenLoginFetched   BindingStep = "TOKEN_LOGIN_FETCHED"
	BindingLoggedOut           BindingStep = "LOGGED_OUT"
)

// TransactionStatus enumerates the transaction lifecycle (§3, §4.2).
type TransactionStatus string

// Transaction status values.
const (
	TxProcessing TransactionStatus = "PROCESSING"
	TxPaused     TransactionStatus = "PAUSED"
	TxResumed    TransactionStatus = "RESUMED"
	TxSukses     TransactionStatus = "SUKSES"
	TxSuspect    TransactionStatus = "SUSPECT"
	TxGagal      TransactionStatus = "GAGAL"
)

// OTPStatus enumerates transaction OTP sub-state.
type OTPStatus string

// OTP status values.
const (
	OTPPending OTPStatus = "PENDING"
	OTPSuccess OTPStatus = "SUCCESS"
	OTPFailed  OTPStatus = "FAILED"
)

// ServerInstance is the identity of a remote agent process (§3).
type ServerInstance struct {
	ID                int64
	Port              int
	BaseURL           string
	Timeout           time.Duration
	Retries           int
	WaitBetweenRetries time.Duration
	MaxRequestsQueued int
	IsActive          bool
	DeviceID          *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Account is an MSISDN within a batch (§3).
type Account struct {
	ID           int64
	MSISDN       string
	BatchID      string
	Email        *string
	PIN          *string
	Status       AccountStatus
	IsReseller   bool
	BalanceLast  *int64
	UsedCount    int
	LastUsedAt   *time.Time
	LastDeviceID *string
	Notes        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Binding is the exclusive pairing of one account with one server instance (§3).
type Binding struct {
	ID                       int64
	ServerID                 int64
	AccountID                int64
	BatchID                  string
	Step                     BindingStep
	IsReseller               bool
	BalanceStart             *int64
	BalanceLast              *int64
	TokenLogin               *string
	TokenLocation            *string
	TokenLocationRefreshedAt *time.Time
	DeviceID                 *string
	LastErrorCode            *string
	LastErrorMessage         *string
	BoundAt                  time.Time
	UnboundAt                *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// IsBound reports whether the binding has not yet been logged out.
func (b Binding) IsBound() bool { return b.UnboundAt == nil }

// Transaction is a single voucher purchase attempt on a binding (§3).
type Transaction struct {
	ID          int64
	TrxID       string
	TID         *string
	ServerID    int64
	AccountID   int64
	BindingID   int64
	BatchID     string
	DeviceID    *string
	ProductID   string
	Email       string
	LimitHarga  int64
	Amount      *int64
	VoucherCode *string
	Status      TransactionStatus
	IsSuccess   *int
	ErrorMessage *string
	OTPRequired bool
	OTPStatus   *OTPStatus
	PauseReason *string
	PausedAt    *time.Time
	ResumedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TransactionSnapshot is the 1:1 balance/payload record for a transaction (§3).
type TransactionSnapshot struct {
	TransactionID int64
	BalanceStart  *int64
	BalanceEnd    *int64
	TrxIDVRaw     string
	StatusIDVRaw  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BindingView is the joined, display-oriented read model used by /bindings/view.
type BindingView struct {
	Binding Binding
	Account Account
	Server  ServerInstance
}
