// Package workflow implements the centralized state-transition guard (C4).
//
// Every state-mutating operation in the binding and transaction services
// routes through ValidateBindingTransition or ValidateTransactionTransition
// before doing any side-effectful work, so transition
// rules live in exactly one place instead of being re-checked ad hoc.
package workflow

import (
	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

// bindingTransitions is the §4.2 binding transition table: action -> set of
// steps from which the action is allowed.
var bindingTransitions = map[string][]domain.BindingStep{
	"request_login": {domain.BindingBound, domain.BindingOTPRequested},
	"verify_login":  {domain.BindingOTPRequested},
	"refresh_token_location": {domain.BindingOTPVerified, domain.BindingTokenLoginFetched},
	"verify_reseller":        {domain.BindingOTPVerified, domain.BindingTokenLoginFetched},
	"check_balance": {
		domain.BindingBound, domain.BindingOTPRequested, domain.BindingOTPVerification,
		domain.BindingOTPVerified, domain.BindingTokenLoginFetched,
	},
	"logout": {
		domain.BindingBound, domain.BindingOTPRequested, domain.BindingOTPVerification,
		domain.BindingOTPVerified, domain.BindingTokenLoginFetched,
	},
	"start_transaction": {domain.BindingTokenLoginFetched},
}

// transactionTransitions is the §4.2 transaction transition table.
var transactionTransitions = map[string][]domain.TransactionStatus{
	"submit_otp":                         {domain.TxProcessing, domain.TxResumed},
	"continue_transaction":               {domain.TxProcessing, domain.TxResumed},
	"pause_transaction":                  {domain.TxProcessing, domain.TxResumed},
	"resume_transaction":                 {domain.TxPaused},
	"stop_transaction":                   {domain.TxProcessing, domain.TxResumed, domain.TxPaused, domain.TxSuspect},
	"check_balance_and_continue_or_stop": {domain.TxProcessing, domain.TxResumed, domain.TxPaused},
}

// ValidateBindingTransition raises ErrValidation (error_code
// binding_invalid_step_transition) unless action is allowed from current.
func ValidateBindingTransition(action string, current domain.BindingStep, traceID string) error {
	allowed, ok := bindingTransitions[action]
	if !ok {
		return domain.InvalidStepTransitionError(action, string(current), nil, traceID)
	}
	for _, s := range allowed {
		if s == current {
			return nil
		}
	}
	return domain.InvalidStepTransitionError(action, string(current), stepStrings(allowed), traceID)
}

// ValidateTransactionTransition raises ErrValidation (error_code
// transaction_invalid_status_transition) unless action is allowed from
// current.
func ValidateTransactionTransition(action string, current domain.TransactionStatus, traceID string) error {
	allowed, ok := transactionTransitions[action]
	if !ok {
		return domain.InvalidStatusTransitionError(action, string(current), nil, traceID)
	}
	for _, s := range allowed {
		if s == current {
			return nil
		}
	}
	return domain.InvalidStatusTransitionError(action, string(current), statusStrings(allowed), traceID)
}

func stepStrings(steps []domain.BindingStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = string(s)
	}
	return out
}

func statusStrings(statuses []domain.TransactionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
