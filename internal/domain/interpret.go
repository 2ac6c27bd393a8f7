package domain

import "strings"

// The functions in this file are the §4.1 "response interpretation helpers":
// pure logic over an already-parsed ProviderResponse, consumed by the
// binding service (C5) and transaction service (C6). They intentionally do
// not live inside the provider adapter itself — the adapter's only job is to
// turn wire bytes into a ProviderResponse; deciding what that response means
// for binding/transaction state is a service-layer concern.

// IsLoginOTPSuccess reports login-OTP success per §4.1: status=="0" AND
// data.status (case-insensitive) equals "true", and, when requireToken is
// set, data.tokenid must be non-empty.
func IsLoginOTPSuccess(r ProviderResponse, requireToken bool) bool {
	if r.Status != "0" {
		return false
	}
	if !strings.EqualFold(r.DataStatus, "true") {
		return false
	}
	if requireToken && r.TokenID == "" {
		return false
	}
	return true
}

// IsResellerProduk reports the list-product reseller flag per §4.1: true
// when any of status=="200", status_msg=="success", or
// data.product_group.product_type=="reseller".
func IsResellerProduk(r ProviderResponse) bool {
	return r.Status == "200" || r.StatusMsg == "success" || r.ProductType == "reseller"
}

// ExtractOrder pulls res.data.{trx_id, t_id, is_success} from an order
// placement response.
func ExtractOrder(r ProviderResponse) (trxID string, tID string, isSuccess *int) {
	return r.TrxID, r.TID, r.IsSuccess
}

// ExtractStatus pulls res.data.{is_success, voucher} from a status poll
// response.
func ExtractStatus(r ProviderResponse) (isSuccess *int, voucher string) {
	return r.IsSuccess, r.Voucher
}

// FinalStatus maps a status response to a transaction status per §4.1:
//
//	is_success==2 && voucher      -> SUKSES
//	is_success==2 && !voucher     -> SUSPECT
//	otherwise                     -> PROCESSING (preOTP) or GAGAL (postOTP)
func FinalStatus(isSuccess *int, voucher string, preOTP bool) TransactionStatus {
	if isSuccess != nil && *isSuccess == 2 {
		if voucher != "" {
			return TxSukses
		}
		return TxSuspect
	}
	if preOTP {
		return TxProcessing
	}
	return TxGagal
}
