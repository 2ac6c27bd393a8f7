package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
)

func TestIsLoginOTPSuccess(t *testing.T) {
	cases := []struct {
		name         string
		resp         domain.ProviderResponse
		requireToken bool
		want         bool
	}{
		{"success no token required", domain.ProviderResponse{Status: "0", DataStatus: "true"}, false, true},
		{"success case-insensitive status", domain.ProviderResponse{Status: "0", DataStatus: "TRUE"}, false, true},
		{"wrong top status", domain.ProviderResponse{Status: "1", DataStatus: "true"}, false, false},
		{"data status false", domain.ProviderResponse{Status: "0", DataStatus: "false"}, false, false},
		{"token required but missing", domain.ProviderResponse{Status: "0", DataStatus: "true"}, true, false},
		{"token required and present", domain.ProviderResponse{Status: "0", DataStatus: "true", TokenID: "abc"}, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, domain.IsLoginOTPSuccess(tc.resp, tc.requireToken))
		})
	}
}

func TestIsResellerProduk(t *testing.T) {
	assert.True(t, domain.IsResellerProduk(domain.ProviderResponse{Status: "200"}))
	assert.True(t, domain.IsResellerProduk(domain.ProviderResponse{StatusMsg: "success"}))
	assert.True(t, domain.IsResellerProduk(domain.ProviderResponse{ProductType: "reseller"}))
	assert.False(t, domain.IsResellerProduk(domain.ProviderResponse{Status: "400", StatusMsg: "failed", ProductType: "regular"}))
}

func TestExtractOrderAndStatus(t *testing.T) {
	one := 1
	resp := domain.ProviderResponse{TrxID: "trx-1", TID: "t-1", IsSuccess: &one, Voucher: "VCR001"}

	trxID, tID, isSuccess := domain.ExtractOrder(resp)
	assert.Equal(t, "trx-1", trxID)
	assert.Equal(t, "t-1", tID)
	assert.Equal(t, &one, isSuccess)

	gotSuccess, voucher := domain.ExtractStatus(resp)
	assert.Equal(t, &one, gotSuccess)
	assert.Equal(t, "VCR001", voucher)
}

func TestFinalStatus(t *testing.T) {
	two := 2
	one := 1

	assert.Equal(t, domain.TxSukses, domain.FinalStatus(&two, "VCR001", false))
	assert.Equal(t, domain.TxSuspect, domain.FinalStatus(&two, "", false))
	assert.Equal(t, domain.TxProcessing, domain.FinalStatus(&one, "", true))
	assert.Equal(t, domain.TxGagal, domain.FinalStatus(&one, "", false))
	assert.Equal(t, domain.TxGagal, domain.FinalStatus(nil, "", false))
	assert.Equal(t, domain.TxProcessing, domain.FinalStatus(nil, "", true))
}
