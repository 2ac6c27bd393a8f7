package provideradapter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/provideradapter"
)

func newClient(t *testing.T, handler http.HandlerFunc, retries int) (*provideradapter.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := provideradapter.NewClient(srv.URL, 2*time.Second, retries, 10*time.Millisecond, 4)
	return c, srv
}

func TestRequestOTPSuccess(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/otp", r.URL.Path)
		assert.Equal(t, "6281200000001", r.URL.Query().Get("username"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"0","data":{"status":"true","tokenid":"tok-1"}}`))
	}, 0)

	resp, err := c.RequestOTP(context.Background(), "6281200000001", "1234")
	require.NoError(t, err)
	assert.True(t, domain.IsLoginOTPSuccess(resp, true))
	assert.Equal(t, "tok-1", resp.TokenID)
}

func TestRequestOTPMissingFieldIsValidationError(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached for missing input")
	}, 0)

	_, err := c.RequestOTP(context.Background(), "", "1234")
	require.Error(t, err)

	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "provider_input_missing", appErr.Code)
}

func TestGetTokenLocation3WrapsBareTextBody(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("raw-location-token"))
	}, 0)

	resp, err := c.GetTokenLocation3(context.Background(), "6281200000001")
	require.NoError(t, err)
	assert.Equal(t, "raw-location-token", resp.Token)
}

func TestClientErrorDoesNotRetry(t *testing.T) {
	var attempts int32
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}, 3)

	_, err := c.ListProduk(context.Background(), "6281200000001")
	require.Error(t, err)
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "provider_client_error", appErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestServerErrorRetriesThenFails(t *testing.T) {
	var attempts int32
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}, 2)

	_, err := c.GetBalancePulsa(context.Background(), "6281200000001")
	require.Error(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestServerErrorRecoversOnRetry(t *testing.T) {
	var attempts int32
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"200","status_msg":"success"}`))
	}, 3)

	resp, err := c.Logout(context.Background(), "6281200000001")
	require.NoError(t, err)
	assert.True(t, domain.IsResellerProduk(resp))
}

func TestStatusTrxParsesNestedResData(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"0","res":{"balance":"15000","data":{"is_success":2,"voucher":"VCR777"}}}`))
	}, 0)

	resp, err := c.StatusTrx(context.Background(), "6281200000001", "trx-1")
	require.NoError(t, err)
	require.NotNil(t, resp.Balance)
	assert.Equal(t, int64(15000), *resp.Balance)
	isSuccess, voucher := domain.ExtractStatus(resp)
	require.NotNil(t, isSuccess)
	assert.Equal(t, 2, *isSuccess)
	assert.Equal(t, "VCR777", voucher)
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}, 0)

	for i := 0; i < 5; i++ {
		_, err := c.ListProduk(context.Background(), "6281200000001")
		require.Error(t, err)
	}

	_, err := c.ListProduk(context.Background(), "6281200000001")
	require.Error(t, err)
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "provider_circuit_open", appErr.Code)
}

func TestTrxVoucherIDVInvalidJSONIsExternalServiceError(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}, 0)

	_, err := c.TrxVoucherIDV(context.Background(), "6281200000001", "VCR100", "ops@example.com", 100000)
	require.Error(t, err)
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "provider_invalid_response", appErr.Code)
}
