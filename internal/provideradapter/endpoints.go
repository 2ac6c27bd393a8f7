package provideradapter

import (
	"net/url"
	"strconv"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
)

var _ domain.ProviderAdapter = (*Client)(nil)

// RequestOTP calls GET /otp?username,pin (§6).
func (c *Client) RequestOTP(ctx domain.Context, username, pin string) (domain.ProviderResponse, error) {
	traceID := observability.TraceIDFromContext(ctx)
	if err := requireNonEmpty(traceID, namedArg{"username", username}, namedArg{"pin", pin}); err != nil {
		return domain.ProviderResponse{}, err
	}
	return c.call(ctx, "/otp", url.Values{"username": {username}, "pin": {pin}})
}

// VerifyOTP calls GET /verifyOtp?username,otp.
func (c *Client) VerifyOTP(ctx domain.Context, username, otp string) (domain.ProviderResponse, error) {
	traceID := observability.TraceIDFromContext(ctx)
	if err := requireNonEmpty(traceID, namedArg{"username", username}, namedArg{"otp", otp}); err != nil {
		return domain.ProviderResponse{}, err
	}
	return c.call(ctx, "/verifyOtp", url.Values{"username": {username}, "otp": {otp}})
}

// Logout calls GET /logout?username.
func (c *Client) Logout(ctx domain.Context, username string) (domain.ProviderResponse, error) {
	traceID := observability.TraceIDFromContext(ctx)
	if err := requireNonEmpty(traceID, namedArg{"username", username}); err != nil {
		return domain.ProviderResponse{}, err
	}
	return c.call(ctx, "/logout", url.Values{"username": {username}})
}

// GetBalancePulsa calls GET /balance_pulsa?username.
func (c *Client) GetBalancePulsa(ctx domain.Context, username string) (domain.ProviderResponse, error) {
	traceID := observability.TraceIDFromContext(ctx)
	if err := requireNonEmpty(traceID, namedArg{"username", username}); err != nil {
		return domain.ProviderResponse{}, err
	}
	return c.call(ctx, "/balance_pulsa", url.Values{"username": {username}})
}

// GetTokenLocation3 calls GET /token_location3?username, which returns a
// bare text body instead of JSON; the adapter wraps it as {"token": "<text>"}.
func (c *Client) GetTokenLocation3(ctx domain.Context, username string) (domain.ProviderResponse, error) {
	traceID := observability.TraceIDFromContext(ctx)
	if err := requireNonEmpty(traceID, namedArg{"username", username}); err != nil {
		return domain.ProviderResponse{}, err
	}
	_, body, err := c.do(ctx, "/token_location3", url.Values{"username": {username}})
	if err != nil {
		return domain.ProviderResponse{}, err
	}
	return domain.ProviderResponse{Raw: string(body), Token: string(body)}, nil
}

// ListProduk calls GET /list_idv?username.
func (c *Client) ListProduk(ctx domain.Context, username string) (domain.ProviderResponse, error) {
	traceID := observability.TraceIDFromContext(ctx)
	if err := requireNonEmpty(traceID, namedArg{"username", username}); err != nil {
		return domain.ProviderResponse{}, err
	}
	return c.call(ctx, "/list_idv", url.Values{"username": {username}})
}

// TrxVoucherIDV calls GET /trx_idv?username,product_id,email,limit_harga.
func (c *Client) TrxVoucherIDV(ctx domain.Context, username, productID, email string, limitHarga int64) (domain.ProviderResponse, error) {
	traceID := observability.TraceIDFromContext(ctx)
	if err := requireNonEmpty(traceID,
		namedArg{"username", username}, namedArg{"product_id", productID}, namedArg{"email", email},
	); err != nil {
		return domain.ProviderResponse{}, err
	}
	return c.call(ctx, "/trx_idv", url.Values{
		"username":    {username},
		"product_id":  {productID},
		"email":       {email},
		"limit_harga": {strconv.FormatInt(limitHarga, 10)},
	})
}

// OTPTrx calls GET /otp_idv?username,otp.
func (c *Client) OTPTrx(ctx domain.Context, username, otp string) (domain.ProviderResponse, error) {
	traceID := observability.TraceIDFromContext(ctx)
	if err := requireNonEmpty(traceID, namedArg{"username", username}, namedArg{"otp", otp}); err != nil {
		return domain.ProviderResponse{}, err
	}
	return c.call(ctx, "/otp_idv", url.Values{"username": {username}, "otp": {otp}})
}

// StatusTrx calls GET /status_idv?username,trx_id.
func (c *Client) StatusTrx(ctx domain.Context, username, trxID string) (domain.ProviderResponse, error) {
	traceID := observability.TraceIDFromContext(ctx)
	if err := requireNonEmpty(traceID, namedArg{"username", username}, namedArg{"trx_id", trxID}); err != nil {
		return domain.ProviderResponse{}, err
	}
	return c.call(ctx, "/status_idv", url.Values{"username": {username}, "trx_id": {trxID}})
}

// call performs the GET + retry/backoff and decodes the JSON envelope.
func (c *Client) call(ctx domain.Context, endpoint string, params url.Values) (domain.ProviderResponse, error) {
	traceID := observability.TraceIDFromContext(ctx)
	_, body, err := c.do(ctx, endpoint, params)
	if err != nil {
		return domain.ProviderResponse{}, err
	}
	return c.parseJSON(endpoint, body, traceID)
}
