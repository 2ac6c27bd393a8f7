// Package provideradapter implements the IDV provider client (C3): a scoped
// HTTP client whose lifecycle is bounded per call (acquire -> request ->
// release), carrying a retry/backoff policy and concurrency ceilings taken
// from the owning server instance's tuning.
package provideradapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/observability"
)

// Client is the IDV provider client for one server instance. All nine
// endpoints (§6) are semantically GETs with query parameters; every
// response is JSON except token_location3, which returns a bare text body
// that Client wraps as {"token": "<text>"}.
type Client struct {
	baseURL  string
	hc       *http.Client
	retries  int
	waitBase time.Duration
	sem      chan struct{} // bounds in-flight requests to max_requests_queued
	breaker  *observability.CircuitBreaker
}

// NewClient constructs a Client scoped to one server instance's HTTP tuning
// (§3 server instance fields: timeout, retries, wait_between_retries,
// max_requests_queued).
func NewClient(baseURL string, timeout time.Duration, retries int, waitBetweenRetries time.Duration, maxRequestsQueued int) *Client {
	transport := &http.Transport{
		MaxConnsPerHost:     maxRequestsQueued,
		MaxIdleConnsPerHost: maxRequestsQueued,
		IdleConnTimeout:     90 * time.Second,
	}
	if maxRequestsQueued <= 0 {
		maxRequestsQueued = 1
	}
	return &Client{
		baseURL:  baseURL,
		hc:       &http.Client{Transport: transport, Timeout: timeout},
		retries:  retries,
		waitBase: waitBetweenRetries,
		sem:      make(chan struct{}, maxRequestsQueued),
		breaker:  observability.NewCircuitBreaker(5, 30*time.Second, 0.5),
	}
}

// acquire bounds concurrent in-flight requests to max_requests_queued,
// released when the call (including all its retries) completes.
func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() { <-c.sem }

// do executes one GET call against path with query params, retrying per the
// exponential backoff policy, and maps failures to the §7 error kinds.
func (c *Client) do(ctx context.Context, endpoint string, params url.Values) (*http.Response, []byte, error) {
	traceID := observability.TraceIDFromContext(ctx)

	if !c.breaker.CanExecute() {
		return nil, nil, domain.NewExternalServiceError("provider_circuit_open",
			fmt.Sprintf("%s: circuit breaker open for %s", endpoint, c.baseURL), traceID)
	}

	if err := c.acquire(ctx); err != nil {
		return nil, nil, domain.WrapUnexpected(err, traceID)
	}
	defer c.release()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.waitBase
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = 200 * time.Millisecond
	}
	retryable := backoff.WithMaxRetries(bo, uint64(maxInt(c.retries, 0)))

	var (
		respBody []byte
		resp     *http.Response
	)
	op := func() error {
		reqURL := c.baseURL + endpoint + "?" + params.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(domain.WrapUnexpected(err, traceID))
		}
		if traceID != "" {
			req.Header.Set("X-Trace-Id", traceID)
		}

		observability.ProviderCallsTotal.WithLabelValues(endpoint, "attempt").Inc()
		start := time.Now()
		r, err := c.hc.Do(req)
		observability.ProviderCallDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || isTimeoutErr(err) {
				return backoff.Permanent(domain.NewExternalTimeoutError("provider_timeout", fmt.Sprintf("%s: %v", endpoint, err), traceID))
			}
			// network failure: retryable
			observability.ProviderCallsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return fmt.Errorf("op=provider.%s: %w", endpoint, err)
		}
		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("op=provider.%s.read_body: %w", endpoint, err)
		}

		switch {
		case r.StatusCode >= 400 && r.StatusCode < 500:
			observability.ProviderCallsTotal.WithLabelValues(endpoint, "client_error").Inc()
			return backoff.Permanent(domain.NewExternalServiceError("provider_client_error",
				fmt.Sprintf("%s: http %d", endpoint, r.StatusCode), traceID))
		case r.StatusCode >= 500:
			observability.ProviderCallsTotal.WithLabelValues(endpoint, "server_error").Inc()
			return fmt.Errorf("op=provider.%s: http %d", endpoint, r.StatusCode)
		case r.StatusCode < 200 || r.StatusCode >= 300:
			observability.ProviderCallsTotal.WithLabelValues(endpoint, "unexpected_status").Inc()
			return fmt.Errorf("op=provider.%s: http %d", endpoint, r.StatusCode)
		}

		resp = r
		respBody = body
		observability.ProviderCallsTotal.WithLabelValues(endpoint, "success").Inc()
		return nil
	}

	if err := backoff.Retry(op, retryable); err != nil {
		c.breaker.RecordFailure()
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return nil, nil, err
		}
		return nil, nil, domain.NewExternalServiceError("provider_unreachable", err.Error(), traceID)
	}
	c.breaker.RecordSuccess()
	return resp, respBody, nil
}

func isTimeoutErr(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// rawEnvelope matches the common {status, status_msg, data:{...}} shape used
// by most IDV endpoints.
type rawEnvelope struct {
	Status    string `json:"status"`
	StatusMsg string `json:"status_msg"`
	Data      struct {
		Status  string `json:"status"`
		TokenID string `json:"tokenid"`
		TrxID   string `json:"trx_id"`
		TID     string `json:"t_id"`
		IsSuccess *int  `json:"is_success"`
		Voucher   string `json:"voucher"`
		Identifier struct {
			DeviceID string `json:"device_id"`
		} `json:"identifier"`
		ProductGroup struct {
			ProductType string `json:"product_type"`
		} `json:"product_group"`
	} `json:"data"`
	Res struct {
		Balance string `json:"balance"`
		Data    struct {
			TrxID     string `json:"trx_id"`
			TID       string `json:"t_id"`
			IsSuccess *int   `json:"is_success"`
			Voucher   string `json:"voucher"`
		} `json:"data"`
	} `json:"res"`
}

func (c *Client) parseJSON(endpoint string, body []byte, traceID string) (domain.ProviderResponse, error) {
	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.ProviderResponse{}, domain.NewExternalServiceError("provider_invalid_response",
			fmt.Sprintf("%s: invalid json: %v", endpoint, err), traceID)
	}
	out := domain.ProviderResponse{
		Raw:         string(body),
		Status:      env.Status,
		StatusMsg:   env.StatusMsg,
		DataStatus:  env.Data.Status,
		TokenID:     env.Data.TokenID,
		DeviceID:    env.Data.Identifier.DeviceID,
		ProductType: env.Data.ProductGroup.ProductType,
	}
	// trx_id/t_id/is_success/voucher may show up under data.* (order/status
	// share response shapes across IDV's endpoint family) or res.data.*.
	if env.Data.TrxID != "" {
		out.TrxID = env.Data.TrxID
	} else {
		out.TrxID = env.Res.Data.TrxID
	}
	if env.Data.TID != "" {
		out.TID = env.Data.TID
	} else {
		out.TID = env.Res.Data.TID
	}
	if env.Data.IsSuccess != nil {
		out.IsSuccess = env.Data.IsSuccess
	} else {
		out.IsSuccess = env.Res.Data.IsSuccess
	}
	if env.Data.Voucher != "" {
		out.Voucher = env.Data.Voucher
	} else {
		out.Voucher = env.Res.Data.Voucher
	}
	if env.Res.Balance != "" {
		if v, err := strconv.ParseInt(env.Res.Balance, 10, 64); err == nil {
			out.Balance = &v
		}
	}
	return out, nil
}

type namedArg struct {
	name  string
	value string
}

func requireNonEmpty(traceID string, fields ...namedArg) error {
	for _, f := range fields {
		if f.value == "" {
			return domain.NewValidationError("provider_input_missing", fmt.Sprintf("%s is required", f.name), traceID)
		}
	}
	return nil
}
