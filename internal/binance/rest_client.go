package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"futures-trade-assistant/internal/config"
)

const (
	baseURL        = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"
	serverTimePath = "/fapi/v1/time"
	maxAttempts    = 3
)

// RestClient calls the public futures endpoints the SDK client does not cover.
type RestClient struct {
	client    *resty.Client
	logger    *zap.Logger
	limiter   *rate.Limiter
	now       func() time.Time
	retryBase time.Duration
}

var _ timeSyncer = (*RestClient)(nil)

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// NewRestClient creates a REST client for the production or testnet futures API.
func NewRestClient(cfg config.Binance, logger *zap.Logger) *RestClient {
	url := baseURL
	if cfg.Testnet {
		url = testnetBaseURL
	}

	client := resty.New().SetBaseURL(url)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &RestClient{
		client:    client,
		logger:    logger.Named("rest"),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		now:       time.Now,
		retryBase: time.Second,
	}
}

// GetServerTime fetches the exchange clock in milliseconds.
func (c *RestClient) GetServerTime(ctx context.Context) (int64, error) {
	var out serverTimeResponse
	if _, err := c.get(ctx, serverTimePath, c.client.R().SetResult(&out)); err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}
	return out.ServerTime, nil
}

// TimeOffset returns server time minus local time in milliseconds.
func (c *RestClient) TimeOffset(ctx context.Context) (int64, error) {
	serverTime, err := c.GetServerTime(ctx)
	if err != nil {
		return 0, err
	}
	return serverTime - c.now().UnixMilli(), nil
}

// get runs a GET behind the limiter. Throttling, 5xx and transport errors are retried with
// exponential backoff or the server's Retry-After; other 4xx responses fail at once.
func (c *RestClient) get(ctx context.Context, path string, req *resty.Request) (*resty.Response, error) {
	req.SetContext(ctx)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		resp, err := req.Get(path)
		if err == nil && !resp.IsError() {
			return resp, nil
		}

		wait, retry := c.backoff(resp, err, attempt)
		if err == nil {
			err = fmt.Errorf("status %s: %s", resp.Status(), resp.String())
		}
		if !retry {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		lastErr = err
		if attempt == maxAttempts-1 {
			break
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Duration("retry_after", wait),
			zap.Error(err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

// backoff decides whether a failed attempt is retried and how long to wait first.
func (c *RestClient) backoff(resp *resty.Response, err error, attempt int) (time.Duration, bool) {
	wait := c.retryBase << attempt
	if err != nil || resp == nil || resp.StatusCode() == 0 {
		return wait, true
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests || code == http.StatusTeapot:
		if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
			wait = time.Duration(seconds) * time.Second
		}
		return wait, true
	case code >= http.StatusInternalServerError:
		return wait, true
	}
	return 0, false
}
