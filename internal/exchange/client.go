// Package exchange implements the venue REST and WebSocket clients.
//
// The REST client (Client) talks to the perp venue for order management:
//   - FetchBBO:          GET  /api/v1/ticker        — top of book for a contract
//   - PlaceIOCOrder:     POST /api/v1/order         — marketable limit, IOC
//   - PlaceOpenOrder:    POST /api/v1/order         — passive limit, post-only
//   - CancelOrder:       DELETE /api/v1/order/{id}  — cancel a resting order
//   - WaitForFill:       GET  /api/v1/order/{id}    — poll until terminal status
//   - AccountPositions:  GET  /api/v1/positions     — signed position per contract
//   - FundingRate:       GET  /api/v1/funding       — annualized rate (cached 1h)
//
// Every request is rate-limited via per-category TokenBuckets, automatically
// retried on 5xx errors, and authenticated with HMAC headers (except public
// market reads).
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"pairfarm/pkg/types"
)

// LegClient is the per-leg capability set the engine operates over. Both legs
// of a pair live on one venue, so one *Client serves both; tests substitute
// fakes that fill deterministically.
type LegClient interface {
	FetchBBO(ctx context.Context, contractID string) (types.BBO, error)
	PlaceIOCOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error)
	PlaceOpenOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	WaitForFill(ctx context.Context, orderID string, timeout time.Duration) (*types.FillInfo, error)
	AccountPositions(ctx context.Context) (map[string]float64, error)
	FundingRate(ctx context.Context, contractID string) (float64, error)
}

const (
	fillPollInterval = 250 * time.Millisecond
	fundingCacheTTL  = time.Hour
)

// Client is the venue REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http   *resty.Client // HTTP client with retry + base URL
	auth   *Auth         // HMAC signer, nil in dry-run mode
	rl     *RateLimiter  // per-endpoint-category rate limiting
	dryRun bool          // when true, mutating methods synthesize fills without HTTP calls
	logger *slog.Logger

	dryRunSeq atomic.Int64

	fundingMu    sync.Mutex
	fundingCache map[string]fundingEntry
}

type fundingEntry struct {
	rate      float64
	fetchedAt time.Time
}

// NewClient creates a REST client with rate limiting and retry.
// auth may be nil only when dryRun is set.
func NewClient(baseURL string, auth *Auth, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:         httpClient,
		auth:         auth,
		rl:           NewRateLimiter(),
		dryRun:       dryRun,
		logger:       logger.With("component", "exchange"),
		fundingCache: make(map[string]fundingEntry),
	}
}

// tickerResponse is GET /api/v1/ticker.
type tickerResponse struct {
	ContractID string `json:"contract_id"`
	Bid        string `json:"bid"`
	Ask        string `json:"ask"`
}

// FetchBBO fetches the current top of book for a contract via REST.
// This is the fallback path; the streaming feed is preferred when live.
func (c *Client) FetchBBO(ctx context.Context, contractID string) (types.BBO, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return types.BBO{}, err
	}

	var result tickerResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("contract_id", contractID).
		SetResult(&result).
		Get("/api/v1/ticker")
	if err != nil {
		return types.BBO{}, fmt.Errorf("fetch bbo: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.BBO{}, fmt.Errorf("fetch bbo: status %d: %s", resp.StatusCode(), resp.String())
	}

	bbo := types.BBO{
		Bid:       parseFloat(result.Bid),
		Ask:       parseFloat(result.Ask),
		Timestamp: time.Now(),
	}
	if !bbo.Valid() {
		return types.BBO{}, fmt.Errorf("fetch bbo: invalid quote %q/%q for %s", result.Bid, result.Ask, contractID)
	}
	return bbo, nil
}

// orderPayload is the POST /api/v1/order request body.
type orderPayload struct {
	ContractID      string `json:"contract_id"`
	Side            string `json:"side"`
	Price           string `json:"price"`
	Size            string `json:"size"`
	TimeInForce     string `json:"time_in_force"`       // "IOC" or "GTC"
	PostOnly        bool   `json:"post_only,omitempty"` // reject instead of crossing
	IsolatedMargin  int64  `json:"isolated_margin"`     // 1e6-scaled USD
	BypassLiqFilter bool   `json:"bypass_liquidity_filter,omitempty"`
}

// PlaceIOCOrder submits a marketable limit with IOC semantics. Any unfilled
// remainder is cancelled by the venue; the result carries the filled size.
func (c *Client) PlaceIOCOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	return c.placeOrder(ctx, req, "IOC", false)
}

// PlaceOpenOrder submits a passive limit with a post-only guarantee.
func (c *Client) PlaceOpenOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	return c.placeOrder(ctx, req, "GTC", true)
}

func (c *Client) placeOrder(ctx context.Context, req types.OrderRequest, tif string, postOnly bool) (*types.OrderResult, error) {
	if req.IsolatedMarginX6 <= 0 {
		// Omitting margin silently degrades to cross margin at the venue.
		return nil, fmt.Errorf("place order: isolated margin not set for %s", req.ContractID)
	}

	if c.dryRun {
		id := fmt.Sprintf("dry-run-%d", c.dryRunSeq.Add(1))
		c.logger.Info("DRY-RUN: would place order",
			"contract", req.ContractID, "side", req.Side, "size", req.Quantity,
			"price", req.Price, "tif", tif, "post_only", postOnly,
		)
		return &types.OrderResult{
			OrderID:    id,
			Status:     types.FillStatusFilled,
			FilledSize: req.Quantity,
			AvgPrice:   req.Price,
		}, nil
	}

	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payload := orderPayload{
		ContractID:      req.ContractID,
		Side:            string(req.Side),
		Price:           formatFloat(req.Price),
		Size:            formatFloat(req.Quantity),
		TimeInForce:     tif,
		PostOnly:        postOnly,
		IsolatedMargin:  req.IsolatedMarginX6,
		BypassLiqFilter: req.BypassLiqFilter,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.Headers("POST", "/api/v1/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("auth headers: %w", err)
	}

	var result types.OrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/api/v1/order")
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Debug("order placed",
		"order_id", result.OrderID,
		"contract", req.ContractID,
		"side", req.Side,
		"status", result.Status,
		"filled", result.FilledSize,
	)
	return &result, nil
}

// CancelOrder cancels a resting order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	path := "/api/v1/order/" + orderID
	headers, err := c.auth.Headers("DELETE", path, "")
	if err != nil {
		return fmt.Errorf("auth headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete(path)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// orderStatusResponse is GET /api/v1/order/{id}.
type orderStatusResponse struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	FilledSize string `json:"filled_size"`
	AvgPrice   string `json:"avg_price"`
}

// WaitForFill polls the order until it reaches a terminal status or the
// timeout elapses. On timeout it returns TIMED_OUT with whatever filled so
// far; callers decide whether to cancel.
func (c *Client) WaitForFill(ctx context.Context, orderID string, timeout time.Duration) (*types.FillInfo, error) {
	if c.dryRun {
		return &types.FillInfo{Status: types.FillStatusFilled}, nil
	}

	deadline := time.Now().Add(timeout)
	last := &types.FillInfo{Status: types.FillStatusTimedOut}

	for {
		if err := c.rl.Market.Wait(ctx); err != nil {
			return nil, err
		}

		path := "/api/v1/order/" + orderID
		headers, err := c.auth.Headers("GET", path, "")
		if err != nil {
			return nil, fmt.Errorf("auth headers: %w", err)
		}

		var result orderStatusResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetResult(&result).
			Get(path)
		if err != nil {
			return nil, fmt.Errorf("order status: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("order status: status %d: %s", resp.StatusCode(), resp.String())
		}

		info := &types.FillInfo{
			Status:     types.FillStatus(result.Status),
			FilledSize: parseFloat(result.FilledSize),
			AvgPrice:   parseFloat(result.AvgPrice),
		}
		switch info.Status {
		case types.FillStatusFilled, types.FillStatusCancelled, types.FillStatusRejected:
			return info, nil
		}
		last = info

		if time.Now().After(deadline) {
			last.Status = types.FillStatusTimedOut
			return last, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fillPollInterval):
		}
	}
}

// positionEntry is one element of GET /api/v1/positions.
type positionEntry struct {
	ContractID string `json:"contract_id"`
	Size       string `json:"size"` // signed: long positive, short negative
}

// AccountPositions returns the signed position size per contract.
// This is the source of truth at reconciliation points.
func (c *Client) AccountPositions(ctx context.Context) (map[string]float64, error) {
	if c.dryRun {
		return map[string]float64{}, nil
	}
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.Headers("GET", "/api/v1/positions", "")
	if err != nil {
		return nil, fmt.Errorf("auth headers: %w", err)
	}

	var result []positionEntry
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/api/v1/positions")
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("positions: status %d: %s", resp.StatusCode(), resp.String())
	}

	positions := make(map[string]float64, len(result))
	for _, entry := range result {
		positions[entry.ContractID] = parseFloat(entry.Size)
	}
	return positions, nil
}

// fundingResponse is GET /api/v1/funding.
type fundingResponse struct {
	ContractID string `json:"contract_id"`
	Rate       string `json:"rate"` // annualized
}

// FundingRate returns the annualized funding rate for a contract.
// Results are cached for an hour; a stale cached value is preferred over a
// failing request so the accountant never blocks the cycle.
func (c *Client) FundingRate(ctx context.Context, contractID string) (float64, error) {
	c.fundingMu.Lock()
	if entry, ok := c.fundingCache[contractID]; ok && time.Since(entry.fetchedAt) < fundingCacheTTL {
		c.fundingMu.Unlock()
		return entry.rate, nil
	}
	c.fundingMu.Unlock()

	if err := c.rl.Market.Wait(ctx); err != nil {
		return 0, err
	}

	var result fundingResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("contract_id", contractID).
		SetResult(&result).
		Get("/api/v1/funding")
	if err != nil || resp.StatusCode() != http.StatusOK {
		c.fundingMu.Lock()
		entry, ok := c.fundingCache[contractID]
		c.fundingMu.Unlock()
		if ok {
			return entry.rate, nil
		}
		if err != nil {
			return 0, fmt.Errorf("funding rate: %w", err)
		}
		return 0, fmt.Errorf("funding rate: status %d: %s", resp.StatusCode(), resp.String())
	}

	rate := parseFloat(result.Rate)
	c.fundingMu.Lock()
	c.fundingCache[contractID] = fundingEntry{rate: rate, fetchedAt: time.Now()}
	c.fundingMu.Unlock()
	return rate, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
