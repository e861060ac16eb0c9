// Package execution prices and places single-leg orders.
//
// The placer is a stateless transform between the cycle controller and the
// exchange client. Given a side, quantity, and mode it:
//
//   - IOC: builds a marketable limit (ask plus a small aggressiveness buffer
//     for buys, bid minus it for sells) so the order is guaranteed takable;
//     the venue cancels any unfilled remainder.
//   - POST_ONLY: rests at the passive side of the book, waits a bounded time
//     for the fill, cancels on timeout, and optionally sweeps the remainder
//     with an IOC.
//
// Every submission carries the isolated-margin amount (notional/leverage,
// 1e6-scaled). Omitting it would degrade the order to cross margin, which
// violates the risk model, so the exchange client rejects margin-less
// requests outright.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"pairfarm/internal/config"
	"pairfarm/internal/exchange"
	"pairfarm/internal/sizing"
	"pairfarm/pkg/types"
)

// Fill is one executed slice of a leg order. A single logical leg execution
// can produce fills under different modes (a partial maker fill swept by an
// IOC), and fee rates differ by mode, so the breakdown is preserved.
type Fill struct {
	Quantity float64
	Price    float64
	Mode     types.OrderMode
}

// Result aggregates the fills of one leg execution.
type Result struct {
	Fills []Fill
}

// FilledQty returns the total executed quantity.
func (r Result) FilledQty() float64 {
	var total float64
	for _, f := range r.Fills {
		total += f.Quantity
	}
	return total
}

// AvgPrice returns the size-weighted average fill price, 0 when unfilled.
func (r Result) AvgPrice() float64 {
	var qty, notional float64
	for _, f := range r.Fills {
		qty += f.Quantity
		notional += f.Quantity * f.Price
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}

// DominantMode returns the mode of the largest fill, defaulting to IOC.
// Recorded in the cycle log's order-type columns.
func (r Result) DominantMode() types.OrderMode {
	mode := types.ModeIOC
	var best float64
	for _, f := range r.Fills {
		if f.Quantity > best {
			best = f.Quantity
			mode = f.Mode
		}
	}
	return mode
}

// Complete reports whether the execution covered the requested quantity,
// within one tick.
func (r Result) Complete(requested, tick float64) bool {
	return r.FilledQty() >= requested-tick
}

// Placer submits orders and verifies fills for one venue.
type Placer struct {
	client   exchange.LegClient
	cfg      config.ExecutionConfig
	leverage float64
	logger   *slog.Logger
}

// New creates a placer.
func New(client exchange.LegClient, cfg config.ExecutionConfig, leverage float64, logger *slog.Logger) *Placer {
	return &Placer{
		client:   client,
		cfg:      cfg,
		leverage: leverage,
		logger:   logger.With("component", "placer"),
	}
}

// Execute runs one leg order to completion under the configured policy.
// With postOnlyFirst it attempts a passive fill and sweeps any remainder
// with an IOC; otherwise it goes straight to IOC. The result may be empty
// (nothing filled) without error — the venue rejected the order after all
// retries, and the controller decides what that means for the cycle.
func (p *Placer) Execute(ctx context.Context, leg types.LegSpec, side types.Side, quantity float64, bbo types.BBO, postOnlyFirst bool) (Result, error) {
	if !postOnlyFirst {
		return p.ExecuteIOC(ctx, leg, side, quantity, bbo)
	}

	result, err := p.executePostOnly(ctx, leg, side, quantity, bbo)
	if err != nil {
		return result, err
	}
	if result.Complete(quantity, leg.TickSize) {
		return result, nil
	}

	// Sweep the remainder aggressively. The maker portion keeps its mode so
	// fees are attributed at the maker rate.
	remainder := sizing.QuantizeToTick(quantity-result.FilledQty(), leg.TickSize)
	if remainder < leg.TickSize {
		return result, nil
	}
	p.logger.Info("post-only incomplete, sweeping remainder with IOC",
		"leg", leg.Ticker,
		"filled", result.FilledQty(),
		"remainder", remainder,
	)
	iocResult, err := p.ExecuteIOC(ctx, leg, side, remainder, bbo)
	result.Fills = append(result.Fills, iocResult.Fills...)
	return result, err
}

// ExecuteIOC submits a marketable limit and returns whatever filled.
// Emergency unwinds call this directly — passive orders are never allowed
// on that path.
func (p *Placer) ExecuteIOC(ctx context.Context, leg types.LegSpec, side types.Side, quantity float64, bbo types.BBO) (Result, error) {
	price := p.IOCPrice(side, bbo)
	req := types.OrderRequest{
		ContractID:       leg.ContractID,
		Side:             side,
		Quantity:         quantity,
		Price:            price,
		Mode:             types.ModeIOC,
		IsolatedMarginX6: MarginX6(quantity*price, p.leverage),
	}

	result, err := p.submitWithRetry(ctx, req, p.client.PlaceIOCOrder)
	if err != nil {
		return Result{}, err
	}
	if result == nil {
		// Rejected on every attempt
		return Result{}, nil
	}

	fill := types.FillInfo{
		Status:     result.Status,
		FilledSize: result.FilledSize,
		AvgPrice:   result.AvgPrice,
	}
	if fill.FilledSize == 0 && fill.Status != types.FillStatusRejected && fill.Status != types.FillStatusCancelled {
		// Fill reported asynchronously; IOC resolves within the venue's
		// matching pass, the wait is only a safety net.
		info, err := p.client.WaitForFill(ctx, result.OrderID, p.cfg.FillWaitTimeout)
		if err != nil {
			return Result{}, fmt.Errorf("ioc fill wait: %w", err)
		}
		fill = *info
	}

	if fill.FilledSize <= 0 {
		p.logger.Warn("ioc order unfilled",
			"leg", leg.Ticker, "side", side, "status", fill.Status)
		return Result{}, nil
	}

	return Result{Fills: []Fill{{
		Quantity: fill.FilledSize,
		Price:    fill.AvgPrice,
		Mode:     types.ModeIOC,
	}}}, nil
}

// executePostOnly rests a passive limit and waits up to PostOnlyTimeout.
func (p *Placer) executePostOnly(ctx context.Context, leg types.LegSpec, side types.Side, quantity float64, bbo types.BBO) (Result, error) {
	price := p.PassivePrice(side, bbo)
	req := types.OrderRequest{
		ContractID:       leg.ContractID,
		Side:             side,
		Quantity:         quantity,
		Price:            price,
		Mode:             types.ModePostOnly,
		IsolatedMarginX6: MarginX6(quantity*price, p.leverage),
	}

	result, err := p.submitWithRetry(ctx, req, p.client.PlaceOpenOrder)
	if err != nil {
		return Result{}, err
	}
	if result == nil || result.Status == types.FillStatusRejected {
		// Post-only that would cross is rejected, not repriced.
		return Result{}, nil
	}

	info, err := p.client.WaitForFill(ctx, result.OrderID, p.cfg.PostOnlyTimeout)
	if err != nil {
		// The order may still be resting; pull it so it cannot fill into an
		// untracked position.
		if cerr := p.client.CancelOrder(ctx, result.OrderID); cerr != nil {
			p.logger.Warn("cancel after fill-wait failure failed",
				"order_id", result.OrderID, "error", cerr)
		}
		return Result{}, fmt.Errorf("post-only fill wait: %w", err)
	}

	if info.Status != types.FillStatusFilled {
		// Not complete within the window: pull the order, keep the partial.
		if err := p.client.CancelOrder(ctx, result.OrderID); err != nil {
			p.logger.Warn("cancel after post-only timeout failed",
				"order_id", result.OrderID, "error", err)
		}
	}

	if info.FilledSize <= 0 {
		return Result{}, nil
	}
	avg := info.AvgPrice
	if avg == 0 {
		avg = price
	}
	return Result{Fills: []Fill{{
		Quantity: info.FilledSize,
		Price:    avg,
		Mode:     types.ModePostOnly,
	}}}, nil
}

// submitWithRetry submits an order with bounded retries and fixed backoff.
// Venue-side rejections (queue/liquidity filters included) are retried; the
// final attempt sets the liquidity-filter bypass flag. Returns (nil, nil)
// when every attempt was rejected.
func (p *Placer) submitWithRetry(ctx context.Context, req types.OrderRequest, place func(context.Context, types.OrderRequest) (*types.OrderResult, error)) (*types.OrderResult, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryMax; attempt++ {
		req.BypassLiqFilter = attempt == p.cfg.RetryMax

		result, err := place(ctx, req)
		if err == nil && result != nil && result.Status != types.FillStatusRejected {
			return result, nil
		}
		if err != nil {
			lastErr = err
			p.logger.Warn("order submission failed",
				"contract", req.ContractID,
				"attempt", attempt,
				"error", err,
			)
		} else {
			lastErr = nil
			p.logger.Warn("order rejected by venue",
				"contract", req.ContractID,
				"attempt", attempt,
				"bypass", req.BypassLiqFilter,
			)
		}

		if attempt == p.cfg.RetryMax {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.RetryBackoff):
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("submit order: %w", lastErr)
	}
	return nil, nil
}

// IOCPrice builds the marketable limit price: cross the spread plus the
// aggressiveness buffer so the order cannot miss the top of book.
func (p *Placer) IOCPrice(side types.Side, bbo types.BBO) float64 {
	buffer := p.cfg.IOCBufferBps / 10000
	if side == types.BUY {
		return bbo.Ask * (1 + buffer)
	}
	return bbo.Bid * (1 - buffer)
}

// PassivePrice rests at the near touch: join the bid when buying, the ask
// when selling.
func (p *Placer) PassivePrice(side types.Side, bbo types.BBO) float64 {
	if side == types.BUY {
		return bbo.Bid
	}
	return bbo.Ask
}

// MarginX6 converts a notional and leverage into the venue's 1e6-scaled
// isolated-margin integer. The scaling is applied exactly once, here at the
// client boundary.
func MarginX6(notionalUSD, leverage float64) int64 {
	if leverage <= 0 {
		leverage = 1
	}
	margin := decimal.NewFromFloat(notionalUSD).
		Div(decimal.NewFromFloat(leverage)).
		Mul(decimal.NewFromInt(1_000_000)).
		Round(0)
	return margin.IntPart()
}
