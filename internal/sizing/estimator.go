// Package sizing converts a target USD notional into a per-leg order
// quantity bounded by a slippage budget.
//
// The estimator is a stateless transform. Given a leg, a notional, a
// direction, and a reference price, it:
//
//  1. Rejects sizes below the contract tick BEFORE quantization — rounding
//     first silently produces a zero-quantity order that the slippage
//     estimator would then label "0 bps".
//  2. Quantizes down to the tick.
//  3. When BookDepth is available, binary-searches over notional for the
//     largest order whose estimated slippage stays under the ceiling, and
//     checks resting liquidity over the configured depth.
//  4. When depth is absent, falls back to a conservative half-size with a
//     pessimistic slippage estimate, so the engine keeps making progress
//     without liquidity evidence.
package sizing

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"pairfarm/internal/config"
	"pairfarm/pkg/types"
)

// Conservative fallback when no depth stream exists for a leg.
const (
	fallbackSizeFactor  = 0.5
	fallbackSlippageBps = 20.0
	searchIterations    = 12 // ~0.05% notional resolution
)

// Depth is the slice of the order book the estimator consumes.
// *marketdata.Book satisfies it; tests substitute fixed-level fakes.
// A nil Depth means no depth stream exists for the leg.
type Depth interface {
	EstimateSlippage(side types.Side, quantity float64) float64
	AvailableLiquidity(side types.DepthSide, maxLevels int) float64
}

// Estimator sizes orders within the configured slippage budget.
type Estimator struct {
	cfg    config.SizingConfig
	logger *slog.Logger
}

// New creates an estimator.
func New(cfg config.SizingConfig, logger *slog.Logger) *Estimator {
	return &Estimator{cfg: cfg, logger: logger.With("component", "sizing")}
}

// LegSize computes the order quantity for one leg.
//
// The returned skip reason is non-empty when the leg cannot be traded at
// all; the cycle controller records it and skips the cycle. A result with
// SufficientLiquidity=false but Quantity>0 is still tradeable — the
// quantity already respects the slippage ceiling.
func (e *Estimator) LegSize(leg types.LegSpec, notionalUSD float64, side types.Side, refPrice float64, depth Depth) (types.SizingResult, string) {
	if refPrice <= 0 {
		return invalidResult(), fmt.Sprintf("%s reference price unavailable", leg.Ticker)
	}

	rawQty := notionalUSD / refPrice

	// Minimum-size check precedes quantization.
	if rawQty < leg.TickSize {
		e.logger.Info("order size below exchange minimum",
			"leg", leg.Ticker,
			"raw_qty", rawQty,
			"tick", leg.TickSize,
		)
		return invalidResult(), fmt.Sprintf("%s order size below exchange minimum", leg.Ticker)
	}

	targetQty := QuantizeToTick(rawQty, leg.TickSize)

	if depth == nil {
		// No liquidity evidence: half size, pessimistic slippage.
		e.logger.Warn("book depth unavailable, using conservative half-size",
			"leg", leg.Ticker,
			"target_qty", targetQty,
		)
		halfQty := QuantizeToTick(targetQty*fallbackSizeFactor, leg.TickSize)
		if halfQty < leg.TickSize {
			return invalidResult(), fmt.Sprintf("%s order size below exchange minimum", leg.Ticker)
		}
		return types.SizingResult{
			Quantity:            halfQty,
			SlippageBps:         fallbackSlippageBps,
			SufficientLiquidity: false,
		}, ""
	}

	// Binary search over notional (not levels) for the largest order within
	// the slippage ceiling. Searching notional keeps the budget uniform
	// across legs regardless of tick size or price scale.
	lo, hi := 0.0, 2*notionalUSD
	for i := 0; i < searchIterations; i++ {
		mid := (lo + hi) / 2
		slip := depth.EstimateSlippage(side, mid/refPrice)
		if slip <= e.cfg.MaxSlippageBps {
			lo = mid
		} else {
			hi = mid
		}
	}

	qty := QuantizeToTick(lo/refPrice, leg.TickSize)
	if qty > targetQty {
		qty = targetQty
	}
	if qty < leg.TickSize {
		e.logger.Info("slippage exceeds ceiling at minimum size",
			"leg", leg.Ticker,
			"ceiling_bps", e.cfg.MaxSlippageBps,
		)
		return invalidResult(), fmt.Sprintf("%s slippage exceeds ceiling", leg.Ticker)
	}

	slipBps := depth.EstimateSlippage(side, qty)
	available := depth.AvailableLiquidity(types.ConsumedDepthSide(side), e.cfg.DepthLevels)
	sufficient := available >= qty
	if !sufficient {
		e.logger.Warn("resting liquidity below order size",
			"leg", leg.Ticker,
			"qty", qty,
			"available", available,
		)
	}

	return types.SizingResult{
		Quantity:            qty,
		SlippageBps:         slipBps,
		SufficientLiquidity: sufficient,
	}, ""
}

func invalidResult() types.SizingResult {
	return types.SizingResult{
		Quantity:            0,
		SlippageBps:         types.InvalidSlippageBps,
		SufficientLiquidity: false,
	}
}

// QuantizeToTick floors a quantity to a whole number of ticks.
// Decimal arithmetic avoids the float dust that makes floor(raw/tick)*tick
// land one tick low for exact multiples.
func QuantizeToTick(qty, tick float64) float64 {
	if tick <= 0 || qty <= 0 {
		return 0
	}
	q := decimal.NewFromFloat(qty)
	t := decimal.NewFromFloat(tick)
	out, _ := q.Div(t).Floor().Mul(t).Float64()
	return out
}
