// Package gate implements the pre-trade spread filter and the optional
// entry-timing wait.
//
// A cycle only pays for itself when the pair's combined bid-ask spread is
// wide enough to clear round-trip fees; with taker fees near 10 bps per
// round trip the default 20 bps floor is the break-even point before
// funding. The gate reads live streamed BBO (never polled REST unless the
// stream is down) so the decision is latency-free relative to the placer.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pairfarm/internal/config"
	"pairfarm/internal/marketdata"
	"pairfarm/pkg/types"
)

// Evaluation is the outcome of one gate check. The engine forwards every
// evaluation to the spread-analysis log once the cycle outcome is known.
type Evaluation struct {
	Time          time.Time
	BBOs          [types.Legs]types.BBO
	LegSpreadBps  [types.Legs]float64
	PairSpreadBps float64
	Go            bool
	Reason        string // non-empty when Go is false
}

// thresholdSlackBps absorbs float noise in the per-leg mean so a spread
// exactly at the threshold still passes.
const thresholdSlackBps = 1e-9

// Gate decides whether the current spread justifies opening a cycle.
type Gate struct {
	cfg    config.GateConfig
	view   *marketdata.View
	logger *slog.Logger
}

// New creates a spread gate over the market view.
func New(cfg config.GateConfig, view *marketdata.View, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		view:   view,
		logger: logger.With("component", "gate"),
	}
}

// Evaluate performs a single spread check against the latest snapshots.
// A pair spread exactly at the threshold passes.
func (g *Gate) Evaluate(ctx context.Context) (Evaluation, error) {
	bbos, err := g.view.PairBBO(ctx)
	if err != nil {
		return Evaluation{}, fmt.Errorf("spread gate: %w", err)
	}

	eval := Evaluation{
		Time: time.Now(),
		BBOs: bbos,
	}
	for i, bbo := range bbos {
		eval.LegSpreadBps[i] = bbo.SpreadBps()
		eval.PairSpreadBps += bbo.SpreadBps()
	}
	eval.PairSpreadBps /= types.Legs

	if eval.PairSpreadBps < g.cfg.MinSpreadBps-thresholdSlackBps {
		eval.Reason = fmt.Sprintf("spread too narrow %.1f bps < %g", eval.PairSpreadBps, g.cfg.MinSpreadBps)
		return eval, nil
	}

	eval.Go = true
	return eval, nil
}

// Await returns a go decision as soon as any snapshot clears the threshold.
// When waiting is disabled it is a single Evaluate. Otherwise it polls the
// view at the configured interval (at least 2 Hz) for up to MaxWait and, on
// timeout, returns the best-observed evaluation as a no-go so the skip
// record shows how close the spread came.
func (g *Gate) Await(ctx context.Context) (Evaluation, error) {
	eval, err := g.Evaluate(ctx)
	if err != nil {
		return eval, err
	}
	if eval.Go || !g.cfg.WaitForSpread {
		return eval, nil
	}

	g.logger.Debug("waiting for spread",
		"current_bps", eval.PairSpreadBps,
		"min_bps", g.cfg.MinSpreadBps,
		"max_wait", g.cfg.MaxWait,
	)

	best := eval
	deadline := time.Now().Add(g.cfg.MaxWait)
	ticker := time.NewTicker(g.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return best, ctx.Err()
		case <-ticker.C:
		}

		eval, err := g.Evaluate(ctx)
		if err != nil {
			return best, err
		}
		if eval.Go {
			return eval, nil
		}
		if eval.PairSpreadBps > best.PairSpreadBps {
			best = eval
		}
		if time.Now().After(deadline) {
			best.Reason = fmt.Sprintf("spread wait timeout, best %.1f bps < %g", best.PairSpreadBps, g.cfg.MinSpreadBps)
			return best, nil
		}
	}
}

func (g *Gate) pollInterval() time.Duration {
	if g.cfg.PollInterval <= 0 {
		return 500 * time.Millisecond
	}
	return g.cfg.PollInterval
}
