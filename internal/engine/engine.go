// Package engine is the cycle controller of the pair execution bot.
//
// It wires together all subsystems:
//
//  1. The market feed streams depth and BBO for both legs into the View.
//  2. The Gate blocks entries until the pair spread clears the threshold.
//  3. The Estimator sizes each leg within the slippage budget.
//  4. The Placer executes both legs concurrently (BUILD, then UNWIND).
//  5. The Accountant turns fills into cycle records and the summary.
//
// The controller is a four-state machine: IDLE → BUILD → MONITOR → UNWIND
// → IDLE. Position state never survives a cycle: every path out of BUILD
// ends with reconciliation against the venue's account positions, and a
// residual that cannot be flattened halts the engine rather than letting an
// unhedged leg drift.
//
// Lifecycle: New() → Start() → [runs until SIGINT or iteration cap] → Stop()
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pairfarm/internal/accounting"
	"pairfarm/internal/config"
	"pairfarm/internal/exchange"
	"pairfarm/internal/execution"
	"pairfarm/internal/gate"
	"pairfarm/internal/marketdata"
	"pairfarm/internal/sizing"
	"pairfarm/pkg/types"
)

// unwindTimeout bounds how long a detached UNWIND or emergency close may run
// after the run context is cancelled. Shutdown never abandons an open pair.
const unwindTimeout = 30 * time.Second

// maxConsecutiveGateErrors halts the engine when market data is persistently
// unavailable; a single stream hiccup only costs one pause.
const maxConsecutiveGateErrors = 5

// MarketStream is the slice of the WebSocket feed the engine manages.
// *exchange.MarketFeed satisfies it.
type MarketStream interface {
	Run(ctx context.Context) error
	Subscribe(ctx context.Context, contractIDs []string) error
	DepthEvents() <-chan types.WSBookDepthEvent
	BBOEvents() <-chan types.WSBBOEvent
	Close() error
}

// legPlan is the per-leg input to one BUILD: which way the leg trades and
// how much, as decided by direction config and the sizing pass.
type legPlan struct {
	spec     types.LegSpec
	side     types.Side
	quantity float64
	bbo      types.BBO
}

// Engine runs the cycle loop over a configured pair.
type Engine struct {
	cfg        config.Config
	client     exchange.LegClient
	view       *marketdata.View
	gate       *gate.Gate
	estimator  *sizing.Estimator
	placer     *execution.Placer
	accountant *accounting.Accountant
	feed       MarketStream
	logger     *slog.Logger

	phaseMu sync.Mutex
	phase   types.CyclePhase

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// done closes when the cycle loop returns, so main can exit on an
	// iteration cap or a halt without waiting for a signal.
	done chan struct{}
}

// New wires the engine over already-constructed components.
func New(
	cfg config.Config,
	client exchange.LegClient,
	view *marketdata.View,
	g *gate.Gate,
	estimator *sizing.Estimator,
	placer *execution.Placer,
	accountant *accounting.Accountant,
	feed MarketStream,
	logger *slog.Logger,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		client:     client,
		view:       view,
		gate:       g,
		estimator:  estimator,
		placer:     placer,
		accountant: accountant,
		feed:       feed,
		logger:     logger.With("component", "engine"),
		phase:      types.PhaseIdle,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Phase returns the controller's current state.
func (e *Engine) Phase() types.CyclePhase {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()
	return e.phase
}

func (e *Engine) setPhase(p types.CyclePhase) {
	e.phaseMu.Lock()
	prev := e.phase
	e.phase = p
	e.phaseMu.Unlock()
	if prev != p {
		e.logger.Debug("phase transition", "from", prev, "to", p)
	}
}

// Done closes when the cycle loop has exited (iteration cap reached, halted,
// or Stop called).
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Start launches the market feed, the view dispatcher, and the cycle loop.
func (e *Engine) Start() error {
	contracts := []string{
		e.view.Leg(types.LegA).ContractID,
		e.view.Leg(types.LegB).ContractID,
	}
	if err := e.feed.Subscribe(e.ctx, contracts); err != nil {
		return fmt.Errorf("subscribe market feed: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.feed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.view.Run(e.ctx, e.feed)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(e.done)
		e.run()
	}()

	return nil
}

// Stop cancels the run context and waits for the cycle loop to finish.
// A cycle caught mid-BUILD or mid-MONITOR completes its UNWIND on a
// detached context before the loop returns.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()
	if err := e.feed.Close(); err != nil {
		e.logger.Warn("close market feed", "error", err)
	}

	s := e.accountant.Summary()
	e.logger.Info("session summary",
		"cycles", s.TotalCycles,
		"skipped", s.SkippedCycles,
		"profitable", s.ProfitableCycles,
		"losing", s.LosingCycles,
		"pnl_no_fee", s.PnLNoFeeUSD,
		"fees", s.FeesUSD,
		"pnl", s.PnLWithFeeUSD,
		"best", s.BestPnLUSD,
		"worst", s.WorstPnLUSD,
	)
	e.logger.Info("shutdown complete")
}

// run is the main cycle loop.
func (e *Engine) run() {
	// A previous run that died mid-cycle leaves positions on the venue.
	// Flatten them before trusting the IDLE invariant.
	if err := e.reconcileStartup(); err != nil {
		e.logger.Error("startup reconciliation failed, halting", "error", err)
		return
	}

	gateErrors := 0
	for iteration := 0; ; iteration++ {
		if e.cfg.Engine.Iterations > 0 && iteration >= e.cfg.Engine.Iterations {
			e.logger.Info("iteration cap reached", "iterations", iteration)
			return
		}
		if e.ctx.Err() != nil {
			return
		}

		e.setPhase(types.PhaseIdle)

		eval, err := e.gate.Await(e.ctx)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			gateErrors++
			e.logger.Warn("spread gate error",
				"error", err, "consecutive", gateErrors)
			if gateErrors >= maxConsecutiveGateErrors {
				e.logger.Error("market data unavailable, halting")
				return
			}
			e.pause()
			continue
		}
		gateErrors = 0

		if !eval.Go {
			// Pre-gate skip: no cycle id is consumed, only a spread row.
			e.logger.Info("cycle skipped at gate",
				"pair_spread_bps", eval.PairSpreadBps,
				"reason", eval.Reason,
			)
			e.accountant.RecordSpread(observation(eval, false, eval.Reason))
			e.pause()
			continue
		}

		if err := e.runCycle(eval); err != nil {
			e.logger.Error("cycle failed, halting", "error", err)
			return
		}
		e.pause()
	}
}

func (e *Engine) pause() {
	if e.cfg.Engine.CyclePause <= 0 {
		return
	}
	select {
	case <-e.ctx.Done():
	case <-time.After(e.cfg.Engine.CyclePause):
	}
}

// runCycle executes one BUILD/MONITOR/UNWIND round trip. A non-nil error is
// fatal: it means positions could not be verified flat afterwards.
func (e *Engine) runCycle(eval gate.Evaluation) error {
	cycleID := e.accountant.NextCycleID()
	plans, direction := e.plan(eval)

	e.logger.Info("cycle starting",
		"cycle_id", cycleID,
		"direction", direction,
		"pair_spread_bps", eval.PairSpreadBps,
	)

	// Sizing. Any per-leg skip reason aborts before orders exist.
	perLegNotional := e.cfg.Pair.NotionalUSD / 2
	for i := range plans {
		book := e.view.Book(i)
		var depth sizing.Depth
		if book.HasDepth() {
			depth = book
		}

		refPrice := consumedPrice(plans[i].side, plans[i].bbo)
		result, skip := e.estimator.LegSize(plans[i].spec, perLegNotional, plans[i].side, refPrice, depth)
		if skip != "" {
			e.recordSkip(cycleID, direction, eval, skip)
			return nil
		}
		plans[i].quantity = result.Quantity
		e.logger.Debug("leg sized",
			"leg", plans[i].spec.Ticker,
			"side", plans[i].side,
			"quantity", result.Quantity,
			"slippage_bps", result.SlippageBps,
			"sufficient_liquidity", result.SufficientLiquidity,
		)
	}

	// BUILD: both legs submitted concurrently, both awaited before any
	// completeness decision. Sequential submission widens the one-sided
	// window for no benefit.
	e.setPhase(types.PhaseBuild)
	entryTime := time.Now()
	entries, err := e.executePair(e.ctx, plans, e.cfg.Execution.UsePostOnlyEntry)
	if err != nil {
		// Transport failure or cancellation with unknown fill state on at
		// least one leg. Whatever did fill must go.
		e.logger.Error("entry execution failed", "error", err)
		return e.abortEntry(cycleID, direction, eval, entryTime, plans, entries,
			fmt.Sprintf("entry execution error: %v", err))
	}

	complete := [types.Legs]bool{}
	filledAny := false
	for i := range plans {
		complete[i] = entries[i].Complete(plans[i].quantity, plans[i].spec.TickSize)
		if entries[i].FilledQty() > 0 {
			filledAny = true
		}
	}

	switch {
	case complete[types.LegA] && complete[types.LegB]:
		// Paired entry; fall through to MONITOR.
	case !filledAny:
		e.logger.Warn("entry rejected on both legs", "cycle_id", cycleID)
		e.recordSkip(cycleID, direction, eval, "entry rejected on both legs")
		return nil
	default:
		// Name the leg that failed to fill so the operator sees which side
		// broke; with both incomplete, the one that filled less.
		failed := types.LegA
		switch {
		case complete[types.LegA]:
			failed = types.LegB
		case complete[types.LegB]:
			failed = types.LegA
		case entries[types.LegB].FilledQty() < entries[types.LegA].FilledQty():
			failed = types.LegB
		}
		e.logger.Error("one-sided fill, emergency unwind",
			"cycle_id", cycleID,
			"failed_leg", plans[failed].spec.Ticker,
		)
		return e.abortEntry(cycleID, direction, eval, entryTime, plans, entries,
			fmt.Sprintf("one-sided fill leg=%s", plans[failed].spec.Ticker))
	}

	entryNotional := pairNotional(plans, entries)

	// MONITOR: hold until profit target, loss limit, or timeout. Disabled
	// monitor means unwind immediately. Context cancellation falls through
	// to UNWIND so shutdown never strands the pair.
	exitReason := types.ExitTimeout
	if e.cfg.Monitor.Enabled {
		e.setPhase(types.PhaseMonitor)
		exitReason = e.monitor(plans, entries, entryNotional)
	}

	// UNWIND on a detached context: once a pair is open, closing it does
	// not answer to the run context.
	e.setPhase(types.PhaseUnwind)
	unwindCtx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), unwindTimeout)
	defer cancel()

	exitTime := time.Now()
	exits, err := e.unwindPair(unwindCtx, plans, entries)
	if err != nil {
		return fmt.Errorf("unwind cycle %d: %w", cycleID, err)
	}

	if err := e.reconcile(unwindCtx, plans); err != nil {
		return fmt.Errorf("reconcile cycle %d: %w", cycleID, err)
	}

	rec := e.accountant.BuildRecord(cycleID, direction, entryTime, exitTime,
		e.legResults(unwindCtx, plans, entries, exits), "")
	if err := e.accountant.Commit(rec); err != nil {
		return err
	}
	e.accountant.RecordSpread(observation(eval, true, ""))

	e.logger.Info("cycle complete",
		"cycle_id", cycleID,
		"exit_reason", exitReason,
		"hold_s", rec.HoldSeconds(),
		"pnl", rec.PnLWithFeeUSD,
	)
	return nil
}

// plan derives the per-leg sides and quotes for the configured direction.
func (e *Engine) plan(eval gate.Evaluation) ([types.Legs]legPlan, string) {
	longLeg, shortLeg := types.LegA, types.LegB
	if e.cfg.Pair.ReverseDirection {
		longLeg, shortLeg = shortLeg, longLeg
	}

	var plans [types.Legs]legPlan
	for i := 0; i < types.Legs; i++ {
		plans[i] = legPlan{spec: e.view.Leg(i), side: types.SELL, bbo: eval.BBOs[i]}
	}
	plans[longLeg].side = types.BUY

	direction := types.DirectionString(plans[longLeg].spec.Ticker, plans[shortLeg].spec.Ticker)
	return plans, direction
}

// executePair runs both legs concurrently and returns both results even when
// one leg errors, so the caller can see what actually filled.
func (e *Engine) executePair(ctx context.Context, plans [types.Legs]legPlan, postOnlyFirst bool) ([types.Legs]execution.Result, error) {
	var results [types.Legs]execution.Result
	g, gctx := errgroup.WithContext(ctx)
	for i := range plans {
		i := i
		g.Go(func() error {
			result, err := e.placer.Execute(gctx, plans[i].spec, plans[i].side, plans[i].quantity, plans[i].bbo, postOnlyFirst)
			results[i] = result
			return err
		})
	}
	err := g.Wait()
	return results, err
}

// monitor polls unrealized PnL until an exit condition fires.
func (e *Engine) monitor(plans [types.Legs]legPlan, entries [types.Legs]execution.Result, entryNotional float64) types.ExitReason {
	poll := e.cfg.Monitor.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	deadline := time.Now().Add(e.cfg.Monitor.Timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return types.ExitTimeout
		case <-ticker.C:
		}

		bps, ok := e.unrealizedBps(plans, entries, entryNotional)
		if ok {
			switch {
			case bps >= e.cfg.Monitor.MinProfitBps:
				e.logger.Info("profit target hit", "unrealized_bps", bps)
				return types.ExitProfitTarget
			case bps <= e.cfg.Monitor.LossLimitBps:
				e.logger.Warn("loss limit hit", "unrealized_bps", bps)
				return types.ExitLossLimit
			}
		}

		if time.Now().After(deadline) {
			e.logger.Info("monitor timeout", "hold", e.cfg.Monitor.Timeout)
			return types.ExitTimeout
		}
	}
}

// unrealizedBps marks both legs to the current mid and expresses the
// combined unrealized PnL in basis points of entry notional.
func (e *Engine) unrealizedBps(plans [types.Legs]legPlan, entries [types.Legs]execution.Result, entryNotional float64) (float64, bool) {
	if entryNotional <= 0 {
		return 0, false
	}

	var pnl float64
	for i := range plans {
		bbo, err := e.view.BBO(e.ctx, i)
		if err != nil {
			return 0, false
		}
		qty := entries[i].FilledQty()
		avg := entries[i].AvgPrice()
		if plans[i].side == types.BUY {
			pnl += (bbo.Mid() - avg) * qty
		} else {
			pnl += (avg - bbo.Mid()) * qty
		}
	}
	return 10000 * pnl / entryNotional, true
}

// unwindPair closes both legs concurrently: each leg trades its entry fill
// magnitude on the opposite side. Remainders after the normal attempt are
// swept with emergency IOCs.
func (e *Engine) unwindPair(ctx context.Context, plans [types.Legs]legPlan, entries [types.Legs]execution.Result) ([types.Legs]execution.Result, error) {
	var exits [types.Legs]execution.Result
	g := new(errgroup.Group)
	for i := range plans {
		i := i
		g.Go(func() error {
			qty := sizing.QuantizeToTick(entries[i].FilledQty(), plans[i].spec.TickSize)
			if qty < plans[i].spec.TickSize {
				return nil
			}
			side := plans[i].side.Opposite()

			bbo, err := e.view.BBO(ctx, i)
			if err != nil {
				return fmt.Errorf("unwind quote %s: %w", plans[i].spec.Ticker, err)
			}

			result, err := e.placer.Execute(ctx, plans[i].spec, side, qty, bbo, e.cfg.Execution.UsePostOnlyEntry)
			if err != nil {
				return fmt.Errorf("unwind %s: %w", plans[i].spec.Ticker, err)
			}

			if !result.Complete(qty, plans[i].spec.TickSize) {
				remainder := sizing.QuantizeToTick(qty-result.FilledQty(), plans[i].spec.TickSize)
				if remainder >= plans[i].spec.TickSize {
					swept, err := e.emergencyClose(ctx, plans[i].spec, side, remainder)
					if err != nil {
						return err
					}
					result.Fills = append(result.Fills, swept.Fills...)
				}
			}
			exits[i] = result
			return nil
		})
	}
	err := g.Wait()
	return exits, err
}

// abortEntry is the one-sided-fill escape hatch: flatten whatever filled,
// verify flat, and record a skip cycle carrying the partial fills so fees
// and any scratch PnL are accounted.
func (e *Engine) abortEntry(cycleID int64, direction string, eval gate.Evaluation, entryTime time.Time, plans [types.Legs]legPlan, entries [types.Legs]execution.Result, reason string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), unwindTimeout)
	defer cancel()

	var exits [types.Legs]execution.Result
	for i := range plans {
		qty := sizing.QuantizeToTick(entries[i].FilledQty(), plans[i].spec.TickSize)
		if qty < plans[i].spec.TickSize {
			continue
		}
		result, err := e.emergencyClose(ctx, plans[i].spec, plans[i].side.Opposite(), qty)
		if err != nil {
			return fmt.Errorf("emergency unwind %s: %w", plans[i].spec.Ticker, err)
		}
		exits[i] = result
	}

	if err := e.reconcile(ctx, plans); err != nil {
		return fmt.Errorf("reconcile after emergency unwind: %w", err)
	}

	rec := e.accountant.BuildRecord(cycleID, direction, entryTime, time.Now(),
		e.legResults(ctx, plans, entries, exits), reason)
	if err := e.accountant.Commit(rec); err != nil {
		return err
	}
	e.accountant.RecordSpread(observation(eval, false, reason))
	return nil
}

// emergencyClose market-closes a quantity with an IOC, retrying with fresh
// quotes until filled or out of attempts. Passive orders are never allowed
// on this path.
func (e *Engine) emergencyClose(ctx context.Context, leg types.LegSpec, side types.Side, quantity float64) (execution.Result, error) {
	var total execution.Result
	remaining := quantity

	for attempt := 0; attempt < e.cfg.Execution.RetryMax; attempt++ {
		bbo, err := e.view.BBO(ctx, e.legIndex(leg))
		if err != nil {
			return total, fmt.Errorf("emergency quote %s: %w", leg.Ticker, err)
		}

		result, err := e.placer.ExecuteIOC(ctx, leg, side, remaining, bbo)
		if err != nil {
			return total, err
		}
		total.Fills = append(total.Fills, result.Fills...)

		remaining = sizing.QuantizeToTick(quantity-total.FilledQty(), leg.TickSize)
		if remaining < leg.TickSize {
			return total, nil
		}
		e.logger.Warn("emergency close partial, retrying",
			"leg", leg.Ticker, "remaining", remaining, "attempt", attempt+1)
	}
	return total, fmt.Errorf("emergency close %s: %.8f unfilled", leg.Ticker, remaining)
}

func (e *Engine) legIndex(leg types.LegSpec) int {
	for i := 0; i < types.Legs; i++ {
		if e.view.Leg(i).ContractID == leg.ContractID {
			return i
		}
	}
	return types.LegA
}

// reconcileStartup flattens any position left behind by a previous run.
func (e *Engine) reconcileStartup() error {
	ctx, cancel := context.WithTimeout(e.ctx, unwindTimeout)
	defer cancel()

	var plans [types.Legs]legPlan
	for i := 0; i < types.Legs; i++ {
		plans[i] = legPlan{spec: e.view.Leg(i)}
	}
	return e.reconcile(ctx, plans)
}

// reconcile verifies both legs are flat at the venue, emergency-closing any
// residual above one tick. A residual that survives the close is fatal.
func (e *Engine) reconcile(ctx context.Context, plans [types.Legs]legPlan) error {
	residuals, err := e.residuals(ctx, plans)
	if err != nil {
		return err
	}

	closed := false
	for i, residual := range residuals {
		if math.Abs(residual) < plans[i].spec.TickSize {
			continue
		}
		side := types.SELL
		if residual < 0 {
			side = types.BUY
		}
		e.logger.Warn("residual position, emergency closing",
			"leg", plans[i].spec.Ticker, "residual", residual)
		qty := sizing.QuantizeToTick(math.Abs(residual), plans[i].spec.TickSize)
		if _, err := e.emergencyClose(ctx, plans[i].spec, side, qty); err != nil {
			return err
		}
		closed = true
	}
	if !closed {
		return nil
	}

	residuals, err = e.residuals(ctx, plans)
	if err != nil {
		return err
	}
	for i, residual := range residuals {
		if math.Abs(residual) >= plans[i].spec.TickSize {
			return errors.New("position residual survived emergency close, manual intervention required")
		}
	}
	return nil
}

func (e *Engine) residuals(ctx context.Context, plans [types.Legs]legPlan) ([types.Legs]float64, error) {
	var out [types.Legs]float64
	positions, err := e.client.AccountPositions(ctx)
	if err != nil {
		return out, fmt.Errorf("fetch positions: %w", err)
	}
	for i := range plans {
		out[i] = positions[plans[i].spec.ContractID]
	}
	return out, nil
}

// legResults converts raw execution results into the accountant's input,
// attaching the funding rate per leg. A failed fetch is marked NaN so the
// accountant applies its conservative default; a genuine 0.0 rate stays 0.
func (e *Engine) legResults(ctx context.Context, plans [types.Legs]legPlan, entries, exits [types.Legs]execution.Result) [types.Legs]accounting.LegResult {
	var out [types.Legs]accounting.LegResult
	for i := range plans {
		rate, err := e.client.FundingRate(ctx, plans[i].spec.ContractID)
		if err != nil {
			e.logger.Warn("funding rate unavailable, using default",
				"leg", plans[i].spec.Ticker, "error", err)
			rate = math.NaN()
		}
		out[i] = accounting.LegResult{
			Leg:         plans[i].spec,
			EntrySide:   plans[i].side,
			EntryFills:  accountingFills(entries[i]),
			ExitFills:   accountingFills(exits[i]),
			FundingRate: rate,
		}
	}
	return out
}

// recordSkip writes a no-trade cycle record (sizing rejected a leg after the
// gate passed, so the cycle id is already consumed).
func (e *Engine) recordSkip(cycleID int64, direction string, eval gate.Evaluation, reason string) {
	e.logger.Info("cycle skipped", "cycle_id", cycleID, "reason", reason)
	now := time.Now()
	rec := e.accountant.BuildRecord(cycleID, direction, now, now, [types.Legs]accounting.LegResult{}, reason)
	if err := e.accountant.Commit(rec); err != nil {
		e.logger.Error("commit skip record failed", "cycle_id", cycleID, "error", err)
	}
	e.accountant.RecordSpread(observation(eval, false, reason))
}

func accountingFills(result execution.Result) []accounting.Fill {
	if len(result.Fills) == 0 {
		return nil
	}
	fills := make([]accounting.Fill, len(result.Fills))
	for i, f := range result.Fills {
		fills[i] = accounting.Fill{Quantity: f.Quantity, Price: f.Price, Mode: f.Mode}
	}
	return fills
}

// pairNotional is the total entry notional across both legs.
func pairNotional(plans [types.Legs]legPlan, entries [types.Legs]execution.Result) float64 {
	var total float64
	for i := range plans {
		total += entries[i].FilledQty() * entries[i].AvgPrice()
	}
	return total
}

// consumedPrice is the touch an aggressive order of the given side executes
// against, used as the sizing reference.
func consumedPrice(side types.Side, bbo types.BBO) float64 {
	if side == types.BUY {
		return bbo.Ask
	}
	return bbo.Bid
}

func observation(eval gate.Evaluation, executed bool, skipReason string) accounting.SpreadObservation {
	return accounting.SpreadObservation{
		Time:          eval.Time,
		PairSpreadBps: eval.PairSpreadBps,
		LegSpreadBps:  eval.LegSpreadBps,
		BBOs:          eval.BBOs,
		Executed:      executed,
		SkipReason:    skipReason,
	}
}
