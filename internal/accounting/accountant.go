// Package accounting computes per-cycle PnL, fees, and funding, and owns the
// append-only cycle and spread-analysis logs plus the in-memory summary.
//
// The accountant is the only writer of both log files. Within a cycle the
// ordering is fixed: record append happens before the summary update, and
// both happen before the controller returns to IDLE.
package accounting

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"pairfarm/internal/config"
	"pairfarm/pkg/types"
)

// fundingIntervalsPerDay is the venue's 8-hour funding convention: three
// payments per day. The per-leg accrual over h hours at yearly rate r is
// notional × r / 365 / 3 × h. The denominator is interval count, not hours —
// a /24 here underpays by 8x.
const fundingIntervalsPerDay = 3

// defaultFundingRate is the conservative annualized fallback when the venue
// cannot supply a rate. Funding must never block a cycle.
const defaultFundingRate = 0.01

// Fill is one executed slice of a leg order, carrying the mode so the fee
// rate (taker for IOC, maker for POST_ONLY) is attributed per slice.
type Fill struct {
	Quantity float64 // unsigned
	Price    float64
	Mode     types.OrderMode
}

// LegResult is the raw execution outcome for one leg over a full cycle.
type LegResult struct {
	Leg         types.LegSpec
	EntrySide   types.Side // BUY for the long leg, SELL for the short leg
	EntryFills  []Fill
	ExitFills   []Fill
	FundingRate float64 // annualized; NaN means unavailable, the default applies
}

// Accountant turns executions into cycle records and maintains the summary.
type Accountant struct {
	fees      config.FeeConfig
	cycleLog  *CycleLog
	spreadLog *SpreadLog
	logger    *slog.Logger

	mu      sync.Mutex
	summary Summary
}

// Summary aggregates closed cycles. Restored from the on-disk cycle log at
// startup, so a restart with no open positions is equivalent to the initial
// state.
type Summary struct {
	TotalCycles      int64 // records written, including skip records
	SkippedCycles    int64
	ProfitableCycles int64
	LosingCycles     int64
	ZeroCycles       int64
	BestPnLUSD       float64
	WorstPnLUSD      float64
	FeesUSD          float64
	PnLNoFeeUSD      float64
	PnLWithFeeUSD    float64
}

// New creates an accountant over the opened logs and seeds the summary from
// the records already on disk.
func New(fees config.FeeConfig, cycleLog *CycleLog, spreadLog *SpreadLog, logger *slog.Logger) *Accountant {
	a := &Accountant{
		fees:      fees,
		cycleLog:  cycleLog,
		spreadLog: spreadLog,
		logger:    logger.With("component", "accounting"),
	}
	for _, rec := range cycleLog.Records() {
		a.applyToSummary(rec)
	}
	return a
}

// NextCycleID returns the id the controller must assign to the next cycle.
func (a *Accountant) NextCycleID() int64 {
	return a.cycleLog.LastCycleID() + 1
}

// BuildRecord computes the accounting for one completed (or aborted) cycle.
// It is a pure function of its inputs: re-running it over the same raw fills
// yields identical numbers.
func (a *Accountant) BuildRecord(cycleID int64, direction string, entryTime, exitTime time.Time, legs [types.Legs]LegResult, skipReason string) types.CycleRecord {
	rec := types.CycleRecord{
		CycleID:    cycleID,
		Direction:  direction,
		EntryTime:  entryTime,
		ExitTime:   exitTime,
		SkipReason: skipReason,
	}

	holdHours := exitTime.Sub(entryTime).Hours()
	if holdHours < 0 {
		holdHours = 0
	}

	for i, leg := range legs {
		entryQty, entryAvg := aggregate(leg.EntryFills)
		exitQty, exitAvg := aggregate(leg.ExitFills)

		sign := 1.0
		if leg.EntrySide == types.SELL {
			sign = -1.0
		}
		rec.Entry[i] = types.LegFill{Price: entryAvg, Quantity: sign * entryQty, Mode: dominantMode(leg.EntryFills)}
		rec.Exit[i] = types.LegFill{Price: exitAvg, Quantity: -sign * exitQty, Mode: dominantMode(leg.ExitFills)}

		// Directional PnL on the matched (closed) quantity.
		matched := entryQty
		if exitQty < matched {
			matched = exitQty
		}
		if matched > 0 {
			if leg.EntrySide == types.BUY {
				rec.PnLNoFeeUSD += (exitAvg - entryAvg) * matched
			} else {
				rec.PnLNoFeeUSD += (entryAvg - exitAvg) * matched
			}
		}

		// Fees per fill at the rate of its actual order type.
		for _, f := range leg.EntryFills {
			rec.FeesUSD += f.Quantity * f.Price * a.feeRate(f.Mode)
		}
		for _, f := range leg.ExitFills {
			rec.FeesUSD += f.Quantity * f.Price * a.feeRate(f.Mode)
		}

		// Funding accrual over the hold: longs receive at positive rates,
		// shorts pay.
		if matched > 0 && holdHours > 0 {
			rate := leg.FundingRate
			if math.IsNaN(rate) {
				rate = defaultFundingRate
			}
			notional := matched * entryAvg
			accrual := notional * rate / 365 / fundingIntervalsPerDay * holdHours
			rec.FundingPnLUSD += sign * accrual
		}
	}

	rec.PnLWithFeeUSD = rec.PnLNoFeeUSD - rec.FeesUSD + rec.FundingPnLUSD
	return rec
}

// Commit appends the record to the cycle log and then updates the summary.
// Exactly-once: the controller calls Commit a single time per cycle id,
// after reconciliation confirms flat positions.
func (a *Accountant) Commit(rec types.CycleRecord) error {
	if err := a.cycleLog.Append(rec); err != nil {
		return fmt.Errorf("append cycle record: %w", err)
	}
	a.applyToSummary(rec)

	a.logger.Info("cycle recorded",
		"cycle_id", rec.CycleID,
		"direction", rec.Direction,
		"hold_s", rec.HoldSeconds(),
		"pnl_no_fee", rec.PnLNoFeeUSD,
		"fees", rec.FeesUSD,
		"funding", rec.FundingPnLUSD,
		"pnl", rec.PnLWithFeeUSD,
		"skip_reason", rec.SkipReason,
	)
	return nil
}

// SpreadObservation is one gate evaluation plus the eventual cycle outcome.
type SpreadObservation struct {
	Time          time.Time
	PairSpreadBps float64
	LegSpreadBps  [types.Legs]float64
	BBOs          [types.Legs]types.BBO
	Executed      bool
	SkipReason    string
}

// RecordSpread appends one evaluation to the spread-analysis log.
func (a *Accountant) RecordSpread(obs SpreadObservation) {
	if a.spreadLog == nil {
		return
	}
	if err := a.spreadLog.Append(obs); err != nil {
		a.logger.Error("append spread record failed", "error", err)
	}
}

// Records returns the cycle records written or replayed so far.
func (a *Accountant) Records() []types.CycleRecord {
	return a.cycleLog.Records()
}

// Summary returns a copy of the aggregate counters.
func (a *Accountant) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary
}

func (a *Accountant) applyToSummary(rec types.CycleRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &a.summary
	s.TotalCycles++
	if rec.Skipped() {
		s.SkippedCycles++
	}

	s.FeesUSD += rec.FeesUSD
	s.PnLNoFeeUSD += rec.PnLNoFeeUSD
	s.PnLWithFeeUSD += rec.PnLWithFeeUSD

	if rec.Skipped() {
		return
	}

	first := s.ProfitableCycles+s.LosingCycles+s.ZeroCycles == 0
	switch {
	case rec.PnLWithFeeUSD > 0:
		s.ProfitableCycles++
	case rec.PnLWithFeeUSD < 0:
		s.LosingCycles++
	default:
		s.ZeroCycles++
	}
	if first || rec.PnLWithFeeUSD > s.BestPnLUSD {
		s.BestPnLUSD = rec.PnLWithFeeUSD
	}
	if first || rec.PnLWithFeeUSD < s.WorstPnLUSD {
		s.WorstPnLUSD = rec.PnLWithFeeUSD
	}
}

func (a *Accountant) feeRate(mode types.OrderMode) float64 {
	if mode == types.ModePostOnly {
		return a.fees.MakerBps / 10000
	}
	return a.fees.TakerBps / 10000
}

// aggregate returns total unsigned quantity and size-weighted average price.
func aggregate(fills []Fill) (qty, avg float64) {
	var notional float64
	for _, f := range fills {
		qty += f.Quantity
		notional += f.Quantity * f.Price
	}
	if qty > 0 {
		avg = notional / qty
	}
	return qty, avg
}

// dominantMode is the mode of the largest fill, empty when nothing filled
// so skip records leave the order-type columns blank.
func dominantMode(fills []Fill) types.OrderMode {
	var mode types.OrderMode
	var best float64
	for _, f := range fills {
		if f.Quantity > best {
			best = f.Quantity
			mode = f.Mode
		}
	}
	return mode
}
