// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order sides and modes,
// fill statuses, order-book levels, per-cycle records, and WebSocket event
// payloads. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"fmt"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side. Used for closing orders and emergency
// unwinds, which always trade against the held position.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// OrderMode enumerates the two placement styles the engine uses.
type OrderMode string

const (
	ModeIOC      OrderMode = "IOC"       // marketable limit, taker fee, remainder auto-cancelled
	ModePostOnly OrderMode = "POST_ONLY" // passive limit, maker fee, rejected if it would cross
)

// FillStatus is the terminal (or timed-out) state of an order as reported by
// the fill-wait primitive.
type FillStatus string

const (
	FillStatusFilled          FillStatus = "FILLED"
	FillStatusPartiallyFilled FillStatus = "PARTIALLY_FILLED"
	FillStatusCancelled       FillStatus = "CANCELLED"
	FillStatusTimedOut        FillStatus = "TIMED_OUT"
	FillStatusRejected        FillStatus = "REJECTED"
)

// DepthSide names a side of the order book for liquidity queries.
// Order sides map onto depth sides via ConsumedDepthSide: a buy consumes
// asks, a sell consumes bids. The two vocabularies are kept separate on
// purpose — conflating them is a recurring source of inverted book walks.
type DepthSide string

const (
	DepthBids DepthSide = "bids"
	DepthAsks DepthSide = "asks"
)

// ConsumedDepthSide returns the book side an aggressive order of the given
// side executes against.
func ConsumedDepthSide(s Side) DepthSide {
	if s == BUY {
		return DepthAsks
	}
	return DepthBids
}

// InvalidSlippageBps is returned by slippage estimation when the input is
// invalid (zero quantity) or the book cannot fill the requested size.
// It is a large finite value so that naive `<= ceiling` comparisons reject
// it; zero must never be used as an "OK" sentinel, since a zero-quantity
// walk of the book is trivially zero slippage.
const InvalidSlippageBps = 999999.0

// ————————————————————————————————————————————————————————————————————————
// Legs
// ————————————————————————————————————————————————————————————————————————

// Leg indices. The engine always operates over exactly two legs held in
// [2]-arrays; LegA is bought and LegB sold unless reverse_direction is set.
const (
	LegA = 0
	LegB = 1
	Legs = 2
)

// LegSpec is the immutable per-leg contract description.
type LegSpec struct {
	Ticker     string  // human name, e.g. "ETH"
	ContractID string  // venue contract identifier
	TickSize   float64 // minimum quantity increment
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is what the placer hands to the exchange client.
type OrderRequest struct {
	ContractID       string
	Side             Side
	Quantity         float64
	Price            float64
	Mode             OrderMode
	IsolatedMarginX6 int64 // notional/leverage scaled by 1e6, venue convention
	BypassLiqFilter  bool  // granted only on the final retry attempt
}

// OrderResult is the venue's synchronous response to an order submission.
type OrderResult struct {
	OrderID    string     `json:"order_id"`
	Status     FillStatus `json:"status"`
	FilledSize float64    `json:"filled_size,string"`
	AvgPrice   float64    `json:"avg_price,string"`
}

// FillInfo is the outcome of waiting on an order's fill.
type FillInfo struct {
	Status     FillStatus
	FilledSize float64
	AvgPrice   float64
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// BBO is a top-of-book snapshot. Immutable once written.
type BBO struct {
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// Valid reports whether the snapshot can be used for pricing.
func (b BBO) Valid() bool {
	return b.Bid > 0 && b.Ask > 0 && b.Ask >= b.Bid
}

// Mid returns (bid+ask)/2.
func (b BBO) Mid() float64 {
	return (b.Bid + b.Ask) / 2
}

// SpreadBps returns the bid-ask spread in basis points of the bid.
func (b BBO) SpreadBps() float64 {
	if b.Bid <= 0 {
		return 0
	}
	return 10000 * (b.Ask - b.Bid) / b.Bid
}

// PriceLevel is a single bid or ask level in the order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// ————————————————————————————————————————————————————————————————————————
// Sizing
// ————————————————————————————————————————————————————————————————————————

// SizingResult is the output of the liquidity-aware sizing layer.
type SizingResult struct {
	Quantity            float64 // tick-quantized quantity, 0 means skip
	SlippageBps         float64 // estimate for Quantity, InvalidSlippageBps when unusable
	SufficientLiquidity bool    // resting size within 20 levels covers Quantity
}

// ————————————————————————————————————————————————————————————————————————
// Cycles
// ————————————————————————————————————————————————————————————————————————

// CyclePhase is the controller's current state.
type CyclePhase string

const (
	PhaseIdle    CyclePhase = "IDLE"
	PhaseBuild   CyclePhase = "BUILD"
	PhaseMonitor CyclePhase = "MONITOR"
	PhaseUnwind  CyclePhase = "UNWIND"
)

// ExitReason records why the monitor loop released a position.
type ExitReason string

const (
	ExitProfitTarget ExitReason = "PROFIT_TARGET"
	ExitLossLimit    ExitReason = "LOSS_LIMIT"
	ExitTimeout      ExitReason = "TIMEOUT"
)

// LegFill summarizes one leg's execution within a cycle phase.
// Quantity is signed: long positive, short negative.
type LegFill struct {
	Price    float64
	Quantity float64
	Mode     OrderMode
}

// CycleRecord is the immutable accounting record of one BUILD/UNWIND round
// trip. Written to the append-only cycle log exactly once, after
// reconciliation confirms flat positions (or after emergency unwind).
type CycleRecord struct {
	CycleID   int64
	Direction string // e.g. "long_ETH/short_SOL"
	EntryTime time.Time
	ExitTime  time.Time

	Entry [Legs]LegFill
	Exit  [Legs]LegFill

	FeesUSD       float64
	FundingPnLUSD float64
	PnLNoFeeUSD   float64
	PnLWithFeeUSD float64

	SkipReason string // non-empty if the cycle did not execute normally
}

// HoldSeconds returns exit − entry in seconds.
func (r CycleRecord) HoldSeconds() float64 {
	if r.ExitTime.IsZero() || r.EntryTime.IsZero() {
		return 0
	}
	return r.ExitTime.Sub(r.EntryTime).Seconds()
}

// Skipped reports whether this record describes a cycle that did not
// complete a normal paired round trip.
func (r CycleRecord) Skipped() bool {
	return r.SkipReason != ""
}

// DirectionString builds the canonical direction label from the bought and
// sold leg tickers.
func DirectionString(longTicker, shortTicker string) string {
	return fmt.Sprintf("long_%s/short_%s", longTicker, shortTicker)
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events
// ————————————————————————————————————————————————————————————————————————
// These structs map to the JSON messages on the venue's public market stream.
// Prices and sizes arrive as strings to preserve decimal precision and are
// parsed at the marketdata boundary.

// WirePriceLevel is a price level as encoded on the wire.
type WirePriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSBookDepthEvent is a full depth snapshot for one contract.
type WSBookDepthEvent struct {
	Channel    string           `json:"channel"` // "depth"
	ContractID string           `json:"contract_id"`
	Bids       []WirePriceLevel `json:"bids"` // sorted descending by price
	Asks       []WirePriceLevel `json:"asks"` // sorted ascending by price
	Timestamp  string           `json:"timestamp"`
}

// WSBBOEvent is a top-of-book update for one contract.
type WSBBOEvent struct {
	Channel    string `json:"channel"` // "bbo"
	ContractID string `json:"contract_id"`
	Bid        string `json:"bid"`
	Ask        string `json:"ask"`
	Timestamp  string `json:"timestamp"`
}

// WSSubscribeMsg is sent after connecting to subscribe to market channels.
type WSSubscribeMsg struct {
	Op        string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels  []string `json:"channels"`
	Contracts []string `json:"contracts"`
}
