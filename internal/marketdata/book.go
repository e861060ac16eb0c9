// Package marketdata provides the read-only market view the engine prices
// against.
//
// Book mirrors the venue order book for a single perp contract. It is updated
// from the WebSocket stream via ApplyDepthEvent (full snapshots) and
// ApplyBBOEvent (top-of-book updates); the View falls back to REST BBO when
// the stream has not produced data yet.
//
// The Book is concurrency-safe (RWMutex protected) and provides the two
// depth queries the sizing layer needs: slippage estimation and available
// liquidity.
package marketdata

import (
	"strconv"
	"sync"
	"time"

	"pairfarm/pkg/types"
)

// Book maintains a local mirror of one contract's order book.
type Book struct {
	mu         sync.RWMutex
	contractID string
	bbo        types.BBO
	bids       []types.PriceLevel // sorted descending by price (best bid first)
	asks       []types.PriceLevel // sorted ascending by price (best ask first)
	depthAt    time.Time          // last time a depth snapshot arrived
	updated    time.Time          // last time any data arrived
}

// NewBook creates an empty book for a contract.
func NewBook(contractID string) *Book {
	return &Book{contractID: contractID}
}

// ApplyDepthEvent replaces the book with a full depth snapshot.
// Wire levels are parsed here; malformed levels are dropped.
func (b *Book) ApplyDepthEvent(evt types.WSBookDepthEvent) {
	bids := parseLevels(evt.Bids)
	asks := parseLevels(evt.Asks)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = bids
	b.asks = asks
	b.depthAt = time.Now()
	b.updated = b.depthAt

	// Depth snapshots carry the top of book too
	if len(bids) > 0 && len(asks) > 0 {
		b.bbo = types.BBO{Bid: bids[0].Price, Ask: asks[0].Price, Timestamp: b.updated}
	}
}

// ApplyBBOEvent updates the top of book from a bbo stream event.
func (b *Book) ApplyBBOEvent(evt types.WSBBOEvent) {
	bid := parseFloat(evt.Bid)
	ask := parseFloat(evt.Ask)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.bbo = types.BBO{Bid: bid, Ask: ask, Timestamp: time.Now()}
	b.updated = b.bbo.Timestamp
}

// BBO returns the latest top-of-book snapshot. ok is false when no valid
// quote has arrived yet.
func (b *Book) BBO() (types.BBO, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.bbo.Valid() {
		return types.BBO{}, false
	}
	return b.bbo, true
}

// HasDepth reports whether a depth snapshot has been received.
// Without depth the sizing layer must fall back to conservative half-sizing.
func (b *Book) HasDepth() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bids) > 0 || len(b.asks) > 0
}

// EstimateSlippage walks the side of the book an aggressive order of the
// given side would consume (buy → asks, sell → bids) and returns the
// notional-volume-weighted deviation from the top price in basis points.
//
// Returns InvalidSlippageBps for a non-positive quantity, an empty book, or
// a quantity the visible levels cannot fill. Zero is never used as an error
// value: a zero-quantity walk is trivially zero slippage, which would make
// `<= ceiling` checks pass for degenerate orders.
func (b *Book) EstimateSlippage(side types.Side, quantity float64) float64 {
	if quantity <= 0 {
		return types.InvalidSlippageBps
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.asks
	if types.ConsumedDepthSide(side) == types.DepthBids {
		levels = b.bids
	}
	if len(levels) == 0 {
		return types.InvalidSlippageBps
	}

	top := levels[0].Price
	if top <= 0 {
		return types.InvalidSlippageBps
	}

	remaining := quantity
	var notional float64
	for _, lvl := range levels {
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		notional += take * lvl.Price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	if remaining > 0 {
		// Book exhausted before the order would fill
		return types.InvalidSlippageBps
	}

	avg := notional / quantity
	dev := avg - top
	if dev < 0 {
		dev = -dev
	}
	return 10000 * dev / top
}

// AvailableLiquidity returns the cumulative resting size over the first
// maxLevels levels of the given depth side.
func (b *Book) AvailableLiquidity(side types.DepthSide, maxLevels int) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.asks
	if side == types.DepthBids {
		levels = b.bids
	}
	if maxLevels > 0 && len(levels) > maxLevels {
		levels = levels[:maxLevels]
	}

	var total float64
	for _, lvl := range levels {
		total += lvl.Size
	}
	return total
}

// IsStale returns true if the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last book update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

func parseLevels(wire []types.WirePriceLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(wire))
	for _, w := range wire {
		price := parseFloat(w.Price)
		size := parseFloat(w.Size)
		if price <= 0 || size <= 0 {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
