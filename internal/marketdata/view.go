// view.go projects the two legs' books into the read API the engine uses.
package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pairfarm/internal/exchange"
	"pairfarm/pkg/types"
)

// staleAfter bounds how old streamed data may be before the View falls back
// to a synchronous REST quote.
const staleAfter = 10 * time.Second

// Feed is the slice of the market stream the View consumes.
type Feed interface {
	DepthEvents() <-chan types.WSBookDepthEvent
	BBOEvents() <-chan types.WSBBOEvent
}

// View is the shared-read market-data projection for both legs. The stream
// dispatcher is the only writer; the cycle controller and gate read the
// latest available snapshot.
type View struct {
	legs   [types.Legs]types.LegSpec
	books  [types.Legs]*Book
	client exchange.LegClient // REST fallback for BBO
	logger *slog.Logger
}

// NewView creates a view over the two legs.
func NewView(legs [types.Legs]types.LegSpec, client exchange.LegClient, logger *slog.Logger) *View {
	v := &View{
		legs:   legs,
		client: client,
		logger: logger.With("component", "marketdata"),
	}
	for i, leg := range legs {
		v.books[i] = NewBook(leg.ContractID)
	}
	return v
}

// Run consumes the market feed and applies events to the right leg's book.
// Blocks until ctx is cancelled. Must run independently of the cycle
// controller so snapshots stay fresh across suspension points.
func (v *View) Run(ctx context.Context, feed Feed) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-feed.DepthEvents():
			if book := v.bookFor(evt.ContractID); book != nil {
				book.ApplyDepthEvent(evt)
			}
		case evt := <-feed.BBOEvents():
			if book := v.bookFor(evt.ContractID); book != nil {
				book.ApplyBBOEvent(evt)
			}
		}
	}
}

func (v *View) bookFor(contractID string) *Book {
	for i, leg := range v.legs {
		if leg.ContractID == contractID {
			return v.books[i]
		}
	}
	return nil
}

// Leg returns the leg spec for an index.
func (v *View) Leg(leg int) types.LegSpec {
	return v.legs[leg]
}

// Book returns the depth book for a leg. Callers must check HasDepth before
// relying on depth queries.
func (v *View) Book(leg int) *Book {
	return v.books[leg]
}

// BBO returns the freshest top of book for a leg, preferring streamed data
// and falling back to a REST fetch when the stream is absent or stale.
func (v *View) BBO(ctx context.Context, leg int) (types.BBO, error) {
	book := v.books[leg]
	if bbo, ok := book.BBO(); ok && !book.IsStale(staleAfter) {
		return bbo, nil
	}

	v.logger.Debug("stream stale, fetching bbo via rest", "leg", v.legs[leg].Ticker)
	bbo, err := v.client.FetchBBO(ctx, v.legs[leg].ContractID)
	if err != nil {
		return types.BBO{}, fmt.Errorf("bbo %s: %w", v.legs[leg].Ticker, err)
	}
	return bbo, nil
}

// PairBBO returns both legs' quotes, failing if either is unavailable.
// The engine cannot price with only one side of the pair.
func (v *View) PairBBO(ctx context.Context) ([types.Legs]types.BBO, error) {
	var out [types.Legs]types.BBO
	for i := range v.legs {
		bbo, err := v.BBO(ctx, i)
		if err != nil {
			return out, err
		}
		out[i] = bbo
	}
	return out, nil
}
