package gate

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"pairfarm/internal/config"
	"pairfarm/internal/marketdata"
	"pairfarm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testLegs = [types.Legs]types.LegSpec{
	{Ticker: "ETH", ContractID: "ETH-PERP", TickSize: 0.001},
	{Ticker: "SOL", ContractID: "SOL-PERP", TickSize: 0.01},
}

// quoteClient serves scripted BBOs through the view's REST fallback path
// (the books stay empty, so every read hits FetchBBO).
type quoteClient struct {
	mu     sync.Mutex
	quotes map[string]types.BBO
}

func newQuoteClient(quotes map[string]types.BBO) *quoteClient {
	return &quoteClient{quotes: quotes}
}

func (c *quoteClient) setQuote(contractID string, bbo types.BBO) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[contractID] = bbo
}

func (c *quoteClient) FetchBBO(ctx context.Context, contractID string) (types.BBO, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bbo := c.quotes[contractID]
	bbo.Timestamp = time.Now()
	return bbo, nil
}

func (c *quoteClient) PlaceIOCOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	return nil, nil
}

func (c *quoteClient) PlaceOpenOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	return nil, nil
}

func (c *quoteClient) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (c *quoteClient) WaitForFill(ctx context.Context, orderID string, timeout time.Duration) (*types.FillInfo, error) {
	return nil, nil
}

func (c *quoteClient) AccountPositions(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (c *quoteClient) FundingRate(ctx context.Context, contractID string) (float64, error) {
	return 0, nil
}

// quoteWithSpread builds a BBO whose spread is exactly spreadBps of the bid.
func quoteWithSpread(bid, spreadBps float64) types.BBO {
	return types.BBO{Bid: bid, Ask: bid * (1 + spreadBps/10000)}
}

func newTestGate(cfg config.GateConfig, client *quoteClient) *Gate {
	view := marketdata.NewView(testLegs, client, testLogger())
	return New(cfg, view, testLogger())
}

func TestEvaluatePasses(t *testing.T) {
	t.Parallel()
	client := newQuoteClient(map[string]types.BBO{
		"ETH-PERP": quoteWithSpread(2000, 25),
		"SOL-PERP": quoteWithSpread(150, 25),
	})
	g := newTestGate(config.GateConfig{MinSpreadBps: 20}, client)

	eval, err := g.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !eval.Go {
		t.Fatalf("expected go, got reason %q", eval.Reason)
	}
	if eval.PairSpreadBps < 24.9 || eval.PairSpreadBps > 25.1 {
		t.Errorf("pair spread = %v, want ~25", eval.PairSpreadBps)
	}
}

func TestEvaluateExactThresholdPasses(t *testing.T) {
	t.Parallel()
	client := newQuoteClient(map[string]types.BBO{
		"ETH-PERP": quoteWithSpread(10000, 20),
		"SOL-PERP": quoteWithSpread(10000, 20),
	})
	g := newTestGate(config.GateConfig{MinSpreadBps: 20}, client)

	eval, err := g.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !eval.Go {
		t.Errorf("spread exactly at threshold must pass, got reason %q", eval.Reason)
	}
}

func TestEvaluateTooNarrow(t *testing.T) {
	t.Parallel()
	client := newQuoteClient(map[string]types.BBO{
		"ETH-PERP": quoteWithSpread(2000, 10),
		"SOL-PERP": quoteWithSpread(150, 10),
	})
	g := newTestGate(config.GateConfig{MinSpreadBps: 20}, client)

	eval, err := g.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if eval.Go {
		t.Fatal("narrow spread must not pass")
	}
	if !strings.Contains(eval.Reason, "spread too narrow") {
		t.Errorf("reason = %q, want narrow-spread reason", eval.Reason)
	}
}

func TestEvaluateAveragesLegs(t *testing.T) {
	t.Parallel()
	// 30 and 10 average to 20: the pair passes even though one leg alone
	// would not. The float mean lands a few ulps under 20, which must not
	// flip the decision.
	client := newQuoteClient(map[string]types.BBO{
		"ETH-PERP": quoteWithSpread(2000, 30),
		"SOL-PERP": quoteWithSpread(150, 10),
	})
	g := newTestGate(config.GateConfig{MinSpreadBps: 20}, client)

	eval, err := g.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !eval.Go {
		t.Errorf("pair mean at threshold must pass, got reason %q", eval.Reason)
	}
}

func TestAwaitNoWaitConfigured(t *testing.T) {
	t.Parallel()
	client := newQuoteClient(map[string]types.BBO{
		"ETH-PERP": quoteWithSpread(2000, 5),
		"SOL-PERP": quoteWithSpread(150, 5),
	})
	g := newTestGate(config.GateConfig{MinSpreadBps: 20, WaitForSpread: false}, client)

	start := time.Now()
	eval, err := g.Await(context.Background())
	if err != nil {
		t.Fatalf("Await error: %v", err)
	}
	if eval.Go {
		t.Fatal("expected no-go")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Await without wait_for_spread must return immediately")
	}
}

func TestAwaitSpreadWidens(t *testing.T) {
	t.Parallel()
	client := newQuoteClient(map[string]types.BBO{
		"ETH-PERP": quoteWithSpread(2000, 5),
		"SOL-PERP": quoteWithSpread(150, 5),
	})
	g := newTestGate(config.GateConfig{
		MinSpreadBps:  20,
		WaitForSpread: true,
		MaxWait:       2 * time.Second,
		PollInterval:  5 * time.Millisecond,
	}, client)

	go func() {
		time.Sleep(20 * time.Millisecond)
		client.setQuote("ETH-PERP", quoteWithSpread(2000, 30))
		client.setQuote("SOL-PERP", quoteWithSpread(150, 30))
	}()

	eval, err := g.Await(context.Background())
	if err != nil {
		t.Fatalf("Await error: %v", err)
	}
	if !eval.Go {
		t.Fatalf("expected go after spread widened, got reason %q", eval.Reason)
	}
}

func TestAwaitTimeoutReportsBest(t *testing.T) {
	t.Parallel()
	client := newQuoteClient(map[string]types.BBO{
		"ETH-PERP": quoteWithSpread(2000, 8),
		"SOL-PERP": quoteWithSpread(150, 8),
	})
	g := newTestGate(config.GateConfig{
		MinSpreadBps:  20,
		WaitForSpread: true,
		MaxWait:       30 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}, client)

	// A brief improvement that still misses the threshold: the timeout
	// report must carry the best observation, not the last.
	go func() {
		time.Sleep(10 * time.Millisecond)
		client.setQuote("ETH-PERP", quoteWithSpread(2000, 15))
		time.Sleep(10 * time.Millisecond)
		client.setQuote("ETH-PERP", quoteWithSpread(2000, 8))
	}()

	eval, err := g.Await(context.Background())
	if err != nil {
		t.Fatalf("Await error: %v", err)
	}
	if eval.Go {
		t.Fatal("expected timeout no-go")
	}
	if !strings.Contains(eval.Reason, "spread wait timeout") {
		t.Errorf("reason = %q, want wait-timeout reason", eval.Reason)
	}
	if eval.PairSpreadBps < 8 {
		t.Errorf("best spread = %v, want >= initial 8", eval.PairSpreadBps)
	}
}

func TestAwaitContextCancelled(t *testing.T) {
	t.Parallel()
	client := newQuoteClient(map[string]types.BBO{
		"ETH-PERP": quoteWithSpread(2000, 5),
		"SOL-PERP": quoteWithSpread(150, 5),
	})
	g := newTestGate(config.GateConfig{
		MinSpreadBps:  20,
		WaitForSpread: true,
		MaxWait:       10 * time.Second,
		PollInterval:  5 * time.Millisecond,
	}, client)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := g.Await(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
}
