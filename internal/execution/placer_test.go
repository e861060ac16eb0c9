package execution

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"pairfarm/internal/config"
	"pairfarm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExecConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		PostOnlyTimeout: 50 * time.Millisecond,
		IOCBufferBps:    5,
		FillWaitTimeout: 50 * time.Millisecond,
		RetryMax:        3,
		RetryBackoff:    time.Millisecond,
	}
}

var solLeg = types.LegSpec{Ticker: "SOL", ContractID: "SOL-PERP", TickSize: 0.01}

// fakeClient scripts venue responses per call and records every request.
type fakeClient struct {
	mu        sync.Mutex
	iocReqs   []types.OrderRequest
	openReqs  []types.OrderRequest
	cancelled []string

	placeIOC  func(call int, req types.OrderRequest) (*types.OrderResult, error)
	placeOpen func(call int, req types.OrderRequest) (*types.OrderResult, error)
	waitFill  func(orderID string) (*types.FillInfo, error)
}

func (f *fakeClient) FetchBBO(ctx context.Context, contractID string) (types.BBO, error) {
	return types.BBO{Bid: 99, Ask: 100, Timestamp: time.Now()}, nil
}

func (f *fakeClient) PlaceIOCOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	f.mu.Lock()
	f.iocReqs = append(f.iocReqs, req)
	call := len(f.iocReqs)
	f.mu.Unlock()
	return f.placeIOC(call, req)
}

func (f *fakeClient) PlaceOpenOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	f.mu.Lock()
	f.openReqs = append(f.openReqs, req)
	call := len(f.openReqs)
	f.mu.Unlock()
	return f.placeOpen(call, req)
}

func (f *fakeClient) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, orderID)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) WaitForFill(ctx context.Context, orderID string, timeout time.Duration) (*types.FillInfo, error) {
	return f.waitFill(orderID)
}

func (f *fakeClient) AccountPositions(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (f *fakeClient) FundingRate(ctx context.Context, contractID string) (float64, error) {
	return 0.01, nil
}

func fullFill(call int, req types.OrderRequest) (*types.OrderResult, error) {
	return &types.OrderResult{
		OrderID:    "ord-1",
		Status:     types.FillStatusFilled,
		FilledSize: req.Quantity,
		AvgPrice:   req.Price,
	}, nil
}

func TestIOCPrice(t *testing.T) {
	t.Parallel()
	p := New(&fakeClient{}, testExecConfig(), 1, testLogger())
	bbo := types.BBO{Bid: 99, Ask: 100}

	if got, want := p.IOCPrice(types.BUY, bbo), 100*1.0005; math.Abs(got-want) > 1e-9 {
		t.Errorf("buy IOC price = %v, want %v", got, want)
	}
	if got, want := p.IOCPrice(types.SELL, bbo), 99*0.9995; math.Abs(got-want) > 1e-9 {
		t.Errorf("sell IOC price = %v, want %v", got, want)
	}
}

func TestPassivePrice(t *testing.T) {
	t.Parallel()
	p := New(&fakeClient{}, testExecConfig(), 1, testLogger())
	bbo := types.BBO{Bid: 99, Ask: 100}

	if got := p.PassivePrice(types.BUY, bbo); got != 99 {
		t.Errorf("buy passive price = %v, want 99 (join bid)", got)
	}
	if got := p.PassivePrice(types.SELL, bbo); got != 100 {
		t.Errorf("sell passive price = %v, want 100 (join ask)", got)
	}
}

func TestMarginX6(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		notional float64
		leverage float64
		want     int64
	}{
		{name: "unit leverage", notional: 100, leverage: 1, want: 100_000_000},
		{name: "3x leverage rounds", notional: 100, leverage: 3, want: 33_333_333},
		{name: "zero leverage treated as 1x", notional: 50, leverage: 0, want: 50_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MarginX6(tt.notional, tt.leverage); got != tt.want {
				t.Errorf("MarginX6(%v, %v) = %d, want %d", tt.notional, tt.leverage, got, tt.want)
			}
		})
	}
}

func TestExecuteIOCFullFill(t *testing.T) {
	t.Parallel()
	client := &fakeClient{placeIOC: fullFill}
	p := New(client, testExecConfig(), 2, testLogger())

	bbo := types.BBO{Bid: 99, Ask: 100}
	result, err := p.ExecuteIOC(context.Background(), solLeg, types.BUY, 1.5, bbo)
	if err != nil {
		t.Fatalf("ExecuteIOC error: %v", err)
	}
	if got := result.FilledQty(); got != 1.5 {
		t.Errorf("filled = %v, want 1.5", got)
	}
	if !result.Complete(1.5, solLeg.TickSize) {
		t.Error("full fill should be complete")
	}
	if mode := result.DominantMode(); mode != types.ModeIOC {
		t.Errorf("mode = %v, want IOC", mode)
	}

	req := client.iocReqs[0]
	if req.IsolatedMarginX6 <= 0 {
		t.Error("order must carry isolated margin")
	}
	wantMargin := MarginX6(1.5*p.IOCPrice(types.BUY, bbo), 2)
	if req.IsolatedMarginX6 != wantMargin {
		t.Errorf("margin = %d, want %d", req.IsolatedMarginX6, wantMargin)
	}
	if req.BypassLiqFilter {
		t.Error("first attempt must not set the liquidity-filter bypass")
	}
}

func TestExecuteIOCRejectedAllRetries(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		placeIOC: func(call int, req types.OrderRequest) (*types.OrderResult, error) {
			return &types.OrderResult{OrderID: "r", Status: types.FillStatusRejected}, nil
		},
	}
	p := New(client, testExecConfig(), 1, testLogger())

	result, err := p.ExecuteIOC(context.Background(), solLeg, types.SELL, 1, types.BBO{Bid: 99, Ask: 100})
	if err != nil {
		t.Fatalf("persistent rejection must not be an error, got %v", err)
	}
	if len(result.Fills) != 0 {
		t.Errorf("fills = %v, want empty result", result.Fills)
	}
	if len(client.iocReqs) != 3 {
		t.Fatalf("attempts = %d, want retry_max=3", len(client.iocReqs))
	}
	if client.iocReqs[0].BypassLiqFilter || client.iocReqs[1].BypassLiqFilter {
		t.Error("bypass flag set before the final attempt")
	}
	if !client.iocReqs[2].BypassLiqFilter {
		t.Error("final attempt must set the liquidity-filter bypass")
	}
}

func TestExecuteIOCRetriesTransientError(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		placeIOC: func(call int, req types.OrderRequest) (*types.OrderResult, error) {
			if call == 1 {
				return nil, context.DeadlineExceeded
			}
			return fullFill(call, req)
		},
	}
	p := New(client, testExecConfig(), 1, testLogger())

	result, err := p.ExecuteIOC(context.Background(), solLeg, types.BUY, 1, types.BBO{Bid: 99, Ask: 100})
	if err != nil {
		t.Fatalf("ExecuteIOC error: %v", err)
	}
	if got := result.FilledQty(); got != 1 {
		t.Errorf("filled = %v, want 1 after retry", got)
	}
	if len(client.iocReqs) != 2 {
		t.Errorf("attempts = %d, want 2", len(client.iocReqs))
	}
}

func TestExecutePostOnlyFilled(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		placeOpen: func(call int, req types.OrderRequest) (*types.OrderResult, error) {
			return &types.OrderResult{OrderID: "po-1", Status: types.FillStatusPartiallyFilled}, nil
		},
		waitFill: func(orderID string) (*types.FillInfo, error) {
			return &types.FillInfo{Status: types.FillStatusFilled, FilledSize: 2, AvgPrice: 99}, nil
		},
	}
	p := New(client, testExecConfig(), 1, testLogger())

	result, err := p.Execute(context.Background(), solLeg, types.BUY, 2, types.BBO{Bid: 99, Ask: 100}, true)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got := result.FilledQty(); got != 2 {
		t.Errorf("filled = %v, want 2", got)
	}
	if mode := result.DominantMode(); mode != types.ModePostOnly {
		t.Errorf("mode = %v, want POST_ONLY", mode)
	}
	if len(client.iocReqs) != 0 {
		t.Error("complete passive fill must not trigger an IOC sweep")
	}
	if len(client.cancelled) != 0 {
		t.Error("filled order must not be cancelled")
	}
}

func TestExecutePostOnlyTimeoutSweepsRemainder(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		placeOpen: func(call int, req types.OrderRequest) (*types.OrderResult, error) {
			return &types.OrderResult{OrderID: "po-2", Status: types.FillStatusPartiallyFilled}, nil
		},
		waitFill: func(orderID string) (*types.FillInfo, error) {
			// Passive order times out with a partial fill on the book.
			return &types.FillInfo{Status: types.FillStatusTimedOut, FilledSize: 0.4, AvgPrice: 99}, nil
		},
		placeIOC: fullFill,
	}
	p := New(client, testExecConfig(), 1, testLogger())

	result, err := p.Execute(context.Background(), solLeg, types.BUY, 1.0, types.BBO{Bid: 99, Ask: 100}, true)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	if len(client.cancelled) != 1 || client.cancelled[0] != "po-2" {
		t.Errorf("cancelled = %v, want the timed-out passive order", client.cancelled)
	}
	if len(client.iocReqs) != 1 {
		t.Fatalf("ioc sweeps = %d, want 1", len(client.iocReqs))
	}
	if got := client.iocReqs[0].Quantity; got != 0.6 {
		t.Errorf("sweep quantity = %v, want 0.6", got)
	}

	if got := result.FilledQty(); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("total filled = %v, want 1.0", got)
	}
	if len(result.Fills) != 2 {
		t.Fatalf("fills = %d, want maker partial + taker sweep", len(result.Fills))
	}
	if result.Fills[0].Mode != types.ModePostOnly {
		t.Errorf("first fill mode = %v, want POST_ONLY", result.Fills[0].Mode)
	}
	if result.Fills[1].Mode != types.ModeIOC {
		t.Errorf("sweep fill mode = %v, want IOC", result.Fills[1].Mode)
	}
}

func TestExecutePostOnlyCancelsOnFillWaitError(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		placeOpen: func(call int, req types.OrderRequest) (*types.OrderResult, error) {
			return &types.OrderResult{OrderID: "po-4", Status: types.FillStatusPartiallyFilled}, nil
		},
		waitFill: func(orderID string) (*types.FillInfo, error) {
			return nil, context.DeadlineExceeded
		},
	}
	p := New(client, testExecConfig(), 1, testLogger())

	_, err := p.Execute(context.Background(), solLeg, types.BUY, 1.0, types.BBO{Bid: 99, Ask: 100}, true)
	if err == nil {
		t.Fatal("fill-wait failure must surface as an error")
	}
	// The order is still resting as far as we know: it must be pulled, or a
	// later fill creates a position nothing tracks.
	if len(client.cancelled) != 1 || client.cancelled[0] != "po-4" {
		t.Errorf("cancelled = %v, want the orphaned passive order", client.cancelled)
	}
	if len(client.iocReqs) != 0 {
		t.Error("no sweep may follow an unknown fill state")
	}
}

func TestExecutePostOnlyRejectedFallsThrough(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		placeOpen: func(call int, req types.OrderRequest) (*types.OrderResult, error) {
			// Post-only that would cross: rejected on every attempt.
			return &types.OrderResult{OrderID: "po-3", Status: types.FillStatusRejected}, nil
		},
		placeIOC: fullFill,
	}
	p := New(client, testExecConfig(), 1, testLogger())

	result, err := p.Execute(context.Background(), solLeg, types.SELL, 1.0, types.BBO{Bid: 99, Ask: 100}, true)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got := result.FilledQty(); got != 1.0 {
		t.Errorf("filled = %v, want full IOC fallback fill", got)
	}
	if mode := result.DominantMode(); mode != types.ModeIOC {
		t.Errorf("mode = %v, want IOC", mode)
	}
}

func TestResultComplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		filled    float64
		requested float64
		want      bool
	}{
		{name: "exact", filled: 1.0, requested: 1.0, want: true},
		{name: "short by half tick", filled: 0.995, requested: 1.0, want: true},
		{name: "short by two ticks", filled: 0.98, requested: 1.0, want: false},
		{name: "empty", filled: 0, requested: 1.0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Result{}
			if tt.filled > 0 {
				r.Fills = []Fill{{Quantity: tt.filled, Price: 100, Mode: types.ModeIOC}}
			}
			if got := r.Complete(tt.requested, 0.01); got != tt.want {
				t.Errorf("Complete(%v, 0.01) with filled %v = %v, want %v", tt.requested, tt.filled, got, tt.want)
			}
		})
	}
}
