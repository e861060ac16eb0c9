package accounting

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pairfarm/pkg/types"
)

func sampleRecord(id int64) types.CycleRecord {
	entry := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	rec := types.CycleRecord{
		CycleID:   id,
		Direction: "long_ETH/short_SOL",
		EntryTime: entry,
		ExitTime:  entry.Add(20 * time.Second),

		FeesUSD:       0.152,
		FundingPnLUSD: 0.0001,
		PnLNoFeeUSD:   0.074,
		PnLWithFeeUSD: -0.0779,
	}
	rec.Entry[types.LegA] = types.LegFill{Price: 3000, Quantity: 0.06, Mode: types.ModePostOnly}
	rec.Entry[types.LegB] = types.LegFill{Price: 200.06, Quantity: -1.0, Mode: types.ModePostOnly}
	rec.Exit[types.LegA] = types.LegFill{Price: 3001.9, Quantity: -0.06, Mode: types.ModeIOC}
	rec.Exit[types.LegB] = types.LegFill{Price: 200.1, Quantity: 1.0, Mode: types.ModeIOC}
	return rec
}

func TestCycleLogHeaderOnFreshFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cycles.csv")

	log, err := OpenCycleLog(path)
	if err != nil {
		t.Fatalf("OpenCycleLog: %v", err)
	}
	log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	first := strings.SplitN(string(data), "\n", 2)[0]
	if !strings.HasPrefix(first, "cycle_id,direction,entry_ts,exit_ts,hold_s,entry_A_px") {
		t.Errorf("header = %q, want canonical column order", first)
	}
	if !strings.HasSuffix(first, "skip_reason") {
		t.Errorf("header = %q, want skip_reason last", first)
	}
}

func TestCycleLogAppendAndReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cycles.csv")

	log, err := OpenCycleLog(path)
	if err != nil {
		t.Fatalf("OpenCycleLog: %v", err)
	}
	if log.LastCycleID() != 0 {
		t.Errorf("fresh LastCycleID = %d, want 0", log.LastCycleID())
	}

	if err := log.Append(sampleRecord(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	skip := types.CycleRecord{
		CycleID:    2,
		Direction:  "long_ETH/short_SOL",
		EntryTime:  time.Date(2026, 8, 24, 13, 0, 0, 0, time.UTC),
		ExitTime:   time.Date(2026, 8, 24, 13, 0, 0, 0, time.UTC),
		SkipReason: "ETH slippage exceeds ceiling",
	}
	if err := log.Append(skip); err != nil {
		t.Fatalf("Append skip: %v", err)
	}
	log.Close()

	reopened, err := OpenCycleLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	records := reopened.Records()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if reopened.LastCycleID() != 2 {
		t.Errorf("LastCycleID = %d, want 2", reopened.LastCycleID())
	}

	got := records[0]
	want := sampleRecord(1)
	if got.CycleID != want.CycleID || got.Direction != want.Direction {
		t.Errorf("record = %+v, want %+v", got, want)
	}
	if !got.EntryTime.Equal(want.EntryTime) || !got.ExitTime.Equal(want.ExitTime) {
		t.Errorf("times = %v/%v, want %v/%v", got.EntryTime, got.ExitTime, want.EntryTime, want.ExitTime)
	}
	if got.Entry != want.Entry || got.Exit != want.Exit {
		t.Errorf("fills = %+v/%+v, want %+v/%+v", got.Entry, got.Exit, want.Entry, want.Exit)
	}
	if got.PnLWithFeeUSD != want.PnLWithFeeUSD || got.FeesUSD != want.FeesUSD {
		t.Errorf("pnl/fees = %v/%v, want %v/%v", got.PnLWithFeeUSD, got.FeesUSD, want.PnLWithFeeUSD, want.FeesUSD)
	}

	if records[1].SkipReason != "ETH slippage exceeds ceiling" {
		t.Errorf("skip reason = %q", records[1].SkipReason)
	}
	if !records[1].Skipped() {
		t.Error("skip record must report Skipped")
	}
}

func TestCycleLogRejectsOutOfOrderID(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cycles.csv")

	log, err := OpenCycleLog(path)
	if err != nil {
		t.Fatalf("OpenCycleLog: %v", err)
	}
	defer log.Close()

	if err := log.Append(sampleRecord(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(sampleRecord(1)); err == nil {
		t.Error("duplicate cycle id must be rejected")
	}
	if err := log.Append(sampleRecord(5)); err == nil {
		t.Error("gap in cycle ids must be rejected")
	}
	if err := log.Append(sampleRecord(2)); err != nil {
		t.Errorf("sequential id rejected: %v", err)
	}
}

func TestSpreadLogAppend(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "spreads.csv")

	log, err := OpenSpreadLog(path)
	if err != nil {
		t.Fatalf("OpenSpreadLog: %v", err)
	}

	obs := SpreadObservation{
		Time:          time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		PairSpreadBps: 10.0,
		LegSpreadBps:  [types.Legs]float64{10, 10},
		BBOs: [types.Legs]types.BBO{
			{Bid: 3000, Ask: 3000.30},
			{Bid: 200, Ask: 200.02},
		},
		Executed:   false,
		SkipReason: "spread too narrow 10.0 bps < 20",
	}
	if err := log.Append(obs); err != nil {
		t.Fatalf("Append: %v", err)
	}
	log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want header + row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "timestamp,pair_spread_bps") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "spread too narrow 10.0 bps < 20") {
		t.Errorf("row = %q, want skip reason", lines[1])
	}
	if !strings.Contains(lines[1], "false") {
		t.Errorf("row = %q, want executed=false", lines[1])
	}
}

func TestOpenSpreadLogEmptyPathDisabled(t *testing.T) {
	t.Parallel()
	log, err := OpenSpreadLog("")
	if err != nil {
		t.Fatalf("OpenSpreadLog(\"\"): %v", err)
	}
	if log != nil {
		t.Error("empty path must disable the spread log")
	}
}
