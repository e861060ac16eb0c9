// cyclelog.go provides the append-only per-cycle CSV log.
//
// One line per cycle, written exactly once after reconciliation. The file is
// replayed at startup to restore the summary counters and the last cycle id,
// so restarts resume numbering where they left off. Writes are mutex-guarded
// and flushed per record.
package accounting

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"pairfarm/pkg/types"
)

var cycleHeader = []string{
	"cycle_id", "direction", "entry_ts", "exit_ts", "hold_s",
	"entry_A_px", "entry_A_qty", "entry_B_px", "entry_B_qty",
	"exit_A_px", "exit_A_qty", "exit_B_px", "exit_B_qty",
	"entry_A_type", "entry_B_type", "exit_A_type", "exit_B_type",
	"fees_usd", "funding_pnl_usd", "pnl_no_fee_usd", "pnl_with_fee_usd",
	"skip_reason",
}

// CycleLog is the append-only cycle record file.
type CycleLog struct {
	mu      sync.Mutex
	file    *os.File
	records []types.CycleRecord
	lastID  int64
}

// OpenCycleLog opens (or creates) the log at path and replays existing
// records into memory.
func OpenCycleLog(path string) (*CycleLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	records, err := readRecords(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open cycle log: %w", err)
	}

	log := &CycleLog{file: file, records: records}
	if len(records) == 0 {
		if err := log.writeRow(cycleHeader); err != nil {
			file.Close()
			return nil, err
		}
	} else {
		log.lastID = records[len(records)-1].CycleID
	}
	return log, nil
}

// Append writes one record and flushes it to disk.
func (l *CycleLog) Append(rec types.CycleRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.CycleID != l.lastID+1 {
		return fmt.Errorf("cycle id %d out of order, last written %d", rec.CycleID, l.lastID)
	}

	row := []string{
		strconv.FormatInt(rec.CycleID, 10),
		rec.Direction,
		formatTime(rec.EntryTime),
		formatTime(rec.ExitTime),
		formatF(rec.HoldSeconds()),
		formatF(rec.Entry[types.LegA].Price), formatF(rec.Entry[types.LegA].Quantity),
		formatF(rec.Entry[types.LegB].Price), formatF(rec.Entry[types.LegB].Quantity),
		formatF(rec.Exit[types.LegA].Price), formatF(rec.Exit[types.LegA].Quantity),
		formatF(rec.Exit[types.LegB].Price), formatF(rec.Exit[types.LegB].Quantity),
		string(rec.Entry[types.LegA].Mode), string(rec.Entry[types.LegB].Mode),
		string(rec.Exit[types.LegA].Mode), string(rec.Exit[types.LegB].Mode),
		formatF(rec.FeesUSD), formatF(rec.FundingPnLUSD),
		formatF(rec.PnLNoFeeUSD), formatF(rec.PnLWithFeeUSD),
		rec.SkipReason,
	}
	if err := l.writeRow(row); err != nil {
		return err
	}

	l.records = append(l.records, rec)
	l.lastID = rec.CycleID
	return nil
}

// Records returns the records replayed or appended so far.
func (l *CycleLog) Records() []types.CycleRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.CycleRecord, len(l.records))
	copy(out, l.records)
	return out
}

// LastCycleID returns the highest cycle id on disk, 0 for a fresh log.
func (l *CycleLog) LastCycleID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastID
}

// Close flushes and closes the file.
func (l *CycleLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *CycleLog) writeRow(row []string) error {
	w := csv.NewWriter(l.file)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write cycle log: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush cycle log: %w", err)
	}
	return l.file.Sync()
}

func readRecords(path string) ([]types.CycleRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cycle log: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(cycleHeader)

	var records []types.CycleRecord
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse cycle log: %w", err)
		}
		if first {
			first = false
			if row[0] == "cycle_id" {
				continue
			}
		}
		rec, err := parseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("parse cycle log: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(row []string) (types.CycleRecord, error) {
	id, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return types.CycleRecord{}, fmt.Errorf("cycle_id %q: %w", row[0], err)
	}

	rec := types.CycleRecord{
		CycleID:    id,
		Direction:  row[1],
		EntryTime:  parseTime(row[2]),
		ExitTime:   parseTime(row[3]),
		SkipReason: row[21],
	}
	rec.Entry[types.LegA] = types.LegFill{Price: parseF(row[5]), Quantity: parseF(row[6]), Mode: types.OrderMode(row[13])}
	rec.Entry[types.LegB] = types.LegFill{Price: parseF(row[7]), Quantity: parseF(row[8]), Mode: types.OrderMode(row[14])}
	rec.Exit[types.LegA] = types.LegFill{Price: parseF(row[9]), Quantity: parseF(row[10]), Mode: types.OrderMode(row[15])}
	rec.Exit[types.LegB] = types.LegFill{Price: parseF(row[11]), Quantity: parseF(row[12]), Mode: types.OrderMode(row[16])}
	rec.FeesUSD = parseF(row[17])
	rec.FundingPnLUSD = parseF(row[18])
	rec.PnLNoFeeUSD = parseF(row[19])
	rec.PnLWithFeeUSD = parseF(row[20])
	return rec, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func formatF(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
