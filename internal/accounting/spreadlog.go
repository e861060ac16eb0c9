package accounting

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"pairfarm/pkg/types"
)

var spreadHeader = []string{
	"timestamp", "pair_spread_bps", "a_spread_bps", "b_spread_bps",
	"a_bid", "a_ask", "b_bid", "b_ask", "executed", "skip_reason",
}

// SpreadLog is the append-only spread-analysis file. One row per gate
// evaluation that reached a decision, executed or not, so the threshold can
// be tuned offline against what the bot actually saw.
type SpreadLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenSpreadLog opens (or creates) the log at path. An empty path disables
// spread logging; the caller gets a nil log and the accountant treats it as
// a no-op sink.
func OpenSpreadLog(path string) (*SpreadLog, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	info, err := os.Stat(path)
	fresh := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open spread log: %w", err)
	}

	log := &SpreadLog{file: file}
	if fresh {
		if err := log.writeRow(spreadHeader); err != nil {
			file.Close()
			return nil, err
		}
	}
	return log, nil
}

// Append writes one observation and flushes it to disk.
func (l *SpreadLog) Append(obs SpreadObservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := []string{
		formatTime(obs.Time),
		formatF(obs.PairSpreadBps),
		formatF(obs.LegSpreadBps[types.LegA]),
		formatF(obs.LegSpreadBps[types.LegB]),
		formatF(obs.BBOs[types.LegA].Bid), formatF(obs.BBOs[types.LegA].Ask),
		formatF(obs.BBOs[types.LegB].Bid), formatF(obs.BBOs[types.LegB].Ask),
		strconv.FormatBool(obs.Executed),
		obs.SkipReason,
	}
	return l.writeRow(row)
}

// Close flushes and closes the file.
func (l *SpreadLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *SpreadLog) writeRow(row []string) error {
	w := csv.NewWriter(l.file)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write spread log: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush spread log: %w", err)
	}
	return nil
}
