package auditlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tradecopy/engine/internal/ledger"
)

// TradeCSV appends one row per trade event to a daily-rotated
// logs/trades_YYYY-MM-DD.csv, writing a header row only the first time a
// given day's file is created.
type TradeCSV struct {
	mu  sync.Mutex
	dir string
	day string
	f   *os.File
	w   *csv.Writer
}

var tradeCSVHeader = []string{
	"timestamp", "txHash", "type", "marketId", "marketName", "tokenId",
	"side", "outcomeLabel", "size", "tick", "sourceTick", "latencyMs", "reason",
}

// NewTradeCSV opens (or creates) today's trade CSV under dir.
func NewTradeCSV(dir string) (*TradeCSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("auditlog: create dir: %w", err)
	}
	t := &TradeCSV{dir: dir}
	if err := t.rotate(time.Now().UTC()); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TradeCSV) rotate(now time.Time) error {
	day := now.Format("2006-01-02")
	if day == t.day && t.f != nil {
		return nil
	}
	path := filepath.Join(t.dir, "trades_"+day+".csv")
	_, statErr := os.Stat(path)
	needsHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	if t.f != nil {
		t.w.Flush()
		_ = t.f.Close()
	}
	t.f = f
	t.day = day
	t.w = csv.NewWriter(f)
	if needsHeader {
		if err := t.w.Write(tradeCSVHeader); err != nil {
			return fmt.Errorf("auditlog: write header: %w", err)
		}
		t.w.Flush()
	}
	return nil
}

// Append writes one trade event row, rotating to a fresh file if the UTC
// day has rolled over since the last call.
func (t *TradeCSV) Append(ev ledger.TradeEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	if err := t.rotate(now); err != nil {
		return err
	}

	row := []string{
		time.UnixMilli(ev.Timestamp).UTC().Format(time.RFC3339),
		ev.TxHash,
		string(ev.Type),
		ev.MarketID,
		ev.MarketName,
		ev.TokenID,
		string(ev.Side),
		ev.OutcomeLabel,
		fmt.Sprintf("%.6f", ev.Size),
		fmt.Sprintf("%d", ev.Tick),
		fmt.Sprintf("%d", ev.SourceTick),
		fmt.Sprintf("%d", ev.LatencyMs),
		ev.Reason,
	}
	if err := t.w.Write(row); err != nil {
		return fmt.Errorf("auditlog: write row: %w", err)
	}
	t.w.Flush()
	return t.w.Error()
}

// Close flushes and closes the current CSV file.
func (t *TradeCSV) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	t.w.Flush()
	return t.f.Close()
}
