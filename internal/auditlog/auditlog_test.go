package auditlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tradecopy/engine/internal/ledger"
)

func TestLogfWritesCategoryTaggedLine(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Logf("TRADE", "bought %d shares at tick %d", 10, 650)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := filepath.Join(dir, "bot_"+time.Now().UTC().Format("2006-01-02")+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"category":"TRADE"`) {
		t.Fatalf("expected category field in log line, got: %s", line)
	}
	if !strings.Contains(line, "bought 10 shares at tick 650") {
		t.Fatalf("expected formatted message in log line, got: %s", line)
	}
}

func TestLogfErrorCategoryUsesErrorLevel(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Logf("ERROR", "replicate failed: %v", "boom")
	_ = l.Close()

	path := filepath.Join(dir, "bot_"+time.Now().UTC().Format("2006-01-02")+".txt")
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"level":"error"`) {
		t.Fatalf("expected error level for ERROR category, got: %s", string(data))
	}
}

func TestTradeCSVWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	csvLog, err := NewTradeCSV(dir)
	if err != nil {
		t.Fatalf("NewTradeCSV: %v", err)
	}
	ev := ledger.TradeEvent{
		TxHash: "tx1", Type: ledger.TradeBuy, MarketID: "m1", MarketName: "Will it happen?",
		TokenID: "tok-yes", Side: ledger.SideYES, OutcomeLabel: "YES",
		Size: 10, Tick: 650, SourceTick: 648, LatencyMs: 120, Reason: "COPY_TRADE",
		Timestamp: time.Now().UnixMilli(),
	}
	if err := csvLog.Append(ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := csvLog.Append(ev); err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	_ = csvLog.Close()

	path := filepath.Join(dir, "trades_"+time.Now().UTC().Format("2006-01-02")+".csv")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 1 header + 2 data rows, got %d lines: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "timestamp,txHash,type") {
		t.Fatalf("expected header row, got: %s", lines[0])
	}
}
