// Package auditlog is the category-tagged, daily-rotated event log the
// engine writes every observable action through: boot/shutdown, crash
// recovery, trades, closes, lifecycle transitions, API calls, and errors.
package auditlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes newline-delimited, category-tagged entries to
// logs/bot_YYYY-MM-DD.txt, re-opening the file whenever the UTC day rolls
// over mid-process.
type Logger struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
	zl   zerolog.Logger
}

// New opens (or creates) today's log file under dir.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("auditlog: create dir: %w", err)
	}
	l := &Logger{dir: dir}
	if err := l.rotate(time.Now().UTC()); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) rotate(now time.Time) error {
	day := now.Format("2006-01-02")
	if day == l.day && l.file != nil {
		return nil
	}
	path := filepath.Join(l.dir, "bot_"+day+".txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	if l.file != nil {
		_ = l.file.Close()
	}
	l.file = f
	l.day = day
	l.zl = zerolog.New(f).With().Timestamp().Logger()
	return nil
}

// Logf writes one category-tagged entry. category is a short uppercase tag
// (BOOT, SHUTDOWN, CRASH, TRADE, CLOSE, LIFECYCLE, API, ENGINE, LEDGER,
// ERROR); format/args follow fmt.Sprintf conventions.
func (l *Logger) Logf(category, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if err := l.rotate(now); err != nil {
		return
	}
	msg := fmt.Sprintf(format, args...)

	ev := l.zl.Info()
	if category == "ERROR" || category == "CRASH" {
		ev = l.zl.Error()
	}
	ev.Str("category", category).Msg(msg)
}

// Close flushes and closes the current log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
