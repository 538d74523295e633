// Command tradecopy is the paper-trading copy-trader process: it wires the
// venue client, ledger, blacklist, replication engine, audit log, and
// dashboard API together and runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	polymarket "github.com/GoPolymarket/polymarket-go-sdk"
	"github.com/joho/godotenv"

	"github.com/tradecopy/engine/internal/api"
	"github.com/tradecopy/engine/internal/auditlog"
	"github.com/tradecopy/engine/internal/blacklist"
	"github.com/tradecopy/engine/internal/config"
	"github.com/tradecopy/engine/internal/engine"
	"github.com/tradecopy/engine/internal/ledger"
	"github.com/tradecopy/engine/internal/notify"
	"github.com/tradecopy/engine/internal/venue"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, using process environment")
	}

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Printf("warning: config file: %v, using defaults", err)
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	audit, err := auditlog.New(cfg.LogDir)
	if err != nil {
		log.Fatalf("audit log: %v", err)
	}
	defer audit.Close()
	audit.Logf("BOOT", "tradecopy starting for profile=%s", cfg.ProfileAddress)

	tradeCSV, err := auditlog.NewTradeCSV(cfg.LogDir)
	if err != nil {
		audit.Logf("ERROR", "trade csv: %v", err)
	} else {
		defer tradeCSV.Close()
	}

	store, err := ledger.Open(filepath.Join(cfg.DataDir, "ledger.json"))
	if err != nil {
		// Ledger.Open already applies the "start clean" recovery rule for an
		// unreadable file; an error here means the data directory itself
		// could not be created, which is fatal.
		log.Fatalf("ledger: %v", err)
	}
	if tradeCSV != nil {
		store.SetTradeEventSink(tradeCSVSink{tradeCSV, audit})
	}

	blackl, err := blacklist.Open(filepath.Join(cfg.DataDir, "positions_log.json"))
	if err != nil {
		log.Fatalf("blacklist: %v", err)
	}

	seedSettings := engine.TradeSettings{Mode: engine.SizingPercentage, Percentage: cfg.FixedCopyPct, FixedAmountUSD: cfg.FixedAmountUSD}
	settings, err := engine.OpenSettingsWithDefault(filepath.Join(cfg.DataDir, "trade_settings.json"), seedSettings)
	if err != nil {
		log.Fatalf("trade settings: %v", err)
	}

	sdkClient := polymarket.NewClient()
	venueClient := venue.New(venue.DefaultEndpoints(), sdkClient.Data)

	var notifier *notify.Notifier
	if cfg.Telegram.Enabled {
		n, err := notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			audit.Logf("ERROR", "telegram notifier unavailable, continuing without alerts: %v", err)
		} else {
			notifier = n
		}
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.ProfileAddress = cfg.ProfileAddress
	engineCfg.PollInterval = cfg.PollInterval()
	engineCfg.StartFromNow = cfg.StartFromNow
	engineCfg.MinOrderSizeShares = cfg.MinOrderSizeShares
	engineCfg.EnableTradeFilters = cfg.EnableTradeFilters
	engineCfg.ExpectedEdge = cfg.ExpectedEdge
	engineCfg.SlippageDelayPenalty = cfg.SlippageDelayPenalty
	engineCfg.SkipActivePositions = cfg.SkipActivePositions

	eng := engine.New(engineCfg, cfg.ProfileAddress, store, blackl, venueClient, settings, auditLogAdapter{audit}, notifierAdapter{notifier})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("engine start: %v", err)
	}

	addr := ":" + cfg.Port
	server := api.NewServer(addr, eng, store, api.ProfileInfo{Address: cfg.ProfileAddress})
	if err := server.Start(); err != nil {
		log.Fatalf("api server: %v", err)
	}
	audit.Logf("BOOT", "dashboard listening on %s", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	audit.Logf("SHUTDOWN", "signal received, shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	eng.Stop()
	_ = store.Save()
	audit.Logf("SHUTDOWN", "clean exit")
}

// tradeCSVSink satisfies ledger.TradeEventSink, mirroring every appended
// trade event into the daily trades_YYYY-MM-DD.csv.
type tradeCSVSink struct {
	csv   *auditlog.TradeCSV
	audit *auditlog.Logger
}

func (s tradeCSVSink) OnTradeEvent(ev ledger.TradeEvent) {
	if err := s.csv.Append(ev); err != nil {
		s.audit.Logf("ERROR", "trade csv append: %v", err)
	}
}

// auditLogAdapter satisfies engine.Logger.
type auditLogAdapter struct{ l *auditlog.Logger }

func (a auditLogAdapter) Logf(category, format string, args ...interface{}) {
	a.l.Logf(category, format, args...)
}

// notifierAdapter satisfies engine.Notifier even when the underlying
// notifier is nil (Telegram disabled); every method nil-checks.
type notifierAdapter struct{ n *notify.Notifier }

func (a notifierAdapter) NotifyClose(ctx context.Context, marketQuestion string, trigger ledger.CloseTrigger, cause ledger.CloseCause, pnl float64) {
	if a.n == nil {
		return
	}
	a.n.NotifyClose(ctx, marketQuestion, trigger, cause, pnl)
}

func (a notifierAdapter) NotifyAlert(ctx context.Context, msg string) {
	if a.n == nil {
		return
	}
	a.n.NotifyAlert(ctx, msg)
}
