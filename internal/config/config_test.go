package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.PollIntervalMs != 1000 {
		t.Errorf("PollIntervalMs = %d, want 1000", cfg.PollIntervalMs)
	}
	if !cfg.StartFromNow {
		t.Error("StartFromNow should default true")
	}
	if cfg.FixedCopyPct != 0.10 {
		t.Errorf("FixedCopyPct = %f, want 0.10", cfg.FixedCopyPct)
	}
	if cfg.FixedAmountUSD != 10 {
		t.Errorf("FixedAmountUSD = %f, want 10", cfg.FixedAmountUSD)
	}
	if cfg.ExpectedEdge != 0.06 {
		t.Errorf("ExpectedEdge = %f, want 0.06", cfg.ExpectedEdge)
	}
}

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if cfg.FixedCopyPct != Default().FixedCopyPct {
		t.Errorf("missing file should still yield defaults, got %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("profile_address: \"0xabc\"\nfixed_copy_pct: 0.25\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ProfileAddress != "0xabc" {
		t.Errorf("ProfileAddress = %q, want 0xabc", cfg.ProfileAddress)
	}
	if cfg.FixedCopyPct != 0.25 {
		t.Errorf("FixedCopyPct = %f, want 0.25", cfg.FixedCopyPct)
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	cfg := Default()
	cfg.FixedCopyPct = 0.10
	t.Setenv("PROFILE_ADDRESS", "0xenv")
	t.Setenv("FIXED_COPY_PCT", "0.5")
	t.Setenv("POLL_INTERVAL_MS", "2000")
	t.Setenv("START_FROM_NOW", "false")
	t.Setenv("DEBUG_LOGS", "true")
	cfg.ApplyEnv()

	if cfg.ProfileAddress != "0xenv" {
		t.Errorf("ProfileAddress = %q, want 0xenv", cfg.ProfileAddress)
	}
	if cfg.FixedCopyPct != 0.5 {
		t.Errorf("FixedCopyPct = %f, want 0.5", cfg.FixedCopyPct)
	}
	if cfg.PollIntervalMs != 2000 {
		t.Errorf("PollIntervalMs = %d, want 2000", cfg.PollIntervalMs)
	}
	if cfg.StartFromNow {
		t.Error("StartFromNow should be false after env override")
	}
	if !cfg.DebugLogs {
		t.Error("DebugLogs should be true after env override")
	}
}

func TestApplyEnvTelegramRequiresBoth(t *testing.T) {
	cfg := Default()
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	cfg.ApplyEnv()
	if cfg.Telegram.Enabled {
		t.Error("telegram should not enable with only bot token set")
	}
}

func TestValidateRequiresProfileAddress(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing profile address")
	}
	cfg.ProfileAddress = "0xabc"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsOutOfRangeFixedCopyPct(t *testing.T) {
	cfg := Default()
	cfg.ProfileAddress = "0xabc"
	cfg.FixedCopyPct = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for fixed_copy_pct > 1")
	}
}

func TestValidateAllowsOutOfRangeSlippageDelayPenalty(t *testing.T) {
	cfg := Default()
	cfg.ProfileAddress = "0xabc"
	cfg.SlippageDelayPenalty = 10
	if err := cfg.Validate(); err != nil {
		t.Fatalf("slippage_delay_penalty collapses at estimation time, should not fail validate: %v", err)
	}
}

func TestPollInterval(t *testing.T) {
	cfg := Default()
	cfg.PollIntervalMs = 1500
	if got := cfg.PollInterval(); got.Milliseconds() != 1500 {
		t.Errorf("PollInterval() = %v, want 1500ms", got)
	}
}
