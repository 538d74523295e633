package blacklist

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeExcludesAlreadyHeldMarkets(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "positions_log.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	held := map[string]bool{"m2": true}
	if err := l.Initialize([]string{"m1", "m2", "m3"}, func(id string) bool { return held[id] }); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !l.IsBlacklisted("m1") || l.IsBlacklisted("m2") || !l.IsBlacklisted("m3") {
		t.Fatalf("unexpected blacklist state")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions_log.json")
	l1, _ := Open(path)
	l1.Add("m1")

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !l2.IsBlacklisted("m1") {
		t.Fatal("expected blacklist to persist across reopen")
	}
}

func TestRemoveAllowsScaleIn(t *testing.T) {
	l, _ := Open(filepath.Join(t.TempDir(), "positions_log.json"))
	l.Add("m1")
	l.Remove("m1")
	if l.IsBlacklisted("m1") {
		t.Fatal("expected m1 to be removed")
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions_log.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if l.IsBlacklisted("anything") {
		t.Fatal("expected empty blacklist on corrupt file")
	}
}
