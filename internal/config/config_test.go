package config

import (
	"os"
	"testing"
	"time"
)

func clearVenueEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DRY_RUN", "VENUE_API_KEY", "VENUE_API_SECRET", "VENUE_PASSPHRASE", "VENUE_PRIVATE_KEY",
		"SYMBOL", "SPIKE_MOVE_USD", "MAX_CONCURRENT_POSITIONS", "SETTLE_SECONDS",
	} {
		os.Unsetenv(k)
		t.Cleanup(func(k string) func() { return func() { os.Unsetenv(k) } }(k))
	}
}

func TestLoadDefaultsWhenUnset(t *testing.T) {
	clearVenueEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT default", cfg.Symbol)
	}
	if !cfg.DryRun {
		t.Error("DryRun should default to true")
	}
	if cfg.MaxConcurrentPos != 3 {
		t.Errorf("MaxConcurrentPos = %d, want default 3", cfg.MaxConcurrentPos)
	}
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	clearVenueEnv(t)
	os.Setenv("SYMBOL", "ETHUSDT")
	os.Setenv("MAX_CONCURRENT_POSITIONS", "7")
	os.Setenv("SETTLE_SECONDS", "15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Symbol != "ETHUSDT" {
		t.Errorf("Symbol = %q, want ETHUSDT", cfg.Symbol)
	}
	if cfg.MaxConcurrentPos != 7 {
		t.Errorf("MaxConcurrentPos = %d, want 7", cfg.MaxConcurrentPos)
	}
	if cfg.SettleSeconds != 15*time.Second {
		t.Errorf("SettleSeconds = %v, want 15s", cfg.SettleSeconds)
	}
}

func TestLoadFailsWhenLiveTradingMissingCredentials(t *testing.T) {
	clearVenueEnv(t)
	os.Setenv("DRY_RUN", "false")

	_, err := Load()
	if err == nil {
		t.Fatal("expected an error when DRY_RUN=false without venue credentials")
	}
}

func TestLoadSucceedsWhenLiveTradingHasCredentials(t *testing.T) {
	clearVenueEnv(t)
	os.Setenv("DRY_RUN", "false")
	os.Setenv("VENUE_API_KEY", "k")
	os.Setenv("VENUE_API_SECRET", "s")
	os.Setenv("VENUE_PASSPHRASE", "p")
	os.Setenv("VENUE_PRIVATE_KEY", "0xdeadbeef")
	t.Cleanup(func() {
		os.Unsetenv("VENUE_API_KEY")
		os.Unsetenv("VENUE_API_SECRET")
		os.Unsetenv("VENUE_PASSPHRASE")
		os.Unsetenv("VENUE_PRIVATE_KEY")
	})

	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v, want nil with all credentials set", err)
	}
}

func TestEnvDecimalFallsBackOnMalformedValue(t *testing.T) {
	os.Setenv("SPIKE_MOVE_USD", "not-a-number")
	defer os.Unsetenv("SPIKE_MOVE_USD")

	got := envDecimal("SPIKE_MOVE_USD", "20.0")
	want := envDecimal("UNSET_KEY_XYZ", "20.0")
	if !got.Equal(want) {
		t.Errorf("envDecimal with malformed env value = %s, want fallback %s", got, want)
	}
}
