// Package config loads bot configuration from the environment, in the style
// of the teacher's internal/config/config.go: a .env file loaded best-effort
// via godotenv, then small typed env-var helpers populate a Config struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config holds every tunable named in spec.md §6.
type Config struct {
	Symbol      string
	AssetTag    string
	DurationTag string

	SpikeMoveUSD    decimal.Decimal
	SpikeWindowSec  time.Duration
	PollIntervalSec time.Duration

	ProfitTargetPct    decimal.Decimal
	MoonbagPct         decimal.Decimal
	DrawdownTriggerPct decimal.Decimal
	ProtectionExitPct  decimal.Decimal
	HardStopPct        decimal.Decimal

	MaxPositionUSDC  decimal.Decimal
	MaxConcurrentPos int
	MaxEntryPrice    decimal.Decimal
	FeeRate          decimal.Decimal

	SettleSeconds       time.Duration
	MinTimeToResolution time.Duration

	DryRun bool

	PassiveEntryPrice decimal.Decimal
	PassiveSellPrice  decimal.Decimal

	LateEntryPrice            decimal.Decimal
	ChoppyCutoff              decimal.Decimal
	TrackingStartSecBeforeEnd time.Duration
	DecisionSecBeforeEnd      time.Duration

	RegistryRefreshInterval time.Duration
	ResolutionGrace         time.Duration
	Lookahead               time.Duration
	ExitEvalInterval        time.Duration
	SpikeDebounce           time.Duration
	ClosingWindow           time.Duration

	MaxConsecutiveLosses int
	CircuitCooldown      time.Duration
	MaxDailyLossPct      decimal.Decimal
	DailyEquityBaseline  decimal.Decimal
	SizeByConfidence     bool

	VenueAPIKey          string
	VenueAPISecret       string
	VenuePassphrase      string
	VenuePrivateKey      string
	VenueAddress         string
	VenueHost            string
	VenueChainID         int64
	VenueExchangeAddress string

	TelegramBotToken string
	TelegramChatID   int64

	JournalEnabled bool

	LogLevel string
	Headless bool
}

// Load reads .env (if present) and the process environment into a Config.
// Returns an error for any required-but-missing field — callers should treat
// that as fatal (spec.md §7, exit code 1).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, relying on process environment")
	}

	cfg := &Config{
		Symbol:      envString("SYMBOL", "BTCUSDT"),
		AssetTag:    envString("ASSET_TAG", "btc"),
		DurationTag: envString("DURATION_TAG", "5m"),

		SpikeMoveUSD:    envDecimal("SPIKE_MOVE_USD", "20.0"),
		SpikeWindowSec:  envSeconds("SPIKE_WINDOW_SEC", 3.0),
		PollIntervalSec: envSeconds("POLL_INTERVAL_SEC", 0.5),

		ProfitTargetPct:    envDecimal("PROFIT_TARGET_PCT", "10.0"),
		MoonbagPct:         envDecimal("MOONBAG_PCT", "20.0"),
		DrawdownTriggerPct: envDecimal("DRAWDOWN_TRIGGER_PCT", "-15.0"),
		ProtectionExitPct:  envDecimal("PROTECTION_EXIT_PCT", "-10.0"),
		HardStopPct:        envDecimal("HARD_STOP_PCT", "-25.0"),

		MaxPositionUSDC:  envDecimal("MAX_POSITION_USDC", "50"),
		MaxConcurrentPos: envInt("MAX_CONCURRENT_POSITIONS", 3),
		MaxEntryPrice:    envDecimal("MAX_ENTRY_PRICE", "0.60"),
		FeeRate:          envDecimal("FEE_RATE", "0.02"),

		SettleSeconds:       envSeconds("SETTLE_SECONDS", 10),
		MinTimeToResolution: envSeconds("MIN_TIME_TO_RESOLUTION", 30),

		DryRun: envBool("DRY_RUN", true),

		PassiveEntryPrice: envDecimal("PASSIVE_ENTRY_PRICE", "0.50"),
		PassiveSellPrice:  envDecimal("PASSIVE_SELL_PRICE", "0.60"),

		LateEntryPrice:            envDecimal("LATE_ENTRY_PRICE", "0.70"),
		ChoppyCutoff:              envDecimal("CHOPPY_CUTOFF", "0.65"),
		TrackingStartSecBeforeEnd: envSeconds("TRACKING_START_SEC_BEFORE_END", 165),
		DecisionSecBeforeEnd:      envSeconds("DECISION_SEC_BEFORE_END", 90),

		RegistryRefreshInterval: envSeconds("REGISTRY_REFRESH_INTERVAL_SEC", 30),
		ResolutionGrace:         envSeconds("RESOLUTION_GRACE_SEC", 900),
		Lookahead:               envSeconds("LOOKAHEAD_SEC", 1800),
		ExitEvalInterval:        envSeconds("EXIT_EVAL_INTERVAL_SEC", 1),
		SpikeDebounce:           envSeconds("SPIKE_DEBOUNCE_SEC", 10),
		ClosingWindow:           envSeconds("CLOSING_WINDOW_SEC", 30),

		MaxConsecutiveLosses: envInt("MAX_CONSECUTIVE_LOSSES", 3),
		CircuitCooldown:      envSeconds("CIRCUIT_COOLDOWN_SEC", 1800),
		MaxDailyLossPct:      envDecimal("MAX_DAILY_LOSS_PCT", "0.05"),
		DailyEquityBaseline:  envDecimal("DAILY_EQUITY_BASELINE", "1000"),
		SizeByConfidence:     envBool("SIZE_BY_CONFIDENCE", false),

		VenueAPIKey:          envString("VENUE_API_KEY", ""),
		VenueAPISecret:       envString("VENUE_API_SECRET", ""),
		VenuePassphrase:      envString("VENUE_PASSPHRASE", ""),
		VenuePrivateKey:      envString("VENUE_PRIVATE_KEY", ""),
		VenueAddress:         envString("VENUE_ADDRESS", ""),
		VenueHost:            envString("VENUE_HOST", "https://clob.polymarket.com"),
		VenueChainID:         envInt64("VENUE_CHAIN_ID", 137),
		VenueExchangeAddress: envString("VENUE_EXCHANGE_ADDRESS", "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"),

		TelegramBotToken: envString("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   envInt64("TELEGRAM_CHAT_ID", 0),

		JournalEnabled: envBool("JOURNAL_ENABLED", false),

		LogLevel: envString("LOG_LEVEL", "info"),
		Headless: envBool("HEADLESS", false),
	}

	if !cfg.DryRun {
		if cfg.VenueAPIKey == "" || cfg.VenuePrivateKey == "" || cfg.VenueAPISecret == "" || cfg.VenuePassphrase == "" {
			return nil, fmt.Errorf("config: VENUE_API_KEY, VENUE_API_SECRET, VENUE_PASSPHRASE and VENUE_PRIVATE_KEY are required when DRY_RUN=false")
		}
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(fallback)
	return d
}

func envSeconds(key string, fallbackSec float64) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return time.Duration(fallbackSec * float64(time.Second))
}
