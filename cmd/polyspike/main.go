// polyspike is a latency-arbitrage bot over rolling 5-minute binary
// prediction windows: a crypto price feed races a prediction-market book,
// and three pluggable strategies fire directional signals the instant the
// feed leads the market.
//
// Architecture: Feed → Registry → Tracker → Strategy/Position Manager → Venue
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polyspike/bot/internal/config"
	"github.com/polyspike/bot/internal/eventlog"
	"github.com/polyspike/bot/internal/feed"
	"github.com/polyspike/bot/internal/journal"
	"github.com/polyspike/bot/internal/notify"
	"github.com/polyspike/bot/internal/position"
	"github.com/polyspike/bot/internal/publisher"
	"github.com/polyspike/bot/internal/registry"
	"github.com/polyspike/bot/internal/risk"
	"github.com/polyspike/bot/internal/strategy"
	"github.com/polyspike/bot/internal/types"
	"github.com/polyspike/bot/internal/venue"
	"github.com/polyspike/bot/internal/window"
)

const version = "1.0.0"

func main() {
	headless := flag.Bool("headless", false, "disable the Telegram notifier even if configured")
	dryRunFlag := flag.Bool("dry-run", false, "force dry-run regardless of DRY_RUN env var")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *dryRunFlag {
		cfg.DryRun = true
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	log.Info().Str("version", version).Str("asset", cfg.AssetTag).
		Bool("dry_run", cfg.DryRun).Msg("polyspike starting")

	venueClient, err := buildVenueClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build venue client")
	}

	events := eventlog.New()
	stats := types.NewStats()

	f := feed.New(cfg.Symbol)
	reg := registry.New(venueClient, cfg.AssetTag, cfg.DurationTag, cfg.RegistryRefreshInterval, cfg.ResolutionGrace, cfg.Lookahead)
	tracker := window.New(cfg.SettleSeconds, cfg.ClosingWindow, cfg.SpikeWindowSec)

	riskCheck := risk.NewVerifier(cfg.MaxConcurrentPos, cfg.MinTimeToResolution, cfg.MaxConsecutiveLosses, cfg.CircuitCooldown, cfg.MaxDailyLossPct, cfg.DailyEquityBaseline)

	mgrCfg := position.Config{
		MaxEntryPrice:      cfg.MaxEntryPrice,
		MaxPositionUSDC:    cfg.MaxPositionUSDC,
		FeeRate:            cfg.FeeRate,
		ProfitTargetPct:    cfg.ProfitTargetPct,
		MoonbagPct:         cfg.MoonbagPct,
		DrawdownTriggerPct: cfg.DrawdownTriggerPct,
		ProtectionExitPct:  cfg.ProtectionExitPct,
		HardStopPct:        cfg.HardStopPct,
		ExitEvalInterval:   cfg.ExitEvalInterval,
		SpikeDebounce:      cfg.SpikeDebounce,
		SizeByConfidence:   cfg.SizeByConfidence,
	}
	mgr := position.New(mgrCfg, venueClient, f, tracker, reg, riskCheck, events, stats)

	if cfg.JournalEnabled {
		j, err := journal.New()
		if err != nil {
			log.Warn().Err(err).Msg("journal disabled: failed to open in-memory mirror")
		} else {
			mgr.SetJournal(j)
		}
	}

	pub := publisher.New(f, reg, mgr, stats, events, 150*time.Millisecond)

	var telegram *notify.Telegram
	if !*headless {
		telegram, err = notify.New(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("telegram notifier disabled")
			telegram = nil
		}
	}

	strategies := buildStrategies(cfg, venueClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.Start(ctx)
	reg.Start(ctx)
	go mgr.Run(ctx)
	go pub.Run(ctx)

	notifyStop := make(chan struct{})
	if telegram != nil {
		telegram.Startup(cfg.AssetTag)
		go notify.Watch(telegram, events, notifyStop)
	}

	go runEngine(ctx, f, reg, tracker, strategies, mgr, pub, cfg)

	log.Info().Msg("all components started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received, draining")

	// The feed stops first; cancel() then stops the strategy/exit,
	// resolution-polling, registry and publisher loops together, since they
	// all share ctx. The 10s pause follows, before the registry and venue
	// client are closed.
	f.Stop()
	cancel()
	close(notifyStop)

	time.Sleep(10 * time.Second)
	reg.Stop()
	if closer, ok := venueClient.(interface{ Close() }); ok {
		closer.Close()
	}

	log.Info().Msg("shutdown complete")
}

func buildVenueClient(cfg *config.Config) (venue.Client, error) {
	opts := []venue.Option{}
	if cfg.VenueAPIKey != "" {
		opts = append(opts, venue.WithCredentials(cfg.VenueAPIKey, cfg.VenueAPISecret, cfg.VenuePassphrase, cfg.VenueAddress))
	}
	if !cfg.DryRun && cfg.VenuePrivateKey != "" {
		key, err := venue.PrivateKeyFromHex(cfg.VenuePrivateKey)
		if err != nil {
			return nil, err
		}
		signerAddr := crypto.PubkeyToAddress(key.PublicKey)
		signer := venue.NewOrderSignerForChain(key, signerAddr, signerAddr, 0, cfg.VenueChainID, cfg.VenueExchangeAddress)
		opts = append(opts, venue.WithSigner(signer))
	}
	return venue.NewHTTPClient(cfg.AssetTag, cfg.DurationTag, cfg.DryRun, opts...), nil
}

func buildStrategies(cfg *config.Config, client venue.Client) []strategy.Strategy {
	return []strategy.Strategy{
		strategy.NewSpikeStrategy(cfg.SpikeMoveUSD, cfg.SettleSeconds, cfg.ClosingWindow),
		strategy.NewPassiveStrategy(types.SideUp, cfg.PassiveEntryPrice),
		strategy.NewThresholdStrategy(client, cfg.LateEntryPrice, cfg.ChoppyCutoff, cfg.TrackingStartSecBeforeEnd, cfg.DecisionSecBeforeEnd),
	}
}

// runEngine is the Window Tracker's driving loop (component C): it fans
// out every feed tick to every tracked window, evaluates every strategy
// against each, and forwards signals to the position manager. Grounded on
// the teacher's core engine main loop shape, generalized from a single
// asset-wide strategy pass to a per-window, per-strategy fan-out.
func runEngine(ctx context.Context, f *feed.Feed, reg *registry.Registry, tracker *window.Tracker, strategies []strategy.Strategy, mgr *position.Manager, pub *publisher.Publisher, cfg *config.Config) {
	ticks := f.Subscribe()
	newWindows := reg.Subscribe()

	pollTicker := time.NewTicker(cfg.PollIntervalSec)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case w := <-newWindows:
			tracker.Track(w)

		case tick := <-ticks:
			tracker.OnTick(tick)
			for _, slug := range tracker.Slugs() {
				evaluateWindow(ctx, tracker, slug, strategies, mgr)
			}
			pub.Nudge()

		case <-pollTicker.C:
			// Strategies that need a book read even absent a fresh tick
			// (the late-threshold tracking sub-window) get a periodic
			// chance to sample here too; this pass also retires windows
			// the tracker no longer needs.
			for _, slug := range tracker.Slugs() {
				evaluateWindow(ctx, tracker, slug, strategies, mgr)
				if phase, _ := tracker.Phase(slug, time.Now()); phase == types.PhaseEnded {
					tracker.Drop(slug)
				}
			}
		}
	}
}

func evaluateWindow(ctx context.Context, tracker *window.Tracker, slug string, strategies []strategy.Strategy, mgr *position.Manager) {
	w, ticks, ok := tracker.Snapshot(slug)
	if !ok {
		return
	}
	_, transitioned := tracker.Phase(slug, time.Now())

	in := strategy.Input{
		Ctx:          ctx,
		Window:       w,
		Ticks:        ticks,
		Now:          time.Now(),
		Transitioned: transitioned,
	}

	for _, s := range strategies {
		if !s.Enabled() {
			continue
		}
		if sig := s.Evaluate(in); sig != nil {
			mgr.Submit(sig)
		}
	}
}
