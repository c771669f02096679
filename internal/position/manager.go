// Package position implements the Strategy / Position Manager component
// (spec.md §4.D): converts signals into orders via the Venue Client, drives
// every open position through its exit state machine, and records closed
// trades. Grounded on the shape of the teacher's core/engine.go
// (mainLoop/executeSignal/positionMonitorLoop/checkPosition/exitPosition)
// and risk/tp_sl.go's CheckExit, generalized from the teacher's single
// global TP/SL pair into spec.md §4.D's ordered, mode-aware rule table.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyspike/bot/internal/eventlog"
	"github.com/polyspike/bot/internal/feed"
	"github.com/polyspike/bot/internal/registry"
	"github.com/polyspike/bot/internal/risk"
	"github.com/polyspike/bot/internal/strategy"
	"github.com/polyspike/bot/internal/types"
	"github.com/polyspike/bot/internal/venue"
	"github.com/polyspike/bot/internal/window"
)

// Config holds every threshold spec.md §4.D and §6 name for the manager.
type Config struct {
	MaxEntryPrice   decimal.Decimal
	MaxPositionUSDC decimal.Decimal
	FeeRate         decimal.Decimal

	ProfitTargetPct    decimal.Decimal
	MoonbagPct         decimal.Decimal
	DrawdownTriggerPct decimal.Decimal
	ProtectionExitPct  decimal.Decimal
	HardStopPct        decimal.Decimal

	ExitEvalInterval time.Duration

	// SpikeDebounce is spec.md §4.C's global minimum gap between consecutive
	// signals, across every window, to bound order-placement burstiness.
	SpikeDebounce time.Duration

	// SizeByConfidence switches entry sizing from spec.md §4.D's fixed
	// floor(max_position_usdc/best_ask) to the confidence-weighted
	// supplement (SPEC_FULL.md §12). Disabled by default.
	SizeByConfidence bool
}

// Manager is component D. All mutators for a position run on the manager's
// single goroutine (Run), matching spec.md §5's single-writer guarantee.
type Manager struct {
	cfg Config

	venueClient venue.Client
	feed        *feed.Feed
	tracker     *window.Tracker
	registry    *registry.Registry
	riskCheck   *risk.Verifier
	events      *eventlog.Log
	stats       *types.Stats
	journal     tradeRecorder

	mu        sync.RWMutex
	positions map[string]*types.Position // keyed by position ID
	byWindow  map[string]string          // window slug -> position ID, at most one per window

	lastSignalAt time.Time // global debounce clock, across every window

	signalCh     chan *strategy.Signal
	resolutionCh chan resolutionResult
}

// tradeRecorder is the subset of *journal.Journal the manager needs; kept
// as a narrow interface here so this package doesn't import journal
// (which would otherwise be the only optional, storage-flavored dependency
// pulled into the core trading path).
type tradeRecorder interface {
	Record(c *types.ClosedTrade)
}

type resolutionResult struct {
	positionID string
	outcome    *string // "Up", "Down", or nil (not yet resolved)
	err        error
}

// New builds the Strategy/Position Manager.
func New(cfg Config, venueClient venue.Client, f *feed.Feed, tracker *window.Tracker, reg *registry.Registry, riskCheck *risk.Verifier, events *eventlog.Log, stats *types.Stats) *Manager {
	return &Manager{
		cfg:          cfg,
		venueClient:  venueClient,
		feed:         f,
		tracker:      tracker,
		registry:     reg,
		riskCheck:    riskCheck,
		events:       events,
		stats:        stats,
		positions:    make(map[string]*types.Position),
		byWindow:     make(map[string]string),
		signalCh:     make(chan *strategy.Signal, 64),
		resolutionCh: make(chan resolutionResult, 16),
	}
}

// SetJournal wires the optional trade mirror. Safe to call once before Run;
// a nil journal (the default) disables mirroring entirely.
func (m *Manager) SetJournal(j tradeRecorder) {
	m.journal = j
}

// Submit enqueues a signal for the strategy task. Non-blocking; a full
// queue drops the oldest-pending-processing guarantee is not required by
// spec.md (signals aren't persisted), so we drop and warn instead of
// blocking the caller.
//
// Every signal, regardless of which window or strategy fired it, shares
// one debounce clock: spec.md §4.C requires at least SpikeDebounce between
// any two consecutive signals to bound order-placement burstiness.
func (m *Manager) Submit(sig *strategy.Signal) {
	m.mu.Lock()
	if m.cfg.SpikeDebounce > 0 && !m.lastSignalAt.IsZero() && time.Since(m.lastSignalAt) < m.cfg.SpikeDebounce {
		m.mu.Unlock()
		m.events.Append(eventlog.KindWarn, "signal debounced for "+sig.WindowSlug)
		return
	}
	m.lastSignalAt = time.Now()
	m.mu.Unlock()

	select {
	case m.signalCh <- sig:
	default:
		m.events.Append(eventlog.KindWarn, "signal queue full, dropping signal for "+sig.WindowSlug)
	}
}

// Run is the single-threaded strategy+exit task: it is the sole mutator of
// every Position and of Window.SignalFired, matching spec.md §5's ordering
// guarantees.
func (m *Manager) Run(ctx context.Context) {
	exitTicker := time.NewTicker(m.cfg.ExitEvalInterval)
	defer exitTicker.Stop()

	resolutionTicker := time.NewTicker(10 * time.Second)
	defer resolutionTicker.Stop()

	log.Info().Msg("strategy/position manager started")

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-m.signalCh:
			m.handleSignal(ctx, sig)
		case <-exitTicker.C:
			m.evaluateExits(ctx)
		case <-resolutionTicker.C:
			m.pollResolutions(ctx)
		case res := <-m.resolutionCh:
			m.applyResolution(res)
		}
	}
}

// OpenCount returns the number of currently open (non-closed) positions.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.positions {
		if p.Status != types.StatusClosed {
			n++
		}
	}
	return n
}

// Snapshot returns a defensive copy of all positions, for the publisher.
func (m *Manager) Snapshot() []types.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// handleSignal is spec.md §4.D's entry sequence, run synchronously on the
// strategy task.
func (m *Manager) handleSignal(ctx context.Context, sig *strategy.Signal) {
	m.stats.RecordSignal()

	w := m.registry.Get(sig.WindowSlug)
	if w == nil {
		m.warn("signal for unknown/evicted window " + sig.WindowSlug)
		return
	}
	if w.HasFired(sig.Strategy) {
		return // at-most-one entry signal per (window, strategy)
	}

	m.mu.RLock()
	_, alreadyOpen := m.byWindow[sig.WindowSlug]
	m.mu.RUnlock()
	if alreadyOpen {
		log.Error().Str("window", sig.WindowSlug).Msg("invariant: second open position on same window refused")
		return
	}

	timeToResolution := time.Until(w.EndTime)
	check := m.riskCheck.VerifyBudget(m.OpenCount(), m.feed.Live(), timeToResolution)
	if !check.OK {
		m.warn(fmt.Sprintf("entry refused for %s: %s", sig.WindowSlug, check.Reason))
		return
	}

	tokenID := w.TokenID(sig.Side)
	book, err := m.venueClient.GetBook(ctx, tokenID)
	if err != nil {
		m.warn("book read failed for " + sig.WindowSlug + ": " + err.Error())
		return
	}
	bestAsk := book.BestAsk()
	if bestAsk.IsZero() {
		m.warn("book_repriced: no ask liquidity on " + sig.WindowSlug)
		return
	}
	if bestAsk.GreaterThan(m.cfg.MaxEntryPrice) {
		m.warn("book_repriced: best_ask " + bestAsk.StringFixed(3) + " > max_entry_price on " + sig.WindowSlug)
		return
	}

	shares := m.sizeEntry(bestAsk, sig.Confidence)
	if shares.IsZero() {
		m.warn("insufficient_liquidity: zero-size entry for " + sig.WindowSlug)
		return
	}

	orderID, err := m.venueClient.PlaceOrder(ctx, venue.OrderRequest{
		TokenID: tokenID,
		Side:    venue.OrderBuy,
		Price:   bestAsk,
		Size:    shares,
		Type:    venue.OrderTypeMarket,
	})
	if err != nil {
		m.warn("venue_rejected: buy failed for " + sig.WindowSlug + ": " + err.Error())
		return
	}

	w.MarkFired(sig.Strategy)

	pos := &types.Position{
		ID:         uuid.New().String(),
		WindowSlug: w.Slug,
		Window: types.WindowSnapshot{
			EndTime:     w.EndTime,
			UpTokenID:   w.UpTokenID,
			DownTokenID: w.DownTokenID,
		},
		Side:        sig.Side,
		TokenID:     tokenID,
		Strategy:    sig.Strategy,
		EntryPrice:  bestAsk,
		Shares:      shares,
		Cost:        shares.Mul(bestAsk),
		OpenedAt:    time.Now(),
		PeakGainPct: decimal.Zero,
		Mode:        types.ModeNormal,
		Status:      types.StatusOpen,
	}

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.byWindow[w.Slug] = pos.ID
	m.mu.Unlock()

	m.events.Append(eventlog.KindBuy, fmt.Sprintf("buy %s %s shares=%s price=%s order=%s", w.Slug, sig.Side, shares.String(), bestAsk.String(), orderID))
}

// sizeEntry applies spec.md §4.D's fixed floor(max_position_usdc/best_ask)
// sizing rule by default, or the confidence-weighted supplement
// (SPEC_FULL.md §12) when SizeByConfidence is enabled. An unset (zero)
// confidence is treated as full confidence, so strategies that don't
// populate it behave exactly as the fixed rule.
func (m *Manager) sizeEntry(bestAsk, confidence decimal.Decimal) decimal.Decimal {
	if !m.cfg.SizeByConfidence {
		return risk.Size(m.cfg.MaxPositionUSDC, bestAsk)
	}
	if confidence.IsZero() {
		confidence = decimal.NewFromInt(1)
	}
	return risk.SizeByConfidence(m.cfg.MaxPositionUSDC, bestAsk, confidence)
}

func (m *Manager) warn(msg string) {
	m.events.Append(eventlog.KindWarn, msg)
}

// evaluateExits re-prices every open position still inside its window and
// runs it through the ordered exit rule table. Positions whose window has
// already ended are left for pollResolutions instead.
func (m *Manager) evaluateExits(ctx context.Context) {
	now := time.Now()

	m.mu.RLock()
	open := make([]*types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.Status == types.StatusOpen {
			open = append(open, p)
		}
	}
	m.mu.RUnlock()

	for _, pos := range open {
		if !now.Before(pos.Window.EndTime) {
			continue
		}
		book, err := m.venueClient.GetBook(ctx, pos.TokenID)
		if err != nil {
			continue
		}
		bestBid := book.BestBid()
		if bestBid.IsZero() {
			continue
		}
		m.evaluatePosition(ctx, pos, bestBid)
	}
}

// evaluatePosition is spec.md §4.D's exit rule table, evaluated in order;
// the first matching rule wins and every later rule is skipped for this
// call.
func (m *Manager) evaluatePosition(ctx context.Context, pos *types.Position, bestBid decimal.Decimal) {
	gainPct := pos.GainPct(bestBid)

	m.mu.Lock()
	if gainPct.GreaterThan(pos.PeakGainPct) {
		pos.PeakGainPct = gainPct
	}
	mode := pos.Mode
	peak := pos.PeakGainPct
	m.mu.Unlock()

	switch {
	case gainPct.LessThanOrEqual(m.cfg.HardStopPct):
		m.executeExit(ctx, pos, bestBid, types.ExitHardStop)

	case mode == types.ModeProtection && gainPct.GreaterThanOrEqual(m.cfg.ProtectionExitPct):
		m.executeExit(ctx, pos, bestBid, types.ExitProtection)

	case mode != types.ModeProtection && gainPct.LessThanOrEqual(m.cfg.DrawdownTriggerPct):
		m.setMode(pos, types.ModeProtection)

	case mode == types.ModeMoonbag && gainPct.LessThanOrEqual(m.cfg.ProfitTargetPct):
		m.executeExit(ctx, pos, bestBid, types.ExitMoonbagTrail)

	case mode != types.ModeMoonbag && peak.GreaterThanOrEqual(m.cfg.MoonbagPct):
		m.setMode(pos, types.ModeMoonbag)

	case mode != types.ModeMoonbag && gainPct.GreaterThanOrEqual(m.cfg.ProfitTargetPct):
		m.executeExit(ctx, pos, bestBid, types.ExitTakeProfit)
	}
}

func (m *Manager) setMode(pos *types.Position, mode types.Mode) {
	m.mu.Lock()
	pos.Mode = mode
	m.mu.Unlock()
	m.events.Append(eventlog.KindInfo, fmt.Sprintf("%s mode -> %s", pos.WindowSlug, mode))
}

// executeExit places the closing sell (with retry) and, on success, closes
// the position. A failed sell leaves the position SellStuck=true and open —
// the resolution poller is the fallback path for it, per spec.md §7.
func (m *Manager) executeExit(ctx context.Context, pos *types.Position, bestBid decimal.Decimal, status types.ExitStatus) {
	m.mu.Lock()
	if pos.Status != types.StatusOpen {
		m.mu.Unlock()
		return
	}
	pos.Status = types.StatusClosing
	m.mu.Unlock()

	exitPrice, err := m.sellWithRetry(ctx, pos, bestBid)
	if err != nil {
		m.mu.Lock()
		pos.SellStuck = true
		pos.Status = types.StatusOpen
		m.mu.Unlock()
		m.warn(fmt.Sprintf("sell_stuck: %s failed to close after retries: %s", pos.WindowSlug, err.Error()))
		return
	}

	m.closePosition(pos, exitPrice, status)
}

// sellWithRetry attempts the closing sell up to three times with a 500ms
// backoff, per spec.md §7.
func (m *Manager) sellWithRetry(ctx context.Context, pos *types.Position, bestBid decimal.Decimal) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := m.venueClient.PlaceOrder(ctx, venue.OrderRequest{
			TokenID: pos.TokenID,
			Side:    venue.OrderSell,
			Price:   bestBid,
			Size:    pos.Shares,
			Type:    venue.OrderTypeMarket,
		})
		if err == nil {
			return bestBid, nil
		}
		lastErr = err

		m.mu.Lock()
		pos.SellAttempts++
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return decimal.Zero, lastErr
}

// closePosition is the sole path that finalizes a position: it computes
// P&L (fee applied only on a winning exit, per spec.md §4.D), records the
// trade and retires the position.
func (m *Manager) closePosition(pos *types.Position, exitPrice decimal.Decimal, status types.ExitStatus) {
	isWin := status == types.ExitTakeProfit || status == types.ExitMoonbagTrail || status == types.ExitResolvedWin

	diff := exitPrice.Sub(pos.EntryPrice)
	pnl := pos.Shares.Mul(diff)
	if isWin {
		pnl = pnl.Mul(decimal.NewFromInt(1).Sub(m.cfg.FeeRate))
	}

	pnlPct := decimal.Zero
	if !pos.Cost.IsZero() {
		pnlPct = pnl.Div(pos.Cost).Mul(decimal.NewFromInt(100))
	}

	trade := &types.ClosedTrade{
		WindowSlug: pos.WindowSlug,
		Side:       pos.Side,
		Entry:      pos.EntryPrice,
		Exit:       exitPrice,
		Shares:     pos.Shares,
		Cost:       pos.Cost,
		PnL:        pnl,
		PnLPct:     pnlPct,
		Status:     status,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   time.Now(),
	}

	m.mu.Lock()
	pos.Status = types.StatusClosed
	delete(m.byWindow, pos.WindowSlug)
	m.mu.Unlock()

	m.stats.RecordTrade(trade, trade.ClosedAt)
	m.riskCheck.RecordClosedTrade(pnl)
	if m.journal != nil {
		m.journal.Record(trade)
	}
	m.events.Append(eventlog.KindSell, fmt.Sprintf("closed %s %s status=%s pnl=%s", pos.WindowSlug, pos.Side, status, pnl.StringFixed(4)))
}

// pollResolutions looks for positions whose window has ended (or which are
// SellStuck) and asks the venue for a resolution, off the strategy task so
// a slow venue call never blocks signal/exit processing. Results come back
// on resolutionCh and are applied by Run, preserving single-writer
// semantics.
func (m *Manager) pollResolutions(ctx context.Context) {
	now := time.Now()

	m.mu.RLock()
	var candidates []*types.Position
	for _, p := range m.positions {
		if p.Status == types.StatusClosed {
			continue
		}
		if now.Before(p.Window.EndTime) && !p.SellStuck {
			continue
		}
		candidates = append(candidates, p)
	}
	m.mu.RUnlock()

	for _, pos := range candidates {
		pos := pos
		go func() {
			pollCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
			defer cancel()

			outcome, err := m.venueClient.WaitResolution(pollCtx, pos.WindowSlug, 8*time.Second)
			if err != nil {
				m.resolutionCh <- resolutionResult{positionID: pos.ID, err: err}
				return
			}
			m.resolutionCh <- resolutionResult{positionID: pos.ID, outcome: outcome}
		}()
	}
}

// applyResolution finalizes a position once its market has resolved. Runs
// only on the strategy task, so it composes safely with executeExit even
// if both race to close the same position (the Status guard makes the
// loser a no-op).
func (m *Manager) applyResolution(res resolutionResult) {
	if res.err != nil || res.outcome == nil {
		return
	}

	m.mu.RLock()
	pos, ok := m.positions[res.positionID]
	m.mu.RUnlock()
	if !ok || pos.Status == types.StatusClosed {
		return
	}

	won := types.Side(*res.outcome) == pos.Side
	exitPrice := decimal.Zero
	status := types.ExitResolvedLoss
	if won {
		exitPrice = decimal.NewFromInt(1)
		status = types.ExitResolvedWin
	}

	m.closePosition(pos, exitPrice, status)
}
