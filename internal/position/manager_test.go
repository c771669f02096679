package position

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

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

// fakeVenue is a fully scriptable venue.Client stand-in: sell attempts can
// be made to fail a fixed number of times before succeeding, matching the
// retry path under test.
type fakeVenue struct {
	mu            sync.Mutex
	sellFailures  int // number of PlaceOrder(SELL) calls to fail before succeeding
	placeOrderErr error
	market        *venue.MarketDescriptor
	marketErr     error
	windows       []venue.WindowDescriptor
}

func (f *fakeVenue) ListWindows(ctx context.Context, asset, duration string) ([]venue.WindowDescriptor, error) {
	return f.windows, nil
}

func (f *fakeVenue) GetMarket(ctx context.Context, slug string) (*venue.MarketDescriptor, error) {
	return f.market, f.marketErr
}

func (f *fakeVenue) GetBook(ctx context.Context, tokenID string) (*venue.Book, error) {
	price := decimal.NewFromFloat(0.30)
	return &venue.Book{
		Bids: []venue.BookLevel{{Price: price, Size: decimal.NewFromInt(1000)}},
		Asks: []venue.BookLevel{{Price: price, Size: decimal.NewFromInt(1000)}},
	}, nil
}

func (f *fakeVenue) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderID, error) {
	if f.placeOrderErr != nil {
		return "", f.placeOrderErr
	}
	if req.Side == venue.OrderSell {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.sellFailures > 0 {
			f.sellFailures--
			return "", errors.New("sell rejected")
		}
	}
	return venue.OrderID("order-1"), nil
}

func (f *fakeVenue) WaitResolution(ctx context.Context, slug string, timeout time.Duration) (*string, error) {
	return nil, nil
}

func newTestManager(t *testing.T, client venue.Client) *Manager {
	t.Helper()
	cfg := Config{
		MaxEntryPrice:      decimal.NewFromFloat(0.60),
		MaxPositionUSDC:    decimal.NewFromInt(50),
		FeeRate:            decimal.NewFromFloat(0.02),
		ProfitTargetPct:    decimal.NewFromInt(10),
		MoonbagPct:         decimal.NewFromInt(20),
		DrawdownTriggerPct: decimal.NewFromInt(-15),
		ProtectionExitPct:  decimal.NewFromInt(-10),
		HardStopPct:        decimal.NewFromInt(-25),
		ExitEvalInterval:   time.Second,
	}
	f := feed.New("btcusdt")
	tracker := window.New(10*time.Second, 30*time.Second, 5*time.Second)
	reg := registry.New(client, "btc", "5m", time.Minute, time.Minute, time.Hour)
	riskCheck := risk.NewVerifier(3, 30*time.Second, 3, 30*time.Minute, decimal.NewFromFloat(0.05), decimal.NewFromInt(1000))
	events := eventlog.New()
	stats := types.NewStats()
	return New(cfg, client, f, tracker, reg, riskCheck, events, stats)
}

func newOpenPosition(entry string) *types.Position {
	return &types.Position{
		ID:         "p1",
		WindowSlug: "w1",
		Side:       types.SideUp,
		TokenID:    "up-token",
		EntryPrice: decimal.RequireFromString(entry),
		Shares:     decimal.NewFromInt(100),
		Cost:       decimal.NewFromInt(100).Mul(decimal.RequireFromString(entry)),
		Status:     types.StatusOpen,
		Mode:       types.ModeNormal,
		Window:     types.WindowSnapshot{EndTime: time.Now().Add(time.Minute)},
	}
}

// --- exit state machine (spec.md §4.D's seven ordered rules) ---

func TestEvaluatePositionHardStopTakesPriorityOverEverything(t *testing.T) {
	m := newTestManager(t, &fakeVenue{})
	pos := newOpenPosition("0.50")
	pos.Mode = types.ModeMoonbag // would otherwise trail-exit

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	// -25% gain: 0.50 * 0.75 = 0.375
	m.evaluatePosition(context.Background(), pos, decimal.NewFromFloat(0.375))

	if pos.Status != types.StatusClosed {
		t.Fatalf("status = %s, want closed", pos.Status)
	}
}

func TestEvaluatePositionProtectionExit(t *testing.T) {
	m := newTestManager(t, &fakeVenue{})
	pos := newOpenPosition("0.50")
	pos.Mode = types.ModeProtection

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	// -10% gain exactly: protection_exit_pct = -10
	m.evaluatePosition(context.Background(), pos, decimal.NewFromFloat(0.45))

	if pos.Status != types.StatusClosed {
		t.Fatalf("status = %s, want closed (protection exit)", pos.Status)
	}
}

func TestEvaluatePositionSwitchesToProtectionOnDrawdown(t *testing.T) {
	m := newTestManager(t, &fakeVenue{})
	pos := newOpenPosition("0.50")

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	// -15% gain: 0.50 * 0.85 = 0.425
	m.evaluatePosition(context.Background(), pos, decimal.NewFromFloat(0.425))

	if pos.Status != types.StatusOpen {
		t.Fatalf("status = %s, want still open (mode switch only)", pos.Status)
	}
	if pos.Mode != types.ModeProtection {
		t.Fatalf("mode = %s, want protection", pos.Mode)
	}
}

func TestEvaluatePositionMoonbagTrailExit(t *testing.T) {
	m := newTestManager(t, &fakeVenue{})
	pos := newOpenPosition("0.50")
	pos.Mode = types.ModeMoonbag
	pos.PeakGainPct = decimal.NewFromInt(25)

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	// back down to +10%, the profit target, while in moonbag mode
	m.evaluatePosition(context.Background(), pos, decimal.NewFromFloat(0.55))

	if pos.Status != types.StatusClosed {
		t.Fatalf("status = %s, want closed (moonbag trail)", pos.Status)
	}
}

func TestEvaluatePositionSwitchesToMoonbagOnPeak(t *testing.T) {
	m := newTestManager(t, &fakeVenue{})
	pos := newOpenPosition("0.50")

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	// +20% gain crosses moonbag_pct
	m.evaluatePosition(context.Background(), pos, decimal.NewFromFloat(0.60))

	if pos.Status != types.StatusOpen {
		t.Fatalf("status = %s, want still open (mode switch only)", pos.Status)
	}
	if pos.Mode != types.ModeMoonbag {
		t.Fatalf("mode = %s, want moonbag", pos.Mode)
	}
}

func TestEvaluatePositionTakeProfitExit(t *testing.T) {
	m := newTestManager(t, &fakeVenue{})
	pos := newOpenPosition("0.50")

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	// +10% gain, mode still normal: take-profit, not a moonbag switch,
	// since the 10% peak is below the 20% moonbag trigger.
	m.evaluatePosition(context.Background(), pos, decimal.NewFromFloat(0.55))

	if pos.Status != types.StatusClosed {
		t.Fatalf("status = %s, want closed (take profit)", pos.Status)
	}
}

func TestEvaluatePositionNoRuleMatchesStaysOpen(t *testing.T) {
	m := newTestManager(t, &fakeVenue{})
	pos := newOpenPosition("0.50")

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	m.evaluatePosition(context.Background(), pos, decimal.NewFromFloat(0.51)) // +2%

	if pos.Status != types.StatusOpen {
		t.Fatalf("status = %s, want open", pos.Status)
	}
	if pos.Mode != types.ModeNormal {
		t.Fatalf("mode = %s, want normal", pos.Mode)
	}
}

// --- P&L / fee application ---

func TestClosePositionAppliesFeeOnlyOnWins(t *testing.T) {
	m := newTestManager(t, &fakeVenue{})

	win := newOpenPosition("0.50")
	m.closePosition(win, decimal.NewFromFloat(0.55), types.ExitTakeProfit)
	wantWinPnL := decimal.NewFromInt(100).Mul(decimal.NewFromFloat(0.05)).Mul(decimal.NewFromFloat(0.98))

	loss := newOpenPosition("0.50")
	m.closePosition(loss, decimal.NewFromFloat(0.40), types.ExitHardStop)
	wantLossPnL := decimal.NewFromInt(100).Mul(decimal.NewFromFloat(-0.10))

	if stats := m.stats.Snapshot(); !stats.TotalPnL.Equal(wantWinPnL.Add(wantLossPnL)) {
		t.Fatalf("TotalPnL = %s, want %s", stats.TotalPnL, wantWinPnL.Add(wantLossPnL))
	}
}

// --- retry / sell-stuck fallback ---

func TestSellWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	fv := &fakeVenue{sellFailures: 2}
	m := newTestManager(t, fv)
	pos := newOpenPosition("0.50")

	price, err := m.sellWithRetry(context.Background(), pos, decimal.NewFromFloat(0.55))
	if err != nil {
		t.Fatalf("expected success on the third attempt, got %v", err)
	}
	if !price.Equal(decimal.NewFromFloat(0.55)) {
		t.Errorf("exit price = %s, want 0.55", price)
	}
	if pos.SellAttempts != 2 {
		t.Errorf("SellAttempts = %d, want 2 failed attempts recorded", pos.SellAttempts)
	}
}

func TestExecuteExitMarksSellStuckAfterExhaustingRetries(t *testing.T) {
	fv := &fakeVenue{sellFailures: 10} // more than the 3 retries
	m := newTestManager(t, fv)
	pos := newOpenPosition("0.50")
	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	m.executeExit(context.Background(), pos, decimal.NewFromFloat(0.55), types.ExitTakeProfit)

	if !pos.SellStuck {
		t.Fatal("expected SellStuck=true after exhausting all retries")
	}
	if pos.Status != types.StatusOpen {
		t.Fatalf("status = %s, want open (left for the resolution poller)", pos.Status)
	}
}

// --- resolution path ---

func TestApplyResolutionClosesAsWinWhenOutcomeMatchesSide(t *testing.T) {
	m := newTestManager(t, &fakeVenue{})
	pos := newOpenPosition("0.50")
	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	outcome := "Up"
	m.applyResolution(resolutionResult{positionID: pos.ID, outcome: &outcome})

	if pos.Status != types.StatusClosed {
		t.Fatalf("status = %s, want closed", pos.Status)
	}
}

func TestApplyResolutionIgnoresAlreadyClosedPosition(t *testing.T) {
	m := newTestManager(t, &fakeVenue{})
	pos := newOpenPosition("0.50")
	pos.Status = types.StatusClosed
	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	outcome := "Up"
	m.applyResolution(resolutionResult{positionID: pos.ID, outcome: &outcome})
	// no panic, no double-close; nothing further to assert beyond survival
}

func TestApplyResolutionNoopOnError(t *testing.T) {
	m := newTestManager(t, &fakeVenue{})
	pos := newOpenPosition("0.50")
	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	m.applyResolution(resolutionResult{positionID: pos.ID, err: errors.New("timeout")})

	if pos.Status != types.StatusOpen {
		t.Fatalf("status = %s, want still open on a resolution error", pos.Status)
	}
}

// --- entry-time refusal paths ---

// The byWindow guard is checked before the (network-dependent) risk gates,
// so it can be exercised directly without a live feed: seed a window in the
// registry and a position already recorded for it, then confirm a second,
// differently-named strategy signal for the same window is refused before
// ever reaching order placement.
func TestHandleSignalRefusesSecondPositionOnSameWindow(t *testing.T) {
	fv := &fakeVenue{}
	m := newTestManager(t, fv)

	fv.windows = []venue.WindowDescriptor{{
		Slug: "w1", UpTokenID: "up", DownTokenID: "down", EndTime: time.Now().Add(time.Hour),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.registry.Start(ctx)
	defer m.registry.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for m.registry.Get("w1") == nil {
		if time.Now().After(deadline) {
			t.Fatal("registry never discovered w1")
		}
		time.Sleep(time.Millisecond)
	}

	m.mu.Lock()
	m.positions["existing"] = newOpenPosition("0.30")
	m.byWindow["w1"] = "existing"
	m.mu.Unlock()

	sig := &strategy.Signal{WindowSlug: "w1", Side: types.SideDown, AtPrice: decimal.NewFromFloat(0.30), Strategy: "passive_limit"}
	m.handleSignal(context.Background(), sig)

	if m.OpenCount() != 1 {
		t.Fatalf("OpenCount = %d, want still 1: a signal for an already-open window must be refused", m.OpenCount())
	}
}

func TestSubmitDebouncesConsecutiveSignals(t *testing.T) {
	fv := &fakeVenue{}
	m := newTestManager(t, fv)
	m.cfg.SpikeDebounce = time.Hour // any signal within an hour of the last is debounced

	sig1 := &strategy.Signal{WindowSlug: "w1", Side: types.SideUp, Strategy: "spike"}
	sig2 := &strategy.Signal{WindowSlug: "w2", Side: types.SideUp, Strategy: "spike"}

	m.Submit(sig1)
	m.Submit(sig2)

	if len(m.signalCh) != 1 {
		t.Fatalf("queued signals = %d, want 1: the second signal must be debounced", len(m.signalCh))
	}
}

func TestSubmitDoesNotDebounceWhenDisabled(t *testing.T) {
	fv := &fakeVenue{}
	m := newTestManager(t, fv)
	m.cfg.SpikeDebounce = 0

	m.Submit(&strategy.Signal{WindowSlug: "w1", Strategy: "spike"})
	m.Submit(&strategy.Signal{WindowSlug: "w2", Strategy: "spike"})

	if len(m.signalCh) != 2 {
		t.Fatalf("queued signals = %d, want 2 with debounce disabled", len(m.signalCh))
	}
}

func TestSizeEntryUsesFixedRuleByDefault(t *testing.T) {
	fv := &fakeVenue{}
	m := newTestManager(t, fv)
	m.cfg.MaxPositionUSDC = decimal.NewFromInt(50)

	bestAsk := decimal.NewFromFloat(0.50)
	got := m.sizeEntry(bestAsk, decimal.NewFromFloat(0.1)) // low confidence must not matter
	want := risk.Size(m.cfg.MaxPositionUSDC, bestAsk)

	if !got.Equal(want) {
		t.Errorf("sizeEntry = %s, want the fixed-rule size %s when SizeByConfidence is disabled", got, want)
	}
}

func TestSizeEntryScalesByConfidenceWhenEnabled(t *testing.T) {
	fv := &fakeVenue{}
	m := newTestManager(t, fv)
	m.cfg.MaxPositionUSDC = decimal.NewFromInt(50)
	m.cfg.SizeByConfidence = true

	bestAsk := decimal.NewFromFloat(0.50)
	low := m.sizeEntry(bestAsk, decimal.NewFromFloat(0.2))
	full := m.sizeEntry(bestAsk, decimal.NewFromInt(1))

	if !low.LessThan(full) {
		t.Errorf("low-confidence size %s should be less than full-confidence size %s", low, full)
	}
}

func TestSizeEntryTreatsZeroConfidenceAsFull(t *testing.T) {
	fv := &fakeVenue{}
	m := newTestManager(t, fv)
	m.cfg.MaxPositionUSDC = decimal.NewFromInt(50)
	m.cfg.SizeByConfidence = true

	bestAsk := decimal.NewFromFloat(0.50)
	zero := m.sizeEntry(bestAsk, decimal.Zero)
	full := m.sizeEntry(bestAsk, decimal.NewFromInt(1))

	if !zero.Equal(full) {
		t.Errorf("an unset confidence should size as if fully confident: got %s, want %s", zero, full)
	}
}
