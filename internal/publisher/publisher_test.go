package publisher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyspike/bot/internal/eventlog"
	"github.com/polyspike/bot/internal/feed"
	"github.com/polyspike/bot/internal/position"
	"github.com/polyspike/bot/internal/registry"
	"github.com/polyspike/bot/internal/risk"
	"github.com/polyspike/bot/internal/types"
	"github.com/polyspike/bot/internal/venue"
	"github.com/polyspike/bot/internal/window"
)

type stubVenue struct {
	venue.Client
}

func newTestPublisher(t *testing.T) *Publisher {
	t.Helper()
	f := feed.New("btcusdt")
	reg := registry.New(&stubVenue{}, "btc", "5m", time.Minute, time.Minute, time.Hour)
	tracker := window.New(10*time.Second, 30*time.Second, 5*time.Second)
	riskCheck := risk.NewVerifier(3, 30*time.Second, 3, 30*time.Minute, decimal.NewFromFloat(0.05), decimal.NewFromInt(1000))
	events := eventlog.New()
	stats := types.NewStats()
	mgr := position.New(position.Config{
		MaxEntryPrice:   decimal.NewFromFloat(0.6),
		MaxPositionUSDC: decimal.NewFromInt(50),
		FeeRate:         decimal.NewFromFloat(0.02),
	}, &stubVenue{}, f, tracker, reg, riskCheck, events, stats)

	return New(f, reg, mgr, stats, events, 10*time.Millisecond)
}

func TestCurrentIsNilBeforeFirstRender(t *testing.T) {
	p := newTestPublisher(t)
	if p.Current() != nil {
		t.Fatal("expected Current() to be nil before any render")
	}
}

func TestRenderPopulatesSnapshotFromComponents(t *testing.T) {
	p := newTestPublisher(t)
	p.render()

	snap := p.Current()
	if snap == nil {
		t.Fatal("expected a snapshot after render")
	}
	if snap.FeedLive {
		t.Error("feed_live should be false: the feed was never started")
	}
	if snap.Windows == nil {
		t.Error("windows should be an empty (non-nil-by-construction) slice, not unset")
	}
}

func TestJSONReturnsEmptyObjectBeforeFirstRender(t *testing.T) {
	p := newTestPublisher(t)
	out, err := p.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if string(out) != "{}" {
		t.Errorf("JSON() = %s, want {}", out)
	}
}

func TestJSONMarshalsCurrentSnapshot(t *testing.T) {
	p := newTestPublisher(t)
	p.render()

	out, err := p.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if len(out) == 0 || out[0] != '{' {
		t.Errorf("JSON() = %s, want a JSON object", out)
	}
}

func TestRenderDoesNotTruncateHistory(t *testing.T) {
	p := newTestPublisher(t)
	for i := 0; i < maxPriceHistory+10; i++ {
		p.history = append(p.history, PriceSample{T: time.Now(), Price: decimal.NewFromInt(1)})
	}
	p.render()
	if len(p.history) != maxPriceHistory+10 {
		t.Fatalf("render must not itself truncate history; only sample() does")
	}
}
