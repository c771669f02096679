package feed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestBackoffDurationIsCappedAtMaxBackoff(t *testing.T) {
	d := backoffDuration(10) // 2^10s would blow past the 30s cap
	if d < 0 || d > maxBackoff+time.Second {
		t.Fatalf("backoffDuration(10) = %s, want at most maxBackoff+1s jitter", d)
	}
}

func TestBackoffDurationGrowsWithAttempt(t *testing.T) {
	small := backoffDuration(1)
	large := backoffDuration(4)
	// Jitter is under 1s, far smaller than the gap between the attempt-1 and
	// attempt-4 floors, so the ordering holds whatever jitter is drawn.
	if large < small {
		t.Fatalf("backoffDuration(4)=%s should not be less than backoffDuration(1)=%s", large, small)
	}
}

func TestHandleTradeUpdatesPriceAndLiveness(t *testing.T) {
	f := New("btcusdt")
	msg, _ := json.Marshal(tradeMessage{Price: "65000.50", TradeTime: time.Now().UnixMilli()})

	f.handleTrade(msg)

	price, at := f.LastTick()
	if !price.Equal(decimal.RequireFromString("65000.50")) {
		t.Errorf("price = %s, want 65000.50", price)
	}
	if at.IsZero() {
		t.Error("expected a non-zero tick timestamp")
	}
	if !f.Live() {
		t.Error("expected Live() true after a trade message")
	}
}

func TestHandleTradeIgnoresMalformedMessages(t *testing.T) {
	f := New("btcusdt")
	f.handleTrade([]byte(`not json`))
	if f.Live() {
		t.Error("a malformed message must not flip Live() true")
	}

	f.handleTrade([]byte(`{"p":"not-a-number","T":1}`))
	if f.Live() {
		t.Error("an unparsable price must not flip Live() true")
	}
}

func TestHandleTradePublishesToSubscribers(t *testing.T) {
	f := New("btcusdt")
	ch := f.Subscribe()

	msg, _ := json.Marshal(tradeMessage{Price: "1.23", TradeTime: 0})
	f.handleTrade(msg)

	select {
	case tick := <-ch:
		if !tick.Price.Equal(decimal.RequireFromString("1.23")) {
			t.Errorf("tick price = %s, want 1.23", tick.Price)
		}
	default:
		t.Fatal("expected a tick on the subscriber channel")
	}
}

func TestCheckStaleFlipsLiveFalseAfterStaleAfter(t *testing.T) {
	f := New("btcusdt")
	f.mu.Lock()
	f.live = true
	f.at = time.Now().Add(-staleAfter - time.Second)
	f.mu.Unlock()

	f.checkStale()

	if f.Live() {
		t.Error("expected Live() false once the last tick is older than staleAfter")
	}
}

func TestCheckStaleLeavesFreshFeedLive(t *testing.T) {
	f := New("btcusdt")
	f.mu.Lock()
	f.live = true
	f.at = time.Now()
	f.mu.Unlock()

	f.checkStale()

	if !f.Live() {
		t.Error("a feed with a recent tick must stay live")
	}
}

func TestSymbolIsUpperCased(t *testing.T) {
	f := New("btcusdt")
	if f.Symbol() != "BTCUSDT" {
		t.Errorf("Symbol() = %q, want BTCUSDT", f.Symbol())
	}
}

