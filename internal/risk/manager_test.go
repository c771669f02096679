package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestVerifier() *Verifier {
	return NewVerifier(3, 30*time.Second, 3, 30*time.Minute, decimal.NewFromFloat(0.05), decimal.NewFromInt(1000))
}

func TestVerifyBudgetPassesWhenAllGatesClear(t *testing.T) {
	v := newTestVerifier()
	res := v.VerifyBudget(0, true, time.Minute)
	if !res.OK {
		t.Fatalf("expected OK, got blocked: %s", res.Reason)
	}
}

func TestVerifyBudgetBlocksOnMaxConcurrent(t *testing.T) {
	v := newTestVerifier()
	res := v.VerifyBudget(3, true, time.Minute)
	if res.OK || res.Reason != "max_concurrent_positions" {
		t.Fatalf("got %+v, want blocked on max_concurrent_positions", res)
	}
}

func TestVerifyBudgetBlocksOnFeedNotLive(t *testing.T) {
	v := newTestVerifier()
	res := v.VerifyBudget(0, false, time.Minute)
	if res.OK || res.Reason != "feed_not_live" {
		t.Fatalf("got %+v, want blocked on feed_not_live", res)
	}
}

func TestVerifyBudgetBlocksOnMinTimeToResolution(t *testing.T) {
	v := newTestVerifier()
	res := v.VerifyBudget(0, true, 30*time.Second) // exactly at the boundary
	if res.OK || res.Reason != "min_time_to_resolution" {
		t.Fatalf("got %+v, want blocked at the min_time_to_resolution boundary", res)
	}
}

func TestCircuitBreakerTripsAfterConsecutiveLosses(t *testing.T) {
	v := newTestVerifier()
	for i := 0; i < 3; i++ {
		v.RecordClosedTrade(decimal.NewFromInt(-1))
	}
	res := v.VerifyBudget(0, true, time.Minute)
	if res.OK || res.Reason != "circuit_breaker_active" {
		t.Fatalf("got %+v, want blocked by circuit breaker after 3 consecutive losses", res)
	}
}

func TestCircuitBreakerResetsOnWin(t *testing.T) {
	v := newTestVerifier()
	v.RecordClosedTrade(decimal.NewFromInt(-1))
	v.RecordClosedTrade(decimal.NewFromInt(-1))
	v.RecordClosedTrade(decimal.NewFromInt(1)) // a win resets the streak

	res := v.VerifyBudget(0, true, time.Minute)
	if !res.OK {
		t.Fatalf("expected OK after a win reset the loss streak, got blocked: %s", res.Reason)
	}
}

func TestDailyLossLimitBlocksEntry(t *testing.T) {
	v := newTestVerifier() // 5% of 1000 = 50 max daily loss
	v.RecordClosedTrade(decimal.NewFromInt(-60))

	res := v.VerifyBudget(0, true, time.Minute)
	if res.OK || res.Reason != "daily_loss_limit" {
		t.Fatalf("got %+v, want blocked on daily_loss_limit", res)
	}
}
