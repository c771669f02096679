// Package risk implements the entry-verification gates spec.md §4.D step 1
// requires (budget/liveness/time-to-resolution), plus the supplemented
// circuit-breaker and daily-loss-limit gates SPEC_FULL.md §12 layers on top.
// Grounded on the teacher's risk/gate.go (CanEnter-style hard blocks,
// circuit breaker, daily loss) merged with risk/manager.go's
// consecutive-loss tripwire, generalized to this spec's Window/Position
// model.
package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyspike/bot/internal/types"
)

// Verifier holds every entry-time gate. It is consulted by the position
// manager's strategy task before any buy is placed; it never mutates
// positions itself.
type Verifier struct {
	mu sync.Mutex

	maxConcurrent       int
	minTimeToResolution time.Duration

	maxConsecutiveLosses int
	circuitCooldown      time.Duration
	consecutiveLosses    int
	circuitTrippedAt     time.Time

	maxDailyLossPct     decimal.Decimal
	dailyEquityBaseline decimal.Decimal
	dailyPnL            decimal.Decimal
	lastResetDate       string // Eastern-time "2006-01-02", matching types.Stats' hourly rollover
}

// NewVerifier builds a Verifier from the configured thresholds.
func NewVerifier(maxConcurrent int, minTimeToResolution time.Duration, maxConsecutiveLosses int, circuitCooldown time.Duration, maxDailyLossPct, dailyEquityBaseline decimal.Decimal) *Verifier {
	return &Verifier{
		maxConcurrent:        maxConcurrent,
		minTimeToResolution:  minTimeToResolution,
		maxConsecutiveLosses: maxConsecutiveLosses,
		circuitCooldown:      circuitCooldown,
		maxDailyLossPct:      maxDailyLossPct,
		dailyEquityBaseline:  dailyEquityBaseline,
	}
}

// CheckResult explains why an entry was refused, for the event log.
type CheckResult struct {
	OK     bool
	Reason string
}

func ok() CheckResult { return CheckResult{OK: true} }

func blocked(reason string) CheckResult { return CheckResult{OK: false, Reason: reason} }

// VerifyBudget is spec.md §4.D step 1: open_positions < max_concurrent AND
// feed live AND remaining window time > min_time_to_resolution. It also
// layers the supplemented circuit-breaker and daily-loss gates.
func (v *Verifier) VerifyBudget(openPositions int, feedLive bool, timeToResolution time.Duration) CheckResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetIfNewDay()

	if !v.circuitTrippedAt.IsZero() {
		if time.Since(v.circuitTrippedAt) < v.circuitCooldown {
			return blocked("circuit_breaker_active")
		}
		v.circuitTrippedAt = time.Time{}
		v.consecutiveLosses = 0
	}

	if openPositions >= v.maxConcurrent {
		return blocked("max_concurrent_positions")
	}
	if !feedLive {
		return blocked("feed_not_live")
	}
	if timeToResolution <= v.minTimeToResolution {
		return blocked("min_time_to_resolution")
	}
	if v.dailyPnL.LessThan(v.maxDailyLossPct.Neg().Mul(v.dailyEquityBaseline)) {
		return blocked("daily_loss_limit")
	}

	return ok()
}

// RecordClosedTrade folds a closed trade's realized P&L into the daily
// total and the consecutive-loss tripwire.
func (v *Verifier) RecordClosedTrade(pnl decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetIfNewDay()

	v.dailyPnL = v.dailyPnL.Add(pnl)

	if pnl.LessThan(decimal.Zero) {
		v.consecutiveLosses++
		if v.consecutiveLosses >= v.maxConsecutiveLosses {
			v.circuitTrippedAt = time.Now()
			log.Warn().Int("consecutive_losses", v.consecutiveLosses).Msg("circuit breaker tripped")
		}
	} else {
		v.consecutiveLosses = 0
	}
}

// resetIfNewDay rolls the daily-loss budget over on Eastern-time date
// change, matching the Stats hourly rollover in types.Stats.RecordTrade
// (spec.md §3) rather than the host machine's local date.
func (v *Verifier) resetIfNewDay() {
	today := time.Now().In(types.EasternLocation()).Format("2006-01-02")
	if v.lastResetDate != today {
		v.dailyPnL = decimal.Zero
		v.lastResetDate = today
	}
}

// Snapshot returns the current risk state for the publisher.
func (v *Verifier) Snapshot() (dailyPnL decimal.Decimal, consecutiveLosses int, circuitTripped bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	tripped := !v.circuitTrippedAt.IsZero() && time.Since(v.circuitTrippedAt) < v.circuitCooldown
	return v.dailyPnL, v.consecutiveLosses, tripped
}
