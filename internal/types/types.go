// Package types holds the shared domain records used across the bot so that
// feed, registry, window, risk and position packages can all refer to them
// without import cycles — the same role the teacher's types package plays.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is a window outcome side. The venue's own label for these two outcomes
// is an open question (see DESIGN.md); internally we always use Up/Down.
type Side string

const (
	SideUp   Side = "Up"
	SideDown Side = "Down"
)

// Tick is a single exchange trade event.
type Tick struct {
	Price decimal.Decimal
	T     time.Time
}

// Phase is a Window's derived lifecycle phase, computed purely from
// (now, end_time, open_price) — never stored, always recomputed.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseSettling Phase = "settling"
	PhaseActive   Phase = "active"
	PhaseClosing  Phase = "closing"
	PhaseEnded    Phase = "ended"
)

// WindowLength is the fixed contract length of every rolling binary market.
const WindowLength = 300 * time.Second

// Window is one rolling 5-minute binary market.
type Window struct {
	Slug        string
	Question    string
	UpTokenID   string
	DownTokenID string
	EndTime     time.Time

	// OpenPrice is nullable (IsZero before latch) and, once set by the window
	// tracker, immutable for the life of the window.
	OpenPrice decimal.Decimal
	HasOpen   bool

	// SignalFired records, per strategy name, whether an entry signal has
	// already fired for this window — at most one per (window, strategy).
	SignalFired map[string]bool
}

// StartTime is when the window's tracked period begins.
func (w *Window) StartTime() time.Time {
	return w.EndTime.Add(-WindowLength)
}

// Phase derives the window's lifecycle phase at instant now.
func (w *Window) Phase(now time.Time, settleSeconds time.Duration, closingWindow time.Duration) Phase {
	if now.Before(w.StartTime()) {
		return PhaseWaiting
	}
	if now.After(w.EndTime) || now.Equal(w.EndTime) {
		return PhaseEnded
	}
	if w.EndTime.Sub(now) <= closingWindow {
		return PhaseClosing
	}
	if now.Sub(w.StartTime()) < settleSeconds {
		return PhaseSettling
	}
	if w.HasOpen {
		return PhaseActive
	}
	return PhaseSettling
}

// HasFired reports whether the named strategy has already fired a signal for
// this window.
func (w *Window) HasFired(strategy string) bool {
	if w.SignalFired == nil {
		return false
	}
	return w.SignalFired[strategy]
}

// MarkFired sets the signal_fired flag for a strategy; idempotent.
func (w *Window) MarkFired(strategy string) {
	if w.SignalFired == nil {
		w.SignalFired = make(map[string]bool)
	}
	w.SignalFired[strategy] = true
}

// TokenID returns the outcome token for a given side.
func (w *Window) TokenID(side Side) string {
	if side == SideUp {
		return w.UpTokenID
	}
	return w.DownTokenID
}

// Mode is a position's exit-machine state. A single enum, not the teacher's
// pair of booleans — see spec.md Design Notes / DESIGN.md.
type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeMoonbag    Mode = "moonbag"
	ModeProtection Mode = "protection"
)

// Status is a position's lifecycle status.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

// WindowSnapshot is the small per-position copy of window identifiers a
// Position keeps so it survives registry eviction (spec.md "graph-free
// ownership" design note).
type WindowSnapshot struct {
	EndTime     time.Time
	UpTokenID   string
	DownTokenID string
}

// Position is an open (or closing) trade against one window.
type Position struct {
	ID         string
	WindowSlug string
	Window     WindowSnapshot
	Side       Side
	TokenID    string
	Strategy   string

	EntryPrice decimal.Decimal
	Shares     decimal.Decimal
	Cost       decimal.Decimal

	OpenedAt     time.Time
	PeakGainPct  decimal.Decimal
	Mode         Mode
	Status       Status
	SellStuck    bool
	SellAttempts int
}

// GainPct computes the unrealized gain percentage at bestBid.
func (p *Position) GainPct(bestBid decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return bestBid.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// ExitStatus is the terminal classification of a closed trade.
type ExitStatus string

const (
	ExitTakeProfit   ExitStatus = "take_profit"
	ExitMoonbagTrail ExitStatus = "moonbag_trail"
	ExitProtection   ExitStatus = "protection"
	ExitHardStop     ExitStatus = "hard_stop"
	ExitResolvedWin  ExitStatus = "resolved_win"
	ExitResolvedLoss ExitStatus = "resolved_loss"
)

// ClosedTrade is an immutable record of a completed position.
type ClosedTrade struct {
	WindowSlug string
	Side       Side
	Entry      decimal.Decimal
	Exit       decimal.Decimal
	Shares     decimal.Decimal
	Cost       decimal.Decimal
	PnL        decimal.Decimal
	PnLPct     decimal.Decimal
	Status     ExitStatus
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// IsWin reports whether the trade closed with positive P&L, which spec.md's
// invariants tie directly to the exit status classification.
func (c *ClosedTrade) IsWin() bool {
	switch c.Status {
	case ExitTakeProfit, ExitMoonbagTrail, ExitResolvedWin:
		return true
	default:
		return false
	}
}
