// Package strategy implements the three pluggable predicate modules spec.md
// §4.C names: the primary spike-detection strategy, the passive-limit
// strategy, and the late-window price-threshold strategy. Adapted from the
// teacher's own strategy.Strategy/Signal pair (score/confidence market-wide
// signal over a single asset+timeframe) into the window-scoped contract
// spec.md §4.C specifies: one Signal per (window, strategy), evaluated from
// a rolling tick buffer plus the window's own derived phase.
package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyspike/bot/internal/types"
)

// Signal asserts that the current price trajectory for a window implies a
// directional outcome with actionable edge. Confidence is a 0-1 score,
// mirroring the teacher's strategy.Signal.Confidence field; it only feeds
// sizing when the supplemented SizeByConfidence gate is enabled
// (SPEC_FULL.md §12) and is otherwise informational.
type Signal struct {
	WindowSlug string
	Side       types.Side
	AtPrice    decimal.Decimal
	Strategy   string
	Reason     string
	Confidence decimal.Decimal
}

// Input is everything a strategy needs to evaluate one tracked window at one
// instant: the window itself, its recent tick buffer (bounded to the
// spike-detection window), and whether this call coincides with a
// settling→active phase transition.
type Input struct {
	Ctx          context.Context
	Window       *types.Window
	Ticks        []types.Tick
	Now          time.Time
	Transitioned bool // true exactly once, on settling→active
}

// Strategy is the interface every predicate module implements. Engine calls
// Evaluate once per (tracked window, tick); a strategy returns nil or a
// Signal, mirroring the teacher's OnTick(tick) *Signal shape.
type Strategy interface {
	Name() string
	Enabled() bool
	Evaluate(in Input) *Signal
}
