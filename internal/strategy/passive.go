package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/polyspike/bot/internal/types"
)

// PassiveStrategy is strategy 2 (spec.md §4.C "Passive-limit predicate"): at
// the settling→active transition, fire an unconditional signal for a fixed
// side requesting a limit buy near passiveEntryPrice. The teacher's
// "blanket always Up" rule is preserved as-is per spec.md §9's design note
// flagging it as likely oversimplified, not redesigned here.
type PassiveStrategy struct {
	enabled bool
	side    types.Side
	entryPrice decimal.Decimal
}

// NewPassiveStrategy builds strategy 2 for the configured fixed side.
func NewPassiveStrategy(side types.Side, entryPrice decimal.Decimal) *PassiveStrategy {
	return &PassiveStrategy{enabled: true, side: side, entryPrice: entryPrice}
}

func (p *PassiveStrategy) Name() string      { return "passive_limit" }
func (p *PassiveStrategy) Enabled() bool     { return p.enabled }
func (p *PassiveStrategy) SetEnabled(v bool) { p.enabled = v }

func (p *PassiveStrategy) Evaluate(in Input) *Signal {
	if !p.enabled {
		return nil
	}
	if in.Window.HasFired(p.Name()) {
		return nil
	}
	if !in.Transitioned {
		return nil
	}

	return &Signal{
		WindowSlug: in.Window.Slug,
		Side:       p.side,
		AtPrice:    p.entryPrice,
		Strategy:   p.Name(),
		Reason:     "passive_limit: settling->active, requesting limit near " + p.entryPrice.StringFixed(2),
		// Fixed, unconditional signal carries no edge estimate of its own;
		// mirrors the teacher's SignalBuilder default confidence.
		Confidence: decimal.NewFromFloat(0.5),
	}
}
