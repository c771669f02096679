package strategy

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyspike/bot/internal/types"
	"github.com/polyspike/bot/internal/venue"
)

// ThresholdStrategy is strategy 3 (spec.md §4.C "Late-window price-threshold
// predicate"): during the tracking sub-window sample the book mid on both
// sides, then at the decision instant fire for whichever side's observed
// maximum mid crossed lateEntryPrice while the other side never crossed
// choppyCutoff.
type ThresholdStrategy struct {
	client venue.Client

	lateEntryPrice decimal.Decimal
	choppyCutoff   decimal.Decimal
	trackingStart  time.Duration // seconds before end_time the tracking sub-window opens
	decisionAt     time.Duration // seconds before end_time the decision fires

	mu       sync.Mutex
	observed map[string]*observation
	enabled  bool
}

type observation struct {
	maxUpMid   decimal.Decimal
	maxDownMid decimal.Decimal
	decided    bool
}

// NewThresholdStrategy builds strategy 3 bound to a venue client for book
// reads.
func NewThresholdStrategy(client venue.Client, lateEntryPrice, choppyCutoff decimal.Decimal, trackingStart, decisionAt time.Duration) *ThresholdStrategy {
	return &ThresholdStrategy{
		client:         client,
		lateEntryPrice: lateEntryPrice,
		choppyCutoff:   choppyCutoff,
		trackingStart:  trackingStart,
		decisionAt:     decisionAt,
		observed:       make(map[string]*observation),
		enabled:        true,
	}
}

func (t *ThresholdStrategy) Name() string      { return "late_threshold" }
func (t *ThresholdStrategy) Enabled() bool     { return t.enabled }
func (t *ThresholdStrategy) SetEnabled(v bool) { t.enabled = v }

func (t *ThresholdStrategy) Evaluate(in Input) *Signal {
	if !t.enabled {
		return nil
	}
	if in.Window.HasFired(t.Name()) {
		return nil
	}

	remaining := in.Window.EndTime.Sub(in.Now)
	inTracking := remaining <= t.trackingStart && remaining > t.decisionAt
	atDecision := remaining <= t.decisionAt

	if !inTracking && !atDecision {
		return nil
	}

	t.mu.Lock()
	obs, ok := t.observed[in.Window.Slug]
	if !ok {
		obs = &observation{}
		t.observed[in.Window.Slug] = obs
	}
	if obs.decided {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if inTracking {
		t.sample(in, obs)
		return nil
	}

	// Decision instant: exactly one side's observed maximum mid crossed
	// lateEntryPrice and the other never crossed choppyCutoff.
	t.mu.Lock()
	defer t.mu.Unlock()
	if obs.decided {
		return nil
	}
	obs.decided = true

	upQualifies := obs.maxUpMid.GreaterThanOrEqual(t.lateEntryPrice)
	downQualifies := obs.maxDownMid.GreaterThanOrEqual(t.lateEntryPrice)

	switch {
	case upQualifies && !downQualifies && obs.maxDownMid.LessThan(t.choppyCutoff):
		return &Signal{
			WindowSlug: in.Window.Slug,
			Side:       types.SideUp,
			AtPrice:    obs.maxUpMid,
			Strategy:   t.Name(),
			Reason:     "late_threshold: up mid " + obs.maxUpMid.StringFixed(3) + " crossed, down stayed choppy",
			// Fixed confidence for a clean single-side cross, mirroring the
			// teacher's breakout_15m.go fixed Confidence(0.7).
			Confidence: decimal.NewFromFloat(0.7),
		}
	case downQualifies && !upQualifies && obs.maxUpMid.LessThan(t.choppyCutoff):
		return &Signal{
			WindowSlug: in.Window.Slug,
			Side:       types.SideDown,
			AtPrice:    obs.maxDownMid,
			Strategy:   t.Name(),
			Reason:     "late_threshold: down mid " + obs.maxDownMid.StringFixed(3) + " crossed, up stayed choppy",
			Confidence: decimal.NewFromFloat(0.7),
		}
	default:
		return nil // ambiguous or neither side qualified: skip
	}
}

func (t *ThresholdStrategy) sample(in Input, obs *observation) {
	if in.Ctx == nil {
		return
	}
	upBook, err := t.client.GetBook(in.Ctx, in.Window.UpTokenID)
	if err != nil {
		return
	}
	downBook, err := t.client.GetBook(in.Ctx, in.Window.DownTokenID)
	if err != nil {
		return
	}

	upMid := mid(upBook)
	downMid := mid(downBook)

	t.mu.Lock()
	if upMid.GreaterThan(obs.maxUpMid) {
		obs.maxUpMid = upMid
	}
	if downMid.GreaterThan(obs.maxDownMid) {
		obs.maxDownMid = downMid
	}
	t.mu.Unlock()
}

func mid(b *venue.Book) decimal.Decimal {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid.IsZero() || ask.IsZero() {
		return decimal.Max(bid, ask)
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2))
}
