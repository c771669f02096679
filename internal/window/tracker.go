// Package window implements the Window Tracker component (spec.md §4.C):
// for each active window, latch an open price after the settle period,
// maintain a short rolling tick buffer, and track phase transitions that
// the strategy modules evaluate predicates against. Grounded in shape on
// the teacher's strategy/sniper.go pricePoint/trackPrice rolling-buffer
// pattern, generalized from a single global buffer to one buffer per
// window.
package window

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/polyspike/bot/internal/types"
)

// Tracked is the Window Tracker's per-window working state: the window
// record itself plus the rolling tick buffer and previous-phase marker used
// to detect the settling→active transition strategy 2 fires on.
type Tracked struct {
	Window    *types.Window
	Ticks     []types.Tick // ticks within the last spikeWindow, oldest first
	PrevPhase types.Phase
}

// Tracker owns every window's derived state. It is the sole mutator of
// Window.OpenPrice; Window.SignalFired is set by the position manager's
// strategy task via MarkFired, outside the tracker's lock.
type Tracker struct {
	settleSeconds time.Duration
	closingWindow time.Duration
	spikeWindow   time.Duration

	mu       sync.Mutex
	tracked  map[string]*Tracked
}

// New builds a Tracker with the given settle/closing/spike-buffer durations.
func New(settleSeconds, closingWindow, spikeWindow time.Duration) *Tracker {
	return &Tracker{
		settleSeconds: settleSeconds,
		closingWindow: closingWindow,
		spikeWindow:   spikeWindow,
		tracked:       make(map[string]*Tracked),
	}
}

// Track begins tracking a newly-discovered window. Idempotent per slug.
func (t *Tracker) Track(w *types.Window) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tracked[w.Slug]; ok {
		return
	}
	t.tracked[w.Slug] = &Tracked{Window: w, PrevPhase: types.PhaseWaiting}
}

// Drop stops tracking a window (the engine drops a window once its phase
// is ended).
func (t *Tracker) Drop(slug string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tracked, slug)
}

// OnTick folds a new exchange tick into every tracked window: appends to the
// rolling buffer, evicts stale entries, and latches open_price exactly once
// the settle period has elapsed — the first tick at or after that instant
// wins, and the latch is then immutable for the life of the window.
func (t *Tracker) OnTick(tick types.Tick) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tr := range t.tracked {
		w := tr.Window
		if tick.T.Before(w.StartTime()) || !tick.T.Before(w.EndTime) {
			continue // tick falls outside this window's span
		}

		tr.Ticks = append(tr.Ticks, tick)
		cutoff := tick.T.Add(-t.spikeWindow)
		i := 0
		for i < len(tr.Ticks) && tr.Ticks[i].T.Before(cutoff) {
			i++
		}
		if i > 0 {
			tr.Ticks = tr.Ticks[i:]
		}

		if !w.HasOpen && tick.T.Sub(w.StartTime()) >= t.settleSeconds {
			w.OpenPrice = tick.Price
			w.HasOpen = true
			log.Info().Str("slug", w.Slug).Str("open_price", tick.Price.String()).Msg("open price latched")
		}
	}
}

// Phase returns a tracked window's current derived phase and records the
// transition for callers that need to detect settling→active (strategy 2).
func (t *Tracker) Phase(slug string, now time.Time) (types.Phase, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.tracked[slug]
	if !ok {
		return "", false
	}
	phase := tr.Window.Phase(now, t.settleSeconds, t.closingWindow)
	transitioned := tr.PrevPhase == types.PhaseSettling && phase == types.PhaseActive
	tr.PrevPhase = phase
	return phase, transitioned
}

// Snapshot returns a defensive copy of a tracked window's recent ticks plus
// its window record, for strategy evaluation.
func (t *Tracker) Snapshot(slug string) (*types.Window, []types.Tick, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, ok := t.tracked[slug]
	if !ok {
		return nil, nil, false
	}
	ticks := make([]types.Tick, len(tr.Ticks))
	copy(ticks, tr.Ticks)
	return tr.Window, ticks, true
}

// Slugs returns every currently-tracked window slug.
func (t *Tracker) Slugs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.tracked))
	for slug := range t.tracked {
		out = append(out, slug)
	}
	return out
}
