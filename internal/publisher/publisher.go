// Package publisher implements the State Publisher component (spec.md §4.F):
// a debounced, read-only JSON snapshot of the feed, tracked windows, open
// positions, running stats and the event log. Grounded on the teacher's
// internal/dashboard/terminal.go triggerUpdate pattern — a non-blocking
// buffered-channel nudge coalesced by a single render goroutine — adapted
// from an ANSI terminal render to a JSON snapshot so any consumer (HTTP
// handler, Telegram notifier, CLI) can read the same state.
package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyspike/bot/internal/eventlog"
	"github.com/polyspike/bot/internal/feed"
	"github.com/polyspike/bot/internal/position"
	"github.com/polyspike/bot/internal/registry"
	"github.com/polyspike/bot/internal/types"
)

const maxPriceHistory = 120

// PriceSample is one point of the rolling price history.
type PriceSample struct {
	T     time.Time       `json:"t"`
	Price decimal.Decimal `json:"price"`
}

// WindowView is a publisher-facing projection of a tracked window.
type WindowView struct {
	Slug      string          `json:"slug"`
	EndTime   time.Time       `json:"end_time"`
	OpenPrice decimal.Decimal `json:"open_price"`
	HasOpen   bool            `json:"has_open"`
}

// Snapshot is the full published state, marshaled straight to JSON.
type Snapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	FeedLive    bool           `json:"feed_live"`
	LastPrice   decimal.Decimal `json:"last_price"`
	PriceHist   []PriceSample  `json:"price_history"`
	Windows     []WindowView   `json:"windows"`
	Positions   []types.Position `json:"positions"`
	Stats       types.Snapshot `json:"stats"`
	Events      []eventlog.Entry `json:"events"`
}

// Publisher aggregates state from the other components into Snapshot on a
// debounced cadence and never blocks a mutator: every component feeds it
// through a non-blocking nudge channel.
type Publisher struct {
	feed     *feed.Feed
	registry *registry.Registry
	manager  *position.Manager
	stats    *types.Stats
	events   *eventlog.Log

	interval time.Duration

	mu      sync.RWMutex
	history []PriceSample

	nudgeCh chan struct{}
	current *Snapshot
}

// New builds a Publisher. interval bounds the render cadence (spec.md caps
// it at 10Hz; callers pass e.g. 150ms).
func New(f *feed.Feed, reg *registry.Registry, mgr *position.Manager, stats *types.Stats, events *eventlog.Log, interval time.Duration) *Publisher {
	return &Publisher{
		feed:     f,
		registry: reg,
		manager:  mgr,
		stats:    stats,
		events:   events,
		interval: interval,
		nudgeCh:  make(chan struct{}, 1),
	}
}

// Nudge requests a re-render. Non-blocking: a pending nudge is enough,
// callers never wait on the publisher.
func (p *Publisher) Nudge() {
	select {
	case p.nudgeCh <- struct{}{}:
	default:
	}
}

// Run drives the render loop: a 1s sampling ticker for price history plus
// the debounced render trigger, until ctx is done. Grounded on the
// teacher's triggerUpdate/updateCh coalescing pattern.
func (p *Publisher) Run(ctx context.Context) {
	sampleTicker := time.NewTicker(time.Second)
	defer sampleTicker.Stop()

	minGap := p.interval
	if minGap <= 0 {
		minGap = 100 * time.Millisecond
	}
	var lastRender time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-sampleTicker.C:
			p.sample()
		case <-p.nudgeCh:
			if time.Since(lastRender) < minGap {
				continue
			}
			p.render()
			lastRender = time.Now()
		}
	}
}

func (p *Publisher) sample() {
	price, t := p.feed.LastTick()
	if price.IsZero() {
		return
	}

	p.mu.Lock()
	p.history = append(p.history, PriceSample{T: t, Price: price})
	if len(p.history) > maxPriceHistory {
		p.history = p.history[len(p.history)-maxPriceHistory:]
	}
	p.mu.Unlock()

	p.render()
}

func (p *Publisher) render() {
	lastPrice, _ := p.feed.LastTick()

	windows := p.registry.Snapshot()
	views := make([]WindowView, 0, len(windows))
	for _, w := range windows {
		views = append(views, WindowView{
			Slug:      w.Slug,
			EndTime:   w.EndTime,
			OpenPrice: w.OpenPrice,
			HasOpen:   w.HasOpen,
		})
	}

	p.mu.RLock()
	hist := make([]PriceSample, len(p.history))
	copy(hist, p.history)
	p.mu.RUnlock()

	snap := &Snapshot{
		GeneratedAt: time.Now(),
		FeedLive:    p.feed.Live(),
		LastPrice:   lastPrice,
		PriceHist:   hist,
		Windows:     views,
		Positions:   p.manager.Snapshot(),
		Stats:       p.stats.Snapshot(),
		Events:      p.events.Snapshot(),
	}

	p.mu.Lock()
	p.current = snap
	p.mu.Unlock()
}

// Current returns the most recently rendered snapshot, or nil before the
// first render.
func (p *Publisher) Current() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// JSON marshals the current snapshot, for an HTTP handler or notifier.
func (p *Publisher) JSON() ([]byte, error) {
	snap := p.Current()
	if snap == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(snap)
}
