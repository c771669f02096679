// Package registry implements the Market Registry component (spec.md §4.B):
// periodic discovery of active binary windows from the venue, with
// derived-field-only updates and grace-period eviction. Grounded on the
// teacher's feeds/window_scanner.go scan-loop shape, generalized from its
// hardcoded BTC/ETH/SOL loop to the single configured asset tag spec.md
// names.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/polyspike/bot/internal/types"
	"github.com/polyspike/bot/internal/venue"
)

// Registry discovers and retires Window records on a timer.
type Registry struct {
	client      venue.Client
	assetTag    string
	durationTag string

	refreshInterval time.Duration
	grace           time.Duration
	lookahead       time.Duration

	mu      sync.RWMutex
	windows map[string]*types.Window

	consecutiveFailures int

	subsMu sync.Mutex
	subs   []chan *types.Window

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Registry over client for the given asset/duration tag.
func New(client venue.Client, assetTag, durationTag string, refreshInterval, grace, lookahead time.Duration) *Registry {
	return &Registry{
		client:          client,
		assetTag:        assetTag,
		durationTag:     durationTag,
		refreshInterval: refreshInterval,
		grace:           grace,
		lookahead:       lookahead,
		windows:         make(map[string]*types.Window),
		stopCh:          make(chan struct{}),
	}
}

// Subscribe returns a channel that receives newly-discovered windows. Only
// genuinely new windows are broadcast; re-discoveries of an existing slug
// update the registry's copy in place but are not rebroadcast, since
// open_price and signal_fired must never be disturbed by a re-discovery.
func (r *Registry) Subscribe() <-chan *types.Window {
	ch := make(chan *types.Window, 32)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()
	return ch
}

// Start runs the discovery loop until ctx is cancelled or Stop is called.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
	log.Info().Str("asset", r.assetTag).Dur("interval", r.refreshInterval).Msg("market registry started")
}

// Stop halts the discovery loop.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) loop(ctx context.Context) {
	defer r.wg.Done()

	r.discover(ctx)

	ticker := time.NewTicker(r.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.discover(ctx)
			r.evictEnded()
		}
	}
}

func (r *Registry) discover(ctx context.Context) {
	descriptors, err := r.client.ListWindows(ctx, r.assetTag, r.durationTag)
	if err != nil {
		r.consecutiveFailures++
		if r.consecutiveFailures > 3 {
			log.Warn().Err(err).Int("failures", r.consecutiveFailures).Msg("registry_stale: discovery failing")
		}
		return
	}
	r.consecutiveFailures = 0

	now := time.Now()
	for _, d := range descriptors {
		if d.EndTime.Before(now.Add(-r.grace)) || d.EndTime.After(now.Add(r.lookahead)) {
			continue
		}
		r.upsert(d)
	}
}

func (r *Registry) upsert(d venue.WindowDescriptor) {
	r.mu.Lock()
	existing, ok := r.windows[d.Slug]
	if ok {
		// Re-discovery: update only derived fields. open_price and
		// signal_fired are the window's own property and must never be
		// reset here.
		existing.Question = d.Question
		existing.EndTime = d.EndTime
		r.mu.Unlock()
		return
	}

	w := &types.Window{
		Slug:        d.Slug,
		Question:    d.Question,
		UpTokenID:   d.UpTokenID,
		DownTokenID: d.DownTokenID,
		EndTime:     d.EndTime,
	}
	r.windows[d.Slug] = w
	r.mu.Unlock()

	log.Info().Str("slug", d.Slug).Time("end_time", d.EndTime).Msg("new window discovered")

	r.subsMu.Lock()
	for _, ch := range r.subs {
		select {
		case ch <- w:
		default:
		}
	}
	r.subsMu.Unlock()
}

func (r *Registry) evictEnded() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.grace)
	for slug, w := range r.windows {
		if w.EndTime.Before(cutoff) {
			delete(r.windows, slug)
		}
	}
}

// Snapshot returns all tracked windows ordered by end_time ascending.
func (r *Registry) Snapshot() []*types.Window {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Window, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, w)
	}
	sortByEndTime(out)
	return out
}

// Get returns the window for slug, or nil if unknown (it may have been
// evicted; positions keep their own WindowSnapshot precisely for this case).
func (r *Registry) Get(slug string) *types.Window {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.windows[slug]
}

func sortByEndTime(windows []*types.Window) {
	for i := 1; i < len(windows); i++ {
		for j := i; j > 0 && windows[j].EndTime.Before(windows[j-1].EndTime); j-- {
			windows[j], windows[j-1] = windows[j-1], windows[j]
		}
	}
}
