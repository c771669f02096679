package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyspike/bot/internal/types"
	"github.com/polyspike/bot/internal/venue"
)

type fakeVenue struct {
	venue.Client
	windows []venue.WindowDescriptor
	err     error
}

func (f *fakeVenue) ListWindows(ctx context.Context, asset, duration string) ([]venue.WindowDescriptor, error) {
	return f.windows, f.err
}

func TestDiscoverUpsertsNewWindowsWithinLookahead(t *testing.T) {
	now := time.Now()
	fv := &fakeVenue{windows: []venue.WindowDescriptor{
		{Slug: "w-near", EndTime: now.Add(time.Minute)},
		{Slug: "w-too-far", EndTime: now.Add(time.Hour)},
	}}
	r := New(fv, "btc", "5m", time.Minute, time.Minute, 10*time.Minute)

	r.discover(context.Background())

	if got := r.Get("w-near"); got == nil {
		t.Fatal("w-near should have been upserted (within lookahead)")
	}
	if got := r.Get("w-too-far"); got != nil {
		t.Fatal("w-too-far should have been filtered out (beyond lookahead)")
	}
}

func TestRediscoveryUpdatesDerivedFieldsOnly(t *testing.T) {
	now := time.Now()
	r := New(&fakeVenue{}, "btc", "5m", time.Minute, time.Minute, 10*time.Minute)

	r.upsert(venue.WindowDescriptor{Slug: "w1", Question: "q1", EndTime: now.Add(time.Minute), UpTokenID: "u", DownTokenID: "d"})
	w := r.Get("w1")
	w.OpenPrice = decimal.NewFromInt(123)
	w.HasOpen = true
	w.MarkFired("spike")

	r.upsert(venue.WindowDescriptor{Slug: "w1", Question: "q2", EndTime: now.Add(2 * time.Minute), UpTokenID: "u", DownTokenID: "d"})

	got := r.Get("w1")
	if got.Question != "q2" {
		t.Errorf("Question should update on re-discovery, got %q", got.Question)
	}
	if !got.OpenPrice.Equal(decimal.NewFromInt(123)) || !got.HasOpen {
		t.Error("re-discovery must never touch open_price/has_open")
	}
	if !got.HasFired("spike") {
		t.Error("re-discovery must never touch signal_fired")
	}
}

func TestUpsertBroadcastsOnlyGenuinelyNewWindows(t *testing.T) {
	r := New(&fakeVenue{}, "btc", "5m", time.Minute, time.Minute, 10*time.Minute)
	ch := r.Subscribe()

	now := time.Now()
	r.upsert(venue.WindowDescriptor{Slug: "w1", EndTime: now.Add(time.Minute)})
	select {
	case w := <-ch:
		if w.Slug != "w1" {
			t.Errorf("got slug %s, want w1", w.Slug)
		}
	default:
		t.Fatal("expected a broadcast for a genuinely new window")
	}

	r.upsert(venue.WindowDescriptor{Slug: "w1", EndTime: now.Add(2 * time.Minute)})
	select {
	case w := <-ch:
		t.Fatalf("re-discovery of an existing slug must not be rebroadcast, got %v", w)
	default:
	}
}

func TestEvictEndedRemovesWindowsPastGrace(t *testing.T) {
	r := New(&fakeVenue{}, "btc", "5m", time.Minute, time.Minute, 10*time.Minute)
	now := time.Now()

	r.upsert(venue.WindowDescriptor{Slug: "old", EndTime: now.Add(-2 * time.Minute)})
	r.upsert(venue.WindowDescriptor{Slug: "fresh", EndTime: now.Add(time.Minute)})

	r.evictEnded()

	if r.Get("old") != nil {
		t.Error("window past its grace period should have been evicted")
	}
	if r.Get("fresh") == nil {
		t.Error("window still within grace should survive eviction")
	}
}

func TestSnapshotOrderedByEndTimeAscending(t *testing.T) {
	r := New(&fakeVenue{}, "btc", "5m", time.Minute, time.Minute, time.Hour)
	now := time.Now()

	r.upsert(venue.WindowDescriptor{Slug: "later", EndTime: now.Add(30 * time.Minute)})
	r.upsert(venue.WindowDescriptor{Slug: "sooner", EndTime: now.Add(5 * time.Minute)})
	r.upsert(venue.WindowDescriptor{Slug: "middle", EndTime: now.Add(15 * time.Minute)})

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want 3", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].EndTime.Before(snap[i-1].EndTime) {
			t.Fatalf("Snapshot not ordered ascending by end_time: %+v", snap)
		}
	}
}

func TestDiscoverFailureDoesNotPanic(t *testing.T) {
	r := New(&fakeVenue{err: errors.New("venue down")}, "btc", "5m", time.Minute, time.Minute, time.Hour)
	r.discover(context.Background())
	if len(r.Snapshot()) != 0 {
		t.Error("a failed discovery must not add any windows")
	}
}
