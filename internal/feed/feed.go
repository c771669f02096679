// Package feed implements the Price Feed component (spec.md §4.A): a
// supervised reconnect loop over the exchange trade stream that publishes
// ticks and a liveness flag. Grounded on the teacher's
// internal/binance/client.go websocket-reconnect shape, generalized to the
// spec's explicit endpoint-rotation / exponential-backoff-with-jitter /
// stale-after contract.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyspike/bot/internal/types"
)

// ErrFeedUnavailable is logged when every candidate endpoint has
// failed continuously for longer than staleFatalAfter.
var ErrFeedUnavailable = errors.New("feed: unavailable")

const (
	staleAfter      = 5 * time.Second
	staleFatalAfter = 60 * time.Second
	healthyAfter    = 10 * time.Second
	maxBackoff      = 30 * time.Second
)

// Feed maintains a live connection to the exchange trade stream and exposes
// an asynchronously-updated latest price plus a liveness flag.
type Feed struct {
	symbol    string
	endpoints []string

	mu       sync.RWMutex
	price    decimal.Decimal
	at       time.Time
	live     bool
	attempt  int

	subs   []chan types.Tick
	subsMu sync.Mutex

	firstFailAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Feed for symbol against candidate endpoint hosts, tried in
// round-robin order on failure. Symbol is lower-cased for the Binance-style
// stream path (e.g. "btcusdt@trade").
func New(symbol string, endpoints ...string) *Feed {
	if len(endpoints) == 0 {
		endpoints = []string{"wss://stream.binance.com:9443/ws"}
	}
	return &Feed{
		symbol:    strings.ToLower(symbol),
		endpoints: endpoints,
		stopCh:    make(chan struct{}),
	}
}

// Subscribe returns a channel receiving every published tick. The channel is
// buffered; a slow consumer drops ticks rather than blocking the feed task,
// matching spec.md's "no tick loss matters" guarantee.
func (f *Feed) Subscribe() <-chan types.Tick {
	ch := make(chan types.Tick, 256)
	f.subsMu.Lock()
	f.subs = append(f.subs, ch)
	f.subsMu.Unlock()
	return ch
}

// Start launches the feed task and the staleness monitor. Returns once both
// goroutines are running; errors surface through Live()/LastTick(), not
// through this call, matching the "consumers see only a brief liveness blip"
// guarantee.
func (f *Feed) Start(ctx context.Context) {
	f.wg.Add(2)
	go f.run(ctx)
	go f.staleMonitor(ctx)
	log.Info().Str("symbol", f.symbol).Msg("price feed started")
}

// Stop cancels the feed task and waits for it to exit.
func (f *Feed) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}

// Live reports whether a tick has arrived within staleAfter.
func (f *Feed) Live() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.live
}

// LastTick returns the most recently published price and its timestamp.
func (f *Feed) LastTick() (decimal.Decimal, time.Time) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price, f.at
}

func (f *Feed) run(ctx context.Context) {
	defer f.wg.Done()

	idx := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
		}

		endpoint := f.endpoints[idx%len(f.endpoints)]
		connectedAt := time.Now()
		err := f.connectAndRead(ctx, endpoint)
		idx++

		if err == nil {
			continue // context/stop cancellation
		}

		if time.Since(connectedAt) >= healthyAfter {
			f.mu.Lock()
			f.attempt = 0
			f.mu.Unlock()
		}

		f.mu.Lock()
		if f.firstFailAt.IsZero() {
			f.firstFailAt = time.Now()
		}
		f.attempt++
		attempt := f.attempt
		f.mu.Unlock()

		wait := backoffDuration(attempt)

		log.Warn().Err(err).Str("endpoint", endpoint).Dur("backoff", wait).Msg("price feed disconnected, retrying")

		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-time.After(wait):
		}
	}
}

// backoffDuration is the reconnect delay for a given failed-attempt count:
// min(2^attempt, maxBackoff) seconds plus up to one second of jitter, per
// spec.md §4.A.
func backoffDuration(attempt int) time.Duration {
	backoff := time.Duration(math.Min(math.Pow(2, float64(attempt)), maxBackoff.Seconds())) * time.Second
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return backoff + jitter
}

func (f *Feed) connectAndRead(ctx context.Context, endpoint string) error {
	url := fmt.Sprintf("%s/%s", endpoint, f.symbol+"@trade")
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	log.Info().Str("url", url).Msg("price feed connected")

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-f.stopCh:
		}
		conn.Close()
		close(done)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return nil
			default:
				return fmt.Errorf("read: %w", err)
			}
		}
		f.handleTrade(msg)
	}
}

type tradeMessage struct {
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

func (f *Feed) handleTrade(msg []byte) {
	var tm tradeMessage
	if err := json.Unmarshal(msg, &tm); err != nil {
		return
	}
	price, err := decimal.NewFromString(tm.Price)
	if err != nil {
		return
	}

	t := time.Now()
	if tm.TradeTime > 0 {
		t = time.UnixMilli(tm.TradeTime)
	}

	f.mu.Lock()
	f.price = price
	f.at = t
	f.live = true
	f.firstFailAt = time.Time{}
	f.mu.Unlock()

	tick := types.Tick{Price: price, T: t}
	f.subsMu.Lock()
	for _, ch := range f.subs {
		select {
		case ch <- tick:
		default:
		}
	}
	f.subsMu.Unlock()
}

func (f *Feed) staleMonitor(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.checkStale()
		}
	}
}

// checkStale flips live false once staleAfter has elapsed since the last
// tick, and logs ErrFeedUnavailable once the current failure streak (tracked
// by firstFailAt, cleared on every successful tick in handleTrade) exceeds
// staleFatalAfter.
func (f *Feed) checkStale() {
	f.mu.Lock()
	if f.live && time.Since(f.at) > staleAfter {
		f.live = false
		log.Warn().Msg("price feed stale, no ticks received")
	}
	failSince := f.firstFailAt
	f.mu.Unlock()

	if !failSince.IsZero() && time.Since(failSince) > staleFatalAfter {
		log.Error().Msg(ErrFeedUnavailable.Error())
	}
}

// Symbol returns the feed's configured trading symbol, upper-cased.
func (f *Feed) Symbol() string {
	return strings.ToUpper(f.symbol)
}
