package types

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Stats is a derived projection over ClosedTrade history — never
// authoritative; running totals are folded in as each trade closes, and no
// trade log is kept to recompute them from. Written only by the
// position manager's single strategy task; read concurrently by the state
// publisher, hence the mutex.
type Stats struct {
	mu sync.Mutex

	Signals    int
	Trades     int
	Wins       int
	Losses     int
	TotalPnL   decimal.Decimal
	BestTrade  decimal.Decimal
	WorstTrade decimal.Decimal

	// HourlyPnL maps Eastern-time hour-of-day (0-23) to realized P&L for the
	// current Eastern-time local date; reset on local-date rollover.
	HourlyPnL map[int]decimal.Decimal
	statDate  string // YYYY-MM-DD in Eastern time, tracks rollover
}

// Snapshot is a safe-to-read-anywhere copy of the running totals. HourlyPnL
// is copied so callers can't mutate the live map.
type Snapshot struct {
	Signals    int
	Trades     int
	Wins       int
	Losses     int
	TotalPnL   decimal.Decimal
	BestTrade  decimal.Decimal
	WorstTrade decimal.Decimal
	HourlyPnL  map[int]decimal.Decimal
}

// NewStats returns a zeroed Stats ready for accumulation.
func NewStats() *Stats {
	return &Stats{
		TotalPnL:   decimal.Zero,
		BestTrade:  decimal.Zero,
		WorstTrade: decimal.Zero,
		HourlyPnL:  make(map[int]decimal.Decimal),
	}
}

// WinRate returns wins/trades as a percentage, 0 when no trades closed yet.
func (s *Stats) WinRate() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Trades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.Wins)).
		Div(decimal.NewFromInt(int64(s.Trades))).
		Mul(decimal.NewFromInt(100))
}

// Snapshot returns a consistent, lock-free-to-read copy for the publisher.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	hourly := make(map[int]decimal.Decimal, len(s.HourlyPnL))
	for h, v := range s.HourlyPnL {
		hourly[h] = v
	}
	return Snapshot{
		Signals:    s.Signals,
		Trades:     s.Trades,
		Wins:       s.Wins,
		Losses:     s.Losses,
		TotalPnL:   s.TotalPnL,
		BestTrade:  s.BestTrade,
		WorstTrade: s.WorstTrade,
		HourlyPnL:  hourly,
	}
}

// AvgWin returns the mean P&L of winning trades.
func (s *Stats) AvgWin(wins []decimal.Decimal) decimal.Decimal {
	return average(wins)
}

// AvgLoss returns the mean P&L of losing trades.
func (s *Stats) AvgLoss(losses []decimal.Decimal) decimal.Decimal {
	return average(losses)
}

func average(vals []decimal.Decimal) decimal.Decimal {
	if len(vals) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(vals))))
}

// EasternLocation loads America/New_York lazily; if the tzdata isn't present
// in the runtime environment we fall back to a fixed -5h offset (standard
// winter ET) rather than crashing on a missing zoneinfo database. Exported
// so every day-boundary rollover in the bot (Stats' hourly bucket here, the
// risk package's daily loss reset) uses the same clock.
func EasternLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*3600)
	}
	return loc
}

// RecordSignal increments the signal counter. Called on every fired Signal,
// independent of whether it converts to a trade.
func (s *Stats) RecordSignal() {
	s.mu.Lock()
	s.Signals++
	s.mu.Unlock()
}

// RecordTrade folds a closed trade into the running totals, including the
// Eastern-time hourly bucket, rolling it over on local-date change.
func (s *Stats) RecordTrade(c *ClosedTrade, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	et := now.In(EasternLocation())
	today := et.Format("2006-01-02")
	if s.statDate != today {
		s.HourlyPnL = make(map[int]decimal.Decimal)
		s.statDate = today
	}

	s.Trades++
	s.TotalPnL = s.TotalPnL.Add(c.PnL)
	if c.IsWin() {
		s.Wins++
	} else {
		s.Losses++
	}
	if c.PnL.GreaterThan(s.BestTrade) {
		s.BestTrade = c.PnL
	}
	if c.PnL.LessThan(s.WorstTrade) {
		s.WorstTrade = c.PnL
	}

	hour := et.Hour()
	s.HourlyPnL[hour] = s.HourlyPnL[hour].Add(c.PnL)
}
