// Package journal implements the supplemented, optional in-memory trade
// mirror (SPEC_FULL.md §12): a non-authoritative SQLite-over-gorm copy of
// closed trades, disabled unless JOURNAL_ENABLED is set, and always opened
// against ":memory:" so it never persists across restarts and never
// violates spec.md's "no persistent storage beyond a bounded in-memory
// event log" Non-goal. Grounded on the teacher's internal/database/database.go
// (New/AutoMigrate/SaveArbTrade/GetRecentArbTrades shape), narrowed to a
// single ClosedTrade model.
package journal

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/polyspike/bot/internal/types"
)

// TradeRecord is the gorm model mirroring a types.ClosedTrade.
type TradeRecord struct {
	ID         uint `gorm:"primaryKey;autoIncrement"`
	WindowSlug string `gorm:"index"`
	Side       string
	Entry      decimal.Decimal `gorm:"type:decimal(10,6)"`
	Exit       decimal.Decimal `gorm:"type:decimal(10,6)"`
	Shares     decimal.Decimal `gorm:"type:decimal(20,6)"`
	Cost       decimal.Decimal `gorm:"type:decimal(20,6)"`
	PnL        decimal.Decimal `gorm:"type:decimal(20,6)"`
	PnLPct     decimal.Decimal `gorm:"type:decimal(10,4)"`
	Status     string          `gorm:"index"`
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Journal is the optional in-memory trade mirror. Nil is a valid, no-op
// value so callers can wire it unconditionally.
type Journal struct {
	db *gorm.DB
}

// New opens a fresh in-memory SQLite database and migrates the trade
// table. Never pass a file path here — the mirror is intentionally
// disk-free.
func New() (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return nil, err
	}
	log.Info().Msg("journal: in-memory trade mirror ready")
	return &Journal{db: db}, nil
}

// Record mirrors one closed trade. Errors are logged, not returned — the
// journal is never authoritative, so a write failure must never affect
// trading.
func (j *Journal) Record(c *types.ClosedTrade) {
	if j == nil {
		return
	}
	rec := TradeRecord{
		WindowSlug: c.WindowSlug,
		Side:       string(c.Side),
		Entry:      c.Entry,
		Exit:       c.Exit,
		Shares:     c.Shares,
		Cost:       c.Cost,
		PnL:        c.PnL,
		PnLPct:     c.PnLPct,
		Status:     string(c.Status),
		OpenedAt:   c.OpenedAt,
		ClosedAt:   c.ClosedAt,
	}
	if err := j.db.Create(&rec).Error; err != nil {
		log.Warn().Err(err).Msg("journal: failed to record closed trade")
	}
}

// Recent returns the most recently closed trades, newest first.
func (j *Journal) Recent(limit int) ([]TradeRecord, error) {
	if j == nil {
		return nil, nil
	}
	var out []TradeRecord
	err := j.db.Order("closed_at desc").Limit(limit).Find(&out).Error
	return out, err
}
