// Package venue implements the Venue Client component (spec.md §4.E): a
// thin, stateless adapter over the prediction-market venue's gamma-style
// discovery REST API and CLOB-style order REST/WS API. Grounded on the
// teacher's feeds/window_scanner.go (discovery), internal/polymarket/ws_client.go
// (book reads) and exec/client.go + internal/arbitrage/eip712.go (signed
// order placement).
package venue

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors, matched with errors.Is per spec.md §7's error taxonomy.
var (
	ErrInsufficientLiquidity = errors.New("venue: insufficient liquidity")
	ErrVenueRejected         = errors.New("venue: order rejected")
	ErrRegistryStale         = errors.New("venue: registry discovery stale")
	ErrVenueGone             = errors.New("venue: outage")
)

// OrderSide is the venue order direction, distinct from a window Side.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderType selects market vs. limit execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// WindowDescriptor is the loosely-typed discovery result for one candidate
// market, already narrowed to the fields the registry needs.
type WindowDescriptor struct {
	Slug        string
	Question    string
	UpTokenID   string
	DownTokenID string
	EndTime     time.Time
	UpPrice     decimal.Decimal
	DownPrice   decimal.Decimal
}

// MarketDescriptor is a single-market lookup result, used for resolution
// polling.
type MarketDescriptor struct {
	Slug      string
	UpPrice   decimal.Decimal
	DownPrice decimal.Decimal
	Closed    bool
}

// BookLevel is one price/size level of an order book side.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Book is a token's order book, sorted best-first on each side.
type Book struct {
	Bids []BookLevel
	Asks []BookLevel
}

// BestBid returns the best (highest) bid price, or zero if the book is empty.
func (b *Book) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the best (lowest) ask price, or zero if the book is empty.
func (b *Book) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// OrderRequest describes an order to place.
type OrderRequest struct {
	TokenID string
	Side    OrderSide
	Price   decimal.Decimal
	Size    decimal.Decimal
	Type    OrderType
}

// OrderID identifies a placed order.
type OrderID string

// Client is the Venue Client contract spec.md §4.E names. Implementations
// carry their own per-call timeouts (default 3-8s).
type Client interface {
	ListWindows(ctx context.Context, asset, duration string) ([]WindowDescriptor, error)
	GetMarket(ctx context.Context, slug string) (*MarketDescriptor, error)
	GetBook(ctx context.Context, tokenID string) (*Book, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderID, error)
	WaitResolution(ctx context.Context, slug string, timeout time.Duration) (*string, error)
}
