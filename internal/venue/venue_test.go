package venue

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestBookBestBidAndAskOfEmptyBookAreZero(t *testing.T) {
	b := &Book{}
	if !b.BestBid().IsZero() {
		t.Errorf("BestBid of empty book = %s, want 0", b.BestBid())
	}
	if !b.BestAsk().IsZero() {
		t.Errorf("BestAsk of empty book = %s, want 0", b.BestAsk())
	}
}

func TestBookBestBidAndAskReturnFirstLevel(t *testing.T) {
	b := &Book{
		Bids: []BookLevel{{Price: decimal.NewFromFloat(0.45)}, {Price: decimal.NewFromFloat(0.44)}},
		Asks: []BookLevel{{Price: decimal.NewFromFloat(0.47)}, {Price: decimal.NewFromFloat(0.48)}},
	}
	if !b.BestBid().Equal(decimal.NewFromFloat(0.45)) {
		t.Errorf("BestBid = %s, want 0.45 (best-first convention)", b.BestBid())
	}
	if !b.BestAsk().Equal(decimal.NewFromFloat(0.47)) {
		t.Errorf("BestAsk = %s, want 0.47 (best-first convention)", b.BestAsk())
	}
}
