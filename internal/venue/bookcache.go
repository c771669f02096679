package venue

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const bookWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// bookCache maintains a live best-bid/best-ask view per token over the
// venue's market websocket, so GetBook can answer from memory on the hot
// path instead of a REST round trip on every exit-evaluation tick.
// Grounded on the teacher's internal/polymarket/ws_client.go (subscribe
// message shape, snapshot/price_change parsing), trimmed to best-bid/ask
// only since that is all the exit evaluator and sizing ever read.
type bookCache struct {
	mu     sync.RWMutex
	conn   *websocket.Conn
	books  map[string]*Book
	subbed map[string]bool

	stopCh chan struct{}
}

func newBookCache() *bookCache {
	return &bookCache{
		books:  make(map[string]*Book),
		subbed: make(map[string]bool),
		stopCh: make(chan struct{}),
	}
}

// subscribe adds a token to the live subscription set, dialing the
// websocket on first use. Best-effort: a dial failure just means GetBook
// falls back to REST, handled by the caller.
func (bc *bookCache) subscribe(tokenIDs ...string) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.conn == nil {
		conn, _, err := websocket.DefaultDialer.Dial(bookWSURL, nil)
		if err != nil {
			log.Warn().Err(err).Msg("venue: book websocket dial failed, falling back to REST")
			return
		}
		bc.conn = conn
		go bc.readLoop()
	}

	var fresh []string
	for _, id := range tokenIDs {
		if !bc.subbed[id] {
			fresh = append(fresh, id)
			bc.subbed[id] = true
		}
	}
	if len(fresh) == 0 {
		return
	}
	msg := map[string]interface{}{"type": "market", "assets_ids": fresh}
	body, _ := json.Marshal(msg)
	if err := bc.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		log.Warn().Err(err).Msg("venue: book websocket subscribe failed")
	}
}

func (bc *bookCache) get(tokenID string) (*Book, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	b, ok := bc.books[tokenID]
	return b, ok
}

func (bc *bookCache) stop() {
	close(bc.stopCh)
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.conn != nil {
		bc.conn.Close()
	}
}

func (bc *bookCache) readLoop() {
	for {
		select {
		case <-bc.stopCh:
			return
		default:
		}

		_, msg, err := bc.conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("venue: book websocket read error, cache cleared until next dial")
			bc.mu.Lock()
			bc.conn.Close()
			bc.conn = nil
			bc.books = make(map[string]*Book)
			bc.subbed = make(map[string]bool)
			bc.mu.Unlock()
			return
		}
		bc.handleMessage(msg)
	}
}

type wsBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsSnapshot struct {
	AssetID string        `json:"asset_id"`
	Bids    []wsBookLevel `json:"bids"`
	Asks    []wsBookLevel `json:"asks"`
}

type wsPriceChange struct {
	EventType    string `json:"event_type"`
	PriceChanges []struct {
		AssetID string `json:"asset_id"`
		BestBid string `json:"best_bid"`
		BestAsk string `json:"best_ask"`
	} `json:"price_changes"`
}

func (bc *bookCache) handleMessage(data []byte) {
	var change wsPriceChange
	if err := json.Unmarshal(data, &change); err == nil && change.EventType == "price_change" {
		bc.mu.Lock()
		for _, pc := range change.PriceChanges {
			bid, _ := decimal.NewFromString(pc.BestBid)
			ask, _ := decimal.NewFromString(pc.BestAsk)
			bc.books[pc.AssetID] = &Book{
				Bids: []BookLevel{{Price: bid}},
				Asks: []BookLevel{{Price: ask}},
			}
		}
		bc.mu.Unlock()
		return
	}

	var snaps []wsSnapshot
	if err := json.Unmarshal(data, &snaps); err == nil && len(snaps) > 0 {
		bc.mu.Lock()
		for _, s := range snaps {
			bc.books[s.AssetID] = levelsToBook(s.Bids, s.Asks)
		}
		bc.mu.Unlock()
	}
}

func levelsToBook(bids, asks []wsBookLevel) *Book {
	book := &Book{}
	for _, b := range bids {
		price, _ := decimal.NewFromString(b.Price)
		size, _ := decimal.NewFromString(b.Size)
		book.Bids = append(book.Bids, BookLevel{Price: price, Size: size})
	}
	for _, a := range asks {
		price, _ := decimal.NewFromString(a.Price)
		size, _ := decimal.NewFromString(a.Size)
		book.Asks = append(book.Asks, BookLevel{Price: price, Size: size})
	}
	return book
}
