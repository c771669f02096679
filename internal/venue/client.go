package venue

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	gammaAPI    = "https://gamma-api.polymarket.com"
	clobAPI     = "https://clob.polymarket.com"
	callTimeout = 8 * time.Second
)

// HTTPClient is the default Client implementation, talking to Polymarket's
// gamma discovery API and CLOB order API. Grounded on the teacher's
// feeds/window_scanner.go (discovery parsing) and exec/client.go (HMAC
// auth headers, signed order submission).
type HTTPClient struct {
	assetTag    string
	durationTag string
	dryRun      bool

	httpClient *http.Client
	signer     *OrderSigner
	books      *bookCache

	apiKey     string
	apiSecret  string
	passphrase string
	address    string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithCredentials sets the CLOB L2 API credentials used to authenticate
// order placement.
func WithCredentials(apiKey, apiSecret, passphrase, address string) Option {
	return func(c *HTTPClient) {
		c.apiKey = apiKey
		c.apiSecret = apiSecret
		c.passphrase = passphrase
		c.address = address
	}
}

// WithSigner attaches the EIP-712 order signer. Required unless dryRun.
func WithSigner(signer *OrderSigner) Option {
	return func(c *HTTPClient) { c.signer = signer }
}

// NewHTTPClient builds a venue client for the given asset/duration tag pair
// (e.g. "btc", "5m").
func NewHTTPClient(assetTag, durationTag string, dryRun bool, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		assetTag:    strings.ToUpper(assetTag),
		durationTag: durationTag,
		dryRun:      dryRun,
		httpClient:  &http.Client{Timeout: callTimeout},
		books:       newBookCache(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the client's book websocket connection, if one was
// ever dialed.
func (c *HTTPClient) Close() {
	c.books.stop()
}

// PrivateKeyFromHex parses a hex-encoded secp256k1 key. The caller is
// responsible for how the hex string itself was obtained/stored; this
// function only turns bytes already in config into a signer-ready key.
func PrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	return crypto.HexToECDSA(hexKey)
}

type gammaMarket struct {
	ConditionID string    `json:"condition_id"`
	Question    string    `json:"question"`
	EndDate     time.Time `json:"end_date_iso"`
	Tokens      []struct {
		TokenID string `json:"token_id"`
		Outcome string `json:"outcome"`
	} `json:"tokens"`
	OutcomePrices string `json:"outcomePrices"`
	Closed        bool   `json:"closed"`
}

// ListWindows queries the gamma API for active markets tagged for asset and
// duration, returning the parsed WindowDescriptor set. Malformed or
// incomplete candidates are skipped, never fatal (spec.md §9 "dynamic
// shapes" design note).
func (c *HTTPClient) ListWindows(ctx context.Context, asset, duration string) ([]WindowDescriptor, error) {
	url := fmt.Sprintf("%s/markets?active=true&closed=false", gammaAPI)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryStale, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryStale, err)
	}

	var markets []gammaMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryStale, err)
	}

	out := make([]WindowDescriptor, 0, len(markets))
	for _, m := range markets {
		if !strings.Contains(strings.ToUpper(m.Question), strings.ToUpper(asset)) {
			continue
		}
		if !strings.Contains(m.Question, duration) && !strings.Contains(m.Question, "minute") {
			continue
		}

		var prices []float64
		if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil || len(prices) < 2 {
			continue // incomplete market, filtered out rather than failing the whole scan
		}

		var upToken, downToken string
		for _, t := range m.Tokens {
			switch t.Outcome {
			case "Up", "Yes":
				upToken = t.TokenID
			case "Down", "No":
				downToken = t.TokenID
			}
		}
		if upToken == "" || downToken == "" {
			continue
		}

		// Near-zero/near-one outcome prices indicate the market has already
		// resolved — a freshness check, not a hard "closed" flag.
		if prices[0] <= 0.01 || prices[0] >= 0.99 {
			continue
		}

		out = append(out, WindowDescriptor{
			Slug:        m.ConditionID,
			Question:    m.Question,
			UpTokenID:   upToken,
			DownTokenID: downToken,
			EndTime:     m.EndDate,
			UpPrice:     decimal.NewFromFloat(prices[0]),
			DownPrice:   decimal.NewFromFloat(prices[1]),
		})
	}
	return out, nil
}

// GetMarket looks up a single market by slug, used for resolution polling.
func (c *HTTPClient) GetMarket(ctx context.Context, slug string) (*MarketDescriptor, error) {
	url := fmt.Sprintf("%s/markets/%s", gammaAPI, slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVenueGone, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, ErrVenueGone
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var m gammaMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVenueGone, err)
	}

	var prices []float64
	_ = json.Unmarshal([]byte(m.OutcomePrices), &prices)
	var up, down decimal.Decimal
	if len(prices) >= 2 {
		up = decimal.NewFromFloat(prices[0])
		down = decimal.NewFromFloat(prices[1])
	}

	return &MarketDescriptor{Slug: slug, UpPrice: up, DownPrice: down, Closed: m.Closed}, nil
}

type clobBookResponse struct {
	Bids []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

// GetBook answers from the live book websocket cache when available,
// falling back to a CLOB REST read on a cache miss (first call for a
// token, or after a websocket drop). The subscribe call runs synchronously
// first: while no websocket is open it attempts a dial and waits for it to
// finish; a failed dial is only logged, and the read then goes to REST.
func (c *HTTPClient) GetBook(ctx context.Context, tokenID string) (*Book, error) {
	c.books.subscribe(tokenID)
	if b, ok := c.books.get(tokenID); ok {
		return b, nil
	}
	return c.getBookREST(ctx, tokenID)
}

// getBookREST is the uncached fallback used on a book-cache miss.
func (c *HTTPClient) getBookREST(ctx context.Context, tokenID string) (*Book, error) {
	url := fmt.Sprintf("%s/book?token_id=%s", clobAPI, tokenID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVenueGone, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var raw clobBookResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVenueGone, err)
	}

	book := &Book{}
	for _, b := range raw.Bids {
		price, _ := decimal.NewFromString(b.Price)
		size, _ := decimal.NewFromString(b.Size)
		book.Bids = append(book.Bids, BookLevel{Price: price, Size: size})
	}
	for _, a := range raw.Asks {
		price, _ := decimal.NewFromString(a.Price)
		size, _ := decimal.NewFromString(a.Size)
		book.Asks = append(book.Asks, BookLevel{Price: price, Size: size})
	}
	// CLOB returns bids descending / asks ascending already; re-sort
	// defensively isn't needed since we trust the documented contract, but
	// an empty book is a legitimate "no liquidity" answer, not an error.
	return book, nil
}

// PlaceOrder signs (unless dry-run) and submits an order to the CLOB.
func (c *HTTPClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderID, error) {
	if c.dryRun {
		id := OrderID(fmt.Sprintf("dryrun-%d", time.Now().UnixNano()))
		log.Info().Str("order_id", string(id)).Str("token", req.TokenID).
			Str("side", string(req.Side)).Str("price", req.Price.String()).
			Str("size", req.Size.String()).Msg("dry-run order (book untouched)")
		return id, nil
	}

	if c.signer == nil {
		return "", fmt.Errorf("venue: live order placement requires a signer")
	}

	signed, err := c.signer.Sign(req)
	if err != nil {
		return "", fmt.Errorf("%w: sign failed: %v", ErrVenueRejected, err)
	}

	payload := map[string]interface{}{
		"order": map[string]interface{}{
			"salt":          signed.Order.Salt.String(),
			"maker":         signed.Order.Maker.Hex(),
			"signer":        signed.Order.Signer.Hex(),
			"taker":         signed.Order.Taker.Hex(),
			"tokenId":       signed.Order.TokenID.String(),
			"makerAmount":   signed.Order.MakerAmount.String(),
			"takerAmount":   signed.Order.TakerAmount.String(),
			"expiration":    signed.Order.Expiration.String(),
			"nonce":         signed.Order.Nonce.String(),
			"feeRateBps":    signed.Order.FeeRateBps.String(),
			"side":          signed.Order.Side,
			"signatureType": signed.Order.SignatureType,
		},
		"signature": signed.Signature,
		"owner":     c.apiKey,
		"orderType": orderTypeTag(req.Type),
	}
	body, _ := json.Marshal(payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, clobAPI+"/order", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	c.signAuthHeaders(httpReq, string(body))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrVenueGone, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", fmt.Errorf("%w: status %d: %s", ErrVenueRejected, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 500 {
		return "", ErrVenueGone
	}

	var parsed struct {
		OrderID string `json:"orderID"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.OrderID == "" {
		return "", fmt.Errorf("%w: unparseable response", ErrVenueRejected)
	}
	return OrderID(parsed.OrderID), nil
}

func orderTypeTag(t OrderType) string {
	if t == OrderTypeLimit {
		return "GTC"
	}
	return "FOK"
}

// WaitResolution polls get_market at 10-15s cadence until outcome prices
// cross the resolution threshold (>=0.95 or <=0.05) or timeout.
func (c *HTTPClient) WaitResolution(ctx context.Context, slug string, timeout time.Duration) (*string, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(12 * time.Second)
	defer ticker.Stop()

	for {
		m, err := c.GetMarket(ctx, slug)
		if err == nil {
			if m.UpPrice.GreaterThanOrEqual(decimal.NewFromFloat(0.95)) {
				up := "Up"
				return &up, nil
			}
			if m.DownPrice.GreaterThanOrEqual(decimal.NewFromFloat(0.95)) {
				down := "Down"
				return &down, nil
			}
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *HTTPClient) signAuthHeaders(req *http.Request, body string) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_ADDRESS", c.address)
	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)

	if c.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path + body
		req.Header.Set("POLY_SIGNATURE", c.hmacSign(message))
	}
}

func (c *HTTPClient) hmacSign(message string) string {
	key, err := base64.URLEncoding.DecodeString(c.apiSecret)
	if err != nil {
		key = []byte(c.apiSecret)
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}
