package venue

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
)

// Wallet signing and key management are out of scope (spec.md §1): the
// signer below only ever receives an already-loaded *ecdsa.PrivateKey from
// config and produces signatures — it never touches custody.

// DefaultPolygonChainID and DefaultCTFExchangeAddress are Polymarket's own
// mainnet CTF Exchange constants. They are the defaults NewOrderSigner falls
// back to, but config (VENUE_CHAIN_ID / VENUE_EXCHANGE_ADDRESS) can override
// them for a different deployment (e.g. Mumbai testnet) without touching
// this file.
const (
	DefaultPolygonChainID     = 137
	DefaultCTFExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	zeroAddress               = "0x0000000000000000000000000000000000000000"
)

const (
	signedSideBuy  = 0
	signedSideSell = 1
)

// CTFOrder is a Polymarket CTF Exchange order, pre-signature.
type CTFOrder struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
}

// SignedOrder is an order together with its EIP-712 signature.
type SignedOrder struct {
	Order     *CTFOrder
	Signature string
}

// OrderSigner produces EIP-712 signatures over CTF orders.
type OrderSigner struct {
	privateKey    *ecdsa.PrivateKey
	signerAddress common.Address
	funderAddress common.Address
	exchangeAddr  common.Address
	chainID       int64
	signatureType int
	rng           *rand.Rand
}

// NewOrderSigner builds a signer bound to an already-unlocked private key,
// targeting Polymarket's default mainnet chain id and CTF Exchange contract.
func NewOrderSigner(privateKey *ecdsa.PrivateKey, signerAddr, funderAddr common.Address, signatureType int) *OrderSigner {
	return NewOrderSignerForChain(privateKey, signerAddr, funderAddr, signatureType, DefaultPolygonChainID, DefaultCTFExchangeAddress)
}

// NewOrderSignerForChain builds a signer for an explicit chain id and
// exchange contract address, so a differently-deployed venue (config's
// VENUE_CHAIN_ID / VENUE_EXCHANGE_ADDRESS) never requires editing this file.
func NewOrderSignerForChain(privateKey *ecdsa.PrivateKey, signerAddr, funderAddr common.Address, signatureType int, chainID int64, exchangeAddress string) *OrderSigner {
	return &OrderSigner{
		privateKey:    privateKey,
		signerAddress: signerAddr,
		funderAddress: funderAddr,
		exchangeAddr:  common.HexToAddress(exchangeAddress),
		chainID:       chainID,
		signatureType: signatureType,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Sign builds and signs a CTF order for the given venue order request.
func (s *OrderSigner) Sign(req OrderRequest) (*SignedOrder, error) {
	tokenID := new(big.Int)
	if _, ok := tokenID.SetString(req.TokenID, 10); !ok {
		return nil, fmt.Errorf("signer: invalid token id %q", req.TokenID)
	}

	priceFloat, _ := req.Price.Float64()
	sizeFloat, _ := req.Size.Float64()

	var makerAmount, takerAmount *big.Int
	side := signedSideBuy
	if req.Side == OrderSell {
		side = signedSideSell
	}
	if side == signedSideBuy {
		makerAmount = toTokenDecimals(sizeFloat * priceFloat)
		takerAmount = toTokenDecimals(sizeFloat)
	} else {
		makerAmount = toTokenDecimals(sizeFloat)
		takerAmount = toTokenDecimals(sizeFloat * priceFloat)
	}

	maker := s.funderAddress
	if maker == (common.Address{}) {
		maker = s.signerAddress
	}

	order := &CTFOrder{
		Salt:          s.generateSalt(),
		Maker:         maker,
		Signer:        s.signerAddress,
		Taker:         common.HexToAddress(zeroAddress),
		TokenID:       tokenID,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          uint8(side),
		SignatureType: uint8(s.signatureType),
	}

	return s.signOrder(order)
}

func (s *OrderSigner) signOrder(order *CTFOrder) (*SignedOrder, error) {
	typedData := s.buildTypedData(order)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("signer: hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("signer: hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	hash := crypto.Keccak256Hash(rawData)

	signature, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signer: sign: %w", err)
	}
	if signature[64] < 27 {
		signature[64] += 27
	}

	return &SignedOrder{Order: order, Signature: fmt.Sprintf("0x%x", signature)}, nil
}

func (s *OrderSigner) buildTypedData(order *CTFOrder) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(s.chainID),
			VerifyingContract: s.exchangeAddr.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          order.Salt.String(),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       order.TokenID.String(),
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    order.Expiration.String(),
			"nonce":         order.Nonce.String(),
			"feeRateBps":    order.FeeRateBps.String(),
			"side":          fmt.Sprintf("%d", order.Side),
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
	}
}

func toTokenDecimals(amount float64) *big.Int {
	return big.NewInt(int64(amount * 1e6))
}

func (s *OrderSigner) generateSalt() *big.Int {
	bytes := make([]byte, 32)
	for i := range bytes {
		bytes[i] = byte(s.rng.Intn(256))
	}
	salt := new(big.Int)
	salt.SetBytes(bytes)
	return salt
}
