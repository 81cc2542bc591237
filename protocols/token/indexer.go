package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// TokenView is the static metadata of a mint.
type TokenView struct {
	Mint     solana.PublicKey `yaml:"mint" json:"mint"`
	Symbol   string           `yaml:"symbol" json:"symbol"`
	Decimals uint8            `yaml:"decimals" json:"decimals"`
}

// UIAmount converts a raw on-chain amount into whole-token units.
func (t TokenView) UIAmount(raw uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(t.Decimals))
}

// RawAmount converts whole-token units into the raw on-chain amount,
// truncating digits beyond the mint's precision.
func (t TokenView) RawAmount(ui decimal.Decimal) (uint64, error) {
	if ui.IsNegative() {
		return 0, errors.New("token amount must not be negative")
	}
	raw := ui.Shift(int32(t.Decimals)).Truncate(0).BigInt()
	if !raw.IsUint64() {
		return 0, fmt.Errorf("token amount %s %s does not fit in 64 bits", ui, t.Symbol)
	}
	return raw.Uint64(), nil
}

// Indexer builds indexed token systems.
type Indexer struct{}

// New creates a new Indexer.
func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed token system from a raw slice of tokens.
func (i *Indexer) Index(tokens []TokenView) *IndexableTokenSystem {
	return NewIndexableTokenSystem(tokens)
}

// IndexableTokenSystem provides fast, indexed access to token metadata.
type IndexableTokenSystem struct {
	byMint   map[solana.PublicKey]TokenView
	bySymbol map[string]TokenView
	all      []TokenView
}

// NewIndexableTokenSystem creates a new indexed token system from a raw slice.
// Symbols are matched case-insensitively; the first token with a symbol wins.
func NewIndexableTokenSystem(tokens []TokenView) *IndexableTokenSystem {
	byMint := make(map[solana.PublicKey]TokenView, len(tokens))
	bySymbol := make(map[string]TokenView, len(tokens))

	for _, t := range tokens {
		byMint[t.Mint] = t
		sym := strings.ToUpper(t.Symbol)
		if _, taken := bySymbol[sym]; !taken && sym != "" {
			bySymbol[sym] = t
		}
	}

	return &IndexableTokenSystem{
		byMint:   byMint,
		bySymbol: bySymbol,
		all:      tokens,
	}
}

// GetByMint retrieves a token by its mint address.
func (its *IndexableTokenSystem) GetByMint(mint solana.PublicKey) (TokenView, bool) {
	t, ok := its.byMint[mint]
	return t, ok
}

// GetBySymbol retrieves a token by its ticker symbol.
func (its *IndexableTokenSystem) GetBySymbol(symbol string) (TokenView, bool) {
	t, ok := its.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// Resolve accepts either a symbol or a base58 mint address.
func (its *IndexableTokenSystem) Resolve(s string) (TokenView, error) {
	s = strings.TrimSpace(s)
	if t, ok := its.GetBySymbol(s); ok {
		return t, nil
	}
	mint, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return TokenView{}, fmt.Errorf("unknown token %q", s)
	}
	if t, ok := its.GetByMint(mint); ok {
		return t, nil
	}
	return TokenView{Mint: mint, Symbol: shortKey(mint)}, nil
}

// Label returns the symbol of mint, or a shortened address for unknown mints.
func (its *IndexableTokenSystem) Label(mint solana.PublicKey) string {
	if t, ok := its.byMint[mint]; ok && t.Symbol != "" {
		return t.Symbol
	}
	return shortKey(mint)
}

// All returns a copy of all tokens in the system.
func (its *IndexableTokenSystem) All() []TokenView {
	allCopy := make([]TokenView, len(its.all))
	copy(allCopy, its.all)
	return allCopy
}

func shortKey(k solana.PublicKey) string {
	s := k.String()
	if len(s) <= 10 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}
