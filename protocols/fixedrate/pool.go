package fixedrate

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
)

// PriceScale is the fixed-point denominator of OracleState.Price.
const PriceScale = 1_000_000_000

var (
	poolDiscriminator   = dex.AccountDiscriminator("RatePool")
	oracleDiscriminator = dex.AccountDiscriminator("PriceOracle")
)

// PoolState is the on-chain layout of a fixed-rate pool. The pool trades its
// base mint against its quote mint at the price published by Oracle.
type PoolState struct {
	Discriminator dex.Discriminator
	BaseMint      solana.PublicKey
	QuoteMint     solana.PublicKey
	BaseVault     solana.PublicKey
	QuoteVault    solana.PublicKey
	Oracle        solana.PublicKey
	FeeBps        uint16
	// MinBase and MaxBase bound the base-side size of a single swap.
	MinBase uint64
	MaxBase uint64
	Paused  bool
}

// OracleState is the on-chain layout of a price oracle.
type OracleState struct {
	Discriminator dex.Discriminator
	// Price is quote units per base unit, scaled by PriceScale.
	Price       uint64
	PublishSlot uint64
}

// Encode serializes the pool with its account discriminator.
func (p PoolState) Encode() ([]byte, error) {
	p.Discriminator = poolDiscriminator
	return bin.MarshalBorsh(p)
}

// Encode serializes the oracle with its account discriminator.
func (o OracleState) Encode() ([]byte, error) {
	o.Discriminator = oracleDiscriminator
	return bin.MarshalBorsh(o)
}

// DecodePool parses a pool account.
func DecodePool(data []byte) (*PoolState, error) {
	var p PoolState
	if err := decode(&p, data, &p.Discriminator, poolDiscriminator); err != nil {
		return nil, fmt.Errorf("pool account: %w", err)
	}
	return &p, nil
}

// DecodeOracle parses an oracle account.
func DecodeOracle(data []byte) (*OracleState, error) {
	var o OracleState
	if err := decode(&o, data, &o.Discriminator, oracleDiscriminator); err != nil {
		return nil, fmt.Errorf("oracle account: %w", err)
	}
	return &o, nil
}

func decode(v any, data []byte, got *dex.Discriminator, want dex.Discriminator) error {
	if len(data) < len(want) {
		return errors.New("data too short")
	}
	if err := bin.UnmarshalBorsh(v, data); err != nil {
		return err
	}
	if *got != want {
		return fmt.Errorf("unexpected discriminator %x", got[:])
	}
	return nil
}

// PoolConfig is the static description of a pool. The oracle is not part of
// it: the pool account names its oracle and may rotate it.
type PoolConfig struct {
	Address    solana.PublicKey `yaml:"address"`
	BaseMint   solana.PublicKey `yaml:"baseMint"`
	QuoteMint  solana.PublicKey `yaml:"quoteMint"`
	BaseVault  solana.PublicKey `yaml:"baseVault"`
	QuoteVault solana.PublicKey `yaml:"quoteVault"`
}

func (c PoolConfig) validate() error {
	switch {
	case c.Address.IsZero():
		return errors.New("pool address is required")
	case c.BaseMint.IsZero() || c.QuoteMint.IsZero():
		return fmt.Errorf("pool %s: base and quote mints are required", c.Address)
	case c.BaseMint.Equals(c.QuoteMint):
		return fmt.Errorf("pool %s: mints must differ", c.Address)
	case c.BaseVault.IsZero() || c.QuoteVault.IsZero():
		return fmt.Errorf("pool %s: both vaults are required", c.Address)
	}
	return nil
}

func (c PoolConfig) matches(p *PoolState) bool {
	return p.BaseMint.Equals(c.BaseMint) && p.QuoteMint.Equals(c.QuoteMint) &&
		p.BaseVault.Equals(c.BaseVault) && p.QuoteVault.Equals(c.QuoteVault)
}

// Indexer builds indexed pool systems.
type Indexer struct{}

// NewIndexer creates a new Indexer.
func NewIndexer() *Indexer {
	return &Indexer{}
}

// Index creates an indexed pool system from a raw slice of pools.
func (i *Indexer) Index(pools []PoolConfig) *IndexablePoolSystem {
	return NewIndexablePoolSystem(pools)
}

// IndexablePoolSystem provides fast, indexed access to fixed-rate pools.
type IndexablePoolSystem struct {
	byAddress map[solana.PublicKey]PoolConfig
	all       []PoolConfig
}

// NewIndexablePoolSystem creates a new indexed pool system. Addresses must
// be unique; Config.validate rejects repeats.
func NewIndexablePoolSystem(pools []PoolConfig) *IndexablePoolSystem {
	byAddress := make(map[solana.PublicKey]PoolConfig, len(pools))
	all := make([]PoolConfig, len(pools))
	copy(all, pools)

	for _, p := range pools {
		byAddress[p.Address] = p
	}

	return &IndexablePoolSystem{
		byAddress: byAddress,
		all:       all,
	}
}

// GetByAddress retrieves a pool by its account address.
func (s *IndexablePoolSystem) GetByAddress(address solana.PublicKey) (PoolConfig, bool) {
	p, ok := s.byAddress[address]
	return p, ok
}

// All returns a copy of all pools.
func (s *IndexablePoolSystem) All() []PoolConfig {
	allCopy := make([]PoolConfig, len(s.all))
	copy(allCopy, s.all)
	return allCopy
}
