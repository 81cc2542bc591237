package constantproduct

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
)

// StatusSwapDisabled is set in PoolState.Status while the pool refuses swaps.
const StatusSwapDisabled uint8 = 1 << 2

var poolDiscriminator = dex.AccountDiscriminator("PoolState")

// PoolState is the on-chain layout of a constant-product pool account.
type PoolState struct {
	Discriminator dex.Discriminator
	MintA         solana.PublicKey
	MintB         solana.PublicKey
	VaultA        solana.PublicKey
	VaultB        solana.PublicKey
	// TradeFeeRate is charged on the input, in parts per million.
	TradeFeeRate uint64
	Status       uint8
}

// Encode serializes the pool with its account discriminator.
func (p PoolState) Encode() ([]byte, error) {
	p.Discriminator = poolDiscriminator
	return bin.MarshalBorsh(p)
}

// DecodePool parses a pool account.
func DecodePool(data []byte) (*PoolState, error) {
	if len(data) < len(poolDiscriminator) {
		return nil, errors.New("pool account: data too short")
	}
	var p PoolState
	if err := bin.UnmarshalBorsh(&p, data); err != nil {
		return nil, fmt.Errorf("pool account: %w", err)
	}
	if p.Discriminator != poolDiscriminator {
		return nil, fmt.Errorf("pool account: unexpected discriminator %x", p.Discriminator[:])
	}
	return &p, nil
}

// PoolConfig is the static description of a pool the router trades through.
type PoolConfig struct {
	Address solana.PublicKey `yaml:"address"`
	MintA   solana.PublicKey `yaml:"mintA"`
	MintB   solana.PublicKey `yaml:"mintB"`
	VaultA  solana.PublicKey `yaml:"vaultA"`
	VaultB  solana.PublicKey `yaml:"vaultB"`
}

func (c PoolConfig) validate() error {
	switch {
	case c.Address.IsZero():
		return errors.New("pool address is required")
	case c.MintA.IsZero() || c.MintB.IsZero():
		return fmt.Errorf("pool %s: both mints are required", c.Address)
	case c.MintA.Equals(c.MintB):
		return fmt.Errorf("pool %s: mints must differ", c.Address)
	case c.VaultA.IsZero() || c.VaultB.IsZero():
		return fmt.Errorf("pool %s: both vaults are required", c.Address)
	}
	return nil
}

// matches reports whether the on-chain pool still describes the configured one.
func (c PoolConfig) matches(p *PoolState) bool {
	return p.MintA.Equals(c.MintA) && p.MintB.Equals(c.MintB) &&
		p.VaultA.Equals(c.VaultA) && p.VaultB.Equals(c.VaultB)
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

// IndexablePoolSystem provides fast, indexed access to the configured pools.
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
