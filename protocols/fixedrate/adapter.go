// Package fixedrate implements oracle-priced pools: a pool swaps its base and
// quote mints at the price of an oracle account the pool points to, minus a
// flat fee, for as long as its output vault can pay.
package fixedrate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/protocols/token"
)

// Name identifies the family in config, logs and metrics.
const Name = "fixed-rate"

const (
	bpsDenominator  = 10_000
	accountsPerSwap = 9
	swapCU          = 30_000
)

var swapDiscriminator = dex.InstructionDiscriminator("swap")

// Config configures the family.
type Config struct {
	ProgramID solana.PublicKey `yaml:"programId"`
	Pools     []PoolConfig     `yaml:"pools"`
}

func (c *Config) validate() error {
	if c.ProgramID.IsZero() {
		return errors.New("config: ProgramID is required")
	}
	seen := mapset.NewThreadUnsafeSetWithSize[solana.PublicKey](len(c.Pools))
	for _, p := range c.Pools {
		if err := p.validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if !seen.Add(p.Address) {
			return fmt.Errorf("config: pool %s is listed more than once", p.Address)
		}
	}
	return nil
}

// Edge sells one side of a pool for the other.
type Edge struct {
	Pool     PoolConfig
	SellBase bool
}

func (e *Edge) Key() solana.PublicKey { return e.Pool.Address }

func (e *Edge) InputMint() solana.PublicKey {
	if e.SellBase {
		return e.Pool.BaseMint
	}
	return e.Pool.QuoteMint
}

func (e *Edge) OutputMint() solana.PublicKey {
	if e.SellBase {
		return e.Pool.QuoteMint
	}
	return e.Pool.BaseMint
}

func (e *Edge) AccountsNeeded() int { return accountsPerSwap }

func (e *Edge) Desc() string {
	side := "buy"
	if e.SellBase {
		side = "sell"
	}
	return fmt.Sprintf("%s %s %s", Name, e.Pool.Address, side)
}

func (e *Edge) vaults() (in, out solana.PublicKey) {
	if e.SellBase {
		return e.Pool.BaseVault, e.Pool.QuoteVault
	}
	return e.Pool.QuoteVault, e.Pool.BaseVault
}

// State is the priced snapshot of one side of a pool.
type State struct {
	Oracle     solana.PublicKey
	Price      uint64
	OracleSlot uint64
	FeeBps     uint16
	MinBase    uint64
	MaxBase    uint64
	ReserveOut uint64
	Paused     bool
}

// Adapter serves every configured pool of one program.
type Adapter struct {
	programID solana.PublicKey
	pools     *IndexablePoolSystem
}

// New validates cfg and indexes its pools.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Adapter{programID: cfg.ProgramID, pools: NewIndexer().Index(cfg.Pools)}, nil
}

func (a *Adapter) Name() string { return Name }

// Initialize contributes both sides of every pool. Only the pool account and
// vaults are known up front; the oracle is reported by DependentAccounts.
func (a *Adapter) Initialize(ctx context.Context) ([]dex.EdgeIdentifier, dex.SubscriptionFragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	pools := a.pools.All()
	idents := make([]dex.EdgeIdentifier, 0, 2*len(pools))
	fragment := make(dex.SubscriptionFragment, 3*len(pools))

	for _, p := range pools {
		pair := []dex.EdgeIdentifier{&Edge{Pool: p, SellBase: true}, &Edge{Pool: p, SellBase: false}}
		idents = append(idents, pair...)
		for _, acc := range []solana.PublicKey{p.Address, p.BaseVault, p.QuoteVault} {
			fragment[acc] = append(fragment[acc], pair...)
		}
	}
	return idents, fragment, nil
}

// DependentAccounts reports the oracle the pool currently points to.
func (a *Adapter) DependentAccounts(ident dex.EdgeIdentifier, accounts dex.AccountProvider) []solana.PublicKey {
	acc, err := accounts.Account(ident.Key())
	if err != nil {
		return nil
	}
	pool, err := DecodePool(acc.Data)
	if err != nil || pool.Oracle.IsZero() {
		return nil
	}
	return []solana.PublicKey{pool.Oracle}
}

func (a *Adapter) DecodeState(ident dex.EdgeIdentifier, accounts dex.AccountProvider) (dex.EdgeState, error) {
	e, err := a.edgeOf(ident)
	if err != nil {
		return nil, err
	}
	acc, err := accounts.Account(e.Pool.Address)
	if err != nil {
		return nil, fmt.Errorf("pool %s: %w", e.Pool.Address, err)
	}
	pool, err := DecodePool(acc.Data)
	if err != nil {
		return nil, err
	}
	if !e.Pool.matches(pool) {
		return nil, fmt.Errorf("pool %s: on-chain mints or vaults differ from config", e.Pool.Address)
	}

	oacc, err := accounts.Account(pool.Oracle)
	if err != nil {
		return nil, fmt.Errorf("oracle %s: %w", pool.Oracle, err)
	}
	oracle, err := DecodeOracle(oacc.Data)
	if err != nil {
		return nil, err
	}

	_, vaultOut := e.vaults()
	vacc, err := accounts.Account(vaultOut)
	if err != nil {
		return nil, fmt.Errorf("vault %s: %w", vaultOut, err)
	}
	reserve, err := token.AccountAmount(vacc.Data)
	if err != nil {
		return nil, fmt.Errorf("vault %s: %w", vaultOut, err)
	}

	return &State{
		Oracle:     pool.Oracle,
		Price:      oracle.Price,
		OracleSlot: oracle.PublishSlot,
		FeeBps:     pool.FeeBps,
		MinBase:    pool.MinBase,
		MaxBase:    pool.MaxBase,
		ReserveOut: reserve,
		Paused:     pool.Paused,
	}, nil
}

// Quote converts at the oracle price and takes the fee from the output.
func (a *Adapter) Quote(ident dex.EdgeIdentifier, state dex.EdgeState, inAmount uint64) (dex.Quote, error) {
	e, err := a.edgeOf(ident)
	if err != nil {
		return dex.Quote{}, err
	}
	s, ok := state.(*State)
	if !ok || s == nil {
		return dex.Quote{}, dex.ErrStateUnavailable
	}
	if inAmount == 0 {
		return dex.Quote{}, dex.ErrAmountOutOfRange
	}
	if s.Paused || s.Price == 0 || s.FeeBps >= bpsDenominator {
		return dex.Quote{}, dex.ErrQuoteInfeasible
	}

	gross := uint256.NewInt(inAmount)
	var base *uint256.Int
	if e.SellBase {
		base = uint256.NewInt(inAmount)
		gross.Mul(gross, uint256.NewInt(s.Price))
		gross.Div(gross, uint256.NewInt(PriceScale))
	} else {
		gross.Mul(gross, uint256.NewInt(PriceScale))
		gross.Div(gross, uint256.NewInt(s.Price))
		base = gross
	}
	if !gross.IsUint64() {
		return dex.Quote{}, dex.ErrAmountOutOfRange
	}
	if err := s.checkBounds(base.Uint64()); err != nil {
		return dex.Quote{}, err
	}

	fee := new(uint256.Int).Mul(gross, uint256.NewInt(uint64(s.FeeBps)))
	fee.Add(fee, uint256.NewInt(bpsDenominator-1))
	fee.Div(fee, uint256.NewInt(bpsDenominator))
	out := gross.Uint64() - fee.Uint64()
	if out == 0 {
		return dex.Quote{}, dex.ErrQuoteInfeasible
	}
	if out > s.ReserveOut {
		return dex.Quote{}, fmt.Errorf("%w: vault holds %d, need %d", dex.ErrQuoteInfeasible, s.ReserveOut, out)
	}

	return dex.Quote{
		InAmount:  inAmount,
		OutAmount: out,
		FeeAmount: fee.Uint64(),
		FeeMint:   e.OutputMint(),
	}, nil
}

func (s *State) checkBounds(base uint64) error {
	if base < s.MinBase {
		return fmt.Errorf("%w: %d below pool minimum %d", dex.ErrAmountOutOfRange, base, s.MinBase)
	}
	if s.MaxBase != 0 && base > s.MaxBase {
		return fmt.Errorf("%w: %d above pool maximum %d", dex.ErrAmountOutOfRange, base, s.MaxBase)
	}
	return nil
}

func (a *Adapter) BuildInstruction(ident dex.EdgeIdentifier, state dex.EdgeState, params dex.SwapParams) (dex.SwapInstruction, error) {
	e, err := a.edgeOf(ident)
	if err != nil {
		return dex.SwapInstruction{}, err
	}
	s, ok := state.(*State)
	if !ok || s == nil {
		return dex.SwapInstruction{}, dex.ErrStateUnavailable
	}
	userIn, _, err := solana.FindAssociatedTokenAddress(params.Wallet, e.InputMint())
	if err != nil {
		return dex.SwapInstruction{}, fmt.Errorf("derive input account: %w", err)
	}
	userOut, _, err := solana.FindAssociatedTokenAddress(params.Wallet, e.OutputMint())
	if err != nil {
		return dex.SwapInstruction{}, fmt.Errorf("derive output account: %w", err)
	}
	vaultIn, vaultOut := e.vaults()

	data := make([]byte, 24)
	copy(data[0:8], swapDiscriminator[:])
	binary.LittleEndian.PutUint64(data[8:16], params.InAmount)
	binary.LittleEndian.PutUint64(data[16:24], params.MinOutAmount)

	ix := solana.NewInstruction(
		a.programID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(params.Wallet, false, true),
			solana.NewAccountMeta(e.Pool.Address, true, false),
			solana.NewAccountMeta(s.Oracle, false, false),
			solana.NewAccountMeta(userIn, true, false),
			solana.NewAccountMeta(userOut, true, false),
			solana.NewAccountMeta(vaultIn, true, false),
			solana.NewAccountMeta(vaultOut, true, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
		},
		data,
	)
	return dex.SwapInstruction{
		Instruction:    ix,
		OutAccount:     userOut,
		OutMint:        e.OutputMint(),
		InAmountOffset: 8,
		CUEstimate:     swapCU,
	}, nil
}

// edgeOf accepts only edges built from this adapter's configured pools.
func (a *Adapter) edgeOf(ident dex.EdgeIdentifier) (*Edge, error) {
	e, ok := ident.(*Edge)
	if !ok {
		return nil, fmt.Errorf("%s: foreign edge %T", Name, ident)
	}
	if p, ok := a.pools.GetByAddress(e.Pool.Address); !ok || p != e.Pool {
		return nil, fmt.Errorf("%s: pool %s is not configured for program %s", Name, e.Pool.Address, a.programID)
	}
	return e, nil
}
