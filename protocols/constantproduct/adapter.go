// Package constantproduct implements the x*y=k venue family: two-token pools
// whose price is set by the balances of their vaults and a fee charged on the
// input.
package constantproduct

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
const Name = "constant-product"

const (
	feeDenominator  = 1_000_000
	bpsDenominator  = 10_000
	accountsPerSwap = 11
	swapCU          = 45_000
	authoritySeed   = "vault_and_lp_mint_auth_seed"
)

var swapDiscriminator = dex.InstructionDiscriminator("swap_base_input")

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

// Edge swaps one side of a pool for the other.
type Edge struct {
	Pool PoolConfig
	AToB bool
}

func (e *Edge) Key() solana.PublicKey { return e.Pool.Address }

func (e *Edge) InputMint() solana.PublicKey {
	if e.AToB {
		return e.Pool.MintA
	}
	return e.Pool.MintB
}

func (e *Edge) OutputMint() solana.PublicKey {
	if e.AToB {
		return e.Pool.MintB
	}
	return e.Pool.MintA
}

func (e *Edge) vaults() (in, out solana.PublicKey) {
	if e.AToB {
		return e.Pool.VaultA, e.Pool.VaultB
	}
	return e.Pool.VaultB, e.Pool.VaultA
}

func (e *Edge) AccountsNeeded() int { return accountsPerSwap }

func (e *Edge) Desc() string {
	dir := "b->a"
	if e.AToB {
		dir = "a->b"
	}
	return fmt.Sprintf("%s %s %s", Name, e.Pool.Address, dir)
}

// State is the priced snapshot of one direction of a pool.
type State struct {
	ReserveIn  uint64
	ReserveOut uint64
	FeeRate    uint64
	Disabled   bool
}

// Adapter serves every configured pool of one program.
type Adapter struct {
	programID solana.PublicKey
	authority solana.PublicKey
	pools     *IndexablePoolSystem
}

// New validates cfg and derives the program's vault authority.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	authority, _, err := solana.FindProgramAddress([][]byte{[]byte(authoritySeed)}, cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive vault authority: %w", err)
	}
	return &Adapter{
		programID: cfg.ProgramID,
		authority: authority,
		pools:     NewIndexer().Index(cfg.Pools),
	}, nil
}

func (a *Adapter) Name() string { return Name }

// Initialize contributes both directions of every pool. Each edge is driven
// by the pool account and its two vaults.
func (a *Adapter) Initialize(ctx context.Context) ([]dex.EdgeIdentifier, dex.SubscriptionFragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	pools := a.pools.All()
	idents := make([]dex.EdgeIdentifier, 0, 2*len(pools))
	fragment := make(dex.SubscriptionFragment, 3*len(pools))

	for _, p := range pools {
		pair := []dex.EdgeIdentifier{&Edge{Pool: p, AToB: true}, &Edge{Pool: p, AToB: false}}
		idents = append(idents, pair...)
		for _, acc := range []solana.PublicKey{p.Address, p.VaultA, p.VaultB} {
			fragment[acc] = append(fragment[acc], pair...)
		}
	}
	return idents, fragment, nil
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

	vaultIn, vaultOut := e.vaults()
	reserveIn, err := vaultAmount(accounts, vaultIn)
	if err != nil {
		return nil, err
	}
	reserveOut, err := vaultAmount(accounts, vaultOut)
	if err != nil {
		return nil, err
	}
	return &State{
		ReserveIn:  reserveIn,
		ReserveOut: reserveOut,
		FeeRate:    pool.TradeFeeRate,
		Disabled:   pool.Status&StatusSwapDisabled != 0,
	}, nil
}

func vaultAmount(accounts dex.AccountProvider, vault solana.PublicKey) (uint64, error) {
	acc, err := accounts.Account(vault)
	if err != nil {
		return 0, fmt.Errorf("vault %s: %w", vault, err)
	}
	amount, err := token.AccountAmount(acc.Data)
	if err != nil {
		return 0, fmt.Errorf("vault %s: %w", vault, err)
	}
	return amount, nil
}

// Quote applies the input fee and prices the remainder along x*y=k.
func (a *Adapter) Quote(ident dex.EdgeIdentifier, state dex.EdgeState, inAmount uint64) (dex.Quote, error) {
	s, ok := state.(*State)
	if !ok || s == nil {
		return dex.Quote{}, dex.ErrStateUnavailable
	}
	if inAmount == 0 {
		return dex.Quote{}, dex.ErrAmountOutOfRange
	}
	if s.Disabled {
		return dex.Quote{}, fmt.Errorf("%w: swaps disabled", dex.ErrQuoteInfeasible)
	}
	if s.ReserveIn == 0 || s.ReserveOut == 0 || s.FeeRate >= feeDenominator {
		return dex.Quote{}, dex.ErrQuoteInfeasible
	}

	in := uint256.NewInt(inAmount)
	fee := new(uint256.Int).Mul(in, uint256.NewInt(s.FeeRate))
	fee.Add(fee, uint256.NewInt(feeDenominator-1))
	fee.Div(fee, uint256.NewInt(feeDenominator))

	afterFee := new(uint256.Int).Sub(in, fee)
	if afterFee.IsZero() {
		return dex.Quote{}, fmt.Errorf("%w: input consumed by fee", dex.ErrQuoteInfeasible)
	}

	reserveIn := uint256.NewInt(s.ReserveIn)
	reserveOut := uint256.NewInt(s.ReserveOut)
	num := new(uint256.Int).Mul(afterFee, reserveOut)
	out := new(uint256.Int).Div(num, new(uint256.Int).Add(reserveIn, afterFee))
	if out.IsZero() || out.Cmp(reserveOut) >= 0 {
		return dex.Quote{}, dex.ErrQuoteInfeasible
	}

	spot := new(uint256.Int).Div(num, reserveIn)
	impact := new(uint256.Int).Sub(spot, out)
	impact.Mul(impact, uint256.NewInt(bpsDenominator))
	impact.Div(impact, spot)

	return dex.Quote{
		InAmount:       inAmount,
		OutAmount:      out.Uint64(),
		FeeAmount:      fee.Uint64(),
		FeeMint:        ident.InputMint(),
		PriceImpactBps: impact.Uint64(),
	}, nil
}

func (a *Adapter) BuildInstruction(ident dex.EdgeIdentifier, state dex.EdgeState, params dex.SwapParams) (dex.SwapInstruction, error) {
	e, err := a.edgeOf(ident)
	if err != nil {
		return dex.SwapInstruction{}, err
	}
	if s, ok := state.(*State); !ok || s == nil {
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
			solana.NewAccountMeta(a.authority, false, false),
			solana.NewAccountMeta(e.Pool.Address, true, false),
			solana.NewAccountMeta(userIn, true, false),
			solana.NewAccountMeta(userOut, true, false),
			solana.NewAccountMeta(vaultIn, true, false),
			solana.NewAccountMeta(vaultOut, true, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
			solana.NewAccountMeta(e.InputMint(), false, false),
			solana.NewAccountMeta(e.OutputMint(), false, false),
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
