// Package planner turns a route into the ordered instructions that execute
// it.
package planner

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/routing"
)

var (
	ErrEmptyRoute = errors.New("planner: route has no hops")
	// ErrInstructionBuildFailed wraps every per-hop failure. The route was
	// valid when found; asking for a new one is expected to succeed.
	ErrInstructionBuildFailed = errors.New("instruction build failed")
	ErrInvalidParams          = errors.New("planner: invalid trader params")
)

// IsRetryable reports whether err means the caller should request a fresh
// route and try again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInstructionBuildFailed)
}

const (
	BaseComputeUnits         = 150_000
	DefaultHopComputeUnits   = 80_000
	AccountSetupComputeUnits = 12_000
)

// TraderParams describe the wallet a plan is built for.
type TraderParams struct {
	Wallet      solana.PublicKey
	SlippageBps uint16
	// WrapAndUnwrapSOL funds a wSOL account from native SOL when the route
	// starts at SOL, and closes it back to SOL afterwards.
	WrapAndUnwrapSOL bool
	// AutoCreateOutAccount creates the token accounts hops pay into.
	AutoCreateOutAccount bool
}

func (p TraderParams) validate() error {
	if p.Wallet.IsZero() {
		return fmt.Errorf("%w: wallet is required", ErrInvalidParams)
	}
	if p.SlippageBps > 10_000 {
		return fmt.Errorf("%w: slippage %d bps exceeds 100%%", ErrInvalidParams, p.SlippageBps)
	}
	return nil
}

// HopPlan records the amounts a hop instruction was built with.
type HopPlan struct {
	Edge           dex.EdgeID
	InAmount       uint64
	MinOutAmount   uint64
	InAmountOffset uint16
	OutAccount     solana.PublicKey
}

// Plan is the executable form of a route.
type Plan struct {
	RouteID      uuid.UUID
	Setup        []solana.Instruction
	Swaps        []solana.Instruction
	Cleanup      []solana.Instruction
	Hops         []HopPlan
	Accounts     []solana.PublicKey
	InAmount     uint64
	MinOutAmount uint64
	CUEstimate   uint32
}

// Instructions returns setup, swap and cleanup instructions in order.
func (p *Plan) Instructions() []solana.Instruction {
	out := make([]solana.Instruction, 0, len(p.Setup)+len(p.Swaps)+len(p.Cleanup))
	out = append(out, p.Setup...)
	out = append(out, p.Swaps...)
	return append(out, p.Cleanup...)
}

// Builder builds plans against the live state store.
type Builder struct {
	store  routing.StateReader
	logger *slog.Logger
}

// NewBuilder creates a plan builder.
func NewBuilder(store routing.StateReader, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{store: store, logger: logger}
}

// Build materializes route for the trader.
func (b *Builder) Build(route *routing.Route, params TraderParams) (*Plan, error) {
	if route == nil || len(route.Hops) == 0 {
		return nil, ErrEmptyRoute
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	plan := &Plan{
		RouteID:      route.ID,
		InAmount:     route.InAmount,
		MinOutAmount: routing.ApplySlippage(route.OutAmount, params.SlippageBps),
	}
	cu := uint32(BaseComputeUnits)
	accountSetups := 0

	wrapIn := params.WrapAndUnwrapSOL && route.InputMint == solana.SolMint
	unwrapOut := params.WrapAndUnwrapSOL && route.OutputMint == solana.SolMint
	created := make(map[solana.PublicKey]bool)

	if wrapIn || unwrapOut {
		wsol, err := associatedTokenAddress(params.Wallet, solana.SolMint)
		if err != nil {
			return nil, err
		}
		plan.Setup = append(plan.Setup, createAssociatedTokenAccountIdempotent(params.Wallet, params.Wallet, solana.SolMint, wsol))
		created[solana.SolMint] = true
		accountSetups++
		if wrapIn {
			plan.Setup = append(plan.Setup,
				system.NewTransferInstruction(route.InAmount, params.Wallet, wsol).Build(),
				token.NewSyncNativeInstruction(wsol).Build(),
			)
		}
		plan.Cleanup = append(plan.Cleanup, token.NewCloseAccountInstruction(wsol, params.Wallet, params.Wallet, nil).Build())
		accountSetups++
	}

	perHopBps := min(uint32(params.SlippageBps)*2, 10_000)
	in := route.InAmount
	for i, hop := range route.Hops {
		entry, ok := b.store.Get(hop.Edge.ID)
		if !ok {
			return nil, fmt.Errorf("%w: hop %d (%s): %w", ErrInstructionBuildFailed, i, hop.Edge.ID, dex.ErrStateUnavailable)
		}

		minOut := routing.ApplySlippage(scale(hop.Quote.OutAmount, in, hop.Quote.InAmount), uint16(perHopBps))
		if i == len(route.Hops)-1 {
			minOut = plan.MinOutAmount
		}

		ix, err := hop.Edge.BuildInstruction(entry.State, dex.SwapParams{
			Wallet:       params.Wallet,
			InAmount:     in,
			MinOutAmount: minOut,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: hop %d (%s): %w", ErrInstructionBuildFailed, i, hop.Edge.ID, err)
		}

		if params.AutoCreateOutAccount && !created[ix.OutMint] {
			plan.Setup = append(plan.Setup, createAssociatedTokenAccountIdempotent(params.Wallet, params.Wallet, ix.OutMint, ix.OutAccount))
			created[ix.OutMint] = true
			accountSetups++
		}

		plan.Swaps = append(plan.Swaps, ix.Instruction)
		plan.Hops = append(plan.Hops, HopPlan{
			Edge:           hop.Edge.ID,
			InAmount:       in,
			MinOutAmount:   minOut,
			InAmountOffset: ix.InAmountOffset,
			OutAccount:     ix.OutAccount,
		})

		hopCU := ix.CUEstimate
		if hopCU == 0 {
			hopCU = DefaultHopComputeUnits
		}
		cu += hopCU
		in = minOut
	}

	plan.CUEstimate = cu + uint32(accountSetups)*AccountSetupComputeUnits
	plan.Accounts = uniqueAccounts(plan.Instructions())

	b.logger.Debug("Built route plan",
		"route_id", route.ID,
		"hops", len(route.Hops),
		"instructions", len(plan.Instructions()),
		"accounts", len(plan.Accounts),
		"cu_estimate", plan.CUEstimate,
	)
	return plan, nil
}

// scale returns expected*in/quotedIn, the output expected when a hop receives
// in instead of the amount it was quoted for.
func scale(expected, in, quotedIn uint64) uint64 {
	if quotedIn == 0 || in == quotedIn {
		return expected
	}
	x := uint256.NewInt(expected)
	x.Mul(x, uint256.NewInt(in))
	x.Div(x, uint256.NewInt(quotedIn))
	if !x.IsUint64() {
		return expected
	}
	return x.Uint64()
}

func uniqueAccounts(ixs []solana.Instruction) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{})
	var out []solana.PublicKey
	add := func(k solana.PublicKey) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	for _, ix := range ixs {
		add(ix.ProgramID())
		for _, meta := range ix.Accounts() {
			add(meta.PublicKey)
		}
	}
	return out
}
