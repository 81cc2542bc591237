// Package dex defines the contract every venue family implements so the
// router can discover its edges, keep their state current and price swaps
// through them without knowing anything about the venue itself.
package dex

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrQuoteInfeasible is returned by Quote when the edge cannot fill the
	// requested amount (empty liquidity, disabled pool, zero output).
	ErrQuoteInfeasible = errors.New("quote infeasible")
	// ErrAmountOutOfRange is returned by Quote when the input amount is
	// outside the bounds the venue accepts.
	ErrAmountOutOfRange = errors.New("amount out of range")
	// ErrStateUnavailable is returned when an operation needs edge state that
	// has not been loaded or was invalidated.
	ErrStateUnavailable = errors.New("edge state unavailable")
	// ErrAccountNotFound is returned by an AccountProvider for keys it has
	// never seen.
	ErrAccountNotFound = errors.New("account not found")
)

// EdgeIdentifier is the immutable descriptor of a directed edge. It carries
// everything an adapter needs to decode and quote the edge, none of which
// changes after Initialize.
type EdgeIdentifier interface {
	Key() solana.PublicKey
	InputMint() solana.PublicKey
	OutputMint() solana.PublicKey
	// AccountsNeeded is the number of accounts a swap instruction through
	// this edge references. It counts against a route's account budget.
	AccountsNeeded() int
	Desc() string
}

// EdgeState is the adapter-defined pricing snapshot of an edge. The router
// never inspects it; it only stores it and hands it back to the adapter.
type EdgeState any

// SubscriptionFragment maps each account an adapter watches to the edges
// whose state depends on it.
type SubscriptionFragment map[solana.PublicKey][]EdgeIdentifier

// Account is the latest known content of an on-chain account.
type Account struct {
	Key      solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
	Slot     uint64
}

// AccountProvider gives adapters read access to the cached account set while
// they decode edge state.
type AccountProvider interface {
	Account(key solana.PublicKey) (*Account, error)
}

// Quote is the priced result of pushing an input amount through one edge.
type Quote struct {
	InAmount       uint64
	OutAmount      uint64
	FeeAmount      uint64
	FeeMint        solana.PublicKey
	PriceImpactBps uint64
}

// SwapParams are the per-hop arguments of BuildInstruction.
type SwapParams struct {
	Wallet       solana.PublicKey
	InAmount     uint64
	MinOutAmount uint64
}

// SwapInstruction is a single-hop swap ready to be placed in a transaction.
type SwapInstruction struct {
	Instruction solana.Instruction
	// OutAccount is the token account that receives the hop's output.
	OutAccount solana.PublicKey
	OutMint    solana.PublicKey
	// InAmountOffset is the byte offset of the input amount inside the
	// instruction data, for executors that patch amounts between hops.
	InAmountOffset uint16
	CUEstimate     uint32
}

// Adapter is implemented once per venue family.
type Adapter interface {
	// Name identifies the venue family in logs, metrics and config.
	Name() string
	// Initialize enumerates the edges the family contributes and the
	// accounts that drive their state.
	Initialize(ctx context.Context) ([]EdgeIdentifier, SubscriptionFragment, error)
	// DecodeState builds an edge's state from the current account set.
	DecodeState(ident EdgeIdentifier, accounts AccountProvider) (EdgeState, error)
	// Quote prices inAmount through the edge. It must be pure.
	Quote(ident EdgeIdentifier, state EdgeState, inAmount uint64) (Quote, error)
	// BuildInstruction materializes a swap through the edge.
	BuildInstruction(ident EdgeIdentifier, state EdgeState, params SwapParams) (SwapInstruction, error)
}

// DependentAccountsReporter is implemented by adapters whose state depends on
// accounts that are only known at runtime, such as an oracle the pool account
// points to. It is consulted before every decode and the returned keys are
// added to the subscription index.
type DependentAccountsReporter interface {
	DependentAccounts(ident EdgeIdentifier, accounts AccountProvider) []solana.PublicKey
}
