package routing

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/registry"
)

const bpsDenominator = 10_000

// Hop is one priced edge of a route.
type Hop struct {
	Edge  *registry.Edge
	Quote dex.Quote
	// Slot is the slot of the edge state the quote was computed from.
	Slot uint64
}

func (h Hop) InputMint() solana.PublicKey  { return h.Edge.InputMint() }
func (h Hop) OutputMint() solana.PublicKey { return h.Edge.OutputMint() }

// Route is an ordered sequence of hops from InputMint to OutputMint.
type Route struct {
	ID         uuid.UUID
	InputMint  solana.PublicKey
	OutputMint solana.PublicKey
	InAmount   uint64
	OutAmount  uint64
	Hops       []Hop
	// AccountsNeeded sums the accounts of every hop.
	AccountsNeeded int
	// Slot is the newest state slot any hop was priced from.
	Slot uint64
	// ContextSlot is the newest chain slot known when the route was found.
	ContextSlot uint64
	// PriceImpact is the compounded impact of every hop, as a fraction.
	PriceImpact decimal.Decimal
	// SlippageBps is the tolerance the route was requested with and
	// OtherAmountThreshold the smallest output it allows.
	SlippageBps          uint16
	OtherAmountThreshold uint64
	Feasible             bool
}

// EdgeIDs lists the route's edges in hop order.
func (r *Route) EdgeIDs() []dex.EdgeID {
	ids := make([]dex.EdgeID, len(r.Hops))
	for i, h := range r.Hops {
		ids[i] = h.Edge.ID
	}
	return ids
}

func (r *Route) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", r.InAmount, r.InputMint)
	for _, h := range r.Hops {
		fmt.Fprintf(&b, " -[%s]-> %d %s", h.Edge.Protocol(), h.Quote.OutAmount, h.OutputMint())
	}
	return b.String()
}

// ApplySlippage reduces amount by bps basis points, rounding down.
func ApplySlippage(amount uint64, bps uint16) uint64 {
	if bps >= bpsDenominator {
		return 0
	}
	x := uint256.NewInt(amount)
	x.Mul(x, uint256.NewInt(uint64(bpsDenominator-bps)))
	x.Div(x, uint256.NewInt(bpsDenominator))
	return x.Uint64()
}

func compoundImpact(hops []Hop) decimal.Decimal {
	remaining := decimal.NewFromInt(1)
	for _, h := range hops {
		hop := decimal.New(int64(min(h.Quote.PriceImpactBps, bpsDenominator)), -4)
		remaining = remaining.Mul(decimal.NewFromInt(1).Sub(hop))
	}
	return decimal.NewFromInt(1).Sub(remaining)
}
