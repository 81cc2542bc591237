// Package dextest provides an in-memory venue family for tests.
//
// Each edge's state lives in the account at the edge key. Its data holds two
// little-endian uint64 words: an exchange rate in parts per million and the
// largest input the edge can fill. An edge with a Reserve account takes its
// capacity from that account's second word instead.
package dextest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/gagliardetto/solana-go"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
)

const rateDenominator = 1_000_000

// ProgramID is the program test swap instructions are addressed to.
var ProgramID = solana.MustPublicKeyFromBase58("SwaPpA9LAaLfeLi3a68M4DjnLqgtticKg6CnyNwgAC8")

// Edge is a directed test edge.
type Edge struct {
	Pool     solana.PublicKey
	In       solana.PublicKey
	Out      solana.PublicKey
	Accounts int
	Name     string
	Reserve  solana.PublicKey
}

func (e *Edge) Key() solana.PublicKey        { return e.Pool }
func (e *Edge) InputMint() solana.PublicKey  { return e.In }
func (e *Edge) OutputMint() solana.PublicKey { return e.Out }
func (e *Edge) AccountsNeeded() int          { return e.Accounts }
func (e *Edge) Desc() string                 { return e.Name }

// State is the decoded form of an edge's account.
type State struct {
	RatePPM uint64
	MaxIn   uint64
}

// Adapter serves a fixed set of edges.
type Adapter struct {
	AdapterName string
	Edges       []*Edge
	// Extra maps an edge key to additional accounts reported after decoding.
	Extra map[solana.PublicKey][]solana.PublicKey
}

// New builds an adapter named name over edges.
func New(name string, edges ...*Edge) *Adapter {
	return &Adapter{AdapterName: name, Edges: edges}
}

func (a *Adapter) Name() string { return a.AdapterName }

func (a *Adapter) Initialize(ctx context.Context) ([]dex.EdgeIdentifier, dex.SubscriptionFragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	idents := make([]dex.EdgeIdentifier, 0, len(a.Edges))
	fragment := make(dex.SubscriptionFragment)
	for _, e := range a.Edges {
		idents = append(idents, e)
		fragment[e.Pool] = append(fragment[e.Pool], e)
		if !e.Reserve.IsZero() {
			fragment[e.Reserve] = append(fragment[e.Reserve], e)
		}
	}
	return idents, fragment, nil
}

func (a *Adapter) DecodeState(ident dex.EdgeIdentifier, accounts dex.AccountProvider) (dex.EdgeState, error) {
	acc, err := accounts.Account(ident.Key())
	if err != nil {
		return nil, err
	}
	if len(acc.Data) < 16 {
		return nil, fmt.Errorf("test edge %s: account data too short (%d bytes)", ident.Desc(), len(acc.Data))
	}
	st := &State{
		RatePPM: binary.LittleEndian.Uint64(acc.Data[0:8]),
		MaxIn:   binary.LittleEndian.Uint64(acc.Data[8:16]),
	}
	if e, ok := ident.(*Edge); ok && !e.Reserve.IsZero() {
		reserve, err := accounts.Account(e.Reserve)
		if err != nil {
			return nil, err
		}
		if len(reserve.Data) < 16 {
			return nil, fmt.Errorf("test edge %s: reserve data too short (%d bytes)", ident.Desc(), len(reserve.Data))
		}
		st.MaxIn = binary.LittleEndian.Uint64(reserve.Data[8:16])
	}
	return st, nil
}

func (a *Adapter) Quote(ident dex.EdgeIdentifier, state dex.EdgeState, inAmount uint64) (dex.Quote, error) {
	s, ok := state.(*State)
	if !ok {
		return dex.Quote{}, fmt.Errorf("test edge %s: unexpected state %T", ident.Desc(), state)
	}
	if inAmount == 0 {
		return dex.Quote{}, dex.ErrAmountOutOfRange
	}
	if inAmount > s.MaxIn {
		return dex.Quote{}, fmt.Errorf("%w: %d exceeds %d", dex.ErrQuoteInfeasible, inAmount, s.MaxIn)
	}
	hi, lo := bits.Mul64(inAmount, s.RatePPM)
	if hi >= rateDenominator {
		return dex.Quote{}, dex.ErrAmountOutOfRange
	}
	out, _ := bits.Div64(hi, lo, rateDenominator)
	if out == 0 {
		return dex.Quote{}, dex.ErrQuoteInfeasible
	}
	return dex.Quote{InAmount: inAmount, OutAmount: out, FeeMint: ident.OutputMint()}, nil
}

func (a *Adapter) BuildInstruction(ident dex.EdgeIdentifier, state dex.EdgeState, params dex.SwapParams) (dex.SwapInstruction, error) {
	if state == nil {
		return dex.SwapInstruction{}, dex.ErrStateUnavailable
	}
	if params.InAmount == 0 {
		return dex.SwapInstruction{}, errors.New("test edge: zero input")
	}
	data := make([]byte, 17)
	data[0] = 9
	binary.LittleEndian.PutUint64(data[1:9], params.InAmount)
	binary.LittleEndian.PutUint64(data[9:17], params.MinOutAmount)

	out, _, err := solana.FindAssociatedTokenAddress(params.Wallet, ident.OutputMint())
	if err != nil {
		return dex.SwapInstruction{}, err
	}
	ix := solana.NewInstruction(
		ProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(params.Wallet, false, true),
			solana.NewAccountMeta(ident.Key(), true, false),
			solana.NewAccountMeta(out, true, false),
		},
		data,
	)
	return dex.SwapInstruction{
		Instruction:    ix,
		OutAccount:     out,
		OutMint:        ident.OutputMint(),
		InAmountOffset: 1,
		CUEstimate:     60_000,
	}, nil
}

func (a *Adapter) DependentAccounts(ident dex.EdgeIdentifier, _ dex.AccountProvider) []solana.PublicKey {
	return a.Extra[ident.Key()]
}

// AccountData encodes an edge account for the given rate and capacity.
func AccountData(ratePPM, maxIn uint64) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:8], ratePPM)
	binary.LittleEndian.PutUint64(data[8:16], maxIn)
	return data
}

// Key returns a deterministic public key starting with the bytes tag, b.
func Key(tag, b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = tag
	k[1] = b
	k[31] = 1
	return k
}

// Accounts is a map-backed dex.AccountProvider.
type Accounts map[solana.PublicKey]*dex.Account

func (m Accounts) Account(key solana.PublicKey) (*dex.Account, error) {
	acc, ok := m[key]
	if !ok {
		return nil, dex.ErrAccountNotFound
	}
	return acc, nil
}
