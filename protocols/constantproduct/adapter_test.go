package constantproduct

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/dex/dextest"
	"github.com/Iwinswap/iwinswap-swap-router-go/protocols/token"
)

var (
	programID = solana.MustPublicKeyFromBase58("CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C")
	pool      = PoolConfig{
		Address: dextest.Key('p', 1),
		MintA:   dextest.Key('m', 1),
		MintB:   dextest.Key('m', 2),
		VaultA:  dextest.Key('v', 1),
		VaultB:  dextest.Key('v', 2),
	}
)

func newAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(Config{ProgramID: programID, Pools: []PoolConfig{pool}})
	require.NoError(t, err)
	return a
}

func accountsFor(t *testing.T, ps PoolState, reserveA, reserveB uint64) dextest.Accounts {
	t.Helper()
	data, err := ps.Encode()
	require.NoError(t, err)
	return dextest.Accounts{
		pool.Address: {Key: pool.Address, Owner: programID, Data: data},
		pool.VaultA:  {Key: pool.VaultA, Data: token.EncodeAccount(pool.MintA, pool.Address, reserveA)},
		pool.VaultB:  {Key: pool.VaultB, Data: token.EncodeAccount(pool.MintB, pool.Address, reserveB)},
	}
}

func onChain() PoolState {
	return PoolState{
		MintA:        pool.MintA,
		MintB:        pool.MintB,
		VaultA:       pool.VaultA,
		VaultB:       pool.VaultB,
		TradeFeeRate: 2_500,
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	bad := pool
	bad.MintB = bad.MintA
	_, err = New(Config{ProgramID: programID, Pools: []PoolConfig{bad}})
	assert.Error(t, err)

	bad = pool
	bad.VaultA = solana.PublicKey{}
	_, err = New(Config{ProgramID: programID, Pools: []PoolConfig{bad}})
	assert.Error(t, err)

	// A repeated address is an error even when the second entry differs.
	repeat := pool
	repeat.VaultB = dextest.Key('v', 9)
	_, err = New(Config{ProgramID: programID, Pools: []PoolConfig{pool, repeat}})
	assert.ErrorContains(t, err, "listed more than once")
}

func TestInitialize(t *testing.T) {
	a := newAdapter(t)

	idents, fragment, err := a.Initialize(context.Background())
	require.NoError(t, err)
	require.Len(t, idents, 2)

	assert.Equal(t, pool.MintA, idents[0].InputMint())
	assert.Equal(t, pool.MintB, idents[0].OutputMint())
	assert.Equal(t, pool.MintB, idents[1].InputMint())
	assert.Equal(t, pool.MintA, idents[1].OutputMint())
	assert.Equal(t, accountsPerSwap, idents[0].AccountsNeeded())

	require.Len(t, fragment, 3)
	for _, acc := range []solana.PublicKey{pool.Address, pool.VaultA, pool.VaultB} {
		assert.Len(t, fragment[acc], 2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = a.Initialize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeState(t *testing.T) {
	a := newAdapter(t)
	idents, _, err := a.Initialize(context.Background())
	require.NoError(t, err)
	aToB, bToA := idents[0], idents[1]

	t.Run("OrientsReserves", func(t *testing.T) {
		accounts := accountsFor(t, onChain(), 1_000, 2_000)

		st, err := a.DecodeState(aToB, accounts)
		require.NoError(t, err)
		assert.Equal(t, &State{ReserveIn: 1_000, ReserveOut: 2_000, FeeRate: 2_500}, st)

		st, err = a.DecodeState(bToA, accounts)
		require.NoError(t, err)
		assert.Equal(t, &State{ReserveIn: 2_000, ReserveOut: 1_000, FeeRate: 2_500}, st)
	})

	t.Run("DisabledFlag", func(t *testing.T) {
		ps := onChain()
		ps.Status = StatusSwapDisabled
		st, err := a.DecodeState(aToB, accountsFor(t, ps, 1, 1))
		require.NoError(t, err)
		assert.True(t, st.(*State).Disabled)
	})

	t.Run("MissingVault", func(t *testing.T) {
		accounts := accountsFor(t, onChain(), 1, 1)
		delete(accounts, pool.VaultB)
		_, err := a.DecodeState(aToB, accounts)
		assert.ErrorIs(t, err, dex.ErrAccountNotFound)
	})

	t.Run("LayoutMismatch", func(t *testing.T) {
		ps := onChain()
		ps.VaultB = dextest.Key('v', 9)
		_, err := a.DecodeState(aToB, accountsFor(t, ps, 1, 1))
		assert.Error(t, err)
	})

	t.Run("WrongDiscriminator", func(t *testing.T) {
		accounts := accountsFor(t, onChain(), 1, 1)
		accounts[pool.Address].Data[0] ^= 0xff
		_, err := a.DecodeState(aToB, accounts)
		assert.Error(t, err)
	})

	t.Run("ForeignEdge", func(t *testing.T) {
		_, err := a.DecodeState(&dextest.Edge{Pool: pool.Address}, accountsFor(t, onChain(), 1, 1))
		assert.Error(t, err)
	})

	t.Run("UnconfiguredPool", func(t *testing.T) {
		other := pool
		other.VaultB = dextest.Key('v', 9)
		_, err := a.DecodeState(&Edge{Pool: other, AToB: true}, accountsFor(t, onChain(), 1, 1))
		assert.ErrorContains(t, err, "not configured")
	})
}

func TestQuote(t *testing.T) {
	a := newAdapter(t)
	idents, _, err := a.Initialize(context.Background())
	require.NoError(t, err)
	aToB := idents[0]
	deep := &State{ReserveIn: 1_000_000_000, ReserveOut: 2_000_000_000, FeeRate: 2_500}

	t.Run("ConstantProduct", func(t *testing.T) {
		q, err := a.Quote(aToB, deep, 1_000_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000), q.InAmount)
		assert.Equal(t, uint64(2_500), q.FeeAmount)
		assert.Equal(t, pool.MintA, q.FeeMint)
		assert.Equal(t, uint64(1_993_011), q.OutAmount)
		assert.Equal(t, uint64(9), q.PriceImpactBps)
	})

	t.Run("FeeRoundsUp", func(t *testing.T) {
		q, err := a.Quote(aToB, deep, 1_000)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), q.FeeAmount)
	})

	t.Run("Monotonic", func(t *testing.T) {
		var prev uint64
		for _, in := range []uint64{10, 1_000, 100_000, 10_000_000, 1_000_000_000} {
			q, err := a.Quote(aToB, deep, in)
			require.NoError(t, err)
			assert.Greater(t, q.OutAmount, prev)
			assert.Less(t, q.OutAmount, deep.ReserveOut)
			prev = q.OutAmount
		}
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := a.Quote(aToB, deep, 0)
		assert.ErrorIs(t, err, dex.ErrAmountOutOfRange)

		_, err = a.Quote(aToB, &State{ReserveIn: 1, ReserveOut: 1, Disabled: true}, 10)
		assert.ErrorIs(t, err, dex.ErrQuoteInfeasible)

		_, err = a.Quote(aToB, &State{ReserveIn: 0, ReserveOut: 10}, 10)
		assert.ErrorIs(t, err, dex.ErrQuoteInfeasible)

		_, err = a.Quote(aToB, &State{ReserveIn: 1_000_000, ReserveOut: 10, FeeRate: 2_500}, 5)
		assert.ErrorIs(t, err, dex.ErrQuoteInfeasible, "output rounds to zero")

		_, err = a.Quote(aToB, nil, 10)
		assert.ErrorIs(t, err, dex.ErrStateUnavailable)
	})

	t.Run("MaxInputDoesNotOverflow", func(t *testing.T) {
		q, err := a.Quote(aToB, deep, ^uint64(0))
		require.NoError(t, err)
		assert.Less(t, q.OutAmount, deep.ReserveOut)
	})
}

func TestBuildInstruction(t *testing.T) {
	a := newAdapter(t)
	idents, _, err := a.Initialize(context.Background())
	require.NoError(t, err)
	bToA := idents[1]
	wallet := dextest.Key('w', 1)

	_, err = a.BuildInstruction(bToA, nil, dex.SwapParams{Wallet: wallet, InAmount: 1})
	assert.ErrorIs(t, err, dex.ErrStateUnavailable)

	si, err := a.BuildInstruction(bToA, &State{}, dex.SwapParams{Wallet: wallet, InAmount: 500, MinOutAmount: 450})
	require.NoError(t, err)

	assert.Equal(t, programID, si.Instruction.ProgramID())
	assert.Equal(t, pool.MintA, si.OutMint)
	assert.Equal(t, uint16(8), si.InAmountOffset)

	wantOut, _, err := solana.FindAssociatedTokenAddress(wallet, pool.MintA)
	require.NoError(t, err)
	assert.Equal(t, wantOut, si.OutAccount)

	data, err := si.Instruction.Data()
	require.NoError(t, err)
	require.Len(t, data, 24)
	assert.Equal(t, swapDiscriminator[:], data[:8])
	assert.Equal(t, uint64(500), binary.LittleEndian.Uint64(data[si.InAmountOffset:]))
	assert.Equal(t, uint64(450), binary.LittleEndian.Uint64(data[16:]))

	metas := si.Instruction.Accounts()
	assert.Len(t, metas, accountsPerSwap-1, "plus the program itself")
	assert.True(t, metas[0].IsSigner)
	assert.Equal(t, pool.VaultB, metas[5].PublicKey)
	assert.Equal(t, pool.VaultA, metas[6].PublicKey)
}
