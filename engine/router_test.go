package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/dex/dextest"
	"github.com/Iwinswap/iwinswap-swap-router-go/pipeline"
	"github.com/Iwinswap/iwinswap-swap-router-go/planner"
	"github.com/Iwinswap/iwinswap-swap-router-go/protocols/constantproduct"
	"github.com/Iwinswap/iwinswap-swap-router-go/protocols/fixedrate"
	"github.com/Iwinswap/iwinswap-swap-router-go/protocols/token"
	"github.com/Iwinswap/iwinswap-swap-router-go/registry"
	"github.com/Iwinswap/iwinswap-swap-router-go/routing"
)

var (
	mintA = dextest.Key('m', 1)
	mintB = dextest.Key('m', 2)
	mintC = dextest.Key('m', 3)

	cpProgram = solana.MustPublicKeyFromBase58("CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C")
	frProgram = dextest.Key('f', 0)

	cpPool = constantproduct.PoolConfig{
		Address: dextest.Key('p', 1),
		MintA:   mintA,
		MintB:   mintB,
		VaultA:  dextest.Key('v', 1),
		VaultB:  dextest.Key('v', 2),
	}
	frPool = fixedrate.PoolConfig{
		Address:    dextest.Key('p', 2),
		BaseMint:   mintB,
		QuoteMint:  mintC,
		BaseVault:  dextest.Key('v', 3),
		QuoteVault: dextest.Key('v', 4),
	}
	oracle  = dextest.Key('o', 1)
	oracle2 = dextest.Key('o', 2)
)

func newRouter(t *testing.T) *Router {
	t.Helper()
	cp, err := constantproduct.New(constantproduct.Config{ProgramID: cpProgram, Pools: []constantproduct.PoolConfig{cpPool}})
	require.NoError(t, err)
	fr, err := fixedrate.New(fixedrate.Config{ProgramID: frProgram, Pools: []fixedrate.PoolConfig{frPool}})
	require.NoError(t, err)

	r, err := New(context.Background(), Config{
		Adapters:           []dex.Adapter{cp, fr},
		PrometheusRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return r
}

func vault(key, mint solana.PublicKey, amount, slot uint64) pipeline.AccountUpdate {
	return pipeline.AccountUpdate{Key: key, Owner: solana.TokenProgramID, Data: token.EncodeAccount(mint, key, amount), Slot: slot}
}

func frPoolUpdate(t *testing.T, oracleKey solana.PublicKey, slot uint64) pipeline.AccountUpdate {
	t.Helper()
	data, err := fixedrate.PoolState{
		BaseMint:   frPool.BaseMint,
		QuoteMint:  frPool.QuoteMint,
		BaseVault:  frPool.BaseVault,
		QuoteVault: frPool.QuoteVault,
		Oracle:     oracleKey,
		FeeBps:     10,
	}.Encode()
	require.NoError(t, err)
	return pipeline.AccountUpdate{Key: frPool.Address, Owner: frProgram, Data: data, Slot: slot}
}

func oracleUpdate(t *testing.T, key solana.PublicKey, price, slot uint64) pipeline.AccountUpdate {
	t.Helper()
	data, err := fixedrate.OracleState{Price: price, PublishSlot: slot}.Encode()
	require.NoError(t, err)
	return pipeline.AccountUpdate{Key: key, Owner: frProgram, Data: data, Slot: slot}
}

func snapshot(t *testing.T, slot uint64) []pipeline.AccountUpdate {
	t.Helper()
	cpData, err := constantproduct.PoolState{
		MintA:        cpPool.MintA,
		MintB:        cpPool.MintB,
		VaultA:       cpPool.VaultA,
		VaultB:       cpPool.VaultB,
		TradeFeeRate: 2_500,
	}.Encode()
	require.NoError(t, err)

	return []pipeline.AccountUpdate{
		{Key: cpPool.Address, Owner: cpProgram, Data: cpData, Slot: slot},
		vault(cpPool.VaultA, mintA, 1_000_000_000_000, slot),
		vault(cpPool.VaultB, mintB, 2_000_000_000_000, slot),
		frPoolUpdate(t, oracle, slot),
		oracleUpdate(t, oracle, fixedrate.PriceScale, slot),
		vault(frPool.BaseVault, mintB, 1_000_000_000_000, slot),
		vault(frPool.QuoteVault, mintC, 1_000_000_000_000, slot),
	}
}

func TestRouter_EndToEnd(t *testing.T) {
	r := newRouter(t)
	ctx := context.Background()

	before := r.Status()
	assert.Equal(t, 4, before.Edges)
	assert.Equal(t, 3, before.Mints)
	assert.Equal(t, 6, before.Accounts, "the oracle is not known until the pool is decoded")
	assert.Equal(t, 4, before.Store.NeverLoaded)
	assert.Equal(t, map[string]int{constantproduct.Name: 2, fixedrate.Name: 2}, before.Protocols)
	assert.Len(t, r.MissingAccounts(), 6)

	res := r.Bootstrap(snapshot(t, 100))
	assert.Equal(t, 4, res.Replaced)

	after := r.Status()
	assert.Equal(t, 4, after.Store.Live)
	assert.Equal(t, 7, after.Accounts)
	assert.Equal(t, uint64(100), after.NewestSlot)
	assert.Contains(t, r.WatchedAccounts(), oracle)
	assert.Empty(t, r.MissingAccounts())

	route, err := r.FindRoute(ctx, mintA, mintC, 1_000_000, routing.Constraints{SlippageBps: 50})
	require.NoError(t, err)
	require.Len(t, route.Hops, 2)
	assert.Equal(t, constantproduct.Name, route.Hops[0].Edge.Protocol())
	assert.Equal(t, fixedrate.Name, route.Hops[1].Edge.Protocol())
	assert.Equal(t, route.Hops[0].Quote.OutAmount, route.Hops[1].Quote.InAmount)
	assert.Equal(t, route.Hops[1].Quote.OutAmount, route.OutAmount)
	assert.Equal(t, 20, route.AccountsNeeded)
	assert.Equal(t, uint64(100), route.Slot)

	wallet := dextest.Key('w', 1)
	plan, err := r.BuildPlan(route, planner.TraderParams{Wallet: wallet, SlippageBps: 50})
	require.NoError(t, err)
	require.Len(t, plan.Swaps, 2)
	assert.Equal(t, cpProgram, plan.Swaps[0].ProgramID())
	assert.Equal(t, frProgram, plan.Swaps[1].ProgramID())
	assert.Equal(t, route.OtherAmountThreshold, plan.MinOutAmount)
	assert.Equal(t, uint32(planner.BaseComputeUnits+45_000+30_000), plan.CUEstimate)

	t.Run("FailureCoolsEveryHop", func(t *testing.T) {
		now := time.Now()
		r.now = func() time.Time { return now }
		require.NoError(t, r.ReportFailure(route))

		for _, hop := range route.Hops {
			_, entry, ok := r.Edge(hop.Edge.ID)
			require.True(t, ok)
			assert.Equal(t, now.Add(DefaultMultiHopCooldown), entry.CooldownUntil)
		}
		assert.Equal(t, 2, r.Status().Store.CoolingDown)

		_, err := r.FindRoute(ctx, mintA, mintC, 1_000_000, routing.Constraints{})
		assert.ErrorIs(t, err, routing.ErrNoRoute)
	})

	t.Run("FreshStateClearsCooldown", func(t *testing.T) {
		res := r.Apply(vault(cpPool.VaultB, mintB, 2_000_000_000_001, 101))
		assert.Equal(t, 2, res.Replaced)

		_, err := r.FindRoute(ctx, mintA, mintB, 1_000_000, routing.Constraints{})
		assert.NoError(t, err)
		_, err = r.FindRoute(ctx, mintA, mintC, 1_000_000, routing.Constraints{})
		assert.ErrorIs(t, err, routing.ErrNoRoute, "the fixed-rate edge is still cooling down")
	})

	t.Run("OracleRotation", func(t *testing.T) {
		res := r.Apply(frPoolUpdate(t, oracle2, 102))
		assert.Equal(t, 2, res.Edges)
		assert.Equal(t, 2, res.Invalidated, "the new oracle has not been seen yet")
		assert.Contains(t, r.WatchedAccounts(), oracle2)

		res = r.Apply(oracleUpdate(t, oracle2, 2*fixedrate.PriceScale, 103))
		assert.False(t, res.Unwatched)
		assert.Equal(t, 2, res.Replaced)

		route, err := r.FindRoute(ctx, mintB, mintC, 1_000_000, routing.Constraints{})
		require.NoError(t, err)
		assert.Equal(t, uint64(1_998_000), route.OutAmount)
		assert.Equal(t, uint64(103), route.Slot)
	})
}

func TestRouter_ReportFailure_SingleHop(t *testing.T) {
	r := newRouter(t)
	r.Bootstrap(snapshot(t, 1))
	route, err := r.FindRoute(context.Background(), mintA, mintB, 1_000, routing.Constraints{})
	require.NoError(t, err)
	require.Len(t, route.Hops, 1)

	now := time.Now()
	r.now = func() time.Time { return now }
	require.NoError(t, r.ReportFailure(route))
	_, entry, _ := r.Edge(route.Hops[0].Edge.ID)
	assert.Equal(t, now.Add(DefaultSingleHopCooldown), entry.CooldownUntil)

	assert.ErrorIs(t, r.ReportFailure(nil), planner.ErrEmptyRoute)
}

func TestRouter_Swap(t *testing.T) {
	r := newRouter(t)
	r.Bootstrap(snapshot(t, 1))

	route, plan, err := r.Swap(context.Background(), mintA, mintB, 10_000, routing.Constraints{},
		planner.TraderParams{Wallet: dextest.Key('w', 1), SlippageBps: 100})
	require.NoError(t, err)
	assert.Equal(t, uint16(100), route.SlippageBps)
	assert.Equal(t, route.ID, plan.RouteID)

	_, _, err = r.Swap(context.Background(), mintA, mintB, 10_000, routing.Constraints{}, planner.TraderParams{})
	assert.ErrorIs(t, err, planner.ErrInvalidParams)
}

func TestRouter_EdgesFrom(t *testing.T) {
	r := newRouter(t)
	var got []string
	for e := range r.EdgesFrom(mintB) {
		got = append(got, e.Protocol())
	}
	assert.ElementsMatch(t, []string{constantproduct.Name, fixedrate.Name}, got)
}

type failingAdapter struct{ *dextest.Adapter }

func (failingAdapter) Initialize(context.Context) ([]dex.EdgeIdentifier, dex.SubscriptionFragment, error) {
	return nil, nil, errors.New("rpc unavailable")
}

type strayAdapter struct{ *dextest.Adapter }

func (a strayAdapter) Initialize(ctx context.Context) ([]dex.EdgeIdentifier, dex.SubscriptionFragment, error) {
	idents, fragment, err := a.Adapter.Initialize(ctx)
	stray := &dextest.Edge{Pool: dextest.Key('x', 1), In: mintA, Out: mintB, Name: "stray"}
	fragment[stray.Pool] = append(fragment[stray.Pool], stray)
	return idents, fragment, err
}

func TestNew_Errors(t *testing.T) {
	e := &dextest.Edge{Pool: dextest.Key('p', 9), In: mintA, Out: mintB, Accounts: 3, Name: "dup"}

	t.Run("Validation", func(t *testing.T) {
		_, err := New(context.Background(), Config{PrometheusRegistry: prometheus.NewRegistry()})
		assert.Error(t, err)
		_, err = New(context.Background(), Config{Adapters: []dex.Adapter{dextest.New("a", e)}})
		assert.Error(t, err)
		_, err = New(context.Background(), Config{Adapters: []dex.Adapter{nil}, PrometheusRegistry: prometheus.NewRegistry()})
		assert.Error(t, err)
	})

	t.Run("DuplicateEdgeIsFatal", func(t *testing.T) {
		_, err := New(context.Background(), Config{
			Adapters:           []dex.Adapter{dextest.New("a", e), dextest.New("b", e)},
			PrometheusRegistry: prometheus.NewRegistry(),
		})
		assert.ErrorIs(t, err, registry.ErrDuplicateEdge)
	})

	t.Run("InitializeErrorIsFatal", func(t *testing.T) {
		_, err := New(context.Background(), Config{
			Adapters:           []dex.Adapter{failingAdapter{dextest.New("a", e)}},
			PrometheusRegistry: prometheus.NewRegistry(),
		})
		assert.ErrorContains(t, err, "rpc unavailable")
	})

	t.Run("FragmentMustOnlyNameOwnEdges", func(t *testing.T) {
		_, err := New(context.Background(), Config{
			Adapters:           []dex.Adapter{strayAdapter{dextest.New("a", e)}},
			PrometheusRegistry: prometheus.NewRegistry(),
		})
		assert.ErrorContains(t, err, "unknown edge")
	})
}
