// Package engine assembles the router: it initializes every venue adapter,
// freezes the edge set they contribute and wires the update pipeline, the
// path-finding engine and the route plan builder around it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/graph"
	"github.com/Iwinswap/iwinswap-swap-router-go/pipeline"
	"github.com/Iwinswap/iwinswap-swap-router-go/planner"
	"github.com/Iwinswap/iwinswap-swap-router-go/registry"
	"github.com/Iwinswap/iwinswap-swap-router-go/routing"
	"github.com/Iwinswap/iwinswap-swap-router-go/state"
	"github.com/Iwinswap/iwinswap-swap-router-go/subscription"
)

const (
	// DefaultSingleHopCooldown hides the edge of a failed one-hop swap.
	DefaultSingleHopCooldown = 45 * time.Second
	// DefaultMultiHopCooldown hides every edge of a failed multi-hop swap.
	DefaultMultiHopCooldown = 15 * time.Second
)

// Config holds the adapters and policy of a Router.
type Config struct {
	Adapters           []dex.Adapter
	Logger             *slog.Logger
	PrometheusRegistry prometheus.Registerer

	// PipelineWorkers bounds parallel decodes per update.
	PipelineWorkers int

	MaxHops            int
	FreshnessSlots     uint64
	ReservedAccounts   int
	DefaultMaxAccounts int
	Overquote          decimal.Decimal
	MaxExpansions      int

	SingleHopCooldown time.Duration
	MultiHopCooldown  time.Duration
}

func (c *Config) validate() error {
	if len(c.Adapters) == 0 {
		return errors.New("config: at least one adapter is required")
	}
	for i, a := range c.Adapters {
		if a == nil {
			return fmt.Errorf("config: adapter %d is nil", i)
		}
	}
	if c.PrometheusRegistry == nil {
		return errors.New("config: PrometheusRegistry is required")
	}
	if c.SingleHopCooldown < 0 || c.MultiHopCooldown < 0 {
		return errors.New("config: cooldowns must not be negative")
	}
	return nil
}

// Router owns every component of a running router.
type Router struct {
	edges    *registry.Registry
	index    *subscription.Map
	store    *state.Store
	graph    *graph.Graph
	pipeline *pipeline.Pipeline
	routing  *routing.Engine
	planner  *planner.Builder
	logger   *slog.Logger

	singleHopCooldown time.Duration
	multiHopCooldown  time.Duration
	now               func() time.Time
}

// New initializes every adapter and builds the router. Any adapter error, or
// two adapters claiming the same edge, is fatal.
func New(ctx context.Context, cfg Config) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	edges := registry.New()
	index := subscription.NewMap()
	store := state.NewStore()

	for _, adapter := range cfg.Adapters {
		idents, fragment, err := adapter.Initialize(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize %s: %w", adapter.Name(), err)
		}
		for _, ident := range idents {
			edge, err := edges.Register(ident, adapter)
			if err != nil {
				return nil, fmt.Errorf("initialize %s: %w", adapter.Name(), err)
			}
			if err := store.Track(edge.ID); err != nil {
				return nil, err
			}
		}
		for account, linked := range fragment {
			for _, ident := range linked {
				if _, ok := edges.Get(dex.ID(ident)); !ok {
					return nil, fmt.Errorf("initialize %s: account %s is linked to unknown edge %s",
						adapter.Name(), account, ident.Desc())
				}
			}
		}
		index.Merge(fragment)
		logger.Info("Adapter initialized", "adapter", adapter.Name(), "edges", len(idents), "accounts", len(fragment))
	}

	edges.Freeze()
	store.Seal()
	g := graph.Build(edges.All())

	pl, err := pipeline.New(pipeline.Config{
		Edges:              edges,
		Store:              store,
		Index:              index,
		Logger:             logger.With("component", "pipeline"),
		PrometheusRegistry: cfg.PrometheusRegistry,
		Workers:            cfg.PipelineWorkers,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	re, err := routing.New(routing.Config{
		Graph:              g,
		Store:              store,
		Slots:              pl,
		Logger:             logger.With("component", "routing"),
		PrometheusRegistry: cfg.PrometheusRegistry,
		MaxHops:            cfg.MaxHops,
		FreshnessSlots:     cfg.FreshnessSlots,
		ReservedAccounts:   cfg.ReservedAccounts,
		DefaultMaxAccounts: cfg.DefaultMaxAccounts,
		Overquote:          cfg.Overquote,
		MaxExpansions:      cfg.MaxExpansions,
	})
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}

	r := &Router{
		edges:             edges,
		index:             index,
		store:             store,
		graph:             g,
		pipeline:          pl,
		routing:           re,
		planner:           planner.NewBuilder(store, logger.With("component", "planner")),
		logger:            logger,
		singleHopCooldown: cfg.SingleHopCooldown,
		multiHopCooldown:  cfg.MultiHopCooldown,
		now:               time.Now,
	}
	if r.singleHopCooldown == 0 {
		r.singleHopCooldown = DefaultSingleHopCooldown
	}
	if r.multiHopCooldown == 0 {
		r.multiHopCooldown = DefaultMultiHopCooldown
	}

	logger.Info("Router ready",
		"edges", edges.Len(),
		"mints", len(g.Mints()),
		"accounts", index.Len(),
	)
	return r, nil
}

// FindRoute searches for the best route of amount from in to out.
func (r *Router) FindRoute(ctx context.Context, in, out solana.PublicKey, amount uint64, c routing.Constraints) (*routing.Route, error) {
	return r.routing.FindRoute(ctx, in, out, amount, c)
}

// BuildPlan turns a route into the instructions that execute it.
func (r *Router) BuildPlan(route *routing.Route, params planner.TraderParams) (*planner.Plan, error) {
	return r.planner.Build(route, params)
}

// Swap finds a route and plans it with the trader's slippage.
func (r *Router) Swap(ctx context.Context, in, out solana.PublicKey, amount uint64, c routing.Constraints, params planner.TraderParams) (*routing.Route, *planner.Plan, error) {
	if c.SlippageBps == 0 {
		c.SlippageBps = params.SlippageBps
	}
	route, err := r.FindRoute(ctx, in, out, amount, c)
	if err != nil {
		return nil, nil, err
	}
	plan, err := r.BuildPlan(route, params)
	if err != nil {
		return route, nil, err
	}
	return route, plan, nil
}

// Apply feeds one account update through the pipeline.
func (r *Router) Apply(u pipeline.AccountUpdate) pipeline.Result {
	return r.pipeline.Apply(u)
}

// Bootstrap loads an account snapshot and decodes every edge.
func (r *Router) Bootstrap(snapshot []pipeline.AccountUpdate) pipeline.Result {
	return r.pipeline.Bootstrap(snapshot)
}

// Run consumes a live feed until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan pipeline.AccountUpdate, slots <-chan uint64) error {
	return r.pipeline.Run(ctx, updates, slots)
}

// ReportFailure hides the edges of a route whose execution failed. A one-hop
// route blames its edge; a longer route cools every hop for a shorter time.
// The next state replacement of an edge clears its cooldown.
func (r *Router) ReportFailure(route *routing.Route) error {
	if route == nil || len(route.Hops) == 0 {
		return planner.ErrEmptyRoute
	}
	d := r.multiHopCooldown
	if len(route.Hops) == 1 {
		d = r.singleHopCooldown
	}
	until := r.now().Add(d)
	for _, hop := range route.Hops {
		if err := r.store.Cooldown(hop.Edge.ID, until); err != nil {
			return err
		}
	}
	r.logger.Warn("Route failed, cooling down edges",
		"route_id", route.ID,
		"hops", len(route.Hops),
		"cooldown", d,
	)
	return nil
}

// Status is a point-in-time summary of the router.
type Status struct {
	Edges      int
	Mints      int
	Accounts   int
	Cached     int
	NewestSlot uint64
	Store      state.Stats
	Protocols  map[string]int
}

// Status reports the router's size and the condition of its edge states.
func (r *Router) Status() Status {
	return Status{
		Edges:      r.edges.Len(),
		Mints:      len(r.graph.Mints()),
		Accounts:   r.index.Len(),
		Cached:     r.pipeline.Cache().Len(),
		NewestSlot: r.pipeline.NewestSlot(),
		Store:      r.store.Stats(),
		Protocols:  r.edges.Protocols(),
	}
}

// EdgesFrom yields the edges leaving mint.
func (r *Router) EdgesFrom(mint solana.PublicKey) iter.Seq[*registry.Edge] {
	return func(yield func(*registry.Edge) bool) {
		for _, e := range r.graph.Outgoing(mint) {
			if !yield(e) {
				return
			}
		}
	}
}

// Edge returns a registered edge with its current state entry, if any.
func (r *Router) Edge(id dex.EdgeID) (*registry.Edge, *state.Entry, bool) {
	e, ok := r.edges.Get(id)
	if !ok {
		return nil, nil, false
	}
	entry, _ := r.store.Load(id)
	return e, entry, true
}

// WatchedAccounts returns every account the router needs updates for.
func (r *Router) WatchedAccounts() []solana.PublicKey {
	return r.index.Accounts()
}

// MissingAccounts returns the watched accounts no update has arrived for,
// such as dependencies reported during the last decode.
func (r *Router) MissingAccounts() []solana.PublicKey {
	cache := r.pipeline.Cache()
	var missing []solana.PublicKey
	for _, key := range r.index.Accounts() {
		if _, err := cache.Account(key); err != nil {
			missing = append(missing, key)
		}
	}
	return missing
}

// WatchSetChanged receives a value after decoding adds accounts to the
// watch set, such as an oracle a pool starts pointing to.
func (r *Router) WatchSetChanged() <-chan struct{} {
	return r.pipeline.WatchSetChanged()
}

// Graph returns the token graph.
func (r *Router) Graph() *graph.Graph { return r.graph }
