// Package routing finds the best route between two mints over the live edge
// graph.
package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/graph"
	"github.com/Iwinswap/iwinswap-swap-router-go/state"
)

var (
	ErrNoRoute                 = errors.New("no route")
	ErrConstraintUnsatisfiable = errors.New("constraint unsatisfiable")
	ErrAmountOutOfRange        = errors.New("amount out of range")
	// ErrUnsupportedMint is an ErrNoRoute for mints no edge touches.
	ErrUnsupportedMint = fmt.Errorf("%w: unsupported mint", ErrNoRoute)
)

const (
	DefaultMaxHops       = 3
	DefaultMaxAccounts   = 64
	DefaultMaxExpansions = 50_000
)

// StateReader is the read side of the edge state store.
type StateReader interface {
	Get(id dex.EdgeID) (*state.Entry, bool)
}

// SlotSource reports the newest chain slot observed.
type SlotSource interface {
	NewestSlot() uint64
}

// Config holds the dependencies and policy of an Engine.
type Config struct {
	Graph              *graph.Graph
	Store              StateReader
	Slots              SlotSource
	Logger             *slog.Logger
	PrometheusRegistry prometheus.Registerer

	// MaxHops bounds route length when a request does not. Default 3.
	MaxHops int
	// FreshnessSlots is the oldest edge state, in slots behind the newest
	// observed slot, that may still be quoted. Zero disables the check.
	FreshnessSlots uint64
	// ReservedAccounts is subtracted from every account budget for the
	// accounts the surrounding transaction needs.
	ReservedAccounts int
	// DefaultMaxAccounts applies when a request leaves MaxAccounts at zero.
	DefaultMaxAccounts int
	// Overquote widens the search amount by this fraction. The chosen path is
	// then requoted at the real amount.
	Overquote decimal.Decimal
	// MaxExpansions caps the work of one search. Default 50000.
	MaxExpansions int
}

func (c *Config) validate() error {
	if c.Graph == nil {
		return errors.New("config: Graph is required")
	}
	if c.Store == nil {
		return errors.New("config: Store is required")
	}
	if c.Slots == nil {
		return errors.New("config: Slots is required")
	}
	if c.PrometheusRegistry == nil {
		return errors.New("config: PrometheusRegistry is required")
	}
	if c.MaxHops < 0 {
		return errors.New("config: MaxHops must not be negative")
	}
	if c.ReservedAccounts < 0 {
		return errors.New("config: ReservedAccounts must not be negative")
	}
	if c.Overquote.IsNegative() || c.Overquote.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("config: Overquote must be in [0, 1)")
	}
	return nil
}

// Constraints are the per-request routing limits.
type Constraints struct {
	MaxAccounts      int
	OnlyDirectRoutes bool
	SlippageBps      uint16
	// MaxHops overrides the engine default when positive.
	MaxHops int
}

// Engine is safe for concurrent use. A search never mutates shared state.
type Engine struct {
	graph   *graph.Graph
	store   StateReader
	slots   SlotSource
	logger  *slog.Logger
	metrics *Metrics

	maxHops            int
	freshnessSlots     uint64
	reservedAccounts   int
	defaultMaxAccounts int
	overquote          decimal.Decimal
	maxExpansions      int
}

// New creates a routing engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{
		graph:              cfg.Graph,
		store:              cfg.Store,
		slots:              cfg.Slots,
		logger:             logger,
		metrics:            NewMetrics(cfg.PrometheusRegistry),
		maxHops:            cfg.MaxHops,
		freshnessSlots:     cfg.FreshnessSlots,
		reservedAccounts:   cfg.ReservedAccounts,
		defaultMaxAccounts: cfg.DefaultMaxAccounts,
		overquote:          cfg.Overquote,
		maxExpansions:      cfg.MaxExpansions,
	}
	if e.maxHops == 0 {
		e.maxHops = DefaultMaxHops
	}
	if e.defaultMaxAccounts == 0 {
		e.defaultMaxAccounts = DefaultMaxAccounts
	}
	if e.maxExpansions == 0 {
		e.maxExpansions = DefaultMaxExpansions
	}
	return e, nil
}

// Graph returns the graph the engine searches.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// FindRoute returns the best route for amount of in into out.
func (e *Engine) FindRoute(ctx context.Context, in, out solana.PublicKey, amount uint64, c Constraints) (*Route, error) {
	mode := "multi"
	if c.OnlyDirectRoutes {
		mode = "direct"
	}
	start := time.Now()
	route, err := e.findRoute(ctx, in, out, amount, c)
	e.metrics.duration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	e.metrics.requestsTotal.WithLabelValues(mode, resultLabel(err)).Inc()

	if err != nil {
		e.logger.Debug("No route found",
			"input_mint", in, "output_mint", out, "amount", amount, "mode", mode, "error", err)
		return nil, err
	}
	return route, nil
}

func (e *Engine) findRoute(ctx context.Context, in, out solana.PublicKey, amount uint64, c Constraints) (*Route, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: zero input", ErrAmountOutOfRange)
	}
	if in == out {
		return nil, fmt.Errorf("%w: input and output mint are both %s", ErrNoRoute, in)
	}
	if !e.graph.HasMint(in) {
		return nil, fmt.Errorf("%w: input mint %s", ErrUnsupportedMint, in)
	}
	if !e.graph.HasMint(out) {
		return nil, fmt.Errorf("%w: output mint %s", ErrUnsupportedMint, out)
	}

	maxAccounts := c.MaxAccounts
	if maxAccounts <= 0 {
		maxAccounts = e.defaultMaxAccounts
	}
	budget := maxAccounts - e.reservedAccounts
	if budget <= 0 {
		return nil, fmt.Errorf("%w: %d accounts leave no room after %d reserved", ErrConstraintUnsatisfiable, maxAccounts, e.reservedAccounts)
	}

	maxHops := e.maxHops
	if c.MaxHops > 0 {
		maxHops = c.MaxHops
	}
	if c.OnlyDirectRoutes {
		maxHops = 1
	}

	searchAmount, err := e.overquoted(amount)
	if err != nil {
		return nil, err
	}

	s := e.newSearch(ctx, in, out, searchAmount, budget, maxHops)
	candidates, err := s.run()
	e.metrics.expansions.Observe(float64(s.expanded))
	if err != nil {
		return nil, err
	}

	for _, cand := range candidates {
		route, ok := s.finalize(cand, amount)
		if ok {
			route.SlippageBps = c.SlippageBps
			route.OtherAmountThreshold = ApplySlippage(route.OutAmount, c.SlippageBps)
			return route, nil
		}
	}

	switch {
	case s.firstHopOutOfRange > 0 && s.firstHopQuoted == 0:
		return nil, fmt.Errorf("%w: every venue rejected %d", ErrAmountOutOfRange, amount)
	case s.overBudget:
		// Check whether the budget alone was the obstacle.
		relaxed := e.newSearch(ctx, in, out, searchAmount, math.MaxInt, maxHops)
		relaxed.states = s.states
		more, err := relaxed.run()
		if err != nil {
			return nil, err
		}
		if len(more) > 0 {
			return nil, fmt.Errorf("%w: every path needs more than %d accounts", ErrConstraintUnsatisfiable, maxAccounts)
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s within %d hops", ErrNoRoute, in, out, maxHops)
}

func (e *Engine) overquoted(amount uint64) (uint64, error) {
	if e.overquote.IsZero() {
		return amount, nil
	}
	scaled := decimalFromUint64(amount).Mul(decimal.NewFromInt(1).Add(e.overquote)).Floor()
	if scaled.GreaterThan(decimalFromUint64(math.MaxUint64)) {
		return 0, fmt.Errorf("%w: %d overflows when overquoted", ErrAmountOutOfRange, amount)
	}
	return scaled.BigInt().Uint64(), nil
}

// finalize turns a candidate into a route priced at the real amount.
func (s *search) finalize(cand *node, amount uint64) (*Route, bool) {
	path := cand.path()
	hops := make([]Hop, 0, len(path))
	current := amount
	var slot uint64
	accounts := 0
	for _, n := range path {
		q := n.quote
		if current != n.quote.InAmount {
			var err error
			q, err = n.edge.Quote(n.entry.State, current)
			if err != nil {
				return nil, false
			}
		}
		hops = append(hops, Hop{Edge: n.edge, Quote: q, Slot: n.entry.Slot})
		current = q.OutAmount
		slot = max(slot, n.entry.Slot)
		accounts += n.edge.AccountsNeeded()
	}
	return &Route{
		ID:             uuid.New(),
		InputMint:      s.source,
		OutputMint:     s.dest,
		InAmount:       amount,
		OutAmount:      current,
		Hops:           hops,
		AccountsNeeded: accounts,
		Slot:           slot,
		ContextSlot:    s.newest,
		PriceImpact:    compoundImpact(hops),
		Feasible:       true,
	}, true
}

func decimalFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConstraintUnsatisfiable):
		return "constraint_unsatisfiable"
	case errors.Is(err, ErrAmountOutOfRange):
		return "amount_out_of_range"
	case errors.Is(err, ErrNoRoute):
		return "no_route"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
