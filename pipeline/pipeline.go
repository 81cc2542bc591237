// Package pipeline turns the stream of account writes into edge state
// replacements.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/registry"
	"github.com/Iwinswap/iwinswap-swap-router-go/state"
	"github.com/Iwinswap/iwinswap-swap-router-go/subscription"
)

// Config holds the dependencies of a Pipeline.
type Config struct {
	Edges              *registry.Registry
	Store              *state.Store
	Index              *subscription.Map
	Cache              *AccountCache
	Logger             *slog.Logger
	PrometheusRegistry prometheus.Registerer
	// Workers bounds how many edges of one update are decoded in parallel.
	// Values below 2 decode inline.
	Workers int
}

func (c *Config) validate() error {
	if c.Edges == nil {
		return errors.New("config: Edges is required")
	}
	if c.Store == nil {
		return errors.New("config: Store is required")
	}
	if c.Index == nil {
		return errors.New("config: Index is required")
	}
	if c.PrometheusRegistry == nil {
		return errors.New("config: PrometheusRegistry is required")
	}
	return nil
}

// Result summarizes what one update did.
type Result struct {
	// Stale is set when the update was older than the cached account.
	Stale       bool
	Unwatched   bool
	Edges       int
	Replaced    int
	Invalidated int
	// Dropped counts edges whose stored state was already newer.
	Dropped int
}

// Pipeline is the single consumer of account updates.
type Pipeline struct {
	edges   *registry.Registry
	store   *state.Store
	index   *subscription.Map
	cache   *AccountCache
	logger  *slog.Logger
	metrics *Metrics
	workers int

	newestSlot atomic.Uint64
	watchCh    chan struct{}
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewAccountCache()
	}
	p := &Pipeline{
		edges:   cfg.Edges,
		store:   cfg.Store,
		index:   cfg.Index,
		cache:   cache,
		logger:  logger,
		metrics: NewMetrics(cfg.PrometheusRegistry),
		workers: cfg.Workers,
		watchCh: make(chan struct{}, 1),
	}
	p.metrics.subscribedAccounts.Set(float64(p.index.Len()))
	return p, nil
}

// Cache exposes the account cache.
func (p *Pipeline) Cache() *AccountCache {
	return p.cache
}

// NewestSlot is the highest slot seen so far.
func (p *Pipeline) NewestSlot() uint64 {
	return p.newestSlot.Load()
}

// WatchSetChanged receives a value after the index gains accounts. Signals
// coalesce: one pending value stands for any number of additions.
func (p *Pipeline) WatchSetChanged() <-chan struct{} {
	return p.watchCh
}

func (p *Pipeline) notifyWatchSet() {
	select {
	case p.watchCh <- struct{}{}:
	default:
	}
}

// ObserveSlot records a slot notification.
func (p *Pipeline) ObserveSlot(slot uint64) {
	for {
		cur := p.newestSlot.Load()
		if slot <= cur {
			return
		}
		if p.newestSlot.CompareAndSwap(cur, slot) {
			p.metrics.newestSlot.Set(float64(slot))
			return
		}
	}
}

// Run consumes updates and slot notifications until ctx is done or the
// updates channel is closed.
func (p *Pipeline) Run(ctx context.Context, updates <-chan AccountUpdate, slots <-chan uint64) error {
	p.logger.Info("Update pipeline started", "edges", p.edges.Len(), "accounts", p.index.Len())
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				p.logger.Info("Update channel closed, stopping pipeline.")
				return nil
			}
			p.Apply(u)
		case slot, ok := <-slots:
			if !ok {
				slots = nil
				continue
			}
			p.ObserveSlot(slot)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Apply processes one account update synchronously.
func (p *Pipeline) Apply(u AccountUpdate) Result {
	start := time.Now()
	defer func() { p.metrics.updateDuration.Observe(time.Since(start).Seconds()) }()

	p.ObserveSlot(u.Slot)

	if !p.index.Watches(u.Key) {
		p.metrics.updatesTotal.WithLabelValues("unwatched").Inc()
		return Result{Unwatched: true}
	}
	if !p.cache.Put(u) {
		p.metrics.updatesTotal.WithLabelValues("stale").Inc()
		return Result{Stale: true}
	}
	p.metrics.updatesTotal.WithLabelValues("applied").Inc()

	return p.refresh(p.index.Lookup(u.Key), u.Slot)
}

// Bootstrap loads a full account snapshot and decodes every edge once.
// Every snapshot account is cached, watched or not, so accounts that edges
// only report as dependencies during this first decode are already present.
func (p *Pipeline) Bootstrap(snapshot []AccountUpdate) Result {
	for _, u := range snapshot {
		p.ObserveSlot(u.Slot)
		p.cache.Put(u)
	}
	res := p.RefreshAll()
	p.logger.Info("Bootstrap complete",
		"accounts", len(snapshot),
		"edges", res.Edges,
		"replaced", res.Replaced,
		"invalidated", res.Invalidated,
		"slot", p.NewestSlot(),
	)
	return res
}

// RefreshAll re-decodes every registered edge at the newest slot.
func (p *Pipeline) RefreshAll() Result {
	ids := make([]dex.EdgeID, 0, p.edges.Len())
	for e := range p.edges.All() {
		ids = append(ids, e.ID)
	}
	return p.refresh(ids, p.NewestSlot())
}

type outcome int

const (
	outcomeReplaced outcome = iota
	outcomeInvalidated
	outcomeDropped
	outcomeSkipped
)

func (p *Pipeline) refresh(ids []dex.EdgeID, slot uint64) Result {
	res := Result{Edges: len(ids)}
	var replaced, invalidated, dropped atomic.Int64

	tally := func(o outcome) {
		switch o {
		case outcomeReplaced:
			replaced.Add(1)
		case outcomeInvalidated:
			invalidated.Add(1)
		case outcomeDropped:
			dropped.Add(1)
		}
	}

	if p.workers < 2 || len(ids) < 2 {
		for _, id := range ids {
			tally(p.refreshEdge(id, slot))
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.workers)
		for _, id := range ids {
			g.Go(func() error {
				tally(p.refreshEdge(id, slot))
				return nil
			})
		}
		_ = g.Wait()
	}

	res.Replaced = int(replaced.Load())
	res.Invalidated = int(invalidated.Load())
	res.Dropped = int(dropped.Load())
	return res
}

func (p *Pipeline) refreshEdge(id dex.EdgeID, slot uint64) outcome {
	edge, ok := p.edges.Get(id)
	if !ok {
		p.logger.Warn("Index references an unregistered edge", "edge", id)
		return outcomeSkipped
	}
	protocol := edge.Protocol()

	if reporter, ok := edge.Adapter.(dex.DependentAccountsReporter); ok {
		for _, account := range reporter.DependentAccounts(edge.Ident, p.cache) {
			if p.index.Add(account, id) {
				p.metrics.subscribedAccounts.Inc()
				p.notifyWatchSet()
				p.logger.Debug("Edge now tracks a dependent account", "edge", id, "account", account)
			}
		}
	}

	// Accounts of one edge can arrive out of slot order with respect to each
	// other. The cache holds the newest write of each, so a decode is never
	// older than the state it replaces.
	if cur, ok := p.store.Load(id); ok && cur.Slot > slot {
		slot = cur.Slot
	}

	st, err := edge.Decode(p.cache)
	if err != nil {
		applied, serr := p.store.Invalidate(id, slot)
		if serr != nil {
			p.logger.Error("Failed to invalidate edge", "edge", id, "error", serr)
			return outcomeSkipped
		}
		if !applied {
			p.metrics.edgeRefreshesTotal.WithLabelValues(protocol, "stale").Inc()
			return outcomeDropped
		}
		p.metrics.edgeRefreshesTotal.WithLabelValues(protocol, "invalidated").Inc()
		p.logger.Debug("Edge state decode failed, edge marked absent", "edge", id, "protocol", protocol, "slot", slot, "error", err)
		return outcomeInvalidated
	}

	applied, err := p.store.Replace(id, st, slot)
	if err != nil {
		p.logger.Error("Failed to replace edge state", "edge", id, "error", err)
		return outcomeSkipped
	}
	if !applied {
		p.metrics.edgeRefreshesTotal.WithLabelValues(protocol, "stale").Inc()
		return outcomeDropped
	}
	p.metrics.edgeRefreshesTotal.WithLabelValues(protocol, "replaced").Inc()
	return outcomeReplaced
}
