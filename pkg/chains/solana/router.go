// Package solana assembles a router for Solana venues from configuration.
package solana

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/engine"
	"github.com/Iwinswap/iwinswap-swap-router-go/protocols/constantproduct"
	"github.com/Iwinswap/iwinswap-swap-router-go/protocols/fixedrate"
)

// VenueConfig selects a venue family and carries its settings, which are
// decoded by the family's factory.
type VenueConfig struct {
	Protocol string    `yaml:"protocol"`
	Config   yaml.Node `yaml:"config"`
}

// AdapterFactory builds an adapter from its raw configuration.
type AdapterFactory func(node *yaml.Node) (dex.Adapter, error)

var adapterFactories = map[string]AdapterFactory{
	constantproduct.Name: func(node *yaml.Node) (dex.Adapter, error) {
		var cfg constantproduct.Config
		if err := node.Decode(&cfg); err != nil {
			return nil, err
		}
		return constantproduct.New(cfg)
	},
	fixedrate.Name: func(node *yaml.Node) (dex.Adapter, error) {
		var cfg fixedrate.Config
		if err := node.Decode(&cfg); err != nil {
			return nil, err
		}
		return fixedrate.New(cfg)
	},
}

// Protocols lists the venue families that can be configured.
func Protocols() []string {
	names := make([]string, 0, len(adapterFactories))
	for name := range adapterFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewAdapters builds one adapter per venue entry.
func NewAdapters(venues []VenueConfig) ([]dex.Adapter, error) {
	if len(venues) == 0 {
		return nil, errors.New("no venues configured")
	}
	adapters := make([]dex.Adapter, 0, len(venues))
	for i := range venues {
		v := &venues[i]
		factory, ok := adapterFactories[v.Protocol]
		if !ok {
			return nil, fmt.Errorf("venue %d: unknown protocol %q (known: %v)", i, v.Protocol, Protocols())
		}
		adapter, err := factory(&v.Config)
		if err != nil {
			return nil, fmt.Errorf("venue %d (%s): %w", i, v.Protocol, err)
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

// NewRouter builds the configured adapters and a router over them. Any
// adapters already set on cfg are kept.
func NewRouter(ctx context.Context, venues []VenueConfig, cfg engine.Config) (*engine.Router, error) {
	adapters, err := NewAdapters(venues)
	if err != nil {
		return nil, err
	}
	cfg.Adapters = append(cfg.Adapters, adapters...)
	return engine.New(ctx, cfg)
}
