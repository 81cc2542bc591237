// Package subscription maps watched accounts to the edges whose state they
// drive.
package subscription

import (
	"slices"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gagliardetto/solana-go"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
)

const shardCount = 32

type shard struct {
	mu        sync.RWMutex
	byAccount map[solana.PublicKey]mapset.Set[dex.EdgeID]
}

// Map is an account to edge-set index. Entries can be added at runtime; they
// are never removed.
type Map struct {
	shards [shardCount]*shard
}

// NewMap creates an empty index.
func NewMap() *Map {
	m := &Map{}
	for i := range m.shards {
		m.shards[i] = &shard{byAccount: make(map[solana.PublicKey]mapset.Set[dex.EdgeID])}
	}
	return m
}

func (m *Map) shardFor(account solana.PublicKey) *shard {
	return m.shards[account[0]%shardCount]
}

// Add links account to id. It reports whether the link is new.
func (m *Map) Add(account solana.PublicKey, id dex.EdgeID) bool {
	sh := m.shardFor(account)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set, ok := sh.byAccount[account]
	if !ok {
		set = mapset.NewThreadUnsafeSet[dex.EdgeID]()
		sh.byAccount[account] = set
	}
	return set.Add(id)
}

// Merge adds every link of an adapter's fragment.
func (m *Map) Merge(fragment dex.SubscriptionFragment) {
	for account, idents := range fragment {
		for _, ident := range idents {
			m.Add(account, dex.ID(ident))
		}
	}
}

// Lookup returns the edges affected by an update to account, sorted for
// deterministic processing.
func (m *Map) Lookup(account solana.PublicKey) []dex.EdgeID {
	sh := m.shardFor(account)
	sh.mu.RLock()
	set, ok := sh.byAccount[account]
	var ids []dex.EdgeID
	if ok {
		ids = set.ToSlice()
	}
	sh.mu.RUnlock()

	slices.SortFunc(ids, dex.EdgeID.Compare)
	return ids
}

// Watches reports whether account is indexed.
func (m *Map) Watches(account solana.PublicKey) bool {
	sh := m.shardFor(account)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.byAccount[account]
	return ok
}

// Accounts returns every indexed account.
func (m *Map) Accounts() []solana.PublicKey {
	var out []solana.PublicKey
	for _, sh := range m.shards {
		sh.mu.RLock()
		for account := range sh.byAccount {
			out = append(out, account)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the number of indexed accounts.
func (m *Map) Len() int {
	n := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		n += len(sh.byAccount)
		sh.mu.RUnlock()
	}
	return n
}
