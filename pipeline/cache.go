package pipeline

import (
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
)

const cacheShards = 32

// AccountUpdate is a single account write observed on chain.
type AccountUpdate struct {
	Key      solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
	Slot     uint64
}

type cacheShard struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]*dex.Account
}

// AccountCache keeps the newest copy of every watched account. Adapters read
// it through dex.AccountProvider while decoding.
type AccountCache struct {
	shards [cacheShards]*cacheShard
}

// NewAccountCache creates an empty cache.
func NewAccountCache() *AccountCache {
	c := &AccountCache{}
	for i := range c.shards {
		c.shards[i] = &cacheShard{accounts: make(map[solana.PublicKey]*dex.Account)}
	}
	return c
}

func (c *AccountCache) shard(key solana.PublicKey) *cacheShard {
	return c.shards[key[0]%cacheShards]
}

// Put stores u unless the cache already holds a newer write of the same
// account. Equal slots overwrite.
func (c *AccountCache) Put(u AccountUpdate) bool {
	sh := c.shard(u.Key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if cur, ok := sh.accounts[u.Key]; ok && u.Slot < cur.Slot {
		return false
	}
	sh.accounts[u.Key] = &dex.Account{
		Key:      u.Key,
		Owner:    u.Owner,
		Lamports: u.Lamports,
		Data:     u.Data,
		Slot:     u.Slot,
	}
	return true
}

// Account implements dex.AccountProvider. The returned value must not be
// mutated.
func (c *AccountCache) Account(key solana.PublicKey) (*dex.Account, error) {
	sh := c.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	acc, ok := sh.accounts[key]
	if !ok {
		return nil, dex.ErrAccountNotFound
	}
	return acc, nil
}

// Len returns the number of cached accounts.
func (c *AccountCache) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		n += len(sh.accounts)
		sh.mu.RUnlock()
	}
	return n
}
