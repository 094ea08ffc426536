package main

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/chainbill/invoicenode/pkg/rpc"
)

// MessageCache remembers the hashes of recently accepted signed requests so
// a captured request cannot be replayed inside the expiry window.
//
// Every entry lives for the same ttl, so insertion order is expiry order and
// Add can prune from the front of a queue instead of scanning the map.
type MessageCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	expires map[string]time.Time
	queue   []cachedHash
}

type cachedHash struct {
	hash      string
	expiresAt time.Time
}

func NewMessageCache(ttl time.Duration) *MessageCache {
	return &MessageCache{
		ttl:     ttl,
		expires: make(map[string]time.Time),
	}
}

// Add records hash until ttl from now. Re-adding a hash extends it.
func (mc *MessageCache) Add(hash string) {
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.pruneLocked(now)

	expiresAt := now.Add(mc.ttl)
	mc.expires[hash] = expiresAt
	mc.queue = append(mc.queue, cachedHash{hash: hash, expiresAt: expiresAt})
}

// Exists reports whether hash was added and has not expired.
func (mc *MessageCache) Exists(hash string) bool {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	expiresAt, ok := mc.expires[hash]
	return ok && !time.Now().After(expiresAt)
}

// Remove forgets hash so the same request may be submitted again.
func (mc *MessageCache) Remove(hash string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.expires, hash)
}

// Len returns the number of live hashes. Expired ones are counted until the
// next Add prunes them.
func (mc *MessageCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return len(mc.expires)
}

// pruneLocked drops expired entries from the front of the queue. A queue
// entry whose hash was removed or re-added since is skipped.
func (mc *MessageCache) pruneLocked(now time.Time) {
	n := 0
	for ; n < len(mc.queue); n++ {
		head := mc.queue[n]
		if !now.After(head.expiresAt) {
			break
		}
		if current, ok := mc.expires[head.hash]; ok && current.Equal(head.expiresAt) {
			delete(mc.expires, head.hash)
		}
	}
	if n == 0 {
		return
	}

	clear(mc.queue[:n])
	mc.queue = mc.queue[n:]
}

// HashMessage returns the hex Keccak256 hash of the signed request payload,
// or "" if it cannot be hashed.
func HashMessage(req *rpc.Request) string {
	if req == nil {
		return ""
	}

	hash, err := req.Req.Hash()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(hash)
}
