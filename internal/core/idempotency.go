package core

import (
	"container/list"
	"fmt"
)

// Tier names reported for duplicate hits.
const (
	TierLRU      = "lru"
	TierPostgres = "postgres"
)

// DBIdempotencyChecker is the cold-path dedup lookup, backed by the
// event log in Postgres.
type DBIdempotencyChecker interface {
	IsDuplicate(actionType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU
// in front of a Postgres lookup. A DB error is treated as not-duplicate so
// a database hiccup cannot stall the core; the event log's ON CONFLICT
// insert still swallows the rare double-write.
type IdempotencyChecker struct {
	lru       *idempotencyLRU
	dbChecker DBIdempotencyChecker
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate checks whether the action has been processed. The returned
// tier is empty when the action is new.
func (ic *IdempotencyChecker) IsDuplicate(actionType, idempotencyKey string) (bool, string) {
	compositeKey := fmt.Sprintf("%s:%s", actionType, idempotencyKey)

	if ic.lru.Contains(compositeKey) {
		return true, TierLRU
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(actionType, idempotencyKey)
		if err != nil {
			return false, ""
		}
		if isDup {
			// Cache so the next duplicate stays off the DB
			ic.lru.Add(compositeKey)
			return true, TierPostgres
		}
	}

	return false, ""
}

// MarkProcessed adds the key to the LRU after successful processing.
func (ic *IdempotencyChecker) MarkProcessed(actionType, idempotencyKey string) {
	ic.lru.Add(fmt.Sprintf("%s:%s", actionType, idempotencyKey))
}

// WarmFromKeys loads composite keys into the LRU, used on restart to avoid
// cold-path DB lookups for recently processed actions.
func (ic *IdempotencyChecker) WarmFromKeys(keys []string) {
	ic.lru.WarmFromKeys(keys)
}

// Keys returns every cached composite key, newest first.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

// Size returns the number of cached keys.
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Size()
}

// --- LRU implementation ---

// idempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe: only accessed from the single-threaded core.
type idempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type lruEntry struct {
	key string
}

func newIdempotencyLRU(capacity int) *idempotencyLRU {
	return &idempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Contains checks membership and promotes hits to the front.
func (lru *idempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key, or promotes it when already present.
func (lru *idempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *idempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
	}
}

// WarmFromKeys loads a batch of composite keys.
func (lru *idempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys returns all cached keys, most recently used first.
func (lru *idempotencyLRU) Keys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for elem := lru.lruList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns the current number of entries.
func (lru *idempotencyLRU) Size() int {
	return lru.lruList.Len()
}
