package core_test

import (
	"errors"
	"testing"

	"stablecore/internal/core"
)

type stubDBChecker struct {
	keys map[string]bool
	err  error
	hits int
}

func (s *stubDBChecker) IsDuplicate(eventType, key string) (bool, error) {
	s.hits++
	if s.err != nil {
		return false, s.err
	}
	return s.keys[eventType+":"+key], nil
}

func TestIdempotencyHotPathSkipsDB(t *testing.T) {
	db := &stubDBChecker{keys: map[string]bool{}}
	ic := core.NewIdempotencyChecker(4, db)

	if ic.IsDuplicate("trove.open", "k1") {
		t.Fatal("fresh key must not be a duplicate")
	}
	ic.MarkProcessed("trove.open", "k1")

	if !ic.IsDuplicate("trove.open", "k1") {
		t.Fatal("marked key must be a duplicate")
	}
	if db.hits != 1 {
		t.Errorf("expected 1 cold lookup, got %d", db.hits)
	}

	lruHits, _ := ic.GetMetrics().GetDuplicates("trove.open")
	if lruHits != 1 {
		t.Errorf("expected 1 cache hit recorded, got %d", lruHits)
	}
}

func TestIdempotencyColdHitIsCached(t *testing.T) {
	db := &stubDBChecker{keys: map[string]bool{"stability.provide:k9": true}}
	ic := core.NewIdempotencyChecker(4, db)

	if !ic.IsDuplicate("stability.provide", "k9") {
		t.Fatal("key present in the event log must be a duplicate")
	}
	if !ic.IsDuplicate("stability.provide", "k9") {
		t.Fatal("cached cold hit must stay a duplicate")
	}
	if db.hits != 1 {
		t.Errorf("second lookup must come from the cache, got %d db hits", db.hits)
	}
}

func TestIdempotencyDBErrorFailsOpen(t *testing.T) {
	db := &stubDBChecker{err: errors.New("connection reset")}
	ic := core.NewIdempotencyChecker(4, db)

	if ic.IsDuplicate("redeem", "k2") {
		t.Fatal("a lookup error must not flag the key as a duplicate")
	}
	if ic.GetMetrics().GetTier2Errors() != 1 {
		t.Error("expected the lookup error to be recorded")
	}
}

func TestIdempotencyLRUEviction(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Add("c")

	if lru.Contains("a") {
		t.Error("oldest key must be evicted at capacity")
	}
	if !lru.Contains("b") || !lru.Contains("c") {
		t.Error("recent keys must survive eviction")
	}
	if lru.Evictions() != 1 {
		t.Errorf("evictions = %d, want 1", lru.Evictions())
	}
}
