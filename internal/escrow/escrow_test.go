package escrow

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestReleaseRequiresBothSignals checks that escrow release MANDATES
// both jury_approved and entropy_safe: a release with entropy_safe
// false fails, returns no payload and leaves the item REJECTED.
func TestReleaseRequiresBothSignals(t *testing.T) {
	ctx := context.Background()
	es := NewEscrowStore(NewMemoryStore(), nil, time.Hour)
	id, err := es.Hold(ctx, "r1", "t1", "a1", []byte("payload"), "hash")
	if err != nil {
		t.Fatal(err)
	}

	ok, payload, err := es.Release(ctx, id, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected release to fail when entropy_safe is false")
	}
	if payload != nil {
		t.Fatal("expected no payload on failed release")
	}
	item, _ := es.Lookup(id)
	if item.Status != "REJECTED" {
		t.Fatalf("expected REJECTED after failed release, got %s", item.Status)
	}
}

func TestReleaseSucceedsWithBothSignals(t *testing.T) {
	ctx := context.Background()
	es := NewEscrowStore(NewMemoryStore(), nil, time.Hour)
	id, _ := es.Hold(ctx, "r1", "t1", "a1", []byte("payload"), "hash")

	ok, payload, err := es.Release(ctx, id, true, true)
	if err != nil || !ok {
		t.Fatalf("expected release success, got ok=%v err=%v", ok, err)
	}
	if string(payload) != "payload" {
		t.Fatalf("expected original payload returned, got %s", payload)
	}
}

// TestEscrowSafetyUnderConcurrency checks P4 for racing releases: of
// ten concurrent Release calls on one item, exactly one succeeds.
func TestEscrowSafetyUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	es := NewEscrowStore(NewMemoryStore(), nil, time.Hour)
	id, _ := es.Hold(ctx, "r1", "t1", "a1", []byte("payload"), "hash")

	var wg sync.WaitGroup
	successes := 0
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := es.Release(ctx, id, true, true)
			if err == nil && ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one winning release, got %d", successes)
	}
}

func TestSealedPayloadRoundTrips(t *testing.T) {
	ctx := context.Background()
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	sealer := NewSealer(key)
	es := NewEscrowStore(NewMemoryStore(), sealer, time.Hour)
	id, _ := es.Hold(ctx, "r1", "t1", "a1", []byte("secret payload"), "hash")

	_, payload, err := es.Release(ctx, id, true, true)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "secret payload" {
		t.Fatalf("expected sealed payload to round-trip, got %q", payload)
	}
}

func TestSweepExpiredAutoRejects(t *testing.T) {
	ctx := context.Background()
	es := NewEscrowStore(NewMemoryStore(), nil, 10*time.Millisecond)
	id, _ := es.Hold(ctx, "r1", "t1", "a1", []byte("p"), "hash")
	time.Sleep(30 * time.Millisecond)
	es.SweepExpired(ctx)
	item, _ := es.Lookup(id)
	if item.Status != "REJECTED" {
		t.Fatalf("expected TTL sweep to auto-reject, got %s", item.Status)
	}
}

func TestLookupUnknownEscrow(t *testing.T) {
	es := NewEscrowStore(NewMemoryStore(), nil, time.Hour)
	if _, err := es.Lookup("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
