// Package escrow implements the escrow store: payloads whose verdict
// is HOLD are kept here until a release signal arrives or the item's
// TTL expires.
//
// Grounded on
// _examples/Generativebots-ocx-backend-go-svc/internal/escrow/gate.go
// (per-item signal bookkeeping, channel-based release) and
// internal/escrow/kill_switch.go (background TTL sweep loop),
// re-targeted onto spec §4.7's simpler two-signal HELD/RELEASED/
// REJECTED state machine — jury_approved && entropy_safe, no bypass.
package escrow

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/ocx/governance-core/internal/gov"
)

// Item is the persisted escrow record (spec §6 persistent state layout).
type Item struct {
	EscrowID   string
	RequestID  string
	TenantID   string
	AgentID    string
	Payload    []byte // sealed at rest when a Sealer is configured
	TargetHash string
	Status     gov.EscrowStatus
	CreatedAt  time.Time
}

// ErrConflict is returned when a release/reject races another terminal
// transition on the same escrow_id; exactly one of the concurrent
// callers wins (I3).
var ErrConflict = fmt.Errorf("escrow: conflicting terminal transition")

// ErrNotFound is returned by operations on an unknown escrow_id.
var ErrNotFound = fmt.Errorf("escrow: no such item")

// Store is the storage trait for escrow items (design note: SQL
// scattered across files becomes a storage trait with a relational and
// an in-memory implementation).
type Store interface {
	Put(ctx context.Context, item *Item) error
	UpdateStatus(ctx context.Context, escrowID string, status gov.EscrowStatus) error
	Get(ctx context.Context, escrowID string) (*Item, error)
}

// Sealer seals/opens escrow payloads at rest using
// golang.org/x/crypto/nacl/secretbox. A nil Sealer stores payloads in
// the clear (acceptable only when the backing Store itself encrypts
// at rest).
type Sealer struct {
	key [32]byte
}

func NewSealer(key [32]byte) *Sealer { return &Sealer{key: key} }

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return sealed, nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, bool) {
	if len(sealed) < 24 {
		return nil, false
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	return secretbox.Open(nil, sealed[24:], &nonce, &s.key)
}

type guardedItem struct {
	mu   sync.Mutex
	item *Item
}

// EscrowStore is the public surface: hold/release/reject/lookup, with
// per-escrow_id locking for linearizable terminal transitions and a
// background TTL sweep.
type EscrowStore struct {
	mu     sync.RWMutex
	items  map[string]*guardedItem
	store  Store
	sealer *Sealer
	ttl    time.Duration
	now    func() time.Time

	// OnTerminal is invoked (outside any lock) whenever an item
	// reaches RELEASED or REJECTED, so the coordinator/ledger can
	// append the corresponding ledger entry. May be nil.
	OnTerminal func(item *Item)
}

func NewEscrowStore(store Store, sealer *Sealer, ttl time.Duration) *EscrowStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EscrowStore{items: make(map[string]*guardedItem), store: store, sealer: sealer, ttl: ttl, now: time.Now}
}

// Hold creates a new HELD item and persists it.
func (e *EscrowStore) Hold(ctx context.Context, requestID, tenantID, agentID string, payload []byte, targetHash string) (string, error) {
	stored := payload
	if e.sealer != nil {
		sealed, err := e.sealer.Seal(payload)
		if err != nil {
			return "", err
		}
		stored = sealed
	}
	item := &Item{
		EscrowID: uuid.NewString(), RequestID: requestID, TenantID: tenantID, AgentID: agentID,
		Payload: stored, TargetHash: targetHash, Status: gov.EscrowHeld, CreatedAt: e.now(),
	}
	if err := e.store.Put(ctx, item); err != nil {
		return "", err
	}
	e.mu.Lock()
	e.items[item.EscrowID] = &guardedItem{item: item}
	e.mu.Unlock()
	return item.EscrowID, nil
}

func (e *EscrowStore) guard(escrowID string) (*guardedItem, bool) {
	e.mu.RLock()
	g, ok := e.items[escrowID]
	e.mu.RUnlock()
	return g, ok
}

// Release transitions a HELD item to RELEASED iff jury_approved &&
// entropy_safe, otherwise to REJECTED. State transitions are
// linearizable per escrow_id: the losing concurrent caller sees
// ErrConflict.
func (e *EscrowStore) Release(ctx context.Context, escrowID string, juryApproved, entropySafe bool) (success bool, payload []byte, err error) {
	g, ok := e.guard(escrowID)
	if !ok {
		return false, nil, ErrNotFound
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.item.Status != gov.EscrowHeld {
		return false, nil, ErrConflict
	}

	if juryApproved && entropySafe {
		g.item.Status = gov.EscrowReleased
		if err := e.store.UpdateStatus(ctx, escrowID, gov.EscrowReleased); err != nil {
			g.item.Status = gov.EscrowHeld
			return false, nil, err
		}
		plain := g.item.Payload
		if e.sealer != nil {
			opened, ok := e.sealer.Open(g.item.Payload)
			if !ok {
				return false, nil, fmt.Errorf("escrow: failed to open sealed payload")
			}
			plain = opened
		}
		if e.OnTerminal != nil {
			e.OnTerminal(g.item)
		}
		return true, plain, nil
	}

	g.item.Status = gov.EscrowRejected
	if err := e.store.UpdateStatus(ctx, escrowID, gov.EscrowRejected); err != nil {
		g.item.Status = gov.EscrowHeld
		return false, nil, err
	}
	// Payload is discarded from hot storage on rejection; the ledger
	// retains only its digest (target_hash).
	g.item.Payload = nil
	if e.OnTerminal != nil {
		e.OnTerminal(g.item)
	}
	return false, nil, nil
}

// Reject explicitly rejects a HELD item (used for TTL expiry and
// operator-triggered rejection).
func (e *EscrowStore) Reject(ctx context.Context, escrowID, reason string) error {
	g, ok := e.guard(escrowID)
	if !ok {
		return ErrNotFound
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.item.Status != gov.EscrowHeld {
		return ErrConflict
	}
	g.item.Status = gov.EscrowRejected
	if err := e.store.UpdateStatus(ctx, escrowID, gov.EscrowRejected); err != nil {
		g.item.Status = gov.EscrowHeld
		return err
	}
	g.item.Payload = nil
	if e.OnTerminal != nil {
		e.OnTerminal(g.item)
	}
	return nil
}

// Lookup returns a copy of the current item state.
func (e *EscrowStore) Lookup(escrowID string) (*Item, error) {
	g, ok := e.guard(escrowID)
	if !ok {
		return nil, ErrNotFound
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *g.item
	return &cp, nil
}

// SweepExpired rejects every HELD item older than ttl. Intended to run
// on a ticker from cmd/governord's background maintenance loop.
func (e *EscrowStore) SweepExpired(ctx context.Context) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.items))
	for id := range e.items {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	now := e.now()
	for _, id := range ids {
		g, ok := e.guard(id)
		if !ok {
			continue
		}
		g.mu.Lock()
		expired := g.item.Status == gov.EscrowHeld && now.Sub(g.item.CreatedAt) > e.ttl
		g.mu.Unlock()
		if expired {
			_ = e.Reject(ctx, id, "expired")
		}
	}
}

// RunSweeper starts a background ticker calling SweepExpired until ctx
// is cancelled.
func (e *EscrowStore) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.SweepExpired(ctx)
		}
	}
}
