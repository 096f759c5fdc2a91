// Package signals implements the required-signal collector: external
// attestations (signatures, approvals, freshness proofs) attached to a
// request_id and checked against a policy's required_signals set.
//
// Direct port of original_source/trust-registry/required_signals.py
// (Signal, SignalCollector.add_signal/verify_signals), generalized
// with an orphan staging area for signals that arrive before the
// request they belong to (spec §6 "Signal submission").
package signals

import (
	"sync"
	"time"

	"github.com/ocx/governance-core/internal/gov"
)

// Signal is a single attestation attached to a request_id.
type Signal struct {
	Type       gov.SignalType
	RequestID  string
	TenantID   string
	Value      interface{}
	ExpiresAt  time.Time
	AttestedAt time.Time
}

func (s Signal) isExpired(now time.Time) bool { return !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now) }

// Collector accumulates signals per request_id. Signals are
// tenant-scoped and request-scoped: a signal attached to request A is
// never usable for request B.
type Collector struct {
	mu           sync.Mutex
	byRequest    map[string][]Signal // request_id -> signals
	orphans      map[string][]Signal // request_id -> signals arrived before request existed
	orphanTTL    time.Duration
	now          func() time.Time
}

func NewCollector(orphanTTL time.Duration) *Collector {
	if orphanTTL <= 0 {
		orphanTTL = 5 * time.Minute
	}
	return &Collector{
		byRequest: make(map[string][]Signal),
		orphans:   make(map[string][]Signal),
		orphanTTL: orphanTTL,
		now:       time.Now,
	}
}

// Add attaches a signal to request_id. If the request is not yet known
// to the collector (RegisterRequest was never called), the signal is
// staged as an orphan until the request arrives or the signal expires.
// A signal without ExpiresAt is given one orphan_ttl from now, orphan
// or not; an explicit ExpiresAt is kept as given, so an orphan can
// stay staged longer than orphan_ttl.
func (c *Collector) Add(s Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = c.now().Add(c.orphanTTL)
	}
	if s.AttestedAt.IsZero() {
		s.AttestedAt = c.now()
	}
	if _, known := c.byRequest[s.RequestID]; known {
		c.byRequest[s.RequestID] = append(c.byRequest[s.RequestID], s)
		return
	}
	c.orphans[s.RequestID] = append(c.orphans[s.RequestID], s)
}

// RegisterRequest marks a request_id as known, promoting any orphaned
// signals already staged for it.
func (c *Collector) RegisterRequest(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byRequest[requestID]; !exists {
		c.byRequest[requestID] = nil
	}
	if orphaned, ok := c.orphans[requestID]; ok {
		c.byRequest[requestID] = append(c.byRequest[requestID], orphaned...)
		delete(c.orphans, requestID)
	}
}

// Verify returns ok=true iff for every required signal type there
// exists an attached, unexpired Signal of that type for request_id.
func (c *Collector) Verify(requestID string, required []gov.SignalType) (ok bool, missing []gov.SignalType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	present := make(map[gov.SignalType]bool)
	for _, s := range c.byRequest[requestID] {
		if !s.isExpired(now) {
			present[s.Type] = true
		}
	}
	for _, t := range required {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return len(missing) == 0, missing
}

// MostRecent returns the most recently attested, unexpired signal
// attached to request_id, for the trust-score attestation component
// (spec §4.4's attestation_score freshness buckets). ok is false if no
// unexpired signal is attached.
func (c *Collector) MostRecent(requestID string) (attestedAt time.Time, expiresAt time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var best Signal
	found := false
	for _, s := range c.byRequest[requestID] {
		if s.isExpired(now) {
			continue
		}
		if !found || s.AttestedAt.After(best.AttestedAt) {
			best = s
			found = true
		}
	}
	if !found {
		return time.Time{}, time.Time{}, false
	}
	return best.AttestedAt, best.ExpiresAt, true
}

// Sweep removes expired signals from both registered requests and the
// orphan stage. Not required for correctness (Verify already excludes
// expired signals) but bounds memory growth. Nothing in this
// repository calls Sweep on a schedule.
func (c *Collector) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for rid, list := range c.byRequest {
		kept := list[:0]
		for _, s := range list {
			if !s.isExpired(now) {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(c.byRequest, rid)
		} else {
			c.byRequest[rid] = kept
		}
	}
	for rid, list := range c.orphans {
		kept := list[:0]
		for _, s := range list {
			if !s.isExpired(now) {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(c.orphans, rid)
		} else {
			c.orphans[rid] = kept
		}
	}
}
