package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ocx/governance-core/internal/gov"
)

// MemoryStore is the in-memory Store implementation for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byTenant map[string][]*Entry // append-ordered
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTenant: make(map[string][]*Entry)}
}

func (m *MemoryStore) LastHash(_ context.Context, tenantID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.byTenant[tenantID]
	if len(entries) == 0 {
		return "", false, nil
	}
	return entries[len(entries)-1].BlockHash, true, nil
}

func (m *MemoryStore) FindByRequestID(_ context.Context, tenantID, requestID string, verdict gov.VerdictClass) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.byTenant[tenantID] {
		if e.RequestID == requestID && e.VerdictClass == verdict {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.byTenant[e.TenantID] = append(m.byTenant[e.TenantID], &cp)
	return nil
}

func (m *MemoryStore) Stream(_ context.Context, tenantID string, since time.Time) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Entry
	for _, e := range m.byTenant[tenantID] {
		if e.RecordedAt.After(since) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

func (m *MemoryStore) Lookup(_ context.Context, requestID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entries := range m.byTenant {
		for _, e := range entries {
			if e.RequestID == requestID {
				cp := *e
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (m *MemoryStore) All(_ context.Context, tenantID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, len(m.byTenant[tenantID]))
	for i, e := range m.byTenant[tenantID] {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// Tamper mutates a non-hash field of the nth entry (0-indexed, append
// order) for a tenant, for use in tests that reproduce spec scenario 6
// (tamper detection).
func (m *MemoryStore) Tamper(tenantID string, index int, mutate func(*Entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.byTenant[tenantID]
	if index < 0 || index >= len(entries) {
		return
	}
	mutate(entries[index])
}
