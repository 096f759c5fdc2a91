package config

import (
	"log/slog"
	"sync"
)

// TenantConfig holds the per-tenant governance parameters a pipeline
// run consults: jury quorum rules, deadlines, escrow TTL, entropy
// thresholds, trust weights, and fail mode (spec §6's configuration
// surface).
type TenantConfig struct {
	TenantID string

	QuorumThreshold   float64
	UnanimousRequired bool
	JurorTimeoutMs    int
	RequestDeadlineMs int

	EscrowTTLSeconds int

	PayloadEntropyCleanMax     float64
	PayloadEntropySuspiciousMax float64
	VelocityMultiplier          float64

	TrustWeightAudit       float64
	TrustWeightReputation  float64
	TrustWeightAttestation float64
	TrustWeightHistory     float64

	// FailMode is "closed" (deny/hold on ambiguity, default) or "open"
	// (only ever set explicitly for non-production environments).
	FailMode string
}

// FromDefaults builds a TenantConfig from the static TenantDefaults,
// used to seed a tenant that has no stored override.
func FromDefaults(tenantID string, d TenantDefaults) *TenantConfig {
	return &TenantConfig{
		TenantID:                    tenantID,
		QuorumThreshold:             d.QuorumThreshold,
		UnanimousRequired:           d.UnanimousRequired,
		JurorTimeoutMs:              d.JurorTimeoutMs,
		RequestDeadlineMs:           d.RequestDeadlineMs,
		EscrowTTLSeconds:            d.EscrowTTLSeconds,
		PayloadEntropyCleanMax:      d.PayloadEntropyClean,
		PayloadEntropySuspiciousMax: d.PayloadEntropySuspect,
		VelocityMultiplier:          d.VelocityMultiplier,
		TrustWeightAudit:            d.TrustWeightAudit,
		TrustWeightReputation:       d.TrustWeightReputation,
		TrustWeightAttestation:      d.TrustWeightAttestation,
		TrustWeightHistory:          d.TrustWeightHistory,
		FailMode:                    d.FailMode,
	}
}

// Loader fetches and persists a tenant's stored governance config
// override. cmd/governord passes a nil Loader, so its tenants get the
// configured defaults; tests use an in-memory implementation.
type Loader interface {
	GetTenantConfig(tenantID string) (*TenantConfig, error)
	PutTenantConfig(tenantID string, cfg *TenantConfig) error
}

// Cache loads tenant configs on first use and caches them for the
// life of the process, same shape as the teacher's session-scoped
// governance config cache: existing in-flight requests keep the
// config they started with, new requests pick up an Invalidate.
type Cache struct {
	mu       sync.RWMutex
	configs  map[string]*TenantConfig
	loader   Loader
	defaults TenantDefaults
}

// NewCache creates a tenant config cache backed by loader, falling
// back to defaults when loader is nil or a tenant has no stored row.
func NewCache(loader Loader, defaults TenantDefaults) *Cache {
	return &Cache{
		configs:  make(map[string]*TenantConfig),
		loader:   loader,
		defaults: defaults,
	}
}

// GetConfig returns the tenant's cached config, loading (and, if
// absent, seeding) it on first access. Fail-closed: any loader error
// falls back to FromDefaults rather than blocking the request.
func (c *Cache) GetConfig(tenantID string) *TenantConfig {
	c.mu.RLock()
	if cfg, ok := c.configs[tenantID]; ok {
		c.mu.RUnlock()
		return cfg
	}
	c.mu.RUnlock()

	var cfg *TenantConfig
	if c.loader != nil {
		loaded, err := c.loader.GetTenantConfig(tenantID)
		if err != nil {
			slog.Warn("config: failed to load tenant governance config, using defaults",
				"tenant_id", tenantID, "error", err)
		}
		cfg = loaded
	}
	if cfg == nil {
		cfg = FromDefaults(tenantID, c.defaults)
		if c.loader != nil {
			if err := c.loader.PutTenantConfig(tenantID, cfg); err != nil {
				slog.Warn("config: failed to persist default tenant config",
					"tenant_id", tenantID, "error", err)
			}
		}
	}

	c.mu.Lock()
	c.configs[tenantID] = cfg
	c.mu.Unlock()
	return cfg
}

// Invalidate forces the next GetConfig call for tenantID to reload.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.configs, tenantID)
	c.mu.Unlock()
}
