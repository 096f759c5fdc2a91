package config

import (
	"math"
	"testing"
)

type stubLoader struct {
	stored map[string]*TenantConfig
}

func (s *stubLoader) GetTenantConfig(tenantID string) (*TenantConfig, error) {
	return s.stored[tenantID], nil
}

func (s *stubLoader) PutTenantConfig(tenantID string, cfg *TenantConfig) error {
	if s.stored == nil {
		s.stored = make(map[string]*TenantConfig)
	}
	s.stored[tenantID] = cfg
	return nil
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	if cfg.Defaults.QuorumThreshold != 0.66 {
		t.Fatalf("expected default quorum threshold 0.66, got %v", cfg.Defaults.QuorumThreshold)
	}
	if cfg.Defaults.FailMode != "closed" {
		t.Fatalf("expected fail-closed default, got %q", cfg.Defaults.FailMode)
	}
	if math.Abs(cfg.Defaults.TrustWeightAudit+cfg.Defaults.TrustWeightReputation+
		cfg.Defaults.TrustWeightAttestation+cfg.Defaults.TrustWeightHistory-1.0) > 1e-9 {
		t.Fatalf("expected trust weights to sum to 1.0")
	}
}

func TestCacheSeedsDefaultsOnFirstAccess(t *testing.T) {
	loader := &stubLoader{}
	c := NewCache(loader, TenantDefaults{QuorumThreshold: 0.66, FailMode: "closed"})
	cfg := c.GetConfig("tenant-a")
	if cfg.TenantID != "tenant-a" {
		t.Fatalf("expected tenant id set, got %q", cfg.TenantID)
	}
	if _, ok := loader.stored["tenant-a"]; !ok {
		t.Fatal("expected default config persisted via loader")
	}
}

func TestCacheReturnsSameInstanceUntilInvalidated(t *testing.T) {
	c := NewCache(nil, TenantDefaults{QuorumThreshold: 0.66})
	first := c.GetConfig("tenant-a")
	second := c.GetConfig("tenant-a")
	if first != second {
		t.Fatal("expected cached config to be the same instance across calls")
	}
	c.Invalidate("tenant-a")
	third := c.GetConfig("tenant-a")
	if third == first {
		t.Fatal("expected a new instance after invalidation")
	}
}
