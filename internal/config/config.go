// Package config loads the governance core's static configuration from
// YAML with environment-variable overrides, and caches per-tenant
// governance parameters loaded from the policy store.
//
// Grounded on
// _examples/Generativebots-ocx-backend-go-svc/internal/config/config.go
// (YAML decode + getEnv*/applyEnvOverrides/applyDefaults pattern) and
// internal/governance/tenant_config.go (TenantGovernanceConfig +
// GovernanceConfigCache, renamed here to match spec §6's configuration
// surface).
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Config is the process-wide static configuration: everything that
// does not vary per tenant.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Security SecurityConfig `yaml:"security"`
	Defaults TenantDefaults `yaml:"defaults"`
}

// ServerConfig controls the binary-RPC and HTTP listeners.
type ServerConfig struct {
	Port            string `yaml:"port"`
	FramedAddr      string `yaml:"framed_addr"`
	Env             string `yaml:"env"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig points at the policy/escrow/ledger Postgres stores.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig points at the entropy monitor's sliding-window store.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// SecurityConfig holds envelope verification and sealing keys.
type SecurityConfig struct {
	EnvelopePublicKeyPath string `yaml:"envelope_public_key_path"`
	EscrowSealSecret      string `yaml:"escrow_seal_secret"`
}

// TenantDefaults seeds TenantGovernanceConfig for tenants with no
// stored override, mirroring spec §6's configuration surface.
type TenantDefaults struct {
	QuorumThreshold        float64            `yaml:"quorum_threshold"`
	UnanimousRequired      bool               `yaml:"unanimous_required"`
	JurorTimeoutMs         int                `yaml:"juror_timeout_ms"`
	RequestDeadlineMs      int                `yaml:"request_deadline_ms"`
	EscrowTTLSeconds       int                `yaml:"escrow_ttl_seconds"`
	PayloadEntropyClean    float64            `yaml:"payload_entropy_clean_max"`
	PayloadEntropySuspect  float64            `yaml:"payload_entropy_suspicious_max"`
	VelocityMultiplier     float64            `yaml:"velocity_multiplier"`
	TrustWeightAudit       float64            `yaml:"trust_weight_audit"`
	TrustWeightReputation  float64            `yaml:"trust_weight_reputation"`
	TrustWeightAttestation float64            `yaml:"trust_weight_attestation"`
	TrustWeightHistory     float64            `yaml:"trust_weight_history"`
	FailMode               string             `yaml:"fail_mode"`
}

// LoadConfig reads and decodes a YAML config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("GOVERNANCE_PORT", c.Server.Port)
	c.Server.FramedAddr = getEnv("GOVERNANCE_FRAMED_ADDR", c.Server.FramedAddr)
	c.Server.Env = getEnv("GOVERNANCE_ENV", c.Server.Env)
	c.Database.DSN = getEnv("GOVERNANCE_DATABASE_DSN", c.Database.DSN)
	c.Redis.Addr = getEnv("GOVERNANCE_REDIS_ADDR", c.Redis.Addr)
	c.Security.EnvelopePublicKeyPath = getEnv("GOVERNANCE_ENVELOPE_PUBKEY_PATH", c.Security.EnvelopePublicKeyPath)
	c.Security.EscrowSealSecret = getEnv("GOVERNANCE_ESCROW_SEAL_SECRET", c.Security.EscrowSealSecret)

	if v := getEnvFloat("GOVERNANCE_QUORUM_THRESHOLD", 0); v > 0 {
		c.Defaults.QuorumThreshold = v
	}
	c.Defaults.UnanimousRequired = getEnvBool("GOVERNANCE_UNANIMOUS_REQUIRED", c.Defaults.UnanimousRequired)
	if v := getEnvInt("GOVERNANCE_JUROR_TIMEOUT_MS", 0); v > 0 {
		c.Defaults.JurorTimeoutMs = v
	}
	if v := getEnvInt("GOVERNANCE_REQUEST_DEADLINE_MS", 0); v > 0 {
		c.Defaults.RequestDeadlineMs = v
	}
	if v := getEnvInt("GOVERNANCE_ESCROW_TTL_SECONDS", 0); v > 0 {
		c.Defaults.EscrowTTLSeconds = v
	}
	if v := getEnvFloat("GOVERNANCE_VELOCITY_MULTIPLIER", 0); v > 0 {
		c.Defaults.VelocityMultiplier = v
	}
	c.Defaults.FailMode = getEnv("GOVERNANCE_FAIL_MODE", c.Defaults.FailMode)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8443"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.ShutdownSec == 0 {
		c.Server.ShutdownSec = 30
	}
	if c.Defaults.QuorumThreshold == 0 {
		c.Defaults.QuorumThreshold = 0.66
	}
	if c.Defaults.JurorTimeoutMs == 0 {
		c.Defaults.JurorTimeoutMs = 200
	}
	if c.Defaults.RequestDeadlineMs == 0 {
		c.Defaults.RequestDeadlineMs = 2000
	}
	if c.Defaults.EscrowTTLSeconds == 0 {
		c.Defaults.EscrowTTLSeconds = 86400
	}
	if c.Defaults.PayloadEntropyClean == 0 {
		c.Defaults.PayloadEntropyClean = 6.0
	}
	if c.Defaults.PayloadEntropySuspect == 0 {
		c.Defaults.PayloadEntropySuspect = 7.5
	}
	if c.Defaults.VelocityMultiplier == 0 {
		c.Defaults.VelocityMultiplier = 3.0
	}
	if c.Defaults.TrustWeightAudit == 0 {
		c.Defaults.TrustWeightAudit = 0.40
	}
	if c.Defaults.TrustWeightReputation == 0 {
		c.Defaults.TrustWeightReputation = 0.30
	}
	if c.Defaults.TrustWeightAttestation == 0 {
		c.Defaults.TrustWeightAttestation = 0.20
	}
	if c.Defaults.TrustWeightHistory == 0 {
		c.Defaults.TrustWeightHistory = 0.10
	}
	if c.Defaults.FailMode == "" {
		c.Defaults.FailMode = "closed"
	}
}

func (c *Config) IsProduction() bool { return c.Server.Env == "production" }

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

