package policy

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/ocx/governance-core/internal/gov"
	"github.com/ocx/governance-core/internal/jsonlogic"
)

// PostgresStore persists policies in the table described in
// SPEC_FULL.md / spec.md §6: (tenant_id, policy_id, version,
// content_hash, tier, trigger_intent, logic_blob, action_blob,
// roles[], expires_at, active, created_at, created_by).
//
// Grounded on the teacher's internal/database query style (plain
// database/sql + lib/pq, no ORM).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS policies (
	tenant_id      TEXT NOT NULL,
	policy_id      TEXT NOT NULL,
	version        INTEGER NOT NULL,
	content_hash   TEXT NOT NULL,
	tier           TEXT NOT NULL,
	trigger_intent TEXT NOT NULL,
	logic_blob     JSONB NOT NULL,
	action_blob    JSONB NOT NULL,
	roles          TEXT[] NOT NULL DEFAULT '{}',
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	expires_at     TIMESTAMPTZ,
	active         BOOLEAN NOT NULL DEFAULT true,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_by     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (tenant_id, policy_id, version)
);
CREATE INDEX IF NOT EXISTS policies_active_idx ON policies (tenant_id, active, trigger_intent);
`

// EnsureSchema creates the policies table if absent. Migrations beyond
// this are out of scope of the core per spec §9.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaDDL)
	return err
}

type actionBlob struct {
	OnFail          string   `json:"on_fail"`
	OnPass          string   `json:"on_pass"`
	RequiredSignals []string `json:"required_signals"`
}

func (s *PostgresStore) Put(ctx context.Context, p *Policy) error {
	logicJSON, err := json.Marshal(p.Logic.ToInterface())
	if err != nil {
		return err
	}
	signals := make([]string, len(p.Action.RequiredSignals))
	for i, sg := range p.Action.RequiredSignals {
		signals[i] = string(sg)
	}
	actionJSON, err := json.Marshal(actionBlob{
		OnFail: string(p.Action.OnFail), OnPass: string(p.Action.OnPass), RequiredSignals: signals,
	})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies
			(tenant_id, policy_id, version, content_hash, tier, trigger_intent,
			 logic_blob, action_blob, roles, confidence, expires_at, active, created_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.TenantID, p.PolicyID, p.Version, p.ContentHash, p.Tier.String(), p.TriggerIntent,
		logicJSON, actionJSON, pq.Array(p.Roles), p.Confidence, p.ExpiresAt, p.Active, p.CreatedAt, p.CreatedBy)
	return err
}

func (s *PostgresStore) Deactivate(ctx context.Context, tenantID, policyID string, version int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE policies SET active = false WHERE tenant_id=$1 AND policy_id=$2 AND version=$3`,
		tenantID, policyID, version)
	return err
}

func (s *PostgresStore) Versions(ctx context.Context, tenantID, policyID string) ([]*Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, content_hash, tier, trigger_intent, logic_blob, action_blob,
		       roles, confidence, expires_at, active, created_at, created_by
		FROM policies WHERE tenant_id=$1 AND policy_id=$2 ORDER BY version ASC`,
		tenantID, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows, tenantID, policyID)
}

func (s *PostgresStore) ActiveVersion(ctx context.Context, tenantID, policyID string) (*Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, content_hash, tier, trigger_intent, logic_blob, action_blob,
		       roles, confidence, expires_at, active, created_at, created_by
		FROM policies WHERE tenant_id=$1 AND policy_id=$2 AND active=true LIMIT 1`,
		tenantID, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanPolicies(rows, tenantID, policyID)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (s *PostgresStore) AllActive(ctx context.Context, tenantID string) ([]*Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_id, version, content_hash, tier, trigger_intent, logic_blob, action_blob,
		       roles, confidence, expires_at, active, created_at, created_by
		FROM policies WHERE tenant_id=$1 AND active=true`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Policy
	for rows.Next() {
		p := &Policy{TenantID: tenantID}
		var tier, logicJSON, actionJSON string
		var roles pq.StringArray
		var expiresAt sql.NullTime
		if err := rows.Scan(&p.PolicyID, &p.Version, &p.ContentHash, &tier, &p.TriggerIntent,
			&logicJSON, &actionJSON, &roles, &p.Confidence, &expiresAt, &p.Active, &p.CreatedAt, &p.CreatedBy); err != nil {
			return nil, err
		}
		if err := hydrate(p, tier, logicJSON, actionJSON, roles, expiresAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPolicies(rows *sql.Rows, tenantID, policyID string) ([]*Policy, error) {
	var out []*Policy
	for rows.Next() {
		p := &Policy{TenantID: tenantID, PolicyID: policyID}
		var tier, logicJSON, actionJSON string
		var roles pq.StringArray
		var expiresAt sql.NullTime
		if err := rows.Scan(&p.Version, &p.ContentHash, &tier, &p.TriggerIntent,
			&logicJSON, &actionJSON, &roles, &p.Confidence, &expiresAt, &p.Active, &p.CreatedAt, &p.CreatedBy); err != nil {
			return nil, err
		}
		if err := hydrate(p, tier, logicJSON, actionJSON, roles, expiresAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func hydrate(p *Policy, tier, logicJSON, actionJSON string, roles pq.StringArray, expiresAt sql.NullTime) error {
	t, ok := gov.ParseTier(tier)
	if !ok {
		return gov.NewErr(gov.ReasonBackendUnavailable, "unknown policy tier in store: "+tier)
	}
	p.Tier = t
	p.Roles = []string(roles)
	if expiresAt.Valid {
		v := expiresAt.Time
		p.ExpiresAt = &v
	}

	var rawLogic interface{}
	if err := json.Unmarshal([]byte(logicJSON), &rawLogic); err != nil {
		return err
	}
	logicVal, err := jsonlogic.FromInterface(rawLogic)
	if err != nil {
		return err
	}
	p.Logic = logicVal

	var ab actionBlob
	if err := json.Unmarshal([]byte(actionJSON), &ab); err != nil {
		return err
	}
	p.Action.OnFail = gov.VerdictClass(ab.OnFail)
	p.Action.OnPass = gov.VerdictClass(ab.OnPass)
	p.Action.RequiredSignals = make([]gov.SignalType, len(ab.RequiredSignals))
	for i, s := range ab.RequiredSignals {
		p.Action.RequiredSignals[i] = gov.SignalType(s)
	}
	return nil
}
