package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/ocx/governance-core/internal/gov"
)

// PostgresStore persists ledger entries in the table described by
// spec §6: (tenant_id, entry_id, request_id, agent_id, verdict_class,
// payload_digest, previous_hash, block_hash, recorded_at), with a
// secondary index on (tenant_id, recorded_at) and on request_id.
//
// Grounded on the teacher's plain database/sql + lib/pq query style
// (internal/database), not an ORM.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const ledgerSchemaDDL = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	entry_id       TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	agent_id       TEXT NOT NULL,
	request_id     TEXT NOT NULL,
	verdict_class  TEXT NOT NULL,
	payload_digest TEXT NOT NULL,
	previous_hash  TEXT NOT NULL,
	block_hash     TEXT NOT NULL,
	trust_delta    DOUBLE PRECISION NOT NULL DEFAULT 0,
	recorded_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_tenant_time_idx ON ledger_entries (tenant_id, recorded_at);
CREATE INDEX IF NOT EXISTS ledger_request_idx ON ledger_entries (request_id);
`

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, ledgerSchemaDDL)
	return err
}

func (s *PostgresStore) LastHash(ctx context.Context, tenantID string) (string, bool, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT block_hash FROM ledger_entries
		WHERE tenant_id=$1 ORDER BY recorded_at DESC, entry_id DESC LIMIT 1`, tenantID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

func (s *PostgresStore) FindByRequestID(ctx context.Context, tenantID, requestID string, verdict gov.VerdictClass) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, tenant_id, agent_id, request_id, verdict_class, payload_digest,
		       previous_hash, block_hash, trust_delta, recorded_at
		FROM ledger_entries WHERE tenant_id=$1 AND request_id=$2 AND verdict_class=$3 LIMIT 1`,
		tenantID, requestID, string(verdict))
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *PostgresStore) Append(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(entry_id, tenant_id, agent_id, request_id, verdict_class, payload_digest,
			 previous_hash, block_hash, trust_delta, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.EntryID, e.TenantID, e.AgentID, e.RequestID, string(e.VerdictClass), e.PayloadDigest,
		e.PreviousHash, e.BlockHash, e.TrustDelta, e.RecordedAt)
	return err
}

func (s *PostgresStore) Stream(ctx context.Context, tenantID string, since time.Time) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, tenant_id, agent_id, request_id, verdict_class, payload_digest,
		       previous_hash, block_hash, trust_delta, recorded_at
		FROM ledger_entries WHERE tenant_id=$1 AND recorded_at > $2 ORDER BY recorded_at ASC`,
		tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) Lookup(ctx context.Context, requestID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, tenant_id, agent_id, request_id, verdict_class, payload_digest,
		       previous_hash, block_hash, trust_delta, recorded_at
		FROM ledger_entries WHERE request_id=$1 LIMIT 1`, requestID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *PostgresStore) All(ctx context.Context, tenantID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, tenant_id, agent_id, request_id, verdict_class, payload_digest,
		       previous_hash, block_hash, trust_delta, recorded_at
		FROM ledger_entries WHERE tenant_id=$1 ORDER BY recorded_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	e := &Entry{}
	var verdict string
	if err := row.Scan(&e.EntryID, &e.TenantID, &e.AgentID, &e.RequestID, &verdict, &e.PayloadDigest,
		&e.PreviousHash, &e.BlockHash, &e.TrustDelta, &e.RecordedAt); err != nil {
		return nil, err
	}
	e.VerdictClass = gov.VerdictClass(verdict)
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
