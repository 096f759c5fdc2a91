package escrow

import (
	"context"
	"database/sql"

	"github.com/ocx/governance-core/internal/gov"
)

// PostgresStore persists escrow items in the table described by spec
// §6: (escrow_id, tenant_id, request_id, status, payload_blob,
// target_hash, created_at). Payload bytes are whatever Hold() handed
// it — sealed at rest already when an EscrowStore.Sealer is
// configured — so this store never needs to know about encryption.
//
// Grounded on the same plain database/sql + lib/pq style as
// internal/ledger/postgres_store.go and internal/policy/postgres_store.go.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const escrowSchemaDDL = `
CREATE TABLE IF NOT EXISTS escrow_items (
	escrow_id    TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	request_id   TEXT NOT NULL,
	agent_id     TEXT NOT NULL,
	status       TEXT NOT NULL,
	payload_blob BYTEA,
	target_hash  TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS escrow_tenant_idx ON escrow_items (tenant_id);
CREATE INDEX IF NOT EXISTS escrow_request_idx ON escrow_items (request_id);
`

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, escrowSchemaDDL)
	return err
}

func (s *PostgresStore) Put(ctx context.Context, item *Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrow_items
			(escrow_id, tenant_id, request_id, agent_id, status, payload_blob, target_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		item.EscrowID, item.TenantID, item.RequestID, item.AgentID,
		string(item.Status), item.Payload, item.TargetHash, item.CreatedAt)
	return err
}

// UpdateStatus also clears the stored payload blob on a terminal
// REJECTED transition, mirroring EscrowStore.Release/Reject discarding
// the hot-storage payload once a HELD item is rejected (the ledger
// still retains its target_hash digest).
func (s *PostgresStore) UpdateStatus(ctx context.Context, escrowID string, status gov.EscrowStatus) error {
	var res sql.Result
	var err error
	if status == gov.EscrowRejected {
		res, err = s.db.ExecContext(ctx,
			`UPDATE escrow_items SET status=$1, payload_blob=NULL WHERE escrow_id=$2`,
			string(status), escrowID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE escrow_items SET status=$1 WHERE escrow_id=$2`,
			string(status), escrowID)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, escrowID string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT escrow_id, tenant_id, request_id, agent_id, status, payload_blob, target_hash, created_at
		FROM escrow_items WHERE escrow_id=$1`, escrowID)
	item := &Item{}
	var status string
	if err := row.Scan(&item.EscrowID, &item.TenantID, &item.RequestID, &item.AgentID,
		&status, &item.Payload, &item.TargetHash, &item.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	item.Status = gov.EscrowStatus(status)
	return item, nil
}
