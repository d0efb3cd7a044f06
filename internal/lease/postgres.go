package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// PostgresManager implements the same contract over a relational table: the
// conditional write is an upsert whose UPDATE arm only fires when the stored
// lease has expired, checked by rows-affected.
type PostgresManager struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewPostgresManager(db *sql.DB, ttl time.Duration) *PostgresManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PostgresManager{db: db, ttl: ttl, now: time.Now}
}

// Migrate creates the lease table. Safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sponsor_leases (
			chain_id     BIGINT      NOT NULL,
			sponsor      TEXT        NOT NULL,
			lease_id     TEXT        NOT NULL,
			lease_until  TIMESTAMPTZ NOT NULL,
			next_nonce   BIGINT      NOT NULL DEFAULT 0,
			last_nonce   BIGINT,
			last_tx_hash TEXT,
			last_error   TEXT,
			PRIMARY KEY (chain_id, sponsor)
		)`)
	if err != nil {
		return fmt.Errorf("migrate sponsor_leases: %w", err)
	}
	return nil
}

func pgSponsor(sponsor common.Address) string {
	return strings.ToLower(sponsor.Hex())
}

func (m *PostgresManager) Acquire(ctx context.Context, chainID int64, sponsor common.Address) (*Lease, error) {
	now := m.now()
	leaseID := uuid.NewString()

	var hint uint64
	err := m.db.QueryRowContext(ctx, `
		INSERT INTO sponsor_leases (chain_id, sponsor, lease_id, lease_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id, sponsor) DO UPDATE
		SET lease_id = EXCLUDED.lease_id, lease_until = EXCLUDED.lease_until
		WHERE sponsor_leases.lease_until <= $5
		RETURNING next_nonce`,
		chainID, pgSponsor(sponsor), leaseID, now.Add(m.ttl), now,
	).Scan(&hint)
	if errors.Is(err, sql.ErrNoRows) {
		// The UPDATE arm was suppressed: a live lease exists.
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("lease acquire: %w", err)
	}
	return &Lease{ID: leaseID, NextNonceHint: hint}, nil
}

func (m *PostgresManager) RecordBroadcast(ctx context.Context, chainID int64, sponsor common.Address, leaseID string, nonceUsed uint64, txHash string, nextNonce uint64) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE sponsor_leases
		SET last_nonce = $1, last_tx_hash = $2, next_nonce = $3, last_error = NULL
		WHERE chain_id = $4 AND sponsor = $5 AND lease_id = $6`,
		int64(nonceUsed), txHash, int64(nextNonce), chainID, pgSponsor(sponsor), leaseID,
	)
	if err != nil {
		return fmt.Errorf("lease record broadcast: %w", err)
	}
	return nil
}

func (m *PostgresManager) RecordError(ctx context.Context, chainID int64, sponsor common.Address, leaseID string, cause error) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE sponsor_leases
		SET last_error = $1
		WHERE chain_id = $2 AND sponsor = $3 AND lease_id = $4`,
		truncateErr(cause), chainID, pgSponsor(sponsor), leaseID,
	)
	if err != nil {
		return fmt.Errorf("lease record error: %w", err)
	}
	return nil
}

func (m *PostgresManager) Release(ctx context.Context, chainID int64, sponsor common.Address, leaseID string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE sponsor_leases
		SET lease_until = $1
		WHERE chain_id = $2 AND sponsor = $3 AND lease_id = $4`,
		m.now().Add(-time.Second), chainID, pgSponsor(sponsor), leaseID,
	)
	if err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}
