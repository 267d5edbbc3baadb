package remote

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// nonceSchema holds one row per accepted (issuer, nonce) pair. Rows are
// pruned lazily once their TTL has passed, after which the nonce becomes
// usable again.
const nonceSchema = `
CREATE TABLE IF NOT EXISTS command_nonces (
	issuer      TEXT    NOT NULL,
	nonce       TEXT    NOT NULL,
	accepted_at INTEGER NOT NULL,
	PRIMARY KEY (issuer, nonce)
)`

// NonceStore is the durable replay guard for accepted commands. Backed
// by SQLite so a bridge restart does not reopen the replay window.
type NonceStore struct {
	db  *sql.DB
	ttl time.Duration

	now func() time.Time // test hook
}

// NewNonceStore prepares the store, creating its table on first use.
func NewNonceStore(db *sql.DB, ttl time.Duration) (*NonceStore, error) {
	if _, err := db.Exec(nonceSchema); err != nil {
		return nil, fmt.Errorf("%w: init schema: %w", ErrStoreUnavailable, err)
	}
	return &NonceStore{db: db, ttl: ttl, now: time.Now}, nil
}

// Live reports whether an unexpired record exists for the pair. Expired
// records for the same issuer are pruned before the check.
func (s *NonceStore) Live(ctx context.Context, issuer, nonce string) (bool, error) {
	cutoff := s.now().Add(-s.ttl).Unix()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM command_nonces WHERE issuer = ? AND accepted_at < ?`,
		issuer, cutoff,
	); err != nil {
		return false, fmt.Errorf("%w: prune: %w", ErrStoreUnavailable, err)
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM command_nonces WHERE issuer = ? AND nonce = ?`,
		issuer, nonce,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: lookup: %w", ErrStoreUnavailable, err)
	}
	return count > 0, nil
}

// Record marks the pair as accepted, starting its TTL.
func (s *NonceStore) Record(ctx context.Context, issuer, nonce string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO command_nonces (issuer, nonce, accepted_at) VALUES (?, ?, ?)`,
		issuer, nonce, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: record: %w", ErrStoreUnavailable, err)
	}
	return nil
}
