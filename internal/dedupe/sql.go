package dedupe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const claimsSchema = `
CREATE TABLE IF NOT EXISTS draft_claims (
	ticket_id  BIGINT NOT NULL,
	message_id BIGINT NOT NULL,
	claimed_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL,
	PRIMARY KEY (ticket_id, message_id)
)`

// SQLStore persists claims in Postgres or SQLite. Atomicity comes from the
// primary key plus INSERT ... ON CONFLICT DO NOTHING: of two concurrent
// claims, exactly one insert reports an affected row.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore opens the database named by databaseURL and ensures the claims
// table exists. postgres:// and postgresql:// DSNs use lib/pq; anything else
// is treated as a SQLite path.
func NewSQLStore(databaseURL string) (*SQLStore, error) {
	driver := "sqlite"
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		driver = "postgres"
	}

	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to claims database: %w", err)
	}
	if _, err := db.Exec(claimsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create claims table: %w", err)
	}

	log.Info().Str("driver", driver).Msg("Claims store ready")
	return &SQLStore{db: db}, nil
}

// Claim atomically records (ticketID, messageID) unless a live record already
// exists. Expired records for the pair are cleared in the same transaction so
// a stale row never blocks a fresh claim.
func (s *SQLStore) Claim(ctx context.Context, ticketID, messageID int) (bool, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("claim (%d,%d): %w: %v", ticketID, messageID, ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM draft_claims WHERE ticket_id = ? AND message_id = ? AND expires_at <= ?`),
		ticketID, messageID, now.Unix())
	if err != nil {
		return false, fmt.Errorf("claim (%d,%d): %w: %v", ticketID, messageID, ErrStoreUnavailable, err)
	}

	res, err := tx.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO draft_claims (ticket_id, message_id, claimed_at, expires_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (ticket_id, message_id) DO NOTHING`),
		ticketID, messageID, now.Unix(), now.Add(ClaimTTL).Unix())
	if err != nil {
		return false, fmt.Errorf("claim (%d,%d): %w: %v", ticketID, messageID, ErrStoreUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim (%d,%d): %w: %v", ticketID, messageID, ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("claim (%d,%d): %w: %v", ticketID, messageID, ErrStoreUnavailable, err)
	}

	return affected == 1, nil
}

// PurgeLoop deletes expired claims on the given interval until ctx is done.
// Claim already ignores expired rows; this just keeps the table small.
func (s *SQLStore) PurgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.db.ExecContext(ctx,
				s.db.Rebind(`DELETE FROM draft_claims WHERE expires_at <= ?`), time.Now().UTC().Unix())
			if err != nil {
				log.Warn().Err(err).Msg("Failed to purge expired claims")
				continue
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				log.Debug().Int64("purged", n).Msg("Purged expired claims")
			}
		}
	}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
