package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/storage"
)

// ReportAccount persists the outcome of the last operation against an account.
func (s *Store) ReportAccount(ctx context.Context, acct *account.Account, err error) error {
	return s.report(ctx, storage.ScopeAccount, acct.ID, err)
}

// ReportMailbox persists the outcome of the last operation against a mailbox.
func (s *Store) ReportMailbox(ctx context.Context, mb *account.Mailbox, err error) error {
	return s.report(ctx, storage.ScopeMailbox, mb.Key(), err)
}

// report upserts a health row.  A success keeps the previous error text and time for reference.
func (s *Store) report(ctx context.Context, scope, key string, cause error) error {
	now := s.now().Unix()
	var err error
	if cause == nil {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO health (scope, key, healthy, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT (scope, key) DO UPDATE SET healthy = 1, updated_at = excluded.updated_at`,
			scope, key, now)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO health (scope, key, healthy, last_error, last_error_at, updated_at)
			VALUES (?, ?, 0, ?, ?, ?)
			ON CONFLICT (scope, key) DO UPDATE SET
				healthy = 0,
				last_error = excluded.last_error,
				last_error_at = excluded.last_error_at,
				updated_at = excluded.updated_at`,
			scope, key, cause.Error(), now, now)
	}
	if err != nil {
		return fmt.Errorf("recording %s health of %s: %w", scope, key, err)
	}
	return nil
}

// Health lists every recorded account and mailbox state, accounts first.
func (s *Store) Health(ctx context.Context) ([]storage.Health, error) {
	var rows []struct {
		Scope       string `db:"scope"`
		Key         string `db:"key"`
		Healthy     bool   `db:"healthy"`
		LastError   string `db:"last_error"`
		LastErrorAt int64  `db:"last_error_at"`
		UpdatedAt   int64  `db:"updated_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT scope, key, healthy, last_error, last_error_at, updated_at
		FROM health
		ORDER BY scope, key`)
	if err != nil {
		return nil, fmt.Errorf("listing health: %w", err)
	}
	out := make([]storage.Health, len(rows))
	for i, r := range rows {
		out[i] = storage.Health{
			Scope:     r.Scope,
			Key:       r.Key,
			Healthy:   r.Healthy,
			LastError: r.LastError,
			UpdatedAt: time.Unix(r.UpdatedAt, 0).UTC(),
		}
		if r.LastErrorAt > 0 {
			out[i].LastErrorAt = time.Unix(r.LastErrorAt, 0).UTC()
		}
	}
	return out, nil
}
