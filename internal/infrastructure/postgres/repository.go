package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"vn.io.arda/notification-agent/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS client_notifications (
	owner       TEXT        NOT NULL,
	id          TEXT        NOT NULL,
	category    TEXT        NOT NULL,
	title       TEXT        NOT NULL DEFAULT '',
	message     TEXT        NOT NULL DEFAULT '',
	link        TEXT        NOT NULL DEFAULT '',
	is_read     BOOLEAN     NOT NULL DEFAULT FALSE,
	read_at     TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner, id)
);
CREATE INDEX IF NOT EXISTS client_notifications_owner_created_idx
	ON client_notifications (owner, created_at DESC, observed_at DESC);
`

// Archive is the PostgreSQL implementation of domain.Archive.
// Rows are scoped to one owner (the signed-in user id).
type Archive struct {
	pool  *pgxpool.Pool
	owner string
}

// New creates a new postgres Archive for owner.
func New(pool *pgxpool.Pool, owner string) *Archive {
	return &Archive{pool: pool, owner: owner}
}

// Migrate creates the archive table when it does not exist yet.
func (a *Archive) Migrate(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate client_notifications: %w", err)
	}
	return nil
}

// Load returns up to limit archived notifications, newest first.
func (a *Archive) Load(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := a.pool.Query(ctx, `
		SELECT id, category, title, message, link, is_read, created_at
		FROM client_notifications
		WHERE owner = $1
		ORDER BY created_at DESC, observed_at DESC
		LIMIT $2
	`, a.owner, limit)
	if err != nil {
		return nil, fmt.Errorf("load archived notifications: %w", err)
	}
	defer rows.Close()

	var results []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load archived notifications: %w", err)
	}
	return results, nil
}

// Upsert inserts or replaces notifications by id in one batch.
// A row already marked read stays read.
func (a *Archive) Upsert(ctx context.Context, notifications []domain.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, n := range notifications {
		batch.Queue(`
			INSERT INTO client_notifications (owner, id, category, title, message, link, is_read, read_at, created_at, observed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, CASE WHEN $7 THEN now() END, $8, now())
			ON CONFLICT (owner, id) DO UPDATE SET
				category    = EXCLUDED.category,
				title       = EXCLUDED.title,
				message     = EXCLUDED.message,
				link        = EXCLUDED.link,
				is_read     = client_notifications.is_read OR EXCLUDED.is_read,
				read_at     = COALESCE(client_notifications.read_at, EXCLUDED.read_at),
				created_at  = EXCLUDED.created_at,
				observed_at = EXCLUDED.observed_at
		`, a.owner, n.ID, string(n.Category), n.Title, n.Message, n.Link, n.IsRead, n.CreatedAt)
	}

	if err := a.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert archived notifications: %w", err)
	}
	return nil
}

// MarkRead marks the given notifications as read.
func (a *Archive) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := a.pool.Exec(ctx, `
		UPDATE client_notifications SET is_read = TRUE, read_at = $1
		WHERE owner = $2 AND id = ANY($3) AND is_read = FALSE
	`, time.Now(), a.owner, ids)
	if err != nil {
		return fmt.Errorf("mark archived read: %w", err)
	}
	return nil
}

// Clear removes every archived notification of the owner.
func (a *Archive) Clear(ctx context.Context) (int64, error) {
	tag, err := a.pool.Exec(ctx, `DELETE FROM client_notifications WHERE owner = $1`, a.owner)
	if err != nil {
		return 0, fmt.Errorf("clear archive: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeOlderThan deletes archived notifications older than the given number of days.
// days <= 0 deletes nothing.
func (a *Archive) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	tag, err := a.pool.Exec(ctx,
		`DELETE FROM client_notifications WHERE owner = $1 AND created_at < $2`, a.owner, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge archive: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanNotification is a helper to scan a row into a Notification struct.
type scannable interface {
	Scan(dest ...any) error
}

func scanNotification(row scannable) (domain.Notification, error) {
	var n domain.Notification
	var category string

	err := row.Scan(&n.ID, &category, &n.Title, &n.Message, &n.Link, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("scan notification: %w", err)
	}
	n.Category = domain.ParseCategory(category)
	return n, nil
}
