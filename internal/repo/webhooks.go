package repo

import (
	"context"
	"database/sql"
)

// WebhookCursor is the last notification a named hook has delivered.
type WebhookCursor struct {
	HookName      string
	LastCreatedAt string
	LastID        string
}

func (r Repo) GetWebhookCursor(ctx context.Context, hookName string) (WebhookCursor, error) {
	c := WebhookCursor{HookName: hookName}
	err := r.DB.QueryRowContext(ctx, `SELECT last_created_at,last_id FROM webhook_cursors WHERE hook_name=?`, hookName).
		Scan(&c.LastCreatedAt, &c.LastID)
	if err == sql.ErrNoRows {
		return c, nil
	}
	return c, err
}

func (r Repo) SaveWebhookCursor(ctx context.Context, c WebhookCursor) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(hook_name,last_created_at,last_id) VALUES (?,?,?)
ON CONFLICT(hook_name) DO UPDATE SET last_created_at=excluded.last_created_at, last_id=excluded.last_id`,
		c.HookName, c.LastCreatedAt, c.LastID)
	return err
}
