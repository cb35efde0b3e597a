package history

import (
	"context"
	"database/sql"
	"time"
)

// Recorder appends rows to the work order audit trail. Entries are
// write-once; nothing in the codebase updates or deletes them.
type Recorder struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r Recorder) Append(ctx context.Context, tx *sql.Tx, workOrderID, action, description, actorID string) error {
	if r.Now == nil {
		r.Now = time.Now
	}
	ts := r.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO work_order_history(work_order_id,action,description,performed_by,performed_at) VALUES (?,?,?,?,?)`,
		workOrderID, action, nullable(description), actorID, ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
