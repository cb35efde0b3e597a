package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"atrium/internal/domain"
)

// recipientClause matches rows addressed to the user. An empty
// recipient set means the notification was broadcast to everyone.
const recipientClause = `(n.recipients_json='[]' OR EXISTS (SELECT 1 FROM json_each(n.recipients_json) WHERE json_each.value=?))`

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	recipients := n.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	payload, err := json.Marshal(recipients)
	if err != nil {
		return err
	}
	var read int
	if n.IsRead {
		read = 1
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO notifications(id,user_id,module,action,entity_id,message,recipients_json,created_at,is_read) VALUES (?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Module, n.Action, n.EntityID, n.Message, string(payload), n.CreatedAt, read)
	return err
}

func scanNotification(scan func(dest ...any) error) (domain.Notification, error) {
	var n domain.Notification
	var recipients string
	var read int
	err := scan(&n.ID, &n.UserID, &n.Module, &n.Action, &n.EntityID, &n.Message, &recipients, &n.CreatedAt, &read)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if err := json.Unmarshal([]byte(recipients), &n.Recipients); err != nil {
		return n, err
	}
	n.IsRead = read != 0
	return n, nil
}

const notificationColumns = `n.id,n.user_id,n.module,n.action,n.entity_id,n.message,n.recipients_json,n.created_at,n.is_read`

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications n WHERE n.id=?`, id)
	return scanNotification(row.Scan)
}

type NotificationFilters struct {
	UserID          string
	Module          string
	Action          string
	UnreadOnly      bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListNotifications returns notifications visible to a user, newest first.
func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, recipientClause)
		args = append(args, f.UserID)
	}
	if f.Module != "" {
		clauses = append(clauses, "n.module=?")
		args = append(args, f.Module)
	}
	if f.Action != "" {
		clauses = append(clauses, "n.action=?")
		args = append(args, f.Action)
	}
	if f.UnreadOnly {
		clauses = append(clauses, "n.is_read=0")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(n.created_at < ? OR (n.created_at = ? AND n.id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications n ` + where + ` ORDER BY n.created_at DESC, n.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, nil
}

// NotificationsAfter returns notifications created after the cursor in
// ascending order, for pollers with a saved position.
func (r Repo) NotificationsAfter(ctx context.Context, limit int, cursorCreatedAt, cursorID string) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if cursorCreatedAt != "" {
		clauses = append(clauses, "(n.created_at > ? OR (n.created_at = ? AND n.id > ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + notificationColumns + ` FROM notifications n ` + where + ` ORDER BY n.created_at ASC, n.id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, nil
}

// MarkNotificationRead marks a single notification read. Marking an
// already-read notification is a no-op, not an error.
func (r Repo) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetNotification(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification visible to
// the user and returns the affected count.
func (r Repo) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE notifications SET is_read=1 WHERE is_read=0`
	var args []any
	if userID != "" {
		query += ` AND (recipients_json='[]' OR EXISTS (SELECT 1 FROM json_each(notifications.recipients_json) WHERE json_each.value=?))`
		args = append(args, userID)
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r Repo) DeleteNotification(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUnread returns the number of unread notifications visible to a user.
func (r Repo) CountUnread(ctx context.Context, userID string) (int, error) {
	query := `SELECT count(*) FROM notifications n WHERE n.is_read=0`
	var args []any
	if userID != "" {
		query += ` AND ` + recipientClause
		args = append(args, userID)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}
