package repo

import (
	"context"
	"database/sql"
	"strings"

	"atrium/internal/domain"
)

// UnknownUserName is shown when a history entry's actor has been
// removed from the registry. The entry itself is never rewritten.
const UnknownUserName = "Unknown User"

type HistoryFilters struct {
	WorkOrderID string
	Action      string
	Limit       int
	CursorID    int64
}

// ListHistory returns audit entries for a work order, most recent
// first, with the actor display name resolved at read time.
func (r Repo) ListHistory(ctx context.Context, f HistoryFilters) ([]domain.HistoryEntry, error) {
	clauses := []string{"h.work_order_id=?"}
	args := []any{f.WorkOrderID}
	if f.Action != "" {
		clauses = append(clauses, "h.action=?")
		args = append(args, f.Action)
	}
	if f.CursorID > 0 {
		clauses = append(clauses, "h.id<?")
		args = append(args, f.CursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT h.id,h.work_order_id,h.action,h.description,h.performed_by,
COALESCE(NULLIF(a.display_name,''),a.id,'` + UnknownUserName + `') AS performed_by_name,
h.performed_at
FROM work_order_history h
LEFT JOIN actors a ON a.id=h.performed_by ` + where + ` ORDER BY h.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var desc sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkOrderID, &e.Action, &desc, &e.PerformedBy, &e.PerformedByName, &e.PerformedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			e.Description = desc.String
		}
		res = append(res, e)
	}
	return res, nil
}

// CountHistory returns the number of audit entries for a work order.
func (r Repo) CountHistory(ctx context.Context, workOrderID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM work_order_history WHERE work_order_id=?`, workOrderID).Scan(&n)
	return n, err
}
