package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"atrium/internal/domain"
)

// detailsEnvelope is the stored form of the per-type work order payload.
type detailsEnvelope struct {
	Preventive *domain.PreventiveDetails `json:"preventive,omitempty"`
	Job        *domain.JobDetails        `json:"job,omitempty"`
	Repair     *domain.RepairDetails     `json:"repair,omitempty"`
}

func marshalDetails(w domain.WorkOrder) (any, error) {
	env := detailsEnvelope{Preventive: w.Preventive, Job: w.Job, Repair: w.Repair}
	if env.Preventive == nil && env.Job == nil && env.Repair == nil {
		return nil, nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalDetails(raw sql.NullString, w *domain.WorkOrder) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var env detailsEnvelope
	if err := json.Unmarshal([]byte(raw.String), &env); err != nil {
		return fmt.Errorf("work order %s details: %w", w.ID, err)
	}
	w.Preventive = env.Preventive
	w.Job = env.Job
	w.Repair = env.Repair
	return nil
}

// NextWorkOrderSeq reserves the next per-property sequence number, used
// to mint codes like WO-00042.
func (r Repo) NextWorkOrderSeq(ctx context.Context, tx *sql.Tx, propertyID string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO work_order_seq(property_id,next) VALUES (?,1)`, propertyID); err != nil {
		return 0, err
	}
	var n int64
	if err := tx.QueryRowContext(ctx, `SELECT next FROM work_order_seq WHERE property_id=?`, propertyID).Scan(&n); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE work_order_seq SET next=next+1 WHERE property_id=?`, propertyID); err != nil {
		return 0, err
	}
	return n, nil
}

func (r Repo) InsertWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	details, err := marshalDetails(w)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO work_orders(id,code,property_id,work_type,status,priority,title,description,asset_id,location_id,assigned_to,requested_by,due_date,details_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Code, w.PropertyID, w.WorkType, w.Status, w.Priority, w.Title, nullable(w.Description),
		w.AssetID, nullable(w.LocationID), nullableStringPtr(w.AssignedTo), w.RequestedBy, nullable(w.DueDate),
		details, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) UpdateWorkOrder(ctx context.Context, tx *sql.Tx, w domain.WorkOrder) error {
	details, err := marshalDetails(w)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE work_orders SET work_type=?, status=?, priority=?, title=?, description=?, asset_id=?, location_id=?, assigned_to=?, due_date=?, details_json=?, updated_at=? WHERE id=?`,
		w.WorkType, w.Status, w.Priority, w.Title, nullable(w.Description), w.AssetID, nullable(w.LocationID),
		nullableStringPtr(w.AssignedTo), nullable(w.DueDate), details, w.UpdatedAt, w.ID)
	return err
}

const workOrderColumns = `id,code,property_id,work_type,status,priority,title,description,asset_id,location_id,assigned_to,requested_by,due_date,details_json,created_at,updated_at`

func scanWorkOrder(scan func(dest ...any) error) (domain.WorkOrder, error) {
	var w domain.WorkOrder
	var description, locationID, assignedTo, dueDate, details sql.NullString
	err := scan(&w.ID, &w.Code, &w.PropertyID, &w.WorkType, &w.Status, &w.Priority, &w.Title, &description,
		&w.AssetID, &locationID, &assignedTo, &w.RequestedBy, &dueDate, &details, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if description.Valid {
		w.Description = description.String
	}
	if locationID.Valid {
		w.LocationID = locationID.String
	}
	if assignedTo.Valid {
		w.AssignedTo = &assignedTo.String
	}
	if dueDate.Valid {
		w.DueDate = dueDate.String
	}
	if err := unmarshalDetails(details, &w); err != nil {
		return w, err
	}
	return w, nil
}

func (r Repo) GetWorkOrder(ctx context.Context, id string) (domain.WorkOrder, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id=?`, id)
	return scanWorkOrder(row.Scan)
}

func (r Repo) GetWorkOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.WorkOrder, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id=?`, id)
	return scanWorkOrder(row.Scan)
}

func (r Repo) GetWorkOrderByCode(ctx context.Context, propertyID, code string) (domain.WorkOrder, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE property_id=? AND code=?`, propertyID, code)
	return scanWorkOrder(row.Scan)
}

type WorkOrderFilters struct {
	PropertyID      string
	Status          string
	WorkType        string
	Priority        string
	AssignedTo      string
	AssetID         string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListWorkOrders(ctx context.Context, f WorkOrderFilters) ([]domain.WorkOrder, error) {
	var clauses []string
	var args []any
	if f.PropertyID != "" {
		clauses = append(clauses, "property_id=?")
		args = append(args, f.PropertyID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.WorkType != "" {
		clauses = append(clauses, "work_type=?")
		args = append(args, f.WorkType)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.AssetID != "" {
		clauses = append(clauses, "asset_id=?")
		args = append(args, f.AssetID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workOrderColumns + ` FROM work_orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		w, err := scanWorkOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, nil
}

func (r Repo) DeleteWorkOrder(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM work_orders WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountWorkOrdersByStatus(ctx context.Context, propertyID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM work_orders WHERE property_id=? GROUP BY status`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, nil
}

func (r Repo) InsertPhoto(ctx context.Context, tx *sql.Tx, p domain.Photo) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO work_order_photos(id,work_order_id,url,added_by,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.WorkOrderID, p.URL, p.AddedBy, p.CreatedAt)
	return err
}

func (r Repo) ListPhotos(ctx context.Context, workOrderID string) ([]domain.Photo, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,work_order_id,url,added_by,created_at FROM work_order_photos WHERE work_order_id=? ORDER BY created_at ASC, id ASC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Photo
	for rows.Next() {
		var p domain.Photo
		if err := rows.Scan(&p.ID, &p.WorkOrderID, &p.URL, &p.AddedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) CountPhotos(ctx context.Context, workOrderID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM work_order_photos WHERE work_order_id=?`, workOrderID).Scan(&n)
	return n, err
}

func (r Repo) CountPhotosTx(ctx context.Context, tx *sql.Tx, workOrderID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM work_order_photos WHERE work_order_id=?`, workOrderID).Scan(&n)
	return n, err
}
