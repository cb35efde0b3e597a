package repo

import (
	"context"
	"database/sql"

	"atrium/internal/domain"
)

// EnsureActor inserts the actor if it is not registered yet.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT OR IGNORE INTO actors(id,created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,display_name,created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &name, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if name.Valid {
		a.DisplayName = name.String
	}
	return a, err
}

func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(display_name,''),created_at FROM actors ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

// SetActorDisplayName updates the name shown in resolved history entries.
func (r Repo) SetActorDisplayName(ctx context.Context, id, displayName string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE actors SET display_name=? WHERE id=?`, nullable(displayName), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteActor removes an actor. History entries that reference it keep
// their actor id and resolve to "Unknown User" from then on.
func (r Repo) DeleteActor(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM actors WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
