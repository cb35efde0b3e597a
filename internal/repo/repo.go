package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"atrium/internal/config"
	"atrium/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func scanProperty(row *sql.Row) (domain.Property, error) {
	var p domain.Property
	var desc sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Status, &desc, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

func (r Repo) InsertProperty(ctx context.Context, p domain.Property) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO properties(id,name,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Status, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProperty(ctx context.Context, id string) (domain.Property, error) {
	return scanProperty(r.DB.QueryRowContext(ctx, `SELECT id,name,status,description,created_at FROM properties WHERE id=?`, id))
}

func (r Repo) SingleProperty(ctx context.Context) (domain.Property, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,COALESCE(description,'') AS description,created_at FROM properties`)
	if err != nil {
		return domain.Property{}, err
	}
	defer rows.Close()
	var properties []domain.Property
	for rows.Next() {
		var p domain.Property
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return domain.Property{}, err
		}
		properties = append(properties, p)
	}
	if len(properties) == 0 {
		return domain.Property{}, ErrNotFound
	}
	if len(properties) > 1 {
		return domain.Property{}, fmt.Errorf("multiple properties exist; specify --property")
	}
	return properties[0], nil
}

func (r Repo) ListProperties(ctx context.Context) ([]domain.Property, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,COALESCE(description,'') AS description,created_at FROM properties ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Property
	for rows.Next() {
		var p domain.Property
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpdateProperty(ctx context.Context, id, status string, description *string) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE properties SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProperty(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM properties WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertPropertyConfig(ctx context.Context, propertyID string, cfg *config.Config) error {
	return upsertPropertyConfig(ctx, r.DB, nil, propertyID, cfg)
}

func (r Repo) UpsertPropertyConfigTx(ctx context.Context, tx *sql.Tx, propertyID string, cfg *config.Config) error {
	return upsertPropertyConfig(ctx, nil, tx, propertyID, cfg)
}

func upsertPropertyConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, propertyID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Property.ID = propertyID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO property_configs(property_id,config_json,updated_at) VALUES (?,?,?)
ON CONFLICT(property_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, propertyID, string(payload), now)
	return err
}

func (r Repo) GetPropertyConfig(ctx context.Context, propertyID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM property_configs WHERE property_id=?`, propertyID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Property.ID == "" {
		cfg.Property.ID = propertyID
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
