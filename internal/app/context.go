package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"atrium/internal/config"
	"atrium/internal/repo"
)

// ResolvePropertyAndConfig picks the active property and ensures a property + config exist in DB,
// seeding defaults if missing. It prefers overrides, then single-property DB.
// If the property does not exist, it is created on the fly.
func ResolvePropertyAndConfig(ctx context.Context, workspace, propertyOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	propertyID := propertyOverride
	if propertyID == "" {
		if p, err := r.SingleProperty(ctx); err == nil {
			propertyID = p.ID
		} else {
			return "", nil, fmt.Errorf("property not specified; use --property")
		}
	}
	seedCfg := config.Default(propertyID)

	if _, err := r.GetProperty(ctx, propertyID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProperty(ctx, r, propertyID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetPropertyConfig(ctx, propertyID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertPropertyConfig(ctx, propertyID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed property config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Property.ID = propertyID
	return propertyID, cfg, nil
}

// createProperty inserts a minimal property footprint using the seed config.
func createProperty(ctx context.Context, r repo.Repo, propertyID string, seedCfg *config.Config, actorID string) error {
	if seedCfg == nil {
		seedCfg = config.Default(propertyID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO properties(id,name,status,description,created_at) VALUES (?,?,?,?,?)`,
		propertyID, propertyID, "active", "", now); err != nil {
		return fmt.Errorf("insert property: %w", err)
	}
	if err := r.UpsertPropertyConfigTx(ctx, tx, propertyID, seedCfg); err != nil {
		return fmt.Errorf("insert property config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}
