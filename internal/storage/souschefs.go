package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/galleyhq/galley/internal/model"
)

// UpsertSousChef stores a validated descriptor, replacing any previous
// version under the same slug. Descriptors are persisted whole as JSONB;
// the validator is the only writer, so the stored form is always canonical.
func (db *DB) UpsertSousChef(ctx context.Context, sc *model.SousChef) error {
	descriptor, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("storage: marshal sous chef %q: %w", sc.Slug, err)
	}

	now := time.Now().UTC()
	_, err = db.pool.Exec(ctx,
		`INSERT INTO sous_chefs (slug, descriptor, created, updated)
		 VALUES ($1, $2::jsonb, $3, $3)
		 ON CONFLICT (slug) DO UPDATE SET descriptor = EXCLUDED.descriptor, updated = EXCLUDED.updated`,
		sc.Slug, descriptor, now,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert sous chef %q: %w", sc.Slug, err)
	}
	return nil
}

// SousChef loads a descriptor by slug.
func (db *DB) SousChef(ctx context.Context, slug string) (*model.SousChef, error) {
	var descriptor []byte
	err := db.pool.QueryRow(ctx,
		`SELECT descriptor FROM sous_chefs WHERE slug = $1`, slug,
	).Scan(&descriptor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: sous chef %q: %w", slug, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get sous chef %q: %w", slug, err)
	}

	var sc model.SousChef
	if err := json.Unmarshal(descriptor, &sc); err != nil {
		return nil, fmt.Errorf("storage: decode sous chef %q: %w", slug, err)
	}
	return &sc, nil
}

// ListSousChefs returns every stored descriptor ordered by slug.
func (db *DB) ListSousChefs(ctx context.Context) ([]*model.SousChef, error) {
	rows, err := db.pool.Query(ctx, `SELECT descriptor FROM sous_chefs ORDER BY slug ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list sous chefs: %w", err)
	}
	defer rows.Close()

	var chefs []*model.SousChef
	for rows.Next() {
		var descriptor []byte
		if err := rows.Scan(&descriptor); err != nil {
			return nil, fmt.Errorf("storage: scan sous chef: %w", err)
		}
		var sc model.SousChef
		if err := json.Unmarshal(descriptor, &sc); err != nil {
			return nil, fmt.Errorf("storage: decode sous chef: %w", err)
		}
		chefs = append(chefs, &sc)
	}
	return chefs, rows.Err()
}
