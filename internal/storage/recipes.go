package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/galleyhq/galley/internal/model"
)

// CreateRecipe inserts a validated recipe.
func (db *DB) CreateRecipe(ctx context.Context, r *model.Recipe) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO recipes
		   (id, sous_chef, org_id, user_id, name, slug, description, options,
		    scheduled, time_of_day, interval_secs, crontab,
		    status, last_run, last_job, traceback, created, updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		r.ID, r.SousChef, r.OrgID, r.UserID, r.Name, r.Slug, r.Description, r.Options,
		r.Scheduled, r.TimeOfDay, r.Interval, r.Crontab,
		string(r.Status), r.LastRun, r.LastJob, r.Traceback, r.Created, r.Updated,
	)
	if err != nil {
		return fmt.Errorf("storage: create recipe %s: %w", r.Slug, err)
	}
	return nil
}

// Recipe loads a recipe by id.
func (db *DB) Recipe(ctx context.Context, id uuid.UUID) (*model.Recipe, error) {
	var r model.Recipe
	var status string
	err := db.pool.QueryRow(ctx,
		`SELECT id, sous_chef, org_id, user_id, name, slug, description, options,
		        scheduled, time_of_day, interval_secs, crontab,
		        status, last_run, last_job, traceback, created, updated
		 FROM recipes WHERE id = $1`, id,
	).Scan(
		&r.ID, &r.SousChef, &r.OrgID, &r.UserID, &r.Name, &r.Slug, &r.Description, &r.Options,
		&r.Scheduled, &r.TimeOfDay, &r.Interval, &r.Crontab,
		&status, &r.LastRun, &r.LastJob, &r.Traceback, &r.Created, &r.Updated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: recipe %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get recipe %s: %w", id, err)
	}
	r.Status = model.RecipeStatus(status)
	return &r, nil
}

// SaveRecipe persists the mutable execution state of a recipe. Options and
// scheduling fields are included because updates re-run full validation and
// hand back a complete recipe.
func (db *DB) SaveRecipe(ctx context.Context, r *model.Recipe) error {
	r.Updated = time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE recipes
		 SET name = $2, slug = $3, description = $4, options = $5,
		     scheduled = $6, time_of_day = $7, interval_secs = $8, crontab = $9,
		     status = $10, last_run = $11, last_job = $12, traceback = $13, updated = $14
		 WHERE id = $1`,
		r.ID, r.Name, r.Slug, r.Description, r.Options,
		r.Scheduled, r.TimeOfDay, r.Interval, r.Crontab,
		string(r.Status), r.LastRun, r.LastJob, r.Traceback, r.Updated,
	)
	if err != nil {
		return fmt.Errorf("storage: save recipe %s: %w", r.Slug, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: recipe %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

// ListScheduledRecipes returns every recipe eligible for the scheduler.
func (db *DB) ListScheduledRecipes(ctx context.Context) ([]*model.Recipe, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, sous_chef, org_id, user_id, name, slug, description, options,
		        scheduled, time_of_day, interval_secs, crontab,
		        status, last_run, last_job, traceback, created, updated
		 FROM recipes
		 WHERE scheduled AND status NOT IN ('queued', 'running', 'uninitialized')
		 ORDER BY created ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list scheduled recipes: %w", err)
	}
	defer rows.Close()

	var recipes []*model.Recipe
	for rows.Next() {
		var r model.Recipe
		var status string
		if err := rows.Scan(
			&r.ID, &r.SousChef, &r.OrgID, &r.UserID, &r.Name, &r.Slug, &r.Description, &r.Options,
			&r.Scheduled, &r.TimeOfDay, &r.Interval, &r.Crontab,
			&status, &r.LastRun, &r.LastJob, &r.Traceback, &r.Created, &r.Updated,
		); err != nil {
			return nil, fmt.Errorf("storage: scan recipe: %w", err)
		}
		r.Status = model.RecipeStatus(status)
		recipes = append(recipes, &r)
	}
	return recipes, rows.Err()
}
