package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galleyhq/galley/internal/model"
	"github.com/galleyhq/galley/internal/option"
	"github.com/galleyhq/galley/internal/storage"
	"github.com/galleyhq/galley/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		os.Exit(1)
	}
	defer testDB.Close()

	os.Exit(m.Run())
}

func seedSousChef(t *testing.T) *model.SousChef {
	t.Helper()
	sc := &model.SousChef{
		Slug:        "twitter-list-" + uuid.NewString()[:8],
		Name:        "Twitter List",
		Description: "Pulls tweets from a list.",
		Runs:        "galley.test.noop",
		Creates:     model.CreatesEvents,
		Options: map[string]model.OptionSpec{
			"owner_screen_name": {
				InputType:  model.InputText,
				ValueTypes: []option.Type{option.TypeString},
				Required:   true,
			},
		},
	}
	require.NoError(t, testDB.UpsertSousChef(context.Background(), sc))
	return sc
}

func seedRecipe(t *testing.T, sousChef string) *model.Recipe {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	r := &model.Recipe{
		ID:          uuid.New(),
		SousChef:    sousChef,
		OrgID:       uuid.New(),
		UserID:      uuid.New(),
		Name:        "CSPAN tweets",
		Slug:        "cspan-tweets-" + uuid.NewString()[:8],
		Description: "Tracks the CSPAN list.",
		Options:     map[string]any{"owner_screen_name": "cspan"},
		Interval:    900,
		Scheduled:   true,
		Status:      model.RecipeStable,
		Created:     now,
		Updated:     now,
	}
	require.NoError(t, testDB.CreateRecipe(context.Background(), r))
	return r
}

func TestSousChefUpsertAndGet(t *testing.T) {
	ctx := context.Background()
	sc := seedSousChef(t)

	got, err := testDB.SousChef(ctx, sc.Slug)
	require.NoError(t, err)
	assert.Equal(t, sc.Name, got.Name)
	assert.Equal(t, sc.Runs, got.Runs)
	require.Contains(t, got.Options, "owner_screen_name")
	assert.True(t, got.Options["owner_screen_name"].Required)

	// Upsert replaces the descriptor in place.
	sc.Description = "Pulls tweets, now with filters."
	require.NoError(t, testDB.UpsertSousChef(ctx, sc))
	got, err = testDB.SousChef(ctx, sc.Slug)
	require.NoError(t, err)
	assert.Equal(t, "Pulls tweets, now with filters.", got.Description)

	_, err = testDB.SousChef(ctx, "does-not-exist")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListSousChefs(t *testing.T) {
	seedSousChef(t)
	chefs, err := testDB.ListSousChefs(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, chefs)
}

func TestRecipeRoundTrip(t *testing.T) {
	ctx := context.Background()
	sc := seedSousChef(t)
	r := seedRecipe(t, sc.Slug)

	got, err := testDB.Recipe(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Slug, got.Slug)
	assert.Equal(t, int64(900), got.Interval)
	assert.Equal(t, model.RecipeStable, got.Status)
	assert.Equal(t, map[string]any{"owner_screen_name": "cspan"}, got.Options)

	_, err = testDB.Recipe(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveRecipeMutableState(t *testing.T) {
	ctx := context.Background()
	sc := seedSousChef(t)
	r := seedRecipe(t, sc.Slug)

	lastRun := time.Now().UTC().Truncate(time.Microsecond)
	r.Status = model.RecipeError
	r.Traceback = "rate limited"
	r.LastRun = &lastRun
	r.LastJob = map[string]any{"max_id": "99"}
	require.NoError(t, testDB.SaveRecipe(ctx, r))

	got, err := testDB.Recipe(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecipeError, got.Status)
	assert.Equal(t, "rate limited", got.Traceback)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, lastRun, got.LastRun.UTC())
	assert.Equal(t, map[string]any{"max_id": "99"}, got.LastJob)

	missing := *r
	missing.ID = uuid.New()
	assert.ErrorIs(t, testDB.SaveRecipe(ctx, &missing), storage.ErrNotFound)
}

func TestListScheduledRecipes(t *testing.T) {
	ctx := context.Background()
	sc := seedSousChef(t)

	scheduled := seedRecipe(t, sc.Slug)

	queued := seedRecipe(t, sc.Slug)
	queued.Status = model.RecipeQueued
	require.NoError(t, testDB.SaveRecipe(ctx, queued))

	unscheduled := seedRecipe(t, sc.Slug)
	unscheduled.Scheduled = false
	require.NoError(t, testDB.SaveRecipe(ctx, unscheduled))

	recipes, err := testDB.ListScheduledRecipes(ctx)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool)
	for _, r := range recipes {
		ids[r.ID] = true
	}
	assert.True(t, ids[scheduled.ID], "stable scheduled recipe should be listed")
	assert.False(t, ids[queued.ID], "queued recipe should be skipped")
	assert.False(t, ids[unscheduled.ID], "unscheduled recipe should be skipped")
}

func seedJob(t *testing.T, recipeID uuid.UUID, queue string) *model.Job {
	t.Helper()
	job := &model.Job{
		ID:         uuid.New(),
		RecipeID:   recipeID,
		Queue:      queue,
		KwargsKey:  "galley:job:" + uuid.NewString() + ":kwargs",
		Timeout:    2 * time.Minute,
		Status:     model.JobQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	require.NoError(t, testDB.Enqueue(context.Background(), job))
	return job
}

func TestJobClaimAndFinish(t *testing.T) {
	ctx := context.Background()
	sc := seedSousChef(t)
	r := seedRecipe(t, sc.Slug)

	// Bulk queue so jobs from other tests never interfere.
	first := seedJob(t, r.ID, model.QueueBulk)
	second := seedJob(t, r.ID, model.QueueBulk)

	depth, err := testDB.Depth(ctx, model.QueueBulk)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	claimed, err := testDB.Claim(ctx, model.QueueBulk, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, first.ID, claimed[0].ID, "claims follow enqueue order")
	assert.Equal(t, model.JobRunning, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].Attempts)

	// A claimed job is leased: a second claim sees only the other one.
	claimed2, err := testDB.Claim(ctx, model.QueueBulk, 10)
	require.NoError(t, err)
	require.Len(t, claimed2, 1)
	assert.Equal(t, second.ID, claimed2[0].ID)

	job := claimed[0]
	job.Status = model.JobSuccess
	require.NoError(t, testDB.Finish(ctx, job))

	job2 := claimed2[0]
	job2.Status = model.JobError
	job2.Error = "execution error: boom"
	require.NoError(t, testDB.Finish(ctx, job2))

	depth, err = testDB.Depth(ctx, model.QueueBulk)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestJobClaimSkipsOtherQueues(t *testing.T) {
	ctx := context.Background()
	sc := seedSousChef(t)
	r := seedRecipe(t, sc.Slug)

	job := seedJob(t, r.ID, model.QueueDefault)

	claimed, err := testDB.Claim(ctx, model.QueueBulk, 10)
	require.NoError(t, err)
	for _, c := range claimed {
		assert.NotEqual(t, job.ID, c.ID)
	}
}

func TestJobClaimReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	sc := seedSousChef(t)
	r := seedRecipe(t, sc.Slug)

	job := seedJob(t, r.ID, model.QueueBulk)

	claimed, err := testDB.Claim(ctx, model.QueueBulk, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts)

	// Expire the lease as if the claiming worker died mid-run.
	_, err = testDB.Pool().Exec(ctx,
		`UPDATE jobs SET locked_until = now() - interval '1 minute' WHERE id = $1`, job.ID)
	require.NoError(t, err)

	reclaimed, err := testDB.Claim(ctx, model.QueueBulk, 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, job.ID, reclaimed[0].ID)
	assert.Equal(t, model.JobRunning, reclaimed[0].Status)
	assert.Equal(t, 2, reclaimed[0].Attempts)

	reclaimed[0].Status = model.JobSuccess
	require.NoError(t, testDB.Finish(ctx, reclaimed[0]))
}

func TestCleanupJobs(t *testing.T) {
	ctx := context.Background()
	sc := seedSousChef(t)
	r := seedRecipe(t, sc.Slug)

	job := seedJob(t, r.ID, model.QueueBulk)
	claimed, err := testDB.Claim(ctx, model.QueueBulk, 10)
	require.NoError(t, err)
	require.NotEmpty(t, claimed)

	for _, c := range claimed {
		c.Status = model.JobSuccess
		require.NoError(t, testDB.Finish(ctx, c))
	}

	// Backdate the finish so the retention window has elapsed.
	_, err = testDB.Pool().Exec(ctx,
		`UPDATE jobs SET finished_at = now() - interval '48 hours' WHERE id = $1`, job.ID)
	require.NoError(t, err)

	removed, err := testDB.CleanupJobs(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, int64(1))
}
