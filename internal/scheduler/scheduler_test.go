package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galleyhq/galley/internal/model"
	"github.com/galleyhq/galley/internal/testutil"
)

type fakeLister struct {
	recipes []*model.Recipe
}

func (f *fakeLister) ListScheduledRecipes(context.Context) ([]*model.Recipe, error) {
	return f.recipes, nil
}

type fakeDispatcher struct {
	cooked []uuid.UUID
}

func (f *fakeDispatcher) Cook(_ context.Context, recipeID uuid.UUID, _ map[string]any, _ string) (uuid.UUID, error) {
	f.cooked = append(f.cooked, recipeID)
	return uuid.New(), nil
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestDueInterval(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	r := &model.Recipe{Interval: 900}
	assert.True(t, Due(r, now), "never ran: due immediately")

	r.LastRun = ts("2024-06-01T11:50:00Z")
	assert.False(t, Due(r, now), "10 minutes into a 15 minute interval")

	r.LastRun = ts("2024-06-01T11:40:00Z")
	assert.True(t, Due(r, now), "20 minutes into a 15 minute interval")
}

func TestDueTimeOfDay(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	r := &model.Recipe{TimeOfDay: "09:30"}
	assert.True(t, Due(r, now), "fire time passed, never ran")

	r.LastRun = ts("2024-06-01T09:31:00Z")
	assert.False(t, Due(r, now), "already ran after today's fire time")

	r.LastRun = ts("2024-05-31T09:31:00Z")
	assert.True(t, Due(r, now), "last ran yesterday")

	r = &model.Recipe{TimeOfDay: "11:00"}
	assert.False(t, Due(r, now), "fire time not reached yet")
}

func TestDueCrontab(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 3, 0, 0, time.UTC)

	r := &model.Recipe{Crontab: "*/5 * * * *"}
	assert.True(t, Due(r, now), "never ran: 24h lookback catches a tick")

	r.LastRun = ts("2024-06-01T12:01:00Z")
	assert.False(t, Due(r, now), "next tick is 12:05")

	r.LastRun = ts("2024-06-01T11:54:00Z")
	assert.True(t, Due(r, now), "12:00 tick passed since last run")

	r = &model.Recipe{Crontab: "not a crontab"}
	assert.False(t, Due(r, now), "unparseable crontab never fires")
}

func TestDueNoDirective(t *testing.T) {
	assert.False(t, Due(&model.Recipe{}, time.Now()))
}

func TestTickDispatchesDueRecipes(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	due := &model.Recipe{ID: uuid.New(), Slug: "due", Interval: 900}
	notDue := &model.Recipe{ID: uuid.New(), Slug: "fresh", Interval: 900, LastRun: ts("2024-06-01T11:59:00Z")}

	lister := &fakeLister{recipes: []*model.Recipe{due, notDue}}
	dispatcher := &fakeDispatcher{}
	s := New(lister, dispatcher, testutil.TestLogger(), time.Second, model.QueueDefault)

	s.tick(context.Background(), now)

	require.Len(t, dispatcher.cooked, 1)
	assert.Equal(t, due.ID, dispatcher.cooked[0])
}
