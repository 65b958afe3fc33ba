package chef

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galleyhq/galley/internal/model"
)

// fakeSource is an in-memory JobSource.
type fakeSource struct {
	mu       sync.Mutex
	queued   []*model.Job
	finished []*model.Job
}

func (s *fakeSource) Claim(_ context.Context, queue string, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []*model.Job
	var rest []*model.Job
	for _, j := range s.queued {
		if j.Queue == queue && len(claimed) < limit {
			claimed = append(claimed, j)
			continue
		}
		rest = append(rest, j)
	}
	s.queued = rest
	return claimed, nil
}

func (s *fakeSource) Finish(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, job)
	return nil
}

func (s *fakeSource) Depth(_ context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.queued {
		if j.Queue == queue {
			n++
		}
	}
	return n, nil
}

func (s *fakeSource) finishedJobs() []*model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Job(nil), s.finished...)
}

func TestWorkerProcessesJobs(t *testing.T) {
	f := newFixture(t)
	source := &fakeSource{}

	job := dispatch(t, f)
	source.queued = append(source.queued, job)

	w := NewWorker(f.chef, source, model.QueueDefault, f.chef.logger, 10*time.Millisecond, 10, 2)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	require.Eventually(t, func() bool {
		return len(source.finishedJobs()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	defer drainCancel()
	w.Drain(drainCtx)

	done := source.finishedJobs()[0]
	assert.Equal(t, model.JobSuccess, done.Status)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, model.RecipeStable, f.store.recipes[f.recipeID].Status)
}

func TestWorkerRecordsJobError(t *testing.T) {
	f := newFixture(t)
	f.wf.panicInRun = true
	source := &fakeSource{}
	source.queued = append(source.queued, dispatch(t, f))

	w := NewWorker(f.chef, source, model.QueueDefault, f.chef.logger, 10*time.Millisecond, 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	require.Eventually(t, func() bool {
		return len(source.finishedJobs()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	defer drainCancel()
	w.Drain(drainCtx)

	done := source.finishedJobs()[0]
	assert.Equal(t, model.JobError, done.Status)
	assert.Contains(t, done.Error, "execution")
	assert.Equal(t, model.RecipeError, f.store.recipes[f.recipeID].Status)
}

func TestWorkerDrainRunsFinalPass(t *testing.T) {
	f := newFixture(t)
	source := &fakeSource{}

	w := NewWorker(f.chef, source, model.QueueDefault, f.chef.logger, time.Hour, 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// Enqueue after start: the hour-long poll interval means only the drain
	// pass can pick this job up.
	source.mu.Lock()
	source.queued = append(source.queued, dispatch(t, f))
	source.mu.Unlock()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	w.Drain(drainCtx)

	assert.Len(t, source.finishedJobs(), 1)
}

func TestWorkerStartTwiceIsNoop(t *testing.T) {
	f := newFixture(t)
	source := &fakeSource{}
	w := NewWorker(f.chef, source, model.QueueDefault, f.chef.logger, time.Hour, 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	w.Start(ctx) // ignored

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Second)
	defer drainCancel()
	w.Drain(drainCtx)
}
