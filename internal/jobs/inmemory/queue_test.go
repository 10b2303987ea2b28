package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/donation-tracker/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_StopDrainsQueuedJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	ctx := context.Background()

	var handled atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.IngestJob) error {
		handled.Add(1)
		job.Rows = 3
		return nil
	}))

	published := make([]*jobs.IngestJob, 0, 5)
	for _, src := range []string{"A", "B", "C", "D", "E"} {
		job := &jobs.IngestJob{Source: src}
		require.NoError(t, q.Publish(ctx, job))
		published = append(published, job)
	}

	require.NoError(t, q.Stop(ctx))
	assert.EqualValues(t, 5, handled.Load())

	for _, job := range published {
		saved, err := store.GetJob(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, jobs.JobStatusCompleted, saved.Status)
		assert.Equal(t, 3, saved.Rows)
		assert.Equal(t, jobs.JobTypeIngestSource, saved.Type)
		assert.NotNil(t, saved.StartedAt)
		assert.NotNil(t, saved.CompletedAt)
	}

	assert.ErrorIs(t, q.Publish(ctx, &jobs.IngestJob{Source: "late"}), jobs.ErrQueueClosed)
}

func TestQueue_FailedJobKeepsError(t *testing.T) {
	store := NewStore()
	q := NewQueue(1, 1, store)
	ctx := context.Background()

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.IngestJob) error {
		return errors.New("provider down")
	}))
	job := &jobs.IngestJob{Source: "A"}
	require.NoError(t, q.Publish(ctx, job))
	require.NoError(t, q.Stop(ctx))

	saved, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, saved.Status)
	assert.Equal(t, "provider down", saved.Error)
}

func TestQueue_RetriesUntilSuccess(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	q.RetryBackoff = time.Millisecond
	q.MaxRetries = 2
	ctx := context.Background()

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.IngestJob) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}))

	job := &jobs.IngestJob{Source: "A"}
	require.NoError(t, q.Publish(ctx, job))

	require.Eventually(t, func() bool {
		saved, err := store.GetJob(ctx, job.JobID)
		return err == nil && saved.Done() && saved.Status == jobs.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, q.Stop(ctx))

	saved, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.RetryCount)
	assert.Equal(t, 2, saved.MaxRetries)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestStore_ListJobs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, src := range []string{"A", "B", "A"} {
		require.NoError(t, store.SaveJob(ctx, &jobs.IngestJob{
			JobID:     string(rune('1' + i)),
			Source:    src,
			Status:    jobs.JobStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].JobID)

	onlyA, err := store.ListJobs(ctx, jobs.JobFilter{Source: "A", Limit: 1})
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, "3", onlyA[0].JobID)

	_, err = store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	assert.ErrorIs(t, store.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, ""), jobs.ErrJobNotFound)
	require.NoError(t, store.UpdateJobStatus(ctx, "1", jobs.JobStatusFailed, "boom"))
	saved, err := store.GetJob(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, saved.Status)
	assert.Equal(t, "boom", saved.Error)
}

func TestQueue_PermanentFailureIsNotRetried(t *testing.T) {
	store := NewStore()
	q := NewQueue(4, 1, store)
	q.RetryBackoff = time.Millisecond
	q.MaxRetries = 3
	ctx := context.Background()

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.IngestJob) error {
		attempts.Add(1)
		return jobs.Permanent(errors.New("missing secret"))
	}))

	job := &jobs.IngestJob{Source: "A"}
	require.NoError(t, q.Publish(ctx, job))
	require.NoError(t, q.Stop(ctx))

	saved, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, saved.Status)
	assert.Equal(t, 0, saved.RetryCount)
	assert.Equal(t, "missing secret", saved.Error)
	assert.EqualValues(t, 1, attempts.Load())
}

func TestStore_ActiveJob(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, job := range []*jobs.IngestJob{
		{JobID: "done", Source: "A", Status: jobs.JobStatusCompleted, CreatedAt: base.Add(3 * time.Minute)},
		{JobID: "old", Source: "A", Status: jobs.JobStatusPending, CreatedAt: base},
		{JobID: "new", Source: "A", Status: jobs.JobStatusRetrying, CreatedAt: base.Add(time.Minute)},
		{JobID: "import", Source: "A", Type: jobs.JobTypeImportFile, Status: jobs.JobStatusRunning, CreatedAt: base.Add(2 * time.Minute)},
	} {
		require.NoError(t, store.SaveJob(ctx, job))
	}

	active, err := store.ActiveJob(ctx, jobs.JobTypeIngestSource, "A")
	require.NoError(t, err)
	assert.Equal(t, "new", active.JobID)

	active, err = store.ActiveJob(ctx, jobs.JobTypeImportFile, "A")
	require.NoError(t, err)
	assert.Equal(t, "import", active.JobID)

	_, err = store.ActiveJob(ctx, jobs.JobTypeIngestSource, "B")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	imports, err := store.ListJobs(ctx, jobs.JobFilter{Type: jobs.JobTypeImportFile})
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, "import", imports[0].JobID)
}

func TestStore_CopiesAreIndependent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	job := &jobs.IngestJob{JobID: "1", Source: "A", Status: jobs.JobStatusPending}
	require.NoError(t, store.SaveJob(ctx, job))
	job.Status = jobs.JobStatusRunning

	saved, err := store.GetJob(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, saved.Status)

	saved.Status = jobs.JobStatusFailed
	again, err := store.GetJob(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, again.Status)
}
