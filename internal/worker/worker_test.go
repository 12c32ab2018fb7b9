package worker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gmaildispatch/internal/cache"
	"gmaildispatch/internal/categorize"
	"gmaildispatch/internal/jobs"
	"gmaildispatch/internal/rules"
	"gmaildispatch/internal/storage"
)

func newTestPool(t *testing.T) (*Pool, *storage.Factory, *jobs.Store, *jobs.Queue) {
	t.Helper()
	factory := storage.NewFactory(t.TempDir())
	t.Cleanup(func() { factory.CloseAll() })
	store := jobs.NewStore(factory)
	queue := jobs.NewQueue()

	c := cache.New(time.Hour)
	t.Cleanup(c.Close)
	cfg := categorize.DefaultConfig()
	cfg.Rules = []rules.RawRule{{Type: "no_reply"}}
	af, err := categorize.NewFactory(cfg, c)
	require.NoError(t, err)
	analyzers, err := af.BuildAll()
	require.NoError(t, err)
	orchestrator := categorize.NewOrchestrator(factory, c, analyzers, cfg, categorize.ModeSequential)

	pool := NewPool(queue, store, orchestrator, factory, nil, nil)
	return pool, factory, store, queue
}

func TestPoolProcessesCategorizationJobToCompletion(t *testing.T) {
	pool, factory, store, queue := newTestPool(t)
	db, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)
	require.NoError(t, db.UpsertEmail(&storage.EmailIndex{
		ID: "msg-1", Sender: "noreply@example.com", Subject: "your receipt", Date: time.Now().UTC(),
	}))

	jobID, err := store.Create("user-1", "categorization", nil)
	require.NoError(t, err)

	pool.Start(1)
	queue.Enqueue("user-1", jobID)

	deadline := time.Now().Add(2 * time.Second)
	var job *storage.Job
	for time.Now().Before(deadline) {
		job, err = store.Get("user-1", jobID)
		require.NoError(t, err)
		if job.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	pool.Stop()

	require.NotNil(t, job)
	assert.Equal(t, storage.JobCompleted, job.Status)
	assert.NotEmpty(t, job.Results)
}

func TestPoolFailsJobWithUnsupportedType(t *testing.T) {
	pool, _, store, queue := newTestPool(t)
	jobID, err := store.Create("user-1", "not_a_real_type", nil)
	require.NoError(t, err)

	pool.Start(1)
	queue.Enqueue("user-1", jobID)

	deadline := time.Now().Add(2 * time.Second)
	var job *storage.Job
	for time.Now().Before(deadline) {
		job, err = store.Get("user-1", jobID)
		require.NoError(t, err)
		if job.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	pool.Stop()

	require.NotNil(t, job)
	assert.Equal(t, storage.JobFailed, job.Status)
}

func TestPoolSkipsJobAlreadyClaimed(t *testing.T) {
	pool, _, store, queue := newTestPool(t)
	jobID, err := store.Create("user-1", "categorization", nil)
	require.NoError(t, err)
	claimed, err := store.Claim("user-1", jobID)
	require.NoError(t, err)
	require.True(t, claimed)

	pool.Start(1)
	queue.Enqueue("user-1", jobID)
	time.Sleep(200 * time.Millisecond)
	pool.Stop()

	job, err := store.Get("user-1", jobID)
	require.NoError(t, err)
	assert.Equal(t, storage.JobInProgress, job.Status)
}

func TestPoolCleanupJobWithNoEmailIDsCompletesTrivially(t *testing.T) {
	pool, _, store, queue := newTestPool(t)
	params := cleanupJobParams{Action: storage.CleanupAction{Kind: "archive", Method: "gmail"}}
	payload, err := json.Marshal(params)
	require.NoError(t, err)

	jobID, err := store.Create("user-1", "cleanup", payload)
	require.NoError(t, err)

	pool.Start(1)
	queue.Enqueue("user-1", jobID)

	deadline := time.Now().Add(2 * time.Second)
	var job *storage.Job
	for time.Now().Before(deadline) {
		job, err = store.Get("user-1", jobID)
		require.NoError(t, err)
		if job.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	pool.Stop()

	require.NotNil(t, job)
	assert.Equal(t, storage.JobCompleted, job.Status)
}

func TestPoolCleanupJobWithoutCredentialsFails(t *testing.T) {
	pool, _, store, queue := newTestPool(t)
	params := cleanupJobParams{EmailIDs: []string{"msg-1"}, Action: storage.CleanupAction{Kind: "archive", Method: "gmail"}}
	payload, err := json.Marshal(params)
	require.NoError(t, err)

	jobID, err := store.Create("user-1", "cleanup", payload)
	require.NoError(t, err)

	pool.Start(1)
	queue.Enqueue("user-1", jobID)

	deadline := time.Now().Add(2 * time.Second)
	var job *storage.Job
	for time.Now().Before(deadline) {
		job, err = store.Get("user-1", jobID)
		require.NoError(t, err)
		if job.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	pool.Stop()

	require.NotNil(t, job)
	assert.Equal(t, storage.JobFailed, job.Status)
	assert.Contains(t, job.ErrorDetails, "not configured")
}
