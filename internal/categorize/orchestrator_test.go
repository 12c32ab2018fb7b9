package categorize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gmaildispatch/internal/cache"
	"gmaildispatch/internal/rules"
	"gmaildispatch/internal/storage"
)

func newTestOrchestrator(t *testing.T, mode Mode) (*Orchestrator, *storage.Factory) {
	t.Helper()
	factory := storage.NewFactory(t.TempDir())
	t.Cleanup(func() { factory.CloseAll() })
	c := cache.New(time.Hour)
	t.Cleanup(c.Close)

	cfg := DefaultConfig()
	cfg.Rules = []rules.RawRule{
		{Name: "urgent", Type: "keyword", Terms: []string{"urgent"}, Weight: 3.0},
	}
	f, err := NewFactory(cfg, c)
	require.NoError(t, err)
	analyzers, err := f.BuildAll()
	require.NoError(t, err)

	return NewOrchestrator(factory, c, analyzers, cfg, mode), factory
}

func TestRunBatchCategorizesUncategorizedEmailsOnly(t *testing.T) {
	o, factory := newTestOrchestrator(t, ModeSequential)
	db, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)

	require.NoError(t, db.UpsertEmail(&storage.EmailIndex{
		ID: "msg-1", Sender: "boss@example.com", Subject: "urgent: please review", Date: time.Now().UTC(),
	}))

	result, err := o.RunBatch(context.Background(), "user-1", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Contains(t, result.EmailIDs, "msg-1")
	assert.Equal(t, 1, result.CategoryCounts["high"])

	got, err := db.GetEmail("msg-1")
	require.NoError(t, err)
	require.NotNil(t, got.Category)
	assert.Equal(t, storage.CategoryHigh, *got.Category)
}

func TestRunBatchSkipsAlreadyCategorizedEmailsWithoutForceRefresh(t *testing.T) {
	o, factory := newTestOrchestrator(t, ModeSequential)
	db, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)
	require.NoError(t, db.UpsertEmail(&storage.EmailIndex{
		ID: "msg-1", Sender: "boss@example.com", Subject: "urgent: please review", Date: time.Now().UTC(),
	}))

	first, err := o.RunBatch(context.Background(), "user-1", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)

	second, err := o.RunBatch(context.Background(), "user-1", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
}

func TestRunBatchForceRefreshReprocessesAll(t *testing.T) {
	o, factory := newTestOrchestrator(t, ModeSequential)
	db, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)
	require.NoError(t, db.UpsertEmail(&storage.EmailIndex{
		ID: "msg-1", Sender: "boss@example.com", Subject: "urgent: please review", Date: time.Now().UTC(),
	}))

	_, err = o.RunBatch(context.Background(), "user-1", BatchOptions{})
	require.NoError(t, err)

	second, err := o.RunBatch(context.Background(), "user-1", BatchOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)
}

func TestRunBatchRecordsErrorForEmailMissingContentAndSender(t *testing.T) {
	o, factory := newTestOrchestrator(t, ModeSequential)
	db, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)
	require.NoError(t, db.UpsertEmail(&storage.EmailIndex{
		ID: "msg-bad", Date: time.Now().UTC(),
	}))

	result, err := o.RunBatch(context.Background(), "user-1", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "msg-bad", result.Errors[0].EmailID)
}

func TestRunBatchParallelModeProducesSameCategoryAsSequential(t *testing.T) {
	o, factory := newTestOrchestrator(t, ModeParallel)
	db, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)
	require.NoError(t, db.UpsertEmail(&storage.EmailIndex{
		ID: "msg-1", Sender: "boss@example.com", Subject: "urgent: please review", Date: time.Now().UTC(),
	}))

	result, err := o.RunBatch(context.Background(), "user-1", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.CategoryCounts["high"])
}

func TestRunBatchOnEmptyCandidateSetReturnsZeroedResult(t *testing.T) {
	o, _ := newTestOrchestrator(t, ModeSequential)
	result, err := o.RunBatch(context.Background(), "user-1", BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, result.EmailIDs)
}
