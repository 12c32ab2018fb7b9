package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *UserDB {
	t.Helper()
	factory := NewFactory(t.TempDir())
	db, err := factory.DatabaseFor("user-1")
	require.NoError(t, err)
	t.Cleanup(func() { factory.CloseAll() })
	return db
}

func sampleEmail(id string) *EmailIndex {
	return &EmailIndex{
		ID:         id,
		ThreadID:   "thread-" + id,
		Sender:     "alice@example.com",
		Recipients: []string{"bob@example.com"},
		Subject:    "hello",
		Snippet:    "hi there",
		Labels:     []string{"INBOX"},
		Date:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Year:       2026,
		SizeBytes:  1024,
	}
}

func TestUpsertAndGetEmailRoundTrip(t *testing.T) {
	db := newTestDB(t)
	e := sampleEmail("msg-1")
	require.NoError(t, db.UpsertEmail(e))

	got, err := db.GetEmail("msg-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice@example.com", got.Sender)
	assert.Equal(t, []string{"bob@example.com"}, got.Recipients)
	assert.Equal(t, 2026, got.Year)
}

func TestUpsertEmailIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	e := sampleEmail("msg-1")
	require.NoError(t, db.UpsertEmail(e))

	e.Subject = "updated subject"
	require.NoError(t, db.UpsertEmail(e))

	got, err := db.GetEmail("msg-1")
	require.NoError(t, err)
	assert.Equal(t, "updated subject", got.Subject)
}

func TestGetEmailReturnsNilWhenMissing(t *testing.T) {
	db := newTestDB(t)
	got, err := db.GetEmail("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListEmailsFiltersByCriteria(t *testing.T) {
	db := newTestDB(t)
	high := CategoryHigh
	e1 := sampleEmail("msg-1")
	e1.Category = &high
	e2 := sampleEmail("msg-2")
	require.NoError(t, db.UpsertEmail(e1))
	require.NoError(t, db.UpsertEmail(e2))

	results, err := db.ListEmails(Criteria{Category: &high})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "msg-1", results[0].ID)
}

func TestArchiveEmailsMarksRowsArchived(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.UpsertEmail(sampleEmail("msg-1")))

	n, err := db.ArchiveEmails([]string{"msg-1"}, "gmail")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := db.GetEmail("msg-1")
	require.NoError(t, err)
	assert.True(t, got.Archived)
}

func TestDeleteEmailsSoftDeletesAndHidesFromGetEmail(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.UpsertEmail(sampleEmail("msg-1")))

	n, err := db.DeleteEmails([]string{"msg-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := db.GetEmail("msg-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteEmailsOnAlreadyDeletedRowDoesNotDoubleCount(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.UpsertEmail(sampleEmail("msg-1")))
	_, err := db.DeleteEmails([]string{"msg-1"})
	require.NoError(t, err)

	n, err := db.DeleteEmails([]string{"msg-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecordAccessBumpsCountAndStampsTimestamp(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.UpsertEmail(sampleEmail("msg-1")))

	at := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.RecordAccess("msg-1", at))

	got, err := db.GetEmail("msg-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastAccessedAt)
	assert.True(t, at.Equal(*got.LastAccessedAt))
	assert.Equal(t, 1, got.AccessCount)

	require.NoError(t, db.RecordAccess("msg-1", at.Add(time.Hour)))
	got, err = db.GetEmail("msg-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)
}

func TestRecordAccessOnMissingEmailReturnsError(t *testing.T) {
	db := newTestDB(t)
	err := db.RecordAccess("does-not-exist", time.Now())
	assert.Error(t, err)
}

func TestCreateListUpdateDeletePolicy(t *testing.T) {
	db := newTestDB(t)
	p := &CleanupPolicy{
		Name:     "archive-old-promos",
		Enabled:  true,
		Priority: 10,
		Criteria: CleanupCriteria{MinAgeDays: 180, MinPromotionalScore: 0.7},
		Action:   CleanupAction{Kind: "archive", Method: "gmail"},
		Safety:   CleanupSafety{MaxEmailsPerRun: 500, RequireConfirm: true},
	}
	created, err := db.CreatePolicy(p)
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	list, err := db.ListPolicies()
	require.NoError(t, err)
	require.Len(t, list, 1)

	updated, err := db.UpdatePolicy(created.ID, &CleanupPolicy{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.False(t, updated.Enabled)

	deleted, err := db.DeletePolicy(created.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err := db.GetPolicy(created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func int64Ptr(v int64) *int64 { return &v }

func TestSaveAndListSavedSearches(t *testing.T) {
	db := newTestDB(t)
	saved, err := db.SaveSearch("big-attachments", Criteria{MinSizeBytes: int64Ptr(10_000_000)})
	require.NoError(t, err)
	require.NotZero(t, saved.ID)

	list, err := db.ListSavedSearches()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "big-attachments", list[0].Name)
}
