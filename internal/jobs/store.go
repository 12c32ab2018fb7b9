// Package jobs implements the asynchronous job-processing substrate: a
// durable, user-scoped Job Status Store and an in-memory dispatch queue
// that together let long-running tool calls (categorize_emails,
// apply_cleanup_policy, ...) return immediately with a job id and let
// callers poll for completion.
package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gmaildispatch/internal/storage"
	"gmaildispatch/pkg/logger"
)

// Store is the durable Job Status Store. It is a thin, user-scoping layer
// over storage.Factory — every call resolves the caller's UserDB and never
// accepts a user id that diverges from the one passed in.
type Store struct {
	factory *storage.Factory
	log     *zap.Logger
}

// NewStore constructs a Job Status Store backed by factory.
func NewStore(factory *storage.Factory) *Store {
	return &Store{factory: factory, log: logger.L().Named("jobs.store")}
}

// Create inserts a new PENDING job and returns its freshly generated id.
func (s *Store) Create(userID, jobType string, requestParams []byte) (string, error) {
	db, err := s.factory.DatabaseFor(userID)
	if err != nil {
		return "", fmt.Errorf("jobs.Create: %w", err)
	}
	jobID := uuid.NewString()
	job := storage.Job{
		JobID:         jobID,
		UserID:        userID,
		JobType:       jobType,
		Status:        storage.JobPending,
		RequestParams: requestParams,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.InsertJob(job); err != nil {
		return "", fmt.Errorf("jobs.Create: %w", err)
	}
	s.log.Info("job created", zap.String("user_id", userID), zap.String("job_id", jobID), zap.String("job_type", jobType))
	return jobID, nil
}

// Get returns a job by id, scoped to userID, or nil if it does not exist.
func (s *Store) Get(userID, jobID string) (*storage.Job, error) {
	db, err := s.factory.DatabaseFor(userID)
	if err != nil {
		return nil, fmt.Errorf("jobs.Get: %w", err)
	}
	job, err := db.GetJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("jobs.Get: %w", err)
	}
	return job, nil
}

// Claim performs the compare-and-set PENDING -> IN_PROGRESS transition a
// worker needs before it may safely start executing a job. claimed is
// false if another worker already claimed it first.
func (s *Store) Claim(userID, jobID string) (claimed bool, err error) {
	db, err := s.factory.DatabaseFor(userID)
	if err != nil {
		return false, fmt.Errorf("jobs.Claim: %w", err)
	}
	claimed, err = db.ClaimJob(jobID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("jobs.Claim: %w", err)
	}
	return claimed, nil
}

// Progress records incremental progress on an in-progress job.
func (s *Store) Progress(userID, jobID string, percent int) error {
	db, err := s.factory.DatabaseFor(userID)
	if err != nil {
		return fmt.Errorf("jobs.Progress: %w", err)
	}
	return db.UpdateJob(jobID, storage.JobUpdate{Progress: &percent})
}

// Complete transitions a job to COMPLETED with its final results payload.
func (s *Store) Complete(userID, jobID string, results []byte) error {
	db, err := s.factory.DatabaseFor(userID)
	if err != nil {
		return fmt.Errorf("jobs.Complete: %w", err)
	}
	status := storage.JobCompleted
	now := time.Now().UTC()
	full := 100
	err = db.UpdateJob(jobID, storage.JobUpdate{
		Status:      &status,
		Results:     results,
		CompletedAt: &now,
		Progress:    &full,
	})
	if err != nil {
		return fmt.Errorf("jobs.Complete: %w", err)
	}
	s.log.Info("job completed", zap.String("user_id", userID), zap.String("job_id", jobID))
	return nil
}

// Fail transitions a job to FAILED with the given error detail.
func (s *Store) Fail(userID, jobID string, reason error) error {
	db, err := s.factory.DatabaseFor(userID)
	if err != nil {
		return fmt.Errorf("jobs.Fail: %w", err)
	}
	status := storage.JobFailed
	now := time.Now().UTC()
	detail := reason.Error()
	err = db.UpdateJob(jobID, storage.JobUpdate{
		Status:       &status,
		ErrorDetails: &detail,
		CompletedAt:  &now,
	})
	if err != nil {
		return fmt.Errorf("jobs.Fail: %w", err)
	}
	s.log.Warn("job failed", zap.String("user_id", userID), zap.String("job_id", jobID), zap.Error(reason))
	return nil
}

// List returns jobs for userID matching filter.
func (s *Store) List(userID string, filter storage.JobFilter) ([]*storage.Job, error) {
	db, err := s.factory.DatabaseFor(userID)
	if err != nil {
		return nil, fmt.Errorf("jobs.List: %w", err)
	}
	list, err := db.ListJobs(filter)
	if err != nil {
		return nil, fmt.Errorf("jobs.List: %w", err)
	}
	return list, nil
}

// PendingIDs returns job ids still PENDING for userID — used at startup to
// rebuild the in-memory queue from durable state.
func (s *Store) PendingIDs(userID string) ([]string, error) {
	db, err := s.factory.DatabaseFor(userID)
	if err != nil {
		return nil, fmt.Errorf("jobs.PendingIDs: %w", err)
	}
	return db.JobIDsByStatus(storage.JobPending)
}

// OrphanedInProgressIDs returns job ids stuck IN_PROGRESS for userID — the
// set the reaper reconciles to FAILED on startup, since no worker can have
// a live claim on them immediately after a process restart.
func (s *Store) OrphanedInProgressIDs(userID string) ([]string, error) {
	db, err := s.factory.DatabaseFor(userID)
	if err != nil {
		return nil, fmt.Errorf("jobs.OrphanedInProgressIDs: %w", err)
	}
	return db.JobIDsByStatus(storage.JobInProgress)
}

// DeleteOlderThan purges terminal job records older than cutoff for
// userID, returning the number removed.
func (s *Store) DeleteOlderThan(userID string, cutoff time.Time) (int, error) {
	db, err := s.factory.DatabaseFor(userID)
	if err != nil {
		return 0, fmt.Errorf("jobs.DeleteOlderThan: %w", err)
	}
	return db.DeleteJobsOlderThan(cutoff)
}
