package jobs

import (
	"fmt"

	"go.uber.org/zap"

	"gmaildispatch/internal/storage"
	"gmaildispatch/pkg/logger"
)

// Reconcile runs once at startup for every user with an open database
// handle. Any job left IN_PROGRESS from a previous process is reaped to
// FAILED — no worker in this process claimed it, so it cannot still be
// running — and every job still PENDING is re-enqueued, since the
// in-memory Queue does not survive a restart.
func Reconcile(factory *storage.Factory, store *Store, queue *Queue) error {
	log := logger.L().Named("jobs.reaper")
	for _, userID := range factory.OpenHandles() {
		if err := reconcileUser(log, store, queue, userID); err != nil {
			return fmt.Errorf("reconcile user %s: %w", userID, err)
		}
	}
	return nil
}

func reconcileUser(log *zap.Logger, store *Store, queue *Queue, userID string) error {
	orphaned, err := store.OrphanedInProgressIDs(userID)
	if err != nil {
		return err
	}
	for _, jobID := range orphaned {
		if err := store.Fail(userID, jobID, errOrphaned); err != nil {
			log.Error("failed to reap orphaned job", zap.String("user_id", userID), zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		log.Warn("reaped orphaned job", zap.String("user_id", userID), zap.String("job_id", jobID))
	}

	pending, err := store.PendingIDs(userID)
	if err != nil {
		return err
	}
	for _, jobID := range pending {
		queue.Enqueue(userID, jobID)
	}
	if len(pending) > 0 {
		log.Info("re-enqueued pending jobs", zap.String("user_id", userID), zap.Int("count", len(pending)))
	}
	return nil
}

type orphanedError struct{}

func (orphanedError) Error() string {
	return "orphaned: no live worker claimed this job before restart"
}

var errOrphaned = orphanedError{}
