package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gmaildispatch/internal/rpcerr"
	"gmaildispatch/internal/storage"
)

// --- authenticate ---

type authenticateResult struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func handleAuthenticate(d *Dispatcher, _ string, args map[string]any) (any, error) {
	userID, _ := args["user_id"].(string)
	if userID == "" {
		return nil, rpcerr.InvalidParams("authenticate requires user_id")
	}
	sess := d.bundle.Sessions.Create(userID)
	return authenticateResult{SessionID: sess.SessionID, UserID: sess.UserID, ExpiresAt: sess.ExpiresAt}, nil
}

// --- list_emails / search_emails ---

func handleListEmails(d *Dispatcher, userID string, args map[string]any) (any, error) {
	return listOrSearch(d, userID, args)
}

func handleSearchEmails(d *Dispatcher, userID string, args map[string]any) (any, error) {
	return listOrSearch(d, userID, args)
}

func listOrSearch(d *Dispatcher, userID string, args map[string]any) (any, error) {
	db, err := d.bundle.Storage.DatabaseFor(userID)
	if err != nil {
		return nil, rpcerr.Internal("opening user database", err)
	}
	criteria := parseCriteria(args)
	emails, err := db.ListEmails(criteria)
	if err != nil {
		return nil, rpcerr.Internal("listing emails", err)
	}
	recordEmailAccess(d, userID, emails)
	return map[string]any{"emails": emails, "count": len(emails)}, nil
}

// recordEmailAccess stamps every email surfaced by list_emails/search_emails
// as accessed, best-effort. A miss here only degrades the cleanup policy
// engine's access-recency signal, so a failure is logged and swallowed
// rather than turned into a tool error.
func recordEmailAccess(d *Dispatcher, userID string, emails []*storage.EmailIndex) {
	if len(emails) == 0 {
		return
	}
	db, err := d.bundle.Storage.DatabaseFor(userID)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	for _, e := range emails {
		if err := db.RecordAccess(e.ID, now); err != nil {
			d.log.Warn("recording email access", zap.String("email_id", e.ID), zap.Error(err))
		}
	}
}

func parseCriteria(args map[string]any) storage.Criteria {
	var c storage.Criteria
	if v, ok := args["category"].(string); ok && v != "" {
		cat := storage.Category(v)
		c.Category = &cat
	}
	if v, ok := args["year"].(float64); ok {
		year := int(v)
		c.Year = &year
	}
	if v, ok := args["archived"].(bool); ok {
		c.Archived = &v
	}
	if v, ok := args["has_attachments"].(bool); ok {
		c.HasAttachments = &v
	}
	if v, ok := args["sender"].(string); ok {
		c.SenderContains = v
	}
	if v, ok := args["query"].(string); ok {
		c.QueryText = v
	}
	if v, ok := args["importance_level"].(string); ok {
		c.ImportanceLevel = v
	}
	if sizeRange, ok := args["size_range"].(map[string]any); ok {
		if min, ok := sizeRange["min"].(float64); ok {
			m := int64(min)
			c.MinSizeBytes = &m
		}
		if max, ok := sizeRange["max"].(float64); ok {
			m := int64(max)
			c.MaxSizeBytes = &m
		}
	}
	if v, ok := args["limit"].(float64); ok {
		c.Limit = int(v)
	}
	if v, ok := args["offset"].(float64); ok {
		c.Offset = int(v)
	}
	return c
}

// --- categorize_emails ---

func handleCategorizeEmails(d *Dispatcher, userID string, args map[string]any) (any, error) {
	forceRefresh, _ := args["force_refresh"].(bool)
	var year *int
	if v, ok := args["year"].(float64); ok {
		y := int(v)
		year = &y
	}

	params, err := json.Marshal(map[string]any{"force_refresh": forceRefresh, "year": year})
	if err != nil {
		return nil, rpcerr.Internal("marshaling job params", err)
	}
	jobID, err := d.bundle.Jobs.Create(userID, "categorization", params)
	if err != nil {
		return nil, rpcerr.Internal("creating categorization job", err)
	}
	d.bundle.Queue.Enqueue(userID, jobID)
	return map[string]any{"job_id": jobID}, nil
}

// --- get_email_stats ---

func handleGetEmailStats(d *Dispatcher, userID string, args map[string]any) (any, error) {
	groupBy, _ := args["group_by"].(string)
	if groupBy == "" {
		groupBy = "all"
	}
	includeArchived, _ := args["include_archived"].(bool)

	db, err := d.bundle.Storage.DatabaseFor(userID)
	if err != nil {
		return nil, rpcerr.Internal("opening user database", err)
	}
	stats, err := db.Stats(groupBy, includeArchived)
	if err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}
	return stats, nil
}

// --- archive_emails ---

func handleArchiveEmails(d *Dispatcher, userID string, args map[string]any) (any, error) {
	db, err := d.bundle.Storage.DatabaseFor(userID)
	if err != nil {
		return nil, rpcerr.Internal("opening user database", err)
	}
	criteria := parseCriteria(args)
	method, _ := args["method"].(string)
	if method == "" {
		method = "gmail"
	}
	dryRun, _ := args["dry_run"].(bool)

	candidates, err := db.ListEmails(criteria)
	if err != nil {
		return nil, rpcerr.Internal("listing candidates", err)
	}
	if dryRun {
		return map[string]any{"dry_run": true, "candidates": candidates, "count": len(candidates)}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	if method == "gmail" {
		gsvc, err := d.gmailClientFor(context.Background(), userID)
		if err != nil {
			return nil, rpcerr.TransientExternalFailure("gmail client unavailable", err)
		}
		if err := gsvc.BatchModifyMessages(context.Background(), userID, ids, nil, []string{"INBOX"}); err != nil {
			return nil, rpcerr.Classify(fmt.Errorf("archiving via gmail: %w", err))
		}
	}

	n, err := db.ArchiveEmails(ids, method)
	if err != nil {
		return nil, rpcerr.Internal("archiving emails", err)
	}
	for _, id := range ids {
		db.RecordArchive(id, method, "")
	}
	d.bundle.Cache.Delete(cacheCategoryStatsKey(userID))
	return map[string]any{"archived": n}, nil
}

// --- delete_emails ---

func handleDeleteEmails(d *Dispatcher, userID string, args map[string]any) (any, error) {
	db, err := d.bundle.Storage.DatabaseFor(userID)
	if err != nil {
		return nil, rpcerr.Internal("opening user database", err)
	}
	criteria := parseCriteria(args)
	dryRun, _ := args["dry_run"].(bool)

	candidates, err := db.ListEmails(criteria)
	if err != nil {
		return nil, rpcerr.Internal("listing candidates", err)
	}
	if dryRun {
		return map[string]any{"dry_run": true, "candidates": candidates, "count": len(candidates)}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	gsvc, err := d.gmailClientFor(context.Background(), userID)
	if err != nil {
		return nil, rpcerr.TransientExternalFailure("gmail client unavailable", err)
	}
	if err := gsvc.BatchTrashMessages(context.Background(), userID, ids); err != nil {
		return nil, rpcerr.Classify(fmt.Errorf("trashing via gmail: %w", err))
	}

	n, err := db.DeleteEmails(ids)
	if err != nil {
		return nil, rpcerr.Internal("deleting emails", err)
	}
	d.bundle.Cache.Delete(cacheCategoryStatsKey(userID))
	return map[string]any{"deleted": n}, nil
}

// --- get_job_status ---

func handleGetJobStatus(d *Dispatcher, userID string, args map[string]any) (any, error) {
	jobID, _ := args["id"].(string)
	if jobID == "" {
		return nil, rpcerr.InvalidParams("get_job_status requires id")
	}
	job, err := d.bundle.Jobs.Get(userID, jobID)
	if err != nil {
		return nil, rpcerr.Internal("loading job", err)
	}
	if job == nil {
		return nil, rpcerr.NotFound(fmt.Sprintf("job %s not found", jobID))
	}
	return job, nil
}

// --- cleanup policy CRUD ---

func handleCreateCleanupPolicy(d *Dispatcher, userID string, args map[string]any) (any, error) {
	p, err := decodePolicy(args)
	if err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}
	created, err := d.bundle.Policies.Create(userID, p)
	if err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}
	return created, nil
}

func handleUpdateCleanupPolicy(d *Dispatcher, userID string, args map[string]any) (any, error) {
	id, ok := args["id"].(float64)
	if !ok {
		return nil, rpcerr.InvalidParams("update_cleanup_policy requires id")
	}
	patch, err := decodePolicy(args)
	if err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}
	updated, err := d.bundle.Policies.Update(userID, int64(id), patch)
	if err != nil {
		return nil, rpcerr.Internal("updating policy", err)
	}
	if updated == nil {
		return nil, rpcerr.NotFound(fmt.Sprintf("policy %d not found", int64(id)))
	}
	return updated, nil
}

func handleListCleanupPolicies(d *Dispatcher, userID string, _ map[string]any) (any, error) {
	list, err := d.bundle.Policies.List(userID)
	if err != nil {
		return nil, rpcerr.Internal("listing policies", err)
	}
	return list, nil
}

func handleDeleteCleanupPolicy(d *Dispatcher, userID string, args map[string]any) (any, error) {
	id, ok := args["id"].(float64)
	if !ok {
		return nil, rpcerr.InvalidParams("delete_cleanup_policy requires id")
	}
	deleted, err := d.bundle.Policies.Delete(userID, int64(id))
	if err != nil {
		return nil, rpcerr.Internal("deleting policy", err)
	}
	if !deleted {
		return nil, rpcerr.NotFound(fmt.Sprintf("policy %d not found", int64(id)))
	}
	return map[string]any{"deleted": true}, nil
}

func decodePolicy(args map[string]any) (*storage.CleanupPolicy, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var p storage.CleanupPolicy
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("malformed policy: %w", err)
	}
	return &p, nil
}

// --- trigger_cleanup ---

func handleTriggerCleanup(d *Dispatcher, userID string, args map[string]any) (any, error) {
	policyID, ok := args["policy_id"].(float64)
	if !ok {
		return nil, rpcerr.InvalidParams("trigger_cleanup requires policy_id")
	}
	dryRun, _ := args["dry_run"].(bool)
	force, _ := args["force"].(bool)
	maxEmails := 0
	if v, ok := args["max_emails"].(float64); ok {
		maxEmails = int(v)
	}

	result, err := d.bundle.Policies.Trigger(userID, int64(policyID), struct {
		DryRun    bool
		MaxEmails int
		Force     bool
	}{dryRun, maxEmails, force})
	if err != nil {
		return nil, rpcerr.InvalidParams(err.Error())
	}
	return result, nil
}

// --- create_cleanup_schedule ---

func handleCreateCleanupSchedule(d *Dispatcher, userID string, args map[string]any) (any, error) {
	db, err := d.bundle.Storage.DatabaseFor(userID)
	if err != nil {
		return nil, rpcerr.Internal("opening user database", err)
	}
	schedType, _ := args["type"].(string)
	expression, _ := args["expression"].(string)
	policyID, _ := args["policy_id"].(float64)
	enabled, _ := args["enabled"].(bool)
	if schedType == "" || expression == "" || policyID == 0 {
		return nil, rpcerr.InvalidParams("create_cleanup_schedule requires type, expression, policy_id")
	}

	sched := &storage.CleanupSchedule{
		PolicyID:   int64(policyID),
		Type:       schedType,
		Expression: expression,
		Enabled:    enabled,
	}
	created, err := db.CreateSchedule(sched)
	if err != nil {
		return nil, rpcerr.Internal("creating schedule", err)
	}
	return created, nil
}

// --- saved searches ---

func handleSaveSearch(d *Dispatcher, userID string, args map[string]any) (any, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, rpcerr.InvalidParams("save_search requires name")
	}
	criteriaArgs, _ := args["criteria"].(map[string]any)
	criteria := parseCriteria(criteriaArgs)

	db, err := d.bundle.Storage.DatabaseFor(userID)
	if err != nil {
		return nil, rpcerr.Internal("opening user database", err)
	}
	saved, err := db.SaveSearch(name, criteria)
	if err != nil {
		return nil, rpcerr.Internal("saving search", err)
	}
	return saved, nil
}

func handleListSavedSearches(d *Dispatcher, userID string, _ map[string]any) (any, error) {
	db, err := d.bundle.Storage.DatabaseFor(userID)
	if err != nil {
		return nil, rpcerr.Internal("opening user database", err)
	}
	list, err := db.ListSavedSearches()
	if err != nil {
		return nil, rpcerr.Internal("listing saved searches", err)
	}
	return list, nil
}

func cacheCategoryStatsKey(userID string) string {
	return fmt.Sprintf("user:%s:category-stats", userID)
}
