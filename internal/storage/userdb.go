package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// UserDB is a single user's logical database handle. It is never
// constructed directly by callers outside this package — Factory.DatabaseFor
// is the only way to obtain one — so every method implicitly operates on
// exactly the user it was opened for.
type UserDB struct {
	sql    *sql.DB
	userID string
	log    *zap.Logger
}

// UserID returns the user this handle is bound to.
func (db *UserDB) UserID() string { return db.userID }

// ---- email_index ----

// UpsertEmail inserts a new email index row or replaces an existing one by
// id. It never accepts or infers a user id — the row belongs implicitly to
// this handle's user because it lives in this handle's database file.
func (db *UserDB) UpsertEmail(e *EmailIndex) error {
	recipients, _ := json.Marshal(e.Recipients)
	labelsJSON, _ := json.Marshal(e.Labels)
	matchedRules, _ := json.Marshal(e.ImportanceMatchedRules)

	var category sql.NullString
	if e.Category != nil {
		category = sql.NullString{String: string(*e.Category), Valid: true}
	}
	var archiveDate, analysisTS, lastAccessedAt sql.NullString
	if e.ArchiveDate != nil {
		archiveDate = sql.NullString{String: e.ArchiveDate.UTC().Format(time.RFC3339), Valid: true}
	}
	if e.AnalysisTimestamp != nil {
		analysisTS = sql.NullString{String: e.AnalysisTimestamp.UTC().Format(time.RFC3339), Valid: true}
	}
	if e.LastAccessedAt != nil {
		lastAccessedAt = sql.NullString{String: e.LastAccessedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := db.sql.Exec(`
INSERT INTO email_index (
	id, thread_id, sender, recipients, subject, snippet, labels, has_attachments,
	date, year, size_bytes, category, archived, archive_date, archive_location,
	importance_level, importance_score, importance_matched_rules, age_category,
	size_category, gmail_category, spam_score, promotional_score, social_score,
	analysis_timestamp, analysis_version, deleted, last_accessed_at, access_count
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
	thread_id=excluded.thread_id, sender=excluded.sender, recipients=excluded.recipients,
	subject=excluded.subject, snippet=excluded.snippet, labels=excluded.labels,
	has_attachments=excluded.has_attachments, date=excluded.date, year=excluded.year,
	size_bytes=excluded.size_bytes, category=excluded.category, archived=excluded.archived,
	archive_date=excluded.archive_date, archive_location=excluded.archive_location,
	importance_level=excluded.importance_level, importance_score=excluded.importance_score,
	importance_matched_rules=excluded.importance_matched_rules, age_category=excluded.age_category,
	size_category=excluded.size_category, gmail_category=excluded.gmail_category,
	spam_score=excluded.spam_score, promotional_score=excluded.promotional_score,
	social_score=excluded.social_score, analysis_timestamp=excluded.analysis_timestamp,
	analysis_version=excluded.analysis_version, deleted=excluded.deleted,
	last_accessed_at=excluded.last_accessed_at, access_count=excluded.access_count
`,
		e.ID, e.ThreadID, e.Sender, string(recipients), e.Subject, e.Snippet, string(labelsJSON), e.HasAttachments,
		e.Date.UTC().Format(time.RFC3339), e.Year, e.SizeBytes, category, e.Archived, archiveDate, e.ArchiveLocation,
		e.ImportanceLevel, e.ImportanceScore, string(matchedRules), e.AgeCategory,
		e.SizeCategory, e.GmailCategory, e.SpamScore, e.PromotionalScore, e.SocialScore,
		analysisTS, e.AnalysisVersion, e.Deleted, lastAccessedAt, e.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("upsert email %s: %w", e.ID, err)
	}
	return nil
}

// GetEmail returns a single email by id, or nil if not present (NotFound is
// the caller's responsibility to raise — this layer never leaks existence
// information beyond "found or not").
func (db *UserDB) GetEmail(id string) (*EmailIndex, error) {
	row := db.sql.QueryRow(emailSelectColumns+" FROM email_index WHERE id = ? AND deleted = 0", id)
	e, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email %s: %w", id, err)
	}
	return e, nil
}

const emailSelectColumns = `SELECT
	id, thread_id, sender, recipients, subject, snippet, labels, has_attachments,
	date, year, size_bytes, category, archived, archive_date, archive_location,
	importance_level, importance_score, importance_matched_rules, age_category,
	size_category, gmail_category, spam_score, promotional_score, social_score,
	analysis_timestamp, analysis_version, deleted, last_accessed_at, access_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner) (*EmailIndex, error) {
	var (
		e                                                       EmailIndex
		recipientsJSON, labelsJSON, rulesJSON                   string
		category, archiveDate, analysisTimestamp, lastAccessed  sql.NullString
		dateStr                                                 string
	)
	err := row.Scan(
		&e.ID, &e.ThreadID, &e.Sender, &recipientsJSON, &e.Subject, &e.Snippet, &labelsJSON, &e.HasAttachments,
		&dateStr, &e.Year, &e.SizeBytes, &category, &e.Archived, &archiveDate, &e.ArchiveLocation,
		&e.ImportanceLevel, &e.ImportanceScore, &rulesJSON, &e.AgeCategory,
		&e.SizeCategory, &e.GmailCategory, &e.SpamScore, &e.PromotionalScore, &e.SocialScore,
		&analysisTimestamp, &e.AnalysisVersion, &e.Deleted, &lastAccessed, &e.AccessCount,
	)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(recipientsJSON), &e.Recipients)
	json.Unmarshal([]byte(labelsJSON), &e.Labels)
	json.Unmarshal([]byte(rulesJSON), &e.ImportanceMatchedRules)
	if t, err := time.Parse(time.RFC3339, dateStr); err == nil {
		e.Date = t
	}
	if category.Valid {
		c := Category(category.String)
		e.Category = &c
	}
	if archiveDate.Valid {
		if t, err := time.Parse(time.RFC3339, archiveDate.String); err == nil {
			e.ArchiveDate = &t
		}
	}
	if analysisTimestamp.Valid {
		if t, err := time.Parse(time.RFC3339, analysisTimestamp.String); err == nil {
			e.AnalysisTimestamp = &t
		}
	}
	if lastAccessed.Valid {
		if t, err := time.Parse(time.RFC3339, lastAccessed.String); err == nil {
			e.LastAccessedAt = &t
		}
	}
	return &e, nil
}

// buildWhere translates a Criteria bag into a WHERE clause and its
// positional arguments. Deleted rows are always excluded; Criteria has no
// option to include them (delete_emails history is out of scope; deleted
// rows are simply hidden).
func buildWhere(c Criteria) (string, []any) {
	clauses := []string{"deleted = 0"}
	var args []any

	if c.Category != nil {
		clauses = append(clauses, "category = ?")
		args = append(args, string(*c.Category))
	}
	if c.Year != nil {
		clauses = append(clauses, "year = ?")
		args = append(args, *c.Year)
	}
	if c.Archived != nil {
		clauses = append(clauses, "archived = ?")
		args = append(args, *c.Archived)
	}
	if c.MinSizeBytes != nil {
		clauses = append(clauses, "size_bytes >= ?")
		args = append(args, *c.MinSizeBytes)
	}
	if c.MaxSizeBytes != nil {
		clauses = append(clauses, "size_bytes <= ?")
		args = append(args, *c.MaxSizeBytes)
	}
	if c.DateFrom != nil {
		clauses = append(clauses, "date >= ?")
		args = append(args, c.DateFrom.UTC().Format(time.RFC3339))
	}
	if c.DateTo != nil {
		clauses = append(clauses, "date <= ?")
		args = append(args, c.DateTo.UTC().Format(time.RFC3339))
	}
	if c.SenderContains != "" {
		clauses = append(clauses, "sender LIKE ?")
		args = append(args, "%"+c.SenderContains+"%")
	}
	if c.ImportanceLevel != "" {
		clauses = append(clauses, "importance_level = ?")
		args = append(args, c.ImportanceLevel)
	}
	if c.HasAttachments != nil {
		clauses = append(clauses, "has_attachments = ?")
		args = append(args, *c.HasAttachments)
	}
	if c.QueryText != "" {
		clauses = append(clauses, "(subject LIKE ? OR snippet LIKE ?)")
		args = append(args, "%"+c.QueryText+"%", "%"+c.QueryText+"%")
	}
	for _, l := range c.Labels {
		clauses = append(clauses, "labels LIKE ?")
		args = append(args, "%\""+l+"\"%")
	}

	return strings.Join(clauses, " AND "), args
}

// ListEmails returns emails matching criteria, implicitly scoped to this
// handle's user.
func (db *UserDB) ListEmails(c Criteria) ([]*EmailIndex, error) {
	where, args := buildWhere(c)
	query := emailSelectColumns + " FROM email_index WHERE " + where + " ORDER BY date DESC"
	if c.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, c.Limit)
		if c.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, c.Offset)
		}
	}
	rows, err := db.sql.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	var out []*EmailIndex
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning email row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEmails returns the count of emails matching criteria.
func (db *UserDB) CountEmails(c Criteria) (int, error) {
	where, args := buildWhere(c)
	row := db.sql.QueryRow("SELECT COUNT(*) FROM email_index WHERE "+where, args...)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return n, nil
}

// UncategorizedEmails returns emails with category IS NULL, optionally
// filtered by year — the candidate set categorize_emails uses when
// force_refresh is false.
func (db *UserDB) UncategorizedEmails(year *int) ([]*EmailIndex, error) {
	clauses := []string{"deleted = 0", "category IS NULL"}
	var args []any
	if year != nil {
		clauses = append(clauses, "year = ?")
		args = append(args, *year)
	}
	query := emailSelectColumns + " FROM email_index WHERE " + strings.Join(clauses, " AND ") + " ORDER BY date DESC"
	rows, err := db.sql.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list uncategorized emails: %w", err)
	}
	defer rows.Close()
	var out []*EmailIndex
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AllEmails returns every non-deleted email, optionally filtered by year —
// the candidate set when force_refresh is true.
func (db *UserDB) AllEmails(year *int) ([]*EmailIndex, error) {
	c := Criteria{Year: year}
	return db.ListEmails(c)
}

// ArchiveEmails marks the given ids archived at location, and returns the
// number of rows updated.
func (db *UserDB) ArchiveEmails(ids []string, location string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now().UTC().Format(time.RFC3339)
	n := 0
	for _, id := range ids {
		res, err := db.sql.Exec(`UPDATE email_index SET archived = 1, archive_date = ?, archive_location = ? WHERE id = ? AND deleted = 0`,
			now, location, id)
		if err != nil {
			return n, fmt.Errorf("archive email %s: %w", id, err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			n++
		}
	}
	return n, nil
}

// RecordAccess stamps an email as accessed at the given time and bumps its
// access counter. Called for every email a list_emails/search_emails
// response surfaces, so the cleanup policy engine can later favor
// recently-read emails for retention over untouched ones.
func (db *UserDB) RecordAccess(id string, at time.Time) error {
	res, err := db.sql.Exec(`UPDATE email_index SET last_accessed_at = ?, access_count = access_count + 1 WHERE id = ? AND deleted = 0`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("record access for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record access for %s: not found", id)
	}
	return nil
}

// DeleteEmails soft-deletes the given ids and returns the number affected.
func (db *UserDB) DeleteEmails(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n := 0
	for _, id := range ids {
		res, err := db.sql.Exec(`UPDATE email_index SET deleted = 1 WHERE id = ? AND deleted = 0`, id)
		if err != nil {
			return n, fmt.Errorf("delete email %s: %w", id, err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			n++
		}
	}
	return n, nil
}

// UpdateEnrichment persists analyzer output for a single email: category
// plus every enrichment field. Called by the orchestrator after combining
// analyzer verdicts.
func (db *UserDB) UpdateEnrichment(e *EmailIndex) error {
	return db.UpsertEmail(e)
}

// Stats computes the aggregate distribution requested by get_email_stats.
func (db *UserDB) Stats(groupBy string, includeArchived bool) (*CategoryStats, error) {
	where := "deleted = 0"
	if !includeArchived {
		where += " AND archived = 0"
	}

	column := ""
	switch groupBy {
	case "category":
		column = "COALESCE(category, 'UNCATEGORIZED')"
	case "year":
		column = "CAST(year AS TEXT)"
	case "archived":
		column = "CASE WHEN archived = 1 THEN 'archived' ELSE 'active' END"
	case "size":
		column = "COALESCE(size_category, 'unknown')"
	case "all", "":
		row := db.sql.QueryRow("SELECT COUNT(*) FROM email_index WHERE " + where)
		var total int
		if err := row.Scan(&total); err != nil {
			return nil, fmt.Errorf("stats(all): %w", err)
		}
		return &CategoryStats{GroupBy: "all", Counts: map[string]int{"total": total}}, nil
	default:
		return nil, fmt.Errorf("unsupported group_by: %s", groupBy)
	}

	rows, err := db.sql.Query(fmt.Sprintf("SELECT %s AS bucket, COUNT(*) FROM email_index WHERE %s GROUP BY bucket", column, where))
	if err != nil {
		return nil, fmt.Errorf("stats(%s): %w", groupBy, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var bucket string
		var n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, err
		}
		counts[bucket] = n
	}
	return &CategoryStats{GroupBy: groupBy, Counts: counts}, rows.Err()
}

// ---- saved_searches ----

func (db *UserDB) SaveSearch(name string, c Criteria) (*SavedSearch, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal criteria: %w", err)
	}
	now := time.Now().UTC()
	res, err := db.sql.Exec(`INSERT INTO saved_searches (name, criteria, created_at) VALUES (?,?,?)`,
		name, string(b), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("save search: %w", err)
	}
	id, _ := res.LastInsertId()
	return &SavedSearch{ID: id, UserID: db.userID, Name: name, Criteria: c, CreatedAt: now}, nil
}

func (db *UserDB) ListSavedSearches() ([]*SavedSearch, error) {
	rows, err := db.sql.Query(`SELECT id, name, criteria, created_at FROM saved_searches ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list saved searches: %w", err)
	}
	defer rows.Close()

	var out []*SavedSearch
	for rows.Next() {
		var s SavedSearch
		var criteriaJSON, createdAt string
		if err := rows.Scan(&s.ID, &s.Name, &criteriaJSON, &createdAt); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(criteriaJSON), &s.Criteria)
		s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		s.UserID = db.userID
		out = append(out, &s)
	}
	return out, rows.Err()
}

// ---- cleanup_policies ----

func (db *UserDB) CreatePolicy(p *CleanupPolicy) (*CleanupPolicy, error) {
	criteriaJSON, _ := json.Marshal(p.Criteria)
	actionJSON, _ := json.Marshal(p.Action)
	safetyJSON, _ := json.Marshal(p.Safety)
	now := time.Now().UTC()

	res, err := db.sql.Exec(`INSERT INTO cleanup_policies (name, enabled, priority, criteria, action, safety, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		p.Name, p.Enabled, p.Priority, string(criteriaJSON), string(actionJSON), string(safetyJSON),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	id, _ := res.LastInsertId()
	p.ID = id
	p.UserID = db.userID
	p.CreatedAt = now
	p.UpdatedAt = now
	return p, nil
}

func (db *UserDB) GetPolicy(id int64) (*CleanupPolicy, error) {
	row := db.sql.QueryRow(`SELECT id, name, enabled, priority, criteria, action, safety, created_at, updated_at
		FROM cleanup_policies WHERE id = ?`, id)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy %d: %w", id, err)
	}
	p.UserID = db.userID
	return p, nil
}

func scanPolicy(row rowScanner) (*CleanupPolicy, error) {
	var p CleanupPolicy
	var criteriaJSON, actionJSON, safetyJSON, createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Enabled, &p.Priority, &criteriaJSON, &actionJSON, &safetyJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(criteriaJSON), &p.Criteria)
	json.Unmarshal([]byte(actionJSON), &p.Action)
	json.Unmarshal([]byte(safetyJSON), &p.Safety)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

func (db *UserDB) ListPolicies() ([]*CleanupPolicy, error) {
	rows, err := db.sql.Query(`SELECT id, name, enabled, priority, criteria, action, safety, created_at, updated_at
		FROM cleanup_policies ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []*CleanupPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		p.UserID = db.userID
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePolicy merges non-zero fields from patch into the stored policy and
// returns the merged result. Enabled is a plain bool and is always taken
// from patch.
func (db *UserDB) UpdatePolicy(id int64, patch *CleanupPolicy) (*CleanupPolicy, error) {
	existing, err := db.GetPolicy(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	if patch.Name != "" {
		existing.Name = patch.Name
	}
	existing.Enabled = patch.Enabled
	if patch.Priority != 0 {
		existing.Priority = patch.Priority
	}
	if (patch.Criteria != CleanupCriteria{}) {
		existing.Criteria = patch.Criteria
	}
	if patch.Action.Kind != "" {
		existing.Action = patch.Action
	}
	if (patch.Safety != CleanupSafety{}) {
		existing.Safety = patch.Safety
	}

	criteriaJSON, _ := json.Marshal(existing.Criteria)
	actionJSON, _ := json.Marshal(existing.Action)
	safetyJSON, _ := json.Marshal(existing.Safety)
	now := time.Now().UTC()

	_, err = db.sql.Exec(`UPDATE cleanup_policies SET name=?, enabled=?, priority=?, criteria=?, action=?, safety=?, updated_at=? WHERE id=?`,
		existing.Name, existing.Enabled, existing.Priority, string(criteriaJSON), string(actionJSON), string(safetyJSON),
		now.Format(time.RFC3339), id)
	if err != nil {
		return nil, fmt.Errorf("update policy %d: %w", id, err)
	}
	existing.UpdatedAt = now
	return existing, nil
}

func (db *UserDB) DeletePolicy(id int64) (bool, error) {
	res, err := db.sql.Exec(`DELETE FROM cleanup_policies WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete policy %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ---- cleanup_schedules ----

func (db *UserDB) CreateSchedule(s *CleanupSchedule) (*CleanupSchedule, error) {
	now := time.Now().UTC()
	var nextRun sql.NullString
	if s.NextRunAt != nil {
		nextRun = sql.NullString{String: s.NextRunAt.UTC().Format(time.RFC3339), Valid: true}
	}
	res, err := db.sql.Exec(`INSERT INTO cleanup_schedules (policy_id, type, expression, enabled, next_run_at, created_at)
		VALUES (?,?,?,?,?,?)`, s.PolicyID, s.Type, s.Expression, s.Enabled, nextRun, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	id, _ := res.LastInsertId()
	s.ID = id
	s.UserID = db.userID
	s.CreatedAt = now
	return s, nil
}

func (db *UserDB) ListSchedules() ([]*CleanupSchedule, error) {
	rows, err := db.sql.Query(`SELECT id, policy_id, type, expression, enabled, next_run_at, created_at FROM cleanup_schedules`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []*CleanupSchedule
	for rows.Next() {
		var s CleanupSchedule
		var nextRun sql.NullString
		var createdAt string
		if err := rows.Scan(&s.ID, &s.PolicyID, &s.Type, &s.Expression, &s.Enabled, &nextRun, &createdAt); err != nil {
			return nil, err
		}
		if nextRun.Valid {
			if t, err := time.Parse(time.RFC3339, nextRun.String); err == nil {
				s.NextRunAt = &t
			}
		}
		s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		s.UserID = db.userID
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (db *UserDB) UpdateScheduleNextRun(id int64, next time.Time) error {
	_, err := db.sql.Exec(`UPDATE cleanup_schedules SET next_run_at = ? WHERE id = ?`, next.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update schedule %d next run: %w", id, err)
	}
	return nil
}

// ---- archive_records ----

func (db *UserDB) RecordArchive(emailID, method, location string) error {
	_, err := db.sql.Exec(`INSERT INTO archive_records (email_id, method, location, archived_at) VALUES (?,?,?,?)`,
		emailID, method, location, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record archive for %s: %w", emailID, err)
	}
	return nil
}

// ---- jobs ----

func (db *UserDB) InsertJob(j Job) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	_, err := db.sql.Exec(`INSERT INTO jobs (job_id, job_type, status, request_params, progress, results, error_details, created_at, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		j.JobID, j.JobType, string(j.Status), j.RequestParams, j.Progress, j.Results, j.ErrorDetails,
		j.CreatedAt.Format(time.RFC3339), nullableTime(j.StartedAt), nullableTime(j.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert job %s: %w", j.JobID, err)
	}
	return nil
}

func (db *UserDB) GetJob(jobID string) (*Job, error) {
	row := db.sql.QueryRow(`SELECT job_id, job_type, status, request_params, progress, results, error_details, created_at, started_at, completed_at
		FROM jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	j.UserID = db.userID
	return j, nil
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var status, createdAt string
	var startedAt, completedAt sql.NullString
	if err := row.Scan(&j.JobID, &j.JobType, &status, &j.RequestParams, &j.Progress, &j.Results, &j.ErrorDetails,
		&createdAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			j.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			j.CompletedAt = &t
		}
	}
	return &j, nil
}

// ClaimJob atomically transitions a PENDING job to IN_PROGRESS, returning
// claimed=false if another worker already claimed it (or it does not
// exist). This is the compare-and-set spec.md requires for concurrent
// workers.
func (db *UserDB) ClaimJob(jobID string, startedAt time.Time) (claimed bool, err error) {
	res, err := db.sql.Exec(`UPDATE jobs SET status = ?, started_at = ? WHERE job_id = ? AND status = ?`,
		string(JobInProgress), startedAt.UTC().Format(time.RFC3339), jobID, string(JobPending))
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// JobUpdate describes a partial update to a job record. Nil fields are
// left unchanged.
type JobUpdate struct {
	Status       *JobStatus
	Progress     *int
	Results      []byte
	ErrorDetails *string
	CompletedAt  *time.Time
}

// UpdateJob merges non-nil fields in u into the job. Rejects the update
// (returns an error) if the job is already in a terminal state and the
// update attempts to change its status — terminal jobs are immutable.
func (db *UserDB) UpdateJob(jobID string, u JobUpdate) error {
	existing, err := db.GetJob(jobID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("update job %s: not found", jobID)
	}
	if existing.Terminal() && u.Status != nil && *u.Status != existing.Status {
		return fmt.Errorf("update job %s: cannot transition out of terminal state %s", jobID, existing.Status)
	}

	if u.Status != nil {
		existing.Status = *u.Status
	}
	if u.Progress != nil {
		if *u.Progress < existing.Progress {
			return fmt.Errorf("update job %s: progress may only increase (have %d, got %d)", jobID, existing.Progress, *u.Progress)
		}
		existing.Progress = *u.Progress
	}
	if u.Results != nil {
		existing.Results = u.Results
	}
	if u.ErrorDetails != nil {
		existing.ErrorDetails = *u.ErrorDetails
	}
	if u.CompletedAt != nil {
		existing.CompletedAt = u.CompletedAt
	}

	_, err = db.sql.Exec(`UPDATE jobs SET status=?, progress=?, results=?, error_details=?, completed_at=? WHERE job_id=?`,
		string(existing.Status), existing.Progress, existing.Results, existing.ErrorDetails,
		nullableTime(existing.CompletedAt), jobID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	return nil
}

func (db *UserDB) ListJobs(f JobFilter) ([]*Job, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.JobType != "" {
		clauses = append(clauses, "job_type = ?")
		args = append(args, f.JobType)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT job_id, job_type, status, request_params, progress, results, error_details, created_at, started_at, completed_at
		FROM jobs WHERE ` + strings.Join(clauses, " AND ") + " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	rows, err := db.sql.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		j.UserID = db.userID
		out = append(out, j)
	}
	return out, rows.Err()
}

// JobIDsByStatus returns every job id currently in the given status, used
// by the reaper to find orphaned IN_PROGRESS jobs and the startup recovery
// pass to find PENDING jobs missing from the in-memory queue.
func (db *UserDB) JobIDsByStatus(status JobStatus) ([]string, error) {
	rows, err := db.sql.Query(`SELECT job_id FROM jobs WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("job ids by status %s: %w", status, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *UserDB) DeleteJobsOlderThan(cutoff time.Time) (int, error) {
	res, err := db.sql.Exec(`DELETE FROM jobs WHERE created_at < ? AND status IN (?, ?)`,
		cutoff.UTC().Format(time.RFC3339), string(JobCompleted), string(JobFailed))
	if err != nil {
		return 0, fmt.Errorf("delete jobs older than %s: %w", cutoff, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
