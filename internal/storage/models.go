// Package storage implements the User Database Factory: one SQLite-backed
// logical database per user, holding that user's email index, jobs,
// cleanup policies/schedules, saved searches, and archive records. Every
// handle returned by the Factory is already bound to a single user id, so
// no caller can accidentally cross-query another user's data.
package storage

import "time"

// Category is the final per-email priority verdict.
type Category string

const (
	CategoryHigh   Category = "HIGH"
	CategoryMedium Category = "MEDIUM"
	CategoryLow    Category = "LOW"
)

// EmailIndex is the central persisted entity: an index record for one
// email, scoped to exactly one user.
type EmailIndex struct {
	ID       string
	ThreadID string
	UserID   string

	Sender     string
	Recipients []string

	Subject        string
	Snippet        string
	Labels         []string
	HasAttachments bool

	Date      time.Time
	Year      int
	SizeBytes int64

	Category         *Category
	Archived         bool
	ArchiveDate      *time.Time
	ArchiveLocation  string

	ImportanceLevel        string
	ImportanceScore        float64
	ImportanceMatchedRules []string
	AgeCategory            string
	SizeCategory           string
	GmailCategory          string
	SpamScore              float64
	PromotionalScore       float64
	SocialScore            float64
	AnalysisTimestamp      *time.Time
	AnalysisVersion        int

	LastAccessedAt *time.Time
	AccessCount    int

	Deleted bool
}

// Criteria is the query bag every email listing/search/archive/delete
// operation accepts. Every field is optional (zero value means
// "unconstrained"); UserID is never settable by a caller — it is always
// injected by the owning UserDB.
type Criteria struct {
	Category         *Category
	Year             *int
	Archived         *bool
	MinSizeBytes     *int64
	MaxSizeBytes     *int64
	DateFrom         *time.Time
	DateTo           *time.Time
	Labels           []string
	SenderContains   string
	ImportanceLevel  string
	QueryText        string
	HasAttachments   *bool

	Limit  int
	Offset int
}

// SavedSearch is a user-named query whose execution is equivalent to
// applying its stored Criteria.
type SavedSearch struct {
	ID        int64
	UserID    string
	Name      string
	Criteria  Criteria
	CreatedAt time.Time
}

// CleanupAction describes what a CleanupPolicy does to matched emails.
type CleanupAction struct {
	Kind         string // "archive" | "delete"
	Method       string // "gmail" | "export"
	ExportFormat string
}

// CleanupSafety is the mandatory safety block every policy carries.
type CleanupSafety struct {
	MaxEmailsPerRun    int
	RequireConfirm     bool
	DryRunFirst        bool
	PreserveImportant  bool
}

// CleanupCriteria is the retention-matching condition set for a policy.
// MaxAccessScore is evaluated against an email's recency-decayed access
// score (see policy.AccessScore); DaysWithoutAccess is evaluated directly
// against days since LastAccessedAt (or since Date if the email was never
// accessed). IncludeArchived opts a
// policy into considering already-archived emails; the default excludes
// them so an archive policy and a delete policy don't fight over the same
// rows.
type CleanupCriteria struct {
	MinAgeDays           int
	MaxImportanceLevel   string
	MinSizeBytes         int64
	MinSpamScore         float64
	MinPromotionalScore  float64
	MaxAccessScore       float64
	DaysWithoutAccess    int
	IncludeArchived      bool
}

// CleanupPolicy is a user-defined retention configuration.
type CleanupPolicy struct {
	ID       int64
	UserID   string
	Name     string
	Enabled  bool
	Priority int
	Criteria CleanupCriteria
	Action   CleanupAction
	Safety   CleanupSafety

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CleanupSchedule is a firing rule that triggers a policy.
type CleanupSchedule struct {
	ID         int64
	UserID     string
	PolicyID   int64
	Type       string // "daily" | "weekly" | "monthly" | "interval" | "cron"
	Expression string
	Enabled    bool
	NextRunAt  *time.Time
	CreatedAt  time.Time
}

// ArchiveRule records a named archival configuration (criteria + method),
// distinct from a CleanupPolicy in that it has no retention schedule of its
// own and is invoked directly by archive_emails.
type ArchiveRule struct {
	ID        int64
	UserID    string
	Name      string
	Criteria  Criteria
	Method    string
	CreatedAt time.Time
}

// ArchiveRecord is a durable log entry of one archive_emails execution.
type ArchiveRecord struct {
	ID         int64
	UserID     string
	EmailID    string
	Method     string
	Location   string
	ArchivedAt time.Time
}

// JobStatus is the lifecycle state of an async Job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// Job is the persistent async-work record.
type Job struct {
	JobID         string
	UserID        string
	JobType       string
	Status        JobStatus
	RequestParams []byte
	Progress      int
	Results       []byte
	ErrorDetails  string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// Terminal reports whether the job is in a sticky terminal state.
func (j Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// JobFilter scopes a Job listing.
type JobFilter struct {
	JobType string
	Status  JobStatus
	Limit   int
	Offset  int
}

// CategoryStats is the aggregate distribution returned by get_email_stats.
type CategoryStats struct {
	GroupBy string
	Counts  map[string]int
}
