// Package policy implements the Cleanup Policy Engine: CRUD over
// user-defined retention policies, candidate-set evaluation against the
// email index, and recommendation generation from the current
// distribution.
package policy

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"gmaildispatch/internal/jobs"
	"gmaildispatch/internal/storage"
	"gmaildispatch/pkg/logger"
)

// accessScoreHalfLifeDays controls how fast an email's access score decays
// once it stops being opened. 30 days means an email touched once a month
// stays "active" for retention purposes; one untouched for a quarter has
// decayed to roughly an eighth of its peak score.
const accessScoreHalfLifeDays = 30.0

// AccessScore computes a recency-decayed measure of user engagement with
// an email: each recorded access contributes one point, decayed
// exponentially by days elapsed since the last access. An email never
// opened scores zero regardless of age, so MaxAccessScore filters never
// spare untouched mail.
func AccessScore(e *storage.EmailIndex, now time.Time) float64 {
	if e.LastAccessedAt == nil || e.AccessCount == 0 {
		return 0
	}
	daysSince := now.Sub(*e.LastAccessedAt).Hours() / 24
	if daysSince < 0 {
		daysSince = 0
	}
	decay := math.Exp(-daysSince / accessScoreHalfLifeDays * math.Ln2)
	return float64(e.AccessCount) * decay
}

// daysSinceLastAccess returns days elapsed since the email was last
// accessed, or since it arrived if it has never been accessed.
func daysSinceLastAccess(e *storage.EmailIndex, now time.Time) int {
	last := e.Date
	if e.LastAccessedAt != nil {
		last = *e.LastAccessedAt
	}
	days := now.Sub(last).Hours() / 24
	if days < 0 {
		return 0
	}
	return int(days)
}

// Engine evaluates and triggers cleanup policies for a single process.
type Engine struct {
	factory *storage.Factory
	jobs    *jobs.Store
	queue   *jobs.Queue
	log     *zap.Logger
}

// NewEngine constructs a Cleanup Policy Engine.
func NewEngine(factory *storage.Factory, jobStore *jobs.Store, queue *jobs.Queue) *Engine {
	return &Engine{factory: factory, jobs: jobStore, queue: queue, log: logger.L().Named("cleanup.policy")}
}

// Create validates and stores a new policy. The safety block is
// mandatory: a zero-value Safety is rejected rather than silently
// defaulting to an unsafe configuration.
func (e *Engine) Create(userID string, p *storage.CleanupPolicy) (*storage.CleanupPolicy, error) {
	if p.Action.Kind == "" {
		return nil, fmt.Errorf("policy requires an action")
	}
	if (p.Safety == storage.CleanupSafety{}) {
		return nil, fmt.Errorf("policy requires a safety block")
	}
	db, err := e.factory.DatabaseFor(userID)
	if err != nil {
		return nil, err
	}
	return db.CreatePolicy(p)
}

func (e *Engine) Update(userID string, id int64, patch *storage.CleanupPolicy) (*storage.CleanupPolicy, error) {
	db, err := e.factory.DatabaseFor(userID)
	if err != nil {
		return nil, err
	}
	return db.UpdatePolicy(id, patch)
}

func (e *Engine) List(userID string) ([]*storage.CleanupPolicy, error) {
	db, err := e.factory.DatabaseFor(userID)
	if err != nil {
		return nil, err
	}
	return db.ListPolicies()
}

func (e *Engine) Get(userID string, id int64) (*storage.CleanupPolicy, error) {
	db, err := e.factory.DatabaseFor(userID)
	if err != nil {
		return nil, err
	}
	return db.GetPolicy(id)
}

func (e *Engine) Delete(userID string, id int64) (bool, error) {
	db, err := e.factory.DatabaseFor(userID)
	if err != nil {
		return false, err
	}
	return db.DeletePolicy(id)
}

// Evaluate applies a policy's criteria to the user's email index and
// returns the candidate set it would act on, honoring preserve_important
// and excluding archived emails unless Criteria.IncludeArchived is set.
func (e *Engine) Evaluate(userID string, p *storage.CleanupPolicy) ([]*storage.EmailIndex, error) {
	db, err := e.factory.DatabaseFor(userID)
	if err != nil {
		return nil, err
	}

	criteria := storage.Criteria{}
	if p.Criteria.MinSizeBytes > 0 {
		criteria.MinSizeBytes = &p.Criteria.MinSizeBytes
	}
	if p.Criteria.MinAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -p.Criteria.MinAgeDays)
		criteria.DateTo = &cutoff
	}
	if !p.Criteria.IncludeArchived {
		archived := false
		criteria.Archived = &archived
	}

	candidates, err := db.ListEmails(criteria)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	filtered := candidates[:0:0]
	for _, email := range candidates {
		if p.Safety.PreserveImportant && email.Category != nil && *email.Category == storage.CategoryHigh {
			continue
		}
		if p.Criteria.MaxImportanceLevel != "" && email.ImportanceLevel == "high" && p.Criteria.MaxImportanceLevel != "high" {
			continue
		}
		if p.Criteria.MinSpamScore > 0 && email.SpamScore < p.Criteria.MinSpamScore {
			continue
		}
		if p.Criteria.MinPromotionalScore > 0 && email.PromotionalScore < p.Criteria.MinPromotionalScore {
			continue
		}
		if p.Criteria.MaxAccessScore > 0 && AccessScore(email, now) > p.Criteria.MaxAccessScore {
			continue
		}
		if p.Criteria.DaysWithoutAccess > 0 && daysSinceLastAccess(email, now) < p.Criteria.DaysWithoutAccess {
			continue
		}
		filtered = append(filtered, email)
	}

	if p.Safety.MaxEmailsPerRun > 0 && len(filtered) > p.Safety.MaxEmailsPerRun {
		filtered = filtered[:p.Safety.MaxEmailsPerRun]
	}

	return filtered, nil
}

// TriggerOptions controls a single policy execution.
type TriggerOptions struct {
	DryRun    bool
	MaxEmails int
	Force     bool
}

// TriggerResult is returned for a dry-run; a real run instead submits an
// asynchronous cleanup job and returns its id.
type TriggerResult struct {
	DryRun     bool
	Candidates []*storage.EmailIndex
	JobID      string
}

// Trigger evaluates the policy and either previews the candidate set
// (dry_run) or submits an asynchronous cleanup job that will execute the
// configured action against it.
func (e *Engine) Trigger(userID string, policyID int64, opts TriggerOptions) (*TriggerResult, error) {
	p, err := e.Get(userID, policyID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("policy %d not found", policyID)
	}
	if p.Safety.RequireConfirm && !opts.Force && !opts.DryRun {
		return nil, fmt.Errorf("policy requires confirmation (force=true) to execute a real run")
	}

	candidates, err := e.Evaluate(userID, p)
	if err != nil {
		return nil, err
	}
	if opts.MaxEmails > 0 && len(candidates) > opts.MaxEmails {
		candidates = candidates[:opts.MaxEmails]
	}

	if opts.DryRun {
		return &TriggerResult{DryRun: true, Candidates: candidates}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	params, err := json.Marshal(cleanupJobParams{PolicyID: policyID, EmailIDs: ids, Action: p.Action})
	if err != nil {
		return nil, fmt.Errorf("marshaling cleanup job params: %w", err)
	}

	jobID, err := e.jobs.Create(userID, "cleanup", params)
	if err != nil {
		return nil, err
	}
	e.queue.Enqueue(userID, jobID)
	e.log.Info("submitted cleanup job", zap.String("user_id", userID), zap.Int64("policy_id", policyID), zap.String("job_id", jobID))

	return &TriggerResult{DryRun: false, JobID: jobID}, nil
}

type cleanupJobParams struct {
	PolicyID int64                  `json:"policy_id"`
	EmailIDs []string               `json:"email_ids"`
	Action   storage.CleanupAction  `json:"action"`
}

// Recommendation is a proposed policy template derived from the current
// email distribution.
type Recommendation struct {
	Name        string
	Description string
	Template    storage.CleanupPolicy
}

// GenerateRecommendations inspects the user's current email distribution
// and proposes a small set of policy templates addressing the largest
// reclaimable categories.
func (e *Engine) GenerateRecommendations(userID string) ([]Recommendation, error) {
	db, err := e.factory.DatabaseFor(userID)
	if err != nil {
		return nil, err
	}

	var recs []Recommendation

	promoCount, err := db.CountEmails(storage.Criteria{ImportanceLevel: "low"})
	if err != nil {
		return nil, err
	}
	if promoCount > 50 {
		recs = append(recs, Recommendation{
			Name:        "archive-low-priority",
			Description: fmt.Sprintf("%d low-priority emails could be archived", promoCount),
			Template: storage.CleanupPolicy{
				Name:     "Archive low priority",
				Enabled:  false,
				Priority: 10,
				Criteria: storage.CleanupCriteria{MinAgeDays: 90},
				Action:   storage.CleanupAction{Kind: "archive", Method: "gmail"},
				Safety:   storage.CleanupSafety{MaxEmailsPerRun: 500, RequireConfirm: true, DryRunFirst: true, PreserveImportant: true},
			},
		})
	}

	large, err := db.CountEmails(storage.Criteria{MinSizeBytes: int64Ptr(10_000_000)})
	if err != nil {
		return nil, err
	}
	if large > 10 {
		recs = append(recs, Recommendation{
			Name:        "archive-large-attachments",
			Description: fmt.Sprintf("%d emails over 10MB could be archived", large),
			Template: storage.CleanupPolicy{
				Name:     "Archive large attachments",
				Enabled:  false,
				Priority: 20,
				Criteria: storage.CleanupCriteria{MinSizeBytes: 10_000_000},
				Action:   storage.CleanupAction{Kind: "archive", Method: "export", ExportFormat: "mbox"},
				Safety:   storage.CleanupSafety{MaxEmailsPerRun: 200, RequireConfirm: true, DryRunFirst: true, PreserveImportant: true},
			},
		})
	}

	return recs, nil
}

func int64Ptr(v int64) *int64 { return &v }
