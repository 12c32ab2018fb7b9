package categorize

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gmaildispatch/internal/cache"
	"gmaildispatch/internal/labels"
	"gmaildispatch/internal/storage"
	"gmaildispatch/pkg/logger"
)

// Mode selects how the orchestrator fans analyzers out across a single
// email: one after another, or concurrently with a per-analyzer timeout.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// BatchOptions controls which emails a RunBatch call considers.
type BatchOptions struct {
	ForceRefresh bool
	Year         *int
}

// EmailError records a single email's categorization failure within an
// otherwise successful batch.
type EmailError struct {
	EmailID string
	Message string
}

// Insights is the aggregate-metrics block returned alongside a batch
// result.
type Insights struct {
	TopImportanceRules []string
	SpamDetectionRate  float64
	AvgConfidence      float64
	AgeDistribution    map[string]int
	SizeDistribution   map[string]int
}

// BatchResult is the full outcome of one RunBatch call.
type BatchResult struct {
	Processed      int
	CategoryCounts map[string]int
	EmailIDs       []string
	Errors         []EmailError
	Insights       Insights
}

// Orchestrator runs the three analyzers over a batch of emails and
// combines their partial verdicts into a final priority category plus
// enrichment, persisting the result and invalidating affected cache
// entries.
type Orchestrator struct {
	factory   *storage.Factory
	cache     *cache.Cache
	analyzers []Analyzer
	cfg       Config
	mode      Mode
	log       *zap.Logger
}

// NewOrchestrator constructs an Orchestrator over the given analyzer set.
func NewOrchestrator(factory *storage.Factory, c *cache.Cache, analyzers []Analyzer, cfg Config, mode Mode) *Orchestrator {
	if mode == "" {
		mode = ModeSequential
	}
	return &Orchestrator{
		factory:   factory,
		cache:     c,
		analyzers: analyzers,
		cfg:       cfg,
		mode:      mode,
		log:       logger.L().Named("categorize.orchestrator"),
	}
}

// RunBatch categorizes every candidate email for userID matching opts,
// persists the enrichment, and returns aggregate results. Cancelling ctx
// propagates to any outstanding analyzer calls.
func (o *Orchestrator) RunBatch(ctx context.Context, userID string, opts BatchOptions) (*BatchResult, error) {
	db, err := o.factory.DatabaseFor(userID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	var candidates []*storage.EmailIndex
	if opts.ForceRefresh {
		candidates, err = db.AllEmails(opts.Year)
	} else {
		candidates, err = db.UncategorizedEmails(opts.Year)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: loading candidates: %w", err)
	}

	result := &BatchResult{
		CategoryCounts: map[string]int{"high": 0, "medium": 0, "low": 0},
		Insights: Insights{
			AgeDistribution:  map[string]int{"recent": 0, "moderate": 0, "old": 0},
			SizeDistribution: map[string]int{"small": 0, "medium": 0, "large": 0},
		},
	}
	if len(candidates) == 0 {
		return result, nil
	}

	ruleMatchCounts := make(map[string]int)
	spamHits := 0
	confidenceSum := 0.0

	for _, email := range candidates {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		ec, err := FromEmailIndex(userID, email)
		if err != nil {
			result.Errors = append(result.Errors, EmailError{EmailID: email.ID, Message: err.Error()})
			continue
		}

		parts, err := o.runAnalyzers(ctx, ec)
		if err != nil {
			result.Errors = append(result.Errors, EmailError{EmailID: email.ID, Message: err.Error()})
			continue
		}

		category := o.combine(parts, ec)
		o.applyEnrichment(email, parts, category)

		if err := db.UpdateEnrichment(email); err != nil {
			result.Errors = append(result.Errors, EmailError{EmailID: email.ID, Message: err.Error()})
			continue
		}

		result.Processed++
		result.EmailIDs = append(result.EmailIDs, email.ID)
		result.CategoryCounts[lowerCategory(category)]++
		result.Insights.AgeDistribution[email.AgeCategory]++
		result.Insights.SizeDistribution[email.SizeCategory]++

		for _, rule := range parts.importance.ImportanceMatchedRules {
			ruleMatchCounts[rule]++
		}
		if parts.importance.ImportanceScore != 0 {
			confidenceSum += parts.importance.Confidence
		}
		if parts.label.SpamScore >= o.cfg.SpamOverrideThreshold {
			spamHits++
		}
	}

	if result.Processed > 0 {
		result.Insights.AvgConfidence = confidenceSum / float64(result.Processed)
		result.Insights.SpamDetectionRate = float64(spamHits) / float64(result.Processed)
	}
	result.Insights.TopImportanceRules = topRules(ruleMatchCounts, 5)

	o.invalidateUserCaches(userID)

	o.log.Info("batch categorization complete",
		zap.String("user_id", userID),
		zap.Int("processed", result.Processed),
		zap.Int("errors", len(result.Errors)),
		zap.Bool("force_refresh", opts.ForceRefresh),
	)

	return result, nil
}

// combined holds one email's three partial verdicts, kept separately
// because the combine step reads typed fields from each.
type combined struct {
	importance Partial
	dateSize   Partial
	label      Partial
}

func (o *Orchestrator) runAnalyzers(ctx context.Context, ec Context) (combined, error) {
	if o.mode == ModeParallel {
		return o.runParallel(ctx, ec)
	}
	return o.runSequential(ctx, ec)
}

func (o *Orchestrator) runSequential(ctx context.Context, ec Context) (combined, error) {
	var c combined
	for _, a := range o.analyzers {
		part, err := a.Analyze(ctx, ec)
		if err != nil {
			o.log.Warn("analyzer failed, continuing with neutral result", zap.String("analyzer", a.Name()), zap.Error(err))
			part = Partial{Source: a.Name(), Neutral: true}
		}
		c = assign(c, part)
	}
	return c, nil
}

func (o *Orchestrator) runParallel(ctx context.Context, ec Context) (combined, error) {
	var c combined
	g, gctx := errgroup.WithContext(ctx)
	results := make([]Partial, len(o.analyzers))

	for i, a := range o.analyzers {
		i, a := i, a
		g.Go(func() error {
			timeout := o.cfg.AnalyzerTimeout
			if timeout <= 0 {
				timeout = 3 * time.Second
			}
			actx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			part, err := a.Analyze(actx, ec)
			if err != nil || actx.Err() != nil {
				o.log.Warn("analyzer timed out or failed, using neutral result",
					zap.String("analyzer", a.Name()), zap.Error(err))
				part = Partial{Source: a.Name(), Neutral: true}
			}
			results[i] = part
			return nil
		})
	}
	// errgroup.Go never returns an error here (analyzer failures degrade
	// to neutral instead of propagating), so Wait cannot fail.
	_ = g.Wait()

	for _, part := range results {
		c = assign(c, part)
	}
	return c, nil
}

func assign(c combined, part Partial) combined {
	switch part.Source {
	case "importance":
		c.importance = part
	case "datesize":
		c.dateSize = part
	case "label":
		c.label = part
	}
	return c
}

// combine applies the base-category-plus-overrides rule from the
// importance level and label/age signals.
func (o *Orchestrator) combine(c combined, ec Context) storage.Category {
	category := storage.CategoryMedium
	switch c.importance.ImportanceLevel {
	case "high":
		category = storage.CategoryHigh
	case "low":
		category = storage.CategoryLow
	}

	hasImportantLabel := false
	for _, l := range ec.Labels {
		if l == labels.Important || l == labels.Starred {
			hasImportantLabel = true
			break
		}
	}
	if hasImportantLabel && c.dateSize.AgeCategory == o.cfg.RecentAgeForUpgrade {
		category = storage.CategoryHigh
	}

	if c.label.SpamScore >= o.cfg.SpamOverrideThreshold || c.label.PromotionalScore >= o.cfg.PromotionalOverrideThreshold {
		category = storage.CategoryLow
	}

	return category
}

func (o *Orchestrator) applyEnrichment(email *storage.EmailIndex, c combined, category storage.Category) {
	now := time.Now().UTC()
	email.Category = &category
	email.ImportanceLevel = c.importance.ImportanceLevel
	email.ImportanceScore = c.importance.ImportanceScore
	email.ImportanceMatchedRules = c.importance.ImportanceMatchedRules
	email.AgeCategory = c.dateSize.AgeCategory
	email.SizeCategory = c.dateSize.SizeCategory
	email.GmailCategory = c.label.GmailCategory
	email.SpamScore = c.label.SpamScore
	email.PromotionalScore = c.label.PromotionalScore
	email.SocialScore = c.label.SocialScore
	email.AnalysisTimestamp = &now
	email.AnalysisVersion++
}

// invalidateUserCaches flushes the listing/stats cache entries a batch
// write would otherwise leave stale. Analyzer caches are left alone —
// they are fingerprinted on content, not on category, so they remain
// valid.
func (o *Orchestrator) invalidateUserCaches(userID string) {
	o.cache.Delete(cache.CategoryStatsKey(userID))
	o.cache.DeletePrefix(fmt.Sprintf("user:%s:email-list:", userID))
}

func lowerCategory(c storage.Category) string {
	switch c {
	case storage.CategoryHigh:
		return "high"
	case storage.CategoryLow:
		return "low"
	default:
		return "medium"
	}
}

func topRules(counts map[string]int, n int) []string {
	type pair struct {
		rule  string
		count int
	}
	pairs := make([]pair, 0, len(counts))
	for rule, count := range counts {
		pairs = append(pairs, pair{rule, count})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].rule < pairs[j].rule
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.rule
	}
	return out
}
