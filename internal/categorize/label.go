package categorize

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"gmaildispatch/internal/cache"
	"gmaildispatch/internal/labels"
	"gmaildispatch/pkg/logger"
)

// LabelConfig configures the Label Classifier.
type LabelConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// LabelResult is the cacheable verdict shape.
type LabelResult struct {
	GmailCategory    string
	SpamScore        float64
	PromotionalScore float64
	SocialScore      float64
}

// LabelAnalyzer maps a label set to a semantic Gmail category and a trio
// of bucket scores.
type LabelAnalyzer struct {
	cfg   LabelConfig
	cache *cache.Cache
	log   *zap.Logger
}

// NewLabelAnalyzer constructs a Label Classifier.
func NewLabelAnalyzer(cfg LabelConfig, c *cache.Cache) *LabelAnalyzer {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &LabelAnalyzer{cfg: cfg, cache: c, log: logger.L().Named("categorize.label")}
}

func (a *LabelAnalyzer) Name() string { return "label" }

func (a *LabelAnalyzer) Analyze(_ context.Context, ec Context) (Partial, error) {
	sorted := append([]string(nil), ec.Labels...)
	sort.Strings(sorted)
	fingerprint := strings.Join(sorted, ",")
	key := cache.AnalyzerKey("label", ec.UserID, fingerprint)

	if a.cfg.CacheEnabled {
		if payload, ok := a.cache.Get(key); ok {
			if result, ok := payload.(LabelResult); ok {
				return a.toPartial(result), nil
			}
			a.log.Warn("label cache entry had unexpected type, ignoring", zap.String("key", key))
		}
	}

	scores := labels.BucketScores(sorted)
	result := LabelResult{
		GmailCategory:    string(labels.GmailCategory(sorted)),
		SpamScore:        scores[labels.BucketSpam],
		PromotionalScore: scores[labels.BucketPromotions],
		SocialScore:      scores[labels.BucketSocial],
	}

	if a.cfg.CacheEnabled {
		a.cache.Set(key, ec.UserID, result, a.cfg.CacheTTL)
	}
	return a.toPartial(result), nil
}

func (a *LabelAnalyzer) toPartial(r LabelResult) Partial {
	return Partial{
		Source:           a.Name(),
		GmailCategory:    r.GmailCategory,
		SpamScore:        r.SpamScore,
		PromotionalScore: r.PromotionalScore,
		SocialScore:      r.SocialScore,
	}
}
