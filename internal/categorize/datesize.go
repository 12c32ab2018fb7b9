package categorize

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gmaildispatch/internal/cache"
	"gmaildispatch/pkg/logger"
)

// DateSizeConfig configures the DateSize Analyzer's category boundaries
// and score weights.
type DateSizeConfig struct {
	RecentDays   int
	ModerateDays int

	SmallBytes  int64
	LargeBytes  int64

	RecencyWeight float64
	SizeWeight    float64

	CacheEnabled bool
	CacheTTL     time.Duration

	Now func() time.Time
}

// DateSizeResult is the cacheable verdict shape.
type DateSizeResult struct {
	AgeCategory  string
	SizeCategory string
	Score        float64
}

// DateSizeAnalyzer buckets an email by age and size.
type DateSizeAnalyzer struct {
	cfg   DateSizeConfig
	cache *cache.Cache
	log   *zap.Logger
}

// NewDateSizeAnalyzer constructs a DateSize Analyzer.
func NewDateSizeAnalyzer(cfg DateSizeConfig, c *cache.Cache) *DateSizeAnalyzer {
	if cfg.RecencyWeight == 0 && cfg.SizeWeight == 0 {
		cfg.RecencyWeight, cfg.SizeWeight = 0.5, 0.5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DateSizeAnalyzer{cfg: cfg, cache: c, log: logger.L().Named("categorize.datesize")}
}

func (a *DateSizeAnalyzer) Name() string { return "datesize" }

func (a *DateSizeAnalyzer) Analyze(_ context.Context, ec Context) (Partial, error) {
	key := cache.AnalyzerKey("datesize", ec.UserID, ec.EmailID)
	if a.cfg.CacheEnabled {
		if payload, ok := a.cache.Get(key); ok {
			if result, ok := payload.(DateSizeResult); ok {
				return a.toPartial(result), nil
			}
			a.log.Warn("datesize cache entry had unexpected type, ignoring", zap.String("key", key))
		}
	}

	ageDays := int(a.cfg.Now().Sub(ec.Date).Hours() / 24)
	ageCategory := ageBucket(ageDays, a.cfg.RecentDays, a.cfg.ModerateDays)
	sizeCategory := sizeBucket(ec.SizeBytes, a.cfg.SmallBytes, a.cfg.LargeBytes)

	recencyScore := recencyScoreFor(ageCategory)
	sizeScore := sizeScoreFor(sizeCategory)
	score := a.cfg.RecencyWeight*recencyScore + a.cfg.SizeWeight*sizeScore

	result := DateSizeResult{AgeCategory: ageCategory, SizeCategory: sizeCategory, Score: score}
	if a.cfg.CacheEnabled {
		a.cache.Set(key, ec.UserID, result, a.cfg.CacheTTL)
	}
	return a.toPartial(result), nil
}

func (a *DateSizeAnalyzer) toPartial(r DateSizeResult) Partial {
	return Partial{
		Source:        a.Name(),
		AgeCategory:   r.AgeCategory,
		SizeCategory:  r.SizeCategory,
		DateSizeScore: r.Score,
	}
}

// ageBucket applies the documented "exact threshold falls in the lower
// bucket" convention: age == recentDays is still "recent", age ==
// moderateDays is still "moderate".
func ageBucket(ageDays, recentDays, moderateDays int) string {
	switch {
	case ageDays <= recentDays:
		return "recent"
	case ageDays <= moderateDays:
		return "moderate"
	default:
		return "old"
	}
}

// sizeBucket applies the same lower-bucket convention at the small
// boundary and extends it consistently to the large boundary.
func sizeBucket(sizeBytes, smallBytes, largeBytes int64) string {
	switch {
	case sizeBytes <= smallBytes:
		return "small"
	case sizeBytes <= largeBytes:
		return "medium"
	default:
		return "large"
	}
}

func recencyScoreFor(ageCategory string) float64 {
	switch ageCategory {
	case "recent":
		return 1.0
	case "moderate":
		return 0.5
	default:
		return 0.0
	}
}

func sizeScoreFor(sizeCategory string) float64 {
	switch sizeCategory {
	case "large":
		return 1.0
	case "medium":
		return 0.5
	default:
		return 0.0
	}
}
