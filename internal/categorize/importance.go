package categorize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gmaildispatch/internal/cache"
	"gmaildispatch/internal/rules"
	"gmaildispatch/pkg/logger"
)

// FingerprintStrategy selects how much of the context the importance cache
// key is derived from.
type FingerprintStrategy string

const (
	// FingerprintPartial keys on {user, email_id, subject, sender} — cheap,
	// and sufficient as long as rule config does not change mid-run.
	FingerprintPartial FingerprintStrategy = "partial"
	// FingerprintFull keys on the full canonical context, so any field
	// change invalidates the cache entry.
	FingerprintFull FingerprintStrategy = "full"
)

// ImportanceConfig configures the Importance Analyzer.
type ImportanceConfig struct {
	Rules               rules.Set
	HighThreshold       float64
	LowThreshold        float64
	FingerprintStrategy FingerprintStrategy
	CacheEnabled        bool
	CacheTTL            time.Duration
}

// ImportanceResult is the cached, reusable verdict shape.
type ImportanceResult struct {
	Level         string
	Score         float64
	MatchedRules  []string
	Confidence    float64
}

// ImportanceAnalyzer scores an email against the configured rule set.
type ImportanceAnalyzer struct {
	cfg   ImportanceConfig
	cache *cache.Cache
	log   *zap.Logger
}

// NewImportanceAnalyzer constructs an Importance Analyzer.
func NewImportanceAnalyzer(cfg ImportanceConfig, c *cache.Cache) *ImportanceAnalyzer {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &ImportanceAnalyzer{cfg: cfg, cache: c, log: logger.L().Named("categorize.importance")}
}

func (a *ImportanceAnalyzer) Name() string { return "importance" }

func (a *ImportanceAnalyzer) Analyze(_ context.Context, ec Context) (Partial, error) {
	fingerprint := a.fingerprint(ec)
	key := cache.AnalyzerKey("importance", ec.UserID, fingerprint)

	if a.cfg.CacheEnabled {
		if payload, ok := a.cache.Get(key); ok {
			if result, ok := payload.(ImportanceResult); ok {
				return a.toPartial(result), nil
			}
			a.log.Warn("importance cache entry had unexpected type, ignoring", zap.String("key", key))
		}
	}

	type matchedRule struct {
		rule   rules.Rule
		result rules.Result
	}

	var matched []matchedRule
	var matchedNames []string
	for _, rule := range a.cfg.Rules.Ordered() {
		res := rule.Evaluate(ec.EmailContext)
		if res.Matched {
			matched = append(matched, matchedRule{rule: rule, result: res})
			matchedNames = append(matchedNames, rule.Name)
		}
	}

	var score float64
	for _, m := range matched {
		score += m.result.Weight
	}

	level := "medium"
	switch {
	case score >= a.cfg.HighThreshold:
		level = "high"
	case score <= a.cfg.LowThreshold:
		level = "low"
	}

	matchRatio := 0.0
	if len(a.cfg.Rules) > 0 {
		matchRatio = float64(len(matched)) / float64(len(a.cfg.Rules))
	}
	var priorityWeight float64
	for _, m := range matched {
		priorityWeight += float64(m.rule.Priority())
	}
	confidence := clip(matchRatio+priorityWeight/100, 0, 1)

	result := ImportanceResult{
		Level:        level,
		Score:        score,
		MatchedRules: matchedNames,
		Confidence:   confidence,
	}

	if a.cfg.CacheEnabled {
		a.cache.Set(key, ec.UserID, result, a.cfg.CacheTTL)
	}

	return a.toPartial(result), nil
}

func (a *ImportanceAnalyzer) toPartial(r ImportanceResult) Partial {
	return Partial{
		Source:                 a.Name(),
		ImportanceLevel:        r.Level,
		ImportanceScore:        r.Score,
		ImportanceMatchedRules: r.MatchedRules,
		Confidence:             r.Confidence,
	}
}

func (a *ImportanceAnalyzer) fingerprint(ec Context) string {
	switch a.cfg.FingerprintStrategy {
	case FingerprintFull:
		return fingerprintOf(ec)
	default:
		return fingerprintOf(struct {
			User    string
			EmailID string
			Subject string
			Sender  string
		}{ec.UserID, ec.EmailID, ec.Subject, ec.Sender})
	}
}

func fingerprintOf(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(fmt.Sprintf("unmarshalable:%v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
