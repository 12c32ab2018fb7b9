package categorize

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gmaildispatch/internal/cache"
	"gmaildispatch/internal/rules"
)

// Config is the full, validated configuration for all three analyzers
// plus the orchestrator's own combine-step thresholds.
type Config struct {
	Rules []rules.RawRule

	ImportanceHighThreshold float64
	ImportanceLowThreshold  float64
	FingerprintStrategy     FingerprintStrategy
	ImportanceCacheEnabled  bool
	ImportanceCacheTTL      time.Duration

	RecentDays   int
	ModerateDays int
	SmallBytes   int64
	LargeBytes   int64
	DateSizeCacheEnabled bool
	DateSizeCacheTTL     time.Duration

	LabelCacheEnabled bool
	LabelCacheTTL     time.Duration

	// Combine-step overrides.
	SpamOverrideThreshold       float64
	PromotionalOverrideThreshold float64
	RecentAgeForUpgrade         string

	// AnalyzerTimeout bounds each analyzer invocation in parallel mode.
	AnalyzerTimeout time.Duration
}

// defaultRules is the built-in rule set used whenever no RULES_CONFIG_PATH
// is configured, so a freshly deployed instance still scores importance
// instead of classifying every email LOW. Priorities are explicit and
// independent of list position.
func defaultRules() []rules.RawRule {
	return []rules.RawRule{
		{Name: "urgent_keywords", Type: "keyword", Priority: 100, Weight: 2.0,
			Terms: []string{"urgent", "asap", "action required", "alert", "immediately"}},
		{Name: "promotional_labels", Type: "label", Priority: 40, Weight: -1.5,
			Terms: []string{"CATEGORY_PROMOTIONS", "CATEGORY_SOCIAL"}},
		{Name: "large_attachment", Type: "large_attachment", Priority: 40, Weight: -0.5,
			MinSizeBytes: 10_000_000},
		{Name: "no_reply_sender", Type: "no_reply", Priority: 20, Weight: -1.0},
		{Name: "newsletter_domains", Type: "domain", Priority: 10, Weight: -1.0,
			Terms: []string{"newsletter", "mailer", "marketing"}},
	}
}

// LoadRulesFromFile reads a JSON array of rules.RawRule from path, used to
// populate Config.Rules from RULES_CONFIG_PATH.
func LoadRulesFromFile(path string) ([]rules.RawRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules config %q: %w", path, err)
	}
	var raw []rules.RawRule
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing rules config %q: %w", path, err)
	}
	return raw, nil
}

// DefaultConfig returns sane defaults matching the values used throughout
// the seed test scenarios.
func DefaultConfig() Config {
	return Config{
		Rules:                        defaultRules(),
		ImportanceHighThreshold:      2.0,
		ImportanceLowThreshold:       0.0,
		FingerprintStrategy:          FingerprintPartial,
		ImportanceCacheEnabled:       true,
		ImportanceCacheTTL:           5 * time.Minute,
		RecentDays:                   3,
		ModerateDays:                 30,
		SmallBytes:                   25_000,
		LargeBytes:                   1_000_000,
		DateSizeCacheEnabled:         true,
		DateSizeCacheTTL:             5 * time.Minute,
		LabelCacheEnabled:            true,
		LabelCacheTTL:                5 * time.Minute,
		SpamOverrideThreshold:        0.5,
		PromotionalOverrideThreshold: 0.5,
		RecentAgeForUpgrade:          "recent",
		AnalyzerTimeout:              3 * time.Second,
	}
}

// Factory constructs the three analyzers from configuration, injecting the
// shared cache every analyzer needs. It fails fast if the rule
// configuration contains an unknown type.
type Factory struct {
	cfg   Config
	cache *cache.Cache
}

// NewFactory validates cfg and returns an AnalyzerFactory, or an error if
// any configured rule is malformed.
func NewFactory(cfg Config, c *cache.Cache) (*Factory, error) {
	if _, err := rules.ParseRules(cfg.Rules); err != nil {
		return nil, err
	}
	return &Factory{cfg: cfg, cache: c}, nil
}

// BuildAll constructs the full analyzer set in a fixed, stable order.
func (f *Factory) BuildAll() ([]Analyzer, error) {
	ruleSet, err := rules.ParseRules(f.cfg.Rules)
	if err != nil {
		return nil, err
	}

	importance := NewImportanceAnalyzer(ImportanceConfig{
		Rules:               ruleSet,
		HighThreshold:       f.cfg.ImportanceHighThreshold,
		LowThreshold:        f.cfg.ImportanceLowThreshold,
		FingerprintStrategy: f.cfg.FingerprintStrategy,
		CacheEnabled:        f.cfg.ImportanceCacheEnabled,
		CacheTTL:            f.cfg.ImportanceCacheTTL,
	}, f.cache)

	dateSize := NewDateSizeAnalyzer(DateSizeConfig{
		RecentDays:   f.cfg.RecentDays,
		ModerateDays: f.cfg.ModerateDays,
		SmallBytes:   f.cfg.SmallBytes,
		LargeBytes:   f.cfg.LargeBytes,
		CacheEnabled: f.cfg.DateSizeCacheEnabled,
		CacheTTL:     f.cfg.DateSizeCacheTTL,
	}, f.cache)

	label := NewLabelAnalyzer(LabelConfig{
		CacheEnabled: f.cfg.LabelCacheEnabled,
		CacheTTL:     f.cfg.LabelCacheTTL,
	}, f.cache)

	return []Analyzer{importance, dateSize, label}, nil
}
