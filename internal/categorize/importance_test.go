package categorize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gmaildispatch/internal/cache"
	"gmaildispatch/internal/rules"
)

func testRuleSet(t *testing.T) rules.Set {
	t.Helper()
	set, err := rules.ParseRules([]rules.RawRule{
		{Name: "urgent-keyword", Type: "keyword", Terms: []string{"urgent"}, Weight: 2.0},
		{Name: "promo-domain", Type: "domain", Terms: []string{"promo.example.com"}, Weight: 1.0},
	})
	require.NoError(t, err)
	return set
}

func TestImportanceAnalyzerHighScoreCrossesHighThreshold(t *testing.T) {
	c := cache.New(time.Hour)
	defer c.Close()
	a := NewImportanceAnalyzer(ImportanceConfig{
		Rules:         testRuleSet(t),
		HighThreshold: 1.5,
		LowThreshold:  0,
		CacheEnabled:  true,
	}, c)

	ec := Context{UserID: "user-1", EmailID: "email-1", EmailContext: rules.EmailContext{
		Subject: "this is urgent", Sender: "boss@example.com",
	}}

	partial, err := a.Analyze(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "high", partial.ImportanceLevel)
	assert.Equal(t, 2.0, partial.ImportanceScore)
	assert.Equal(t, []string{"urgent-keyword"}, partial.ImportanceMatchedRules)
}

func TestImportanceAnalyzerNoMatchesIsLow(t *testing.T) {
	c := cache.New(time.Hour)
	defer c.Close()
	a := NewImportanceAnalyzer(ImportanceConfig{
		Rules:         testRuleSet(t),
		HighThreshold: 1.5,
		LowThreshold:  0,
		CacheEnabled:  true,
	}, c)

	ec := Context{UserID: "user-1", EmailID: "email-2", EmailContext: rules.EmailContext{
		Subject: "quarterly newsletter", Sender: "news@other.com",
	}}

	partial, err := a.Analyze(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "low", partial.ImportanceLevel)
	assert.Empty(t, partial.ImportanceMatchedRules)
}

func TestImportanceAnalyzerCachesByPartialFingerprint(t *testing.T) {
	c := cache.New(time.Hour)
	defer c.Close()
	a := NewImportanceAnalyzer(ImportanceConfig{
		Rules:               testRuleSet(t),
		HighThreshold:       1.5,
		FingerprintStrategy: FingerprintPartial,
		CacheEnabled:        true,
	}, c)

	ec := Context{UserID: "user-1", EmailID: "email-1", EmailContext: rules.EmailContext{
		Subject: "this is urgent", Sender: "boss@example.com",
	}}

	first, err := a.Analyze(context.Background(), ec)
	require.NoError(t, err)

	// Change an unfingerprinted field (snippet); partial fingerprint only
	// covers user/email/subject/sender, so the cached verdict should still
	// be served even though a live re-evaluation would differ.
	ec.Snippet = "completely different content now"
	second, err := a.Analyze(context.Background(), ec)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestImportanceAnalyzerConfidenceUsesMatchedRulesOwnPriority(t *testing.T) {
	c := cache.New(time.Hour)
	defer c.Close()

	// The first configured rule (priority 5) never matches; only the
	// second (priority 9) does. Confidence must be derived from the
	// matched rule's own priority, not the configured list's position.
	set, err := rules.ParseRules([]rules.RawRule{
		{Name: "never-matches", Type: "domain", Priority: 5, Terms: []string{"never.example"}, Weight: 1},
		{Name: "matches", Type: "keyword", Priority: 9, Terms: []string{"hello"}, Weight: 1},
	})
	require.NoError(t, err)

	a := NewImportanceAnalyzer(ImportanceConfig{
		Rules:         set,
		HighThreshold: 10,
		LowThreshold:  -10,
		CacheEnabled:  false,
	}, c)

	ec := Context{UserID: "user-1", EmailID: "email-1", EmailContext: rules.EmailContext{
		Subject: "hello there", Sender: "friend@example.com",
	}}

	partial, err := a.Analyze(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, []string{"matches"}, partial.ImportanceMatchedRules)
	assert.InDelta(t, 0.59, partial.Confidence, 1e-9)
}

func TestImportanceAnalyzerDisabledCacheAlwaysReevaluates(t *testing.T) {
	c := cache.New(time.Hour)
	defer c.Close()
	a := NewImportanceAnalyzer(ImportanceConfig{
		Rules:         testRuleSet(t),
		HighThreshold: 1.5,
		CacheEnabled:  false,
	}, c)

	ec := Context{UserID: "user-1", EmailID: "email-1", EmailContext: rules.EmailContext{
		Subject: "this is urgent", Sender: "boss@example.com",
	}}

	_, err := a.Analyze(context.Background(), ec)
	require.NoError(t, err)

	key := cache.AnalyzerKey("importance", "user-1", a.fingerprint(ec))
	_, ok := c.Get(key)
	assert.False(t, ok)
}
