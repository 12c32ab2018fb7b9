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

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAgeBucketExactThresholdsFallInLowerBucket(t *testing.T) {
	assert.Equal(t, "recent", ageBucket(7, 7, 30))
	assert.Equal(t, "moderate", ageBucket(8, 7, 30))
	assert.Equal(t, "moderate", ageBucket(30, 7, 30))
	assert.Equal(t, "old", ageBucket(31, 7, 30))
}

func TestSizeBucketExactThresholdsFallInLowerBucket(t *testing.T) {
	assert.Equal(t, "small", sizeBucket(1000, 1000, 10000))
	assert.Equal(t, "medium", sizeBucket(1001, 1000, 10000))
	assert.Equal(t, "medium", sizeBucket(10000, 1000, 10000))
	assert.Equal(t, "large", sizeBucket(10001, 1000, 10000))
}

func TestDateSizeAnalyzerProducesExpectedVerdict(t *testing.T) {
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	cfg := DateSizeConfig{
		RecentDays:   7,
		ModerateDays: 30,
		SmallBytes:   1 << 20,
		LargeBytes:   10 << 20,
		Now:          fixedClock(now),
		CacheEnabled: true,
	}
	c := cache.New(time.Hour)
	defer c.Close()
	analyzer := NewDateSizeAnalyzer(cfg, c)

	ec := Context{
		UserID:  "user-1",
		EmailID: "email-1",
		Date:    now.AddDate(0, 0, -40),
		EmailContext: rules.EmailContext{
			SizeBytes: 20 << 20,
		},
	}

	partial, err := analyzer.Analyze(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "old", partial.AgeCategory)
	assert.Equal(t, "large", partial.SizeCategory)
	assert.Equal(t, 0.5, partial.DateSizeScore)
}

func TestDateSizeAnalyzerCachesResult(t *testing.T) {
	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	cfg := DateSizeConfig{RecentDays: 7, ModerateDays: 30, SmallBytes: 1 << 20, LargeBytes: 10 << 20, Now: fixedClock(now), CacheEnabled: true}
	c := cache.New(time.Hour)
	defer c.Close()
	analyzer := NewDateSizeAnalyzer(cfg, c)

	ec := Context{UserID: "user-1", EmailID: "email-1", Date: now, EmailContext: rules.EmailContext{SizeBytes: 100}}
	_, err := analyzer.Analyze(context.Background(), ec)
	require.NoError(t, err)

	key := cache.AnalyzerKey("datesize", "user-1", "email-1")
	_, ok := c.Get(key)
	assert.True(t, ok)
}
