package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketWeightExplicitMatch(t *testing.T) {
	b, w, ok := BucketWeight("CATEGORY_PROMOTIONS")
	assert.True(t, ok)
	assert.Equal(t, BucketPromotions, b)
	assert.Equal(t, explicitWeight, w)
}

func TestBucketWeightIsCaseInsensitiveForExplicitLabels(t *testing.T) {
	b, _, ok := BucketWeight("category_social")
	assert.True(t, ok)
	assert.Equal(t, BucketSocial, b)
}

func TestBucketWeightFuzzyMatch(t *testing.T) {
	b, w, ok := BucketWeight("my-newsletter-digest")
	assert.True(t, ok)
	assert.Equal(t, BucketUpdates, b)
	assert.Equal(t, fuzzyWeight, w)
}

func TestBucketWeightNoMatch(t *testing.T) {
	_, _, ok := BucketWeight("random-label")
	assert.False(t, ok)
}

func TestBucketScoresCapsAtOne(t *testing.T) {
	scores := BucketScores([]string{"SPAM", "junk", "suspicious"})
	assert.Equal(t, 1.0, scores[BucketSpam])
}

func TestBucketScoresIgnoresUnknownLabels(t *testing.T) {
	scores := BucketScores([]string{"unknown-label-1", "unknown-label-2"})
	assert.Empty(t, scores)
}

func TestGmailCategoryPicksDominantBucket(t *testing.T) {
	got := GmailCategory([]string{"INBOX", "CATEGORY_PROMOTIONS", "promo"})
	assert.Equal(t, BucketPromotions, got)
}

func TestGmailCategoryFallsBackToPrimary(t *testing.T) {
	got := GmailCategory([]string{"INBOX", "UNREAD"})
	assert.Equal(t, BucketPrimary, got)
}

func TestGmailCategoryOrderIndependent(t *testing.T) {
	a := GmailCategory([]string{"CATEGORY_SOCIAL", "social", "INBOX"})
	b := GmailCategory([]string{"INBOX", "social", "CATEGORY_SOCIAL"})
	assert.Equal(t, a, b)
}
