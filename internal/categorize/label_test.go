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

func TestLabelAnalyzerClassifiesPromotions(t *testing.T) {
	c := cache.New(time.Hour)
	defer c.Close()
	a := NewLabelAnalyzer(LabelConfig{CacheEnabled: true}, c)

	ec := Context{UserID: "user-1", EmailID: "email-1", EmailContext: rules.EmailContext{
		Labels: []string{"CATEGORY_PROMOTIONS"},
	}}

	partial, err := a.Analyze(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "promotions", partial.GmailCategory)
	assert.Greater(t, partial.PromotionalScore, 0.0)
}

func TestLabelAnalyzerFingerprintIsOrderIndependent(t *testing.T) {
	c := cache.New(time.Hour)
	defer c.Close()
	a := NewLabelAnalyzer(LabelConfig{CacheEnabled: true}, c)

	ec1 := Context{UserID: "user-1", EmailID: "email-1", EmailContext: rules.EmailContext{
		Labels: []string{"CATEGORY_SOCIAL", "INBOX"},
	}}
	ec2 := Context{UserID: "user-1", EmailID: "email-2", EmailContext: rules.EmailContext{
		Labels: []string{"INBOX", "CATEGORY_SOCIAL"},
	}}

	first, err := a.Analyze(context.Background(), ec1)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), ec2)
	require.NoError(t, err)

	assert.Equal(t, first.GmailCategory, second.GmailCategory)
	assert.Equal(t, first.SocialScore, second.SocialScore)
}

func TestLabelAnalyzerNoLabelsIsPrimary(t *testing.T) {
	c := cache.New(time.Hour)
	defer c.Close()
	a := NewLabelAnalyzer(LabelConfig{CacheEnabled: true}, c)

	ec := Context{UserID: "user-1", EmailID: "email-1"}
	partial, err := a.Analyze(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, "primary", partial.GmailCategory)
}
