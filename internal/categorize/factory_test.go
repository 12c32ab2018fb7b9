package categorize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gmaildispatch/internal/cache"
	"gmaildispatch/internal/rules"
)

func TestNewFactoryRejectsMalformedRule(t *testing.T) {
	c := cache.New(time.Hour)
	defer c.Close()
	cfg := DefaultConfig()
	cfg.Rules = []rules.RawRule{{Type: "not_a_real_type"}}

	_, err := NewFactory(cfg, c)
	assert.Error(t, err)
}

func TestBuildAllReturnsThreeAnalyzersInFixedOrder(t *testing.T) {
	c := cache.New(time.Hour)
	defer c.Close()
	cfg := DefaultConfig()
	cfg.Rules = []rules.RawRule{{Type: "no_reply"}}

	f, err := NewFactory(cfg, c)
	require.NoError(t, err)

	analyzers, err := f.BuildAll()
	require.NoError(t, err)
	require.Len(t, analyzers, 3)
	assert.Equal(t, "importance", analyzers[0].Name())
	assert.Equal(t, "datesize", analyzers[1].Name())
	assert.Equal(t, "label", analyzers[2].Name())
}
