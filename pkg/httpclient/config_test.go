package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFileToOptionsPreservesUnsetCacheDefaults(t *testing.T) {
	var cf ConfigFile
	cf.Cache.Enable = true
	cf.Cache.EnableRevalidation = true

	opts := cf.toOptions()

	// InvalidateOnUnsafeMethods is a cache.DefaultOptions() default never
	// represented in ConfigFile; a naive wholesale struct replacement would
	// silently clobber it back to false.
	assert.True(t, opts.Cache.InvalidateOnUnsafeMethods)
	assert.True(t, opts.Cache.EnableCache)
	assert.True(t, opts.Cache.EnableRevalidation)
}

func TestConfigFileToOptionsAppliesPoolOverrides(t *testing.T) {
	var cf ConfigFile
	cf.Pool.PerOriginMax = 12
	cf.Pool.IdleTimeout = 45 * time.Second

	opts := cf.toOptions()

	assert.Equal(t, 12, opts.Pool.PerOriginMax)
	assert.Equal(t, 45*time.Second, opts.Pool.IdleTimeout)
	assert.Equal(t, DefaultOptions().Pool.GlobalMax, opts.Pool.GlobalMax)
}

func TestConfigFileToOptionsLeavesReplayDisabledWhenModeUnset(t *testing.T) {
	var cf ConfigFile
	opts := cf.toOptions()
	assert.Empty(t, opts.Replay.Mode)
}

func TestOverlayFromMapDecodesNestedFields(t *testing.T) {
	opts := DefaultOptions()
	err := OverlayFromMap(&opts, map[string]any{
		"Pool": map[string]any{
			"PerOriginMax": "10",
		},
		"Metrics": "true",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, opts.Pool.PerOriginMax)
	assert.True(t, opts.Metrics)
}
