package jobs

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	catalog := NewCatalog()

	t.Run("Get Known Job", func(t *testing.T) {
		def, err := catalog.Get("orders_sync")
		require.NoError(t, err)
		assert.Equal(t, "wb", def.SourceCode)
		assert.True(t, def.SupportsSchedule)
	})

	t.Run("Get Unknown Job", func(t *testing.T) {
		_, err := catalog.Get("nope")
		assert.ErrorIs(t, err, ErrUnknownJob)
	})

	t.Run("List Is Ordered", func(t *testing.T) {
		defs := catalog.List()
		require.NotEmpty(t, defs)
		for i := 1; i < len(defs); i++ {
			assert.Less(t, defs[i-1].JobCode, defs[i].JobCode)
		}
	})
}

func TestCatalogFromConfig(t *testing.T) {
	v := viper.New()
	v.Set("jobs", []map[string]interface{}{
		{
			"jobcode":          "feedback_sync",
			"title":            "Feedback sync",
			"sourcecode":       "wb",
			"supportsschedule": true,
			"supportsmanual":   false,
		},
	})

	catalog, err := NewCatalogFromConfig(v)
	require.NoError(t, err)

	def, err := catalog.Get("feedback_sync")
	require.NoError(t, err)
	assert.True(t, def.SupportsSchedule)
	assert.False(t, def.SupportsManual)

	_, err = catalog.Get("orders_sync")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestCatalogFromEmptyConfig(t *testing.T) {
	catalog, err := NewCatalogFromConfig(viper.New())
	require.NoError(t, err)

	_, err = catalog.Get("orders_sync")
	assert.NoError(t, err)
}
