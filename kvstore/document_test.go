package kvstore_test

import (
	"testing"

	"github.com/denismitr/voltha/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonValue(t *testing.T) {
	js := kvstore.NewJsonValue([]byte(`{"me":{"class_id":256,"entity_id":1},"score":9.5,"uploaded":true,"vendor":"BRCM"}`))

	t.Run("it reads existing paths", func(t *testing.T) {
		assert.True(t, js.Exists("me.class_id"))
		assert.Equal(t, 256, js.IntOrDefault("me.class_id", 0))
		assert.Equal(t, 9.5, js.FloatOrDefault("score", 0))
		assert.True(t, js.BoolOrDefault("uploaded", false))
		assert.Equal(t, "BRCM", js.StringOrDefault("vendor", ""))

		raw, err := js.Raw("me")
		require.NoError(t, err)
		assert.JSONEq(t, `{"class_id":256,"entity_id":1}`, string(raw))
	})

	t.Run("it falls back to defaults on missing paths", func(t *testing.T) {
		assert.False(t, js.Exists("me.instance"))
		assert.Equal(t, -1, js.IntOrDefault("me.instance", -1))
		assert.Equal(t, "none", js.StringOrDefault("model", "none"))

		_, err := js.Bool("enabled")
		assert.ErrorIs(t, err, kvstore.ErrJsonPathInvalid)
	})

	t.Run("it fails to unmarshal broken json", func(t *testing.T) {
		var dest map[string]interface{}
		err := kvstore.NewJsonValue([]byte(`{"me":`)).Unmarshal(&dest)
		assert.ErrorIs(t, err, kvstore.ErrJsonCouldNotBeUnmarshalled)
	})
}
