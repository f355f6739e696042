package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/fundpool-backend/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("empty url disables redis", func(t *testing.T) {
		client, err := New(context.Background(), config.RedisConfig{})
		require.NoError(t, err)
		assert.Nil(t, client)
	})

	t.Run("malformed url", func(t *testing.T) {
		_, err := New(context.Background(), config.RedisConfig{URL: "mysql://nope"})
		assert.ErrorContains(t, err, "parse redis URL")
	})
}
