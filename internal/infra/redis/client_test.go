package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(Config{URL: "not-a-redis-url"})
	assert.ErrorContains(t, err, "parse redis URL")
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient(Config{URL: "redis://127.0.0.1:1/0"})
	assert.ErrorContains(t, err, "connect to redis")
}

// Runs against a real server when RENTDESK_TEST_REDIS_URL is set.
func TestClient_Cache(t *testing.T) {
	url := os.Getenv("RENTDESK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("RENTDESK_TEST_REDIS_URL not set")
	}
	c, err := NewClient(Config{URL: url})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.DeletePrefix(ctx, "test:"))

	_, ok, err := c.Get(ctx, "test:a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "test:a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "test:b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "other:c", []byte("3"), time.Minute))

	v, ok, err := c.Get(ctx, "test:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, c.DeletePrefix(ctx, "test:"))
	_, ok, _ = c.Get(ctx, "test:b")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "other:c")
	assert.True(t, ok)
	require.NoError(t, c.DeletePrefix(ctx, "other:"))
}
