package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/edugate/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBackends_KeyLayout(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := connectRedis("redis://" + mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	store, blacklist := redisBackends(client, "edugate:")
	ctx := context.Background()

	_, _, err = store.Increment(ctx, "login:ip:1.2.3.4", time.Minute, time.Now())
	require.NoError(t, err)
	_, err = blacklist.Add(ctx, models.RevokedToken{JTI: "jti-1", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"edugate:rl:login:ip:1.2.3.4", "edugate:bl:jti-1"}, mr.Keys())
}

func TestConnectRedis_Errors(t *testing.T) {
	_, err := connectRedis("not a url")
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = connectRedis("redis://" + addr)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}
