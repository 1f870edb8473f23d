package redis

import (
	"context"
	"encoding/json"
	"testing"

	"safesleep-telemetry/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishToStream_StringifiesValues(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer Close(client)

	ctx := context.Background()
	require.NoError(t, Ping(ctx, client))

	id, err := PublishToStream(ctx, client, "test:stream", 0, map[string]interface{}{
		"name":  "SensitivityMeter",
		"count": 3,
		"ratio": 0.5,
		"ok":    true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := ReadRange(ctx, client, "test:stream")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "SensitivityMeter", msgs[0].Values["name"])
	assert.Equal(t, "3", msgs[0].Values["count"])
	assert.Equal(t, "0.5", msgs[0].Values["ratio"])
	assert.Equal(t, "true", msgs[0].Values["ok"])
}

func TestPublishJSONToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer Close(client)

	ctx := context.Background()
	_, err := PublishJSONToStream(ctx, client, "json:stream", 100, map[string]string{"name": "DHT1", "value": "21.5"})
	require.NoError(t, err)

	msgs, err := ReadRange(ctx, client, "json:stream")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &decoded))
	assert.Equal(t, "DHT1", decoded["name"])
	assert.Equal(t, "21.5", decoded["value"])
	assert.NotEmpty(t, msgs[0].Values["timestamp"])
}

func TestReadRange_EmptyStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer Close(client)

	msgs, err := ReadRange(context.Background(), client, "missing")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
