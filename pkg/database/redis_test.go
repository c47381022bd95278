package database

import (
	"context"
	"testing"

	"factcheck-relay/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewRedis_Unavailable(t *testing.T) {
	cases := map[string]config.RedisConfig{
		"no url":    {Token: "t"},
		"no token":  {URL: "redis://localhost:6379"},
		"bad url":   {URL: "http://not-redis", Token: "t"},
		"empty cfg": {},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			require.Nil(t, NewRedis(cfg))
		})
	}
}

func TestNewRedis_UsesTokenAsPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret-token")

	rdb := NewRedis(config.RedisConfig{URL: "redis://" + mr.Addr(), Token: "secret-token"})
	require.NotNil(t, rdb)
	defer rdb.Close()
	require.NoError(t, rdb.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
}
