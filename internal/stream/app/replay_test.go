package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nasdaqstream.com/internal/stream"
	"nasdaqstream.com/internal/stream/dummy"
)

func TestReplay_WritesToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testCfg()
	cfg.Redis = stream.RedisConfig{Addr: mr.Addr(), KeyPrefix: "nasdaq:", Field: "data"}
	cfg.Replay.Steps = 2
	cfg.Topics = []stream.TopicConfig{
		{Name: stream.DefaultTopic, Source: stream.SourceRedis},
		{Name: "DEMO", Source: stream.SourceNone},
	}

	require.NoError(t, Replay(context.Background(), cfg))

	entries, err := mr.Stream("nasdaq:" + stream.DefaultTopic)
	require.NoError(t, err)
	assert.Len(t, entries, 2*len(dummy.DefaultTable()))
	assert.False(t, mr.Exists("nasdaq:DEMO"))
}

func TestReplay_NoUpstream(t *testing.T) {
	err := Replay(context.Background(), testCfg())
	assert.Error(t, err)
}
