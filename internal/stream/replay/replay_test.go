package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nasdaqstream.com/internal/stream/dummy"
	"nasdaqstream.com/internal/stream/markethours"
	"nasdaqstream.com/internal/stream/normalize"
	"nasdaqstream.com/internal/stream/source"
)

type recordingPub struct {
	mu   sync.Mutex
	keys []string
	fail error
}

func (p *recordingPub) Name() string { return "mem" }

func (p *recordingPub) Publish(_ context.Context, _ string, key, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.keys = append(p.keys, string(key))
	return nil
}

func (p *recordingPub) Close() error { return nil }

func (p *recordingPub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// lastGen 记下最近一轮生成的记录，方便和消费端对比
type lastGen struct {
	g    *dummy.Generator
	last []normalize.Record
}

func (l *lastGen) Step(now time.Time) []normalize.Record {
	l.last = l.g.Step(now)
	return l.last
}

func newGen(t *testing.T) (*lastGen, markethours.Gate) {
	t.Helper()
	gate, err := markethours.Default()
	require.NoError(t, err)
	g, err := dummy.New(dummy.DefaultTable(), gate, dummy.WithRand(dummy.NewRand(1)))
	require.NoError(t, err)
	return &lastGen{g: g}, gate
}

func TestRaw_MissingPriceAndTrackingID(t *testing.T) {
	rec := normalize.Record{TrackingID: 36000000000000, Symbol: "AAPL", Price: normalize.NoPrice, MsgType: normalize.MsgHalt}
	raw := Raw(rec)
	assert.Nil(t, raw.Price)
	assert.Equal(t, "36000000000000", raw.TrackingID)

	rec.TrackingID = 5
	rec.Price = 12345
	raw = Raw(rec)
	assert.Equal(t, "00000000000005", raw.TrackingID)
	require.NotNil(t, raw.Price)
	assert.Equal(t, int64(12345), *raw.Price)

	back, err := normalize.New(time.UTC).Normalize(raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(5), back.TrackingID)
	assert.Equal(t, int64(12345), back.Price)
}

func TestReplay_New(t *testing.T) {
	gen, _ := newGen(t)
	_, err := New(Config{}, &recordingPub{}, gen)
	assert.Error(t, err)
	_, err = New(Config{Topic: "NLSUTP"}, nil, gen)
	assert.Error(t, err)
}

// 写进 Redis stream 的消息能被 RedisStreamSource 读回并归一化成同样的记录
func TestReplay_RedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	cfg := source.RedisConfig{Addr: mr.Addr(), KeyPrefix: "nasdaq:"}

	src, err := source.NewRedisStreamSource(cfg)
	require.NoError(t, err)
	c, err := src.Connect(ctx, "NLSUTP")
	require.NoError(t, err)
	defer c.Close()

	pub, err := source.NewRedisPublisher(cfg, 1000)
	require.NoError(t, err)
	defer pub.Close()

	gen, gate := newGen(t)
	r, err := New(Config{Topic: "NLSUTP"}, pub, gen)
	require.NoError(t, err)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, gate.Location)
	r.now = func() time.Time { return now }

	n, err := r.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, len(gen.last), n)

	msgs, err := c.Poll(ctx, 100, 200*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, n)

	recs, skipped := normalize.New(gate.Location).NormalizeBatch(msgs, nil, now)
	require.Empty(t, skipped)
	require.Len(t, recs, n)
	for i, want := range gen.last {
		assert.Equal(t, want.Symbol, recs[i].Symbol)
		assert.Equal(t, want.Price, recs[i].Price)
		assert.Equal(t, want.TrackingID, recs[i].TrackingID)
		assert.Equal(t, want.Timestamp, recs[i].Timestamp)
	}
}

func TestReplay_RunStopsAfterSteps(t *testing.T) {
	gen, _ := newGen(t)
	pub := &recordingPub{}
	r, err := New(Config{Topic: "NLSUTP", Interval: time.Millisecond, Steps: 3}, pub, gen)
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 3*len(dummy.DefaultTable()), pub.count())
}

func TestReplay_RunKeepsGoingOnPublishError(t *testing.T) {
	gen, _ := newGen(t)
	pub := &recordingPub{fail: errors.New("down")}
	r, err := New(Config{Topic: "NLSUTP", Interval: time.Millisecond}, pub, gen)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, r.Run(ctx))
	assert.Zero(t, pub.count())
}
