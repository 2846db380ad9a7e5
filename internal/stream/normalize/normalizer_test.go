package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nasdaqstream.com/internal/stream/feed"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func price(p int64) *int64 { return &p }

func TestNormalize_TimestampIsMidnightPlusTrackingID(t *testing.T) {
	loc := newYork(t)
	n := New(loc)
	now := time.Date(2024, 3, 12, 15, 30, 0, 0, loc)

	cases := []string{"00000000000000", "34200000000000", "57600123456789", "71999999999999"}
	for _, id := range cases {
		rec, err := n.Normalize(feed.RawMessage{TrackingID: id, MsgType: "T", Symbol: "AAPL", Price: price(1)}, now)
		require.NoError(t, err, id)

		ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
		require.NoError(t, err)

		midnight := time.Date(2024, 3, 12, 0, 0, 0, 0, loc)
		assert.Equal(t, rec.TrackingID, ts.Sub(midnight).Nanoseconds(), id)
	}
}

func TestNormalize_MarketOpenTrackingID(t *testing.T) {
	loc := newYork(t)
	n := New(loc)
	now := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

	// 9:30 = 34200 秒
	rec, err := n.Normalize(feed.RawMessage{TrackingID: "34200000000000", MsgType: "T", Symbol: "AAPL"}, now)
	require.NoError(t, err)

	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	require.NoError(t, err)
	lt := ts.In(loc)
	assert.Equal(t, 9, lt.Hour())
	assert.Equal(t, 30, lt.Minute())
	assert.Equal(t, NoPrice, rec.Price, "缺失价格用 -1")
}

func TestNormalize_BadTrackingID(t *testing.T) {
	n := New(time.UTC)
	for _, id := range []string{"", "123", "1234567890123", "123456789012345", "1234567890123a", "-2345678901234"} {
		_, err := n.Normalize(feed.RawMessage{TrackingID: id}, time.Now())
		require.Error(t, err, id)

		var fe *FormatError
		assert.True(t, errors.As(err, &fe), id)
		assert.Equal(t, "trackingID", fe.Field)
	}
}

func TestNormalizeBatch_SkipsOnlyBadRecord(t *testing.T) {
	n := New(time.UTC)
	msgs := []feed.Message{
		{Value: []byte(`{"trackingID":"00000000000001","msgType":"T","symbol":"AAPL","price":100}`)},
		{Value: []byte(`{"trackingID":"123","msgType":"T","symbol":"AAPL","price":101}`)},
		{Value: []byte(`not json`)},
		{Value: []byte(`{"trackingID":"00000000000003","msgType":"T","symbol":"AAPL","price":102}`)},
	}

	out, skipped := n.NormalizeBatch(msgs, NewColorizer(), time.Now())
	require.Len(t, out, 2)
	require.Len(t, skipped, 2)
	assert.Equal(t, int64(1), out[0].TrackingID)
	assert.Equal(t, int64(3), out[1].TrackingID)
	assert.Equal(t, 1, skipped[0].Index)
	assert.Equal(t, 2, skipped[1].Index)

	var fe *FormatError
	assert.True(t, errors.As(skipped[0].Err, &fe))
	var de *feed.DecodeError
	assert.True(t, errors.As(skipped[1].Err, &de))

	assert.Equal(t, ColorBlack, out[0].Color)
	assert.Equal(t, ColorGreen, out[1].Color)
}

func TestColorizer_Sequence(t *testing.T) {
	c := NewColorizer()
	in := []Record{
		{Symbol: "AAPL", MsgType: MsgTrade, Price: 100},
		{Symbol: "AAPL", MsgType: MsgTrade, Price: 110},
		{Symbol: "AAPL", MsgType: MsgTrade, Price: 90},
		{Symbol: "AAPL", MsgType: MsgHalt, Price: 90},
	}
	want := []string{ColorBlack, ColorGreen, ColorRed, ColorYellow}

	for i := range in {
		c.Apply(&in[i])
		assert.Equal(t, want[i], in[i].Color, "record %d", i)
	}
}

func TestColorizer_EdgeCases(t *testing.T) {
	c := NewColorizer()

	halt := Record{Symbol: "MSFT", MsgType: MsgHalt, Price: NoPrice}
	c.Apply(&halt)
	assert.Equal(t, ColorBlack, halt.Color, "首次出现的 H 是 black")

	first := Record{Symbol: "MSFT", MsgType: MsgTrade, Price: 300}
	c.Apply(&first)
	assert.Equal(t, ColorBlack, first.Color, "之前没有成交价")

	same := Record{Symbol: "MSFT", MsgType: MsgTrade, Price: 300}
	c.Apply(&same)
	assert.Equal(t, ColorGreen, same.Color, "平价算 green")

	noPrice := Record{Symbol: "MSFT", MsgType: MsgTrade, Price: NoPrice}
	c.Apply(&noPrice)
	assert.Equal(t, ColorGreen, noPrice.Color)

	down := Record{Symbol: "MSFT", MsgType: MsgTrade, Price: 299}
	c.Apply(&down)
	assert.Equal(t, ColorRed, down.Color, "缺价记录不覆盖上一笔价格")

	other := Record{Symbol: "GOOG", MsgType: MsgTrade, Price: 1}
	c.Apply(&other)
	assert.Equal(t, ColorBlack, other.Color, "symbol 之间互不影响")
	assert.Equal(t, 2, c.Len())
}

func TestBatch_Encode(t *testing.T) {
	b := Batch{Topic: "NLSUTP", Records: []Record{
		{TrackingID: 1, Timestamp: "2024-03-12T00:00:00.000000001-04:00", MsgType: "T", Symbol: "AAPL", Price: 100, Color: ColorBlack},
	}}
	payload, err := b.Encode()
	require.NoError(t, err)

	var got struct {
		V       int             `json:"v"`
		Topic   string          `json:"topic"`
		Headers []string        `json:"headers"`
		Data    [][]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &got))

	assert.Equal(t, WireVersion, got.V)
	assert.Equal(t, "NLSUTP", got.Topic)
	assert.Equal(t, Headers, got.Headers)
	require.Len(t, got.Data, 1)
	require.Len(t, got.Data[0], len(Headers))
	assert.Equal(t, "AAPL", got.Data[0][3])
	assert.Equal(t, "black", got.Data[0][len(Headers)-1])
}
