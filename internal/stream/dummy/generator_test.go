package dummy

import (
	"encoding/csv"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nasdaqstream.com/internal/stream/markethours"
	"nasdaqstream.com/internal/stream/normalize"
)

// scriptRand 按顺序返回预设值（对 n 取模）
type scriptRand struct {
	vals []int64
	i    int
}

func (s *scriptRand) Int63n(n int64) int64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v % n
}

func gate(t *testing.T) markethours.Gate {
	t.Helper()
	g, err := markethours.Default()
	require.NoError(t, err)
	return g
}

func TestGenerator_CursorWraps(t *testing.T) {
	table := []SymbolRange{{Symbol: "AAPL", PriceLow: 100, PriceHigh: 110, SizeLow: 1, SizeHigh: 10}}
	// init=+8 -> 108, size; step=1+4 -> 113 > 110 -> 100, size; step=1+2 -> 103
	r := &scriptRand{vals: []int64{8, 0, 4, 0, 2, 0}}
	g, err := New(table, gate(t), WithRand(r), WithMaxStep(10))
	require.NoError(t, err)

	now := time.Date(2024, 3, 12, 10, 0, 0, 0, gate(t).Location)

	recs := g.Step(now)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(108), recs[0].Price)

	recs = g.Step(now)
	assert.Equal(t, int64(100), recs[0].Price, "超过上界回到下界")

	recs = g.Step(now)
	assert.Equal(t, int64(103), recs[0].Price)

	cur, ok := g.Cursor("AAPL")
	assert.True(t, ok)
	assert.Equal(t, int64(103), cur)
}

func TestGenerator_StaysInRange(t *testing.T) {
	g, err := New(DefaultTable(), gate(t), WithRand(NewRand(7)))
	require.NoError(t, err)

	ranges := map[string]SymbolRange{}
	for _, s := range DefaultTable() {
		ranges[s.Symbol] = s
	}

	now := time.Date(2024, 3, 12, 10, 0, 0, 0, gate(t).Location)
	var lastSeq int64
	for i := 0; i < 2000; i++ {
		recs := g.Step(now)
		require.Len(t, recs, len(ranges))
		for j, r := range recs {
			sr := ranges[r.Symbol]
			assert.GreaterOrEqual(t, r.Price, sr.PriceLow)
			assert.LessOrEqual(t, r.Price, sr.PriceHigh)
			assert.GreaterOrEqual(t, r.Size, sr.SizeLow)
			assert.LessOrEqual(t, r.Size, sr.SizeHigh)
			assert.Equal(t, normalize.MsgTrade, r.MsgType)
			assert.Equal(t, g.Symbols()[j], r.Symbol, "顺序与表一致")
			assert.Greater(t, r.Sequence, lastSeq)
			lastSeq = r.Sequence
		}
	}
}

func TestGenerator_TimestampShiftedIntoWindow(t *testing.T) {
	gt := gate(t)
	g, err := New(DefaultTable(), gt, WithRand(NewRand(1)))
	require.NoError(t, err)

	night := time.Date(2024, 3, 12, 23, 15, 0, 0, gt.Location)
	recs := g.Step(night)
	require.NotEmpty(t, recs)

	ts, err := time.Parse(time.RFC3339Nano, recs[0].Timestamp)
	require.NoError(t, err)
	assert.True(t, gt.IsOpen(ts), "timestamp %s 应落在交易窗口内", ts)

	// tracking id 与时间戳一致
	n := normalize.New(gt.Location)
	assert.True(t, n.Timestamp(recs[0].TrackingID, ts).Equal(ts))
	assert.Len(t, strconv.FormatInt(recs[0].TrackingID, 10), normalize.TrackingIDLen)

	// 周日生成的记录落到上一个周五
	sun := g.Step(time.Date(2024, 3, 17, 9, 0, 0, 0, gt.Location))
	ts, err = time.Parse(time.RFC3339Nano, sun[0].Timestamp)
	require.NoError(t, err)
	assert.Equal(t, time.Friday, ts.In(gt.Location).Weekday())
	assert.True(t, gt.IsOpen(ts))
	assert.True(t, n.Timestamp(sun[0].TrackingID, ts).Equal(ts))
}

func TestNew_RejectsBadTable(t *testing.T) {
	_, err := New(nil, gate(t))
	assert.Error(t, err)

	_, err = New([]SymbolRange{{Symbol: "X", PriceLow: 10, PriceHigh: 5, SizeLow: 1, SizeHigh: 1}}, gate(t))
	assert.Error(t, err)

	dup := SymbolRange{Symbol: "X", PriceLow: 1, PriceHigh: 5, SizeLow: 1, SizeHigh: 1}
	_, err = New([]SymbolRange{dup, dup}, gate(t))
	assert.Error(t, err)
}

func TestLoadCSV(t *testing.T) {
	in := `symbol,price_low,price_high,size_low,size_high
# comment line
aapl, 185.25, 190, 1, 100
MSFT,400.1,410.9999,5,50
`
	table, err := LoadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, table, 2)

	assert.Equal(t, SymbolRange{Symbol: "AAPL", PriceLow: 1852500, PriceHigh: 1900000, SizeLow: 1, SizeHigh: 100}, table[0])
	assert.Equal(t, int64(4001000), table[1].PriceLow)
	assert.Equal(t, int64(4109999), table[1].PriceHigh)
}

func TestLoadCSV_Errors(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("AAPL,abc,190,1,100\n"))
	assert.Error(t, err)

	_, err = LoadCSV(strings.NewReader("AAPL,185,190,1\n"))
	assert.Error(t, err, "列数不对")

	_, err = LoadCSV(strings.NewReader("AAPL,185,190,x,100\n"))
	assert.Error(t, err)
}

func TestLoadCSV_ErrorLineCountsFileLines(t *testing.T) {
	in := `symbol,price_low,price_high,size_low,size_high
# comment line

# another
AAPL,185,190,1,100
MSFT,400,390,1,100
`
	_, err := LoadCSV(strings.NewReader(in))
	require.Error(t, err)
	assert.Equal(t, "dummy: csv line 6: MSFT bad price range [4000000, 3900000]", err.Error())

	_, err = LoadCSV(strings.NewReader("# c\nAAPL,185,190,x,100\n"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "dummy: csv line 2: size_low: "), err.Error())

	_, err = LoadCSV(strings.NewReader("# c\n\nAAPL,185,190,1\n"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "dummy: csv line 3: "), err.Error())
	assert.ErrorIs(t, err, csv.ErrFieldCount)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "185.2500", FormatPrice(1852500))
	p, err := ParsePrice("0.0001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p)
}
