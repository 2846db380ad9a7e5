package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"nasdaqstream.com/internal/stream/feed"
)

// TrackingIDLen tracking id 固定 14 位十进制，表示当日零点起的纳秒数
const TrackingIDLen = 14

// FormatError 单条记录格式不对，只跳过这一条
type FormatError struct {
	Field string
	Value string
	Err   error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("normalize: bad %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

var errTrackingLen = errors.New("expected 14 decimal digits")

// Normalizer 把上游消息转成 Record。本身无状态，颜色由 Colorizer 负责。
type Normalizer struct {
	loc *time.Location
}

// New loc 为交易所时区，nil 时用 UTC
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Normalize 校验 tracking id 并计算时间戳；price 缺失用 NoPrice。
// 返回的 Record 还没有 Color。
func (n *Normalizer) Normalize(raw feed.RawMessage, now time.Time) (Record, error) {
	id, err := ParseTrackingID(raw.TrackingID)
	if err != nil {
		return Record{}, err
	}

	price := NoPrice
	if raw.Price != nil {
		price = *raw.Price
	}

	return Record{
		TrackingID:         id,
		Timestamp:          n.Timestamp(id, now).Format(time.RFC3339Nano),
		MsgType:            raw.MsgType,
		Symbol:             raw.Symbol,
		Price:              price,
		Size:               raw.Size,
		MarketCenter:       raw.MarketCenter,
		SecurityClass:      raw.SecurityClass,
		ControlNumber:      raw.ControlNumber,
		SaleCondition:      raw.SaleCondition,
		ConsolidatedVolume: raw.ConsolidatedVolume,
		Partition:          raw.Partition,
		Sequence:           raw.Sequence,
	}, nil
}

// Timestamp now 所在交易日零点 + id 纳秒
func (n *Normalizer) Timestamp(id int64, now time.Time) time.Time {
	return Midnight(now, n.loc).Add(time.Duration(id))
}

// Midnight t 在 loc 下当天的零点
func Midnight(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

func ParseTrackingID(s string) (int64, error) {
	if len(s) != TrackingIDLen {
		return 0, &FormatError{Field: "trackingID", Value: s, Err: errTrackingLen}
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, &FormatError{Field: "trackingID", Value: s, Err: errTrackingLen}
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &FormatError{Field: "trackingID", Value: s, Err: err}
	}
	return id, nil
}

// Skipped 一条被丢弃的消息及原因
type Skipped struct {
	Index int
	Err   error
}

// NormalizeBatch 解码 + 归一化 + 上色。坏消息记进 skipped，不影响其它消息。
func (n *Normalizer) NormalizeBatch(msgs []feed.Message, c *Colorizer, now time.Time) (out []Record, skipped []Skipped) {
	out = make([]Record, 0, len(msgs))
	for i, m := range msgs {
		raw, err := feed.Decode(m.Value)
		if err != nil {
			skipped = append(skipped, Skipped{Index: i, Err: err})
			continue
		}
		rec, err := n.Normalize(raw, now)
		if err != nil {
			skipped = append(skipped, Skipped{Index: i, Err: err})
			continue
		}
		if c != nil {
			c.Apply(&rec)
		}
		out = append(out, rec)
	}
	return out, skipped
}
