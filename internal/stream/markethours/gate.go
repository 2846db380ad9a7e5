package markethours

import (
	"fmt"
	"time"
)

// 默认交易窗口：纽约时间 04:00-20:00（含盘前盘后）
const (
	DefaultTimezone = "America/New_York"
	DefaultOpen     = "04:00"
	DefaultClose    = "20:00"
)

// Gate 判断某个时刻是否在交易窗口内：周一到周五，[Open, Close)。
// 节假日不在这里处理。
type Gate struct {
	Location *time.Location
	Open     time.Duration // 距当地零点
	Close    time.Duration
}

// New tz 为 IANA 时区名，open/close 为 "HH:MM"
func New(tz, open, close string) (Gate, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Gate{}, fmt.Errorf("markethours: load timezone %q: %w", tz, err)
	}
	o, err := ParseClock(open)
	if err != nil {
		return Gate{}, err
	}
	c, err := ParseClock(close)
	if err != nil {
		return Gate{}, err
	}
	if o >= c {
		return Gate{}, fmt.Errorf("markethours: open %s must be before close %s", open, close)
	}
	return Gate{Location: loc, Open: o, Close: c}, nil
}

// Default 04:00-20:00 America/New_York
func Default() (Gate, error) {
	return New(DefaultTimezone, DefaultOpen, DefaultClose)
}

// ParseClock "HH:MM" -> 距零点的时长
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("markethours: bad clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (g Gate) IsOpen(now time.Time) bool {
	lt := now.In(g.loc())
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	tod := sinceMidnight(lt)
	return tod >= g.Open && tod < g.Close
}

// ShiftIntoWindow 把 now 平移进交易窗口：时刻相对 Open 取模落进窗口，
// 工作日日期不变，周六周日退回到上一个周五。已经 IsOpen 的直接返回。
func (g Gate) ShiftIntoWindow(now time.Time) time.Time {
	lt := now.In(g.loc())
	if g.IsOpen(lt) {
		return lt
	}
	width := g.Close - g.Open
	if width <= 0 {
		return lt
	}
	tod := sinceMidnight(lt)
	off := tod
	if tod < g.Open || tod >= g.Close {
		// 保留分秒，方便看出是哪一刻生成的
		off = (tod - g.Open) % width
		if off < 0 {
			off += width
		}
		off += g.Open
	}
	day := lt.Day()
	switch lt.Weekday() {
	case time.Saturday:
		day--
	case time.Sunday:
		day -= 2
	}
	// 按日历重建，跨月和夏令时交给 time.Date
	midnight := time.Date(lt.Year(), lt.Month(), day, 0, 0, 0, 0, lt.Location())
	return midnight.Add(off)
}

func (g Gate) loc() *time.Location {
	if g.Location == nil {
		return time.UTC
	}
	return g.Location
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}
