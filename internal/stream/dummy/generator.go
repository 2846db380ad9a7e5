package dummy

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"nasdaqstream.com/internal/stream/markethours"
	"nasdaqstream.com/internal/stream/normalize"
)

// Rand 随机源，测试里用固定序列
type Rand interface {
	Int63n(n int64) int64
}

// lockedRand math/rand.Rand 不是并发安全的
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRand(seed int64) Rand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

// DefaultMaxStep 每步最多涨 0.05 美元
const DefaultMaxStep int64 = 500

type Option func(*Generator)

func WithRand(r Rand) Option     { return func(g *Generator) { g.rnd = r } }
func WithMaxStep(n int64) Option { return func(g *Generator) { g.maxStep = n } }
func WithMarketCenter(mc string) Option {
	return func(g *Generator) { g.marketCenter = mc }
}

// Generator 为每个 symbol 维护一个价格游标：首次随机落在区间内，
// 之后每步上涨 [1, maxStep]，超过上界回到下界。
// 只属于一个 Broadcast Loop。
type Generator struct {
	table        []SymbolRange
	gate         markethours.Gate
	rnd          Rand
	maxStep      int64
	marketCenter string

	cursors map[string]int64
	volume  map[string]int64
	seq     int64
}

func New(table []SymbolRange, gate markethours.Gate, opts ...Option) (*Generator, error) {
	if len(table) == 0 {
		return nil, errors.New("dummy: empty symbol table")
	}
	seen := make(map[string]struct{}, len(table))
	for _, s := range table {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[s.Symbol]; dup {
			return nil, fmt.Errorf("dummy: duplicate symbol %s", s.Symbol)
		}
		seen[s.Symbol] = struct{}{}
	}

	g := &Generator{
		table:        append([]SymbolRange(nil), table...),
		gate:         gate,
		maxStep:      DefaultMaxStep,
		marketCenter: "Q",
		cursors:      make(map[string]int64, len(table)),
		volume:       make(map[string]int64, len(table)),
	}
	for _, o := range opts {
		o(g)
	}
	if g.rnd == nil {
		g.rnd = NewRand(time.Now().UnixNano())
	}
	if g.maxStep <= 0 {
		g.maxStep = 1
	}
	return g, nil
}

// Symbols 按表顺序
func (g *Generator) Symbols() []string {
	out := make([]string, len(g.table))
	for i, s := range g.table {
		out[i] = s.Symbol
	}
	return out
}

// Cursor 当前价格游标，未初始化时 ok=false
func (g *Generator) Cursor(symbol string) (int64, bool) {
	p, ok := g.cursors[symbol]
	return p, ok
}

// Step 每个 symbol 生成一条 T 记录，顺序与表一致。Color 留空，由调用方上色。
func (g *Generator) Step(now time.Time) []normalize.Record {
	ts := g.gate.ShiftIntoWindow(now)
	id := int64(ts.Sub(normalize.Midnight(ts, ts.Location())))
	stamp := ts.Format(time.RFC3339Nano)

	out := make([]normalize.Record, 0, len(g.table))
	for i, s := range g.table {
		price := g.advance(s)
		size := s.SizeLow + g.rnd.Int63n(s.SizeHigh-s.SizeLow+1)
		g.volume[s.Symbol] += size
		g.seq++

		out = append(out, normalize.Record{
			TrackingID:         id,
			Timestamp:          stamp,
			MsgType:            normalize.MsgTrade,
			Symbol:             s.Symbol,
			Price:              price,
			Size:               size,
			MarketCenter:       g.marketCenter,
			SecurityClass:      "Q",
			ControlNumber:      strconv.FormatInt(g.seq, 10),
			SaleCondition:      "@",
			ConsolidatedVolume: g.volume[s.Symbol],
			Partition:          int64(i % 4),
			Sequence:           g.seq,
		})
	}
	return out
}

func (g *Generator) advance(s SymbolRange) int64 {
	cur, ok := g.cursors[s.Symbol]
	if !ok {
		cur = s.PriceLow + g.rnd.Int63n(s.PriceHigh-s.PriceLow+1)
	} else {
		cur += 1 + g.rnd.Int63n(g.maxStep)
		if cur > s.PriceHigh {
			cur = s.PriceLow
		}
	}
	g.cursors[s.Symbol] = cur
	return cur
}
