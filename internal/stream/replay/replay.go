package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"nasdaqstream.com/internal/stream/feed"
	"nasdaqstream.com/internal/stream/normalize"
	"nasdaqstream.com/internal/stream/source"
	"nasdaqstream.com/pkg/logger"
)

// Generator 由 dummy.Generator 实现
type Generator interface {
	Step(now time.Time) []normalize.Record
}

type Config struct {
	Topic    string
	Interval time.Duration
	// Steps > 0 时跑够就退出，0 表示一直跑
	Steps int
}

// Replayer 把模拟成交编码成上游格式写进 Kafka/NATS/Redis，本地联调用
type Replayer struct {
	cfg Config
	pub source.Publisher
	gen Generator
	now func() time.Time
}

func New(cfg Config, pub source.Publisher, gen Generator) (*Replayer, error) {
	if cfg.Topic == "" {
		return nil, errors.New("replay: empty topic")
	}
	if pub == nil || gen == nil {
		return nil, errors.New("replay: nil publisher or generator")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Replayer{cfg: cfg, pub: pub, gen: gen, now: time.Now}, nil
}

// Run 发布失败只打日志，ctx 取消时返回 nil
func (r *Replayer) Run(ctx context.Context) error {
	ctx = logger.WithTopic(ctx, r.cfg.Topic)
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()

	total := 0
	for n := 1; ; n++ {
		sent, err := r.Step(ctx)
		total += sent
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn(ctx, "replay publish failed", zap.String("sink", r.pub.Name()), zap.Error(err))
		}
		if r.cfg.Steps > 0 && n >= r.cfg.Steps {
			logger.Info(ctx, "replay finished", zap.Int("steps", n), zap.Int("messages", total))
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Step 生成一轮并逐条发布，返回成功条数
func (r *Replayer) Step(ctx context.Context) (int, error) {
	recs := r.gen.Step(r.now())
	for i, rec := range recs {
		b, err := feed.Encode(Raw(rec))
		if err != nil {
			return i, err
		}
		if err := r.pub.Publish(ctx, r.cfg.Topic, []byte(rec.Symbol), b); err != nil {
			return i, fmt.Errorf("publish %s: %w", rec.Symbol, err)
		}
	}
	return len(recs), nil
}

// Raw Record 反向转成上游消息；NoPrice 还原成缺失
func Raw(rec normalize.Record) feed.RawMessage {
	m := feed.RawMessage{
		Partition:          rec.Partition,
		Sequence:           rec.Sequence,
		TrackingID:         fmt.Sprintf("%0*d", normalize.TrackingIDLen, rec.TrackingID),
		MsgType:            rec.MsgType,
		MarketCenter:       rec.MarketCenter,
		Symbol:             rec.Symbol,
		SecurityClass:      rec.SecurityClass,
		ControlNumber:      rec.ControlNumber,
		Size:               rec.Size,
		SaleCondition:      rec.SaleCondition,
		ConsolidatedVolume: rec.ConsolidatedVolume,
	}
	if rec.Price != normalize.NoPrice {
		p := rec.Price
		m.Price = &p
	}
	return m
}
