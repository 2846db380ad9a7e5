package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nasdaqstream.com/internal/stream/feed"
	"nasdaqstream.com/internal/stream/metrics"
	"nasdaqstream.com/internal/stream/normalize"
	"nasdaqstream.com/internal/stream/source"
	"nasdaqstream.com/internal/stream/ws"
	"nasdaqstream.com/pkg/logger"
	"nasdaqstream.com/pkg/safe"
)

var ErrLoopRunning = errors.New("broadcast: loop already running")

const tracerName = "nasdaqstream.com/internal/stream/broadcast"

// 每个周期的运行模式
const (
	ModeReal  = "real"
	ModeDummy = "dummy"
	ModeIdle  = "idle"
)

// Subscribers 由 ws.Registry 实现
type Subscribers interface {
	SnapshotStreaming() []ws.Channel
	StreamingCount() int
}

// Generator 由 dummy.Generator 实现
type Generator interface {
	Step(now time.Time) []normalize.Record
}

// Gate 由 markethours.Gate 实现
type Gate interface {
	IsOpen(now time.Time) bool
}

type Clock interface {
	Now() time.Time
	// Sleep ctx 取消时提前返回
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type Config struct {
	Topic         string
	MaxMessages   int
	PollTimeout   time.Duration
	IdleDelay     time.Duration
	RetryBase     time.Duration
	RetryMax      time.Duration
	DummyInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.MaxMessages <= 0 {
		c.MaxMessages = 2000
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = 500 * time.Millisecond
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 300 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Second
	}
	if c.DummyInterval <= 0 {
		c.DummyInterval = time.Second
	}
}

type Option func(*Loop)

// WithSource 真实上游；nil 表示只跑 dummy
func WithSource(src source.Source) Option { return func(l *Loop) { l.src = src } }

// WithGenerator 启用 dummy 数据
func WithGenerator(g Generator) Option { return func(l *Loop) { l.gen = g } }
func WithGate(g Gate) Option           { return func(l *Loop) { l.gate = g } }
func WithClock(c Clock) Option         { return func(l *Loop) { l.clock = c } }

// WithTracerProvider 默认用全局 provider（trace.Init 之后设置）
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(l *Loop) { l.tracer = tp.Tracer(tracerName) }
}

type alwaysOpen struct{}

func (alwaysOpen) IsOpen(time.Time) bool { return true }

// Loop 一个 topic 的广播循环：拉取 -> 归一化 -> 快照 -> 推送。
// 上游出错只会重连，不会退出；只有 ctx 取消才结束。
type Loop struct {
	cfg    Config
	subs   Subscribers
	src    source.Source
	gen    Generator
	gate   Gate
	clock  Clock
	tracer oteltrace.Tracer

	norm  *normalize.Normalizer
	color *normalize.Colorizer

	limiter  *rate.Limiter
	backoff  *backoff
	consumer source.Consumer
	running  atomic.Bool
	lastMode string
	curMode  atomic.Pointer[string]
}

func New(cfg Config, subs Subscribers, norm *normalize.Normalizer, opts ...Option) (*Loop, error) {
	cfg.withDefaults()
	if cfg.Topic == "" {
		return nil, errors.New("broadcast: empty topic")
	}
	if subs == nil || norm == nil {
		return nil, errors.New("broadcast: subscribers and normalizer are required")
	}
	l := &Loop{
		cfg:    cfg,
		subs:   subs,
		norm:   norm,
		color:  normalize.NewColorizer(),
		gate:   alwaysOpen{},
		clock:  realClock{},
		tracer: otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, o := range opts {
		o(l)
	}
	if l.src == nil && l.gen == nil {
		return nil, fmt.Errorf("broadcast: topic %s has neither a source nor a dummy generator", cfg.Topic)
	}
	l.limiter = rate.NewLimiter(rate.Every(cfg.DummyInterval), 1)
	l.backoff = newBackoff(cfg.RetryBase, cfg.RetryMax)
	return l, nil
}

func (l *Loop) Topic() string { return l.cfg.Topic }

// Run 阻塞直到 ctx 取消。同一个 Loop 同时只能跑一份。
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.running.Store(false)

	ctx = logger.WithTopic(ctx, l.cfg.Topic)
	defer l.dropConsumer(ctx)

	src := "none"
	if l.src != nil {
		src = l.src.Name()
	}
	logger.Info(ctx, "broadcast loop started",
		zap.String("source", src),
		zap.Bool("dummy", l.gen != nil),
		zap.Int("max_messages", l.cfg.MaxMessages),
		zap.Duration("poll_timeout", l.cfg.PollTimeout),
	)

	for ctx.Err() == nil {
		if safe.Run(ctx, l.cycle) {
			// 单个周期 panic 不拖垮循环
			l.dropConsumer(ctx)
			l.clock.Sleep(ctx, l.backoff.next())
		}
	}
	logger.Info(ctx, "broadcast loop stopped")
	return nil
}

// Running 是否有 Run 在执行
func (l *Loop) Running() bool { return l.running.Load() }

// Mode 最近一个周期的模式，还没跑过时为空
func (l *Loop) Mode() string {
	if m := l.curMode.Load(); m != nil {
		return *m
	}
	return ""
}

func (l *Loop) mode(now time.Time) string {
	if l.gen != nil && (l.src == nil || !l.gate.IsOpen(now) || !l.available()) {
		if l.subs.StreamingCount() == 0 {
			return ModeIdle
		}
		return ModeDummy
	}
	return ModeReal
}

func (l *Loop) available() bool {
	if a, ok := l.src.(source.Availability); ok {
		return a.Available()
	}
	return true
}

func (l *Loop) cycle(ctx context.Context) {
	now := l.clock.Now()
	mode := l.mode(now)
	if mode != l.lastMode {
		metrics.SetMode(l.cfg.Topic, mode)
		logger.Info(ctx, "broadcast mode", zap.String("mode", mode), zap.String("prev", l.lastMode))
		l.lastMode = mode
		l.curMode.Store(&mode)
	}

	switch mode {
	case ModeIdle:
		l.dropConsumer(ctx)
		l.clock.Sleep(ctx, l.cfg.IdleDelay)
	case ModeDummy:
		l.dropConsumer(ctx)
		l.dummyCycle(ctx, now)
	default:
		l.realCycle(ctx)
	}
}

func (l *Loop) dummyCycle(ctx context.Context, now time.Time) {
	if err := l.limiter.Wait(ctx); err != nil {
		return
	}
	recs := l.gen.Step(now)
	for i := range recs {
		l.color.Apply(&recs[i])
	}
	l.publish(ctx, ModeDummy, recs)
}

func (l *Loop) realCycle(ctx context.Context) {
	if l.consumer == nil {
		c, err := l.src.Connect(ctx, l.cfg.Topic)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d := l.backoff.next()
			metrics.ConnectErrorsTotal.WithLabelValues(l.cfg.Topic, l.src.Name()).Inc()
			logger.Warn(ctx, "upstream connect failed", zap.Error(err), zap.Duration("retry_in", d))
			l.clock.Sleep(ctx, d)
			return
		}
		l.consumer = c
		l.backoff.reset()
		logger.Info(ctx, "upstream connected", zap.String("source", l.src.Name()))
	}

	msgs, err := l.consumer.Poll(ctx, l.cfg.MaxMessages, l.cfg.PollTimeout)
	// 出错前已经拿到的消息照样推送
	if len(msgs) > 0 {
		l.publish(ctx, ModeReal, l.normalize(ctx, msgs))
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d := l.backoff.next()
		metrics.PollErrorsTotal.WithLabelValues(l.cfg.Topic, l.src.Name()).Inc()
		logger.Warn(ctx, "upstream poll failed, reconnecting", zap.Error(err), zap.Duration("retry_in", d))
		l.dropConsumer(ctx)
		l.clock.Sleep(ctx, d)
	}
}

func (l *Loop) normalize(ctx context.Context, msgs []feed.Message) []normalize.Record {
	recs, skipped := l.norm.NormalizeBatch(msgs, l.color, l.clock.Now())
	for _, s := range skipped {
		reason := "other"
		var fe *normalize.FormatError
		var de *feed.DecodeError
		switch {
		case errors.As(s.Err, &fe):
			reason = "format"
		case errors.As(s.Err, &de):
			reason = "decode"
		}
		metrics.SkippedRecordsTotal.WithLabelValues(l.cfg.Topic, reason).Inc()
		logger.Warn(ctx, "record skipped", zap.Int("index", s.Index), zap.String("reason", reason), zap.Error(s.Err))
	}
	return recs
}

// publish 编码一次，推给快照里的每个连接；单个连接失败不影响其它连接。返回成功数。
func (l *Loop) publish(ctx context.Context, mode string, recs []normalize.Record) int {
	if len(recs) == 0 {
		return 0
	}
	start := time.Now()
	chans := l.subs.SnapshotStreaming()
	if len(chans) == 0 {
		return 0
	}
	ctx, span := l.tracer.Start(ctx, "broadcast.publish", oteltrace.WithAttributes(
		attribute.String("topic", l.cfg.Topic),
		attribute.String("mode", mode),
		attribute.Int("records", len(recs)),
		attribute.Int("subscribers", len(chans)),
	))
	defer span.End()

	payload, err := normalize.Batch{Topic: l.cfg.Topic, Records: recs}.Encode()
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, "encode batch failed", zap.Error(err), zap.Int("records", len(recs)))
		return 0
	}

	delivered := 0
	for _, ch := range chans {
		if err := ch.Send(payload); err != nil {
			why := "error"
			switch {
			case errors.Is(err, ws.ErrSlowConsumer):
				why = "slow"
			case errors.Is(err, ws.ErrClosed):
				why = "closed"
			}
			metrics.DroppedTotal.WithLabelValues(l.cfg.Topic, why).Inc()
			logger.Debug(ctx, "send to subscriber failed", zap.String("why", why), zap.Error(err))
			continue
		}
		delivered++
	}
	span.SetAttributes(attribute.Int("delivered", delivered))
	metrics.ObserveBatch(l.cfg.Topic, mode, len(recs), time.Since(start))
	return delivered
}

func (l *Loop) dropConsumer(ctx context.Context) {
	if l.consumer == nil {
		return
	}
	if err := l.consumer.Close(); err != nil {
		logger.Warn(ctx, "close upstream consumer", zap.Error(err))
	}
	l.consumer = nil
}
