package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nasdaqstream.com/internal/stream"
	"nasdaqstream.com/internal/stream/dummy"
	"nasdaqstream.com/internal/stream/markethours"
	"nasdaqstream.com/internal/stream/replay"
	"nasdaqstream.com/internal/stream/source"
	"nasdaqstream.com/pkg/logger"
)

// Replay 每个配了上游的 topic 跑一个 Replayer，往上游写模拟成交，直到 ctx 取消或跑够 steps
func Replay(ctx context.Context, cfg *stream.Cfg) error {
	gate, err := markethours.New(cfg.Market.Timezone, cfg.Market.Open, cfg.Market.Close)
	if err != nil {
		return err
	}
	table, err := symbolTable(cfg.Dummy)
	if err != nil {
		return err
	}

	pubs := make(map[string]source.Publisher)
	defer func() {
		for _, p := range pubs {
			if err := p.Close(); err != nil {
				logger.Warn(ctx, "close publisher failed", zap.String("sink", p.Name()), zap.Error(err))
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	started := 0
	for i, t := range cfg.Topics {
		kind := t.SourceKind()
		if kind == stream.SourceNone || !cfg.Endpoint(kind) {
			logger.Warn(logger.WithTopic(ctx, t.Name), "no upstream configured, skip replay", zap.String("source", kind))
			continue
		}
		pub, ok := pubs[kind]
		if !ok {
			if pub, err = newPublisher(ctx, cfg, kind); err != nil {
				return fmt.Errorf("topic %s: %w", t.Name, err)
			}
			pubs[kind] = pub
		}

		seed := cfg.Dummy.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		gopts := []dummy.Option{dummy.WithRand(dummy.NewRand(seed + int64(i)))}
		if cfg.Dummy.MaxStep > 0 {
			gopts = append(gopts, dummy.WithMaxStep(cfg.Dummy.MaxStep))
		}
		gen, err := dummy.New(table, gate, gopts...)
		if err != nil {
			return err
		}
		r, err := replay.New(replay.Config{
			Topic:    t.Name,
			Interval: cfg.Dummy.Interval,
			Steps:    cfg.Replay.Steps,
		}, pub, gen)
		if err != nil {
			return err
		}
		g.Go(func() error { return r.Run(gctx) })
		started++
	}
	if started == 0 {
		return errors.New("replay: no topic has an upstream endpoint configured")
	}
	return g.Wait()
}

func newPublisher(ctx context.Context, cfg *stream.Cfg, kind string) (source.Publisher, error) {
	switch kind {
	case stream.SourceKafka:
		k := cfg.Kafka
		return source.NewKafkaPublisher(ctx, source.KafkaConfig{
			Brokers:     k.Brokers,
			ClientID:    k.ClientID,
			DialTimeout: k.DialTimeout,
			OAuth: source.OAuthConfig{
				TokenURL:     k.OAuth.TokenURL,
				ClientID:     k.OAuth.ClientID,
				ClientSecret: k.OAuth.ClientSecret,
				Scopes:       k.OAuth.Scopes,
			},
		})
	case stream.SourceNats:
		return source.NewNatsPublisher(source.NatsConfig{
			URL:           cfg.Nats.URL,
			SubjectPrefix: cfg.Nats.SubjectPrefix,
		})
	case stream.SourceRedis:
		r := cfg.Redis
		return source.NewRedisPublisher(source.RedisConfig{
			Addr:      r.Addr,
			Password:  r.Password,
			DB:        r.DB,
			KeyPrefix: r.KeyPrefix,
			Field:     r.Field,
		}, cfg.Replay.RedisMaxLen)
	}
	return nil, fmt.Errorf("unknown source %q", kind)
}
