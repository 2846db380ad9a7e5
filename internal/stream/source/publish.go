package source

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// Publisher 往上游写原始消息，feed-replay 和测试用
type Publisher interface {
	Name() string
	Publish(ctx context.Context, topic string, key, payload []byte) error
	Close() error
}

type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(ctx context.Context, cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	tr := &kafka.Transport{
		ClientID:    cfg.ClientID,
		DialTimeout: cfg.DialTimeout,
		TLS:         cfg.TLS,
	}
	if cfg.OAuth.Enabled() {
		tr.SASL = NewOAuthBearer(ctx, cfg.OAuth)
		if tr.TLS == nil {
			tr.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Transport:              tr,
	}}, nil
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key, payload []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: payload})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

type NatsPublisher struct {
	src *NatsSource
	nc  *nats.Conn
}

func NewNatsPublisher(cfg NatsConfig) (*NatsPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats: empty url")
	}
	src, err := NewNatsSource(cfg)
	if err != nil {
		return nil, err
	}
	opts := append([]nats.Option{nats.Name("nasdaq-feed-replay")}, cfg.Options...)
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, &ConnectionError{Source: src.Name(), Err: err}
	}
	return &NatsPublisher{src: src, nc: nc}, nil
}

func (p *NatsPublisher) Name() string { return "nats" }

// Publish nats 没有 key，忽略
func (p *NatsPublisher) Publish(_ context.Context, topic string, _, payload []byte) error {
	return p.nc.Publish(p.src.Subject(topic), payload)
}

func (p *NatsPublisher) Close() error {
	err := p.nc.Drain()
	p.nc.Close()
	return err
}

type RedisPublisher struct {
	src    *RedisStreamSource
	rdb    *redis.Client
	maxLen int64
}

// NewRedisPublisher maxLen>0 时 XADD 带 MAXLEN ~，防止 stream 无限增长
func NewRedisPublisher(cfg RedisConfig, maxLen int64) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: empty addr")
	}
	src, err := NewRedisStreamSource(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisPublisher{src: src, rdb: rdb, maxLen: maxLen}, nil
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, topic string, _, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: p.src.Key(topic),
		Values: map[string]interface{}{p.src.cfg.Field: payload},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.rdb.XAdd(ctx, args).Err()
}

func (p *RedisPublisher) Close() error { return p.rdb.Close() }
