package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"nasdaqstream.com/internal/stream/feed"
	"nasdaqstream.com/pkg/logger"
)

type KafkaConfig struct {
	Brokers     []string
	GroupID     string
	ClientID    string
	DialTimeout time.Duration
	Linger      time.Duration
	OAuth       OAuthConfig
	// TLS 未设置但启用了 OAuth 时，默认走 TLS
	TLS *tls.Config
}

// KafkaSource 消费组 + 从最新 offset 开始（只要实时数据，不回放）。
// Brokers 为空也能建出来，Connect 返回 ErrNoEndpoint。
type KafkaSource struct {
	cfg    KafkaConfig
	dialer *kafka.Dialer
}

func NewKafkaSource(ctx context.Context, cfg KafkaConfig) (*KafkaSource, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Linger == 0 {
		cfg.Linger = DefaultLinger
	}

	d := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
		TLS:       cfg.TLS,
	}
	if cfg.OAuth.Enabled() {
		d.SASLMechanism = NewOAuthBearer(ctx, cfg.OAuth)
		if d.TLS == nil {
			d.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	return &KafkaSource{cfg: cfg, dialer: d}, nil
}

func (s *KafkaSource) Name() string { return "kafka" }

// Connect 先拨一个 broker 读取分区元数据，broker 不通或 topic 不存在时立即失败，
// 否则 kafka.Reader 会在后台无限重试，上层感知不到
func (s *KafkaSource) Connect(ctx context.Context, topic string) (Consumer, error) {
	if len(s.cfg.Brokers) == 0 {
		return nil, &ConnectionError{Source: s.Name(), Topic: topic, Err: ErrNoEndpoint}
	}
	if err := s.lookupPartitions(ctx, topic); err != nil {
		return nil, &ConnectionError{Source: s.Name(), Topic: topic, Err: err}
	}

	groupID := s.cfg.GroupID
	if groupID == "" {
		groupID = s.cfg.ClientID + "-" + topic
	}
	lctx := logger.WithTopic(ctx, topic)
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.cfg.Brokers,
		GroupID:     groupID,
		Topic:       topic,
		Dialer:      s.dialer,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10 << 20,
		MaxWait:     500 * time.Millisecond,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(lctx, "kafka reader", zap.String("detail", fmt.Sprintf(msg, args...)))
		}),
	})
	return &kafkaConsumer{topic: topic, r: r, linger: s.cfg.Linger}, nil
}

func (s *KafkaSource) lookupPartitions(ctx context.Context, topic string) error {
	var lastErr error
	for _, addr := range s.cfg.Brokers {
		conn, err := s.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		parts, err := conn.ReadPartitions(topic)
		_ = conn.Close()
		if err != nil {
			return fmt.Errorf("read partitions: %w", err)
		}
		if len(parts) == 0 {
			return fmt.Errorf("topic %s has no partitions", topic)
		}
		return nil
	}
	return fmt.Errorf("no reachable broker: %w", lastErr)
}

type kafkaConsumer struct {
	topic  string
	r      *kafka.Reader
	linger time.Duration
}

func (c *kafkaConsumer) Poll(ctx context.Context, max int, timeout time.Duration) ([]feed.Message, error) {
	if max <= 0 {
		return nil, nil
	}
	dl := newPollDeadline(timeout, c.linger)
	out := make([]feed.Message, 0, min(max, 256))

	for len(out) < max {
		left := dl.remaining()
		if left <= 0 {
			return out, nil
		}
		rctx, cancel := context.WithTimeout(ctx, left)
		m, err := c.r.ReadMessage(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return out, nil
			}
			return out, &PollError{Source: "kafka", Topic: c.topic, Err: err}
		}
		out = append(out, feed.Message{Topic: m.Topic, Key: m.Key, Value: m.Value, Time: m.Time})
		if len(out) == 1 {
			dl.gotFirst()
		}
	}
	return out, nil
}

func (c *kafkaConsumer) Close() error { return c.r.Close() }
