package source

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"nasdaqstream.com/internal/stream/feed"
)

type NatsConfig struct {
	URL string
	// Subject 为空时由 topic 推出："NLSUTP" -> "nasdaq.NLSUTP"
	SubjectPrefix string
	Buffer        int
	Linger        time.Duration
	Options       []nats.Option
}

// NatsSource 订阅 subject，回调里非阻塞写入缓冲 chan；缓冲满了 NATS 自己丢（at-most-once）
type NatsSource struct {
	cfg NatsConfig
}

// NewNatsSource URL 为空时 Connect 返回 ErrNoEndpoint
func NewNatsSource(cfg NatsConfig) (*NatsSource, error) {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 8192
	}
	if cfg.Linger == 0 {
		cfg.Linger = DefaultLinger
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "nasdaq"
	}
	return &NatsSource{cfg: cfg}, nil
}

func (s *NatsSource) Name() string { return "nats" }

func (s *NatsSource) Subject(topic string) string {
	return s.cfg.SubjectPrefix + "." + topicToSubject(topic)
}

func (s *NatsSource) Connect(ctx context.Context, topic string) (Consumer, error) {
	if s.cfg.URL == "" {
		return nil, &ConnectionError{Source: s.Name(), Topic: topic, Err: ErrNoEndpoint}
	}
	opts := append([]nats.Option{nats.Name("nasdaq-stream-" + topic)}, s.cfg.Options...)
	nc, err := nats.Connect(s.cfg.URL, opts...)
	if err != nil {
		return nil, &ConnectionError{Source: s.Name(), Topic: topic, Err: err}
	}
	ch := make(chan *nats.Msg, s.cfg.Buffer)
	sub, err := nc.ChanSubscribe(s.Subject(topic), ch)
	if err != nil {
		nc.Close()
		return nil, &ConnectionError{Source: s.Name(), Topic: topic, Err: err}
	}
	return &natsConsumer{topic: topic, nc: nc, sub: sub, ch: ch, linger: s.cfg.Linger}, nil
}

type natsConsumer struct {
	topic  string
	nc     *nats.Conn
	sub    *nats.Subscription
	ch     chan *nats.Msg
	linger time.Duration
}

var errNatsClosed = errors.New("connection closed")

func (c *natsConsumer) Poll(ctx context.Context, max int, timeout time.Duration) ([]feed.Message, error) {
	if c.nc.IsClosed() {
		return nil, &PollError{Source: "nats", Topic: c.topic, Err: errNatsClosed}
	}
	if max <= 0 {
		return nil, nil
	}
	dl := newPollDeadline(timeout, c.linger)
	out := make([]feed.Message, 0, min(max, 256))
	timer := time.NewTimer(dl.remaining())
	defer timer.Stop()

	for len(out) < max {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-timer.C:
			return out, nil
		case m := <-c.ch:
			out = append(out, feed.Message{Topic: c.topic, Value: m.Data, Time: time.Now()})
			if len(out) == 1 {
				dl.gotFirst()
				timer.Reset(dl.remaining())
			}
		}
	}
	return out, nil
}

func (c *natsConsumer) Close() error {
	_ = c.sub.Unsubscribe()
	c.nc.Close()
	return nil
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
