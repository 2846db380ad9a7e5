package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"nasdaqstream.com/internal/stream/feed"
)

// DefaultRedisField XADD 时消息体所在的 field
const DefaultRedisField = "data"

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix stream key = KeyPrefix + topic
	KeyPrefix string
	Field     string
}

// RedisStreamSource 用 XREAD COUNT/BLOCK 拉取，游标从连接时的最后一条开始
type RedisStreamSource struct {
	cfg RedisConfig
}

// NewRedisStreamSource Addr 为空时 Connect 返回 ErrNoEndpoint
func NewRedisStreamSource(cfg RedisConfig) (*RedisStreamSource, error) {
	if cfg.Field == "" {
		cfg.Field = DefaultRedisField
	}
	return &RedisStreamSource{cfg: cfg}, nil
}

func (s *RedisStreamSource) Name() string { return "redis" }

func (s *RedisStreamSource) Key(topic string) string { return s.cfg.KeyPrefix + topic }

func (s *RedisStreamSource) Connect(ctx context.Context, topic string) (Consumer, error) {
	if s.cfg.Addr == "" {
		return nil, &ConnectionError{Source: s.Name(), Topic: topic, Err: ErrNoEndpoint}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     s.cfg.Addr,
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, &ConnectionError{Source: s.Name(), Topic: topic, Err: err}
	}

	key := s.Key(topic)
	last := "0-0"
	xs, err := rdb.XRevRangeN(pingCtx, key, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		_ = rdb.Close()
		return nil, &ConnectionError{Source: s.Name(), Topic: topic, Err: err}
	}
	if len(xs) > 0 {
		last = xs[0].ID
	}
	return &redisConsumer{topic: topic, key: key, field: s.cfg.Field, rdb: rdb, lastID: last}, nil
}

type redisConsumer struct {
	topic  string
	key    string
	field  string
	rdb    *redis.Client
	lastID string
}

func (c *redisConsumer) Poll(ctx context.Context, max int, timeout time.Duration) ([]feed.Message, error) {
	if max <= 0 {
		return nil, nil
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	res, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.key, c.lastID},
		Count:   int64(max),
		Block:   timeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &PollError{Source: "redis", Topic: c.topic, Err: err}
	}

	var out []feed.Message
	for _, st := range res {
		for _, m := range st.Messages {
			c.lastID = m.ID
			out = append(out, feed.Message{
				Topic: c.topic,
				Key:   []byte(m.ID),
				Value: fieldBytes(m.Values[c.field]),
				Time:  idTime(m.ID),
			})
		}
	}
	return out, nil
}

func (c *redisConsumer) Close() error { return c.rdb.Close() }

func fieldBytes(v interface{}) []byte {
	switch x := v.(type) {
	case string:
		return []byte(x)
	case []byte:
		return x
	case nil:
		return nil
	default:
		return []byte(fmt.Sprint(x))
	}
}

// idTime stream id 前半段是毫秒时间戳
func idTime(id string) time.Time {
	var ms int64
	if _, err := fmt.Sscanf(id, "%d-", &ms); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
