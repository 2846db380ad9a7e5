package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nasdaqstream.com/internal/stream/feed"
)

// Source 上游消息源。每个 Broadcast Loop 持有自己的 Source 实例。
type Source interface {
	Name() string
	// Connect 失败返回 *ConnectionError
	Connect(ctx context.Context, topic string) (Consumer, error)
}

// Consumer 一次连接。Poll 最多返回 max 条，最长阻塞 timeout；
// 超时返回已有的（可能为 0 条）且 err 为 nil。
// 连接坏掉时返回 *PollError，调用方应 Close 并重新 Connect。
type Consumer interface {
	Poll(ctx context.Context, max int, timeout time.Duration) ([]feed.Message, error)
	Close() error
}

// Availability 可选接口：源暂时不可用时返回 false（例如熔断打开）
type Availability interface {
	Available() bool
}

// ErrNoEndpoint 上游连接信息没配；Connect 每次都失败，由 Broadcast Loop 按退避间隔重试
var ErrNoEndpoint = errors.New("no endpoint configured")

type ConnectionError struct {
	Source string
	Topic  string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connect %s: %v", e.Source, e.Topic, e.Err)
}
func (e *ConnectionError) Unwrap() error { return e.Err }

type PollError struct {
	Source string
	Topic  string
	Err    error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("%s: poll %s: %v", e.Source, e.Topic, e.Err)
}
func (e *PollError) Unwrap() error { return e.Err }

// DefaultLinger 拿到第一条后最多再等多久凑批
const DefaultLinger = 100 * time.Millisecond

// pollDeadline 计算一次 poll 的截止时间：拿到首条后缩短到 linger
type pollDeadline struct {
	end    time.Time
	linger time.Duration
}

func newPollDeadline(timeout, linger time.Duration) *pollDeadline {
	return &pollDeadline{end: time.Now().Add(timeout), linger: linger}
}

func (d *pollDeadline) gotFirst() {
	if d.linger <= 0 {
		return
	}
	if l := time.Now().Add(d.linger); l.Before(d.end) {
		d.end = l
	}
}

func (d *pollDeadline) remaining() time.Duration { return time.Until(d.end) }
