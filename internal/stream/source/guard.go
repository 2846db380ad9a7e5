package source

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"nasdaqstream.com/internal/stream/metrics"
)

// BreakerRule 连续 connect 失败多少次打开熔断，打开多久后半开探测
type BreakerRule struct {
	TripConsecutiveFailures uint32
	OpenTimeout             time.Duration
}

// Guarded 给 Source.Connect 套一层熔断。熔断打开期间 Available() 为 false，
// Broadcast Loop 据此切到 dummy 数据。
type Guarded struct {
	Source
	cb *gobreaker.CircuitBreaker[Consumer]
}

func NewGuarded(src Source, topic string, rule BreakerRule) *Guarded {
	if rule.TripConsecutiveFailures == 0 {
		rule.TripConsecutiveFailures = 3
	}
	if rule.OpenTimeout <= 0 {
		rule.OpenTimeout = 30 * time.Second
	}
	name := src.Name() + ":" + topic
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     rule.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= rule.TripConsecutiveFailures
		},
		// 关停时的 ctx 取消不算失败
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, _ gobreaker.State, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	return &Guarded{Source: src, cb: gobreaker.NewCircuitBreaker[Consumer](st)}
}

func (g *Guarded) Connect(ctx context.Context, topic string) (Consumer, error) {
	c, err := g.cb.Execute(func() (Consumer, error) {
		return g.Source.Connect(ctx, topic)
	})
	if err == nil {
		return c, nil
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return nil, err
	}
	// ErrOpenState / ErrTooManyRequests
	return nil, &ConnectionError{Source: g.Name(), Topic: topic, Err: err}
}

// Available 熔断打开时为 false；超时后进入半开，重新允许一次探测
func (g *Guarded) Available() bool {
	return g.cb.State() != gobreaker.StateOpen
}

func (g *Guarded) State() gobreaker.State { return g.cb.State() }
