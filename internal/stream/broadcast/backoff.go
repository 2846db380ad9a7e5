package broadcast

import (
	"math/rand"
	"time"
)

// backoff 指数退避 + jitter（避免所有 topic 同时重连造成尖峰）
type backoff struct {
	base time.Duration
	max  time.Duration
	cur  time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = 300 * time.Millisecond
	}
	if max < base {
		max = base
	}
	return &backoff{base: base, max: max}
}

func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = b.base
	}
	sleep := b.cur + time.Duration(rand.Int63n(int64(b.cur/2+1)))
	if sleep > b.max {
		sleep = b.max
	}
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return sleep
}

func (b *backoff) reset() { b.cur = 0 }
