package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"nasdaqstream.com/pkg/logger"
)

// Go 安全启动协程，panic 会被 recover 并记录
func Go(fn func()) {
	GoCtx(context.Background(), func(context.Context) { fn() })
}

// GoCtx 安全启动携带 context 的协程，日志里保留 ctx 上的 topic/conn_id
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go Run(ctx, fn)
}

// Run 在当前协程里执行 fn 并吞掉 panic，返回是否发生过 panic。
// errgroup 之类自己管理协程的地方用它。
func Run(ctx context.Context, fn func(ctx context.Context)) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			logger.Error(ctx, "goroutine panic recovered",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn(ctx)
	return false
}
