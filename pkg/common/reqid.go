package common

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-Id"
	CtxKeyRequestID = "request_id"
)

type reqIDKey struct{}

func NewRequestID() string { return uuid.NewString() }

// WithRequestID 写进 request context，websocket 会话里也能取到
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, reqIDKey{}, rid)
}

func RequestIDFromCtx(ctx context.Context) string {
	if s, ok := ctx.Value(reqIDKey{}).(string); ok {
		return s
	}
	return ""
}

// 获取id
func RequestIDFromGin(c *gin.Context) string {
	if v, ok := c.Get(CtxKeyRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
