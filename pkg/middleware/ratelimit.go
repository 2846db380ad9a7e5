package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nasdaqstream.com/pkg/common"
	"nasdaqstream.com/pkg/logger"
	"nasdaqstream.com/pkg/metrics"
	"nasdaqstream.com/pkg/ratelimit"
	"nasdaqstream.com/pkg/xerr"
)

// RateLimit 按 IP + 路由限流；用在 websocket 升级路由上，防止重连风暴
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			metrics.RateLimitBlockTotal.WithLabelValues(route).Inc()
			// 可控拒绝，不打堆栈
			logger.Warn(c, "http rate limited",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			common.Fail(c, xerr.HTTPStatus(xerr.TooManyRequests), xerr.TooManyRequests, xerr.MapErrMsg(xerr.TooManyRequests))
			c.Abort()
			return
		}
		c.Next()
	}
}
