package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nasdaqstream.com/pkg/common"
	"nasdaqstream.com/pkg/logger"
	"nasdaqstream.com/pkg/metrics"
	"nasdaqstream.com/pkg/xerr"
)

func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				metrics.PanicRecoveredTotal.WithLabelValues(c.FullPath()).Inc()
				logger.Error(c, "http panic",
					zap.String("request_id", common.RequestIDFromGin(c)),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", err),
					zap.ByteString("stack", debug.Stack()),
				)
				// 已经升级成 websocket 的连接不能再写 HTTP 响应
				if !c.Writer.Written() {
					common.Fail(c, http.StatusInternalServerError, xerr.ServerCommonError, xerr.MapErrMsg(xerr.ServerCommonError))
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
