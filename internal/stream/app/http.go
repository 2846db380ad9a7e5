package app

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"nasdaqstream.com/pkg/common"
	"nasdaqstream.com/pkg/middleware"
	"nasdaqstream.com/pkg/xerr"
)

var nowFunc = time.Now

func (a *App) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// 监控：请求计数/耗时 + /metrics（同时暴露 nasdaqstream_* 业务指标）
	p := ginprom.NewPrometheus("nasdaqstream_http")
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		if route := c.FullPath(); route != "" {
			return route
		}
		return "unmatched"
	}
	p.Use(r)

	r.Use(
		otelgin.Middleware(a.cfg.Name),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
	)
	r.GET("/healthz", a.healthz)

	api := r.Group("/nasdaq", middleware.RateLimit(a.limiter))
	api.GET("/get_real_data", a.streamDefault)
	api.GET("/stream/:topic", a.streamTopic)
	return r
}

type topicHealth struct {
	Topic       string `json:"topic"`
	Source      string `json:"source"`
	Mode        string `json:"mode"`
	Running     bool   `json:"running"`
	Connections int    `json:"connections"`
	Streaming   int    `json:"streaming"`
	Breaker     string `json:"breaker,omitempty"`
}

func (a *App) healthz(c *gin.Context) {
	out := make([]topicHealth, 0, len(a.order))
	for _, name := range a.order {
		rt := a.topics[name]
		h := topicHealth{
			Topic:       name,
			Source:      rt.kind,
			Mode:        rt.loop.Mode(),
			Running:     rt.loop.Running(),
			Connections: rt.reg.Len(),
			Streaming:   rt.reg.StreamingCount(),
		}
		if rt.guard != nil {
			h.Breaker = rt.guard.State().String()
		}
		out = append(out, h)
	}
	common.Success(c, gin.H{
		"default_topic": a.defaultTopic,
		"market_open":   a.gate.IsOpen(nowFunc()),
		"topics":        out,
	})
}

func (a *App) streamDefault(c *gin.Context) {
	a.serveWS(c, a.topics[a.defaultTopic])
}

// maxTopicLen topic 名字上限，超过的直接当参数错误
const maxTopicLen = 64

// checkTopic 只允许字母数字和 _ . : -
func checkTopic(name string) error {
	if name == "" || len(name) > maxTopicLen {
		return fmt.Errorf("topic length %d out of range [1,%d]", len(name), maxTopicLen)
	}
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '_', ch == '.', ch == ':', ch == '-':
		default:
			return fmt.Errorf("topic has invalid character %q", ch)
		}
	}
	return nil
}

func (a *App) streamTopic(c *gin.Context) {
	name := c.Param("topic")
	if err := checkTopic(name); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, xerr.MapErrMsg(xerr.RequestParamsError)))
		return
	}
	rt, ok := a.topics[name]
	if !ok {
		common.FailErr(c, xerr.NewErrCode(xerr.TopicNotFound))
		return
	}
	a.serveWS(c, rt)
}

func (a *App) serveWS(c *gin.Context, rt *topicRuntime) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		common.FailErr(c, xerr.NewErrCode(xerr.NotUpgradable))
		return
	}
	a.wss.Serve(rt.reg, c.Writer, c.Request)
}
