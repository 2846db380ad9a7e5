package ws

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"nasdaqstream.com/internal/stream/metrics"
	"nasdaqstream.com/pkg/logger"
	"nasdaqstream.com/pkg/safe"
)

type Server struct {
	Upgrader websocket.Upgrader
	ctx      context.Context
	SendBuf  int // per-conn 待发批次数

	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

// NewServer ctx 取消时所有连接收到 Bye!!! 后被关闭
func NewServer(ctx context.Context) *Server {
	return &Server{
		ctx: ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		SendBuf:    64,
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 3 * time.Second,
		WriteWait:  5 * time.Second,
		ReadLimit:  1 << 10,
	}
}

// Handler 把 topic 的 Registry 绑定到一个 http.HandlerFunc
func (s *Server) Handler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Serve(reg, w, r)
	}
}

func (s *Server) Serve(reg *Registry, w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写了 HTTP 错误响应
		logger.Warn(logger.WithTopic(s.ctx, reg.Topic()), "websocket upgrade failed", zap.Error(err))
		return
	}
	c := newConn(wsConn, s.SendBuf)
	c.id = reg.Register(c)

	ctx := logger.WithConn(logger.WithTopic(s.ctx, reg.Topic()), string(c.id))
	metrics.OnOpen(reg.Topic())
	logger.Info(ctx, "subscriber connected", zap.String("remote", r.RemoteAddr))

	safe.GoCtx(ctx, func(ctx context.Context) { s.writePump(ctx, c) })
	safe.GoCtx(ctx, func(ctx context.Context) { s.readPump(ctx, reg, c) })
}

func (s *Server) readPump(ctx context.Context, reg *Registry, c *Conn) {
	code := websocket.CloseNoStatusReceived
	defer func() {
		reg.Unregister(c.id)
		c.Close()
		metrics.OnClose(reg.Topic(), code)
		logger.Info(ctx, "subscriber disconnected", zap.Int("code", code))
	}()

	c.ws.SetReadLimit(s.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		metrics.PongRecvTotal.Inc()
		return c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	})

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			var ne net.Error
			switch {
			case errors.As(err, &ce):
				code = ce.Code
			case errors.As(err, &ne) && ne.Timeout():
				metrics.PongTimeoutTotal.Inc()
				code = websocket.CloseAbnormalClosure
				logger.Warn(ctx, "read deadline exceeded", zap.Error(err))
			default:
				code = websocket.CloseAbnormalClosure
				logger.Debug(ctx, "read error", zap.Error(err))
			}
			return
		}
		// 任何消息都算活跃
		_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
		s.handleControl(ctx, reg, c, b)
	}
}

// handleControl start/stop 切换推送状态，其它内容只回 ack
func (s *Server) handleControl(ctx context.Context, reg *Registry, c *Conn, b []byte) {
	op := "other"
	switch strings.TrimSpace(string(b)) {
	case CmdStart:
		op = CmdStart
	case CmdStop:
		op = CmdStop
	}
	metrics.ControlOpsTotal.WithLabelValues(reg.Topic(), op).Inc()
	logger.Debug(ctx, "control frame", zap.String("op", op))

	// 先排 ack 再切状态，客户端总是先看到 Received:start 再看到数据
	ack := make([]byte, 0, len(AckPrefix)+len(b))
	ack = append(ack, AckPrefix...)
	ack = append(ack, b...)
	if !c.reply(ack) {
		metrics.DroppedTotal.WithLabelValues(reg.Topic(), "ack").Inc()
	}

	switch op {
	case CmdStart:
		reg.SetStreaming(c.id, true)
	case CmdStop:
		reg.SetStreaming(c.id, false)
	}
}

func (s *Server) writePump(ctx context.Context, c *Conn) {
	// 首次 ping 加随机抖动，避免大量连接同时 ping
	first := s.PingPeriod
	if s.PingJitter > 0 {
		first += time.Duration(rand.Int63n(int64(s.PingJitter)))
	}
	ticker := time.NewTicker(first)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		c.Close()
	}()
	reset := false

	for {
		// ack 优先于数据
		select {
		case b := <-c.ctrl:
			if err := s.write(c, b); err != nil {
				return
			}
			continue
		default:
		}

		select {
		case b := <-c.ctrl:
			if err := s.write(c, b); err != nil {
				return
			}
		case b := <-c.send:
			if err := s.write(c, b); err != nil {
				logger.Debug(ctx, "write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if !reset {
				ticker.Reset(s.PingPeriod)
				reset = true
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.WriteWait)); err != nil {
				metrics.PingErrorsTotal.Inc()
				return
			}
			metrics.PingSentTotal.Inc()
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.WriteWait))
			return
		case <-ctx.Done():
			_ = s.write(c, []byte(ByeMessage))
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(s.WriteWait))
			return
		}
	}
}

func (s *Server) write(c *Conn, b []byte) error {
	start := time.Now()
	_ = c.ws.SetWriteDeadline(start.Add(s.WriteWait))
	err := c.ws.WriteMessage(websocket.TextMessage, b)
	metrics.ObserveWrite(len(b), time.Since(start), err)
	return err
}
