package ws

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// 客户端控制指令及服务端回包
const (
	CmdStart   = "start"
	CmdStop    = "stop"
	AckPrefix  = "Received:"
	ByeMessage = "Bye!!!"
)

var (
	ErrClosed       = errors.New("ws: connection closed")
	ErrSlowConsumer = errors.New("ws: send buffer full")
)

// Conn 一个订阅者连接。写只发生在 writePump，读只发生在 readPump。
type Conn struct {
	id EntryID
	ws *websocket.Conn

	send chan []byte // 数据批次
	ctrl chan []byte // ack 等控制回包
	done chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
}

func newConn(ws *websocket.Conn, sendBuf int) *Conn {
	if sendBuf <= 0 {
		sendBuf = 64
	}
	return &Conn{
		ws:   ws,
		send: make(chan []byte, sendBuf),
		ctrl: make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() EntryID { return c.id }

// Send 非阻塞入队；慢客户端队列满了直接丢这一批
func (c *Conn) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close 幂等；通知 writePump 发 close 帧并断开
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

func (c *Conn) Closed() bool { return c.closed.Load() }

func (c *Conn) reply(b []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.ctrl <- b:
		return true
	default:
		return false
	}
}

