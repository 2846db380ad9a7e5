package ws

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"nasdaqstream.com/internal/stream/metrics"
)

type EntryID string

// Channel 能推送 bytes 的订阅者连接。Send 不能阻塞。
type Channel interface {
	Send(payload []byte) error
	Close()
}

type entry struct {
	ch        Channel
	streaming bool
	seq       uint64
}

// Registry 某个 topic 的全部订阅连接。
// 所有修改和快照都在同一把锁里完成，Unregister 之后的连接不会再出现在快照中。
type Registry struct {
	topic string

	mu      sync.RWMutex
	entries map[EntryID]*entry
	seq     uint64
}

func NewRegistry(topic string) *Registry {
	return &Registry{
		topic:   topic,
		entries: make(map[EntryID]*entry, 64),
	}
}

func (r *Registry) Topic() string { return r.topic }

// Register 新连接默认不推送，等客户端发 start
func (r *Registry) Register(ch Channel) EntryID {
	id := EntryID(uuid.NewString())
	r.mu.Lock()
	r.seq++
	r.entries[id] = &entry{ch: ch, seq: r.seq}
	r.mu.Unlock()
	return id
}

// SetStreaming 幂等；id 不存在时返回 false
func (r *Registry) SetStreaming(id EntryID, on bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if e.streaming != on {
		e.streaming = on
		if on {
			metrics.Streaming.WithLabelValues(r.topic).Inc()
		} else {
			metrics.Streaming.WithLabelValues(r.topic).Dec()
		}
	}
	return true
}

// Unregister 幂等；会话和广播循环都可能调用
func (r *Registry) Unregister(id EntryID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if e.streaming {
		metrics.Streaming.WithLabelValues(r.topic).Dec()
	}
	delete(r.entries, id)
	return true
}

// SnapshotStreaming 当前处于推送状态的连接，按注册顺序
func (r *Registry) SnapshotStreaming() []Channel {
	r.mu.RLock()
	live := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.streaming {
			live = append(live, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })
	out := make([]Channel, len(live))
	for i, e := range live {
		out[i] = e.ch
	}
	return out
}

// IsStreaming id 不存在时为 false
func (r *Registry) IsStreaming(id EntryID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.streaming
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) StreamingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.streaming {
			n++
		}
	}
	return n
}

// CloseAll 关停时关闭所有连接；各自的会话协程负责 Unregister
func (r *Registry) CloseAll() {
	r.mu.RLock()
	chans := make([]Channel, 0, len(r.entries))
	for _, e := range r.entries {
		chans = append(chans, e.ch)
	}
	r.mu.RUnlock()

	for _, ch := range chans {
		ch.Close()
	}
}
