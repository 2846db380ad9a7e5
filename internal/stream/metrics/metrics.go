package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nasdaqstream"

// 连接 / 会话
var (
	Conns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_conns",
		Help:      "Active websocket connections",
	}, []string{"topic"})
	Streaming = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_streaming",
		Help:      "Connections currently in streaming state",
	}, []string{"topic"})
	ConnOpenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_conn_open_total",
		Help:      "Total websocket connections opened",
	}, []string{"topic"})
	ConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_conn_close_total",
		Help:      "Total websocket connections closed, partitioned by close code",
	}, []string{"topic", "code"})
	ControlOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_control_ops_total",
		Help:      "Inbound control frames",
	}, []string{"topic", "op"}) // start/stop/other

	MsgsOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_msgs_out_total",
		Help:      "Total websocket messages written (logical messages, not frames)",
	})
	BytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_bytes_out_total",
		Help:      "Total websocket bytes written",
	})
	WriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_write_errors_total",
		Help:      "Total websocket write errors",
	})
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_dropped_total",
		Help:      "Batches not delivered to a subscriber",
	}, []string{"topic", "why"}) // closed/slow

	PingSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_ping_sent_total",
		Help:      "Total ping sent",
	})
	PingErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_ping_errors_total",
		Help:      "Total ping send errors",
	})
	PongRecvTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_pong_recv_total",
		Help:      "Total pong received",
	})
	PongTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_pong_timeout_total",
		Help:      "Total read deadline expirations",
	})

	WriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ws_write_duration_seconds",
		Help:      "Duration of a websocket write",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})
)

// 广播循环 / 上游
var (
	BatchesOutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_out_total",
		Help:      "Topic batches pushed to subscribers",
	}, []string{"topic", "mode"})
	RecordsOutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_out_total",
		Help:      "Normalized records fanned out",
	}, []string{"topic", "mode"})
	SkippedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "skipped_records_total",
		Help:      "Upstream records dropped before normalization finished",
	}, []string{"topic", "reason"}) // decode/format
	ConnectErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_connect_errors_total",
		Help:      "Failed upstream connects",
	}, []string{"topic", "source"})
	PollErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_poll_errors_total",
		Help:      "Failed upstream polls",
	}, []string{"topic", "source"})
	Mode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "loop_mode",
		Help:      "1 for the mode the broadcast loop ran last cycle",
	}, []string{"topic", "mode"})
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_breaker_state",
		Help:      "Upstream connect breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"name"})

	BatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_size",
		Help:      "Records per pushed batch",
		Buckets:   []float64{1, 4, 16, 64, 256, 1024, 2000, 4096},
	}, []string{"topic"})
	FanoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fanout_duration_seconds",
		Help:      "Time to encode and hand one batch to every streaming subscriber",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16),
	}, []string{"topic"})
)

func OnOpen(topic string) {
	Conns.WithLabelValues(topic).Inc()
	ConnOpenTotal.WithLabelValues(topic).Inc()
}

func OnClose(topic string, code int) {
	Conns.WithLabelValues(topic).Dec()
	ConnCloseTotal.WithLabelValues(topic, strconv.Itoa(code)).Inc()
}

func ObserveWrite(bytes int, dur time.Duration, err error) {
	WriteDuration.Observe(dur.Seconds())
	if err != nil {
		WriteErrorsTotal.Inc()
		return
	}
	MsgsOutTotal.Inc()
	BytesOutTotal.Add(float64(bytes))
}

// SetMode 当前模式置 1，其余置 0
func SetMode(topic, mode string) {
	for _, m := range []string{"real", "dummy", "idle"} {
		v := 0.0
		if m == mode {
			v = 1
		}
		Mode.WithLabelValues(topic, m).Set(v)
	}
}

func ObserveBatch(topic, mode string, records int, dur time.Duration) {
	BatchesOutTotal.WithLabelValues(topic, mode).Inc()
	RecordsOutTotal.WithLabelValues(topic, mode).Add(float64(records))
	BatchSize.WithLabelValues(topic).Observe(float64(records))
	FanoutDuration.WithLabelValues(topic).Observe(dur.Seconds())
}
