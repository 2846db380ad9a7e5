package stream

import (
	"fmt"
	"strings"
	"time"

	"nasdaqstream.com/internal/stream/dummy"
	"nasdaqstream.com/pkg/trace"
)

// 数据源类型
const (
	SourceKafka = "kafka"
	SourceNats  = "nats"
	SourceRedis = "redis"
	SourceNone  = "none" // 只跑 dummy
)

// DefaultTopic 默认路由 /nasdaq/get_real_data 对应的 topic
const DefaultTopic = "NLSUTP"

// 总配置
type Cfg struct {
	Name     string        `mapstructure:"name" yaml:"name"`
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	LogLevel string        `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string        `mapstructure:"log_file" yaml:"log_file"`
	Market   MarketConfig  `mapstructure:"market" yaml:"market"`
	Dummy    DummyConfig   `mapstructure:"dummy" yaml:"dummy"`
	Kafka    KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
	Nats     NatsConfig    `mapstructure:"nats" yaml:"nats"`
	Redis    RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Topics   []TopicConfig `mapstructure:"topics" yaml:"topics"`
	Poll     PollConfig    `mapstructure:"poll" yaml:"poll"`
	WS       WSConfig      `mapstructure:"ws" yaml:"ws"`
	Breaker  BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
	HTTP     HTTPConfig    `mapstructure:"http" yaml:"http"`
	Replay   ReplayConfig  `mapstructure:"replay" yaml:"replay"`
	Trace    trace.Config  `mapstructure:"trace" yaml:"trace"`
}

// 交易时段，时间为交易所当地时间 HH:MM
type MarketConfig struct {
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
	Open     string `mapstructure:"open" yaml:"open"`
	Close    string `mapstructure:"close" yaml:"close"`
}

type DummyConfig struct {
	Enabled     bool              `mapstructure:"enabled" yaml:"enabled"`
	SymbolsFile string            `mapstructure:"symbols_file" yaml:"symbols_file"`
	Symbols     []dummy.SymbolRow `mapstructure:"symbols" yaml:"symbols"`
	Interval    time.Duration     `mapstructure:"interval" yaml:"interval"`
	MaxStep     int64             `mapstructure:"max_step" yaml:"max_step"`
	Seed        int64             `mapstructure:"seed" yaml:"seed"` // 0 表示按时间取种子
}

type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers" yaml:"brokers"`
	GroupID     string        `mapstructure:"group_id" yaml:"group_id"`
	ClientID    string        `mapstructure:"client_id" yaml:"client_id"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	OAuth       OAuthConfig   `mapstructure:"oauth" yaml:"oauth"`
}

type OAuthConfig struct {
	TokenURL     string   `mapstructure:"token_url" yaml:"token_url"`
	ClientID     string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" yaml:"client_secret"`
	Scopes       []string `mapstructure:"scopes" yaml:"scopes"`
}

type NatsConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	Buffer        int    `mapstructure:"buffer" yaml:"buffer"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
	Field     string `mapstructure:"field" yaml:"field"`
}

// TopicConfig 每个 topic 一个 Registry + 一个 Broadcast Loop
type TopicConfig struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Source string `mapstructure:"source" yaml:"source"`
	// Dummy 为 nil 时沿用 dummy.enabled
	Dummy *bool `mapstructure:"dummy" yaml:"dummy"`
}

type PollConfig struct {
	MaxMessages int           `mapstructure:"max_messages" yaml:"max_messages"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Linger      time.Duration `mapstructure:"linger" yaml:"linger"`
	IdleDelay   time.Duration `mapstructure:"idle_delay" yaml:"idle_delay"`
	RetryBase   time.Duration `mapstructure:"retry_base" yaml:"retry_base"`
	RetryMax    time.Duration `mapstructure:"retry_max" yaml:"retry_max"`
}

type WSConfig struct {
	SendBuffer int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	PingPeriod time.Duration `mapstructure:"ping_period" yaml:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	ReadLimit  int64         `mapstructure:"read_limit" yaml:"read_limit"`
}

type BreakerConfig struct {
	TripConsecutiveFailures uint32        `mapstructure:"trip_consecutive_failures" yaml:"trip_consecutive_failures"`
	OpenTimeout             time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
}

// HTTPConfig 升级请求按 IP 限流
type HTTPConfig struct {
	UpgradeRate  float64       `mapstructure:"upgrade_rate" yaml:"upgrade_rate"`
	UpgradeBurst int           `mapstructure:"upgrade_burst" yaml:"upgrade_burst"`
	ShutdownWait time.Duration `mapstructure:"shutdown_wait" yaml:"shutdown_wait"`
}

// ReplayConfig 只给 feed-replay 用
type ReplayConfig struct {
	Steps       int   `mapstructure:"steps" yaml:"steps"` // 0 一直跑
	RedisMaxLen int64 `mapstructure:"redis_max_len" yaml:"redis_max_len"`
}

// Defaults 没有配置文件时的兜底，key 与 mapstructure tag 对应
func Defaults() map[string]any {
	return map[string]any{
		"name":                              "stream-service",
		"addr":                              ":8080",
		"log_level":                         "info",
		"market.timezone":                   "America/New_York",
		"market.open":                       "04:00",
		"market.close":                      "20:00",
		"dummy.enabled":                     true,
		"dummy.interval":                    "1s",
		"dummy.max_step":                    500,
		"kafka.client_id":                   "nasdaq-stream",
		"kafka.dial_timeout":                "10s",
		"nats.subject_prefix":               "nasdaq",
		"redis.key_prefix":                  "nasdaq:",
		"redis.field":                       "data",
		"topics":                            []map[string]any{{"name": DefaultTopic, "source": SourceKafka}},
		"poll.max_messages":                 2000,
		"poll.timeout":                      "10s",
		"poll.linger":                       "100ms",
		"poll.idle_delay":                   "500ms",
		"poll.retry_base":                   "300ms",
		"poll.retry_max":                    "5s",
		"ws.send_buffer":                    64,
		"ws.ping_period":                    "30s",
		"ws.pong_wait":                      "60s",
		"ws.write_wait":                     "5s",
		"ws.read_limit":                     1024,
		"breaker.trip_consecutive_failures": 3,
		"breaker.open_timeout":              "30s",
		"http.upgrade_rate":                 5,
		"http.upgrade_burst":                20,
		"http.shutdown_wait":                "5s",
		"replay.redis_max_len":              100000,
	}
}

// EnvAliases 兼容旧部署里的 NASDAQ_KAFKA_* 环境变量
func EnvAliases() map[string][]string {
	return map[string][]string{
		"kafka.brokers":             {"NASDAQ_KAFKA_BOOTSTRAP_URL"},
		"kafka.client_id":           {"NASDAQ_KAFKA_CLIENT_ID"},
		"kafka.oauth.client_id":     {"NASDAQ_KAFKA_CLIENT_ID"},
		"kafka.oauth.client_secret": {"NASDAQ_KAFKA_CLIENT_SECRET"},
		"kafka.oauth.token_url":     {"NASDAQ_KAFKA_ENDPOINT"},
	}
}

// Validate 启动前检查；错误直接阻止启动
func (c *Cfg) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: empty addr")
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("config: no topics configured")
	}
	seen := make(map[string]struct{}, len(c.Topics))
	for i, t := range c.Topics {
		if t.Name == "" {
			return fmt.Errorf("config: topics[%d]: empty name", i)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("config: duplicate topic %s", t.Name)
		}
		seen[t.Name] = struct{}{}

		switch kind := t.SourceKind(); kind {
		case SourceKafka, SourceNats, SourceRedis:
			// 上游没配好不拦：允许 dummy 时只跑 dummy，否则 loop 按退避间隔重连
		case SourceNone:
			if !c.DummyFor(t) {
				return fmt.Errorf("config: topic %s has no source and dummy data is disabled", t.Name)
			}
		default:
			return fmt.Errorf("config: topic %s: unknown source %q", t.Name, t.Source)
		}
	}
	return nil
}

// SourceKind 统一成小写，空值视为 none
func (t TopicConfig) SourceKind() string {
	s := strings.ToLower(strings.TrimSpace(t.Source))
	if s == "" {
		return SourceNone
	}
	return s
}

func (c *Cfg) DummyFor(t TopicConfig) bool {
	if t.Dummy != nil {
		return *t.Dummy
	}
	return c.Dummy.Enabled
}

// Endpoint 对应数据源的连接信息是否已配置
func (c *Cfg) Endpoint(kind string) bool {
	switch kind {
	case SourceKafka:
		return len(c.Kafka.Brokers) > 0
	case SourceNats:
		return c.Nats.URL != ""
	case SourceRedis:
		return c.Redis.Addr != ""
	}
	return false
}
