package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"nasdaqstream.com/internal/stream"
	"nasdaqstream.com/internal/stream/broadcast"
	"nasdaqstream.com/internal/stream/dummy"
	"nasdaqstream.com/internal/stream/markethours"
	"nasdaqstream.com/internal/stream/normalize"
	"nasdaqstream.com/internal/stream/source"
	"nasdaqstream.com/internal/stream/ws"
	"nasdaqstream.com/pkg/config"
	"nasdaqstream.com/pkg/logger"
	"nasdaqstream.com/pkg/ratelimit"
)

// topicRuntime 一个 topic 的全部运行时对象，互不共享
type topicRuntime struct {
	name  string
	kind  string
	reg   *ws.Registry
	loop  *broadcast.Loop
	guard *source.Guarded // 只跑 dummy 时为 nil
}

type App struct {
	cfg     stream.Cfg
	ctx     context.Context
	stop    context.CancelFunc
	gate    markethours.Gate
	wss     *ws.Server
	limiter *ratelimit.Store
	engine  *gin.Engine

	topics       map[string]*topicRuntime
	order        []string
	defaultTopic string
}

// LoadConfig 读取 config/{service}.yaml + 环境变量；日志级别支持热更新
func LoadConfig(service string, opts ...config.Option) (*stream.Cfg, error) {
	var cfg stream.Cfg
	base := []config.Option{
		config.WithDefaults(stream.Defaults()),
		config.WithEnvAliases(stream.EnvAliases()),
		config.OnChange(func(v *viper.Viper) {
			lvl := v.GetString("log_level")
			if logger.SetLevel(lvl) {
				logger.Info(context.Background(), "log level reloaded", zap.String("level", lvl))
			}
		}),
	}
	if _, err := config.LoadAndWatch(service, &cfg, append(base, opts...)...); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// New 为每个 topic 建 Registry / Source / Generator / Loop，不做任何网络 IO。
// ctx 取消时所有 websocket 会话收到 Bye!!! 并关闭。
func New(ctx context.Context, cfg *stream.Cfg) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gate, err := markethours.New(cfg.Market.Timezone, cfg.Market.Open, cfg.Market.Close)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    *cfg,
		gate:   gate,
		topics: make(map[string]*topicRuntime, len(cfg.Topics)),
	}
	if a.cfg.HTTP.ShutdownWait <= 0 {
		a.cfg.HTTP.ShutdownWait = 5 * time.Second
	}
	limit := rate.Inf
	if a.cfg.HTTP.UpgradeRate > 0 {
		limit = rate.Limit(a.cfg.HTTP.UpgradeRate)
	}
	a.ctx, a.stop = context.WithCancel(ctx)
	a.wss = a.newWSServer()
	a.limiter = ratelimit.NewStore(limit, a.cfg.HTTP.UpgradeBurst, 10*time.Minute)

	var table []dummy.SymbolRange
	for i, t := range cfg.Topics {
		if cfg.DummyFor(t) && table == nil {
			if table, err = symbolTable(a.cfg.Dummy); err != nil {
				a.stop()
				return nil, err
			}
		}
		rt, err := a.buildTopic(ctx, i, t, table)
		if err != nil {
			a.stop()
			return nil, fmt.Errorf("topic %s: %w", t.Name, err)
		}
		a.topics[t.Name] = rt
		a.order = append(a.order, t.Name)
	}

	a.defaultTopic = a.order[0]
	if _, ok := a.topics[stream.DefaultTopic]; ok {
		a.defaultTopic = stream.DefaultTopic
	}
	a.engine = a.newRouter()
	return a, nil
}

func (a *App) newWSServer() *ws.Server {
	s := ws.NewServer(a.ctx)
	c := a.cfg.WS
	if c.SendBuffer > 0 {
		s.SendBuf = c.SendBuffer
	}
	if c.PingPeriod > 0 {
		s.PingPeriod = c.PingPeriod
	}
	if c.PongWait > 0 {
		s.PongWait = c.PongWait
	}
	if c.WriteWait > 0 {
		s.WriteWait = c.WriteWait
	}
	if c.ReadLimit > 0 {
		s.ReadLimit = c.ReadLimit
	}
	return s
}

func symbolTable(c stream.DummyConfig) ([]dummy.SymbolRange, error) {
	switch {
	case c.SymbolsFile != "":
		return dummy.LoadCSVFile(c.SymbolsFile)
	case len(c.Symbols) > 0:
		return dummy.Rows(c.Symbols)
	default:
		return dummy.DefaultTable(), nil
	}
}

func (a *App) buildTopic(ctx context.Context, i int, t stream.TopicConfig, table []dummy.SymbolRange) (*topicRuntime, error) {
	rt := &topicRuntime{name: t.Name, kind: t.SourceKind(), reg: ws.NewRegistry(t.Name)}
	lctx := logger.WithTopic(ctx, t.Name)

	opts := []broadcast.Option{broadcast.WithGate(a.gate)}

	var src source.Source
	if rt.kind != stream.SourceNone && (a.cfg.Endpoint(rt.kind) || !a.cfg.DummyFor(t)) {
		s, err := a.buildSource(ctx, rt.kind)
		if err != nil {
			return nil, err
		}
		src = s
		if !a.cfg.Endpoint(rt.kind) {
			logger.Error(lctx, "upstream endpoint not configured, will keep retrying", zap.String("source", rt.kind))
		}
	}
	if src != nil {
		rt.guard = source.NewGuarded(src, t.Name, source.BreakerRule{
			TripConsecutiveFailures: a.cfg.Breaker.TripConsecutiveFailures,
			OpenTimeout:             a.cfg.Breaker.OpenTimeout,
		})
		opts = append(opts, broadcast.WithSource(rt.guard))
	} else if rt.kind != stream.SourceNone {
		logger.Warn(lctx, "upstream endpoint not configured, serving dummy data only", zap.String("source", rt.kind))
		rt.kind = stream.SourceNone
	}

	if a.cfg.DummyFor(t) {
		seed := a.cfg.Dummy.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		gopts := []dummy.Option{dummy.WithRand(dummy.NewRand(seed + int64(i)))}
		if a.cfg.Dummy.MaxStep > 0 {
			gopts = append(gopts, dummy.WithMaxStep(a.cfg.Dummy.MaxStep))
		}
		gen, err := dummy.New(table, a.gate, gopts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, broadcast.WithGenerator(gen))
	}

	loop, err := broadcast.New(broadcast.Config{
		Topic:         t.Name,
		MaxMessages:   a.cfg.Poll.MaxMessages,
		PollTimeout:   a.cfg.Poll.Timeout,
		IdleDelay:     a.cfg.Poll.IdleDelay,
		RetryBase:     a.cfg.Poll.RetryBase,
		RetryMax:      a.cfg.Poll.RetryMax,
		DummyInterval: a.cfg.Dummy.Interval,
	}, rt.reg, normalize.New(a.gate.Location), opts...)
	if err != nil {
		return nil, err
	}
	rt.loop = loop
	return rt, nil
}

// buildSource 没配连接信息时也会建出来，Connect 返回 source.ErrNoEndpoint
func (a *App) buildSource(ctx context.Context, kind string) (source.Source, error) {
	switch kind {
	case stream.SourceKafka:
		k := a.cfg.Kafka
		return source.NewKafkaSource(ctx, source.KafkaConfig{
			Brokers:     k.Brokers,
			GroupID:     k.GroupID,
			ClientID:    k.ClientID,
			DialTimeout: k.DialTimeout,
			Linger:      a.cfg.Poll.Linger,
			OAuth: source.OAuthConfig{
				TokenURL:     k.OAuth.TokenURL,
				ClientID:     k.OAuth.ClientID,
				ClientSecret: k.OAuth.ClientSecret,
				Scopes:       k.OAuth.Scopes,
			},
		})
	case stream.SourceNats:
		return source.NewNatsSource(source.NatsConfig{
			URL:           a.cfg.Nats.URL,
			SubjectPrefix: a.cfg.Nats.SubjectPrefix,
			Buffer:        a.cfg.Nats.Buffer,
			Linger:        a.cfg.Poll.Linger,
		})
	case stream.SourceRedis:
		r := a.cfg.Redis
		return source.NewRedisStreamSource(source.RedisConfig{
			Addr:      r.Addr,
			Password:  r.Password,
			DB:        r.DB,
			KeyPrefix: r.KeyPrefix,
			Field:     r.Field,
		})
	}
	return nil, fmt.Errorf("unknown source %q", kind)
}

// Handler HTTP 入口，测试里可以直接挂到 httptest.Server
func (a *App) Handler() http.Handler { return a.engine }

// Run 监听 cfg.Addr，阻塞到 ctx 取消或监听失败
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		a.stop()
		return fmt.Errorf("listen %s: %w", a.cfg.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve 启动所有 Broadcast Loop 和 HTTP 服务。
// 退出顺序：会话发 Bye!!! -> 停 HTTP -> 等会话退出 -> 强制关闭剩余连接。
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, name := range a.order {
		rt := a.topics[name]
		g.Go(func() error { return rt.loop.Run(gctx) })
	}
	a.limiter.StartJanitor(gctx, time.Minute)

	srv := &http.Server{
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	g.Go(func() error {
		logger.Info(gctx, "http listening", zap.String("addr", ln.Addr().String()), zap.Strings("topics", a.order))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.stop()

		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownWait)
		defer cancel()
		err := srv.Shutdown(sctx)
		a.drain(sctx)
		logger.Info(context.Background(), "http server stopped")
		return err
	})
	return g.Wait()
}

// drain 等会话自己退出，超时后强制关闭
func (a *App) drain(ctx context.Context) {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for a.connections() > 0 {
		select {
		case <-ctx.Done():
			for _, rt := range a.topics {
				rt.reg.CloseAll()
			}
			return
		case <-t.C:
		}
	}
}

func (a *App) connections() int {
	n := 0
	for _, rt := range a.topics {
		n += rt.reg.Len()
	}
	return n
}
