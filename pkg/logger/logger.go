package logger

import (
	"context"
	"os"
	"path/filepath"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

// Context 里携带的日志字段
const (
	TopicKey ctxKey = "topic"
	ConnKey  ctxKey = "conn_id"
)

// 全局 Logger 实例；Init 之前是 Nop，库代码和单测可以直接调用
var Log = zap.NewNop()

var level = zap.NewAtomicLevelAt(zap.InfoLevel)

// Init 初始化日志组件
// serviceName: 当前服务名称 (例如 "stream-service")
// lvl: 日志级别 (debug, info, warn, error)
func Init(serviceName string, lvl string) {
	InitWithFile(serviceName, lvl, "")
}

// InitWithFile 初始化日志组件，logFile 为空时写 logs/{serviceName}.log
func InitWithFile(serviceName string, lvl string, logFile string) {
	SetLevel(lvl)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	// 控制台 + 文件
	writeSyncers := []zapcore.WriteSyncer{
		zapcore.AddSync(os.Stdout),
	}
	if logFile == "" {
		logFile = filepath.Join("logs", serviceName+".log")
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err == nil {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			writeSyncers = append(writeSyncers, zapcore.AddSync(file))
		}
		// 文件打不开就只打控制台，不中断启动
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.NewMultiWriteSyncer(writeSyncers...),
		level,
	)

	// AddCallerSkip(1)：跳过本包的封装函数，行号指向调用方
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", serviceName))
}

// SetLevel 运行时调整级别（配置热更新时调用）；无法解析时保持原级别
func SetLevel(lvl string) bool {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		return false
	}
	level.SetLevel(l)
	return true
}

// Level 当前生效的日志级别
func Level() zapcore.Level { return level.Level() }

// WithTopic 把 topic 放进 ctx，之后本包的日志函数会自动带上 topic 字段
func WithTopic(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, TopicKey, topic)
}

// WithConn 同上，带 conn_id
func WithConn(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConnKey, id)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Info(msg, appendCtx(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Error(msg, appendCtx(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Warn(msg, appendCtx(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Debug(msg, appendCtx(ctx, fields)...)
}

// Fatal 会调用 os.Exit
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Fatal(msg, appendCtx(ctx, fields)...)
}

func appendCtx(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if topic, ok := ctx.Value(TopicKey).(string); ok && topic != "" {
		fields = append(fields, zap.String(string(TopicKey), topic))
	}
	if id, ok := ctx.Value(ConnKey).(string); ok && id != "" {
		fields = append(fields, zap.String(string(ConnKey), id))
	}
	// 有 span 时带上 trace_id，方便和链路对上
	if sc := oteltrace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	return fields
}

// Sync 刷新缓冲区 (main 里 defer 调用)
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
