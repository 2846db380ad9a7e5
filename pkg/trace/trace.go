package trace

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// 导出方式
const (
	ExporterNone   = ""
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type Config struct {
	Exporter string `mapstructure:"exporter" yaml:"exporter"`
	// Endpoint OTLP gRPC 地址，比如 "localhost:4317" (docker 起的 jaeger)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// SampleRatio <= 0 或 >= 1 时全采样
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// Shutdown 服务退出时调用，把缓冲的 span 刷出去
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init 设置全局 TracerProvider 和 Propagator。
// Exporter 为空时什么都不做，全局保持 otel 默认的 noop provider。
func Init(ctx context.Context, serviceName string, cfg Config) (Shutdown, error) {
	return initWithWriter(ctx, serviceName, cfg, os.Stdout)
}

func initWithWriter(ctx context.Context, serviceName string, cfg Config, w io.Writer) (Shutdown, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case ExporterNone:
		return noop, nil
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterOTLP:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("trace: otlp exporter needs an endpoint")
		}
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(), // 没有tls
		))
	default:
		return nil, fmt.Errorf("trace: unknown exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
