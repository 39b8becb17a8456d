package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BaSui01/webpilot/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracerName HTTP 层 span 的 instrumentation scope
const TracerName = "github.com/BaSui01/webpilot"

// RoleAttribute 区分 serve / worker / run 进程的资源属性
const RoleAttribute = attribute.Key("webpilot.role")

// Process 描述上报遥测的进程
type Process struct {
	Role    string // serve / worker / run
	Version string
}

// Providers 持有 SDK provider；遥测关闭时两者为 nil
type Providers struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init 按配置安装全局 TracerProvider / MeterProvider。
// 关闭时返回空 Providers，全局 provider 保持 noop。
// OTLP exporter 延迟建连，ctx 只约束资源探测。
func Init(ctx context.Context, cfg config.TelemetryConfig, proc Process, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Debug("telemetry disabled")
		return &Providers{}, nil
	}

	res, err := newResource(ctx, cfg.ServiceName, proc)
	if err != nil {
		return nil, err
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOptions(cfg)...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	p := &Providers{
		tp: sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExp),
			// 跟随上游的采样决定
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		),
		mp: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		),
	}
	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry enabled",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service", cfg.ServiceName),
		zap.String("role", proc.Role),
		zap.Float64("sample_rate", cfg.SampleRate),
	)
	return p, nil
}

func newResource(ctx context.Context, service string, proc Process) (*resource.Resource, error) {
	version := proc.Version
	if version == "" {
		version = "dev"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(service),
		semconv.ServiceVersionKey.String(version),
		semconv.ServiceInstanceIDKey.String(instanceID()),
	}
	if proc.Role != "" {
		attrs = append(attrs, RoleAttribute.String(proc.Role))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	return res, nil
}

// instanceID 同一主机上的多个 worker 以 pid 区分
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func traceOptions(cfg config.TelemetryConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

func metricOptions(cfg config.TelemetryConfig) []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return opts
}

// Enabled 报告是否安装了 SDK provider
func (p *Providers) Enabled() bool {
	return p != nil && p.tp != nil
}

// Shutdown 刷出缓冲的 span 与指标并关闭 exporter；nil 与空 Providers 直接返回
func (p *Providers) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return errors.Join(
		wrap("tracer provider", p.tp.Shutdown(ctx)),
		wrap("meter provider", p.mp.Shutdown(ctx)),
	)
}

// Close 在 timeout 内完成 Shutdown，失败只记日志；供命令退出时 defer
func (p *Providers) Close(timeout time.Duration, logger *zap.Logger) {
	if !p.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil && logger != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("shutdown %s: %w", what, err)
}

// Tracer 从全局 provider 取 tracer，遥测关闭时为 noop
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
