package telemetry

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/webpilot/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// restoreGlobals 测试结束时还原全局 provider
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

func enabledConfig(service string) config.TelemetryConfig {
	return config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  service,
		SampleRate:   1.0,
	}
}

func shutdownQuietly(t *testing.T, p *Providers) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		// 没有 collector，导出失败是预期的
		_ = p.Shutdown(ctx)
	})
}

func TestInit_DisabledKeepsNoop(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(context.Background(), config.TelemetryConfig{}, Process{Role: "serve"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Same(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))

	_, span := Tracer().Start(context.Background(), "POST /api/v1/tasks")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestInit_EnabledInstallsSDK(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(context.Background(), enabledConfig("webpilot-test"), Process{Role: "worker", Version: "1.4.0"}, nil)
	require.NoError(t, err)
	shutdownQuietly(t, p)

	require.True(t, p.Enabled())
	_, isTP := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, isMP := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isTP)
	assert.True(t, isMP)

	_, span := Tracer().Start(context.Background(), "GET /api/v1/tasks/{id}")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())
}

func TestInit_ZeroSampleRate(t *testing.T) {
	restoreGlobals(t)

	cfg := enabledConfig("webpilot-sampling")
	cfg.SampleRate = 0
	p, err := Init(context.Background(), cfg, Process{}, nil)
	require.NoError(t, err)
	shutdownQuietly(t, p)

	_, span := Tracer().Start(context.Background(), "root")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
}

func TestNewResource_Attributes(t *testing.T) {
	res, err := newResource(context.Background(), "webpilot", Process{Role: "run", Version: "2.0.1"})
	require.NoError(t, err)

	attrs := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "webpilot", attrs[semconv.ServiceNameKey])
	assert.Equal(t, "2.0.1", attrs[semconv.ServiceVersionKey])
	assert.Equal(t, "run", attrs[RoleAttribute])
	assert.True(t, strings.HasSuffix(attrs[semconv.ServiceInstanceIDKey], "-"+strconv.Itoa(os.Getpid())))

	res, err = newResource(context.Background(), "webpilot", Process{})
	require.NoError(t, err)
	attrs = map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "dev", attrs[semconv.ServiceVersionKey])
	_, hasRole := attrs[RoleAttribute]
	assert.False(t, hasRole)
}

func TestProviders_NilSafe(t *testing.T) {
	var p *Providers
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NotPanics(t, func() { p.Close(time.Second, zap.NewNop()) })
}

func TestProviders_Close(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(context.Background(), enabledConfig("webpilot-close"), Process{Role: "serve"}, nil)
	require.NoError(t, err)

	start := time.Now()
	p.Close(500*time.Millisecond, zaptest.NewLogger(t))
	assert.Less(t, time.Since(start), 3*time.Second)
}
